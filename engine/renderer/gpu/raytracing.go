package gpu

import (
	"encoding/binary"
	"math"
)

const (
	ShaderIdentifierSize   = 32
	ShaderRecordAlignment  = 32
	ShaderTableAlignment   = 64
	InstanceDescSize       = 64
	AccelStructAlignment   = 256
	ShaderRecordArgSize    = 8
	MaxRaytracingRecursion = 31
)

type AccelStructType uint8

const (
	AccelStructBottomLevel AccelStructType = iota
	AccelStructTopLevel
)

type AccelStructBuildFlags uint8

const (
	AccelStructBuildNone            AccelStructBuildFlags = 0
	AccelStructBuildAllowUpdate     AccelStructBuildFlags = 1 << 0
	AccelStructBuildPreferFastTrace AccelStructBuildFlags = 1 << 1
	AccelStructBuildPerformUpdate   AccelStructBuildFlags = 1 << 2
)

type GeometryFlags uint8

const (
	GeometryFlagNone   GeometryFlags = 0
	GeometryFlagOpaque GeometryFlags = 1 << 0
)

type TrianglesDesc struct {
	VertexBuffer GPUAddress
	VertexStride uint64
	VertexCount  uint32
	VertexFormat Format
	IndexBuffer  GPUAddress
	IndexCount   uint32
	IndexFormat  Format
}

type GeometryDesc struct {
	Triangles TrianglesDesc
	Flags     GeometryFlags
}

type BuildInputs struct {
	Type     AccelStructType
	Flags    AccelStructBuildFlags
	NumDescs uint32
	// Geometry is read for bottom-level builds.
	Geometry []GeometryDesc
	// InstanceDescs points at NumDescs packed InstanceDesc for top-level
	// builds.
	InstanceDescs GPUAddress
}

type PrebuildInfo struct {
	ResultDataMaxSize     uint64
	ScratchDataSize       uint64
	UpdateScratchDataSize uint64
}

type BuildDesc struct {
	Inputs  BuildInputs
	Dest    GPUAddress
	Source  GPUAddress
	Scratch GPUAddress
}

// InstanceDesc is one top-level instance. Transform is a row-major 3x4
// matrix applied to column vectors.
type InstanceDesc struct {
	Transform                           [12]float32
	InstanceID                          uint32
	InstanceMask                        uint8
	InstanceContributionToHitGroupIndex uint32
	Flags                               uint8
	AccelerationStructure               GPUAddress
}

// Encode writes the 64 byte wire layout of d into b.
func (d *InstanceDesc) Encode(b []byte) {
	_ = b[InstanceDescSize-1]
	for i, f := range d.Transform {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(f))
	}
	binary.LittleEndian.PutUint32(b[48:], (d.InstanceID&0xffffff)|uint32(d.InstanceMask)<<24)
	binary.LittleEndian.PutUint32(b[52:], (d.InstanceContributionToHitGroupIndex&0xffffff)|uint32(d.Flags)<<24)
	binary.LittleEndian.PutUint64(b[56:], uint64(d.AccelerationStructure))
}

// DecodeInstanceDesc reads a 64 byte instance description.
func DecodeInstanceDesc(b []byte) InstanceDesc {
	_ = b[InstanceDescSize-1]
	d := InstanceDesc{}
	for i := range d.Transform {
		d.Transform[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	w := binary.LittleEndian.Uint32(b[48:])
	d.InstanceID = w & 0xffffff
	d.InstanceMask = uint8(w >> 24)
	w = binary.LittleEndian.Uint32(b[52:])
	d.InstanceContributionToHitGroupIndex = w & 0xffffff
	d.Flags = uint8(w >> 24)
	d.AccelerationStructure = GPUAddress(binary.LittleEndian.Uint64(b[56:]))
	return d
}

type AddressRange struct {
	StartAddress GPUAddress
	SizeInBytes  uint64
}

type AddressRangeAndStride struct {
	StartAddress  GPUAddress
	SizeInBytes   uint64
	StrideInBytes uint64
}

type DispatchRaysDesc struct {
	RayGenerationShaderRecord AddressRange
	MissShaderTable           AddressRangeAndStride
	HitGroupTable             AddressRangeAndStride
	Width, Height, Depth      uint32
}

type HitGroupDesc struct {
	Name       string
	ClosestHit string
}

type LocalRootAssociation struct {
	RootSignature RootSignature
	Exports       []string
}

type StateObjectDesc struct {
	// Library exports: ray generation, miss and hit shaders.
	Exports             []string
	HitGroups           []HitGroupDesc
	MaxPayloadSize      uint32
	MaxAttributeSize    uint32
	MaxRecursionDepth   uint32
	GlobalRootSignature RootSignature
	LocalRootSignatures []LocalRootAssociation
}

// StateObject is a ray-tracing pipeline.
type StateObject interface {
	// ShaderIdentifier returns the ShaderIdentifierSize bytes identifying
	// an export or hit group, or nil when unknown.
	ShaderIdentifier(export string) []byte
	Release()
}
