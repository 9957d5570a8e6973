package renderer

import (
	"encoding/binary"
	"fmt"

	"github.com/spaghettifunk/refract/engine/core"
	"github.com/spaghettifunk/refract/engine/math"
	"github.com/spaghettifunk/refract/engine/renderer/gpu"
	"github.com/spaghettifunk/refract/engine/renderer/shaders"
)

const (
	// output UAV table, scene TLAS table, camera CBV table
	rayGenArgCount = 3
	// vertex buffer, index buffer, material table
	hitArgCount = 3
)

func recordStride(args int) uint64 {
	return math.AlignUp(uint64(gpu.ShaderIdentifierSize+args*gpu.ShaderRecordArgSize), gpu.ShaderRecordAlignment)
}

// HitRecord holds the local root arguments of one hit group record.
type HitRecord struct {
	VertexBuffer  gpu.GPUAddress
	IndexBuffer   gpu.GPUAddress
	MaterialTable gpu.GPUDescriptorHandle
}

// RayGenRecord holds the local root arguments of the ray generation
// record.
type RayGenRecord struct {
	Output gpu.GPUDescriptorHandle
	Scene  gpu.GPUDescriptorHandle
	Camera gpu.GPUDescriptorHandle
}

// SBTBuilder lays out the shader binding table of each buffered frame in
// an upload buffer: the ray generation record, the miss record, then one
// hit group record per instance.
type SBTBuilder struct {
	device  gpu.Device
	storage []gpu.Resource
	mapped  [][]byte

	rayGenStride uint64
	missStride   uint64
	hitStride    uint64
	missOffset   uint64
	hitOffset    uint64
	hitCount     []uint32
}

func NewSBTBuilder(device gpu.Device, frames uint32) *SBTBuilder {
	s := &SBTBuilder{
		device:       device,
		storage:      make([]gpu.Resource, frames),
		mapped:       make([][]byte, frames),
		hitCount:     make([]uint32, frames),
		rayGenStride: recordStride(rayGenArgCount),
		missStride:   recordStride(0),
		hitStride:    recordStride(hitArgCount),
	}
	s.missOffset = math.AlignUp(s.rayGenStride, gpu.ShaderTableAlignment)
	s.hitOffset = math.AlignUp(s.missOffset+s.missStride, gpu.ShaderTableAlignment)
	return s
}

// Size is the number of bytes a table with hits hit records needs.
func (s *SBTBuilder) Size(hits uint32) uint64 {
	return s.hitOffset + uint64(hits)*s.hitStride
}

func (s *SBTBuilder) reserve(frame uint32, size uint64) error {
	if res := s.storage[frame]; res != nil && res.Desc().Width >= size {
		return nil
	}
	s.releaseFrame(frame)
	res, err := s.device.CreateCommittedResource(gpu.HeapUpload, gpu.BufferDesc(size, gpu.ResourceFlagNone), gpu.ResourceStateGenericRead, nil)
	if err != nil {
		err = fmt.Errorf("failed to create shader binding table of %d bytes: %w", size, err)
		core.LogError(err.Error())
		return err
	}
	res.SetName(fmt.Sprintf("shader binding table [%d]", frame))
	data, err := res.Map()
	if err != nil {
		res.Release()
		err = fmt.Errorf("failed to map shader binding table: %w", err)
		core.LogError(err.Error())
		return err
	}
	s.storage[frame], s.mapped[frame] = res, data
	return nil
}

func writeRecord(b []byte, id []byte, args ...uint64) {
	clear(b)
	copy(b, id)
	for i, arg := range args {
		binary.LittleEndian.PutUint64(b[gpu.ShaderIdentifierSize+i*gpu.ShaderRecordArgSize:], arg)
	}
}

// Update writes frame's table for so. Storage is reused when it is large
// enough and replaced otherwise; frame must be acquired.
func (s *SBTBuilder) Update(frame uint32, so gpu.StateObject, rayGen RayGenRecord, hits []HitRecord) error {
	if err := s.reserve(frame, s.Size(uint32(len(hits)))); err != nil {
		return err
	}
	ids := [3][]byte{
		so.ShaderIdentifier(shaders.EntryRayGen),
		so.ShaderIdentifier(shaders.EntryMiss),
		so.ShaderIdentifier(shaders.HitGroup),
	}
	for _, id := range ids {
		if len(id) != gpu.ShaderIdentifierSize {
			err := fmt.Errorf("state object is missing a shader identifier: %w", core.ErrUnknown)
			core.LogError(err.Error())
			return err
		}
	}
	data := s.mapped[frame]
	writeRecord(data[:s.rayGenStride], ids[0], uint64(rayGen.Output), uint64(rayGen.Scene), uint64(rayGen.Camera))
	writeRecord(data[s.missOffset:s.missOffset+s.missStride], ids[1])
	for i, h := range hits {
		off := s.hitOffset + uint64(i)*s.hitStride
		writeRecord(data[off:off+s.hitStride], ids[2], uint64(h.VertexBuffer), uint64(h.IndexBuffer), uint64(h.MaterialTable))
	}
	s.hitCount[frame] = uint32(len(hits))
	return nil
}

// HitCount is the number of hit records in frame's table.
func (s *SBTBuilder) HitCount(frame uint32) uint32 {
	return s.hitCount[frame]
}

// DispatchDesc describes a width x height dispatch over frame's table.
func (s *SBTBuilder) DispatchDesc(frame, width, height uint32) gpu.DispatchRaysDesc {
	base := s.storage[frame].GPUVirtualAddress()
	return gpu.DispatchRaysDesc{
		RayGenerationShaderRecord: gpu.AddressRange{StartAddress: base, SizeInBytes: s.rayGenStride},
		MissShaderTable: gpu.AddressRangeAndStride{
			StartAddress:  base + gpu.GPUAddress(s.missOffset),
			SizeInBytes:   s.missStride,
			StrideInBytes: s.missStride,
		},
		HitGroupTable: gpu.AddressRangeAndStride{
			StartAddress:  base + gpu.GPUAddress(s.hitOffset),
			SizeInBytes:   uint64(s.hitCount[frame]) * s.hitStride,
			StrideInBytes: s.hitStride,
		},
		Width:  width,
		Height: height,
		Depth:  1,
	}
}

func (s *SBTBuilder) releaseFrame(frame uint32) {
	if res := s.storage[frame]; res != nil {
		res.Unmap()
		res.Release()
	}
	s.storage[frame], s.mapped[frame] = nil, nil
}

// Release frees every frame's table. The GPU must be idle.
func (s *SBTBuilder) Release() {
	for f := range s.storage {
		s.releaseFrame(uint32(f))
	}
}
