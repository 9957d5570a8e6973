package gpu

import "fmt"

type Format uint8

const (
	FormatUnknown Format = iota
	FormatRGBA8Unorm
	FormatBGRA8Unorm
	FormatR8Unorm
	FormatRGBA16Float
	FormatRGBA32Float
	FormatRGB32Float
	FormatRG32Float
	FormatR32Float
	FormatR32Uint
	FormatD32Float
)

var formatNames = [...]string{
	FormatUnknown:     "UNKNOWN",
	FormatRGBA8Unorm:  "R8G8B8A8_UNORM",
	FormatBGRA8Unorm:  "B8G8R8A8_UNORM",
	FormatR8Unorm:     "R8_UNORM",
	FormatRGBA16Float: "R16G16B16A16_FLOAT",
	FormatRGBA32Float: "R32G32B32A32_FLOAT",
	FormatRGB32Float:  "R32G32B32_FLOAT",
	FormatRG32Float:   "R32G32_FLOAT",
	FormatR32Float:    "R32_FLOAT",
	FormatR32Uint:     "R32_UINT",
	FormatD32Float:    "D32_FLOAT",
}

func (f Format) String() string {
	if int(f) < len(formatNames) {
		return formatNames[f]
	}
	return fmt.Sprintf("Format(%d)", f)
}

// Size returns the size in bytes of one texel or element.
func (f Format) Size() uint32 {
	switch f {
	case FormatRGBA8Unorm, FormatBGRA8Unorm, FormatR32Float, FormatR32Uint, FormatD32Float:
		return 4
	case FormatR8Unorm:
		return 1
	case FormatRGBA16Float, FormatRG32Float:
		return 8
	case FormatRGB32Float:
		return 12
	case FormatRGBA32Float:
		return 16
	}
	return 0
}

func (f Format) IsDepth() bool {
	return f == FormatD32Float
}

// ResourceState is a bit set of the ways a resource may be used while in
// that state. Read states can be combined.
type ResourceState uint32

const (
	ResourceStateCommon                   ResourceState = 0
	ResourceStateVertexAndConstantBuffer  ResourceState = 0x1
	ResourceStateIndexBuffer              ResourceState = 0x2
	ResourceStateRenderTarget             ResourceState = 0x4
	ResourceStateUnorderedAccess          ResourceState = 0x8
	ResourceStateDepthWrite               ResourceState = 0x10
	ResourceStateDepthRead                ResourceState = 0x20
	ResourceStateNonPixelShaderResource   ResourceState = 0x40
	ResourceStatePixelShaderResource      ResourceState = 0x80
	ResourceStateCopyDest                 ResourceState = 0x400
	ResourceStateCopySource               ResourceState = 0x800
	ResourceStateRaytracingAccelStructure ResourceState = 0x400000

	ResourceStateGenericRead = ResourceStateVertexAndConstantBuffer | ResourceStateIndexBuffer |
		ResourceStateNonPixelShaderResource | ResourceStatePixelShaderResource | ResourceStateCopySource
	ResourceStatePresent = ResourceStateCommon
)

func (s ResourceState) String() string {
	if s == ResourceStateCommon {
		return "COMMON|PRESENT"
	}
	if s == ResourceStateGenericRead {
		return "GENERIC_READ"
	}
	names := []struct {
		bit  ResourceState
		name string
	}{
		{ResourceStateVertexAndConstantBuffer, "VERTEX_AND_CONSTANT_BUFFER"},
		{ResourceStateIndexBuffer, "INDEX_BUFFER"},
		{ResourceStateRenderTarget, "RENDER_TARGET"},
		{ResourceStateUnorderedAccess, "UNORDERED_ACCESS"},
		{ResourceStateDepthWrite, "DEPTH_WRITE"},
		{ResourceStateDepthRead, "DEPTH_READ"},
		{ResourceStateNonPixelShaderResource, "NON_PIXEL_SHADER_RESOURCE"},
		{ResourceStatePixelShaderResource, "PIXEL_SHADER_RESOURCE"},
		{ResourceStateCopyDest, "COPY_DEST"},
		{ResourceStateCopySource, "COPY_SOURCE"},
		{ResourceStateRaytracingAccelStructure, "RAYTRACING_ACCELERATION_STRUCTURE"},
	}
	out := ""
	for _, n := range names {
		if s&n.bit != 0 {
			if out != "" {
				out += "|"
			}
			out += n.name
		}
	}
	return out
}

type HeapKind uint8

const (
	// HeapDefault is device local memory.
	HeapDefault HeapKind = iota
	// HeapUpload is host visible, persistently mappable memory. Resources
	// on it live in ResourceStateGenericRead for their whole lifetime.
	HeapUpload
)

type ResourceDimension uint8

const (
	ResourceDimensionBuffer ResourceDimension = iota
	ResourceDimensionTexture2D
)

type ResourceFlags uint8

const (
	ResourceFlagNone                 ResourceFlags = 0
	ResourceFlagAllowRenderTarget    ResourceFlags = 1 << 0
	ResourceFlagAllowDepthStencil    ResourceFlags = 1 << 1
	ResourceFlagAllowUnorderedAccess ResourceFlags = 1 << 2
)

type ResourceDesc struct {
	Dimension ResourceDimension
	// Width is the byte size of a buffer or the texel width of a texture.
	Width  uint64
	Height uint32
	Format Format
	Flags  ResourceFlags
}

func BufferDesc(size uint64, flags ResourceFlags) ResourceDesc {
	return ResourceDesc{Dimension: ResourceDimensionBuffer, Width: size, Height: 1, Flags: flags}
}

func Texture2DDesc(format Format, width, height uint32, flags ResourceFlags) ResourceDesc {
	return ResourceDesc{Dimension: ResourceDimensionTexture2D, Width: uint64(width), Height: height, Format: format, Flags: flags}
}

type ClearValue struct {
	Format Format
	Colour [4]float32
	Depth  float32
}

// GPUAddress is a virtual address of buffer memory as seen by shaders.
type GPUAddress uint64

// CPUDescriptorHandle addresses a descriptor for writing on the CPU.
type CPUDescriptorHandle uint64

// GPUDescriptorHandle addresses a descriptor in a shader visible heap.
type GPUDescriptorHandle uint64

func (h CPUDescriptorHandle) Offset(index, stride uint32) CPUDescriptorHandle {
	return h + CPUDescriptorHandle(uint64(index)*uint64(stride))
}

func (h GPUDescriptorHandle) Offset(index, stride uint32) GPUDescriptorHandle {
	return h + GPUDescriptorHandle(uint64(index)*uint64(stride))
}

type DescriptorHeapKind uint8

const (
	DescriptorHeapCBVSRVUAV DescriptorHeapKind = iota
	DescriptorHeapRTV
	DescriptorHeapDSV
)

type DescriptorHeapDesc struct {
	Kind           DescriptorHeapKind
	NumDescriptors uint32
	ShaderVisible  bool
}

type Viewport struct {
	X, Y, Width, Height float32
	MinDepth, MaxDepth  float32
}

type Rect struct {
	Left, Top, Right, Bottom int32
}

type PrimitiveTopology uint8

const (
	PrimitiveTopologyTriangleList PrimitiveTopology = iota
	PrimitiveTopologyTriangleStrip
)

type VertexBufferView struct {
	BufferLocation GPUAddress
	SizeInBytes    uint32
	StrideInBytes  uint32
}

type IndexBufferView struct {
	BufferLocation GPUAddress
	SizeInBytes    uint32
	Format         Format
}

type SRVDimension uint8

const (
	SRVDimensionTexture2D SRVDimension = iota
	SRVDimensionBuffer
	SRVDimensionRaytracingAccelerationStructure
)

type ShaderResourceViewDesc struct {
	Format    Format
	Dimension SRVDimension
	// Location is the structure address for acceleration structure views.
	Location GPUAddress
}

type UnorderedAccessViewDesc struct {
	Format Format
}

type ConstantBufferViewDesc struct {
	BufferLocation GPUAddress
	SizeInBytes    uint32
}

type RenderTargetViewDesc struct {
	Format Format
}

type DepthStencilViewDesc struct {
	Format Format
}
