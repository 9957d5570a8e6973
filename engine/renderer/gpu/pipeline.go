package gpu

type RootParameterKind uint8

const (
	RootParameterDescriptorTable RootParameterKind = iota
	RootParameterCBV
	RootParameterSRV
	RootParameterUAV
)

type DescriptorRangeKind uint8

const (
	DescriptorRangeSRV DescriptorRangeKind = iota
	DescriptorRangeUAV
	DescriptorRangeCBV
)

type ShaderVisibility uint8

const (
	ShaderVisibilityAll ShaderVisibility = iota
	ShaderVisibilityVertex
	ShaderVisibilityPixel
)

// DescriptorRange describes Count consecutive descriptors of one kind in a
// descriptor table, starting OffsetInTable descriptors from its base.
type DescriptorRange struct {
	Kind          DescriptorRangeKind
	Count         uint32
	BaseRegister  uint32
	OffsetInTable uint32
}

type RootParameter struct {
	Kind           RootParameterKind
	ShaderRegister uint32
	Ranges         []DescriptorRange
	Visibility     ShaderVisibility
}

// TableSize returns the number of descriptors a table parameter spans.
func (p RootParameter) TableSize() uint32 {
	size := uint32(0)
	for _, r := range p.Ranges {
		if end := r.OffsetInTable + r.Count; end > size {
			size = end
		}
	}
	return size
}

type RootSignatureDesc struct {
	Parameters []RootParameter
	// Local root signatures describe the arguments stored inline in shader
	// records.
	Local bool
}

type RootSignature interface {
	Desc() RootSignatureDesc
	Release()
}

// ShaderBytecode identifies a compiled shader. Drivers that execute
// shaders natively read Code; reference drivers resolve EntryPoint.
type ShaderBytecode struct {
	Path       string
	EntryPoint string
	Code       []byte
}

type InputElement struct {
	SemanticName string
	Format       Format
	Offset       uint32
}

type CullMode uint8

const (
	CullModeNone CullMode = iota
	CullModeFront
	CullModeBack
)

type ComparisonFunc uint8

const (
	ComparisonFuncLess ComparisonFunc = iota
	ComparisonFuncLessEqual
	ComparisonFuncAlways
)

type GraphicsPipelineDesc struct {
	RootSignature RootSignature
	VS            ShaderBytecode
	PS            ShaderBytecode
	InputLayout   []InputElement
	RTVFormats    []Format
	DSVFormat     Format
	DepthEnable   bool
	DepthFunc     ComparisonFunc
	CullMode      CullMode
}

type PipelineState interface {
	Release()
}
