package renderer

import (
	"fmt"

	"github.com/spaghettifunk/refract/engine/core"
	"github.com/spaghettifunk/refract/engine/renderer/gpu"
	"github.com/spaghettifunk/refract/engine/renderer/shaders"
)

// VertexLayout is the input layout of a pipeline and the stride of the
// vertex buffers it reads.
type VertexLayout struct {
	Elements []gpu.InputElement
	Stride   uint32
}

var (
	// FullVertexLayout matches math.Vertex3D.
	FullVertexLayout = VertexLayout{
		Elements: []gpu.InputElement{
			{SemanticName: "POSITION", Format: gpu.FormatRGB32Float, Offset: 0},
			{SemanticName: "NORMAL", Format: gpu.FormatRGB32Float, Offset: 12},
			{SemanticName: "TEXCOORD", Format: gpu.FormatRG32Float, Offset: 24},
			{SemanticName: "TANGENT", Format: gpu.FormatRGB32Float, Offset: 32},
			{SemanticName: "BITANGENT", Format: gpu.FormatRGB32Float, Offset: 44},
		},
		Stride: shaders.FullVertexStride,
	}
	// SimpleVertexLayout is a clip space position and a uv.
	SimpleVertexLayout = VertexLayout{
		Elements: []gpu.InputElement{
			{SemanticName: "POSITION", Format: gpu.FormatRGBA32Float, Offset: 0},
			{SemanticName: "TEXCOORD", Format: gpu.FormatRG32Float, Offset: 16},
		},
		Stride: 24,
	}
)

// ConstantBufferSlot is a root constant buffer parameter.
type ConstantBufferSlot struct {
	Register   uint32
	Visibility gpu.ShaderVisibility
}

// ShaderInput describes what a pass target's pipelines read and write:
// root constant buffers first, then one table of Textures views, the
// colour formats and optional depth.
type ShaderInput struct {
	ConstantBuffers []ConstantBufferSlot
	Textures        uint32
	Formats         []gpu.Format
	Depth           bool
	DepthFunc       gpu.ComparisonFunc
	Layout          VertexLayout

	rootSignature gpu.RootSignature
}

// TextureTable is the root parameter index of the texture table.
func (in *ShaderInput) TextureTable() uint32 {
	return uint32(len(in.ConstantBuffers))
}

func (in *ShaderInput) RootSignature() gpu.RootSignature {
	return in.rootSignature
}

func (in *ShaderInput) init(device gpu.Device, name string) error {
	params := make([]gpu.RootParameter, 0, len(in.ConstantBuffers)+1)
	for _, cb := range in.ConstantBuffers {
		params = append(params, gpu.RootParameter{Kind: gpu.RootParameterCBV, ShaderRegister: cb.Register, Visibility: cb.Visibility})
	}
	if in.Textures > 0 {
		params = append(params, gpu.RootParameter{
			Kind:       gpu.RootParameterDescriptorTable,
			Ranges:     []gpu.DescriptorRange{{Kind: gpu.DescriptorRangeSRV, Count: in.Textures}},
			Visibility: gpu.ShaderVisibilityPixel,
		})
	}
	rs, err := device.CreateRootSignature(gpu.RootSignatureDesc{Parameters: params})
	if err != nil {
		err = fmt.Errorf("failed to create root signature for `%s`: %w", name, err)
		core.LogError(err.Error())
		return err
	}
	in.rootSignature = rs
	return nil
}

func (in *ShaderInput) release() {
	if in.rootSignature != nil {
		in.rootSignature.Release()
		in.rootSignature = nil
	}
}

// Shader is a graphics pipeline compiled against a pass target's input.
type Shader struct {
	Name  string
	pso   gpu.PipelineState
	input *ShaderInput
}

// CreateShader builds the pipeline for the vs/ps entry points. The pass
// target must have been created with a shader input.
func (t *PassTarget) CreateShader(vs, ps string) (*Shader, error) {
	in := t.input
	if in == nil || in.rootSignature == nil {
		err := fmt.Errorf("pass target `%s` has no shader input: %w", t.name, core.ErrUnsupported)
		core.LogError(err.Error())
		return nil, err
	}
	desc := &gpu.GraphicsPipelineDesc{
		RootSignature: in.rootSignature,
		VS:            gpu.ShaderBytecode{EntryPoint: vs},
		PS:            gpu.ShaderBytecode{EntryPoint: ps},
		InputLayout:   in.Layout.Elements,
		RTVFormats:    in.Formats,
		DepthEnable:   in.Depth,
		DepthFunc:     in.DepthFunc,
		CullMode:      gpu.CullModeFront,
	}
	if in.Depth {
		desc.DSVFormat = gpu.FormatD32Float
	}
	pso, err := t.device.CreateGraphicsPipelineState(desc)
	if err != nil {
		err = fmt.Errorf("failed to create pipeline `%s/%s` for `%s`: %w", vs, ps, t.name, err)
		core.LogError(err.Error())
		return nil, err
	}
	return &Shader{Name: ps, pso: pso, input: in}, nil
}

func (s *Shader) Release() {
	if s.pso != nil {
		s.pso.Release()
		s.pso = nil
	}
}
