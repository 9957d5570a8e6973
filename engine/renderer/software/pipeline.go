package software

import (
	"fmt"

	"github.com/spaghettifunk/refract/engine/renderer/gpu"
)

type RootSignature struct {
	desc gpu.RootSignatureDesc
}

func (d *Device) CreateRootSignature(desc gpu.RootSignatureDesc) (gpu.RootSignature, error) {
	for i, p := range desc.Parameters {
		switch p.Kind {
		case gpu.RootParameterDescriptorTable:
			if len(p.Ranges) == 0 {
				return nil, fmt.Errorf("root parameter %d is a descriptor table without ranges", i)
			}
		case gpu.RootParameterCBV, gpu.RootParameterSRV, gpu.RootParameterUAV:
			if len(p.Ranges) != 0 {
				return nil, fmt.Errorf("root parameter %d is a root descriptor with ranges", i)
			}
		default:
			return nil, fmt.Errorf("root parameter %d has unknown kind %d", i, p.Kind)
		}
	}
	params := make([]gpu.RootParameter, len(desc.Parameters))
	copy(params, desc.Parameters)
	return &RootSignature{desc: gpu.RootSignatureDesc{Parameters: params, Local: desc.Local}}, nil
}

func (rs *RootSignature) Desc() gpu.RootSignatureDesc {
	return rs.desc
}

func (rs *RootSignature) Release() {}

func asRootSignature(rs gpu.RootSignature) (*RootSignature, error) {
	if rs == nil {
		return nil, fmt.Errorf("nil root signature")
	}
	r, ok := rs.(*RootSignature)
	if !ok {
		return nil, fmt.Errorf("root signature %T does not belong to the software device", rs)
	}
	return r, nil
}

type PipelineState struct {
	desc gpu.GraphicsPipelineDesc
	rs   *RootSignature
	vs   VertexProgram
	ps   PixelProgram
}

func (d *Device) CreateGraphicsPipelineState(desc *gpu.GraphicsPipelineDesc) (gpu.PipelineState, error) {
	if desc == nil {
		return nil, fmt.Errorf("nil pipeline description")
	}
	rs, err := asRootSignature(desc.RootSignature)
	if err != nil {
		return nil, err
	}
	if rs.desc.Local {
		return nil, fmt.Errorf("graphics pipelines need a global root signature")
	}
	if len(desc.RTVFormats) == 0 || len(desc.RTVFormats) > maxRenderTargets {
		return nil, fmt.Errorf("pipeline with %d render targets, want 1 to %d", len(desc.RTVFormats), maxRenderTargets)
	}
	if desc.DepthEnable && !desc.DSVFormat.IsDepth() {
		return nil, fmt.Errorf("depth enabled pipeline with depth format %s", desc.DSVFormat)
	}
	vs, ok := lookupVertexProgram(desc.VS.EntryPoint)
	if !ok {
		return nil, fmt.Errorf("vertex shader `%s` (%s) is not registered", desc.VS.EntryPoint, desc.VS.Path)
	}
	ps, ok := lookupPixelProgram(desc.PS.EntryPoint)
	if !ok {
		return nil, fmt.Errorf("pixel shader `%s` (%s) is not registered", desc.PS.EntryPoint, desc.PS.Path)
	}

	pso := &PipelineState{desc: *desc, rs: rs, vs: vs, ps: ps}
	pso.desc.RTVFormats = append([]gpu.Format(nil), desc.RTVFormats...)
	pso.desc.InputLayout = append([]gpu.InputElement(nil), desc.InputLayout...)
	return pso, nil
}

func (p *PipelineState) Release() {}

// attribute decodes the input element named semantic from a vertex.
func (p *PipelineState) attribute(vertex []byte, semantic string) [4]float32 {
	for _, el := range p.desc.InputLayout {
		if el.SemanticName != semantic {
			continue
		}
		size := el.Format.Size()
		if uint32(len(vertex)) < el.Offset+size {
			return [4]float32{}
		}
		v := decodeTexel(el.Format, vertex[el.Offset:])
		// positions read from three channel formats are points
		if el.Format == gpu.FormatRGB32Float {
			v[3] = 1
		}
		return v
	}
	return [4]float32{}
}
