package renderer

import (
	"fmt"

	"github.com/spaghettifunk/refract/engine/core"
	"github.com/spaghettifunk/refract/engine/renderer/gpu"
)

// PassTargetDesc describes the attachments of a pass target. Input is nil
// for targets that are only written by copies or dispatches.
type PassTargetDesc struct {
	Name        string
	Formats     []gpu.Format
	Depth       bool
	Flags       gpu.ResourceFlags
	Input       *ShaderInput
	TextureSets uint32
	ClearColour [4]float32
}

// PassTarget owns a set of colour buffers and an optional depth buffer for
// every buffered frame, together with the views that bind them and a
// shader visible table region per frame for the textures its pipelines
// sample.
type PassTarget struct {
	name    string
	device  gpu.Device
	desc    PassTargetDesc
	input   *ShaderInput
	frames  uint32
	width   uint32
	height  uint32
	colour  []gpu.Resource
	depth   []gpu.Resource
	rtvs    *DescriptorAllocator
	dsvs    *DescriptorAllocator
	srvs    *DescriptorAllocator
	srvBase uint32
}

func NewPassTarget(device gpu.Device, desc PassTargetDesc, width, height, frames uint32) (*PassTarget, error) {
	t := &PassTarget{
		name:   desc.Name,
		device: device,
		desc:   desc,
		input:  desc.Input,
		frames: frames,
	}
	if t.input != nil {
		t.input.Formats = desc.Formats
		t.input.Depth = desc.Depth
		if err := t.input.init(device, desc.Name); err != nil {
			return nil, err
		}
	}
	if err := t.createBuffers(width, height); err != nil {
		t.Release()
		return nil, err
	}
	return t, nil
}

func (t *PassTarget) createBuffers(width, height uint32) error {
	count := uint32(len(t.desc.Formats))
	t.width, t.height = width, height

	var err error
	t.rtvs, err = NewDescriptorAllocator(t.device, t.name+" rtv", gpu.DescriptorHeapDesc{Kind: gpu.DescriptorHeapRTV, NumDescriptors: count * t.frames})
	if err != nil {
		return err
	}
	if _, err = t.rtvs.AllocateRange(count * t.frames); err != nil {
		return err
	}
	t.colour = make([]gpu.Resource, count*t.frames)
	for frame := uint32(0); frame < t.frames; frame++ {
		for i, format := range t.desc.Formats {
			index := uint32(i) + frame*count
			clear := &gpu.ClearValue{Format: format, Colour: t.desc.ClearColour}
			res, err := t.device.CreateCommittedResource(gpu.HeapDefault,
				gpu.Texture2DDesc(format, width, height, gpu.ResourceFlagAllowRenderTarget|t.desc.Flags),
				gpu.ResourceStateRenderTarget, clear)
			if err != nil {
				err = fmt.Errorf("failed to create colour buffer %d of `%s`: %w", i, t.name, err)
				core.LogError(err.Error())
				return err
			}
			res.SetName(fmt.Sprintf("%s colour %d [%d]", t.name, i, frame))
			t.colour[index] = res
			handle, _ := t.rtvs.CPUHandle(index)
			if err := t.device.CreateRenderTargetView(res, &gpu.RenderTargetViewDesc{Format: format}, handle); err != nil {
				err = fmt.Errorf("failed to create render target view %d of `%s`: %w", i, t.name, err)
				core.LogError(err.Error())
				return err
			}
		}
	}

	if t.desc.Depth {
		t.dsvs, err = NewDescriptorAllocator(t.device, t.name+" dsv", gpu.DescriptorHeapDesc{Kind: gpu.DescriptorHeapDSV, NumDescriptors: t.frames})
		if err != nil {
			return err
		}
		if _, err = t.dsvs.AllocateRange(t.frames); err != nil {
			return err
		}
		t.depth = make([]gpu.Resource, t.frames)
		for frame := uint32(0); frame < t.frames; frame++ {
			res, err := t.device.CreateCommittedResource(gpu.HeapDefault,
				gpu.Texture2DDesc(gpu.FormatD32Float, width, height, gpu.ResourceFlagAllowDepthStencil),
				gpu.ResourceStateDepthWrite, &gpu.ClearValue{Format: gpu.FormatD32Float, Depth: 1})
			if err != nil {
				err = fmt.Errorf("failed to create depth buffer of `%s`: %w", t.name, err)
				core.LogError(err.Error())
				return err
			}
			res.SetName(fmt.Sprintf("%s depth [%d]", t.name, frame))
			t.depth[frame] = res
			handle, _ := t.dsvs.CPUHandle(frame)
			if err := t.device.CreateDepthStencilView(res, &gpu.DepthStencilViewDesc{Format: gpu.FormatD32Float}, handle); err != nil {
				err = fmt.Errorf("failed to create depth stencil view of `%s`: %w", t.name, err)
				core.LogError(err.Error())
				return err
			}
		}
	}

	if t.input != nil && t.input.Textures > 0 {
		sets := max(t.desc.TextureSets, 1)
		total := t.input.Textures * sets * t.frames
		t.srvs, err = NewDescriptorAllocator(t.device, t.name+" textures", gpu.DescriptorHeapDesc{Kind: gpu.DescriptorHeapCBVSRVUAV, NumDescriptors: total, ShaderVisible: true})
		if err != nil {
			return err
		}
		if t.srvBase, err = t.srvs.AllocateRange(total); err != nil {
			return err
		}
	}
	return nil
}

func (t *PassTarget) releaseBuffers() {
	for i, res := range t.colour {
		if res != nil {
			res.Release()
			t.colour[i] = nil
		}
	}
	for i, res := range t.depth {
		if res != nil {
			res.Release()
			t.depth[i] = nil
		}
	}
	for _, a := range []*DescriptorAllocator{t.rtvs, t.dsvs, t.srvs} {
		if a != nil {
			a.Release()
		}
	}
	t.colour, t.depth = nil, nil
	t.rtvs, t.dsvs, t.srvs = nil, nil, nil
}

// Resize replaces every buffer and view. Pipelines survive. The GPU must
// be idle.
func (t *PassTarget) Resize(width, height uint32) error {
	t.releaseBuffers()
	return t.createBuffers(width, height)
}

func (t *PassTarget) textureIndex(slot, set, frame uint32) uint32 {
	sets := max(t.desc.TextureSets, 1)
	return t.srvBase + (frame*sets+set)*t.input.Textures + slot
}

// BeginRender binds the frame's colour and depth buffers and, if the
// target has pipelines, its root signature. clear resets colour to the
// clear colour and depth to 1.
func (t *PassTarget) BeginRender(list gpu.CommandList, frame uint32, clear bool) {
	count := uint32(len(t.desc.Formats))
	rtvs := make([]gpu.CPUDescriptorHandle, count)
	for i := range rtvs {
		rtvs[i], _ = t.rtvs.CPUHandle(uint32(i) + frame*count)
	}
	var dsv *gpu.CPUDescriptorHandle
	if t.desc.Depth {
		h, _ := t.dsvs.CPUHandle(frame)
		dsv = &h
	}
	list.OMSetRenderTargets(rtvs, dsv)
	if clear {
		for _, h := range rtvs {
			list.ClearRenderTargetView(h, t.desc.ClearColour)
		}
		if dsv != nil {
			list.ClearDepthStencilView(*dsv, 1)
		}
	}
	if t.input != nil {
		list.SetGraphicsRootSignature(t.input.rootSignature)
	}
}

// AssignTexture writes a view of res into texture slot of set for frame.
// Depth buffers are viewed as single channel float.
func (t *PassTarget) AssignTexture(frame uint32, res gpu.Resource, slot, set uint32) error {
	if res == nil {
		core.LogWarn("pass target `%s`: nil texture for slot %d of set %d", t.name, slot, set)
		return core.ErrNilResource
	}
	if t.srvs == nil {
		return fmt.Errorf("pass target `%s` samples no textures: %w", t.name, core.ErrUnsupported)
	}
	if !core.Check(slot < t.input.Textures && set < max(t.desc.TextureSets, 1) && frame < t.frames,
		"pass target `%s`: texture slot %d set %d frame %d out of range", t.name, slot, set, frame) {
		return core.ErrIndexOutOfRange
	}
	desc := &gpu.ShaderResourceViewDesc{Dimension: gpu.SRVDimensionTexture2D}
	if res.Desc().Format.IsDepth() {
		desc.Format = gpu.FormatR32Float
	}
	handle, err := t.srvs.CPUHandle(t.textureIndex(slot, set, frame))
	if err != nil {
		return err
	}
	if err := t.device.CreateShaderResourceView(res, desc, handle); err != nil {
		err = fmt.Errorf("pass target `%s`: texture `%s` in slot %d: %w", t.name, res.Name(), slot, err)
		core.LogWarn(err.Error())
		return err
	}
	return nil
}

// BeginDraw binds shader and the texture table of set for frame.
func (t *PassTarget) BeginDraw(list gpu.CommandList, shader *Shader, frame, set uint32) error {
	if shader == nil || shader.input != t.input {
		return fmt.Errorf("pass target `%s`: shader does not belong to this target: %w", t.name, core.ErrUnsupported)
	}
	list.SetPipelineState(shader.pso)
	if t.srvs == nil {
		return nil
	}
	if !core.Check(set < max(t.desc.TextureSets, 1) && frame < t.frames,
		"pass target `%s`: texture set %d frame %d out of range", t.name, set, frame) {
		return core.ErrIndexOutOfRange
	}
	handle, err := t.srvs.GPUHandle(t.textureIndex(0, set, frame))
	if err != nil {
		return err
	}
	list.SetDescriptorHeaps(t.srvs.Heap())
	list.SetGraphicsRootDescriptorTable(t.input.TextureTable(), handle)
	return nil
}

// Resource returns colour buffer index of frame.
func (t *PassTarget) Resource(index, frame uint32) gpu.Resource {
	count := uint32(len(t.desc.Formats))
	if !core.Check(index < count && frame < t.frames, "pass target `%s`: colour buffer %d frame %d out of range", t.name, index, frame) {
		return nil
	}
	return t.colour[index+frame*count]
}

func (t *PassTarget) DepthResource(frame uint32) gpu.Resource {
	if !t.desc.Depth || frame >= t.frames {
		return nil
	}
	return t.depth[frame]
}

func (t *PassTarget) Name() string {
	return t.name
}

func (t *PassTarget) Input() *ShaderInput {
	return t.input
}

func (t *PassTarget) Count() uint32 {
	return uint32(len(t.desc.Formats))
}

func (t *PassTarget) Size() (uint32, uint32) {
	return t.width, t.height
}

func (t *PassTarget) Release() {
	t.releaseBuffers()
	if t.input != nil {
		t.input.release()
	}
}
