package software

import (
	"fmt"

	"github.com/spaghettifunk/refract/engine/renderer/gpu"
)

type command func(ex *executor)

type CommandList struct {
	dev       *Device
	alloc     *CommandAllocator
	cmds      []command
	recording bool
}

func (d *Device) CreateCommandList(alloc gpu.CommandAllocator) (gpu.CommandList, error) {
	a, ok := alloc.(*CommandAllocator)
	if !ok {
		return nil, fmt.Errorf("command allocator %T does not belong to the software device", alloc)
	}
	return &CommandList{dev: d, alloc: a, recording: true}, nil
}

func (l *CommandList) Reset(alloc gpu.CommandAllocator, initial gpu.PipelineState) error {
	a, ok := alloc.(*CommandAllocator)
	if !ok {
		return fmt.Errorf("command allocator %T does not belong to the software device", alloc)
	}
	if l.recording {
		l.dev.report("command list reset while recording")
		return fmt.Errorf("command list reset while recording")
	}
	l.alloc = a
	// the previous slice may still be executing
	l.cmds = nil
	l.recording = true
	if initial != nil {
		l.SetPipelineState(initial)
	}
	return nil
}

func (l *CommandList) Close() error {
	if !l.recording {
		l.dev.report("command list closed twice")
		return fmt.Errorf("command list is not recording")
	}
	l.recording = false
	return nil
}

func (l *CommandList) record(cmd command) {
	if !l.recording {
		l.dev.report("command recorded into a closed command list")
		return
	}
	l.cmds = append(l.cmds, cmd)
}

type rootBinding struct {
	set     bool
	address gpu.GPUAddress
	table   gpu.GPUDescriptorHandle
}

// executor holds the pipeline state of one command list while the queue
// runs it.
type executor struct {
	dev *Device

	rtvs     []descriptor
	dsv      *descriptor
	viewport gpu.Viewport
	scissor  gpu.Rect

	pso        *PipelineState
	graphicsRS *RootSignature
	computeRS  *RootSignature
	graphics   []rootBinding
	compute    []rootBinding
	heap       *DescriptorHeap

	topology gpu.PrimitiveTopology
	vbs      []gpu.VertexBufferView
	ib       *gpu.IndexBufferView

	stateObject *StateObject
}

func newExecutor(dev *Device) *executor {
	return &executor{dev: dev, scissor: gpu.Rect{Right: 1 << 30, Bottom: 1 << 30}}
}

// requireState reports when r is not in a state that allows want.
func (ex *executor) requireState(r *Resource, want gpu.ResourceState, use string) bool {
	have := r.currentState()
	if have&want == 0 {
		ex.dev.report("%s: `%s` is in state %s, needs %s", use, r.Name(), have, want)
		return false
	}
	return true
}

func (l *CommandList) ResourceBarrier(barriers ...gpu.ResourceBarrier) {
	type transition struct {
		res           *Resource
		before, after gpu.ResourceState
	}
	batch := make([]transition, 0, len(barriers))
	for _, b := range barriers {
		if b.Kind == gpu.BarrierUAV {
			continue
		}
		r, err := asResource(b.Resource)
		if err != nil {
			l.dev.report("resource barrier: %s", err)
			continue
		}
		if r.heap == gpu.HeapUpload {
			l.dev.report("resource barrier on upload heap resource `%s`", r.Name())
			continue
		}
		if b.Before == b.After {
			l.dev.report("resource barrier on `%s` with identical before and after state %s", r.Name(), b.Before)
		}
		batch = append(batch, transition{res: r, before: b.Before, after: b.After})
	}
	l.record(func(ex *executor) {
		for _, t := range batch {
			if have := t.res.currentState(); have != t.before {
				ex.dev.report("resource barrier: `%s` is in state %s, barrier expects %s", t.res.Name(), have, t.before)
			}
			t.res.state.Store(uint32(t.after))
		}
	})
}

func (l *CommandList) ClearRenderTargetView(rtv gpu.CPUDescriptorHandle, colour [4]float32) {
	_, d, err := l.dev.cpuDescriptor(rtv)
	if err != nil || d.kind != descriptorRTV {
		l.dev.report("clear render target: handle 0x%x is not a render target view", uint64(rtv))
		return
	}
	view := *d
	l.record(func(ex *executor) {
		if ex.requireState(view.res, gpu.ResourceStateRenderTarget, "clear render target") {
			view.res.fill(view.format, colour)
		}
	})
}

func (l *CommandList) ClearDepthStencilView(dsv gpu.CPUDescriptorHandle, depth float32) {
	_, d, err := l.dev.cpuDescriptor(dsv)
	if err != nil || d.kind != descriptorDSV {
		l.dev.report("clear depth: handle 0x%x is not a depth stencil view", uint64(dsv))
		return
	}
	view := *d
	l.record(func(ex *executor) {
		if ex.requireState(view.res, gpu.ResourceStateDepthWrite, "clear depth") {
			view.res.fill(gpu.FormatD32Float, [4]float32{depth})
		}
	})
}

func (l *CommandList) OMSetRenderTargets(rtvs []gpu.CPUDescriptorHandle, dsv *gpu.CPUDescriptorHandle) {
	if len(rtvs) > maxRenderTargets {
		l.dev.report("%d render targets bound, at most %d are supported", len(rtvs), maxRenderTargets)
		return
	}
	views := make([]descriptor, 0, len(rtvs))
	for _, h := range rtvs {
		_, d, err := l.dev.cpuDescriptor(h)
		if err != nil || d.kind != descriptorRTV {
			l.dev.report("set render targets: handle 0x%x is not a render target view", uint64(h))
			return
		}
		views = append(views, *d)
	}
	var depth *descriptor
	if dsv != nil {
		_, d, err := l.dev.cpuDescriptor(*dsv)
		if err != nil || d.kind != descriptorDSV {
			l.dev.report("set render targets: handle 0x%x is not a depth stencil view", uint64(*dsv))
			return
		}
		view := *d
		depth = &view
	}
	l.record(func(ex *executor) {
		ex.rtvs = views
		ex.dsv = depth
	})
}

func (l *CommandList) RSSetViewports(viewport gpu.Viewport) {
	l.record(func(ex *executor) { ex.viewport = viewport })
}

func (l *CommandList) RSSetScissorRects(rect gpu.Rect) {
	l.record(func(ex *executor) { ex.scissor = rect })
}

func (l *CommandList) SetPipelineState(pso gpu.PipelineState) {
	p, ok := pso.(*PipelineState)
	if !ok || p == nil {
		l.dev.report("pipeline state %T does not belong to the software device", pso)
		return
	}
	l.record(func(ex *executor) { ex.pso = p })
}

func (l *CommandList) SetGraphicsRootSignature(rs gpu.RootSignature) {
	r, err := asRootSignature(rs)
	if err != nil {
		l.dev.report("set graphics root signature: %s", err)
		return
	}
	l.record(func(ex *executor) {
		if ex.graphicsRS != r {
			ex.graphics = make([]rootBinding, len(r.desc.Parameters))
		}
		ex.graphicsRS = r
	})
}

func (l *CommandList) SetComputeRootSignature(rs gpu.RootSignature) {
	r, err := asRootSignature(rs)
	if err != nil {
		l.dev.report("set compute root signature: %s", err)
		return
	}
	l.record(func(ex *executor) {
		if ex.computeRS != r {
			ex.compute = make([]rootBinding, len(r.desc.Parameters))
		}
		ex.computeRS = r
	})
}

func (l *CommandList) SetDescriptorHeaps(heaps ...gpu.DescriptorHeap) {
	var bound *DescriptorHeap
	for _, h := range heaps {
		dh, ok := h.(*DescriptorHeap)
		if !ok {
			l.dev.report("descriptor heap %T does not belong to the software device", h)
			return
		}
		if !dh.desc.ShaderVisible || dh.desc.Kind != gpu.DescriptorHeapCBVSRVUAV {
			l.dev.report("only shader visible CBV/SRV/UAV heaps can be bound")
			return
		}
		if bound != nil {
			l.dev.report("more than one CBV/SRV/UAV heap bound")
			return
		}
		bound = dh
	}
	l.record(func(ex *executor) { ex.heap = bound })
}

func setRoot(ex *executor, bindings []rootBinding, rs *RootSignature, param uint32, kind gpu.RootParameterKind, b rootBinding) {
	if rs == nil {
		ex.dev.report("root argument %d set without a root signature", param)
		return
	}
	if int(param) >= len(bindings) {
		ex.dev.report("root parameter %d out of range (%d parameters)", param, len(bindings))
		return
	}
	if got := rs.desc.Parameters[param].Kind; got != kind {
		ex.dev.report("root parameter %d has kind %d, argument of kind %d set", param, got, kind)
		return
	}
	b.set = true
	bindings[param] = b
}

func (l *CommandList) SetGraphicsRootConstantBufferView(param uint32, address gpu.GPUAddress) {
	l.record(func(ex *executor) {
		setRoot(ex, ex.graphics, ex.graphicsRS, param, gpu.RootParameterCBV, rootBinding{address: address})
	})
}

func (l *CommandList) SetGraphicsRootDescriptorTable(param uint32, base gpu.GPUDescriptorHandle) {
	l.record(func(ex *executor) {
		setRoot(ex, ex.graphics, ex.graphicsRS, param, gpu.RootParameterDescriptorTable, rootBinding{table: base})
	})
}

func (l *CommandList) SetComputeRootDescriptorTable(param uint32, base gpu.GPUDescriptorHandle) {
	l.record(func(ex *executor) {
		setRoot(ex, ex.compute, ex.computeRS, param, gpu.RootParameterDescriptorTable, rootBinding{table: base})
	})
}

func (l *CommandList) IASetPrimitiveTopology(topology gpu.PrimitiveTopology) {
	l.record(func(ex *executor) { ex.topology = topology })
}

func (l *CommandList) IASetVertexBuffers(startSlot uint32, views ...gpu.VertexBufferView) {
	vs := append([]gpu.VertexBufferView(nil), views...)
	l.record(func(ex *executor) {
		need := int(startSlot) + len(vs)
		if len(ex.vbs) < need {
			grown := make([]gpu.VertexBufferView, need)
			copy(grown, ex.vbs)
			ex.vbs = grown
		}
		copy(ex.vbs[startSlot:], vs)
	})
}

func (l *CommandList) IASetIndexBuffer(view *gpu.IndexBufferView) {
	var ib *gpu.IndexBufferView
	if view != nil {
		v := *view
		ib = &v
	}
	l.record(func(ex *executor) { ex.ib = ib })
}

func (l *CommandList) DrawInstanced(vertexCount, instanceCount, startVertex, startInstance uint32) {
	l.record(func(ex *executor) {
		for i := uint32(0); i < instanceCount; i++ {
			ex.draw(drawCall{count: vertexCount, start: startVertex})
		}
	})
}

func (l *CommandList) DrawIndexedInstanced(indexCount, instanceCount, startIndex uint32, baseVertex int32, startInstance uint32) {
	l.record(func(ex *executor) {
		for i := uint32(0); i < instanceCount; i++ {
			ex.draw(drawCall{indexed: true, count: indexCount, start: startIndex, baseVertex: baseVertex})
		}
	})
}

func (l *CommandList) CopyResource(dst, src gpu.Resource) {
	d, err := asResource(dst)
	if err != nil {
		l.dev.report("copy resource: %s", err)
		return
	}
	s, err := asResource(src)
	if err != nil {
		l.dev.report("copy resource: %s", err)
		return
	}
	if d == s || len(d.data) != len(s.data) || d.desc.Dimension != s.desc.Dimension ||
		d.desc.Width != s.desc.Width || d.desc.Height != s.desc.Height {
		l.dev.report("copy resource: `%s` and `%s` are not the same shape", d.Name(), s.Name())
		return
	}
	if d.desc.Dimension == gpu.ResourceDimensionTexture2D && d.desc.Format.Size() != s.desc.Format.Size() {
		l.dev.report("copy resource: %s and %s texels differ in size", d.desc.Format, s.desc.Format)
		return
	}
	l.record(func(ex *executor) {
		okDst := ex.requireState(d, gpu.ResourceStateCopyDest, "copy destination")
		okSrc := ex.requireState(s, gpu.ResourceStateCopySource, "copy source")
		if okDst && okSrc {
			copy(d.data, s.data)
		}
	})
}

func (l *CommandList) CopyBufferRegion(dst gpu.Resource, dstOffset uint64, src gpu.Resource, srcOffset, size uint64) {
	d, err := asResource(dst)
	if err != nil {
		l.dev.report("copy buffer region: %s", err)
		return
	}
	s, err := asResource(src)
	if err != nil {
		l.dev.report("copy buffer region: %s", err)
		return
	}
	if dstOffset+size > uint64(len(d.data)) || srcOffset+size > uint64(len(s.data)) {
		l.dev.report("copy buffer region of %d bytes overruns `%s` or `%s`", size, d.Name(), s.Name())
		return
	}
	l.record(func(ex *executor) {
		okDst := ex.requireState(d, gpu.ResourceStateCopyDest, "copy destination")
		okSrc := ex.requireState(s, gpu.ResourceStateCopySource, "copy source")
		if okDst && okSrc {
			copy(d.data[dstOffset:dstOffset+size], s.data[srcOffset:srcOffset+size])
		}
	})
}

func (l *CommandList) CopyBufferToTexture(dst gpu.Resource, src gpu.Resource, srcOffset uint64, rowPitch uint32) {
	d, err := asResource(dst)
	if err != nil {
		l.dev.report("copy buffer to texture: %s", err)
		return
	}
	s, err := asResource(src)
	if err != nil {
		l.dev.report("copy buffer to texture: %s", err)
		return
	}
	if d.desc.Dimension != gpu.ResourceDimensionTexture2D || s.desc.Dimension != gpu.ResourceDimensionBuffer {
		l.dev.report("copy buffer to texture: `%s` to `%s` has the wrong dimensions", s.Name(), d.Name())
		return
	}
	if int(rowPitch) < d.pitch || srcOffset+uint64(rowPitch)*uint64(d.desc.Height-1)+uint64(d.pitch) > uint64(len(s.data)) {
		l.dev.report("copy buffer to texture: `%s` is too small for `%s`", s.Name(), d.Name())
		return
	}
	l.record(func(ex *executor) {
		okDst := ex.requireState(d, gpu.ResourceStateCopyDest, "copy destination")
		okSrc := ex.requireState(s, gpu.ResourceStateCopySource, "copy source")
		if !okDst || !okSrc {
			return
		}
		for y := 0; y < int(d.desc.Height); y++ {
			from := srcOffset + uint64(y)*uint64(rowPitch)
			copy(d.data[y*d.pitch:(y+1)*d.pitch], s.data[from:from+uint64(d.pitch)])
		}
	})
}

func (l *CommandList) SetPipelineState1(so gpu.StateObject) {
	s, ok := so.(*StateObject)
	if !ok || s == nil {
		l.dev.report("state object %T does not belong to the software device", so)
		return
	}
	l.record(func(ex *executor) { ex.stateObject = s })
}

// tableEntries resolves count descriptors starting at a GPU handle in the
// bound heap.
func (ex *executor) tableEntries(base gpu.GPUDescriptorHandle, count uint32) ([]descriptor, error) {
	h, index, err := ex.dev.gpuDescriptor(base)
	if err != nil {
		return nil, err
	}
	if h != ex.heap {
		return nil, fmt.Errorf("descriptor table 0x%x is not in the bound descriptor heap", uint64(base))
	}
	if uint64(index)+uint64(count) > uint64(len(h.entries)) {
		return nil, fmt.Errorf("descriptor table 0x%x of %d descriptors overruns the heap", uint64(base), count)
	}
	return h.entries[index : index+count], nil
}
