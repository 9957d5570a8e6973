package software

import (
	"fmt"

	"github.com/spaghettifunk/refract/engine/renderer/gpu"
)

type descriptorKind uint8

const (
	descriptorNone descriptorKind = iota
	descriptorRTV
	descriptorDSV
	descriptorSRV
	descriptorUAV
	descriptorCBV
)

func (k descriptorKind) String() string {
	return [...]string{"null", "RTV", "DSV", "SRV", "UAV", "CBV"}[k]
}

type descriptor struct {
	kind   descriptorKind
	res    *Resource
	format gpu.Format
	srvDim gpu.SRVDimension
	// location is the acceleration structure of an AS view or the start of
	// a constant buffer view.
	location gpu.GPUAddress
	size     uint32
}

var descriptorStrides = map[gpu.DescriptorHeapKind]uint32{
	gpu.DescriptorHeapCBVSRVUAV: 32,
	gpu.DescriptorHeapRTV:       16,
	gpu.DescriptorHeapDSV:       16,
}

type DescriptorHeap struct {
	dev     *Device
	id      uint32
	desc    gpu.DescriptorHeapDesc
	stride  uint32
	entries []descriptor
}

func (d *Device) DescriptorHandleIncrementSize(kind gpu.DescriptorHeapKind) uint32 {
	return descriptorStrides[kind]
}

func (d *Device) CreateDescriptorHeap(desc gpu.DescriptorHeapDesc) (gpu.DescriptorHeap, error) {
	if desc.NumDescriptors == 0 {
		return nil, fmt.Errorf("descriptor heap with no descriptors")
	}
	stride := descriptorStrides[desc.Kind]
	if uint64(desc.NumDescriptors)*uint64(stride) > offsetMask {
		return nil, fmt.Errorf("descriptor heap of %d descriptors: %w", desc.NumDescriptors, gpu.ErrNoDeviceMemory)
	}
	if desc.ShaderVisible && desc.Kind != gpu.DescriptorHeapCBVSRVUAV {
		return nil, fmt.Errorf("only CBV/SRV/UAV heaps can be shader visible")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	id, err := d.allocID()
	if err != nil {
		return nil, err
	}
	h := &DescriptorHeap{dev: d, id: id, desc: desc, stride: stride, entries: make([]descriptor, desc.NumDescriptors)}
	d.heaps[id] = h
	return h, nil
}

func (h *DescriptorHeap) Desc() gpu.DescriptorHeapDesc {
	return h.desc
}

func (h *DescriptorHeap) CPUDescriptorHandleForHeapStart() gpu.CPUDescriptorHandle {
	return gpu.CPUDescriptorHandle(encodeAddress(tagCPUHeap, h.id, 0))
}

func (h *DescriptorHeap) GPUDescriptorHandleForHeapStart() gpu.GPUDescriptorHandle {
	if !h.desc.ShaderVisible {
		return 0
	}
	return gpu.GPUDescriptorHandle(encodeAddress(tagGPUHeap, h.id, 0))
}

func (h *DescriptorHeap) Release() {
	h.dev.mu.Lock()
	delete(h.dev.heaps, h.id)
	h.dev.mu.Unlock()
}

func (d *Device) heapEntry(tag, handle uint64) (*DescriptorHeap, uint32, error) {
	t, id, offset := decodeAddress(handle)
	if t != tag {
		return nil, 0, fmt.Errorf("0x%x is not a descriptor handle of the expected kind", handle)
	}
	d.mu.RLock()
	h := d.heaps[id]
	d.mu.RUnlock()
	if h == nil {
		return nil, 0, fmt.Errorf("descriptor handle 0x%x refers to an unknown heap", handle)
	}
	if offset%uint64(h.stride) != 0 {
		return nil, 0, fmt.Errorf("descriptor handle 0x%x is not aligned to the heap stride %d", handle, h.stride)
	}
	index := offset / uint64(h.stride)
	if index >= uint64(len(h.entries)) {
		return nil, 0, fmt.Errorf("descriptor handle 0x%x is past the end of a %d descriptor heap", handle, len(h.entries))
	}
	return h, uint32(index), nil
}

func (d *Device) cpuDescriptor(handle gpu.CPUDescriptorHandle) (*DescriptorHeap, *descriptor, error) {
	h, i, err := d.heapEntry(tagCPUHeap, uint64(handle))
	if err != nil {
		return nil, nil, err
	}
	return h, &h.entries[i], nil
}

func (d *Device) gpuDescriptor(handle gpu.GPUDescriptorHandle) (*DescriptorHeap, uint32, error) {
	return d.heapEntry(tagGPUHeap, uint64(handle))
}

func (d *Device) writeDescriptor(dest gpu.CPUDescriptorHandle, kind gpu.DescriptorHeapKind, value descriptor) error {
	h, slot, err := d.cpuDescriptor(dest)
	if err != nil {
		return err
	}
	if h.desc.Kind != kind {
		return fmt.Errorf("%s written into a heap of kind %d", value.kind, h.desc.Kind)
	}
	*slot = value
	return nil
}

func (d *Device) CreateRenderTargetView(res gpu.Resource, desc *gpu.RenderTargetViewDesc, dest gpu.CPUDescriptorHandle) error {
	r, err := asResource(res)
	if err != nil {
		return err
	}
	if r.desc.Dimension != gpu.ResourceDimensionTexture2D || r.desc.Flags&gpu.ResourceFlagAllowRenderTarget == 0 {
		return fmt.Errorf("`%s` was not created with ResourceFlagAllowRenderTarget", r.Name())
	}
	format := r.desc.Format
	if desc != nil && desc.Format != gpu.FormatUnknown {
		format = desc.Format
	}
	if format != r.desc.Format {
		return fmt.Errorf("render target view of `%s` as %s, resource is %s", r.Name(), format, r.desc.Format)
	}
	return d.writeDescriptor(dest, gpu.DescriptorHeapRTV, descriptor{kind: descriptorRTV, res: r, format: format})
}

func (d *Device) CreateDepthStencilView(res gpu.Resource, desc *gpu.DepthStencilViewDesc, dest gpu.CPUDescriptorHandle) error {
	r, err := asResource(res)
	if err != nil {
		return err
	}
	if !r.desc.Format.IsDepth() {
		return fmt.Errorf("depth stencil view of non depth resource `%s`", r.Name())
	}
	return d.writeDescriptor(dest, gpu.DescriptorHeapDSV, descriptor{kind: descriptorDSV, res: r, format: r.desc.Format})
}

func (d *Device) CreateShaderResourceView(res gpu.Resource, desc *gpu.ShaderResourceViewDesc, dest gpu.CPUDescriptorHandle) error {
	if desc != nil && desc.Dimension == gpu.SRVDimensionRaytracingAccelerationStructure {
		if res != nil {
			return fmt.Errorf("acceleration structure views take no resource")
		}
		if _, _, err := d.resolve(desc.Location); err != nil {
			return fmt.Errorf("acceleration structure view: %w", err)
		}
		return d.writeDescriptor(dest, gpu.DescriptorHeapCBVSRVUAV, descriptor{
			kind:     descriptorSRV,
			srvDim:   gpu.SRVDimensionRaytracingAccelerationStructure,
			location: desc.Location,
		})
	}

	r, err := asResource(res)
	if err != nil {
		return err
	}
	if r.desc.Dimension == gpu.ResourceDimensionBuffer {
		return d.writeDescriptor(dest, gpu.DescriptorHeapCBVSRVUAV, descriptor{kind: descriptorSRV, res: r, srvDim: gpu.SRVDimensionBuffer})
	}
	format := r.desc.Format
	if desc != nil && desc.Format != gpu.FormatUnknown {
		format = desc.Format
	}
	if format.IsDepth() {
		return fmt.Errorf("`%s` cannot be sampled as %s, use a single channel float view", r.Name(), format)
	}
	if !viewCompatible(r.desc.Format, format) {
		return fmt.Errorf("shader resource view of `%s` as %s, resource is %s", r.Name(), format, r.desc.Format)
	}
	return d.writeDescriptor(dest, gpu.DescriptorHeapCBVSRVUAV, descriptor{kind: descriptorSRV, res: r, format: format, srvDim: gpu.SRVDimensionTexture2D})
}

func (d *Device) CreateUnorderedAccessView(res gpu.Resource, desc *gpu.UnorderedAccessViewDesc, dest gpu.CPUDescriptorHandle) error {
	r, err := asResource(res)
	if err != nil {
		return err
	}
	if r.desc.Flags&gpu.ResourceFlagAllowUnorderedAccess == 0 {
		return fmt.Errorf("`%s` was not created with ResourceFlagAllowUnorderedAccess", r.Name())
	}
	format := r.desc.Format
	if desc != nil && desc.Format != gpu.FormatUnknown {
		format = desc.Format
	}
	return d.writeDescriptor(dest, gpu.DescriptorHeapCBVSRVUAV, descriptor{kind: descriptorUAV, res: r, format: format})
}

func (d *Device) CreateConstantBufferView(desc *gpu.ConstantBufferViewDesc, dest gpu.CPUDescriptorHandle) error {
	if desc == nil {
		return fmt.Errorf("nil constant buffer view description")
	}
	if desc.SizeInBytes == 0 || desc.SizeInBytes%256 != 0 || uint64(desc.BufferLocation)%256 != 0 {
		return fmt.Errorf("constant buffer views must be 256 byte aligned, got %d bytes at 0x%x", desc.SizeInBytes, uint64(desc.BufferLocation))
	}
	r, offset, err := d.resolve(desc.BufferLocation)
	if err != nil {
		return err
	}
	if offset+uint64(desc.SizeInBytes) > uint64(len(r.data)) {
		return fmt.Errorf("constant buffer view overruns `%s`", r.Name())
	}
	return d.writeDescriptor(dest, gpu.DescriptorHeapCBVSRVUAV, descriptor{
		kind:     descriptorCBV,
		res:      r,
		location: desc.BufferLocation,
		size:     desc.SizeInBytes,
	})
}
