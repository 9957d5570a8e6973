package gpu

import (
	"context"
	"image"
)

type Features struct {
	Raytracing bool
}

type Device interface {
	Features() Features

	CreateCommittedResource(heap HeapKind, desc ResourceDesc, initial ResourceState, clear *ClearValue) (Resource, error)
	CreateDescriptorHeap(desc DescriptorHeapDesc) (DescriptorHeap, error)
	DescriptorHandleIncrementSize(kind DescriptorHeapKind) uint32

	CreateRenderTargetView(res Resource, desc *RenderTargetViewDesc, dest CPUDescriptorHandle) error
	CreateDepthStencilView(res Resource, desc *DepthStencilViewDesc, dest CPUDescriptorHandle) error
	// CreateShaderResourceView accepts a nil resource for acceleration
	// structure views, which are located by desc.Location.
	CreateShaderResourceView(res Resource, desc *ShaderResourceViewDesc, dest CPUDescriptorHandle) error
	CreateUnorderedAccessView(res Resource, desc *UnorderedAccessViewDesc, dest CPUDescriptorHandle) error
	CreateConstantBufferView(desc *ConstantBufferViewDesc, dest CPUDescriptorHandle) error

	CreateRootSignature(desc RootSignatureDesc) (RootSignature, error)
	CreateGraphicsPipelineState(desc *GraphicsPipelineDesc) (PipelineState, error)
	CreateStateObject(desc *StateObjectDesc) (StateObject, error)
	RaytracingPrebuildInfo(inputs *BuildInputs) PrebuildInfo

	CreateCommandQueue() (CommandQueue, error)
	CreateCommandAllocator() (CommandAllocator, error)
	CreateCommandList(alloc CommandAllocator) (CommandList, error)
	CreateFence(initial uint64) (Fence, error)
	CreateSwapchain(queue CommandQueue, desc SwapchainDesc) (Swapchain, error)

	Release()
}

type Resource interface {
	Desc() ResourceDesc
	// GPUVirtualAddress is zero for textures.
	GPUVirtualAddress() GPUAddress
	// Map returns the CPU view of an upload heap buffer.
	Map() ([]byte, error)
	Unmap()
	SetName(name string)
	Name() string
	Release()
}

type DescriptorHeap interface {
	Desc() DescriptorHeapDesc
	CPUDescriptorHandleForHeapStart() CPUDescriptorHandle
	// GPUDescriptorHandleForHeapStart is zero for heaps that are not
	// shader visible.
	GPUDescriptorHandleForHeapStart() GPUDescriptorHandle
	Release()
}

type Fence interface {
	CompletedValue() uint64
	// Wait blocks until the fence reaches value or ctx is done.
	Wait(ctx context.Context, value uint64) error
	Release()
}

type CommandQueue interface {
	ExecuteCommandLists(lists ...CommandList) error
	// Signal sets fence to value once all previously submitted work
	// completes.
	Signal(fence Fence, value uint64) error
	Release()
}

type CommandAllocator interface {
	// Reset fails while lists recorded from the allocator are executing.
	Reset() error
	Release()
}

type BarrierKind uint8

const (
	BarrierTransition BarrierKind = iota
	BarrierUAV
)

type ResourceBarrier struct {
	Kind     BarrierKind
	Resource Resource
	Before   ResourceState
	After    ResourceState
}

func TransitionBarrier(res Resource, before, after ResourceState) ResourceBarrier {
	return ResourceBarrier{Kind: BarrierTransition, Resource: res, Before: before, After: after}
}

func UAVBarrier(res Resource) ResourceBarrier {
	return ResourceBarrier{Kind: BarrierUAV, Resource: res}
}

type CommandList interface {
	Reset(alloc CommandAllocator, initial PipelineState) error
	Close() error

	ResourceBarrier(barriers ...ResourceBarrier)

	ClearRenderTargetView(rtv CPUDescriptorHandle, colour [4]float32)
	ClearDepthStencilView(dsv CPUDescriptorHandle, depth float32)
	OMSetRenderTargets(rtvs []CPUDescriptorHandle, dsv *CPUDescriptorHandle)
	RSSetViewports(viewport Viewport)
	RSSetScissorRects(rect Rect)

	SetPipelineState(pso PipelineState)
	SetGraphicsRootSignature(rs RootSignature)
	SetComputeRootSignature(rs RootSignature)
	SetDescriptorHeaps(heaps ...DescriptorHeap)
	SetGraphicsRootConstantBufferView(param uint32, address GPUAddress)
	SetGraphicsRootDescriptorTable(param uint32, base GPUDescriptorHandle)
	SetComputeRootDescriptorTable(param uint32, base GPUDescriptorHandle)

	IASetPrimitiveTopology(topology PrimitiveTopology)
	IASetVertexBuffers(startSlot uint32, views ...VertexBufferView)
	IASetIndexBuffer(view *IndexBufferView)
	DrawInstanced(vertexCount, instanceCount, startVertex, startInstance uint32)
	DrawIndexedInstanced(indexCount, instanceCount, startIndex uint32, baseVertex int32, startInstance uint32)

	CopyResource(dst, src Resource)
	CopyBufferRegion(dst Resource, dstOffset uint64, src Resource, srcOffset, size uint64)
	// CopyBufferToTexture copies rows of rowPitch bytes starting at
	// srcOffset into the whole of dst.
	CopyBufferToTexture(dst Resource, src Resource, srcOffset uint64, rowPitch uint32)

	BuildRaytracingAccelerationStructure(desc *BuildDesc)
	SetPipelineState1(so StateObject)
	DispatchRays(desc *DispatchRaysDesc)
}

// Presenter receives finished back buffers.
type Presenter interface {
	Present(img *image.RGBA) error
}

type SwapchainDesc struct {
	Width       uint32
	Height      uint32
	BufferCount uint32
	Format      Format
	// Presenter may be nil for offscreen rendering.
	Presenter Presenter
}

type Swapchain interface {
	CurrentBackBufferIndex() uint32
	Buffer(index uint32) (Resource, error)
	Present() error
	// ResizeBuffers requires every back buffer reference to be released
	// and all submitted work to be complete.
	ResizeBuffers(width, height uint32) error
	Release()
}
