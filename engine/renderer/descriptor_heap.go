package renderer

import (
	"fmt"

	"github.com/spaghettifunk/refract/engine/core"
	"github.com/spaghettifunk/refract/engine/renderer/gpu"
)

// DescriptorAllocator hands out the slots of one descriptor heap in order.
// Slots are never returned; the heap is released as a whole.
type DescriptorAllocator struct {
	name      string
	heap      gpu.DescriptorHeap
	stride    uint32
	capacity  uint32
	allocated uint32
}

func NewDescriptorAllocator(device gpu.Device, name string, desc gpu.DescriptorHeapDesc) (*DescriptorAllocator, error) {
	heap, err := device.CreateDescriptorHeap(desc)
	if err != nil {
		err = fmt.Errorf("failed to create descriptor heap `%s`: %w", name, err)
		core.LogError(err.Error())
		return nil, err
	}
	return &DescriptorAllocator{
		name:     name,
		heap:     heap,
		stride:   device.DescriptorHandleIncrementSize(desc.Kind),
		capacity: desc.NumDescriptors,
	}, nil
}

// Allocate returns the next free slot.
func (a *DescriptorAllocator) Allocate() (uint32, error) {
	return a.AllocateRange(1)
}

// AllocateRange reserves count consecutive slots and returns the first.
func (a *DescriptorAllocator) AllocateRange(count uint32) (uint32, error) {
	if count == 0 || a.allocated+count > a.capacity {
		err := fmt.Errorf("descriptor heap `%s` (%d of %d used) cannot hold %d more: %w", a.name, a.allocated, a.capacity, count, core.ErrCapacityExhausted)
		core.LogError(err.Error())
		return 0, err
	}
	first := a.allocated
	a.allocated += count
	return first, nil
}

func (a *DescriptorAllocator) CPUHandle(index uint32) (gpu.CPUDescriptorHandle, error) {
	if index >= a.capacity {
		return 0, fmt.Errorf("descriptor %d of heap `%s` (capacity %d): %w", index, a.name, a.capacity, core.ErrIndexOutOfRange)
	}
	return a.heap.CPUDescriptorHandleForHeapStart().Offset(index, a.stride), nil
}

func (a *DescriptorAllocator) GPUHandle(index uint32) (gpu.GPUDescriptorHandle, error) {
	if index >= a.capacity {
		return 0, fmt.Errorf("descriptor %d of heap `%s` (capacity %d): %w", index, a.name, a.capacity, core.ErrIndexOutOfRange)
	}
	if !a.heap.Desc().ShaderVisible {
		return 0, fmt.Errorf("heap `%s` is not shader visible: %w", a.name, core.ErrUnsupported)
	}
	return a.heap.GPUDescriptorHandleForHeapStart().Offset(index, a.stride), nil
}

func (a *DescriptorAllocator) Heap() gpu.DescriptorHeap {
	return a.heap
}

func (a *DescriptorAllocator) Capacity() uint32 {
	return a.capacity
}

func (a *DescriptorAllocator) Allocated() uint32 {
	return a.allocated
}

func (a *DescriptorAllocator) Release() {
	if a.heap != nil {
		a.heap.Release()
		a.heap = nil
	}
	a.allocated = 0
}
