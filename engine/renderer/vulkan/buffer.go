package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/refract/engine/core"
)

// VulkanBuffer is a host visible, coherent buffer that stays mapped for its
// whole life.
type VulkanBuffer struct {
	Handle vk.Buffer
	Memory vk.DeviceMemory
	Size   uint64
	mapped unsafe.Pointer
}

func NewStagingBuffer(context *VulkanContext, size uint64) (*VulkanBuffer, error) {
	b := &VulkanBuffer{Size: size}
	device := context.Device.LogicalDevice

	if res := vk.CreateBuffer(device, &vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit),
		SharingMode: vk.SharingModeExclusive,
	}, context.Allocator, &b.Handle); res != vk.Success {
		err := fmt.Errorf("failed to create staging buffer of %d bytes: %w", size, resultError(res))
		core.LogError(err.Error())
		return nil, err
	}

	var requirements vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(device, b.Handle, &requirements)
	requirements.Deref()

	index := context.FindMemoryIndex(requirements.MemoryTypeBits,
		uint32(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit))
	if index < 0 {
		b.Destroy(context)
		return nil, fmt.Errorf("no host visible memory for the staging buffer: %w", core.ErrUnsupported)
	}
	if res := vk.AllocateMemory(device, &vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  requirements.Size,
		MemoryTypeIndex: uint32(index),
	}, context.Allocator, &b.Memory); res != vk.Success {
		b.Destroy(context)
		err := fmt.Errorf("failed to allocate staging memory: %w", resultError(res))
		core.LogError(err.Error())
		return nil, err
	}
	vk.BindBufferMemory(device, b.Handle, b.Memory, 0)

	if res := vk.MapMemory(device, b.Memory, 0, vk.DeviceSize(size), 0, &b.mapped); res != vk.Success {
		b.Destroy(context)
		return nil, fmt.Errorf("failed to map staging memory: %w", resultError(res))
	}
	return b, nil
}

// Bytes is the mapped memory of the buffer.
func (b *VulkanBuffer) Bytes() []byte {
	return unsafe.Slice((*byte)(b.mapped), b.Size)
}

func (b *VulkanBuffer) Destroy(context *VulkanContext) {
	device := context.Device.LogicalDevice
	if b.mapped != nil {
		vk.UnmapMemory(device, b.Memory)
		b.mapped = nil
	}
	if b.Handle != vk.NullBuffer {
		vk.DestroyBuffer(device, b.Handle, context.Allocator)
		b.Handle = vk.NullBuffer
	}
	if b.Memory != vk.NullDeviceMemory {
		vk.FreeMemory(device, b.Memory, context.Allocator)
		b.Memory = vk.NullDeviceMemory
	}
}
