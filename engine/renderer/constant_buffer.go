package renderer

import (
	"fmt"

	"github.com/spaghettifunk/refract/engine/core"
	"github.com/spaghettifunk/refract/engine/math"
	"github.com/spaghettifunk/refract/engine/renderer/gpu"
)

const constantBufferAlignment = 256

// Encoder writes a constant buffer struct in its shader layout.
type Encoder interface {
	Encode(b []byte)
}

// ConstantBuffer is a persistently mapped upload buffer per buffered
// frame, split into 256 byte aligned slots.
type ConstantBuffer struct {
	name     string
	slotSize uint32
	slots    uint32
	guard    FrameGuard
	buffers  []gpu.Resource
	mapped   [][]byte
}

// NewConstantBuffer creates one region of slots slots of structSize bytes
// per frame. Shaders see a bound slot up to the end of its region, so
// regions are kept tight.
func NewConstantBuffer(device gpu.Device, guard FrameGuard, name string, structSize, slots, frames uint32) (*ConstantBuffer, error) {
	slotSize := math.AlignUp(structSize, constantBufferAlignment)
	size := slotSize * slots
	cb := &ConstantBuffer{
		name:     name,
		slotSize: slotSize,
		slots:    slots,
		guard:    guard,
		buffers:  make([]gpu.Resource, frames),
		mapped:   make([][]byte, frames),
	}
	for i := range cb.buffers {
		res, err := device.CreateCommittedResource(gpu.HeapUpload, gpu.BufferDesc(uint64(size), gpu.ResourceFlagNone), gpu.ResourceStateGenericRead, nil)
		if err != nil {
			cb.Release()
			err = fmt.Errorf("failed to create constant buffer `%s` for frame %d: %w", name, i, err)
			core.LogError(err.Error())
			return nil, err
		}
		res.SetName(fmt.Sprintf("%s[%d]", name, i))
		data, err := res.Map()
		if err != nil {
			res.Release()
			cb.Release()
			err = fmt.Errorf("failed to map constant buffer `%s`: %w", name, err)
			core.LogError(err.Error())
			return nil, err
		}
		cb.buffers[i] = res
		cb.mapped[i] = data
	}
	return cb, nil
}

// Set encodes c into slot of frame's region. The frame must have been
// acquired from the fence tracker.
func (cb *ConstantBuffer) Set(frame, slot uint32, c Encoder) error {
	if int(frame) >= len(cb.buffers) || slot >= cb.slots {
		return fmt.Errorf("constant buffer `%s` slot %d of frame %d: %w", cb.name, slot, frame, core.ErrIndexOutOfRange)
	}
	if cb.guard != nil && !cb.guard.Writable(frame) {
		return fmt.Errorf("constant buffer `%s` frame %d: %w", cb.name, frame, core.ErrFrameInFlight)
	}
	off := slot * cb.slotSize
	region := cb.mapped[frame][off : off+cb.slotSize]
	clear(region)
	c.Encode(region)
	return nil
}

// Address returns the GPU address of a slot.
func (cb *ConstantBuffer) Address(frame, slot uint32) gpu.GPUAddress {
	return cb.buffers[frame].GPUVirtualAddress() + gpu.GPUAddress(slot*cb.slotSize)
}

func (cb *ConstantBuffer) SlotSize() uint32 {
	return cb.slotSize
}

func (cb *ConstantBuffer) Slots() uint32 {
	return cb.slots
}

func (cb *ConstantBuffer) Release() {
	for i, res := range cb.buffers {
		if res == nil {
			continue
		}
		res.Unmap()
		res.Release()
		cb.buffers[i] = nil
		cb.mapped[i] = nil
	}
}
