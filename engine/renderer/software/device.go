// Package software is a CPU implementation of the gpu device model. It
// executes submitted command lists on a queue goroutine, tracks resource
// states like a debug layer would and rasterises and ray traces with Go
// shader programs registered by entry point name.
package software

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/spaghettifunk/refract/engine/core"
	"github.com/spaghettifunk/refract/engine/renderer/gpu"
)

const DriverName = "software"

func init() {
	gpu.Register(&Driver{})
}

// Driver opens a process wide software Device.
type Driver struct {
	dev *Device
}

func (d *Driver) Open() (gpu.Device, error) {
	if d.dev == nil {
		d.dev = New()
	}
	return d.dev, nil
}

func (d *Driver) Name() string {
	return DriverName
}

func (d *Driver) Close() {
	if d.dev != nil {
		d.dev.Release()
		d.dev = nil
	}
}

const (
	tagMask    uint64 = 0xf << 60
	tagBuffer  uint64 = 0x1 << 60
	tagCPUHeap uint64 = 0x2 << 60
	tagGPUHeap uint64 = 0x3 << 60
	idMask     uint64 = 0x0fffffff
	offsetMask uint64 = 0xffffffff
)

const (
	idShift     = 32
	maxResource = 1<<28 - 1
)

func encodeAddress(tag uint64, id uint32, offset uint64) uint64 {
	return tag | uint64(id)<<idShift | offset
}

func decodeAddress(v uint64) (tag uint64, id uint32, offset uint64) {
	return v & tagMask, uint32((v >> idShift) & idMask), v & offsetMask
}

type Device struct {
	mu        sync.RWMutex
	nextID    uint32
	resources map[uint32]*Resource
	heaps     map[uint32]*DescriptorHeap

	accelMu sync.RWMutex
	accel   map[gpu.GPUAddress]*accelStructure

	idMu      sync.RWMutex
	shaderIDs map[[gpu.ShaderIdentifierSize]byte]shaderRef

	validationMu sync.Mutex
	validation   []string
	removed      atomic.Bool
}

func New() *Device {
	return &Device{
		resources: make(map[uint32]*Resource),
		heaps:     make(map[uint32]*DescriptorHeap),
		accel:     make(map[gpu.GPUAddress]*accelStructure),
		shaderIDs: make(map[[gpu.ShaderIdentifierSize]byte]shaderRef),
	}
}

func (d *Device) Features() gpu.Features {
	return gpu.Features{Raytracing: true}
}

func (d *Device) allocID() (uint32, error) {
	d.nextID++
	if d.nextID > maxResource {
		return 0, gpu.ErrNoDeviceMemory
	}
	return d.nextID, nil
}

// report records a validation message the way a debug layer would.
func (d *Device) report(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	core.LogError("[gpu validation] %s", msg)
	d.validationMu.Lock()
	d.validation = append(d.validation, msg)
	d.validationMu.Unlock()
}

// fault reports a message and marks the device removed.
func (d *Device) fault(format string, args ...interface{}) {
	d.report(format, args...)
	d.removed.Store(true)
}

// ValidationErrors returns the messages reported since the last reset.
func (d *Device) ValidationErrors() []string {
	d.validationMu.Lock()
	defer d.validationMu.Unlock()
	return append([]string(nil), d.validation...)
}

func (d *Device) ResetValidation() {
	d.validationMu.Lock()
	d.validation = nil
	d.validationMu.Unlock()
}

// Removed reports whether a fault put the device in an unusable state.
func (d *Device) Removed() bool {
	return d.removed.Load()
}

func (d *Device) resource(id uint32) *Resource {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.resources[id]
}

// resolve maps a buffer address to its resource and offset.
func (d *Device) resolve(addr gpu.GPUAddress) (*Resource, uint64, error) {
	tag, id, offset := decodeAddress(uint64(addr))
	if tag != tagBuffer {
		return nil, 0, fmt.Errorf("address 0x%x is not a buffer address", uint64(addr))
	}
	res := d.resource(id)
	if res == nil {
		return nil, 0, fmt.Errorf("address 0x%x refers to a released or unknown buffer", uint64(addr))
	}
	if offset >= uint64(len(res.data)) {
		return nil, 0, fmt.Errorf("address 0x%x is past the end of `%s` (%d bytes)", uint64(addr), res.Name(), len(res.data))
	}
	return res, offset, nil
}

// bytesAt returns the buffer memory from addr to the end of its resource.
func (d *Device) bytesAt(addr gpu.GPUAddress) ([]byte, *Resource, error) {
	res, offset, err := d.resolve(addr)
	if err != nil {
		return nil, nil, err
	}
	return res.data[offset:], res, nil
}

func (d *Device) Release() {
	d.mu.Lock()
	d.resources = make(map[uint32]*Resource)
	d.heaps = make(map[uint32]*DescriptorHeap)
	d.mu.Unlock()
	d.accelMu.Lock()
	d.accel = make(map[gpu.GPUAddress]*accelStructure)
	d.accelMu.Unlock()
}
