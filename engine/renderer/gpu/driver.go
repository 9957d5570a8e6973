// Package gpu defines the explicit graphics device model the renderer is
// written against: committed resources, descriptor heaps, command lists,
// fences, swapchains and a ray-tracing pipeline.
package gpu

import (
	"errors"
	"fmt"
	"sync"

	"github.com/spaghettifunk/refract/engine/core"
)

// Driver loads and unloads a device implementation.
type Driver interface {
	// Open initializes the driver and returns its device. Further calls
	// return the same device until Close.
	Open() (Device, error)

	// Name returns the name of the driver. It must not open the driver.
	Name() string

	// Close releases the device. Closing a driver that is not open has
	// no effect.
	Close()
}

// ErrNotInstalled means that a platform library required by the driver is
// not present in the system.
var ErrNotInstalled = errors.New("gpu: missing required library")

// ErrNoDevice means that no suitable device could be found.
var ErrNoDevice = errors.New("gpu: no suitable device found")

// ErrNoDeviceMemory means that device memory could not be allocated.
var ErrNoDeviceMemory = errors.New("gpu: out of device memory")

// ErrFatal means that the device is in an unrecoverable state (removed).
var ErrFatal = errors.New("gpu: fatal error")

var (
	mu      sync.Mutex
	drivers = make([]Driver, 0, 1)
)

// Register registers a Driver. Implementations call it once from init. A
// driver with the same name is replaced.
func Register(drv Driver) {
	mu.Lock()
	defer mu.Unlock()
	for i := range drivers {
		if drivers[i].Name() == drv.Name() {
			drivers[i] = drv
			core.LogWarn("gpu driver '%s' replaced", drv.Name())
			return
		}
	}
	drivers = append(drivers, drv)
}

// Drivers returns the registered drivers.
func Drivers() []Driver {
	mu.Lock()
	defer mu.Unlock()
	drv := make([]Driver, len(drivers))
	copy(drv, drivers)
	return drv
}

// Open opens the registered driver called name.
func Open(name string) (Driver, Device, error) {
	for _, drv := range Drivers() {
		if drv.Name() != name {
			continue
		}
		dev, err := drv.Open()
		if err != nil {
			return nil, nil, err
		}
		return drv, dev, nil
	}
	return nil, nil, fmt.Errorf("gpu driver `%s`: %w", name, ErrNotInstalled)
}
