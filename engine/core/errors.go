package core

import (
	"errors"
)

var (
	ErrSwapchainBooting  = errors.New("swapchain resized or recreated, booting")
	ErrCapacityExhausted = errors.New("capacity exhausted")
	ErrIndexOutOfRange   = errors.New("index out of range")
	ErrNilResource       = errors.New("nil resource")
	ErrFrameInFlight     = errors.New("frame still owned by the gpu")
	ErrWaitFailed        = errors.New("fence wait failed")
	ErrDeviceRemoved     = errors.New("device removed")
	ErrUnsupported       = errors.New("unsupported")
	ErrUnknown           = errors.New("unknown")
)
