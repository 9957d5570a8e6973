package software

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/refract/engine/core"
	"github.com/spaghettifunk/refract/engine/renderer/gpu"
)

type Swapchain struct {
	dev     *Device
	queue   *CommandQueue
	desc    gpu.SwapchainDesc
	mu      sync.Mutex
	buffers []*Resource
	current uint32
}

func (d *Device) CreateSwapchain(queue gpu.CommandQueue, desc gpu.SwapchainDesc) (gpu.Swapchain, error) {
	q, ok := queue.(*CommandQueue)
	if !ok {
		return nil, fmt.Errorf("command queue %T does not belong to the software device", queue)
	}
	if desc.BufferCount < 2 {
		return nil, fmt.Errorf("swapchain needs at least 2 buffers, got %d", desc.BufferCount)
	}
	if desc.Format == gpu.FormatUnknown {
		desc.Format = gpu.FormatRGBA8Unorm
	}
	if desc.Format != gpu.FormatRGBA8Unorm && desc.Format != gpu.FormatBGRA8Unorm {
		return nil, fmt.Errorf("swapchain format %s is not presentable", desc.Format)
	}
	sc := &Swapchain{dev: d, queue: q, desc: desc}
	if err := sc.createBuffers(desc.Width, desc.Height); err != nil {
		return nil, err
	}
	return sc, nil
}

func (s *Swapchain) createBuffers(width, height uint32) error {
	buffers := make([]*Resource, s.desc.BufferCount)
	for i := range buffers {
		res, err := s.dev.CreateCommittedResource(gpu.HeapDefault,
			gpu.Texture2DDesc(s.desc.Format, width, height, gpu.ResourceFlagAllowRenderTarget),
			gpu.ResourceStatePresent, nil)
		if err != nil {
			return fmt.Errorf("swapchain buffer %d: %w", i, err)
		}
		res.SetName(fmt.Sprintf("back buffer %d", i))
		buffers[i] = res.(*Resource)
	}
	for _, b := range s.buffers {
		b.Release()
	}
	s.buffers = buffers
	s.desc.Width, s.desc.Height = width, height
	s.current = 0
	return nil
}

func (s *Swapchain) CurrentBackBufferIndex() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Swapchain) Buffer(index uint32) (gpu.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if int(index) >= len(s.buffers) {
		return nil, fmt.Errorf("back buffer %d of %d: %w", index, len(s.buffers), core.ErrIndexOutOfRange)
	}
	return s.buffers[index], nil
}

// Present queues the current back buffer for the presenter and moves on to
// the next one.
func (s *Swapchain) Present() error {
	s.mu.Lock()
	buf := s.buffers[s.current]
	s.current = (s.current + 1) % uint32(len(s.buffers))
	s.mu.Unlock()

	presenter := s.desc.Presenter
	return s.queue.submit(func() {
		if st := buf.currentState(); st != gpu.ResourceStatePresent {
			s.dev.report("present: `%s` is in state %s", buf.Name(), st)
			return
		}
		if presenter == nil {
			return
		}
		img, err := buf.image()
		if err != nil {
			core.LogError("present: %s", err)
			return
		}
		if err := presenter.Present(img); err != nil {
			core.LogError("present: %s", err)
		}
	})
}

func (s *Swapchain) ResizeBuffers(width, height uint32) error {
	if width == 0 || height == 0 {
		return fmt.Errorf("swapchain resize to %dx%d", width, height)
	}
	s.queue.Idle()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createBuffers(width, height)
}

func (s *Swapchain) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.buffers {
		b.Release()
	}
	s.buffers = nil
}
