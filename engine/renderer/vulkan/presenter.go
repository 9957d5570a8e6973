package vulkan

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/refract/engine/core"
)

// Presenter puts finished frames on a glfw window. Each frame is written to
// a host visible staging buffer and copied into the acquired swapchain
// image, so no pipeline is involved.
//
// New must be called on the main thread. Present may be called from any
// goroutine and makes no glfw calls.
type Presenter struct {
	mu      sync.Mutex
	context *VulkanContext
	closed  bool
}

// New creates the instance, surface, device and swapchain for window.
func New(window *glfw.Window, appName string, debug bool) (*Presenter, error) {
	if window == nil {
		return nil, fmt.Errorf("presenter needs a window: %w", core.ErrNilResource)
	}
	width, height := window.GetFramebufferSize()
	p := &Presenter{
		context: &VulkanContext{
			FramebufferWidth:  uint32(width),
			FramebufferHeight: uint32(height),
			Allocator:         nil,
		},
	}
	if err := p.create(window, appName, debug); err != nil {
		p.destroy()
		return nil, err
	}
	return p, nil
}

func (p *Presenter) create(window *glfw.Window, appName string, debug bool) error {
	c := p.context
	if err := InstanceCreate(c, window, appName, debug); err != nil {
		return err
	}
	core.LogDebug("Creating Vulkan surface...")
	if err := SurfaceCreate(c, window); err != nil {
		return err
	}
	if err := DeviceCreate(c); err != nil {
		return err
	}

	if err := p.recreateSwapchain(c.FramebufferWidth, c.FramebufferHeight); err != nil && !errors.Is(err, core.ErrSwapchainBooting) {
		return err
	}

	semaphoreCreateInfo := &vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}
	c.CommandBuffers = make([]*VulkanCommandBuffer, MaxFramesInFlight)
	c.ImageAvailableSemaphores = make([]vk.Semaphore, MaxFramesInFlight)
	c.QueueCompleteSemaphores = make([]vk.Semaphore, MaxFramesInFlight)
	c.InFlightFences = make([]*VulkanFence, MaxFramesInFlight)
	c.Staging = make([]*VulkanBuffer, MaxFramesInFlight)
	for i := 0; i < MaxFramesInFlight; i++ {
		cb, err := NewVulkanCommandBuffer(c, c.Device.GraphicsCommandPool)
		if err != nil {
			return err
		}
		c.CommandBuffers[i] = cb

		if res := vk.CreateSemaphore(c.Device.LogicalDevice, semaphoreCreateInfo, c.Allocator, &c.ImageAvailableSemaphores[i]); res != vk.Success {
			return fmt.Errorf("failed to create semaphore: %w", resultError(res))
		}
		if res := vk.CreateSemaphore(c.Device.LogicalDevice, semaphoreCreateInfo, c.Allocator, &c.QueueCompleteSemaphores[i]); res != vk.Success {
			return fmt.Errorf("failed to create semaphore: %w", resultError(res))
		}

		// Create the fence in a signaled state, indicating that the first frame has already been "rendered".
		// This will prevent the application from waiting indefinitely for the first frame to render since it
		// cannot be rendered until a frame is "rendered" before it.
		fence, err := NewFence(c, true)
		if err != nil {
			return err
		}
		c.InFlightFences[i] = fence
	}
	core.LogInfo("Vulkan presenter ready on %s.", c.Device.Name)
	return nil
}

// recreateSwapchain replaces the swapchain with one matching the surface.
// A surface without area leaves the presenter without a swapchain and
// reports core.ErrSwapchainBooting.
func (p *Presenter) recreateSwapchain(width, height uint32) error {
	c := p.context
	c.RecreatingSwapchain = true
	vk.DeviceWaitIdle(c.Device.LogicalDevice)

	sc, err := SwapchainCreate(c, width, height, c.Swapchain)
	if err != nil {
		if c.Swapchain != nil && c.Swapchain.Handle == vk.NullSwapchain {
			c.Swapchain = nil
		}
		return err
	}
	c.Swapchain = sc
	c.ImagesInFlight = make([]*VulkanFence, sc.ImageCount)
	c.FramebufferWidth = sc.Extent.Width
	c.FramebufferHeight = sc.Extent.Height
	c.ImageIndex = 0
	c.RecreatingSwapchain = false
	return nil
}

// Present copies img to the next swapchain image and queues it for display.
// Frames that arrive while the window is minimised or the swapchain is out
// of date are dropped.
func (p *Presenter) Present(img *image.RGBA) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("presenter is released: %w", core.ErrNilResource)
	}
	if img == nil {
		return fmt.Errorf("nothing to present: %w", core.ErrNilResource)
	}
	c := p.context

	if c.Swapchain == nil || c.RecreatingSwapchain {
		err := p.recreateSwapchain(uint32(img.Rect.Dx()), uint32(img.Rect.Dy()))
		if errors.Is(err, core.ErrSwapchainBooting) {
			return nil
		}
		if err != nil {
			return err
		}
	}

	frame := c.CurrentFrame
	fence := c.InFlightFences[frame]
	if err := fence.Wait(c, vk.MaxUint64); err != nil {
		core.LogError(err.Error())
		return err
	}

	index, err := c.Swapchain.AcquireNextImageIndex(c, vk.MaxUint64, c.ImageAvailableSemaphores[frame])
	if errors.Is(err, core.ErrSwapchainBooting) {
		c.RecreatingSwapchain = true
		return nil
	}
	if err != nil {
		core.LogError(err.Error())
		return err
	}
	c.ImageIndex = index

	// An earlier frame may still be copying into this image.
	if prev := c.ImagesInFlight[index]; prev != nil && prev != fence {
		if err := prev.Wait(c, vk.MaxUint64); err != nil {
			return err
		}
	}
	c.ImagesInFlight[index] = fence

	width := min(uint32(img.Rect.Dx()), c.Swapchain.Extent.Width)
	height := min(uint32(img.Rect.Dy()), c.Swapchain.Extent.Height)
	staging, err := p.stagingFor(frame, uint64(width)*uint64(height)*4)
	if err != nil {
		return err
	}
	writePixels(staging.Bytes(), img, int(width), int(height), c.Swapchain.SwapsRedBlue())

	cb := c.CommandBuffers[frame]
	if err := p.record(cb, staging, c.Swapchain.Images[index], width, height); err != nil {
		return err
	}

	if err := fence.Reset(c); err != nil {
		return err
	}
	submitInfo := []vk.SubmitInfo{{
		SType:                vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount:   1,
		PWaitSemaphores:      []vk.Semaphore{c.ImageAvailableSemaphores[frame]},
		PWaitDstStageMask:    []vk.PipelineStageFlags{vk.PipelineStageFlags(vk.PipelineStageTransferBit)},
		CommandBufferCount:   1,
		PCommandBuffers:      []vk.CommandBuffer{cb.Handle},
		SignalSemaphoreCount: 1,
		PSignalSemaphores:    []vk.Semaphore{c.QueueCompleteSemaphores[frame]},
	}}
	if res := vk.QueueSubmit(c.Device.GraphicsQueue, 1, submitInfo, fence.Handle); res != vk.Success {
		if res == vk.ErrorDeviceLost {
			return fmt.Errorf("queue submit: %w", core.ErrDeviceRemoved)
		}
		err := fmt.Errorf("vkQueueSubmit failed with result: %w", resultError(res))
		core.LogError(err.Error())
		return err
	}
	cb.UpdateSubmitted()

	err = c.Swapchain.Present(c.Device.PresentQueue, c.QueueCompleteSemaphores[frame], index)
	c.CurrentFrame = (c.CurrentFrame + 1) % MaxFramesInFlight
	if errors.Is(err, core.ErrSwapchainBooting) {
		c.RecreatingSwapchain = true
		return nil
	}
	return err
}

func (p *Presenter) record(cb *VulkanCommandBuffer, staging *VulkanBuffer, target vk.Image, width, height uint32) error {
	if err := cb.Reset(); err != nil {
		return err
	}
	if err := cb.Begin(true); err != nil {
		return err
	}
	// The previous contents are overwritten, so the old layout is irrelevant.
	cb.TransitionImage(target,
		vk.ImageLayoutUndefined, vk.ImageLayoutTransferDstOptimal,
		0, vk.AccessTransferWriteBit,
		vk.PipelineStageTopOfPipeBit, vk.PipelineStageTransferBit)
	cb.CopyBufferToImage(staging.Handle, width, target, width, height)
	cb.TransitionImage(target,
		vk.ImageLayoutTransferDstOptimal, vk.ImageLayoutPresentSrc,
		vk.AccessTransferWriteBit, 0,
		vk.PipelineStageTransferBit, vk.PipelineStageBottomOfPipeBit)
	return cb.End()
}

// stagingFor returns the staging buffer of frame, growing it to hold size
// bytes. The frame's fence has been waited, so the old buffer is idle.
func (p *Presenter) stagingFor(frame uint32, size uint64) (*VulkanBuffer, error) {
	c := p.context
	if b := c.Staging[frame]; b != nil && b.Size >= size {
		return b, nil
	}
	if b := c.Staging[frame]; b != nil {
		b.Destroy(c)
		c.Staging[frame] = nil
	}
	b, err := NewStagingBuffer(c, size)
	if err != nil {
		return nil, err
	}
	c.Staging[frame] = b
	return b, nil
}

// writePixels packs the top left width x height pixels of img into dst,
// swapping red and blue for BGRA targets.
func writePixels(dst []byte, img *image.RGBA, width, height int, swapRedBlue bool) {
	rowBytes := width * 4
	for y := 0; y < height; y++ {
		start := img.PixOffset(img.Rect.Min.X, img.Rect.Min.Y+y)
		src := img.Pix[start : start+rowBytes]
		row := dst[y*rowBytes : (y+1)*rowBytes]
		if !swapRedBlue {
			copy(row, src)
			continue
		}
		for x := 0; x < rowBytes; x += 4 {
			row[x] = src[x+2]
			row[x+1] = src[x+1]
			row[x+2] = src[x]
			row[x+3] = src[x+3]
		}
	}
}

// Release waits for the device and destroys everything New created. It is
// safe to call more than once.
func (p *Presenter) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.destroy()
	core.LogInfo("Vulkan presenter released.")
}

func (p *Presenter) destroy() {
	c := p.context
	if c.Device != nil && c.Device.LogicalDevice != nil {
		vk.DeviceWaitIdle(c.Device.LogicalDevice)

		for _, b := range c.Staging {
			if b != nil {
				b.Destroy(c)
			}
		}
		c.Staging = nil
		for i := range c.ImageAvailableSemaphores {
			if c.ImageAvailableSemaphores[i] != vk.NullSemaphore {
				vk.DestroySemaphore(c.Device.LogicalDevice, c.ImageAvailableSemaphores[i], c.Allocator)
			}
			if c.QueueCompleteSemaphores[i] != vk.NullSemaphore {
				vk.DestroySemaphore(c.Device.LogicalDevice, c.QueueCompleteSemaphores[i], c.Allocator)
			}
		}
		c.ImageAvailableSemaphores = nil
		c.QueueCompleteSemaphores = nil
		for _, f := range c.InFlightFences {
			if f != nil {
				f.Destroy(c)
			}
		}
		c.InFlightFences = nil
		c.ImagesInFlight = nil
		for _, cb := range c.CommandBuffers {
			if cb != nil {
				cb.Free(c, c.Device.GraphicsCommandPool)
			}
		}
		c.CommandBuffers = nil

		if c.Swapchain != nil {
			c.Swapchain.Destroy(c)
			c.Swapchain = nil
		}
		DeviceDestroy(c)
	}
	InstanceDestroy(c)
}
