// Package renderer drives a frame through the gpu device model: buffered
// frame synchronisation, pass targets, the deferred raster pipeline with
// its post chain, and the ray tracing pipeline.
package renderer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/spaghettifunk/refract/engine/core"
	"github.com/spaghettifunk/refract/engine/renderer/gpu"
	"github.com/spaghettifunk/refract/engine/renderer/shaders"
)

type options struct {
	device    gpu.Device
	presenter gpu.Presenter
}

type Option func(*options)

// WithDevice renders on device instead of opening the configured driver.
func WithDevice(device gpu.Device) Option {
	return func(o *options) { o.device = device }
}

// WithPresenter hands every presented back buffer to p.
func WithPresenter(p gpu.Presenter) Option {
	return func(o *options) { o.presenter = p }
}

// Renderer owns everything the backends share: the device, queue and
// swapchain, the buffered frame fences and command allocators, the
// constant buffers and the upload path.
type Renderer struct {
	cfg       core.RendererConfig
	driver    gpu.Driver
	device    gpu.Device
	queue     gpu.CommandQueue
	swapchain gpu.Swapchain
	fences    *FrameFences

	allocators []gpu.CommandAllocator
	list       gpu.CommandList
	recording  bool
	uploads    *uploader

	objects   *ConstantBuffer
	materials *ConstantBuffer
	lights    *ConstantBuffer
	post      *ConstantBuffer
	camera    *ConstantBuffer

	screenQuad *Geometry
	blank      *Texture
	targets    []*PassTarget

	width     uint32
	height    uint32
	suspended bool
}

func New(ctx context.Context, cfg *core.Config, opts ...Option) (*Renderer, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	r := &Renderer{
		cfg:    cfg.Renderer,
		width:  cfg.Window.Width,
		height: cfg.Window.Height,
	}
	if err := r.init(ctx, o); err != nil {
		r.Release()
		return nil, err
	}
	core.LogInfo("renderer initialized: %dx%d, %d buffered frames", r.width, r.height, r.cfg.FrameBufferCount)
	return r, nil
}

func (r *Renderer) init(ctx context.Context, o options) error {
	frames := r.cfg.FrameBufferCount
	if o.device != nil {
		r.device = o.device
	} else {
		drv, dev, err := gpu.Open(r.cfg.Driver)
		if err != nil {
			err = fmt.Errorf("failed to open gpu driver: %w", err)
			core.LogError(err.Error())
			return err
		}
		r.driver, r.device = drv, dev
	}

	var err error
	if r.queue, err = r.device.CreateCommandQueue(); err != nil {
		err = fmt.Errorf("failed to create command queue: %w", err)
		core.LogError(err.Error())
		return err
	}
	r.swapchain, err = r.device.CreateSwapchain(r.queue, gpu.SwapchainDesc{
		Width:       r.width,
		Height:      r.height,
		BufferCount: frames,
		Format:      gpu.FormatRGBA8Unorm,
		Presenter:   o.presenter,
	})
	if err != nil {
		err = fmt.Errorf("failed to create swapchain: %w", err)
		core.LogError(err.Error())
		return err
	}
	if r.fences, err = NewFrameFences(r.device, r.queue, r.swapchain, frames); err != nil {
		return err
	}
	r.allocators = make([]gpu.CommandAllocator, frames)
	for i := range r.allocators {
		if r.allocators[i], err = r.device.CreateCommandAllocator(); err != nil {
			err = fmt.Errorf("failed to create command allocator %d: %w", i, err)
			core.LogError(err.Error())
			return err
		}
	}
	if r.list, err = r.device.CreateCommandList(r.allocators[0]); err != nil {
		err = fmt.Errorf("failed to create command list: %w", err)
		core.LogError(err.Error())
		return err
	}
	if err = r.list.Close(); err != nil {
		return fmt.Errorf("failed to close command list: %w", err)
	}
	if r.uploads, err = newUploader(r.device); err != nil {
		core.LogError(err.Error())
		return err
	}

	sets := r.cfg.MaxTextureSets
	if r.objects, err = NewConstantBuffer(r.device, r.fences, "object constants", shaders.ObjectConstantsSize, sets, frames); err != nil {
		return err
	}
	if r.materials, err = NewConstantBuffer(r.device, r.fences, "material constants", shaders.MaterialConstantsSize, sets, frames); err != nil {
		return err
	}
	lightsSize := uint32(shaders.LightsConstantsSize(int(r.cfg.MaxLights)))
	if r.lights, err = NewConstantBuffer(r.device, r.fences, "light constants", lightsSize, 1, frames); err != nil {
		return err
	}
	if r.post, err = NewConstantBuffer(r.device, r.fences, "post constants", shaders.PostConstantsSize, 1, frames); err != nil {
		return err
	}
	if r.camera, err = NewConstantBuffer(r.device, r.fences, "camera constants", shaders.CameraConstantsSize, 1, frames); err != nil {
		return err
	}

	if r.screenQuad, err = r.createScreenQuad(ctx); err != nil {
		return err
	}
	white := image.NewRGBA(image.Rect(0, 0, 1, 1))
	white.SetRGBA(0, 0, color.RGBA{R: 255, G: 255, B: 255, A: 255})
	if r.blank, err = r.CreateTexture(ctx, "blank", white); err != nil {
		return err
	}
	return nil
}

func (r *Renderer) Device() gpu.Device {
	return r.device
}

func (r *Renderer) Size() (uint32, uint32) {
	return r.width, r.height
}

func (r *Renderer) MaxObjects() uint32 {
	return r.cfg.MaxTextureSets
}

func (r *Renderer) Frames() uint32 {
	return r.cfg.FrameBufferCount
}

// WaitForPreviousFrame acquires the next buffered frame.
func (r *Renderer) WaitForPreviousFrame(ctx context.Context) (uint32, error) {
	return r.fences.WaitForPreviousFrame(ctx)
}

func (r *Renderer) SetObjectConstantBuffer(frame, slot uint32, c *shaders.ObjectConstants) error {
	return r.objects.Set(frame, slot, c)
}

func (r *Renderer) SetMaterialConstantBuffer(frame, slot uint32, c *shaders.MaterialConstants) error {
	return r.materials.Set(frame, slot, c)
}

func (r *Renderer) SetLightsConstantBuffer(frame uint32, c *shaders.LightsConstants) error {
	return r.lights.Set(frame, 0, c)
}

func (r *Renderer) SetPostConstantBuffer(frame uint32, c *shaders.PostConstants) error {
	return r.post.Set(frame, 0, c)
}

func (r *Renderer) SetCameraConstantBuffer(frame uint32, c *shaders.CameraConstants) error {
	return r.camera.Set(frame, 0, c)
}

// createTarget creates a pass target sized to the swapchain that follows
// every resize.
func (r *Renderer) createTarget(desc PassTargetDesc) (*PassTarget, error) {
	desc.ClearColour = r.cfg.ClearColour
	t, err := NewPassTarget(r.device, desc, r.width, r.height, r.cfg.FrameBufferCount)
	if err != nil {
		return nil, err
	}
	r.targets = append(r.targets, t)
	return t, nil
}

func (r *Renderer) releaseTarget(t *PassTarget) {
	if t == nil {
		return
	}
	for i, other := range r.targets {
		if other == t {
			r.targets = append(r.targets[:i], r.targets[i+1:]...)
			break
		}
	}
	t.Release()
}

// Resize recreates the swapchain buffers and every pass target. A zero
// size suspends rendering until the next non zero resize.
func (r *Renderer) Resize(ctx context.Context, width, height uint32) error {
	if width == 0 || height == 0 {
		r.suspended = true
		return nil
	}
	r.suspended = false
	if width == r.width && height == r.height {
		return nil
	}
	if err := r.fences.Flush(ctx); err != nil {
		return err
	}
	if err := r.swapchain.ResizeBuffers(width, height); err != nil {
		err = fmt.Errorf("failed to resize swapchain to %dx%d: %w", width, height, err)
		core.LogError(err.Error())
		return err
	}
	r.width, r.height = width, height
	for _, t := range r.targets {
		if err := t.Resize(width, height); err != nil {
			return err
		}
	}
	core.LogDebug("renderer resized to %dx%d", width, height)
	return nil
}

// Idle blocks until every submitted frame has completed. Queues that can
// drain, like the software one, also finish the presents queued after the
// last fence signal.
func (r *Renderer) Idle(ctx context.Context) error {
	if err := r.fences.Flush(ctx); err != nil {
		return err
	}
	r.drainQueue()
	r.fences.Collect()
	return nil
}

// Retire defers release until no frame recorded so far can still read
// the resources it frees. Scenes route geometry and texture releases
// through it.
func (r *Renderer) Retire(release func()) {
	if r.fences == nil {
		release()
		return
	}
	r.fences.Retire(release)
}

func (r *Renderer) drainQueue() {
	if q, ok := r.queue.(interface{ Idle() }); ok {
		q.Idle()
	}
}

// renderFrame is the frame flow both backends share: acquire, let the
// scene write its constants, record, copy the final colour buffer into
// the back buffer, submit, signal and present.
func (r *Renderer) renderFrame(ctx context.Context, scene Scene, rec frameRecorder) error {
	if r.suspended {
		return nil
	}
	frame, err := r.fences.WaitForPreviousFrame(ctx)
	if err != nil {
		return err
	}
	r.fences.Collect()
	if err := r.recordFrame(ctx, scene, rec, frame); err != nil {
		core.LogWarn("frame %d abandoned: %s", frame, err)
		if r.recording {
			// a list left recording cannot be reset next frame
			_ = r.list.Close()
			r.recording = false
		}
		if serr := r.fences.Signal(); serr != nil {
			return serr
		}
		return err
	}

	if err := r.queue.ExecuteCommandLists(r.list); err != nil {
		if errors.Is(err, gpu.ErrFatal) {
			err = fmt.Errorf("%w: %w", core.ErrDeviceRemoved, err)
		}
		err = fmt.Errorf("failed to submit frame %d: %w", frame, err)
		core.LogError(err.Error())
		_ = r.fences.Signal()
		return err
	}
	if err := r.fences.Signal(); err != nil {
		return err
	}
	if err := r.swapchain.Present(); err != nil {
		err = fmt.Errorf("failed to present frame %d: %w", frame, err)
		core.LogError(err.Error())
		return err
	}
	return nil
}

// recordFrame leaves r.list closed on success.
func (r *Renderer) recordFrame(ctx context.Context, scene Scene, rec frameRecorder, frame uint32) error {
	if err := scene.SetupForRender(rec, frame); err != nil {
		return fmt.Errorf("scene setup: %w", err)
	}
	drawables := scene.Drawables()
	if err := rec.prepare(ctx, frame, drawables); err != nil {
		return err
	}
	if err := r.allocators[frame].Reset(); err != nil {
		return fmt.Errorf("failed to reset command allocator %d: %w", frame, err)
	}
	if err := r.list.Reset(r.allocators[frame], nil); err != nil {
		return fmt.Errorf("failed to reset command list: %w", err)
	}
	r.recording = true
	list := r.list
	list.RSSetViewports(gpu.Viewport{Width: float32(r.width), Height: float32(r.height), MaxDepth: 1})
	list.RSSetScissorRects(gpu.Rect{Right: int32(r.width), Bottom: int32(r.height)})

	final, err := rec.record(list, frame, drawables)
	if err != nil {
		return err
	}
	backBuffer, err := r.swapchain.Buffer(frame)
	if err != nil {
		return err
	}
	list.ResourceBarrier(
		gpu.TransitionBarrier(final, gpu.ResourceStateRenderTarget, gpu.ResourceStateCopySource),
		gpu.TransitionBarrier(backBuffer, gpu.ResourceStatePresent, gpu.ResourceStateCopyDest),
	)
	list.CopyResource(backBuffer, final)
	list.ResourceBarrier(
		gpu.TransitionBarrier(final, gpu.ResourceStateCopySource, gpu.ResourceStateRenderTarget),
		gpu.TransitionBarrier(backBuffer, gpu.ResourceStateCopyDest, gpu.ResourceStatePresent),
	)
	r.recording = false
	return list.Close()
}

func (r *Renderer) drawScreenQuad(list gpu.CommandList) {
	list.IASetPrimitiveTopology(gpu.PrimitiveTopologyTriangleStrip)
	list.IASetVertexBuffers(0, r.screenQuad.VertexBufferView())
	list.DrawInstanced(4, 1, 0, 0)
}

// Release waits for the GPU and frees everything the renderer owns.
// Backends must be released first.
func (r *Renderer) Release() {
	if r.fences != nil {
		_ = r.fences.Flush(context.Background())
	}
	if r.queue != nil {
		r.drainQueue()
	}
	for _, t := range r.targets {
		t.Release()
	}
	r.targets = nil
	for _, g := range []*Geometry{r.screenQuad} {
		if g != nil {
			g.Release()
		}
	}
	if r.blank != nil {
		r.blank.Release()
	}
	for _, cb := range []*ConstantBuffer{r.objects, r.materials, r.lights, r.post, r.camera} {
		if cb != nil {
			cb.Release()
		}
	}
	if r.uploads != nil {
		r.uploads.release()
	}
	for _, a := range r.allocators {
		if a != nil {
			a.Release()
		}
	}
	if r.fences != nil {
		r.fences.Release()
	}
	if r.swapchain != nil {
		r.swapchain.Release()
	}
	if r.queue != nil {
		r.queue.Release()
	}
	if r.driver != nil {
		r.driver.Close()
	}
}
