package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/spaghettifunk/refract/engine/assets"
	"github.com/spaghettifunk/refract/engine/containers"
	"github.com/spaghettifunk/refract/engine/core"
	"github.com/spaghettifunk/refract/engine/renderer"
	"github.com/spaghettifunk/refract/engine/renderer/gpu"
	"github.com/spaghettifunk/refract/engine/scene"

	// registers the "software" gpu driver
	_ "github.com/spaghettifunk/refract/engine/renderer/software"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently booting up
	EngineStageBooting
	// Engine completed boot process and is ready to be initialized
	EngineStageBootComplete
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
)

func (s Stage) String() string {
	switch s {
	case EngineStageBooting:
		return "booting"
	case EngineStageBootComplete:
		return "boot complete"
	case EngineStageInitializing:
		return "initializing"
	case EngineStageInitialized:
		return "initialized"
	case EngineStageRunning:
		return "running"
	case EngineStageShuttingDown:
		return "shutting down"
	default:
		return "uninitialized"
	}
}

// Window is the platform layer. *platform.Platform implements it; the
// engine runs headless without one.
type Window interface {
	core.Input
	Startup(applicationName string, x uint32, y uint32, width uint32, height uint32) error
	PumpMessages()
	Shutdown() error
}

// PresenterFactory builds the presenter once the window exists.
type PresenterFactory func() (gpu.Presenter, error)

type Option func(*Engine)

// WithWindow builds the window on the engine's event bus, so its callbacks
// reach the engine.
func WithWindow(newWindow func(events *core.EventBus) Window) Option {
	return func(e *Engine) { e.window = newWindow(e.events) }
}

// WithDevice renders on device instead of opening the configured driver.
func WithDevice(device gpu.Device) Option {
	return func(e *Engine) { e.device = device }
}

func WithPresenter(p gpu.Presenter) Option {
	return func(e *Engine) {
		e.newPresenter = func() (gpu.Presenter, error) { return p, nil }
	}
}

func WithPresenterFactory(f PresenterFactory) Option {
	return func(e *Engine) { e.newPresenter = f }
}

type requestKind uint8

const (
	requestResize requestKind = iota
	requestToggleMode
)

// request is a change applied at the next frame boundary.
type request struct {
	kind          requestKind
	width, height uint32
}

const pendingRequests = 16

// Engine is the application context: it owns the configuration, the
// window, the asset manager, the renderer with its backends and the scene,
// and drives them one frame at a time.
type Engine struct {
	currentStage Stage
	gameInstance *Game
	config       *core.Config

	window       Window
	device       gpu.Device
	newPresenter PresenterFactory
	presenter    gpu.Presenter

	events       *core.EventBus
	assetManager *assets.AssetManager
	renderer     *renderer.Renderer
	backends     map[core.RendererMode]renderer.Backend
	backend      renderer.Backend
	scene        *scene.Scene
	watcher      *core.ConfigWatcher

	clock       *core.Clock
	metrics     *core.FrameMetrics
	lastTime    float64
	runningTime float64
	frameCount  uint64
	width       uint32
	height      uint32
	isSuspended bool
	isRunning   atomic.Bool

	mu           sync.Mutex
	pending      *containers.RingQueue[request]
	shutdownOnce sync.Once
}

func New(g *Game, opts ...Option) (*Engine, error) {
	if g == nil {
		return nil, fmt.Errorf("game instance is nil: %w", core.ErrNilResource)
	}
	e := &Engine{
		currentStage: EngineStageUninitialized,
		gameInstance: g,
		events:       core.NewEventBus(),
		backends:     make(map[core.RendererMode]renderer.Backend),
		clock:        core.NewClock(),
		metrics:      core.NewFrameMetrics(),
		pending:      containers.NewRingQueue[request](pendingRequests),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.isRunning.Store(true)
	return e, nil
}

// Initialize boots the engine and brings every subsystem up. It leaves the
// engine ready for Step or Run.
func (e *Engine) Initialize(ctx context.Context) error {
	if e.currentStage != EngineStageUninitialized {
		return fmt.Errorf("engine cannot initialize while %s", e.currentStage)
	}
	if err := e.boot(); err != nil {
		return err
	}

	e.currentStage = EngineStageInitializing
	cfg := e.config

	if e.window != nil {
		if err := e.window.Startup(cfg.Window.Name, cfg.Window.X, cfg.Window.Y, cfg.Window.Width, cfg.Window.Height); err != nil {
			return err
		}
		// high density displays draw more pixels than the window size
		if fb, ok := e.window.(interface{ FramebufferSize() (uint32, uint32) }); ok {
			if w, h := fb.FramebufferSize(); w != 0 && h != 0 && (w != e.width || h != e.height) {
				e.Resize(w, h)
			}
		}
	}

	if err := e.startAssets(); err != nil {
		return err
	}

	opts := []renderer.Option{}
	if e.device != nil {
		opts = append(opts, renderer.WithDevice(e.device))
	}
	if e.newPresenter != nil {
		p, err := e.newPresenter()
		if err != nil {
			err = fmt.Errorf("failed to create presenter: %w", err)
			core.LogError(err.Error())
			return err
		}
		e.presenter = p
		opts = append(opts, renderer.WithPresenter(p))
	}
	r, err := renderer.New(ctx, cfg, opts...)
	if err != nil {
		return err
	}
	e.renderer = r

	if err := e.selectBackend(cfg.Renderer.Mode); err != nil {
		if !errors.Is(err, core.ErrUnsupported) || cfg.Renderer.Mode == core.RendererModeRaster {
			return err
		}
		core.LogWarn("falling back to the raster backend")
		if err := e.selectBackend(core.RendererModeRaster); err != nil {
			return err
		}
	}

	e.scene = scene.New(e.renderer, cfg)

	if path := e.configPath(); path != "" {
		if _, err := os.Stat(path); err == nil {
			if e.watcher, err = core.NewConfigWatcher(path); err != nil {
				core.LogWarn("configuration `%s` will not be reloaded: %s", path, err)
			}
		}
	}

	if e.gameInstance.FnInitialize != nil {
		if err := e.gameInstance.FnInitialize(e); err != nil {
			err = fmt.Errorf("game initialization failed: %w", err)
			core.LogError(err.Error())
			return err
		}
	}
	if e.gameInstance.FnOnResize != nil {
		if err := e.gameInstance.FnOnResize(e, e.width, e.height); err != nil {
			return err
		}
	}

	e.currentStage = EngineStageInitialized
	core.LogInfo("engine initialized (%s backend)", e.backend.Mode())
	return nil
}

func (e *Engine) boot() error {
	e.currentStage = EngineStageBooting

	cfg, err := core.LoadConfig(e.configPath())
	if err != nil {
		return err
	}
	e.gameInstance.ApplicationConfig.apply(cfg)
	e.config = cfg
	core.SetLogLevel(cfg.Log.Level)

	e.events.Register(core.EVENT_CODE_APPLICATION_QUIT, e.onEvent)
	e.events.Register(core.EVENT_CODE_TOGGLE_RENDER_MODE, e.onEvent)
	e.events.Register(core.EVENT_CODE_KEY_PRESSED, e.onKey)
	e.events.Register(core.EVENT_CODE_KEY_RELEASED, e.onKey)
	e.events.Register(core.EVENT_CODE_RESIZED, e.onResized)

	if e.gameInstance.FnBoot != nil {
		if err := e.gameInstance.FnBoot(e); err != nil {
			err = fmt.Errorf("game boot failed: %w", err)
			core.LogError(err.Error())
			return err
		}
	}
	if err := cfg.Validate(); err != nil {
		core.LogError(err.Error())
		return err
	}
	e.width, e.height = cfg.Window.Width, cfg.Window.Height

	e.currentStage = EngineStageBootComplete
	return nil
}

func (e *Engine) configPath() string {
	if e.gameInstance.ApplicationConfig == nil {
		return ""
	}
	return e.gameInstance.ApplicationConfig.ConfigPath
}

func (e *Engine) startAssets() error {
	am, err := assets.NewAssetManager(e.config.Assets.Root, runtime.NumCPU())
	if err != nil {
		return err
	}
	e.assetManager = am
	if _, err := os.Stat(e.config.Assets.Root); err != nil {
		core.LogWarn("assets root `%s` is not available, no assets will be indexed", e.config.Assets.Root)
		return nil
	}
	return am.Initialize()
}

// selectBackend makes mode current, creating its backend the first time.
func (e *Engine) selectBackend(mode core.RendererMode) error {
	if b, ok := e.backends[mode]; ok {
		e.backend = b
		return nil
	}
	var (
		b   renderer.Backend
		err error
	)
	switch mode {
	case core.RendererModeRaster:
		b, err = renderer.NewRasterBackend(e.renderer)
	case core.RendererModeRaytrace:
		b, err = renderer.NewRaytraceBackend(e.renderer)
	default:
		err = fmt.Errorf("unknown renderer mode `%s`: %w", mode, core.ErrUnsupported)
	}
	if err != nil {
		return err
	}
	e.backends[mode] = b
	e.backend = b
	return nil
}

// Run steps frames until Quit is called, the window is closed or ctx is
// done.
func (e *Engine) Run(ctx context.Context) error {
	for e.isRunning.Load() {
		if err := ctx.Err(); err != nil {
			break
		}
		if err := e.Step(ctx); err != nil {
			return err
		}
	}
	e.clock.Stop()
	return nil
}

// Step runs a single frame: pump the window, apply pending resizes and
// mode switches, update the game and the scene, render. A suspended
// engine only pumps.
func (e *Engine) Step(ctx context.Context) error {
	switch e.currentStage {
	case EngineStageInitialized:
		e.currentStage = EngineStageRunning
		e.clock.Start()
		e.lastTime = 0
	case EngineStageRunning:
	default:
		return fmt.Errorf("engine cannot step while %s", e.currentStage)
	}

	if e.window != nil {
		e.window.PumpMessages()
	}
	if err := e.applyPending(ctx); err != nil {
		return err
	}
	e.drainNotifications()

	if e.isSuspended || !e.isRunning.Load() {
		return nil
	}

	e.clock.Update()
	currentTime := e.clock.Elapsed()
	delta := currentTime - e.lastTime
	e.lastTime = currentTime

	if e.gameInstance.FnUpdate != nil {
		if err := e.gameInstance.FnUpdate(e, delta); err != nil {
			err = fmt.Errorf("game update failed: %w", err)
			core.LogError(err.Error())
			return err
		}
	}
	e.scene.Update(float32(delta))

	if err := e.backend.RenderFrame(ctx, e.scene); err != nil {
		if errors.Is(err, core.ErrDeviceRemoved) || ctx.Err() != nil {
			return err
		}
		// the frame is abandoned, the next one starts clean
		core.LogWarn("frame skipped: %s", err)
	}

	e.clock.Update()
	frameElapsedTime := e.clock.Elapsed() - currentTime
	e.metrics.Update(frameElapsedTime)
	e.frameCount++
	e.runningTime += delta
	if e.runningTime >= 1 {
		core.LogDebug("%.1f fps, %.2f ms per frame", e.metrics.FPS(), e.metrics.FrameTime()*1000)
		e.runningTime = 0
	}
	return nil
}

func (e *Engine) enqueue(r request) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending.IsFull() {
		// only the latest resize matters; make room by dropping the oldest
		_, _ = e.pending.Dequeue()
	}
	_ = e.pending.Enqueue(r)
}

func (e *Engine) applyPending(ctx context.Context) error {
	e.mu.Lock()
	requests := make([]request, 0, e.pending.Len())
	for !e.pending.IsEmpty() {
		r, _ := e.pending.Dequeue()
		requests = append(requests, r)
	}
	e.mu.Unlock()

	for _, r := range requests {
		switch r.kind {
		case requestResize:
			if err := e.resize(ctx, r.width, r.height); err != nil {
				return err
			}
		case requestToggleMode:
			if err := e.toggleMode(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) drainNotifications() {
	if e.watcher != nil {
		select {
		case post := <-e.watcher.Updates():
			e.scene.SetPost(post)
			core.LogInfo("post processing settings reloaded")
		default:
		}
	}
	for {
		select {
		case info := <-e.assetManager.Changes():
			core.LogDebug("asset `%s` (%s) changed on disk", info.Name, info.Type)
		default:
			return
		}
	}
}

func (e *Engine) resize(ctx context.Context, width, height uint32) error {
	if width == e.width && height == e.height && !e.isSuspended {
		return nil
	}
	if width == 0 || height == 0 {
		if !e.isSuspended {
			core.LogInfo("Window minimized, suspending application.")
		}
		e.isSuspended = true
		return e.renderer.Resize(ctx, 0, 0)
	}
	if e.isSuspended {
		core.LogInfo("Window restored, resuming application.")
		e.isSuspended = false
	}
	e.width, e.height = width, height
	core.LogDebug("Window resize: %d, %d", width, height)
	if err := e.renderer.Resize(ctx, width, height); err != nil {
		return err
	}
	if e.gameInstance.FnOnResize != nil {
		if err := e.gameInstance.FnOnResize(e, width, height); err != nil {
			core.LogError("game resize failed: %s", err)
		}
	}
	return nil
}

func (e *Engine) toggleMode(ctx context.Context) error {
	next := core.RendererModeRaytrace
	if e.backend.Mode() == core.RendererModeRaytrace {
		next = core.RendererModeRaster
	}
	if err := e.renderer.Idle(ctx); err != nil {
		return err
	}
	if err := e.selectBackend(next); err != nil {
		if errors.Is(err, core.ErrUnsupported) {
			core.LogWarn("cannot switch to %s: %s", next, err)
			return nil
		}
		return err
	}
	core.LogInfo("switched to the %s backend", next)
	return nil
}

// Resize asks for new framebuffer dimensions; a zero size suspends
// rendering. It takes effect at the next frame boundary.
func (e *Engine) Resize(width, height uint32) {
	e.enqueue(request{kind: requestResize, width: width, height: height})
}

// ToggleMode switches between the raster and ray trace backends at the next
// frame boundary.
func (e *Engine) ToggleMode() {
	e.enqueue(request{kind: requestToggleMode})
}

// Quit stops Run after the current frame. It is safe to call from any
// goroutine.
func (e *Engine) Quit() {
	e.isRunning.Store(false)
}

func (e *Engine) Shutdown() error {
	var err error
	e.shutdownOnce.Do(func() {
		err = e.shutdown()
	})
	return err
}

// shutdown releases everything in the reverse order Initialize created it.
func (e *Engine) shutdown() error {
	e.currentStage = EngineStageShuttingDown
	e.isRunning.Store(false)
	var errs []error

	if e.renderer != nil {
		if err := e.renderer.Idle(context.Background()); err != nil {
			errs = append(errs, err)
		}
	}
	if e.gameInstance.FnShutdown != nil && e.scene != nil {
		if err := e.gameInstance.FnShutdown(e); err != nil {
			errs = append(errs, err)
		}
	}
	if e.watcher != nil {
		if err := e.watcher.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if e.scene != nil {
		e.scene.Release()
	}
	for mode, b := range e.backends {
		if rel, ok := b.(interface{ Release() }); ok {
			rel.Release()
		}
		delete(e.backends, mode)
	}
	e.backend = nil
	if e.renderer != nil {
		e.renderer.Release()
	}
	if p, ok := e.presenter.(interface{ Release() }); ok {
		p.Release()
	}
	if e.assetManager != nil {
		if err := e.assetManager.Shutdown(); err != nil {
			errs = append(errs, err)
		}
	}
	e.events.Shutdown()
	if e.window != nil {
		if err := e.window.Shutdown(); err != nil {
			errs = append(errs, err)
		}
	}
	core.LogInfo("engine shut down after %d frames", e.frameCount)
	return errors.Join(errs...)
}

func (e *Engine) Stage() Stage {
	return e.currentStage
}

// Config is the configuration in use. Changes made outside of the Boot
// hook have no effect.
func (e *Engine) Config() *core.Config {
	return e.config
}

func (e *Engine) Events() *core.EventBus {
	return e.events
}

func (e *Engine) Assets() *assets.AssetManager {
	return e.assetManager
}

func (e *Engine) Renderer() *renderer.Renderer {
	return e.renderer
}

func (e *Engine) Scene() *scene.Scene {
	return e.scene
}

func (e *Engine) Mode() core.RendererMode {
	if e.backend == nil {
		return e.config.Renderer.Mode
	}
	return e.backend.Mode()
}

func (e *Engine) Metrics() *core.FrameMetrics {
	return e.metrics
}

// Frames is the number of frames stepped so far.
func (e *Engine) Frames() uint64 {
	return e.frameCount
}

func (e *Engine) Suspended() bool {
	return e.isSuspended
}

// GetFramebufferSize returns the width and height (in this order)
// of the application Framebuffer
func (e *Engine) GetFramebufferSize() (uint32, uint32) {
	return e.width, e.height
}

// Input is the window's input state, or an idle one when headless.
func (e *Engine) Input() core.Input {
	if e.window == nil {
		return noInput{}
	}
	return e.window
}

type noInput struct{}

func (noInput) IsKeyDown(core.Key) bool        { return false }
func (noInput) MouseDelta() (float64, float64) { return 0, 0 }

func (e *Engine) onEvent(context core.EventContext) bool {
	switch context.Type {
	case core.EVENT_CODE_APPLICATION_QUIT:
		core.LogInfo("EVENT_CODE_APPLICATION_QUIT recieved, shutting down.")
		e.Quit()
		return true
	case core.EVENT_CODE_TOGGLE_RENDER_MODE:
		e.ToggleMode()
		return true
	}
	return false
}

func (e *Engine) onKey(context core.EventContext) bool {
	ke, ok := context.Data.(*core.KeyEvent)
	if !ok {
		core.LogError("wrong event associated with the event type `%d`", context.Type)
		return false
	}
	if context.Type != core.EVENT_CODE_KEY_PRESSED {
		return false
	}

	switch ke.KeyCode {
	case core.KEY_ESCAPE:
		// NOTE: Technically firing an event to itself, but there may be other listeners.
		e.events.Fire(core.EventContext{Type: core.EVENT_CODE_APPLICATION_QUIT})
		// Block anything else from processing this.
		return true
	case core.KEY_TAB:
		e.events.Fire(core.EventContext{Type: core.EVENT_CODE_TOGGLE_RENDER_MODE})
		return true
	}
	return false
}

func (e *Engine) onResized(context core.EventContext) bool {
	re, ok := context.Data.(*core.ResizeEvent)
	if !ok {
		core.LogError("wrong event associated with the event type `%d`", context.Type)
		return false
	}
	e.Resize(re.Width, re.Height)
	return false
}
