package engine

import (
	"context"
	"fmt"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/refract/engine/core"
	"github.com/spaghettifunk/refract/engine/math"
	"github.com/spaghettifunk/refract/engine/renderer/software"
	"github.com/spaghettifunk/refract/engine/scene"
)

type capturePresenter struct {
	mu     sync.Mutex
	frames int
	last   *image.RGBA
}

func (p *capturePresenter) Present(img *image.RGBA) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames++
	p.last = img
	return nil
}

func (p *capturePresenter) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frames
}

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(format string, args ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, fmt.Sprintf(format, args...))
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func testGame(t *testing.T, rec *recorder) *Game {
	root := t.TempDir()
	return &Game{
		ApplicationConfig: &ApplicationConfig{
			Name:        "test",
			StartWidth:  64,
			StartHeight: 48,
			LogLevel:    "error",
		},
		FnBoot: func(e *Engine) error {
			rec.add("boot")
			e.Config().Assets.Root = root
			e.Config().Renderer.MaxTextureSets = 4
			return nil
		},
		FnInitialize: func(e *Engine) error {
			rec.add("initialize")
			s := e.Scene()
			mesh, err := s.AddMesh(context.Background(), "cube", scene.NewCube(1, 1, 1, 1, 1))
			if err != nil {
				return err
			}
			cube := scene.NewObject("cube", mesh, scene.InvalidHandle)
			cube.Behaviours = []scene.Behaviour{scene.Spin{Axis: math.NewVec3(0, 1, 0), Speed: 1}}
			if err := s.AddObject(cube); err != nil {
				return err
			}
			return s.AddLight(scene.NewPointLight(math.NewVec3(0, 2, -2), math.NewVec4(1, 1, 1, 1)))
		},
		FnUpdate: func(e *Engine, deltaTime float64) error {
			rec.add("update")
			return nil
		},
		FnOnResize: func(e *Engine, width, height uint32) error {
			rec.add("resize %dx%d", width, height)
			return nil
		},
		FnShutdown: func(e *Engine) error {
			rec.add("shutdown")
			return nil
		},
	}
}

func newTestEngine(t *testing.T, g *Game) (*Engine, *software.Device, *capturePresenter) {
	t.Helper()
	dev := software.New()
	p := &capturePresenter{}
	e, err := New(g, WithDevice(dev), WithPresenter(p))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, e.Shutdown())
		dev.Release()
	})
	require.NoError(t, e.Initialize(context.Background()))
	return e, dev, p
}

func TestEngineInitializeRunsHooksInOrder(t *testing.T) {
	rec := &recorder{}
	e, _, _ := newTestEngine(t, testGame(t, rec))

	assert.Equal(t, []string{"boot", "initialize", "resize 64x48"}, rec.list())
	assert.Equal(t, EngineStageInitialized, e.Stage())
	assert.Equal(t, core.RendererModeRaster, e.Mode())
	w, h := e.GetFramebufferSize()
	assert.Equal(t, uint32(64), w)
	assert.Equal(t, uint32(48), h)
	assert.Equal(t, uint32(4), e.Config().Renderer.MaxTextureSets)
	assert.NotNil(t, e.Assets())
	assert.False(t, e.Input().IsKeyDown(core.KEY_W))

	err := e.Initialize(context.Background())
	assert.Error(t, err)
}

func TestEngineStepPresentsFrames(t *testing.T) {
	rec := &recorder{}
	e, dev, p := newTestEngine(t, testGame(t, rec))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, e.Step(ctx))
	}
	assert.Equal(t, EngineStageRunning, e.Stage())
	assert.Equal(t, uint64(3), e.Frames())
	require.NoError(t, e.Renderer().Idle(ctx))
	assert.Eventually(t, func() bool { return p.count() == 3 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, dev.ValidationErrors())

	cube, ok := e.Scene().Object("cube")
	require.True(t, ok)
	assert.Greater(t, cube.Rotation.Y, float32(0))
}

func TestEngineResizeAndSuspend(t *testing.T) {
	rec := &recorder{}
	e, _, p := newTestEngine(t, testGame(t, rec))
	ctx := context.Background()

	e.Events().Fire(core.EventContext{Type: core.EVENT_CODE_RESIZED, Data: &core.ResizeEvent{Width: 0, Height: 0}})
	require.NoError(t, e.Step(ctx))
	assert.True(t, e.Suspended())
	assert.Equal(t, uint64(0), e.Frames())
	assert.Equal(t, 0, p.count())

	e.Events().Fire(core.EventContext{Type: core.EVENT_CODE_RESIZED, Data: &core.ResizeEvent{Width: 32, Height: 16}})
	require.NoError(t, e.Step(ctx))
	assert.False(t, e.Suspended())
	assert.Equal(t, uint64(1), e.Frames())

	w, h := e.Renderer().Size()
	assert.Equal(t, uint32(32), w)
	assert.Equal(t, uint32(16), h)
	assert.Contains(t, rec.list(), "resize 32x16")
}

func TestEngineToggleMode(t *testing.T) {
	e, dev, _ := newTestEngine(t, testGame(t, &recorder{}))
	ctx := context.Background()

	require.NoError(t, e.Step(ctx))
	e.Events().Fire(core.EventContext{Type: core.EVENT_CODE_KEY_PRESSED, Data: &core.KeyEvent{KeyCode: core.KEY_TAB}})
	assert.Equal(t, core.RendererModeRaster, e.Mode(), "switch waits for the frame boundary")

	require.NoError(t, e.Step(ctx))
	assert.Equal(t, core.RendererModeRaytrace, e.Mode())

	e.ToggleMode()
	require.NoError(t, e.Step(ctx))
	assert.Equal(t, core.RendererModeRaster, e.Mode())

	require.NoError(t, e.Renderer().Idle(ctx))
	assert.Empty(t, dev.ValidationErrors())
}

func TestEngineRunStopsOnQuit(t *testing.T) {
	rec := &recorder{}
	g := testGame(t, rec)
	frames := 0
	g.FnUpdate = func(e *Engine, deltaTime float64) error {
		frames++
		if frames == 5 {
			e.Events().Fire(core.EventContext{Type: core.EVENT_CODE_KEY_PRESSED, Data: &core.KeyEvent{KeyCode: core.KEY_ESCAPE}})
		}
		return nil
	}
	e, _, _ := newTestEngine(t, g)

	require.NoError(t, e.Run(context.Background()))
	assert.Equal(t, 5, frames)
	assert.Equal(t, uint64(5), e.Frames())
}

func TestEngineRunStopsWithContext(t *testing.T) {
	e, _, _ := newTestEngine(t, testGame(t, &recorder{}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, e.Run(ctx))
	assert.Equal(t, uint64(0), e.Frames())
}

func TestEngineUpdateErrorStopsStep(t *testing.T) {
	g := testGame(t, &recorder{})
	g.FnUpdate = func(*Engine, float64) error { return core.ErrUnknown }
	e, _, _ := newTestEngine(t, g)
	assert.ErrorIs(t, e.Step(context.Background()), core.ErrUnknown)
}

func TestEngineShutdownOnce(t *testing.T) {
	rec := &recorder{}
	dev := software.New()
	defer dev.Release()
	e, err := New(testGame(t, rec), WithDevice(dev))
	require.NoError(t, err)
	require.NoError(t, e.Initialize(context.Background()))

	require.NoError(t, e.Shutdown())
	require.NoError(t, e.Shutdown())
	assert.Equal(t, EngineStageShuttingDown, e.Stage())

	calls := rec.list()
	assert.Equal(t, "shutdown", calls[len(calls)-1])
	count := 0
	for _, c := range calls {
		if c == "shutdown" {
			count++
		}
	}
	assert.Equal(t, 1, count)
	assert.Error(t, e.Step(context.Background()))
}

func TestEngineBootFailureShutsDownCleanly(t *testing.T) {
	g := testGame(t, &recorder{})
	g.FnBoot = func(e *Engine) error {
		e.Config().Renderer.FrameBufferCount = 7
		return nil
	}
	e, err := New(g)
	require.NoError(t, err)
	assert.Error(t, e.Initialize(context.Background()))
	assert.NoError(t, e.Shutdown())
}

func TestNewRequiresGame(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, core.ErrNilResource)
}
