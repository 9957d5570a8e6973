package testbed

import (
	"context"
	"image"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/refract/engine"
	"github.com/spaghettifunk/refract/engine/core"
	"github.com/spaghettifunk/refract/engine/renderer/software"
)

type countingPresenter struct {
	mu     sync.Mutex
	frames int
}

func (p *countingPresenter) Present(*image.RGBA) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames++
	return nil
}

func newTestbed(t *testing.T) (*TestGame, *engine.Engine, *software.Device, *countingPresenter) {
	t.Helper()
	tg := NewTestGame()
	tg.ApplicationConfig.StartWidth = 32
	tg.ApplicationConfig.StartHeight = 24
	tg.ApplicationConfig.LogLevel = "error"

	dev := software.New()
	p := &countingPresenter{}
	e, err := engine.New(tg.Game, engine.WithDevice(dev), engine.WithPresenter(p))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, e.Shutdown())
		dev.Release()
	})
	require.NoError(t, e.Initialize(context.Background()))
	return tg, e, dev, p
}

func TestTestbedBuildsScene(t *testing.T) {
	tg, e, _, _ := newTestbed(t)
	s := e.Scene()

	assert.Len(t, s.Objects(), 4)
	assert.Len(t, s.Lights(), 4)
	for _, name := range []string{"floor", "crate_spin", "crate_bob", "crate_orbit"} {
		_, ok := s.Object(name)
		assert.True(t, ok, name)
	}

	state := tg.State.(*gameState)
	assert.True(t, state.crate.Valid())
	m, ok := s.Material(state.crate)
	require.True(t, ok)
	assert.Equal(t, 1, m.TextureCount(), "generated crate has an albedo texture")
	assert.Equal(t, uint32(32), state.width)
}

func TestTestbedRendersFrames(t *testing.T) {
	_, e, dev, p := newTestbed(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, e.Step(ctx))
	}
	require.NoError(t, e.Renderer().Idle(ctx))
	p.mu.Lock()
	assert.Equal(t, 4, p.frames)
	p.mu.Unlock()
	assert.Empty(t, dev.ValidationErrors())

	orbit, _ := e.Scene().Object("crate_orbit")
	assert.NotEqual(t, float32(0), orbit.Position.X)
}

func TestTestbedCameraReset(t *testing.T) {
	_, e, _, _ := newTestbed(t)
	camera := e.Scene().Camera()
	start := camera.Position()

	handled := e.Events().Fire(core.EventContext{Type: core.EVENT_CODE_KEY_PRESSED, Data: &core.KeyEvent{KeyCode: core.KEY_R}})
	assert.True(t, handled)
	assert.NotEqual(t, start, camera.Position())
}
