package core

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, uint32(2), cfg.Renderer.FrameBufferCount)
	assert.Equal(t, [4]float32{0, 0.2, 0.4, 1}, cfg.Renderer.ClearColour)
	assert.Equal(t, uint32(10), cfg.Renderer.MaxLights)
	assert.Equal(t, uint32(64), cfg.Renderer.MaxTextureSets)
	assert.Equal(t, RendererModeRaster, cfg.Renderer.Mode)
	assert.Equal(t, float32(70), cfg.Camera.FOV)
	assert.Equal(t, float32(5), cfg.Post.BlurStrength)
	assert.False(t, cfg.Post.EnableBlur)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "refract.toml")
	data := `
[renderer]
frame_buffer_count = 3
mode = "raytrace"

[post]
enable_blur = true
blur_strength = 0.0
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), cfg.Renderer.FrameBufferCount)
	assert.Equal(t, RendererModeRaytrace, cfg.Renderer.Mode)
	assert.True(t, cfg.Post.EnableBlur)
	assert.Equal(t, float32(0), cfg.Post.BlurStrength)
	// untouched keys keep their defaults
	assert.Equal(t, uint32(10), cfg.Renderer.MaxLights)
	assert.Equal(t, float32(4.5), cfg.Post.BlurSharpness)
}

func TestLoadConfigInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "refract.toml")
	require.NoError(t, os.WriteFile(path, []byte("[renderer]\nframe_buffer_count = 7\n"), 0o644))

	_, err := LoadConfig(path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("[renderer]\nmode = \"hybrid\"\n"), 0o644))
	_, err = LoadConfig(path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("not = [toml"), 0o644))
	_, err = LoadConfig(path)
	assert.Error(t, err)
}

func TestConfigWatcherPublishesPost(t *testing.T) {
	path := filepath.Join(t.TempDir(), "refract.toml")
	require.NoError(t, os.WriteFile(path, []byte("[post]\nenable_blur = false\n"), 0o644))

	cw, err := NewConfigWatcher(path)
	require.NoError(t, err)
	defer cw.Close()

	require.NoError(t, os.WriteFile(path, []byte("[post]\nenable_blur = true\nblur_strength = 2.0\n"), 0o644))

	select {
	case post := <-cw.Updates():
		assert.True(t, post.EnableBlur)
		assert.Equal(t, float32(2), post.BlurStrength)
	case <-time.After(5 * time.Second):
		t.Fatal("no configuration update received")
	}
}
