package main

import (
	"context"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/refract/engine/core"
)

func testOptions(t *testing.T) *captureOptions {
	return &captureOptions{
		frames:   3,
		output:   filepath.Join(t.TempDir(), "frame.png"),
		width:    48,
		height:   32,
		mode:     string(core.RendererModeRaster),
		logLevel: "error",
	}
}

func decode(t *testing.T, path string) image.Image {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	return img
}

func TestCaptureWritesPNG(t *testing.T) {
	opts := testOptions(t)
	require.NoError(t, capture(context.Background(), opts))

	img := decode(t, opts.output)
	assert.Equal(t, 48, img.Bounds().Dx())
	assert.Equal(t, 32, img.Bounds().Dy())

	// the scene is lit, so not every pixel is the clear colour
	first := img.At(0, 0)
	differs := false
	for y := 0; y < 32 && !differs; y++ {
		for x := 0; x < 48; x++ {
			if img.At(x, y) != first {
				differs = true
				break
			}
		}
	}
	assert.True(t, differs)
}

func TestCaptureRaytrace(t *testing.T) {
	opts := testOptions(t)
	opts.frames = 1
	opts.mode = string(core.RendererModeRaytrace)
	require.NoError(t, capture(context.Background(), opts))
	assert.FileExists(t, opts.output)
}

func TestCaptureRejectsBadOptions(t *testing.T) {
	opts := testOptions(t)
	opts.frames = 0
	assert.ErrorIs(t, capture(context.Background(), opts), core.ErrIndexOutOfRange)

	opts = testOptions(t)
	opts.width = 0
	assert.ErrorIs(t, capture(context.Background(), opts), core.ErrIndexOutOfRange)

	opts = testOptions(t)
	opts.mode = "wireframe"
	assert.Error(t, capture(context.Background(), opts))
	assert.NoFileExists(t, opts.output)
}

func TestRootCommandFlags(t *testing.T) {
	cmd := newRootCommand()
	out := filepath.Join(t.TempDir(), "cli.png")
	cmd.SetArgs([]string{"-n", "2", "-o", out, "--width", "16", "--height", "16", "--log-level", "error"})
	require.NoError(t, cmd.Execute())

	img := decode(t, out)
	assert.Equal(t, 16, img.Bounds().Dx())
}

func TestRootCommandRejectsArgs(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"extra"})
	assert.Error(t, cmd.Execute())
}
