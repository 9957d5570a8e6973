package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pelletier/go-toml/v2"
)

type RendererMode string

const (
	RendererModeRaster   RendererMode = "raster"
	RendererModeRaytrace RendererMode = "raytrace"
)

type WindowConfig struct {
	Name   string `toml:"name"`
	X      uint32 `toml:"x"`
	Y      uint32 `toml:"y"`
	Width  uint32 `toml:"width"`
	Height uint32 `toml:"height"`
}

type RendererConfig struct {
	// Number of buffered frames (swapchain depth).
	FrameBufferCount uint32       `toml:"frame_buffer_count"`
	ClearColour      [4]float32   `toml:"clear_colour"`
	MaxLights        uint32       `toml:"max_lights"`
	MaxTextureSets   uint32       `toml:"max_texture_sets"`
	Mode             RendererMode `toml:"mode"`
	Driver           string       `toml:"driver"`
}

type CameraConfig struct {
	FOV  float32 `toml:"fov"`
	Near float32 `toml:"near"`
	Far  float32 `toml:"far"`
}

type PostConfig struct {
	BlurXCoverage      float32 `toml:"blur_x_coverage"`
	BlurStrength       float32 `toml:"blur_strength"`
	EnableBlur         bool    `toml:"enable_blur"`
	EnableDepthOfField bool    `toml:"enable_depth_of_field"`
	DepthOfFieldScale  float32 `toml:"depth_of_field_scale"`
	BlurSharpness      float32 `toml:"blur_sharpness"`
	EnableGreyscale    bool    `toml:"enable_greyscale"`
}

type AssetsConfig struct {
	Root string `toml:"root"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

type Config struct {
	Window   WindowConfig   `toml:"window"`
	Renderer RendererConfig `toml:"renderer"`
	Camera   CameraConfig   `toml:"camera"`
	Post     PostConfig     `toml:"post"`
	Assets   AssetsConfig   `toml:"assets"`
	Log      LogConfig      `toml:"log"`
}

// DefaultConfig returns the compiled-in engine constants.
func DefaultConfig() *Config {
	return &Config{
		Window: WindowConfig{
			Name:   "Refract",
			X:      100,
			Y:      100,
			Width:  1280,
			Height: 720,
		},
		Renderer: RendererConfig{
			FrameBufferCount: 2,
			ClearColour:      [4]float32{0.0, 0.2, 0.4, 1.0},
			MaxLights:        10,
			MaxTextureSets:   64,
			Mode:             RendererModeRaster,
			Driver:           "software",
		},
		Camera: CameraConfig{
			FOV:  70,
			Near: 0.1,
			Far:  1000,
		},
		Post: PostConfig{
			BlurXCoverage:     1.0,
			BlurStrength:      5.0,
			DepthOfFieldScale: 0.5,
			BlurSharpness:     4.5,
		},
		Assets: AssetsConfig{Root: "assets"},
		Log:    LogConfig{Level: "debug"},
	}
}

// LoadConfig overlays the TOML file at path on top of DefaultConfig. A
// missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			LogDebug("no configuration at `%s`, using defaults", path)
			return cfg, nil
		}
		return nil, err
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		err = fmt.Errorf("failed to decode configuration `%s`: %w", path, err)
		LogError(err.Error())
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		LogError(err.Error())
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Renderer.FrameBufferCount < 2 || c.Renderer.FrameBufferCount > 3 {
		return fmt.Errorf("renderer.frame_buffer_count must be 2 or 3, got %d", c.Renderer.FrameBufferCount)
	}
	if c.Renderer.MaxLights == 0 {
		return fmt.Errorf("renderer.max_lights must be positive")
	}
	if c.Renderer.MaxTextureSets == 0 {
		return fmt.Errorf("renderer.max_texture_sets must be positive")
	}
	switch c.Renderer.Mode {
	case RendererModeRaster, RendererModeRaytrace:
	default:
		return fmt.Errorf("unknown renderer.mode `%s`", c.Renderer.Mode)
	}
	if c.Camera.Near <= 0 || c.Camera.Far <= c.Camera.Near {
		return fmt.Errorf("invalid camera clip range [%f, %f]", c.Camera.Near, c.Camera.Far)
	}
	return nil
}

// ConfigWatcher reloads a configuration file whenever it is written and
// publishes the post-processing section, the only part that can change at
// runtime.
type ConfigWatcher struct {
	path    string
	watcher *fsnotify.Watcher
	updates chan PostConfig
	done    chan struct{}
	wg      sync.WaitGroup
}

func NewConfigWatcher(path string) (*ConfigWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// editors replace files on save, watch the directory instead
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, err
	}
	cw := &ConfigWatcher{
		path:    filepath.Clean(path),
		watcher: w,
		updates: make(chan PostConfig, 1),
		done:    make(chan struct{}),
	}
	cw.wg.Add(1)
	go cw.start()
	return cw, nil
}

// Updates delivers the post section of every successfully reloaded file.
func (cw *ConfigWatcher) Updates() <-chan PostConfig {
	return cw.updates
}

func (cw *ConfigWatcher) start() {
	defer cw.wg.Done()
	for {
		select {
		case e, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(e.Name) != cw.path || e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := LoadConfig(cw.path)
			if err != nil {
				continue
			}
			LogInfo("configuration `%s` reloaded", cw.path)
			select {
			case <-cw.updates:
			default:
			}
			cw.updates <- cfg.Post
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			LogError(err.Error())
		case <-cw.done:
			return
		}
	}
}

func (cw *ConfigWatcher) Close() error {
	close(cw.done)
	err := cw.watcher.Close()
	cw.wg.Wait()
	return err
}
