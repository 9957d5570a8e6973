package engine

import "github.com/spaghettifunk/refract/engine/core"

// ApplicationConfig overrides the loaded configuration. Zero values keep
// what the configuration file (or the defaults) say.
type ApplicationConfig struct {
	// Window starting position x axis, if applicable.
	StartPosX uint32
	// Window starting position y axis, if applicable.
	StartPosY uint32
	// Window starting width, if applicable.
	StartWidth uint32
	// Window starting height, if applicable.
	StartHeight uint32
	// The application name used in windowing, if applicable.
	Name     string
	LogLevel string
	// ConfigPath is a TOML file layered over the defaults. The post section
	// is reloaded while the engine runs.
	ConfigPath string
	Mode       core.RendererMode
}

func (ac *ApplicationConfig) apply(cfg *core.Config) {
	if ac == nil {
		return
	}
	if ac.Name != "" {
		cfg.Window.Name = ac.Name
	}
	if ac.StartPosX != 0 {
		cfg.Window.X = ac.StartPosX
	}
	if ac.StartPosY != 0 {
		cfg.Window.Y = ac.StartPosY
	}
	if ac.StartWidth != 0 {
		cfg.Window.Width = ac.StartWidth
	}
	if ac.StartHeight != 0 {
		cfg.Window.Height = ac.StartHeight
	}
	if ac.LogLevel != "" {
		cfg.Log.Level = ac.LogLevel
	}
	if ac.Mode != "" {
		cfg.Renderer.Mode = ac.Mode
	}
}
