package engine

// Game is the application the engine runs. Every hook is optional.
type Game struct {
	ApplicationConfig *ApplicationConfig
	State             interface{}
	FnBoot            Boot
	FnInitialize      Initialize
	FnUpdate          Update
	FnOnResize        OnResize
	FnShutdown        Shutdown
}

// Boot runs before any subsystem exists and may change e.Config().
type Boot func(e *Engine) error

// Initialize runs once the renderer and the scene are ready; it is where
// the game populates the scene.
type Initialize func(e *Engine) error
type Update func(e *Engine, deltaTime float64) error
type OnResize func(e *Engine, width uint32, height uint32) error
type Shutdown func(e *Engine) error
