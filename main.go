/*
This is an example of application that will use the
engine package to test things out
*/
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spaghettifunk/refract/engine"
	"github.com/spaghettifunk/refract/engine/core"
	"github.com/spaghettifunk/refract/engine/platform"
	"github.com/spaghettifunk/refract/engine/renderer/gpu"
	"github.com/spaghettifunk/refract/engine/renderer/vulkan"
	"github.com/spaghettifunk/refract/testbed"
)

func main() {
	tb := testbed.NewTestGame()
	tb.ApplicationConfig.ConfigPath = "refract.toml"

	var window *platform.Platform
	var e *engine.Engine
	e, err := engine.New(tb.Game,
		engine.WithWindow(func(events *core.EventBus) engine.Window {
			window = platform.New(events)
			return window
		}),
		engine.WithPresenterFactory(func() (gpu.Presenter, error) {
			cfg := e.Config()
			return vulkan.New(window.Window, cfg.Window.Name, cfg.Log.Level == "debug")
		}),
	)
	if err != nil {
		core.LogFatal(err.Error())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// signal channel to capture system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)

	// start shutdown goroutine
	go func() {
		// capture sigterm and other system call here
		<-sigCh
		e.Quit()
	}()

	if err := e.Initialize(ctx); err != nil {
		_ = e.Shutdown()
		core.LogFatal(err.Error())
	}

	// run engine
	runErr := e.Run(ctx)
	if err := e.Shutdown(); err != nil {
		core.LogError(err.Error())
	}
	if runErr != nil {
		core.LogFatal(runErr.Error())
	}
}
