package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/anthonynsimon/bild/imgio"
	"github.com/spf13/cobra"

	"github.com/spaghettifunk/refract/engine"
	"github.com/spaghettifunk/refract/engine/core"
	"github.com/spaghettifunk/refract/testbed"
)

type captureOptions struct {
	frames   int
	output   string
	width    uint32
	height   uint32
	mode     string
	config   string
	logLevel string
}

func newRootCommand() *cobra.Command {
	opts := &captureOptions{}
	cmd := &cobra.Command{
		Use:           "refract-capture",
		Short:         "Render the testbed scene headless and save the last frame",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if err := capture(ctx, opts); err != nil {
				core.LogError(err.Error())
				return err
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.IntVarP(&opts.frames, "frames", "n", 60, "number of frames to render")
	flags.StringVarP(&opts.output, "output", "o", "capture.png", "PNG file to write")
	flags.Uint32Var(&opts.width, "width", 640, "back buffer width")
	flags.Uint32Var(&opts.height, "height", 360, "back buffer height")
	flags.StringVarP(&opts.mode, "mode", "m", string(core.RendererModeRaster), "renderer mode, raster or raytrace")
	flags.StringVarP(&opts.config, "config", "c", "", "TOML configuration layered over the defaults")
	flags.StringVar(&opts.logLevel, "log-level", "info", "debug, info, warn or error")
	return cmd
}

func capture(ctx context.Context, opts *captureOptions) error {
	if opts.frames < 1 {
		return fmt.Errorf("at least one frame is needed, got %d: %w", opts.frames, core.ErrIndexOutOfRange)
	}
	if opts.width == 0 || opts.height == 0 {
		return fmt.Errorf("back buffer of %dx%d has no area: %w", opts.width, opts.height, core.ErrIndexOutOfRange)
	}

	tb := testbed.NewTestGame()
	app := tb.ApplicationConfig
	app.StartWidth = opts.width
	app.StartHeight = opts.height
	app.ConfigPath = opts.config
	app.LogLevel = opts.logLevel
	app.Mode = core.RendererMode(opts.mode)

	p := &lastFrame{}
	e, err := engine.New(tb.Game, engine.WithPresenter(p))
	if err != nil {
		return err
	}
	err = render(ctx, e, opts.frames)
	if serr := e.Shutdown(); serr != nil {
		err = errors.Join(err, serr)
	}
	if err != nil {
		return err
	}

	img := p.image()
	if img == nil {
		return fmt.Errorf("no frame was presented: %w", core.ErrNilResource)
	}
	if err := imgio.Save(opts.output, img, imgio.PNGEncoder()); err != nil {
		return fmt.Errorf("failed to save `%s`: %w", opts.output, err)
	}
	core.LogInfo("saved frame %d of %s (%dx%d) to %s", p.count(), e.Mode(), img.Rect.Dx(), img.Rect.Dy(), opts.output)
	return nil
}

func render(ctx context.Context, e *engine.Engine, frames int) error {
	if err := e.Initialize(ctx); err != nil {
		return err
	}
	for i := 0; i < frames; i++ {
		if err := e.Step(ctx); err != nil {
			return err
		}
	}
	// presents run on the queue goroutine
	return e.Renderer().Idle(ctx)
}
