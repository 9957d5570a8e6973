//go:build mage

package main

import (
	"fmt"
	"os"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Builds and starts the windowed demo.
func (Run) Engine() error {
	mg.Deps(Build.Engine)
	fmt.Println("Run engine...")
	_, err := executeCmd("./bin/refract", withStream())
	return err
}

// Renders FRAMES (default 60) frames headless into capture.png.
func (Run) Capture() error {
	mg.Deps(Build.Capture)
	frames := os.Getenv("FRAMES")
	if frames == "" {
		frames = "60"
	}
	_, err := executeCmd("./bin/refract-capture", withArgs("--frames", frames, "--output", "capture.png"), withStream())
	return err
}
