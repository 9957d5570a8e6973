package main

import (
	"image"
	"sync"

	"github.com/anthonynsimon/bild/clone"
)

// lastFrame keeps a copy of the most recent presented image. The back
// buffer it gets is reused by the next frame.
type lastFrame struct {
	mu     sync.Mutex
	frames int
	last   *image.RGBA
}

func (p *lastFrame) Present(img *image.RGBA) error {
	frame := clone.AsRGBA(img)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames++
	p.last = frame
	return nil
}

func (p *lastFrame) image() *image.RGBA {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

func (p *lastFrame) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frames
}
