package renderer

import (
	"context"

	"github.com/spaghettifunk/refract/engine/core"
	"github.com/spaghettifunk/refract/engine/math"
	"github.com/spaghettifunk/refract/engine/renderer/gpu"
	"github.com/spaghettifunk/refract/engine/renderer/shaders"
)

// Backend turns a scene into a presented frame. The raster and ray
// tracing paths are two implementations sharing one Renderer.
type Backend interface {
	Mode() core.RendererMode
	// Size is the size of the swapchain and every pass target.
	Size() (uint32, uint32)
	// MaxObjects is the number of drawables a frame can hold.
	MaxObjects() uint32

	WaitForPreviousFrame(ctx context.Context) (uint32, error)
	RenderFrame(ctx context.Context, scene Scene) error

	SetObjectConstantBuffer(frame, slot uint32, c *shaders.ObjectConstants) error
	SetMaterialConstantBuffer(frame, slot uint32, c *shaders.MaterialConstants) error
	SetLightsConstantBuffer(frame uint32, c *shaders.LightsConstants) error
	SetPostConstantBuffer(frame uint32, c *shaders.PostConstants) error
	SetCameraConstantBuffer(frame uint32, c *shaders.CameraConstants) error
}

// Drawable is one object of a frame. Its index in Scene.Drawables is its
// constant buffer slot, texture set and hit group.
type Drawable struct {
	Name          string
	Geometry      *Geometry
	Textures      [shaders.MaterialTextureCount]*Texture
	World         math.Mat4
	RenderTexture bool
}

// Scene is read once per frame, after the frame has been acquired.
type Scene interface {
	// SetupForRender writes every constant buffer the frame reads.
	SetupForRender(b Backend, frame uint32) error
	Drawables() []Drawable
}

// frameRecorder is the part of a backend the shared frame flow calls.
type frameRecorder interface {
	Backend
	// prepare runs before the frame's list is reset and may submit work
	// of its own.
	prepare(ctx context.Context, frame uint32, drawables []Drawable) error
	// record fills list and returns the colour buffer to present, left in
	// the render target state.
	record(list gpu.CommandList, frame uint32, drawables []Drawable) (gpu.Resource, error)
}
