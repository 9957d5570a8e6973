package renderer

import (
	"context"
	"image"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/refract/engine/core"
	"github.com/spaghettifunk/refract/engine/math"
	"github.com/spaghettifunk/refract/engine/renderer/gpu"
	"github.com/spaghettifunk/refract/engine/renderer/shaders"
	"github.com/spaghettifunk/refract/engine/renderer/software"
)

const (
	testWidth  = 64
	testHeight = 48
	testSets   = 4
)

type capturePresenter struct {
	mu     sync.Mutex
	frames int
	last   *image.RGBA
}

func (p *capturePresenter) Present(img *image.RGBA) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames++
	p.last = img
	return nil
}

func (p *capturePresenter) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frames
}

func testConfig() *core.Config {
	cfg := core.DefaultConfig()
	cfg.Window.Width = testWidth
	cfg.Window.Height = testHeight
	cfg.Renderer.FrameBufferCount = 2
	cfg.Renderer.MaxTextureSets = testSets
	cfg.Renderer.MaxLights = 4
	return cfg
}

func newTestRenderer(t *testing.T) (*Renderer, *software.Device, *capturePresenter) {
	t.Helper()
	return newTestRendererWith(t, testConfig())
}

func newTestRendererWith(t *testing.T, cfg *core.Config) (*Renderer, *software.Device, *capturePresenter) {
	t.Helper()
	dev := software.New()
	p := &capturePresenter{}
	r, err := New(context.Background(), cfg, WithDevice(dev), WithPresenter(p))
	require.NoError(t, err)
	t.Cleanup(func() {
		r.Release()
		dev.Release()
	})
	return r, dev, p
}

// quad returns a unit square in the z = 0 plane facing -z.
func quad(t *testing.T, r *Renderer, name string) *Geometry {
	t.Helper()
	vertices := []math.Vertex3D{
		{Position: math.NewVec3(-1, -1, 0), Normal: math.NewVec3(0, 0, -1), Texcoord: math.NewVec2(0, 1)},
		{Position: math.NewVec3(-1, 1, 0), Normal: math.NewVec3(0, 0, -1), Texcoord: math.NewVec2(0, 0)},
		{Position: math.NewVec3(1, 1, 0), Normal: math.NewVec3(0, 0, -1), Texcoord: math.NewVec2(1, 0)},
		{Position: math.NewVec3(1, -1, 0), Normal: math.NewVec3(0, 0, -1), Texcoord: math.NewVec2(1, 1)},
	}
	indices := []uint32{0, 1, 2, 0, 2, 3}
	math.GeometryGenerateTangents(vertices, indices)
	g, err := r.CreateGeometry(context.Background(), name, vertices, indices)
	require.NoError(t, err)
	t.Cleanup(g.Release)
	return g
}

type testScene struct {
	drawables []Drawable
	post      *shaders.PostConstants
}

func (s *testScene) SetupForRender(b Backend, frame uint32) error {
	w, h := b.Size()
	eye := math.NewVec3(0, 0, -4)
	proj := math.NewMat4PerspectiveLH(math.DegToRad(70), float32(w)/float32(h), 0.1, 100)
	view := math.NewMat4LookToLH(eye, math.NewVec3Forward(), math.NewVec3Up())

	for i, d := range s.drawables {
		if uint32(i) >= b.MaxObjects() {
			break
		}
		if err := b.SetObjectConstantBuffer(frame, uint32(i), &shaders.ObjectConstants{Projection: proj, View: view, World: d.World}); err != nil {
			return err
		}
		mat := shaders.NewMaterialConstants()
		mat.RenderTexture = d.RenderTexture
		if err := b.SetMaterialConstantBuffer(frame, uint32(i), &mat); err != nil {
			return err
		}
	}

	light := shaders.NewLight()
	light.Type = shaders.LightDirectional
	light.Enabled = true
	lights := shaders.LightsConstants{
		EyePosition:   math.NewVec4(eye.X, eye.Y, eye.Z, 1),
		GlobalAmbient: math.NewVec4(0.1, 0.1, 0.1, 1),
		Lights:        []shaders.Light{light},
	}
	if err := b.SetLightsConstantBuffer(frame, &lights); err != nil {
		return err
	}
	post := shaders.NewPostConstants(w, h)
	if s.post != nil {
		post = *s.post
	}
	if err := b.SetPostConstantBuffer(frame, &post); err != nil {
		return err
	}
	camera := shaders.CameraConstants{
		InverseView:       view.Inverse(),
		InverseProjection: proj.Inverse(),
		Eye:               math.NewVec4(eye.X, eye.Y, eye.Z, 1),
	}
	return b.SetCameraConstantBuffer(frame, &camera)
}

func (s *testScene) Drawables() []Drawable {
	return s.drawables
}

func imageOf(t *testing.T, dev *software.Device, res gpu.Resource) *image.RGBA {
	t.Helper()
	img, err := dev.Image(res)
	require.NoError(t, err)
	return img
}

func TestDescriptorAllocatorCapacity(t *testing.T) {
	dev := software.New()
	defer dev.Release()

	a, err := NewDescriptorAllocator(dev, "test", gpu.DescriptorHeapDesc{Kind: gpu.DescriptorHeapCBVSRVUAV, NumDescriptors: 4})
	require.NoError(t, err)
	defer a.Release()

	first, err := a.AllocateRange(3)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), first)
	next, err := a.Allocate()
	require.NoError(t, err)
	assert.Equal(t, uint32(3), next)
	assert.Equal(t, a.Capacity(), a.Allocated())

	_, err = a.Allocate()
	assert.ErrorIs(t, err, core.ErrCapacityExhausted)
	_, err = a.AllocateRange(0)
	assert.ErrorIs(t, err, core.ErrCapacityExhausted)

	h0, err := a.CPUHandle(0)
	require.NoError(t, err)
	h1, err := a.CPUHandle(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(dev.DescriptorHandleIncrementSize(gpu.DescriptorHeapCBVSRVUAV)), uint64(h1-h0))

	_, err = a.CPUHandle(4)
	assert.ErrorIs(t, err, core.ErrIndexOutOfRange)
	_, err = a.GPUHandle(0)
	assert.ErrorIs(t, err, core.ErrUnsupported)
}

func TestConstantBufferRequiresAcquiredFrame(t *testing.T) {
	r, _, _ := newTestRenderer(t)
	ctx := context.Background()
	obj := &shaders.ObjectConstants{Projection: math.NewMat4Identity(), View: math.NewMat4Identity(), World: math.NewMat4Identity()}

	assert.ErrorIs(t, r.SetObjectConstantBuffer(0, 0, obj), core.ErrFrameInFlight)

	frame, err := r.WaitForPreviousFrame(ctx)
	require.NoError(t, err)
	assert.NoError(t, r.SetObjectConstantBuffer(frame, 0, obj))
	assert.ErrorIs(t, r.SetObjectConstantBuffer(frame, testSets, obj), core.ErrIndexOutOfRange)

	other := (frame + 1) % r.Frames()
	assert.ErrorIs(t, r.SetObjectConstantBuffer(other, 0, obj), core.ErrFrameInFlight)

	require.NoError(t, r.fences.Signal())
	assert.ErrorIs(t, r.SetObjectConstantBuffer(frame, 0, obj), core.ErrFrameInFlight)
	assert.Equal(t, uint32(256), r.objects.SlotSize())
	assert.Zero(t, uint64(r.objects.Address(frame, 1))%256)
}

func TestCreateGeometryValidatesIndices(t *testing.T) {
	r, _, _ := newTestRenderer(t)
	ctx := context.Background()

	_, err := r.CreateGeometry(ctx, "empty", nil, nil)
	assert.Error(t, err)

	vertices := make([]math.Vertex3D, 3)
	_, err = r.CreateGeometry(ctx, "bad index", vertices, []uint32{0, 1, 3})
	assert.ErrorIs(t, err, core.ErrIndexOutOfRange)

	g, err := r.CreateGeometry(ctx, "triangle", vertices, []uint32{0, 1, 2})
	require.NoError(t, err)
	defer g.Release()
	assert.Equal(t, uint32(shaders.FullVertexStride), g.VertexBufferView().StrideInBytes)
	assert.Equal(t, uint32(3), g.IndexCount)
	assert.Len(t, PackVertices(vertices), 3*shaders.FullVertexStride)
}

func TestRasterFramesPresentWithoutValidationErrors(t *testing.T) {
	r, dev, p := newTestRenderer(t)
	b, err := NewRasterBackend(r)
	require.NoError(t, err)
	defer b.Release()

	g := quad(t, r, "quad")
	scene := &testScene{drawables: []Drawable{
		{Name: "left", Geometry: g, World: math.NewMat4Translation(math.NewVec3(-1.5, 0, 0))},
		{Name: "right", Geometry: g, World: math.NewMat4Translation(math.NewVec3(1.5, 0, 0)), RenderTexture: true},
	}}

	ctx := context.Background()
	const frames = 5
	for i := 0; i < frames; i++ {
		require.NoError(t, b.RenderFrame(ctx, scene))
	}
	require.NoError(t, r.Idle(ctx))
	assert.Empty(t, dev.ValidationErrors())
	assert.Equal(t, frames, p.count())
	assert.Equal(t, core.RendererModeRaster, b.Mode())

	w, h := b.GBuffer().Size()
	assert.Equal(t, uint32(testWidth), w)
	assert.Equal(t, uint32(testHeight), h)
	assert.Equal(t, uint32(gbufferCount), b.GBuffer().Count())
}

func TestTexcamWithoutFlagsMatchesLighting(t *testing.T) {
	const objects = 25
	cfg := testConfig()
	cfg.Renderer.MaxTextureSets = objects
	r, dev, _ := newTestRendererWith(t, cfg)
	b, err := NewRasterBackend(r)
	require.NoError(t, err)
	defer b.Release()

	g := quad(t, r, "quad")
	scene := &testScene{}
	for i := 0; i < objects; i++ {
		x, y := float32(i%5)-2, float32(i/5)-2
		world := math.NewMat4Scale(math.NewVec3(0.4, 0.4, 1)).Mul(math.NewMat4Translation(math.NewVec3(x, y, 0)))
		scene.drawables = append(scene.drawables, Drawable{Name: "quad", Geometry: g, World: world})
	}
	ctx := context.Background()
	require.NoError(t, b.RenderFrame(ctx, scene))
	frame := r.fences.Frame()
	require.NoError(t, r.Idle(ctx))

	lit := imageOf(t, dev, b.Lighting().Resource(0, frame))
	texcam := imageOf(t, dev, b.Texcam().Resource(0, frame))
	assert.Equal(t, lit.Pix, texcam.Pix)
	assert.Empty(t, dev.ValidationErrors())
}

func TestPostChainWithBlurDisabled(t *testing.T) {
	r, dev, _ := newTestRenderer(t)
	b, err := NewRasterBackend(r)
	require.NoError(t, err)
	defer b.Release()

	g := quad(t, r, "quad")
	post := shaders.NewPostConstants(testWidth, testHeight)
	scene := &testScene{
		drawables: []Drawable{{Name: "quad", Geometry: g, World: math.NewMat4Identity()}},
		post:      &post,
	}
	ctx := context.Background()

	render := func() uint32 {
		require.NoError(t, b.RenderFrame(ctx, scene))
		frame := r.fences.Frame()
		require.NoError(t, r.Idle(ctx))
		return frame
	}

	frame := render()
	def := imageOf(t, dev, b.PostTarget(PostDefault).Resource(0, frame))
	for stage := PostBlurHorizontal; stage < postStageCount; stage++ {
		assert.Equal(t, def.Pix, imageOf(t, dev, b.PostTarget(stage).Resource(0, frame)).Pix, "stage %d", stage)
	}

	// a zero strength kernel is the identity
	post.EnableBlur = true
	post.BlurStrength = 0
	frame = render()
	def = imageOf(t, dev, b.PostTarget(PostDefault).Resource(0, frame))
	blurred := imageOf(t, dev, b.PostTarget(PostBlurVertical).Resource(0, frame))
	assert.Equal(t, def.Pix, blurred.Pix)

	post.EnableGreyscale = true
	frame = render()
	grey := imageOf(t, dev, b.PostTarget(PostDefault).Resource(0, frame))
	for i := 0; i < len(grey.Pix); i += 4 {
		assert.InDelta(t, grey.Pix[i], grey.Pix[i+1], 1)
		assert.InDelta(t, grey.Pix[i+1], grey.Pix[i+2], 1)
	}
	assert.Empty(t, dev.ValidationErrors())
}

func TestRasterSkipsDrawablesPastTheLimit(t *testing.T) {
	r, dev, p := newTestRenderer(t)
	b, err := NewRasterBackend(r)
	require.NoError(t, err)
	defer b.Release()

	g := quad(t, r, "quad")
	scene := &testScene{}
	for i := 0; i < testSets+2; i++ {
		scene.drawables = append(scene.drawables, Drawable{Name: "quad", Geometry: g, World: math.NewMat4Identity()})
	}
	scene.drawables = append(scene.drawables, Drawable{Name: "no geometry"})

	ctx := context.Background()
	require.NoError(t, b.RenderFrame(ctx, scene))
	require.NoError(t, r.Idle(ctx))
	assert.Equal(t, 1, p.count())
	assert.Empty(t, dev.ValidationErrors())
}

func TestResizeSuspendsAtZeroSize(t *testing.T) {
	r, dev, p := newTestRenderer(t)
	b, err := NewRasterBackend(r)
	require.NoError(t, err)
	defer b.Release()

	scene := &testScene{}
	ctx := context.Background()
	require.NoError(t, r.Resize(ctx, 0, 0))
	require.NoError(t, b.RenderFrame(ctx, scene))
	assert.Zero(t, p.count())

	require.NoError(t, r.Resize(ctx, 32, 24))
	require.NoError(t, b.RenderFrame(ctx, scene))
	require.NoError(t, r.Idle(ctx))
	assert.Equal(t, 1, p.count())

	w, h := b.Lighting().Size()
	assert.Equal(t, uint32(32), w)
	assert.Equal(t, uint32(24), h)
	for stage := PostDefault; stage < postStageCount; stage++ {
		w, h = b.PostTarget(stage).Size()
		assert.Equal(t, [2]uint32{32, 24}, [2]uint32{w, h})
	}
	assert.Equal(t, 32, p.last.Rect.Dx())
	assert.Empty(t, dev.ValidationErrors())
}

func TestRaytraceWithoutObjects(t *testing.T) {
	r, dev, p := newTestRenderer(t)
	b, err := NewRaytraceBackend(r)
	require.NoError(t, err)
	defer b.Release()

	ctx := context.Background()
	require.NoError(t, b.RenderFrame(ctx, &testScene{}))
	frame := r.fences.Frame()
	require.NoError(t, r.Idle(ctx))

	assert.Zero(t, b.Accel().InstanceCount())
	assert.Zero(t, b.SBT().HitCount(frame))
	desc := b.SBT().DispatchDesc(frame, testWidth, testHeight)
	assert.Zero(t, desc.HitGroupTable.SizeInBytes)
	assert.Empty(t, dev.ValidationErrors())
	require.Equal(t, 1, p.count())

	img := imageOf(t, dev, b.Output().Resource(0, frame))
	for i := 0; i < len(img.Pix); i += 4 {
		for c := 0; c < 4; c++ {
			want := shaders.ClearColour[c] * 255
			assert.InDelta(t, want, float32(img.Pix[i+c]), 1)
		}
	}
}

func TestRaytraceInstancesMatchHitRecords(t *testing.T) {
	r, dev, _ := newTestRenderer(t)
	b, err := NewRaytraceBackend(r)
	require.NoError(t, err)
	defer b.Release()

	g := quad(t, r, "quad")
	scene := &testScene{}
	ctx := context.Background()
	for n := 1; n <= 3; n++ {
		scene.drawables = append(scene.drawables, Drawable{
			Name:     "quad",
			Geometry: g,
			World:    math.NewMat4Translation(math.NewVec3(float32(3*(n-1)), 0, 0)),
		})
		require.NoError(t, b.RenderFrame(ctx, scene))
		frame := r.fences.Frame()
		require.NoError(t, r.Idle(ctx))

		assert.Equal(t, uint32(n), b.Accel().InstanceCount())
		assert.Equal(t, uint32(n), b.SBT().HitCount(frame))
		desc := b.SBT().DispatchDesc(frame, testWidth, testHeight)
		assert.Equal(t, uint64(n)*desc.HitGroupTable.StrideInBytes, desc.HitGroupTable.SizeInBytes)
		assert.Zero(t, uint64(desc.HitGroupTable.StartAddress)%gpu.ShaderTableAlignment)
	}
	assert.Empty(t, dev.ValidationErrors())
}

func TestRefitTracksTransforms(t *testing.T) {
	r, dev, _ := newTestRenderer(t)
	b, err := NewRaytraceBackend(r)
	require.NoError(t, err)
	defer b.Release()

	g := quad(t, r, "quad")
	scene := &testScene{drawables: []Drawable{
		{Name: "near", Geometry: g, World: math.NewMat4Identity()},
		{Name: "far", Geometry: g, World: math.NewMat4Translation(math.NewVec3(0, 0, 5))},
	}}
	ctx := context.Background()
	ray := software.Ray{Origin: [3]float32{0, 0, -10}, Direction: [3]float32{0, 0, 1}, TMax: 100}

	trace := func() (uint32, float32, bool) {
		require.NoError(t, b.RenderFrame(ctx, scene))
		require.NoError(t, r.Idle(ctx))
		instance, _, dist, ok := dev.TraceRay(b.Accel().Address(), ray)
		return instance, dist, ok
	}

	i1, t1, ok := trace()
	require.True(t, ok)
	assert.Equal(t, uint32(0), i1)
	assert.InDelta(t, 10, t1, 1e-4)
	address := b.Accel().Address()

	// unchanged transforms refit to the same structure
	i2, t2, ok := trace()
	require.True(t, ok)
	assert.Equal(t, i1, i2)
	assert.Equal(t, t1, t2)
	assert.Equal(t, address, b.Accel().Address())

	// moving the near quad out of the way exposes the far one
	scene.drawables[0].World = math.NewMat4Translation(math.NewVec3(10, 0, 0))
	i3, t3, ok := trace()
	require.True(t, ok)
	assert.Equal(t, uint32(1), i3)
	assert.InDelta(t, 15, t3, 1e-4)
	assert.Equal(t, address, b.Accel().Address())
	assert.Empty(t, dev.ValidationErrors())
}

func TestRefitRejectsCountChange(t *testing.T) {
	r, _, _ := newTestRenderer(t)
	a := NewAccelBuilder(r)
	defer a.Release()

	assert.True(t, a.NeedsBuild(nil))
	require.NoError(t, a.Build(context.Background(), 0, nil))
	assert.False(t, a.NeedsBuild(nil))
	assert.True(t, a.NeedsBuild(make([]Drawable, 1)))
	assert.ErrorIs(t, a.Refit(nil, 0, make([]Drawable, 1)), core.ErrUnsupported)
	assert.ErrorIs(t, a.Build(context.Background(), 0, []Drawable{{Name: "empty"}}), core.ErrNilResource)
}

func TestGeometrySwapRebuildsStructures(t *testing.T) {
	r, dev, _ := newTestRenderer(t)
	b, err := NewRaytraceBackend(r)
	require.NoError(t, err)
	defer b.Release()

	g := quad(t, r, "quad")
	scene := &testScene{drawables: []Drawable{{Name: "quad", Geometry: g, World: math.NewMat4Identity()}}}
	ctx := context.Background()
	require.NoError(t, b.RenderFrame(ctx, scene))
	require.NoError(t, r.Idle(ctx))

	vertices := []math.Vertex3D{
		{Position: math.NewVec3(9, -1, 0), Normal: math.NewVec3(0, 0, -1)},
		{Position: math.NewVec3(10, 1, 0), Normal: math.NewVec3(0, 0, -1)},
		{Position: math.NewVec3(11, -1, 0), Normal: math.NewVec3(0, 0, -1)},
	}
	tri, err := r.CreateGeometry(ctx, "triangle", vertices, []uint32{0, 1, 2})
	require.NoError(t, err)
	defer tri.Release()

	// same count, other geometry
	scene.drawables[0] = Drawable{Name: "triangle", Geometry: tri, World: math.NewMat4Identity()}
	assert.True(t, b.Accel().NeedsBuild(scene.drawables))
	require.NoError(t, b.RenderFrame(ctx, scene))
	frame := r.fences.Frame()
	require.NoError(t, r.Idle(ctx))
	assert.False(t, b.Accel().NeedsBuild(scene.drawables))

	_, _, _, ok := dev.TraceRay(b.Accel().Address(), software.Ray{Origin: [3]float32{0, 0, -10}, Direction: [3]float32{0, 0, 1}, TMax: 100})
	assert.False(t, ok, "the quad is gone")

	instance, prim, dist, ok := dev.TraceRay(b.Accel().Address(), software.Ray{Origin: [3]float32{10, 0, -10}, Direction: [3]float32{0, 0, 1}, TMax: 100})
	require.True(t, ok)
	assert.Equal(t, uint32(0), instance)
	assert.Equal(t, uint32(0), prim)
	assert.InDelta(t, 10, dist, 1e-4)

	assert.Equal(t, uint32(1), b.SBT().HitCount(frame))
	assert.Empty(t, dev.ValidationErrors())
}

func TestRaytraceSkipsDrawablesWithoutGeometry(t *testing.T) {
	r, dev, p := newTestRenderer(t)
	b, err := NewRaytraceBackend(r)
	require.NoError(t, err)
	defer b.Release()

	g := quad(t, r, "quad")
	scene := &testScene{drawables: []Drawable{
		{Name: "left", Geometry: g, World: math.NewMat4Translation(math.NewVec3(-1.5, 0, 0))},
		{Name: "no geometry"},
		{Name: "right", Geometry: g, World: math.NewMat4Translation(math.NewVec3(1.5, 0, 0))},
	}}
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, b.RenderFrame(ctx, scene))
	}
	frame := r.fences.Frame()
	require.NoError(t, r.Idle(ctx))

	assert.Equal(t, 3, p.count())
	assert.Equal(t, uint32(2), b.Accel().InstanceCount())
	assert.Equal(t, uint32(2), b.SBT().HitCount(frame))
	assert.Empty(t, dev.ValidationErrors())
}

func TestSBTLayout(t *testing.T) {
	dev := software.New()
	defer dev.Release()
	s := NewSBTBuilder(dev, 2)
	defer s.Release()

	assert.Equal(t, uint64(64), s.rayGenStride)
	assert.Equal(t, uint64(32), s.missStride)
	assert.Equal(t, uint64(64), s.hitStride)
	assert.Zero(t, s.missOffset%gpu.ShaderTableAlignment)
	assert.Zero(t, s.hitOffset%gpu.ShaderTableAlignment)
	assert.Equal(t, s.hitOffset, s.Size(0))
	assert.Equal(t, s.hitOffset+3*s.hitStride, s.Size(3))
}
