package scene

import (
	"context"
	"errors"
	"image"
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/refract/engine/assets/loaders"
	"github.com/spaghettifunk/refract/engine/core"
	"github.com/spaghettifunk/refract/engine/math"
	"github.com/spaghettifunk/refract/engine/renderer"
	"github.com/spaghettifunk/refract/engine/renderer/shaders"
	"github.com/spaghettifunk/refract/engine/renderer/software"
)

type fakeUploader struct {
	geometries []string
	textures   []string
	retired    int
}

func (u *fakeUploader) CreateGeometry(_ context.Context, name string, vertices []math.Vertex3D, indices []uint32) (*renderer.Geometry, error) {
	u.geometries = append(u.geometries, name)
	return &renderer.Geometry{Name: name, VertexCount: uint32(len(vertices)), IndexCount: uint32(len(indices))}, nil
}

func (u *fakeUploader) CreateTexture(_ context.Context, name string, img *image.RGBA) (*renderer.Texture, error) {
	u.textures = append(u.textures, name)
	b := img.Bounds()
	return &renderer.Texture{Name: name, Width: uint32(b.Dx()), Height: uint32(b.Dy())}, nil
}

func (u *fakeUploader) Retire(release func()) {
	u.retired++
	release()
}

type fakeAssets map[string]any

func (a fakeAssets) Load(name string) (any, error) {
	v, ok := a[name]
	if !ok {
		return nil, errors.New("no such asset")
	}
	return v, nil
}

// recordingBackend keeps the last constant buffers written per slot.
type recordingBackend struct {
	width, height uint32
	maxObjects    uint32
	objects       map[uint32]shaders.ObjectConstants
	materials     map[uint32]shaders.MaterialConstants
	lights        shaders.LightsConstants
	post          shaders.PostConstants
	camera        shaders.CameraConstants
}

func newRecordingBackend(maxObjects uint32) *recordingBackend {
	return &recordingBackend{
		width:      64,
		height:     32,
		maxObjects: maxObjects,
		objects:    make(map[uint32]shaders.ObjectConstants),
		materials:  make(map[uint32]shaders.MaterialConstants),
	}
}

func (b *recordingBackend) Mode() core.RendererMode { return core.RendererModeRaster }
func (b *recordingBackend) Size() (uint32, uint32)  { return b.width, b.height }
func (b *recordingBackend) MaxObjects() uint32      { return b.maxObjects }

func (b *recordingBackend) RenderFrame(context.Context, renderer.Scene) error {
	return nil
}
func (b *recordingBackend) WaitForPreviousFrame(context.Context) (uint32, error) {
	return 0, nil
}

func (b *recordingBackend) SetObjectConstantBuffer(_, slot uint32, c *shaders.ObjectConstants) error {
	b.objects[slot] = *c
	return nil
}

func (b *recordingBackend) SetMaterialConstantBuffer(_, slot uint32, c *shaders.MaterialConstants) error {
	b.materials[slot] = *c
	return nil
}

func (b *recordingBackend) SetLightsConstantBuffer(_ uint32, c *shaders.LightsConstants) error {
	b.lights = *c
	return nil
}

func (b *recordingBackend) SetPostConstantBuffer(_ uint32, c *shaders.PostConstants) error {
	b.post = *c
	return nil
}

func (b *recordingBackend) SetCameraConstantBuffer(_ uint32, c *shaders.CameraConstants) error {
	b.camera = *c
	return nil
}

func newTestScene(t *testing.T) (*Scene, *fakeUploader) {
	t.Helper()
	u := &fakeUploader{}
	cfg := core.DefaultConfig()
	cfg.Renderer.MaxLights = 2
	s := New(u, cfg)
	t.Cleanup(s.Release)
	return s, u
}

func TestSceneSharesMeshesByName(t *testing.T) {
	s, u := newTestScene(t)
	ctx := context.Background()

	cube := NewCube(1, 1, 1, 1, 1)
	h1, err := s.AddMesh(ctx, "cube", cube)
	require.NoError(t, err)
	h2, err := s.AddMesh(ctx, "cube", cube)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Equal(t, []string{"cube"}, u.geometries)
	assert.Equal(t, uint32(2), s.meshes.References(h1))

	require.NoError(t, s.AddObject(NewObject("a", h1, InvalidHandle)))
	assert.Equal(t, uint32(3), s.meshes.References(h1))
	assert.ErrorIs(t, s.AddObject(NewObject("a", h1, InvalidHandle)), ErrDuplicateName)

	require.NoError(t, s.ReleaseMesh(h1))
	require.NoError(t, s.ReleaseMesh(h2))
	_, ok := s.Mesh(h1)
	assert.True(t, ok, "the object still holds the mesh")

	assert.True(t, s.RemoveObject("a"))
	_, ok = s.Mesh(h1)
	assert.False(t, ok)
	assert.False(t, s.RemoveObject("a"))
}

func TestSceneLoadMaterialWithTextures(t *testing.T) {
	s, u := newTestScene(t)
	ctx := context.Background()
	src := fakeAssets{
		"materials/crate.kmt": &loaders.MaterialConfig{
			Name:          "crate",
			Albedo:        [4]float32{1, 0.5, 0.25, 1},
			Roughness:     0.3,
			RenderTexture: true,
			AlbedoMap:     "textures/crate.png",
			NormalMap:     "textures/missing.png",
		},
		"textures/crate.png": image.NewRGBA(image.Rect(0, 0, 4, 4)),
		"models/crate.vbo":   NewCube(2, 2, 2, 1, 1),
	}

	mh, err := s.LoadMaterial(ctx, src, "materials/crate.kmt")
	require.NoError(t, err)
	m, ok := s.Material(mh)
	require.True(t, ok)
	assert.Equal(t, []string{"textures/crate.png"}, u.textures)
	assert.Equal(t, 1, m.TextureCount())
	assert.NotNil(t, m.Texture(int(TextureAlbedo)))
	assert.Nil(t, m.Texture(int(TextureNormal)))
	assert.Nil(t, m.Texture(7))

	c := m.Constants()
	assert.True(t, c.UseAlbedoTexture)
	assert.False(t, c.UseNormalTexture)
	assert.True(t, c.RenderTexture)
	assert.Equal(t, float32(0.3), c.Roughness)

	th, ok := s.textures.Lookup("textures/crate.png")
	require.True(t, ok)
	assert.Equal(t, uint32(1), s.textures.References(th))

	mesh, err := s.LoadMesh(ctx, src, "models/crate.vbo")
	require.NoError(t, err)
	_, err = s.LoadMesh(ctx, src, "textures/crate.png")
	assert.ErrorIs(t, err, core.ErrUnsupported)

	require.NoError(t, s.AddObject(NewObject("crate", mesh, mh)))
	require.NoError(t, s.ReleaseMaterial(mh))
	assert.True(t, s.RemoveObject("crate"))

	// the last material reference took the texture with it
	_, ok = s.Texture(th)
	assert.False(t, ok)
}

func TestMaterialAssignTexture(t *testing.T) {
	m := NewMaterial("full")
	m.AssignTexture(nil)
	assert.Equal(t, 0, m.TextureCount())
	for i := 0; i < shaders.MaterialTextureCount+1; i++ {
		m.AssignTexture(&renderer.Texture{Name: "t"})
	}
	assert.Equal(t, shaders.MaterialTextureCount, m.TextureCount())

	m.SetTexture(TextureMetallic, nil)
	assert.False(t, m.Constants().UseMetallicTexture)
	assert.True(t, m.Constants().UseNormalTexture)
}

func TestSceneLightLimit(t *testing.T) {
	s, _ := newTestScene(t)
	require.NoError(t, s.AddLight(NewPointLight(math.NewVec3(1, 0, 0), math.NewVec4(1, 0, 0, 1))))
	require.NoError(t, s.AddLight(NewDirectionalLight(math.NewVec3(0, -1, 0), math.NewVec4(1, 1, 1, 1))))
	assert.ErrorIs(t, s.AddLight(NewPointLight(math.NewVec3Zero(), math.NewVec4(1, 1, 1, 1))), core.ErrCapacityExhausted)
	assert.Len(t, s.Lights(), 2)
}

func TestSceneUpdateAppliesBehaviours(t *testing.T) {
	s, _ := newTestScene(t)
	mesh, err := s.AddMesh(context.Background(), "cube", NewCube(1, 1, 1, 1, 1))
	require.NoError(t, err)

	spin := NewObject("spin", mesh, InvalidHandle)
	spin.Behaviours = []Behaviour{Spin{Axis: math.NewVec3(0, 1, 0), Speed: 2}}
	orbit := NewObject("orbit", mesh, InvalidHandle)
	orbit.Position = math.NewVec3(0, 3, 0)
	orbit.Behaviours = []Behaviour{Orbit{Centre: math.NewVec3(1, 0, 1), Radius: 2, Speed: math.DegToRad(90)}}
	bob := NewObject("bob", mesh, InvalidHandle)
	bob.Position = math.NewVec3(0, 1, 0)
	bob.Behaviours = []Behaviour{Static{}, Bob{Amplitude: 0.5, Speed: math.DegToRad(90)}}
	for _, o := range []*Object{spin, orbit, bob} {
		require.NoError(t, s.AddObject(o))
	}

	s.Update(0.5)
	s.Update(0.5)

	assert.InDelta(t, 2, spin.Rotation.Y, 1e-5)
	assert.True(t, orbit.Position.Compare(math.NewVec3(1, 3, 3), 1e-4), "orbit at %v", orbit.Position)
	assert.InDelta(t, 1.5, bob.Position.Y, 1e-5)
	assert.Equal(t, math.NewVec3(0, 1, 0), bob.Origin())
}

func TestObjectWorldOrder(t *testing.T) {
	o := NewObject("o", InvalidHandle, InvalidHandle)
	o.Scale = math.NewVec3(2, 2, 2)
	o.Rotation = math.NewVec3(0, math.DegToRad(90), 0)
	o.Position = math.NewVec3(10, 0, 0)

	// scaled first, then turned, then moved
	p := math.NewVec3(1, 0, 0).Transform(o.World())
	expected := math.NewVec3(1, 0, 0).
		Transform(math.NewMat4Scale(o.Scale)).
		Transform(math.NewMat4EulerY(o.Rotation.Y)).
		Transform(math.NewMat4Translation(o.Position))
	assert.True(t, p.Compare(expected, 1e-4), "%v != %v", p, expected)
	assert.InDelta(t, 2, p.Sub(o.Position).Length(), 1e-4)
}

func TestSetupForRenderWritesEveryBuffer(t *testing.T) {
	s, _ := newTestScene(t)
	ctx := context.Background()
	mesh, err := s.AddMesh(ctx, "cube", NewCube(1, 1, 1, 1, 1))
	require.NoError(t, err)
	mat := NewMaterial("red")
	mat.Albedo = math.NewVec4(1, 0, 0, 1)
	mh, err := s.AddMaterial(mat)
	require.NoError(t, err)

	for _, name := range []string{"a", "b", "c"} {
		o := NewObject(name, mesh, mh)
		require.NoError(t, s.AddObject(o))
	}
	o, ok := s.Object("b")
	require.True(t, ok)
	o.Position = math.NewVec3(0, 2, 0)
	require.NoError(t, s.AddLight(NewPointLight(math.NewVec3Zero(), math.NewVec4(1, 1, 1, 1))))
	post := core.DefaultConfig().Post
	post.EnableGreyscale = true
	s.SetPost(post)

	b := newRecordingBackend(2)
	require.NoError(t, s.SetupForRender(b, 0))

	assert.Len(t, b.objects, 2)
	assert.Len(t, b.materials, 2)
	assert.Equal(t, o.World(), b.objects[1].World)
	assert.Equal(t, s.Camera().View(), b.objects[0].View)
	assert.Equal(t, math.NewVec4(1, 0, 0, 1), b.materials[1].Albedo)
	assert.Equal(t, s.Camera().Position().ToVec4(1), b.lights.EyePosition)
	assert.Len(t, b.lights.Lights, 1)
	assert.True(t, b.post.EnableGreyscale)
	assert.Equal(t, uint32(64), b.post.TextureWidth)
	assert.Equal(t, uint32(32), b.post.TextureHeight)
	assert.True(t, b.camera.InverseView.Compare(s.Camera().View().Inverse(), 1e-5))

	drawables := s.Drawables()
	require.Len(t, drawables, 3)
	assert.Equal(t, "b", drawables[1].Name)
	assert.NotNil(t, drawables[1].Geometry)
	assert.Equal(t, o.World(), drawables[1].World)
}

func TestCameraMovement(t *testing.T) {
	c := NewCamera(core.DefaultConfig().Camera)
	assert.Equal(t, math.NewVec3(0, 0, -4), c.Position())
	assert.True(t, c.Forward().Compare(math.NewVec3(0, 0, 1), 1e-6))
	assert.True(t, c.Right().Compare(math.NewVec3(1, 0, 0), 1e-6))

	c.MoveForward(2)
	c.StrafeRight(1)
	c.MoveUp(3)
	assert.True(t, c.Position().Compare(math.NewVec3(1, 3, -2), 1e-5))
	c.MoveDown(3)
	c.StrafeLeft(1)
	c.MoveBackward(2)
	assert.True(t, c.Position().Compare(math.NewVec3(0, 0, -4), 1e-5))

	// the camera origin maps to the view space origin
	assert.True(t, c.Position().Transform(c.View()).Compare(math.NewVec3Zero(), 1e-5))

	c.UpdateLook(0, math.DegToRad(180))
	assert.InDelta(t, math.DegToRad(89), math32.Asin(c.Forward().Y), 1e-4)

	c.Reset()
	c.LookAt(math.NewVec3(4, 0, -4))
	assert.True(t, c.Forward().Compare(math.NewVec3(1, 0, 0), 1e-5))
}

func TestPrimitivesFaceTheirNormals(t *testing.T) {
	for name, m := range map[string]*loaders.MeshData{
		"cube":  NewCube(2, 1, 3, 1, 1),
		"plane": NewPlane(4, 4, 2, 3, 2, 2),
	} {
		require.Equal(t, 0, len(m.Indices)%3, name)
		for i := 0; i < len(m.Indices); i += 3 {
			a := m.Vertices[m.Indices[i]]
			b := m.Vertices[m.Indices[i+1]]
			c := m.Vertices[m.Indices[i+2]]
			// counter clockwise seen from the front in a left handed frame
			n := b.Position.Sub(a.Position).Cross(c.Position.Sub(a.Position))
			assert.Less(t, n.Dot(a.Normal), float32(0), "%s triangle %d", name, i/3)
		}
	}

	plane := NewPlane(4, 4, 2, 3, 1, 1)
	assert.Len(t, plane.Vertices, 2*3*4)
	assert.Len(t, plane.Indices, 2*3*6)
	ext := math.Extents(plane.Vertices)
	assert.InDelta(t, -2, ext.Min.X, 1e-5)
	assert.InDelta(t, 2, ext.Max.Z, 1e-5)

	cube := NewCube(2, 1, 3, 1, 1)
	ext = math.Extents(cube.Vertices)
	assert.True(t, ext.Max.Compare(math.NewVec3(1, 0.5, 1.5), 1e-6))
}

func TestSceneRendersOnSoftwareDevice(t *testing.T) {
	dev := software.New()
	defer dev.Release()
	cfg := core.DefaultConfig()
	cfg.Window.Width = 48
	cfg.Window.Height = 32
	cfg.Renderer.MaxTextureSets = 4
	cfg.Renderer.MaxLights = 4

	ctx := context.Background()
	r, err := renderer.New(ctx, cfg, renderer.WithDevice(dev))
	require.NoError(t, err)
	defer r.Release()

	s := New(r, cfg)
	defer s.Release()
	mesh, err := s.AddMesh(ctx, "cube", NewCube(1, 1, 1, 1, 1))
	require.NoError(t, err)
	cube := NewObject("cube", mesh, InvalidHandle)
	cube.Behaviours = []Behaviour{Spin{Axis: math.NewVec3(0, 1, 0), Speed: 1}}
	require.NoError(t, s.AddObject(cube))
	require.NoError(t, s.AddLight(NewPointLight(math.NewVec3(0, 2, -2), math.NewVec4(1, 1, 1, 1))))

	raster, err := renderer.NewRasterBackend(r)
	require.NoError(t, err)
	defer raster.Release()
	rt, err := renderer.NewRaytraceBackend(r)
	require.NoError(t, err)
	defer rt.Release()

	for i := 0; i < 3; i++ {
		s.Update(1.0 / 60)
		require.NoError(t, raster.RenderFrame(ctx, s))
		require.NoError(t, rt.RenderFrame(ctx, s))
	}
	require.NoError(t, r.Idle(ctx))
	assert.Empty(t, dev.ValidationErrors())
}

func TestRemovedObjectsOutliveQueuedFrames(t *testing.T) {
	dev := software.New()
	defer dev.Release()
	cfg := core.DefaultConfig()
	cfg.Window.Width = 32
	cfg.Window.Height = 24
	cfg.Renderer.MaxTextureSets = 20
	cfg.Renderer.MaxLights = 4

	ctx := context.Background()
	r, err := renderer.New(ctx, cfg, renderer.WithDevice(dev))
	require.NoError(t, err)
	defer r.Release()
	s := New(r, cfg)
	defer s.Release()

	names := make([]string, 20)
	meshes := make([]Handle, len(names))
	for i := range names {
		names[i] = string(rune('a' + i))
		meshes[i], err = s.AddMesh(ctx, names[i], NewCube(1, 1, 1, 1, 1))
		require.NoError(t, err)
		o := NewObject(names[i], meshes[i], InvalidHandle)
		o.Position = math.NewVec3(float32(i%5)-2, float32(i/5)-1.5, 0)
		require.NoError(t, s.AddObject(o))
	}

	raster, err := renderer.NewRasterBackend(r)
	require.NoError(t, err)
	defer raster.Release()
	for i := 0; i < 3; i++ {
		require.NoError(t, raster.RenderFrame(ctx, s))
	}

	for i, name := range names {
		require.True(t, s.RemoveObject(name))
		require.NoError(t, s.ReleaseMesh(meshes[i]))
	}
	require.NoError(t, r.Idle(ctx))
	assert.Empty(t, dev.ValidationErrors())

	require.NoError(t, raster.RenderFrame(ctx, s))
	require.NoError(t, r.Idle(ctx))
	assert.Empty(t, dev.ValidationErrors())
}

func TestSceneRetiresReleasedResources(t *testing.T) {
	s, u := newTestScene(t)
	ctx := context.Background()

	mesh, err := s.AddMesh(ctx, "cube", NewCube(1, 1, 1, 1, 1))
	require.NoError(t, err)
	tex, err := s.AddTexture(ctx, "white", image.NewRGBA(image.Rect(0, 0, 2, 2)))
	require.NoError(t, err)

	require.NoError(t, s.ReleaseMesh(mesh))
	require.NoError(t, s.ReleaseTexture(tex))
	assert.Equal(t, 2, u.retired)
}
