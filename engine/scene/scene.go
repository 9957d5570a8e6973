package scene

import (
	"context"
	"fmt"
	"image"

	"github.com/spaghettifunk/refract/engine/assets/loaders"
	"github.com/spaghettifunk/refract/engine/core"
	"github.com/spaghettifunk/refract/engine/math"
	"github.com/spaghettifunk/refract/engine/renderer"
	"github.com/spaghettifunk/refract/engine/renderer/shaders"
)

// Uploader creates GPU resources for the scene. *renderer.Renderer
// implements it.
type Uploader interface {
	CreateGeometry(ctx context.Context, name string, vertices []math.Vertex3D, indices []uint32) (*renderer.Geometry, error)
	CreateTexture(ctx context.Context, name string, img *image.RGBA) (*renderer.Texture, error)
	// Retire runs release once frames in flight no longer read the
	// resource.
	Retire(release func())
}

// AssetSource loads assets by name. *assets.AssetManager implements it.
type AssetSource interface {
	Load(name string) (any, error)
}

// Scene owns the meshes, textures and materials of a level and the
// objects, lights and camera that use them.
type Scene struct {
	uploader  Uploader
	maxLights uint32

	meshes    *Registry[*renderer.Geometry]
	textures  *Registry[*renderer.Texture]
	materials *Registry[*Material]

	objects []*Object
	lights  []shaders.Light
	camera  *Camera
	ambient math.Vec4
	post    core.PostConfig

	elapsed float32
}

func New(uploader Uploader, cfg *core.Config) *Scene {
	s := &Scene{
		uploader:  uploader,
		maxLights: cfg.Renderer.MaxLights,
		meshes:    NewRegistry("mesh", func(g *renderer.Geometry) { uploader.Retire(g.Release) }),
		textures:  NewRegistry("texture", func(t *renderer.Texture) { uploader.Retire(t.Release) }),
		camera:    NewCamera(cfg.Camera),
		ambient:   math.NewVec4(0.1, 0.1, 0.1, 1),
		post:      cfg.Post,
	}
	s.materials = NewRegistry("material", s.releaseMaterialTextures)
	return s
}

func (s *Scene) releaseMaterialTextures(m *Material) {
	for _, t := range m.textures {
		if t.handle.Valid() {
			_ = s.textures.Release(t.handle)
		}
	}
}

func (s *Scene) Camera() *Camera {
	return s.camera
}

func (s *Scene) SetAmbient(ambient math.Vec4) {
	s.ambient = ambient
}

// SetPost replaces the post processing settings from the next frame on.
func (s *Scene) SetPost(post core.PostConfig) {
	s.post = post
}

func (s *Scene) Post() core.PostConfig {
	return s.post
}

// AddMesh uploads a mesh under name. A name already registered returns
// the existing mesh with one more reference.
func (s *Scene) AddMesh(ctx context.Context, name string, m *loaders.MeshData) (Handle, error) {
	if h, _, err := s.meshes.AcquireByName(name); err == nil {
		return h, nil
	}
	if m == nil {
		return InvalidHandle, fmt.Errorf("mesh `%s`: %w", name, core.ErrNilResource)
	}
	g, err := s.uploader.CreateGeometry(ctx, name, m.Vertices, m.Indices)
	if err != nil {
		return InvalidHandle, err
	}
	h, err := s.meshes.Add(name, g)
	if err != nil {
		g.Release()
		return InvalidHandle, err
	}
	return h, nil
}

// LoadMesh loads the named mesh asset unless it is already registered.
func (s *Scene) LoadMesh(ctx context.Context, src AssetSource, name string) (Handle, error) {
	if h, _, err := s.meshes.AcquireByName(name); err == nil {
		return h, nil
	}
	v, err := src.Load(name)
	if err != nil {
		return InvalidHandle, err
	}
	m, ok := v.(*loaders.MeshData)
	if !ok {
		return InvalidHandle, fmt.Errorf("asset `%s` is %T, not a mesh: %w", name, v, core.ErrUnsupported)
	}
	return s.AddMesh(ctx, name, m)
}

// AddTexture uploads img under name, sharing an existing texture of the
// same name.
func (s *Scene) AddTexture(ctx context.Context, name string, img *image.RGBA) (Handle, error) {
	if h, _, err := s.textures.AcquireByName(name); err == nil {
		return h, nil
	}
	t, err := s.uploader.CreateTexture(ctx, name, img)
	if err != nil {
		return InvalidHandle, err
	}
	h, err := s.textures.Add(name, t)
	if err != nil {
		t.Release()
		return InvalidHandle, err
	}
	return h, nil
}

func (s *Scene) LoadTexture(ctx context.Context, src AssetSource, name string) (Handle, error) {
	if h, _, err := s.textures.AcquireByName(name); err == nil {
		return h, nil
	}
	v, err := src.Load(name)
	if err != nil {
		return InvalidHandle, err
	}
	img, ok := v.(*image.RGBA)
	if !ok {
		return InvalidHandle, fmt.Errorf("asset `%s` is %T, not a texture: %w", name, v, core.ErrUnsupported)
	}
	return s.AddTexture(ctx, name, img)
}

// AddMaterial registers m. The scene owns it from now on.
func (s *Scene) AddMaterial(m *Material) (Handle, error) {
	return s.materials.Add(m.Name, m)
}

// BindTexture gives the material the texture behind th as its kind
// texture. The material holds a reference until it is destroyed; the
// caller's reference is left untouched.
func (s *Scene) BindTexture(mh Handle, kind TextureType, th Handle) error {
	m, ok := s.materials.Get(mh)
	if !ok {
		return fmt.Errorf("material %s: %w", mh, ErrInvalidHandle)
	}
	if kind < 0 || int(kind) >= len(m.textures) {
		return fmt.Errorf("texture slot %d: %w", kind, core.ErrIndexOutOfRange)
	}
	t, err := s.textures.Acquire(th)
	if err != nil {
		return err
	}
	if old := m.textures[kind].handle; old.Valid() {
		_ = s.textures.Release(old)
	}
	m.setTexture(kind, t, th)
	return nil
}

// LoadMaterial loads a material file and every texture it names.
// Textures that fail to load are skipped with a warning.
func (s *Scene) LoadMaterial(ctx context.Context, src AssetSource, name string) (Handle, error) {
	if h, _, err := s.materials.AcquireByName(name); err == nil {
		return h, nil
	}
	v, err := src.Load(name)
	if err != nil {
		return InvalidHandle, err
	}
	mc, ok := v.(*loaders.MaterialConfig)
	if !ok {
		return InvalidHandle, fmt.Errorf("asset `%s` is %T, not a material: %w", name, v, core.ErrUnsupported)
	}

	m := NewMaterial(name)
	m.Albedo = math.NewVec4(mc.Albedo[0], mc.Albedo[1], mc.Albedo[2], mc.Albedo[3])
	m.Roughness = mc.Roughness
	m.Metallic = mc.Metallic
	m.RenderTexture = mc.RenderTexture
	mh, err := s.AddMaterial(m)
	if err != nil {
		return InvalidHandle, err
	}
	for i, path := range mc.Maps() {
		if path == "" {
			continue
		}
		th, err := s.LoadTexture(ctx, src, path)
		if err != nil {
			core.LogWarn("material `%s`: skipping %s texture: %s", name, TextureType(i), err)
			continue
		}
		if err := s.BindTexture(mh, TextureType(i), th); err != nil {
			core.LogWarn("material `%s`: %s", name, err)
		}
		// the material holds its own reference now
		_ = s.textures.Release(th)
	}
	return mh, nil
}

func (s *Scene) Mesh(h Handle) (*renderer.Geometry, bool) {
	return s.meshes.Get(h)
}

func (s *Scene) Material(h Handle) (*Material, bool) {
	return s.materials.Get(h)
}

func (s *Scene) Texture(h Handle) (*renderer.Texture, bool) {
	return s.textures.Get(h)
}

// ReleaseMesh, ReleaseTexture and ReleaseMaterial drop the caller's
// reference taken by the matching Add or Load call.
func (s *Scene) ReleaseMesh(h Handle) error {
	return s.meshes.Release(h)
}

func (s *Scene) ReleaseTexture(h Handle) error {
	return s.textures.Release(h)
}

func (s *Scene) ReleaseMaterial(h Handle) error {
	return s.materials.Release(h)
}

// AddObject places o in the scene. The object takes its own references
// to its mesh and material.
func (s *Scene) AddObject(o *Object) error {
	if o == nil {
		return core.ErrNilResource
	}
	for _, existing := range s.objects {
		if existing.Name == o.Name {
			return fmt.Errorf("object `%s`: %w", o.Name, ErrDuplicateName)
		}
	}
	if _, err := s.meshes.Acquire(o.Mesh); err != nil {
		return fmt.Errorf("object `%s`: %w", o.Name, err)
	}
	if o.Material.Valid() {
		if _, err := s.materials.Acquire(o.Material); err != nil {
			_ = s.meshes.Release(o.Mesh)
			return fmt.Errorf("object `%s`: %w", o.Name, err)
		}
	}
	o.origin = o.Position
	s.objects = append(s.objects, o)
	return nil
}

func (s *Scene) Object(name string) (*Object, bool) {
	for _, o := range s.objects {
		if o.Name == name {
			return o, true
		}
	}
	return nil, false
}

func (s *Scene) Objects() []*Object {
	return s.objects
}

// RemoveObject drops the named object and its references.
func (s *Scene) RemoveObject(name string) bool {
	for i, o := range s.objects {
		if o.Name != name {
			continue
		}
		s.objects = append(s.objects[:i], s.objects[i+1:]...)
		s.releaseObject(o)
		return true
	}
	return false
}

func (s *Scene) releaseObject(o *Object) {
	_ = s.meshes.Release(o.Mesh)
	if o.Material.Valid() {
		_ = s.materials.Release(o.Material)
	}
}

// AddLight appends l; lights past the renderer's limit are refused.
func (s *Scene) AddLight(l shaders.Light) error {
	if uint32(len(s.lights)) >= s.maxLights {
		err := fmt.Errorf("scene already has %d lights: %w", len(s.lights), core.ErrCapacityExhausted)
		core.LogWarn(err.Error())
		return err
	}
	s.lights = append(s.lights, l)
	return nil
}

// Lights returns the scene lights; entries may be modified in place.
func (s *Scene) Lights() []shaders.Light {
	return s.lights
}

// Update advances every object's behaviours by dt seconds.
func (s *Scene) Update(dt float32) {
	s.elapsed += dt
	for _, o := range s.objects {
		o.update(s.elapsed, dt)
	}
}

// SetupForRender writes the frame's constant buffers: one object and
// material slot per drawable, then lights, post and ray tracing camera.
func (s *Scene) SetupForRender(b renderer.Backend, frame uint32) error {
	w, h := b.Size()
	aspect := float32(1)
	if h > 0 {
		aspect = float32(w) / float32(h)
	}
	view := s.camera.View()
	proj := s.camera.Projection(aspect)
	eye := s.camera.Position().ToVec4(1)

	for i, o := range s.visible(b.MaxObjects()) {
		slot := uint32(i)
		if err := b.SetObjectConstantBuffer(frame, slot, &shaders.ObjectConstants{Projection: proj, View: view, World: o.World()}); err != nil {
			return err
		}
		mat := shaders.NewMaterialConstants()
		if m, ok := s.materials.Get(o.Material); ok {
			mat = m.Constants()
		}
		if err := b.SetMaterialConstantBuffer(frame, slot, &mat); err != nil {
			return err
		}
	}

	lights := shaders.LightsConstants{EyePosition: eye, GlobalAmbient: s.ambient, Lights: s.lights}
	if err := b.SetLightsConstantBuffer(frame, &lights); err != nil {
		return err
	}

	post := shaders.PostConstants{
		BlurXCoverage:      s.post.BlurXCoverage,
		BlurStrength:       s.post.BlurStrength,
		TextureWidth:       w,
		TextureHeight:      h,
		EnableBlur:         s.post.EnableBlur,
		EnableDepthOfField: s.post.EnableDepthOfField,
		DepthOfFieldScale:  s.post.DepthOfFieldScale,
		BlurSharpness:      s.post.BlurSharpness,
		EnableGreyscale:    s.post.EnableGreyscale,
	}
	if err := b.SetPostConstantBuffer(frame, &post); err != nil {
		return err
	}

	camera := shaders.CameraConstants{
		InverseView:       view.Inverse(),
		InverseProjection: proj.Inverse(),
		Eye:               eye,
	}
	return b.SetCameraConstantBuffer(frame, &camera)
}

// visible lists the objects that get a slot this frame, in slot order.
func (s *Scene) visible(limit uint32) []*Object {
	if uint32(len(s.objects)) > limit {
		return s.objects[:limit]
	}
	return s.objects
}

// Drawables lists every object in slot order. The renderer skips the
// ones past its object limit.
func (s *Scene) Drawables() []renderer.Drawable {
	out := make([]renderer.Drawable, 0, len(s.objects))
	for _, o := range s.objects {
		d := renderer.Drawable{Name: o.Name, World: o.World()}
		if g, ok := s.meshes.Get(o.Mesh); ok {
			d.Geometry = g
		}
		if m, ok := s.materials.Get(o.Material); ok {
			d.Textures = m.Textures()
			d.RenderTexture = m.RenderTexture
		}
		out = append(out, d)
	}
	return out
}

// Release destroys every object and resource of the scene. The GPU must
// be idle.
func (s *Scene) Release() {
	for _, o := range s.objects {
		s.releaseObject(o)
	}
	s.objects = nil
	s.lights = nil
	s.materials.Clear()
	s.meshes.Clear()
	s.textures.Clear()
}
