package testbed

import (
	"context"
	"fmt"
	"image"
	"image/color"

	"github.com/spaghettifunk/refract/engine"
	"github.com/spaghettifunk/refract/engine/core"
	"github.com/spaghettifunk/refract/engine/math"
	"github.com/spaghettifunk/refract/engine/scene"
)

const (
	crateMaterial = "materials/crate.kmt"
	moveSpeed     = 4.0
	lookSpeed     = 0.005
)

type TestGame struct {
	*engine.Game
}

type gameState struct {
	width  uint32
	height uint32

	crate scene.Handle
	cube  scene.Handle
	floor scene.Handle
}

func NewTestGame() *TestGame {
	tg := &TestGame{
		Game: &engine.Game{
			ApplicationConfig: &engine.ApplicationConfig{
				StartPosX:   100,
				StartPosY:   100,
				StartWidth:  1280,
				StartHeight: 720,
				Name:        "Refract",
				LogLevel:    "debug",
			},
			State: &gameState{
				crate: scene.InvalidHandle,
				cube:  scene.InvalidHandle,
				floor: scene.InvalidHandle,
			},
		},
	}

	tg.FnBoot = tg.Boot
	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnOnResize = tg.OnResize
	tg.FnShutdown = tg.Shutdown

	return tg
}

func (g *TestGame) Boot(e *engine.Engine) error {
	core.LogInfo("booting testbed...")
	e.Events().Register(core.EVENT_CODE_KEY_PRESSED, func(context core.EventContext) bool {
		return g.gameOnKey(e, context)
	})
	return nil
}

// Initialize builds the demo: a row of crates with different behaviours on
// a floor, lit by four coloured point lights.
func (g *TestGame) Initialize(e *engine.Engine) error {
	core.LogDebug("initializing testbed...")
	state := g.State.(*gameState)
	s := e.Scene()
	ctx := context.Background()

	var err error
	if state.crate, err = s.LoadMaterial(ctx, e.Assets(), crateMaterial); err != nil {
		core.LogWarn("using the generated crate material: %s", err)
		if state.crate, err = g.generatedCrate(ctx, s); err != nil {
			return err
		}
	}

	if state.cube, err = s.AddMesh(ctx, "cube", scene.NewCube(1, 1, 1, 1, 1)); err != nil {
		return err
	}
	if state.floor, err = s.AddMesh(ctx, "floor", scene.NewPlane(20, 20, 4, 4, 8, 8)); err != nil {
		return err
	}

	floor := scene.NewObject("floor", state.floor, state.crate)
	floor.Position = math.NewVec3(0, -1, 0)
	objects := []*scene.Object{floor}

	spinning := scene.NewObject("crate_spin", state.cube, state.crate)
	spinning.Behaviours = []scene.Behaviour{scene.Spin{Axis: math.NewVec3(0.3, 1, 0), Speed: 1}}
	objects = append(objects, spinning)

	bobbing := scene.NewObject("crate_bob", state.cube, state.crate)
	bobbing.Position = math.NewVec3(-3, 0, 0)
	bobbing.Behaviours = []scene.Behaviour{scene.Bob{Amplitude: 0.5, Speed: 2}}
	objects = append(objects, bobbing)

	orbiting := scene.NewObject("crate_orbit", state.cube, state.crate)
	orbiting.Scale = math.NewVec3(0.5, 0.5, 0.5)
	orbiting.Behaviours = []scene.Behaviour{
		scene.Orbit{Centre: math.NewVec3(3, 0, 0), Radius: 1.5, Speed: 1},
		scene.Spin{Axis: math.NewVec3Up(), Speed: 2},
	}
	objects = append(objects, orbiting)

	for _, o := range objects {
		if err := s.AddObject(o); err != nil {
			return err
		}
	}

	lights := []struct {
		position math.Vec3
		colour   math.Vec4
	}{
		{math.NewVec3(-6.5, 0, -4), math.NewVec4(1, 1, 1, 1)},
		{math.NewVec3(6.5, 0, -4), math.NewVec4(1, 0, 0, 1)},
		{math.NewVec3(-6.5, 0, 4), math.NewVec4(0, 1, 0, 1)},
		{math.NewVec3(6.5, 0, 4), math.NewVec4(0, 0, 1, 1)},
	}
	for _, l := range lights {
		if err := s.AddLight(scene.NewPointLight(l.position, l.colour)); err != nil {
			return err
		}
	}
	s.SetAmbient(math.NewVec4(0.1, 0.1, 0.1, 1))

	camera := s.Camera()
	camera.SetPosition(math.NewVec3(0, 2, -8))
	camera.LookAt(math.NewVec3Zero())
	return nil
}

// generatedCrate is a checkered material for runs without an assets folder.
func (g *TestGame) generatedCrate(ctx context.Context, s *scene.Scene) (scene.Handle, error) {
	const size, cell = 64, 8
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			c := color.RGBA{R: 150, G: 100, B: 50, A: 255}
			if (x/cell+y/cell)%2 == 0 {
				c = color.RGBA{R: 200, G: 150, B: 90, A: 255}
			}
			img.SetRGBA(x, y, c)
		}
	}
	th, err := s.AddTexture(ctx, "crate_albedo", img)
	if err != nil {
		return scene.InvalidHandle, err
	}
	mh, err := s.AddMaterial(scene.NewMaterial("crate"))
	if err != nil {
		return scene.InvalidHandle, err
	}
	if err := s.BindTexture(mh, scene.TextureAlbedo, th); err != nil {
		return scene.InvalidHandle, err
	}
	// the material holds its own reference
	return mh, s.ReleaseTexture(th)
}

func (g *TestGame) Update(e *engine.Engine, deltaTime float64) error {
	input := e.Input()
	camera := e.Scene().Camera()
	step := float32(moveSpeed * deltaTime)

	if input.IsKeyDown(core.KEY_W) || input.IsKeyDown(core.KEY_UP) {
		camera.MoveForward(step)
	}
	if input.IsKeyDown(core.KEY_S) || input.IsKeyDown(core.KEY_DOWN) {
		camera.MoveBackward(step)
	}
	if input.IsKeyDown(core.KEY_A) || input.IsKeyDown(core.KEY_LEFT) {
		camera.StrafeLeft(step)
	}
	if input.IsKeyDown(core.KEY_D) || input.IsKeyDown(core.KEY_RIGHT) {
		camera.StrafeRight(step)
	}
	if input.IsKeyDown(core.KEY_E) || input.IsKeyDown(core.KEY_SPACE) {
		camera.MoveUp(step)
	}
	if input.IsKeyDown(core.KEY_Q) || input.IsKeyDown(core.KEY_X) {
		camera.MoveDown(step)
	}

	if dx, dy := input.MouseDelta(); dx != 0 || dy != 0 {
		camera.UpdateLook(float32(dx)*lookSpeed, float32(-dy)*lookSpeed)
	}
	return nil
}

func (g *TestGame) OnResize(e *engine.Engine, width uint32, height uint32) error {
	state := g.State.(*gameState)
	state.width = width
	state.height = height
	core.LogDebug("testbed resized to %dx%d", width, height)
	return nil
}

func (g *TestGame) Shutdown(e *engine.Engine) error {
	state := g.State.(*gameState)
	s := e.Scene()
	// objects keep their own references, so these only drop ours
	for _, h := range []scene.Handle{state.cube, state.floor} {
		if h.Valid() {
			if err := s.ReleaseMesh(h); err != nil {
				return fmt.Errorf("testbed shutdown: %w", err)
			}
		}
	}
	if state.crate.Valid() {
		if err := s.ReleaseMaterial(state.crate); err != nil {
			return fmt.Errorf("testbed shutdown: %w", err)
		}
	}
	core.LogInfo("testbed shut down")
	return nil
}

func (g *TestGame) gameOnKey(e *engine.Engine, context core.EventContext) bool {
	ke, ok := context.Data.(*core.KeyEvent)
	if !ok {
		return false
	}
	switch ke.KeyCode {
	case core.KEY_R:
		if s := e.Scene(); s != nil {
			s.Camera().Reset()
			core.LogDebug("camera reset")
		}
		return true
	case core.KEY_P:
		m := e.Metrics()
		core.LogInfo("%.1f fps, %.2f ms/frame, %s backend", m.FPS(), m.FrameTime(), e.Mode())
		return true
	}
	return false
}
