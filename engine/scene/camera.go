package scene

import (
	"github.com/chewxy/math32"

	"github.com/spaghettifunk/refract/engine/core"
	"github.com/spaghettifunk/refract/engine/math"
)

// maxPitch keeps the look direction away from the up vector.
var maxPitch = math.DegToRad(89)

// Camera is a free look camera. Yaw turns around y, pitch around the
// camera's right axis; both zero looks down +z.
type Camera struct {
	FOV  float32
	Near float32
	Far  float32

	position math.Vec3
	yaw      float32
	pitch    float32

	isDirty bool
	view    math.Mat4
}

func NewCamera(cfg core.CameraConfig) *Camera {
	c := &Camera{
		FOV:  math.DegToRad(cfg.FOV),
		Near: cfg.Near,
		Far:  cfg.Far,
	}
	c.Reset()
	return c
}

func (c *Camera) Reset() {
	c.position = math.NewVec3(0, 0, -4)
	c.yaw = 0
	c.pitch = 0
	c.isDirty = true
}

func (c *Camera) Position() math.Vec3 {
	return c.position
}

func (c *Camera) SetPosition(position math.Vec3) {
	c.position = position
	c.isDirty = true
}

// Forward is the unit look direction.
func (c *Camera) Forward() math.Vec3 {
	cp := math32.Cos(c.pitch)
	return math.NewVec3(math32.Sin(c.yaw)*cp, math32.Sin(c.pitch), math32.Cos(c.yaw)*cp)
}

func (c *Camera) Right() math.Vec3 {
	return math.NewVec3Up().Cross(c.Forward()).Normalized()
}

// LookAt turns the camera towards target.
func (c *Camera) LookAt(target math.Vec3) {
	d := target.Sub(c.position)
	if d.LengthSquared() == 0 {
		return
	}
	d = d.Normalized()
	c.yaw = math32.Atan2(d.X, d.Z)
	c.pitch = math.Clamp(math32.Asin(d.Y), -maxPitch, maxPitch)
	c.isDirty = true
}

func (c *Camera) MoveForward(amount float32) {
	c.move(c.Forward().MulScalar(amount))
}

func (c *Camera) MoveBackward(amount float32) {
	c.move(c.Forward().MulScalar(-amount))
}

func (c *Camera) StrafeLeft(amount float32) {
	c.move(c.Right().MulScalar(-amount))
}

func (c *Camera) StrafeRight(amount float32) {
	c.move(c.Right().MulScalar(amount))
}

func (c *Camera) MoveUp(amount float32) {
	c.move(math.NewVec3Up().MulScalar(amount))
}

func (c *Camera) MoveDown(amount float32) {
	c.move(math.NewVec3Up().MulScalar(-amount))
}

func (c *Camera) move(delta math.Vec3) {
	c.position = c.position.Add(delta)
	c.isDirty = true
}

// UpdateLook turns the camera by dx radians of yaw and dy of pitch.
func (c *Camera) UpdateLook(dx, dy float32) {
	c.yaw += dx
	c.pitch = math.Clamp(c.pitch+dy, -maxPitch, maxPitch)
	c.isDirty = true
}

func (c *Camera) View() math.Mat4 {
	if c.isDirty {
		c.view = math.NewMat4LookToLH(c.position, c.Forward(), math.NewVec3Up())
		c.isDirty = false
	}
	return c.view
}

func (c *Camera) Projection(aspect float32) math.Mat4 {
	return math.NewMat4PerspectiveLH(c.FOV, aspect, c.Near, c.Far)
}
