package scene

import (
	"github.com/chewxy/math32"

	"github.com/spaghettifunk/refract/engine/math"
)

// Behaviour animates an object during Scene.Update. elapsed is the time
// since the scene started, dt the time since the last update, both in
// seconds.
type Behaviour interface {
	Apply(o *Object, elapsed, dt float32)
}

// Static leaves the object where it is.
type Static struct{}

func (Static) Apply(*Object, float32, float32) {}

// Spin rotates the object around Axis at Speed radians per second.
type Spin struct {
	Axis  math.Vec3
	Speed float32
}

func (s Spin) Apply(o *Object, _, dt float32) {
	o.Rotation = o.Rotation.Add(s.Axis.MulScalar(s.Speed * dt))
}

// Orbit circles Centre in the xz plane at Speed radians per second,
// keeping the object's height.
type Orbit struct {
	Centre math.Vec3
	Radius float32
	Speed  float32
}

func (b Orbit) Apply(o *Object, elapsed, _ float32) {
	angle := elapsed * b.Speed
	o.Position = math.NewVec3(
		b.Centre.X+math32.Cos(angle)*b.Radius,
		o.Position.Y,
		b.Centre.Z+math32.Sin(angle)*b.Radius,
	)
}

// Bob moves the object up and down around its origin.
type Bob struct {
	Amplitude float32
	Speed     float32
}

func (b Bob) Apply(o *Object, elapsed, _ float32) {
	o.Position.Y = o.origin.Y + math32.Sin(elapsed*b.Speed)*b.Amplitude
}
