package scene

import (
	"github.com/spaghettifunk/refract/engine/math"
)

// Object places a mesh with a material in the world. Rotation is in
// radians around x, y then z.
type Object struct {
	Name     string
	Mesh     Handle
	Material Handle

	Position math.Vec3
	Rotation math.Vec3
	Scale    math.Vec3

	Behaviours []Behaviour

	// origin is the position when the object was added; Bob and Orbit
	// move relative to it.
	origin math.Vec3
}

func NewObject(name string, mesh, material Handle) *Object {
	return &Object{
		Name:     name,
		Mesh:     mesh,
		Material: material,
		Scale:    math.NewVec3One(),
	}
}

// World is scale, then rotation, then translation.
func (o *Object) World() math.Mat4 {
	return math.NewMat4Scale(o.Scale).
		Mul(math.NewMat4EulerXYZ(o.Rotation.X, o.Rotation.Y, o.Rotation.Z)).
		Mul(math.NewMat4Translation(o.Position))
}

func (o *Object) Origin() math.Vec3 {
	return o.origin
}

func (o *Object) update(elapsed, dt float32) {
	for _, b := range o.Behaviours {
		b.Apply(o, elapsed, dt)
	}
}
