package math

import "github.com/chewxy/math32"

func NewQuatIdentity() Quaternion {
	return Quaternion{0, 0, 0, 1}
}

// NewQuatFromAxisAngle builds a rotation of angle radians around axis.
func NewQuatFromAxisAngle(axis Vec3, angle float32, normalize bool) Quaternion {
	s := math32.Sin(0.5 * angle)
	c := math32.Cos(0.5 * angle)
	q := Quaternion{s * axis.X, s * axis.Y, s * axis.Z, c}
	if normalize {
		q = q.Normalize()
	}
	return q
}

// NewQuatFromEuler matches NewMat4EulerXYZ: roll, then pitch, then yaw.
func NewQuatFromEuler(x, y, z float32) Quaternion {
	qx := NewQuatFromAxisAngle(Vec3{1, 0, 0}, x, false)
	qy := NewQuatFromAxisAngle(Vec3{0, 1, 0}, y, false)
	qz := NewQuatFromAxisAngle(Vec3{0, 0, 1}, z, false)
	return qz.Then(qx).Then(qy)
}

func (q Quaternion) Length() float32 {
	return math32.Sqrt(q.X*q.X + q.Y*q.Y + q.Z*q.Z + q.W*q.W)
}

func (q Quaternion) Normalize() Quaternion {
	l := q.Length()
	if l == 0 {
		return NewQuatIdentity()
	}
	return Quaternion{q.X / l, q.Y / l, q.Z / l, q.W / l}
}

func (q Quaternion) Conjugate() Quaternion {
	return Quaternion{-q.X, -q.Y, -q.Z, q.W}
}

// Mul is the Hamilton product q * o.
func (q Quaternion) Mul(o Quaternion) Quaternion {
	return Quaternion{
		q.W*o.X + q.X*o.W + q.Y*o.Z - q.Z*o.Y,
		q.W*o.Y - q.X*o.Z + q.Y*o.W + q.Z*o.X,
		q.W*o.Z + q.X*o.Y - q.Y*o.X + q.Z*o.W,
		q.W*o.W - q.X*o.X - q.Y*o.Y - q.Z*o.Z,
	}
}

// Then composes rotations in application order: q first, then o.
func (q Quaternion) Then(o Quaternion) Quaternion {
	return o.Mul(q)
}

func (q Quaternion) Dot(o Quaternion) float32 {
	return q.X*o.X + q.Y*o.Y + q.Z*o.Z + q.W*o.W
}

// ToMat4 returns the row-vector rotation matrix for q.
func (q Quaternion) ToMat4() Mat4 {
	n := q.Normalize()
	xx, yy, zz := n.X*n.X, n.Y*n.Y, n.Z*n.Z
	xy, xz, yz := n.X*n.Y, n.X*n.Z, n.Y*n.Z
	wx, wy, wz := n.W*n.X, n.W*n.Y, n.W*n.Z

	m := NewMat4Identity()
	m.Data[0] = 1 - 2*(yy+zz)
	m.Data[1] = 2 * (xy + wz)
	m.Data[2] = 2 * (xz - wy)
	m.Data[4] = 2 * (xy - wz)
	m.Data[5] = 1 - 2*(xx+zz)
	m.Data[6] = 2 * (yz + wx)
	m.Data[8] = 2 * (xz + wy)
	m.Data[9] = 2 * (yz - wx)
	m.Data[10] = 1 - 2*(xx+yy)
	return m
}

// Slerp interpolates along the shortest arc between q and other.
func (q Quaternion) Slerp(other Quaternion, percentage float32) Quaternion {
	v0 := q.Normalize()
	v1 := other.Normalize()
	dot := v0.Dot(v1)
	if dot < 0 {
		v1 = Quaternion{-v1.X, -v1.Y, -v1.Z, -v1.W}
		dot = -dot
	}
	if dot > 0.9995 {
		out := Quaternion{
			v0.X + (v1.X-v0.X)*percentage,
			v0.Y + (v1.Y-v0.Y)*percentage,
			v0.Z + (v1.Z-v0.Z)*percentage,
			v0.W + (v1.W-v0.W)*percentage,
		}
		return out.Normalize()
	}
	theta0 := math32.Acos(dot)
	theta := theta0 * percentage
	s0 := math32.Cos(theta) - dot*math32.Sin(theta)/math32.Sin(theta0)
	s1 := math32.Sin(theta) / math32.Sin(theta0)
	return Quaternion{
		v0.X*s0 + v1.X*s1,
		v0.Y*s0 + v1.Y*s1,
		v0.Z*s0 + v1.Z*s1,
		v0.W*s0 + v1.W*s1,
	}
}
