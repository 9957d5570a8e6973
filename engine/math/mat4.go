package math

import "github.com/chewxy/math32"

func NewMat4Identity() Mat4 {
	m := Mat4{}
	m.Data[0] = 1.0
	m.Data[5] = 1.0
	m.Data[10] = 1.0
	m.Data[15] = 1.0
	return m
}

func NewMat4(data [16]float32) Mat4 {
	return Mat4{Data: data}
}

func (mt Mat4) At(row, col int) float32 {
	return mt.Data[row*4+col]
}

// Mul returns mt * other. With row vectors, mt is applied first.
func (mt Mat4) Mul(other Mat4) Mat4 {
	out := Mat4{}
	for row := 0; row < 4; row++ {
		for col := 0; col < 4; col++ {
			sum := float32(0)
			for i := 0; i < 4; i++ {
				sum += mt.Data[row*4+i] * other.Data[i*4+col]
			}
			out.Data[row*4+col] = sum
		}
	}
	return out
}

func (mt Mat4) Transposed() Mat4 {
	out := Mat4{}
	for row := 0; row < 4; row++ {
		for col := 0; col < 4; col++ {
			out.Data[col*4+row] = mt.Data[row*4+col]
		}
	}
	return out
}

// Inverse uses Gauss-Jordan elimination with partial pivoting. A singular
// matrix yields the identity.
func (mt Mat4) Inverse() Mat4 {
	a := mt.Data
	inv := NewMat4Identity().Data

	for col := 0; col < 4; col++ {
		pivot := col
		for r := col + 1; r < 4; r++ {
			if math32.Abs(a[r*4+col]) > math32.Abs(a[pivot*4+col]) {
				pivot = r
			}
		}
		if math32.Abs(a[pivot*4+col]) < 1e-12 {
			return NewMat4Identity()
		}
		if pivot != col {
			for c := 0; c < 4; c++ {
				a[col*4+c], a[pivot*4+c] = a[pivot*4+c], a[col*4+c]
				inv[col*4+c], inv[pivot*4+c] = inv[pivot*4+c], inv[col*4+c]
			}
		}
		d := 1 / a[col*4+col]
		for c := 0; c < 4; c++ {
			a[col*4+c] *= d
			inv[col*4+c] *= d
		}
		for r := 0; r < 4; r++ {
			if r == col {
				continue
			}
			f := a[r*4+col]
			if f == 0 {
				continue
			}
			for c := 0; c < 4; c++ {
				a[r*4+c] -= f * a[col*4+c]
				inv[r*4+c] -= f * inv[col*4+c]
			}
		}
	}
	return Mat4{Data: inv}
}

func (mt Mat4) Compare(other Mat4, tolerance float32) bool {
	for i := range mt.Data {
		if math32.Abs(mt.Data[i]-other.Data[i]) > tolerance {
			return false
		}
	}
	return true
}

func NewMat4Translation(position Vec3) Mat4 {
	m := NewMat4Identity()
	m.Data[12] = position.X
	m.Data[13] = position.Y
	m.Data[14] = position.Z
	return m
}

func NewMat4Scale(scale Vec3) Mat4 {
	m := NewMat4Identity()
	m.Data[0] = scale.X
	m.Data[5] = scale.Y
	m.Data[10] = scale.Z
	return m
}

func NewMat4EulerX(angleRadians float32) Mat4 {
	m := NewMat4Identity()
	c, s := math32.Cos(angleRadians), math32.Sin(angleRadians)
	m.Data[5] = c
	m.Data[6] = s
	m.Data[9] = -s
	m.Data[10] = c
	return m
}

func NewMat4EulerY(angleRadians float32) Mat4 {
	m := NewMat4Identity()
	c, s := math32.Cos(angleRadians), math32.Sin(angleRadians)
	m.Data[0] = c
	m.Data[2] = -s
	m.Data[8] = s
	m.Data[10] = c
	return m
}

func NewMat4EulerZ(angleRadians float32) Mat4 {
	m := NewMat4Identity()
	c, s := math32.Cos(angleRadians), math32.Sin(angleRadians)
	m.Data[0] = c
	m.Data[1] = s
	m.Data[4] = -s
	m.Data[5] = c
	return m
}

// NewMat4EulerXYZ builds a roll (z), then pitch (x), then yaw (y) rotation.
func NewMat4EulerXYZ(xRadians, yRadians, zRadians float32) Mat4 {
	return NewMat4EulerZ(zRadians).Mul(NewMat4EulerX(xRadians)).Mul(NewMat4EulerY(yRadians))
}

// NewMat4PerspectiveLH maps view space depth [near, far] to [0, 1].
func NewMat4PerspectiveLH(fovRadians, aspectRatio, nearClip, farClip float32) Mat4 {
	h := 1.0 / math32.Tan(fovRadians*0.5)
	w := h / aspectRatio
	rng := farClip / (farClip - nearClip)

	m := Mat4{}
	m.Data[0] = w
	m.Data[5] = h
	m.Data[10] = rng
	m.Data[11] = 1.0
	m.Data[14] = -rng * nearClip
	return m
}

// NewMat4LookToLH builds a left-handed view matrix looking along direction.
func NewMat4LookToLH(position, direction, up Vec3) Mat4 {
	z := direction.Normalized()
	x := up.Cross(z).Normalized()
	y := z.Cross(x)

	m := NewMat4Identity()
	m.Data[0], m.Data[1], m.Data[2] = x.X, y.X, z.X
	m.Data[4], m.Data[5], m.Data[6] = x.Y, y.Y, z.Y
	m.Data[8], m.Data[9], m.Data[10] = x.Z, y.Z, z.Z
	m.Data[12] = -x.Dot(position)
	m.Data[13] = -y.Dot(position)
	m.Data[14] = -z.Dot(position)
	return m
}

func NewMat4LookAtLH(position, target, up Vec3) Mat4 {
	return NewMat4LookToLH(position, target.Sub(position), up)
}

func (mt Mat4) Forward() Vec3 {
	return Vec3{mt.Data[8], mt.Data[9], mt.Data[10]}.Normalized()
}

func (mt Mat4) Right() Vec3 {
	return Vec3{mt.Data[0], mt.Data[1], mt.Data[2]}.Normalized()
}

func (mt Mat4) Up() Vec3 {
	return Vec3{mt.Data[4], mt.Data[5], mt.Data[6]}.Normalized()
}

func (mt Mat4) Translation() Vec3 {
	return Vec3{mt.Data[12], mt.Data[13], mt.Data[14]}
}
