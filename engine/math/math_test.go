package math

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const tol = float32(1e-5)

func TestMat4InverseRoundTrip(t *testing.T) {
	m := NewMat4Scale(NewVec3(2, 3, 4)).
		Mul(NewMat4EulerXYZ(0.3, -1.1, 0.7)).
		Mul(NewMat4Translation(NewVec3(5, -2, 9)))

	assert.True(t, m.Mul(m.Inverse()).Compare(NewMat4Identity(), 1e-4))
	assert.True(t, m.Inverse().Mul(m).Compare(NewMat4Identity(), 1e-4))
}

func TestMat4TransposeTwice(t *testing.T) {
	m := NewMat4EulerXYZ(0.1, 0.2, 0.3).Mul(NewMat4Translation(NewVec3(1, 2, 3)))
	assert.Equal(t, m, m.Transposed().Transposed())
	assert.Equal(t, m.At(3, 0), m.Transposed().At(0, 3))
}

func TestRowVectorTranslation(t *testing.T) {
	p := NewVec3(1, 1, 1).Transform(NewMat4Translation(NewVec3(1, 2, 3)))
	assert.True(t, p.Compare(NewVec3(2, 3, 4), tol))

	d := NewVec3(1, 1, 1).TransformDirection(NewMat4Translation(NewVec3(1, 2, 3)))
	assert.True(t, d.Compare(NewVec3(1, 1, 1), tol))
}

func TestQuaternionMatchesEuler(t *testing.T) {
	q := NewQuatFromEuler(0.4, -0.8, 1.2)
	assert.True(t, q.ToMat4().Compare(NewMat4EulerXYZ(0.4, -0.8, 1.2), 1e-4))

	yaw := NewQuatFromAxisAngle(NewVec3Up(), K_PI/2, true)
	x := NewVec3(1, 0, 0).Transform(yaw.ToMat4())
	assert.True(t, x.Compare(NewVec3(0, 0, -1), tol))
}

func TestPerspectiveDepthRange(t *testing.T) {
	proj := NewMat4PerspectiveLH(DegToRad(70), 16.0/9.0, 0.1, 1000)

	near := NewVec4(0, 0, 0.1, 1).Transform(proj)
	far := NewVec4(0, 0, 1000, 1).Transform(proj)
	assert.InDelta(t, 0.0, near.Z/near.W, 1e-5)
	assert.InDelta(t, 1.0, far.Z/far.W, 1e-5)
}

func TestLookToLH(t *testing.T) {
	view := NewMat4LookToLH(NewVec3(0, 0, -4), NewVec3Forward(), NewVec3Up())
	p := NewVec3(0, 0, 0).Transform(view)
	assert.True(t, p.Compare(NewVec3(0, 0, 4), tol))

	view = NewMat4LookAtLH(NewVec3(3, 0, 0), NewVec3Zero(), NewVec3Up())
	p = NewVec3(0, 0, 0).Transform(view)
	assert.True(t, p.Compare(NewVec3(0, 0, 3), tol))
}

func TestTransformWorld(t *testing.T) {
	parent := TransformFromPosition(NewVec3(10, 0, 0))
	child := TransformFromPosition(NewVec3(0, 1, 0))
	child.Parent = parent

	p := NewVec3Zero().Transform(child.GetWorld())
	assert.True(t, p.Compare(NewVec3(10, 1, 0), tol))

	child.SetScale(NewVec3(2, 2, 2))
	p = NewVec3(1, 0, 0).Transform(child.GetWorld())
	assert.True(t, p.Compare(NewVec3(12, 1, 0), tol))
}

func TestGenerateTangents(t *testing.T) {
	verts := []Vertex3D{
		{Position: NewVec3(0, 0, 0), Normal: NewVec3(0, 0, -1), Texcoord: NewVec2(0, 1)},
		{Position: NewVec3(1, 0, 0), Normal: NewVec3(0, 0, -1), Texcoord: NewVec2(1, 1)},
		{Position: NewVec3(0, 1, 0), Normal: NewVec3(0, 0, -1), Texcoord: NewVec2(0, 0)},
	}
	GeometryGenerateTangents(verts, []uint32{0, 1, 2})

	for _, v := range verts {
		assert.True(t, v.Tangent.Compare(NewVec3(1, 0, 0), tol), "tangent %v", v.Tangent)
		assert.InDelta(t, 0.0, v.Tangent.Dot(v.Normal), 1e-5)
		assert.InDelta(t, 1.0, v.Bitangent.Length(), 1e-5)
		// v grows downwards in texture space
		assert.True(t, v.Bitangent.Compare(NewVec3(0, -1, 0), tol), "bitangent %v", v.Bitangent)
	}
}

func TestAlignUp(t *testing.T) {
	assert.Equal(t, uint32(256), AlignUp(uint32(192), 256))
	assert.Equal(t, uint64(64), AlignUp(uint64(56), 32))
	assert.Equal(t, uint64(32), AlignUp(uint64(32), 32))
	assert.Equal(t, uint64(0), AlignUp(uint64(0), 64))
}
