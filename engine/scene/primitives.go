package scene

import (
	"github.com/spaghettifunk/refract/engine/assets/loaders"
	"github.com/spaghettifunk/refract/engine/core"
	"github.com/spaghettifunk/refract/engine/math"
)

// face is one side of a box: outward normal, and the right and up
// directions as seen from outside.
type face struct {
	normal, right, up math.Vec3
}

var cubeFaces = [6]face{
	{normal: math.NewVec3(0, 0, -1), right: math.NewVec3(1, 0, 0), up: math.NewVec3(0, 1, 0)},
	{normal: math.NewVec3(0, 0, 1), right: math.NewVec3(-1, 0, 0), up: math.NewVec3(0, 1, 0)},
	{normal: math.NewVec3(-1, 0, 0), right: math.NewVec3(0, 0, -1), up: math.NewVec3(0, 1, 0)},
	{normal: math.NewVec3(1, 0, 0), right: math.NewVec3(0, 0, 1), up: math.NewVec3(0, 1, 0)},
	{normal: math.NewVec3(0, -1, 0), right: math.NewVec3(-1, 0, 0), up: math.NewVec3(0, 0, 1)},
	{normal: math.NewVec3(0, 1, 0), right: math.NewVec3(1, 0, 0), up: math.NewVec3(0, 0, 1)},
}

func nonZero(v *float32, what string) {
	if *v == 0 {
		core.LogWarn("%s must be nonzero. Defaulting to one.", what)
		*v = 1
	}
}

// appendQuad adds a quad facing f.normal whose corners are centre ±
// halfRight ± halfUp. Triangles wind counter clockwise seen from the
// front.
func appendQuad(m *loaders.MeshData, f face, centre, halfRight, halfUp math.Vec3, uvMin, uvMax math.Vec2) {
	base := uint32(len(m.Vertices))
	corners := [4][2]float32{{-1, -1}, {1, -1}, {1, 1}, {-1, 1}}
	for _, c := range corners {
		pos := centre.Add(halfRight.MulScalar(c[0])).Add(halfUp.MulScalar(c[1]))
		u := math.Lerp(uvMin.X, uvMax.X, (c[0]+1)*0.5)
		v := math.Lerp(uvMax.Y, uvMin.Y, (c[1]+1)*0.5)
		m.Vertices = append(m.Vertices, math.Vertex3D{
			Position: pos,
			Normal:   f.normal,
			Texcoord: math.NewVec2(u, v),
		})
	}
	m.Indices = append(m.Indices, base, base+1, base+2, base, base+2, base+3)
}

// NewCube builds a box centred on the origin, each face textured with
// tileX by tileY repeats.
func NewCube(width, height, depth, tileX, tileY float32) *loaders.MeshData {
	nonZero(&width, "width")
	nonZero(&height, "height")
	nonZero(&depth, "depth")
	nonZero(&tileX, "tileX")
	nonZero(&tileY, "tileY")

	half := math.NewVec3(width*0.5, height*0.5, depth*0.5)
	m := &loaders.MeshData{
		Vertices: make([]math.Vertex3D, 0, 4*len(cubeFaces)),
		Indices:  make([]uint32, 0, 6*len(cubeFaces)),
	}
	for _, f := range cubeFaces {
		appendQuad(m, f, f.normal.Mul(half), f.right.Mul(half), f.up.Mul(half), math.NewVec2(0, 0), math.NewVec2(tileX, tileY))
	}
	math.GeometryGenerateTangents(m.Vertices, m.Indices)
	return m
}

// NewPlane builds a floor in the xz plane facing +y, split into
// xSegments by zSegments quads.
func NewPlane(width, depth float32, xSegments, zSegments uint32, tileX, tileY float32) *loaders.MeshData {
	nonZero(&width, "width")
	nonZero(&depth, "depth")
	nonZero(&tileX, "tileX")
	nonZero(&tileY, "tileY")
	if xSegments < 1 {
		core.LogWarn("xSegments must be a positive number. Defaulting to one.")
		xSegments = 1
	}
	if zSegments < 1 {
		core.LogWarn("zSegments must be a positive number. Defaulting to one.")
		zSegments = 1
	}

	f := cubeFaces[5]
	segWidth := width / float32(xSegments)
	segDepth := depth / float32(zSegments)
	halfRight := f.right.MulScalar(segWidth * 0.5)
	halfUp := f.up.MulScalar(segDepth * 0.5)

	m := &loaders.MeshData{
		Vertices: make([]math.Vertex3D, 0, xSegments*zSegments*4),
		Indices:  make([]uint32, 0, xSegments*zSegments*6),
	}
	for z := uint32(0); z < zSegments; z++ {
		for x := uint32(0); x < xSegments; x++ {
			centre := math.NewVec3(
				(float32(x)+0.5)*segWidth-width*0.5,
				0,
				(float32(z)+0.5)*segDepth-depth*0.5,
			)
			uvMin := math.NewVec2(float32(x)/float32(xSegments)*tileX, float32(z)/float32(zSegments)*tileY)
			uvMax := math.NewVec2(float32(x+1)/float32(xSegments)*tileX, float32(z+1)/float32(zSegments)*tileY)
			appendQuad(m, f, centre, halfRight, halfUp, uvMin, uvMax)
		}
	}
	math.GeometryGenerateTangents(m.Vertices, m.Indices)
	return m
}
