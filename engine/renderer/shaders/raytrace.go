package shaders

import (
	"encoding/binary"

	"github.com/chewxy/math32"

	"github.com/spaghettifunk/refract/engine/math"
	"github.com/spaghettifunk/refract/engine/renderer/software"
)

// FullVertexStride is the size of a packed math.Vertex3D.
const FullVertexStride = 56

// rayGen shoots one primary ray per pixel from the camera.
func rayGen(ctx *software.RayContext) {
	idx := ctx.DispatchRaysIndex()
	dims := ctx.DispatchRaysDimensions()
	cam := DecodeCameraConstants(ctx.ConstantBuffer(RayGenCameraArg))

	x := (float32(idx[0])+0.5)/float32(dims[0])*2 - 1
	y := 1 - (float32(idx[1])+0.5)/float32(dims[1])*2
	target := math.NewVec4(x, y, 1, 1).Transform(cam.InverseProjection)
	if target.W != 0 {
		target = target.MulScalar(1 / target.W)
	}
	dir := target.ToVec3().Normalized().TransformDirection(cam.InverseView).Normalized()

	payload := software.Payload{}
	ctx.TraceRay(ctx.AccelerationStructure(RayGenSceneArg), software.Ray{
		Origin:    [3]float32{cam.Eye.X, cam.Eye.Y, cam.Eye.Z},
		Direction: [3]float32{dir.X, dir.Y, dir.Z},
		TMin:      1e-3,
		TMax:      1e4,
	}, &payload)
	ctx.OutputTexture(RayGenOutputArg).Store(int(idx[0]), int(idx[1]), payload)
}

func miss(ctx *software.RayContext, payload *software.Payload) {
	*payload = ClearColour
}

func readVertex(vb []byte, index uint32) (math.Vec3, math.Vec2) {
	off := int(index) * FullVertexStride
	if off+FullVertexStride > len(vb) {
		return math.Vec3{}, math.Vec2{}
	}
	n := math.NewVec3(f32(vb[off+12:]), f32(vb[off+16:]), f32(vb[off+20:]))
	uv := math.NewVec2(f32(vb[off+24:]), f32(vb[off+28:]))
	return n, uv
}

// closestHit shades a hit with the material albedo and a light at the eye.
func closestHit(ctx *software.RayContext, payload *software.Payload, hit *software.HitAttributes) {
	vb := ctx.Buffer(HitVertexArg)
	ib := ctx.Buffer(HitIndexArg)
	base := int(hit.PrimitiveIndex) * 12
	if base+12 > len(ib) {
		*payload = ClearColour
		return
	}
	w := [3]float32{1 - hit.Barycentrics[0] - hit.Barycentrics[1], hit.Barycentrics[0], hit.Barycentrics[1]}
	normal := math.NewVec3Zero()
	uv := math.NewVec2(0, 0)
	for i := 0; i < 3; i++ {
		n, t := readVertex(vb, binary.LittleEndian.Uint32(ib[base+i*4:]))
		normal = normal.Add(n.MulScalar(w[i]))
		uv = uv.Add(t.MulScalar(w[i]))
	}
	m := hit.ObjectToWorld
	normal = math.NewVec3(
		m[0]*normal.X+m[1]*normal.Y+m[2]*normal.Z,
		m[4]*normal.X+m[5]*normal.Y+m[6]*normal.Z,
		m[8]*normal.X+m[9]*normal.Y+m[10]*normal.Z,
	).Normalized()

	mat := DecodeMaterialConstants(ctx.TableConstants(HitMaterialArg, 0))
	albedo := mat.Albedo
	if mat.UseAlbedoTexture {
		s := ctx.TableTexture(HitMaterialArg, 1+uint32(TextureAlbedo)).SampleWrap(uv.X, uv.Y)
		albedo = math.NewVec4(albedo.X*s[0], albedo.Y*s[1], albedo.Z*s[2], albedo.W*s[3])
	}

	rd := hit.WorldRayDirection
	facing := math32.Abs(normal.Dot(math.NewVec3(rd[0], rd[1], rd[2]).Normalized()))
	light := 0.2 + 0.8*facing
	*payload = software.Payload{albedo.X * light, albedo.Y * light, albedo.Z * light, 1}
}
