package shaders

import (
	"github.com/chewxy/math32"

	"github.com/spaghettifunk/refract/engine/math"
	"github.com/spaghettifunk/refract/engine/renderer/software"
)

// vertexScreenQuad passes a clip space quad vertex and its uv through.
func vertexScreenQuad(ctx *software.ShaderContext, vertex []byte, out *software.VertexOutput) {
	out.Position = ctx.Attribute(vertex, "POSITION")
	uv := ctx.Attribute(vertex, "TEXCOORD")
	out.Varyings[0], out.Varyings[1] = uv[0], uv[1]
}

// pixelDeferredPBR resolves the G-buffer with a Cook-Torrance GGX model.
// Pixels whose normal channel still holds the clear colour are background
// and keep the albedo channel, which holds the clear colour too.
func pixelDeferredPBR(ctx *software.ShaderContext, in *software.PixelInput, out *software.PixelOutput) {
	x, y := int(in.Position[0]), int(in.Position[1])
	load := func(slot int) [4]float32 {
		return ctx.Texture(PBRTextureTable, uint32(slot)).Load(x, y)
	}
	albedo := load(PBRAlbedo)
	n := load(PBRNormal)
	normal := math.NewVec3(n[0], n[1], n[2])
	if normal.Length() < 0.5 {
		out.Targets[0] = albedo
		return
	}
	normal = normal.Normalized()
	p := load(PBRPosition)
	position := math.NewVec3(p[0], p[1], p[2])
	roughness := math.Clamp(load(PBRRoughness)[0], 0.04, 1)
	metallic := saturate(load(PBRMetallic)[0])
	base := math.NewVec3(albedo[0], albedo[1], albedo[2])

	lights := DecodeLightsConstants(ctx.Constants(LightsSlot))
	view := lights.EyePosition.ToVec3().Sub(position).Normalized()
	colour := Shade(position, normal, view, base, roughness, metallic, lights.Lights)
	ambient := lights.GlobalAmbient.ToVec3().Mul(base)
	colour = colour.Add(ambient)
	out.Targets[0] = [4]float32{colour.X, colour.Y, colour.Z, albedo[3]}
}

// Shade sums the direct lighting of lights at a surface point.
func Shade(position, normal, view, albedo math.Vec3, roughness, metallic float32, lights []Light) math.Vec3 {
	f0 := math.NewVec3(0.04, 0.04, 0.04)
	f0 = f0.Add(albedo.Sub(f0).MulScalar(metallic))
	nDotV := math32.Max(normal.Dot(view), 1e-4)
	a := roughness * roughness
	a2 := a * a
	k := (roughness + 1) * (roughness + 1) / 8

	total := math.NewVec3Zero()
	for i := range lights {
		l := &lights[i]
		if !l.Enabled {
			continue
		}
		dir, attenuation := incidence(l, position)
		if attenuation <= 0 {
			continue
		}
		nDotL := normal.Dot(dir)
		if nDotL <= 0 {
			continue
		}
		half := dir.Add(view).Normalized()
		nDotH := math32.Max(normal.Dot(half), 0)
		hDotV := math32.Max(half.Dot(view), 0)

		denom := nDotH*nDotH*(a2-1) + 1
		d := a2 / (math.K_PI * denom * denom)
		g := (nDotV / (nDotV*(1-k) + k)) * (nDotL / (nDotL*(1-k) + k))
		fw := math32.Pow(1-hDotV, 5)
		fresnel := f0.Add(math.NewVec3One().Sub(f0).MulScalar(fw))

		specular := fresnel.MulScalar(d * g / (4*nDotV*nDotL + 1e-4))
		kd := math.NewVec3One().Sub(fresnel).MulScalar(1 - metallic)
		diffuse := kd.Mul(albedo).MulScalar(1 / math.K_PI)
		radiance := l.Colour.ToVec3().MulScalar(attenuation * nDotL)
		total = total.Add(diffuse.Add(specular).Mul(radiance))
	}
	return total
}

// incidence returns the unit direction towards the light and its
// attenuation at position.
func incidence(l *Light, position math.Vec3) (math.Vec3, float32) {
	if l.Type == LightDirectional {
		return l.Direction.ToVec3().Negate().Normalized(), 1
	}
	toLight := l.Position.ToVec3().Sub(position)
	dist := toLight.Length()
	if dist == 0 {
		return math.NewVec3Zero(), 0
	}
	dir := toLight.MulScalar(1 / dist)
	attenuation := 1 / math32.Max(l.ConstantAttenuation+l.LinearAttenuation*dist+l.QuadraticAttenuation*dist*dist, 1e-4)
	if l.Type == LightSpot {
		minCos := math32.Cos(l.SpotAngle)
		maxCos := (minCos + 1) / 2
		cosAngle := dir.Negate().Dot(l.Direction.ToVec3().Normalized())
		attenuation *= smoothstep(minCos, maxCos, cosAngle)
	}
	return dir, attenuation
}

func smoothstep(edge0, edge1, x float32) float32 {
	t := saturate((x - edge0) / (edge1 - edge0))
	return t * t * (3 - 2*t)
}
