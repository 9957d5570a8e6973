package shaders

import (
	"github.com/spaghettifunk/refract/engine/math"
	"github.com/spaghettifunk/refract/engine/renderer/software"
)

// vertexMain transforms a full vertex into clip space and passes its world
// space frame on.
func vertexMain(ctx *software.ShaderContext, vertex []byte, out *software.VertexOutput) {
	obj := DecodeObjectConstants(ctx.Constants(DeferredObjectSlot))
	world := attr3(ctx, vertex, "POSITION").Transform(obj.World)
	clip := world.ToVec4(1).Transform(obj.View).Transform(obj.Projection)
	out.Position = rgba(clip)

	setVary3(&out.Varyings, varyWorld, world)
	setVary3(&out.Varyings, varyNormal, attr3(ctx, vertex, "NORMAL").TransformDirection(obj.World).Normalized())
	setVary3(&out.Varyings, varyTangent, attr3(ctx, vertex, "TANGENT").TransformDirection(obj.World).Normalized())
	setVary3(&out.Varyings, varyBitangent, attr3(ctx, vertex, "BITANGENT").TransformDirection(obj.World).Normalized())
	uv := ctx.Attribute(vertex, "TEXCOORD")
	out.Varyings[varyUV], out.Varyings[varyUV+1] = uv[0], uv[1]
}

// pixelDeferred fills the G-buffer: albedo, roughness, metallic, normal
// and world position.
func pixelDeferred(ctx *software.ShaderContext, in *software.PixelInput, out *software.PixelOutput) {
	mat := DecodeMaterialConstants(ctx.Constants(DeferredMaterialSlot))
	u, v := in.Varyings[varyUV], in.Varyings[varyUV+1]
	sample := func(t TextureType) [4]float32 {
		return ctx.Texture(DeferredTextureTable, uint32(t)).SampleWrap(u, v)
	}

	albedo := mat.Albedo
	if mat.UseAlbedoTexture {
		s := sample(TextureAlbedo)
		albedo = math.NewVec4(albedo.X*s[0], albedo.Y*s[1], albedo.Z*s[2], albedo.W*s[3])
	}
	roughness := mat.Roughness
	if mat.UseRoughnessTexture {
		roughness *= sample(TextureRoughness)[0]
	}
	metallic := mat.Metallic
	if mat.UseMetallicTexture {
		metallic *= sample(TextureMetallic)[0]
	}

	normal := vary3(&in.Varyings, varyNormal).Normalized()
	if mat.UseNormalTexture {
		s := sample(TextureNormal)
		t := vary3(&in.Varyings, varyTangent)
		b := vary3(&in.Varyings, varyBitangent)
		mapped := t.MulScalar(s[0]*2 - 1).Add(b.MulScalar(s[1]*2 - 1)).Add(normal.MulScalar(s[2]*2 - 1))
		if mapped.LengthSquared() > 0 {
			normal = mapped.Normalized()
		}
	}

	out.Targets[0] = rgba(albedo)
	out.Targets[1] = [4]float32{roughness, 0, 0, 1}
	out.Targets[2] = [4]float32{metallic, 0, 0, 1}
	out.Targets[3] = rgba(normal.ToVec4(1))
	out.Targets[4] = rgba(vary3(&in.Varyings, varyWorld).ToVec4(1))
}

// pixelSampleTexture maps the texcam copy of the lit scene onto a mesh.
func pixelSampleTexture(ctx *software.ShaderContext, in *software.PixelInput, out *software.PixelOutput) {
	u, v := in.Varyings[varyUV], in.Varyings[varyUV+1]
	out.Targets[0] = ctx.Texture(TexcamTextureTable, 0).SampleClamp(u, v)
}
