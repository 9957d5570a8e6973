// Package shaders holds the Go programs the software device runs for the
// renderer's pipelines, registered under the entry point names the
// pipelines are created with.
package shaders

import (
	"github.com/spaghettifunk/refract/engine/math"
	"github.com/spaghettifunk/refract/engine/renderer/software"
)

const (
	EntryVertexMain     = "vs_main"
	EntryDeferred       = "ps_deferred"
	EntryScreenQuad     = "vs_screen_quad"
	EntryDeferredPBR    = "ps_deferred_pbr"
	EntrySampleTexture  = "ps_sample_texture"
	EntryTexToScreen    = "ps_tex_to_screen"
	EntryBlurHorizontal = "ps_gaussian_blur_horiz"
	EntryBlurVertical   = "ps_gaussian_blur_vert"
	EntryDepthOfField   = "ps_depth_of_field"

	EntryRayGen     = "ray_gen"
	EntryMiss       = "miss"
	EntryClosestHit = "closest_hit"
	HitGroup        = "hit_group"
)

// Root parameter slots. Constant buffers come first, the texture table
// follows them.
const (
	DeferredObjectSlot   = 0
	DeferredMaterialSlot = 1
	DeferredTextureTable = 2

	LightsSlot      = 0
	PBRTextureTable = 1

	TexcamObjectSlot   = 0
	TexcamTextureTable = 1

	PostSlot         = 0
	PostTextureTable = 1
)

// Local root arguments of the ray tracing shader records.
const (
	RayGenOutputArg = 0
	RayGenSceneArg  = 1
	RayGenCameraArg = 2

	HitVertexArg   = 0
	HitIndexArg    = 1
	HitMaterialArg = 2
)

// TextureType is the slot of a texture inside a texture set.
type TextureType uint32

const (
	TextureAlbedo TextureType = iota
	TextureRoughness
	TextureMetallic
	TextureNormal

	MaterialTextureCount = 4
)

// Inputs of the lighting resolve, in slot order.
const (
	PBRPosition = iota
	PBRNormal
	PBRAlbedo
	PBRRoughness
	PBRMetallic

	PBRTextureCount
)

// Inputs of the post processing passes.
const (
	PostSource = iota
	PostDepth
	PostBlurred

	PostTextureCount
)

// Varying layout of vs_main.
const (
	varyWorld     = 0
	varyNormal    = 3
	varyUV        = 6
	varyTangent   = 8
	varyBitangent = 11
)

// ClearColour is what the miss program returns and what pixels no
// geometry covered resolve to.
var ClearColour = [4]float32{0, 0.2, 0.4, 1}

func init() {
	software.RegisterVertexProgram(EntryVertexMain, vertexMain)
	software.RegisterPixelProgram(EntryDeferred, pixelDeferred)
	software.RegisterVertexProgram(EntryScreenQuad, vertexScreenQuad)
	software.RegisterPixelProgram(EntryDeferredPBR, pixelDeferredPBR)
	software.RegisterPixelProgram(EntrySampleTexture, pixelSampleTexture)
	software.RegisterPixelProgram(EntryTexToScreen, pixelTexToScreen)
	software.RegisterPixelProgram(EntryBlurHorizontal, pixelBlurHorizontal)
	software.RegisterPixelProgram(EntryBlurVertical, pixelBlurVertical)
	software.RegisterPixelProgram(EntryDepthOfField, pixelDepthOfField)
	software.RegisterRayGenerationProgram(EntryRayGen, rayGen)
	software.RegisterMissProgram(EntryMiss, miss)
	software.RegisterClosestHitProgram(EntryClosestHit, closestHit)
}

func attr3(ctx *software.ShaderContext, vertex []byte, semantic string) math.Vec3 {
	v := ctx.Attribute(vertex, semantic)
	return math.NewVec3(v[0], v[1], v[2])
}

func vary3(v *software.Varyings, at int) math.Vec3 {
	return math.NewVec3(v[at], v[at+1], v[at+2])
}

func setVary3(v *software.Varyings, at int, x math.Vec3) {
	v[at], v[at+1], v[at+2] = x.X, x.Y, x.Z
}

func rgba(v math.Vec4) [4]float32 {
	return [4]float32{v.X, v.Y, v.Z, v.W}
}

func saturate(v float32) float32 {
	return math.Clamp(v, 0, 1)
}
