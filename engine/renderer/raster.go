package renderer

import (
	"context"

	"github.com/spaghettifunk/refract/engine/core"
	"github.com/spaghettifunk/refract/engine/renderer/gpu"
	"github.com/spaghettifunk/refract/engine/renderer/shaders"
)

// G-buffer channels in the order ps_deferred writes them.
const (
	GBufferAlbedo = iota
	GBufferRoughness
	GBufferMetallic
	GBufferNormal
	GBufferPosition

	gbufferCount
)

var gbufferFormats = []gpu.Format{
	GBufferAlbedo:    gpu.FormatRGBA8Unorm,
	GBufferRoughness: gpu.FormatR8Unorm,
	GBufferMetallic:  gpu.FormatR8Unorm,
	GBufferNormal:    gpu.FormatRGBA16Float,
	GBufferPosition:  gpu.FormatRGBA32Float,
}

// lightingInputs maps the lighting resolve's texture slots to G-buffer
// channels.
var lightingInputs = [shaders.PBRTextureCount]uint32{
	shaders.PBRPosition:  GBufferPosition,
	shaders.PBRNormal:    GBufferNormal,
	shaders.PBRAlbedo:    GBufferAlbedo,
	shaders.PBRRoughness: GBufferRoughness,
	shaders.PBRMetallic:  GBufferMetallic,
}

const shaderReadState = gpu.ResourceStatePixelShaderResource

// RasterBackend renders a frame as a deferred G-buffer pass, a PBR
// lighting resolve, the texcam re-render of render-as-texture objects and
// the post chain.
type RasterBackend struct {
	*Renderer

	deferred    *PassTarget
	lighting    *PassTarget
	texcam      *PassTarget
	postTargets [postStageCount]*PassTarget

	deferredShader *Shader
	lightingShader *Shader
	texcamShader   *Shader
	postShaders    [postStageCount]*Shader

	// indices of the drawables sampling the lit scene this frame
	sideList []uint32
}

func NewRasterBackend(r *Renderer) (*RasterBackend, error) {
	b := &RasterBackend{Renderer: r}
	if err := b.init(); err != nil {
		b.Release()
		return nil, err
	}
	return b, nil
}

func (b *RasterBackend) init() error {
	sets := b.cfg.MaxTextureSets
	var err error

	b.deferred, err = b.createTarget(PassTargetDesc{
		Name:    "deferred",
		Formats: gbufferFormats,
		Depth:   true,
		Input: &ShaderInput{
			ConstantBuffers: []ConstantBufferSlot{
				shaders.DeferredObjectSlot:   {Register: 0, Visibility: gpu.ShaderVisibilityVertex},
				shaders.DeferredMaterialSlot: {Register: 1, Visibility: gpu.ShaderVisibilityPixel},
			},
			Textures:  shaders.MaterialTextureCount,
			DepthFunc: gpu.ComparisonFuncLess,
			Layout:    FullVertexLayout,
		},
		TextureSets: sets,
	})
	if err != nil {
		return err
	}
	if b.deferredShader, err = b.deferred.CreateShader(shaders.EntryVertexMain, shaders.EntryDeferred); err != nil {
		return err
	}

	b.lighting, err = b.createTarget(PassTargetDesc{
		Name:    "pbr",
		Formats: []gpu.Format{gpu.FormatRGBA8Unorm},
		Input: &ShaderInput{
			ConstantBuffers: []ConstantBufferSlot{shaders.LightsSlot: {Register: 0, Visibility: gpu.ShaderVisibilityPixel}},
			Textures:        shaders.PBRTextureCount,
			Layout:          SimpleVertexLayout,
		},
		TextureSets: 1,
	})
	if err != nil {
		return err
	}
	if b.lightingShader, err = b.lighting.CreateShader(shaders.EntryScreenQuad, shaders.EntryDeferredPBR); err != nil {
		return err
	}

	b.texcam, err = b.createTarget(PassTargetDesc{
		Name:    "texcams",
		Formats: []gpu.Format{gpu.FormatRGBA8Unorm},
		Depth:   true,
		Input: &ShaderInput{
			ConstantBuffers: []ConstantBufferSlot{shaders.TexcamObjectSlot: {Register: 0, Visibility: gpu.ShaderVisibilityVertex}},
			Textures:        1,
			DepthFunc:       gpu.ComparisonFuncLessEqual,
			Layout:          FullVertexLayout,
		},
		TextureSets: sets,
	})
	if err != nil {
		return err
	}
	if b.texcamShader, err = b.texcam.CreateShader(shaders.EntryVertexMain, shaders.EntrySampleTexture); err != nil {
		return err
	}

	return b.initPost()
}

func (b *RasterBackend) Mode() core.RendererMode {
	return core.RendererModeRaster
}

func (b *RasterBackend) RenderFrame(ctx context.Context, scene Scene) error {
	return b.renderFrame(ctx, scene, b)
}

// GBuffer, Lighting and Texcam expose the pass targets for inspection.
func (b *RasterBackend) GBuffer() *PassTarget  { return b.deferred }
func (b *RasterBackend) Lighting() *PassTarget { return b.lighting }
func (b *RasterBackend) Texcam() *PassTarget   { return b.texcam }

func (b *RasterBackend) prepare(ctx context.Context, frame uint32, drawables []Drawable) error {
	return nil
}

func (b *RasterBackend) record(list gpu.CommandList, frame uint32, drawables []Drawable) (gpu.Resource, error) {
	b.recordDeferred(list, frame, drawables)
	b.recordLighting(list, frame)
	b.recordTexcam(list, frame, drawables)
	return b.recordPost(list, frame), nil
}

func (b *RasterBackend) drawGeometry(list gpu.CommandList, g *Geometry) {
	list.IASetPrimitiveTopology(gpu.PrimitiveTopologyTriangleList)
	list.IASetVertexBuffers(0, g.VertexBufferView())
	list.IASetIndexBuffer(g.IndexBufferView())
	list.DrawIndexedInstanced(g.IndexCount, 1, 0, 0, 0)
}

// recordDeferred draws every drawable into the G-buffer. Drawable i uses
// texture set i and constant buffer slot i.
func (b *RasterBackend) recordDeferred(list gpu.CommandList, frame uint32, drawables []Drawable) {
	b.sideList = b.sideList[:0]
	b.deferred.BeginRender(list, frame, true)
	limit := b.MaxObjects()
	for i, d := range drawables {
		slot := uint32(i)
		if slot >= limit {
			core.LogWarn("deferred pass: %d drawables, only %d fit a frame", len(drawables), limit)
			break
		}
		if d.Geometry == nil {
			core.LogWarn("deferred pass: drawable `%s` has no geometry", d.Name)
			continue
		}
		if !b.assignMaterialTextures(frame, slot, &d) {
			continue
		}
		if d.RenderTexture {
			b.sideList = append(b.sideList, slot)
		}
		if err := b.deferred.BeginDraw(list, b.deferredShader, frame, slot); err != nil {
			core.LogWarn("deferred pass: drawable `%s`: %s", d.Name, err)
			continue
		}
		list.SetGraphicsRootConstantBufferView(shaders.DeferredObjectSlot, b.objects.Address(frame, slot))
		list.SetGraphicsRootConstantBufferView(shaders.DeferredMaterialSlot, b.materials.Address(frame, slot))
		b.drawGeometry(list, d.Geometry)
	}
}

// assignMaterialTextures fills set slot with the drawable's textures.
// Missing textures are bound as a blank texel; the material flags decide
// whether they are sampled.
func (b *RasterBackend) assignMaterialTextures(frame, slot uint32, d *Drawable) bool {
	for t, tex := range d.Textures {
		res := b.blank.Resource
		if tex != nil && tex.Resource != nil {
			res = tex.Resource
		}
		if err := b.deferred.AssignTexture(frame, res, uint32(t), slot); err != nil {
			core.LogWarn("deferred pass: drawable `%s` texture %d: %s", d.Name, t, err)
			return false
		}
	}
	return true
}

// recordLighting resolves the G-buffer into the lit scene colour.
func (b *RasterBackend) recordLighting(list gpu.CommandList, frame uint32) {
	toRead := make([]gpu.ResourceBarrier, gbufferCount)
	toTarget := make([]gpu.ResourceBarrier, gbufferCount)
	for ch := uint32(0); ch < gbufferCount; ch++ {
		res := b.deferred.Resource(ch, frame)
		toRead[ch] = gpu.TransitionBarrier(res, gpu.ResourceStateRenderTarget, shaderReadState)
		toTarget[ch] = gpu.TransitionBarrier(res, shaderReadState, gpu.ResourceStateRenderTarget)
	}
	list.ResourceBarrier(toRead...)
	defer list.ResourceBarrier(toTarget...)

	b.lighting.BeginRender(list, frame, true)
	for slot, ch := range lightingInputs {
		if err := b.lighting.AssignTexture(frame, b.deferred.Resource(ch, frame), uint32(slot), 0); err != nil {
			core.LogWarn("lighting pass: %s", err)
			return
		}
	}
	if err := b.lighting.BeginDraw(list, b.lightingShader, frame, 0); err != nil {
		core.LogWarn("lighting pass: %s", err)
		return
	}
	list.SetGraphicsRootConstantBufferView(shaders.LightsSlot, b.lights.Address(frame, 0))
	b.drawScreenQuad(list)
}

// recordTexcam copies the lit colour and the scene depth into the texcam
// target and redraws the side list sampling the copy of the lit colour.
// The depth copy happens after lighting and before the post chain.
func (b *RasterBackend) recordTexcam(list gpu.CommandList, frame uint32, drawables []Drawable) {
	lit := b.lighting.Resource(0, frame)
	colour := b.texcam.Resource(0, frame)
	list.ResourceBarrier(
		gpu.TransitionBarrier(lit, gpu.ResourceStateRenderTarget, gpu.ResourceStateCopySource),
		gpu.TransitionBarrier(colour, gpu.ResourceStateRenderTarget, gpu.ResourceStateCopyDest),
	)
	list.CopyResource(colour, lit)
	list.ResourceBarrier(
		gpu.TransitionBarrier(lit, gpu.ResourceStateCopySource, shaderReadState),
		gpu.TransitionBarrier(colour, gpu.ResourceStateCopyDest, gpu.ResourceStateRenderTarget),
	)
	defer list.ResourceBarrier(gpu.TransitionBarrier(lit, shaderReadState, gpu.ResourceStateRenderTarget))

	sceneDepth := b.deferred.DepthResource(frame)
	depth := b.texcam.DepthResource(frame)
	list.ResourceBarrier(
		gpu.TransitionBarrier(sceneDepth, gpu.ResourceStateDepthWrite, gpu.ResourceStateCopySource),
		gpu.TransitionBarrier(depth, gpu.ResourceStateDepthWrite, gpu.ResourceStateCopyDest),
	)
	list.CopyResource(depth, sceneDepth)
	list.ResourceBarrier(
		gpu.TransitionBarrier(sceneDepth, gpu.ResourceStateCopySource, gpu.ResourceStateDepthWrite),
		gpu.TransitionBarrier(depth, gpu.ResourceStateCopyDest, gpu.ResourceStateDepthWrite),
	)

	b.texcam.BeginRender(list, frame, false)
	for set, slot := range b.sideList {
		d := &drawables[slot]
		if err := b.texcam.AssignTexture(frame, lit, 0, uint32(set)); err != nil {
			core.LogWarn("texcam pass: drawable `%s`: %s", d.Name, err)
			continue
		}
		if err := b.texcam.BeginDraw(list, b.texcamShader, frame, uint32(set)); err != nil {
			core.LogWarn("texcam pass: drawable `%s`: %s", d.Name, err)
			continue
		}
		list.SetGraphicsRootConstantBufferView(shaders.TexcamObjectSlot, b.objects.Address(frame, slot))
		b.drawGeometry(list, d.Geometry)
	}
}

// Release waits for the GPU and frees the backend's targets and
// pipelines. The shared Renderer stays alive.
func (b *RasterBackend) Release() {
	_ = b.Idle(context.Background())
	for _, s := range []*Shader{b.deferredShader, b.lightingShader, b.texcamShader} {
		if s != nil {
			s.Release()
		}
	}
	for _, s := range b.postShaders {
		if s != nil {
			s.Release()
		}
	}
	for _, t := range []*PassTarget{b.deferred, b.lighting, b.texcam} {
		b.releaseTarget(t)
	}
	for _, t := range b.postTargets {
		b.releaseTarget(t)
	}
}
