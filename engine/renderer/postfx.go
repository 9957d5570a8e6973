package renderer

import (
	"github.com/spaghettifunk/refract/engine/core"
	"github.com/spaghettifunk/refract/engine/renderer/gpu"
	"github.com/spaghettifunk/refract/engine/renderer/shaders"
)

// PostStage is one pass of the post chain, in execution order.
type PostStage int

const (
	PostDefault PostStage = iota
	PostBlurHorizontal
	PostBlurVertical
	PostDepthOfField

	postStageCount
)

var postStages = [postStageCount]struct {
	name  string
	entry string
}{
	PostDefault:        {"post default", shaders.EntryTexToScreen},
	PostBlurHorizontal: {"post blur horizontal", shaders.EntryBlurHorizontal},
	PostBlurVertical:   {"post blur vertical", shaders.EntryBlurVertical},
	PostDepthOfField:   {"post depth of field", shaders.EntryDepthOfField},
}

func (b *RasterBackend) initPost() error {
	for stage, s := range postStages {
		t, err := b.createTarget(PassTargetDesc{
			Name:    s.name,
			Formats: []gpu.Format{gpu.FormatRGBA8Unorm},
			Input: &ShaderInput{
				ConstantBuffers: []ConstantBufferSlot{shaders.PostSlot: {Register: 0, Visibility: gpu.ShaderVisibilityPixel}},
				Textures:        shaders.PostTextureCount,
				Layout:          SimpleVertexLayout,
			},
			TextureSets: 1,
		})
		if err != nil {
			return err
		}
		b.postTargets[stage] = t
		if b.postShaders[stage], err = t.CreateShader(shaders.EntryScreenQuad, s.entry); err != nil {
			return err
		}
	}
	return nil
}

// PostTarget exposes a post chain target for inspection.
func (b *RasterBackend) PostTarget(stage PostStage) *PassTarget {
	return b.postTargets[stage]
}

// recordPost runs default, blur horizontal, blur vertical and depth of
// field. Every stage always runs; the post constants decide what each one
// does. Each input goes render target, shader readable, render target.
func (b *RasterBackend) recordPost(list gpu.CommandList, frame uint32) gpu.Resource {
	scene := b.texcam.Resource(0, frame)
	depth := b.deferred.DepthResource(frame)
	out := func(stage PostStage) gpu.Resource {
		return b.postTargets[stage].Resource(0, frame)
	}
	toRead := func(res gpu.Resource) {
		list.ResourceBarrier(gpu.TransitionBarrier(res, gpu.ResourceStateRenderTarget, shaderReadState))
	}

	toRead(scene)
	b.postPass(list, frame, PostDefault, scene, nil, nil)
	toRead(out(PostDefault))
	b.postPass(list, frame, PostBlurHorizontal, out(PostDefault), nil, nil)
	toRead(out(PostBlurHorizontal))
	b.postPass(list, frame, PostBlurVertical, out(PostBlurHorizontal), nil, nil)
	toRead(out(PostBlurVertical))
	list.ResourceBarrier(gpu.TransitionBarrier(depth, gpu.ResourceStateDepthWrite, shaderReadState))
	b.postPass(list, frame, PostDepthOfField, out(PostDefault), depth, out(PostBlurVertical))

	list.ResourceBarrier(
		gpu.TransitionBarrier(scene, shaderReadState, gpu.ResourceStateRenderTarget),
		gpu.TransitionBarrier(out(PostDefault), shaderReadState, gpu.ResourceStateRenderTarget),
		gpu.TransitionBarrier(out(PostBlurHorizontal), shaderReadState, gpu.ResourceStateRenderTarget),
		gpu.TransitionBarrier(out(PostBlurVertical), shaderReadState, gpu.ResourceStateRenderTarget),
		gpu.TransitionBarrier(depth, shaderReadState, gpu.ResourceStateDepthWrite),
	)
	return out(PostDepthOfField)
}

// postPass draws the screen quad into stage's target with source, depth
// and blurred bound to the post texture slots. nil inputs stay unbound.
func (b *RasterBackend) postPass(list gpu.CommandList, frame uint32, stage PostStage, source, depth, blurred gpu.Resource) {
	t := b.postTargets[stage]
	t.BeginRender(list, frame, true)
	inputs := [shaders.PostTextureCount]gpu.Resource{
		shaders.PostSource:  source,
		shaders.PostDepth:   depth,
		shaders.PostBlurred: blurred,
	}
	for slot, res := range inputs {
		if res == nil {
			continue
		}
		if err := t.AssignTexture(frame, res, uint32(slot), 0); err != nil {
			core.LogWarn("%s: %s", t.Name(), err)
			return
		}
	}
	if err := t.BeginDraw(list, b.postShaders[stage], frame, 0); err != nil {
		core.LogWarn("%s: %s", t.Name(), err)
		return
	}
	list.SetGraphicsRootConstantBufferView(shaders.PostSlot, b.post.Address(frame, 0))
	b.drawScreenQuad(list)
}
