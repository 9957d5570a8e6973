package renderer

import (
	"context"
	"fmt"
	"image"

	"github.com/spaghettifunk/refract/engine/core"
	"github.com/spaghettifunk/refract/engine/renderer/gpu"
)

const textureState = gpu.ResourceStatePixelShaderResource | gpu.ResourceStateNonPixelShaderResource

// Texture is an RGBA8 image on the default heap, readable by every
// pipeline stage.
type Texture struct {
	Name     string
	Width    uint32
	Height   uint32
	Resource gpu.Resource
}

// CreateTexture uploads img and waits for the copy to finish.
func (r *Renderer) CreateTexture(ctx context.Context, name string, img *image.RGBA) (*Texture, error) {
	if img == nil {
		core.LogWarn("texture `%s` has no image", name)
		return nil, core.ErrNilResource
	}
	b := img.Bounds()
	width, height := uint32(b.Dx()), uint32(b.Dy())
	if width == 0 || height == 0 {
		err := fmt.Errorf("texture `%s` of %dx%d: %w", name, width, height, core.ErrUnsupported)
		core.LogWarn(err.Error())
		return nil, err
	}
	pitch := int(width) * 4
	pixels := make([]byte, pitch*int(height))
	for y := 0; y < int(height); y++ {
		row := img.PixOffset(b.Min.X, b.Min.Y+y)
		copy(pixels[y*pitch:(y+1)*pitch], img.Pix[row:row+pitch])
	}

	res, err := r.device.CreateCommittedResource(gpu.HeapDefault,
		gpu.Texture2DDesc(gpu.FormatRGBA8Unorm, width, height, gpu.ResourceFlagNone), gpu.ResourceStateCopyDest, nil)
	if err != nil {
		err = fmt.Errorf("failed to create texture `%s`: %w", name, err)
		core.LogError(err.Error())
		return nil, err
	}
	res.SetName(name)
	staging, err := r.createStaging(name+" staging", pixels)
	if err != nil {
		res.Release()
		return nil, err
	}
	defer staging.Release()

	err = r.immediate(ctx, func(list gpu.CommandList) {
		list.CopyBufferToTexture(res, staging, 0, uint32(pitch))
		list.ResourceBarrier(gpu.TransitionBarrier(res, gpu.ResourceStateCopyDest, textureState))
	})
	if err != nil {
		res.Release()
		return nil, err
	}
	return &Texture{Name: name, Width: width, Height: height, Resource: res}, nil
}

func (t *Texture) Release() {
	if t.Resource != nil {
		t.Resource.Release()
		t.Resource = nil
	}
}
