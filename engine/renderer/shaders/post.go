package shaders

import (
	"sync"

	"github.com/chewxy/math32"

	"github.com/spaghettifunk/refract/engine/renderer/software"
)

// MaxBlurRadius bounds the gaussian kernel half width in pixels.
const MaxBlurRadius = 24

var kernels sync.Map

// GaussianKernel returns the normalised weights of a gaussian with standard
// deviation sigma, from the centre tap outwards. Sigma zero yields the
// identity kernel.
func GaussianKernel(sigma float32) []float32 {
	if sigma <= 0 {
		return []float32{1}
	}
	key := math32.Float32bits(sigma)
	if k, ok := kernels.Load(key); ok {
		return k.([]float32)
	}
	radius := int(math32.Ceil(3 * sigma))
	if radius > MaxBlurRadius {
		radius = MaxBlurRadius
	}
	weights := make([]float32, radius+1)
	sum := float32(0)
	for i := range weights {
		w := math32.Exp(-float32(i*i) / (2 * sigma * sigma))
		weights[i] = w
		if i == 0 {
			sum += w
		} else {
			sum += 2 * w
		}
	}
	for i := range weights {
		weights[i] /= sum
	}
	kernels.Store(key, weights)
	return weights
}

func post(ctx *software.ShaderContext) PostConstants {
	return DecodePostConstants(ctx.Constants(PostSlot))
}

func pixelCoords(in *software.PixelInput) (int, int) {
	return int(in.Position[0]), int(in.Position[1])
}

// pixelTexToScreen copies the source, optionally as greyscale.
func pixelTexToScreen(ctx *software.ShaderContext, in *software.PixelInput, out *software.PixelOutput) {
	x, y := pixelCoords(in)
	c := ctx.Texture(PostTextureTable, PostSource).Load(x, y)
	if post(ctx).EnableGreyscale {
		l := 0.299*c[0] + 0.587*c[1] + 0.114*c[2]
		c = [4]float32{l, l, l, c[3]}
	}
	out.Targets[0] = c
}

func blur(ctx *software.ShaderContext, in *software.PixelInput, out *software.PixelOutput, dx, dy int) {
	x, y := pixelCoords(in)
	src := ctx.Texture(PostTextureTable, PostSource)
	p := post(ctx)
	u := in.Varyings[0]
	if !(p.EnableBlur || p.EnableDepthOfField) || u < 1-p.BlurXCoverage {
		out.Targets[0] = src.Load(x, y)
		return
	}
	weights := GaussianKernel(p.BlurStrength)
	c := [4]float32{}
	for i, w := range weights {
		for _, sign := range [2]int{-1, 1} {
			if i == 0 && sign > 0 {
				break
			}
			s := src.Load(x+sign*i*dx, y+sign*i*dy)
			for k := range c {
				c[k] += s[k] * w
			}
		}
	}
	out.Targets[0] = c
}

func pixelBlurHorizontal(ctx *software.ShaderContext, in *software.PixelInput, out *software.PixelOutput) {
	blur(ctx, in, out, 1, 0)
}

func pixelBlurVertical(ctx *software.ShaderContext, in *software.PixelInput, out *software.PixelOutput) {
	blur(ctx, in, out, 0, 1)
}

// pixelDepthOfField blends the sharp and blurred images by the distance of
// the pixel's depth from the depth at the centre of the screen.
func pixelDepthOfField(ctx *software.ShaderContext, in *software.PixelInput, out *software.PixelOutput) {
	x, y := pixelCoords(in)
	blurred := ctx.Texture(PostTextureTable, PostBlurred).Load(x, y)
	p := post(ctx)
	if !p.EnableDepthOfField {
		out.Targets[0] = blurred
		return
	}
	sharp := ctx.Texture(PostTextureTable, PostSource).Load(x, y)
	depth := ctx.Texture(PostTextureTable, PostDepth)
	w, h := depth.Size()
	focus := depth.Load(w/2, h/2)[0]
	d := depth.Load(x, y)[0]
	scale := math32.Max(p.DepthOfFieldScale, 1e-3)
	factor := saturate(math32.Abs(d-focus) * p.BlurSharpness / scale)
	c := [4]float32{}
	for i := range c {
		c[i] = sharp[i] + (blurred[i]-sharp[i])*factor
	}
	out.Targets[0] = c
}
