package software

import (
	"github.com/chewxy/math32"

	"github.com/spaghettifunk/refract/engine/renderer/gpu"
)

// TextureView reads a texture through a shader resource view.
type TextureView struct {
	res    *Resource
	format gpu.Format
}

func textureView(d descriptor) TextureView {
	if d.kind != descriptorSRV || d.res == nil || d.res.desc.Dimension != gpu.ResourceDimensionTexture2D {
		return TextureView{}
	}
	return TextureView{res: d.res, format: d.format}
}

func (t TextureView) Valid() bool {
	return t.res != nil
}

func (t TextureView) Size() (int, int) {
	if t.res == nil {
		return 0, 0
	}
	return int(t.res.desc.Width), int(t.res.desc.Height)
}

// Load reads the texel at (x, y), clamped to the texture edges.
func (t TextureView) Load(x, y int) [4]float32 {
	if t.res == nil {
		return [4]float32{}
	}
	w, h := t.Size()
	x = clampInt(x, 0, w-1)
	y = clampInt(y, 0, h-1)
	return decodeTexel(t.format, t.res.texel(x, y))
}

// SampleClamp filters bilinearly with clamped coordinates.
func (t TextureView) SampleClamp(u, v float32) [4]float32 {
	return t.sample(u, v, false)
}

// SampleWrap filters bilinearly with repeating coordinates.
func (t TextureView) SampleWrap(u, v float32) [4]float32 {
	return t.sample(u, v, true)
}

func (t TextureView) sample(u, v float32, wrap bool) [4]float32 {
	if t.res == nil {
		return [4]float32{}
	}
	if u != u || v != v {
		return [4]float32{}
	}
	w, h := t.Size()
	if wrap {
		u -= math32.Floor(u)
		v -= math32.Floor(v)
	}
	x := u*float32(w) - 0.5
	y := v*float32(h) - 0.5
	x0, y0 := math32.Floor(x), math32.Floor(y)
	fx, fy := x-x0, y-y0
	ix, iy := int(x0), int(y0)

	fetch := func(px, py int) [4]float32 {
		if wrap {
			px = ((px % w) + w) % w
			py = ((py % h) + h) % h
		}
		return t.Load(px, py)
	}
	c00, c10 := fetch(ix, iy), fetch(ix+1, iy)
	c01, c11 := fetch(ix, iy+1), fetch(ix+1, iy+1)
	out := [4]float32{}
	for i := range out {
		top := c00[i] + (c10[i]-c00[i])*fx
		bottom := c01[i] + (c11[i]-c01[i])*fx
		out[i] = top + (bottom-top)*fy
	}
	return out
}

// UAVView reads and writes a texture through an unordered access view.
type UAVView struct {
	res    *Resource
	format gpu.Format
}

func (u UAVView) Valid() bool {
	return u.res != nil
}

func (u UAVView) Size() (int, int) {
	if u.res == nil {
		return 0, 0
	}
	return int(u.res.desc.Width), int(u.res.desc.Height)
}

// Store writes c at (x, y). Writes outside the texture are dropped.
func (u UAVView) Store(x, y int, c [4]float32) {
	w, h := u.Size()
	if x < 0 || y < 0 || x >= w || y >= h {
		return
	}
	encodeTexel(u.format, c, u.res.texel(x, y))
}

func (u UAVView) Load(x, y int) [4]float32 {
	w, h := u.Size()
	if x < 0 || y < 0 || x >= w || y >= h {
		return [4]float32{}
	}
	return decodeTexel(u.format, u.res.texel(x, y))
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
