package software

import (
	"encoding/binary"
	"sync"

	"github.com/chewxy/math32"

	"github.com/spaghettifunk/refract/engine/renderer/gpu"
)

// rows of pixels above which a triangle is shaded by several goroutines
const parallelRows = 32

type drawCall struct {
	indexed    bool
	count      uint32
	start      uint32
	baseVertex int32
}

type clipVertex struct {
	pos  [4]float32
	vary Varyings
}

type screenVertex struct {
	x, y, z float32
	invW    float32
	vary    Varyings
}

// rasterTarget is the set of buffers a draw writes to.
type rasterTarget struct {
	colour []descriptor
	depth  *Resource
	width  int
	height int
}

func (ex *executor) prepareDraw() (*ShaderContext, *rasterTarget, bool) {
	pso := ex.pso
	if pso == nil {
		ex.dev.report("draw without a pipeline state")
		return nil, nil, false
	}
	if ex.graphicsRS == nil || ex.graphicsRS != pso.rs {
		ex.dev.report("draw with a root signature that does not match the pipeline state")
		return nil, nil, false
	}
	if len(ex.rtvs) != len(pso.desc.RTVFormats) {
		ex.dev.report("draw with %d render targets bound, pipeline writes %d", len(ex.rtvs), len(pso.desc.RTVFormats))
		return nil, nil, false
	}

	target := &rasterTarget{colour: ex.rtvs}
	for i, v := range ex.rtvs {
		if v.format != pso.desc.RTVFormats[i] {
			ex.dev.report("render target %d is %s, pipeline writes %s", i, v.format, pso.desc.RTVFormats[i])
			return nil, nil, false
		}
		if !ex.requireState(v.res, gpu.ResourceStateRenderTarget, "draw") {
			return nil, nil, false
		}
		w, h := int(v.res.desc.Width), int(v.res.desc.Height)
		if i == 0 {
			target.width, target.height = w, h
		} else if w != target.width || h != target.height {
			ex.dev.report("render targets of different sizes bound")
			return nil, nil, false
		}
	}
	if pso.desc.DepthEnable {
		if ex.dsv == nil {
			ex.dev.report("depth enabled pipeline drawn without a depth stencil view")
			return nil, nil, false
		}
		if !ex.requireState(ex.dsv.res, gpu.ResourceStateDepthWrite, "depth test") {
			return nil, nil, false
		}
		d := ex.dsv.res
		if int(d.desc.Width) != target.width || int(d.desc.Height) != target.height {
			ex.dev.report("depth buffer `%s` does not match the render target size", d.Name())
			return nil, nil, false
		}
		target.depth = d
	}

	ctx := &ShaderContext{
		pso:      pso,
		params:   make([]boundParameter, len(pso.rs.desc.Parameters)),
		targets:  len(ex.rtvs),
		viewport: ex.viewport,
	}
	for i, p := range pso.rs.desc.Parameters {
		b := ex.graphics[i]
		if !b.set {
			ex.dev.report("draw with root parameter %d unset", i)
			return nil, nil, false
		}
		switch p.Kind {
		case gpu.RootParameterDescriptorTable:
			entries, err := ex.tableEntries(b.table, p.TableSize())
			if err != nil {
				ex.dev.report("draw: %s", err)
				return nil, nil, false
			}
			for _, d := range entries {
				if d.kind == descriptorSRV && d.res != nil &&
					!ex.requireState(d.res, gpu.ResourceStatePixelShaderResource|gpu.ResourceStateNonPixelShaderResource, "shader resource") {
					return nil, nil, false
				}
			}
			ctx.params[i].table = entries
		default:
			data, res, err := ex.dev.bytesAt(b.address)
			if err != nil {
				ex.dev.report("draw: root parameter %d: %s", i, err)
				return nil, nil, false
			}
			if p.Kind == gpu.RootParameterCBV && !ex.requireState(res, gpu.ResourceStateVertexAndConstantBuffer, "constant buffer") {
				return nil, nil, false
			}
			ctx.params[i].constants = data
		}
	}
	return ctx, target, true
}

func (ex *executor) draw(dc drawCall) {
	ctx, target, ok := ex.prepareDraw()
	if !ok || dc.count == 0 {
		return
	}
	if len(ex.vbs) == 0 {
		ex.dev.report("draw without a vertex buffer")
		return
	}
	vbv := ex.vbs[0]
	vb, vbRes, err := ex.dev.bytesAt(vbv.BufferLocation)
	if err != nil {
		ex.dev.report("draw: vertex buffer: %s", err)
		return
	}
	if !ex.requireState(vbRes, gpu.ResourceStateVertexAndConstantBuffer, "vertex buffer") {
		return
	}
	if vbv.StrideInBytes == 0 {
		ex.dev.report("draw with a zero vertex stride")
		return
	}
	if uint32(len(vb)) > vbv.SizeInBytes {
		vb = vb[:vbv.SizeInBytes]
	}
	vertexCount := uint32(len(vb)) / vbv.StrideInBytes

	var indices []uint32
	if dc.indexed {
		indices, ok = ex.fetchIndices(dc)
		if !ok {
			return
		}
	} else {
		indices = make([]uint32, dc.count)
		for i := range indices {
			indices[i] = dc.start + uint32(i)
		}
	}

	cache := make([]clipVertex, vertexCount)
	done := make([]bool, vertexCount)
	shade := func(index uint32) (clipVertex, bool) {
		if index >= vertexCount {
			return clipVertex{}, false
		}
		if !done[index] {
			out := VertexOutput{}
			off := index * vbv.StrideInBytes
			ctx.pso.vs(ctx, vb[off:off+vbv.StrideInBytes], &out)
			cache[index] = clipVertex{pos: out.Position, vary: out.Varyings}
			done[index] = true
		}
		return cache[index], true
	}

	triangles := len(indices) / 3
	if ex.topology == gpu.PrimitiveTopologyTriangleStrip {
		triangles = len(indices) - 2
	}
	for k := 0; k < triangles; k++ {
		var tri [3]uint32
		switch {
		case ex.topology == gpu.PrimitiveTopologyTriangleList:
			tri = [3]uint32{indices[3*k], indices[3*k+1], indices[3*k+2]}
		case k%2 == 0:
			tri = [3]uint32{indices[k], indices[k+1], indices[k+2]}
		default:
			tri = [3]uint32{indices[k+1], indices[k], indices[k+2]}
		}
		var verts [3]clipVertex
		valid := true
		for i, idx := range tri {
			if verts[i], ok = shade(idx); !ok {
				valid = false
			}
		}
		if !valid {
			ex.dev.report("draw reads vertex past the end of the vertex buffer")
			return
		}
		for _, t := range clipNear(verts) {
			ex.rasterise(ctx, target, t)
		}
	}
}

func (ex *executor) fetchIndices(dc drawCall) ([]uint32, bool) {
	if ex.ib == nil {
		ex.dev.report("indexed draw without an index buffer")
		return nil, false
	}
	if ex.ib.Format != gpu.FormatR32Uint {
		ex.dev.report("index format %s is not supported", ex.ib.Format)
		return nil, false
	}
	ib, ibRes, err := ex.dev.bytesAt(ex.ib.BufferLocation)
	if err != nil {
		ex.dev.report("draw: index buffer: %s", err)
		return nil, false
	}
	if !ex.requireState(ibRes, gpu.ResourceStateIndexBuffer, "index buffer") {
		return nil, false
	}
	if uint32(len(ib)) > ex.ib.SizeInBytes {
		ib = ib[:ex.ib.SizeInBytes]
	}
	if uint64(dc.start+dc.count)*4 > uint64(len(ib)) {
		ex.dev.report("indexed draw of %d indices overruns the index buffer", dc.count)
		return nil, false
	}
	indices := make([]uint32, dc.count)
	for i := range indices {
		v := int64(binary.LittleEndian.Uint32(ib[(dc.start+uint32(i))*4:])) + int64(dc.baseVertex)
		if v < 0 {
			v = 0
		}
		indices[i] = uint32(v)
	}
	return indices, true
}

func lerpVertex(a, b clipVertex, t float32) clipVertex {
	out := clipVertex{}
	for i := range out.pos {
		out.pos[i] = a.pos[i] + (b.pos[i]-a.pos[i])*t
	}
	for i := range out.vary {
		out.vary[i] = a.vary[i] + (b.vary[i]-a.vary[i])*t
	}
	return out
}

// clipNear clips a triangle against the z >= 0 plane and returns the
// resulting fan.
func clipNear(tri [3]clipVertex) [][3]clipVertex {
	inside := 0
	for _, v := range tri {
		if v.pos[2] >= 0 {
			inside++
		}
	}
	switch inside {
	case 3:
		return [][3]clipVertex{tri}
	case 0:
		return nil
	}
	poly := make([]clipVertex, 0, 4)
	for i := range tri {
		a, b := tri[i], tri[(i+1)%3]
		if a.pos[2] >= 0 {
			poly = append(poly, a)
		}
		if (a.pos[2] >= 0) != (b.pos[2] >= 0) {
			t := a.pos[2] / (a.pos[2] - b.pos[2])
			poly = append(poly, lerpVertex(a, b, t))
		}
	}
	out := make([][3]clipVertex, 0, len(poly)-2)
	for i := 1; i+1 < len(poly); i++ {
		out = append(out, [3]clipVertex{poly[0], poly[i], poly[i+1]})
	}
	return out
}

func (ex *executor) project(v clipVertex) (screenVertex, bool) {
	w := v.pos[3]
	if w <= 0 {
		return screenVertex{}, false
	}
	inv := 1 / w
	vp := ex.viewport
	return screenVertex{
		x:    vp.X + (v.pos[0]*inv+1)*0.5*vp.Width,
		y:    vp.Y + (1-v.pos[1]*inv)*0.5*vp.Height,
		z:    vp.MinDepth + v.pos[2]*inv*(vp.MaxDepth-vp.MinDepth),
		invW: inv,
		vary: v.vary,
	}, true
}

func orient(ax, ay, bx, by, px, py float32) float32 {
	return (bx-ax)*(py-ay) - (px-ax)*(by-ay)
}

// topLeft reports whether the edge a->b owns pixels lying exactly on it
// for a clockwise triangle.
func topLeft(ax, ay, bx, by float32) bool {
	return (ay == by && bx > ax) || by < ay
}

func (ex *executor) rasterise(ctx *ShaderContext, target *rasterTarget, tri [3]clipVertex) {
	var s [3]screenVertex
	for i := range tri {
		v, ok := ex.project(tri[i])
		if !ok {
			return
		}
		s[i] = v
	}

	area := orient(s[0].x, s[0].y, s[1].x, s[1].y, s[2].x, s[2].y)
	if area == 0 {
		return
	}
	clockwise := area > 0
	switch ctx.pso.desc.CullMode {
	case gpu.CullModeFront:
		if clockwise {
			return
		}
	case gpu.CullModeBack:
		if !clockwise {
			return
		}
	}
	if !clockwise {
		s[1], s[2] = s[2], s[1]
		area = -area
	}

	minX := math32.Floor(math32.Min(s[0].x, math32.Min(s[1].x, s[2].x)))
	maxX := math32.Ceil(math32.Max(s[0].x, math32.Max(s[1].x, s[2].x)))
	minY := math32.Floor(math32.Min(s[0].y, math32.Min(s[1].y, s[2].y)))
	maxY := math32.Ceil(math32.Max(s[0].y, math32.Max(s[1].y, s[2].y)))

	x0 := maxInt(int(minX), int(ex.viewport.X), int(ex.scissor.Left), 0)
	y0 := maxInt(int(minY), int(ex.viewport.Y), int(ex.scissor.Top), 0)
	x1 := minInt(int(maxX), int(ex.viewport.X+ex.viewport.Width), int(ex.scissor.Right), target.width)
	y1 := minInt(int(maxY), int(ex.viewport.Y+ex.viewport.Height), int(ex.scissor.Bottom), target.height)
	if x0 >= x1 || y0 >= y1 {
		return
	}

	own := [3]bool{
		topLeft(s[1].x, s[1].y, s[2].x, s[2].y),
		topLeft(s[2].x, s[2].y, s[0].x, s[0].y),
		topLeft(s[0].x, s[0].y, s[1].x, s[1].y),
	}

	rows := func(from, to int) {
		in := PixelInput{}
		out := PixelOutput{}
		for y := from; y < to; y++ {
			py := float32(y) + 0.5
			for x := x0; x < x1; x++ {
				px := float32(x) + 0.5
				w := [3]float32{
					orient(s[1].x, s[1].y, s[2].x, s[2].y, px, py),
					orient(s[2].x, s[2].y, s[0].x, s[0].y, px, py),
					orient(s[0].x, s[0].y, s[1].x, s[1].y, px, py),
				}
				covered := true
				for i := range w {
					if w[i] < 0 || (w[i] == 0 && !own[i]) {
						covered = false
						break
					}
				}
				if !covered {
					continue
				}
				l0, l1, l2 := w[0]/area, w[1]/area, w[2]/area
				z := l0*s[0].z + l1*s[1].z + l2*s[2].z
				if z < 0 || z > 1 {
					continue
				}
				if target.depth != nil {
					d := target.depth.texel(x, y)
					stored := getFloat(d)
					pass := z < stored
					if ctx.pso.desc.DepthFunc == gpu.ComparisonFuncLessEqual {
						pass = z <= stored
					} else if ctx.pso.desc.DepthFunc == gpu.ComparisonFuncAlways {
						pass = true
					}
					if !pass {
						continue
					}
					putFloat(d, z)
				}

				p0, p1, p2 := l0*s[0].invW, l1*s[1].invW, l2*s[2].invW
				sum := p0 + p1 + p2
				p0, p1, p2 = p0/sum, p1/sum, p2/sum
				for i := range in.Varyings {
					in.Varyings[i] = p0*s[0].vary[i] + p1*s[1].vary[i] + p2*s[2].vary[i]
				}
				in.Position = [4]float32{px, py, z, sum}
				ctx.pso.ps(ctx, &in, &out)
				for i, rt := range target.colour {
					encodeTexel(rt.format, out.Targets[i], rt.res.texel(x, y))
				}
			}
		}
	}

	height := y1 - y0
	if height < parallelRows {
		rows(y0, y1)
		return
	}
	bands := (height + parallelRows - 1) / parallelRows
	var wg sync.WaitGroup
	wg.Add(bands)
	for b := 0; b < bands; b++ {
		from := y0 + b*parallelRows
		to := minInt(from+parallelRows, y1)
		go func() {
			defer wg.Done()
			rows(from, to)
		}()
	}
	wg.Wait()
}

func minInt(v ...int) int {
	m := v[0]
	for _, x := range v[1:] {
		if x < m {
			m = x
		}
	}
	return m
}

func maxInt(v ...int) int {
	m := v[0]
	for _, x := range v[1:] {
		if x > m {
			m = x
		}
	}
	return m
}
