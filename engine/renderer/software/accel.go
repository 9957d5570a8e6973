package software

import (
	"encoding/binary"
	"fmt"

	"github.com/chewxy/math32"
	"golang.org/x/exp/slices"

	"github.com/spaghettifunk/refract/engine/renderer/gpu"
)

const bvhLeafSize = 4

type aabb struct {
	min, max [3]float32
}

func emptyBox() aabb {
	inf := math32.Inf(1)
	return aabb{min: [3]float32{inf, inf, inf}, max: [3]float32{-inf, -inf, -inf}}
}

func (b *aabb) grow(p [3]float32) {
	for i := 0; i < 3; i++ {
		b.min[i] = math32.Min(b.min[i], p[i])
		b.max[i] = math32.Max(b.max[i], p[i])
	}
}

func (b *aabb) merge(o aabb) {
	b.grow(o.min)
	b.grow(o.max)
}

func (b aabb) centre() [3]float32 {
	return [3]float32{(b.min[0] + b.max[0]) * 0.5, (b.min[1] + b.max[1]) * 0.5, (b.min[2] + b.max[2]) * 0.5}
}

func (b aabb) empty() bool {
	return b.min[0] > b.max[0]
}

// hit returns the entry distance of a ray into the box.
func (b aabb) hit(origin, invDir [3]float32, tmin, tmax float32) (float32, bool) {
	for i := 0; i < 3; i++ {
		t0 := (b.min[i] - origin[i]) * invDir[i]
		t1 := (b.max[i] - origin[i]) * invDir[i]
		if t0 > t1 {
			t0, t1 = t1, t0
		}
		// 0 * inf on a slab boundary
		if t0 == t0 {
			tmin = math32.Max(tmin, t0)
		}
		if t1 == t1 {
			tmax = math32.Min(tmax, t1)
		}
		if tmin > tmax {
			return 0, false
		}
	}
	return tmin, true
}

// bvhNode is a leaf when count is non zero: items [first, first+count) of
// the order slice. Inner nodes keep their children at first and first+1,
// always after the parent.
type bvhNode struct {
	box   aabb
	first int32
	count int32
}

type bvh struct {
	nodes []bvhNode
	order []int32
}

func buildBVH(boxes []aabb) bvh {
	t := bvh{order: make([]int32, len(boxes))}
	for i := range t.order {
		t.order[i] = int32(i)
	}
	if len(boxes) == 0 {
		return t
	}
	t.nodes = append(t.nodes, bvhNode{})
	t.split(0, 0, int32(len(boxes)), boxes)
	return t
}

func (t *bvh) split(node, first, count int32, boxes []aabb) {
	box := emptyBox()
	centres := emptyBox()
	for _, i := range t.order[first : first+count] {
		box.merge(boxes[i])
		centres.grow(boxes[i].centre())
	}
	t.nodes[node].box = box
	if count <= bvhLeafSize {
		t.nodes[node].first, t.nodes[node].count = first, count
		return
	}

	axis := 0
	extent := [3]float32{}
	for i := range extent {
		extent[i] = centres.max[i] - centres.min[i]
	}
	if extent[1] > extent[axis] {
		axis = 1
	}
	if extent[2] > extent[axis] {
		axis = 2
	}
	items := t.order[first : first+count]
	slices.SortStableFunc(items, func(a, b int32) int {
		ca, cb := boxes[a].centre()[axis], boxes[b].centre()[axis]
		switch {
		case ca < cb:
			return -1
		case ca > cb:
			return 1
		}
		return 0
	})

	left := int32(len(t.nodes))
	t.nodes = append(t.nodes, bvhNode{}, bvhNode{})
	t.nodes[node].first, t.nodes[node].count = left, 0
	half := count / 2
	t.split(left, first, half, boxes)
	t.split(left+1, first+half, count-half, boxes)
}

// refit recomputes node bounds from new item bounds, keeping the tree
// topology.
func (t *bvh) refit(boxes []aabb) {
	for n := len(t.nodes) - 1; n >= 0; n-- {
		node := &t.nodes[n]
		box := emptyBox()
		if node.count > 0 {
			for _, i := range t.order[node.first : node.first+node.count] {
				box.merge(boxes[i])
			}
		} else {
			box.merge(t.nodes[node.first].box)
			box.merge(t.nodes[node.first+1].box)
		}
		node.box = box
	}
}

// traverse visits the leaves whose boxes the ray enters before tmax. visit
// returns the new closest distance.
func (t *bvh) traverse(origin, dir [3]float32, tmin, tmax float32, visit func(item int32, tmax float32) float32) float32 {
	if len(t.nodes) == 0 {
		return tmax
	}
	inv := [3]float32{1 / dir[0], 1 / dir[1], 1 / dir[2]}
	stack := make([]int32, 0, 64)
	stack = append(stack, 0)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		node := t.nodes[n]
		if _, ok := node.box.hit(origin, inv, tmin, tmax); !ok {
			continue
		}
		if node.count > 0 {
			for _, item := range t.order[node.first : node.first+node.count] {
				tmax = visit(item, tmax)
			}
			continue
		}
		stack = append(stack, node.first+1, node.first)
	}
	return tmax
}

type triangle [3][3]float32

func (t triangle) bounds() aabb {
	b := emptyBox()
	for _, v := range t {
		b.grow(v)
	}
	return b
}

// intersect is the Möller-Trumbore test without back face culling.
func (t triangle) intersect(origin, dir [3]float32, tmin, tmax float32) (float32, float32, float32, bool) {
	const eps = 1e-9
	e1 := sub3(t[1], t[0])
	e2 := sub3(t[2], t[0])
	p := cross3(dir, e2)
	det := dot3(e1, p)
	if math32.Abs(det) < eps {
		return 0, 0, 0, false
	}
	inv := 1 / det
	s := sub3(origin, t[0])
	u := dot3(s, p) * inv
	if u < 0 || u > 1 {
		return 0, 0, 0, false
	}
	q := cross3(s, e1)
	v := dot3(dir, q) * inv
	if v < 0 || u+v > 1 {
		return 0, 0, 0, false
	}
	d := dot3(e2, q) * inv
	if d < tmin || d > tmax {
		return 0, 0, 0, false
	}
	return d, u, v, true
}

type instance struct {
	desc          gpu.InstanceDesc
	blas          *accelStructure
	worldToObject [12]float32
}

type accelStructure struct {
	kind  gpu.AccelStructType
	flags gpu.AccelStructBuildFlags
	res   *Resource
	count uint32

	triangles []triangle
	instances []instance
	tree      bvh
}

func (a *accelStructure) bounds() aabb {
	if len(a.tree.nodes) == 0 {
		return emptyBox()
	}
	return a.tree.nodes[0].box
}

func accelSizes(inputs *gpu.BuildInputs) gpu.PrebuildInfo {
	align := func(v uint64) uint64 {
		return (v + gpu.AccelStructAlignment - 1) &^ (gpu.AccelStructAlignment - 1)
	}
	if inputs.Type == gpu.AccelStructTopLevel {
		n := uint64(inputs.NumDescs)
		nodes := 2 * n
		if nodes == 0 {
			nodes = 2
		}
		return gpu.PrebuildInfo{
			ResultDataMaxSize:     align(64 + n*160 + nodes*32),
			ScratchDataSize:       align(n*32 + 64),
			UpdateScratchDataSize: align(n*16 + 64),
		}
	}
	tris := uint64(0)
	for _, g := range inputs.Geometry {
		if g.Triangles.IndexCount > 0 {
			tris += uint64(g.Triangles.IndexCount / 3)
		} else {
			tris += uint64(g.Triangles.VertexCount / 3)
		}
	}
	return gpu.PrebuildInfo{
		ResultDataMaxSize:     align(64 + tris*40 + 2*tris*32),
		ScratchDataSize:       align(tris*32 + 64),
		UpdateScratchDataSize: align(64),
	}
}

func (d *Device) RaytracingPrebuildInfo(inputs *gpu.BuildInputs) gpu.PrebuildInfo {
	if inputs == nil {
		return gpu.PrebuildInfo{}
	}
	return accelSizes(inputs)
}

func (d *Device) lookupAccel(addr gpu.GPUAddress) *accelStructure {
	d.accelMu.RLock()
	defer d.accelMu.RUnlock()
	return d.accel[addr]
}

func (d *Device) storeAccel(addr gpu.GPUAddress, a *accelStructure) {
	d.accelMu.Lock()
	d.accel[addr] = a
	d.accelMu.Unlock()
}

// dropAccel forgets the structures stored in a released buffer.
func (d *Device) dropAccel(r *Resource) {
	d.accelMu.Lock()
	defer d.accelMu.Unlock()
	for addr, a := range d.accel {
		if a.res == r {
			delete(d.accel, addr)
		}
	}
}

func (l *CommandList) BuildRaytracingAccelerationStructure(desc *gpu.BuildDesc) {
	if desc == nil {
		l.dev.report("build acceleration structure: nil description")
		return
	}
	b := *desc
	b.Inputs.Geometry = append([]gpu.GeometryDesc(nil), desc.Inputs.Geometry...)
	l.record(func(ex *executor) { ex.buildAccel(&b) })
}

func (ex *executor) buildAccel(b *gpu.BuildDesc) {
	dev := ex.dev
	sizes := accelSizes(&b.Inputs)
	update := b.Inputs.Flags&gpu.AccelStructBuildPerformUpdate != 0

	if uint64(b.Dest)%gpu.AccelStructAlignment != 0 {
		dev.report("acceleration structure destination 0x%x is not %d byte aligned", uint64(b.Dest), gpu.AccelStructAlignment)
		return
	}
	dest, destOff, err := dev.resolve(b.Dest)
	if err != nil {
		dev.report("acceleration structure destination: %s", err)
		return
	}
	if !ex.requireState(dest, gpu.ResourceStateRaytracingAccelStructure, "acceleration structure destination") {
		return
	}
	if uint64(len(dest.data))-destOff < sizes.ResultDataMaxSize {
		dev.report("acceleration structure destination `%s` holds %d bytes, build needs %d", dest.Name(), uint64(len(dest.data))-destOff, sizes.ResultDataMaxSize)
		return
	}
	scratch, scratchOff, err := dev.resolve(b.Scratch)
	if err != nil {
		dev.report("acceleration structure scratch: %s", err)
		return
	}
	if !ex.requireState(scratch, gpu.ResourceStateUnorderedAccess, "acceleration structure scratch") {
		return
	}
	need := sizes.ScratchDataSize
	if update {
		need = sizes.UpdateScratchDataSize
	}
	if uint64(len(scratch.data))-scratchOff < need {
		dev.report("acceleration structure scratch `%s` holds %d bytes, build needs %d", scratch.Name(), uint64(len(scratch.data))-scratchOff, need)
		return
	}

	var prev *accelStructure
	if update {
		prev = dev.lookupAccel(b.Source)
		switch {
		case prev == nil:
			dev.report("acceleration structure update from 0x%x which holds no structure", uint64(b.Source))
			return
		case prev.flags&gpu.AccelStructBuildAllowUpdate == 0:
			dev.report("acceleration structure update of a structure built without AllowUpdate")
			return
		case prev.kind != b.Inputs.Type || prev.count != b.Inputs.NumDescs:
			dev.report("acceleration structure update changes the structure's inputs")
			return
		}
	}

	var as *accelStructure
	if b.Inputs.Type == gpu.AccelStructTopLevel {
		as, err = ex.buildTopLevel(b, prev)
	} else {
		as, err = ex.buildBottomLevel(b, prev)
	}
	if err != nil {
		dev.report("acceleration structure build: %s", err)
		return
	}
	as.res = dest
	dev.storeAccel(b.Dest, as)
}

func (ex *executor) buildBottomLevel(b *gpu.BuildDesc, prev *accelStructure) (*accelStructure, error) {
	tris := make([]triangle, 0)
	for gi, g := range b.Inputs.Geometry {
		t := g.Triangles
		if t.VertexFormat != gpu.FormatRGB32Float {
			return nil, fmt.Errorf("geometry %d: vertex format %s is not supported", gi, t.VertexFormat)
		}
		vb, _, err := ex.dev.bytesAt(t.VertexBuffer)
		if err != nil {
			return nil, fmt.Errorf("geometry %d vertices: %w", gi, err)
		}
		if uint64(t.VertexCount) > 0 && (uint64(t.VertexCount)-1)*t.VertexStride+12 > uint64(len(vb)) {
			return nil, fmt.Errorf("geometry %d: %d vertices overrun the vertex buffer", gi, t.VertexCount)
		}
		vertex := func(i uint32) ([3]float32, error) {
			if i >= t.VertexCount {
				return [3]float32{}, fmt.Errorf("geometry %d: index %d out of %d vertices", gi, i, t.VertexCount)
			}
			off := uint64(i) * t.VertexStride
			return [3]float32{getFloat(vb[off:]), getFloat(vb[off+4:]), getFloat(vb[off+8:])}, nil
		}

		var indices []uint32
		if t.IndexCount > 0 {
			if t.IndexFormat != gpu.FormatR32Uint {
				return nil, fmt.Errorf("geometry %d: index format %s is not supported", gi, t.IndexFormat)
			}
			ib, _, err := ex.dev.bytesAt(t.IndexBuffer)
			if err != nil {
				return nil, fmt.Errorf("geometry %d indices: %w", gi, err)
			}
			if uint64(t.IndexCount)*4 > uint64(len(ib)) {
				return nil, fmt.Errorf("geometry %d: %d indices overrun the index buffer", gi, t.IndexCount)
			}
			indices = make([]uint32, t.IndexCount)
			for i := range indices {
				indices[i] = binary.LittleEndian.Uint32(ib[i*4:])
			}
		} else {
			indices = make([]uint32, t.VertexCount)
			for i := range indices {
				indices[i] = uint32(i)
			}
		}
		for i := 0; i+2 < len(indices); i += 3 {
			var tri triangle
			for k := 0; k < 3; k++ {
				v, err := vertex(indices[i+k])
				if err != nil {
					return nil, err
				}
				tri[k] = v
			}
			tris = append(tris, tri)
		}
	}

	boxes := make([]aabb, len(tris))
	for i, t := range tris {
		boxes[i] = t.bounds()
	}
	as := &accelStructure{kind: gpu.AccelStructBottomLevel, flags: b.Inputs.Flags &^ gpu.AccelStructBuildPerformUpdate, count: b.Inputs.NumDescs, triangles: tris}
	if prev != nil && len(prev.triangles) == len(tris) {
		as.tree = bvh{nodes: append([]bvhNode(nil), prev.tree.nodes...), order: prev.tree.order}
		as.tree.refit(boxes)
	} else {
		as.tree = buildBVH(boxes)
	}
	return as, nil
}

func (ex *executor) buildTopLevel(b *gpu.BuildDesc, prev *accelStructure) (*accelStructure, error) {
	n := b.Inputs.NumDescs
	instances := make([]instance, n)
	boxes := make([]aabb, n)
	if n > 0 {
		data, _, err := ex.dev.bytesAt(b.Inputs.InstanceDescs)
		if err != nil {
			return nil, fmt.Errorf("instance descriptions: %w", err)
		}
		if uint64(n)*gpu.InstanceDescSize > uint64(len(data)) {
			return nil, fmt.Errorf("%d instance descriptions overrun their buffer", n)
		}
		for i := range instances {
			desc := gpu.DecodeInstanceDesc(data[i*gpu.InstanceDescSize:])
			blas := ex.dev.lookupAccel(desc.AccelerationStructure)
			if blas == nil || blas.kind != gpu.AccelStructBottomLevel {
				return nil, fmt.Errorf("instance %d references 0x%x which is not a bottom level structure", i, uint64(desc.AccelerationStructure))
			}
			inv, ok := invert3x4(desc.Transform)
			if !ok {
				return nil, fmt.Errorf("instance %d has a singular transform", i)
			}
			instances[i] = instance{desc: desc, blas: blas, worldToObject: inv}
			boxes[i] = transformBox(desc.Transform, blas.bounds())
		}
	}
	as := &accelStructure{kind: gpu.AccelStructTopLevel, flags: b.Inputs.Flags &^ gpu.AccelStructBuildPerformUpdate, count: n, instances: instances}
	if prev != nil {
		as.tree = bvh{nodes: append([]bvhNode(nil), prev.tree.nodes...), order: prev.tree.order}
		as.tree.refit(boxes)
	} else {
		as.tree = buildBVH(boxes)
	}
	return as, nil
}

func transformPoint(m [12]float32, p [3]float32) [3]float32 {
	return [3]float32{
		m[0]*p[0] + m[1]*p[1] + m[2]*p[2] + m[3],
		m[4]*p[0] + m[5]*p[1] + m[6]*p[2] + m[7],
		m[8]*p[0] + m[9]*p[1] + m[10]*p[2] + m[11],
	}
}

func transformVector(m [12]float32, v [3]float32) [3]float32 {
	return [3]float32{
		m[0]*v[0] + m[1]*v[1] + m[2]*v[2],
		m[4]*v[0] + m[5]*v[1] + m[6]*v[2],
		m[8]*v[0] + m[9]*v[1] + m[10]*v[2],
	}
}

func transformBox(m [12]float32, b aabb) aabb {
	out := emptyBox()
	if b.empty() {
		return out
	}
	for c := 0; c < 8; c++ {
		p := [3]float32{b.min[0], b.min[1], b.min[2]}
		if c&1 != 0 {
			p[0] = b.max[0]
		}
		if c&2 != 0 {
			p[1] = b.max[1]
		}
		if c&4 != 0 {
			p[2] = b.max[2]
		}
		out.grow(transformPoint(m, p))
	}
	return out
}

func invert3x4(m [12]float32) ([12]float32, bool) {
	a, b, c := m[0], m[1], m[2]
	d, e, f := m[4], m[5], m[6]
	g, h, i := m[8], m[9], m[10]
	det := a*(e*i-f*h) - b*(d*i-f*g) + c*(d*h-e*g)
	if math32.Abs(det) < 1e-12 {
		return [12]float32{}, false
	}
	inv := 1 / det
	r := [12]float32{
		(e*i - f*h) * inv, (c*h - b*i) * inv, (b*f - c*e) * inv, 0,
		(f*g - d*i) * inv, (a*i - c*g) * inv, (c*d - a*f) * inv, 0,
		(d*h - e*g) * inv, (b*g - a*h) * inv, (a*e - b*d) * inv, 0,
	}
	t := [3]float32{m[3], m[7], m[11]}
	for row := 0; row < 3; row++ {
		r[row*4+3] = -(r[row*4]*t[0] + r[row*4+1]*t[1] + r[row*4+2]*t[2])
	}
	return r, true
}

// rayHit is the closest intersection found by a scene query.
type rayHit struct {
	instance  uint32
	primitive uint32
	t         float32
	u, v      float32
}

// closestHit traces a ray through a top-level structure.
func (a *accelStructure) closestHit(origin, dir [3]float32, tmin, tmax float32, mask uint8) (rayHit, bool) {
	best := rayHit{}
	found := false
	a.tree.traverse(origin, dir, tmin, tmax, func(item int32, tmax float32) float32 {
		inst := &a.instances[item]
		if inst.desc.InstanceMask&mask == 0 {
			return tmax
		}
		o := transformPoint(inst.worldToObject, origin)
		d := transformVector(inst.worldToObject, dir)
		return inst.blas.tree.traverse(o, d, tmin, tmax, func(prim int32, tmax float32) float32 {
			t, u, v, ok := inst.blas.triangles[prim].intersect(o, d, tmin, tmax)
			if !ok {
				return tmax
			}
			best = rayHit{instance: uint32(item), primitive: uint32(prim), t: t, u: u, v: v}
			found = true
			return t
		})
	})
	return best, found
}

func sub3(a, b [3]float32) [3]float32 {
	return [3]float32{a[0] - b[0], a[1] - b[1], a[2] - b[2]}
}

func dot3(a, b [3]float32) float32 {
	return a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
}

func cross3(a, b [3]float32) [3]float32 {
	return [3]float32{a[1]*b[2] - a[2]*b[1], a[2]*b[0] - a[0]*b[2], a[0]*b[1] - a[1]*b[0]}
}
