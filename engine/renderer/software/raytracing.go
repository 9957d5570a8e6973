package software

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/spaghettifunk/refract/engine/renderer/gpu"
)

type shaderKind uint8

const (
	shaderRayGeneration shaderKind = iota
	shaderMiss
	shaderHitGroup
)

// shaderRef is what a shader identifier in a shader record stands for.
type shaderRef struct {
	so         *StateObject
	export     string
	kind       shaderKind
	rayGen     RayGenerationProgram
	miss       MissProgram
	closestHit ClosestHitProgram
}

type StateObject struct {
	dev         *Device
	id          uuid.UUID
	desc        gpu.StateObjectDesc
	identifiers map[string][gpu.ShaderIdentifierSize]byte
}

func (d *Device) CreateStateObject(desc *gpu.StateObjectDesc) (gpu.StateObject, error) {
	if desc == nil {
		return nil, fmt.Errorf("nil state object description")
	}
	if desc.MaxRecursionDepth == 0 || desc.MaxRecursionDepth > gpu.MaxRaytracingRecursion {
		return nil, fmt.Errorf("recursion depth %d out of range 1..%d", desc.MaxRecursionDepth, gpu.MaxRaytracingRecursion)
	}
	if desc.MaxPayloadSize > uint32(len(Payload{})*4) {
		return nil, fmt.Errorf("payload of %d bytes, at most %d are supported", desc.MaxPayloadSize, len(Payload{})*4)
	}
	if desc.MaxAttributeSize > 8 {
		return nil, fmt.Errorf("hit attributes of %d bytes, triangle attributes are 8 bytes", desc.MaxAttributeSize)
	}

	so := &StateObject{dev: d, id: uuid.New(), identifiers: make(map[string][gpu.ShaderIdentifierSize]byte)}
	so.desc = *desc
	refs := make(map[string]shaderRef)
	closestHits := make(map[string]ClosestHitProgram)
	for _, export := range desc.Exports {
		if p, ok := lookupProgram(programs.rayGen, export); ok {
			refs[export] = shaderRef{so: so, export: export, kind: shaderRayGeneration, rayGen: p}
			continue
		}
		if p, ok := lookupProgram(programs.miss, export); ok {
			refs[export] = shaderRef{so: so, export: export, kind: shaderMiss, miss: p}
			continue
		}
		if p, ok := lookupProgram(programs.closestHit, export); ok {
			closestHits[export] = p
			continue
		}
		return nil, fmt.Errorf("ray tracing export `%s` is not registered", export)
	}
	for _, hg := range desc.HitGroups {
		p, ok := closestHits[hg.ClosestHit]
		if !ok {
			return nil, fmt.Errorf("hit group `%s` uses closest hit `%s` which is not exported", hg.Name, hg.ClosestHit)
		}
		refs[hg.Name] = shaderRef{so: so, export: hg.Name, kind: shaderHitGroup, closestHit: p}
	}
	for _, assoc := range desc.LocalRootSignatures {
		rs, err := asRootSignature(assoc.RootSignature)
		if err != nil {
			return nil, err
		}
		if !rs.desc.Local {
			return nil, fmt.Errorf("root signature associated with %v is not local", assoc.Exports)
		}
	}

	d.idMu.Lock()
	defer d.idMu.Unlock()
	for name, ref := range refs {
		var id [gpu.ShaderIdentifierSize]byte
		sum := uuid.NewSHA1(so.id, []byte(name))
		copy(id[:16], sum[:])
		copy(id[16:], so.id[:])
		so.identifiers[name] = id
		d.shaderIDs[id] = ref
	}
	return so, nil
}

func (so *StateObject) ShaderIdentifier(export string) []byte {
	id, ok := so.identifiers[export]
	if !ok {
		return nil
	}
	return id[:]
}

func (so *StateObject) Release() {
	so.dev.idMu.Lock()
	defer so.dev.idMu.Unlock()
	for _, id := range so.identifiers {
		delete(so.dev.shaderIDs, id)
	}
}

// shaderRecord is a decoded shader table entry.
type shaderRecord struct {
	ref  shaderRef
	args []byte
}

func (d *Device) decodeRecord(data []byte, kind shaderKind) (shaderRecord, error) {
	if len(data) < gpu.ShaderIdentifierSize {
		return shaderRecord{}, fmt.Errorf("shader record of %d bytes", len(data))
	}
	var id [gpu.ShaderIdentifierSize]byte
	copy(id[:], data)
	d.idMu.RLock()
	ref, ok := d.shaderIDs[id]
	d.idMu.RUnlock()
	if !ok {
		return shaderRecord{}, fmt.Errorf("shader record carries an unknown shader identifier")
	}
	if ref.kind != kind {
		return shaderRecord{}, fmt.Errorf("shader record for `%s` found in the wrong table", ref.export)
	}
	return shaderRecord{ref: ref, args: data[gpu.ShaderIdentifierSize:]}, nil
}

// dispatch is the state shared by every ray of one DispatchRays.
type dispatch struct {
	ex      *executor
	desc    gpu.DispatchRaysDesc
	so      *StateObject
	faulted atomic.Bool

	missTable []byte
	hitTable  []byte

	mu      sync.Mutex
	records map[uint64]shaderRecord
}

func (l *CommandList) DispatchRays(desc *gpu.DispatchRaysDesc) {
	if desc == nil {
		l.dev.report("dispatch rays: nil description")
		return
	}
	d := *desc
	l.record(func(ex *executor) { ex.dispatchRays(&d) })
}

func (ex *executor) dispatchRays(desc *gpu.DispatchRaysDesc) {
	dev := ex.dev
	if ex.stateObject == nil {
		dev.report("dispatch rays without a ray tracing pipeline")
		return
	}
	if ex.heap == nil {
		dev.report("dispatch rays without a bound descriptor heap")
		return
	}
	if desc.Depth == 0 {
		desc.Depth = 1
	}
	table := func(name string, r gpu.AddressRangeAndStride) ([]byte, bool) {
		if r.SizeInBytes == 0 {
			return nil, true
		}
		if uint64(r.StartAddress)%gpu.ShaderTableAlignment != 0 {
			dev.report("%s table at 0x%x is not %d byte aligned", name, uint64(r.StartAddress), gpu.ShaderTableAlignment)
			return nil, false
		}
		if r.StrideInBytes%gpu.ShaderRecordAlignment != 0 || r.StrideInBytes < gpu.ShaderIdentifierSize {
			dev.report("%s table stride %d is not a valid record stride", name, r.StrideInBytes)
			return nil, false
		}
		data, res, err := dev.bytesAt(r.StartAddress)
		if err != nil {
			dev.report("%s table: %s", name, err)
			return nil, false
		}
		if !ex.requireState(res, gpu.ResourceStateNonPixelShaderResource, name+" table") {
			return nil, false
		}
		if r.SizeInBytes > uint64(len(data)) {
			dev.report("%s table of %d bytes overruns `%s`", name, r.SizeInBytes, res.Name())
			return nil, false
		}
		return data[:r.SizeInBytes], true
	}

	rg := desc.RayGenerationShaderRecord
	if uint64(rg.StartAddress)%gpu.ShaderTableAlignment != 0 {
		dev.report("ray generation record at 0x%x is not %d byte aligned", uint64(rg.StartAddress), gpu.ShaderTableAlignment)
		return
	}
	rgData, ok := table("ray generation", gpu.AddressRangeAndStride{StartAddress: rg.StartAddress, SizeInBytes: rg.SizeInBytes, StrideInBytes: alignRecord(rg.SizeInBytes)})
	if !ok {
		return
	}
	rgRecord, err := dev.decodeRecord(rgData, shaderRayGeneration)
	if err != nil {
		dev.fault("ray generation record: %s", err)
		return
	}
	missData, ok := table("miss", desc.MissShaderTable)
	if !ok {
		return
	}
	hitData, ok := table("hit group", desc.HitGroupTable)
	if !ok {
		return
	}

	dp := &dispatch{ex: ex, desc: *desc, so: ex.stateObject, missTable: missData, hitTable: hitData, records: make(map[uint64]shaderRecord)}
	width, height := int(desc.Width), int(desc.Height)*int(desc.Depth)
	if width == 0 || height == 0 {
		return
	}

	rows := func(from, to int) {
		for y := from; y < to; y++ {
			for x := 0; x < width; x++ {
				if dp.faulted.Load() {
					return
				}
				ctx := &RayContext{dispatch: dp, record: rgRecord, index: [3]uint32{uint32(x), uint32(y % int(desc.Height)), uint32(y / int(desc.Height))}}
				rgRecord.ref.rayGen(ctx)
			}
		}
	}
	var wg sync.WaitGroup
	bands := (height + parallelRows - 1) / parallelRows
	wg.Add(bands)
	for b := 0; b < bands; b++ {
		from := b * parallelRows
		to := minInt(from+parallelRows, height)
		go func() {
			defer wg.Done()
			rows(from, to)
		}()
	}
	wg.Wait()
}

func alignRecord(size uint64) uint64 {
	return (size + gpu.ShaderRecordAlignment - 1) &^ (gpu.ShaderRecordAlignment - 1)
}

// fault stops the dispatch and removes the device, reporting only the
// first problem.
func (dp *dispatch) fault(format string, args ...interface{}) {
	if dp.faulted.Swap(true) {
		return
	}
	dp.ex.dev.fault(format, args...)
}

func (dp *dispatch) record(table []byte, r gpu.AddressRangeAndStride, index uint64, kind shaderKind) (shaderRecord, bool) {
	name := "miss"
	if kind == shaderHitGroup {
		name = "hit group"
	}
	if r.StrideInBytes == 0 || (index+1)*r.StrideInBytes > uint64(len(table)) {
		dp.fault("%s record %d is outside a table of %d bytes", name, index, len(table))
		return shaderRecord{}, false
	}
	key := uint64(kind)<<56 | index
	dp.mu.Lock()
	rec, ok := dp.records[key]
	dp.mu.Unlock()
	if ok {
		return rec, true
	}
	off := index * r.StrideInBytes
	rec, err := dp.ex.dev.decodeRecord(table[off:off+r.StrideInBytes], kind)
	if err != nil {
		dp.fault("%s record %d: %s", name, index, err)
		return shaderRecord{}, false
	}
	dp.mu.Lock()
	dp.records[key] = rec
	dp.mu.Unlock()
	return rec, true
}

type Ray struct {
	Origin    [3]float32
	Direction [3]float32
	TMin      float32
	TMax      float32
}

// RayContext gives ray tracing programs the dispatch coordinates and the
// local root arguments of their shader record.
type RayContext struct {
	dispatch *dispatch
	record   shaderRecord
	index    [3]uint32
	depth    uint32
}

func (c *RayContext) DispatchRaysIndex() [3]uint32 {
	return c.index
}

func (c *RayContext) DispatchRaysDimensions() [3]uint32 {
	d := c.dispatch.desc
	return [3]uint32{d.Width, d.Height, d.Depth}
}

// Arg returns the raw 8 byte local root argument at index i.
func (c *RayContext) Arg(i int) uint64 {
	off := i * gpu.ShaderRecordArgSize
	if off+gpu.ShaderRecordArgSize > len(c.record.args) {
		c.dispatch.fault("`%s` reads local root argument %d past the end of its record", c.record.ref.export, i)
		return 0
	}
	return binary.LittleEndian.Uint64(c.record.args[off:])
}

func (c *RayContext) tableDescriptor(arg int, index uint32) (descriptor, bool) {
	base := gpu.GPUDescriptorHandle(c.Arg(arg))
	entries, err := c.dispatch.ex.tableEntries(base.Offset(index, descriptorStrides[gpu.DescriptorHeapCBVSRVUAV]), 1)
	if err != nil {
		c.dispatch.fault("`%s` argument %d: %s", c.record.ref.export, arg, err)
		return descriptor{}, false
	}
	return entries[0], true
}

// OutputTexture returns the unordered access view a descriptor table
// argument points at.
func (c *RayContext) OutputTexture(arg int) UAVView {
	d, ok := c.tableDescriptor(arg, 0)
	if !ok {
		return UAVView{}
	}
	if d.kind != descriptorUAV || d.res == nil {
		c.dispatch.fault("`%s` argument %d is not an unordered access view", c.record.ref.export, arg)
		return UAVView{}
	}
	if d.res.currentState() != gpu.ResourceStateUnorderedAccess {
		c.dispatch.fault("`%s` writes `%s` in state %s", c.record.ref.export, d.res.Name(), d.res.currentState())
		return UAVView{}
	}
	return UAVView{res: d.res, format: d.format}
}

// AccelerationStructure returns the structure address behind a descriptor
// table argument.
func (c *RayContext) AccelerationStructure(arg int) gpu.GPUAddress {
	d, ok := c.tableDescriptor(arg, 0)
	if !ok {
		return 0
	}
	if d.kind != descriptorSRV || d.srvDim != gpu.SRVDimensionRaytracingAccelerationStructure {
		c.dispatch.fault("`%s` argument %d is not an acceleration structure view", c.record.ref.export, arg)
		return 0
	}
	return d.location
}

// ConstantBuffer returns the constant buffer behind a descriptor table
// argument.
func (c *RayContext) ConstantBuffer(arg int) []byte {
	return c.TableConstants(arg, 0)
}

func (c *RayContext) TableConstants(arg int, index uint32) []byte {
	d, ok := c.tableDescriptor(arg, index)
	if !ok {
		return nil
	}
	if d.kind != descriptorCBV {
		c.dispatch.fault("`%s` argument %d entry %d is not a constant buffer view", c.record.ref.export, arg, index)
		return nil
	}
	return constantBytes(d)
}

// TableTexture returns entry index of a descriptor table argument as a
// texture. Unwritten entries sample as zero.
func (c *RayContext) TableTexture(arg int, index uint32) TextureView {
	d, ok := c.tableDescriptor(arg, index)
	if !ok {
		return TextureView{}
	}
	return textureView(d)
}

// Buffer returns the memory a GPU address argument points at.
func (c *RayContext) Buffer(arg int) []byte {
	addr := gpu.GPUAddress(c.Arg(arg))
	data, _, err := c.dispatch.ex.dev.bytesAt(addr)
	if err != nil {
		c.dispatch.fault("`%s` argument %d: %s", c.record.ref.export, arg, err)
		return nil
	}
	return data
}

// TraceRay finds the closest hit of ray in the structure at tlas and runs
// the hit group or miss program with payload.
func (c *RayContext) TraceRay(tlas gpu.GPUAddress, ray Ray, payload *Payload) {
	dp := c.dispatch
	if dp.faulted.Load() {
		return
	}
	if c.depth+1 > dp.so.desc.MaxRecursionDepth {
		dp.fault("TraceRay exceeds the pipeline recursion depth %d", dp.so.desc.MaxRecursionDepth)
		return
	}
	as := dp.ex.dev.lookupAccel(tlas)
	if as == nil || as.kind != gpu.AccelStructTopLevel {
		dp.fault("TraceRay on 0x%x which holds no top level structure", uint64(tlas))
		return
	}
	if as.res.currentState() != gpu.ResourceStateRaytracingAccelStructure {
		dp.fault("TraceRay on `%s` in state %s", as.res.Name(), as.res.currentState())
		return
	}

	hit, ok := as.closestHit(ray.Origin, ray.Direction, ray.TMin, ray.TMax, 0xff)
	if !ok {
		rec, ok := dp.record(dp.missTable, dp.desc.MissShaderTable, 0, shaderMiss)
		if !ok {
			return
		}
		next := &RayContext{dispatch: dp, record: rec, index: c.index, depth: c.depth + 1}
		rec.ref.miss(next, payload)
		return
	}

	inst := as.instances[hit.instance]
	index := uint64(inst.desc.InstanceContributionToHitGroupIndex)
	rec, ok := dp.record(dp.hitTable, dp.desc.HitGroupTable, index, shaderHitGroup)
	if !ok {
		return
	}
	attrs := &HitAttributes{
		InstanceIndex:     hit.instance,
		InstanceID:        inst.desc.InstanceID,
		PrimitiveIndex:    hit.primitive,
		Barycentrics:      [2]float32{hit.u, hit.v},
		T:                 hit.t,
		ObjectToWorld:     inst.desc.Transform,
		WorldRayOrigin:    ray.Origin,
		WorldRayDirection: ray.Direction,
	}
	next := &RayContext{dispatch: dp, record: rec, index: c.index, depth: c.depth + 1}
	rec.ref.closestHit(next, payload, attrs)
}

// TraceRay runs a closest hit query against a top-level structure without
// a pipeline. It is meant for tests and tools; the queue must be idle.
func (d *Device) TraceRay(tlas gpu.GPUAddress, ray Ray) (instance, primitive uint32, t float32, ok bool) {
	as := d.lookupAccel(tlas)
	if as == nil || as.kind != gpu.AccelStructTopLevel {
		return 0, 0, 0, false
	}
	hit, found := as.closestHit(ray.Origin, ray.Direction, ray.TMin, ray.TMax, 0xff)
	return hit.instance, hit.primitive, hit.t, found
}
