package renderer

import (
	"context"
	"fmt"

	"github.com/spaghettifunk/refract/engine/core"
	"github.com/spaghettifunk/refract/engine/renderer/gpu"
	"github.com/spaghettifunk/refract/engine/renderer/shaders"
)

const (
	rayPayloadSize   = 16
	rayAttributeSize = 8
	rayRecursion     = 1

	// output UAV, scene SRV, camera CBV
	rayGenDescriptors = 3
	// material CBV followed by its textures
	materialDescriptors = 1 + shaders.MaterialTextureCount
)

// RaytraceBackend renders a frame by dispatching one primary ray per pixel
// against a top level structure over every drawable.
type RaytraceBackend struct {
	*Renderer

	output   *PassTarget
	global   gpu.RootSignature
	rayGenRS gpu.RootSignature
	missRS   gpu.RootSignature
	hitRS    gpu.RootSignature
	pipeline gpu.StateObject

	heap     *DescriptorAllocator
	perFrame uint32
	accel    *AccelBuilder
	sbt      *SBTBuilder
}

func NewRaytraceBackend(r *Renderer) (*RaytraceBackend, error) {
	if !r.device.Features().Raytracing {
		err := fmt.Errorf("device cannot ray trace: %w", core.ErrUnsupported)
		core.LogError(err.Error())
		return nil, err
	}
	b := &RaytraceBackend{
		Renderer: r,
		accel:    NewAccelBuilder(r),
		sbt:      NewSBTBuilder(r.device, r.Frames()),
	}
	if err := b.init(); err != nil {
		b.Release()
		return nil, err
	}
	return b, nil
}

func (b *RaytraceBackend) init() error {
	var err error
	b.output, err = b.createTarget(PassTargetDesc{
		Name:    "raytrace",
		Formats: []gpu.Format{gpu.FormatRGBA8Unorm},
		Flags:   gpu.ResourceFlagAllowUnorderedAccess,
	})
	if err != nil {
		return err
	}

	table := func(kind gpu.DescriptorRangeKind, count, offset uint32) gpu.DescriptorRange {
		return gpu.DescriptorRange{Kind: kind, Count: count, OffsetInTable: offset}
	}
	signatures := []struct {
		rs   *gpu.RootSignature
		name string
		desc gpu.RootSignatureDesc
	}{
		{&b.global, "global", gpu.RootSignatureDesc{}},
		{&b.rayGenRS, "ray generation", gpu.RootSignatureDesc{Local: true, Parameters: []gpu.RootParameter{
			shaders.RayGenOutputArg: {Kind: gpu.RootParameterDescriptorTable, Ranges: []gpu.DescriptorRange{table(gpu.DescriptorRangeUAV, 1, 0)}},
			shaders.RayGenSceneArg:  {Kind: gpu.RootParameterDescriptorTable, Ranges: []gpu.DescriptorRange{table(gpu.DescriptorRangeSRV, 1, 0)}},
			shaders.RayGenCameraArg: {Kind: gpu.RootParameterDescriptorTable, Ranges: []gpu.DescriptorRange{table(gpu.DescriptorRangeCBV, 1, 0)}},
		}}},
		{&b.missRS, "miss", gpu.RootSignatureDesc{Local: true}},
		{&b.hitRS, "hit group", gpu.RootSignatureDesc{Local: true, Parameters: []gpu.RootParameter{
			shaders.HitVertexArg: {Kind: gpu.RootParameterSRV, ShaderRegister: 0},
			shaders.HitIndexArg:  {Kind: gpu.RootParameterSRV, ShaderRegister: 1},
			shaders.HitMaterialArg: {Kind: gpu.RootParameterDescriptorTable, Ranges: []gpu.DescriptorRange{
				table(gpu.DescriptorRangeCBV, 1, 0),
				table(gpu.DescriptorRangeSRV, shaders.MaterialTextureCount, 1),
			}},
		}}},
	}
	for _, s := range signatures {
		if *s.rs, err = b.device.CreateRootSignature(s.desc); err != nil {
			err = fmt.Errorf("failed to create %s root signature: %w", s.name, err)
			core.LogError(err.Error())
			return err
		}
	}

	b.pipeline, err = b.device.CreateStateObject(&gpu.StateObjectDesc{
		Exports:             []string{shaders.EntryRayGen, shaders.EntryMiss, shaders.EntryClosestHit},
		HitGroups:           []gpu.HitGroupDesc{{Name: shaders.HitGroup, ClosestHit: shaders.EntryClosestHit}},
		MaxPayloadSize:      rayPayloadSize,
		MaxAttributeSize:    rayAttributeSize,
		MaxRecursionDepth:   rayRecursion,
		GlobalRootSignature: b.global,
		LocalRootSignatures: []gpu.LocalRootAssociation{
			{RootSignature: b.rayGenRS, Exports: []string{shaders.EntryRayGen}},
			{RootSignature: b.missRS, Exports: []string{shaders.EntryMiss}},
			{RootSignature: b.hitRS, Exports: []string{shaders.HitGroup}},
		},
	})
	if err != nil {
		err = fmt.Errorf("failed to create ray tracing pipeline: %w", err)
		core.LogError(err.Error())
		return err
	}

	b.perFrame = rayGenDescriptors + materialDescriptors*b.MaxObjects()
	total := b.perFrame * b.Frames()
	b.heap, err = NewDescriptorAllocator(b.device, "raytrace", gpu.DescriptorHeapDesc{Kind: gpu.DescriptorHeapCBVSRVUAV, NumDescriptors: total, ShaderVisible: true})
	if err != nil {
		return err
	}
	if _, err = b.heap.AllocateRange(total); err != nil {
		return err
	}
	return nil
}

func (b *RaytraceBackend) Mode() core.RendererMode {
	return core.RendererModeRaytrace
}

func (b *RaytraceBackend) RenderFrame(ctx context.Context, scene Scene) error {
	return b.renderFrame(ctx, scene, b)
}

// Output exposes the target the rays are written to.
func (b *RaytraceBackend) Output() *PassTarget { return b.output }

// Accel and SBT expose the structure and table builders for inspection.
func (b *RaytraceBackend) Accel() *AccelBuilder { return b.accel }
func (b *RaytraceBackend) SBT() *SBTBuilder     { return b.sbt }

// visible returns the drawables that get an instance and a hit record,
// with the constant buffer slot each was written to. Drawables without
// geometry are skipped.
func (b *RaytraceBackend) visible(drawables []Drawable) ([]Drawable, []uint32) {
	limit := int(b.MaxObjects())
	if len(drawables) > limit {
		core.LogWarn("ray tracing: %d drawables, only %d fit a frame", len(drawables), limit)
		drawables = drawables[:limit]
	}
	out := make([]Drawable, 0, len(drawables))
	slots := make([]uint32, 0, len(drawables))
	for i, d := range drawables {
		if d.Geometry == nil {
			core.LogWarn("ray tracing: drawable `%s` has no geometry", d.Name)
			continue
		}
		out = append(out, d)
		slots = append(slots, uint32(i))
	}
	return out, slots
}

// prepare rebuilds the structures when the drawables changed count or
// geometry.
func (b *RaytraceBackend) prepare(ctx context.Context, frame uint32, drawables []Drawable) error {
	drawables, _ = b.visible(drawables)
	if !b.accel.NeedsBuild(drawables) {
		return nil
	}
	return b.accel.Build(ctx, frame, drawables)
}

func (b *RaytraceBackend) record(list gpu.CommandList, frame uint32, drawables []Drawable) (gpu.Resource, error) {
	drawables, slots := b.visible(drawables)
	if err := b.accel.Refit(list, frame, drawables); err != nil {
		return nil, err
	}
	rayGen, hits, err := b.refreshHeap(frame, drawables, slots)
	if err != nil {
		return nil, err
	}
	if err := b.sbt.Update(frame, b.pipeline, rayGen, hits); err != nil {
		return nil, err
	}

	out := b.output.Resource(0, frame)
	list.SetComputeRootSignature(b.global)
	list.SetDescriptorHeaps(b.heap.Heap())
	list.ResourceBarrier(gpu.TransitionBarrier(out, gpu.ResourceStateRenderTarget, gpu.ResourceStateUnorderedAccess))
	list.SetPipelineState1(b.pipeline)
	w, h := b.Size()
	desc := b.sbt.DispatchDesc(frame, w, h)
	list.DispatchRays(&desc)
	list.ResourceBarrier(gpu.TransitionBarrier(out, gpu.ResourceStateUnorderedAccess, gpu.ResourceStateRenderTarget))
	return out, nil
}

// refreshHeap rewrites frame's region of the heap: the output, scene and
// camera views, then a material table per drawable. slots[i] is the
// constant buffer slot of drawable i.
func (b *RaytraceBackend) refreshHeap(frame uint32, drawables []Drawable, slots []uint32) (RayGenRecord, []HitRecord, error) {
	base := frame * b.perFrame
	cpu := func(i uint32) gpu.CPUDescriptorHandle {
		h, _ := b.heap.CPUHandle(base + i)
		return h
	}
	gpuHandle := func(i uint32) gpu.GPUDescriptorHandle {
		h, _ := b.heap.GPUHandle(base + i)
		return h
	}
	fail := func(what string, err error) (RayGenRecord, []HitRecord, error) {
		err = fmt.Errorf("ray tracing heap: %s: %w", what, err)
		core.LogWarn(err.Error())
		return RayGenRecord{}, nil, err
	}

	if err := b.device.CreateUnorderedAccessView(b.output.Resource(0, frame), nil, cpu(0)); err != nil {
		return fail("output", err)
	}
	scene := &gpu.ShaderResourceViewDesc{Dimension: gpu.SRVDimensionRaytracingAccelerationStructure, Location: b.accel.Address()}
	if err := b.device.CreateShaderResourceView(nil, scene, cpu(1)); err != nil {
		return fail("scene", err)
	}
	camera := &gpu.ConstantBufferViewDesc{BufferLocation: b.camera.Address(frame, 0), SizeInBytes: b.camera.SlotSize()}
	if err := b.device.CreateConstantBufferView(camera, cpu(2)); err != nil {
		return fail("camera", err)
	}

	hits := make([]HitRecord, len(drawables))
	for i, d := range drawables {
		first := uint32(rayGenDescriptors + i*materialDescriptors)
		material := &gpu.ConstantBufferViewDesc{BufferLocation: b.materials.Address(frame, slots[i]), SizeInBytes: b.materials.SlotSize()}
		if err := b.device.CreateConstantBufferView(material, cpu(first)); err != nil {
			return fail(fmt.Sprintf("material of `%s`", d.Name), err)
		}
		for t, tex := range d.Textures {
			res := b.blank.Resource
			if tex != nil && tex.Resource != nil {
				res = tex.Resource
			}
			view := &gpu.ShaderResourceViewDesc{Dimension: gpu.SRVDimensionTexture2D}
			if err := b.device.CreateShaderResourceView(res, view, cpu(first+1+uint32(t))); err != nil {
				return fail(fmt.Sprintf("texture %d of `%s`", t, d.Name), err)
			}
		}
		hits[i] = HitRecord{
			VertexBuffer:  d.Geometry.VertexBuffer.GPUVirtualAddress(),
			IndexBuffer:   d.Geometry.IndexBuffer.GPUVirtualAddress(),
			MaterialTable: gpuHandle(first),
		}
	}
	return RayGenRecord{Output: gpuHandle(0), Scene: gpuHandle(1), Camera: gpuHandle(2)}, hits, nil
}

// Release waits for the GPU and frees the backend's structures, tables
// and pipeline. The shared Renderer stays alive.
func (b *RaytraceBackend) Release() {
	_ = b.Idle(context.Background())
	b.accel.Release()
	b.sbt.Release()
	if b.heap != nil {
		b.heap.Release()
	}
	if b.pipeline != nil {
		b.pipeline.Release()
	}
	for _, rs := range []gpu.RootSignature{b.global, b.rayGenRS, b.missRS, b.hitRS} {
		if rs != nil {
			rs.Release()
		}
	}
	b.releaseTarget(b.output)
}
