package software

import (
	"context"
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/refract/engine/renderer/gpu"
)

func init() {
	RegisterVertexProgram("test_vs_passthrough", func(ctx *ShaderContext, vertex []byte, out *VertexOutput) {
		out.Position = ctx.Attribute(vertex, "POSITION")
		uv := ctx.Attribute(vertex, "TEXCOORD")
		out.Varyings[0], out.Varyings[1] = uv[0], uv[1]
	})
	RegisterPixelProgram("test_ps_uv", func(ctx *ShaderContext, in *PixelInput, out *PixelOutput) {
		out.Targets[0] = [4]float32{in.Varyings[0], in.Varyings[1], 0, 1}
	})
	RegisterRayGenerationProgram("test_ray_gen", func(ctx *RayContext) {
		idx := ctx.DispatchRaysIndex()
		p := Payload{}
		ctx.TraceRay(ctx.AccelerationStructure(1), Ray{
			Origin:    [3]float32{float32(idx[0]), float32(idx[1]), -10},
			Direction: [3]float32{0, 0, 1},
			TMax:      100,
		}, &p)
		ctx.OutputTexture(0).Store(int(idx[0]), int(idx[1]), p)
	})
	RegisterMissProgram("test_miss", func(ctx *RayContext, payload *Payload) {
		*payload = Payload{0, 0.2, 0.4, 1}
	})
	RegisterClosestHitProgram("test_closest_hit", func(ctx *RayContext, payload *Payload, hit *HitAttributes) {
		*payload = Payload{1, 0, 0, 1}
	})
}

type testGPU struct {
	dev   *Device
	queue *CommandQueue
	alloc gpu.CommandAllocator
	list  gpu.CommandList
}

func newTestGPU(t *testing.T) *testGPU {
	t.Helper()
	dev := New()
	q, err := dev.CreateCommandQueue()
	require.NoError(t, err)
	alloc, err := dev.CreateCommandAllocator()
	require.NoError(t, err)
	list, err := dev.CreateCommandList(alloc)
	require.NoError(t, err)
	require.NoError(t, list.Close())
	t.Cleanup(func() {
		q.Release()
		dev.Release()
	})
	return &testGPU{dev: dev, queue: q.(*CommandQueue), alloc: alloc, list: list}
}

// run records with fn, submits and waits for the queue.
func (g *testGPU) run(t *testing.T, fn func(l gpu.CommandList)) {
	t.Helper()
	require.NoError(t, g.alloc.Reset())
	require.NoError(t, g.list.Reset(g.alloc, nil))
	fn(g.list)
	require.NoError(t, g.list.Close())
	require.NoError(t, g.queue.ExecuteCommandLists(g.list))
	g.queue.Idle()
}

func (g *testGPU) upload(t *testing.T, data []byte) gpu.Resource {
	t.Helper()
	res, err := g.dev.CreateCommittedResource(gpu.HeapUpload, gpu.BufferDesc(uint64(len(data)), gpu.ResourceFlagNone), gpu.ResourceStateGenericRead, nil)
	require.NoError(t, err)
	mem, err := res.Map()
	require.NoError(t, err)
	copy(mem, data)
	return res
}

func floats(v ...float32) []byte {
	b := make([]byte, len(v)*4)
	for i, f := range v {
		putFloat(b[i*4:], f)
	}
	return b
}

func TestHalfFloatRoundTrip(t *testing.T) {
	for _, v := range []float32{0, 1, -1, 0.5, 0.2, 65504, 6.1035156e-05, 5.9604645e-08} {
		got := halfToFloat(floatToHalf(v))
		assert.InDelta(t, v, got, math.Abs(float64(v))*1e-3+1e-8, "value %g", v)
	}
	assert.Equal(t, uint16(0x7c00), floatToHalf(1e6))
}

func TestDepthSampledAsFloat(t *testing.T) {
	g := newTestGPU(t)
	depth, err := g.dev.CreateCommittedResource(gpu.HeapDefault,
		gpu.Texture2DDesc(gpu.FormatD32Float, 4, 4, gpu.ResourceFlagAllowDepthStencil),
		gpu.ResourceStateDepthWrite, &gpu.ClearValue{Format: gpu.FormatD32Float, Depth: 1})
	require.NoError(t, err)
	heap, err := g.dev.CreateDescriptorHeap(gpu.DescriptorHeapDesc{Kind: gpu.DescriptorHeapCBVSRVUAV, NumDescriptors: 2, ShaderVisible: true})
	require.NoError(t, err)

	start := heap.CPUDescriptorHandleForHeapStart()
	assert.Error(t, g.dev.CreateShaderResourceView(depth, nil, start))
	assert.NoError(t, g.dev.CreateShaderResourceView(depth, &gpu.ShaderResourceViewDesc{Format: gpu.FormatR32Float}, start))
	assert.Error(t, g.dev.CreateShaderResourceView(depth, &gpu.ShaderResourceViewDesc{Format: gpu.FormatRGBA8Unorm}, start.Offset(1, 32)))
	assert.Error(t, g.dev.CreateShaderResourceView(depth, &gpu.ShaderResourceViewDesc{Format: gpu.FormatR32Float}, start.Offset(2, 32)))

	view := textureView(heap.(*DescriptorHeap).entries[0])
	require.True(t, view.Valid())
	assert.Equal(t, [4]float32{1, 0, 0, 1}, view.Load(2, 2))
}

func TestBarrierStateMismatchIsReported(t *testing.T) {
	g := newTestGPU(t)
	tex, err := g.dev.CreateCommittedResource(gpu.HeapDefault,
		gpu.Texture2DDesc(gpu.FormatRGBA8Unorm, 2, 2, gpu.ResourceFlagAllowRenderTarget), gpu.ResourceStateRenderTarget, nil)
	require.NoError(t, err)

	g.run(t, func(l gpu.CommandList) {
		l.ResourceBarrier(gpu.TransitionBarrier(tex, gpu.ResourceStateRenderTarget, gpu.ResourceStateCopySource))
		l.ResourceBarrier(gpu.TransitionBarrier(tex, gpu.ResourceStateCopySource, gpu.ResourceStateRenderTarget))
	})
	assert.Empty(t, g.dev.ValidationErrors())

	g.run(t, func(l gpu.CommandList) {
		l.ResourceBarrier(gpu.TransitionBarrier(tex, gpu.ResourceStatePixelShaderResource, gpu.ResourceStateRenderTarget))
	})
	assert.Len(t, g.dev.ValidationErrors(), 1)
	assert.Equal(t, gpu.ResourceStateRenderTarget, g.dev.State(tex))
}

func TestCopyRequiresCopyStates(t *testing.T) {
	g := newTestGPU(t)
	src := g.upload(t, []byte{1, 2, 3, 4})
	dst, err := g.dev.CreateCommittedResource(gpu.HeapDefault, gpu.BufferDesc(4, gpu.ResourceFlagNone), gpu.ResourceStateCommon, nil)
	require.NoError(t, err)

	g.run(t, func(l gpu.CommandList) { l.CopyResource(dst, src) })
	assert.Len(t, g.dev.ValidationErrors(), 1)
	g.dev.ResetValidation()

	g.run(t, func(l gpu.CommandList) {
		l.ResourceBarrier(gpu.TransitionBarrier(dst, gpu.ResourceStateCommon, gpu.ResourceStateCopyDest))
		l.CopyResource(dst, src)
	})
	assert.Empty(t, g.dev.ValidationErrors())
	data, err := g.dev.Contents(dst)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, data)
}

func TestAllocatorResetWhileExecuting(t *testing.T) {
	g := newTestGPU(t)
	block := make(chan struct{})
	require.NoError(t, g.queue.submit(func() { <-block }))

	require.NoError(t, g.list.Reset(g.alloc, nil))
	require.NoError(t, g.list.Close())
	require.NoError(t, g.queue.ExecuteCommandLists(g.list))

	assert.Error(t, g.alloc.Reset())
	assert.NotEmpty(t, g.dev.ValidationErrors())

	close(block)
	g.queue.Idle()
	assert.NoError(t, g.alloc.Reset())
}

func TestFenceWait(t *testing.T) {
	g := newTestGPU(t)
	fence, err := g.dev.CreateFence(0)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, fence.Wait(ctx, 1), context.DeadlineExceeded)

	require.NoError(t, g.queue.Signal(fence, 3))
	require.NoError(t, fence.Wait(context.Background(), 3))
	assert.Equal(t, uint64(3), fence.CompletedValue())
	assert.NoError(t, fence.Wait(context.Background(), 2))
}

func TestDrawScreenQuad(t *testing.T) {
	g := newTestGPU(t)
	const w, h = 16, 8

	rt, err := g.dev.CreateCommittedResource(gpu.HeapDefault,
		gpu.Texture2DDesc(gpu.FormatRGBA32Float, w, h, gpu.ResourceFlagAllowRenderTarget), gpu.ResourceStateRenderTarget, nil)
	require.NoError(t, err)
	rtvHeap, err := g.dev.CreateDescriptorHeap(gpu.DescriptorHeapDesc{Kind: gpu.DescriptorHeapRTV, NumDescriptors: 1})
	require.NoError(t, err)
	rtv := rtvHeap.CPUDescriptorHandleForHeapStart()
	require.NoError(t, g.dev.CreateRenderTargetView(rt, nil, rtv))

	rs, err := g.dev.CreateRootSignature(gpu.RootSignatureDesc{})
	require.NoError(t, err)
	pso, err := g.dev.CreateGraphicsPipelineState(&gpu.GraphicsPipelineDesc{
		RootSignature: rs,
		VS:            gpu.ShaderBytecode{EntryPoint: "test_vs_passthrough"},
		PS:            gpu.ShaderBytecode{EntryPoint: "test_ps_uv"},
		InputLayout: []gpu.InputElement{
			{SemanticName: "POSITION", Format: gpu.FormatRGBA32Float, Offset: 0},
			{SemanticName: "TEXCOORD", Format: gpu.FormatRG32Float, Offset: 16},
		},
		RTVFormats: []gpu.Format{gpu.FormatRGBA32Float},
		CullMode:   gpu.CullModeFront,
	})
	require.NoError(t, err)

	vb := g.upload(t, floats(
		-1, 1, 0, 1, 0, 0,
		-1, -1, 0, 1, 0, 1,
		1, 1, 0, 1, 1, 0,
		1, -1, 0, 1, 1, 1,
	))

	g.run(t, func(l gpu.CommandList) {
		l.ClearRenderTargetView(rtv, [4]float32{0, 0, 1, 1})
		l.OMSetRenderTargets([]gpu.CPUDescriptorHandle{rtv}, nil)
		l.RSSetViewports(gpu.Viewport{Width: w, Height: h, MaxDepth: 1})
		l.SetPipelineState(pso)
		l.SetGraphicsRootSignature(rs)
		l.IASetPrimitiveTopology(gpu.PrimitiveTopologyTriangleStrip)
		l.IASetVertexBuffers(0, gpu.VertexBufferView{BufferLocation: vb.GPUVirtualAddress(), SizeInBytes: 96, StrideInBytes: 24})
		l.DrawInstanced(4, 1, 0, 0)
	})
	require.Empty(t, g.dev.ValidationErrors())

	data, err := g.dev.Contents(rt)
	require.NoError(t, err)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := decodeTexel(gpu.FormatRGBA32Float, data[(y*w+x)*16:])
			assert.InDelta(t, (float32(x)+0.5)/w, c[0], 1e-4, "u at %d,%d", x, y)
			assert.InDelta(t, (float32(y)+0.5)/h, c[1], 1e-4, "v at %d,%d", x, y)
			assert.Equal(t, float32(0), c[2], "pixel %d,%d not covered", x, y)
		}
	}
}

type testScene struct {
	blas    gpu.Resource
	tlas    gpu.Resource
	scratch gpu.Resource
	descs   gpu.Resource
	count   uint32
}

func buildTestScene(t *testing.T, g *testGPU, offsets [][3]float32) *testScene {
	t.Helper()
	vb := g.upload(t, floats(-1, -1, 0, 0, 1, 0, 1, -1, 0))
	geometry := []gpu.GeometryDesc{{Triangles: gpu.TrianglesDesc{
		VertexBuffer: vb.GPUVirtualAddress(), VertexStride: 12, VertexCount: 3, VertexFormat: gpu.FormatRGB32Float,
	}, Flags: gpu.GeometryFlagOpaque}}
	blasInputs := gpu.BuildInputs{Type: gpu.AccelStructBottomLevel, NumDescs: 1, Geometry: geometry}
	blasSize := g.dev.RaytracingPrebuildInfo(&blasInputs)

	n := uint32(len(offsets))
	tlasInputs := gpu.BuildInputs{Type: gpu.AccelStructTopLevel, NumDescs: n, Flags: gpu.AccelStructBuildAllowUpdate}
	tlasSize := g.dev.RaytracingPrebuildInfo(&tlasInputs)

	newBuffer := func(size uint64, state gpu.ResourceState) gpu.Resource {
		res, err := g.dev.CreateCommittedResource(gpu.HeapDefault, gpu.BufferDesc(size, gpu.ResourceFlagAllowUnorderedAccess), state, nil)
		require.NoError(t, err)
		return res
	}
	s := &testScene{
		blas:    newBuffer(blasSize.ResultDataMaxSize, gpu.ResourceStateRaytracingAccelStructure),
		tlas:    newBuffer(tlasSize.ResultDataMaxSize, gpu.ResourceStateRaytracingAccelStructure),
		scratch: newBuffer(blasSize.ScratchDataSize+tlasSize.ScratchDataSize, gpu.ResourceStateUnorderedAccess),
		descs:   g.upload(t, make([]byte, gpu.InstanceDescSize*(n+1))),
		count:   n,
	}
	s.writeInstances(t, offsets)

	g.run(t, func(l gpu.CommandList) {
		l.BuildRaytracingAccelerationStructure(&gpu.BuildDesc{Inputs: blasInputs, Dest: s.blas.GPUVirtualAddress(), Scratch: s.scratch.GPUVirtualAddress()})
		l.ResourceBarrier(gpu.UAVBarrier(s.blas))
		tlasInputs.InstanceDescs = s.descs.GPUVirtualAddress()
		l.BuildRaytracingAccelerationStructure(&gpu.BuildDesc{Inputs: tlasInputs, Dest: s.tlas.GPUVirtualAddress(), Scratch: s.scratch.GPUVirtualAddress()})
	})
	require.Empty(t, g.dev.ValidationErrors())
	return s
}

func (s *testScene) writeInstances(t *testing.T, offsets [][3]float32) {
	mem, err := s.descs.Map()
	require.NoError(t, err)
	for i, o := range offsets {
		d := gpu.InstanceDesc{
			Transform:                           [12]float32{1, 0, 0, o[0], 0, 1, 0, o[1], 0, 0, 1, o[2]},
			InstanceID:                          uint32(i),
			InstanceMask:                        0xff,
			InstanceContributionToHitGroupIndex: uint32(i),
			AccelerationStructure:               s.blas.GPUVirtualAddress(),
		}
		d.Encode(mem[i*gpu.InstanceDescSize:])
	}
}

func (s *testScene) refit(g *testGPU, l gpu.CommandList) {
	l.BuildRaytracingAccelerationStructure(&gpu.BuildDesc{
		Inputs: gpu.BuildInputs{
			Type:          gpu.AccelStructTopLevel,
			NumDescs:      s.count,
			Flags:         gpu.AccelStructBuildAllowUpdate | gpu.AccelStructBuildPerformUpdate,
			InstanceDescs: s.descs.GPUVirtualAddress(),
		},
		Dest:    s.tlas.GPUVirtualAddress(),
		Source:  s.tlas.GPUVirtualAddress(),
		Scratch: s.scratch.GPUVirtualAddress(),
	})
}

func TestAccelRefitKeepsQueries(t *testing.T) {
	g := newTestGPU(t)
	offsets := make([][3]float32, 12)
	for i := range offsets {
		offsets[i] = [3]float32{float32(i) * 3, 0, float32(i)}
	}
	s := buildTestScene(t, g, offsets)

	query := func() [][4]float32 {
		out := [][4]float32{}
		for i := range offsets {
			inst, prim, dist, ok := g.dev.TraceRay(s.tlas.GPUVirtualAddress(), Ray{
				Origin: [3]float32{float32(i) * 3, 0, -5}, Direction: [3]float32{0, 0, 1}, TMax: 1000,
			})
			hit := float32(0)
			if ok {
				hit = 1
			}
			out = append(out, [4]float32{float32(inst), float32(prim), dist, hit})
		}
		return out
	}
	before := query()
	for i, q := range before {
		assert.Equal(t, float32(1), q[3])
		assert.Equal(t, float32(i), q[0])
		assert.InDelta(t, float32(5+i), q[2], 1e-4)
	}

	g.run(t, func(l gpu.CommandList) { s.refit(g, l) })
	g.run(t, func(l gpu.CommandList) { s.refit(g, l) })
	require.Empty(t, g.dev.ValidationErrors())
	assert.Equal(t, before, query())

	// moving an instance away is picked up without a rebuild
	offsets[0] = [3]float32{0, 50, 0}
	s.writeInstances(t, offsets)
	g.run(t, func(l gpu.CommandList) { s.refit(g, l) })
	_, _, _, ok := g.dev.TraceRay(s.tlas.GPUVirtualAddress(), Ray{Origin: [3]float32{0, 0, -5}, Direction: [3]float32{0, 0, 1}, TMax: 1000})
	assert.False(t, ok)
}

func TestAccelBuildValidatesScratch(t *testing.T) {
	g := newTestGPU(t)
	vb := g.upload(t, floats(0, 0, 0, 0, 1, 0, 1, 0, 0))
	inputs := gpu.BuildInputs{Type: gpu.AccelStructBottomLevel, NumDescs: 1, Geometry: []gpu.GeometryDesc{{Triangles: gpu.TrianglesDesc{
		VertexBuffer: vb.GPUVirtualAddress(), VertexStride: 12, VertexCount: 3, VertexFormat: gpu.FormatRGB32Float,
	}}}}
	size := g.dev.RaytracingPrebuildInfo(&inputs)
	dest, err := g.dev.CreateCommittedResource(gpu.HeapDefault, gpu.BufferDesc(size.ResultDataMaxSize, gpu.ResourceFlagAllowUnorderedAccess), gpu.ResourceStateRaytracingAccelStructure, nil)
	require.NoError(t, err)
	scratch, err := g.dev.CreateCommittedResource(gpu.HeapDefault, gpu.BufferDesc(size.ScratchDataSize/2, gpu.ResourceFlagAllowUnorderedAccess), gpu.ResourceStateUnorderedAccess, nil)
	require.NoError(t, err)

	g.run(t, func(l gpu.CommandList) {
		l.BuildRaytracingAccelerationStructure(&gpu.BuildDesc{Inputs: inputs, Dest: dest.GPUVirtualAddress(), Scratch: scratch.GPUVirtualAddress()})
	})
	assert.Len(t, g.dev.ValidationErrors(), 1)
	assert.Nil(t, g.dev.lookupAccel(dest.GPUVirtualAddress()))
}

func TestDispatchRaysWithEmptyHitTable(t *testing.T) {
	g := newTestGPU(t)
	const w, h = 8, 4
	s := buildTestScene(t, g, nil)

	out, err := g.dev.CreateCommittedResource(gpu.HeapDefault,
		gpu.Texture2DDesc(gpu.FormatRGBA8Unorm, w, h, gpu.ResourceFlagAllowUnorderedAccess), gpu.ResourceStateUnorderedAccess, nil)
	require.NoError(t, err)
	heap, err := g.dev.CreateDescriptorHeap(gpu.DescriptorHeapDesc{Kind: gpu.DescriptorHeapCBVSRVUAV, NumDescriptors: 2, ShaderVisible: true})
	require.NoError(t, err)
	stride := g.dev.DescriptorHandleIncrementSize(gpu.DescriptorHeapCBVSRVUAV)
	require.NoError(t, g.dev.CreateUnorderedAccessView(out, nil, heap.CPUDescriptorHandleForHeapStart()))
	require.NoError(t, g.dev.CreateShaderResourceView(nil, &gpu.ShaderResourceViewDesc{
		Dimension: gpu.SRVDimensionRaytracingAccelerationStructure, Location: s.tlas.GPUVirtualAddress(),
	}, heap.CPUDescriptorHandleForHeapStart().Offset(1, stride)))

	local, err := g.dev.CreateRootSignature(gpu.RootSignatureDesc{Local: true, Parameters: []gpu.RootParameter{
		{Kind: gpu.RootParameterDescriptorTable, Ranges: []gpu.DescriptorRange{{Kind: gpu.DescriptorRangeUAV, Count: 1}}},
		{Kind: gpu.RootParameterDescriptorTable, Ranges: []gpu.DescriptorRange{{Kind: gpu.DescriptorRangeSRV, Count: 1}}},
	}})
	require.NoError(t, err)
	global, err := g.dev.CreateRootSignature(gpu.RootSignatureDesc{})
	require.NoError(t, err)
	so, err := g.dev.CreateStateObject(&gpu.StateObjectDesc{
		Exports:             []string{"test_ray_gen", "test_miss", "test_closest_hit"},
		HitGroups:           []gpu.HitGroupDesc{{Name: "test_hit_group", ClosestHit: "test_closest_hit"}},
		MaxPayloadSize:      16,
		MaxAttributeSize:    8,
		MaxRecursionDepth:   1,
		GlobalRootSignature: global,
		LocalRootSignatures: []gpu.LocalRootAssociation{{RootSignature: local, Exports: []string{"test_ray_gen"}}},
	})
	require.NoError(t, err)
	assert.Nil(t, so.ShaderIdentifier("test_closest_hit"))
	require.Len(t, so.ShaderIdentifier("test_hit_group"), gpu.ShaderIdentifierSize)

	table := make([]byte, 128)
	copy(table, so.ShaderIdentifier("test_ray_gen"))
	gpuBase := uint64(heap.GPUDescriptorHandleForHeapStart())
	binary.LittleEndian.PutUint64(table[32:], gpuBase)
	binary.LittleEndian.PutUint64(table[40:], gpuBase+uint64(stride))
	copy(table[64:], so.ShaderIdentifier("test_miss"))
	sbt := g.upload(t, table)

	g.run(t, func(l gpu.CommandList) {
		l.SetComputeRootSignature(global)
		l.SetDescriptorHeaps(heap)
		l.SetPipelineState1(so)
		l.DispatchRays(&gpu.DispatchRaysDesc{
			RayGenerationShaderRecord: gpu.AddressRange{StartAddress: sbt.GPUVirtualAddress(), SizeInBytes: 64},
			MissShaderTable:           gpu.AddressRangeAndStride{StartAddress: sbt.GPUVirtualAddress() + 64, SizeInBytes: 32, StrideInBytes: 32},
			Width:                     w,
			Height:                    h,
		})
	})
	assert.Empty(t, g.dev.ValidationErrors())
	assert.False(t, g.dev.Removed())

	img, err := g.dev.Image(out)
	require.NoError(t, err)
	for i := 0; i < w*h; i++ {
		assert.Equal(t, []byte{0, 51, 102, 255}, img.Pix[i*4:i*4+4])
	}
}
