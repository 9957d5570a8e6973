package renderer

import (
	"context"
	"fmt"

	"github.com/spaghettifunk/refract/engine/core"
	"github.com/spaghettifunk/refract/engine/math"
	"github.com/spaghettifunk/refract/engine/renderer/gpu"
)

const tlasFlags = gpu.AccelStructBuildAllowUpdate | gpu.AccelStructBuildPreferFastTrace

type blas struct {
	geometry *Geometry
	result   gpu.Resource
	scratch  gpu.Resource
	inputs   gpu.BuildInputs
}

// AccelBuilder owns one bottom level structure per drawable and the top
// level structure over them. A full build allocates everything and waits
// for the GPU; a refit only rewrites the instance transforms and updates
// the top level structure in place.
type AccelBuilder struct {
	r *Renderer

	bottom      []blas
	tlas        gpu.Resource
	tlasScratch gpu.Resource
	instances   []gpu.Resource
	mapped      [][]byte
	count       uint32
	built       bool
}

func NewAccelBuilder(r *Renderer) *AccelBuilder {
	return &AccelBuilder{r: r}
}

// NeedsBuild reports whether drawables cannot be served by a refit: the
// count changed or a drawable now uses different geometry.
func (a *AccelBuilder) NeedsBuild(drawables []Drawable) bool {
	if !a.built || a.count != uint32(len(drawables)) {
		return true
	}
	for i, d := range drawables {
		if a.bottom[i].geometry != d.Geometry {
			return true
		}
	}
	return false
}

// InstanceCount is the number of instances of the top level structure.
func (a *AccelBuilder) InstanceCount() uint32 {
	return a.count
}

// Address is the GPU address of the top level structure.
func (a *AccelBuilder) Address() gpu.GPUAddress {
	if a.tlas == nil {
		return 0
	}
	return a.tlas.GPUVirtualAddress()
}

func (a *AccelBuilder) createBuffer(name string, size uint64, state gpu.ResourceState) (gpu.Resource, error) {
	size = math.AlignUp(max(size, gpu.AccelStructAlignment), gpu.AccelStructAlignment)
	res, err := a.r.device.CreateCommittedResource(gpu.HeapDefault, gpu.BufferDesc(size, gpu.ResourceFlagAllowUnorderedAccess), state, nil)
	if err != nil {
		err = fmt.Errorf("failed to create `%s`: %w", name, err)
		core.LogError(err.Error())
		return nil, err
	}
	res.SetName(name)
	return res, nil
}

// Build releases the previous structures and builds new ones for
// drawables, using frame's instance buffer. It blocks until the GPU has
// finished.
func (a *AccelBuilder) Build(ctx context.Context, frame uint32, drawables []Drawable) error {
	for _, d := range drawables {
		if d.Geometry == nil {
			err := fmt.Errorf("drawable `%s` has no geometry to build a structure from: %w", d.Name, core.ErrNilResource)
			core.LogError(err.Error())
			return err
		}
	}
	if err := a.r.fences.Flush(ctx); err != nil {
		return err
	}
	a.release()

	n := uint32(len(drawables))
	a.bottom = make([]blas, n)
	for i, d := range drawables {
		b := &a.bottom[i]
		b.geometry = d.Geometry
		b.inputs = gpu.BuildInputs{
			Type:     gpu.AccelStructBottomLevel,
			Flags:    gpu.AccelStructBuildPreferFastTrace,
			NumDescs: 1,
			Geometry: []gpu.GeometryDesc{{Triangles: d.Geometry.TrianglesDesc(), Flags: gpu.GeometryFlagOpaque}},
		}
		info := a.r.device.RaytracingPrebuildInfo(&b.inputs)
		var err error
		if b.result, err = a.createBuffer(fmt.Sprintf("blas %s", d.Name), info.ResultDataMaxSize, gpu.ResourceStateRaytracingAccelStructure); err != nil {
			return err
		}
		if b.scratch, err = a.createBuffer(fmt.Sprintf("blas %s scratch", d.Name), info.ScratchDataSize, gpu.ResourceStateUnorderedAccess); err != nil {
			return err
		}
	}

	frames := a.r.Frames()
	a.instances = make([]gpu.Resource, frames)
	a.mapped = make([][]byte, frames)
	for f := range a.instances {
		size := uint64(max(n, 1)) * gpu.InstanceDescSize
		res, err := a.r.device.CreateCommittedResource(gpu.HeapUpload, gpu.BufferDesc(size, gpu.ResourceFlagNone), gpu.ResourceStateGenericRead, nil)
		if err != nil {
			err = fmt.Errorf("failed to create instance buffer %d: %w", f, err)
			core.LogError(err.Error())
			return err
		}
		res.SetName(fmt.Sprintf("tlas instances [%d]", f))
		a.instances[f] = res
		if a.mapped[f], err = res.Map(); err != nil {
			err = fmt.Errorf("failed to map instance buffer %d: %w", f, err)
			core.LogError(err.Error())
			return err
		}
	}

	inputs := a.tlasInputs(frame, n, tlasFlags)
	info := a.r.device.RaytracingPrebuildInfo(&inputs)
	var err error
	if a.tlas, err = a.createBuffer("tlas", info.ResultDataMaxSize, gpu.ResourceStateRaytracingAccelStructure); err != nil {
		return err
	}
	if a.tlasScratch, err = a.createBuffer("tlas scratch", max(info.ScratchDataSize, info.UpdateScratchDataSize), gpu.ResourceStateUnorderedAccess); err != nil {
		return err
	}
	a.writeInstances(frame, drawables)

	err = a.r.immediate(ctx, func(list gpu.CommandList) {
		for i := range a.bottom {
			b := &a.bottom[i]
			list.BuildRaytracingAccelerationStructure(&gpu.BuildDesc{
				Inputs:  b.inputs,
				Dest:    b.result.GPUVirtualAddress(),
				Scratch: b.scratch.GPUVirtualAddress(),
			})
			list.ResourceBarrier(gpu.UAVBarrier(b.result))
		}
		list.BuildRaytracingAccelerationStructure(&gpu.BuildDesc{
			Inputs:  inputs,
			Dest:    a.tlas.GPUVirtualAddress(),
			Scratch: a.tlasScratch.GPUVirtualAddress(),
		})
		list.ResourceBarrier(gpu.UAVBarrier(a.tlas))
	})
	if err != nil {
		return err
	}
	for i := range a.bottom {
		a.bottom[i].scratch.Release()
		a.bottom[i].scratch = nil
	}
	a.count = n
	a.built = true
	core.LogDebug("acceleration structures built for %d instances", n)
	return nil
}

func (a *AccelBuilder) tlasInputs(frame, n uint32, flags gpu.AccelStructBuildFlags) gpu.BuildInputs {
	return gpu.BuildInputs{
		Type:          gpu.AccelStructTopLevel,
		Flags:         flags,
		NumDescs:      n,
		InstanceDescs: a.instances[frame].GPUVirtualAddress(),
	}
}

// writeInstances fills frame's instance buffer. Instance i uses hit group
// i and the drawable's world matrix as a 3x4 row major transform.
func (a *AccelBuilder) writeInstances(frame uint32, drawables []Drawable) {
	buf := a.mapped[frame]
	for i, d := range drawables {
		m := d.World.Data
		desc := gpu.InstanceDesc{
			Transform: [12]float32{
				m[0], m[4], m[8], m[12],
				m[1], m[5], m[9], m[13],
				m[2], m[6], m[10], m[14],
			},
			InstanceID:                          uint32(i),
			InstanceMask:                        0xff,
			InstanceContributionToHitGroupIndex: uint32(i),
			AccelerationStructure:               a.bottom[i].result.GPUVirtualAddress(),
		}
		desc.Encode(buf[i*gpu.InstanceDescSize:])
	}
}

// Refit records an in place update of the top level structure with the
// drawables' current transforms. The drawable count must match the last
// full build.
func (a *AccelBuilder) Refit(list gpu.CommandList, frame uint32, drawables []Drawable) error {
	if a.NeedsBuild(drawables) {
		return fmt.Errorf("refit of %d instances, built for %d or with other geometry: %w", len(drawables), a.count, core.ErrUnsupported)
	}
	a.writeInstances(frame, drawables)
	addr := a.tlas.GPUVirtualAddress()
	list.BuildRaytracingAccelerationStructure(&gpu.BuildDesc{
		Inputs:  a.tlasInputs(frame, a.count, tlasFlags|gpu.AccelStructBuildPerformUpdate),
		Dest:    addr,
		Source:  addr,
		Scratch: a.tlasScratch.GPUVirtualAddress(),
	})
	list.ResourceBarrier(gpu.UAVBarrier(a.tlas))
	return nil
}

func (a *AccelBuilder) release() {
	for _, b := range a.bottom {
		for _, res := range []gpu.Resource{b.result, b.scratch} {
			if res != nil {
				res.Release()
			}
		}
	}
	a.bottom = nil
	for i, res := range a.instances {
		if res != nil {
			res.Unmap()
			res.Release()
		}
		a.mapped[i] = nil
	}
	a.instances, a.mapped = nil, nil
	for _, res := range []gpu.Resource{a.tlas, a.tlasScratch} {
		if res != nil {
			res.Release()
		}
	}
	a.tlas, a.tlasScratch = nil, nil
	a.count = 0
	a.built = false
}

// Release frees every structure. The GPU must be idle.
func (a *AccelBuilder) Release() {
	a.release()
}
