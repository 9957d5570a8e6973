package renderer

import (
	"context"
	"fmt"

	"github.com/spaghettifunk/refract/engine/core"
	"github.com/spaghettifunk/refract/engine/renderer/gpu"
)

type bufferUpload struct {
	name  string
	data  []byte
	state gpu.ResourceState
}

// uploader records one-off work on its own allocator and list and waits
// for it on its own fence, outside the buffered frames.
type uploader struct {
	alloc gpu.CommandAllocator
	list  gpu.CommandList
	fence gpu.Fence
	value uint64
}

func newUploader(device gpu.Device) (*uploader, error) {
	u := &uploader{}
	var err error
	if u.alloc, err = device.CreateCommandAllocator(); err != nil {
		return nil, fmt.Errorf("failed to create upload allocator: %w", err)
	}
	if u.list, err = device.CreateCommandList(u.alloc); err != nil {
		u.release()
		return nil, fmt.Errorf("failed to create upload list: %w", err)
	}
	if err = u.list.Close(); err != nil {
		u.release()
		return nil, fmt.Errorf("failed to close upload list: %w", err)
	}
	if u.fence, err = device.CreateFence(0); err != nil {
		u.release()
		return nil, fmt.Errorf("failed to create upload fence: %w", err)
	}
	return u, nil
}

func (u *uploader) release() {
	if u.fence != nil {
		u.fence.Release()
	}
	if u.alloc != nil {
		u.alloc.Release()
	}
}

// immediate records with record, submits and blocks until the GPU has
// executed it.
func (r *Renderer) immediate(ctx context.Context, record func(list gpu.CommandList)) error {
	u := r.uploads
	if err := u.alloc.Reset(); err != nil {
		err = fmt.Errorf("failed to reset upload allocator: %w", err)
		core.LogError(err.Error())
		return err
	}
	if err := u.list.Reset(u.alloc, nil); err != nil {
		err = fmt.Errorf("failed to reset upload list: %w", err)
		core.LogError(err.Error())
		return err
	}
	record(u.list)
	if err := u.list.Close(); err != nil {
		err = fmt.Errorf("failed to close upload list: %w", err)
		core.LogError(err.Error())
		return err
	}
	if err := r.queue.ExecuteCommandLists(u.list); err != nil {
		err = fmt.Errorf("failed to submit upload list: %w", err)
		core.LogError(err.Error())
		return err
	}
	u.value++
	if err := r.queue.Signal(u.fence, u.value); err != nil {
		err = fmt.Errorf("failed to signal upload fence: %w", err)
		core.LogError(err.Error())
		return err
	}
	if err := u.fence.Wait(ctx, u.value); err != nil {
		err = fmt.Errorf("waiting for upload: %w: %w", core.ErrWaitFailed, err)
		core.LogError(err.Error())
		return err
	}
	return nil
}

func (r *Renderer) createStaging(name string, data []byte) (gpu.Resource, error) {
	res, err := r.device.CreateCommittedResource(gpu.HeapUpload, gpu.BufferDesc(uint64(len(data)), gpu.ResourceFlagNone), gpu.ResourceStateGenericRead, nil)
	if err != nil {
		err = fmt.Errorf("failed to create staging buffer `%s`: %w", name, err)
		core.LogError(err.Error())
		return nil, err
	}
	res.SetName(name)
	mapped, err := res.Map()
	if err != nil {
		res.Release()
		err = fmt.Errorf("failed to map staging buffer `%s`: %w", name, err)
		core.LogError(err.Error())
		return nil, err
	}
	copy(mapped, data)
	res.Unmap()
	return res, nil
}

// uploadBuffers copies each upload into a new default heap buffer left in
// its requested state.
func (r *Renderer) uploadBuffers(ctx context.Context, uploads []bufferUpload) ([]gpu.Resource, error) {
	buffers := make([]gpu.Resource, 0, len(uploads))
	staging := make([]gpu.Resource, 0, len(uploads))
	defer func() {
		for _, s := range staging {
			s.Release()
		}
	}()
	fail := func(err error) ([]gpu.Resource, error) {
		for _, b := range buffers {
			b.Release()
		}
		return nil, err
	}
	for _, u := range uploads {
		res, err := r.device.CreateCommittedResource(gpu.HeapDefault, gpu.BufferDesc(uint64(len(u.data)), gpu.ResourceFlagNone), gpu.ResourceStateCopyDest, nil)
		if err != nil {
			err = fmt.Errorf("failed to create buffer `%s`: %w", u.name, err)
			core.LogError(err.Error())
			return fail(err)
		}
		res.SetName(u.name)
		buffers = append(buffers, res)
		s, err := r.createStaging(u.name+" staging", u.data)
		if err != nil {
			return fail(err)
		}
		staging = append(staging, s)
	}
	err := r.immediate(ctx, func(list gpu.CommandList) {
		barriers := make([]gpu.ResourceBarrier, len(uploads))
		for i, u := range uploads {
			list.CopyBufferRegion(buffers[i], 0, staging[i], 0, uint64(len(u.data)))
			barriers[i] = gpu.TransitionBarrier(buffers[i], gpu.ResourceStateCopyDest, u.state)
		}
		list.ResourceBarrier(barriers...)
	})
	if err != nil {
		return fail(err)
	}
	return buffers, nil
}
