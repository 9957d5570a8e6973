package renderer

import (
	"context"
	"fmt"
	"sync"

	"github.com/spaghettifunk/refract/engine/core"
	"github.com/spaghettifunk/refract/engine/renderer/gpu"
)

// BackBufferSource reports which buffered frame is recorded next.
type BackBufferSource interface {
	CurrentBackBufferIndex() uint32
}

// FrameGuard tells constant buffer writers whether a frame's region is
// free of GPU work.
type FrameGuard interface {
	Writable(frame uint32) bool
}

// FrameFences keeps one fence and target value per buffered frame. A
// frame is acquired by WaitForPreviousFrame and handed back to the GPU by
// Signal.
type FrameFences struct {
	queue    gpu.CommandQueue
	source   BackBufferSource
	fences   []gpu.Fence
	values   []uint64
	acquired []bool
	frame    uint32

	mu      sync.Mutex
	retired []retired
}

// retired is a release that waits until every fence has reached targets.
type retired struct {
	targets []uint64
	release func()
}

func NewFrameFences(device gpu.Device, queue gpu.CommandQueue, source BackBufferSource, count uint32) (*FrameFences, error) {
	f := &FrameFences{
		queue:    queue,
		source:   source,
		fences:   make([]gpu.Fence, count),
		values:   make([]uint64, count),
		acquired: make([]bool, count),
	}
	for i := range f.fences {
		fence, err := device.CreateFence(0)
		if err != nil {
			f.Release()
			err = fmt.Errorf("failed to create fence for frame %d: %w", i, err)
			core.LogError(err.Error())
			return nil, err
		}
		f.fences[i] = fence
	}
	return f, nil
}

// WaitForPreviousFrame blocks until the GPU is done with the next back
// buffer's previous use and returns its frame index.
func (f *FrameFences) WaitForPreviousFrame(ctx context.Context) (uint32, error) {
	frame := f.source.CurrentBackBufferIndex()
	if !core.Check(int(frame) < len(f.fences), "back buffer index %d out of %d frames", frame, len(f.fences)) {
		return 0, core.ErrIndexOutOfRange
	}
	fence := f.fences[frame]
	if target := f.values[frame]; fence.CompletedValue() < target {
		if err := fence.Wait(ctx, target); err != nil {
			err = fmt.Errorf("frame %d waiting for fence value %d: %w: %w", frame, target, core.ErrWaitFailed, err)
			core.LogError(err.Error())
			return frame, err
		}
	}
	f.values[frame]++
	f.acquired[frame] = true
	f.frame = frame
	return frame, nil
}

// Writable reports whether frame was acquired and not yet handed back.
func (f *FrameFences) Writable(frame uint32) bool {
	return int(frame) < len(f.acquired) && f.acquired[frame]
}

// Signal queues the signal of the current frame's target value. It is
// also how an abandoned frame is handed back.
func (f *FrameFences) Signal() error {
	frame := f.frame
	f.acquired[frame] = false
	if err := f.queue.Signal(f.fences[frame], f.values[frame]); err != nil {
		err = fmt.Errorf("failed to signal frame %d: %w", frame, err)
		core.LogError(err.Error())
		return err
	}
	return nil
}

// Flush waits until every frame's last signalled value has completed. An
// acquired frame has not signalled its current value yet.
func (f *FrameFences) Flush(ctx context.Context) error {
	for i, fence := range f.fences {
		target := f.values[i]
		if f.acquired[i] {
			target--
		}
		if fence.CompletedValue() >= target {
			continue
		}
		if err := fence.Wait(ctx, target); err != nil {
			err = fmt.Errorf("flushing frame %d: %w: %w", i, core.ErrWaitFailed, err)
			core.LogError(err.Error())
			return err
		}
	}
	return nil
}

// Retire runs release once the GPU has finished every frame recorded or
// signalled so far. An acquired frame counts with the value it will
// signal.
func (f *FrameFences) Retire(release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.fences) == 0 || f.fences[0] == nil {
		release()
		return
	}
	f.retired = append(f.retired, retired{targets: append([]uint64(nil), f.values...), release: release})
}

// Collect runs the retired releases whose frames have completed.
func (f *FrameFences) Collect() {
	f.mu.Lock()
	var ready []func()
	kept := f.retired[:0]
	for _, r := range f.retired {
		if f.reached(r.targets) {
			ready = append(ready, r.release)
			continue
		}
		kept = append(kept, r)
	}
	clear(f.retired[len(kept):])
	f.retired = kept
	f.mu.Unlock()

	for _, release := range ready {
		release()
	}
}

func (f *FrameFences) reached(targets []uint64) bool {
	for i, fence := range f.fences {
		if fence.CompletedValue() < targets[i] {
			return false
		}
	}
	return true
}

// Pending is the number of retired releases still waiting.
func (f *FrameFences) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.retired)
}

// Frame returns the frame most recently acquired.
func (f *FrameFences) Frame() uint32 {
	return f.frame
}

func (f *FrameFences) Count() uint32 {
	return uint32(len(f.fences))
}

// Release runs every retired release and frees the fences. The GPU must
// be idle.
func (f *FrameFences) Release() {
	f.mu.Lock()
	pending := f.retired
	f.retired = nil
	f.mu.Unlock()
	for _, r := range pending {
		r.release()
	}
	for i, fence := range f.fences {
		if fence != nil {
			fence.Release()
			f.fences[i] = nil
		}
	}
}
