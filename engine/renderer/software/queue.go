package software

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/spaghettifunk/refract/engine/core"
	"github.com/spaghettifunk/refract/engine/renderer/gpu"
)

type Fence struct {
	mu    sync.Mutex
	cond  *sync.Cond
	value uint64
}

func (d *Device) CreateFence(initial uint64) (gpu.Fence, error) {
	f := &Fence{value: initial}
	f.cond = sync.NewCond(&f.mu)
	return f, nil
}

func (f *Fence) CompletedValue() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value
}

func (f *Fence) Wait(ctx context.Context, value uint64) error {
	if ctx == nil {
		ctx = context.Background()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.value >= value {
		return nil
	}
	stop := context.AfterFunc(ctx, func() {
		f.mu.Lock()
		f.cond.Broadcast()
		f.mu.Unlock()
	})
	defer stop()
	for f.value < value {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("waiting for fence value %d (at %d): %w", value, f.value, err)
		}
		f.cond.Wait()
	}
	return nil
}

func (f *Fence) signal(value uint64) {
	f.mu.Lock()
	if value > f.value {
		f.value = value
	}
	f.cond.Broadcast()
	f.mu.Unlock()
}

func (f *Fence) Release() {}

type CommandAllocator struct {
	dev *Device
	// pending counts submitted lists that have not finished executing.
	pending atomic.Int32
}

func (d *Device) CreateCommandAllocator() (gpu.CommandAllocator, error) {
	return &CommandAllocator{dev: d}, nil
}

func (a *CommandAllocator) Reset() error {
	if n := a.pending.Load(); n > 0 {
		a.dev.report("command allocator reset while %d command lists recorded from it are executing", n)
		return fmt.Errorf("command allocator is in use by %d executing command lists", n)
	}
	return nil
}

func (a *CommandAllocator) Release() {}

type CommandQueue struct {
	dev    *Device
	ops    chan func()
	done   chan struct{}
	closed atomic.Bool
	mu     sync.Mutex
}

func (d *Device) CreateCommandQueue() (gpu.CommandQueue, error) {
	q := &CommandQueue{dev: d, ops: make(chan func(), 64), done: make(chan struct{})}
	go q.run()
	return q, nil
}

func (q *CommandQueue) run() {
	defer close(q.done)
	for op := range q.ops {
		op()
	}
}

func (q *CommandQueue) submit(op func()) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed.Load() {
		return fmt.Errorf("command queue was released")
	}
	q.ops <- op
	return nil
}

func (q *CommandQueue) ExecuteCommandLists(lists ...gpu.CommandList) error {
	if q.dev.Removed() {
		return fmt.Errorf("execute command lists: %w", gpu.ErrFatal)
	}
	batch := make([]*CommandList, 0, len(lists))
	for _, l := range lists {
		cl, ok := l.(*CommandList)
		if !ok {
			return fmt.Errorf("command list %T does not belong to the software device", l)
		}
		if cl.recording {
			q.dev.report("command list executed before Close")
			return fmt.Errorf("command list is still recording")
		}
		batch = append(batch, cl)
	}
	for _, cl := range batch {
		cmds, alloc := cl.cmds, cl.alloc
		alloc.pending.Add(1)
		err := q.submit(func() {
			defer alloc.pending.Add(-1)
			ex := newExecutor(q.dev)
			for _, cmd := range cmds {
				cmd(ex)
			}
		})
		if err != nil {
			alloc.pending.Add(-1)
			return err
		}
	}
	return nil
}

func (q *CommandQueue) Signal(fence gpu.Fence, value uint64) error {
	f, ok := fence.(*Fence)
	if !ok {
		return fmt.Errorf("fence %T does not belong to the software device", fence)
	}
	return q.submit(func() { f.signal(value) })
}

// Idle blocks until all work submitted so far has executed.
func (q *CommandQueue) Idle() {
	done := make(chan struct{})
	if err := q.submit(func() { close(done) }); err != nil {
		return
	}
	<-done
}

func (q *CommandQueue) Release() {
	q.mu.Lock()
	if q.closed.Swap(true) {
		q.mu.Unlock()
		return
	}
	close(q.ops)
	q.mu.Unlock()
	<-q.done
	core.LogDebug("software command queue drained")
}
