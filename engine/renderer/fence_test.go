package renderer

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/refract/engine/core"
	"github.com/spaghettifunk/refract/engine/renderer/gpu"
)

type fenceLog struct {
	events []string
}

func (l *fenceLog) add(format string, args ...any) {
	l.events = append(l.events, fmt.Sprintf(format, args...))
}

type mockFence struct {
	id        int
	log       *fenceLog
	completed uint64
	failWait  error
}

func (f *mockFence) CompletedValue() uint64 { return f.completed }

func (f *mockFence) Wait(ctx context.Context, value uint64) error {
	f.log.add("wait %d %d", f.id, value)
	if f.failWait != nil {
		return f.failWait
	}
	f.completed = value
	return nil
}

func (f *mockFence) Release() {}

// mockDevice only hands out fences.
type mockDevice struct {
	gpu.Device
	log    *fenceLog
	fences []*mockFence
}

func (d *mockDevice) CreateFence(initial uint64) (gpu.Fence, error) {
	f := &mockFence{id: len(d.fences), log: d.log, completed: initial}
	d.fences = append(d.fences, f)
	return f, nil
}

// mockQueue records signals without completing them.
type mockQueue struct {
	gpu.CommandQueue
	log *fenceLog
}

func (q *mockQueue) Signal(fence gpu.Fence, value uint64) error {
	q.log.add("signal %d %d", fence.(*mockFence).id, value)
	return nil
}

type cyclingSource struct {
	next, count uint32
}

func (s *cyclingSource) CurrentBackBufferIndex() uint32 {
	i := s.next
	s.next = (s.next + 1) % s.count
	return i
}

func newMockFences(t *testing.T) (*FrameFences, *mockDevice, *fenceLog) {
	t.Helper()
	log := &fenceLog{}
	dev := &mockDevice{log: log}
	f, err := NewFrameFences(dev, &mockQueue{log: log}, &cyclingSource{count: 2}, 2)
	require.NoError(t, err)
	return f, dev, log
}

func TestFrameFencesWaitBeforeWrite(t *testing.T) {
	f, _, log := newMockFences(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		frame := uint32(i % 2)
		assert.False(t, f.Writable(frame), "frame %d writable before its wait", i)

		got, err := f.WaitForPreviousFrame(ctx)
		require.NoError(t, err)
		assert.Equal(t, frame, got)
		assert.True(t, f.Writable(frame))
		log.add("write %d", frame)

		require.NoError(t, f.Signal())
		assert.False(t, f.Writable(frame))
	}

	// the first use of each frame has nothing to wait for
	assert.Equal(t, []string{
		"write 0", "signal 0 1",
		"write 1", "signal 1 1",
		"wait 0 1", "write 0", "signal 0 2",
		"wait 1 1", "write 1", "signal 1 2",
	}, log.events)
}

func TestFrameFencesSkipsCompletedWait(t *testing.T) {
	f, dev, log := newMockFences(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := f.WaitForPreviousFrame(ctx)
		require.NoError(t, err)
		require.NoError(t, f.Signal())
	}
	dev.fences[0].completed = 1

	frame, err := f.WaitForPreviousFrame(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), frame)
	assert.NotContains(t, log.events, "wait 0 1")
}

func TestFrameFencesWaitFailure(t *testing.T) {
	f, dev, _ := newMockFences(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := f.WaitForPreviousFrame(ctx)
		require.NoError(t, err)
		require.NoError(t, f.Signal())
	}
	dev.fences[0].failWait = errors.New("device hung")

	_, err := f.WaitForPreviousFrame(ctx)
	assert.ErrorIs(t, err, core.ErrWaitFailed)
	assert.False(t, f.Writable(0))
}

func TestFrameFencesFlush(t *testing.T) {
	f, _, log := newMockFences(t)
	ctx := context.Background()

	_, err := f.WaitForPreviousFrame(ctx)
	require.NoError(t, err)
	require.NoError(t, f.Signal())
	_, err = f.WaitForPreviousFrame(ctx)
	require.NoError(t, err)

	// frame 1 is acquired and has not signalled yet
	require.NoError(t, f.Flush(ctx))
	assert.Contains(t, log.events, "wait 0 1")
	assert.NotContains(t, log.events, "wait 1 1")
}

func TestFrameFencesRetireWaitsForRecordedFrames(t *testing.T) {
	f, dev, _ := newMockFences(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := f.WaitForPreviousFrame(ctx)
		require.NoError(t, err)
		require.NoError(t, f.Signal())
	}
	released := 0
	f.Retire(func() { released++ })

	f.Collect()
	assert.Zero(t, released)
	assert.Equal(t, 1, f.Pending())

	dev.fences[0].completed = 1
	f.Collect()
	assert.Zero(t, released, "frame 1 is still in flight")

	dev.fences[1].completed = 1
	f.Collect()
	assert.Equal(t, 1, released)
	assert.Zero(t, f.Pending())
}

func TestFrameFencesRetireDuringAcquiredFrame(t *testing.T) {
	f, dev, _ := newMockFences(t)
	ctx := context.Background()

	_, err := f.WaitForPreviousFrame(ctx)
	require.NoError(t, err)
	released := false
	f.Retire(func() { released = true })
	require.NoError(t, f.Signal())

	f.Collect()
	assert.False(t, released)
	dev.fences[0].completed = 1
	f.Collect()
	assert.True(t, released)
}

func TestFrameFencesReleaseRunsRetired(t *testing.T) {
	f, _, _ := newMockFences(t)
	ctx := context.Background()

	_, err := f.WaitForPreviousFrame(ctx)
	require.NoError(t, err)
	require.NoError(t, f.Signal())
	released := false
	f.Retire(func() { released = true })

	f.Release()
	assert.True(t, released)
	assert.Zero(t, f.Pending())

	// released fences no longer defer anything
	late := false
	f.Retire(func() { late = true })
	assert.True(t, late)
}
