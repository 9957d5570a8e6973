package assets

import (
	"errors"
	"sync"

	"github.com/spaghettifunk/refract/engine/core"
)

var (
	ErrNoWorkers           = errors.New("attempting to create a job pool with less than 1 worker")
	ErrNegativeChannelSize = errors.New("attempting to create a job pool with a negative channel size")
	ErrPoolClosed          = errors.New("job pool already shut down")
)

// Job is one unit of loading work. OnComplete runs on the worker after
// Run returns, with Run's results.
type Job struct {
	Name       string
	Run        func() (any, error)
	OnComplete func(result any, err error)
}

// JobPool runs loading jobs on a fixed set of workers so decoding large
// files never blocks the frame loop.
type JobPool struct {
	numWorkers int
	queue      chan Job
	wg         sync.WaitGroup

	mutex  sync.RWMutex
	closed bool
}

func NewJobPool(numWorkers, channelSize int) (*JobPool, error) {
	if numWorkers <= 0 {
		return nil, ErrNoWorkers
	}
	if channelSize < 0 {
		return nil, ErrNegativeChannelSize
	}
	jp := &JobPool{
		numWorkers: numWorkers,
		queue:      make(chan Job, channelSize),
	}
	jp.start()
	return jp, nil
}

func (jp *JobPool) start() {
	for i := 0; i < jp.numWorkers; i++ {
		jp.wg.Add(1)
		go func() {
			defer jp.wg.Done()
			for job := range jp.queue {
				result, err := job.Run()
				if err != nil {
					core.LogError("job `%s` failed: %s", job.Name, err)
				}
				if job.OnComplete != nil {
					job.OnComplete(result, err)
				}
			}
		}()
	}
}

// Submit queues job, blocking while the queue is full.
func (jp *JobPool) Submit(job Job) error {
	jp.mutex.RLock()
	defer jp.mutex.RUnlock()
	if jp.closed {
		return ErrPoolClosed
	}
	jp.queue <- job
	return nil
}

// Shutdown drains the queue and waits for every worker to exit.
func (jp *JobPool) Shutdown() {
	jp.mutex.Lock()
	if jp.closed {
		jp.mutex.Unlock()
		return
	}
	jp.closed = true
	close(jp.queue)
	jp.mutex.Unlock()
	jp.wg.Wait()
}
