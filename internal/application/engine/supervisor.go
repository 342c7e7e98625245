package engine

import (
	"context"
	"sync"
)

// Supervisor routes adapter work onto the right scheduler: network-bound
// adapters run inline on the caller's goroutine, browser-automation adapters
// are handed to a dedicated worker pool so they never tie up the cooperative
// path.
type Supervisor struct {
	jobs chan blockingJob

	closeOnce sync.Once
	closed    chan struct{}
	wg        sync.WaitGroup
}

type blockingJob struct {
	ctx  context.Context
	fn   func() error
	done chan error
}

// NewSupervisor creates a supervisor with the given number of dedicated
// blocking workers.
func NewSupervisor(blockingWorkers int) *Supervisor {
	if blockingWorkers <= 0 {
		blockingWorkers = 1
	}
	s := &Supervisor{
		jobs:   make(chan blockingJob),
		closed: make(chan struct{}),
	}
	s.wg.Add(blockingWorkers)
	for i := 0; i < blockingWorkers; i++ {
		go s.worker()
	}
	return s
}

func (s *Supervisor) worker() {
	defer s.wg.Done()
	for {
		select {
		case job := <-s.jobs:
			job.done <- job.fn()
		case <-s.closed:
			return
		}
	}
}

// Run executes fn. Non-blocking work runs inline; blocking work occupies one
// dedicated worker for its whole duration, queueing when all workers are
// busy. Cancellation while queued abandons the job.
func (s *Supervisor) Run(ctx context.Context, blocking bool, fn func() error) error {
	if !blocking {
		return fn()
	}

	job := blockingJob{ctx: ctx, fn: fn, done: make(chan error, 1)}
	select {
	case s.jobs <- job:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.closed:
		return context.Canceled
	}

	select {
	case err := <-job.done:
		return err
	case <-ctx.Done():
		// The worker keeps running fn to completion; the result is dropped.
		return ctx.Err()
	}
}

// Close stops the workers. Queued jobs that were never picked up are
// abandoned.
func (s *Supervisor) Close() {
	s.closeOnce.Do(func() { close(s.closed) })
	s.wg.Wait()
}
