package orchestration

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/VladislavFirsov/reportflow/contracts"
)

// outcome is reported by a worker when a task body returns.
type outcome struct {
	entry *entry
	err   error
}

// workerPool runs task bodies with bounded concurrency.
// CRITICAL: slot accounting here decides whether spawned work can ever run.
//
// Thread-safety: inflight is owned by the dispatcher goroutine; parked is
// updated by workers blocked in Scheduler.Await.
type workerPool struct {
	size     int
	timeout  time.Duration
	outcomes chan outcome
	inflight int
	parked   atomic.Int64
}

// newWorkerPool creates a pool with size slots.
// If size <= 0, defaults to 1.
func newWorkerPool(size int, timeout time.Duration) *workerPool {
	if size <= 0 {
		size = 1
	}
	return &workerPool{
		size:     size,
		timeout:  timeout,
		outcomes: make(chan outcome, size*4),
	}
}

// free returns the number of slots available for dispatch.
// Parked workers do not hold a slot.
func (p *workerPool) free() int {
	return p.size - p.inflight + int(p.parked.Load())
}

// allParked reports whether every in-flight task is waiting in Await.
func (p *workerPool) allParked() bool {
	return p.inflight == int(p.parked.Load())
}

// dispatch starts e on a new worker goroutine.
func (p *workerPool) dispatch(ctx context.Context, e *entry) {
	p.inflight++
	go func() {
		err := p.execute(ctx, e.task)
		p.outcomes <- outcome{entry: e, err: err}
	}()
}

// execute runs the task body, converting panics and timeouts into failures.
// It returns only after the body has returned: a timed-out body sees its
// context cancelled and holds the slot until it stops, so a retry never
// overlaps the previous attempt.
func (p *workerPool) execute(ctx context.Context, t Task) (err error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v: %w", t.Base().Name(), r, contracts.ErrThreadFailed)
		}
		if err != nil && p.timeout > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("task %s exceeded %s: %w", t.Base().Name(), p.timeout, contracts.ErrTaskTimeout)
		}
	}()
	return t.Run(ctx)
}
