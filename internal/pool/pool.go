// Package pool runs download tasks on a fixed number of workers.
package pool

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Task is a unit of work. Tasks report their own failures; the pool never
// cancels siblings when one of them goes wrong.
type Task func(ctx context.Context)

// Pool bounds concurrent tasks. Submit blocks while all workers are busy.
type Pool struct {
	ctx   context.Context
	group errgroup.Group
}

// New creates a pool of size workers. Once ctx is done no new task starts;
// tasks already running are not interrupted.
func New(ctx context.Context, size int) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{ctx: ctx}
	p.group.SetLimit(size)
	return p
}

// Submit schedules task and reports whether it was accepted. It returns
// false without running the task when the pool's context is done.
func (p *Pool) Submit(task Task) bool {
	if p.ctx.Err() != nil {
		return false
	}

	p.group.Go(func() error {
		// canceled while waiting for a free worker
		if p.ctx.Err() != nil {
			return nil
		}
		// a started task runs to completion; it keeps the context values only
		task(context.WithoutCancel(p.ctx))
		return nil
	})
	return true
}

// Wait blocks until every accepted task has finished. The pool can be
// reused afterwards.
func (p *Pool) Wait() {
	_ = p.group.Wait()
}
