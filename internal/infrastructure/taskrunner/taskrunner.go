// Package taskrunner implements devicecore's single-goroutine
// cooperative execution context (spec.md §5): every task, whether
// posted immediately or after a delay, runs serialized on one
// goroutine, so the domain services above it never need their own
// locking.
package taskrunner

import (
	"sync"
	"time"

	"github.com/edgeweave/devicecore/internal/domain/repository"
)

// Runner is the production repository.TaskRunner. It owns exactly one
// worker goroutine draining a queue buffered to 256 tasks; delayed tasks are
// scheduled with time.AfterFunc but only ever enqueue onto that same
// queue, so their bodies still execute on the single worker.
type Runner struct {
	tasks  chan func()
	done   chan struct{}
	once   sync.Once
}

// New starts the runner's worker goroutine. Callers must call Stop when
// finished to release it.
func New() *Runner {
	r := &Runner{
		tasks: make(chan func(), 256),
		done:  make(chan struct{}),
	}
	go r.loop()
	return r
}

func (r *Runner) loop() {
	for {
		select {
		case fn := <-r.tasks:
			fn()
		case <-r.done:
			return
		}
	}
}

// PostTask enqueues fn to run on the worker goroutine, in submission
// order relative to other PostTask calls.
func (r *Runner) PostTask(fn func()) {
	select {
	case r.tasks <- fn:
	case <-r.done:
	}
}

// PostDelayedTask schedules fn to be enqueued after delay elapses. The
// returned token cancels the underlying timer; cancelling after it has
// already fired (or been cancelled) is a no-op, matching Design Notes
// §9's cancellable-token model.
func (r *Runner) PostDelayedTask(delay time.Duration, fn func()) repository.CancelToken {
	timer := time.AfterFunc(delay, func() { r.PostTask(fn) })
	return &cancelToken{timer: timer}
}

// Stop halts the worker goroutine. Pending queued tasks are dropped.
func (r *Runner) Stop() {
	r.once.Do(func() { close(r.done) })
}

// cancelToken implements repository.CancelToken over a time.Timer.
type cancelToken struct {
	timer *time.Timer
}

func (c *cancelToken) Cancel() { c.timer.Stop() }
