// Package dispatch provides a fixed pool of single-threaded workers for work
// that must stay pinned to one execution thread for its whole lifetime.
//
// Render trees and server-function state are built, driven, and torn down on
// a single worker. The surrounding HTTP runtime may service a request on any
// goroutine; RunPinned is the handoff point between the two worlds.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"runtime"
	"runtime/debug"
	"sync/atomic"
)

// WorkerError reports a unit of work that terminated abnormally inside a
// worker. The abnormal termination never propagates to the caller's own
// goroutine; it is converted into this value at the dispatch boundary.
type WorkerError struct {
	Value any
	Stack []byte
}

func (e *WorkerError) Error() string {
	return fmt.Sprintf("dispatch: worker task panicked: %v", e.Value)
}

type worker struct {
	tasks   chan func()
	pending atomic.Int64
}

func (w *worker) run(logger *slog.Logger) {
	// Pin the worker to one OS thread so thread-affine state owned by its
	// tasks never migrates mid-execution.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for task := range w.tasks {
		w.safely(task, logger)
		w.pending.Add(-1)
	}
}

func (w *worker) safely(task func(), logger *slog.Logger) {
	defer func() {
		if v := recover(); v != nil {
			logger.Error("worker task panicked", "panic", v, "stack", string(debug.Stack()))
		}
	}()
	task()
}

// Pool owns a fixed set of single-threaded workers.
type Pool struct {
	workers []*worker
	logger  *slog.Logger
	closed  atomic.Bool
}

// New creates a pool with size workers. A size of zero or less defaults to
// the available parallelism, with a minimum of one worker.
func New(size int, logger *slog.Logger) *Pool {
	if size <= 0 {
		size = runtime.GOMAXPROCS(0)
	}
	if size < 1 {
		size = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pool{logger: logger}
	for i := 0; i < size; i++ {
		w := &worker{tasks: make(chan func(), 64)}
		p.workers = append(p.workers, w)
		go w.run(logger)
	}
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// pick selects a worker, preferring the less loaded of two random choices.
// Callers get no ordering guarantee across calls.
func (p *Pool) pick() *worker {
	n := len(p.workers)
	if n == 1 {
		return p.workers[0]
	}
	a := p.workers[rand.Intn(n)]
	b := p.workers[rand.Intn(n)]
	if b.pending.Load() < a.pending.Load() {
		return b
	}
	return a
}

// Submit enqueues fn on one worker and returns immediately. The whole of fn
// runs on that worker. A panic inside fn is recovered and logged; Submit
// callers that need the failure value should use RunPinned instead.
//
// No queue limit is enforced here; backpressure is the caller's concern.
func (p *Pool) Submit(fn func()) {
	if p.closed.Load() {
		p.logger.Warn("task submitted to closed pool")
		return
	}
	w := p.pick()
	w.pending.Add(1)
	w.tasks <- fn
}

// RunPinned runs fn pinned to one worker and waits for its result.
//
// If fn panics, the panic is captured and returned as a *WorkerError; the
// worker itself survives. If ctx is done before the result arrives, RunPinned
// stops waiting and returns ctx.Err(); the unit already running on the worker
// is not interrupted.
func (p *Pool) RunPinned(ctx context.Context, fn func() (any, error)) (any, error) {
	type result struct {
		value any
		err   error
	}
	done := make(chan result, 1)

	p.Submit(func() {
		defer func() {
			if v := recover(); v != nil {
				done <- result{err: &WorkerError{Value: v, Stack: debug.Stack()}}
			}
		}()
		value, err := fn()
		done <- result{value: value, err: err}
	})

	select {
	case r := <-done:
		return r.value, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting work and lets workers drain their queues.
func (p *Pool) Close() {
	if p.closed.Swap(true) {
		return
	}
	for _, w := range p.workers {
		close(w.tasks)
	}
}
