// Package executor runs notification callbacks off the goroutine that
// triggered them.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/semaphore"
)

// TaskPanicError records a panic raised by a posted task.
type TaskPanicError struct {
	Value any
	Stack []byte
}

func (e *TaskPanicError) Error() string {
	return fmt.Sprintf("task panicked: %v", e.Value)
}

// Unwrap exposes a panic value that is itself an error.
func (e *TaskPanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}

// Pool is a bounded goroutine pool. Post never blocks: a task either
// starts a worker or joins a queue drained by the running workers.
type Pool struct {
	sem *semaphore.Weighted
	wg  sync.WaitGroup
	log *slog.Logger

	mu     sync.Mutex
	queue  []func()
	panics []error
}

// NewPool returns a pool running at most workers tasks at once. A
// non-positive count means runtime.NumCPU().
func NewPool(workers int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{sem: semaphore.NewWeighted(int64(workers)), log: logger}
}

// Post schedules task.
func (p *Pool) Post(task func()) {
	p.wg.Add(1)
	if p.sem.TryAcquire(1) {
		go p.work(task)
		return
	}
	p.mu.Lock()
	p.queue = append(p.queue, task)
	p.mu.Unlock()
	// Every worker may have exited between the failed acquire and the
	// enqueue.
	if p.sem.TryAcquire(1) {
		go p.work(nil)
	}
}

func (p *Pool) work(task func()) {
	for {
		if task != nil {
			p.run(task)
		}
		if task = p.next(); task != nil {
			continue
		}
		p.sem.Release(1)
		if !p.queued() || !p.sem.TryAcquire(1) {
			return
		}
	}
}

func (p *Pool) next() func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return nil
	}
	task := p.queue[0]
	p.queue[0] = nil
	p.queue = p.queue[1:]
	return task
}

func (p *Pool) queued() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue) > 0
}

func (p *Pool) run(task func()) {
	defer p.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			err := &TaskPanicError{Value: r, Stack: debug.Stack()}
			p.log.Error("notification task panicked", "panic", r)
			p.mu.Lock()
			p.panics = append(p.panics, err)
			p.mu.Unlock()
		}
	}()
	task()
}

// Wait blocks until every posted task, including tasks posted by tasks,
// has finished. It returns the panics recorded so far, joined, or the
// context error if ctx ends first.
func (p *Pool) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("waiting for notification tasks: %w", ctx.Err())
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return errors.Join(p.panics...)
}
