package workerpool

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
)

var (
	ErrTaskPanic  = errors.New("task panicked")
	ErrNotStarted = errors.New("pool not started")
	ErrStopped    = errors.New("pool stopped")
)

type Task func(ctx context.Context) error

type job struct {
	ctx  context.Context
	fn   Task
	done chan error
}

// Pool runs CPU-bound tasks on a fixed number of goroutines. Callers block in
// Do until their task completes.
type Pool struct {
	size int
	jobs chan job

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped <-chan struct{}
	wg      sync.WaitGroup
}

func New(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		size: size,
		jobs: make(chan job),
	}
}

func (p *Pool) Size() int {
	return p.size
}

func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.cancel != nil {
		p.mu.Unlock()
		return fmt.Errorf("pool already started")
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.stopped = ctx.Done()
	p.mu.Unlock()

	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}

	return nil
}

// Stop prevents new tasks from starting and waits for running ones.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Unlock()

	p.wg.Wait()
}

// Do submits fn and waits for its result. A task that has not been picked up
// when ctx ends is abandoned with ctx.Err(); a task that has started always
// runs to completion.
func (p *Pool) Do(ctx context.Context, fn Task) error {
	p.mu.Lock()
	stopped := p.stopped
	p.mu.Unlock()

	if stopped == nil {
		return ErrNotStarted
	}

	j := job{ctx: ctx, fn: fn, done: make(chan error, 1)}

	select {
	case p.jobs <- j:
	case <-ctx.Done():
		return ctx.Err()
	case <-stopped:
		return ErrStopped
	}

	return <-j.done
}

// Run is Do for tasks that produce a value.
func Run[T any](ctx context.Context, p *Pool, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		out = v
		return err
	})
	return out, err
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case j := <-p.jobs:
			j.done <- execute(j)
		}
	}
}

func execute(j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v\n%s", ErrTaskPanic, r, debug.Stack())
		}
	}()

	return j.fn(j.ctx)
}
