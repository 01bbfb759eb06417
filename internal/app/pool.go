package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/bft-labs/claimship/internal/domain"
	"github.com/bft-labs/claimship/internal/ports"
)

// Task is a unit of work run by a Pool. It receives the pool context and
// must observe its cancellation.
type Task func(ctx context.Context)

// Pool is a fixed set of workers fed from a bounded queue.
//
// Workers keep draining the queue after ctx is canceled so that every
// accepted task gets a chance to release what it holds.
type Pool struct {
	ctx    context.Context
	tasks  chan Task
	logger ports.Logger

	mu       sync.RWMutex
	closed   bool
	done     chan struct{}
	doneOnce sync.Once
	wg       sync.WaitGroup
}

// NewPool starts size workers running tasks with ctx. queue is the number of
// tasks that may wait for a free worker.
func NewPool(ctx context.Context, size, queue int, logger ports.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	if queue < 0 {
		queue = 0
	}
	p := &Pool{
		ctx:    ctx,
		tasks:  make(chan Task, queue),
		logger: logger,
		done:   make(chan struct{}),
	}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.worker(i)
	}
	return p
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for task := range p.tasks {
		p.run(id, task)
	}
}

func (p *Pool) run(id int, task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panicked",
				ports.Int("worker", id),
				ports.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	task(p.ctx)
}

// Submit queues task, blocking while the queue is full. It returns
// ErrPoolClosed after Close, or ctx.Err() if ctx ends first.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return domain.ErrPoolClosed
	}

	select {
	case p.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return domain.ErrPoolClosed
	}
}

// Close stops accepting tasks and waits for queued and running tasks.
func (p *Pool) Close() {
	// Wake submitters blocked on a full queue before taking the write lock.
	p.doneOnce.Do(func() { close(p.done) })

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
}
