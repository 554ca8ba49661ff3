package task

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Pool runs queued task ids on a fixed number of workers. The queue is
// bounded; Enqueue never blocks.
type Pool struct {
	jobs    chan string
	workers int
	handle  func(ctx context.Context, id string)
	logger  *zap.Logger

	mu     sync.RWMutex
	closed bool
	stop   chan struct{}
	wg     sync.WaitGroup
}

func NewPool(workers, queueSize int, handle func(ctx context.Context, id string), logger *zap.Logger) *Pool {
	return &Pool{
		jobs:    make(chan string, queueSize),
		workers: workers,
		handle:  handle,
		logger:  logger,
		stop:    make(chan struct{}),
	}
}

// Start launches the workers. They run until Shutdown or until ctx is done.
func (p *Pool) Start(ctx context.Context) {
	p.logger.Info("worker pool started", zap.Int("workers", p.workers), zap.Int("queue_size", cap(p.jobs)))
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

func (p *Pool) worker(ctx context.Context, n int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		case id := <-p.jobs:
			// A stop that raced with the receive wins; the task stays
			// pending and is picked up again on the next start.
			select {
			case <-p.stop:
				return
			default:
			}
			p.logger.Debug("worker picked task", zap.Int("worker", n), zap.String("task_id", id))
			p.handle(ctx, id)
		}
	}
}

// Enqueue schedules id without blocking.
func (p *Pool) Enqueue(id string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrQueueClosed
	}
	select {
	case p.jobs <- id:
		return nil
	default:
		return ErrQueueFull
	}
}

// Len is the number of ids waiting for a worker.
func (p *Pool) Len() int {
	return len(p.jobs)
}

// Shutdown stops accepting work and waits for in-flight tasks until ctx is
// done. Ids still queued are dropped.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.stop)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool drained", zap.Int("dropped", len(p.jobs)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
