package workerpool

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Job is a unit of work; it receives the pool context and should stop when it is done.
type Job func(ctx context.Context)

// WorkerPool runs jobs on a fixed number of goroutines fed by a bounded queue.
type WorkerPool struct {
	queue  chan Job
	wg     sync.WaitGroup
	logger *zap.Logger

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// NewWorkerPool starts workerCount workers reading from a queue of queueSize
func NewWorkerPool(ctx context.Context, workerCount, queueSize int, logger *zap.Logger) *WorkerPool {
	if workerCount < 1 {
		workerCount = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	pool := &WorkerPool{
		queue:  make(chan Job, queueSize),
		logger: logger,
	}

	pool.wg.Add(workerCount)
	for range workerCount {
		go pool.worker(ctx)
	}

	return pool
}

func (p *WorkerPool) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("Worker received shutdown signal")
			return
		case job, ok := <-p.queue:
			if !ok {
				return
			}
			p.run(ctx, job)
		}
	}
}

func (p *WorkerPool) run(ctx context.Context, job Job) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Recovered from panic in worker job", zap.Any("panic", r))
		}
	}()
	job(ctx)
}

// Submit enqueues a job without blocking. It returns false when the queue is
// full or the pool has been shut down; the job is dropped in that case.
func (p *WorkerPool) Submit(job Job) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.logger.Warn("Worker pool is shut down, job dropped")
		return false
	}

	select {
	case p.queue <- job:
		return true
	default:
		p.logger.Warn("Worker pool queue full, job dropped", zap.Int("queue_size", cap(p.queue)))
		return false
	}
}

// Shutdown stops accepting jobs and waits for queued ones to finish or ctx to expire
func (p *WorkerPool) Shutdown(ctx context.Context) error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.queue)
		p.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		p.logger.Warn("Worker pool shutdown timed out")
		return ctx.Err()
	case <-done:
		p.logger.Info("Worker pool shutdown complete")
		return nil
	}
}
