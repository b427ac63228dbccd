// Package worker runs background jobs on a fixed set of goroutines fed by
// a bounded queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	ErrQueueFull  = errors.New("worker: queue full")
	ErrPoolClosed = errors.New("worker: pool closed")
)

// Job is one unit of background work.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// Pool executes jobs with a fixed number of workers.
type Pool struct {
	workers int
	queue   chan Job
	logger  *slog.Logger

	mu      sync.RWMutex
	closed  bool
	started bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewPool creates a pool with the given worker count and queue capacity.
func NewPool(workers, queueSize int, logger *slog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		workers: workers,
		queue:   make(chan Job, queueSize),
		logger:  logger.With("component", "worker"),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the workers. Calling Start more than once has no effect.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.work(i)
	}
}

// Enqueue hands job to the pool without blocking.
func (p *Pool) Enqueue(job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.queue <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Len reports the number of queued jobs not yet picked up.
func (p *Pool) Len() int {
	return len(p.queue)
}

// Shutdown stops accepting jobs and waits for queued and running jobs to
// finish. If ctx expires first, running jobs are cancelled and Shutdown
// returns ctx's error without waiting for jobs that ignore cancellation.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	started := p.started
	p.mu.Unlock()

	if !started {
		p.cancel()
		return nil
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		return ctx.Err()
	}
}

func (p *Pool) work(id int) {
	defer p.wg.Done()
	for job := range p.queue {
		p.run(id, job)
	}
}

func (p *Pool) run(id int, job Job) {
	start := time.Now()
	log := p.logger.With("worker", id, "job", job.Name)

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return job.Run(p.ctx)
	}()

	if err != nil {
		log.Error("job failed", "error", err, "duration", time.Since(start))
		return
	}
	log.Debug("job finished", "duration", time.Since(start))
}
