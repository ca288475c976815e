package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"example.com/userexports/internal/domain"
	"example.com/userexports/internal/idempotency"
)

var (
	ErrQueueFull    = errors.New("jobs: queue is full")
	ErrDuplicateJob = errors.New("jobs: job already submitted")
	ErrClosed       = errors.New("jobs: dispatcher closed")
	ErrInvalidJob   = errors.New("jobs: invalid job")
)

// Dispatcher hands a job to asynchronous execution and returns immediately.
type Dispatcher interface {
	Submit(ctx context.Context, job domain.Job) error
}

func validate(job domain.Job) error {
	if errs := domain.ValidateJob(job); len(errs) > 0 {
		return fmt.Errorf("%w: %v", ErrInvalidJob, errs)
	}
	return nil
}

// Pool is an in-process Dispatcher: a bounded queue drained by a fixed number
// of workers. A started job always runs to completion.
type Pool struct {
	queue   chan domain.Job
	runner  JobRunner
	workers int
	log     *zap.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
	closed   bool
	wg       sync.WaitGroup
}

func NewPool(runner JobRunner, queueMaxSize, workers int, log *zap.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{
		queue:    make(chan domain.Job, queueMaxSize),
		runner:   runner,
		workers:  workers,
		log:      log,
		inflight: make(map[string]struct{}),
	}
}

// Start launches the workers. Jobs run with a context detached from ctx's
// cancellation; use Close to stop.
func (p *Pool) Start(ctx context.Context) {
	runCtx := context.WithoutCancel(ctx)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for job := range p.queue {
				p.process(runCtx, job)
			}
		}()
	}
}

func (p *Pool) process(ctx context.Context, job domain.Job) {
	key := idempotency.DeriveKey(job)
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("export job panicked", zap.String("jobId", job.ID), zap.Any("panic", r))
		}
		p.mu.Lock()
		delete(p.inflight, key)
		p.mu.Unlock()
	}()

	// Failures are already reported through the runner's sink.
	_, _ = p.runner.Run(ctx, job)
}

// Submit never blocks: it returns ErrQueueFull when the queue is saturated.
func (p *Pool) Submit(_ context.Context, job domain.Job) error {
	if err := validate(job); err != nil {
		return err
	}
	key := idempotency.DeriveKey(job)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if _, ok := p.inflight[key]; ok {
		return ErrDuplicateJob
	}
	select {
	case p.queue <- job:
		p.inflight[key] = struct{}{}
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting jobs and waits for queued and running ones.
func (p *Pool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// Len is the number of queued jobs not yet picked up by a worker.
func (p *Pool) Len() int {
	return len(p.queue)
}
