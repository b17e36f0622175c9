// Package async runs background work for the knowledge base on a bounded
// worker pool.
package async

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	kberrors "github.com/Aman-CERP/ragkb/internal/errors"
)

// Job is one unit of background work.
type Job struct {
	// Name identifies the job in logs.
	Name string
	Run  func(ctx context.Context) error
}

// PoolConfig sizes the pool.
type PoolConfig struct {
	Workers    int
	QueueSize  int
	JobTimeout time.Duration
}

// DefaultPoolConfig returns two workers over a queue of 64 with a five
// minute job timeout.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{Workers: 2, QueueSize: 64, JobTimeout: 5 * time.Minute}
}

// Pool runs submitted jobs on a fixed number of goroutines. Submit never
// blocks: a full queue rejects the job.
type Pool struct {
	cfg   PoolConfig
	jobs  chan Job
	stats *Stats

	// ctx is cancelled on Close after the queue drains so late jobs stop
	// waiting on slow providers.
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewPool starts cfg.Workers goroutines. Zero values fall back to
// DefaultPoolConfig.
func NewPool(cfg PoolConfig) *Pool {
	def := DefaultPoolConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = def.JobTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		cfg:    cfg,
		jobs:   make(chan Job, cfg.QueueSize),
		stats:  newStats(),
		ctx:    ctx,
		cancel: cancel,
	}
	p.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go p.worker()
	}
	return p
}

// Submit enqueues a job. It returns an ErrCodeEmbedQueueFull error when the
// queue is at capacity and an internal error once the pool is closed.
func (p *Pool) Submit(job Job) error {
	if job.Run == nil {
		return kberrors.ValidationError("job has no run function", nil)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return kberrors.InternalError("worker pool is closed", nil)
	}

	// Counted before the send so a fast worker never sees a negative queue.
	p.stats.queued()
	select {
	case p.jobs <- job:
		return nil
	default:
		p.stats.rejected()
		return kberrors.New(kberrors.ErrCodeEmbedQueueFull,
			fmt.Sprintf("background queue is full (%d jobs)", p.cfg.QueueSize), nil).
			WithDetail("job", job.Name).
			WithSuggestion("Retry later or raise documents.queue_size")
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for job := range p.jobs {
		p.run(job)
	}
}

func (p *Pool) run(job Job) {
	p.stats.started()
	start := time.Now()

	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.JobTimeout)
	defer cancel()

	err := safeRun(ctx, job)
	p.stats.finished(err)
	if err != nil {
		attrs := append([]any{
			slog.String("job", job.Name),
			slog.Duration("took", time.Since(start)),
		}, kberrors.LogAttrs(err)...)
		slog.Warn("background_job_failed", attrs...)
		return
	}
	slog.Debug("background_job_done",
		slog.String("job", job.Name),
		slog.Duration("took", time.Since(start)))
}

// safeRun converts a panic in a job into an error so one bad job cannot take
// a worker down.
func safeRun(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = kberrors.InternalError(fmt.Sprintf("job %s panicked: %v", job.Name, r), nil)
		}
	}()
	return job.Run(ctx)
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() StatsSnapshot {
	return p.stats.Snapshot()
}

// Close stops accepting jobs, runs everything already queued and waits for
// the workers to exit. It is safe to call more than once.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
	p.cancel()
	return nil
}
