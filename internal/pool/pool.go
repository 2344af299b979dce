package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/passbuild/passbuild/internal/domain"
	"github.com/passbuild/passbuild/internal/metrics"
	"github.com/passbuild/passbuild/internal/usecase"
)

// JobMessage carries a build job and the callback told about its result.
type JobMessage struct {
	Job  *usecase.BuildJob
	Done func(report *domain.RunReport, err error)
}

// Executor runs a build job. *usecase.BuildSubmissionUsecase implements it.
type Executor interface {
	Execute(ctx context.Context, job *usecase.BuildJob) (*domain.RunReport, error)
}

// WorkerPool manages a fixed-size pool of goroutines that build jobs.
type WorkerPool struct {
	size     int
	jobs     <-chan *JobMessage
	executor Executor
	logger   *zap.Logger
	wg       sync.WaitGroup
}

// NewWorkerPool creates a new fixed-size worker pool.
func NewWorkerPool(size int, jobs <-chan *JobMessage, executor Executor, logger *zap.Logger) *WorkerPool {
	return &WorkerPool{
		size:     size,
		jobs:     jobs,
		executor: executor,
		logger:   logger,
	}
}

// Start launches all worker goroutines. Call Stop to wait for them to finish.
func (p *WorkerPool) Start(ctx context.Context) {
	p.logger.Info("Starting worker pool", zap.Int("pool_size", p.size))

	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Stop waits for all workers to finish their current jobs and exit.
func (p *WorkerPool) Stop() {
	p.wg.Wait()
	p.logger.Info("Worker pool stopped")
}

func (p *WorkerPool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	p.logger.Debug("Worker started", zap.Int("worker_id", id))

	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("Worker shutting down", zap.Int("worker_id", id))
			return
		case msg, ok := <-p.jobs:
			if !ok {
				p.logger.Debug("Job channel closed", zap.Int("worker_id", id))
				return
			}
			p.process(ctx, id, msg)
		}
	}
}

// process builds one job. A panicking build is reported to Done as an error
// and the worker keeps going.
func (p *WorkerPool) process(ctx context.Context, id int, msg *JobMessage) {
	job := msg.Job
	var (
		report *domain.RunReport
		err    error
	)

	metrics.WorkersActive.Inc()
	start := time.Now()
	defer func() {
		metrics.WorkersActive.Dec()
		if r := recover(); r != nil {
			p.logger.Error("Worker panic recovered",
				zap.Int("worker_id", id),
				zap.String("session", job.Session),
				zap.Any("panic", r),
			)
			report, err = nil, fmt.Errorf("build panicked: %v", r)
		}
		if msg.Done != nil {
			msg.Done(report, err)
		}
	}()

	p.logger.Info("Worker processing job",
		zap.Int("worker_id", id),
		zap.String("session", job.Session),
		zap.String("assignment", job.Spec.Label),
	)

	report, err = p.executor.Execute(ctx, job)
	if err != nil {
		p.logger.Error("Job failed",
			zap.Int("worker_id", id),
			zap.String("session", job.Session),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
	}
}
