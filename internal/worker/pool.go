package worker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/codedeck/execbox/internal/domain"
)

// ReportFunc receives every finished job's result, typically to acknowledge
// the queue entry and broadcast the result.
type ReportFunc func(ctx context.Context, job domain.Job, result domain.ExecutionResult)

// Pool is a fixed-size worker pool. Its size is the only throttle on how
// many executions hit the shared containers concurrently.
type Pool struct {
	workerCount int
	tasksCh     chan domain.Job
	wg          sync.WaitGroup
	runner      domain.CodeRunner
	report      ReportFunc
}

// NewPool builds a pool with a fixed concurrency limit. report may be nil
// when every job carries its own ResultCh.
func NewPool(concurrency int, runner domain.CodeRunner, report ReportFunc) *Pool {
	return &Pool{
		workerCount: concurrency,
		// Buffered so submission doesn't block until the pool saturates.
		tasksCh: make(chan domain.Job, concurrency),
		runner:  runner,
		report:  report,
	}
}

// Start spawns the worker goroutines and returns immediately.
func (p *Pool) Start() {
	slog.Info("Starting worker pool", "concurrency", p.workerCount)
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop drains the queue: it closes the task channel, lets every worker
// finish its current job and blocks until all have exited.
func (p *Pool) Stop() {
	slog.Info("Stopping worker pool, draining tasks...")
	close(p.tasksCh)
	p.wg.Wait()
	slog.Info("Worker pool stopped")
}

// Submit enqueues a job, blocking while the pool is saturated.
func (p *Pool) Submit(job domain.Job) {
	p.tasksCh <- job
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	slog.Info("Worker started", "workerID", id)

	for job := range p.tasksCh {
		slog.Debug("Processing job", "workerID", id, "jobID", job.ID)

		// Each job gets an independent context; the coordinator enforces
		// the wall-clock budget itself.
		ctx := context.Background()
		result := p.runner.Execute(ctx, job.Request)

		jr := domain.JobResult{JobID: job.ID, Result: result}
		if job.ResultCh != nil {
			job.ResultCh <- jr
		}
		if p.report != nil {
			p.report(ctx, job, result)
		}
	}

	slog.Info("Worker stopped", "workerID", id)
}
