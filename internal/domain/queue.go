package domain

import "context"

// Job is one queued execution request.
type Job struct {
	ID      string           `json:"id"`
	Request ExecutionRequest `json:"request"`

	// RawID is the broker-internal message ID (e.g. a Redis Stream entry ID
	// like 1700000-0), needed to acknowledge the message later.
	RawID string `json:"-"`

	// ResultCh, when non-nil, receives the result directly. Queue-delivered
	// jobs leave it nil and rely on the broadcast channel instead.
	ResultCh chan<- JobResult `json:"-"`
}

// JobResult pairs a job ID with its execution result.
type JobResult struct {
	JobID  string          `json:"job_id"`
	Result ExecutionResult `json:"result"`
}

// JobQueue is the contract for a distributed job queue. It decouples the
// engine from the underlying broker.
type JobQueue interface {
	// Publish enqueues a job for processing.
	Publish(ctx context.Context, job Job) error

	// Subscribe returns a read-only channel streaming jobs from the queue.
	// Consumer-group bookkeeping is handled internally.
	Subscribe(ctx context.Context) (<-chan Job, error)

	// Acknowledge confirms a job was processed, removing it from the
	// pending entry list.
	Acknowledge(ctx context.Context, rawID string) error

	// Broadcast publishes an execution result to the results channel.
	Broadcast(ctx context.Context, result JobResult) error

	// SubscribeResults streams results published by all workers.
	SubscribeResults(ctx context.Context) (<-chan JobResult, error)
}
