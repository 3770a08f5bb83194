package jobx

import (
	"time"

	"github.com/Abraxas-365/recibo/pkg/retryx"
)

// WorkerOptions configures the worker pools and janitor of a Client.
type WorkerOptions struct {
	// Concurrency is the default number of workers per queue.
	Concurrency int

	// QueueConcurrency overrides Concurrency for individual queues.
	QueueConcurrency map[QueueName]int

	// PollInterval is how long an idle worker waits before polling again.
	PollInterval time.Duration

	// LeaseTimeout bounds how long a claimed job may stay active without an
	// outcome before the janitor returns it to waiting.
	LeaseTimeout time.Duration

	// ReclaimInterval is how often expired leases are reclaimed.
	ReclaimInterval time.Duration

	// Retention is how long terminal jobs are kept before pruning.
	Retention time.Duration

	// PruneInterval is how often terminal jobs are pruned.
	PruneInterval time.Duration

	// ShutdownTimeout bounds the graceful drain on Stop.
	ShutdownTimeout time.Duration

	// Backoff computes the delay before a failed job becomes eligible again.
	Backoff retryx.Policy

	// ResetAttemptsOnManualRetry restarts the attempt counter when an
	// operator retries a dead job. Off by default: manual retries keep
	// counting against the original budget.
	ResetAttemptsOnManualRetry bool
}

func defaultWorkerOptions() WorkerOptions {
	return WorkerOptions{
		Concurrency:      4,
		QueueConcurrency: make(map[QueueName]int),
		PollInterval:     time.Second,
		LeaseTimeout:     5 * time.Minute,
		ReclaimInterval:  30 * time.Second,
		Retention:        7 * 24 * time.Hour,
		PruneInterval:    time.Hour,
		ShutdownTimeout:  30 * time.Second,
		Backoff: retryx.Policy{
			RetryDelay:        30 * time.Second,
			BackoffMultiplier: 2,
			MaxDelay:          15 * time.Minute,
		},
	}
}

// WorkerOption is a functional option for configuring the client.
type WorkerOption func(*WorkerOptions)

// WithConcurrency sets the default number of workers per queue.
func WithConcurrency(n int) WorkerOption {
	return func(o *WorkerOptions) {
		if n > 0 {
			o.Concurrency = n
		}
	}
}

// WithQueueConcurrency sets the worker count of one queue.
func WithQueueConcurrency(queue QueueName, n int) WorkerOption {
	return func(o *WorkerOptions) {
		if n > 0 {
			o.QueueConcurrency[queue] = n
		}
	}
}

// WithPollInterval sets the idle polling interval.
func WithPollInterval(d time.Duration) WorkerOption {
	return func(o *WorkerOptions) {
		if d > 0 {
			o.PollInterval = d
		}
	}
}

// WithLeaseTimeout sets how long a claimed job may run unreported.
func WithLeaseTimeout(d time.Duration) WorkerOption {
	return func(o *WorkerOptions) {
		if d > 0 {
			o.LeaseTimeout = d
		}
	}
}

// WithReclaimInterval sets how often expired leases are swept.
func WithReclaimInterval(d time.Duration) WorkerOption {
	return func(o *WorkerOptions) {
		if d > 0 {
			o.ReclaimInterval = d
		}
	}
}

// WithRetention sets how long terminal jobs are kept.
func WithRetention(d time.Duration) WorkerOption {
	return func(o *WorkerOptions) {
		if d > 0 {
			o.Retention = d
		}
	}
}

// WithShutdownTimeout bounds the graceful drain.
func WithShutdownTimeout(d time.Duration) WorkerOption {
	return func(o *WorkerOptions) {
		if d > 0 {
			o.ShutdownTimeout = d
		}
	}
}

// WithBackoff sets the retry backoff policy for failed jobs.
func WithBackoff(p retryx.Policy) WorkerOption {
	return func(o *WorkerOptions) {
		o.Backoff = p
	}
}

// WithResetAttemptsOnManualRetry makes manual retries restart the attempt
// counter instead of counting against the original budget.
func WithResetAttemptsOnManualRetry() WorkerOption {
	return func(o *WorkerOptions) {
		o.ResetAttemptsOnManualRetry = true
	}
}

// EnqueueOptions carries the per-job overrides accepted at enqueue time.
type EnqueueOptions struct {
	Priority    int
	MaxAttempts int
}

// EnqueueOption is a functional option for Enqueue.
type EnqueueOption func(*EnqueueOptions)

// WithPriority sets the job priority; higher runs first.
func WithPriority(p int) EnqueueOption {
	return func(o *EnqueueOptions) {
		o.Priority = p
	}
}

// WithMaxAttempts overrides the queue's default attempt budget.
func WithMaxAttempts(n int) EnqueueOption {
	return func(o *EnqueueOptions) {
		if n > 0 {
			o.MaxAttempts = n
		}
	}
}
