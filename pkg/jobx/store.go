package jobx

import (
	"context"
	"encoding/json"
	"time"
)

// Store is the durable backend of the task queue. Implementations must make
// every state transition a single atomic conditional write: two concurrent
// Claim calls racing on the same waiting job may never both succeed, and a
// Complete or Fail on a job that is no longer active must be rejected.
type Store interface {
	// Create persists a new job in waiting state.
	Create(ctx context.Context, job *Job) error

	// Get returns a job by id, or ErrJobNotFound.
	Get(ctx context.Context, id string) (*Job, error)

	// Claim atomically transitions the most eligible waiting job of the
	// queue (highest priority, then oldest, with next_eligible_at <= now)
	// to active, increments its attempt counter and sets a lease expiring
	// after leaseFor. Returns (nil, nil) when no job is eligible.
	Claim(ctx context.Context, queue QueueName, now time.Time, leaseFor time.Duration) (*Job, error)

	// Complete transitions an active job to completed and records its result.
	Complete(ctx context.Context, id string, result json.RawMessage, now time.Time) error

	// Fail records a failure on an active job. With a non-nil retryAt the
	// job returns to waiting, eligible again at retryAt; with nil it moves
	// to the terminal failed state.
	Fail(ctx context.Context, id string, reason string, retryAt *time.Time, now time.Time) error

	// RequeueManual returns a terminal failed job to waiting, immediately
	// eligible. When resetAttempts is true the attempt counter restarts at
	// zero; otherwise it keeps counting against the original budget.
	// Returns ErrNotRetryable when the job is not in failed state.
	RequeueManual(ctx context.Context, id string, resetAttempts bool, now time.Time) error

	// Stats returns per-state counts for a queue, including jobs already
	// pruned (their terminal outcome is folded into aggregate counters).
	Stats(ctx context.Context, queue QueueName) (Stats, error)

	// ReclaimExpired returns every active job whose lease has expired to
	// waiting, so work claimed by a crashed worker is not stranded.
	ReclaimExpired(ctx context.Context, now time.Time) (int, error)

	// PruneFinished removes terminal jobs finished before cutoff while
	// folding their outcome into the aggregate counters.
	PruneFinished(ctx context.Context, cutoff time.Time) (int, error)
}
