package jobx

import (
	"encoding/json"
	"time"
)

// QueueName identifies one of the processing queues.
type QueueName string

const (
	QueueOCR    QueueName = "ocr"
	QueueEmail  QueueName = "email"
	QueueExport QueueName = "export"
)

// Queues lists every known queue.
func Queues() []QueueName {
	return []QueueName{QueueOCR, QueueEmail, QueueExport}
}

// Valid reports whether q is a known queue name.
func (q QueueName) Valid() bool {
	switch q {
	case QueueOCR, QueueEmail, QueueExport:
		return true
	}
	return false
}

// DefaultMaxAttempts returns the per-queue attempt budget applied when the
// caller does not set one at enqueue time.
func (q QueueName) DefaultMaxAttempts() int {
	switch q {
	case QueueEmail:
		return 5
	case QueueExport:
		return 2
	default:
		return 3
	}
}

// JobState is the lifecycle state of a job. Transitions are monotonic:
// waiting -> active -> completed, or active -> waiting (retry) while the
// attempt budget lasts, or active -> failed once it is exhausted.
type JobState string

const (
	StateWaiting   JobState = "waiting"
	StateActive    JobState = "active"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
)

// LeaseExpiredReason is recorded when the janitor dead-letters a job whose
// lease expired on its final attempt.
const LeaseExpiredReason = "lease expired after final attempt"

// Job is one unit of queued work.
type Job struct {
	ID             string          `json:"id" db:"id"`
	Queue          QueueName       `json:"queue" db:"queue"`
	Payload        json.RawMessage `json:"payload" db:"payload"`
	Priority       int             `json:"priority" db:"priority"`
	State          JobState        `json:"state" db:"state"`
	Attempts       int             `json:"attempts" db:"attempts"`
	MaxAttempts    int             `json:"max_attempts" db:"max_attempts"`
	NextEligibleAt time.Time       `json:"next_eligible_at" db:"next_eligible_at"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	ProcessedAt    *time.Time      `json:"processed_at,omitempty" db:"processed_at"`
	FinishedAt     *time.Time      `json:"finished_at,omitempty" db:"finished_at"`
	LeaseExpiresAt *time.Time      `json:"lease_expires_at,omitempty" db:"lease_expires_at"`
	FailureReason  string          `json:"failure_reason,omitempty" db:"failure_reason"`
	Result         json.RawMessage `json:"result,omitempty" db:"result"`
}

// Finished reports whether the job reached a terminal state.
func (j *Job) Finished() bool {
	return j.State == StateCompleted || j.State == StateFailed
}

// Stats is the per-state job count of one queue. Completed and failed
// include jobs already pruned from the store.
type Stats struct {
	Queue     QueueName `json:"queue"`
	Waiting   int       `json:"waiting"`
	Active    int       `json:"active"`
	Completed int       `json:"completed"`
	Failed    int       `json:"failed"`
}
