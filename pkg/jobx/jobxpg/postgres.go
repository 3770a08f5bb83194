// Package jobxpg implements jobx.Store on PostgreSQL. Claims and state
// transitions are single conditional statements, so concurrent workers on
// different connections can never double-claim or double-finish a job.
package jobxpg

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/Abraxas-365/recibo/pkg/errx"
	"github.com/Abraxas-365/recibo/pkg/jobx"
	"github.com/jmoiron/sqlx"
)

// PostgresStore is the PostgreSQL-backed job store.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore creates a store on an existing connection pool.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, job *jobx.Job) error {
	query := `
		INSERT INTO jobs (
			id, queue, payload, priority, state, attempts, max_attempts,
			next_eligible_at, created_at
		) VALUES (
			:id, :queue, :payload, :priority, :state, :attempts, :max_attempts,
			:next_eligible_at, :created_at
		)`

	if _, err := s.db.NamedExecContext(ctx, query, job); err != nil {
		return errx.Wrap(err, "failed to insert job", errx.TypeInternal).
			WithDetail("queue", string(job.Queue))
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*jobx.Job, error) {
	var job jobx.Job
	err := s.db.GetContext(ctx, &job, `SELECT * FROM jobs WHERE id = $1`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, jobx.NotFound(id)
		}
		return nil, errx.Wrap(err, "failed to load job", errx.TypeInternal).
			WithDetail("job_id", id)
	}
	return &job, nil
}

// Claim picks the most eligible waiting job and flips it to active in one
// statement. FOR UPDATE SKIP LOCKED keeps racing workers off the same row;
// the outer state guard makes the transition a compare-and-set.
func (s *PostgresStore) Claim(ctx context.Context, queue jobx.QueueName, now time.Time, leaseFor time.Duration) (*jobx.Job, error) {
	query := `
		UPDATE jobs SET
			state = 'active',
			attempts = attempts + 1,
			processed_at = $2,
			lease_expires_at = $3
		WHERE id = (
			SELECT id FROM jobs
			WHERE queue = $1 AND state = 'waiting' AND next_eligible_at <= $2
			ORDER BY priority DESC, created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		) AND state = 'waiting'
		RETURNING *`

	var job jobx.Job
	err := s.db.GetContext(ctx, &job, query, queue, now, now.Add(leaseFor))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errx.Wrap(err, "failed to claim job", errx.TypeInternal).
			WithDetail("queue", string(queue))
	}
	return &job, nil
}

func (s *PostgresStore) Complete(ctx context.Context, id string, result json.RawMessage, now time.Time) error {
	query := `
		UPDATE jobs SET
			state = 'completed',
			result = $2,
			finished_at = $3,
			lease_expires_at = NULL
		WHERE id = $1 AND state = 'active'`

	return s.conditionalTransition(ctx, id, query, id, result, now)
}

func (s *PostgresStore) Fail(ctx context.Context, id string, reason string, retryAt *time.Time, now time.Time) error {
	if retryAt != nil {
		query := `
			UPDATE jobs SET
				state = 'waiting',
				failure_reason = $2,
				next_eligible_at = $3,
				lease_expires_at = NULL
			WHERE id = $1 AND state = 'active'`
		return s.conditionalTransition(ctx, id, query, id, reason, *retryAt)
	}

	query := `
		UPDATE jobs SET
			state = 'failed',
			failure_reason = $2,
			finished_at = $3,
			lease_expires_at = NULL
		WHERE id = $1 AND state = 'active'`
	return s.conditionalTransition(ctx, id, query, id, reason, now)
}

func (s *PostgresStore) RequeueManual(ctx context.Context, id string, resetAttempts bool, now time.Time) error {
	query := `
		UPDATE jobs SET
			state = 'waiting',
			next_eligible_at = $2,
			finished_at = NULL,
			attempts = CASE WHEN $3 THEN 0 ELSE attempts END
		WHERE id = $1 AND state = 'failed'`

	res, err := s.db.ExecContext(ctx, query, id, now, resetAttempts)
	if err != nil {
		return errx.Wrap(err, "failed to requeue job", errx.TypeInternal).
			WithDetail("job_id", id)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errx.Wrap(err, "failed to read rows affected", errx.TypeInternal)
	}
	if affected == 0 {
		// Distinguish "not there" from "not failed" for the HTTP layer.
		job, getErr := s.Get(ctx, id)
		if getErr != nil {
			return getErr
		}
		return jobx.NotRetryable(id, job.State)
	}
	return nil
}

func (s *PostgresStore) Stats(ctx context.Context, queue jobx.QueueName) (jobx.Stats, error) {
	stats := jobx.Stats{Queue: queue}

	rows := []struct {
		State string `db:"state"`
		Count int    `db:"count"`
	}{}
	err := s.db.SelectContext(ctx, &rows,
		`SELECT state, COUNT(*) AS count FROM jobs WHERE queue = $1 GROUP BY state`, queue)
	if err != nil {
		return stats, errx.Wrap(err, "failed to count jobs", errx.TypeInternal).
			WithDetail("queue", string(queue))
	}
	for _, r := range rows {
		switch jobx.JobState(r.State) {
		case jobx.StateWaiting:
			stats.Waiting = r.Count
		case jobx.StateActive:
			stats.Active = r.Count
		case jobx.StateCompleted:
			stats.Completed = r.Count
		case jobx.StateFailed:
			stats.Failed = r.Count
		}
	}

	// Fold in the outcomes of jobs already pruned.
	var pruned struct {
		Completed int `db:"completed"`
		Failed    int `db:"failed"`
	}
	err = s.db.GetContext(ctx, &pruned,
		`SELECT completed, failed FROM job_counters WHERE queue = $1`, queue)
	if err != nil && err != sql.ErrNoRows {
		return stats, errx.Wrap(err, "failed to load job counters", errx.TypeInternal).
			WithDetail("queue", string(queue))
	}
	stats.Completed += pruned.Completed
	stats.Failed += pruned.Failed

	return stats, nil
}

// ReclaimExpired returns stranded jobs to the queue. The claim already
// consumed an attempt, so a job out of budget dead-letters instead of
// being claimed again past its max_attempts.
func (s *PostgresStore) ReclaimExpired(ctx context.Context, now time.Time) (int, error) {
	query := `
		UPDATE jobs SET
			state = CASE WHEN attempts >= max_attempts THEN 'failed' ELSE 'waiting' END,
			failure_reason = CASE WHEN attempts >= max_attempts THEN $2 ELSE failure_reason END,
			finished_at = CASE WHEN attempts >= max_attempts THEN $1 ELSE finished_at END,
			next_eligible_at = $1,
			lease_expires_at = NULL
		WHERE state = 'active' AND lease_expires_at < $1`

	res, err := s.db.ExecContext(ctx, query, now, jobx.LeaseExpiredReason)
	if err != nil {
		return 0, errx.Wrap(err, "failed to reclaim expired leases", errx.TypeInternal)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, errx.Wrap(err, "failed to read rows affected", errx.TypeInternal)
	}
	return int(affected), nil
}

// PruneFinished deletes old terminal jobs and folds their outcome into
// job_counters so stats keep reporting lifetime totals.
func (s *PostgresStore) PruneFinished(ctx context.Context, cutoff time.Time) (int, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, errx.Wrap(err, "failed to begin prune transaction", errx.TypeInternal)
	}
	defer tx.Rollback()

	pruned := []struct {
		Queue     string `db:"queue"`
		Completed int    `db:"completed"`
		Failed    int    `db:"failed"`
	}{}
	deleteQuery := `
		WITH pruned AS (
			DELETE FROM jobs
			WHERE state IN ('completed', 'failed') AND finished_at < $1
			RETURNING queue, state
		)
		SELECT queue,
		       COUNT(*) FILTER (WHERE state = 'completed') AS completed,
		       COUNT(*) FILTER (WHERE state = 'failed') AS failed
		FROM pruned
		GROUP BY queue`
	if err := tx.SelectContext(ctx, &pruned, deleteQuery, cutoff); err != nil {
		return 0, errx.Wrap(err, "failed to prune jobs", errx.TypeInternal)
	}

	upsert := `
		INSERT INTO job_counters (queue, completed, failed)
		VALUES ($1, $2, $3)
		ON CONFLICT (queue) DO UPDATE SET
			completed = job_counters.completed + EXCLUDED.completed,
			failed = job_counters.failed + EXCLUDED.failed`

	n := 0
	for _, p := range pruned {
		if _, err := tx.ExecContext(ctx, upsert, p.Queue, p.Completed, p.Failed); err != nil {
			return 0, errx.Wrap(err, "failed to update job counters", errx.TypeInternal).
				WithDetail("queue", p.Queue)
		}
		n += p.Completed + p.Failed
	}

	if err := tx.Commit(); err != nil {
		return 0, errx.Wrap(err, "failed to commit prune", errx.TypeInternal)
	}
	return n, nil
}

func (s *PostgresStore) conditionalTransition(ctx context.Context, id, query string, args ...interface{}) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return errx.Wrap(err, "failed to transition job", errx.TypeInternal).
			WithDetail("job_id", id)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errx.Wrap(err, "failed to read rows affected", errx.TypeInternal)
	}
	if affected == 0 {
		job, getErr := s.Get(ctx, id)
		if getErr != nil {
			return getErr
		}
		return jobx.NotActive(id, job.State)
	}
	return nil
}
