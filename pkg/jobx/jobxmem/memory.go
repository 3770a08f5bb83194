// Package jobxmem provides an in-memory jobx.Store used by tests and local
// development. It honors the same conditional-transition contract as the
// durable backends: every mutation checks the expected prior state under
// one lock, so racing claims behave like the SQL compare-and-set.
package jobxmem

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/Abraxas-365/recibo/pkg/jobx"
)

type counters struct {
	completed int
	failed    int
}

// MemoryStore implements jobx.Store with a mutex-protected map.
type MemoryStore struct {
	mu     sync.Mutex
	jobs   map[string]*jobx.Job
	pruned map[jobx.QueueName]*counters
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:   make(map[string]*jobx.Job),
		pruned: make(map[jobx.QueueName]*counters),
	}
}

func (s *MemoryStore) Create(_ context.Context, job *jobx.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *job
	s.jobs[job.ID] = &clone
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*jobx.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, jobx.NotFound(id)
	}
	clone := *job
	return &clone, nil
}

func (s *MemoryStore) Claim(_ context.Context, queue jobx.QueueName, now time.Time, leaseFor time.Duration) (*jobx.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *jobx.Job
	for _, job := range s.jobs {
		if job.Queue != queue || job.State != jobx.StateWaiting || job.NextEligibleAt.After(now) {
			continue
		}
		if best == nil ||
			job.Priority > best.Priority ||
			(job.Priority == best.Priority && job.CreatedAt.Before(best.CreatedAt)) {
			best = job
		}
	}
	if best == nil {
		return nil, nil
	}

	best.State = jobx.StateActive
	best.Attempts++
	processed := now
	best.ProcessedAt = &processed
	lease := now.Add(leaseFor)
	best.LeaseExpiresAt = &lease

	clone := *best
	return &clone, nil
}

func (s *MemoryStore) Complete(_ context.Context, id string, result json.RawMessage, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return jobx.NotFound(id)
	}
	if job.State != jobx.StateActive {
		return jobx.NotActive(id, job.State)
	}

	job.State = jobx.StateCompleted
	job.Result = result
	job.FinishedAt = &now
	job.LeaseExpiresAt = nil
	return nil
}

func (s *MemoryStore) Fail(_ context.Context, id string, reason string, retryAt *time.Time, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return jobx.NotFound(id)
	}
	if job.State != jobx.StateActive {
		return jobx.NotActive(id, job.State)
	}

	job.FailureReason = reason
	job.LeaseExpiresAt = nil
	if retryAt != nil {
		job.State = jobx.StateWaiting
		job.NextEligibleAt = *retryAt
	} else {
		job.State = jobx.StateFailed
		job.FinishedAt = &now
	}
	return nil
}

func (s *MemoryStore) RequeueManual(_ context.Context, id string, resetAttempts bool, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return jobx.NotFound(id)
	}
	if job.State != jobx.StateFailed {
		return jobx.NotRetryable(id, job.State)
	}

	job.State = jobx.StateWaiting
	job.NextEligibleAt = now
	job.FinishedAt = nil
	if resetAttempts {
		job.Attempts = 0
	}
	return nil
}

func (s *MemoryStore) Stats(_ context.Context, queue jobx.QueueName) (jobx.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := jobx.Stats{Queue: queue}
	for _, job := range s.jobs {
		if job.Queue != queue {
			continue
		}
		switch job.State {
		case jobx.StateWaiting:
			stats.Waiting++
		case jobx.StateActive:
			stats.Active++
		case jobx.StateCompleted:
			stats.Completed++
		case jobx.StateFailed:
			stats.Failed++
		}
	}
	if c, ok := s.pruned[queue]; ok {
		stats.Completed += c.completed
		stats.Failed += c.failed
	}
	return stats, nil
}

func (s *MemoryStore) ReclaimExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, job := range s.jobs {
		if job.State != jobx.StateActive || job.LeaseExpiresAt == nil || !job.LeaseExpiresAt.Before(now) {
			continue
		}
		job.LeaseExpiresAt = nil
		// The claim already consumed an attempt; a job out of budget
		// dead-letters instead of going back on the queue.
		if job.Attempts >= job.MaxAttempts {
			job.State = jobx.StateFailed
			job.FailureReason = jobx.LeaseExpiredReason
			finished := now
			job.FinishedAt = &finished
		} else {
			job.State = jobx.StateWaiting
			job.NextEligibleAt = now
		}
		n++
	}
	return n, nil
}

func (s *MemoryStore) PruneFinished(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, job := range s.jobs {
		if !job.Finished() || job.FinishedAt == nil || !job.FinishedAt.Before(cutoff) {
			continue
		}
		c, ok := s.pruned[job.Queue]
		if !ok {
			c = &counters{}
			s.pruned[job.Queue] = c
		}
		if job.State == jobx.StateCompleted {
			c.completed++
		} else {
			c.failed++
		}
		delete(s.jobs, id)
		n++
	}
	return n, nil
}
