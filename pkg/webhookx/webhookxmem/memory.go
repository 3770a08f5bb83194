// Package webhookxmem provides in-memory webhookx stores for tests and
// single-process development runs.
package webhookxmem

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Abraxas-365/recibo/pkg/kernel"
	"github.com/Abraxas-365/recibo/pkg/webhookx"
)

// SubscriptionStore keeps subscriptions in a map guarded by one mutex.
type SubscriptionStore struct {
	mu   sync.Mutex
	subs map[string]*webhookx.Subscription
}

func NewSubscriptionStore() *SubscriptionStore {
	return &SubscriptionStore{subs: make(map[string]*webhookx.Subscription)}
}

func (s *SubscriptionStore) Create(_ context.Context, sub *webhookx.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sub
	s.subs[sub.ID] = &cp
	return nil
}

func (s *SubscriptionStore) Get(_ context.Context, id string) (*webhookx.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if !ok || sub.DeletedAt != nil {
		return nil, webhookx.SubscriptionNotFound(id)
	}
	cp := *sub
	return &cp, nil
}

func (s *SubscriptionStore) Update(_ context.Context, sub *webhookx.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.subs[sub.ID]
	if !ok || existing.DeletedAt != nil {
		return webhookx.SubscriptionNotFound(sub.ID)
	}
	cp := *sub
	s.subs[sub.ID] = &cp
	return nil
}

func (s *SubscriptionStore) SoftDelete(_ context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if !ok || sub.DeletedAt != nil {
		return webhookx.SubscriptionNotFound(id)
	}
	sub.DeletedAt = &now
	return nil
}

func (s *SubscriptionStore) ListByOwner(_ context.Context, ownerID string, opts kernel.PaginationOptions) ([]*webhookx.Subscription, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*webhookx.Subscription
	for _, sub := range s.subs {
		if sub.DeletedAt == nil && sub.OwnerID == ownerID {
			cp := *sub
			matched = append(matched, &cp)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})

	total := len(matched)
	start := (opts.Page - 1) * opts.PageSize
	if start >= total {
		return nil, total, nil
	}
	end := start + opts.PageSize
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (s *SubscriptionStore) FindActiveByEventType(_ context.Context, eventType string) ([]*webhookx.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*webhookx.Subscription
	for _, sub := range s.subs {
		if sub.DeletedAt == nil && sub.Active && sub.SubscribesTo(eventType) {
			cp := *sub
			matched = append(matched, &cp)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	return matched, nil
}

// DeliveryStore keeps delivery attempts in a map guarded by one mutex.
type DeliveryStore struct {
	mu         sync.Mutex
	deliveries map[string]*webhookx.DeliveryAttempt
}

func NewDeliveryStore() *DeliveryStore {
	return &DeliveryStore{deliveries: make(map[string]*webhookx.DeliveryAttempt)}
}

func (s *DeliveryStore) Create(_ context.Context, attempt *webhookx.DeliveryAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *attempt
	s.deliveries[attempt.ID] = &cp
	return nil
}

func (s *DeliveryStore) Get(_ context.Context, id string) (*webhookx.DeliveryAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	attempt, ok := s.deliveries[id]
	if !ok {
		return nil, webhookx.DeliveryNotFound(id)
	}
	cp := *attempt
	return &cp, nil
}

func (s *DeliveryStore) Update(_ context.Context, attempt *webhookx.DeliveryAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.deliveries[attempt.ID]; !ok {
		return webhookx.DeliveryNotFound(attempt.ID)
	}
	cp := *attempt
	s.deliveries[attempt.ID] = &cp
	return nil
}

func (s *DeliveryStore) ClaimDue(_ context.Context, now time.Time, lease time.Duration, limit int) ([]*webhookx.DeliveryAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*webhookx.DeliveryAttempt
	for _, attempt := range s.deliveries {
		if attempt.Status == webhookx.DeliveryRetrying && !attempt.ScheduledAt.After(now) {
			due = append(due, attempt)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].ScheduledAt.Before(due[j].ScheduledAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]*webhookx.DeliveryAttempt, 0, len(due))
	for _, attempt := range due {
		attempt.ScheduledAt = now.Add(lease)
		cp := *attempt
		claimed = append(claimed, &cp)
	}
	return claimed, nil
}

func (s *DeliveryStore) ListByWebhook(_ context.Context, webhookID string, status webhookx.DeliveryStatus, opts kernel.PaginationOptions) ([]*webhookx.DeliveryAttempt, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*webhookx.DeliveryAttempt
	for _, attempt := range s.deliveries {
		if attempt.WebhookID != webhookID {
			continue
		}
		if status != "" && attempt.Status != status {
			continue
		}
		cp := *attempt
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	start := (opts.Page - 1) * opts.PageSize
	if start >= total {
		return nil, total, nil
	}
	end := start + opts.PageSize
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (s *DeliveryStore) PruneTerminal(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, attempt := range s.deliveries {
		if attempt.Terminal() && attempt.CompletedAt != nil && attempt.CompletedAt.Before(cutoff) {
			delete(s.deliveries, id)
			n++
		}
	}
	return n, nil
}

// Locker is a process-local lock table.
type Locker struct {
	mu    sync.Mutex
	locks map[string]time.Time
}

func NewLocker() *Locker {
	return &Locker{locks: make(map[string]time.Time)}
}

func (l *Locker) TryLock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if expires, ok := l.locks[key]; ok && time.Now().Before(expires) {
		return false, nil
	}
	l.locks[key] = time.Now().Add(ttl)
	return true, nil
}

func (l *Locker) Unlock(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.locks, key)
	return nil
}

var (
	_ webhookx.SubscriptionStore = (*SubscriptionStore)(nil)
	_ webhookx.DeliveryStore     = (*DeliveryStore)(nil)
	_ webhookx.Locker            = (*Locker)(nil)
)
