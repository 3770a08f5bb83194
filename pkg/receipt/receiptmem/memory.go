// Package receiptmem is an in-memory receipt store for tests.
package receiptmem

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Abraxas-365/recibo/pkg/kernel"
	"github.com/Abraxas-365/recibo/pkg/receipt"
)

// MemoryStore implements receipt.Store behind one mutex.
type MemoryStore struct {
	mu       sync.Mutex
	receipts map[string]*receipt.Receipt
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{receipts: make(map[string]*receipt.Receipt)}
}

func (s *MemoryStore) Create(_ context.Context, r *receipt.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.receipts[r.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*receipt.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.receipts[id]
	if !ok {
		return nil, receipt.NotFound(id)
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) Update(_ context.Context, r *receipt.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.receipts[r.ID]; !ok {
		return receipt.NotFound(r.ID)
	}
	cp := *r
	s.receipts[r.ID] = &cp
	return nil
}

func (s *MemoryStore) ListByTenantBetween(_ context.Context, tenant kernel.TenantID, from, to time.Time) ([]*receipt.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*receipt.Receipt
	for _, r := range s.receipts {
		if r.TenantID != tenant {
			continue
		}
		if r.CreatedAt.Before(from) || !r.CreatedAt.Before(to) {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

var _ receipt.Store = (*MemoryStore)(nil)
