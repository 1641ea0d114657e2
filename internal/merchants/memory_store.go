package merchants

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory merchant store for demo/development mode.
type MemoryStore struct {
	mu        sync.RWMutex
	merchants map[string]*Merchant
}

// NewMemoryStore creates an in-memory merchant store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{merchants: make(map[string]*Merchant)}
}

func (s *MemoryStore) Create(ctx context.Context, m *Merchant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.merchants[m.ID]; ok {
		return ErrMerchantExists
	}
	now := time.Now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	cp := *m
	s.merchants[m.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Merchant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.merchants[id]
	if !ok {
		return nil, ErrMerchantNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) List(ctx context.Context, limit int) ([]*Merchant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Merchant, 0, len(s.merchants))
	for _, m := range s.merchants {
		cp := *m
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
