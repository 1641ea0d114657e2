package transactions

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/fraudscore/internal/pagination"
)

// MemoryStore is an in-memory transaction store for demo/development mode.
type MemoryStore struct {
	mu     sync.RWMutex
	byID   map[string]*Transaction
	byUser map[string][]*Transaction
}

// NewMemoryStore creates an in-memory transaction store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]*Transaction),
		byUser: make(map[string][]*Transaction),
	}
}

func (s *MemoryStore) Record(ctx context.Context, tx *Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[tx.ID]; ok {
		return ErrTransactionExists
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now()
	}
	cp := *tx
	s.byID[tx.ID] = &cp
	s.byUser[tx.UserID] = append(s.byUser[tx.UserID], &cp)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.byID[id]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	cp := *tx
	return &cp, nil
}

func (s *MemoryStore) FindRecentByUser(ctx context.Context, userID string, limit int) ([]*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	src := s.byUser[userID]
	result := make([]*Transaction, 0, len(src))
	for _, tx := range src {
		cp := *tx
		result = append(result, &cp)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemoryStore) ListByUser(ctx context.Context, userID string, after *pagination.Cursor, limit int) ([]*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Transaction, 0)
	for _, tx := range s.byUser[userID] {
		if after.Before(tx.CreatedAt, tx.ID) {
			cp := *tx
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemoryStore) CountSince(ctx context.Context, userID string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, tx := range s.byUser[userID] {
		if tx.CreatedAt.After(since) {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) MarkFraud(ctx context.Context, id string, isFraud bool) (*Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.byID[id]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	tx.IsFraud = isFraud
	cp := *tx
	return &cp, nil
}

func (s *MemoryStore) UserStats(ctx context.Context, userID string) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st Stats
	total := decimal.Zero
	for _, tx := range s.byUser[userID] {
		st.Count++
		total = total.Add(tx.Amount)
		if tx.IsFraud {
			st.FraudCount++
		}
		if tx.Flagged() {
			st.FlaggedCount++
		}
	}
	st.AvgAmount = decimal.Zero
	if st.Count > 0 {
		st.AvgAmount = total.Div(decimal.NewFromInt(int64(st.Count))).Round(2)
	}
	return st, nil
}
