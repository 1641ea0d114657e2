// Package velocity counts a user's recent transactions over a sliding window.
//
// Two backends exist. StoreCounter asks the transaction store directly and
// needs no extra infrastructure. RedisCounter keeps one sorted set per user
// so the count survives restarts and is shared across replicas.
//
// Neither backend locks between counting and recording. Two transactions
// for the same user scored at the same instant may both see the pre-burst
// count.
package velocity

import (
	"context"
	"fmt"
	"time"
)

// SinceCounter is the slice of the transaction store StoreCounter needs.
type SinceCounter interface {
	CountSince(ctx context.Context, userID string, since time.Time) (int, error)
}

// StoreCounter counts recent transactions from the transaction store.
type StoreCounter struct {
	store SinceCounter
	now   func() time.Time
}

// NewStoreCounter creates a store-backed counter. A nil clock uses the wall
// clock in UTC.
func NewStoreCounter(store SinceCounter, now func() time.Time) *StoreCounter {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &StoreCounter{store: store, now: now}
}

// CountRecent returns how many of the user's transactions fall strictly
// inside the last window.
func (c *StoreCounter) CountRecent(ctx context.Context, userID string, window time.Duration) (int, error) {
	n, err := c.store.CountSince(ctx, userID, c.now().Add(-window))
	if err != nil {
		return 0, fmt.Errorf("count recent transactions: %w", err)
	}
	return n, nil
}
