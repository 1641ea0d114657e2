package users

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type mockActivity struct {
	byUser map[string]Activity
	err    error
}

func (m *mockActivity) UserActivity(_ context.Context, userID string) (Activity, error) {
	if m.err != nil {
		return Activity{}, m.err
	}
	return m.byUser[userID], nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ---------------------------------------------------------------------------
// RiskScore
// ---------------------------------------------------------------------------

func TestRiskScore(t *testing.T) {
	tests := []struct {
		name string
		act  Activity
		want float64
	}{
		{"no activity", Activity{}, 0},
		{"clean history", Activity{Count: 10}, 0},
		{"all fraud and flagged", Activity{Count: 4, FraudCount: 4, FlaggedCount: 4}, 100},
		{"half fraud", Activity{Count: 10, FraudCount: 5}, 35},
		{"some flagged", Activity{Count: 3, FlaggedCount: 1}, 10},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, RiskScore(tc.act), 0.001)
		})
	}
}

// ---------------------------------------------------------------------------
// Service
// ---------------------------------------------------------------------------

func TestService_CreateClampsRisk(t *testing.T) {
	svc := NewService(NewMemoryStore(), nil, quietLogger())
	risk := 150.0
	u, err := svc.Create(context.Background(), CreateRequest{ID: "u1", RiskScore: &risk})
	require.NoError(t, err)
	assert.Equal(t, 100.0, u.RiskScore)

	_, err = svc.Create(context.Background(), CreateRequest{ID: "u1"})
	assert.ErrorIs(t, err, ErrUserExists)
}

func TestService_RecalculateRisk(t *testing.T) {
	store := NewMemoryStore()
	act := &mockActivity{byUser: map[string]Activity{
		"u1": {Count: 10, FraudCount: 2, FlaggedCount: 5, AvgAmount: decimal.RequireFromString("42.50")},
	}}
	svc := NewService(store, act, quietLogger())
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateRequest{ID: "u1"})
	require.NoError(t, err)

	u, err := svc.RecalculateRisk(ctx, "u1")
	require.NoError(t, err)
	assert.InDelta(t, 29.0, u.RiskScore, 0.001) // 0.2*70 + 0.5*30
	assert.Equal(t, 10, u.TransactionCount)
	assert.True(t, u.AvgAmount.Equal(decimal.RequireFromString("42.50")))

	stored, _ := store.Get(ctx, "u1")
	assert.InDelta(t, 29.0, stored.RiskScore, 0.001)
}

func TestService_RecalculateRisk_NoActivityKeepsScore(t *testing.T) {
	svc := NewService(NewMemoryStore(), &mockActivity{byUser: map[string]Activity{}}, quietLogger())
	ctx := context.Background()
	risk := 55.0
	_, err := svc.Create(ctx, CreateRequest{ID: "u1", RiskScore: &risk})
	require.NoError(t, err)

	u, err := svc.RecalculateRisk(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 55.0, u.RiskScore)
}

func TestService_RecalculateRisk_Errors(t *testing.T) {
	ctx := context.Background()

	svc := NewService(NewMemoryStore(), &mockActivity{}, quietLogger())
	_, err := svc.RecalculateRisk(ctx, "missing")
	assert.ErrorIs(t, err, ErrUserNotFound)

	boom := errors.New("db down")
	svc = NewService(NewMemoryStore(), &mockActivity{err: boom}, quietLogger())
	_, _ = svc.Create(ctx, CreateRequest{ID: "u1"})
	_, err = svc.RecalculateRisk(ctx, "u1")
	assert.ErrorIs(t, err, boom)
}

func TestService_RecalculateAll(t *testing.T) {
	act := &mockActivity{byUser: map[string]Activity{
		"u1": {Count: 2, FraudCount: 2},
		"u2": {Count: 1},
	}}
	svc := NewService(NewMemoryStore(), act, quietLogger())
	ctx := context.Background()
	for _, id := range []string{"u1", "u2", "u3"} {
		_, err := svc.Create(ctx, CreateRequest{ID: id})
		require.NoError(t, err)
	}

	n, err := svc.RecalculateAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	u1, _ := svc.Get(ctx, "u1")
	assert.InDelta(t, 70.0, u1.RiskScore, 0.001)
}

func TestService_RecalculateAll_WalksEveryPage(t *testing.T) {
	act := &mockActivity{byUser: map[string]Activity{}}
	ids := []string{"u1", "u2", "u3", "u4", "u5"}
	for _, id := range ids {
		act.byUser[id] = Activity{Count: 1, FraudCount: 1}
	}
	svc := NewService(NewMemoryStore(), act, quietLogger())
	svc.pageSize = 2
	ctx := context.Background()
	for _, id := range ids {
		_, err := svc.Create(ctx, CreateRequest{ID: id})
		require.NoError(t, err)
	}

	n, err := svc.RecalculateAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(ids), n)

	for _, id := range ids {
		u, err := svc.Get(ctx, id)
		require.NoError(t, err)
		assert.InDelta(t, 70.0, u.RiskScore, 0.001, id)
	}
}

func TestRecalculator_RunOnce(t *testing.T) {
	act := &mockActivity{byUser: map[string]Activity{"u1": {Count: 1, FlaggedCount: 1}}}
	svc := NewService(NewMemoryStore(), act, quietLogger())
	ctx := context.Background()
	_, _ = svc.Create(ctx, CreateRequest{ID: "u1"})

	r := NewRecalculator(svc, 0, quietLogger())
	assert.Equal(t, 15*time.Minute, r.interval)
	r.RunOnce(ctx)

	u, _ := svc.Get(ctx, "u1")
	assert.InDelta(t, 30.0, u.RiskScore, 0.001)

	// Start returns once the context is cancelled.
	cctx, cancel := context.WithCancel(ctx)
	cancel()
	r.Start(cctx)
}

// ---------------------------------------------------------------------------
// MemoryStore
// ---------------------------------------------------------------------------

func TestMemoryStore_ListAfterID(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	for _, id := range []string{"c", "a", "d", "b"} {
		require.NoError(t, store.Create(ctx, &User{ID: id}))
	}

	first, err := store.List(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "a", first[0].ID)
	assert.Equal(t, "b", first[1].ID)

	rest, err := store.List(ctx, "b", 10)
	require.NoError(t, err)
	require.Len(t, rest, 2)
	assert.Equal(t, "c", rest[0].ID)
	assert.Equal(t, "d", rest[1].ID)

	none, err := store.List(ctx, "d", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryStore_UpdateMissing(t *testing.T) {
	s := NewMemoryStore()
	assert.ErrorIs(t, s.Update(context.Background(), &User{ID: "nope"}), ErrUserNotFound)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, &User{ID: "u1", RiskScore: 10}))

	u, _ := s.Get(ctx, "u1")
	u.RiskScore = 99
	again, _ := s.Get(ctx, "u1")
	assert.Equal(t, 10.0, again.RiskScore)
}
