package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/shopspring/decimal"
)

// Weights of the labelled-fraud and flagged fractions in the risk score.
const (
	fraudWeight   = 70.0
	flaggedWeight = 30.0
)

// recalcPageSize is how many users RecalculateAll loads per store query.
const recalcPageSize = 500

// Service provides user business logic.
type Service struct {
	store    Store
	activity ActivityProvider
	logger   *slog.Logger
	pageSize int
}

// NewService creates a new user service. activity may be nil, in which case
// risk recalculation is a no-op.
func NewService(store Store, activity ActivityProvider, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, activity: activity, logger: logger, pageSize: recalcPageSize}
}

// Store returns the underlying store.
func (s *Service) Store() Store { return s.store }

// Create registers a new user.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*User, error) {
	u := &User{
		ID:            req.ID,
		Email:         req.Email,
		HomeLatitude:  req.HomeLatitude,
		HomeLongitude: req.HomeLongitude,
		AvgAmount:     decimal.Zero,
	}
	if req.RiskScore != nil {
		u.RiskScore = clampRisk(*req.RiskScore)
	}
	if err := s.store.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Get returns a user by ID.
func (s *Service) Get(ctx context.Context, id string) (*User, error) {
	return s.store.Get(ctx, id)
}

// RecalculateRisk refreshes a user's activity summary and risk score from
// their recorded transactions. A user without transactions keeps the
// existing score.
func (s *Service) RecalculateRisk(ctx context.Context, id string) (*User, error) {
	u, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.activity == nil {
		return u, nil
	}

	act, err := s.activity.UserActivity(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load activity for %s: %w", id, err)
	}

	u.TransactionCount = act.Count
	u.AvgAmount = act.AvgAmount
	if act.Count > 0 {
		u.RiskScore = RiskScore(act)
	}
	if err := s.store.Update(ctx, u); err != nil {
		return nil, fmt.Errorf("update user %s: %w", id, err)
	}
	return u, nil
}

// RecalculateAll recalculates every user and returns how many were updated.
// Users are walked in ID order one page at a time.
func (s *Service) RecalculateAll(ctx context.Context) (int, error) {
	updated := 0
	afterID := ""
	for {
		page, err := s.store.List(ctx, afterID, s.pageSize)
		if err != nil {
			return updated, fmt.Errorf("list users: %w", err)
		}

		for _, u := range page {
			if ctx.Err() != nil {
				return updated, ctx.Err()
			}
			if _, err := s.RecalculateRisk(ctx, u.ID); err != nil {
				if errors.Is(err, ErrUserNotFound) {
					continue
				}
				s.logger.Warn("risk recalculation failed", "user_id", u.ID, "error", err)
				continue
			}
			updated++
		}

		if len(page) < s.pageSize {
			return updated, nil
		}
		afterID = page[len(page)-1].ID
	}
}

// RiskScore derives a 0-100 score from the fraction of transactions labelled
// fraudulent and the fraction the scorer flagged.
func RiskScore(act Activity) float64 {
	if act.Count <= 0 {
		return 0
	}
	n := float64(act.Count)
	score := float64(act.FraudCount)/n*fraudWeight + float64(act.FlaggedCount)/n*flaggedWeight
	return clampRisk(math.Round(score*100) / 100)
}

func clampRisk(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}
