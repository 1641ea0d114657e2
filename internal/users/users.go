// Package users stores the account holders whose transactions are scored and
// keeps their risk profile current.
package users

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("user already exists")
)

// User is an account holder. RiskScore, TransactionCount and AvgAmount are
// maintained by the Recalculator; scoring only reads them.
type User struct {
	ID               string          `json:"id"`
	Email            string          `json:"email,omitempty"`
	HomeLatitude     *float64        `json:"homeLatitude,omitempty"`
	HomeLongitude    *float64        `json:"homeLongitude,omitempty"`
	RiskScore        float64         `json:"riskScore"`
	TransactionCount int             `json:"transactionCount"`
	AvgAmount        decimal.Decimal `json:"avgAmount"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// CreateRequest is the request body for registering a user.
type CreateRequest struct {
	ID            string   `json:"id" binding:"required"`
	Email         string   `json:"email"`
	HomeLatitude  *float64 `json:"homeLatitude"`
	HomeLongitude *float64 `json:"homeLongitude"`
	RiskScore     *float64 `json:"riskScore"`
}

// Activity summarizes a user's recorded transactions.
type Activity struct {
	Count        int
	AvgAmount    decimal.Decimal
	FraudCount   int // labelled fraudulent
	FlaggedCount int // scored REVIEW or BLOCK
}

// Store persists users.
type Store interface {
	Create(ctx context.Context, u *User) error
	Get(ctx context.Context, id string) (*User, error)
	Update(ctx context.Context, u *User) error
	// List returns up to limit users with IDs greater than afterID, ordered
	// by ID. An empty afterID starts from the beginning.
	List(ctx context.Context, afterID string, limit int) ([]*User, error)
}

// ActivityProvider supplies transaction activity for risk recalculation.
type ActivityProvider interface {
	UserActivity(ctx context.Context, userID string) (Activity, error)
}
