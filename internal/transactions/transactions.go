// Package transactions records scored transactions. The recorded rows are the
// history window and velocity source for later scoring calls.
package transactions

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/fraudscore/internal/pagination"
)

var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrTransactionExists   = errors.New("transaction already recorded")
)

// Action values as recorded; they mirror the scoring verdict.
const (
	ActionAllow  = "ALLOW"
	ActionReview = "REVIEW"
	ActionBlock  = "BLOCK"
)

// Transaction is one scored payment attempt.
type Transaction struct {
	ID                string          `json:"id"`
	UserID            string          `json:"userId"`
	MerchantID        string          `json:"merchantId"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	Latitude          *float64        `json:"latitude,omitempty"`
	Longitude         *float64        `json:"longitude,omitempty"`
	DeviceFingerprint string          `json:"deviceFingerprint,omitempty"`
	IPAddress         string          `json:"ipAddress,omitempty"`
	Country           string          `json:"country,omitempty"`
	City              string          `json:"city,omitempty"`
	FraudScore        float64         `json:"fraudScore"`
	Action            string          `json:"action"`
	IsFraud           bool            `json:"isFraud"`
	CreatedAt         time.Time       `json:"createdAt"`
}

// Flagged reports whether the scorer did not simply allow the transaction.
func (t *Transaction) Flagged() bool {
	return t.Action == ActionReview || t.Action == ActionBlock
}

// Stats summarizes one user's recorded transactions.
type Stats struct {
	Count        int
	AvgAmount    decimal.Decimal
	FraudCount   int
	FlaggedCount int
}

// Store persists transactions.
type Store interface {
	Record(ctx context.Context, tx *Transaction) error
	Get(ctx context.Context, id string) (*Transaction, error)
	// FindRecentByUser returns up to limit transactions, most recent first.
	FindRecentByUser(ctx context.Context, userID string, limit int) ([]*Transaction, error)
	// ListByUser pages through a user's transactions newest first, starting
	// strictly after the cursor. A nil cursor starts at the newest.
	ListByUser(ctx context.Context, userID string, after *pagination.Cursor, limit int) ([]*Transaction, error)
	// CountSince counts the user's transactions created strictly after since.
	CountSince(ctx context.Context, userID string, since time.Time) (int, error)
	MarkFraud(ctx context.Context, id string, isFraud bool) (*Transaction, error)
	UserStats(ctx context.Context, userID string) (Stats, error)
}
