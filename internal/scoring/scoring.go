// Package scoring assigns a fraud score and an enforcement action to a single
// transaction by combining deterministic rules with an external prediction.
package scoring

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/fraudscore/internal/geoip"
	"github.com/mbd888/fraudscore/internal/merchants"
	"github.com/mbd888/fraudscore/internal/transactions"
	"github.com/mbd888/fraudscore/internal/users"
)

var (
	ErrInvalidRequest   = errors.New("invalid transaction request")
	ErrUserNotFound     = errors.New("user not found")
	ErrMerchantNotFound = errors.New("merchant not found")
	ErrInternal         = errors.New("internal scoring error")
)

// Action is the enforcement decision for a transaction.
type Action string

const (
	ActionAllow  Action = "ALLOW"
	ActionReview Action = "REVIEW"
	ActionBlock  Action = "BLOCK"
)

// RiskLevel buckets the fraud score.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// DefaultCurrency applies when a request omits the currency.
const DefaultCurrency = "USD"

// TransactionRequest is one payment attempt to score.
type TransactionRequest struct {
	UserID            string          `json:"userId"`
	MerchantID        string          `json:"merchantId"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency,omitempty"`
	Latitude          *float64        `json:"latitude,omitempty"`
	Longitude         *float64        `json:"longitude,omitempty"`
	DeviceFingerprint string          `json:"deviceFingerprint,omitempty"`
	IPAddress         string          `json:"ipAddress,omitempty"`
}

// RuleResult is one rule's outcome for one request.
type RuleResult struct {
	RuleID    string  `json:"ruleId"`
	Triggered bool    `json:"triggered"`
	Score     float64 `json:"score"`
	Action    Action  `json:"action"`
	Reason    string  `json:"reason,omitempty"`
	Priority  int     `json:"priority"`
}

// Prediction is the external predictor's opinion. Available is false when
// the predictor could not be consulted; Score is meaningless then.
type Prediction struct {
	Available bool
	Score     float64 // 0-100
	Models    []string
}

// Unavailable is the "no opinion" prediction.
func Unavailable() Prediction {
	return Prediction{}
}

// Verdict is the outcome of scoring one transaction.
type Verdict struct {
	TransactionID    string       `json:"transactionId"`
	UserID           string       `json:"userId"`
	MerchantID       string       `json:"merchantId"`
	Amount           string       `json:"amount"`
	Currency         string       `json:"currency"`
	FraudScore       float64      `json:"fraudScore"`
	RiskLevel        RiskLevel    `json:"riskLevel"`
	Action           Action       `json:"action"`
	Reasons          []string     `json:"reasons"`
	Rules            []RuleResult `json:"rules"`
	MLScore          *float64     `json:"mlScore"`
	Models           []string     `json:"models,omitempty"`
	ProcessingTimeMs float64      `json:"processingTimeMs"`
	ScoredAt         time.Time    `json:"scoredAt"`
}

// UserStore looks up users.
type UserStore interface {
	Get(ctx context.Context, id string) (*users.User, error)
}

// MerchantStore looks up merchants.
type MerchantStore interface {
	Get(ctx context.Context, id string) (*merchants.Merchant, error)
}

// TransactionStore supplies history and records scored transactions.
type TransactionStore interface {
	FindRecentByUser(ctx context.Context, userID string, limit int) ([]*transactions.Transaction, error)
	Record(ctx context.Context, tx *transactions.Transaction) error
}

// VelocityCounter counts a user's transactions in a trailing window.
type VelocityCounter interface {
	CountRecent(ctx context.Context, userID string, window time.Duration) (int, error)
}

// VelocityObserver is implemented by counters that must be told about each
// scored transaction, such as the Redis window.
type VelocityObserver interface {
	Observe(ctx context.Context, userID, txID string, at time.Time) error
}

// Predictor returns the external model's opinion on a feature vector. It
// must not block beyond its own timeout and never fails the request.
type Predictor interface {
	Predict(ctx context.Context, fv FeatureVector) Prediction
}

// VerdictSink receives every verdict after it is produced. Implementations
// must not block the caller for long.
type VerdictSink interface {
	Publish(ctx context.Context, v *Verdict)
}

// GeoResolver maps a source IP to a location.
type GeoResolver interface {
	Lookup(ip string) (*geoip.Location, error)
}
