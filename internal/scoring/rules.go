package scoring

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/mbd888/fraudscore/internal/merchants"
	"github.com/mbd888/fraudscore/internal/transactions"
	"github.com/mbd888/fraudscore/internal/users"
)

// Rule IDs.
const (
	RuleHighAmount   = "high_amount"
	RuleVelocity     = "velocity"
	RuleUserRisk     = "user_risk"
	RuleMerchantRisk = "merchant_risk"
	RuleUnusualHour  = "unusual_hour"
	RuleNewDevice    = "new_device"
)

var ErrInvalidThresholds = errors.New("invalid rule thresholds")

// RuleContext is everything a rule may look at. Rules must not modify it.
type RuleContext struct {
	Request     *TransactionRequest
	User        *users.User
	Merchant    *merchants.Merchant
	History     []*transactions.Transaction
	RecentCount int
	Now         time.Time
}

// Rule is one independent fraud check.
type Rule interface {
	ID() string
	Evaluate(rc *RuleContext) RuleResult
}

// Thresholds parameterize the default rules. Scores, actions and priorities
// are fixed; only the trigger points move.
type Thresholds struct {
	HighAmount     decimal.Decimal
	VelocityWindow time.Duration
	VelocityLimit  int
	UserRiskHigh   float64
	UserRiskMedium float64
	NightStartHour int
	NightEndHour   int
}

// DefaultThresholds returns the production trigger points.
func DefaultThresholds() Thresholds {
	return Thresholds{
		HighAmount:     decimal.NewFromInt(5000),
		VelocityWindow: 10 * time.Minute,
		VelocityLimit:  5,
		UserRiskHigh:   70,
		UserRiskMedium: 40,
		NightStartHour: 22,
		NightEndHour:   6,
	}
}

// Validate checks the thresholds are usable.
func (t Thresholds) Validate() error {
	switch {
	case !t.HighAmount.IsPositive():
		return fmt.Errorf("%w: high_amount must be positive", ErrInvalidThresholds)
	case t.VelocityWindow <= 0:
		return fmt.Errorf("%w: velocity_window must be positive", ErrInvalidThresholds)
	case t.VelocityLimit < 1:
		return fmt.Errorf("%w: velocity_limit must be at least 1", ErrInvalidThresholds)
	case t.UserRiskMedium < 0 || t.UserRiskHigh > 100 || t.UserRiskMedium >= t.UserRiskHigh:
		return fmt.Errorf("%w: need 0 <= user_risk_medium < user_risk_high <= 100", ErrInvalidThresholds)
	case t.NightStartHour < 0 || t.NightStartHour > 23 || t.NightEndHour < 0 || t.NightEndHour > 23:
		return fmt.Errorf("%w: night hours must be within 0-23", ErrInvalidThresholds)
	}
	return nil
}

// thresholdsFile is the YAML shape of a thresholds override. Absent keys
// keep their defaults.
type thresholdsFile struct {
	HighAmount     *string  `yaml:"high_amount"`
	VelocityWindow *string  `yaml:"velocity_window"`
	VelocityLimit  *int     `yaml:"velocity_limit"`
	UserRiskHigh   *float64 `yaml:"user_risk_high"`
	UserRiskMedium *float64 `yaml:"user_risk_medium"`
	NightStartHour *int     `yaml:"night_start_hour"`
	NightEndHour   *int     `yaml:"night_end_hour"`
}

// LoadThresholds reads a YAML override file on top of the defaults. An empty
// path returns the defaults.
func LoadThresholds(path string) (Thresholds, error) {
	t := DefaultThresholds()
	if path == "" {
		return t, nil
	}
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied config path
	if err != nil {
		return t, fmt.Errorf("read rules file: %w", err)
	}
	return ParseThresholds(data)
}

// ParseThresholds applies a YAML override document to the defaults.
func ParseThresholds(data []byte) (Thresholds, error) {
	t := DefaultThresholds()

	var f thresholdsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return t, fmt.Errorf("%w: %v", ErrInvalidThresholds, err)
	}

	if f.HighAmount != nil {
		amt, err := decimal.NewFromString(*f.HighAmount)
		if err != nil {
			return t, fmt.Errorf("%w: high_amount: %v", ErrInvalidThresholds, err)
		}
		t.HighAmount = amt
	}
	if f.VelocityWindow != nil {
		d, err := time.ParseDuration(*f.VelocityWindow)
		if err != nil {
			return t, fmt.Errorf("%w: velocity_window: %v", ErrInvalidThresholds, err)
		}
		t.VelocityWindow = d
	}
	if f.VelocityLimit != nil {
		t.VelocityLimit = *f.VelocityLimit
	}
	if f.UserRiskHigh != nil {
		t.UserRiskHigh = *f.UserRiskHigh
	}
	if f.UserRiskMedium != nil {
		t.UserRiskMedium = *f.UserRiskMedium
	}
	if f.NightStartHour != nil {
		t.NightStartHour = *f.NightStartHour
	}
	if f.NightEndHour != nil {
		t.NightEndHour = *f.NightEndHour
	}
	return t, t.Validate()
}

// ---------------------------------------------------------------------------
// Default rules
// ---------------------------------------------------------------------------

// HighAmountRule blocks amounts strictly above the limit.
type HighAmountRule struct{ Limit decimal.Decimal }

func (HighAmountRule) ID() string { return RuleHighAmount }

func (r HighAmountRule) Evaluate(rc *RuleContext) RuleResult {
	res := RuleResult{RuleID: RuleHighAmount, Action: ActionBlock, Priority: 10}
	if rc.Request.Amount.GreaterThan(r.Limit) {
		res.Triggered = true
		res.Score = 40
		res.Reason = fmt.Sprintf("High transaction amount: %s exceeds %s", rc.Request.Amount.StringFixed(2), r.Limit.StringFixed(2))
	}
	return res
}

// VelocityRule flags bursts of transactions from one user.
type VelocityRule struct {
	Window time.Duration
	Limit  int
}

func (VelocityRule) ID() string { return RuleVelocity }

func (r VelocityRule) Evaluate(rc *RuleContext) RuleResult {
	res := RuleResult{RuleID: RuleVelocity, Action: ActionReview, Priority: 9}
	if rc.RecentCount >= r.Limit {
		res.Triggered = true
		res.Score = 35
		res.Reason = fmt.Sprintf("High velocity: %d transactions in the last %s", rc.RecentCount, r.Window)
	}
	return res
}

// UserRiskRule escalates users with an elevated risk profile. Only the
// higher tier fires.
type UserRiskRule struct {
	High   float64
	Medium float64
}

func (UserRiskRule) ID() string { return RuleUserRisk }

func (r UserRiskRule) Evaluate(rc *RuleContext) RuleResult {
	res := RuleResult{RuleID: RuleUserRisk, Action: ActionReview, Priority: 7}
	score := rc.User.RiskScore
	switch {
	case score > r.High:
		res.Triggered, res.Score = true, 30
		res.Reason = fmt.Sprintf("High user risk score: %.1f", score)
	case score > r.Medium:
		res.Triggered, res.Score = true, 15
		res.Reason = fmt.Sprintf("Elevated user risk score: %.1f", score)
	}
	return res
}

// MerchantRiskRule escalates merchants assessed MEDIUM or HIGH.
type MerchantRiskRule struct{}

func (MerchantRiskRule) ID() string { return RuleMerchantRisk }

func (MerchantRiskRule) Evaluate(rc *RuleContext) RuleResult {
	res := RuleResult{RuleID: RuleMerchantRisk, Action: ActionReview, Priority: 6}
	switch rc.Merchant.RiskLevel {
	case merchants.RiskHigh:
		res.Triggered, res.Score = true, 25
		res.Reason = "High-risk merchant"
	case merchants.RiskMedium:
		res.Triggered, res.Score = true, 10
		res.Reason = "Medium-risk merchant"
	}
	return res
}

// UnusualHourRule flags activity during night hours.
type UnusualHourRule struct {
	StartHour int
	EndHour   int
}

func (UnusualHourRule) ID() string { return RuleUnusualHour }

func (r UnusualHourRule) Evaluate(rc *RuleContext) RuleResult {
	res := RuleResult{RuleID: RuleUnusualHour, Action: ActionReview, Priority: 5}
	hour := rc.Now.Hour()
	if hour >= r.StartHour || hour <= r.EndHour {
		res.Triggered = true
		res.Score = 15
		res.Reason = fmt.Sprintf("Unusual transaction hour: %02d:00", hour)
	}
	return res
}

// NewDeviceRule flags a device fingerprint never seen in the user's history.
// A missing fingerprint is not evidence and never fires.
type NewDeviceRule struct{}

func (NewDeviceRule) ID() string { return RuleNewDevice }

func (NewDeviceRule) Evaluate(rc *RuleContext) RuleResult {
	res := RuleResult{RuleID: RuleNewDevice, Action: ActionReview, Priority: 4}
	fp := rc.Request.DeviceFingerprint
	if fp == "" {
		return res
	}
	for _, tx := range rc.History {
		if tx.DeviceFingerprint == fp {
			return res
		}
	}
	res.Triggered = true
	res.Score = 20
	res.Reason = "New device fingerprint"
	return res
}

// DefaultRules returns the standard battery in declaration order.
func DefaultRules(t Thresholds) []Rule {
	return []Rule{
		HighAmountRule{Limit: t.HighAmount},
		VelocityRule{Window: t.VelocityWindow, Limit: t.VelocityLimit},
		UserRiskRule{High: t.UserRiskHigh, Medium: t.UserRiskMedium},
		MerchantRiskRule{},
		UnusualHourRule{StartHour: t.NightStartHour, EndHour: t.NightEndHour},
		NewDeviceRule{},
	}
}

// ---------------------------------------------------------------------------
// Engine
// ---------------------------------------------------------------------------

// Engine evaluates an ordered list of rules. It holds no per-request state
// and is safe for concurrent use.
type Engine struct {
	rules          []Rule
	velocityWindow time.Duration
}

// NewEngine builds an engine over the default rules for t.
func NewEngine(t Thresholds) *Engine {
	return NewEngineWithRules(t.VelocityWindow, DefaultRules(t)...)
}

// NewEngineWithRules builds an engine over a custom rule list. window is the
// velocity window the caller should count over.
func NewEngineWithRules(window time.Duration, rules ...Rule) *Engine {
	return &Engine{rules: rules, velocityWindow: window}
}

// VelocityWindow is the trailing window RecentCount must cover.
func (e *Engine) VelocityWindow() time.Duration { return e.velocityWindow }

// Rules returns the rule IDs in declaration order.
func (e *Engine) Rules() []string {
	ids := make([]string, len(e.rules))
	for i, r := range e.rules {
		ids[i] = r.ID()
	}
	return ids
}

// Evaluate runs every rule and returns the triggered results ordered by
// priority, highest first. Equal priorities keep declaration order.
func (e *Engine) Evaluate(rc *RuleContext) []RuleResult {
	triggered := make([]RuleResult, 0, len(e.rules))
	for _, r := range e.rules {
		if res := r.Evaluate(rc); res.Triggered {
			triggered = append(triggered, res)
		}
	}
	slices.SortStableFunc(triggered, func(a, b RuleResult) int {
		return b.Priority - a.Priority
	})
	return triggered
}
