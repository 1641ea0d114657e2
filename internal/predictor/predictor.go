// Package predictor talks to the external fraud model service.
//
// The model is advisory. Every failure mode collapses into an unavailable
// prediction so scoring can continue on rules alone.
package predictor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/mbd888/fraudscore/internal/circuitbreaker"
	"github.com/mbd888/fraudscore/internal/logging"
	"github.com/mbd888/fraudscore/internal/metrics"
	"github.com/mbd888/fraudscore/internal/scoring"
)

// DefaultTimeout bounds one prediction round trip.
const DefaultTimeout = 3 * time.Second

const (
	breakerKey      = "predictor"
	maxResponseSize = 1 << 20
)

// Outcome labels for fraudscore_predictor_requests_total.
const (
	OutcomeOK          = "ok"
	OutcomeTimeout     = "timeout"
	OutcomeTransport   = "transport_error"
	OutcomeHTTPStatus  = "http_error"
	OutcomeRejected    = "rejected"
	OutcomeDecode      = "decode_error"
	OutcomeCircuitOpen = "circuit_open"
)

var (
	_ scoring.Predictor = (*HTTPClient)(nil)
	_ scoring.Predictor = NopClient{}
)

// request is the wire form of a feature vector. Booleans travel as 0/1.
type request struct {
	Amount                  float64 `json:"amount"`
	Hour                    int     `json:"hour"`
	DayOfWeek               int     `json:"day_of_week"`
	IsWeekend               int     `json:"is_weekend"`
	IsNight                 int     `json:"is_night"`
	AmountZScore            float64 `json:"amount_z_score"`
	TimeDiffMinutes         float64 `json:"time_diff_minutes"`
	HasLocation             int     `json:"has_location"`
	UserRiskScore           float64 `json:"user_risk_score"`
	UserAvgAmount           float64 `json:"user_avg_amount"`
	UserAmountStd           float64 `json:"user_amount_std"`
	UserTxnCount            int     `json:"user_txn_count"`
	MerchantFraudRate       float64 `json:"merchant_fraud_rate"`
	MerchantCategoryEncoded int     `json:"merchant_category_encoded"`
	MerchantRiskEncoded     int     `json:"merchant_risk_encoded"`
}

type response struct {
	Success    bool `json:"success"`
	Prediction *struct {
		FraudScore *float64 `json:"fraud_score"`
		ModelsUsed []string `json:"models_used"`
		Error      string   `json:"error"`
	} `json:"prediction"`
	Error string `json:"error"`
}

func flag(b bool) int {
	if b {
		return 1
	}
	return 0
}

func encode(fv scoring.FeatureVector) request {
	return request{
		Amount:                  fv.Amount,
		Hour:                    fv.Hour,
		DayOfWeek:               fv.DayOfWeek,
		IsWeekend:               flag(fv.IsWeekend),
		IsNight:                 flag(fv.IsNight),
		AmountZScore:            fv.AmountZScore,
		TimeDiffMinutes:         fv.MinutesSinceLastTxn,
		HasLocation:             flag(fv.HasLocation),
		UserRiskScore:           fv.UserRiskScore,
		UserAvgAmount:           fv.UserAvgAmount,
		UserAmountStd:           fv.UserAmountStdDev,
		UserTxnCount:            fv.UserTxnCount,
		MerchantFraudRate:       fv.MerchantFraudRate,
		MerchantCategoryEncoded: fv.MerchantCategoryCode,
		MerchantRiskEncoded:     fv.MerchantRiskCode,
	}
}

// predictError carries the metrics outcome of a failed call.
type predictError struct {
	outcome string
	err     error
}

func (e *predictError) Error() string { return e.outcome + ": " + e.err.Error() }
func (e *predictError) Unwrap() error { return e.err }

// HTTPClient calls POST {baseURL}/predict.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
	breaker *circuitbreaker.Breaker
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithTimeout bounds each prediction. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(c *HTTPClient) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithBreaker short-circuits calls while the model service is failing.
func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(c *HTTPClient) { c.breaker = b }
}

// WithHTTPClient replaces the underlying transport client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) { c.client = hc }
}

// NewHTTPClient creates a predictor client for the service at baseURL.
func NewHTTPClient(baseURL string, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Predict asks the model for a fraud score. It never returns an error:
// timeouts, transport failures, bad statuses, malformed bodies and an open
// circuit all yield scoring.Unavailable().
func (c *HTTPClient) Predict(ctx context.Context, fv scoring.FeatureVector) scoring.Prediction {
	start := time.Now()
	var p scoring.Prediction

	call := func() error {
		var err error
		p, err = c.call(ctx, fv)
		return err
	}
	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(breakerKey, call)
	} else {
		err = call()
	}
	metrics.PredictorDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		outcome := OutcomeTransport
		var pe *predictError
		switch {
		case errors.Is(err, circuitbreaker.ErrOpen):
			outcome = OutcomeCircuitOpen
		case errors.As(err, &pe):
			outcome = pe.outcome
		}
		metrics.PredictorRequestsTotal.WithLabelValues(outcome).Inc()
		logging.L(ctx).Warn("predictor unavailable", "outcome", outcome, "error", err)
		return scoring.Unavailable()
	}
	metrics.PredictorRequestsTotal.WithLabelValues(OutcomeOK).Inc()
	return p
}

func (c *HTTPClient) call(ctx context.Context, fv scoring.FeatureVector) (scoring.Prediction, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(encode(fv))
	if err != nil {
		return scoring.Prediction{}, &predictError{OutcomeDecode, fmt.Errorf("marshal features: %w", err)}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict", bytes.NewReader(body))
	if err != nil {
		return scoring.Prediction{}, &predictError{OutcomeTransport, fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if id := logging.RequestID(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return scoring.Prediction{}, &predictError{OutcomeTimeout, err}
		}
		return scoring.Prediction{}, &predictError{OutcomeTransport, err}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return scoring.Prediction{}, &predictError{OutcomeTimeout, err}
		}
		return scoring.Prediction{}, &predictError{OutcomeTransport, fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return scoring.Prediction{}, &predictError{OutcomeHTTPStatus, fmt.Errorf("predictor returned HTTP %d", resp.StatusCode)}
	}

	var out response
	if err := json.Unmarshal(raw, &out); err != nil {
		return scoring.Prediction{}, &predictError{OutcomeDecode, fmt.Errorf("decode response: %w", err)}
	}
	switch {
	case !out.Success:
		return scoring.Prediction{}, &predictError{OutcomeRejected, fmt.Errorf("predictor reported failure: %s", out.Error)}
	case out.Prediction == nil || out.Prediction.FraudScore == nil:
		return scoring.Prediction{}, &predictError{OutcomeDecode, errors.New("response has no fraud_score")}
	case out.Prediction.Error != "":
		return scoring.Prediction{}, &predictError{OutcomeRejected, errors.New(out.Prediction.Error)}
	}

	score := *out.Prediction.FraudScore
	if math.IsNaN(score) {
		score = 0
	}
	return scoring.Prediction{
		Available: true,
		Score:     math.Max(0, math.Min(100, score)),
		Models:    out.Prediction.ModelsUsed,
	}, nil
}

// Health checks GET {baseURL}/health.
func (c *HTTPClient) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("predictor health: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("predictor health: HTTP %d", resp.StatusCode)
	}
	return nil
}

// NopClient is used when no model service is configured.
type NopClient struct{}

// Predict always reports the model as unavailable.
func (NopClient) Predict(context.Context, scoring.FeatureVector) scoring.Prediction {
	return scoring.Unavailable()
}
