package scoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mbd888/fraudscore/internal/logging"
	"github.com/mbd888/fraudscore/internal/merchants"
	"github.com/mbd888/fraudscore/internal/metrics"
	"github.com/mbd888/fraudscore/internal/traces"
	"github.com/mbd888/fraudscore/internal/transactions"
	"github.com/mbd888/fraudscore/internal/users"
	"github.com/mbd888/fraudscore/internal/validation"
)

const (
	// HistoryLimit caps the history window handed to features and rules.
	HistoryLimit = 100

	defaultBatchConcurrency = 8
)

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the evaluation-time clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithGeoResolver annotates recorded transactions with the IP's location.
func WithGeoResolver(g GeoResolver) Option {
	return func(s *Service) { s.geo = g }
}

// WithSink adds a verdict sink. Sinks run in registration order.
func WithSink(sink VerdictSink) Option {
	return func(s *Service) { s.sinks = append(s.sinks, sink) }
}

// WithBatchConcurrency bounds concurrent items in ScoreBatch.
func WithBatchConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batchConcurrency = n
		}
	}
}

// Service runs the scoring pipeline.
type Service struct {
	users     UserStore
	merchants MerchantStore
	txs       TransactionStore
	counter   VelocityCounter
	predictor Predictor
	engine    *Engine

	geo              GeoResolver
	sinks            []VerdictSink
	now              func() time.Time
	logger           *slog.Logger
	batchConcurrency int
}

// NewService wires the pipeline.
func NewService(userStore UserStore, merchantStore MerchantStore, txStore TransactionStore, counter VelocityCounter, predictor Predictor, engine *Engine, opts ...Option) *Service {
	s := &Service{
		users:            userStore,
		merchants:        merchantStore,
		txs:              txStore,
		counter:          counter,
		predictor:        predictor,
		engine:           engine,
		now:              func() time.Time { return time.Now().UTC() },
		logger:           slog.Default(),
		batchConcurrency: defaultBatchConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Score evaluates one transaction and records it. Errors wrap one of
// ErrInvalidRequest, ErrUserNotFound, ErrMerchantNotFound or ErrInternal.
// Once a verdict exists, side-effect failures are logged and never returned.
func (s *Service) Score(ctx context.Context, req TransactionRequest) (*Verdict, error) {
	started := time.Now()

	// The pipeline runs to completion once started.
	ctx = context.WithoutCancel(ctx)
	ctx, span := traces.StartSpan(ctx, "scoring.Score",
		traces.UserID(req.UserID),
		traces.MerchantID(req.MerchantID),
		traces.Amount(req.Amount.String()),
	)
	defer span.End()

	v, err := s.evaluate(ctx, &req, started)
	if err != nil {
		traces.RecordError(span, err)
		metrics.ScoringErrorsTotal.WithLabelValues(ErrorCode(err)).Inc()
		return nil, err
	}
	span.SetAttributes(traces.TransactionID(v.TransactionID), traces.Action(string(v.Action)), traces.FraudScore(v.FraudScore))

	s.observe(v)
	s.record(ctx, &req, v)
	for _, sink := range s.sinks {
		sink.Publish(ctx, v)
	}
	return v, nil
}

func (s *Service) evaluate(ctx context.Context, req *TransactionRequest, started time.Time) (*Verdict, error) {
	if err := normalize(req); err != nil {
		return nil, err
	}
	log := s.log(ctx)

	user, merchant, err := s.fetchEntities(ctx, req.UserID, req.MerchantID)
	if err != nil {
		return nil, err
	}

	history, err := s.txs.FindRecentByUser(ctx, req.UserID, HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("%w: load history: %v", ErrInternal, err)
	}
	recent, err := s.counter.CountRecent(ctx, req.UserID, s.engine.VelocityWindow())
	if err != nil {
		return nil, fmt.Errorf("%w: count velocity: %v", ErrInternal, err)
	}

	now := s.now()
	rc := &RuleContext{
		Request:     req,
		User:        user,
		Merchant:    merchant,
		History:     history,
		RecentCount: recent,
		Now:         now,
	}

	var (
		fv         FeatureVector
		results    []RuleResult
		prediction Prediction
	)
	if err := s.guard(ctx, "extract features", func() { fv = ExtractFeatures(req, user, merchant, history, now) }); err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.guard(ctx, "evaluate rules", func() { results = s.engine.Evaluate(rc) })
	})
	g.Go(func() error {
		return s.guard(ctx, "predict", func() { prediction = s.predictor.Predict(gctx, fv) })
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var d Decision
	if err := s.guard(ctx, "combine", func() { d = Combine(results, prediction) }); err != nil {
		return nil, err
	}

	v := &Verdict{
		TransactionID: uuid.NewString(),
		UserID:        req.UserID,
		MerchantID:    req.MerchantID,
		Amount:        req.Amount.StringFixed(2),
		Currency:      req.Currency,
		FraudScore:    d.FraudScore,
		RiskLevel:     d.RiskLevel,
		Action:        d.Action,
		Reasons:       d.Reasons,
		Rules:         results,
		ScoredAt:      now,
	}
	if prediction.Available {
		ml := d.MLScore
		v.MLScore = &ml
		v.Models = prediction.Models
	}
	v.ProcessingTimeMs = math.Round(float64(time.Since(started).Microseconds())) / 1000

	log.Debug("transaction scored",
		"transaction_id", v.TransactionID,
		"user_id", v.UserID,
		"fraud_score", v.FraudScore,
		"action", v.Action,
		"ml_available", prediction.Available,
		"rules_triggered", len(results),
	)
	return v, nil
}

// fetchEntities loads the user and merchant concurrently. A missing user is
// reported ahead of a missing merchant.
func (s *Service) fetchEntities(ctx context.Context, userID, merchantID string) (*users.User, *merchants.Merchant, error) {
	var (
		user              *users.User
		merchant          *merchants.Merchant
		userErr, merchErr error
		g                 errgroup.Group
	)
	g.Go(func() error {
		user, userErr = s.users.Get(ctx, userID)
		return nil
	})
	g.Go(func() error {
		merchant, merchErr = s.merchants.Get(ctx, merchantID)
		return nil
	})
	_ = g.Wait()

	switch {
	case errors.Is(userErr, users.ErrUserNotFound):
		return nil, nil, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	case userErr != nil:
		return nil, nil, fmt.Errorf("%w: load user: %v", ErrInternal, userErr)
	case errors.Is(merchErr, merchants.ErrMerchantNotFound):
		return nil, nil, fmt.Errorf("%w: %s", ErrMerchantNotFound, merchantID)
	case merchErr != nil:
		return nil, nil, fmt.Errorf("%w: load merchant: %v", ErrInternal, merchErr)
	}
	return user, merchant, nil
}

// observe records verdict metrics.
func (s *Service) observe(v *Verdict) {
	metrics.VerdictsTotal.WithLabelValues(string(v.Action)).Inc()
	metrics.FraudScore.Observe(v.FraudScore)
	metrics.ScoringDuration.Observe(v.ProcessingTimeMs / 1000)
	for _, r := range v.Rules {
		metrics.RuleTriggersTotal.WithLabelValues(r.RuleID).Inc()
	}
}

// record persists the scored transaction and feeds the velocity window.
func (s *Service) record(ctx context.Context, req *TransactionRequest, v *Verdict) {
	log := s.log(ctx)

	tx := &transactions.Transaction{
		ID:                v.TransactionID,
		UserID:            req.UserID,
		MerchantID:        req.MerchantID,
		Amount:            req.Amount,
		Currency:          req.Currency,
		Latitude:          req.Latitude,
		Longitude:         req.Longitude,
		DeviceFingerprint: req.DeviceFingerprint,
		IPAddress:         req.IPAddress,
		FraudScore:        v.FraudScore,
		Action:            string(v.Action),
		CreatedAt:         v.ScoredAt,
	}
	if s.geo != nil && req.IPAddress != "" {
		loc, err := s.geo.Lookup(req.IPAddress)
		if err != nil {
			log.Debug("geoip lookup failed", "ip", req.IPAddress, "error", err)
		} else {
			tx.Country, tx.City = loc.CountryCode, loc.City
		}
	}

	if err := s.txs.Record(ctx, tx); err != nil {
		metrics.SideEffectFailuresTotal.WithLabelValues("record").Inc()
		log.Error("failed to record scored transaction", "transaction_id", tx.ID, "error", err)
	}

	if obs, ok := s.counter.(VelocityObserver); ok {
		if err := obs.Observe(ctx, tx.UserID, tx.ID, tx.CreatedAt); err != nil {
			metrics.SideEffectFailuresTotal.WithLabelValues("velocity").Inc()
			log.Warn("failed to update velocity window", "user_id", tx.UserID, "error", err)
		}
	}
}

// log returns the service logger tagged with the request ID, if any.
func (s *Service) log(ctx context.Context) *slog.Logger {
	if id := logging.RequestID(ctx); id != "" {
		return s.logger.With("request_id", id)
	}
	return s.logger
}

// normalize validates the request and fills defaults.
func normalize(req *TransactionRequest) error {
	req.UserID = strings.TrimSpace(req.UserID)
	req.MerchantID = strings.TrimSpace(req.MerchantID)
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	req.DeviceFingerprint = validation.SanitizeString(req.DeviceFingerprint, 256)
	req.IPAddress = strings.TrimSpace(req.IPAddress)

	if errs := validation.Validate(
		validation.ValidID("userId", req.UserID),
		validation.ValidID("merchantId", req.MerchantID),
		validation.PositiveDecimal("amount", req.Amount),
		validation.CurrencyCode("currency", req.Currency),
		validation.Latitude("latitude", req.Latitude),
		validation.Longitude("longitude", req.Longitude),
		validation.IPAddress("ipAddress", req.IPAddress),
	); len(errs) > 0 {
		return &RequestError{Errors: errs}
	}
	if req.Currency == "" {
		req.Currency = DefaultCurrency
	}
	return nil
}

// RequestError carries field-level validation failures. It matches
// ErrInvalidRequest under errors.Is.
type RequestError struct {
	Errors validation.ValidationErrors
}

func (e *RequestError) Error() string {
	return ErrInvalidRequest.Error() + ": " + e.Errors.Error()
}

func (e *RequestError) Unwrap() error { return ErrInvalidRequest }

// guard runs fn and converts a panic into ErrInternal for this request only.
func (s *Service) guard(ctx context.Context, stage string, fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log(ctx).Error("panic in scoring pipeline", "stage", stage, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("%w: %s: %v", ErrInternal, stage, r)
		}
	}()
	fn()
	return nil
}

// ErrorCode maps a Score error to its API error code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrUserNotFound):
		return "user_not_found"
	case errors.Is(err, ErrMerchantNotFound):
		return "merchant_not_found"
	default:
		return "internal_error"
	}
}
