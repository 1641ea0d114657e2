// Package server wires the scoring pipeline, its stores and its outer
// surfaces into one HTTP service.
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/mbd888/fraudscore/internal/circuitbreaker"
	"github.com/mbd888/fraudscore/internal/config"
	"github.com/mbd888/fraudscore/internal/events"
	"github.com/mbd888/fraudscore/internal/geoip"
	"github.com/mbd888/fraudscore/internal/health"
	"github.com/mbd888/fraudscore/internal/logging"
	"github.com/mbd888/fraudscore/internal/merchants"
	"github.com/mbd888/fraudscore/internal/metrics"
	"github.com/mbd888/fraudscore/internal/predictor"
	"github.com/mbd888/fraudscore/internal/ratelimit"
	"github.com/mbd888/fraudscore/internal/realtime"
	"github.com/mbd888/fraudscore/internal/retry"
	"github.com/mbd888/fraudscore/internal/scoring"
	"github.com/mbd888/fraudscore/internal/security"
	"github.com/mbd888/fraudscore/internal/traces"
	"github.com/mbd888/fraudscore/internal/transactions"
	"github.com/mbd888/fraudscore/internal/users"
	"github.com/mbd888/fraudscore/internal/validation"
	"github.com/mbd888/fraudscore/internal/velocity"
	"github.com/mbd888/fraudscore/migrations"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg     *config.Config
	version string
	logger  *slog.Logger
	clock   func() time.Time

	db        *sql.DB // nil if using in-memory
	redis     redis.UniversalClient
	geo       *geoip.Resolver
	publisher *events.Publisher

	userStore     users.Store
	merchantStore merchants.Store
	txStore       transactions.Store

	predictor    scoring.Predictor
	scoring      *scoring.Service
	users        *users.Service
	recalculator *users.Recalculator
	hub          *realtime.Hub
	limiter      *ratelimit.Limiter
	health       *health.Registry

	router          *gin.Engine
	httpSrv         *http.Server
	cancelRunCtx    context.CancelFunc
	shutdownTracing func(context.Context) error
	closeOnce       sync.Once
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithVersion sets the version reported by /health and tracing.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// WithClock overrides the scoring clock (for testing)
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.clock = now }
}

// WithPredictor replaces the configured model client (for testing)
func WithPredictor(p scoring.Predictor) Option {
	return func(s *Server) { s.predictor = p }
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:     cfg,
		version: "dev",
		logger:  logging.New(cfg.LogLevel, cfg.LogFormat),
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	shutdownTracing, err := traces.Init(ctx, cfg.OTLPEndpoint, s.version, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to init tracing: %w", err)
	}
	s.shutdownTracing = shutdownTracing

	if err := s.setupStorage(ctx); err != nil {
		s.closeResources()
		return nil, err
	}
	if err := s.setupScoring(ctx); err != nil {
		s.closeResources()
		return nil, err
	}
	s.setupHealth()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

// setupStorage picks Postgres when DATABASE_URL is set, otherwise in-memory
// stores, and connects Redis when REDIS_URL is set.
func (s *Server) setupStorage(ctx context.Context) error {
	cfg := s.cfg

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		s.db = db

		if err := s.waitFor(ctx, "postgres", db.PingContext); err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := migrations.Up(ctx, db); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}

		s.userStore = users.NewPostgresStore(db)
		s.merchantStore = merchants.NewPostgresStore(db)
		s.txStore = transactions.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		s.userStore = users.NewMemoryStore()
		s.merchantStore = merchants.NewMemoryStore()
		s.txStore = transactions.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		s.redis = client
		if err := s.waitFor(ctx, "redis", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		s.logger.Info("redis velocity window enabled", "addr", opts.Addr)
	}
	return nil
}

// waitFor retries a startup ping so the service tolerates dependencies that
// come up a little later than it does.
func (s *Server) waitFor(ctx context.Context, name string, ping func(context.Context) error) error {
	p := retry.DefaultPolicy()
	p.OnRetry = func(attempt int, err error, wait time.Duration) {
		s.logger.Warn("dependency not reachable yet", "dependency", name, "attempt", attempt, "retry_in", wait, "error", err)
	}
	return retry.Do(ctx, p, func(ctx context.Context) error {
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return ping(pctx)
	})
}

func (s *Server) setupScoring(ctx context.Context) error {
	cfg := s.cfg

	thresholds := scoring.DefaultThresholds()
	if cfg.RulesFile != "" {
		t, err := scoring.LoadThresholds(cfg.RulesFile)
		if err != nil {
			return fmt.Errorf("failed to load rules: %w", err)
		}
		thresholds = t
		s.logger.Info("rule thresholds loaded", "file", cfg.RulesFile)
	}
	engine := scoring.NewEngine(thresholds)

	var counter scoring.VelocityCounter
	if s.redis != nil {
		vopts := []velocity.RedisOption{
			velocity.WithRetention(max(velocity.DefaultRetention, 2*thresholds.VelocityWindow)),
		}
		if s.clock != nil {
			vopts = append(vopts, velocity.WithClock(s.clock))
		}
		counter = velocity.NewRedisCounter(s.redis, vopts...)
	} else {
		counter = velocity.NewStoreCounter(s.txStore, s.clock)
	}

	if s.predictor == nil {
		if cfg.PredictorURL != "" {
			s.predictor = predictor.NewHTTPClient(cfg.PredictorURL,
				predictor.WithTimeout(cfg.PredictorTimeout),
				predictor.WithBreaker(circuitbreaker.New(cfg.BreakerThreshold, cfg.BreakerCooldown)),
			)
			s.logger.Info("predictor enabled", "url", cfg.PredictorURL, "timeout", cfg.PredictorTimeout)
		} else {
			s.predictor = predictor.NopClient{}
			s.logger.Info("predictor disabled, scoring on rules only")
		}
	}

	opts := []scoring.Option{
		scoring.WithLogger(s.logger),
		scoring.WithBatchConcurrency(cfg.BatchConcurrency),
	}
	if s.clock != nil {
		opts = append(opts, scoring.WithClock(s.clock))
	}

	if cfg.GeoIPCityDB != "" {
		geo, err := geoip.Open(cfg.GeoIPCityDB, cfg.GeoIPASNDB)
		if err != nil {
			s.logger.Warn("geoip disabled", "error", err)
		} else {
			s.geo = geo
			opts = append(opts, scoring.WithGeoResolver(geo))
			s.logger.Info("geoip enabled", "city_db", cfg.GeoIPCityDB)
		}
	}

	if cfg.KafkaBrokers != "" {
		pub, err := events.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, s.logger)
		if err != nil {
			return err
		}
		s.publisher = pub
		opts = append(opts, scoring.WithSink(pub))
		s.logger.Info("verdict publishing enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	s.hub = realtime.NewHub(s.logger)
	opts = append(opts, scoring.WithSink(s.hub))

	s.scoring = scoring.NewService(s.userStore, s.merchantStore, s.txStore, counter, s.predictor, engine, opts...)

	s.users = users.NewService(s.userStore, &activityAdapter{s.txStore}, s.logger)
	s.recalculator = users.NewRecalculator(s.users, cfg.RecalcInterval, s.logger)

	s.logger.Info("scoring pipeline ready", "rules", engine.Rules())
	return nil
}

func (s *Server) setupHealth() {
	s.health = health.NewRegistry(s.version)
	if s.db != nil {
		s.health.Register("postgres", true, s.db.PingContext)
	}
	if s.redis != nil {
		s.health.Register("redis", true, func(ctx context.Context) error {
			return s.redis.Ping(ctx).Err()
		})
	}
	if hc, ok := s.predictor.(interface{ Health(context.Context) error }); ok {
		s.health.Register("predictor", false, hc.Health)
	}
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware(s.cfg.CORSOrigins))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))
	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" || len(requestID) > 128 {
			requestID = generateRequestID()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
		}
		logger := logging.L(c.Request.Context())
		switch {
		case status >= 500:
			logger.Error("request completed", append(attrs, "client_ip", c.ClientIP())...)
		case status >= 400:
			logger.Warn("request completed", attrs...)
		case path == "/metrics" || len(path) >= 7 && path[:7] == "/health":
			logger.Debug("request completed", attrs...)
		default:
			logger.Info("request completed", attrs...)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	s.health.RegisterRoutes(s.router)
	s.router.GET("/metrics", metrics.Handler())

	v1 := s.router.Group("/v1")
	if s.cfg.RateLimitRPM > 0 {
		s.limiter = ratelimit.New(ratelimit.Config{
			RequestsPerMinute: s.cfg.RateLimitRPM,
			BurstSize:         s.cfg.RateLimitBurst,
		})
		v1.Use(s.limiter.Middleware())
	}

	scoring.NewHandler(s.scoring, s.cfg.BatchMaxSize).RegisterRoutes(v1)
	users.NewHandler(s.users).RegisterRoutes(v1)
	merchants.NewHandler(s.merchantStore).RegisterRoutes(v1)
	transactions.NewHandler(s.txStore).RegisterRoutes(v1)
	s.hub.RegisterRoutes(v1)
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "version", s.version)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.hub.Run(runCtx)
	go s.recalculator.Start(runCtx)
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	s.health.SetReady(true)
	s.logger.Info("server ready")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		_ = s.Shutdown()
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.health.SetReady(false)
	s.logger.Info("starting graceful shutdown")

	// Give load balancers time to notice readiness dropped.
	if s.cfg.ShutdownDrain > 0 {
		time.Sleep(s.cfg.ShutdownDrain)
	}

	var shutdownErr error
	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			shutdownErr = err
		}
	}

	// In-flight requests have drained; stop background loops.
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}
	s.recalculator.Stop()

	s.closeResources()
	s.logger.Info("server stopped")
	return shutdownErr
}

// closeResources releases everything New may have opened. Each step
// tolerates the resource never having been created.
func (s *Server) closeResources() {
	s.closeOnce.Do(s.release)
}

func (s *Server) release() {
	if s.limiter != nil {
		s.limiter.Stop()
	}
	if s.publisher != nil {
		s.publisher.Close()
		s.logger.Info("verdict publisher flushed")
	}
	if s.geo != nil {
		if err := s.geo.Close(); err != nil {
			s.logger.Error("geoip close error", "error", err)
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("redis close error", "error", err)
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}
	if s.shutdownTracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.shutdownTracing(ctx); err != nil {
			s.logger.Error("tracing shutdown error", "error", err)
		}
	}
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Scoring returns the scoring service (for testing)
func (s *Server) Scoring() *scoring.Service {
	return s.scoring
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// activityAdapter exposes transaction statistics as user activity for risk
// recalculation.
type activityAdapter struct {
	store transactions.Store
}

func (a *activityAdapter) UserActivity(ctx context.Context, userID string) (users.Activity, error) {
	st, err := a.store.UserStats(ctx, userID)
	if err != nil {
		return users.Activity{}, err
	}
	return users.Activity{
		Count:        st.Count,
		AvgAmount:    st.AvgAmount,
		FraudCount:   st.FraudCount,
		FlaggedCount: st.FlaggedCount,
	}, nil
}
