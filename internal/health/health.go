// Package health runs named dependency checks for the health endpoints.
package health

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

// DefaultTimeout bounds a single check.
const DefaultTimeout = 2 * time.Second

// Status is the outcome of one check.
type Status struct {
	Name     string `json:"name"`
	Healthy  bool   `json:"healthy"`
	Critical bool   `json:"critical"`
	Detail   string `json:"detail,omitempty"`
	Latency  string `json:"latency"`
}

// Check returns nil when the dependency is usable.
type Check func(ctx context.Context) error

type namedCheck struct {
	name     string
	critical bool
	check    Check
}

// Registry holds named checks and tracks process liveness and readiness.
type Registry struct {
	mu      sync.RWMutex
	checks  []namedCheck
	timeout time.Duration
	version string

	ready atomic.Bool
	alive atomic.Bool
}

// NewRegistry creates a registry that reports version in its responses.
func NewRegistry(version string) *Registry {
	r := &Registry{timeout: DefaultTimeout, version: version}
	r.alive.Store(true)
	return r
}

// Register adds a check. A failing critical check makes the service
// unhealthy; a failing non-critical one only degrades it.
func (r *Registry) Register(name string, critical bool, check Check) {
	r.mu.Lock()
	r.checks = append(r.checks, namedCheck{name: name, critical: critical, check: check})
	r.mu.Unlock()
}

// SetReady flips the readiness probe.
func (r *Registry) SetReady(ready bool) { r.ready.Store(ready) }

// SetAlive flips the liveness probe.
func (r *Registry) SetAlive(alive bool) { r.alive.Store(alive) }

// CheckAll runs every check concurrently, each under its own timeout.
// healthy is false only when a critical check fails.
func (r *Registry) CheckAll(ctx context.Context) (healthy bool, statuses []Status) {
	r.mu.RLock()
	checks := make([]namedCheck, len(r.checks))
	copy(checks, r.checks)
	r.mu.RUnlock()

	statuses = make([]Status, len(checks))
	var g errgroup.Group
	for i, nc := range checks {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, r.timeout)
			defer cancel()

			start := time.Now()
			err := nc.check(cctx)
			st := Status{
				Name:     nc.name,
				Healthy:  err == nil,
				Critical: nc.critical,
				Latency:  time.Since(start).Round(time.Microsecond).String(),
			}
			if err != nil {
				st.Detail = err.Error()
			}
			statuses[i] = st
			return nil
		})
	}
	_ = g.Wait()

	healthy = true
	for _, st := range statuses {
		if !st.Healthy && st.Critical {
			healthy = false
		}
	}
	return healthy, statuses
}

// Response is the body of GET /health.
type Response struct {
	Status    string   `json:"status"` // healthy, degraded or unhealthy
	Version   string   `json:"version"`
	Checks    []Status `json:"checks"`
	Timestamp string   `json:"timestamp"`
}

// RegisterRoutes mounts /health, /health/live and /health/ready.
func (r *Registry) RegisterRoutes(router gin.IRouter) {
	router.GET("/health", r.handleHealth)
	router.GET("/health/live", r.handleLive)
	router.GET("/health/ready", r.handleReady)
}

func (r *Registry) handleHealth(c *gin.Context) {
	healthy, statuses := r.CheckAll(c.Request.Context())

	status, code := "healthy", http.StatusOK
	if !healthy {
		status, code = "unhealthy", http.StatusServiceUnavailable
	} else {
		for _, st := range statuses {
			if !st.Healthy {
				status = "degraded"
				break
			}
		}
	}

	c.JSON(code, Response{
		Status:    status,
		Version:   r.version,
		Checks:    statuses,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (r *Registry) handleLive(c *gin.Context) {
	if !r.alive.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (r *Registry) handleReady(c *gin.Context) {
	if !r.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
