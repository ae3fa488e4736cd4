package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
)

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// Pinger is satisfied by *redis.Client; wrap database.DB.PingContext in PingFunc.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error {
	return f(ctx)
}

// Checker reports on the stores the merge and detection services depend on.
// Every registered dependency must answer a ping for the service to be healthy.
type Checker struct {
	deps      map[string]Pinger
	version   string
	startTime time.Time
	timeout   time.Duration
	ready     atomic.Bool
}

func NewChecker(version string) *Checker {
	return &Checker{
		deps:      make(map[string]Pinger),
		version:   version,
		startTime: time.Now(),
		timeout:   3 * time.Second,
	}
}

// AddDependency registers a named check. A nil pinger is ignored so optional
// stores can be passed unconditionally.
func (c *Checker) AddDependency(name string, p Pinger) *Checker {
	if p != nil {
		c.deps[name] = p
	}
	return c
}

func (c *Checker) SetReady(ready bool) {
	c.ready.Store(ready)
}

func (c *Checker) RegisterRoutes(e *echo.Echo) {
	e.GET("/api/v1/health", c.Health)
	e.GET("/api/v1/health/live", c.Live)
	e.GET("/api/v1/health/ready", c.Ready)
}

type HealthStatus struct {
	Status     string                  `json:"status"`
	Version    string                  `json:"version"`
	Uptime     string                  `json:"uptime"`
	Checks     map[string]*CheckResult `json:"checks"`
	ReportedAt time.Time               `json:"reported_at"`
}

type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// Check pings every dependency concurrently.
func (c *Checker) Check(ctx context.Context) *HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	names := make([]string, 0, len(c.deps))
	for name := range c.deps {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make([]*CheckResult, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, p Pinger) {
			defer wg.Done()
			start := time.Now()
			if err := p.Ping(ctx); err != nil {
				results[i] = &CheckResult{Status: StatusUnhealthy, Message: err.Error()}
				return
			}
			results[i] = &CheckResult{Status: StatusHealthy, Latency: time.Since(start).String()}
		}(i, c.deps[name])
	}
	wg.Wait()

	status := &HealthStatus{
		Status:     StatusHealthy,
		Version:    c.version,
		Uptime:     time.Since(c.startTime).Round(time.Second).String(),
		Checks:     make(map[string]*CheckResult, len(names)),
		ReportedAt: time.Now().UTC(),
	}
	if len(names) == 0 {
		status.Status = StatusUnhealthy
	}
	for i, name := range names {
		status.Checks[name] = results[i]
		if results[i].Status != StatusHealthy {
			status.Status = StatusUnhealthy
		}
	}
	return status
}

func (c *Checker) Health(ctx echo.Context) error {
	status := c.Check(ctx.Request().Context())
	if status.Status != StatusHealthy {
		return ctx.JSON(http.StatusServiceUnavailable, status)
	}
	return ctx.JSON(http.StatusOK, status)
}

func (c *Checker) Live(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, map[string]string{"status": "alive"})
}

// Ready is false until startup finishes and again once shutdown begins.
func (c *Checker) Ready(ctx echo.Context) error {
	if c.ready.Load() {
		return ctx.JSON(http.StatusOK, map[string]string{"status": "ready"})
	}
	return ctx.JSON(http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
}
