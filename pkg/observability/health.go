package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"sync"
	"time"
)

// HealthStatus represents the overall health of the service.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// Check is a single named health check.
type Check struct {
	Name     string
	CheckFn  func(context.Context) error
	Timeout  time.Duration
	Critical bool
}

// HealthChecker runs registered checks and reports aggregate health.
type HealthChecker struct {
	mu     sync.RWMutex
	checks []Check
	start  time.Time
}

// NewHealthChecker creates an empty health checker.
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{start: time.Now()}
}

// Register adds a check.
func (h *HealthChecker) Register(c Check) {
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Second
	}
	h.mu.Lock()
	h.checks = append(h.checks, c)
	h.mu.Unlock()
}

// PingCheck is a trivial always-healthy check.
func PingCheck() Check {
	return Check{
		Name:    "ping",
		CheckFn: func(context.Context) error { return nil },
	}
}

// CheckStatus is the reported status of one check.
type CheckStatus struct {
	Status  HealthStatus `json:"status"`
	Message string       `json:"message,omitempty"`
}

// HealthResponse is the body of the health endpoint.
type HealthResponse struct {
	Status    HealthStatus           `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]CheckStatus `json:"checks"`
	System    SystemInfo             `json:"system"`
}

// SystemInfo reports process-level stats.
type SystemInfo struct {
	NumGoroutines int `json:"num_goroutines"`
	NumCPU        int `json:"num_cpu"`
}

// Run executes all checks and aggregates the result. A failing critical
// check is unhealthy; a failing non-critical check is degraded.
func (h *HealthChecker) Run(ctx context.Context) HealthResponse {
	h.mu.RLock()
	checks := make([]Check, len(h.checks))
	copy(checks, h.checks)
	start := h.start
	h.mu.RUnlock()

	resp := HealthResponse{
		Status:    HealthStatusHealthy,
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(start).Round(time.Second).String(),
		Checks:    make(map[string]CheckStatus, len(checks)),
		System: SystemInfo{
			NumGoroutines: runtime.NumGoroutine(),
			NumCPU:        runtime.NumCPU(),
		},
	}

	for _, c := range checks {
		cctx, cancel := context.WithTimeout(ctx, c.Timeout)
		err := c.CheckFn(cctx)
		cancel()

		status := CheckStatus{Status: HealthStatusHealthy}
		if err != nil {
			status = CheckStatus{Status: HealthStatusUnhealthy, Message: err.Error()}
			if c.Critical {
				resp.Status = HealthStatusUnhealthy
			} else if resp.Status == HealthStatusHealthy {
				resp.Status = HealthStatusDegraded
			}
		}
		resp.Checks[c.Name] = status
	}
	return resp
}

// Handler serves the aggregated health report.
func (h *HealthChecker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := h.Run(r.Context())
		code := http.StatusOK
		if resp.Status == HealthStatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(resp)
	}
}
