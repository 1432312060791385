package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Probe checks one dependency
type Probe func(ctx context.Context) error

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus represents the health of a single dependency
type DependencyStatus struct {
	Status    string        `json:"status"`
	Critical  bool          `json:"critical"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency_ms,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

type registeredProbe struct {
	probe    Probe
	critical bool
}

// HealthChecker runs registered dependency probes. A failing critical
// probe makes the whole status unhealthy; a failing optional one degrades it.
type HealthChecker struct {
	mu     sync.RWMutex
	probes map[string]registeredProbe
}

// NewHealthChecker creates a health checker with no probes
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{probes: make(map[string]registeredProbe)}
}

// Register adds or replaces a probe
func (h *HealthChecker) Register(name string, critical bool, probe Probe) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes[name] = registeredProbe{probe: probe, critical: critical}
}

// RedisProbe pings a Redis client
func RedisProbe(client *redis.Client) Probe {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}

// Check runs every probe in name order
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	h.mu.RLock()
	names := make([]string, 0, len(h.probes))
	for name := range h.probes {
		names = append(names, name)
	}
	probes := make(map[string]registeredProbe, len(h.probes))
	for k, v := range h.probes {
		probes[k] = v
	}
	h.mu.RUnlock()
	sort.Strings(names)

	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now(),
		Dependencies: make(map[string]DependencyStatus, len(names)),
	}

	for _, name := range names {
		p := probes[name]
		start := time.Now()
		err := p.probe(ctx)

		dep := DependencyStatus{
			Status:    StatusHealthy,
			Critical:  p.critical,
			Latency:   time.Since(start),
			Timestamp: time.Now(),
		}
		if err != nil {
			dep.Status = StatusUnhealthy
			dep.Message = err.Error()
			switch {
			case p.critical:
				status.Status = StatusUnhealthy
			case status.Status == StatusHealthy:
				status.Status = StatusDegraded
			}
		}
		status.Dependencies[name] = dep
	}

	return status
}

// Readiness serves Check as JSON, with 503 when unhealthy
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)

	w.Header().Set("Content-Type", "application/json")
	if status.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(status)
}
