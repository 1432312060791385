package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okProbe(context.Context) error   { return nil }
func failProbe(context.Context) error { return errors.New("down") }

func TestHealthCheckStatuses(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(h *HealthChecker)
		status string
	}{
		{"no probes", func(*HealthChecker) {}, StatusHealthy},
		{"all healthy", func(h *HealthChecker) {
			h.Register("store", true, okProbe)
			h.Register("redis", false, okProbe)
		}, StatusHealthy},
		{"optional failure degrades", func(h *HealthChecker) {
			h.Register("store", true, okProbe)
			h.Register("redis", false, failProbe)
		}, StatusDegraded},
		{"critical failure", func(h *HealthChecker) {
			h.Register("store", true, failProbe)
			h.Register("redis", false, failProbe)
		}, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthChecker()
			tt.setup(h)
			assert.Equal(t, tt.status, h.Check(context.Background()).Status)
		})
	}
}

func TestHealthCheckDependencyDetails(t *testing.T) {
	h := NewHealthChecker()
	h.Register("store", true, failProbe)

	status := h.Check(context.Background())
	dep := status.Dependencies["store"]
	assert.Equal(t, StatusUnhealthy, dep.Status)
	assert.Equal(t, "down", dep.Message)
	assert.True(t, dep.Critical)
}

func TestRedisProbe(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	probe := RedisProbe(client)
	assert.NoError(t, probe(context.Background()))

	mr.Close()
	assert.Error(t, probe(context.Background()))
}

func TestReadinessHandler(t *testing.T) {
	h := NewHealthChecker()
	h.Register("store", true, failProbe)

	rec := httptest.NewRecorder()
	h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var status HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, StatusUnhealthy, status.Status)

	h.Register("store", true, okProbe)
	rec = httptest.NewRecorder()
	h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
