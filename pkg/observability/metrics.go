package observability

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/platinummonkey/gatekeeper/pkg/accesserr"
	"github.com/platinummonkey/gatekeeper/pkg/session"
)

// Metrics holds all Prometheus metrics. It satisfies the recorder hooks of
// the evaluator, the role store and the session machine.
type Metrics struct {
	registry *prometheus.Registry

	// Evaluation metrics
	EvaluationsTotal   *prometheus.CounterVec
	EvaluationDuration *prometheus.HistogramVec

	// Session metrics
	SessionTransitionsTotal *prometheus.CounterVec

	// Role memo metrics
	MemoHitsTotal   prometheus.Counter
	MemoMissesTotal prometheus.Counter

	// Snapshot metrics
	SnapshotReloadsTotal *prometheus.CounterVec
	SnapshotLoadDuration prometheus.Histogram
	SnapshotVersion      prometheus.Gauge

	// Store metrics
	StoreErrorsTotal *prometheus.CounterVec

	// Role write metrics
	RoleWritesTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics. A nil registry
// gets a fresh one.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		registry: registry,

		EvaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_evaluations_total",
				Help: "Total number of access right evaluations",
			},
			[]string{"outcome", "require_all"},
		),
		EvaluationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatekeeper_evaluation_duration_seconds",
				Help:    "Access right evaluation duration in seconds",
				Buckets: []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01, .025, .1},
			},
			[]string{"outcome"},
		),

		SessionTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_session_transitions_total",
				Help: "Total number of session transitions attempted",
			},
			[]string{"transition", "mode", "result"},
		),

		MemoHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatekeeper_role_memo_hits_total",
				Help: "Total number of effective rights memo hits",
			},
		),
		MemoMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatekeeper_role_memo_misses_total",
				Help: "Total number of effective rights memo misses",
			},
		),

		SnapshotReloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_snapshot_reloads_total",
				Help: "Total number of snapshot reloads",
			},
			[]string{"result"},
		),
		SnapshotLoadDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gatekeeper_snapshot_load_duration_seconds",
				Help:    "Snapshot load duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		SnapshotVersion: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gatekeeper_snapshot_version",
				Help: "Number of snapshots installed since start",
			},
		),

		StoreErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_store_errors_total",
				Help: "Total number of persistence collaborator failures",
			},
			[]string{"operation"},
		),

		RoleWritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_role_writes_total",
				Help: "Total number of role writes",
			},
			[]string{"operation", "result"},
		),
	}

	registry.MustRegister(
		m.EvaluationsTotal,
		m.EvaluationDuration,
		m.SessionTransitionsTotal,
		m.MemoHitsTotal,
		m.MemoMissesTotal,
		m.SnapshotReloadsTotal,
		m.SnapshotLoadDuration,
		m.SnapshotVersion,
		m.StoreErrorsTotal,
		m.RoleWritesTotal,
	)

	return m
}

// Registry returns the registry the metrics are registered with
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordEvaluation records one evaluation
func (m *Metrics) RecordEvaluation(outcome string, requireAll bool, duration time.Duration) {
	m.EvaluationsTotal.WithLabelValues(outcome, strconv.FormatBool(requireAll)).Inc()
	m.EvaluationDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordMemoHit records an effective rights memo hit
func (m *Metrics) RecordMemoHit() {
	m.MemoHitsTotal.Inc()
}

// RecordMemoMiss records an effective rights memo miss
func (m *Metrics) RecordMemoMiss() {
	m.MemoMissesTotal.Inc()
}

// SessionTransition records a session transition attempt. The mode label is
// the mode after the attempt.
func (m *Metrics) SessionTransition(_ context.Context, s *session.Session, t session.Transition, err error) {
	mode := ""
	if s != nil {
		mode = string(s.Mode)
	}
	m.SessionTransitionsTotal.WithLabelValues(string(t), mode, accesserr.Label(err)).Inc()
}

// RecordReload records a snapshot load
func (m *Metrics) RecordReload(duration time.Duration, err error) {
	m.SnapshotLoadDuration.Observe(duration.Seconds())
	m.SnapshotReloadsTotal.WithLabelValues(accesserr.Label(err)).Inc()
	if err == nil {
		m.SnapshotVersion.Inc()
	}
}

// RecordStoreError records a persistence collaborator failure
func (m *Metrics) RecordStoreError(operation string) {
	m.StoreErrorsTotal.WithLabelValues(operation).Inc()
}

// RecordRoleWrite records a role create, update or delete
func (m *Metrics) RecordRoleWrite(operation string, err error) {
	m.RoleWritesTotal.WithLabelValues(operation, accesserr.Label(err)).Inc()
}
