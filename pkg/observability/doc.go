// Package observability provides structured logging, Prometheus metrics,
// health probes and OpenTelemetry setup for gatekeeper.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.ParseLogLevel("info"), os.Stdout)
//	logger.WithField("role", "course-reviewer").Info("role created")
//
// Context helpers carry the user, session and active department so that
// FromContext attaches them to every line:
//
//	ctx = observability.WithUserID(ctx, userID)
//	ctx = observability.WithSessionID(ctx, sess.ID)
//	observability.FromContext(ctx).Warn("escalation refused")
//
// # Prometheus Metrics
//
// Metrics implements the recorder hooks of the evaluator, the role store
// and the session machine, so one value is passed to all three:
//
//	metrics := observability.NewMetrics(nil)
//	eval := evaluator.New(catalog, store, hierarchy, evaluator.WithRecorder(metrics))
//
// # Health
//
//	checker := observability.NewHealthChecker()
//	checker.Register("store", true, src.HealthCheck)
//	checker.Register("redis", false, observability.RedisProbe(client))
//	status := checker.Check(ctx)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:  true,
//		Endpoint: "otel-collector:4317",
//	}, logger)
//	defer providers.Shutdown(ctx)
package observability
