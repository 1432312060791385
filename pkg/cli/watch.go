package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/gatekeeper/pkg/async"
	"github.com/platinummonkey/gatekeeper/pkg/audit"
	"github.com/platinummonkey/gatekeeper/pkg/config"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/rbac"
	"github.com/platinummonkey/gatekeeper/pkg/session"
	"github.com/platinummonkey/gatekeeper/pkg/storage"
)

func newWatchCommand() *Command {
	cmd := &Command{
		Name:        "watch",
		Description: "Serve a snapshot and reload it when it changes",
		Flags:       flag.NewFlagSet("watch", flag.ContinueOnError),
		Run:         runWatch,
	}

	cmd.Flags.String("snapshot", "", "Snapshot file (defaults to GATEKEEPER_SNAPSHOT_PATH)")
	cmd.Flags.String("refresh", "", "Cron schedule for periodic reloads (defaults to GATEKEEPER_REFRESH_SCHEDULE)")
	cmd.Flags.String("addr", "", "Metrics and health address (defaults to GATEKEEPER_METRICS_ADDR)")
	cmd.Flags.Bool("v", false, "Verbose logging")

	return cmd
}

func runWatch(args []string) error {
	cmd := newWatchCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(cmd.Flags.Lookup("snapshot").Value.String())
	if err != nil {
		return err
	}
	if refresh := cmd.Flags.Lookup("refresh").Value.String(); refresh != "" {
		cfg.Engine.RefreshSchedule = refresh
	}
	if addr := cmd.Flags.Lookup("addr").Value.String(); addr != "" {
		cfg.Observability.MetricsAddr = addr
	}
	verbose := cmd.Flags.Lookup("v").Value.String() == "true"

	return watch(context.Background(), cfg, newLogger(verbose))
}

// watch runs until SIGINT, SIGTERM or ctx is done
func watch(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	shutdown := observability.NewShutdownManager(logger, 30*time.Second)

	otelProviders, err := observability.InitOTel(ctx, cfg.OTel(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	shutdown.Register("otel", otelProviders.Shutdown)

	auditLog, err := newAuditLogger(cfg, logger)
	if err != nil {
		shutdown.Shutdown()
		return err
	}
	shutdown.Register("audit", func(context.Context) error { return auditLog.Close() })

	src, closeSource, err := openSource(ctx, cfg, log)
	if err != nil {
		shutdown.Shutdown()
		return fmt.Errorf("failed to open source: %w", err)
	}
	shutdown.Register("source", func(context.Context) error { return closeSource() })

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	opts := []rbac.Option{
		rbac.WithLogger(logger),
		rbac.WithMetrics(metrics),
		rbac.WithAuditLogger(auditLog),
	}

	var client *redis.Client
	if cfg.Storage.RedisURL != "" {
		client, err = session.DialRedis(ctx, session.RedisConfig{
			URL:        cfg.Storage.RedisURL,
			Password:   cfg.Storage.RedisPassword,
			DB:         cfg.Storage.RedisDB,
			MaxRetries: cfg.Storage.RedisMaxRetries,
			PoolSize:   cfg.Storage.RedisPoolSize,
		})
		if err != nil {
			shutdown.Shutdown()
			return err
		}
		shutdown.Register("redis", func(context.Context) error { return client.Close() })
		opts = append(opts, rbac.WithRedisSessions(client, cfg.Session.RedisPrefix))
	}

	engine := rbac.New(src, cfg.EngineOptions(), opts...)
	if err := engine.Load(ctx); err != nil {
		shutdown.Shutdown()
		return fmt.Errorf("failed to load snapshot: %w", err)
	}
	log.WithField("backend", cfg.Storage.Type).Info("Snapshot loaded")

	if fs, ok := src.(*storage.FileSystemSource); ok && fs.Path() != "" {
		watchCtx, cancel := context.WithCancel(ctx)
		done := async.Go(watchCtx, logger, "snapshot watcher", func(ctx context.Context) error {
			return fs.Watch(ctx, func(err error) {
				if err != nil {
					log.WithError(err).Warn("Snapshot reload failed, keeping previous snapshot")
					return
				}
				if err := engine.Load(ctx); err != nil {
					log.WithError(err).Warn("Snapshot rebuild failed, keeping previous snapshot")
					return
				}
				log.WithField("path", fs.Path()).Info("Snapshot reloaded")
			})
		})
		shutdown.Register("watcher", func(context.Context) error {
			cancel()
			<-done
			return nil
		})
		log.WithField("path", fs.Path()).Info("Watching snapshot file")
	}

	if cfg.Engine.RefreshSchedule != "" {
		if err := engine.StartRefresh(cfg.Engine.RefreshSchedule); err != nil {
			shutdown.Shutdown()
			return err
		}
		shutdown.Register("refresh", engine.Stop)
		log.WithField("schedule", cfg.Engine.RefreshSchedule).Info("Periodic refresh scheduled")
	}

	if cfg.Observability.MetricsEnabled {
		server := &http.Server{
			Addr:              cfg.Observability.MetricsAddr,
			Handler:           newOpsRouter(metrics, newHealthChecker(engine, src, client)),
			ReadHeaderTimeout: 5 * time.Second,
		}
		async.Go(ctx, logger, "metrics server", func(context.Context) error {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		shutdown.Register("http", server.Shutdown)
		log.WithField("addr", server.Addr).Info("Serving metrics and health")
	}

	return shutdown.Wait(ctx)
}

// newOpsRouter serves metrics and health probes
func newOpsRouter(metrics *observability.Metrics, health *observability.HealthChecker) http.Handler {
	router := mux.NewRouter()
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)
	router.HandleFunc("/health/ready", health.Readiness).Methods(http.MethodGet)
	return otelhttp.NewHandler(router, "gatekeeper-ops")
}

// newAuditLogger logs audit events through the service logger and, when
// enabled, to rotated files
func newAuditLogger(cfg *config.Config, logger *observability.Logger) (audit.Logger, error) {
	sinks := []audit.Logger{audit.NewSlogLogger(logger)}
	if cfg.Audit.Enabled {
		file, err := audit.NewFileLogger(cfg.AuditLogger())
		if err != nil {
			return nil, fmt.Errorf("failed to open audit log: %w", err)
		}
		sinks = append(sinks, file)
	}
	multi := audit.NewMultiLogger(sinks...)
	multi.SetAsync(true)
	return multi, nil
}
