package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/gatekeeper/pkg/config"
	"github.com/platinummonkey/gatekeeper/pkg/rbac"
	"github.com/platinummonkey/gatekeeper/pkg/storage"
	"github.com/platinummonkey/gatekeeper/pkg/storage/postgres"
)

// newLogger returns the operator-facing logger. Results go to stdout,
// progress and warnings to stderr.
func newLogger(verbose bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	logger.SetLevel(logrus.InfoLevel)
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	return logger
}

// loadConfig reads the environment; a non-empty snapshot path forces the
// snapshot backend
func loadConfig(snapshotPath string) (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	if snapshotPath != "" {
		cfg.Storage.Type = "snapshot"
		cfg.Storage.SnapshotPath = snapshotPath
	}
	return cfg, nil
}

// openSource connects the configured backend. The returned close func is
// never nil.
func openSource(ctx context.Context, cfg *config.Config, log *logrus.Logger) (storage.Source, func() error, error) {
	switch cfg.Storage.Type {
	case "postgres":
		src, err := postgres.Open(ctx, cfg.Storage)
		if err != nil {
			return nil, nil, err
		}
		log.Debug("Connected to postgres")
		return src, src.Close, nil
	default:
		src, err := storage.NewFileSystemSource(cfg.Storage.SnapshotPath)
		if err != nil {
			return nil, nil, err
		}
		log.WithField("path", cfg.Storage.SnapshotPath).Debug("Loaded snapshot file")
		return src, func() error { return nil }, nil
	}
}

// openEngine builds and loads an engine for one-shot commands
func openEngine(ctx context.Context, snapshotPath string, log *logrus.Logger, opts ...rbac.Option) (*rbac.Engine, func() error, error) {
	cfg, err := loadConfig(snapshotPath)
	if err != nil {
		return nil, nil, err
	}

	src, closeSource, err := openSource(ctx, cfg, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open source: %w", err)
	}

	engine := rbac.New(src, cfg.EngineOptions(), opts...)
	if err := engine.Load(ctx); err != nil {
		closeSource()
		return nil, nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	return engine, closeSource, nil
}
