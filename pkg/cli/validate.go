package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/rbac"
	"github.com/platinummonkey/gatekeeper/pkg/storage"
)

func newValidateCommand() *Command {
	cmd := &Command{
		Name:        "validate",
		Description: "Load a snapshot and report structural errors",
		Flags:       flag.NewFlagSet("validate", flag.ContinueOnError),
		Run:         runValidate,
	}

	cmd.Flags.String("snapshot", "", "Snapshot file (defaults to GATEKEEPER_SNAPSHOT_PATH)")
	cmd.Flags.Bool("json", false, "Output the health report in JSON format")
	cmd.Flags.Bool("v", false, "Verbose logging")

	return cmd
}

func runValidate(args []string) error {
	cmd := newValidateCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}

	snapshot := cmd.Flags.Lookup("snapshot").Value.String()
	outputJSON := cmd.Flags.Lookup("json").Value.String() == "true"
	verbose := cmd.Flags.Lookup("v").Value.String() == "true"

	ctx := context.Background()
	log := newLogger(verbose)

	cfg, err := loadConfig(snapshot)
	if err != nil {
		return err
	}
	src, closeSource, err := openSource(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	defer closeSource()

	engine := rbac.New(src, cfg.EngineOptions())
	if err := engine.Load(ctx); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	catalog, _ := engine.Catalog()
	defs, _ := engine.Roles()
	hierarchy, _ := engine.Hierarchy()

	var broken int
	for _, def := range defs {
		if _, err := engine.EffectiveRights(def.Name); err != nil {
			log.WithError(err).WithField("role", def.Name).Error("Role does not resolve")
			broken++
		}
	}
	if broken > 0 {
		return fmt.Errorf("validation failed: %d roles do not resolve", broken)
	}

	status := newHealthChecker(engine, src, nil).Check(ctx)
	if outputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(status); err != nil {
			return fmt.Errorf("failed to encode health report: %w", err)
		}
	} else {
		fmt.Printf("Access rights: %d\n", catalog.Len())
		fmt.Printf("Roles:         %d\n", len(defs))
		fmt.Printf("Departments:   %d\n", hierarchy.Len())
		fmt.Printf("Status:        %s\n", status.Status)
	}

	if status.Status == observability.StatusUnhealthy {
		return fmt.Errorf("validation failed: source is unhealthy")
	}
	log.Debug("Snapshot is valid")
	return nil
}

// newHealthChecker registers probes for the loaded snapshot, the source
// backend and an optional session store
func newHealthChecker(engine *rbac.Engine, src storage.Source, client *redis.Client) *observability.HealthChecker {
	health := observability.NewHealthChecker()

	health.Register("snapshot", true, func(context.Context) error {
		if engine.LoadedAt().IsZero() {
			return rbac.ErrNotLoaded
		}
		return nil
	})
	if hc, ok := src.(storage.HealthChecker); ok {
		health.Register("source", true, hc.HealthCheck)
	}
	if client != nil {
		health.Register("sessions", false, observability.RedisProbe(client))
	}

	return health
}
