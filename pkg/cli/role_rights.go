package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/platinummonkey/gatekeeper/pkg/roles"
)

func newRoleRightsCommand() *Command {
	cmd := &Command{
		Name:        "role-rights",
		Description: "Show the effective rights of a role",
		Flags:       flag.NewFlagSet("role-rights", flag.ContinueOnError),
		Run:         runRoleRights,
	}

	cmd.Flags.String("snapshot", "", "Snapshot file (defaults to GATEKEEPER_SNAPSHOT_PATH)")
	cmd.Flags.String("role", "", "Role name")
	cmd.Flags.Bool("json", false, "Output in JSON format")
	cmd.Flags.Bool("v", false, "Verbose logging")

	return cmd
}

func runRoleRights(args []string) error {
	cmd := newRoleRightsCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}

	snapshot := cmd.Flags.Lookup("snapshot").Value.String()
	role := cmd.Flags.Lookup("role").Value.String()
	outputJSON := cmd.Flags.Lookup("json").Value.String() == "true"
	verbose := cmd.Flags.Lookup("v").Value.String() == "true"

	if role == "" {
		return fmt.Errorf("role is required")
	}

	engine, closeSource, err := openEngine(context.Background(), snapshot, newLogger(verbose))
	if err != nil {
		return err
	}
	defer closeSource()

	keys, err := engine.EffectiveRights(roles.Name(role))
	if err != nil {
		return err
	}

	if outputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(keys)
	}

	for _, k := range keys {
		fmt.Println(k)
	}
	fmt.Printf("\nTotal: %d rights\n", len(keys))
	return nil
}
