package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/platinummonkey/gatekeeper/pkg/departments"
	"github.com/platinummonkey/gatekeeper/pkg/membership"
	"github.com/platinummonkey/gatekeeper/pkg/roles"
)

func newMembershipsCommand() *Command {
	cmd := &Command{
		Name:        "memberships",
		Description: "List a user's effective department memberships",
		Flags:       flag.NewFlagSet("memberships", flag.ContinueOnError),
		Run:         runMemberships,
	}

	cmd.Flags.String("snapshot", "", "Snapshot file (defaults to GATEKEEPER_SNAPSHOT_PATH)")
	cmd.Flags.String("user", "", "User ID")
	cmd.Flags.Bool("json", false, "Output in JSON format")
	cmd.Flags.Bool("v", false, "Verbose logging")

	return cmd
}

func runMemberships(args []string) error {
	cmd := newMembershipsCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}

	snapshot := cmd.Flags.Lookup("snapshot").Value.String()
	userID := cmd.Flags.Lookup("user").Value.String()
	outputJSON := cmd.Flags.Lookup("json").Value.String() == "true"
	verbose := cmd.Flags.Lookup("v").Value.String() == "true"

	if userID == "" {
		return fmt.Errorf("user is required")
	}

	ctx := context.Background()
	engine, closeSource, err := openEngine(ctx, snapshot, newLogger(verbose))
	if err != nil {
		return err
	}
	defer closeSource()

	effective, err := engine.ExpandEffectiveMembership(ctx, userID)
	if err != nil {
		return err
	}
	level, err := engine.EffectiveLevel(ctx, userID)
	if err != nil {
		return err
	}

	if outputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			UserID      string                 `json:"user_id"`
			Level       int                    `json:"effective_level"`
			Memberships []membership.Effective `json:"memberships"`
		}{userID, level, effective})
	}

	if len(effective) == 0 {
		fmt.Printf("%s has no effective memberships\n", userID)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "DEPARTMENT\tROLES\tSOURCE\tPRIMARY")
	for _, e := range effective {
		source := "direct"
		if !e.IsDirect {
			source = "inherited from " + joinIDs(e.InheritedFrom)
		}
		primary := ""
		if e.IsPrimary {
			primary = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.DepartmentID, joinRoles(e.Roles), source, primary)
	}
	w.Flush()
	fmt.Printf("\nEffective level: %d\n", level)
	return nil
}

func joinRoles(names []roles.Name) string {
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = string(n)
	}
	return strings.Join(parts, ",")
}

func joinIDs(ids []departments.ID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return strings.Join(parts, ",")
}
