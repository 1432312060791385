package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/platinummonkey/gatekeeper/pkg/departments"
	"github.com/platinummonkey/gatekeeper/pkg/evaluator"
	"github.com/platinummonkey/gatekeeper/pkg/rbac"
)

// ErrDenied is returned by check when the evaluation is not granted
var ErrDenied = errors.New("access denied")

func newCheckCommand() *Command {
	cmd := &Command{
		Name:        "check",
		Description: "Evaluate access rights for a user",
		Flags:       flag.NewFlagSet("check", flag.ContinueOnError),
		Run:         runCheck,
	}

	cmd.Flags.String("snapshot", "", "Snapshot file (defaults to GATEKEEPER_SNAPSHOT_PATH)")
	cmd.Flags.String("user", "", "User ID")
	cmd.Flags.String("dept", "", "Restrict the evaluation to a department")
	cmd.Flags.Bool("all", false, "Require every right instead of any")
	cmd.Flags.String("password", "", "Escalation credential; evaluates in an escalated session")
	cmd.Flags.Bool("json", false, "Output in JSON format")
	cmd.Flags.Bool("v", false, "Verbose logging")

	return cmd
}

func runCheck(args []string) error {
	cmd := newCheckCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}

	snapshot := cmd.Flags.Lookup("snapshot").Value.String()
	userID := cmd.Flags.Lookup("user").Value.String()
	dept := cmd.Flags.Lookup("dept").Value.String()
	requireAll := cmd.Flags.Lookup("all").Value.String() == "true"
	password := cmd.Flags.Lookup("password").Value.String()
	outputJSON := cmd.Flags.Lookup("json").Value.String() == "true"
	verbose := cmd.Flags.Lookup("v").Value.String() == "true"
	requested := cmd.Flags.Args()

	if userID == "" {
		return fmt.Errorf("user is required")
	}
	if len(requested) == 0 {
		return fmt.Errorf("at least one access right is required")
	}

	ctx := context.Background()
	log := newLogger(verbose)

	engine, closeSource, err := openEngine(ctx, snapshot, log)
	if err != nil {
		return err
	}
	defer closeSource()

	opts := rbac.EvaluateOptions{
		RequireAll:   requireAll,
		DepartmentID: departments.ID(dept),
	}
	if password != "" {
		s, err := engine.Login(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to start session: %w", err)
		}
		if err := engine.Escalate(ctx, s, password); err != nil {
			return fmt.Errorf("escalation failed: %w", err)
		}
		log.WithField("roles", s.EscalatedRoles).Debug("Session escalated")
		opts.Session = s
	}

	res, err := engine.Evaluate(ctx, userID, requested, opts)
	if err != nil {
		return err
	}

	if outputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return fmt.Errorf("failed to encode result: %w", err)
		}
	} else {
		printResult(res)
	}

	if !res.Granted {
		return ErrDenied
	}
	return nil
}

func printResult(res evaluator.Result) {
	fmt.Printf("Granted: %t\n", res.Granted)
	if len(res.Trail) > 0 {
		fmt.Println()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "RIGHT\tROLE\tDEPARTMENT\tPATTERN")
		for _, g := range res.Trail {
			dept := string(g.DepartmentID)
			if dept == "" {
				dept = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", g.Right, g.Role, dept, g.Pattern)
		}
		w.Flush()
	}
	if len(res.DeniedRights) > 0 {
		fmt.Printf("\nDenied: %s\n", strings.Join(res.DeniedRights, ", "))
	}
}
