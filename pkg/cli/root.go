package cli

import (
	"flag"
	"fmt"
	"os"
	"sort"
)

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Run         func(args []string) error
	Subcommands map[string]*Command
	Flags       *flag.FlagSet
}

// NewRootCommand creates the root command
func NewRootCommand() *Command {
	root := &Command{
		Name:        "gatekeeper",
		Description: "Gatekeeper - Role and access-rights resolution",
		Subcommands: make(map[string]*Command),
		Flags:       flag.NewFlagSet("gatekeeper", flag.ExitOnError),
	}

	// Add subcommands
	root.Subcommands["check"] = newCheckCommand()
	root.Subcommands["memberships"] = newMembershipsCommand()
	root.Subcommands["role-rights"] = newRoleRightsCommand()
	root.Subcommands["validate"] = newValidateCommand()
	root.Subcommands["watch"] = newWatchCommand()

	return root
}

// Execute runs the command with the process arguments
func (c *Command) Execute() error {
	return c.Dispatch(os.Args[1:])
}

// Dispatch runs the subcommand named by args[0]
func (c *Command) Dispatch(args []string) error {
	if len(args) == 0 {
		return c.usage()
	}

	// Check for help flag
	if args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		return c.usage()
	}

	// Check for subcommand
	if subcmd, ok := c.Subcommands[args[0]]; ok {
		return subcmd.Run(args[1:])
	}

	return fmt.Errorf("unknown command: %s", args[0])
}

// usage prints the command usage
func (c *Command) usage() error {
	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Printf("Usage: %s <command> [args]\n\n", c.Name)
	fmt.Printf("Commands:\n")
	for _, name := range names {
		fmt.Printf("  %-15s %s\n", name, c.Subcommands[name].Description)
	}
	return nil
}
