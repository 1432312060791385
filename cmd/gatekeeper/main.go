package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/platinummonkey/gatekeeper/pkg/cli"
)

func main() {
	rootCmd := cli.NewRootCommand()

	if err := rootCmd.Execute(); err != nil {
		// a denial is a result, not a failure
		if errors.Is(err, cli.ErrDenied) {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
