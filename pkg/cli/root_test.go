package cli

import (
	"bytes"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRootCommand(t *testing.T) {
	root := NewRootCommand()

	// Test basic properties
	assert.Equal(t, "gatekeeper", root.Name)
	assert.Equal(t, "Gatekeeper - Role and access-rights resolution", root.Description)
	assert.NotNil(t, root.Subcommands)
	assert.NotNil(t, root.Flags)

	// Test that all expected subcommands are registered
	expectedCommands := []string{
		"check",
		"memberships",
		"role-rights",
		"validate",
		"watch",
	}

	for _, cmdName := range expectedCommands {
		assert.Contains(t, root.Subcommands, cmdName, "Expected subcommand %s to be registered", cmdName)
		assert.NotNil(t, root.Subcommands[cmdName].Run, "Expected subcommand %s to be runnable", cmdName)
	}

	// Verify the exact number of subcommands
	assert.Equal(t, len(expectedCommands), len(root.Subcommands))
}

func TestCommandUsage(t *testing.T) {
	root := NewRootCommand()

	output, err := captureStdout(t, root.usage)
	assert.NoError(t, err)

	assert.Contains(t, output, "Usage: gatekeeper <command> [args]")
	assert.Contains(t, output, "Commands:")
	for name := range root.Subcommands {
		assert.Contains(t, output, name)
	}
}

func TestCommandDispatch(t *testing.T) {
	root := NewRootCommand()

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "no args prints usage", args: nil},
		{name: "help flag", args: []string{"--help"}},
		{name: "help command", args: []string{"help"}},
		{name: "unknown command", args: []string{"frobnicate"}, wantErr: "unknown command: frobnicate"},
		{name: "check without user", args: []string{"check", "courses:read"}, wantErr: "user is required"},
		{name: "check without rights", args: []string{"check", "-user", "u1"}, wantErr: "at least one access right is required"},
		{name: "memberships without user", args: []string{"memberships"}, wantErr: "user is required"},
		{name: "role-rights without role", args: []string{"role-rights"}, wantErr: "role is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := captureStdout(t, func() error { return root.Dispatch(tt.args) })
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

// captureStdout runs fn with os.Stdout redirected and returns what it wrote
func captureStdout(t *testing.T, fn func() error) (string, error) {
	t.Helper()

	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	done := make(chan string)
	go func() {
		var buf bytes.Buffer
		io.Copy(&buf, r)
		done <- buf.String()
	}()

	runErr := fn()

	w.Close()
	os.Stdout = oldStdout
	return <-done, runErr
}
