// Package exec provides an interface for command execution.
package exec

import (
	"context"
)

// CommandRunner defines the interface for running external commands.
// The tmux agent host drives tmux and ps through it, which lets tests
// replace the binaries with scripted output.
type CommandRunner interface {
	// Run executes a command and returns its stdout.
	// A non-zero exit returns an *ExitError carrying stderr.
	Run(ctx context.Context, name string, args ...string) (output []byte, err error)
}
