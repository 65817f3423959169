// Package statsproc runs the configured statistics sub-process and
// captures its standard output, for the locally-handled agent.stat
// command (spec §4.4, §6). It is an external collaborator: the gateway
// only knows how to invoke a command and read its stdout.
package statsproc

import (
	"context"
	"os/exec"
)

// Runner invokes a configured command and returns its stdout.
type Runner struct {
	// Command is the executable path or name.
	Command string
	// Args are passed to Command verbatim.
	Args []string
	// Ctx, when non-nil, bounds the sub-process's lifetime so a shutdown
	// in flight does not leave an orphaned child.
	Ctx context.Context
}

// NewRunner returns a Runner for the given command and arguments.
func NewRunner(ctx context.Context, command string, args []string) *Runner {
	return &Runner{Command: command, Args: args, Ctx: ctx}
}

// Run executes the configured command and returns its captured stdout. A
// non-zero exit or failure to start the process is reported as an error,
// whose text is what the caller relays to the console in a CANT response.
func (r *Runner) Run() ([]byte, error) {
	ctx := r.Ctx
	if ctx == nil {
		ctx = context.Background()
	}

	cmd := exec.CommandContext(ctx, r.Command, r.Args...)
	out, err := cmd.Output()
	if err != nil {
		return nil, err
	}
	return out, nil
}
