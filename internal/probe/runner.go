// Package probe implements the detector adapters: OS-facing checks that
// feed the reconciliation engine. Every probe degrades to a conservative
// answer on failure and honors context cancellation, so one stuck OS
// utility cannot wedge a pass.
package probe

import (
	"context"
	"os"
	"os/exec"
)

// CommandRunner abstracts command execution for testing.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) error
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

// RealCommandRunner executes real system commands.
type RealCommandRunner struct{}

// Run executes a command and waits for it to complete.
func (r *RealCommandRunner) Run(ctx context.Context, name string, args ...string) error {
	return exec.CommandContext(ctx, name, args...).Run()
}

// Output executes a command and returns its stdout.
func (r *RealCommandRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// FileChecker abstracts file system checks for testing.
type FileChecker interface {
	Exists(path string) bool
}

// RealFileChecker checks the real filesystem.
type RealFileChecker struct{}

// Exists checks if a file or directory exists.
func (r *RealFileChecker) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
