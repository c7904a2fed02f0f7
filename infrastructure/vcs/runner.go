// Package vcs holds the backend registry and the subprocess plumbing shared
// by the git and svn backends.
package vcs

import (
	"context"
	"os"
	"os/exec"
	"strings"

	logger "github.com/sirupsen/logrus"

	"github.com/open42/cr/domain"
)

// Runner invokes a backend binary with an argument vector and captures its
// output. Backends depend on this instead of os/exec so tests can feed them
// canned command output.
type Runner interface {
	// Run executes the command and returns its combined output. A
	// non-zero exit produces a *domain.CommandError carrying the output.
	Run(ctx context.Context, name string, args ...string) (string, error)

	// RunInteractive executes the command with the process's own stdio
	// attached, for passthrough commands like status display.
	RunInteractive(ctx context.Context, name string, args ...string) error
}

// ExecRunner runs commands through os/exec in a fixed working directory.
type ExecRunner struct {
	// Dir is the working directory; empty means the process's.
	Dir string
}

var _ Runner = (*ExecRunner)(nil)

func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	logger.Debugf("%% %s %s", name, strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = r.Dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), &domain.CommandError{
			Command: name + " " + strings.Join(args, " "),
			Output:  string(out),
			Err:     err,
		}
	}
	return string(out), nil
}

func (r *ExecRunner) RunInteractive(ctx context.Context, name string, args ...string) error {
	logger.Debugf("%% %s %s", name, strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = r.Dir
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return &domain.CommandError{
			Command: name + " " + strings.Join(args, " "),
			Err:     err,
		}
	}
	return nil
}
