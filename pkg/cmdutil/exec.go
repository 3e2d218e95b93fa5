package cmdutil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
)

// ExecOptions configures command execution.
type ExecOptions struct {
	// Dir is the working directory for the command.
	Dir string

	// Timeout is the maximum execution time.
	// If zero, no timeout is applied.
	Timeout time.Duration

	// Env contains extra environment variables for the command,
	// appended to the current process environment.
	// Each entry should be in the form "KEY=value".
	Env []string

	// Stream, when set, receives stdout and stderr as they are produced.
	// Output is captured in Result.Output either way.
	Stream io.Writer
}

// Result contains the result of a command execution.
type Result struct {
	// Output is the combined stdout and stderr.
	Output []byte

	// ExitCode is the exit code of the command, -1 if it never started.
	ExitCode int

	// Duration is how long the command took to execute.
	Duration time.Duration
}

// Runner executes commands. Stages take a Runner so the provisioning run log
// can observe every external command.
type Runner interface {
	Run(ctx context.Context, opts ExecOptions, cmdParts []string) (*Result, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, opts ExecOptions, cmdParts []string) (*Result, error)

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, opts ExecOptions, cmdParts []string) (*Result, error) {
	return f(ctx, opts, cmdParts)
}

// Default runs commands directly with Run.
var Default Runner = RunnerFunc(Run)

// Run executes a command with the given options.
// The command is provided as a slice of arguments (command and its arguments).
// A non-nil Result is returned whenever the command was started, even on failure.
func Run(ctx context.Context, opts ExecOptions, cmdParts []string) (*Result, error) {
	if len(cmdParts) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	// Apply timeout if specified
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, cmdParts[0], cmdParts[1:]...)
	cmd.Dir = opts.Dir
	if len(opts.Env) > 0 {
		cmd.Env = append(cmd.Environ(), opts.Env...)
	}

	var buf bytes.Buffer
	var out io.Writer = &buf
	if opts.Stream != nil {
		out = io.MultiWriter(&buf, opts.Stream)
	}
	cmd.Stdout = out
	cmd.Stderr = out

	start := time.Now()
	err := cmd.Run()

	result := &Result{
		Output:   buf.Bytes(),
		ExitCode: -1,
		Duration: time.Since(start),
	}
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}

	if err != nil {
		return result, fmt.Errorf("command failed: %w", err)
	}

	return result, nil
}

// LookPath reports whether name resolves to an executable on PATH.
func LookPath(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// IsExitError reports whether err came from a command that ran and exited non-zero.
func IsExitError(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr)
}

// FormatCommand formats command parts into a readable string for logging.
// Example: ["git", "commit", "-m", "my message"] -> "git commit -m 'my message'"
func FormatCommand(cmdParts []string) string {
	if len(cmdParts) == 0 {
		return "<empty command>"
	}

	// Quote arguments that contain spaces or special characters
	quoted := make([]string, len(cmdParts))
	for i, part := range cmdParts {
		if strings.ContainsAny(part, " \t\n\"'") {
			quoted[i] = shellquote.Join(part)
		} else {
			quoted[i] = part
		}
	}

	return strings.Join(quoted, " ")
}

// SanitizeOutput removes sensitive information from command output.
// This is useful for logging command output without exposing secrets.
func SanitizeOutput(output []byte, secrets []string) []byte {
	sanitized := string(output)
	for _, secret := range secrets {
		if secret != "" {
			sanitized = strings.ReplaceAll(sanitized, secret, "***REDACTED***")
		}
	}
	return []byte(sanitized)
}
