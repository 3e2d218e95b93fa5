// Package compose starts the stack with whichever Docker Compose form the
// host provides: the `docker compose` plugin or the standalone `docker-compose`.
package compose

import (
	"context"
	"errors"
	"io"
	"strings"

	"hzinstall/internal/failure"
	"hzinstall/pkg/cmdutil"
)

// Command is a detected compose invocation, e.g. ["docker", "compose"].
type Command []string

func (c Command) String() string {
	return strings.Join(c, " ")
}

var (
	Plugin     = Command{"docker", "compose"}
	Standalone = Command{"docker-compose"}
)

// Launcher detects and runs Docker Compose.
type Launcher struct {
	Runner cmdutil.Runner
	// Output receives compose output as it is produced.
	Output io.Writer
}

func (l *Launcher) runner() cmdutil.Runner {
	if l.Runner == nil {
		return cmdutil.Default
	}
	return l.Runner
}

// Detect prefers the plugin form and falls back to the standalone binary.
func (l *Launcher) Detect(ctx context.Context) (Command, error) {
	if cmdutil.LookPath("docker") {
		args := append(append([]string{}, Plugin...), "version")
		if _, err := l.runner().Run(ctx, cmdutil.ExecOptions{}, args); err == nil {
			return Plugin, nil
		}
	}
	if cmdutil.LookPath("docker-compose") {
		return Standalone, nil
	}
	return nil, failure.Precondition("detecting docker compose",
		errors.New("neither `docker compose` nor `docker-compose` is available; install Docker Compose first"))
}

// Up builds and starts every service of the compose project in dir, detached.
func (l *Launcher) Up(ctx context.Context, cmd Command, dir string) error {
	args := append(append([]string{}, cmd...), "up", "-d", "--build")
	result, err := l.runner().Run(ctx, cmdutil.ExecOptions{Dir: dir, Stream: l.Output}, args)
	if err == nil {
		return nil
	}
	op := cmdutil.FormatCommand(args)
	if result != nil && l.Output == nil {
		if out := strings.TrimSpace(string(result.Output)); out != "" {
			return failure.ExternalOperation(op, errors.Join(err, errors.New(out)))
		}
	}
	return failure.ExternalOperation(op, err)
}
