package provision

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"hzinstall/internal/security"
	"hzinstall/pkg/cmdutil"
)

// RunLog is the append-only provisioning log: every external command with
// its output, framed by start and completion banners. Secrets are redacted.
type RunLog struct {
	w       io.Writer
	closer  io.Closer
	secrets []string
}

// OpenRunLog appends to the log file at path.
func OpenRunLog(path string, secrets []string) (*RunLog, error) {
	f, err := security.OpenSecureAppend(path, security.PermLogFile)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	l := newRunLog(f, secrets)
	l.closer = f
	return l, nil
}

func newRunLog(w io.Writer, secrets []string) *RunLog {
	return &RunLog{w: w, secrets: secrets}
}

func (l *RunLog) printf(format string, args ...any) {
	if l == nil || l.w == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	l.w.Write(cmdutil.SanitizeOutput([]byte(msg), l.secrets))
}

// Write appends b with secrets redacted, so progress lines can be sent here.
func (l *RunLog) Write(b []byte) (int, error) {
	if l == nil || l.w == nil {
		return len(b), nil
	}
	if _, err := l.w.Write(cmdutil.SanitizeOutput(b, l.secrets)); err != nil {
		return 0, err
	}
	return len(b), nil
}

// Begin writes the start banner.
func (l *RunLog) Begin(what string) {
	l.printf("\n=== %s started at %s ===\n\n", what, time.Now().Format("2006-01-02 15:04:05"))
}

// End writes the completion banner; a non-nil err is recorded first.
func (l *RunLog) End(what string, err error) {
	if err != nil {
		l.printf("[ERROR] %v\n", err)
		l.printf("\n=== %s failed at %s ===\n\n", what, time.Now().Format("2006-01-02 15:04:05"))
		return
	}
	l.printf("\n=== %s completed at %s ===\n\n", what, time.Now().Format("2006-01-02 15:04:05"))
}

// Stage records a stage boundary.
func (l *RunLog) Stage(name string) {
	l.printf("[STAGE] %s\n", name)
}

// Close closes the underlying file, if RunLog opened it.
func (l *RunLog) Close() error {
	if l == nil || l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// Runner wraps next so that each command and its output is logged.
func (l *RunLog) Runner(next cmdutil.Runner) cmdutil.Runner {
	return cmdutil.RunnerFunc(func(ctx context.Context, opts cmdutil.ExecOptions, cmdParts []string) (*cmdutil.Result, error) {
		if opts.Dir != "" {
			l.printf("[CMD] (cd %s) %s\n", opts.Dir, cmdutil.FormatCommand(cmdParts))
		} else {
			l.printf("[CMD] %s\n", cmdutil.FormatCommand(cmdParts))
		}

		result, err := next.Run(ctx, opts, cmdParts)

		if result != nil && len(result.Output) > 0 {
			out := string(result.Output)
			if !strings.HasSuffix(out, "\n") {
				out += "\n"
			}
			l.printf("%s", out)
		}

		if err != nil {
			l.printf("[ERROR] Command failed: %v\n\n", err)
		} else {
			l.printf("[OK] %s\n\n", cmdutil.FormatCommand(cmdParts))
		}
		return result, err
	})
}
