// Package logging builds the slog loggers used by the CLI and the webhook server.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"

	"hzinstall/internal/security"
	"hzinstall/pkg/fileutil"
)

// Console returns a human-readable logger for interactive commands.
func Console(w io.Writer, verbose bool) *slog.Logger {
	level := log.InfoLevel
	if verbose {
		level = log.DebugLevel
	}
	handler := log.NewWithOptions(w, log.Options{
		Prefix: "hzinstall",
		Level:  level,
	})
	return slog.New(handler)
}

// JSON configures slog for file logging, mirrored to console.
// The caller must close the returned file. With no logPath the logger writes
// to console only and the file is nil.
func JSON(logPath string, console io.Writer) (*slog.Logger, *os.File, error) {
	if logPath == "" {
		if console == nil {
			console = io.Discard
		}
		return slog.New(slog.NewJSONHandler(console, &slog.HandlerOptions{Level: slog.LevelInfo})), nil, nil
	}

	if dir := filepath.Dir(logPath); !fileutil.DirExists(dir) {
		if err := security.CreateSecureDir(dir, security.PermDirectory); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	file, err := security.OpenSecureAppend(logPath, security.PermLogFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}

	var w io.Writer = file
	if console != nil {
		w = io.MultiWriter(console, file)
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	return slog.New(handler), file, nil
}

// Discard returns a logger that drops everything, for tests and quiet runs.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
