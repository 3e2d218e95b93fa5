package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"hzinstall/internal/config"
	"hzinstall/internal/failure"
	"hzinstall/internal/history"
	"hzinstall/internal/logging"
)

// loadConfig resolves the configuration for cmd. A positional DIR argument
// overrides every other source of the install directory.
func loadConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	const op = "loading configuration"

	cfg, path, err := config.Load(config.LoadOptions{ConfigFile: configFile, Flags: cmd.Flags()})
	if err != nil {
		return nil, failure.Precondition(op, err)
	}
	if len(args) > 0 {
		cfg.InstallDir = args[0]
	}
	if err := cfg.Validate(); err != nil {
		return nil, failure.Precondition(op, err)
	}
	if err := cfg.ResolveInstallDir(); err != nil {
		return nil, failure.Precondition(op, err)
	}

	if path != "" {
		consoleLogger(cfg).Debug("Loaded config file", "path", path)
	}
	return cfg, nil
}

func consoleLogger(cfg *config.Config) *slog.Logger {
	return logging.Console(os.Stderr, cfg.Verbose)
}

// openHistory opens the run history for interactive commands. History is
// optional there: a database that cannot be opened only produces a warning.
func openHistory(cfg *config.Config, logger *slog.Logger) *history.History {
	if cfg.DBPath == "" {
		return nil
	}
	hist, err := history.Open(cfg.DBPath)
	if err != nil {
		logger.Warn("Run history disabled", "db", cfg.DBPath, "error", err)
		return nil
	}
	return hist
}
