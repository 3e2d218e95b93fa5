package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"hzinstall/internal/failure"
	"hzinstall/internal/history"
	"hzinstall/internal/logging"
	"hzinstall/internal/provision"
	"hzinstall/internal/security"
	"hzinstall/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve [DIR]",
	Short: "Start the webhook server",
	Long: `Start the HTTP server that receives GitHub push webhooks.

A signed push to BRANCH re-runs install for DIR (default /opt/hetzner-web) in
the background. Runs for the same directory never overlap: a push that arrives
while one is in progress is rejected with 429 and recorded in the history.

Endpoints:
  POST /hook     GitHub webhook (X-Hub-Signature-256 required)
  GET  /health   liveness
  GET  /status   latest and recent runs`,
	Args: cobra.MaximumNArgs(1),
	RunE: runServe,
}

func init() {
	addSourceFlags(serveCmd)
	serveCmd.Flags().String("listen", "", "Address to listen on (default :8090)")
	serveCmd.Flags().String("server-log", "", "Also append the JSON server log to this file")
	serveCmd.Flags().String("log-file", "", "Append the redacted run log of each provisioning to this file")
	serveCmd.Flags().String("db-path", "", "Run history database")
	serveCmd.Flags().Bool("with-automation", false, "Run the automation installer on every provisioning")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}

	if err := security.ValidateSecret(cfg.WebhookSecret); err != nil {
		return failure.Precondition("checking webhook secret", err)
	}

	// Server events go to stdout as JSON, mirrored to --server-log. Each
	// run's progress and command output go to the run log only.
	logger, logFile, err := logging.JSON(cfg.ServerLog, os.Stdout)
	if err != nil {
		return failure.Precondition("opening server log", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}

	logger.Info("Initializing history database", "db", cfg.DBPath)
	hist, err := history.Open(cfg.DBPath)
	if err != nil {
		logger.Error("Failed to initialize history database", "error", err)
		return failure.ExternalOperation("opening run history", err)
	}
	defer hist.Close()

	p := provision.New(cfg, nil, logger)
	p.History = hist
	p.Trigger = history.TriggerWebhook

	deploy := func(ctx context.Context) error {
		_, err := p.Install(ctx, cfg.InstallDir)
		return err
	}

	srv := server.New(cfg.InstallDir, cfg.Branch, cfg.WebhookSecret, deploy, hist, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.ListenAndServe(ctx, cfg.Listen); err != nil {
		logger.Error("Server failed", "error", err)
		return failure.ExternalOperation("serving webhooks", err)
	}
	return nil
}
