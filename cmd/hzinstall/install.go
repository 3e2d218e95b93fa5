package main

import (
	"os"

	"github.com/spf13/cobra"

	"hzinstall/internal/config"
	"hzinstall/internal/provision"
)

var installCmd = &cobra.Command{
	Use:   "install [DIR]",
	Short: "Provision the monitor stack into a directory",
	Long: `Provision the monitor stack into DIR (default /opt/hetzner-web).

This command will:
- Clone REPO_URL into DIR, or update an existing checkout of BRANCH
- Write config.yaml from HETZNER_API_TOKEN and the other monitor variables,
  or copy config.example.yaml when no token is set
- Create web_config.json from its example if missing
- Start the containers with docker compose (or docker-compose)
- Optionally run the automation installer and register the GitHub webhook

Running it again converges to the same state.`,
	Example: `  REPO_URL=https://github.com/acme/hetzner-web.git HETZNER_API_TOKEN=... hzinstall install
  hzinstall install /srv/monitor --with-automation --backup`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInstall,
}

func init() {
	addSourceFlags(installCmd)
	addMonitorFlags(installCmd)

	installCmd.Flags().Bool("with-automation", false, "Run automation/install.sh after the containers start (requires root)")
	installCmd.Flags().Bool("backup", false, "Back up an existing config.yaml before overwriting it")
	installCmd.Flags().String("log-file", "", "Append a redacted run log to this file")
	installCmd.Flags().String("db-path", "", "Run history database (default "+config.DefaultDBPath+")")
	installCmd.Flags().String("webhook-url", "", "Register this URL as the repository's push webhook")
	installCmd.Flags().String("webhook-secret", "", "Secret for the registered webhook")
	installCmd.Flags().String("github-token", "", "GitHub token used to register the webhook")
}

// addSourceFlags registers the flags that select what gets provisioned.
func addSourceFlags(cmd *cobra.Command) {
	cmd.Flags().String("repo-url", "", "Repository to clone (env REPO_URL)")
	cmd.Flags().String("branch", "", "Branch to deploy (env BRANCH, default main)")
	cmd.Flags().String("sync-strategy", "", "Update strategy for an existing checkout: reset or ff-only")
}

// addMonitorFlags registers overrides for the generated config.yaml.
// Credentials are read from the environment only.
func addMonitorFlags(cmd *cobra.Command) {
	cmd.Flags().String("limit-gb", "", "Traffic limit in GB")
	cmd.Flags().String("check-interval", "", "Traffic check interval in minutes")
	cmd.Flags().String("exceed-action", "", "Action when the limit is exceeded")
	cmd.Flags().String("telegram-chat-id", "", "Telegram chat ID")
	cmd.Flags().String("cf-zone-id", "", "Cloudflare zone ID")
	cmd.Flags().String("cf-record-map", "", "Server to DNS record map: id=record,...")
	cmd.Flags().String("server-type", "", "Server type for rebuilds")
	cmd.Flags().String("location", "", "Server location for rebuilds")
	cmd.Flags().String("snapshot-map", "", "Server to snapshot map: id=snapshot,...")
	cmd.Flags().String("map-duplicates", "", "Repeated map keys: reject or keep")
}

func runInstall(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}
	logger := consoleLogger(cfg)

	hist := openHistory(cfg, logger)
	if hist != nil {
		defer hist.Close()
	}

	p := provision.New(cfg, os.Stdout, logger)
	p.History = hist

	run, err := p.Install(cmd.Context(), cfg.InstallDir)
	if err != nil {
		return err
	}

	p.PrintSummary(run)
	return nil
}
