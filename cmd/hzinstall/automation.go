package main

import (
	"os"

	"github.com/spf13/cobra"

	"hzinstall/internal/provision"
)

var automationTo string

var automationCmd = &cobra.Command{
	Use:   "automation [DIR]",
	Short: "Run the automation installer",
	Long: `Run automation/install.sh from the repository as root.

Without --to, DIR (default /opt/hetzner-web) is synced and the installer runs
inside it. With --to, the repository is cloned shallowly into a temporary
directory, its automation/ payload is copied into TARGET and the installer runs
there; the temporary directory is always removed.`,
	Example: `  sudo hzinstall automation
  sudo REPO_URL=https://github.com/acme/hetzner-web.git hzinstall automation --to /opt/hetzner-automation`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAutomation,
}

func init() {
	addSourceFlags(automationCmd)
	automationCmd.Flags().StringVar(&automationTo, "to", "", "Install the automation payload into TARGET instead of running it in place")
	automationCmd.Flags().String("log-file", "", "Append a redacted run log to this file")
	automationCmd.Flags().String("db-path", "", "Run history database")
}

func runAutomation(cmd *cobra.Command, args []string) error {
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

	if automationTo != "" {
		_, err = p.AutomationTo(cmd.Context(), automationTo)
	} else {
		_, err = p.Automation(cmd.Context(), cfg.InstallDir)
	}
	return err
}
