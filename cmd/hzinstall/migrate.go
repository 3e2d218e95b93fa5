package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"hzinstall/internal/migrate"
	"hzinstall/internal/provision"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate [LEGACY_SCRIPT [CONFIG]]",
	Short: "Merge legacy monitor settings into config.yaml",
	Long: `Merge the settings of the legacy single-script monitor into config.yaml.

LEGACY_SCRIPT defaults to ` + migrate.DefaultSource + `. Its module-level
literal assignments are read; the script is never executed. CONFIG defaults to
config.yaml in the install directory. When it does not exist yet,
config.example.yaml next to it is used as the starting point. An existing
CONFIG is backed up as CONFIG.bak.<timestamp> before it is replaced.

Recognized names: HETZNER_TOKEN, TG_BOT_TOKEN, TG_CHAT_ID, CF_ENABLE,
CF_API_TOKEN, NOTIFY_LEVELS, CHECK_INTERVAL (seconds), DAILY_REPORT_TIME and
SERVERS. From SERVERS the largest limit_tb becomes traffic.limit_gb, each
cf_domain/cf_zone_id pair a cloudflare.record_map entry and each snapshot_id
a rebuild.snapshot_id_map entry.`,
	Example: `  hzinstall migrate
  hzinstall migrate /root/hetzner_monitor/main.py /opt/hetzner-web/config.yaml`,
	Args: cobra.MaximumNArgs(2),
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, nil)
	if err != nil {
		return err
	}
	logger := consoleLogger(cfg)

	dest := filepath.Join(cfg.InstallDir, provision.ConfigFile)
	if len(args) > 1 {
		dest = args[1]
	}

	source := migrate.DefaultSource
	if len(args) > 0 {
		source = args[0]
	}

	res, err := migrate.Run(migrate.Options{Source: source, Dest: dest})
	if err != nil {
		return err
	}

	for _, reason := range res.Skipped {
		logger.Warn("Skipped legacy value", "reason", reason)
	}
	for _, key := range res.Applied {
		logger.Debug("Set", "key", key)
	}
	if res.Backup != "" {
		fmt.Printf("Backed up %s to %s\n", res.Dest, res.Backup)
	}
	fmt.Printf("Updated %s\n", res.Dest)
	return nil
}
