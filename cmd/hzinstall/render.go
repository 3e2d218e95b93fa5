package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"hzinstall/internal/provision"
)

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Print the config.yaml install would generate",
	Long: `Print the config.yaml that install would write, without touching the disk.

Nothing is generated when HETZNER_API_TOKEN is unset; install then copies
config.example.yaml instead.`,
	Args: cobra.NoArgs,
	RunE: runRender,
}

func init() {
	addMonitorFlags(renderCmd)
}

func runRender(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}

	content, ok, err := provision.New(cfg, os.Stdout, consoleLogger(cfg)).Render()
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(os.Stderr, "HETZNER_API_TOKEN is not set: install would use config.example.yaml")
		return nil
	}

	_, err = os.Stdout.Write(content)
	return err
}
