package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"hzinstall/internal/config"
	"hzinstall/internal/failure"
)

var version = "dev" // Will be set during build

var (
	configFile string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "hzinstall",
	Short: "Provision the Hetzner traffic monitor on a host",
	Long: `hzinstall provisions the Hetzner traffic monitor web stack on a single host.

It clones or updates the application repository, writes config.yaml from
environment overrides, starts the containers with Docker Compose and can chain
into the automation installer. It can also re-provision on GitHub pushes.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Custom usage template that encourages 'help' subcommand pattern
const usageTemplate = `Usage:{{if .Runnable}}
  {{.UseLine}}{{end}}{{if .HasAvailableSubCommands}}
  {{.CommandPath}} [command]{{end}}{{if gt (len .Aliases) 0}}

Aliases:
  {{.NameAndAliases}}{{end}}{{if .HasExample}}

Examples:
{{.Example}}{{end}}{{if .HasAvailableSubCommands}}{{$cmds := .Commands}}{{if eq (len .Groups) 0}}

Available Commands:{{range $cmds}}{{if (or .IsAvailableCommand (eq .Name "help"))}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}{{else}}{{range $group := .Groups}}

{{.Title}}{{range $cmds}}{{if (and (eq .GroupID $group.ID) (or .IsAvailableCommand (eq .Name "help")))}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}{{end}}{{if not .AllChildCommandsHaveGroup}}

Additional Commands:{{range $cmds}}{{if (and (eq .GroupID "") (or .IsAvailableCommand (eq .Name "help")))}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}{{end}}{{end}}{{end}}{{if .HasAvailableLocalFlags}}

Flags:
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasAvailableInheritedFlags}}

Global Flags:
{{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasHelpSubCommands}}

Additional help topics:{{range .Commands}}{{if .IsAdditionalHelpTopicCommand}}
  {{rpad .CommandPath .CommandPathPadding}} {{.Short}}{{end}}{{end}}{{end}}{{if .HasAvailableSubCommands}}

Use "{{.CommandPath}} help [command]" for more information about a command.{{end}}
`

func main() {
	if err := rootCmd.Execute(); err != nil {
		if kind := failure.KindOf(err); kind != 0 {
			fmt.Fprintf(os.Stderr, "Error (%s): %v\n", kind, err)
		} else {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(failure.ExitCode(err))
	}
}

// envHelp lists the environment variables every command reads.
func envHelp() string {
	var b strings.Builder
	b.WriteString("\n\nEnvironment:")
	line := ""
	for _, name := range config.EnvVars() {
		if len(line)+len(name) > 72 {
			b.WriteString("\n  " + strings.TrimSpace(line))
			line = ""
		}
		line += " " + name
	}
	if line != "" {
		b.WriteString("\n  " + strings.TrimSpace(line))
	}
	return b.String()
}

func init() {
	rootCmd.SetUsageTemplate(usageTemplate)
	rootCmd.Long += envHelp()

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to "+config.FileName+" (searched in default locations if unset)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")

	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(automationCmd)
	rootCmd.AddCommand(renderCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(secretCmd)
	rootCmd.AddCommand(versionCmd)
}
