package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"hzinstall/internal/failure"
	"hzinstall/internal/history"
)

var (
	statusLimit int
	statusAll   bool
	statusJSON  bool
)

var statusCmd = &cobra.Command{
	Use:   "status [DIR]",
	Short: "Show recent provisioning runs",
	Long: `Show recent provisioning runs for DIR (default /opt/hetzner-web) from the
run history database. With --all, show the latest run of every directory.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().String("db-path", "", "Run history database")
	statusCmd.Flags().IntVarP(&statusLimit, "limit", "n", 10, "Number of runs to show")
	statusCmd.Flags().BoolVar(&statusAll, "all", false, "Show the latest run of every directory")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print JSON")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}

	hist, err := history.Open(cfg.DBPath)
	if err != nil {
		return failure.ExternalOperation("opening run history", err)
	}
	defer hist.Close()

	var runs []history.RunRecord
	if statusAll {
		latest, err := hist.LatestPerTarget(cmd.Context())
		if err != nil {
			return failure.ExternalOperation("reading run history", err)
		}
		for _, rec := range latest {
			runs = append(runs, *rec)
		}
		sort.Slice(runs, func(i, j int) bool { return runs[i].Target < runs[j].Target })
	} else {
		runs, err = hist.Recent(cmd.Context(), cfg.InstallDir, statusLimit)
		if err != nil {
			return failure.ExternalOperation("reading run history", err)
		}
	}

	if statusJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if runs == nil {
			runs = []history.RunRecord{}
		}
		return enc.Encode(runs)
	}

	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return nil
	}

	fmt.Println(runsTable(runs))
	return nil
}

func runsTable(runs []history.RunRecord) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "TARGET", "TRIGGER", "STATUS", "STARTED", "DURATION", "COMMIT", "DETAIL")

	for _, r := range runs {
		duration := "-"
		if r.DurationSeconds != nil {
			duration = (time.Duration(*r.DurationSeconds * float64(time.Second))).Round(time.Second).String()
		}
		commit := "-"
		if r.CommitHash != nil {
			commit = *r.CommitHash
			if len(commit) > 12 {
				commit = commit[:12]
			}
		}
		detail := ""
		if r.FailedStage != nil {
			detail = *r.FailedStage
		} else if r.ErrorMessage != nil {
			detail = *r.ErrorMessage
		}
		t.Row(
			fmt.Sprint(r.ID),
			r.Target,
			r.Trigger,
			r.Status,
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			duration,
			commit,
			detail,
		)
	}
	return t.String()
}
