package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dgallion1/docindex/internal/downloader"
	"github.com/dgallion1/docindex/internal/jobs"
)

var statusFlags struct {
	repoURL string
	jobs    int
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show download, checkpoint and recent job state as JSON",
	RunE:  showStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusFlags.repoURL, "repo-url", "", "repository (default $REPO_URL)")
	statusCmd.Flags().IntVar(&statusFlags.jobs, "jobs", 5, "number of recent jobs to list")
	rootCmd.AddCommand(statusCmd)
}

type checkpointStatus struct {
	Completed int               `json:"completed"`
	Failed    map[string]string `json:"failed"`
}

type statusReport struct {
	Download   *downloader.Status `json:"download,omitempty"`
	Checkpoint *checkpointStatus  `json:"checkpoint,omitempty"`
	Jobs       []jobs.Job         `json:"jobs"`
}

func showStatus(cmd *cobra.Command, _ []string) error {
	log := newLogger(os.Stderr)
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if statusFlags.repoURL != "" {
		cfg.RepoURL = statusFlags.repoURL
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	var report statusReport
	if cfg.RepoURL != "" {
		st, err := a.downloader(cfg.RepoURL, nil).Status()
		if err != nil {
			return fmt.Errorf("download status: %w", err)
		}
		report.Download = &st

		ledger, err := a.checkpoint(cfg.RepoURL).Load(ctx)
		if err != nil {
			return err
		}
		report.Checkpoint = &checkpointStatus{
			Completed: len(ledger.Completed()),
			Failed:    ledger.Failed(),
		}
	}
	if statusFlags.jobs > 0 {
		list, err := a.store.Recent(ctx, statusFlags.jobs)
		if err != nil {
			return fmt.Errorf("list jobs: %w", err)
		}
		report.Jobs = list
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
