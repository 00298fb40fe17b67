package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dgallion1/docindex/internal/jobs"
	"github.com/dgallion1/docindex/internal/pipeline"
	"github.com/dgallion1/docindex/internal/processor"
	"github.com/dgallion1/docindex/internal/vectorindex"
)

var runFlags struct {
	repoURL    string
	outputDir  string
	workers    int
	sequential bool
	fresh      bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline once and print a summary",
	Long: `Downloads the repository, processes every supported file and indexes
the resulting chunks. Files completed by an earlier run are skipped unless
--fresh is given. Exits non-zero unless the run completes.`,
	RunE: runPipeline,
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runFlags.repoURL, "repo-url", "", "repository to index (default $REPO_URL)")
	f.StringVar(&runFlags.outputDir, "output-dir", "", "download directory (default $DATASET_DIR)")
	f.IntVar(&runFlags.workers, "workers", 0,
		fmt.Sprintf("processing workers (default $MAX_WORKERS or %d)", processor.DefaultWorkers()))
	f.BoolVar(&runFlags.sequential, "sequential", false, "process files one at a time")
	f.BoolVar(&runFlags.fresh, "fresh", false, "ignore the checkpoint and reprocess every file")
	rootCmd.AddCommand(runCmd)
}

func runPipeline(cmd *cobra.Command, _ []string) error {
	log := newLogger(os.Stderr)
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if runFlags.repoURL != "" {
		cfg.RepoURL = runFlags.repoURL
	}
	if runFlags.outputDir != "" {
		cfg.DatasetDir = runFlags.outputDir
	}
	if runFlags.workers > 0 {
		cfg.MaxWorkers = runFlags.workers
	}
	if cfg.RepoURL == "" {
		return fmt.Errorf("a repository is required: pass --repo-url or set REPO_URL")
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if c, ok := a.index.(*vectorindex.Chroma); ok {
		hctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := c.Heartbeat(hctx); err != nil {
			log.Warn("vector store not reachable, indexing will likely fail", "url", cfg.ChromaURL, "error", err)
		}
		cancel()
	}

	deps, err := a.deps(pipeline.Request{SourceURL: cfg.RepoURL})
	if err != nil {
		return err
	}
	deps.Fetcher = a.downloader(cfg.RepoURL, func(done, total int, filename string) {
		log.Debug("collected file", "done", done, "total", total, "file", filename)
	})
	deps.ProcessorOptions = a.processorOptions(func(done, total int, filename, phase string) {
		log.Debug("file done", "done", done, "total", total, "file", filename, "phase", phase)
	})
	p := pipeline.New(deps)

	// First signal cancels gracefully, the second exits.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		log.Info("interrupt received, finishing in-flight files")
		p.Cancel()
		<-sigCh
		os.Exit(130)
	}()

	summary := p.Run(ctx, pipeline.RunOptions{
		SourceURL:  cfg.RepoURL,
		SourceType: jobs.SourceGitHub,
		Sequential: runFlags.sequential,
		Fresh:      runFlags.fresh,
	})
	summary.Print(cmd.OutOrStdout())

	if summary.Status != jobs.StatusCompleted {
		return fmt.Errorf("run %s: %s", summary.Status, summary.Error)
	}
	return nil
}
