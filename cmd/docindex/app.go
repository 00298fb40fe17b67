package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/dgraph-io/badger/v4"

	"github.com/dgallion1/docindex/internal/config"
	"github.com/dgallion1/docindex/internal/downloader"
	"github.com/dgallion1/docindex/internal/jobs"
	"github.com/dgallion1/docindex/internal/parser"
	"github.com/dgallion1/docindex/internal/pipeline"
	"github.com/dgallion1/docindex/internal/processor"
	"github.com/dgallion1/docindex/internal/vectorindex"
)

// app holds the long-lived collaborators shared by every run.
type app struct {
	cfg   config.Config
	log   *slog.Logger
	store jobs.Store
	index vectorindex.Index
	db    *badger.DB
}

func newApp(ctx context.Context, cfg config.Config, log *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}

	store, err := openJobStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.store = store

	if cfg.StateBackend == "badger" {
		db, err := processor.OpenBadger(filepath.Join(cfg.StateDir, "ledger"), log)
		if err != nil {
			store.Close()
			return nil, err
		}
		a.db = db
	}

	index, err := buildIndex(cfg, log)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.index = index
	return a, nil
}

func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("close job store", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("close ledger", "error", err)
		}
	}
}

func openJobStore(ctx context.Context, cfg config.Config) (jobs.Store, error) {
	switch cfg.JobStore {
	case "postgres":
		return jobs.NewPostgresStore(ctx, cfg.DatabaseURL)
	case "sqlite":
		return jobs.NewSQLiteStore(cfg.SQLitePath)
	default:
		return jobs.NewMemoryStore(cfg.JobTTL), nil
	}
}

// buildIndex returns a Chroma client when CHROMA_URL is set and an
// in-memory index otherwise.
func buildIndex(cfg config.Config, log *slog.Logger) (vectorindex.Index, error) {
	if cfg.ChromaURL == "" {
		log.Warn("CHROMA_URL not set, chunks are kept in memory only")
		return vectorindex.NewMemory(), nil
	}
	var embedder vectorindex.Embedder
	if cfg.EmbeddingHost != "" {
		e, err := vectorindex.NewOpenAIEmbedder(cfg.EmbeddingHost, cfg.EmbeddingModel)
		if err != nil {
			return nil, err
		}
		embedder = e
	}
	return vectorindex.NewChroma(vectorindex.ChromaOptions{
		BaseURL:    cfg.ChromaURL,
		Collection: cfg.ChromaCollection,
		RPS:        cfg.IndexRPS,
		Embedder:   embedder,
		Logger:     log,
	}), nil
}

// checkpoint returns the processing ledger for a source.
func (a *app) checkpoint(sourceURL string) processor.Checkpoint {
	key := pipeline.StateKey(sourceURL)
	if a.db != nil {
		return processor.NewBadgerCheckpoint(a.db, key)
	}
	return processor.NewJSONCheckpoint(filepath.Join(a.cfg.StateDir, key+".json"))
}

func (a *app) downloader(sourceURL string, progress downloader.ProgressFunc) *downloader.Downloader {
	return downloader.New(downloader.Options{
		RepoURL:     sourceURL,
		OutputDir:   a.cfg.DatasetDir,
		Subfolder:   a.cfg.Subfolder,
		Extensions:  a.cfg.FileExtensions,
		Attempts:    a.cfg.DownloadAttempts,
		BackoffBase: a.cfg.DownloadBackoffBase,
		BackoffMax:  a.cfg.DownloadBackoffMax,
		GitHubToken: a.cfg.GitHubToken,
		Progress:    progress,
		Logger:      a.log,
	})
}

func (a *app) processorOptions(progress processor.ProgressFunc) []processor.Option {
	opts := []processor.Option{
		processor.WithChunking(a.cfg.ChunkSize, a.cfg.ChunkOverlap),
		processor.WithWorkers(a.cfg.MaxWorkers),
		processor.WithBatchSize(a.cfg.BatchSize),
		processor.WithFileTimeout(a.cfg.FileTimeout),
		processor.WithParserOptions(parser.Options{PDFFallbackPdftotext: a.cfg.PDFFallbackPdftotext}),
	}
	if progress != nil {
		opts = append(opts, processor.WithProgress(progress))
	}
	return opts
}

// deps builds the collaborators for one run. It is the orchestrator's
// factory in serve mode.
func (a *app) deps(req pipeline.Request) (pipeline.Deps, error) {
	if req.SourceURL == "" {
		return pipeline.Deps{}, fmt.Errorf("repo url is required")
	}
	return pipeline.Deps{
		Fetcher:          a.downloader(req.SourceURL, nil),
		Store:            a.store,
		Index:            a.index,
		Checkpoint:       a.checkpoint(req.SourceURL),
		ProcessorOptions: a.processorOptions(nil),
		IndexBatchSize:   a.cfg.IndexBatchSize,
		Logger:           a.log,
	}, nil
}
