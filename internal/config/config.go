package config

import (
	"fmt"
	"os"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dgallion1/docindex/internal/parser"
)

type Config struct {
	Port string

	// Auth for the control API. Empty disables it.
	APIKey string

	// Source
	RepoURL        string
	DatasetDir     string
	Subfolder      string
	FileExtensions []string
	GitHubToken    string

	// Retrieval retry
	DownloadAttempts    int
	DownloadBackoffBase time.Duration
	DownloadBackoffMax  time.Duration

	// Chunking
	ChunkSize    int
	ChunkOverlap int

	// Processing pool
	MaxWorkers  int
	BatchSize   int
	FileTimeout time.Duration

	// Resumable state
	StateDir     string
	StateBackend string // json | badger

	// Job store
	JobStore    string // memory | postgres | sqlite
	DatabaseURL string
	SQLitePath  string
	JobTTL      time.Duration

	// Orchestrator
	RunWorkers   int
	MaxQueueSize int

	// Vector index
	ChromaURL        string
	ChromaCollection string
	IndexBatchSize   int
	IndexRPS         float64
	EmbeddingHost    string
	EmbeddingModel   string

	// PDF
	PDFFallbackPdftotext bool
}

func Load() Config {
	cfg := Config{
		Port:   envOr("PORT", "8090"),
		APIKey: os.Getenv("API_KEY"),

		RepoURL:        os.Getenv("REPO_URL"),
		DatasetDir:     envOr("DATASET_DIR", "./data/datasets"),
		Subfolder:      os.Getenv("SUBFOLDER"),
		FileExtensions: envList("FILE_EXTENSIONS"),
		GitHubToken:    os.Getenv("GITHUB_TOKEN"),

		DownloadAttempts:    envInt("DOWNLOAD_ATTEMPTS", 3),
		DownloadBackoffBase: envDuration("DOWNLOAD_BACKOFF_BASE", 4*time.Second),
		DownloadBackoffMax:  envDuration("DOWNLOAD_BACKOFF_MAX", 30*time.Second),

		ChunkSize:    envInt("CHUNK_SIZE", 1000),
		ChunkOverlap: envInt("CHUNK_OVERLAP", 200),

		MaxWorkers:  envInt("MAX_WORKERS", defaultWorkers()),
		BatchSize:   envInt("BATCH_SIZE", 50),
		FileTimeout: envDuration("FILE_TIMEOUT", 120*time.Second),

		StateDir:     envOr("STATE_DIR", "./data/state"),
		StateBackend: envOr("STATE_BACKEND", "json"),

		JobStore:    envOr("JOB_STORE", "memory"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		SQLitePath:  envOr("SQLITE_PATH", "./data/jobs.db"),
		JobTTL:      envDuration("JOB_TTL", 1*time.Hour),

		RunWorkers:   envInt("RUN_WORKERS", 1),
		MaxQueueSize: envInt("MAX_QUEUE_SIZE", 16),

		ChromaURL:        os.Getenv("CHROMA_URL"),
		ChromaCollection: envOr("CHROMA_COLLECTION", "documents"),
		IndexBatchSize:   envInt("INDEX_BATCH_SIZE", 100),
		IndexRPS:         envFloat("INDEX_RPS", 10),
		EmbeddingHost:    os.Getenv("EMBEDDING_HOST"),
		EmbeddingModel:   envOr("EMBEDDING_MODEL", "text-embedding-3-small"),

		PDFFallbackPdftotext: envBool("PDF_FALLBACK_PDFTOTEXT", true),
	}

	if cfg.DownloadAttempts <= 0 {
		cfg.DownloadAttempts = 3
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1000
	}
	if cfg.ChunkOverlap < 0 {
		cfg.ChunkOverlap = 200
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = defaultWorkers()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.FileTimeout <= 0 {
		cfg.FileTimeout = 120 * time.Second
	}
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = 1 * time.Hour
	}
	if cfg.RunWorkers <= 0 {
		cfg.RunWorkers = 1
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 16
	}
	if cfg.IndexBatchSize <= 0 {
		cfg.IndexBatchSize = 100
	}

	return cfg
}

func (c Config) Validate() error {
	if c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("CHUNK_OVERLAP (%d) must be smaller than CHUNK_SIZE (%d)", c.ChunkOverlap, c.ChunkSize)
	}
	switch c.StateBackend {
	case "json", "badger":
	default:
		return fmt.Errorf("unknown STATE_BACKEND %q", c.StateBackend)
	}
	switch c.JobStore {
	case "memory", "sqlite":
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for JOB_STORE=postgres")
		}
	default:
		return fmt.Errorf("unknown JOB_STORE %q", c.JobStore)
	}
	var unsupported []string
	for ext := range parser.NormalizeExtensions(c.FileExtensions) {
		if !parser.IsSupportedExtension(ext) {
			unsupported = append(unsupported, ext)
		}
	}
	if len(unsupported) > 0 {
		slices.Sort(unsupported)
		return fmt.Errorf("FILE_EXTENSIONS has no parser for %s", strings.Join(unsupported, ", "))
	}
	return nil
}

// defaultWorkers caps the processing pool at four workers.
func defaultWorkers() int {
	return min(4, runtime.NumCPU())
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// envList splits a comma-separated variable, dropping empty items.
func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
