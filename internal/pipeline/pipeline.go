// Package pipeline runs download, process and index for one source and
// keeps the job record current while it does.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dgallion1/docindex/internal/jobs"
	"github.com/dgallion1/docindex/internal/processor"
	"github.com/dgallion1/docindex/internal/vectorindex"
)

// Messages recorded on the job record.
const (
	msgDownloading  = "Downloading repository..."
	msgIndexing     = "Indexing into vector store..."
	msgNoFiles      = "No supported files found in repository"
	msgCancelled    = "Cancelled by user"
	summaryNoFiles  = "No supported files found"
	defaultIndexMax = 100
)

// Fetcher retrieves the source and lists its files.
// *downloader.Downloader satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context) (string, error)
	List(dir string) ([]string, error)
}

// Event is published after every job update.
type Event struct {
	Phase string   `json:"phase"`
	Job   jobs.Job `json:"job"`
}

// Phases reported in events.
const (
	PhaseDownload = "download"
	PhaseProcess  = "process"
	PhaseIndex    = "index"
	PhaseDone     = "done"
)

// Deps are a pipeline's collaborators.
type Deps struct {
	Fetcher Fetcher
	Store   jobs.Store
	Index   vectorindex.Index
	// Checkpoint persists the processing ledger for this source.
	Checkpoint       processor.Checkpoint
	ProcessorOptions []processor.Option
	// IndexBatchSize is the number of chunks per Upsert call. Default 100.
	IndexBatchSize int
	// Events receives a copy of the job after each update. Optional.
	Events func(Event)
	Logger *slog.Logger
}

// RunOptions select what a run does.
type RunOptions struct {
	// JobID is generated when empty.
	JobID      string
	SourceURL  string
	SourceType string
	// Sequential disables the worker pool.
	Sequential bool
	// Fresh discards the ledger so every file is processed again.
	Fresh bool
}

// Pipeline executes runs. Cancel affects the run in progress.
type Pipeline struct {
	deps    Deps
	log     *slog.Logger
	backoff func(int) time.Duration

	cancelled atomic.Bool
	mu        sync.Mutex
	cancelRun context.CancelFunc
}

func New(deps Deps) *Pipeline {
	if deps.IndexBatchSize <= 0 {
		deps.IndexBatchSize = defaultIndexMax
	}
	if deps.Checkpoint == nil {
		deps.Checkpoint = processor.NopCheckpoint{}
	}
	if deps.Index == nil {
		deps.Index = vectorindex.NewMemory()
	}
	if deps.Store == nil {
		deps.Store = jobs.NewMemoryStore(time.Hour)
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{deps: deps, log: log, backoff: Backoff}
}

// Cancel asks the current run to stop. In-flight files finish; no new
// work is started and the job ends as cancelled.
func (p *Pipeline) Cancel() {
	p.cancelled.Store(true)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancelRun != nil {
		p.cancelRun()
	}
}

// Cancelled reports whether Cancel was called.
func (p *Pipeline) Cancelled() bool {
	return p.cancelled.Load()
}

// StateKey is the ledger name for a source: the first 16 hex characters
// of the SHA-256 of its URL.
func StateKey(sourceURL string) string {
	h := sha256.Sum256([]byte(sourceURL))
	return hex.EncodeToString(h[:])[:16]
}

// run is the bookkeeping for a single Run call.
type run struct {
	p       *Pipeline
	log     *slog.Logger
	job     jobs.Job
	summary RunSummary
}

// Run executes download, process and index. It never panics and never
// returns an error; the outcome is in the summary and the job record.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) RunSummary {
	start := time.Now()
	if opts.JobID == "" {
		opts.JobID = uuid.NewString()
	}
	if opts.SourceType == "" {
		opts.SourceType = jobs.SourceGitHub
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	p.mu.Lock()
	p.cancelRun = cancel
	if p.cancelled.Load() {
		cancel()
	}
	p.mu.Unlock()

	r := &run{
		p:   p,
		log: p.log.With("job_id", opts.JobID),
		job: jobs.Job{ID: opts.JobID, SourceType: opts.SourceType, SourceURL: opts.SourceURL},
		summary: RunSummary{
			JobID:     opts.JobID,
			SourceURL: opts.SourceURL,
			Status:    jobs.StatusPending,
		},
	}
	// Job updates outlive cancellation of the run.
	storeCtx := context.WithoutCancel(ctx)

	func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.log.Error("run panicked", "panic", rec, "stack", string(debug.Stack()))
				r.fail(storeCtx, fmt.Sprintf("internal error: %v", rec))
			}
		}()
		r.execute(runCtx, storeCtx, opts)
	}()

	r.summary.Elapsed = time.Since(start)
	r.log.Info("run finished", "status", r.summary.Status, "elapsed", r.summary.Elapsed.Round(time.Millisecond),
		"processed", r.summary.ProcessedFiles, "failed", r.summary.FailedFiles, "indexed", r.summary.IndexedChunks)
	return r.summary
}

func (r *run) execute(ctx, storeCtx context.Context, opts RunOptions) {
	p := r.p
	now := time.Now().UTC()
	r.update(storeCtx, PhaseDownload, jobs.Update{
		SourceType: jobs.Ptr(opts.SourceType),
		SourceURL:  jobs.Ptr(opts.SourceURL),
		Status:     jobs.Ptr(jobs.StatusPending),
	})
	r.update(storeCtx, PhaseDownload, jobs.Update{
		Status:      jobs.Ptr(jobs.StatusProcessing),
		StartedAt:   &now,
		CurrentFile: jobs.Ptr(msgDownloading),
	})
	r.summary.Status = jobs.StatusProcessing

	// Phase 1: download
	r.log.Info("phase: download", "source", opts.SourceURL)
	dir, err := p.deps.Fetcher.Fetch(ctx)
	if err != nil {
		if r.stopRequested(ctx) {
			r.cancel(storeCtx)
			return
		}
		r.fail(storeCtx, fmt.Sprintf("download failed: %s", err))
		return
	}
	files, err := p.deps.Fetcher.List(dir)
	if err != nil {
		r.fail(storeCtx, fmt.Sprintf("list files: %s", err))
		return
	}
	if len(files) == 0 {
		r.fail(storeCtx, msgNoFiles)
		r.summary.Error = summaryNoFiles
		return
	}
	total := len(files)
	r.summary.TotalFiles = total
	r.update(storeCtx, PhaseProcess, jobs.Update{TotalFiles: jobs.Ptr(total)})
	r.log.Info("found files", "count", total, "dir", dir)

	// Phase 2: process
	if opts.Fresh {
		if err := p.deps.Checkpoint.Reset(storeCtx); err != nil {
			r.fail(storeCtx, fmt.Sprintf("reset checkpoint: %s", err))
			return
		}
	}
	procOpts := append([]processor.Option{}, p.deps.ProcessorOptions...)
	procOpts = append(procOpts, processor.WithCheckpoint(p.deps.Checkpoint), processor.WithLogger(r.log))
	proc, err := processor.New(ctx, procOpts...)
	if err != nil {
		if r.stopRequested(ctx) {
			r.cancel(storeCtx)
			return
		}
		r.fail(storeCtx, fmt.Sprintf("start processor: %s", err))
		return
	}

	skipped := total - len(proc.Pending(files))
	r.summary.SkippedFiles = skipped
	processed, failed := skipped, 0
	var chunks []processor.DocumentChunk

	var docs iter.Seq[processor.ProcessedDocument]
	if opts.Sequential {
		docs = proc.ProcessBatch(ctx, files)
	} else {
		docs = proc.ProcessBatchParallel(ctx, files)
	}
	r.log.Info("phase: process", "files", total, "skipped", skipped, "sequential", opts.Sequential)

	for doc := range docs {
		if doc.Failed() {
			failed++
		} else {
			processed++
			chunks = append(chunks, doc.Chunks...)
		}
		r.update(storeCtx, PhaseProcess, jobs.Update{
			ProcessedFiles:  jobs.Ptr(processed),
			FailedFiles:     jobs.Ptr(failed),
			ProgressPercent: jobs.Ptr(progressPercent(processed+failed, total)),
			CurrentFile:     jobs.Ptr(doc.Filename),
		})
	}
	r.summary.ProcessedFiles = processed
	r.summary.FailedFiles = failed
	r.summary.TotalChunks = len(chunks)
	r.summary.Timings = proc.Timings()

	if r.stopRequested(ctx) {
		r.cancel(storeCtx)
		return
	}

	// Phase 3: index
	r.update(storeCtx, PhaseIndex, jobs.Update{CurrentFile: jobs.Ptr(msgIndexing)})
	r.log.Info("phase: index", "chunks", len(chunks))
	indexed, err := r.index(ctx, chunks)
	r.summary.IndexedChunks = indexed
	if r.stopRequested(ctx) {
		r.cancel(storeCtx)
		return
	}
	if err != nil {
		// Processing results stand; indexing can be re-run later.
		r.log.Error("indexing failed, chunks not indexed", "error", err, "chunks", len(chunks))
		r.summary.IndexedChunks = 0
		r.summary.IndexError = err.Error()
	}

	done := time.Now().UTC()
	r.update(storeCtx, PhaseDone, jobs.Update{
		Status:          jobs.Ptr(jobs.StatusCompleted),
		ProgressPercent: jobs.Ptr(100),
		CurrentFile:     jobs.Ptr(""),
		CompletedAt:     &done,
	})
	r.summary.Status = jobs.StatusCompleted
}

// index upserts chunks in sub-batches, stopping between batches when the
// run is cancelled. It returns the number of chunks accepted.
func (r *run) index(ctx context.Context, chunks []processor.DocumentChunk) (int, error) {
	size := r.p.deps.IndexBatchSize
	indexed := 0
	for lo := 0; lo < len(chunks); lo += size {
		if r.stopRequested(ctx) {
			return indexed, nil
		}
		batch := toBatch(chunks[lo:min(lo+size, len(chunks))])
		err := withRetry(ctx, r.p.backoff, func() error {
			return r.p.deps.Index.Upsert(ctx, batch)
		}, func(attempt int, err error) {
			r.log.Warn("retryable index error", "attempt", attempt, "error", err)
		})
		if err != nil {
			return indexed, fmt.Errorf("index chunks %d-%d: %w", lo, lo+batch.Len()-1, err)
		}
		indexed += batch.Len()
		r.log.Info("indexed chunks", "done", indexed, "total", len(chunks))
	}
	return indexed, nil
}

func toBatch(chunks []processor.DocumentChunk) vectorindex.UpsertBatch {
	b := vectorindex.UpsertBatch{
		IDs:       make([]string, len(chunks)),
		Documents: make([]string, len(chunks)),
		Metadatas: make([]map[string]any, len(chunks)),
	}
	for i, c := range chunks {
		b.IDs[i] = c.ID()
		b.Documents[i] = c.Text
		b.Metadatas[i] = c.Metadata.Map()
	}
	return b
}

// progressPercent is floor(100*done/total), held at 99 until the run
// completes.
func progressPercent(done, total int) int {
	if total <= 0 {
		return 0
	}
	return min(100*done/total, 99)
}

func (r *run) stopRequested(ctx context.Context) bool {
	return r.p.cancelled.Load() || errors.Is(ctx.Err(), context.Canceled)
}

func (r *run) cancel(ctx context.Context) {
	r.log.Info("run cancelled")
	done := time.Now().UTC()
	r.update(ctx, PhaseDone, jobs.Update{
		Status:       jobs.Ptr(jobs.StatusCancelled),
		ErrorMessage: jobs.Ptr(msgCancelled),
		CompletedAt:  &done,
	})
	r.summary.Status = jobs.StatusCancelled
	r.summary.Error = msgCancelled
}

func (r *run) fail(ctx context.Context, msg string) {
	r.log.Error("run failed", "error", msg)
	done := time.Now().UTC()
	r.update(ctx, PhaseDone, jobs.Update{
		Status:       jobs.Ptr(jobs.StatusFailed),
		ErrorMessage: jobs.Ptr(msg),
		CompletedAt:  &done,
	})
	r.summary.Status = jobs.StatusFailed
	r.summary.Error = msg
}

// update writes u to the store and publishes the resulting job. Store
// failures are logged and otherwise ignored.
func (r *run) update(ctx context.Context, phase string, u jobs.Update) {
	u.Apply(&r.job)
	r.job.UpdatedAt = time.Now().UTC()
	if err := r.p.deps.Store.Update(ctx, r.job.ID, u); err != nil {
		r.log.Warn("job update failed", "error", err)
	}
	if r.p.deps.Events != nil {
		r.p.deps.Events(Event{Phase: phase, Job: r.job})
	}
}
