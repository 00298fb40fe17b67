package processor

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"path/filepath"
	"runtime"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/dgallion1/docindex/internal/chunker"
	"github.com/dgallion1/docindex/internal/docmeta"
	"github.com/dgallion1/docindex/internal/parser"
)

// Progress phases.
const (
	PhaseProcessing = "processing"
	PhaseCompleted  = "completed"
)

// ErrFileTimeout is recorded on documents that exceeded the per-file limit.
var ErrFileTimeout = errors.New("file processing timed out")

// ProgressFunc is called after every finished file with the number of
// files done so far (including files skipped from the ledger).
type ProgressFunc func(done, total int, filename, phase string)

// workerPool is the subset of *ants.Pool the processor needs.
type workerPool interface {
	Submit(task func()) error
	Release()
}

type poolFactory func(size int) (workerPool, error)

func newAntsPool(size int) (workerPool, error) {
	pool, err := ants.NewPool(size)
	if err != nil {
		return nil, err
	}
	return pool, nil
}

// Processor drives ProcessFile over a set of files, skipping files the
// ledger already lists as completed and checkpointing after each one.
//
// A Processor serves one batch at a time.
type Processor struct {
	chunking    chunker.Config
	parserOpts  parser.Options
	workers     int
	batchSize   int
	fileTimeout time.Duration
	progress    ProgressFunc
	log         *slog.Logger
	checkpoint  Checkpoint
	newPool     poolFactory

	ledger  *Ledger
	timings *Timings
}

type Option func(*Processor)

func WithChunking(size, overlap int) Option {
	return func(p *Processor) { p.chunking = chunker.Config{ChunkSize: size, ChunkOverlap: overlap} }
}

// WithWorkers sets the pool width. Values below 1 are ignored.
func WithWorkers(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithBatchSize bounds how many files share one pool.
func WithBatchSize(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithFileTimeout sets the hard per-file limit. Zero disables it.
func WithFileTimeout(d time.Duration) Option {
	return func(p *Processor) { p.fileTimeout = d }
}

func WithProgress(fn ProgressFunc) Option {
	return func(p *Processor) { p.progress = fn }
}

func WithLogger(log *slog.Logger) Option {
	return func(p *Processor) {
		if log != nil {
			p.log = log
		}
	}
}

func WithCheckpoint(cp Checkpoint) Option {
	return func(p *Processor) {
		if cp != nil {
			p.checkpoint = cp
		}
	}
}

func WithParserOptions(opts parser.Options) Option {
	return func(p *Processor) { p.parserOpts = opts }
}

func withPoolFactory(f poolFactory) Option {
	return func(p *Processor) { p.newPool = f }
}

// DefaultWorkers is min(4, GOMAXPROCS).
func DefaultWorkers() int {
	return min(4, runtime.GOMAXPROCS(0))
}

// New builds a Processor and loads its ledger from the checkpoint.
func New(ctx context.Context, opts ...Option) (*Processor, error) {
	p := &Processor{
		chunking:    chunker.DefaultConfig(),
		parserOpts:  defaultParserOptions,
		workers:     DefaultWorkers(),
		batchSize:   50,
		fileTimeout: 120 * time.Second,
		log:         slog.Default(),
		checkpoint:  NopCheckpoint{},
		newPool:     newAntsPool,
		timings:     NewTimings(),
	}
	for _, o := range opts {
		o(p)
	}

	ledger, err := p.checkpoint.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	p.ledger = ledger
	if n := ledger.Len(); n > 0 {
		p.log.Info("resuming from checkpoint", "completed", len(ledger.Completed()), "failed", n-len(ledger.Completed()))
	}
	return p, nil
}

// Ledger returns the live ledger. Callers must not use it while a batch
// is running.
func (p *Processor) Ledger() *Ledger {
	return p.ledger
}

func (p *Processor) Timings() TimingSnapshot {
	return p.timings.Snapshot()
}

// Pending returns the files a batch over files would actually process.
func (p *Processor) Pending(files []string) []string {
	return p.ledger.Pending(files)
}

// batchRun is the coordinator's bookkeeping for one ProcessBatch* call.
type batchRun struct {
	total   int
	done    int
	started time.Time
}

// ProcessBatch processes files one at a time in input order.
func (p *Processor) ProcessBatch(ctx context.Context, files []string) iter.Seq[ProcessedDocument] {
	return func(yield func(ProcessedDocument) bool) {
		pending := p.ledger.Pending(files)
		run := &batchRun{total: len(files), done: len(files) - len(pending), started: time.Now()}
		p.log.Info("processing files", "total", run.total, "pending", len(pending), "mode", "sequential")

		if !p.runSequential(ctx, pending, run, yield) {
			return
		}
		p.finish(ctx, run)
	}
}

// ProcessBatchParallel fans files out over a worker pool, batchSize files
// per pool. Results arrive in completion order. A cancelled ctx stops
// dispatch; files already in flight still finish and are yielded.
func (p *Processor) ProcessBatchParallel(ctx context.Context, files []string) iter.Seq[ProcessedDocument] {
	return func(yield func(ProcessedDocument) bool) {
		pending := p.ledger.Pending(files)
		run := &batchRun{total: len(files), done: len(files) - len(pending), started: time.Now()}
		p.log.Info("processing files", "total", run.total, "pending", len(pending),
			"mode", "parallel", "workers", p.workers, "batch_size", p.batchSize)

		for lo := 0; lo < len(pending); lo += p.batchSize {
			if ctx.Err() != nil {
				return
			}
			hi := min(lo+p.batchSize, len(pending))
			if !p.runPooled(ctx, pending[lo:hi], run, yield) {
				return
			}
		}
		p.finish(ctx, run)
	}
}

// runSequential processes files in order. It returns false when the
// consumer stopped or ctx was cancelled.
func (p *Processor) runSequential(ctx context.Context, files []string, run *batchRun, yield func(ProcessedDocument) bool) bool {
	for _, path := range files {
		if ctx.Err() != nil {
			return false
		}
		if !p.deliver(ctx, p.runFile(path), run, yield) {
			return false
		}
	}
	return ctx.Err() == nil
}

// runPooled processes one batch on a fresh pool, keeping at most width
// files in flight. When the pool cannot be built or refuses a task, the
// files not yet dispatched are processed sequentially.
func (p *Processor) runPooled(ctx context.Context, batch []string, run *batchRun, yield func(ProcessedDocument) bool) bool {
	width := min(p.workers, len(batch))
	pool, err := p.newPool(width)
	if err != nil {
		p.log.Warn("worker pool unavailable, falling back to sequential", "error", err, "files", len(batch))
		return p.runSequential(ctx, batch, run, yield)
	}
	defer pool.Release()

	results := make(chan ProcessedDocument, len(batch))
	next, inflight := 0, 0
	stopped := false
	var submitErr error

	for {
		for !stopped && submitErr == nil && inflight < width && next < len(batch) && ctx.Err() == nil {
			path := batch[next]
			if err := pool.Submit(func() { results <- p.runFile(path) }); err != nil {
				submitErr = err
				break
			}
			next++
			inflight++
		}
		if inflight == 0 {
			break
		}

		doc := <-results
		inflight--
		if stopped {
			// The consumer is gone; keep the ledger accurate anyway.
			p.record(ctx, doc, run)
			continue
		}
		if !p.deliver(ctx, doc, run, yield) {
			stopped = true
		}
	}

	if stopped {
		return false
	}
	if submitErr != nil && next < len(batch) {
		p.log.Warn("worker pool rejected task, falling back to sequential",
			"error", submitErr, "remaining", len(batch)-next)
		return p.runSequential(ctx, batch[next:], run, yield)
	}
	return ctx.Err() == nil
}

// runFile runs ProcessFile under the per-file timeout. A file that
// overruns is reported as failed; its goroutine is abandoned and its
// eventual result discarded.
func (p *Processor) runFile(path string) ProcessedDocument {
	if p.fileTimeout <= 0 {
		return processFile(path, p.chunking, p.parserOpts)
	}

	ch := make(chan ProcessedDocument, 1)
	go func() { ch <- processFile(path, p.chunking, p.parserOpts) }()

	timer := time.NewTimer(p.fileTimeout)
	defer timer.Stop()
	select {
	case doc := <-ch:
		return doc
	case <-timer.C:
		doc := failedDocument(path, fmt.Errorf("%w after %s", ErrFileTimeout, p.fileTimeout))
		doc.Duration = p.fileTimeout
		return doc
	}
}

// record updates the ledger, checkpoint, timings and progress for doc.
func (p *Processor) record(ctx context.Context, doc ProcessedDocument, run *batchRun) {
	entry := p.ledger.RecordResult(doc)
	// Saves run even after cancellation so in-flight results are kept.
	if err := p.checkpoint.Save(context.WithoutCancel(ctx), p.ledger, entry); err != nil {
		p.log.Warn("checkpoint save failed", "file", doc.Filename, "error", err)
	}
	p.timings.Observe(doc)
	run.done++

	if doc.Failed() {
		p.log.Warn("file failed", "file", doc.Filename, "error", doc.Err)
	} else {
		p.log.Debug("file processed", "file", doc.Filename, "chunks", len(doc.Chunks),
			"type", doc.DocumentType, "duration_ms", doc.Duration.Milliseconds())
	}
	if run.done%10 == 0 || run.done == run.total {
		p.log.Info("progress", "done", run.done, "total", run.total,
			"eta", docmeta.EstimateETA(run.done, run.total, time.Since(run.started)))
	}
	if p.progress != nil {
		p.progress(run.done, run.total, filepath.Base(doc.SourcePath), PhaseProcessing)
	}
}

func (p *Processor) deliver(ctx context.Context, doc ProcessedDocument, run *batchRun, yield func(ProcessedDocument) bool) bool {
	p.record(ctx, doc, run)
	return yield(doc)
}

func (p *Processor) finish(ctx context.Context, run *batchRun) {
	if ctx.Err() != nil {
		return
	}
	snap := p.timings.Snapshot()
	p.log.Info("processing complete", "total", run.total, "failed", snap.Failed,
		"elapsed", time.Since(run.started).Round(time.Millisecond), "p95_ms", snap.P95Ms)
	if p.progress != nil {
		p.progress(run.total, run.total, "", PhaseCompleted)
	}
}
