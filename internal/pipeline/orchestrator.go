package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dgallion1/docindex/internal/jobs"
)

var (
	ErrQueueFull      = errors.New("job queue is full")
	ErrAlreadyRunning = errors.New("source is already being indexed")
	ErrStopped        = errors.New("orchestrator is stopped")
)

// Request asks for one run over a source.
type Request struct {
	SourceURL  string `json:"repo_url"`
	Sequential bool   `json:"sequential"`
	Fresh      bool   `json:"fresh"`
}

// Factory builds the collaborators for a request. Store and Events are
// filled in by the orchestrator.
type Factory func(req Request) (Deps, error)

// OrchestratorOptions size the run queue.
type OrchestratorOptions struct {
	Workers   int
	QueueSize int
	// SummaryTTL is how long finished run summaries are kept. Default 1h.
	SummaryTTL time.Duration
	// Events receives every job update of every run. Optional.
	Events func(Event)
	Logger *slog.Logger
}

type finishedRun struct {
	summary RunSummary
	at      time.Time
}

type task struct {
	id       string
	req      Request
	pipeline *Pipeline
}

// Orchestrator queues runs and executes them on a fixed set of workers.
// At most one run per source is active at a time.
type Orchestrator struct {
	store   jobs.Store
	factory Factory
	opts    OrchestratorOptions
	log     *slog.Logger
	queue   chan *task

	mu      sync.Mutex
	active  map[string]*task  // by job id
	sources map[string]string // source url -> job id
	done    map[string]finishedRun
	stopped bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOrchestrator creates the orchestrator. Call Start to launch workers.
func NewOrchestrator(store jobs.Store, factory Factory, opts OrchestratorOptions) *Orchestrator {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 16
	}
	if opts.SummaryTTL <= 0 {
		opts.SummaryTTL = time.Hour
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		store:   store,
		factory: factory,
		opts:    opts,
		log:     log,
		queue:   make(chan *task, opts.QueueSize),
		active:  make(map[string]*task),
		sources: make(map[string]string),
		done:    make(map[string]finishedRun),
	}
}

// Start launches worker goroutines.
func (o *Orchestrator) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	for range o.opts.Workers {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			for {
				select {
				case <-workerCtx.Done():
					return
				case t, ok := <-o.queue:
					if !ok {
						return
					}
					o.execute(workerCtx, t)
				}
			}
		}()
	}

	// Expire old summaries, and finished jobs from stores that keep
	// them in memory.
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				o.cleanup(time.Now())
			}
		}
	}()
}

func (o *Orchestrator) cleanup(now time.Time) {
	if c, ok := o.store.(interface{ Cleanup() }); ok {
		c.Cleanup()
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	for id, f := range o.done {
		if now.Sub(f.at) > o.opts.SummaryTTL {
			delete(o.done, id)
		}
	}
}

func (o *Orchestrator) execute(ctx context.Context, t *task) {
	summary := t.pipeline.Run(ctx, RunOptions{
		JobID:      t.id,
		SourceURL:  t.req.SourceURL,
		SourceType: jobs.SourceGitHub,
		Sequential: t.req.Sequential,
		Fresh:      t.req.Fresh,
	})
	o.log.Info("job finished", "job_id", t.id, "status", summary.Status,
		"indexed", summary.IndexedChunks, "elapsed", summary.Elapsed.Round(time.Millisecond))
	o.release(t, summary)
}

func (o *Orchestrator) release(t *task, summary RunSummary) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.done[t.id] = finishedRun{summary: summary, at: time.Now()}
	delete(o.active, t.id)
	if o.sources[t.req.SourceURL] == t.id {
		delete(o.sources, t.req.SourceURL)
	}
}

// Stop cancels running jobs and waits for the workers to exit.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return
	}
	o.stopped = true
	for _, t := range o.active {
		t.pipeline.Cancel()
	}
	close(o.queue)
	o.mu.Unlock()

	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
}

// Submit queues a run and returns its job id. The job is recorded as
// pending before Submit returns.
func (o *Orchestrator) Submit(ctx context.Context, req Request) (string, error) {
	if req.SourceURL == "" {
		return "", errors.New("repo_url is required")
	}
	deps, err := o.factory(req)
	if err != nil {
		return "", fmt.Errorf("prepare run: %w", err)
	}
	deps.Store = o.store
	deps.Events = o.opts.Events
	if deps.Logger == nil {
		deps.Logger = o.log
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopped {
		return "", ErrStopped
	}
	if id, ok := o.sources[req.SourceURL]; ok {
		return id, fmt.Errorf("%w: job %s", ErrAlreadyRunning, id)
	}

	t := &task{id: uuid.NewString(), req: req, pipeline: New(deps)}
	if err := o.store.Update(ctx, t.id, jobs.Update{
		SourceType: jobs.Ptr(jobs.SourceGitHub),
		SourceURL:  jobs.Ptr(req.SourceURL),
		Status:     jobs.Ptr(jobs.StatusPending),
	}); err != nil {
		o.log.Warn("job update failed", "job_id", t.id, "error", err)
	}

	select {
	case o.queue <- t:
	default:
		now := time.Now().UTC()
		_ = o.store.Update(ctx, t.id, jobs.Update{
			Status:       jobs.Ptr(jobs.StatusFailed),
			ErrorMessage: jobs.Ptr("queue_full"),
			CompletedAt:  &now,
		})
		return t.id, fmt.Errorf("%w (%d)", ErrQueueFull, o.opts.QueueSize)
	}
	o.active[t.id] = t
	o.sources[req.SourceURL] = t.id
	return t.id, nil
}

// Cancel stops a queued or running job. A queued job ends as cancelled
// as soon as a worker picks it up.
func (o *Orchestrator) Cancel(id string) error {
	o.mu.Lock()
	t, ok := o.active[id]
	o.mu.Unlock()
	if !ok {
		return jobs.ErrNotFound
	}
	t.pipeline.Cancel()
	return nil
}

// Get returns a job by id.
func (o *Orchestrator) Get(ctx context.Context, id string) (jobs.Job, error) {
	return o.store.Get(ctx, id)
}

// Summary returns the summary of a finished run, if it is still held.
func (o *Orchestrator) Summary(id string) (RunSummary, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	f, ok := o.done[id]
	return f.summary, ok
}

// Recent lists the latest jobs.
func (o *Orchestrator) Recent(ctx context.Context, limit int) ([]jobs.Job, error) {
	return o.store.Recent(ctx, limit)
}

// QueueDepth returns current queue depth.
func (o *Orchestrator) QueueDepth() int {
	return len(o.queue)
}

// Active returns the number of queued and running jobs.
func (o *Orchestrator) Active() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.active)
}
