// Package engine runs the extraction pipeline: discovery, method testing,
// batch extraction. It owns Job records; everything else reads snapshots.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/pagepulse/pagepulse/internal/batch"
	"github.com/pagepulse/pagepulse/internal/extract"
	"github.com/pagepulse/pagepulse/internal/lifecycle"
	"github.com/pagepulse/pagepulse/internal/selector"
	"github.com/pagepulse/pagepulse/internal/sitemap"
	"github.com/pagepulse/pagepulse/internal/tracker"
)

// URLSource downloads the URL set listed by a sitemap.
type URLSource interface {
	FetchURLs(ctx context.Context, sitemapURL string) ([]string, error)
}

// Config tunes the pipeline.
type Config struct {
	// TerminalTopic is the Pub/Sub topic notified once per finished job.
	TerminalTopic string
	// DefaultProject keys page records for requests without a client id.
	DefaultProject string
}

// Engine implements tracker.Engine in-process.
type Engine struct {
	jobs      tracker.JobStore
	pages     tracker.PageStore
	source    URLSource
	methods   []extract.Method
	selector  *selector.Selector
	batch     *batch.Coordinator
	publisher tracker.Publisher
	clock     tracker.Clock
	idGen     tracker.IDGenerator
	cfg       Config
	logger    *zap.Logger

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu       sync.Mutex
	machines map[string]*lifecycle.Machine
	stops    map[string]chan struct{}
	stopped  map[string]bool
}

// New constructs an Engine. The methods slice is tried in order during the
// testing phase; its names are the accepted values for direct extraction
// requests.
func New(
	jobs tracker.JobStore,
	pages tracker.PageStore,
	source URLSource,
	methods []extract.Method,
	sel *selector.Selector,
	coordinator *batch.Coordinator,
	publisher tracker.Publisher,
	clock tracker.Clock,
	idGen tracker.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Engine {
	if cfg.DefaultProject == "" {
		cfg.DefaultProject = "default"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		jobs:      jobs,
		pages:     pages,
		source:    source,
		methods:   methods,
		selector:  sel,
		batch:     coordinator,
		publisher: publisher,
		clock:     clock,
		idGen:     idGen,
		cfg:       cfg,
		logger:    logger,
		baseCtx:   ctx,
		cancel:    cancel,
		machines:  make(map[string]*lifecycle.Machine),
		stops:     make(map[string]chan struct{}),
		stopped:   make(map[string]bool),
	}
}

// Start validates the request and launches the full pipeline
// asynchronously. On validation failure no job record is created.
func (e *Engine) Start(ctx context.Context, req tracker.StartRequest) (tracker.StartAck, error) {
	switch req.SetupType {
	case tracker.SetupSitemap:
		if req.SitemapURL == "" {
			return tracker.StartAck{}, fmt.Errorf("%w: sitemap_url is required for sitemap setup", tracker.ErrValidation)
		}
	case tracker.SetupManual:
		if len(req.ManualURLs) == 0 {
			return tracker.StartAck{}, fmt.Errorf("%w: manual_urls is required for manual setup", tracker.ErrValidation)
		}
	default:
		return tracker.StartAck{}, fmt.Errorf("%w: unknown setup_type %q", tracker.ErrValidation, req.SetupType)
	}

	job, err := e.createJob(ctx, req.ClientID, tracker.JobTypeCrawl)
	if err != nil {
		return tracker.StartAck{}, err
	}

	e.launch(job.ID, func(runCtx context.Context, stop <-chan struct{}) {
		e.runCrawl(runCtx, job.ID, req, stop)
	})
	return tracker.StartAck{
		RunID:   job.ID,
		Status:  job.Status,
		Message: "run accepted",
	}, nil
}

// StartExtraction launches batch extraction with a known method, skipping
// the testing phase.
func (e *Engine) StartExtraction(ctx context.Context, req tracker.ExtractionRequest) (tracker.StartAck, error) {
	if len(req.URLs) == 0 {
		return tracker.StartAck{}, fmt.Errorf("%w: urls is required", tracker.ErrValidation)
	}
	method := e.methodByName(req.ExtractionMethod)
	if method == nil {
		return tracker.StartAck{}, fmt.Errorf("%w: unknown extraction_method %q", tracker.ErrValidation, req.ExtractionMethod)
	}

	job, err := e.createJob(ctx, req.ClientID, tracker.JobTypeExtraction)
	if err != nil {
		return tracker.StartAck{}, err
	}

	e.launch(job.ID, func(runCtx context.Context, stop <-chan struct{}) {
		e.runExtraction(runCtx, job.ID, req.ClientID, method, req.URLs, stop)
	})
	return tracker.StartAck{
		RunID:   job.ID,
		Status:  job.Status,
		Message: "extraction accepted",
	}, nil
}

// Status returns the current snapshot for a job.
func (e *Engine) Status(ctx context.Context, jobID string) (tracker.Job, error) {
	e.mu.Lock()
	machine, ok := e.machines[jobID]
	e.mu.Unlock()
	if ok {
		return machine.Snapshot(), nil
	}
	return e.jobs.GetJob(ctx, jobID)
}

// Cancel requests cooperative cancellation. The returned snapshot still
// reports the job running: in-flight units finish and are classified
// before the pipeline reaches the cancelled terminal. Cancelling a
// terminal job is a no-op.
func (e *Engine) Cancel(ctx context.Context, jobID string) (tracker.Job, error) {
	e.mu.Lock()
	machine, live := e.machines[jobID]
	if live && !e.stopped[jobID] {
		e.stopped[jobID] = true
		close(e.stops[jobID])
	}
	e.mu.Unlock()

	if live {
		return machine.Snapshot(), nil
	}
	return e.jobs.GetJob(ctx, jobID)
}

// Rescan fetches the project's sitemap, reconciles it against the tracked
// URL set, soft-marks dropped pages and registers new ones. Synchronous;
// the diff is computed per request and not persisted.
func (e *Engine) Rescan(ctx context.Context, req tracker.RescanRequest) (tracker.SitemapDiff, error) {
	if req.ProjectID == "" {
		return tracker.SitemapDiff{}, fmt.Errorf("%w: project_id is required", tracker.ErrValidation)
	}
	if req.SitemapURL == "" {
		return tracker.SitemapDiff{}, fmt.Errorf("%w: sitemap_url is required", tracker.ErrValidation)
	}

	oldURLs, err := e.pages.ListURLs(ctx, req.ProjectID)
	if err != nil {
		return tracker.SitemapDiff{}, fmt.Errorf("list tracked urls: %w", err)
	}
	freshURLs, err := e.source.FetchURLs(ctx, req.SitemapURL)
	if err != nil {
		return tracker.SitemapDiff{}, fmt.Errorf("fetch sitemap: %w", err)
	}

	diff := sitemap.Reconcile(oldURLs, freshURLs)
	if err := e.pages.MarkRemoved(ctx, req.ProjectID, diff.RemovedURLs); err != nil {
		return tracker.SitemapDiff{}, fmt.Errorf("mark removed pages: %w", err)
	}
	if err := e.registerPages(ctx, req.ProjectID, diff.NewURLs); err != nil {
		return tracker.SitemapDiff{}, err
	}

	e.logger.Info("sitemap rescan",
		zap.String("project_id", req.ProjectID),
		zap.Int("new", diff.NewCount),
		zap.Int("removed", diff.RemovedCount),
		zap.Int("unchanged", diff.UnchangedCount),
	)
	return diff, nil
}

// Close stops all pipelines and waits for them to drain.
func (e *Engine) Close(ctx context.Context) error {
	e.cancel()
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (e *Engine) createJob(ctx context.Context, clientID string, jobType tracker.JobType) (tracker.Job, error) {
	id, err := e.idGen.NewID()
	if err != nil {
		return tracker.Job{}, fmt.Errorf("generate job id: %w", err)
	}
	machine := lifecycle.New(tracker.Job{
		ID:       id,
		ClientID: clientID,
		Type:     jobType,
	})
	job := machine.Snapshot()
	if err := e.jobs.CreateJob(ctx, job); err != nil {
		return tracker.Job{}, fmt.Errorf("create job: %w", err)
	}

	e.mu.Lock()
	e.machines[id] = machine
	e.stops[id] = make(chan struct{})
	e.mu.Unlock()
	return job, nil
}

func (e *Engine) launch(jobID string, run func(ctx context.Context, stop <-chan struct{})) {
	e.mu.Lock()
	stop := e.stops[jobID]
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		run(e.baseCtx, stop)
	}()
}

func (e *Engine) runCrawl(ctx context.Context, jobID string, req tracker.StartRequest, stop <-chan struct{}) {
	projectID := e.projectFor(req.ClientID)
	e.apply(ctx, jobID, lifecycle.Event{Kind: lifecycle.EventStarted, At: e.clock.Now()})

	urls, err := e.discover(ctx, projectID, req)
	if err != nil {
		e.fail(ctx, jobID, err)
		return
	}
	e.apply(ctx, jobID, lifecycle.Event{Kind: lifecycle.EventDiscoveryDone, Total: len(urls)})

	outcome, err := e.selector.Run(ctx, e.methods, urls)
	if err != nil {
		e.fail(ctx, jobID, err)
		return
	}
	e.apply(ctx, jobID, lifecycle.Event{Kind: lifecycle.EventTestingDone, Winner: outcome.Winner})
	e.logger.Info("testing phase done",
		zap.String("job_id", jobID),
		zap.String("winner", outcome.Winner),
	)

	e.extract(ctx, jobID, projectID, e.methodByName(outcome.Winner), urls, stop)
}

func (e *Engine) runExtraction(
	ctx context.Context,
	jobID, clientID string,
	method extract.Method,
	urls []string,
	stop <-chan struct{},
) {
	projectID := e.projectFor(clientID)
	e.apply(ctx, jobID, lifecycle.Event{Kind: lifecycle.EventStarted, At: e.clock.Now()})
	if err := e.registerPages(ctx, projectID, urls); err != nil {
		e.fail(ctx, jobID, err)
		return
	}
	e.apply(ctx, jobID, lifecycle.Event{Kind: lifecycle.EventDiscoveryDone, Total: len(urls)})
	e.apply(ctx, jobID, lifecycle.Event{Kind: lifecycle.EventTestingDone, Winner: method.Name()})
	e.extract(ctx, jobID, projectID, method, urls, stop)
}

// discover resolves the job's URL set and registers page records for it.
func (e *Engine) discover(ctx context.Context, projectID string, req tracker.StartRequest) ([]string, error) {
	var (
		urls []string
		err  error
	)
	switch req.SetupType {
	case tracker.SetupSitemap:
		urls, err = e.source.FetchURLs(ctx, req.SitemapURL)
		if err != nil {
			return nil, fmt.Errorf("fetch sitemap: %w", err)
		}
	case tracker.SetupManual:
		urls = req.ManualURLs
	}
	if err := e.registerPages(ctx, projectID, urls); err != nil {
		return nil, err
	}
	return urls, nil
}

func (e *Engine) extract(
	ctx context.Context,
	jobID, projectID string,
	method extract.Method,
	urls []string,
	stop <-chan struct{},
) {
	outcome := e.batch.Run(ctx, projectID, method, urls, stop, func(counters tracker.Counters, currentURL string) {
		e.apply(ctx, jobID, lifecycle.Event{
			Kind:       lifecycle.EventProgress,
			Counters:   counters,
			CurrentURL: currentURL,
		})
	})

	switch {
	case outcome.Stopped:
		e.apply(ctx, jobID, lifecycle.Event{Kind: lifecycle.EventCancelled, At: e.clock.Now()})
	default:
		e.apply(ctx, jobID, lifecycle.Event{Kind: lifecycle.EventCompleted, At: e.clock.Now()})
	}
	e.finish(ctx, jobID)
}

func (e *Engine) fail(ctx context.Context, jobID string, err error) {
	e.logger.Warn("job failed", zap.String("job_id", jobID), zap.Error(err))
	e.apply(ctx, jobID, lifecycle.Event{
		Kind:  lifecycle.EventFailed,
		At:    e.clock.Now(),
		Error: err.Error(),
	})
	e.finish(ctx, jobID)
}

// apply advances the machine and persists the resulting snapshot. A
// terminal row in the store absorbs late writes, mirroring the machine.
func (e *Engine) apply(ctx context.Context, jobID string, evt lifecycle.Event) {
	e.mu.Lock()
	machine, ok := e.machines[jobID]
	e.mu.Unlock()
	if !ok {
		return
	}
	snap, changed := machine.Apply(evt)
	if !changed {
		return
	}
	if err := e.jobs.UpdateJob(ctx, snap); err != nil && !errors.Is(err, tracker.ErrJobTerminal) {
		e.logger.Warn("persist job snapshot",
			zap.String("job_id", jobID),
			zap.Error(err),
		)
	}
}

// finish publishes the terminal notification and unregisters the machine.
// The terminal snapshot stays readable through the store.
func (e *Engine) finish(ctx context.Context, jobID string) {
	e.mu.Lock()
	machine, ok := e.machines[jobID]
	delete(e.machines, jobID)
	delete(e.stops, jobID)
	delete(e.stopped, jobID)
	e.mu.Unlock()
	if !ok {
		return
	}

	snap := machine.Snapshot()
	e.logger.Info("job finished",
		zap.String("job_id", jobID),
		zap.String("status", string(snap.Status)),
		zap.Int("successful", snap.Counters.Successful),
		zap.Int("failed", snap.Counters.Failed),
		zap.Int("skipped", snap.Counters.Skipped),
	)
	if e.publisher == nil || e.cfg.TerminalTopic == "" {
		return
	}
	if _, err := e.publisher.Publish(ctx, e.cfg.TerminalTopic, snap); err != nil {
		e.logger.Warn("publish terminal notification",
			zap.String("job_id", jobID),
			zap.Error(err),
		)
	}
}

func (e *Engine) registerPages(ctx context.Context, projectID string, urls []string) error {
	for _, url := range urls {
		if _, err := e.pages.GetPage(ctx, projectID, url); err == nil {
			continue
		}
		id, err := e.idGen.NewID()
		if err != nil {
			return fmt.Errorf("generate page id: %w", err)
		}
		page := tracker.PageRecord{
			ID:        id,
			ProjectID: projectID,
			URL:       url,
			Slug:      batch.Slugify(url),
			Status:    tracker.PageStatusDiscovered,
		}
		if err := e.pages.UpsertPage(ctx, page); err != nil {
			return fmt.Errorf("register page %s: %w", url, err)
		}
	}
	return nil
}

func (e *Engine) methodByName(name string) extract.Method {
	for _, method := range e.methods {
		if method.Name() == name {
			return method
		}
	}
	return nil
}

func (e *Engine) projectFor(clientID string) string {
	if clientID == "" {
		return e.cfg.DefaultProject
	}
	return clientID
}

var _ tracker.Engine = (*Engine)(nil)
