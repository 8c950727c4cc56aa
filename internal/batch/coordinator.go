// Package batch dispatches per-URL extraction work under bounded
// concurrency and aggregates outcomes into run-level counters.
package batch

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pagepulse/pagepulse/internal/extract"
	"github.com/pagepulse/pagepulse/internal/tracker"
)

// Config controls Coordinator behavior.
type Config struct {
	// Concurrency bounds the worker pool (default 4).
	Concurrency int
	// FreshnessWindow skips pages successfully extracted within this
	// duration; the unit performs no network work (default 1h).
	FreshnessWindow time.Duration
	BlobPrefix      string
	ContentType     string
}

// Observer receives the updated counters after every classified unit.
type Observer func(counters tracker.Counters, currentURL string)

// Outcome summarizes a finished batch run.
type Outcome struct {
	Counters tracker.Counters
	// Stopped is true when a cooperative cancel prevented some units
	// from being dispatched. In-flight units were still classified.
	Stopped bool
}

// Coordinator runs batch extraction for one job.
type Coordinator struct {
	pages  tracker.PageStore
	blobs  tracker.BlobStore
	hasher tracker.Hasher
	clock  tracker.Clock
	idGen  tracker.IDGenerator
	cfg    Config
	logger *zap.Logger
}

// New constructs a Coordinator.
func New(
	pages tracker.PageStore,
	blobs tracker.BlobStore,
	hasher tracker.Hasher,
	clock tracker.Clock,
	idGen tracker.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Coordinator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.FreshnessWindow <= 0 {
		cfg.FreshnessWindow = time.Hour
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		pages:  pages,
		blobs:  blobs,
		hasher: hasher,
		clock:  clock,
		idGen:  idGen,
		cfg:    cfg,
		logger: logger,
	}
}

// Run processes the URLs with the winning method. A close of stop prevents
// further dispatch but lets in-flight units finish and be classified. The
// observer is invoked after every classification with the running
// counters; a unit failure never aborts the batch.
func (c *Coordinator) Run(
	ctx context.Context,
	projectID string,
	method extract.Method,
	urls []string,
	stop <-chan struct{},
	observe Observer,
) Outcome {
	var (
		mu       sync.Mutex
		counters = tracker.Counters{Total: len(urls)}
		stopped  bool
	)
	classify := func(u string, apply func(*tracker.Counters)) {
		mu.Lock()
		apply(&counters)
		snapshot := counters
		mu.Unlock()
		if observe != nil {
			observe(snapshot, u)
		}
	}

	work := make(chan string)
	var wg sync.WaitGroup
	for i := 0; i < c.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for u := range work {
				c.processURL(ctx, projectID, method, u, classify)
			}
		}()
	}

dispatch:
	for _, u := range urls {
		select {
		case <-stop:
			stopped = true
			break dispatch
		case <-ctx.Done():
			stopped = true
			break dispatch
		case work <- u:
		}
	}
	close(work)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	return Outcome{Counters: counters, Stopped: stopped}
}

func (c *Coordinator) processURL(
	ctx context.Context,
	projectID string,
	method extract.Method,
	pageURL string,
	classify func(string, func(*tracker.Counters)),
) {
	existing, err := c.pages.GetPage(ctx, projectID, pageURL)
	if err == nil && c.isFresh(existing) {
		classify(pageURL, func(cs *tracker.Counters) { cs.Skipped++ })
		return
	}

	result, err := method.Extract(ctx, pageURL)
	if err != nil {
		c.logger.Warn("page extraction failed",
			zap.String("project_id", projectID),
			zap.String("url", pageURL),
			zap.String("method", method.Name()),
			zap.Error(err),
		)
		c.recordFailure(ctx, projectID, pageURL, existing)
		classify(pageURL, func(cs *tracker.Counters) { cs.Failed++ })
		return
	}

	if err := c.persist(ctx, projectID, pageURL, method.Name(), existing, result); err != nil {
		c.logger.Error("persist extracted page failed",
			zap.String("project_id", projectID),
			zap.String("url", pageURL),
			zap.Error(err),
		)
		classify(pageURL, func(cs *tracker.Counters) { cs.Failed++ })
		return
	}
	classify(pageURL, func(cs *tracker.Counters) { cs.Successful++ })
}

func (c *Coordinator) isFresh(page tracker.PageRecord) bool {
	if page.Status != tracker.PageStatusExtracted || page.LastCrawledAt == nil {
		return false
	}
	return c.clock.Now().Sub(*page.LastCrawledAt) < c.cfg.FreshnessWindow
}

func (c *Coordinator) recordFailure(
	ctx context.Context,
	projectID, pageURL string,
	existing tracker.PageRecord,
) {
	page := existing
	if page.ID == "" {
		id, err := c.idGen.NewID()
		if err != nil {
			return
		}
		page = tracker.PageRecord{
			ID:        id,
			ProjectID: projectID,
			URL:       pageURL,
			Slug:      Slugify(pageURL),
		}
	}
	page.Status = tracker.PageStatusFailed
	if err := c.pages.UpsertPage(ctx, page); err != nil {
		c.logger.Warn("record page failure", zap.String("url", pageURL), zap.Error(err))
	}
}

func (c *Coordinator) persist(
	ctx context.Context,
	projectID, pageURL, methodName string,
	existing tracker.PageRecord,
	result extract.Result,
) error {
	hash, err := c.hasher.Hash(result.HTML)
	if err != nil {
		return fmt.Errorf("hash content: %w", err)
	}

	page := existing
	if page.ID == "" {
		id, idErr := c.idGen.NewID()
		if idErr != nil {
			return fmt.Errorf("generate page id: %w", idErr)
		}
		page = tracker.PageRecord{
			ID:        id,
			ProjectID: projectID,
			URL:       pageURL,
			Slug:      Slugify(pageURL),
		}
	}

	if page.ContentHash != hash {
		uri, putErr := c.blobs.PutObject(ctx, c.buildBlobPath(projectID, hash), c.cfg.ContentType, result.HTML)
		if putErr != nil {
			return fmt.Errorf("put object: %w", putErr)
		}
		page.BlobURI = uri
		page.ContentHash = hash
		page.VersionCount++
	}

	now := c.clock.Now()
	page.Status = tracker.PageStatusExtracted
	page.ExtractionMethod = methodName
	page.LastCrawledAt = &now
	page.CurrentData = result.Text
	if err := c.pages.UpsertPage(ctx, page); err != nil {
		return fmt.Errorf("upsert page: %w", err)
	}
	return nil
}

func (c *Coordinator) buildBlobPath(projectID, hash string) string {
	prefix := strings.Trim(c.cfg.BlobPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.html", projectID, hash)
	}
	return fmt.Sprintf("%s/%s/%s.html", prefix, projectID, hash)
}

// Slugify derives a stable page slug from a URL path.
func Slugify(pageURL string) string {
	parsed, err := url.Parse(pageURL)
	if err != nil || parsed.Path == "" || parsed.Path == "/" {
		return "index"
	}
	slug := strings.Trim(parsed.Path, "/")
	slug = strings.ReplaceAll(slug, "/", "-")
	slug = strings.ToLower(slug)
	if slug == "" {
		return "index"
	}
	return slug
}
