package extract

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
)

// StaticName identifies the plain-HTTP extraction method.
const StaticName = "static"

// StaticConfig controls the static collector.
type StaticConfig struct {
	UserAgent string
	Timeout   time.Duration
}

// Static extracts content from the raw HTML response using Colly. It is the
// cheap candidate; pages rendered client-side score poorly here.
type Static struct {
	cfg           StaticConfig
	baseCollector *colly.Collector
}

// NewStatic builds a Static method.
func NewStatic(cfg StaticConfig) *Static {
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	return &Static{cfg: cfg, baseCollector: c}
}

// Name implements Method.
func (s *Static) Name() string { return StaticName }

// Extract fetches the URL once and collects title, description, body text
// and link count from the served HTML.
func (s *Static) Extract(ctx context.Context, url string) (Result, error) {
	collector := s.baseCollector.Clone()
	if s.cfg.UserAgent != "" {
		collector.UserAgent = s.cfg.UserAgent
	}
	timeout := s.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	var (
		result   Result
		fetchErr error
	)
	start := time.Now()

	collector.OnHTML("title", func(e *colly.HTMLElement) {
		if result.Title == "" {
			result.Title = strings.TrimSpace(e.Text)
		}
	})
	collector.OnHTML(`meta[name="description"]`, func(e *colly.HTMLElement) {
		if result.Description == "" {
			result.Description = strings.TrimSpace(e.Attr("content"))
		}
	})
	collector.OnHTML("a[href]", func(*colly.HTMLElement) {
		result.LinkCount++
	})
	collector.OnHTML("body", func(e *colly.HTMLElement) {
		result.Text = strings.TrimSpace(e.Text)
	})
	collector.OnResponse(func(r *colly.Response) {
		result.URL = r.Request.URL.String()
		result.HTML = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return Result{}, fmt.Errorf("static extract canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return Result{}, fmt.Errorf("static visit failed: %w", err)
		}
		if fetchErr != nil {
			return Result{}, fmt.Errorf("static response failed: %w", fetchErr)
		}
		result.Duration = time.Since(start)
		return result, nil
	}
}
