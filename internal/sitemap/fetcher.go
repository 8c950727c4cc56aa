package sitemap

import (
	"context"
	"fmt"
	"time"

	"github.com/gocolly/colly/v2"
)

// FetcherConfig controls the sitemap collector.
type FetcherConfig struct {
	UserAgent string
	Timeout   time.Duration
}

// Fetcher downloads a sitemap.xml and returns the URL entries it lists.
type Fetcher struct {
	cfg           FetcherConfig
	baseCollector *colly.Collector
}

// NewFetcher builds a Fetcher.
func NewFetcher(cfg FetcherConfig) *Fetcher {
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	return &Fetcher{cfg: cfg, baseCollector: c}
}

// FetchURLs visits the sitemap URL and collects every <loc> entry. Nested
// sitemap indexes are followed one level deep.
func (f *Fetcher) FetchURLs(ctx context.Context, sitemapURL string) ([]string, error) {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	var (
		urls     []string
		fetchErr error
	)
	collector.OnXML("//urlset/url/loc", func(e *colly.XMLElement) {
		urls = append(urls, e.Text)
	})
	collector.OnXML("//sitemapindex/sitemap/loc", func(e *colly.XMLElement) {
		if err := e.Request.Visit(e.Text); err != nil {
			fetchErr = err
		}
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(sitemapURL)
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("sitemap fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("sitemap visit failed: %w", err)
		}
		if fetchErr != nil {
			return nil, fmt.Errorf("sitemap response failed: %w", fetchErr)
		}
		return urls, nil
	}
}
