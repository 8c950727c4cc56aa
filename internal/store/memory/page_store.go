package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/pagepulse/pagepulse/internal/tracker"
)

// PageStore keeps page records keyed by project and URL.
type PageStore struct {
	mu    sync.RWMutex
	pages map[string]map[string]tracker.PageRecord
}

// NewPageStore constructs a PageStore.
func NewPageStore() *PageStore {
	return &PageStore{pages: make(map[string]map[string]tracker.PageRecord)}
}

// UpsertPage inserts or replaces the record for (project, url).
func (s *PageStore) UpsertPage(_ context.Context, page tracker.PageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	project, ok := s.pages[page.ProjectID]
	if !ok {
		project = make(map[string]tracker.PageRecord)
		s.pages[page.ProjectID] = project
	}
	project[page.URL] = page
	return nil
}

// GetPage fetches the record for (project, url).
func (s *PageStore) GetPage(_ context.Context, projectID, url string) (tracker.PageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	page, ok := s.pages[projectID][url]
	if !ok {
		return tracker.PageRecord{}, tracker.ErrPageNotFound
	}
	return page, nil
}

// ListURLs returns the tracked URLs for a project, sorted, excluding pages
// soft-marked as removed.
func (s *PageStore) ListURLs(_ context.Context, projectID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	urls := make([]string, 0, len(s.pages[projectID]))
	for url, page := range s.pages[projectID] {
		if page.Status == tracker.PageStatusRemoved {
			continue
		}
		urls = append(urls, url)
	}
	sort.Strings(urls)
	return urls, nil
}

// MarkRemoved soft-marks pages that dropped out of the sitemap. Records
// stay in the store; only the status flips. Unknown URLs are ignored.
func (s *PageStore) MarkRemoved(_ context.Context, projectID string, urls []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	project := s.pages[projectID]
	for _, url := range urls {
		page, ok := project[url]
		if !ok {
			continue
		}
		page.Status = tracker.PageStatusRemoved
		project[url] = page
	}
	return nil
}
