// Package sitemap reconciles tracked URL sets against freshly fetched ones.
package sitemap

import (
	"fmt"
	"sort"

	"github.com/pagepulse/pagepulse/internal/tracker"
)

// Reconcile computes the set difference between the previously tracked URLs
// and a freshly fetched sitemap. New and removed are disjoint; unchanged is
// the intersection size. Pure computation, no side effects.
func Reconcile(oldURLs, freshURLs []string) tracker.SitemapDiff {
	oldSet := toSet(oldURLs)
	freshSet := toSet(freshURLs)

	var added, removed []string
	unchanged := 0
	for url := range freshSet {
		if _, ok := oldSet[url]; ok {
			unchanged++
		} else {
			added = append(added, url)
		}
	}
	for url := range oldSet {
		if _, ok := freshSet[url]; !ok {
			removed = append(removed, url)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)

	return tracker.SitemapDiff{
		NewURLs:        added,
		RemovedURLs:    removed,
		NewCount:       len(added),
		RemovedCount:   len(removed),
		UnchangedCount: unchanged,
		TotalInSitemap: len(freshSet),
		Message: fmt.Sprintf(
			"sitemap reconciled: %d new, %d removed, %d unchanged",
			len(added), len(removed), unchanged,
		),
	}
}

func toSet(urls []string) map[string]struct{} {
	set := make(map[string]struct{}, len(urls))
	for _, url := range urls {
		if url == "" {
			continue
		}
		set[url] = struct{}{}
	}
	return set
}
