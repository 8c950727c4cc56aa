package sitemap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReconcile(t *testing.T) {
	t.Parallel()

	diff := Reconcile(
		[]string{"https://a.test/A", "https://a.test/B", "https://a.test/C"},
		[]string{"https://a.test/B", "https://a.test/C", "https://a.test/D"},
	)

	require.Equal(t, []string{"https://a.test/D"}, diff.NewURLs)
	require.Equal(t, []string{"https://a.test/A"}, diff.RemovedURLs)
	require.Equal(t, 1, diff.NewCount)
	require.Equal(t, 1, diff.RemovedCount)
	require.Equal(t, 2, diff.UnchangedCount)
	require.Equal(t, 3, diff.TotalInSitemap)
	require.Equal(t, "sitemap reconciled: 1 new, 1 removed, 2 unchanged", diff.Message)
}

func TestReconcileDisjointSets(t *testing.T) {
	t.Parallel()

	diff := Reconcile(
		[]string{"u1", "u2", "u3", "u4"},
		[]string{"u3", "u4", "u5", "u6"},
	)

	seen := map[string]struct{}{}
	for _, u := range diff.NewURLs {
		seen[u] = struct{}{}
	}
	for _, u := range diff.RemovedURLs {
		_, overlap := seen[u]
		require.False(t, overlap, "new and removed must be disjoint")
	}

	// unchanged = |old| - |removed| = |fresh| - |new|
	require.Equal(t, 4-diff.RemovedCount, diff.UnchangedCount)
	require.Equal(t, 4-diff.NewCount, diff.UnchangedCount)
}

func TestReconcileEmptyAndDuplicates(t *testing.T) {
	t.Parallel()

	diff := Reconcile(nil, []string{"u1", "u1", "", "u2"})
	require.Equal(t, []string{"u1", "u2"}, diff.NewURLs)
	require.Empty(t, diff.RemovedURLs)
	require.Equal(t, 0, diff.UnchangedCount)
	require.Equal(t, 2, diff.TotalInSitemap)

	diff = Reconcile([]string{"u1"}, nil)
	require.Empty(t, diff.NewURLs)
	require.Equal(t, []string{"u1"}, diff.RemovedURLs)
	require.Equal(t, 0, diff.TotalInSitemap)
}
