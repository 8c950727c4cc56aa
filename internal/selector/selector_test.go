package selector

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pagepulse/pagepulse/internal/extract"
	"github.com/pagepulse/pagepulse/internal/tracker"
)

// fakeMethod scores every page identically unless the URL is listed as
// failing.
type fakeMethod struct {
	name    string
	result  extract.Result
	failing map[string]bool
	calls   atomic.Int32
}

func (m *fakeMethod) Name() string { return m.name }

func (m *fakeMethod) Extract(_ context.Context, url string) (extract.Result, error) {
	m.calls.Add(1)
	if m.failing[url] {
		return extract.Result{}, errors.New("extract failed")
	}
	return m.result, nil
}

func richResult() extract.Result {
	return extract.Result{
		Title:       "t",
		Description: "d",
		Text:        strings.Repeat("x", 10_000),
		LinkCount:   50,
	}
}

func TestSelectorPicksHighestScore(t *testing.T) {
	t.Parallel()

	strong := &fakeMethod{name: "crawl4ai", result: richResult()}
	weak := &fakeMethod{name: "jina", result: extract.Result{Title: "t"}}

	sel := New(Config{SampleSize: 2}, zap.NewNop())
	out, err := sel.Run(context.Background(), []extract.Method{weak, strong}, []string{"u1", "u2", "u3"})
	require.NoError(t, err)
	require.Equal(t, "crawl4ai", out.Winner)
	require.Len(t, out.Trials, 2)
	require.Greater(t, out.Trials[0].Score, out.Trials[1].Score)

	// Sample is fixed-size: 2 pages per method, not 3.
	require.Equal(t, int32(2), strong.calls.Load())
	require.Equal(t, int32(2), weak.calls.Load())
}

func TestSelectorTieBreakUsesPriority(t *testing.T) {
	t.Parallel()

	a := &fakeMethod{name: "alpha", result: richResult()}
	b := &fakeMethod{name: "beta", result: richResult()}

	sel := New(Config{SampleSize: 1, Priority: []string{"beta", "alpha"}}, zap.NewNop())
	out, err := sel.Run(context.Background(), []extract.Method{a, b}, []string{"u1"})
	require.NoError(t, err)
	require.Equal(t, "beta", out.Winner)

	// Without a priority list the name ordering decides.
	sel = New(Config{SampleSize: 1}, zap.NewNop())
	out, err = sel.Run(context.Background(), []extract.Method{b, a}, []string{"u1"})
	require.NoError(t, err)
	require.Equal(t, "alpha", out.Winner)
}

func TestSelectorToleratesPartialFailures(t *testing.T) {
	t.Parallel()

	flaky := &fakeMethod{
		name:    "flaky",
		result:  richResult(),
		failing: map[string]bool{"u1": true},
	}
	sel := New(Config{SampleSize: 3}, zap.NewNop())
	out, err := sel.Run(context.Background(), []extract.Method{flaky}, []string{"u1", "u2", "u3"})
	require.NoError(t, err)
	require.Equal(t, "flaky", out.Winner)
	require.Equal(t, 2, out.Trials[0].PagesScored)
	require.Equal(t, extract.Score(richResult()), out.Trials[0].Score)
}

func TestSelectorAllMethodsFailEverywhere(t *testing.T) {
	t.Parallel()

	fail := map[string]bool{"u1": true, "u2": true}
	m1 := &fakeMethod{name: "m1", failing: fail}
	m2 := &fakeMethod{name: "m2", failing: fail}

	sel := New(Config{SampleSize: 2}, zap.NewNop())
	_, err := sel.Run(context.Background(), []extract.Method{m1, m2}, []string{"u1", "u2"})
	require.ErrorIs(t, err, tracker.ErrTestingFailed)
}

func TestSelectorNoMethods(t *testing.T) {
	t.Parallel()

	sel := New(Config{}, zap.NewNop())
	_, err := sel.Run(context.Background(), nil, []string{"u1"})
	require.ErrorIs(t, err, tracker.ErrTestingFailed)
}
