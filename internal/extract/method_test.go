package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScoreEmptyResult(t *testing.T) {
	t.Parallel()

	require.Zero(t, Score(Result{}))
}

func TestScoreFieldPresence(t *testing.T) {
	t.Parallel()

	base := Score(Result{Text: strings.Repeat("x", 1000)})
	withTitle := Score(Result{Text: strings.Repeat("x", 1000), Title: "Home"})
	require.Equal(t, base+20, withTitle)

	withDesc := Score(Result{Text: strings.Repeat("x", 1000), Description: "about"})
	require.Equal(t, base+15, withDesc)
}

func TestScoreCapsContentVolume(t *testing.T) {
	t.Parallel()

	big := Score(Result{Text: strings.Repeat("x", 1_000_000), LinkCount: 5000})
	require.Equal(t, float64(45+20), big)
}

func TestScoreOrdersRenderedAboveShell(t *testing.T) {
	t.Parallel()

	shell := Result{Title: "App"}
	rendered := Result{
		Title:       "App",
		Description: "rendered",
		Text:        strings.Repeat("content ", 500),
		LinkCount:   12,
	}
	require.Greater(t, Score(rendered), Score(shell))
}
