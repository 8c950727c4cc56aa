// Package extract implements the competing content-extraction strategies
// raced during the testing phase and used by batch extraction.
package extract

import (
	"context"
	"time"
)

// Result holds the fields one extraction attempt pulled from a page.
type Result struct {
	URL         string
	Title       string
	Description string
	Text        string
	LinkCount   int
	HTML        []byte
	Duration    time.Duration
}

// Method is a single extraction strategy. Implementations must be safe for
// concurrent use.
type Method interface {
	Name() string
	Extract(ctx context.Context, url string) (Result, error)
}

// Score rates the completeness of an extraction result on a 0-100 scale.
// Field presence dominates; raw content volume contributes with a cap so a
// huge page cannot mask missing structure.
func Score(r Result) float64 {
	var score float64
	if r.Title != "" {
		score += 20
	}
	if r.Description != "" {
		score += 15
	}
	if n := float64(len(r.Text)) / 100; n > 0 {
		if n > 45 {
			n = 45
		}
		score += n
	}
	if n := float64(r.LinkCount); n > 0 {
		if n > 20 {
			n = 20
		}
		score += n
	}
	return score
}
