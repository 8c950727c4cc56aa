// Package selector races candidate extraction methods over a sample of
// pages and picks a winner by score.
package selector

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pagepulse/pagepulse/internal/extract"
	"github.com/pagepulse/pagepulse/internal/tracker"
)

// Config controls trial behavior.
type Config struct {
	// SampleSize caps how many discovered URLs each method is tried
	// against, independent of total job size.
	SampleSize int
	// Priority is the tie-break ordering over method names. Methods not
	// listed sort after listed ones, by name.
	Priority []string
}

const defaultSampleSize = 3

// Outcome reports the winning method and the per-method trial results.
type Outcome struct {
	Winner string
	Trials []tracker.TrialResult
}

// Selector runs the testing phase.
type Selector struct {
	cfg    Config
	logger *zap.Logger
}

// New constructs a Selector.
func New(cfg Config, logger *zap.Logger) *Selector {
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = defaultSampleSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Selector{cfg: cfg, logger: logger}
}

// Run tries every candidate method concurrently against the sample and
// returns the argmax-score winner. Per-page failures are tolerated and
// excluded from that method's score; tracker.ErrTestingFailed is returned
// only when every method fails on every sample page.
func (s *Selector) Run(ctx context.Context, methods []extract.Method, urls []string) (Outcome, error) {
	if len(methods) == 0 {
		return Outcome{}, fmt.Errorf("no candidate methods: %w", tracker.ErrTestingFailed)
	}
	sample := urls
	if len(sample) > s.cfg.SampleSize {
		sample = sample[:s.cfg.SampleSize]
	}

	var (
		mu     sync.Mutex
		trials = make([]tracker.TrialResult, 0, len(methods))
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, method := range methods {
		method := method
		g.Go(func() error {
			trial := s.trial(gctx, method, sample)
			mu.Lock()
			trials = append(trials, trial)
			mu.Unlock()
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return Outcome{}, fmt.Errorf("method trials aborted: %w", err)
	}

	scored := 0
	for _, trial := range trials {
		scored += trial.PagesScored
	}
	if scored == 0 {
		return Outcome{}, tracker.ErrTestingFailed
	}

	s.rank(trials)
	return Outcome{Winner: trials[0].MethodName, Trials: trials}, nil
}

func (s *Selector) trial(ctx context.Context, method extract.Method, sample []string) tracker.TrialResult {
	trial := tracker.TrialResult{MethodName: method.Name()}
	var sum float64
	for _, url := range sample {
		if ctx.Err() != nil {
			break
		}
		result, err := method.Extract(ctx, url)
		if err != nil {
			s.logger.Debug("trial page failed",
				zap.String("method", method.Name()),
				zap.String("url", url),
				zap.Error(err),
			)
			continue
		}
		sum += extract.Score(result)
		trial.PagesScored++
	}
	if trial.PagesScored > 0 {
		trial.Score = sum / float64(trial.PagesScored)
	}
	return trial
}

// rank sorts trials by descending score, breaking ties with the configured
// priority ordering.
func (s *Selector) rank(trials []tracker.TrialResult) {
	sort.SliceStable(trials, func(i, j int) bool {
		if trials[i].Score != trials[j].Score {
			return trials[i].Score > trials[j].Score
		}
		pi, pj := s.priorityIndex(trials[i].MethodName), s.priorityIndex(trials[j].MethodName)
		if pi != pj {
			return pi < pj
		}
		return trials[i].MethodName < trials[j].MethodName
	})
}

func (s *Selector) priorityIndex(name string) int {
	for i, candidate := range s.cfg.Priority {
		if candidate == name {
			return i
		}
	}
	return len(s.cfg.Priority)
}
