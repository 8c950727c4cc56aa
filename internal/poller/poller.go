// Package poller drives the adaptive status-polling protocol: poll while a
// job is non-terminal, stop permanently the moment it is not.
package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pagepulse/pagepulse/internal/observe"
	"github.com/pagepulse/pagepulse/internal/tracker"
)

// StatusClient issues read-only status queries against the engine.
type StatusClient interface {
	Status(ctx context.Context, jobID string) (tracker.Job, error)
}

// Config controls polling cadence.
type Config struct {
	// Interval between status requests while the job is non-terminal.
	// Fixed by design: job counts per client are small, so responsiveness
	// wins over request volume. Default 2s.
	Interval time.Duration
	// TerminalCacheSize caps the number of cached terminal snapshots;
	// the oldest entry is evicted past the cap. Default 1024.
	TerminalCacheSize int
	Logger            *zap.Logger
}

const (
	defaultInterval          = 2 * time.Second
	defaultTerminalCacheSize = 1024
)

// Poller owns at most one polling loop per job id. Every observed snapshot
// is published to the bridge; the loop issues its first request
// immediately, re-polls at a fixed interval, and exits permanently on the
// first terminal snapshot. Transient query errors are retried silently on
// the next tick without touching the last-known snapshot.
//
// Loop lifetime is owned by the Poller, not by any watcher: a watcher
// disconnecting only ends its own subscription, so the remaining watchers
// of the same job id still receive every snapshot through the terminal
// one. Loops end on a terminal snapshot, an unknown job id, or Close.
type Poller struct {
	client StatusClient
	bridge *observe.Bridge
	cfg    Config
	logger *zap.Logger

	baseCtx context.Context
	cancel  context.CancelFunc

	mu            sync.Mutex
	active        map[string]struct{}
	terminal      map[string]tracker.Job
	terminalOrder []string
}

// New constructs a Poller publishing into the supplied bridge.
func New(client StatusClient, bridge *observe.Bridge, cfg Config) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.TerminalCacheSize <= 0 {
		cfg.TerminalCacheSize = defaultTerminalCacheSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	return &Poller{
		client:   client,
		bridge:   bridge,
		cfg:      cfg,
		logger:   logger,
		baseCtx:  baseCtx,
		cancel:   cancel,
		active:   make(map[string]struct{}),
		terminal: make(map[string]tracker.Job),
	}
}

// Watch returns the snapshot stream for a job id, starting the polling
// loop if none is active. A second Watch for the same id reuses the
// existing loop. The caller's ctx ends only the caller's stream; the loop
// itself keeps polling for everyone else. For a job already seen terminal
// the stream carries the cached terminal snapshot and closes; no further
// requests are issued.
func (p *Poller) Watch(ctx context.Context, jobID string) <-chan tracker.Job {
	p.mu.Lock()
	if snap, ok := p.terminal[jobID]; ok {
		p.mu.Unlock()
		ch := make(chan tracker.Job, 1)
		ch <- snap
		close(ch)
		return ch
	}
	ch, cancel := p.bridge.Subscribe(jobID)
	if _, running := p.active[jobID]; !running {
		p.active[jobID] = struct{}{}
		go p.run(jobID)
	}
	p.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-p.baseCtx.Done():
		}
		cancel()
	}()
	return ch
}

// Close stops every polling loop. Open subscriber streams end through the
// bridge shutdown.
func (p *Poller) Close() {
	p.cancel()
}

func (p *Poller) run(jobID string) {
	defer func() {
		p.mu.Lock()
		delete(p.active, jobID)
		p.mu.Unlock()
	}()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		if done := p.pollOnce(p.baseCtx, jobID); done {
			return
		}
		select {
		case <-p.baseCtx.Done():
			return
		case <-ticker.C:
		}
	}
}

// pollOnce issues a single status request. It reports true when polling
// for this job id must stop for good.
func (p *Poller) pollOnce(ctx context.Context, jobID string) bool {
	snap, err := p.client.Status(ctx, jobID)
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		if errors.Is(err, tracker.ErrJobNotFound) {
			// Permanent: the id will never turn terminal, so end the
			// streams instead of polling forever.
			p.logger.Warn("status poll for unknown job",
				zap.String("job_id", jobID),
			)
			p.bridge.Drop(jobID)
			return true
		}
		// Transient transport failure: retry on the next tick.
		p.logger.Debug("status poll failed",
			zap.String("job_id", jobID),
			zap.Error(err),
		)
		return false
	}

	p.bridge.Publish(snap)
	if snap.Status.Terminal() {
		p.cacheTerminal(jobID, snap)
		return true
	}
	return false
}

func (p *Poller) cacheTerminal(jobID string, snap tracker.Job) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, seen := p.terminal[jobID]; !seen {
		p.terminalOrder = append(p.terminalOrder, jobID)
	}
	p.terminal[jobID] = snap
	for len(p.terminalOrder) > p.cfg.TerminalCacheSize {
		oldest := p.terminalOrder[0]
		p.terminalOrder = p.terminalOrder[1:]
		delete(p.terminal, oldest)
	}
}
