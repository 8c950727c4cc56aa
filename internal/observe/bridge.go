package observe

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pagepulse/pagepulse/internal/tracker"
)

// Config controls Bridge delivery behavior.
//   - SubscriberBuffer: per-subscriber channel capacity (default 16).
//   - SinkTimeout: per-sink timeout while consuming (default 10s).
//   - Logger: optional structured logger used for warnings.
type Config struct {
	SubscriberBuffer int
	SinkTimeout      time.Duration
	Logger           *zap.Logger
}

const (
	defaultSubscriberBuffer = 16
	defaultSinkTimeout      = 10 * time.Second
)

// Bridge fans job snapshots out to per-job subscribers and registered
// sinks. Publish never blocks: a slow subscriber loses its oldest buffered
// snapshot, never the newest one, so the terminal snapshot is always the
// last delivered. Safe for concurrent use.
type Bridge struct {
	cfg    Config
	sinks  []Sink
	logger *zap.Logger

	mu     sync.Mutex
	subs   map[string]map[*subscriber]struct{}
	closed bool
}

type subscriber struct {
	ch   chan tracker.Job
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.ch) })
}

// NewBridge constructs a Bridge with the supplied sinks.
func NewBridge(cfg Config, sinks ...Sink) *Bridge {
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = defaultSubscriberBuffer
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		cfg:    cfg,
		sinks:  append([]Sink(nil), sinks...),
		logger: logger,
		subs:   make(map[string]map[*subscriber]struct{}),
	}
}

// Subscribe registers interest in one job id and returns the snapshot
// channel plus a cancel func. The channel closes after the terminal
// snapshot is delivered (or on cancel). Callers should read the current
// snapshot from the store first; the bridge only carries updates published
// after subscription.
func (b *Bridge) Subscribe(jobID string) (<-chan tracker.Job, func()) {
	sub := &subscriber{ch: make(chan tracker.Job, b.cfg.SubscriberBuffer)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.close()
		return sub.ch, func() {}
	}
	set, ok := b.subs[jobID]
	if !ok {
		set = make(map[*subscriber]struct{})
		b.subs[jobID] = set
	}
	set[sub] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if set, ok := b.subs[jobID]; ok {
			delete(set, sub)
			if len(set) == 0 {
				delete(b.subs, jobID)
			}
		}
		b.mu.Unlock()
		sub.close()
	}
	return sub.ch, cancel
}

// Publish delivers a snapshot to every subscriber of its job id and to all
// sinks. A terminal snapshot also closes the job's subscriber channels.
func (b *Bridge) Publish(snapshot tracker.Job) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	var targets []*subscriber
	if set, ok := b.subs[snapshot.ID]; ok {
		for sub := range set {
			targets = append(targets, sub)
		}
		if snapshot.Status.Terminal() {
			delete(b.subs, snapshot.ID)
		}
	}
	b.mu.Unlock()

	for _, sub := range targets {
		b.deliver(sub, snapshot)
		if snapshot.Status.Terminal() {
			sub.close()
		}
	}
	b.consumeSinks(snapshot)
}

// Drop closes every subscriber channel for a job id without delivering a
// further snapshot. Used when the id turns out not to correspond to any
// job, so no terminal snapshot will ever arrive.
func (b *Bridge) Drop(jobID string) {
	b.mu.Lock()
	var targets []*subscriber
	if set, ok := b.subs[jobID]; ok {
		for sub := range set {
			targets = append(targets, sub)
		}
		delete(b.subs, jobID)
	}
	b.mu.Unlock()

	for _, sub := range targets {
		sub.close()
	}
}

// deliver pushes without blocking; when the buffer is full the oldest
// entry is evicted so the newest snapshot always lands.
func (b *Bridge) deliver(sub *subscriber, snapshot tracker.Job) {
	for {
		select {
		case sub.ch <- snapshot:
			return
		default:
		}
		select {
		case <-sub.ch:
			b.logger.Debug("dropped stale snapshot for slow subscriber",
				zap.String("job_id", snapshot.ID))
		default:
		}
	}
}

func (b *Bridge) consumeSinks(snapshot tracker.Job) {
	for _, sink := range b.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), b.cfg.SinkTimeout)
		if err := sink.Consume(ctx, snapshot); err != nil {
			b.logger.Warn("snapshot sink consume failed", zap.Error(err))
		}
		cancel()
	}
}

// Close shuts the bridge down: all subscriber channels close and sinks are
// closed. Publish becomes a no-op afterwards.
func (b *Bridge) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var all []*subscriber
	for _, set := range b.subs {
		for sub := range set {
			all = append(all, sub)
		}
	}
	b.subs = make(map[string]map[*subscriber]struct{})
	b.mu.Unlock()

	for _, sub := range all {
		sub.close()
	}
	for _, sink := range b.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			b.logger.Warn("snapshot sink close failed", zap.Error(err))
		}
	}
	return nil
}
