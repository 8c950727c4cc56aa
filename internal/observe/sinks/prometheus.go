package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pagepulse/pagepulse/internal/tracker"
)

// PrometheusSink exports job tracking metrics via Prometheus. It owns all
// collectors for jobs started/completed/running and per-outcome page
// counters.
type PrometheusSink struct {
	jobsStarted   prometheus.Counter
	jobsCompleted *prometheus.CounterVec
	jobsRunning   prometheus.Gauge
	jobRuntime    *prometheus.HistogramVec
	pagesTotal    *prometheus.CounterVec

	tracker *jobTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_jobs_started_total",
			Help: "Total jobs that have started running.",
		}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_jobs_completed_total",
			Help: "Total jobs reaching a terminal status, partitioned by result.",
		}, []string{"result"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_jobs_running",
			Help: "Current number of running jobs.",
		}),
		jobRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tracker_job_runtime_seconds",
			Help:    "Wall time per terminal job.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"result"}),
		pagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_pages_processed_total",
			Help: "Classified extraction units partitioned by outcome.",
		}, []string{"outcome"}),
		tracker: newJobTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.jobsStarted,
		s.jobsCompleted,
		s.jobsRunning,
		s.jobRuntime,
		s.pagesTotal,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register snapshot collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors from one snapshot. It is safe
// for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, snapshot tracker.Job) error {
	if snapshot.Status == tracker.StatusRunning && s.tracker.start(snapshot.ID) {
		s.jobsStarted.Inc()
		s.jobsRunning.Inc()
	}

	delta := s.tracker.countersDelta(snapshot.ID, snapshot.Counters)
	s.addPages("success", delta.Successful)
	s.addPages("failed", delta.Failed)
	s.addPages("skipped", delta.Skipped)

	if snapshot.Status.Terminal() {
		s.jobsCompleted.WithLabelValues(string(snapshot.Status)).Inc()
		if snapshot.StartedAt != nil && snapshot.CompletedAt != nil {
			runtime := snapshot.CompletedAt.Sub(*snapshot.StartedAt)
			if runtime > 0 {
				s.jobRuntime.WithLabelValues(string(snapshot.Status)).Observe(runtime.Seconds())
			}
		}
		if s.tracker.complete(snapshot.ID) {
			s.jobsRunning.Dec()
		}
	}
	return nil
}

func (s *PrometheusSink) addPages(outcome string, n int) {
	if n > 0 {
		s.pagesTotal.WithLabelValues(outcome).Add(float64(n))
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

// jobTracker dedupes lifecycle transitions and tracks the last seen
// counters per job so counter deltas stay monotone.
type jobTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
	last    map[string]tracker.Counters
}

func newJobTracker() *jobTracker {
	return &jobTracker{
		running: make(map[string]struct{}),
		last:    make(map[string]tracker.Counters),
	}
}

func (t *jobTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *jobTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.last, id)
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}

func (t *jobTracker) countersDelta(id string, current tracker.Counters) tracker.Counters {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev := t.last[id]
	t.last[id] = current
	return tracker.Counters{
		Successful: max(0, current.Successful-prev.Successful),
		Failed:     max(0, current.Failed-prev.Failed),
		Skipped:    max(0, current.Skipped-prev.Skipped),
	}
}
