// Package lifecycle models a job's phase/status/progress as one record
// driven by engine-reported events.
package lifecycle

import (
	"sync"
	"time"

	"github.com/pagepulse/pagepulse/internal/tracker"
)

// EventKind identifies an engine-reported milestone.
type EventKind string

// Supported lifecycle events.
const (
	EventStarted       EventKind = "STARTED"
	EventDiscoveryDone EventKind = "DISCOVERY_DONE"
	EventTestingDone   EventKind = "TESTING_DONE"
	EventProgress      EventKind = "PROGRESS"
	EventCompleted     EventKind = "COMPLETED"
	EventFailed        EventKind = "FAILED"
	EventCancelled     EventKind = "CANCELLED"
)

// Event carries the payload for a state transition.
type Event struct {
	Kind       EventKind
	At         time.Time
	Total      int
	Winner     string
	Counters   tracker.Counters
	CurrentURL string
	Error      string
}

// Machine holds one job's lifecycle record. Transitions happen only through
// Apply; once a terminal status is reached every further event is an
// idempotent no-op, so stale late-arriving updates cannot resurrect a
// finished job. Safe for concurrent use.
type Machine struct {
	mu  sync.Mutex
	job tracker.Job
}

// New seeds a Machine with a pending job record.
func New(job tracker.Job) *Machine {
	job.Status = tracker.StatusPending
	job.Phase = tracker.PhaseDiscovering
	job.Progress = 0
	return &Machine{job: job}
}

// Snapshot returns a read-only copy of the current record.
func (m *Machine) Snapshot() tracker.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.job
}

// Apply advances the machine and returns the resulting snapshot. The second
// return value reports whether the event changed anything.
func (m *Machine) Apply(evt Event) (tracker.Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.job.Status.Terminal() {
		return m.job, false
	}

	switch evt.Kind {
	case EventStarted:
		if m.job.Status != tracker.StatusPending {
			return m.job, false
		}
		m.job.Status = tracker.StatusRunning
		m.job.Phase = tracker.PhaseDiscovering
		at := evt.At
		m.job.StartedAt = &at
	case EventDiscoveryDone:
		if m.job.Phase != tracker.PhaseDiscovering {
			return m.job, false
		}
		m.job.Phase = tracker.PhaseTesting
		m.job.Counters.Total = evt.Total
	case EventTestingDone:
		if m.job.Phase != tracker.PhaseTesting {
			return m.job, false
		}
		m.job.Phase = tracker.PhaseExtracting
		m.job.WinningMethod = evt.Winner
	case EventProgress:
		m.job.Counters = evt.Counters
		m.job.CurrentURL = evt.CurrentURL
		if pct := evt.Counters.Progress(); pct > m.job.Progress {
			m.job.Progress = pct
		}
	case EventCompleted:
		m.finish(tracker.StatusCompleted, tracker.PhaseCompleted, "", evt.At)
		m.job.Progress = 100
	case EventFailed:
		m.finish(tracker.StatusFailed, tracker.PhaseFailed, evt.Error, evt.At)
	case EventCancelled:
		m.finish(tracker.StatusCancelled, m.job.Phase, evt.Error, evt.At)
	default:
		return m.job, false
	}
	return m.job, true
}

func (m *Machine) finish(status tracker.Status, phase tracker.Phase, errMsg string, at time.Time) {
	m.job.Status = status
	m.job.Phase = phase
	m.job.ErrorMessage = errMsg
	m.job.CurrentURL = ""
	m.job.CompletedAt = &at
}
