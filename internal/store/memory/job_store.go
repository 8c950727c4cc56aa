// Package memory provides in-memory store implementations for
// development and testing.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/pagepulse/pagepulse/internal/tracker"
)

// JobStore keeps job snapshots in a map.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]tracker.Job
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]tracker.Job)}
}

// CreateJob stores a new job snapshot.
func (s *JobStore) CreateJob(_ context.Context, job tracker.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return errors.New("job already exists")
	}
	s.jobs[job.ID] = job
	return nil
}

// UpdateJob replaces the stored snapshot. Writes against a job already in
// a terminal status are rejected; terminal records are immutable.
func (s *JobStore) UpdateJob(_ context.Context, job tracker.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.jobs[job.ID]
	if !ok {
		return tracker.ErrJobNotFound
	}
	if current.Status.Terminal() {
		return tracker.ErrJobTerminal
	}
	s.jobs[job.ID] = job
	return nil
}

// GetJob fetches a job snapshot by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (tracker.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return tracker.Job{}, tracker.ErrJobNotFound
	}
	return job, nil
}
