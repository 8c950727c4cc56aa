package poller

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pagepulse/pagepulse/internal/tracker"
)

// ControlClient issues status and cancel requests against the engine.
type ControlClient interface {
	Status(ctx context.Context, jobID string) (tracker.Job, error)
	Cancel(ctx context.Context, jobID string) (tracker.Job, error)
}

// Canceller propagates cancel requests. The cancel is fire-and-forget:
// local state is never flipped to cancelled here, since in-flight
// extraction units must finish and be classified before the engine
// confirms the terminal status through the usual polling path.
type Canceller struct {
	client ControlClient
	logger *zap.Logger
}

// NewCanceller constructs a Canceller.
func NewCanceller(client ControlClient, logger *zap.Logger) *Canceller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Canceller{client: client, logger: logger}
}

// Cancel requests cancellation of a job. Calling it on an already-terminal
// job is a no-op returning the current terminal snapshot unchanged; no
// cancel request reaches the engine in that case.
func (c *Canceller) Cancel(ctx context.Context, jobID string) (tracker.Job, error) {
	snap, err := c.client.Status(ctx, jobID)
	if err != nil {
		return tracker.Job{}, fmt.Errorf("cancel status check: %w", err)
	}
	if snap.Status.Terminal() {
		return snap, nil
	}

	snap, err = c.client.Cancel(ctx, jobID)
	if err != nil {
		return tracker.Job{}, fmt.Errorf("cancel request: %w", err)
	}
	c.logger.Info("cancellation requested",
		zap.String("job_id", jobID),
		zap.String("status", string(snap.Status)),
	)
	return snap, nil
}
