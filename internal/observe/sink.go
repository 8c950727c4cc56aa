// Package observe fans job status snapshots out to interested consumers so
// they do not have to poll independently.
package observe

import (
	"context"

	"github.com/pagepulse/pagepulse/internal/tracker"
)

// Sink consumes job snapshots as they are published. Implementations must
// be safe for repeated calls, honor ctx deadlines, and may be invoked
// concurrently.
type Sink interface {
	Consume(ctx context.Context, snapshot tracker.Job) error
	Close(ctx context.Context) error
}

// Publisher accepts individual snapshots; Bridge satisfies this interface
// so emitters stay agnostic about subscribers and sinks.
type Publisher interface {
	Publish(snapshot tracker.Job)
}
