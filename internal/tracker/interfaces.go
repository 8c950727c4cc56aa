package tracker

import (
	"context"
	"time"
)

// Engine is the extraction engine facade the tracking layer talks to. The
// engine owns Job records; callers only read snapshots and issue control
// requests.
type Engine interface {
	Start(ctx context.Context, req StartRequest) (StartAck, error)
	Status(ctx context.Context, jobID string) (Job, error)
	Cancel(ctx context.Context, jobID string) (Job, error)
	Rescan(ctx context.Context, req RescanRequest) (SitemapDiff, error)
	StartExtraction(ctx context.Context, req ExtractionRequest) (StartAck, error)
}

// JobStore persists job snapshots.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	UpdateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, jobID string) (Job, error)
}

// PageStore persists per-URL page records.
type PageStore interface {
	UpsertPage(ctx context.Context, page PageRecord) error
	GetPage(ctx context.Context, projectID, url string) (PageRecord, error)
	ListURLs(ctx context.Context, projectID string) ([]string, error)
	MarkRemoved(ctx context.Context, projectID string, urls []string) error
}

// BlobStore writes raw extracted artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes terminal-job notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for the content freshness check.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run/job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
