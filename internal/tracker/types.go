// Package tracker defines core types shared across subsystems.
package tracker

import "time"

// JobType classifies the kind of work a job performs.
type JobType string

// Job types accepted by the engine.
const (
	JobTypeEngineSetup JobType = "engine_setup"
	JobTypeCrawl       JobType = "crawl"
	JobTypeExtraction  JobType = "extraction"
)

// Phase is the current stage of work within a job.
type Phase string

// Job phases reported in status snapshots.
const (
	PhaseDiscovering Phase = "discovering"
	PhaseTesting     Phase = "testing"
	PhaseExtracting  Phase = "extracting"
	PhaseCompleted   Phase = "completed"
	PhaseFailed      Phase = "failed"
)

// Status represents the lifecycle state of a job.
type Status string

// Job status values persisted in the job store.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Counters tracks per-page outcome stats for a job.
type Counters struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
}

// Done returns the number of classified units.
func (c Counters) Done() int {
	return c.Successful + c.Failed + c.Skipped
}

// Valid reports whether the classified units do not exceed the total.
func (c Counters) Valid() bool {
	return c.Done() <= c.Total
}

// Progress converts the counters into a 0-100 percentage.
func (c Counters) Progress() int {
	if c.Total <= 0 {
		return 0
	}
	pct := 100 * c.Done() / c.Total
	if pct > 100 {
		pct = 100
	}
	return pct
}

// Job is the status snapshot for a tracked crawl/extraction run. The engine
// owns the record; everything else holds read-only copies.
type Job struct {
	ID            string     `json:"id"`
	ClientID      string     `json:"client_id,omitempty"`
	Type          JobType    `json:"job_type"`
	Phase         Phase      `json:"phase"`
	Status        Status     `json:"status"`
	Progress      int        `json:"progress_percentage"`
	CurrentURL    string     `json:"current_url,omitempty"`
	Counters      Counters   `json:"counters"`
	WinningMethod string     `json:"winning_method,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// PageStatus is the lifecycle state of a tracked page.
type PageStatus string

// Page status values persisted in the page store.
const (
	PageStatusDiscovered PageStatus = "discovered"
	PageStatusExtracted  PageStatus = "extracted"
	PageStatusFailed     PageStatus = "failed"
	PageStatusRemoved    PageStatus = "removed_from_sitemap"
)

// PageRecord is persisted for each discovered URL and mutated by each
// extraction pass. Records are never hard-deleted by the tracking core;
// pages that drop out of the sitemap are soft-marked removed instead.
type PageRecord struct {
	ID               string     `json:"id"`
	ProjectID        string     `json:"project_id"`
	URL              string     `json:"url"`
	Slug             string     `json:"slug"`
	Status           PageStatus `json:"status"`
	ExtractionMethod string     `json:"extraction_method,omitempty"`
	LastCrawledAt    *time.Time `json:"last_crawled_at,omitempty"`
	VersionCount     int        `json:"version_count"`
	CurrentData      string     `json:"current_data,omitempty"`
	ContentHash      string     `json:"content_hash,omitempty"`
	BlobURI          string     `json:"blob_uri,omitempty"`
}

// SitemapDiff is the result of reconciling a previously tracked URL set
// against a freshly fetched one. Ephemeral; computed per rescan request.
type SitemapDiff struct {
	NewURLs        []string `json:"new_urls"`
	RemovedURLs    []string `json:"removed_urls"`
	NewCount       int      `json:"new_count"`
	RemovedCount   int      `json:"removed_count"`
	UnchangedCount int      `json:"unchanged_count"`
	TotalInSitemap int      `json:"total_in_sitemap"`
	Message        string   `json:"message"`
}

// TrialResult scores one extraction method over the testing sample.
type TrialResult struct {
	MethodName  string  `json:"method_name"`
	Score       float64 `json:"score"`
	PagesScored int     `json:"pages_scored"`
}

// SetupType selects how a run discovers its URL set.
type SetupType string

// Supported setup types for start requests.
const (
	SetupSitemap SetupType = "sitemap"
	SetupManual  SetupType = "manual"
)

// StartRequest launches a new crawl run.
type StartRequest struct {
	ClientID   string    `json:"client_id"`
	SetupType  SetupType `json:"setup_type"`
	SitemapURL string    `json:"sitemap_url,omitempty"`
	ManualURLs []string  `json:"manual_urls,omitempty"`
}

// StartAck acknowledges an accepted run.
type StartAck struct {
	RunID   string `json:"run_id"`
	Status  Status `json:"status"`
	Message string `json:"message"`
}

// RescanRequest asks for a sitemap reconciliation of a project.
type RescanRequest struct {
	ProjectID  string `json:"project_id"`
	SitemapURL string `json:"sitemap_url,omitempty"`
}

// ExtractionRequest starts a batch extraction with a known method,
// bypassing the testing phase.
type ExtractionRequest struct {
	ClientID         string   `json:"client_id,omitempty"`
	URLs             []string `json:"urls"`
	ExtractionMethod string   `json:"extraction_method"`
}
