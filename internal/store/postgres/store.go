// Package postgres provides Postgres-backed job and page stores.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pagepulse/pagepulse/internal/tracker"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Store implements the job and page stores on a shared pool.
type Store struct {
	pool pool
}

// New connects a pool from the config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: p}, nil
}

// NewWithPool constructs a Store from an existing pool (primarily for testing).
func NewWithPool(p pool) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: p}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// CreateJob inserts a new job row.
func (s *Store) CreateJob(ctx context.Context, job tracker.Job) error {
	const query = `
INSERT INTO jobs (
	id, client_id, job_type, phase, status, progress, current_url,
	total, successful, failed, skipped,
	winning_method, error_message, started_at, completed_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`

	if _, err := s.pool.Exec(ctx, query, jobArgs(job)...); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// UpdateJob replaces the job row. The WHERE clause skips rows already in a
// terminal status, keeping terminal records immutable at the database level.
func (s *Store) UpdateJob(ctx context.Context, job tracker.Job) error {
	const query = `
UPDATE jobs SET
	client_id = $2, job_type = $3, phase = $4, status = $5, progress = $6,
	current_url = $7, total = $8, successful = $9, failed = $10, skipped = $11,
	winning_method = $12, error_message = $13, started_at = $14, completed_at = $15
WHERE id = $1 AND status NOT IN ('completed','failed','cancelled')`

	tag, err := s.pool.Exec(ctx, query, jobArgs(job)...)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// No row updated: either the job does not exist or it is terminal.
	var status string
	err = s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, job.ID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return tracker.ErrJobNotFound
	}
	if err != nil {
		return fmt.Errorf("check job status: %w", err)
	}
	return tracker.ErrJobTerminal
}

// GetJob fetches a job row by ID.
func (s *Store) GetJob(ctx context.Context, jobID string) (tracker.Job, error) {
	const query = `
SELECT id, client_id, job_type, phase, status, progress, current_url,
	total, successful, failed, skipped,
	winning_method, error_message, started_at, completed_at
FROM jobs WHERE id = $1`

	var job tracker.Job
	err := s.pool.QueryRow(ctx, query, jobID).Scan(
		&job.ID, &job.ClientID, &job.Type, &job.Phase, &job.Status,
		&job.Progress, &job.CurrentURL,
		&job.Counters.Total, &job.Counters.Successful,
		&job.Counters.Failed, &job.Counters.Skipped,
		&job.WinningMethod, &job.ErrorMessage, &job.StartedAt, &job.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return tracker.Job{}, tracker.ErrJobNotFound
	}
	if err != nil {
		return tracker.Job{}, fmt.Errorf("select job: %w", err)
	}
	return job, nil
}

// UpsertPage inserts or replaces the record for (project_id, url).
func (s *Store) UpsertPage(ctx context.Context, page tracker.PageRecord) error {
	const query = `
INSERT INTO pages (
	id, project_id, url, slug, status, extraction_method,
	last_crawled_at, version_count, current_data, content_hash, blob_uri
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (project_id, url) DO UPDATE SET
	slug = EXCLUDED.slug,
	status = EXCLUDED.status,
	extraction_method = EXCLUDED.extraction_method,
	last_crawled_at = EXCLUDED.last_crawled_at,
	version_count = EXCLUDED.version_count,
	current_data = EXCLUDED.current_data,
	content_hash = EXCLUDED.content_hash,
	blob_uri = EXCLUDED.blob_uri`

	args := []any{
		page.ID, page.ProjectID, page.URL, page.Slug, page.Status,
		page.ExtractionMethod, page.LastCrawledAt, page.VersionCount,
		page.CurrentData, page.ContentHash, page.BlobURI,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert page: %w", err)
	}
	return nil
}

// GetPage fetches the record for (project_id, url).
func (s *Store) GetPage(ctx context.Context, projectID, url string) (tracker.PageRecord, error) {
	const query = `
SELECT id, project_id, url, slug, status, extraction_method,
	last_crawled_at, version_count, current_data, content_hash, blob_uri
FROM pages WHERE project_id = $1 AND url = $2`

	var page tracker.PageRecord
	err := s.pool.QueryRow(ctx, query, projectID, url).Scan(
		&page.ID, &page.ProjectID, &page.URL, &page.Slug, &page.Status,
		&page.ExtractionMethod, &page.LastCrawledAt, &page.VersionCount,
		&page.CurrentData, &page.ContentHash, &page.BlobURI,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return tracker.PageRecord{}, tracker.ErrPageNotFound
	}
	if err != nil {
		return tracker.PageRecord{}, fmt.Errorf("select page: %w", err)
	}
	return page, nil
}

// ListURLs returns the tracked URLs for a project, excluding pages
// soft-marked as removed.
func (s *Store) ListURLs(ctx context.Context, projectID string) ([]string, error) {
	const query = `
SELECT url FROM pages
WHERE project_id = $1 AND status <> 'removed_from_sitemap'
ORDER BY url`

	rows, err := s.pool.Query(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("list urls: %w", err)
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, fmt.Errorf("scan url: %w", err)
		}
		urls = append(urls, url)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate urls: %w", err)
	}
	return urls, nil
}

// MarkRemoved soft-marks pages that dropped out of the sitemap.
func (s *Store) MarkRemoved(ctx context.Context, projectID string, urls []string) error {
	if len(urls) == 0 {
		return nil
	}
	const query = `
UPDATE pages SET status = 'removed_from_sitemap'
WHERE project_id = $1 AND url = ANY($2)`

	if _, err := s.pool.Exec(ctx, query, projectID, urls); err != nil {
		return fmt.Errorf("mark removed: %w", err)
	}
	return nil
}

func jobArgs(job tracker.Job) []any {
	return []any{
		job.ID, job.ClientID, job.Type, job.Phase, job.Status,
		job.Progress, job.CurrentURL,
		job.Counters.Total, job.Counters.Successful,
		job.Counters.Failed, job.Counters.Skipped,
		job.WinningMethod, job.ErrorMessage, job.StartedAt, job.CompletedAt,
	}
}
