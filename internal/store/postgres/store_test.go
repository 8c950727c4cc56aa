package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/pagepulse/pagepulse/internal/tracker"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewWithPool(mock)
	require.NoError(t, err)
	return store, mock
}

func sampleJob() tracker.Job {
	started := time.Unix(1700000000, 0).UTC()
	return tracker.Job{
		ID:        "job-1",
		ClientID:  "client-1",
		Type:      tracker.JobTypeCrawl,
		Phase:     tracker.PhaseExtracting,
		Status:    tracker.StatusRunning,
		Progress:  40,
		Counters:  tracker.Counters{Total: 10, Successful: 3, Failed: 1},
		StartedAt: &started,
	}
}

func TestCreateJobInsertsRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	job := sampleJob()

	mock.ExpectExec("INSERT INTO jobs").
		WithArgs(jobArgs(job)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.CreateJob(context.Background(), job))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateJobSkipsTerminalRows(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	job := sampleJob()

	mock.ExpectExec("UPDATE jobs SET").
		WithArgs(jobArgs(job)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT status FROM jobs").
		WithArgs(job.ID).
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("cancelled"))

	err := store.UpdateJob(context.Background(), job)
	require.ErrorIs(t, err, tracker.ErrJobTerminal)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateJobUnknownID(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	job := sampleJob()

	mock.ExpectExec("UPDATE jobs SET").
		WithArgs(jobArgs(job)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT status FROM jobs").
		WithArgs(job.ID).
		WillReturnRows(pgxmock.NewRows([]string{"status"}))

	err := store.UpdateJob(context.Background(), job)
	require.ErrorIs(t, err, tracker.ErrJobNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJobScansRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	job := sampleJob()

	rows := pgxmock.NewRows([]string{
		"id", "client_id", "job_type", "phase", "status", "progress", "current_url",
		"total", "successful", "failed", "skipped",
		"winning_method", "error_message", "started_at", "completed_at",
	}).AddRow(
		job.ID, job.ClientID, job.Type, job.Phase, job.Status, job.Progress, "",
		job.Counters.Total, job.Counters.Successful, job.Counters.Failed, job.Counters.Skipped,
		"", "", job.StartedAt, (*time.Time)(nil),
	)
	mock.ExpectQuery("SELECT (.+) FROM jobs").WithArgs(job.ID).WillReturnRows(rows)

	got, err := store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, job, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJobNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT (.+) FROM jobs").
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	_, err := store.GetJob(context.Background(), "missing")
	require.ErrorIs(t, err, tracker.ErrJobNotFound)
}

func TestUpsertPage(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	crawled := time.Unix(1700000000, 0).UTC()
	page := tracker.PageRecord{
		ID:               "page-1",
		ProjectID:        "proj",
		URL:              "https://a.test/p1",
		Slug:             "p1",
		Status:           tracker.PageStatusExtracted,
		ExtractionMethod: "static",
		LastCrawledAt:    &crawled,
		VersionCount:     2,
		CurrentData:      "body",
		ContentHash:      "abc",
		BlobURI:          "gs://bucket/abc.html",
	}

	mock.ExpectExec("INSERT INTO pages").
		WithArgs(
			page.ID, page.ProjectID, page.URL, page.Slug, page.Status,
			page.ExtractionMethod, page.LastCrawledAt, page.VersionCount,
			page.CurrentData, page.ContentHash, page.BlobURI,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.UpsertPage(context.Background(), page))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListURLsExcludesRemoved(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	rows := pgxmock.NewRows([]string{"url"}).
		AddRow("https://a.test/a").
		AddRow("https://a.test/b")
	mock.ExpectQuery("SELECT url FROM pages").WithArgs("proj").WillReturnRows(rows)

	urls, err := store.ListURLs(context.Background(), "proj")
	require.NoError(t, err)
	require.Equal(t, []string{"https://a.test/a", "https://a.test/b"}, urls)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkRemoved(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	urls := []string{"https://a.test/gone"}
	mock.ExpectExec("UPDATE pages SET status").
		WithArgs("proj", urls).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.MarkRemoved(context.Background(), "proj", urls))
	require.NoError(t, store.MarkRemoved(context.Background(), "proj", nil))
	require.NoError(t, mock.ExpectationsWereMet())
}
