package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pagepulse/pagepulse/internal/config"
	"github.com/pagepulse/pagepulse/internal/tracker"
)

func newTestServer(t *testing.T, eng *fakeEngine, cfg config.Config) *httptest.Server {
	t.Helper()
	srv := NewServer(eng, eng, eng, prometheus.NewRegistry(), cfg, zap.NewNop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, method, url string, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	var payload map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	return resp, payload
}

func TestStartRunAccepted(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{
		startAck: tracker.StartAck{RunID: "run-1", Status: tracker.StatusPending, Message: "run accepted"},
	}
	ts := newTestServer(t, eng, config.Config{})

	resp, payload := doJSON(t, http.MethodPost, ts.URL+"/v1/runs",
		`{"setup_type":"sitemap","sitemap_url":"https://a.test/sitemap.xml"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Equal(t, "run-1", payload["run_id"])
	require.Equal(t, "pending", payload["status"])
	require.Equal(t, tracker.SetupSitemap, eng.lastStart.SetupType)
}

func TestStartRunValidationFailure(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{startErr: tracker.ErrValidation}
	ts := newTestServer(t, eng, config.Config{})

	resp, payload := doJSON(t, http.MethodPost, ts.URL+"/v1/runs", `{"setup_type":"sitemap"}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Contains(t, payload["error"], "invalid request")

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/v1/runs", `{bad json`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetJobStatusFieldNames(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{
		statusJob: tracker.Job{
			ID:       "job-1",
			Type:     tracker.JobTypeCrawl,
			Phase:    tracker.PhaseExtracting,
			Status:   tracker.StatusRunning,
			Progress: 45,
			Counters: tracker.Counters{Total: 10, Successful: 4, Failed: 0, Skipped: 1},
		},
	}
	ts := newTestServer(t, eng, config.Config{})

	resp, payload := doJSON(t, http.MethodGet, ts.URL+"/v1/jobs/job-1/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "job-1", payload["id"])
	require.Equal(t, "extracting", payload["phase"])
	require.Equal(t, "running", payload["status"])
	require.Equal(t, float64(45), payload["progress_percentage"])

	counters, ok := payload["counters"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, float64(10), counters["total"])
	require.Equal(t, float64(4), counters["successful"])
	require.Equal(t, "job-1", eng.lastStatusID)
}

func TestGetJobStatusNotFound(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{statusErr: tracker.ErrJobNotFound}
	ts := newTestServer(t, eng, config.Config{})

	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/v1/jobs/missing/status", "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCancelJobIdempotent(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{
		cancelJob: tracker.Job{ID: "job-1", Status: tracker.StatusCancelled, Progress: 40},
	}
	ts := newTestServer(t, eng, config.Config{})

	for i := 0; i < 2; i++ {
		resp, payload := doJSON(t, http.MethodPost, ts.URL+"/v1/jobs/job-1/cancel", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, "cancelled", payload["status"])
	}
	require.Equal(t, 2, eng.cancelCalls)
}

func TestRescanProject(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{
		rescanDiff: tracker.SitemapDiff{
			NewURLs:        []string{"https://a.test/d"},
			RemovedURLs:    []string{"https://a.test/a"},
			NewCount:       1,
			RemovedCount:   1,
			UnchangedCount: 2,
			TotalInSitemap: 3,
			Message:        "sitemap reconciled: 1 new, 1 removed, 2 unchanged",
		},
	}
	ts := newTestServer(t, eng, config.Config{})

	resp, payload := doJSON(t, http.MethodPost, ts.URL+"/v1/projects/proj-1/rescan",
		`{"sitemap_url":"https://a.test/sitemap.xml"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, float64(1), payload["new_count"])
	require.Equal(t, float64(2), payload["unchanged_count"])
	require.Equal(t, float64(3), payload["total_in_sitemap"])
	require.Equal(t, "proj-1", eng.lastRescan.ProjectID)
	require.Equal(t, "https://a.test/sitemap.xml", eng.lastRescan.SitemapURL)
}

func TestStartExtractionAccepted(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{
		extractionAck: tracker.StartAck{RunID: "run-2", Status: tracker.StatusPending, Message: "extraction accepted"},
	}
	ts := newTestServer(t, eng, config.Config{})

	resp, payload := doJSON(t, http.MethodPost, ts.URL+"/v1/extractions",
		`{"urls":["https://a.test/p1"],"extraction_method":"static"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Equal(t, "run-2", payload["run_id"])
	require.Equal(t, "static", eng.lastExtraction.ExtractionMethod)
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{statusJob: tracker.Job{ID: "job-1", Status: tracker.StatusRunning}}
	cfg := config.Config{}
	cfg.Auth.Enabled = true
	cfg.Auth.APIKey = "secret"
	ts := newTestServer(t, eng, cfg)

	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/v1/jobs/job-1/status", "")
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, ts.URL+"/v1/jobs/job-1/status", nil)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", "secret")
	authed, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer authed.Body.Close()
	require.Equal(t, http.StatusOK, authed.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, &fakeEngine{}, config.Config{})

	resp, payload := doJSON(t, http.MethodGet, ts.URL+"/healthz", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", payload["status"])

	metricsResp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer metricsResp.Body.Close()
	require.Equal(t, http.StatusOK, metricsResp.StatusCode)
}

func TestStreamProgress(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{
		watchSnapshots: []tracker.Job{
			{ID: "job-1", Status: tracker.StatusRunning, Progress: 50},
			{ID: "job-1", Status: tracker.StatusCompleted, Progress: 100},
		},
	}
	ts := newTestServer(t, eng, config.Config{})

	resp, err := http.Get(ts.URL + "/v1/jobs/job-1/progress")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	events := strings.Split(strings.TrimSpace(string(body)), "\n\n")
	require.Len(t, events, 2)
	require.Contains(t, events[0], `"progress_percentage":50`)
	require.Contains(t, events[1], `"status":"completed"`)
}

// --- fakes ---

type fakeEngine struct {
	startAck       tracker.StartAck
	startErr       error
	lastStart      tracker.StartRequest
	statusJob      tracker.Job
	statusErr      error
	lastStatusID   string
	cancelJob      tracker.Job
	cancelErr      error
	cancelCalls    int
	rescanDiff     tracker.SitemapDiff
	rescanErr      error
	lastRescan     tracker.RescanRequest
	extractionAck  tracker.StartAck
	extractionErr  error
	lastExtraction tracker.ExtractionRequest
	watchSnapshots []tracker.Job
}

func (e *fakeEngine) Start(_ context.Context, req tracker.StartRequest) (tracker.StartAck, error) {
	e.lastStart = req
	return e.startAck, e.startErr
}

func (e *fakeEngine) Status(_ context.Context, jobID string) (tracker.Job, error) {
	e.lastStatusID = jobID
	return e.statusJob, e.statusErr
}

func (e *fakeEngine) Cancel(_ context.Context, _ string) (tracker.Job, error) {
	e.cancelCalls++
	return e.cancelJob, e.cancelErr
}

func (e *fakeEngine) Rescan(_ context.Context, req tracker.RescanRequest) (tracker.SitemapDiff, error) {
	e.lastRescan = req
	return e.rescanDiff, e.rescanErr
}

func (e *fakeEngine) StartExtraction(_ context.Context, req tracker.ExtractionRequest) (tracker.StartAck, error) {
	e.lastExtraction = req
	return e.extractionAck, e.extractionErr
}

func (e *fakeEngine) Watch(_ context.Context, _ string) <-chan tracker.Job {
	ch := make(chan tracker.Job, len(e.watchSnapshots))
	for _, snap := range e.watchSnapshots {
		ch <- snap
	}
	close(ch)
	return ch
}
