// internal/api/api_test.go
package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/valpere/SiteHarvester/internal/engine"
	"github.com/valpere/SiteHarvester/internal/monitoring"
	"github.com/valpere/SiteHarvester/internal/progress"
	"github.com/valpere/SiteHarvester/internal/site"
	"github.com/valpere/SiteHarvester/internal/storage"
	"github.com/valpere/SiteHarvester/pkg/types"
)

type fakeJobs struct {
	hub      *progress.Hub
	startErr error

	mu      sync.Mutex
	started []types.JobRequest
	running map[string]bool
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{hub: progress.NewHub(), running: make(map[string]bool)}
}

func (f *fakeJobs) Start(_ context.Context, job types.JobRequest) (string, error) {
	if f.startErr != nil {
		return "", f.startErr
	}
	id := job.ExecutionID
	if id == "" {
		id = "exec-1"
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, job)
	f.running[id] = true
	f.hub.Open(id)
	return id, nil
}

func (f *fakeJobs) Cancel(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running[id] {
		return fmt.Errorf("%w: %s", engine.ErrNotRunning, id)
	}
	delete(f.running, id)
	return nil
}

func (f *fakeJobs) Progress(id string) (*types.ProgressSnapshot, *types.RunSummary, bool) {
	f.mu.Lock()
	running := f.running[id]
	f.mu.Unlock()
	if running {
		return &types.ProgressSnapshot{Pending: 3}, nil, true
	}
	return f.hub.Latest(id)
}

func (f *fakeJobs) Active() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.running))
	for id := range f.running {
		ids = append(ids, id)
	}
	return ids
}

func (f *fakeJobs) Hub() *progress.Hub { return f.hub }

func (f *fakeJobs) finish(id string) {
	f.mu.Lock()
	delete(f.running, id)
	f.mu.Unlock()
	f.hub.Publish(types.ProgressEvent{
		Type:        types.EventCompleted,
		ExecutionID: id,
		Summary:     &types.RunSummary{ExecutionID: id, Reason: types.StopCompleted, Completed: 4},
	})
}

type staticSites []string

func (s staticSites) IDs() []string { return s }

func newTestServer(t *testing.T, cfg Config, jobs Jobs, opts ...Option) *httptest.Server {
	t.Helper()
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = time.Hour
	}
	srv := httptest.NewServer(NewServer(cfg, jobs, opts...).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func storedRun(t *testing.T, root, id string, records ...*types.Record) {
	t.Helper()
	run, err := storage.Open(root, "shop", id)
	require.NoError(t, err)
	for _, rec := range records {
		require.NoError(t, run.AppendRecord(rec))
	}
	list := types.NewRequest(id, types.LabelList, "https://shop.example/women")
	list.State = types.StateDone
	require.NoError(t, run.Journal(list))
	require.NoError(t, run.SaveSummary(types.RunSummary{
		ExecutionID:      id,
		SiteID:           "shop",
		Reason:           types.StopCompleted,
		RecordsExtracted: len(records),
		FinishedAt:       time.Now(),
	}))
	require.NoError(t, run.Close())
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, Config{}, newFakeJobs(), WithHealth(monitoring.NewHealthManager("test")))

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	var health monitoring.SystemHealth
	decode(t, resp, &health)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "test", health.Version)
}

func TestMetricsEndpoint(t *testing.T) {
	m := monitoring.NewMetrics(monitoring.MetricsConfig{Enabled: true})
	m.RunStarted()
	srv := newTestServer(t, Config{}, newFakeJobs(), WithMetrics(m))

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "harvester_engine_runs_active")
}

func TestCreateJob(t *testing.T) {
	jobs := newFakeJobs()
	srv := newTestServer(t, Config{}, jobs)

	body := `{"siteId":"shop","startUrls":["https://shop.example/women"],"options":{"maxProducts":10,"includeDetails":true}}`
	resp, err := http.Post(srv.URL+"/api/v1/jobs", "application/json", strings.NewReader(body))
	require.NoError(t, err)

	var out map[string]string
	decode(t, resp, &out)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "exec-1", out["executionId"])
	assert.Equal(t, "/api/v1/jobs/exec-1/events", out["events"])

	require.Len(t, jobs.started, 1)
	assert.Equal(t, 10, jobs.started[0].Options.MaxProducts)
	assert.True(t, jobs.started[0].Options.IncludeDetails)
}

func TestCreateJob_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{"malformed", `{"siteId":`, nil, http.StatusBadRequest},
		{"unknown field", `{"siteId":"shop","bogus":1}`, nil, http.StatusBadRequest},
		{"unknown site", `{"siteId":"nope"}`, fmt.Errorf("%w %q", site.ErrUnknownSite, "nope"), http.StatusNotFound},
		{"duplicate", `{"siteId":"shop","executionId":"x"}`, fmt.Errorf("%w: x", engine.ErrAlreadyRunning), http.StatusConflict},
		{"finished id", `{"siteId":"shop","executionId":"x"}`, fmt.Errorf("%w: x", engine.ErrExecutionExists), http.StatusConflict},
		{"no seeds", `{"siteId":"shop"}`, fmt.Errorf("no start urls"), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs := newFakeJobs()
			jobs.startErr = tt.err
			srv := newTestServer(t, Config{}, jobs)

			resp, err := http.Post(srv.URL+"/api/v1/jobs", "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			var out map[string]string
			decode(t, resp, &out)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.NotEmpty(t, out["error"])
		})
	}
}

func TestGetJob(t *testing.T) {
	root := t.TempDir()
	storedRun(t, root, "old-1")
	jobs := newFakeJobs()
	srv := newTestServer(t, Config{StorageRoot: root}, jobs)

	_, err := jobs.Start(context.Background(), types.JobRequest{SiteID: "shop", ExecutionID: "live"})
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/api/v1/jobs/live")
	require.NoError(t, err)
	var status JobStatus
	decode(t, resp, &status)
	assert.Equal(t, StateRunning, status.State)
	require.NotNil(t, status.Progress)
	assert.Equal(t, 3, status.Progress.Pending)

	jobs.finish("live")
	resp, err = http.Get(srv.URL + "/api/v1/jobs/live")
	require.NoError(t, err)
	status = JobStatus{}
	decode(t, resp, &status)
	assert.Equal(t, StateFinished, status.State)
	require.NotNil(t, status.Summary)
	assert.Equal(t, 4, status.Summary.Completed)

	assert.Nil(t, status.Requests, "no journal for this run")

	resp, err = http.Get(srv.URL + "/api/v1/jobs/old-1")
	require.NoError(t, err)
	status = JobStatus{}
	decode(t, resp, &status)
	assert.Equal(t, StateFinished, status.State)
	assert.Equal(t, "shop", status.Summary.SiteID)
	assert.Equal(t, map[types.RequestState]int{types.StateDone: 1}, status.Requests)

	resp, err = http.Get(srv.URL + "/api/v1/jobs/missing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListJobsAndSites(t *testing.T) {
	jobs := newFakeJobs()
	srv := newTestServer(t, Config{}, jobs, WithSites(staticSites{"alpha", "beta"}))
	jobs.Start(context.Background(), types.JobRequest{SiteID: "alpha", ExecutionID: "a-1"})

	resp, err := http.Get(srv.URL + "/api/v1/jobs")
	require.NoError(t, err)
	var active map[string][]string
	decode(t, resp, &active)
	assert.Equal(t, []string{"a-1"}, active["active"])

	resp, err = http.Get(srv.URL + "/api/v1/sites")
	require.NoError(t, err)
	var sites map[string][]string
	decode(t, resp, &sites)
	assert.Equal(t, []string{"alpha", "beta"}, sites["sites"])
}

func TestCancelJob(t *testing.T) {
	jobs := newFakeJobs()
	srv := newTestServer(t, Config{}, jobs)
	jobs.Start(context.Background(), types.JobRequest{SiteID: "shop", ExecutionID: "c-1"})
	jobs.Start(context.Background(), types.JobRequest{SiteID: "shop", ExecutionID: "c-2"})
	jobs.finish("c-2")

	del := func(id string) int {
		req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/jobs/"+id, nil)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusAccepted, del("c-1"))
	assert.Equal(t, http.StatusConflict, del("c-2"))
	assert.Equal(t, http.StatusNotFound, del("nope"))
}

// readFrames collects SSE event names and heartbeat comments until EOF
func readFrames(t *testing.T, body io.Reader, onFrame func(name string)) []string {
	t.Helper()
	var names []string
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			name := strings.TrimPrefix(line, "event: ")
			names = append(names, name)
			if onFrame != nil {
				onFrame(name)
			}
		case strings.HasPrefix(line, ": heartbeat"):
			names = append(names, "heartbeat")
			if onFrame != nil {
				onFrame("heartbeat")
			}
		}
	}
	return names
}

func TestEvents_StreamsUntilCompleted(t *testing.T) {
	jobs := newFakeJobs()
	srv := newTestServer(t, Config{}, jobs)
	jobs.Start(context.Background(), types.JobRequest{SiteID: "shop", ExecutionID: "s-1"})

	resp, err := http.Get(srv.URL + "/api/v1/jobs/s-1/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	names := readFrames(t, resp.Body, func(name string) {
		if name == types.EventConnected {
			jobs.hub.Publish(types.ProgressEvent{
				Type:        types.EventProgress,
				ExecutionID: "s-1",
				Progress:    &types.ProgressSnapshot{Completed: 1, Pending: 2},
			})
			jobs.finish("s-1")
		}
	})
	assert.Equal(t, []string{types.EventConnected, types.EventProgress, types.EventCompleted}, names)
}

func TestEvents_Heartbeat(t *testing.T) {
	jobs := newFakeJobs()
	srv := newTestServer(t, Config{HeartbeatInterval: 10 * time.Millisecond}, jobs)
	jobs.Start(context.Background(), types.JobRequest{SiteID: "shop", ExecutionID: "h-1"})

	resp, err := http.Get(srv.URL + "/api/v1/jobs/h-1/events")
	require.NoError(t, err)
	defer resp.Body.Close()

	var once sync.Once
	names := readFrames(t, resp.Body, func(name string) {
		if name == "heartbeat" {
			once.Do(func() { jobs.finish("h-1") })
		}
	})
	assert.Contains(t, names, "heartbeat")
	assert.Equal(t, types.EventCompleted, names[len(names)-1])
}

func TestEvents_FinishedRunFromStorage(t *testing.T) {
	root := t.TempDir()
	storedRun(t, root, "old-2")
	srv := newTestServer(t, Config{StorageRoot: root}, newFakeJobs())

	resp, err := http.Get(srv.URL + "/api/v1/jobs/old-2/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	names := readFrames(t, resp.Body, nil)
	assert.Equal(t, []string{types.EventConnected, types.EventCompleted}, names)

	resp2, err := http.Get(srv.URL + "/api/v1/jobs/missing/events")
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
}

func TestDatasetExport(t *testing.T) {
	root := t.TempDir()
	storedRun(t, root, "d-1",
		&types.Record{ExternalKey: "1", URL: "https://shop.example/p/1", Name: "Runner", Stage: types.StageDetail},
		&types.Record{ExternalKey: "2", URL: "https://shop.example/p/2", Name: "Walker", Stage: types.StageList},
	)
	srv := newTestServer(t, Config{StorageRoot: root}, newFakeJobs())

	resp, err := http.Get(srv.URL + "/api/v1/jobs/d-1/dataset?format=csv")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/csv; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "d-1.csv")
	assert.Len(t, strings.Split(strings.TrimSpace(string(body)), "\n"), 3)

	resp, err = http.Get(srv.URL + "/api/v1/jobs/d-1/dataset")
	require.NoError(t, err)
	var recs []types.Record
	decode(t, resp, &recs)
	require.Len(t, recs, 2)
	assert.Equal(t, "Walker", recs[1].Name)

	resp, err = http.Get(srv.URL + "/api/v1/jobs/d-1/dataset?format=xlsx")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	f, err := excelize.OpenReader(bytes.NewReader(body))
	require.NoError(t, err)
	rows, err := f.GetRows("Products")
	require.NoError(t, err)
	assert.Len(t, rows, 3)
	f.Close()

	resp, err = http.Get(srv.URL + "/api/v1/jobs/d-1/dataset?format=pdf")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/v1/jobs/nope/dataset")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAuthMiddleware(t *testing.T) {
	srv := newTestServer(t, Config{APIKeys: []string{"valid_api_key_123"}}, newFakeJobs())

	get := func(path string, header http.Header) int {
		req, _ := http.NewRequest(http.MethodGet, srv.URL+path, nil)
		for k, v := range header {
			req.Header[k] = v
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusOK, get("/health", nil))
	assert.Equal(t, http.StatusUnauthorized, get("/api/v1/jobs", nil))
	assert.Equal(t, http.StatusUnauthorized, get("/api/v1/jobs", http.Header{"Authorization": {"Basic abc"}}))
	assert.Equal(t, http.StatusUnauthorized, get("/api/v1/jobs", http.Header{"X-Api-Key": {"wrong"}}))
	assert.Equal(t, http.StatusOK, get("/api/v1/jobs", http.Header{"Authorization": {"Bearer valid_api_key_123"}}))
	assert.Equal(t, http.StatusOK, get("/api/v1/jobs", http.Header{"X-Api-Key": {"valid_api_key_123"}}))
}

func TestRateLimitMiddleware(t *testing.T) {
	srv := newTestServer(t, Config{RateLimit: 0.001, RateBurst: 1}, newFakeJobs())

	resp, err := http.Get(srv.URL + "/api/v1/jobs")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/v1/jobs")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}
