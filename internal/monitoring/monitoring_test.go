// internal/monitoring/monitoring_test.go
package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics(MetricsConfig{})

	m.RequestFinished("demo", "DETAIL", "done")
	m.RequestFinished("demo", "DETAIL", "done")
	m.RequestRetried("demo", "LIST", "NAVIGATION_TIMEOUT")
	m.RecordsExtracted("demo", "detail", 3)
	m.DedupChecked("demo", "fail_open", 100)
	m.SessionCheck("demo", false)
	m.LoginAttempt("demo", true)
	m.RunStarted()

	out := scrape(t, m)
	assert.Contains(t, out, `harvester_engine_requests_total{label="DETAIL",outcome="done",site="demo"} 2`)
	assert.Contains(t, out, `harvester_engine_request_retries_total{code="NAVIGATION_TIMEOUT",label="LIST",site="demo"} 1`)
	assert.Contains(t, out, `harvester_engine_records_extracted_total{site="demo",stage="detail"} 3`)
	assert.Contains(t, out, `harvester_engine_dedup_urls_total{outcome="fail_open",site="demo"} 100`)
	assert.Contains(t, out, `harvester_engine_session_checks_total{result="invalid",site="demo"} 1`)
	assert.Contains(t, out, `harvester_engine_runs_active 1`)

	m.RunFinished("demo", "completed", time.Minute)
	assert.Contains(t, scrape(t, m), `harvester_engine_runs_active 0`)
}

func TestMetricsHandlerExposesHarvesterFamilies(t *testing.T) {
	m := NewMetrics(MetricsConfig{Namespace: "test"})
	m.PageBlocked("demo", "access_denied")

	assert.True(t, strings.Contains(scrape(t, m), "test_engine_pages_blocked_total"))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RequestFinished("s", "LIST", "done")
		m.RunStarted()
		m.RunFinished("s", "completed", time.Second)
		m.DedupBreakerOpen("s", true)
		m.SetTabsInUse(2)
	})
}

func TestHealthAggregation(t *testing.T) {
	hm := NewHealthManager("test")
	hm.RegisterCheck(PingCheck("cache", false, func(context.Context) error { return errors.New("down") }))
	hm.RegisterCheck(DirectoryWritableCheck("storage", t.TempDir()))

	h := hm.GetHealth(context.Background())
	assert.Equal(t, HealthStatusDegraded, h.Status)
	require.Len(t, h.Checks, 2)
	assert.Equal(t, "cache", h.Checks[0].Name)

	hm.RegisterCheck(PingCheck("browser", true, func(context.Context) error { return errors.New("gone") }))
	rec := httptest.NewRecorder()
	hm.HealthHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body SystemHealth
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, HealthStatusUnhealthy, body.Status)
}
