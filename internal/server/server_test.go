package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/alphauslabs/pipewatch/internal/database"
	"github.com/alphauslabs/pipewatch/internal/monitor"
	"github.com/alphauslabs/pipewatch/internal/persist"
	"github.com/alphauslabs/pipewatch/internal/platform"
	"github.com/alphauslabs/pipewatch/internal/tools"
)

var fixedNow = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

func init() {
	gin.SetMode(gin.TestMode)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type fakeCycles struct {
	last *monitor.Report
	opts monitor.RunOptions
	err  error
}

func (f *fakeCycles) Run(_ context.Context, opts monitor.RunOptions) (*monitor.Report, error) {
	f.opts = opts
	if f.err != nil {
		return nil, f.err
	}
	return &monitor.Report{MonitoringResult: platform.MonitoringResult{MonitoringID: "mon_api", Mode: opts.Mode, Success: true}}, nil
}

func (f *fakeCycles) Last() *monitor.Report { return f.last }

func record(jobID string, status platform.CanonicalStatus, checkedAt time.Time) platform.JobStatusRecord {
	r := platform.JobStatusRecord{
		JobID:     jobID,
		Platform:  platform.KindDatabricks,
		JobName:   "nightly " + jobID,
		Status:    status,
		Metadata:  map[string]any{},
		CheckedAt: checkedAt,
	}
	if status == platform.StatusFailed {
		r.ErrorMessage = platform.StringPtr("cluster terminated")
	}
	return r
}

func newTestRouter(t *testing.T, cycles *fakeCycles) (*gin.Engine, *prometheus.Registry) {
	t.Helper()

	store := persist.NewCoordinator(database.NewMemory(), zap.NewNop())
	result := &platform.MonitoringResult{
		MonitoringID: "mon_seed",
		Records: []platform.JobStatusRecord{
			record("1", platform.StatusSuccess, fixedNow.Add(-time.Hour)),
			record("2", platform.StatusFailed, fixedNow.Add(-2*time.Hour)),
			record("3", platform.StatusSuccess, fixedNow.Add(-48*time.Hour)),
		},
	}
	require.True(t, store.Persist(context.Background(), result).Records.Success)

	reg := tools.NewRegistry()
	require.NoError(t, tools.RegisterBuiltins(reg, tools.Deps{Store: store, Now: func() time.Time { return fixedNow }}))

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "pipewatch_test_total", Help: "test"}))

	router := NewRouter(Deps{
		Cycles:         cycles,
		Records:        store,
		Tools:          reg,
		Gatherer:       promReg,
		AllowedOrigins: []string{"http://localhost:5173"},
		Now:            func() time.Time { return fixedNow },
	})
	return router, promReg
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestHealth(t *testing.T) {
	router, _ := newTestRouter(t, &fakeCycles{})

	w := do(t, router, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
}

func TestStats(t *testing.T) {
	t.Run("before first cycle", func(t *testing.T) {
		router, _ := newTestRouter(t, &fakeCycles{})
		w := do(t, router, http.MethodGet, "/api/stats", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("latest cycle", func(t *testing.T) {
		last := &monitor.Report{MonitoringResult: platform.MonitoringResult{
			MonitoringID: "mon_last",
			CompletedAt:  fixedNow.Add(-5 * time.Minute),
			Assessment: platform.HealthAssessment{
				RiskLevel:       platform.RiskHigh,
				JobsAnalyzed:    10,
				FailedJobsCount: 2,
				FailedPlatforms: 1,
			},
			PlatformSummaries: []platform.PlatformHealthSummary{{Platform: platform.KindAirbyte, TotalJobs: 10, FailedJobs: 2}},
		}}
		router, _ := newTestRouter(t, &fakeCycles{last: last})

		w := do(t, router, http.MethodGet, "/api/stats", "")
		require.Equal(t, http.StatusOK, w.Code)

		var got map[string]any
		decodeBody(t, w, &got)
		assert.Equal(t, "mon_last", got["monitoring_id"])
		assert.Equal(t, "HIGH", got["risk_level"])
		assert.Equal(t, 300.0, got["age_seconds"])
		assert.Len(t, got["platforms"], 1)
	})
}

func TestListRecords(t *testing.T) {
	router, _ := newTestRouter(t, &fakeCycles{})

	tests := []struct {
		name   string
		query  string
		code   int
		count  int
		firstJ string
	}{
		{"all newest first", "", http.StatusOK, 3, "1"},
		{"status filter", "?status=failed", http.StatusOK, 1, "2"},
		{"hours filter", "?hours=24", http.StatusOK, 2, "1"},
		{"platform alias", "?platform=databricks&limit=1", http.StatusOK, 1, "1"},
		{"other platform", "?platform=airbyte", http.StatusOK, 0, ""},
		{"bad platform", "?platform=jenkins", http.StatusBadRequest, 0, ""},
		{"bad status", "?status=exploded", http.StatusBadRequest, 0, ""},
		{"bad limit", "?limit=5000", http.StatusBadRequest, 0, ""},
		{"bad hours", "?hours=-1", http.StatusBadRequest, 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, http.MethodGet, "/api/records"+tt.query, "")
			require.Equal(t, tt.code, w.Code, w.Body.String())
			if tt.code != http.StatusOK {
				return
			}
			var got struct {
				Count   int                        `json:"count"`
				Records []platform.JobStatusRecord `json:"records"`
			}
			decodeBody(t, w, &got)
			assert.Equal(t, tt.count, got.Count)
			if tt.firstJ != "" {
				assert.Equal(t, tt.firstJ, got.Records[0].JobID)
			}
		})
	}
}

func TestListRecords_NoWarehouse(t *testing.T) {
	router := NewRouter(Deps{Cycles: &fakeCycles{}})

	w := do(t, router, http.MethodGet, "/api/records", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRunCycle(t *testing.T) {
	cycles := &fakeCycles{}
	router, _ := newTestRouter(t, cycles)

	w := do(t, router, http.MethodPost, "/api/cycles", `{"mode": "health", "platforms": ["snowflake"]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, monitor.ModeHealth, cycles.opts.Mode)
	assert.Equal(t, []platform.PlatformKind{platform.KindSnowflakeTask}, cycles.opts.Platforms)

	var got map[string]any
	decodeBody(t, w, &got)
	assert.Equal(t, "mon_api", got["monitoring_id"])

	w = do(t, router, http.MethodPost, "/api/cycles", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, router, http.MethodPost, "/api/cycles", `{"platforms": ["jenkins"]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	cycles.err = errors.New("invalid mode: partial")
	w = do(t, router, http.MethodPost, "/api/cycles", `{"mode": "partial"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid mode")
}

func TestTools(t *testing.T) {
	router, _ := newTestRouter(t, &fakeCycles{})

	w := do(t, router, http.MethodGet, "/api/tools", "")
	require.Equal(t, http.StatusOK, w.Code)
	var defs struct {
		Tools []tools.Definition `json:"tools"`
	}
	decodeBody(t, w, &defs)
	assert.Len(t, defs.Tools, 10)

	w = do(t, router, http.MethodPost, "/api/tools/map_status", `{"platform": "airbyte", "status": "running"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp tools.ToolResponse
	decodeBody(t, w, &resp)
	assert.True(t, resp.Success)
	assert.Equal(t, map[string]any{"platform": "airbyte", "status": "running"}, resp.Output)

	w = do(t, router, http.MethodPost, "/api/tools/map_status", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, http.MethodPost, "/api/tools/drop_tables", `{}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestConnectEndpoint(t *testing.T) {
	router, _ := newTestRouter(t, &fakeCycles{})
	srv := httptest.NewServer(router)
	defer srv.Close()

	client := tools.NewClient(srv.Client(), srv.URL)
	resp, err := client.Invoke(context.Background(), "query_recent_records", json.RawMessage(`{"status": "failed"}`))
	require.NoError(t, err)
	require.True(t, resp.Success, resp.Error)
	assert.EqualValues(t, 1, resp.Output.(map[string]any)["count"])
}

func TestMetrics(t *testing.T) {
	router, _ := newTestRouter(t, &fakeCycles{})

	w := do(t, router, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "pipewatch_test_total")
}

func TestCORS(t *testing.T) {
	router, _ := newTestRouter(t, &fakeCycles{})

	req := httptest.NewRequest(http.MethodOptions, "/api/stats", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
