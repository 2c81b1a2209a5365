package databricks

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/alphauslabs/pipewatch/internal/platform"
)

var checkedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func run(jobID, runID int64, lifecycle, result string) Run {
	return Run{
		RunID: runID,
		JobID: jobID,
		State: RunState{LifeCycleState: lifecycle, ResultState: result},
	}
}

// ---------------------------------------------------------------------------
// Normalization
// ---------------------------------------------------------------------------

func TestNormalizeRun_ExecutionDurationPreferred(t *testing.T) {
	r := run(11, 900, "TERMINATED", "SUCCESS")
	r.StartTime = 1772359200000 // 2026-03-01T10:00:00Z
	r.EndTime = r.StartTime + 600_000
	r.ExecutionDuration = 125_999

	rec, err := NormalizeRun(r, "nightly-etl", checkedAt, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "databricks_11_900", rec.JobID)
	assert.Equal(t, "nightly-etl", rec.JobName)
	assert.Equal(t, platform.StatusSuccess, rec.Status)
	require.NotNil(t, rec.DurationSeconds)
	assert.Equal(t, int64(125), *rec.DurationSeconds)
	require.NotNil(t, rec.LastRunTime)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), *rec.LastRunTime)
}

func TestNormalizeRun_DurationFromTimes(t *testing.T) {
	r := run(11, 901, "TERMINATED", "FAILED")
	r.StartTime = 1772359200000
	r.EndTime = r.StartTime + 61_500
	r.State.StateMessage = "Task failed with OOM"

	rec, err := NormalizeRun(r, "", checkedAt, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "Job 11", rec.JobName)
	assert.Equal(t, platform.StatusFailed, rec.Status)
	require.NotNil(t, rec.DurationSeconds)
	assert.Equal(t, int64(61), *rec.DurationSeconds)
	require.NotNil(t, rec.ErrorMessage)
	assert.Equal(t, "Task failed with OOM", *rec.ErrorMessage)
}

func TestNormalizeRun_ErrorOnlyWhenFailed(t *testing.T) {
	r := run(11, 902, "RUNNING", "")
	r.State.StateMessage = "In run"
	rec, err := NormalizeRun(r, "x", checkedAt, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, platform.StatusRunning, rec.Status)
	assert.Nil(t, rec.ErrorMessage)
	assert.Nil(t, rec.DurationSeconds)
	assert.Nil(t, rec.LastRunTime)
}

func TestNormalizeRun_EndBeforeStart(t *testing.T) {
	r := run(11, 903, "TERMINATED", "SUCCESS")
	r.StartTime = 1772359200000
	r.EndTime = r.StartTime - 1000
	rec, err := NormalizeRun(r, "x", checkedAt, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, rec.DurationSeconds, "negative durations are never reported")
}

func TestNormalizeRuns_SkipsMissingIDs(t *testing.T) {
	runs := []Run{run(1, 1, "TERMINATED", "SUCCESS"), run(0, 2, "TERMINATED", "SUCCESS")}
	records := NormalizeRuns(runs, nil, checkedAt, zap.NewNop())
	assert.Len(t, records, 1)
}

func TestClusterHealth(t *testing.T) {
	health := ClusterHealth([]Cluster{
		{ClusterID: "1", State: "RUNNING"},
		{ClusterID: "2", State: "RESIZING"},
		{ClusterID: "3", State: "TERMINATED"},
	})
	assert.True(t, health[0].IsHealthy)
	assert.True(t, health[1].IsHealthy)
	assert.False(t, health[2].IsHealthy)
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

func TestCollector_FetchRunsCachesJobNames(t *testing.T) {
	var jobLookups atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer dapi-123", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/api/2.1/jobs/runs/list":
			_ = json.NewEncoder(w).Encode(RunsResponse{Runs: []Run{
				run(5, 1, "TERMINATED", "SUCCESS"),
				run(5, 2, "TERMINATED", "FAILED"),
				run(6, 3, "PENDING", ""),
			}})
		case "/api/2.1/jobs/get":
			jobLookups.Add(1)
			if r.URL.Query().Get("job_id") == "6" {
				http.NotFound(w, r)
				return
			}
			_, _ = w.Write([]byte(`{"job_id": 5, "settings": {"name": "ingest"}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c, err := NewCollector(context.Background(), platform.ProviderConfig{
		BaseURL: srv.URL,
		Options: map[string]string{"token": "dapi-123"},
	}, zap.NewNop())
	require.NoError(t, err)

	records, err := c.FetchRuns(context.Background(), platform.Filters{})
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "ingest", records[0].JobName)
	assert.Equal(t, "ingest", records[1].JobName)
	assert.Equal(t, "Job 6", records[2].JobName, "failed lookup falls back to synthesized name")
	assert.Equal(t, platform.StatusRunning, records[2].Status)
	assert.Equal(t, int32(2), jobLookups.Load())
}

func TestCollector_FetchClusterHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/2.0/clusters/list" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"clusters": [
  {"cluster_id": "0101", "cluster_name": "etl", "state": "RUNNING"},
  {"cluster_id": "0102", "cluster_name": "adhoc", "state": "TERMINATED"}
]}`))
	}))
	defer srv.Close()

	c, err := NewCollector(context.Background(), platform.ProviderConfig{
		BaseURL: srv.URL,
		Options: map[string]string{"token": "dapi-123"},
	}, zap.NewNop())
	require.NoError(t, err)

	var _ platform.ClusterHealthCollector = c
	_, folded := any(c).(platform.ConnectionHealthCollector)
	assert.False(t, folded, "cluster state stays out of the platform summary")

	health, err := c.FetchClusterHealth(context.Background())
	require.NoError(t, err)
	require.Len(t, health, 2)
	assert.Equal(t, "etl", health[0].Name)
	assert.True(t, health[0].IsHealthy)
	assert.False(t, health[1].IsHealthy)
}

func TestNewCollector_Validation(t *testing.T) {
	_, err := NewCollector(context.Background(), platform.ProviderConfig{Options: map[string]string{"token": "x"}}, zap.NewNop())
	assert.Error(t, err)
	_, err = NewCollector(context.Background(), platform.ProviderConfig{BaseURL: "https://example.cloud.databricks.com"}, zap.NewNop())
	assert.Error(t, err)
}
