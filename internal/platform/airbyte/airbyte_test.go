package airbyte

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

// ---------------------------------------------------------------------------
// Normalization
// ---------------------------------------------------------------------------

func TestNormalizeJob_Succeeded(t *testing.T) {
	rec, err := NormalizeJob(Job{
		JobID:      "42",
		ConfigID:   "conn-1",
		ConfigName: "Salesforce -> Snowflake",
		JobType:    "sync",
		Status:     "succeeded",
		StartedAt:  "2026-03-01T10:00:00Z",
		EndedAt:    "2026-03-01T10:02:30.900Z",
	}, checkedAt, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, "airbyte_42", rec.JobID)
	assert.Equal(t, platform.KindAirbyte, rec.Platform)
	assert.Equal(t, "Salesforce -> Snowflake", rec.JobName)
	assert.Equal(t, platform.StatusSuccess, rec.Status)
	require.NotNil(t, rec.LastRunTime)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), *rec.LastRunTime)
	require.NotNil(t, rec.DurationSeconds)
	assert.Equal(t, int64(150), *rec.DurationSeconds, "duration truncates toward zero")
	assert.Nil(t, rec.ErrorMessage)
	assert.Equal(t, "conn-1", rec.Metadata["config_id"])
	assert.Equal(t, checkedAt, rec.CheckedAt)
	assert.NoError(t, rec.Validate())
}

func TestNormalizeJob_SynthesizedName(t *testing.T) {
	rec, err := NormalizeJob(Job{JobID: "7", Status: "incomplete"}, checkedAt, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "Job 7", rec.JobName)
	assert.Equal(t, platform.StatusRunning, rec.Status)
	assert.Nil(t, rec.LastRunTime)
	assert.Nil(t, rec.DurationSeconds)
}

func TestNormalizeJob_MissingID(t *testing.T) {
	_, err := NormalizeJob(Job{Status: "failed"}, checkedAt, zap.NewNop())
	assert.Error(t, err)
}

func TestNormalizeJobs_BadTimestampKeepsRecord(t *testing.T) {
	jobs := []Job{
		{JobID: "1", Status: "succeeded", StartedAt: "2026-03-01T10:00:00Z"},
		{JobID: "2", Status: "succeeded", StartedAt: "2026-03-01T10:00:00Z"},
		{JobID: "3", Status: "succeeded", StartedAt: "yesterday-ish", EndedAt: "2026-03-01T10:05:00Z"},
		{JobID: "4", Status: "failed", StartedAt: "2026-03-01T10:00:00+02:00"},
		{JobID: "5", Status: "running"},
	}
	records := NormalizeJobs(jobs, checkedAt, zap.NewNop())
	require.Len(t, records, 5)
	assert.Nil(t, records[2].LastRunTime)
	assert.Nil(t, records[2].DurationSeconds)
	require.NotNil(t, records[3].LastRunTime)
	assert.Equal(t, 8, records[3].LastRunTime.Hour(), "offset is normalized to UTC")
}

func TestNormalizeJobs_SkipsMalformed(t *testing.T) {
	records := NormalizeJobs([]Job{{JobID: "1", Status: "failed"}, {Status: "failed"}}, checkedAt, zap.NewNop())
	assert.Len(t, records, 1)
}

func TestConnectionHealth(t *testing.T) {
	health := ConnectionHealth([]Connection{
		{ConnectionID: "a", Name: "A", Status: "active"},
		{ConnectionID: "b", Name: "B", Status: "inactive"},
		{ConnectionID: "c", Name: "C", Status: "ACTIVE"},
	})
	require.Len(t, health, 3)
	assert.True(t, health[0].IsHealthy)
	assert.False(t, health[1].IsHealthy)
	assert.True(t, health[2].IsHealthy)
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

func TestCollector_FetchRunsWithAPIKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret-key", r.Header.Get("Authorization"))
		assert.Equal(t, "/jobs", r.URL.Path)
		assert.Equal(t, "100", r.URL.Query().Get("limit"), "limit is clamped")
		assert.Equal(t, "ws-1", r.URL.Query().Get("workspaceId"))
		assert.Equal(t, "sync", r.URL.Query().Get("jobType"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"jobId": 101, "status": "succeeded", "jobType": "sync", "configName": "orders"},
				{"jobId": "102", "status": "failed", "jobType": "sync"},
			},
		})
	}))
	defer srv.Close()

	c, err := NewCollector(context.Background(), platform.ProviderConfig{
		Kind:    platform.KindAirbyte,
		BaseURL: srv.URL,
		Options: map[string]string{"api_key": "secret-key", "workspace_id": "ws-1"},
	}, zap.NewNop())
	require.NoError(t, err)

	records, err := c.FetchRuns(context.Background(), platform.Filters{Limit: 500})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "airbyte_101", records[0].JobID)
	assert.Equal(t, "orders", records[0].JobName)
	assert.Equal(t, platform.StatusFailed, records[1].Status)
}

func TestCollector_ClientCredentialsToken(t *testing.T) {
	var tokenCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/applications/token":
			tokenCalls.Add(1)
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "cid", body["client_id"])
			assert.Equal(t, "csecret", body["client_secret"])
			_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "tok-1", "expires_in": 3600})
		case "/connections":
			assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
			_ = json.NewEncoder(w).Encode(map[string]any{
				"data": []map[string]any{{"connectionId": "c1", "name": "orders", "status": "active"}},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c, err := NewCollector(context.Background(), platform.ProviderConfig{
		BaseURL: srv.URL,
		Options: map[string]string{"client_id": "cid", "client_secret": "csecret"},
	}, zap.NewNop())
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		health, err := c.FetchConnectionHealth(context.Background())
		require.NoError(t, err)
		require.Len(t, health, 1)
		assert.True(t, health[0].IsHealthy)
	}
	assert.Equal(t, int32(1), tokenCalls.Load(), "token is reused until expiry")
}

func TestCollector_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c, err := NewCollector(context.Background(), platform.ProviderConfig{
		BaseURL: srv.URL,
		Options: map[string]string{"api_key": "bad"},
	}, zap.NewNop())
	require.NoError(t, err)

	_, err = c.FetchRuns(context.Background(), platform.Filters{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unauthorized")
}

func TestNewCollector_RequiresCredentials(t *testing.T) {
	_, err := NewCollector(context.Background(), platform.ProviderConfig{}, zap.NewNop())
	assert.Error(t, err)
}
