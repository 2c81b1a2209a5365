package snowflaketask

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/alphauslabs/pipewatch/internal/platform"
)

var checkedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func row(state string) TaskHistory {
	id := int64(1700)
	return TaskHistory{
		Name:          "LOAD_ORDERS",
		DatabaseName:  "DEV_POWERAPPS",
		SchemaName:    "AUDIT_JOB_HUB",
		State:         state,
		ScheduledTime: "2026-03-01T10:00:00Z",
		StartedTime:   "2026-03-01T10:00:05Z",
		CompletedTime: "2026-03-01T10:02:05Z",
		RunID:         &id,
	}
}

// ---------------------------------------------------------------------------
// Normalization
// ---------------------------------------------------------------------------

func TestNormalizeTask(t *testing.T) {
	r := row("FAILED")
	r.ErrorCode = "100038"
	r.ErrorMessage = "Numeric value 'abc' is not recognized"

	rec, err := NormalizeTask(r, checkedAt, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "snowflake_task_LOAD_ORDERS_1700", rec.JobID)
	assert.Equal(t, "DEV_POWERAPPS.AUDIT_JOB_HUB.LOAD_ORDERS", rec.JobName)
	assert.Equal(t, platform.StatusFailed, rec.Status)
	require.NotNil(t, rec.LastRunTime)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 5, 0, time.UTC), *rec.LastRunTime)
	require.NotNil(t, rec.DurationSeconds)
	assert.Equal(t, int64(120), *rec.DurationSeconds)
	require.NotNil(t, rec.ErrorMessage)
	assert.Equal(t, "100038: Numeric value 'abc' is not recognized", *rec.ErrorMessage)
}

func TestNormalizeTask_ScheduledFallback(t *testing.T) {
	r := row("SCHEDULED")
	r.RunID = nil
	r.StartedTime = ""
	r.CompletedTime = ""

	rec, err := NormalizeTask(r, checkedAt, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "snowflake_task_LOAD_ORDERS_unknown", rec.JobID)
	assert.Equal(t, platform.StatusPending, rec.Status)
	require.NotNil(t, rec.LastRunTime)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), *rec.LastRunTime)
	assert.Nil(t, rec.DurationSeconds)
}

func TestNormalizeTask_StatusTable(t *testing.T) {
	cases := map[string]platform.CanonicalStatus{
		"SUCCEEDED": platform.StatusSuccess,
		"EXECUTING": platform.StatusRunning,
		"SKIPPED":   platform.StatusCancelled,
		"CANCELLED": platform.StatusCancelled,
		"WHATEVER":  platform.StatusUnknown,
	}
	for raw, want := range cases {
		r := row(raw)
		r.ErrorMessage = "ignored"
		rec, err := NormalizeTask(r, checkedAt, zap.NewNop())
		require.NoError(t, err)
		assert.Equal(t, want, rec.Status, raw)
		assert.Nil(t, rec.ErrorMessage, raw)
	}
}

func TestNormalizeTask_BadTimestamp(t *testing.T) {
	r := row("SUCCEEDED")
	r.StartedTime = "yesterday"

	rec, err := NormalizeTask(r, checkedAt, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, rec.LastRunTime, "scheduled time is used when started time is unreadable")
	assert.Nil(t, rec.DurationSeconds)
}

func TestNormalizeTasks_SkipsNamelessRows(t *testing.T) {
	records := NormalizeTasks([]TaskHistory{row("SUCCEEDED"), {State: "FAILED"}}, checkedAt, zap.NewNop())
	assert.Len(t, records, 1)
}

// ---------------------------------------------------------------------------
// Query
// ---------------------------------------------------------------------------

func TestHistoryQuery(t *testing.T) {
	q, args := HistoryQuery(platform.Filters{})
	assert.Contains(t, q, "INFORMATION_SCHEMA.TASK_HISTORY()")
	assert.NotContains(t, q, "NAME = ?")
	assert.True(t, strings.HasSuffix(q, "LIMIT ?"))
	assert.Equal(t, []any{24, 50}, args)

	q, args = HistoryQuery(platform.Filters{HoursBack: 6, Limit: 5, JobID: "LOAD_ORDERS"})
	assert.Contains(t, q, "AND NAME = ?")
	assert.Equal(t, []any{6, "LOAD_ORDERS", 5}, args)
}

func TestDriverConfig(t *testing.T) {
	_, err := DriverConfig(platform.ProviderConfig{Options: map[string]string{"account": "acct"}})
	assert.Error(t, err)

	sc, err := DriverConfig(platform.ProviderConfig{
		Timeout: 10 * time.Second,
		Options: map[string]string{"account": "acct", "user": "monitor", "password": "pw"},
	})
	require.NoError(t, err)
	assert.Equal(t, DefaultDatabase, sc.Database)
	assert.Equal(t, DefaultSchema, sc.Schema)
	assert.Equal(t, DefaultWarehouse, sc.Warehouse)
	assert.Equal(t, 10*time.Second, sc.LoginTimeout)
}
