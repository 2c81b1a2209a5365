package powerautomate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/alphauslabs/pipewatch/internal/platform"
)

var checkedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func flow(id, name string) Flow {
	return Flow{ID: id, Name: id, Properties: FlowProperties{DisplayName: name, State: "Started"}}
}

// ---------------------------------------------------------------------------
// Normalization
// ---------------------------------------------------------------------------

func TestNormalizeRun(t *testing.T) {
	r := Run{
		Name: "flows/f-1/runs/08585",
		Properties: RunProperties{
			Status:    "Failed",
			StartTime: "2026-03-01T09:00:00.1234567Z",
			EndTime:   "2026-03-01T09:00:45Z",
			Error:     &RunError{Code: "ActionFailed", Message: "An action failed."},
		},
	}
	rec, err := NormalizeRun(flow("f-1", "Invoice approval"), r, checkedAt, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "powerautomate_f-1_08585", rec.JobID)
	assert.Equal(t, "Invoice approval", rec.JobName)
	assert.Equal(t, platform.StatusFailed, rec.Status)
	require.NotNil(t, rec.DurationSeconds)
	assert.Equal(t, int64(44), *rec.DurationSeconds)
	require.NotNil(t, rec.ErrorMessage)
	assert.Equal(t, "An action failed.", *rec.ErrorMessage)
	assert.Equal(t, "08585", rec.Metadata["run_id"])
}

func TestNormalizeRun_StatusTable(t *testing.T) {
	cases := map[string]platform.CanonicalStatus{
		"Succeeded": platform.StatusSuccess,
		"Waiting":   platform.StatusPending,
		"Suspended": platform.StatusPending,
		"Running":   platform.StatusRunning,
		"Paused":    platform.StatusUnknown,
	}
	for raw, want := range cases {
		r := Run{Name: "r", Properties: RunProperties{Status: raw, Error: &RunError{Message: "stale"}}}
		rec, err := NormalizeRun(flow("f", ""), r, checkedAt, zap.NewNop())
		require.NoError(t, err)
		assert.Equal(t, want, rec.Status, raw)
		assert.Nil(t, rec.ErrorMessage, "error is dropped for %s", raw)
		assert.Equal(t, "f", rec.JobName, "flow name is the fallback label")
	}
}

func TestNormalizeRuns_SkipsMissingRunID(t *testing.T) {
	records := NormalizeRuns(flow("f", "F"), []Run{{Name: "abc"}, {}}, checkedAt, zap.NewNop())
	assert.Len(t, records, 1)
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

func TestCollector_FetchRuns(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/token":
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "client_credentials", r.Form.Get("grant_type"))
			assert.Equal(t, GraphScope, r.Form.Get("scope"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"access_token":"graph-token","token_type":"Bearer","expires_in":3600}`))
		case r.URL.Path == "/solutions/flows":
			assert.Equal(t, "Bearer graph-token", r.Header.Get("Authorization"))
			flows := make([]Flow, 0, 12)
			for i := 0; i < 12; i++ {
				flows = append(flows, flow(fmt.Sprintf("f%d", i), fmt.Sprintf("Flow %d", i)))
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"value": flows})
		case strings.HasSuffix(r.URL.Path, "/runs"):
			assert.Equal(t, "10", r.URL.Query().Get("$top"))
			if strings.Contains(r.URL.Path, "/f1/") {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"value": []Run{
				{Name: "run-a", Properties: RunProperties{Status: "Succeeded"}},
			}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c, err := NewCollector(context.Background(), platform.ProviderConfig{
		BaseURL: srv.URL,
		Options: map[string]string{
			"tenant_id":     "tenant",
			"client_id":     "cid",
			"client_secret": "secret",
			"token_url":     srv.URL + "/token",
		},
	}, zap.NewNop())
	require.NoError(t, err)

	records, err := c.FetchRuns(context.Background(), platform.Filters{})
	require.NoError(t, err)
	assert.Len(t, records, 9, "ten flows polled, one skipped on error")
	assert.Equal(t, "powerautomate_f0_run-a", records[0].JobID)
}

func TestNewCollector_RequiresCredentials(t *testing.T) {
	_, err := NewCollector(context.Background(), platform.ProviderConfig{Options: map[string]string{"tenant_id": "t"}}, zap.NewNop())
	assert.Error(t, err)
}

func TestTokenURL(t *testing.T) {
	assert.Equal(t, "https://login.microsoftonline.com/abc/oauth2/v2.0/token", TokenURL("abc"))
}
