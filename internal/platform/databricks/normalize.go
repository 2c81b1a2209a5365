// Package databricks collects job runs and cluster health from the
// Databricks Jobs and Clusters APIs.
package databricks

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/alphauslabs/pipewatch/internal/platform"
)

// RunState is the two-part Databricks run state.
type RunState struct {
	LifeCycleState string `json:"life_cycle_state"`
	ResultState    string `json:"result_state"`
	StateMessage   string `json:"state_message"`
}

// Run is one entry of /jobs/runs/list. Times are epoch milliseconds and
// durations are milliseconds.
type Run struct {
	RunID             int64    `json:"run_id"`
	JobID             int64    `json:"job_id"`
	RunName           string   `json:"run_name"`
	State             RunState `json:"state"`
	StartTime         int64    `json:"start_time"`
	EndTime           int64    `json:"end_time"`
	SetupDuration     int64    `json:"setup_duration"`
	ExecutionDuration int64    `json:"execution_duration"`
	CleanupDuration   int64    `json:"cleanup_duration"`
	RunPageURL        string   `json:"run_page_url"`
}

// RunsResponse is the /jobs/runs/list envelope.
type RunsResponse struct {
	Runs          []Run  `json:"runs"`
	HasMore       bool   `json:"has_more"`
	NextPageToken string `json:"next_page_token"`
}

// JobDetails is the /jobs/get response, reduced to what naming needs.
type JobDetails struct {
	JobID           int64  `json:"job_id"`
	CreatorUserName string `json:"creator_user_name"`
	Settings        struct {
		Name string `json:"name"`
	} `json:"settings"`
}

// Cluster is one entry of /clusters/list.
type Cluster struct {
	ClusterID   string `json:"cluster_id"`
	ClusterName string `json:"cluster_name"`
	State       string `json:"state"`
}

// DefaultJobName is used when a job's settings cannot be fetched.
func DefaultJobName(jobID int64) string {
	return fmt.Sprintf("Job %d", jobID)
}

// NormalizeRun converts a Databricks run into a canonical record. jobName
// comes from the run's job settings; empty falls back to DefaultJobName.
func NormalizeRun(run Run, jobName string, checkedAt time.Time, logger *zap.Logger) (platform.JobStatusRecord, error) {
	if run.RunID == 0 || run.JobID == 0 {
		return platform.JobStatusRecord{}, errors.New("databricks run is missing run_id or job_id")
	}
	if strings.TrimSpace(jobName) == "" {
		jobName = DefaultJobName(run.JobID)
	}

	status := platform.MapDatabricksState(run.State.LifeCycleState, run.State.ResultState)
	started := platform.FromEpochMillis(run.StartTime)
	ended := platform.FromEpochMillis(run.EndTime)

	var duration *int64
	switch {
	case run.ExecutionDuration > 0:
		duration = platform.Int64Ptr(run.ExecutionDuration / 1000)
	case started != nil && ended != nil:
		duration = platform.DurationBetween(started, ended)
		if duration == nil {
			logger.Warn("run ends before it starts",
				zap.Int64("run_id", run.RunID), zap.Int64("start_time", run.StartTime), zap.Int64("end_time", run.EndTime))
		}
	}

	var errMsg *string
	if status == platform.StatusFailed && run.State.StateMessage != "" {
		errMsg = platform.StringPtr(run.State.StateMessage)
	}

	return platform.JobStatusRecord{
		JobID:           fmt.Sprintf("%s_%d_%d", platform.KindDatabricks, run.JobID, run.RunID),
		Platform:        platform.KindDatabricks,
		JobName:         jobName,
		Status:          status,
		LastRunTime:     started,
		DurationSeconds: duration,
		ErrorMessage:    errMsg,
		Metadata: map[string]any{
			"run_id":              run.RunID,
			"databricks_job_id":   run.JobID,
			"run_name":            run.RunName,
			"life_cycle_state":    run.State.LifeCycleState,
			"result_state":        run.State.ResultState,
			"setup_duration_ms":   run.SetupDuration,
			"cleanup_duration_ms": run.CleanupDuration,
			"run_page_url":        run.RunPageURL,
		},
		CheckedAt: checkedAt.UTC(),
	}, nil
}

// NormalizeRuns converts a batch using names resolved by jobName. Runs that
// cannot be converted are logged and skipped.
func NormalizeRuns(runs []Run, jobName func(jobID int64) string, checkedAt time.Time, logger *zap.Logger) []platform.JobStatusRecord {
	records := make([]platform.JobStatusRecord, 0, len(runs))
	for i, run := range runs {
		name := ""
		if jobName != nil && run.JobID != 0 {
			name = jobName(run.JobID)
		}
		rec, err := NormalizeRun(run, name, checkedAt, logger)
		if err != nil {
			logger.Warn("skipping databricks run", zap.Int("index", i), zap.Error(err))
			continue
		}
		records = append(records, rec)
	}
	return records
}

// ClusterHealth maps clusters to health entries. RUNNING and RESIZING
// clusters are healthy.
func ClusterHealth(clusters []Cluster) []platform.ConnectionHealth {
	out := make([]platform.ConnectionHealth, 0, len(clusters))
	for _, c := range clusters {
		state := strings.ToUpper(strings.TrimSpace(c.State))
		out = append(out, platform.ConnectionHealth{
			ID:        c.ClusterID,
			Name:      c.ClusterName,
			Status:    c.State,
			IsHealthy: state == "RUNNING" || state == "RESIZING",
		})
	}
	return out
}
