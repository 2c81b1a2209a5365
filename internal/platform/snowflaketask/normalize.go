// Package snowflaketask collects task run history from Snowflake's
// INFORMATION_SCHEMA.TASK_HISTORY table function.
package snowflaketask

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/alphauslabs/pipewatch/internal/platform"
)

// TaskHistory is one row of TASK_HISTORY. Timestamps are kept as strings
// so rows re-fed as JSON normalize the same way as rows read from the driver.
type TaskHistory struct {
	Name          string `json:"NAME"`
	DatabaseName  string `json:"DATABASE_NAME"`
	SchemaName    string `json:"SCHEMA_NAME"`
	State         string `json:"STATE"`
	ScheduledTime string `json:"SCHEDULED_TIME"`
	StartedTime   string `json:"STARTED_TIME"`
	CompletedTime string `json:"COMPLETED_TIME"`
	RootTaskID    string `json:"ROOT_TASK_ID"`
	GraphRunID    string `json:"GRAPH_RUN_ID"`
	RunID         *int64 `json:"RUN_ID"`
	ErrorCode     string `json:"ERROR_CODE"`
	ErrorMessage  string `json:"ERROR_MESSAGE"`
}

// QualifiedName returns DB.SCHEMA.NAME.
func (t TaskHistory) QualifiedName() string {
	return fmt.Sprintf("%s.%s.%s", t.DatabaseName, t.SchemaName, t.Name)
}

// NormalizeTask converts a task history row into a canonical record.
func NormalizeTask(t TaskHistory, checkedAt time.Time, logger *zap.Logger) (platform.JobStatusRecord, error) {
	if strings.TrimSpace(t.Name) == "" {
		return platform.JobStatusRecord{}, errors.New("snowflake task history row is missing NAME")
	}

	runID := "unknown"
	if t.RunID != nil {
		runID = fmt.Sprintf("%d", *t.RunID)
	}

	status := platform.MapStatus(platform.KindSnowflakeTask, t.State)
	scheduled := platform.ParseTimeField(t.ScheduledTime, "SCHEDULED_TIME", t.Name, logger)
	started := platform.ParseTimeField(t.StartedTime, "STARTED_TIME", t.Name, logger)
	completed := platform.ParseTimeField(t.CompletedTime, "COMPLETED_TIME", t.Name, logger)

	lastRun := started
	if lastRun == nil {
		lastRun = scheduled
	}

	var errMsg *string
	if status == platform.StatusFailed {
		msg := strings.TrimSpace(t.ErrorMessage)
		if msg != "" && t.ErrorCode != "" {
			msg = fmt.Sprintf("%s: %s", t.ErrorCode, msg)
		}
		if msg != "" {
			errMsg = &msg
		}
	}

	return platform.JobStatusRecord{
		JobID:           fmt.Sprintf("%s_%s_%s", platform.KindSnowflakeTask, t.Name, runID),
		Platform:        platform.KindSnowflakeTask,
		JobName:         t.QualifiedName(),
		Status:          status,
		LastRunTime:     lastRun,
		DurationSeconds: platform.DurationBetween(started, completed),
		ErrorMessage:    errMsg,
		Metadata: map[string]any{
			"database":       t.DatabaseName,
			"schema":         t.SchemaName,
			"task_name":      t.Name,
			"state":          t.State,
			"scheduled_time": t.ScheduledTime,
			"root_task_id":   t.RootTaskID,
			"graph_run_id":   t.GraphRunID,
			"error_code":     t.ErrorCode,
		},
		CheckedAt: checkedAt.UTC(),
	}, nil
}

// NormalizeTasks converts a batch, skipping rows that cannot be converted.
func NormalizeTasks(rows []TaskHistory, checkedAt time.Time, logger *zap.Logger) []platform.JobStatusRecord {
	records := make([]platform.JobStatusRecord, 0, len(rows))
	for i, row := range rows {
		rec, err := NormalizeTask(row, checkedAt, logger)
		if err != nil {
			logger.Warn("skipping snowflake task row", zap.Int("index", i), zap.Error(err))
			continue
		}
		records = append(records, rec)
	}
	return records
}
