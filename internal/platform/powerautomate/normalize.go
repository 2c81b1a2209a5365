// Package powerautomate collects flow runs from Power Automate through
// Microsoft Graph.
package powerautomate

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/alphauslabs/pipewatch/internal/platform"
)

// idPrefix is the record ID prefix for flow runs.
const idPrefix = "powerautomate"

// Flow is one entry of the solutions/flows response.
type Flow struct {
	Name       string         `json:"name"`
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Properties FlowProperties `json:"properties"`
}

// FlowProperties holds the flow fields used for naming.
type FlowProperties struct {
	DisplayName string `json:"displayName"`
	State       string `json:"state"`
}

// Key returns the identifier used in URLs and record IDs.
func (f Flow) Key() string {
	if f.ID != "" {
		return platform.LastPathSegment(f.ID)
	}
	return platform.LastPathSegment(f.Name)
}

// DisplayName returns the human flow name, falling back to the flow name.
func (f Flow) DisplayName() string {
	if f.Properties.DisplayName != "" {
		return f.Properties.DisplayName
	}
	return f.Name
}

// Run is one entry of the flow runs response.
type Run struct {
	Name       string        `json:"name"`
	ID         string        `json:"id"`
	Type       string        `json:"type"`
	Properties RunProperties `json:"properties"`
}

// RunProperties holds the run status and timing.
type RunProperties struct {
	Status    string    `json:"status"`
	StartTime string    `json:"startTime"`
	EndTime   string    `json:"endTime"`
	Error     *RunError `json:"error,omitempty"`
}

// RunError is the failure detail of a run.
type RunError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RunID extracts the run identifier from the run's full resource name.
func (r Run) RunID() string {
	if r.Name != "" {
		return platform.LastPathSegment(r.Name)
	}
	return platform.LastPathSegment(r.ID)
}

// NormalizeRun converts one flow run into a canonical record.
func NormalizeRun(flow Flow, run Run, checkedAt time.Time, logger *zap.Logger) (platform.JobStatusRecord, error) {
	flowKey := flow.Key()
	runID := run.RunID()
	if flowKey == "" || runID == "" {
		return platform.JobStatusRecord{}, errors.New("power automate run is missing flow or run id")
	}

	status := platform.MapStatus(platform.KindPowerAutomate, run.Properties.Status)
	started := platform.ParseTimeField(run.Properties.StartTime, "startTime", runID, logger)
	ended := platform.ParseTimeField(run.Properties.EndTime, "endTime", runID, logger)

	var errMsg *string
	if status == platform.StatusFailed && run.Properties.Error != nil {
		msg := strings.TrimSpace(run.Properties.Error.Message)
		if msg == "" {
			msg = run.Properties.Error.Code
		}
		if msg != "" {
			errMsg = &msg
		}
	}

	return platform.JobStatusRecord{
		JobID:           fmt.Sprintf("%s_%s_%s", idPrefix, flowKey, runID),
		Platform:        platform.KindPowerAutomate,
		JobName:         flow.DisplayName(),
		Status:          status,
		LastRunTime:     started,
		DurationSeconds: platform.DurationBetween(started, ended),
		ErrorMessage:    errMsg,
		Metadata: map[string]any{
			"flow_id":    flowKey,
			"run_id":     runID,
			"flow_state": flow.Properties.State,
		},
		CheckedAt: checkedAt.UTC(),
	}, nil
}

// NormalizeRuns converts the runs of one flow, skipping any that fail.
func NormalizeRuns(flow Flow, runs []Run, checkedAt time.Time, logger *zap.Logger) []platform.JobStatusRecord {
	records := make([]platform.JobStatusRecord, 0, len(runs))
	for i, run := range runs {
		rec, err := NormalizeRun(flow, run, checkedAt, logger)
		if err != nil {
			logger.Warn("skipping power automate run", zap.String("flow", flow.Key()), zap.Int("index", i), zap.Error(err))
			continue
		}
		records = append(records, rec)
	}
	return records
}
