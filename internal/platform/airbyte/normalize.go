// Package airbyte collects sync job runs and connection health from the
// Airbyte public API.
package airbyte

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/alphauslabs/pipewatch/internal/platform"
)

// Job is one entry of the /jobs response.
type Job struct {
	JobID      platform.FlexString `json:"jobId"`
	ConfigID   string              `json:"configId"`
	ConfigName string              `json:"configName"`
	JobType    string              `json:"jobType"`
	Status     string              `json:"status"`
	CreatedAt  string              `json:"createdAt"`
	UpdatedAt  string              `json:"updatedAt"`
	StartedAt  string              `json:"startedAt"`
	EndedAt    string              `json:"endedAt"`
}

// JobsResponse is the /jobs list envelope.
type JobsResponse struct {
	Data     []Job  `json:"data"`
	HasMore  bool   `json:"hasMore"`
	Next     string `json:"next"`
	Previous string `json:"previous"`
}

// Connection is one entry of the /connections response.
type Connection struct {
	ConnectionID  string `json:"connectionId"`
	Name          string `json:"name"`
	SourceID      string `json:"sourceId"`
	DestinationID string `json:"destinationId"`
	Status        string `json:"status"`
}

// ConnectionsResponse is the /connections list envelope.
type ConnectionsResponse struct {
	Data []Connection `json:"data"`
}

// NormalizeJob converts an Airbyte job into a canonical record. Bad
// timestamps are logged and left empty; only a missing job ID is an error.
func NormalizeJob(job Job, checkedAt time.Time, logger *zap.Logger) (platform.JobStatusRecord, error) {
	id := job.JobID.String()
	if id == "" {
		return platform.JobStatusRecord{}, errors.New("airbyte job is missing jobId")
	}

	started := platform.ParseTimeField(job.StartedAt, "startedAt", id, logger)
	ended := platform.ParseTimeField(job.EndedAt, "endedAt", id, logger)

	name := strings.TrimSpace(job.ConfigName)
	if name == "" {
		name = fmt.Sprintf("Job %s", id)
	}

	return platform.JobStatusRecord{
		JobID:           fmt.Sprintf("%s_%s", platform.KindAirbyte, id),
		Platform:        platform.KindAirbyte,
		JobName:         name,
		Status:          platform.MapStatus(platform.KindAirbyte, job.Status),
		LastRunTime:     started,
		DurationSeconds: platform.DurationBetween(started, ended),
		Metadata: map[string]any{
			"airbyte_job_id": id,
			"config_id":      job.ConfigID,
			"job_type":       job.JobType,
			"created_at":     job.CreatedAt,
			"updated_at":     job.UpdatedAt,
		},
		CheckedAt: checkedAt.UTC(),
	}, nil
}

// NormalizeJobs converts a batch, skipping jobs that cannot be converted.
func NormalizeJobs(jobs []Job, checkedAt time.Time, logger *zap.Logger) []platform.JobStatusRecord {
	records := make([]platform.JobStatusRecord, 0, len(jobs))
	for i, job := range jobs {
		rec, err := NormalizeJob(job, checkedAt, logger)
		if err != nil {
			logger.Warn("skipping airbyte job", zap.Int("index", i), zap.Error(err))
			continue
		}
		records = append(records, rec)
	}
	return records
}

// ConnectionHealth maps connections to health entries. A connection is
// healthy only when its status is "active".
func ConnectionHealth(conns []Connection) []platform.ConnectionHealth {
	out := make([]platform.ConnectionHealth, 0, len(conns))
	for _, c := range conns {
		out = append(out, platform.ConnectionHealth{
			ID:        c.ConnectionID,
			Name:      c.Name,
			Status:    c.Status,
			IsHealthy: strings.EqualFold(strings.TrimSpace(c.Status), "active"),
		})
	}
	return out
}
