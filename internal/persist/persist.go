package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/alphauslabs/pipewatch/internal/database"
	"github.com/alphauslabs/pipewatch/internal/platform"
)

// RecordKey is the idempotency key of a record: re-persisting one poll is an
// upsert, while later polls of the same job get new rows.
func RecordKey(r platform.JobStatusRecord) string {
	return fmt.Sprintf("%s_%s_%d", r.Platform, r.JobID, r.CheckedAt.Unix())
}

// NewMonitoringID returns mon_{YYYYmmdd_HHMMSS}_{8 hex}.
func NewMonitoringID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return fmt.Sprintf("mon_%s_%s", now.UTC().Format("20060102_150405"), suffix)
}

// OperationResult is the outcome of one storage operation.
type OperationResult struct {
	Success bool   `json:"success"`
	Count   int    `json:"count,omitempty"`
	ID      string `json:"id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// StorageSummary reports each storage operation separately so a failure in
// one never hides the outcome of another.
type StorageSummary struct {
	MonitoringID string          `json:"monitoring_id"`
	Success      bool            `json:"success"`
	Records      OperationResult `json:"records"`
	Session      OperationResult `json:"session"`
	Summaries    OperationResult `json:"summaries"`
	Skipped      int             `json:"skipped"`
}

// Errors lists the failed operations as "operation: message".
func (s StorageSummary) Errors() []string {
	var out []string
	for _, op := range []struct {
		name string
		res  OperationResult
	}{{"records", s.Records}, {"session", s.Session}, {"summaries", s.Summaries}} {
		if !op.res.Success && op.res.Error != "" {
			out = append(out, op.name+": "+op.res.Error)
		}
	}
	return out
}

// Coordinator converts monitoring output into warehouse writes.
type Coordinator struct {
	warehouse database.Warehouse
	logger    *zap.Logger
}

// NewCoordinator returns a coordinator over w.
func NewCoordinator(w database.Warehouse, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{warehouse: w, logger: logger}
}

// Persist writes the cycle's records, session row and platform summaries.
// The three writes run concurrently and are reported independently.
func (c *Coordinator) Persist(ctx context.Context, result *platform.MonitoringResult) StorageSummary {
	summary := StorageSummary{MonitoringID: result.MonitoringID}
	if c.warehouse == nil {
		err := database.ErrNoWarehouse.Error()
		summary.Records.Error, summary.Session.Error, summary.Summaries.Error = err, err, err
		return summary
	}

	rows, skipped := c.storedRecords(result.MonitoringID, result.Records)
	summary.Skipped = skipped

	session, sessionErr := buildSession(result)
	if sessionErr != nil {
		summary.Session.Error = sessionErr.Error()
	}
	summaries := storedSummaries(result)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		summary.Records = c.insertRecords(ctx, rows)
	}()
	go func() {
		defer wg.Done()
		if sessionErr != nil {
			return
		}
		id, err := c.warehouse.InsertSession(ctx, session)
		if err != nil {
			c.logger.Error("failed to store monitoring session", zap.String("monitoring_id", result.MonitoringID), zap.Error(err))
			summary.Session = OperationResult{Error: err.Error()}
			return
		}
		summary.Session = OperationResult{Success: true, ID: id}
	}()
	go func() {
		defer wg.Done()
		n, err := c.warehouse.InsertSummaries(ctx, summaries)
		if err != nil {
			c.logger.Error("failed to store platform summaries", zap.String("monitoring_id", result.MonitoringID), zap.Error(err))
			summary.Summaries = OperationResult{Error: err.Error()}
			return
		}
		summary.Summaries = OperationResult{Success: true, Count: n}
	}()
	wg.Wait()

	summary.Success = summary.Records.Success && summary.Session.Success && summary.Summaries.Success
	c.logger.Info("persisted monitoring results",
		zap.String("monitoring_id", result.MonitoringID),
		zap.Int("records", summary.Records.Count),
		zap.Int("skipped", summary.Skipped),
		zap.Bool("success", summary.Success),
	)
	return summary
}

// PersistRaw stores records supplied in the wire JSON shape. Entries that do
// not decode or validate are skipped and counted.
func (c *Coordinator) PersistRaw(ctx context.Context, monitoringID string, raw []json.RawMessage) (OperationResult, int) {
	if c.warehouse == nil {
		return OperationResult{Error: database.ErrNoWarehouse.Error()}, 0
	}
	records, skipped := DecodeRecords(raw, c.logger)
	rows, invalid := c.storedRecords(monitoringID, records)
	return c.insertRecords(ctx, rows), skipped + invalid
}

// DecodeRecords decodes records in the wire JSON shape. Entries that do not
// decode are skipped with a warning and counted.
func DecodeRecords(raw []json.RawMessage, logger *zap.Logger) ([]platform.JobStatusRecord, int) {
	if logger == nil {
		logger = zap.NewNop()
	}
	records := make([]platform.JobStatusRecord, 0, len(raw))
	skipped := 0
	for i, item := range raw {
		var r platform.JobStatusRecord
		if err := json.Unmarshal(item, &r); err != nil {
			logger.Warn("skipping undecodable record", zap.Int("index", i), zap.Error(err))
			skipped++
			continue
		}
		records = append(records, r)
	}
	return records, skipped
}

// QueryRecent passes the filter through to the warehouse.
func (c *Coordinator) QueryRecent(ctx context.Context, f database.RecordFilter) ([]database.StoredRecord, error) {
	if c.warehouse == nil {
		return nil, database.ErrNoWarehouse
	}
	return c.warehouse.QueryRecent(ctx, f)
}

func (c *Coordinator) insertRecords(ctx context.Context, rows []database.StoredRecord) OperationResult {
	if len(rows) == 0 {
		return OperationResult{Success: true}
	}
	n, err := c.warehouse.InsertRecords(ctx, rows)
	if err != nil {
		c.logger.Error("failed to store job records", zap.Int("count", len(rows)), zap.Error(err))
		return OperationResult{Count: n, Error: err.Error()}
	}
	return OperationResult{Success: true, Count: n}
}

func (c *Coordinator) storedRecords(monitoringID string, records []platform.JobStatusRecord) ([]database.StoredRecord, int) {
	rows := make([]database.StoredRecord, 0, len(records))
	seen := make(map[string]bool, len(records))
	skipped := 0
	for _, r := range records {
		row, err := ToStored(monitoringID, r)
		if err != nil {
			c.logger.Warn("skipping malformed record", zap.String("job_id", r.JobID), zap.Error(err))
			skipped++
			continue
		}
		if seen[row.RecordID] {
			continue
		}
		seen[row.RecordID] = true
		rows = append(rows, row)
	}
	return rows, skipped
}

// ToStored validates r and converts it to a warehouse row.
func ToStored(monitoringID string, r platform.JobStatusRecord) (database.StoredRecord, error) {
	if err := r.Validate(); err != nil {
		return database.StoredRecord{}, err
	}
	metadata := []byte("{}")
	if len(r.Metadata) > 0 {
		b, err := json.Marshal(r.Metadata)
		if err != nil {
			return database.StoredRecord{}, fmt.Errorf("failed to encode metadata: %w", err)
		}
		metadata = b
	}
	row := database.StoredRecord{
		RecordID:        RecordKey(r),
		MonitoringID:    monitoringID,
		JobID:           r.JobID,
		Platform:        string(r.Platform),
		JobName:         r.JobName,
		Status:          string(r.Status),
		DurationSeconds: r.DurationSeconds,
		ErrorMessage:    r.ErrorMessage,
		MetadataJSON:    string(metadata),
		CheckedAt:       r.CheckedAt.UTC(),
	}
	if r.LastRunTime != nil {
		t := r.LastRunTime.UTC()
		row.LastRunTime = &t
	}
	return row, nil
}

// FromStored converts a warehouse row back to a record.
func FromStored(row database.StoredRecord) (platform.JobStatusRecord, error) {
	kind, err := platform.ParseKind(row.Platform)
	if err != nil {
		return platform.JobStatusRecord{}, err
	}
	r := platform.JobStatusRecord{
		JobID:           row.JobID,
		Platform:        kind,
		JobName:         row.JobName,
		Status:          platform.CanonicalStatus(row.Status),
		LastRunTime:     row.LastRunTime,
		DurationSeconds: row.DurationSeconds,
		ErrorMessage:    row.ErrorMessage,
		Metadata:        map[string]any{},
		CheckedAt:       row.CheckedAt,
	}
	if row.MetadataJSON != "" {
		metadata, err := platform.DecodeMetadata([]byte(row.MetadataJSON))
		if err != nil {
			return r, fmt.Errorf("failed to decode metadata: %w", err)
		}
		r.Metadata = metadata
	}
	return r, nil
}

func buildSession(result *platform.MonitoringResult) (database.Session, error) {
	if result.MonitoringID == "" {
		return database.Session{}, errors.New("monitoring id is required")
	}
	assessment, err := json.Marshal(result.Assessment)
	if err != nil {
		return database.Session{}, fmt.Errorf("failed to encode assessment: %w", err)
	}
	summaries, err := json.Marshal(result.PlatformSummaries)
	if err != nil {
		return database.Session{}, fmt.Errorf("failed to encode summaries: %w", err)
	}
	errs := result.Errors
	if errs == nil {
		errs = []string{}
	}
	errorsJSON, err := json.Marshal(errs)
	if err != nil {
		return database.Session{}, fmt.Errorf("failed to encode errors: %w", err)
	}

	a := result.Assessment
	return database.Session{
		MonitoringID:         result.MonitoringID,
		StartedAt:            result.StartedAt.UTC(),
		CompletedAt:          result.CompletedAt.UTC(),
		TotalJobs:            int64(a.JobsAnalyzed),
		SuccessfulJobs:       int64(result.SuccessfulJobs()),
		FailedJobs:           int64(a.FailedJobsCount),
		PlatformsMonitored:   result.PlatformNames(),
		RiskLevel:            a.RiskLevel.String(),
		OverallHealth:        a.OverallHealth,
		RequiresNotification: a.RequiresNotification,
		AssessmentJSON:       string(assessment),
		SummariesJSON:        string(summaries),
		ErrorsJSON:           string(errorsJSON),
	}, nil
}

func storedSummaries(result *platform.MonitoringResult) []database.StoredSummary {
	out := make([]database.StoredSummary, 0, len(result.PlatformSummaries))
	for _, s := range result.PlatformSummaries {
		issues, _ := json.Marshal(nonNil(s.Issues))
		recs, _ := json.Marshal(nonNil(s.Recommendations))
		patterns, _ := json.Marshal(s.ErrorPatterns)
		out = append(out, database.StoredSummary{
			SummaryID:           result.MonitoringID + "_" + string(s.Platform),
			MonitoringID:        result.MonitoringID,
			Platform:            string(s.Platform),
			TotalJobs:           int64(s.TotalJobs),
			SuccessfulJobs:      int64(s.SuccessfulJobs),
			FailedJobs:          int64(s.FailedJobs),
			RunningJobs:         int64(s.RunningJobs),
			SuccessRate:         s.SuccessRate,
			FailureRate:         s.FailureRate,
			PlatformStatus:      s.PlatformStatus,
			RiskLevel:           s.RiskLevel.String(),
			RequiresAttention:   s.RequiresAttention,
			AvgDurationSeconds:  s.AvgDurationSeconds,
			IssuesJSON:          string(issues),
			RecommendationsJSON: string(recs),
			ErrorPatternsJSON:   string(patterns),
			LastCheck:           s.LastCheck.UTC(),
		})
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
