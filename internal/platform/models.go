package platform

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// PlatformKind identifies one of the monitored job-running systems.
type PlatformKind string

const (
	// KindAirbyte is the Airbyte data-integration sync service.
	KindAirbyte PlatformKind = "airbyte"

	// KindDatabricks is the Databricks Jobs scheduler.
	KindDatabricks PlatformKind = "databricks"

	// KindPowerAutomate is the Power Automate workflow service.
	KindPowerAutomate PlatformKind = "power_automate"

	// KindSnowflakeTask is the Snowflake warehouse task scheduler.
	KindSnowflakeTask PlatformKind = "snowflake_task"
)

// Kinds returns every supported platform in a stable order.
func Kinds() []PlatformKind {
	return []PlatformKind{KindAirbyte, KindDatabricks, KindPowerAutomate, KindSnowflakeTask}
}

// Valid reports whether k is one of the supported platforms.
func (k PlatformKind) Valid() bool {
	switch k {
	case KindAirbyte, KindDatabricks, KindPowerAutomate, KindSnowflakeTask:
		return true
	}
	return false
}

// DisplayName returns the label used in notifications and reports.
func (k PlatformKind) DisplayName() string {
	switch k {
	case KindAirbyte:
		return "Airbyte"
	case KindDatabricks:
		return "Databricks"
	case KindPowerAutomate:
		return "Power Automate"
	case KindSnowflakeTask:
		return "Snowflake Tasks"
	default:
		return string(k)
	}
}

// ParseKind resolves a platform name, accepting a few common spellings.
func ParseKind(s string) (PlatformKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "airbyte":
		return KindAirbyte, nil
	case "databricks":
		return KindDatabricks, nil
	case "power_automate", "powerautomate", "power-automate":
		return KindPowerAutomate, nil
	case "snowflake_task", "snowflake", "snowflake-task", "snowflaketask":
		return KindSnowflakeTask, nil
	default:
		return "", fmt.Errorf("unsupported platform: %s", s)
	}
}

// CanonicalStatus is the platform-agnostic run status.
type CanonicalStatus string

const (
	StatusRunning   CanonicalStatus = "running"
	StatusSuccess   CanonicalStatus = "success"
	StatusFailed    CanonicalStatus = "failed"
	StatusCancelled CanonicalStatus = "cancelled"
	StatusPending   CanonicalStatus = "pending"
	StatusUnknown   CanonicalStatus = "unknown"
)

// Valid reports whether s is one of the canonical statuses.
func (s CanonicalStatus) Valid() bool {
	switch s {
	case StatusRunning, StatusSuccess, StatusFailed, StatusCancelled, StatusPending, StatusUnknown:
		return true
	}
	return false
}

// RiskLevel is an ordered severity: LOW < MEDIUM < HIGH < CRITICAL.
type RiskLevel int

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
	RiskCritical
)

// String returns the upper-case label for the risk level.
func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "LOW"
	case RiskMedium:
		return "MEDIUM"
	case RiskHigh:
		return "HIGH"
	case RiskCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// AtLeast reports whether r is as severe as other or more.
func (r RiskLevel) AtLeast(other RiskLevel) bool {
	return r >= other
}

// ParseRiskLevel parses a label produced by RiskLevel.String.
func ParseRiskLevel(s string) (RiskLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LOW":
		return RiskLow, nil
	case "MEDIUM":
		return RiskMedium, nil
	case "HIGH":
		return RiskHigh, nil
	case "CRITICAL":
		return RiskCritical, nil
	default:
		return RiskLow, fmt.Errorf("unknown risk level: %q", s)
	}
}

func (r RiskLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

func (r *RiskLevel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseRiskLevel(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// JobStatusRecord is one observed run of one job, normalized across platforms.
// Records are immutable once built; a new poll produces a new record.
type JobStatusRecord struct {
	JobID           string
	Platform        PlatformKind
	JobName         string
	Status          CanonicalStatus
	LastRunTime     *time.Time
	DurationSeconds *int64
	ErrorMessage    *string
	Metadata        map[string]any
	CheckedAt       time.Time
}

// Validate checks the record invariants.
func (r JobStatusRecord) Validate() error {
	if r.JobID == "" {
		return errors.New("job_id is required")
	}
	if !r.Platform.Valid() {
		return fmt.Errorf("unsupported platform: %s", r.Platform)
	}
	if !r.Status.Valid() {
		return fmt.Errorf("invalid status: %s", r.Status)
	}
	if r.DurationSeconds != nil && *r.DurationSeconds < 0 {
		return fmt.Errorf("duration_seconds must be non-negative, got %d", *r.DurationSeconds)
	}
	if r.ErrorMessage != nil && r.Status != StatusFailed {
		return fmt.Errorf("error_message set on %s record", r.Status)
	}
	if r.CheckedAt.IsZero() {
		return errors.New("checked_at is required")
	}
	return nil
}

// wireRecord is the canonical JSON shape shared with storage and other processes.
type wireRecord struct {
	JobID           string          `json:"job_id"`
	Platform        PlatformKind    `json:"platform"`
	JobName         string          `json:"job_name"`
	Status          CanonicalStatus `json:"status"`
	LastRunTime     *string         `json:"last_run_time"`
	DurationSeconds *int64          `json:"duration_seconds"`
	ErrorMessage    *string         `json:"error_message"`
	Metadata        map[string]any  `json:"metadata"`
	CheckedAt       string          `json:"checked_at"`
}

func (r JobStatusRecord) MarshalJSON() ([]byte, error) {
	w := wireRecord{
		JobID:           r.JobID,
		Platform:        r.Platform,
		JobName:         r.JobName,
		Status:          r.Status,
		DurationSeconds: r.DurationSeconds,
		ErrorMessage:    r.ErrorMessage,
		Metadata:        r.Metadata,
		CheckedAt:       r.CheckedAt.UTC().Format(time.RFC3339Nano),
	}
	if w.Metadata == nil {
		w.Metadata = map[string]any{}
	}
	if r.LastRunTime != nil {
		s := r.LastRunTime.UTC().Format(time.RFC3339Nano)
		w.LastRunTime = &s
	}
	return json.Marshal(w)
}

func (r *JobStatusRecord) UnmarshalJSON(data []byte) error {
	var w wireRecord
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&w); err != nil {
		return err
	}
	if !w.Platform.Valid() {
		return fmt.Errorf("unsupported platform: %s", w.Platform)
	}
	if w.DurationSeconds != nil && *w.DurationSeconds < 0 {
		return fmt.Errorf("duration_seconds must be non-negative, got %d", *w.DurationSeconds)
	}

	checkedAt, err := ParseISOTime(w.CheckedAt)
	if err != nil {
		return fmt.Errorf("failed to parse checked_at: %w", err)
	}

	out := JobStatusRecord{
		JobID:           w.JobID,
		Platform:        w.Platform,
		JobName:         w.JobName,
		Status:          w.Status,
		DurationSeconds: w.DurationSeconds,
		ErrorMessage:    w.ErrorMessage,
		Metadata:        normalizeMetadata(w.Metadata),
		CheckedAt:       checkedAt,
	}
	if w.LastRunTime != nil && *w.LastRunTime != "" {
		t, err := ParseISOTime(*w.LastRunTime)
		if err != nil {
			return fmt.Errorf("failed to parse last_run_time: %w", err)
		}
		out.LastRunTime = &t
	}

	*r = out
	return nil
}

// ConnectionHealth describes one connection or cluster reported by a platform.
type ConnectionHealth struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	IsHealthy bool   `json:"is_healthy"`
}

// PlatformHealthSummary is one platform's health for one monitoring cycle.
type PlatformHealthSummary struct {
	Platform           PlatformKind   `json:"platform"`
	TotalJobs          int            `json:"total_jobs"`
	SuccessfulJobs     int            `json:"successful_jobs"`
	FailedJobs         int            `json:"failed_jobs"`
	RunningJobs        int            `json:"running_jobs"`
	SuccessRate        float64        `json:"success_rate"`
	FailureRate        float64        `json:"failure_rate"`
	PlatformStatus     string         `json:"platform_status"`
	RiskLevel          RiskLevel      `json:"risk_level"`
	RequiresAttention  bool           `json:"requires_attention"`
	Issues             []string       `json:"issues"`
	Recommendations    []string       `json:"recommendations"`
	TotalConnections   int            `json:"total_connections"`
	HealthyConnections int            `json:"healthy_connections"`
	AvgDurationSeconds float64        `json:"avg_duration_seconds"`
	FailedJobNames     []string       `json:"failed_job_names"`
	ErrorPatterns      map[string]int `json:"error_patterns"`
	LastCheck          time.Time      `json:"last_check"`
}

// PlatformResult is the outcome of polling one platform in a cycle.
// A result with Success false carries no summary: the platform was unreachable.
type PlatformResult struct {
	Platform PlatformKind           `json:"platform"`
	Success  bool                   `json:"success"`
	Summary  *PlatformHealthSummary `json:"summary,omitempty"`
	Records  []JobStatusRecord      `json:"records,omitempty"`
	Error    string                 `json:"error,omitempty"`
	Duration time.Duration          `json:"duration_ns"`
}

// HealthAssessment is the cross-platform verdict for one cycle.
type HealthAssessment struct {
	RiskLevel            RiskLevel `json:"risk_level"`
	OverallHealth        string    `json:"overall_health"`
	RequiresNotification bool      `json:"requires_notification"`
	JobsAnalyzed         int       `json:"jobs_analyzed"`
	FailedJobsCount      int       `json:"failed_jobs_count"`
	SuccessfulPlatforms  int       `json:"successful_platforms"`
	FailedPlatforms      int       `json:"failed_platforms"`
	TotalPlatforms       int       `json:"total_platforms"`
	OverallSuccessRate   float64   `json:"overall_success_rate"`
	PlatformAvailability float64   `json:"platform_availability"`
	CriticalIssues       []string  `json:"critical_issues"`
	Recommendations      []string  `json:"recommendations"`
	AssessmentTimestamp  time.Time `json:"assessment_timestamp"`
	Degraded             bool      `json:"degraded,omitempty"`
}

// MonitoringResult is the envelope for one full monitoring cycle.
type MonitoringResult struct {
	MonitoringID      string                  `json:"monitoring_id"`
	Mode              string                  `json:"mode"`
	StartedAt         time.Time               `json:"started_at"`
	CompletedAt       time.Time               `json:"completed_at"`
	PlatformResults   []PlatformResult        `json:"platform_results"`
	PlatformSummaries []PlatformHealthSummary `json:"platform_summaries"`
	Assessment        HealthAssessment        `json:"assessment"`
	Records           []JobStatusRecord       `json:"records"`
	Errors            []string                `json:"errors"`
	Success           bool                    `json:"success"`
}

// SuccessfulJobs sums successful jobs over the cycle's summaries.
func (m *MonitoringResult) SuccessfulJobs() int {
	n := 0
	for _, s := range m.PlatformSummaries {
		n += s.SuccessfulJobs
	}
	return n
}

// PlatformNames lists the platforms polled in the cycle.
func (m *MonitoringResult) PlatformNames() []string {
	names := make([]string, 0, len(m.PlatformResults))
	for _, r := range m.PlatformResults {
		names = append(names, string(r.Platform))
	}
	return names
}
