package database

import "time"

// StoredRecord is one normalized job status row.
type StoredRecord struct {
	RecordID        string     `spanner:"RecordId"`
	MonitoringID    string     `spanner:"MonitoringId"`
	JobID           string     `spanner:"JobId"`
	Platform        string     `spanner:"Platform"`
	JobName         string     `spanner:"JobName"`
	Status          string     `spanner:"Status"`
	LastRunTime     *time.Time `spanner:"LastRunTime"`
	DurationSeconds *int64     `spanner:"DurationSeconds"`
	ErrorMessage    *string    `spanner:"ErrorMessage"`
	MetadataJSON    string     `spanner:"MetadataJson"`
	CheckedAt       time.Time  `spanner:"CheckedAt"`
	CreatedAt       time.Time  `spanner:"CreatedAt"`
}

// Session is one monitoring cycle row.
type Session struct {
	MonitoringID         string    `spanner:"MonitoringId"`
	StartedAt            time.Time `spanner:"StartedAt"`
	CompletedAt          time.Time `spanner:"CompletedAt"`
	TotalJobs            int64     `spanner:"TotalJobs"`
	SuccessfulJobs       int64     `spanner:"SuccessfulJobs"`
	FailedJobs           int64     `spanner:"FailedJobs"`
	PlatformsMonitored   []string  `spanner:"PlatformsMonitored"`
	RiskLevel            string    `spanner:"RiskLevel"`
	OverallHealth        string    `spanner:"OverallHealth"`
	RequiresNotification bool      `spanner:"RequiresNotification"`
	AssessmentJSON       string    `spanner:"AssessmentJson"`
	SummariesJSON        string    `spanner:"SummariesJson"`
	ErrorsJSON           string    `spanner:"ErrorsJson"`
	CreatedAt            time.Time `spanner:"CreatedAt"`
}

// StoredSummary is one per-platform health row of a cycle.
type StoredSummary struct {
	SummaryID           string    `spanner:"SummaryId"`
	MonitoringID        string    `spanner:"MonitoringId"`
	Platform            string    `spanner:"Platform"`
	TotalJobs           int64     `spanner:"TotalJobs"`
	SuccessfulJobs      int64     `spanner:"SuccessfulJobs"`
	FailedJobs          int64     `spanner:"FailedJobs"`
	RunningJobs         int64     `spanner:"RunningJobs"`
	SuccessRate         float64   `spanner:"SuccessRate"`
	FailureRate         float64   `spanner:"FailureRate"`
	PlatformStatus      string    `spanner:"PlatformStatus"`
	RiskLevel           string    `spanner:"RiskLevel"`
	RequiresAttention   bool      `spanner:"RequiresAttention"`
	AvgDurationSeconds  float64   `spanner:"AvgDurationSeconds"`
	IssuesJSON          string    `spanner:"IssuesJson"`
	RecommendationsJSON string    `spanner:"RecommendationsJson"`
	ErrorPatternsJSON   string    `spanner:"ErrorPatternsJson"`
	LastCheck           time.Time `spanner:"LastCheck"`
}

// RecordFilter narrows QueryRecent. Zero fields do not filter.
type RecordFilter struct {
	Platform string
	Status   string
	Since    time.Time
	Limit    int
}

// DefaultQueryLimit applies when RecordFilter.Limit is not positive.
const DefaultQueryLimit = 100

// EffectiveLimit returns the row cap for f.
func (f RecordFilter) EffectiveLimit() int {
	if f.Limit <= 0 {
		return DefaultQueryLimit
	}
	return f.Limit
}

// Table names shared by the SQL providers and Spanner.
const (
	TableRecords   = "JobStatusRecords"
	TableSessions  = "MonitoringSessions"
	TableSummaries = "PlatformHealthSummaries"
)

var (
	recordColumns = []string{
		"RecordId", "MonitoringId", "JobId", "Platform", "JobName", "Status",
		"LastRunTime", "DurationSeconds", "ErrorMessage", "MetadataJson", "CheckedAt", "CreatedAt",
	}
	sessionColumns = []string{
		"MonitoringId", "StartedAt", "CompletedAt", "TotalJobs", "SuccessfulJobs", "FailedJobs",
		"PlatformsMonitored", "RiskLevel", "OverallHealth", "RequiresNotification",
		"AssessmentJson", "SummariesJson", "ErrorsJson", "CreatedAt",
	}
	summaryColumns = []string{
		"SummaryId", "MonitoringId", "Platform", "TotalJobs", "SuccessfulJobs", "FailedJobs", "RunningJobs",
		"SuccessRate", "FailureRate", "PlatformStatus", "RiskLevel", "RequiresAttention",
		"AvgDurationSeconds", "IssuesJson", "RecommendationsJson", "ErrorPatternsJson", "LastCheck",
	}
)

func (r StoredRecord) values() []interface{} {
	return []interface{}{
		r.RecordID, r.MonitoringID, r.JobID, r.Platform, r.JobName, r.Status,
		r.LastRunTime, r.DurationSeconds, r.ErrorMessage, r.MetadataJSON, r.CheckedAt, r.CreatedAt,
	}
}

func (s StoredSummary) values() []interface{} {
	return []interface{}{
		s.SummaryID, s.MonitoringID, s.Platform, s.TotalJobs, s.SuccessfulJobs, s.FailedJobs, s.RunningJobs,
		s.SuccessRate, s.FailureRate, s.PlatformStatus, s.RiskLevel, s.RequiresAttention,
		s.AvgDurationSeconds, s.IssuesJSON, s.RecommendationsJSON, s.ErrorPatternsJSON, s.LastCheck,
	}
}
