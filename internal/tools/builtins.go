package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/alphauslabs/pipewatch/internal/database"
	"github.com/alphauslabs/pipewatch/internal/health"
	"github.com/alphauslabs/pipewatch/internal/monitor"
	"github.com/alphauslabs/pipewatch/internal/notify"
	"github.com/alphauslabs/pipewatch/internal/persist"
	"github.com/alphauslabs/pipewatch/internal/platform"
)

// CycleRunner is the part of the monitor the tools use.
type CycleRunner interface {
	Run(ctx context.Context, opts monitor.RunOptions) (*monitor.Report, error)
	Fetch(ctx context.Context, kind platform.PlatformKind, filters platform.Filters) ([]platform.JobStatusRecord, error)
	ConnectionHealth(ctx context.Context, kind platform.PlatformKind) ([]platform.ConnectionHealth, error)
}

// Store is the part of the persistence coordinator the tools use.
type Store interface {
	Persist(ctx context.Context, result *platform.MonitoringResult) persist.StorageSummary
	PersistRaw(ctx context.Context, monitoringID string, raw []json.RawMessage) (persist.OperationResult, int)
	QueryRecent(ctx context.Context, f database.RecordFilter) ([]database.StoredRecord, error)
}

// Deps wires the built-in tools. Pure tools work with zero Deps; tools that
// need a missing dependency report an error when invoked.
type Deps struct {
	Runner CycleRunner
	Store  Store
	Now    func() time.Time
	Logger *zap.Logger
}

var errNoRunner = errors.New("monitoring is not configured")

const platformEnum = `"enum": ["airbyte", "databricks", "power_automate", "powerautomate", "snowflake_task", "snowflake"]`

// RegisterBuiltins adds the built-in tools to r.
func RegisterBuiltins(r *Registry, deps Deps) error {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	b := builtins{deps: deps, now: now, logger: logger}

	for _, t := range []Tool{
		{
			Name:        "map_status",
			Description: "Map a platform-native status to the canonical status. Databricks accepts lifecycle_state and result_state.",
			InputSchema: `{
  "type": "object",
  "properties": {
    "platform": {"type": "string", ` + platformEnum + `},
    "status": {"type": "string"},
    "lifecycle_state": {"type": "string"},
    "result_state": {"type": "string"}
  },
  "required": ["platform"]
}`,
			Handler: b.mapStatus,
		},
		{
			Name:        "aggregate_platform",
			Description: "Summarize one platform's job records into counts, rates, risk and issues.",
			InputSchema: `{
  "type": "object",
  "properties": {
    "platform": {"type": "string", ` + platformEnum + `},
    "records": {"type": "array", "items": {"type": "object"}},
    "connections": {"type": "array", "items": {"type": "object"}}
  },
  "required": ["platform", "records"]
}`,
			Handler: b.aggregatePlatform,
		},
		{
			Name:        "assess_health",
			Description: "Assess overall health across platform results.",
			InputSchema: `{
  "type": "object",
  "properties": {
    "platform_results": {"type": "array", "items": {"type": "object", "required": ["platform", "success"]}}
  },
  "required": ["platform_results"]
}`,
			Handler: b.assessHealth,
		},
		{
			Name:        "render_notification",
			Description: "Render the notification for an assessment and report whether it would be sent.",
			InputSchema: `{
  "type": "object",
  "properties": {
    "monitoring_id": {"type": "string", "minLength": 1},
    "assessment": {"type": "object"},
    "summaries": {"type": "array", "items": {"type": "object"}}
  },
  "required": ["monitoring_id", "assessment"]
}`,
			Handler: b.renderNotification,
		},
		{
			Name:        "fetch_platform_runs",
			Description: "Fetch and normalize recent runs from one platform.",
			InputSchema: `{
  "type": "object",
  "properties": {
    "platform": {"type": "string", ` + platformEnum + `},
    "limit": {"type": "integer", "minimum": 1, "maximum": 1000},
    "hours_back": {"type": "integer", "minimum": 1, "maximum": 720},
    "job_id": {"type": "string"},
    "job_type": {"type": "string"}
  },
  "required": ["platform"]
}`,
			Handler: b.fetchPlatformRuns,
		},
		{
			Name:        "connection_health",
			Description: "Report Airbyte connection or Databricks cluster health for one platform.",
			InputSchema: `{
  "type": "object",
  "properties": {
    "platform": {"type": "string", ` + platformEnum + `}
  },
  "required": ["platform"]
}`,
			Handler: b.connectionHealth,
		},
		{
			Name:        "persist_results",
			Description: "Store a monitoring result: records, session and platform summaries.",
			InputSchema: `{
  "type": "object",
  "properties": {
    "monitoring_result": {"type": "object", "required": ["monitoring_id"]}
  },
  "required": ["monitoring_result"]
}`,
			Handler: b.persistResults,
		},
		{
			Name:        "persist_records",
			Description: "Store job records given in the canonical JSON shape. Malformed records are skipped.",
			InputSchema: `{
  "type": "object",
  "properties": {
    "monitoring_id": {"type": "string"},
    "records": {"type": "array", "items": {"type": "object"}}
  },
  "required": ["records"]
}`,
			Handler: b.persistRecords,
		},
		{
			Name:        "query_recent_records",
			Description: "List stored job records, newest first.",
			InputSchema: `{
  "type": "object",
  "properties": {
    "platform": {"type": "string"},
    "status": {"type": "string", "enum": ["running", "success", "failed", "cancelled", "pending", "unknown"]},
    "hours_back": {"type": "integer", "minimum": 1},
    "limit": {"type": "integer", "minimum": 1, "maximum": 1000}
  }
}`,
			Handler: b.queryRecentRecords,
		},
		{
			Name:        "run_monitoring_cycle",
			Description: "Run a monitoring cycle. Mode health only assesses; full also stores and notifies.",
			InputSchema: `{
  "type": "object",
  "properties": {
    "mode": {"type": "string", "enum": ["full", "health"]},
    "monitoring_id": {"type": "string"},
    "recipients": {"type": "array", "items": {"type": "string"}},
    "from": {"type": "string"},
    "draft": {"type": "boolean"},
    "platforms": {"type": "array", "items": {"type": "string", ` + platformEnum + `}}
  }
}`,
			Handler: b.runMonitoringCycle,
		},
	} {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

type builtins struct {
	deps   Deps
	now    func() time.Time
	logger *zap.Logger
}

func decode(input json.RawMessage, v any) error {
	if err := json.Unmarshal(input, v); err != nil {
		return fmt.Errorf("failed to decode input: %w", err)
	}
	return nil
}

func (b builtins) mapStatus(_ context.Context, input json.RawMessage) (any, error) {
	var in struct {
		Platform       string `json:"platform"`
		Status         string `json:"status"`
		LifecycleState string `json:"lifecycle_state"`
		ResultState    string `json:"result_state"`
	}
	if err := decode(input, &in); err != nil {
		return nil, err
	}
	kind, err := platform.ParseKind(in.Platform)
	if err != nil {
		return nil, err
	}

	status := platform.MapStatus(kind, in.Status)
	if kind == platform.KindDatabricks && in.LifecycleState != "" {
		status = platform.MapDatabricksState(in.LifecycleState, in.ResultState)
	}
	return map[string]any{"platform": kind, "status": status}, nil
}

func (b builtins) aggregatePlatform(_ context.Context, input json.RawMessage) (any, error) {
	var in struct {
		Platform    string                      `json:"platform"`
		Records     []json.RawMessage           `json:"records"`
		Connections []platform.ConnectionHealth `json:"connections"`
	}
	if err := decode(input, &in); err != nil {
		return nil, err
	}
	kind, err := platform.ParseKind(in.Platform)
	if err != nil {
		return nil, err
	}

	records, skipped := persist.DecodeRecords(in.Records, b.logger)
	return map[string]any{
		"summary": health.Aggregate(kind, records, in.Connections, b.now()),
		"skipped": skipped,
	}, nil
}

func (b builtins) assessHealth(_ context.Context, input json.RawMessage) (any, error) {
	var in struct {
		PlatformResults []platform.PlatformResult `json:"platform_results"`
	}
	if err := decode(input, &in); err != nil {
		return nil, err
	}
	return health.Assess(in.PlatformResults, b.now()), nil
}

func (b builtins) renderNotification(_ context.Context, input json.RawMessage) (any, error) {
	var in struct {
		MonitoringID string                           `json:"monitoring_id"`
		Assessment   platform.HealthAssessment        `json:"assessment"`
		Summaries    []platform.PlatformHealthSummary `json:"summaries"`
	}
	if err := decode(input, &in); err != nil {
		return nil, err
	}
	rendered, err := notify.Render(in.MonitoringID, in.Assessment, in.Summaries, b.now())
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"should_notify": notify.ShouldNotify(in.Assessment),
		"template_key":  rendered.TemplateKey,
		"priority":      rendered.Priority,
		"subject":       rendered.Subject,
		"body":          rendered.Body,
	}, nil
}

func (b builtins) fetchPlatformRuns(ctx context.Context, input json.RawMessage) (any, error) {
	if b.deps.Runner == nil {
		return nil, errNoRunner
	}
	var in struct {
		Platform  string `json:"platform"`
		Limit     int    `json:"limit"`
		HoursBack int    `json:"hours_back"`
		JobID     string `json:"job_id"`
		JobType   string `json:"job_type"`
	}
	if err := decode(input, &in); err != nil {
		return nil, err
	}
	kind, err := platform.ParseKind(in.Platform)
	if err != nil {
		return nil, err
	}
	records, err := b.deps.Runner.Fetch(ctx, kind, platform.Filters{
		Limit:     in.Limit,
		HoursBack: in.HoursBack,
		JobID:     in.JobID,
		JobType:   in.JobType,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s runs: %w", kind, err)
	}
	return map[string]any{"platform": kind, "count": len(records), "records": records}, nil
}

func (b builtins) connectionHealth(ctx context.Context, input json.RawMessage) (any, error) {
	if b.deps.Runner == nil {
		return nil, errNoRunner
	}
	var in struct {
		Platform string `json:"platform"`
	}
	if err := decode(input, &in); err != nil {
		return nil, err
	}
	kind, err := platform.ParseKind(in.Platform)
	if err != nil {
		return nil, err
	}
	connections, err := b.deps.Runner.ConnectionHealth(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s connection health: %w", kind, err)
	}
	healthy := 0
	for _, c := range connections {
		if c.IsHealthy {
			healthy++
		}
	}
	return map[string]any{
		"platform":    kind,
		"total":       len(connections),
		"healthy":     healthy,
		"connections": connections,
	}, nil
}

func (b builtins) persistResults(ctx context.Context, input json.RawMessage) (any, error) {
	if b.deps.Store == nil {
		return nil, database.ErrNoWarehouse
	}
	var in struct {
		MonitoringResult resultInput `json:"monitoring_result"`
	}
	if err := decode(input, &in); err != nil {
		return nil, err
	}
	records, skipped := persist.DecodeRecords(in.MonitoringResult.Records, b.logger)
	result := in.MonitoringResult.result(records)
	summary := b.deps.Store.Persist(ctx, &result)
	summary.Skipped += skipped
	return summary, nil
}

// resultInput is a monitoring result whose records stay raw until they are
// decoded one by one, so a malformed record is skipped instead of failing
// the call.
type resultInput struct {
	platform.MonitoringResult
	Records         []json.RawMessage `json:"records"`
	PlatformResults []struct {
		Platform platform.PlatformKind           `json:"platform"`
		Success  bool                            `json:"success"`
		Summary  *platform.PlatformHealthSummary `json:"summary"`
		Error    string                          `json:"error"`
		Duration time.Duration                   `json:"duration_ns"`
	} `json:"platform_results"`
}

func (in resultInput) result(records []platform.JobStatusRecord) platform.MonitoringResult {
	out := in.MonitoringResult
	out.Records = records
	out.PlatformResults = make([]platform.PlatformResult, 0, len(in.PlatformResults))
	for _, pr := range in.PlatformResults {
		out.PlatformResults = append(out.PlatformResults, platform.PlatformResult{
			Platform: pr.Platform,
			Success:  pr.Success,
			Summary:  pr.Summary,
			Error:    pr.Error,
			Duration: pr.Duration,
		})
	}
	return out
}

func (b builtins) persistRecords(ctx context.Context, input json.RawMessage) (any, error) {
	if b.deps.Store == nil {
		return nil, database.ErrNoWarehouse
	}
	var in struct {
		MonitoringID string            `json:"monitoring_id"`
		Records      []json.RawMessage `json:"records"`
	}
	if err := decode(input, &in); err != nil {
		return nil, err
	}
	if in.MonitoringID == "" {
		in.MonitoringID = persist.NewMonitoringID(b.now())
	}
	res, skipped := b.deps.Store.PersistRaw(ctx, in.MonitoringID, in.Records)
	return map[string]any{"monitoring_id": in.MonitoringID, "result": res, "skipped": skipped}, nil
}

func (b builtins) queryRecentRecords(ctx context.Context, input json.RawMessage) (any, error) {
	if b.deps.Store == nil {
		return nil, database.ErrNoWarehouse
	}
	var in struct {
		Platform  string `json:"platform"`
		Status    string `json:"status"`
		HoursBack int    `json:"hours_back"`
		Limit     int    `json:"limit"`
	}
	if err := decode(input, &in); err != nil {
		return nil, err
	}
	f := database.RecordFilter{Status: in.Status, Limit: in.Limit}
	if in.Platform != "" {
		kind, err := platform.ParseKind(in.Platform)
		if err != nil {
			return nil, err
		}
		f.Platform = string(kind)
	}
	if in.HoursBack > 0 {
		f.Since = b.now().Add(-time.Duration(in.HoursBack) * time.Hour)
	}

	rows, err := b.deps.Store.QueryRecent(ctx, f)
	if err != nil {
		return nil, err
	}
	records := make([]platform.JobStatusRecord, 0, len(rows))
	skipped := 0
	for _, row := range rows {
		r, err := persist.FromStored(row)
		if err != nil {
			b.logger.Warn("skipping unreadable stored record", zap.String("record_id", row.RecordID), zap.Error(err))
			skipped++
			continue
		}
		records = append(records, r)
	}
	return map[string]any{"count": len(records), "records": records, "skipped": skipped}, nil
}

func (b builtins) runMonitoringCycle(ctx context.Context, input json.RawMessage) (any, error) {
	if b.deps.Runner == nil {
		return nil, errNoRunner
	}
	var in struct {
		Mode         string   `json:"mode"`
		MonitoringID string   `json:"monitoring_id"`
		Recipients   []string `json:"recipients"`
		From         string   `json:"from"`
		Draft        bool     `json:"draft"`
		Platforms    []string `json:"platforms"`
	}
	if err := decode(input, &in); err != nil {
		return nil, err
	}
	opts := monitor.RunOptions{
		Mode:         in.Mode,
		MonitoringID: in.MonitoringID,
		Recipients:   in.Recipients,
		From:         in.From,
		Draft:        in.Draft,
	}
	for _, p := range in.Platforms {
		kind, err := platform.ParseKind(p)
		if err != nil {
			return nil, err
		}
		opts.Platforms = append(opts.Platforms, kind)
	}
	return b.deps.Runner.Run(ctx, opts)
}
