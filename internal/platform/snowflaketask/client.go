package snowflaketask

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/snowflakedb/gosnowflake"
	"go.uber.org/zap"

	"github.com/alphauslabs/pipewatch/internal/platform"
)

// Defaults for the monitored account.
const (
	DefaultDatabase  = "DEV_POWERAPPS"
	DefaultSchema    = "AUDIT_JOB_HUB"
	DefaultWarehouse = "COMPUTE_WH"
)

func init() {
	platform.Register(platform.KindSnowflakeTask, func(ctx context.Context, cfg platform.ProviderConfig, logger *zap.Logger) (platform.Collector, error) {
		return NewCollector(ctx, cfg, logger)
	})
}

// Collector reads task history through database/sql.
type Collector struct {
	db      *sql.DB
	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

// DriverConfig builds the gosnowflake connection config from provider options.
func DriverConfig(cfg platform.ProviderConfig) (*gosnowflake.Config, error) {
	sc := &gosnowflake.Config{
		Account:   strings.TrimSuffix(cfg.Option("account", ""), ".snowflakecomputing.com"),
		User:      cfg.Option("user", ""),
		Password:  cfg.Option("password", ""),
		Database:  cfg.Option("database", DefaultDatabase),
		Schema:    cfg.Option("schema", DefaultSchema),
		Warehouse: cfg.Option("warehouse", DefaultWarehouse),
		Role:      cfg.Option("role", ""),
	}
	if sc.Account == "" || sc.User == "" || sc.Password == "" {
		return nil, fmt.Errorf("account, user and password are required for snowflake")
	}
	if cfg.Timeout > 0 {
		sc.LoginTimeout = cfg.Timeout
	}
	return sc, nil
}

// NewCollector opens a Snowflake connection pool. The connection is verified
// lazily on first query.
func NewCollector(ctx context.Context, cfg platform.ProviderConfig, logger *zap.Logger) (*Collector, error) {
	sc, err := DriverConfig(cfg)
	if err != nil {
		return nil, err
	}
	dsn, err := gosnowflake.DSN(sc)
	if err != nil {
		return nil, fmt.Errorf("failed to build snowflake DSN: %w", err)
	}
	db, err := sql.Open("snowflake", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open snowflake connection: %w", err)
	}
	db.SetMaxOpenConns(4)

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Collector{db: db, timeout: timeout, logger: logger, now: time.Now}, nil
}

// Kind implements platform.Collector.
func (c *Collector) Kind() platform.PlatformKind { return platform.KindSnowflakeTask }

// Close releases the connection pool.
func (c *Collector) Close() error {
	return c.db.Close()
}

// FetchRuns reads task history and normalizes it.
func (c *Collector) FetchRuns(ctx context.Context, filters platform.Filters) ([]platform.JobStatusRecord, error) {
	rows, err := c.TaskHistory(ctx, filters)
	if err != nil {
		return nil, err
	}
	records := NormalizeTasks(rows, c.now(), c.logger)
	c.logger.Info("retrieved snowflake task records", zap.Int("count", len(records)))
	return records, nil
}

// HistoryQuery builds the TASK_HISTORY query and its bind arguments.
func HistoryQuery(filters platform.Filters) (string, []any) {
	hours := filters.HoursBack
	if hours <= 0 {
		hours = 24
	}
	limit := filters.Limit
	if limit <= 0 {
		limit = 50
	}

	var b strings.Builder
	b.WriteString(`SELECT NAME, DATABASE_NAME, SCHEMA_NAME, STATE, SCHEDULED_TIME, STARTED_TIME, COMPLETED_TIME,
       ROOT_TASK_ID, GRAPH_RUN_ID, RUN_ID, ERROR_CODE, ERROR_MESSAGE
FROM TABLE(INFORMATION_SCHEMA.TASK_HISTORY())
WHERE SCHEDULED_TIME >= DATEADD(hour, -?, CURRENT_TIMESTAMP())`)
	args := []any{hours}
	if filters.JobID != "" {
		b.WriteString(" AND NAME = ?")
		args = append(args, filters.JobID)
	}
	b.WriteString(" ORDER BY SCHEDULED_TIME DESC LIMIT ?")
	args = append(args, limit)
	return b.String(), args
}

// TaskHistory runs the history query and scans rows.
func (c *Collector) TaskHistory(ctx context.Context, filters platform.Filters) ([]TaskHistory, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	query, args := HistoryQuery(filters)
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query task history: %w", err)
	}
	defer rows.Close()

	var out []TaskHistory
	for rows.Next() {
		var (
			name, db, schema, state       sql.NullString
			scheduled, started, completed sql.NullTime
			rootTaskID, graphRunID        sql.NullString
			runID                         sql.NullInt64
			errorCode, errorMessage       sql.NullString
		)
		if err := rows.Scan(&name, &db, &schema, &state, &scheduled, &started, &completed,
			&rootTaskID, &graphRunID, &runID, &errorCode, &errorMessage); err != nil {
			c.logger.Warn("skipping unreadable task history row", zap.Error(err))
			continue
		}

		row := TaskHistory{
			Name:          name.String,
			DatabaseName:  db.String,
			SchemaName:    schema.String,
			State:         state.String,
			ScheduledTime: formatTime(scheduled),
			StartedTime:   formatTime(started),
			CompletedTime: formatTime(completed),
			RootTaskID:    rootTaskID.String,
			GraphRunID:    graphRunID.String,
			ErrorCode:     errorCode.String,
			ErrorMessage:  errorMessage.String,
		}
		if runID.Valid {
			id := runID.Int64
			row.RunID = &id
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate task history: %w", err)
	}
	return out, nil
}

func formatTime(t sql.NullTime) string {
	if !t.Valid {
		return ""
	}
	return t.Time.UTC().Format(time.RFC3339Nano)
}
