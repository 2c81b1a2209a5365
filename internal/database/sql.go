package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/lib/pq"
	"github.com/snowflakedb/gosnowflake"
	"go.uber.org/zap"

	"github.com/alphauslabs/pipewatch/internal/config"
	"github.com/alphauslabs/pipewatch/internal/platform"
	"github.com/alphauslabs/pipewatch/internal/platform/snowflaketask"
)

// dialect captures the statement differences between SQL providers.
type dialect struct {
	name string

	// bind returns the nth (1-based) placeholder.
	bind func(n int) string

	// ident maps a logical table or column name to the provider's spelling.
	ident func(name string) string

	// qualify prefixes table names, e.g. with database and schema.
	qualify string

	// platforms encodes Session.PlatformsMonitored.
	platforms func([]string) any

	// upsert builds an insert-or-update keyed on key.
	upsert func(d dialect, table string, columns []string, key string) string

	// insertIfAbsent builds an insert that writes nothing when key exists.
	insertIfAbsent func(d dialect, table string, columns []string, key string) string

	ddl []string
}

func (d dialect) table(name string) string {
	return d.qualify + d.ident(name)
}

func (d dialect) binds(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = d.bind(i + 1)
	}
	return strings.Join(parts, ", ")
}

func (d dialect) idents(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = d.ident(c)
	}
	return out
}

// snakeCase turns "MetadataJson" into "metadata_json".
func snakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}

var postgresDialect = dialect{
	name:      "postgres",
	bind:      func(n int) string { return fmt.Sprintf("$%d", n) },
	ident:     snakeCase,
	platforms: func(p []string) any { return pq.Array(p) },
	upsert: func(d dialect, table string, columns []string, key string) string {
		cols := d.idents(columns)
		var set []string
		for _, c := range cols {
			if c == d.ident(key) || c == "created_at" {
				continue
			}
			set = append(set, c+" = EXCLUDED."+c)
		}
		return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
			d.table(table), strings.Join(cols, ", "), d.binds(len(cols)), d.ident(key), strings.Join(set, ", "))
	},
	insertIfAbsent: func(d dialect, table string, columns []string, key string) string {
		cols := d.idents(columns)
		return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO NOTHING",
			d.table(table), strings.Join(cols, ", "), d.binds(len(cols)), d.ident(key))
	},
	ddl: []string{
		`CREATE TABLE IF NOT EXISTS job_status_records (
	record_id TEXT PRIMARY KEY,
	monitoring_id TEXT NOT NULL,
	job_id TEXT NOT NULL,
	platform TEXT NOT NULL,
	job_name TEXT NOT NULL,
	status TEXT NOT NULL,
	last_run_time TIMESTAMPTZ,
	duration_seconds BIGINT,
	error_message TEXT,
	metadata_json TEXT,
	checked_at TIMESTAMPTZ NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE TABLE IF NOT EXISTS monitoring_sessions (
	monitoring_id TEXT PRIMARY KEY,
	started_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ NOT NULL,
	total_jobs BIGINT NOT NULL,
	successful_jobs BIGINT NOT NULL,
	failed_jobs BIGINT NOT NULL,
	platforms_monitored TEXT[],
	risk_level TEXT NOT NULL,
	overall_health TEXT NOT NULL,
	requires_notification BOOLEAN NOT NULL,
	assessment_json TEXT,
	summaries_json TEXT,
	errors_json TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE TABLE IF NOT EXISTS platform_health_summaries (
	summary_id TEXT PRIMARY KEY,
	monitoring_id TEXT NOT NULL,
	platform TEXT NOT NULL,
	total_jobs BIGINT NOT NULL,
	successful_jobs BIGINT NOT NULL,
	failed_jobs BIGINT NOT NULL,
	running_jobs BIGINT NOT NULL,
	success_rate DOUBLE PRECISION NOT NULL,
	failure_rate DOUBLE PRECISION NOT NULL,
	platform_status TEXT NOT NULL,
	risk_level TEXT NOT NULL,
	requires_attention BOOLEAN NOT NULL,
	avg_duration_seconds DOUBLE PRECISION NOT NULL,
	issues_json TEXT,
	recommendations_json TEXT,
	error_patterns_json TEXT,
	last_check TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS job_status_records_checked_at ON job_status_records (checked_at DESC)`,
	},
}

func snowflakeDialect(database, schema string) dialect {
	return dialect{
		name:      "snowflake",
		bind:      func(int) string { return "?" },
		ident:     func(s string) string { return strings.ToUpper(snakeCase(s)) },
		qualify:   database + "." + schema + ".",
		platforms: func(p []string) any { return strings.Join(p, ",") },
		upsert: func(d dialect, table string, columns []string, key string) string {
			return snowflakeMerge(d, table, columns, key, true)
		},
		insertIfAbsent: func(d dialect, table string, columns []string, key string) string {
			return snowflakeMerge(d, table, columns, key, false)
		},
		ddl: []string{
			`CREATE TABLE IF NOT EXISTS ` + database + `.` + schema + `.JOB_STATUS_RECORDS (
	RECORD_ID VARCHAR PRIMARY KEY,
	MONITORING_ID VARCHAR,
	JOB_ID VARCHAR,
	PLATFORM VARCHAR,
	JOB_NAME VARCHAR,
	STATUS VARCHAR,
	LAST_RUN_TIME TIMESTAMP_TZ,
	DURATION_SECONDS NUMBER,
	ERROR_MESSAGE VARCHAR,
	METADATA_JSON VARCHAR,
	CHECKED_AT TIMESTAMP_TZ,
	CREATED_AT TIMESTAMP_TZ
)`,
			`CREATE TABLE IF NOT EXISTS ` + database + `.` + schema + `.MONITORING_SESSIONS (
	MONITORING_ID VARCHAR PRIMARY KEY,
	STARTED_AT TIMESTAMP_TZ,
	COMPLETED_AT TIMESTAMP_TZ,
	TOTAL_JOBS NUMBER,
	SUCCESSFUL_JOBS NUMBER,
	FAILED_JOBS NUMBER,
	PLATFORMS_MONITORED VARCHAR,
	RISK_LEVEL VARCHAR,
	OVERALL_HEALTH VARCHAR,
	REQUIRES_NOTIFICATION BOOLEAN,
	ASSESSMENT_JSON VARCHAR,
	SUMMARIES_JSON VARCHAR,
	ERRORS_JSON VARCHAR,
	CREATED_AT TIMESTAMP_TZ
)`,
			`CREATE TABLE IF NOT EXISTS ` + database + `.` + schema + `.PLATFORM_HEALTH_SUMMARIES (
	SUMMARY_ID VARCHAR PRIMARY KEY,
	MONITORING_ID VARCHAR,
	PLATFORM VARCHAR,
	TOTAL_JOBS NUMBER,
	SUCCESSFUL_JOBS NUMBER,
	FAILED_JOBS NUMBER,
	RUNNING_JOBS NUMBER,
	SUCCESS_RATE FLOAT,
	FAILURE_RATE FLOAT,
	PLATFORM_STATUS VARCHAR,
	RISK_LEVEL VARCHAR,
	REQUIRES_ATTENTION BOOLEAN,
	AVG_DURATION_SECONDS FLOAT,
	ISSUES_JSON VARCHAR,
	RECOMMENDATIONS_JSON VARCHAR,
	ERROR_PATTERNS_JSON VARCHAR,
	LAST_CHECK TIMESTAMP_TZ
)`,
		},
	}
}

// snowflakeMerge builds MERGE INTO ... USING (SELECT ? AS COL, ...) keyed on key.
func snowflakeMerge(d dialect, table string, columns []string, key string, update bool) string {
	cols := d.idents(columns)
	k := d.ident(key)

	src := make([]string, len(cols))
	vals := make([]string, len(cols))
	var set []string
	for i, c := range cols {
		src[i] = "? AS " + c
		vals[i] = "S." + c
		if c != k && c != "CREATED_AT" {
			set = append(set, "T."+c+" = S."+c)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "MERGE INTO %s T USING (SELECT %s) S ON T.%s = S.%s", d.table(table), strings.Join(src, ", "), k, k)
	if update {
		fmt.Fprintf(&b, " WHEN MATCHED THEN UPDATE SET %s", strings.Join(set, ", "))
	}
	fmt.Fprintf(&b, " WHEN NOT MATCHED THEN INSERT (%s) VALUES (%s)", strings.Join(cols, ", "), strings.Join(vals, ", "))
	return b.String()
}

// SQLWarehouse stores monitoring output through database/sql.
type SQLWarehouse struct {
	db      *sql.DB
	dialect dialect
	logger  *zap.Logger
	now     func() time.Time
}

// OpenPostgres connects with lib/pq and creates missing tables.
func OpenPostgres(ctx context.Context, dsn string, logger *zap.Logger) (*SQLWarehouse, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	return openSQL(ctx, db, postgresDialect, logger)
}

// OpenSnowflake connects with gosnowflake and creates missing tables in the
// configured database and schema.
func OpenSnowflake(ctx context.Context, cfg config.SnowflakeConfig, schema string, logger *zap.Logger) (*SQLWarehouse, error) {
	opts := cfg.Options()
	if schema != "" {
		opts["schema"] = schema
	}
	pc := platform.ProviderConfig{Kind: platform.KindSnowflakeTask, Options: opts}
	sc, err := snowflaketask.DriverConfig(pc)
	if err != nil {
		return nil, err
	}
	dsn, err := gosnowflake.DSN(sc)
	if err != nil {
		return nil, fmt.Errorf("failed to build snowflake DSN: %w", err)
	}
	db, err := sql.Open("snowflake", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open snowflake: %w", err)
	}
	return openSQL(ctx, db, snowflakeDialect(sc.Database, sc.Schema), logger)
}

func openSQL(ctx context.Context, db *sql.DB, d dialect, logger *zap.Logger) (*SQLWarehouse, error) {
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", d.name, err)
	}
	w := &SQLWarehouse{db: db, dialect: d, logger: logger, now: time.Now}
	if err := w.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return w, nil
}

// EnsureSchema creates the warehouse tables when they are missing.
func (w *SQLWarehouse) EnsureSchema(ctx context.Context) error {
	for _, stmt := range w.dialect.ddl {
		if _, err := w.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create %s schema: %w", w.dialect.name, err)
		}
	}
	return nil
}

// Close closes the connection pool.
func (w *SQLWarehouse) Close() error {
	return w.db.Close()
}

// InsertRecords upserts records in one transaction.
func (w *SQLWarehouse) InsertRecords(ctx context.Context, records []StoredRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	now := w.now().UTC()
	rows := make([][]interface{}, len(records))
	for i, r := range records {
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		rows[i] = r.values()
	}
	stmt := w.dialect.upsert(w.dialect, TableRecords, recordColumns, "RecordId")
	if err := w.execBatch(ctx, stmt, rows); err != nil {
		return 0, fmt.Errorf("failed to insert records: %w", err)
	}
	return len(records), nil
}

// InsertSummaries upserts per-platform summaries in one transaction.
func (w *SQLWarehouse) InsertSummaries(ctx context.Context, summaries []StoredSummary) (int, error) {
	if len(summaries) == 0 {
		return 0, nil
	}
	rows := make([][]interface{}, len(summaries))
	for i, s := range summaries {
		rows[i] = s.values()
	}
	stmt := w.dialect.upsert(w.dialect, TableSummaries, summaryColumns, "SummaryId")
	if err := w.execBatch(ctx, stmt, rows); err != nil {
		return 0, fmt.Errorf("failed to insert summaries: %w", err)
	}
	return len(summaries), nil
}

// InsertSession inserts the cycle row, reporting ErrDuplicateSession when
// nothing was written.
func (w *SQLWarehouse) InsertSession(ctx context.Context, s Session) (string, error) {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = w.now().UTC()
	}
	stmt := w.dialect.insertIfAbsent(w.dialect, TableSessions, sessionColumns, "MonitoringId")
	res, err := w.db.ExecContext(ctx, stmt,
		s.MonitoringID, s.StartedAt, s.CompletedAt, s.TotalJobs, s.SuccessfulJobs, s.FailedJobs,
		w.dialect.platforms(s.PlatformsMonitored), s.RiskLevel, s.OverallHealth, s.RequiresNotification,
		s.AssessmentJSON, s.SummariesJSON, s.ErrorsJSON, s.CreatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return "", fmt.Errorf("%w: %s", ErrDuplicateSession, s.MonitoringID)
	}
	return s.MonitoringID, nil
}

func (w *SQLWarehouse) execBatch(ctx context.Context, query string, rows [][]interface{}) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, args := range rows {
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// recentQuery builds the QueryRecent statement and arguments.
func (w *SQLWarehouse) recentQuery(f RecordFilter) (string, []any) {
	d := w.dialect
	var where []string
	var args []any
	add := func(col, op string, v any) {
		args = append(args, v)
		where = append(where, d.ident(col)+" "+op+" "+d.bind(len(args)))
	}
	if f.Platform != "" {
		add("Platform", "=", f.Platform)
	}
	if f.Status != "" {
		add("Status", "=", f.Status)
	}
	if !f.Since.IsZero() {
		add("CheckedAt", ">=", f.Since)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", strings.Join(d.idents(recordColumns), ", "), d.table(TableRecords))
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	args = append(args, f.EffectiveLimit())
	fmt.Fprintf(&b, " ORDER BY %s DESC LIMIT %s", d.ident("CheckedAt"), d.bind(len(args)))
	return b.String(), args
}

// QueryRecent lists recent records newest first.
func (w *SQLWarehouse) QueryRecent(ctx context.Context, f RecordFilter) ([]StoredRecord, error) {
	query, args := w.recentQuery(f)
	rows, err := w.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []StoredRecord
	for rows.Next() {
		var (
			r        StoredRecord
			lastRun  sql.NullTime
			duration sql.NullInt64
			errMsg   sql.NullString
			metadata sql.NullString
		)
		if err := rows.Scan(&r.RecordID, &r.MonitoringID, &r.JobID, &r.Platform, &r.JobName, &r.Status,
			&lastRun, &duration, &errMsg, &metadata, &r.CheckedAt, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to parse record: %w", err)
		}
		if lastRun.Valid {
			t := lastRun.Time
			r.LastRunTime = &t
		}
		if duration.Valid {
			v := duration.Int64
			r.DurationSeconds = &v
		}
		if errMsg.Valid {
			v := errMsg.String
			r.ErrorMessage = &v
		}
		r.MetadataJSON = metadata.String
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}
	return records, nil
}
