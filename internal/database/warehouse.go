package database

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/alphauslabs/pipewatch/internal/config"
)

var (
	// ErrDuplicateSession is returned when a monitoring id was already stored.
	ErrDuplicateSession = errors.New("monitoring session already exists")

	// ErrNoWarehouse is returned when persistence is disabled.
	ErrNoWarehouse = errors.New("no warehouse configured")
)

// Warehouse stores monitoring output.
type Warehouse interface {
	// InsertRecords upserts records by RecordID and returns the number written.
	InsertRecords(ctx context.Context, records []StoredRecord) (int, error)

	// InsertSession stores a cycle row. It fails with ErrDuplicateSession
	// when the monitoring id already exists.
	InsertSession(ctx context.Context, session Session) (string, error)

	// InsertSummaries upserts per-platform rows by SummaryID.
	InsertSummaries(ctx context.Context, summaries []StoredSummary) (int, error)

	// QueryRecent returns records newest first.
	QueryRecent(ctx context.Context, filter RecordFilter) ([]StoredRecord, error)

	Close() error
}

// NewWarehouse opens the warehouse selected by cfg.Provider. The "none"
// provider returns ErrNoWarehouse.
func NewWarehouse(ctx context.Context, cfg config.DatabaseConfig, snowflake config.SnowflakeConfig, logger *zap.Logger) (Warehouse, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Provider {
	case "memory", "":
		return NewMemory(), nil
	case "none":
		return nil, ErrNoWarehouse
	case "spanner":
		return NewClient(ctx, cfg.ProjectID, cfg.Instance, cfg.Database)
	case "postgres":
		return OpenPostgres(ctx, cfg.DSN, logger.Named("postgres"))
	case "snowflake":
		return OpenSnowflake(ctx, snowflake, cfg.ProviderOptions["schema"], logger.Named("snowflake"))
	default:
		return nil, fmt.Errorf("unsupported database provider: %s", cfg.Provider)
	}
}
