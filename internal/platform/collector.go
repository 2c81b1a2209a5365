package platform

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Collector fetches recent job runs from one platform and returns them as
// canonical records. Transport and auth failures are returned as errors;
// the monitor treats them as the platform being unreachable for the cycle.
type Collector interface {
	// Kind returns the platform this collector polls.
	Kind() PlatformKind

	// FetchRuns returns normalized records for the runs matching filters.
	// Items that cannot be normalized are logged and skipped.
	FetchRuns(ctx context.Context, filters Filters) ([]JobStatusRecord, error)
}

// ConnectionHealthCollector is implemented by collectors that report
// per-connection health alongside job runs. The monitor folds it into the
// platform summary.
type ConnectionHealthCollector interface {
	FetchConnectionHealth(ctx context.Context) ([]ConnectionHealth, error)
}

// ClusterHealthCollector is implemented by collectors that report compute
// cluster state. It is queried on demand and never affects the platform
// summary: idle clusters terminate as a matter of course.
type ClusterHealthCollector interface {
	FetchClusterHealth(ctx context.Context) ([]ConnectionHealth, error)
}

// Filters narrows the runs a collector fetches.
type Filters struct {
	// Limit is the maximum number of runs to return (0 = collector default).
	Limit int

	// HoursBack limits runs to those scheduled within the last N hours.
	// Only the Snowflake task collector honors it server-side.
	HoursBack int

	// JobType filters Airbyte jobs (e.g. "sync", "reset").
	JobType string

	// JobID restricts Databricks runs to one job or Snowflake history to one task.
	JobID string
}

// ProviderConfig contains everything needed to construct a collector.
type ProviderConfig struct {
	// Kind selects the collector implementation.
	Kind PlatformKind

	// BaseURL is the API root; empty uses the platform default.
	BaseURL string

	// Timeout bounds a single HTTP request or query.
	Timeout time.Duration

	// MaxRetries is the retry budget for retryable transport failures.
	MaxRetries int

	// RequestsPerSecond caps the request rate against the platform API.
	RequestsPerSecond float64

	// Options contains platform-specific settings and credentials.
	// Examples:
	//   - airbyte: {"api_key": "..."} or {"client_id": "...", "client_secret": "..."}, "workspace_id"
	//   - databricks: {"token": "..."}
	//   - power_automate: {"tenant_id", "client_id", "client_secret"}
	//   - snowflake_task: {"account", "user", "password", "database", "schema", "warehouse", "role"}
	Options map[string]string
}

// Option returns a provider option or the fallback when it is unset.
func (c ProviderConfig) Option(key, fallback string) string {
	if v, ok := c.Options[key]; ok && v != "" {
		return v
	}
	return fallback
}

// Factory builds a collector from its configuration.
type Factory func(ctx context.Context, cfg ProviderConfig, logger *zap.Logger) (Collector, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[PlatformKind]Factory)
)

// Register makes a collector implementation available under kind.
// Implementations call it from init.
func Register(kind PlatformKind, fn Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[kind] = fn
}

// NewCollector creates the collector registered for cfg.Kind.
func NewCollector(ctx context.Context, cfg ProviderConfig, logger *zap.Logger) (Collector, error) {
	factoriesMu.RLock()
	fn, ok := factories[cfg.Kind]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported platform: %s", cfg.Kind)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return fn(ctx, cfg, logger.Named(string(cfg.Kind)))
}

// Registered lists the platforms with a registered collector.
func Registered() []PlatformKind {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	var kinds []PlatformKind
	for _, k := range Kinds() {
		if _, ok := factories[k]; ok {
			kinds = append(kinds, k)
		}
	}
	return kinds
}
