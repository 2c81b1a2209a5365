package databricks

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/alphauslabs/pipewatch/internal/platform"
	"github.com/alphauslabs/pipewatch/internal/platform/transport"
)

func init() {
	platform.Register(platform.KindDatabricks, func(ctx context.Context, cfg platform.ProviderConfig, logger *zap.Logger) (platform.Collector, error) {
		return NewCollector(ctx, cfg, logger)
	})
}

// Collector polls Databricks job runs and clusters.
type Collector struct {
	client *transport.Client
	logger *zap.Logger
	now    func() time.Time
}

// NewCollector creates a Databricks collector authenticated with a
// personal access token. BaseURL is the workspace URL.
func NewCollector(ctx context.Context, cfg platform.ProviderConfig, logger *zap.Logger) (*Collector, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("workspace URL is required for databricks")
	}
	token := strings.TrimSpace(cfg.Option("token", ""))
	if token == "" {
		return nil, fmt.Errorf("token is required for databricks")
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
	client, err := transport.New(transport.Config{
		Name:              string(platform.KindDatabricks),
		BaseURL:           cfg.BaseURL,
		HTTPClient:        oauth2.NewClient(ctx, ts),
		Timeout:           cfg.Timeout,
		MaxRetries:        cfg.MaxRetries,
		RequestsPerSecond: cfg.RequestsPerSecond,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create databricks client: %w", err)
	}

	return &Collector{client: client, logger: logger, now: time.Now}, nil
}

// Kind implements platform.Collector.
func (c *Collector) Kind() platform.PlatformKind { return platform.KindDatabricks }

// FetchRuns lists recent runs, resolves each job's name once per call, and
// normalizes the runs.
func (c *Collector) FetchRuns(ctx context.Context, filters platform.Filters) ([]platform.JobStatusRecord, error) {
	runs, err := c.ListRuns(ctx, filters)
	if err != nil {
		return nil, err
	}

	names := make(map[int64]string)
	resolve := func(jobID int64) string {
		if name, ok := names[jobID]; ok {
			return name
		}
		name := DefaultJobName(jobID)
		job, err := c.GetJob(ctx, jobID)
		if err != nil {
			c.logger.Warn("failed to get job details", zap.Int64("job_id", jobID), zap.Error(err))
		} else if job.Settings.Name != "" {
			name = job.Settings.Name
		}
		names[jobID] = name
		return name
	}

	records := NormalizeRuns(runs, resolve, c.now(), c.logger)
	c.logger.Info("retrieved databricks run records", zap.Int("count", len(records)), zap.Int("jobs", len(names)))
	return records, nil
}

// ListRuns returns raw runs from GET /api/2.1/jobs/runs/list.
func (c *Collector) ListRuns(ctx context.Context, filters platform.Filters) ([]Run, error) {
	limit := filters.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", "0")
	if filters.JobID != "" {
		params.Set("job_id", filters.JobID)
	}

	var resp RunsResponse
	if err := c.client.GetJSON(ctx, "/api/2.1/jobs/runs/list", params, &resp); err != nil {
		return nil, fmt.Errorf("failed to get databricks job runs: %w", err)
	}
	return resp.Runs, nil
}

// GetJob returns a job's settings from GET /api/2.1/jobs/get.
func (c *Collector) GetJob(ctx context.Context, jobID int64) (*JobDetails, error) {
	params := url.Values{}
	params.Set("job_id", strconv.FormatInt(jobID, 10))

	var job JobDetails
	if err := c.client.GetJSON(ctx, "/api/2.1/jobs/get", params, &job); err != nil {
		return nil, fmt.Errorf("failed to get databricks job %d: %w", jobID, err)
	}
	return &job, nil
}

// FetchClusterHealth implements platform.ClusterHealthCollector.
func (c *Collector) FetchClusterHealth(ctx context.Context) ([]platform.ConnectionHealth, error) {
	var resp struct {
		Clusters []Cluster `json:"clusters"`
	}
	if err := c.client.GetJSON(ctx, "/api/2.0/clusters/list", nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list databricks clusters: %w", err)
	}
	return ClusterHealth(resp.Clusters), nil
}
