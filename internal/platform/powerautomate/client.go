package powerautomate

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/alphauslabs/pipewatch/internal/platform"
	"github.com/alphauslabs/pipewatch/internal/platform/transport"
)

const (
	// DefaultBaseURL is the Microsoft Graph v1.0 endpoint.
	DefaultBaseURL = "https://graph.microsoft.com/v1.0"

	// GraphScope requests the application permissions granted to the app.
	GraphScope = "https://graph.microsoft.com/.default"

	// Per-cycle caps that keep a poll inside the platform timeout.
	maxFlows       = 10
	maxRunsPerFlow = 10
)

func init() {
	platform.Register(platform.KindPowerAutomate, func(ctx context.Context, cfg platform.ProviderConfig, logger *zap.Logger) (platform.Collector, error) {
		return NewCollector(ctx, cfg, logger)
	})
}

// TokenURL returns the Azure AD v2 token endpoint for a tenant.
func TokenURL(tenantID string) string {
	return fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", tenantID)
}

// Collector polls Power Automate flows and their recent runs.
type Collector struct {
	client *transport.Client
	logger *zap.Logger
	now    func() time.Time
}

// NewCollector creates a collector authenticated with Azure AD client
// credentials. The "token_url" option overrides the tenant token endpoint.
func NewCollector(ctx context.Context, cfg platform.ProviderConfig, logger *zap.Logger) (*Collector, error) {
	tenantID := cfg.Option("tenant_id", "")
	clientID := cfg.Option("client_id", "")
	clientSecret := cfg.Option("client_secret", "")
	if tenantID == "" || clientID == "" || clientSecret == "" {
		return nil, fmt.Errorf("tenant_id, client_id and client_secret are required for power automate")
	}

	cc := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     cfg.Option("token_url", TokenURL(tenantID)),
		Scopes:       []string{GraphScope},
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	client, err := transport.New(transport.Config{
		Name:              string(platform.KindPowerAutomate),
		BaseURL:           baseURL,
		HTTPClient:        cc.Client(ctx),
		Timeout:           cfg.Timeout,
		MaxRetries:        cfg.MaxRetries,
		RequestsPerSecond: cfg.RequestsPerSecond,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create power automate client: %w", err)
	}

	return &Collector{client: client, logger: logger, now: time.Now}, nil
}

// Kind implements platform.Collector.
func (c *Collector) Kind() platform.PlatformKind { return platform.KindPowerAutomate }

// FetchRuns lists flows and collects recent runs for the first few. A flow
// whose runs cannot be fetched is logged and skipped.
func (c *Collector) FetchRuns(ctx context.Context, filters platform.Filters) ([]platform.JobStatusRecord, error) {
	flows, err := c.ListFlows(ctx)
	if err != nil {
		return nil, err
	}
	if len(flows) > maxFlows {
		flows = flows[:maxFlows]
	}

	perFlow := maxRunsPerFlow
	if filters.Limit > 0 && filters.Limit < perFlow {
		perFlow = filters.Limit
	}

	checkedAt := c.now()
	var records []platform.JobStatusRecord
	for _, flow := range flows {
		runs, err := c.ListRuns(ctx, flow.Key(), perFlow)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Warn("failed to get flow runs", zap.String("flow", flow.Key()), zap.Error(err))
			continue
		}
		records = append(records, NormalizeRuns(flow, runs, checkedAt, c.logger)...)
	}

	c.logger.Info("retrieved power automate run records", zap.Int("count", len(records)), zap.Int("flows", len(flows)))
	return records, nil
}

// ListFlows returns flows from GET solutions/flows.
func (c *Collector) ListFlows(ctx context.Context) ([]Flow, error) {
	var resp struct {
		Value []Flow `json:"value"`
	}
	if err := c.client.GetJSON(ctx, "solutions/flows", nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to get power automate flows: %w", err)
	}
	return resp.Value, nil
}

// ListRuns returns up to top runs for a flow.
func (c *Collector) ListRuns(ctx context.Context, flowID string, top int) ([]Run, error) {
	params := url.Values{}
	params.Set("$top", strconv.Itoa(top))

	var resp struct {
		Value    []Run  `json:"value"`
		NextLink string `json:"@odata.nextLink"`
	}
	path := fmt.Sprintf("solutions/flows/%s/runs", url.PathEscape(flowID))
	if err := c.client.GetJSON(ctx, path, params, &resp); err != nil {
		return nil, fmt.Errorf("failed to get flow runs: %w", err)
	}
	return resp.Value, nil
}
