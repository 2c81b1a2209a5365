package airbyte

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/alphauslabs/pipewatch/internal/platform"
	"github.com/alphauslabs/pipewatch/internal/platform/transport"
)

// DefaultBaseURL is the Airbyte Cloud public API.
const DefaultBaseURL = "https://api.airbyte.com/v1"

// tokenExpiryBuffer refreshes application tokens before they expire.
const tokenExpiryBuffer = 5 * time.Minute

func init() {
	platform.Register(platform.KindAirbyte, func(ctx context.Context, cfg platform.ProviderConfig, logger *zap.Logger) (platform.Collector, error) {
		return NewCollector(ctx, cfg, logger)
	})
}

// Collector polls Airbyte jobs and connections.
type Collector struct {
	client      *transport.Client
	workspaceID string
	logger      *zap.Logger
	now         func() time.Time
}

// NewCollector creates an Airbyte collector. It authenticates with a static
// API key when "api_key" is set, otherwise with application client
// credentials exchanged at {base}/applications/token.
func NewCollector(ctx context.Context, cfg platform.ProviderConfig, logger *zap.Logger) (*Collector, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	var ts oauth2.TokenSource
	if key := cfg.Option("api_key", ""); key != "" {
		ts = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: strings.TrimSpace(key), TokenType: "Bearer"})
	} else {
		clientID := cfg.Option("client_id", "")
		clientSecret := cfg.Option("client_secret", "")
		if clientID == "" || clientSecret == "" {
			return nil, fmt.Errorf("api_key or client_id/client_secret is required for airbyte")
		}
		ts = oauth2.ReuseTokenSourceWithExpiry(nil, &applicationTokenSource{
			ctx:          ctx,
			tokenURL:     strings.TrimRight(baseURL, "/") + "/applications/token",
			clientID:     clientID,
			clientSecret: clientSecret,
			httpClient:   &http.Client{Timeout: cfg.Timeout},
		}, tokenExpiryBuffer)
	}

	client, err := transport.New(transport.Config{
		Name:              string(platform.KindAirbyte),
		BaseURL:           baseURL,
		HTTPClient:        oauth2.NewClient(ctx, ts),
		Timeout:           cfg.Timeout,
		MaxRetries:        cfg.MaxRetries,
		RequestsPerSecond: cfg.RequestsPerSecond,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create airbyte client: %w", err)
	}

	return &Collector{
		client:      client,
		workspaceID: cfg.Option("workspace_id", ""),
		logger:      logger,
		now:         time.Now,
	}, nil
}

// Kind implements platform.Collector.
func (c *Collector) Kind() platform.PlatformKind { return platform.KindAirbyte }

// FetchRuns lists recent jobs and normalizes them.
func (c *Collector) FetchRuns(ctx context.Context, filters platform.Filters) ([]platform.JobStatusRecord, error) {
	jobs, err := c.ListJobs(ctx, filters)
	if err != nil {
		return nil, err
	}
	records := NormalizeJobs(jobs, c.now(), c.logger)
	c.logger.Info("retrieved airbyte job records", zap.Int("count", len(records)))
	return records, nil
}

// ListJobs returns raw jobs from GET /jobs.
func (c *Collector) ListJobs(ctx context.Context, filters platform.Filters) ([]Job, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(clamp(filters.Limit, 50, 1, 100)))
	params.Set("offset", "0")
	if c.workspaceID != "" {
		params.Set("workspaceId", c.workspaceID)
	}
	jobType := filters.JobType
	if jobType == "" {
		jobType = "sync"
	}
	params.Set("jobType", jobType)

	var resp JobsResponse
	if err := c.client.GetJSON(ctx, "/jobs", params, &resp); err != nil {
		return nil, fmt.Errorf("failed to get airbyte jobs: %w", err)
	}
	return resp.Data, nil
}

// FetchConnectionHealth implements platform.ConnectionHealthCollector.
func (c *Collector) FetchConnectionHealth(ctx context.Context) ([]platform.ConnectionHealth, error) {
	params := url.Values{}
	params.Set("limit", "100")
	params.Set("offset", "0")
	if c.workspaceID != "" {
		params.Set("workspaceId", c.workspaceID)
	}

	var resp ConnectionsResponse
	if err := c.client.GetJSON(ctx, "/connections", params, &resp); err != nil {
		return nil, fmt.Errorf("failed to get airbyte connections: %w", err)
	}
	return ConnectionHealth(resp.Data), nil
}

// applicationTokenSource exchanges application client credentials for an
// access token. Airbyte expects a JSON body, so clientcredentials.Config
// (form-encoded) cannot be used here.
type applicationTokenSource struct {
	ctx          context.Context
	tokenURL     string
	clientID     string
	clientSecret string
	httpClient   *http.Client
}

func (s *applicationTokenSource) Token() (*oauth2.Token, error) {
	body, err := json.Marshal(map[string]string{
		"client_id":     s.clientID,
		"client_secret": s.clientSecret,
		"grant-type":    "client_credentials",
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(s.ctx, http.MethodPost, s.tokenURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to request airbyte token: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("airbyte token request failed with status %d", resp.StatusCode)
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("airbyte token response has no access_token")
	}

	expiresIn := tok.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 180
	}
	return &oauth2.Token{
		AccessToken: tok.AccessToken,
		TokenType:   "Bearer",
		Expiry:      time.Now().Add(time.Duration(expiresIn) * time.Second),
	}, nil
}

func clamp(v, def, lo, hi int) int {
	if v <= 0 {
		v = def
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
