package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/alphauslabs/pipewatch/internal/platform"
)

// Config represents the complete monitor configuration.
type Config struct {
	// ServerPort is the port `serve` listens on.
	ServerPort string `yaml:"server_port"`

	// AllowedOrigins lists the browser origins allowed to call the API.
	AllowedOrigins []string `yaml:"allowed_origins"`

	Monitoring    MonitoringConfig    `yaml:"monitoring"`
	Airbyte       AirbyteConfig       `yaml:"airbyte"`
	Databricks    DatabricksConfig    `yaml:"databricks"`
	PowerAutomate PowerAutomateConfig `yaml:"power_automate"`
	Snowflake     SnowflakeConfig     `yaml:"snowflake"`
	Database      DatabaseConfig      `yaml:"database"`
	Notification  NotificationConfig  `yaml:"notification"`
	Archive       ArchiveConfig       `yaml:"archive"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// MonitoringConfig controls the cycle and the platform clients.
type MonitoringConfig struct {
	// IntervalMinutes is the scheduler period, 1 to 1440.
	IntervalMinutes int `yaml:"interval_minutes"`

	// PlatformTimeout bounds one platform's fetch within a cycle.
	PlatformTimeout time.Duration `yaml:"platform_timeout"`

	// MaxRetries is the retry budget of each platform HTTP client.
	MaxRetries int `yaml:"max_retries"`

	// Limit is the number of runs requested per platform.
	Limit int `yaml:"limit"`

	// HoursBack is the lookback window for history queries.
	HoursBack int `yaml:"hours_back"`

	// MaxFailedCycles stops the scheduler after this many consecutive
	// failed cycles. Zero disables the limit.
	MaxFailedCycles int `yaml:"max_failed_cycles"`

	// RequestsPerSecond caps the request rate against each platform API.
	RequestsPerSecond float64 `yaml:"requests_per_second"`

	// Platforms restricts monitoring to a subset. Empty means every
	// platform with credentials.
	Platforms []string `yaml:"platforms"`
}

// AirbyteConfig accepts either a static API key or OAuth2 client credentials.
type AirbyteConfig struct {
	APIKey       string `yaml:"api_key"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	BaseURL      string `yaml:"base_url"`
	WorkspaceID  string `yaml:"workspace_id"`
}

// Enabled reports whether credentials are present.
func (c AirbyteConfig) Enabled() bool {
	return c.APIKey != "" || (c.ClientID != "" && c.ClientSecret != "")
}

// DatabricksConfig holds the workspace URL and a personal access token.
type DatabricksConfig struct {
	BaseURL     string `yaml:"base_url"`
	Token       string `yaml:"token"`
	WorkspaceID string `yaml:"workspace_id"`
}

func (c DatabricksConfig) Enabled() bool {
	return c.BaseURL != "" && c.Token != ""
}

// PowerAutomateConfig holds the Azure AD application used for Graph.
type PowerAutomateConfig struct {
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	BaseURL      string `yaml:"base_url"`
}

func (c PowerAutomateConfig) Enabled() bool {
	return c.TenantID != "" && c.ClientID != "" && c.ClientSecret != ""
}

// SnowflakeConfig is shared by the task collector and the snowflake warehouse.
type SnowflakeConfig struct {
	Account   string `yaml:"account"`
	User      string `yaml:"user"`
	Password  string `yaml:"password"`
	Database  string `yaml:"database"`
	Schema    string `yaml:"schema"`
	Warehouse string `yaml:"warehouse"`
	Role      string `yaml:"role"`
}

func (c SnowflakeConfig) Enabled() bool {
	return c.Account != "" && c.User != "" && c.Password != ""
}

// Options returns the connection options understood by the snowflake packages.
func (c SnowflakeConfig) Options() map[string]string {
	return map[string]string{
		"account":   c.Account,
		"user":      c.User,
		"password":  c.Password,
		"database":  c.Database,
		"schema":    c.Schema,
		"warehouse": c.Warehouse,
		"role":      c.Role,
	}
}

// DatabaseConfig contains warehouse connection configuration.
type DatabaseConfig struct {
	// Provider is the warehouse provider ("memory", "spanner", "postgres", "snowflake", "none").
	Provider string `yaml:"provider"`

	// ProjectID is used by GCP Spanner.
	ProjectID string `yaml:"project_id"`

	// Instance is the database instance name (Spanner-specific).
	Instance string `yaml:"instance"`

	// Database is the database name.
	Database string `yaml:"database"`

	// DSN is the PostgreSQL connection string.
	DSN string `yaml:"dsn"`

	// ProviderOptions contains provider-specific configuration.
	ProviderOptions map[string]string `yaml:"provider_options"`
}

// NotificationConfig selects the delivery provider and addressing.
type NotificationConfig struct {
	// Provider is "graph", "sendgrid", "slack", or "none".
	Provider   string   `yaml:"provider"`
	FromEmail  string   `yaml:"from_email"`
	Recipients []string `yaml:"recipients"`
	Draft      bool     `yaml:"draft"`

	// Graph application; falls back to the Power Automate application.
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`

	SendGridAPIKey  string `yaml:"sendgrid_api_key"`
	SlackWebhookURL string `yaml:"slack_webhook_url"`
}

// ArchiveConfig controls where cycle results are written.
type ArchiveConfig struct {
	Dir       string `yaml:"dir"`
	GCSBucket string `yaml:"gcs_bucket"`
	GCSPrefix string `yaml:"gcs_prefix"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		ServerPort: "8080",
		Monitoring: MonitoringConfig{
			IntervalMinutes:   15,
			PlatformTimeout:   30 * time.Second,
			MaxRetries:        3,
			Limit:             50,
			HoursBack:         24,
			MaxFailedCycles:   10,
			RequestsPerSecond: 10,
		},
		Snowflake: SnowflakeConfig{
			Database:  "DEV_POWERAPPS",
			Schema:    "AUDIT_JOB_HUB",
			Warehouse: "COMPUTE_WH",
		},
		Database:     DatabaseConfig{Provider: "memory", ProviderOptions: map[string]string{}},
		Notification: NotificationConfig{Provider: "graph"},
		Logging:      LoggingConfig{Level: "info", Format: "json"},
	}
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() (*Config, error) {
	return Load("")
}

// Load builds the configuration from defaults, an optional YAML file, and
// then environment variables, in that order of precedence.
func Load(path string) (*Config, error) {
	config := Default()
	if path != "" {
		if err := config.LoadFile(path); err != nil {
			return nil, err
		}
	}
	config.applyEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// LoadFile overlays a YAML file onto c.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config YAML: %w", err)
	}
	if c.Database.ProviderOptions == nil {
		c.Database.ProviderOptions = map[string]string{}
	}
	return nil
}

func (c *Config) applyEnv() {
	c.ServerPort = getEnvOrDefault("PORT", c.ServerPort)
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		c.AllowedOrigins = splitList(v)
	}

	m := &c.Monitoring
	m.IntervalMinutes = getEnvAsInt("MONITORING_INTERVAL_MINUTES", m.IntervalMinutes)
	m.PlatformTimeout = time.Duration(getEnvAsInt("HEALTH_CHECK_TIMEOUT_SECONDS", int(m.PlatformTimeout/time.Second))) * time.Second
	m.MaxRetries = getEnvAsInt("MAX_RETRIES", m.MaxRetries)
	m.Limit = getEnvAsInt("MONITORING_LIMIT", m.Limit)
	m.HoursBack = getEnvAsInt("MONITORING_HOURS_BACK", m.HoursBack)
	m.MaxFailedCycles = getEnvAsInt("MAX_FAILED_CYCLES", m.MaxFailedCycles)
	if v := os.Getenv("MONITORING_PLATFORMS"); v != "" {
		m.Platforms = splitList(v)
	}

	c.Airbyte.APIKey = getEnvOrDefault("AIRBYTE_API_KEY", c.Airbyte.APIKey)
	c.Airbyte.ClientID = getEnvOrDefault("AIRBYTE_CLIENT_ID", c.Airbyte.ClientID)
	c.Airbyte.ClientSecret = getEnvOrDefault("AIRBYTE_CLIENT_SECRET", c.Airbyte.ClientSecret)
	c.Airbyte.BaseURL = getEnvOrDefault("AIRBYTE_BASE_URL", c.Airbyte.BaseURL)
	c.Airbyte.WorkspaceID = getEnvOrDefault("AIRBYTE_WORKSPACE_ID", c.Airbyte.WorkspaceID)

	c.Databricks.BaseURL = getEnvOrDefault("DATABRICKS_BASE_URL", c.Databricks.BaseURL)
	c.Databricks.Token = getEnvOrDefault("DATABRICKS_API_KEY", c.Databricks.Token)
	c.Databricks.WorkspaceID = getEnvOrDefault("DATABRICKS_WORKSPACE_ID", c.Databricks.WorkspaceID)

	c.PowerAutomate.TenantID = getEnvOrDefault("POWER_AUTOMATE_TENANT_ID", c.PowerAutomate.TenantID)
	c.PowerAutomate.ClientID = getEnvOrDefault("POWER_AUTOMATE_CLIENT_ID", c.PowerAutomate.ClientID)
	c.PowerAutomate.ClientSecret = getEnvOrDefault("POWER_AUTOMATE_CLIENT_SECRET", c.PowerAutomate.ClientSecret)
	c.PowerAutomate.BaseURL = getEnvOrDefault("POWER_AUTOMATE_BASE_URL", c.PowerAutomate.BaseURL)

	c.Snowflake.Account = getEnvOrDefault("SNOWFLAKE_ACCOUNT", c.Snowflake.Account)
	c.Snowflake.User = getEnvOrDefault("SNOWFLAKE_USER", c.Snowflake.User)
	c.Snowflake.Password = getEnvOrDefault("SNOWFLAKE_PASSWORD", c.Snowflake.Password)
	c.Snowflake.Database = getEnvOrDefault("SNOWFLAKE_DATABASE", c.Snowflake.Database)
	c.Snowflake.Schema = getEnvOrDefault("SNOWFLAKE_SCHEMA", c.Snowflake.Schema)
	c.Snowflake.Warehouse = getEnvOrDefault("SNOWFLAKE_WAREHOUSE", c.Snowflake.Warehouse)
	c.Snowflake.Role = getEnvOrDefault("SNOWFLAKE_ROLE", c.Snowflake.Role)

	c.Database.Provider = getEnvOrDefault("DB_PROVIDER", c.Database.Provider)
	c.Database.ProjectID = getEnvOrDefault("DB_PROJECT_ID", c.Database.ProjectID)
	c.Database.Instance = getEnvOrDefault("DB_INSTANCE", c.Database.Instance)
	c.Database.Database = getEnvOrDefault("DB_DATABASE", c.Database.Database)
	c.Database.DSN = getEnvOrDefault("DB_DSN", c.Database.DSN)
	if c.Database.ProviderOptions == nil {
		c.Database.ProviderOptions = map[string]string{}
	}
	if v := os.Getenv("DB_SCHEMA"); v != "" {
		c.Database.ProviderOptions["schema"] = v
	}

	n := &c.Notification
	n.Provider = getEnvOrDefault("NOTIFICATION_PROVIDER", n.Provider)
	n.FromEmail = getEnvOrDefault("NOTIFICATION_FROM_EMAIL", n.FromEmail)
	if v := os.Getenv("NOTIFICATION_RECIPIENTS"); v != "" {
		n.Recipients = splitList(v)
	}
	n.Draft = getEnvAsBool("NOTIFICATION_DRAFT", n.Draft)
	n.TenantID = getEnvOrDefault("OUTLOOK_TENANT_ID", n.TenantID)
	n.ClientID = getEnvOrDefault("OUTLOOK_CLIENT_ID", n.ClientID)
	n.ClientSecret = getEnvOrDefault("OUTLOOK_CLIENT_SECRET", n.ClientSecret)
	n.SendGridAPIKey = getEnvOrDefault("SENDGRID_API_KEY", n.SendGridAPIKey)
	n.SlackWebhookURL = getEnvOrDefault("SLACK_WEBHOOK_URL", n.SlackWebhookURL)

	c.Archive.Dir = getEnvOrDefault("ARCHIVE_DIR", c.Archive.Dir)
	c.Archive.GCSBucket = getEnvOrDefault("ARCHIVE_GCS_BUCKET", c.Archive.GCSBucket)
	c.Archive.GCSPrefix = getEnvOrDefault("ARCHIVE_GCS_PREFIX", c.Archive.GCSPrefix)

	c.Logging.Level = getEnvOrDefault("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnvOrDefault("LOG_FORMAT", c.Logging.Format)
}

// Validate checks if the configuration is valid for the selected providers.
func (c *Config) Validate() error {
	m := c.Monitoring
	if m.IntervalMinutes < 1 || m.IntervalMinutes > 1440 {
		return fmt.Errorf("monitoring interval must be between 1 and 1440 minutes, got %d", m.IntervalMinutes)
	}
	if m.PlatformTimeout <= 0 {
		return fmt.Errorf("platform timeout must be positive")
	}
	if m.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative")
	}
	for _, name := range m.Platforms {
		if _, err := platform.ParseKind(name); err != nil {
			return err
		}
	}

	// Airbyte needs a key or a full client credential pair.
	if (c.Airbyte.ClientID == "") != (c.Airbyte.ClientSecret == "") && c.Airbyte.APIKey == "" {
		return fmt.Errorf("AIRBYTE_CLIENT_ID and AIRBYTE_CLIENT_SECRET are both required for Airbyte OAuth2")
	}

	// Validate database configuration
	switch c.Database.Provider {
	case "memory", "none", "":
	case "spanner":
		if c.Database.ProjectID == "" {
			return fmt.Errorf("DB_PROJECT_ID is required for Spanner")
		}
		if c.Database.Instance == "" {
			return fmt.Errorf("DB_INSTANCE is required for Spanner")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("DB_DATABASE is required for Spanner")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("DB_DSN is required for PostgreSQL")
		}
	case "snowflake":
		if !c.Snowflake.Enabled() {
			return fmt.Errorf("SNOWFLAKE_ACCOUNT, SNOWFLAKE_USER and SNOWFLAKE_PASSWORD are required for the Snowflake warehouse")
		}
	default:
		return fmt.Errorf("unsupported database provider: %s", c.Database.Provider)
	}

	// Validate notification configuration
	switch c.Notification.Provider {
	case "none", "":
	case "graph":
		// Without an application the dispatcher only previews.
	case "sendgrid":
		if c.Notification.SendGridAPIKey == "" {
			return fmt.Errorf("SENDGRID_API_KEY is required for SendGrid notifications")
		}
	case "slack":
		if c.Notification.SlackWebhookURL == "" {
			return fmt.Errorf("SLACK_WEBHOOK_URL is required for Slack notifications")
		}
	default:
		return fmt.Errorf("unsupported notification provider: %s", c.Notification.Provider)
	}

	if c.Archive.Dir != "" && c.Archive.GCSBucket != "" {
		return fmt.Errorf("ARCHIVE_DIR and ARCHIVE_GCS_BUCKET are mutually exclusive")
	}

	return nil
}

// GraphCredentials returns the mail application, falling back to the
// Power Automate application when no separate one is configured.
func (c *Config) GraphCredentials() (tenantID, clientID, clientSecret string) {
	n := c.Notification
	if n.TenantID != "" && n.ClientID != "" && n.ClientSecret != "" {
		return n.TenantID, n.ClientID, n.ClientSecret
	}
	pa := c.PowerAutomate
	return pa.TenantID, pa.ClientID, pa.ClientSecret
}

// Filters returns the default collector filters.
func (c *Config) Filters() platform.Filters {
	return platform.Filters{Limit: c.Monitoring.Limit, HoursBack: c.Monitoring.HoursBack}
}

// ProviderConfigs returns a collector configuration for every enabled
// platform, restricted to Monitoring.Platforms when set.
func (c *Config) ProviderConfigs() []platform.ProviderConfig {
	allowed := map[platform.PlatformKind]bool{}
	for _, name := range c.Monitoring.Platforms {
		if k, err := platform.ParseKind(name); err == nil {
			allowed[k] = true
		}
	}

	base := func(kind platform.PlatformKind, baseURL string, opts map[string]string) platform.ProviderConfig {
		return platform.ProviderConfig{
			Kind:              kind,
			BaseURL:           baseURL,
			Timeout:           c.Monitoring.PlatformTimeout,
			MaxRetries:        c.Monitoring.MaxRetries,
			RequestsPerSecond: c.Monitoring.RequestsPerSecond,
			Options:           opts,
		}
	}

	var out []platform.ProviderConfig
	add := func(pc platform.ProviderConfig) {
		if len(allowed) == 0 || allowed[pc.Kind] {
			out = append(out, pc)
		}
	}
	if c.Airbyte.Enabled() {
		add(base(platform.KindAirbyte, c.Airbyte.BaseURL, map[string]string{
			"api_key":       c.Airbyte.APIKey,
			"client_id":     c.Airbyte.ClientID,
			"client_secret": c.Airbyte.ClientSecret,
			"workspace_id":  c.Airbyte.WorkspaceID,
		}))
	}
	if c.Databricks.Enabled() {
		add(base(platform.KindDatabricks, c.Databricks.BaseURL, map[string]string{"token": c.Databricks.Token}))
	}
	if c.PowerAutomate.Enabled() {
		add(base(platform.KindPowerAutomate, c.PowerAutomate.BaseURL, map[string]string{
			"tenant_id":     c.PowerAutomate.TenantID,
			"client_id":     c.PowerAutomate.ClientID,
			"client_secret": c.PowerAutomate.ClientSecret,
		}))
	}
	if c.Snowflake.Enabled() {
		add(base(platform.KindSnowflakeTask, "", c.Snowflake.Options()))
	}
	return out
}

// Redacted returns a copy safe to print: every secret is masked.
func (c *Config) Redacted() Config {
	r := *c
	r.Airbyte.APIKey = mask(r.Airbyte.APIKey)
	r.Airbyte.ClientSecret = mask(r.Airbyte.ClientSecret)
	r.Databricks.Token = mask(r.Databricks.Token)
	r.PowerAutomate.ClientSecret = mask(r.PowerAutomate.ClientSecret)
	r.Snowflake.Password = mask(r.Snowflake.Password)
	r.Database.DSN = mask(r.Database.DSN)
	r.Notification.ClientSecret = mask(r.Notification.ClientSecret)
	r.Notification.SendGridAPIKey = mask(r.Notification.SendGridAPIKey)
	r.Notification.SlackWebhookURL = mask(r.Notification.SlackWebhookURL)
	return r
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "****"
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt returns the environment variable as an integer or a default if not set.
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsBool returns the environment variable as a bool or a default if not set.
func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
