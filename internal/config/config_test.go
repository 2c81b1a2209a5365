package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alphauslabs/pipewatch/internal/platform"
)

func TestLoadFromEnv_Defaults(t *testing.T) {
	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, 15, cfg.Monitoring.IntervalMinutes)
	assert.Equal(t, 30*time.Second, cfg.Monitoring.PlatformTimeout)
	assert.Equal(t, 3, cfg.Monitoring.MaxRetries)
	assert.Equal(t, "DEV_POWERAPPS", cfg.Snowflake.Database)
	assert.Equal(t, "AUDIT_JOB_HUB", cfg.Snowflake.Schema)
	assert.Equal(t, "memory", cfg.Database.Provider)
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("MONITORING_INTERVAL_MINUTES", "60")
	t.Setenv("HEALTH_CHECK_TIMEOUT_SECONDS", "10")
	t.Setenv("DATABRICKS_BASE_URL", "https://adb-1.azuredatabricks.net")
	t.Setenv("DATABRICKS_API_KEY", "dapi")
	t.Setenv("NOTIFICATION_RECIPIENTS", "a@x.io, b@x.io")
	t.Setenv("NOTIFICATION_DRAFT", "true")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 60, cfg.Monitoring.IntervalMinutes)
	assert.Equal(t, 10*time.Second, cfg.Monitoring.PlatformTimeout)
	assert.True(t, cfg.Databricks.Enabled())
	assert.Equal(t, []string{"a@x.io", "b@x.io"}, cfg.Notification.Recipients)
	assert.True(t, cfg.Notification.Draft)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipewatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server_port: "9090"
monitoring:
  interval_minutes: 30
  platforms: [airbyte]
airbyte:
  api_key: from-file
database:
  provider: memory
`), 0o600))
	t.Setenv("AIRBYTE_API_KEY", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.ServerPort)
	assert.Equal(t, 30, cfg.Monitoring.IntervalMinutes)
	assert.Equal(t, "from-env", cfg.Airbyte.APIKey)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")
}

// ---------------------------------------------------------------------------
// Validate
// ---------------------------------------------------------------------------

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"interval too small", func(c *Config) { c.Monitoring.IntervalMinutes = 0 }, "between 1 and 1440"},
		{"interval too large", func(c *Config) { c.Monitoring.IntervalMinutes = 1441 }, "between 1 and 1440"},
		{"unknown platform", func(c *Config) { c.Monitoring.Platforms = []string{"jenkins"} }, "unsupported platform"},
		{"half airbyte oauth", func(c *Config) { c.Airbyte.ClientID = "id" }, "AIRBYTE_CLIENT_SECRET"},
		{"spanner project", func(c *Config) { c.Database.Provider = "spanner" }, "DB_PROJECT_ID is required for Spanner"},
		{"spanner instance", func(c *Config) {
			c.Database.Provider = "spanner"
			c.Database.ProjectID = "p"
		}, "DB_INSTANCE is required for Spanner"},
		{"postgres dsn", func(c *Config) { c.Database.Provider = "postgres" }, "DB_DSN is required"},
		{"snowflake creds", func(c *Config) { c.Database.Provider = "snowflake" }, "SNOWFLAKE_ACCOUNT"},
		{"bad provider", func(c *Config) { c.Database.Provider = "mongo" }, "unsupported database provider"},
		{"sendgrid key", func(c *Config) { c.Notification.Provider = "sendgrid" }, "SENDGRID_API_KEY"},
		{"slack webhook", func(c *Config) { c.Notification.Provider = "slack" }, "SLACK_WEBHOOK_URL"},
		{"archive both", func(c *Config) {
			c.Archive.Dir = "/tmp"
			c.Archive.GCSBucket = "b"
		}, "mutually exclusive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

// ---------------------------------------------------------------------------
// Derived views
// ---------------------------------------------------------------------------

func TestProviderConfigs(t *testing.T) {
	cfg := Default()
	cfg.Airbyte.ClientID = "id"
	cfg.Airbyte.ClientSecret = "secret"
	cfg.Databricks = DatabricksConfig{BaseURL: "https://adb", Token: "dapi"}
	cfg.Snowflake.Account = "acct"
	cfg.Snowflake.User = "u"
	cfg.Snowflake.Password = "p"

	pcs := cfg.ProviderConfigs()
	require.Len(t, pcs, 3)
	assert.Equal(t, platform.KindAirbyte, pcs[0].Kind)
	assert.Equal(t, "secret", pcs[0].Option("client_secret", ""))
	assert.Equal(t, 30*time.Second, pcs[0].Timeout)
	assert.Equal(t, "dapi", pcs[1].Option("token", ""))
	assert.Equal(t, "AUDIT_JOB_HUB", pcs[2].Option("schema", ""))

	cfg.Monitoring.Platforms = []string{"databricks"}
	pcs = cfg.ProviderConfigs()
	require.Len(t, pcs, 1)
	assert.Equal(t, platform.KindDatabricks, pcs[0].Kind)
}

func TestGraphCredentials_FallBack(t *testing.T) {
	cfg := Default()
	cfg.PowerAutomate = PowerAutomateConfig{TenantID: "t", ClientID: "pa", ClientSecret: "s"}

	_, id, _ := cfg.GraphCredentials()
	assert.Equal(t, "pa", id)

	cfg.Notification.TenantID = "t2"
	cfg.Notification.ClientID = "mail"
	cfg.Notification.ClientSecret = "s2"
	_, id, _ = cfg.GraphCredentials()
	assert.Equal(t, "mail", id)
}

func TestRedacted(t *testing.T) {
	cfg := Default()
	cfg.Airbyte.APIKey = "key"
	cfg.Snowflake.Password = "pw"
	cfg.Notification.SlackWebhookURL = "https://hooks.slack.com/services/x"

	r := cfg.Redacted()
	assert.Equal(t, "****", r.Airbyte.APIKey)
	assert.Equal(t, "****", r.Snowflake.Password)
	assert.Equal(t, "****", r.Notification.SlackWebhookURL)
	assert.Equal(t, "", r.Databricks.Token)
	assert.Equal(t, "key", cfg.Airbyte.APIKey, "original untouched")
}
