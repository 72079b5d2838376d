package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "payments.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_FileThenEnv(t *testing.T) {
	// GIVEN: a config file and one env override
	path := writeConfig(t, `
http_port = "9000"
partner_base_url = "https://partner.example"
partner_api_key = "file-key"
partner_timeout = "3s"
max_batch_size = 50
`)
	t.Setenv("PARTNER_API_KEY", "env-key")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")

	// WHEN: loading
	cfg, err := Load(path)

	// THEN: env beats file, file beats defaults
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "9000", cfg.HTTPPort)
	assert.Equal(t, "env-key", cfg.PartnerAPIKey)
	assert.Equal(t, 3*time.Second, cfg.PartnerTimeout.Duration)
	assert.Equal(t, 50, cfg.MaxBatchSize)
	assert.Equal(t, DriverSQLite, cfg.StoreDriver)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.False(t, cfg.RateLimitEnabled())
}

func TestLoad_EnvOnly(t *testing.T) {
	t.Setenv("PARTNER_BASE_URL", "https://partner.example")
	t.Setenv("PARTNER_API_KEY", "k")
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("POSTGRES_DSN", "postgres://localhost/payments")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("RATE_LIMIT_REFILL_PER_SEC", "2.5")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DriverPostgres, cfg.StoreDriver)
	assert.Equal(t, 2.5, cfg.RateLimitRefill)
	assert.True(t, cfg.RateLimitEnabled())
}

func TestLoad_BadEnvValueKeepsDefault(t *testing.T) {
	t.Setenv("PARTNER_BASE_URL", "https://partner.example")
	t.Setenv("PARTNER_API_KEY", "k")
	t.Setenv("MAX_BATCH_SIZE", "lots")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 500, cfg.MaxBatchSize)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := Default()
	valid.PartnerBaseURL = "https://partner.example"
	valid.PartnerAPIKey = "k"
	require.NoError(t, valid.Validate())

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{"unknown driver", func(c *Config) { c.StoreDriver = "mysql" }, `unknown store_driver "mysql"`},
		{"postgres without dsn", func(c *Config) { c.StoreDriver = DriverPostgres }, "postgres_dsn is required"},
		{"no partner url", func(c *Config) { c.PartnerBaseURL = "" }, "partner_base_url is required"},
		{"no partner key", func(c *Config) { c.PartnerAPIKey = "" }, "partner_api_key is required"},
		{"zero timeout", func(c *Config) { c.PartnerTimeout.Duration = 0 }, "partner_timeout must be positive"},
		{"zero batch size", func(c *Config) { c.MaxBatchSize = 0 }, "max_batch_size must be positive"},
		{"redis without refill", func(c *Config) { c.RedisAddr = "localhost:6379"; c.RateLimitRefill = 0 }, "rate limit capacity and refill"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestDefault_ExplicitCORSOrigins(t *testing.T) {
	assert.NotContains(t, Default().CORSOrigins, "*")
	assert.Contains(t, Default().CORSOrigins, "http://localhost:5173")
}

func TestValidateStore_IgnoresPartnerSettings(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.ValidateStore())
	assert.Error(t, cfg.Validate())

	cfg.StoreDriver = "mysql"
	assert.Error(t, cfg.ValidateStore())
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "partner_base_url")
	assert.Contains(t, err.Error(), "partner_api_key")
}
