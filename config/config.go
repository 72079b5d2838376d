// Package config loads runtime settings: defaults, then an optional TOML
// file, then environment variables. Later sources win.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds runtime configuration for the payment engine server.
type Config struct {
	HTTPPort string `toml:"http_port"`
	LogLevel string `toml:"log_level"`

	StoreDriver string `toml:"store_driver"`
	SQLitePath  string `toml:"sqlite_path"`
	PostgresDSN string `toml:"postgres_dsn"`

	PartnerBaseURL string   `toml:"partner_base_url"`
	PartnerAPIKey  string   `toml:"partner_api_key"`
	PartnerTimeout Duration `toml:"partner_timeout"`

	MaxBatchSize int `toml:"max_batch_size"`

	// Rate limiting is off when RedisAddr is empty.
	RedisAddr         string  `toml:"redis_addr"`
	RedisPassword     string  `toml:"redis_password"`
	RedisDB           int     `toml:"redis_db"`
	RateLimitCapacity int     `toml:"rate_limit_capacity"`
	RateLimitRefill   float64 `toml:"rate_limit_refill_per_sec"`

	CORSOrigins []string `toml:"cors_origins"`
}

// Duration lets TOML files say partner_timeout = "10s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns settings for local development.
func Default() Config {
	return Config{
		HTTPPort:          "8080",
		LogLevel:          "info",
		StoreDriver:       DriverSQLite,
		SQLitePath:        "./payments.db",
		PartnerTimeout:    Duration{10 * time.Second},
		MaxBatchSize:      500,
		RateLimitCapacity: 10,
		RateLimitRefill:   0.5,
		CORSOrigins:       []string{"http://localhost:5173", "http://localhost:8080"},
	}
}

// Load builds a Config from defaults, the TOML file at path (skipped when
// path is empty), and the environment. It does not validate; callers pick
// Validate or ValidateStore depending on what they run.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.HTTPPort = getEnv("HTTP_PORT", c.HTTPPort)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.StoreDriver = getEnv("STORE_DRIVER", c.StoreDriver)
	c.SQLitePath = getEnv("SQLITE_PATH", c.SQLitePath)
	c.PostgresDSN = getEnv("POSTGRES_DSN", c.PostgresDSN)
	c.PartnerBaseURL = getEnv("PARTNER_BASE_URL", c.PartnerBaseURL)
	c.PartnerAPIKey = getEnv("PARTNER_API_KEY", c.PartnerAPIKey)
	c.PartnerTimeout.Duration = getEnvDuration("PARTNER_TIMEOUT", c.PartnerTimeout.Duration)
	c.MaxBatchSize = getEnvInt("MAX_BATCH_SIZE", c.MaxBatchSize)
	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = getEnv("REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = getEnvInt("REDIS_DB", c.RedisDB)
	c.RateLimitCapacity = getEnvInt("RATE_LIMIT_CAPACITY", c.RateLimitCapacity)
	c.RateLimitRefill = getEnvFloat("RATE_LIMIT_REFILL_PER_SEC", c.RateLimitRefill)
	c.CORSOrigins = getEnvList("CORS_ORIGINS", c.CORSOrigins)
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	errs := c.storeErrors()
	if c.PartnerBaseURL == "" {
		errs = append(errs, errors.New("partner_base_url is required"))
	}
	if c.PartnerAPIKey == "" {
		errs = append(errs, errors.New("partner_api_key is required"))
	}
	if c.PartnerTimeout.Duration <= 0 {
		errs = append(errs, errors.New("partner_timeout must be positive"))
	}
	if c.MaxBatchSize <= 0 {
		errs = append(errs, errors.New("max_batch_size must be positive"))
	}
	if c.RedisAddr != "" && (c.RateLimitCapacity <= 0 || c.RateLimitRefill <= 0) {
		errs = append(errs, errors.New("rate limit capacity and refill must be positive when redis_addr is set"))
	}
	return errors.Join(errs...)
}

// ValidateStore checks only the store settings, for commands that never
// talk to the partner.
func (c Config) ValidateStore() error {
	return errors.Join(c.storeErrors()...)
}

func (c Config) storeErrors() []error {
	var errs []error
	switch c.StoreDriver {
	case DriverSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("sqlite_path is required for the sqlite driver"))
		}
	case DriverPostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("postgres_dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store_driver %q", c.StoreDriver))
	}
	return errs
}

// RateLimitEnabled reports whether batch submissions are throttled.
func (c Config) RateLimitEnabled() bool {
	return c.RedisAddr != ""
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getEnvList(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}
