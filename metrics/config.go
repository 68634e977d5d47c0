package metrics

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the metrics collector configuration. Retention values are
// seconds. Environment variables are the deployment contract; an optional
// YAML file supplies defaults that the environment overrides.
type Config struct {
	Port                string `yaml:"port"`
	APIKey              string `yaml:"api_key"`
	DatabasePath        string `yaml:"database_path"`
	RetentionRaw        int    `yaml:"retention_raw"`
	RetentionMinute     int    `yaml:"retention_minute"`
	RetentionHourly     int    `yaml:"retention_hourly"`
	AggregationInterval int    `yaml:"aggregation_interval"`
	LogLevel            string `yaml:"log_level"`
	RateLimit           int    `yaml:"rate_limit"`
	MaxBodyBytes        int64  `yaml:"max_body_bytes"`
}

// Default returns the baseline configuration: raw points for a day,
// minute aggregates for a week, hourly aggregates for ninety days.
func Default() *Config {
	return &Config{
		Port:                "8003",
		DatabasePath:        "metrics.db",
		RetentionRaw:        86_400,
		RetentionMinute:     604_800,
		RetentionHourly:     7_776_000,
		AggregationInterval: 60,
		LogLevel:            "info",
		RateLimit:           100,
		MaxBodyBytes:        1 << 20,
	}
}

// Load reads the optional YAML file at path (empty path skips it), then
// applies environment overrides and validates.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.fromEnv()
	return cfg, cfg.Validate()
}

func (c *Config) fromEnv() {
	setStr(&c.Port, "PORT")
	setStr(&c.APIKey, "API_KEY")
	setStr(&c.DatabasePath, "DATABASE_PATH")
	setInt(&c.RetentionRaw, "RETENTION_RAW")
	setInt(&c.RetentionMinute, "RETENTION_MINUTE")
	setInt(&c.RetentionHourly, "RETENTION_HOURLY")
	setInt(&c.AggregationInterval, "AGGREGATION_INTERVAL")
	setStr(&c.LogLevel, "LOG_LEVEL")
	setInt(&c.RateLimit, "RATE_LIMIT")
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("API_KEY is required")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("DATABASE_PATH is required")
	}
	if c.AggregationInterval <= 0 {
		return fmt.Errorf("AGGREGATION_INTERVAL must be > 0")
	}
	if c.RetentionRaw <= 0 || c.RetentionMinute <= 0 || c.RetentionHourly <= 0 {
		return fmt.Errorf("retention values must be > 0")
	}
	return nil
}

// AggregateEvery returns the minute roller interval as a duration.
func (c *Config) AggregateEvery() time.Duration {
	return time.Duration(c.AggregationInterval) * time.Second
}

// RawTTL returns the raw point retention as a duration.
func (c *Config) RawTTL() time.Duration { return time.Duration(c.RetentionRaw) * time.Second }

// MinuteTTL returns the minute aggregate retention as a duration.
func (c *Config) MinuteTTL() time.Duration { return time.Duration(c.RetentionMinute) * time.Second }

// HourTTL returns the hourly aggregate retention as a duration.
func (c *Config) HourTTL() time.Duration { return time.Duration(c.RetentionHourly) * time.Second }

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
