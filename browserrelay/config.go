package browserrelay

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the browser relay configuration. Environment variables are
// the deployment contract; an optional YAML file supplies defaults that
// the environment overrides.
type Config struct {
	Port                string   `yaml:"port"`
	AdminAPIKey         string   `yaml:"admin_api_key"`
	ErrorTrackerURL     string   `yaml:"error_tracker_url"`
	ErrorTrackerAPIKey  string   `yaml:"error_tracker_api_key"`
	MetricsCollectorURL string   `yaml:"metrics_collector_url"`
	MetricsAPIKey       string   `yaml:"metrics_collector_api_key"`
	CORSOrigins         []string `yaml:"cors_origins"`
	DatabasePath        string   `yaml:"database_path"`
	MaxBodyBytes        int64    `yaml:"max_body_size"`
	RateLimit           int      `yaml:"rate_limit"`
	RetentionDays       int      `yaml:"retention_days"`
	LogLevel            string   `yaml:"log_level"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		Port:          "8004",
		DatabasePath:  "browserrelay.db",
		MaxBodyBytes:  256 * 1024,
		RateLimit:     300,
		RetentionDays: 90,
		LogLevel:      "info",
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
	setStr(&c.AdminAPIKey, "ADMIN_API_KEY")
	setStr(&c.ErrorTrackerURL, "ERROR_TRACKER_URL")
	setStr(&c.ErrorTrackerAPIKey, "ERROR_TRACKER_API_KEY")
	setStr(&c.MetricsCollectorURL, "METRICS_COLLECTOR_URL")
	setStr(&c.MetricsAPIKey, "METRICS_COLLECTOR_API_KEY")
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		c.CORSOrigins = splitCSV(v)
	}
	setStr(&c.DatabasePath, "DATABASE_PATH")
	setInt64(&c.MaxBodyBytes, "MAX_BODY_SIZE")
	setInt(&c.RateLimit, "RATE_LIMIT")
	setInt(&c.RetentionDays, "RETENTION_DAYS")
	setStr(&c.LogLevel, "LOG_LEVEL")
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if c.AdminAPIKey == "" {
		return fmt.Errorf("ADMIN_API_KEY is required")
	}
	if c.ErrorTrackerURL == "" || c.MetricsCollectorURL == "" {
		return fmt.Errorf("ERROR_TRACKER_URL and METRICS_COLLECTOR_URL are required")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("DATABASE_PATH is required")
	}
	if c.RetentionDays <= 0 {
		return fmt.Errorf("RETENTION_DAYS must be > 0")
	}
	return nil
}

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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
