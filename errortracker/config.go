package errortracker

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the error tracker configuration. Environment variables are
// the deployment contract; an optional YAML file supplies defaults that the
// environment overrides.
type Config struct {
	Port             string   `yaml:"port"`
	APIKey           string   `yaml:"api_key"`
	DatabasePath     string   `yaml:"database_path"`
	PostmarkAPIToken string   `yaml:"postmark_api_token"`
	PostmarkFrom     string   `yaml:"postmark_from_email"`
	AlertEmails      []string `yaml:"alert_emails"`
	RetentionDays    int      `yaml:"retention_days"`
	BaseURL          string   `yaml:"base_url"`
	LogLevel         string   `yaml:"log_level"`
	RateLimit        int      `yaml:"rate_limit"`
	MaxBodyBytes     int64    `yaml:"max_body_bytes"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		Port:          "8001",
		DatabasePath:  "errortracker.db",
		RetentionDays: 30,
		BaseURL:       "http://localhost:8001",
		LogLevel:      "info",
		RateLimit:     100,
		MaxBodyBytes:  64 * 1024,
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
	setStr(&c.PostmarkAPIToken, "POSTMARK_API_TOKEN")
	setStr(&c.PostmarkFrom, "POSTMARK_FROM_EMAIL")
	if v := os.Getenv("ALERT_EMAILS"); v != "" {
		c.AlertEmails = splitCSV(v)
	}
	setInt(&c.RetentionDays, "RETENTION_DAYS")
	setStr(&c.BaseURL, "BASE_URL")
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
	if c.RetentionDays <= 0 {
		return fmt.Errorf("RETENTION_DAYS must be > 0")
	}
	return nil
}

// AlertingEnabled reports whether the Postmark dispatch path is configured.
func (c *Config) AlertingEnabled() bool {
	return c.PostmarkAPIToken != "" && c.PostmarkFrom != "" && len(c.AlertEmails) > 0
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

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
