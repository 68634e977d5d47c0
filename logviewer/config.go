package logviewer

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the log viewer configuration. Environment variables are the
// deployment contract; an optional YAML file supplies defaults that the
// environment overrides.
type Config struct {
	Port         string   `yaml:"port"`
	APIKey       string   `yaml:"api_key"`
	DatabasePath string   `yaml:"database_path"`
	LogSources   string   `yaml:"log_sources"`
	Containers   []string `yaml:"containers"`
	MaxEntries   int      `yaml:"max_entries"`
	PollInterval int      `yaml:"poll_interval_seconds"`
	TailBuffer   int      `yaml:"tail_buffer"`
	TailClients  int      `yaml:"tail_clients"`
	LogLevel     string   `yaml:"log_level"`
	RateLimit    int      `yaml:"rate_limit"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		Port:         "8002",
		DatabasePath: "logviewer.db",
		LogSources:   "/var/lib/docker/containers",
		MaxEntries:   100_000,
		PollInterval: 2,
		TailBuffer:   100,
		TailClients:  5,
		LogLevel:     "info",
		RateLimit:    100,
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
	setStr(&c.LogSources, "LOG_SOURCES")
	if v := os.Getenv("CONTAINERS"); v != "" {
		c.Containers = splitCSV(v)
	}
	setInt(&c.MaxEntries, "MAX_ENTRIES")
	setInt(&c.PollInterval, "POLL_INTERVAL")
	setInt(&c.TailBuffer, "TAIL_BUFFER")
	setInt(&c.TailClients, "TAIL_CLIENTS")
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
	if c.MaxEntries <= 0 {
		return fmt.Errorf("MAX_ENTRIES must be > 0")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be > 0")
	}
	return nil
}

// PollEvery returns the poll interval as a duration.
func (c *Config) PollEvery() time.Duration {
	return time.Duration(c.PollInterval) * time.Second
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
