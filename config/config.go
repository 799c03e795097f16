// Package config loads the migration's runtime settings from an optional
// YAML file with environment variable overrides on top. The loaded value is
// handed explicitly to the components that need it; nothing reads
// process-wide state after startup.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration for one migration pass.
type Config struct {
	Database  Database  `yaml:"database"`
	Elastic   Elastic   `yaml:"elastic"`
	Migration Migration `yaml:"migration"`
	Tracing   Tracing   `yaml:"tracing"`
}

// Database names the relational store holding the log table.
type Database struct {
	// Driver is a registered database/sql driver name; "sqlite" is linked in.
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// Elastic points at the search-index cluster.
type Elastic struct {
	URL         string `yaml:"url"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	IndexPrefix string `yaml:"indexPrefix"`
	Gzip        bool   `yaml:"gzip"`
}

// Migration tunes the reconciliation pass itself.
type Migration struct {
	// MaxBatchSize caps each branch query; non-positive values fall back to
	// the engine default.
	MaxBatchSize int `yaml:"maxBatchSize"`

	// StartDate, when set, is an ISO-8601 local date-time
	// (2006-01-02T15:04:05) selecting the resume point by timestamp instead
	// of probing the index.
	StartDate string `yaml:"startDate"`
}

// Tracing selects the span exporter.
type Tracing struct {
	// Exporter is "none" (default), "stdout", or "otlp".
	Exporter string `yaml:"exporter"`
	Endpoint string `yaml:"endpoint"`
}

// Load reads the YAML file at path (skipped when path is empty), then
// applies environment overrides and defaults.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.Database.Driver, "RP_DB_DRIVER")
	setString(&c.Database.DSN, "RP_DB_DSN")
	setString(&c.Elastic.URL, "RP_ELASTIC_URL")
	setString(&c.Elastic.Username, "RP_ELASTIC_USERNAME")
	setString(&c.Elastic.Password, "RP_ELASTIC_PASSWORD")
	setString(&c.Elastic.IndexPrefix, "RP_ELASTIC_INDEX_PREFIX")
	setBool(&c.Elastic.Gzip, "RP_ELASTIC_GZIP")
	setInt(&c.Migration.MaxBatchSize, "RP_MIGRATION_MAX_BATCH")
	setString(&c.Migration.StartDate, "RP_MIGRATION_START_DATE")
	setString(&c.Tracing.Exporter, "RP_TRACING_EXPORTER")
	setString(&c.Tracing.Endpoint, "RP_TRACING_ENDPOINT")
}

func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Elastic.URL == "" {
		c.Elastic.URL = "http://localhost:9200"
	}
	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = "none"
	}
}

// Start-date layouts, most specific first. The value is an ISO local
// date-time without a zone; it is interpreted as UTC.
var startDateLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// StartTime parses the configured start date, or returns nil when unset.
func (m Migration) StartTime() (*time.Time, error) {
	raw := strings.TrimSpace(m.StartDate)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range startDateLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("config: start date %q is not an ISO-8601 local date-time", raw)
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}

func setInt(dst *int, key string) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return
	}
	*dst = n
}

func setBool(dst *bool, key string) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes":
		*dst = true
	case "0", "false", "no":
		*dst = false
	}
}
