// Package config loads and validates the migrator configuration.
//
// Values come from an optional YAML file and are then overridden by
// environment variables. Validation reports every invalid field at once and
// must pass before any network call is made.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/crm-migrate/pkg/client"
	"github.com/Sternrassler/crm-migrate/pkg/crm"
	"github.com/Sternrassler/crm-migrate/pkg/logging"
	"github.com/Sternrassler/crm-migrate/pkg/migration"
	"gopkg.in/yaml.v3"
)

// Environment variable names.
const (
	EnvSourceBaseURL    = "SOURCE_BASE_URL"
	EnvSourceAPIKey     = "SOURCE_API_KEY"
	EnvSourceAuthScheme = "SOURCE_AUTH_SCHEME"
	EnvDestBaseURL      = "DEST_BASE_URL"
	EnvDestAPIKey       = "DEST_API_KEY"
	EnvDestAuthScheme   = "DEST_AUTH_SCHEME"
	EnvBatchSize        = "BATCH_SIZE"
	EnvRateLimit        = "RATE_LIMIT"
	EnvBatchDelay       = "BATCH_DELAY"
	EnvRequestTimeout   = "REQUEST_TIMEOUT"
	EnvRetryAttempts    = "RETRY_ATTEMPTS"
	EnvEntities         = "ENTITIES"
	EnvRedisURL         = "REDIS_URL"
	EnvPushgatewayURL   = "PUSHGATEWAY_URL"
	EnvMetricsAddr      = "METRICS_ADDR"
	EnvLogLevel         = "LOG_LEVEL"
	EnvLogPretty        = "LOG_PRETTY"
)

// Defaults.
const (
	DefaultBatchSize      = 50
	DefaultRateLimit      = 5
	DefaultBatchDelay     = time.Second
	DefaultRequestTimeout = 10 * time.Second
	DefaultRetryAttempts  = 1
	DefaultSourceAuth     = "Zoho-oauthtoken"
	DefaultDestAuth       = "Bearer"
)

// API holds the connection settings of one CRM.
type API struct {
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	AuthScheme string `yaml:"auth_scheme"`
}

// Config is the full migrator configuration.
type Config struct {
	Source      API `yaml:"source"`
	Destination API `yaml:"destination"`

	BatchSize      int           `yaml:"batch_size"`
	RateLimit      int           `yaml:"rate_limit"`
	BatchDelay     time.Duration `yaml:"batch_delay"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	RetryAttempts  int           `yaml:"retry_attempts"`

	Entities []string `yaml:"entities"`

	RedisURL       string `yaml:"redis_url"`
	PushgatewayURL string `yaml:"pushgateway_url"`
	MetricsAddr    string `yaml:"metrics_addr"`

	LogLevel  string `yaml:"log_level"`
	LogPretty bool   `yaml:"log_pretty"`

	// parseErrors collects malformed environment values for Validate.
	parseErrors []FieldError
}

// FieldError describes one invalid configuration field.
type FieldError struct {
	Field   string
	Message string
}

// ConfigError lists every invalid field found by Validate.
type ConfigError struct {
	Fields []FieldError
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = fmt.Sprintf("%s: %s", f.Field, f.Message)
	}
	return "invalid configuration: " + strings.Join(parts, "; ")
}

// Default returns a configuration with every optional value set to its default.
func Default() Config {
	return Config{
		Source:         API{AuthScheme: DefaultSourceAuth},
		Destination:    API{AuthScheme: DefaultDestAuth},
		BatchSize:      DefaultBatchSize,
		RateLimit:      DefaultRateLimit,
		BatchDelay:     DefaultBatchDelay,
		RequestTimeout: DefaultRequestTimeout,
		RetryAttempts:  DefaultRetryAttempts,
		Entities:       append([]string(nil), crm.KnownEntities...),
		LogLevel:       string(logging.LevelInfo),
	}
}

// Override adjusts the configuration after file and environment values are
// applied and before validation.
type Override func(*Config)

// WithEntities replaces the entity list when list is non-empty.
func WithEntities(list string) Override {
	return func(c *Config) {
		if entities := SplitList(list); len(entities) > 0 {
			c.Entities = entities
		}
	}
}

// Load reads the YAML file at path (skipped when path is empty), applies
// environment overrides, then overrides, and validates the result.
func Load(path string, overrides ...Override) (Config, error) {
	return load(path, os.LookupEnv, overrides...)
}

func load(path string, lookup func(string) (string, bool), overrides ...Override) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv(lookup)
	for _, override := range overrides {
		override(&cfg)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		v, ok := lookup(key)
		if !ok || v == "" {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			c.parseErrors = append(c.parseErrors, FieldError{key, fmt.Sprintf("must be an integer (got %q)", v)})
			return
		}
		*dst = n
	}
	duration := func(key string, dst *time.Duration) {
		v, ok := lookup(key)
		if !ok || v == "" {
			return
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			c.parseErrors = append(c.parseErrors, FieldError{key, fmt.Sprintf("must be a duration like 1s (got %q)", v)})
			return
		}
		*dst = d
	}

	str(EnvSourceBaseURL, &c.Source.BaseURL)
	str(EnvSourceAPIKey, &c.Source.APIKey)
	str(EnvSourceAuthScheme, &c.Source.AuthScheme)
	str(EnvDestBaseURL, &c.Destination.BaseURL)
	str(EnvDestAPIKey, &c.Destination.APIKey)
	str(EnvDestAuthScheme, &c.Destination.AuthScheme)
	integer(EnvBatchSize, &c.BatchSize)
	integer(EnvRateLimit, &c.RateLimit)
	duration(EnvBatchDelay, &c.BatchDelay)
	duration(EnvRequestTimeout, &c.RequestTimeout)
	integer(EnvRetryAttempts, &c.RetryAttempts)
	str(EnvRedisURL, &c.RedisURL)
	str(EnvPushgatewayURL, &c.PushgatewayURL)
	str(EnvMetricsAddr, &c.MetricsAddr)
	str(EnvLogLevel, &c.LogLevel)

	if v, ok := lookup(EnvEntities); ok && v != "" {
		c.Entities = SplitList(v)
	}
	if v, ok := lookup(EnvLogPretty); ok && v != "" {
		pretty, err := strconv.ParseBool(v)
		if err != nil {
			c.parseErrors = append(c.parseErrors, FieldError{EnvLogPretty, fmt.Sprintf("must be a boolean (got %q)", v)})
		} else {
			c.LogPretty = pretty
		}
	}
}

// Validate checks every field and returns a *ConfigError naming all failures.
func (c *Config) Validate() error {
	fields := append([]FieldError(nil), c.parseErrors...)
	add := func(field, msg string) {
		fields = append(fields, FieldError{Field: field, Message: msg})
	}

	checkURL := func(field, raw string) {
		if raw == "" {
			add(field, "is required")
			return
		}
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			add(field, fmt.Sprintf("must be an absolute http(s) URL (got %q)", raw))
		}
	}

	checkURL(EnvSourceBaseURL, c.Source.BaseURL)
	if c.Source.APIKey == "" {
		add(EnvSourceAPIKey, "is required")
	}
	checkURL(EnvDestBaseURL, c.Destination.BaseURL)
	if c.Destination.APIKey == "" {
		add(EnvDestAPIKey, "is required")
	}

	if c.BatchSize < 1 {
		add(EnvBatchSize, fmt.Sprintf("must be a positive integer (got %d)", c.BatchSize))
	}
	if c.RateLimit < 1 {
		add(EnvRateLimit, fmt.Sprintf("must be a positive integer (got %d)", c.RateLimit))
	}
	if c.BatchDelay <= 0 {
		add(EnvBatchDelay, fmt.Sprintf("must be positive (got %s)", c.BatchDelay))
	}
	if c.RequestTimeout <= 0 {
		add(EnvRequestTimeout, fmt.Sprintf("must be positive (got %s)", c.RequestTimeout))
	}
	if c.RetryAttempts < 1 {
		add(EnvRetryAttempts, fmt.Sprintf("must be at least 1 (got %d)", c.RetryAttempts))
	}

	if len(c.Entities) == 0 {
		add(EnvEntities, "at least one entity is required")
	}
	for _, e := range c.Entities {
		if !crm.IsKnownEntity(e) {
			add(EnvEntities, fmt.Sprintf("unknown entity %q (known: %s)", e, strings.Join(crm.KnownEntities, ", ")))
		}
	}

	if c.PushgatewayURL != "" {
		checkURL(EnvPushgatewayURL, c.PushgatewayURL)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		add(EnvLogLevel, err.Error())
	}

	if len(fields) > 0 {
		return &ConfigError{Fields: fields}
	}
	return nil
}

// IsConfigError reports whether err is a configuration validation error.
func IsConfigError(err error) bool {
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr)
}

// Migration converts the configuration into the runner's config.
func (c *Config) Migration() migration.Config {
	src := client.DefaultConfig("source", c.Source.BaseURL, c.Source.APIKey)
	src.AuthScheme = c.Source.AuthScheme
	src.Timeout = c.RequestTimeout
	src.RateLimit = c.RateLimit

	dst := client.DefaultConfig("destination", c.Destination.BaseURL, c.Destination.APIKey)
	dst.AuthScheme = c.Destination.AuthScheme
	dst.Timeout = c.RequestTimeout
	dst.RateLimit = c.RateLimit

	retry := client.DefaultRetryConfig()
	retry.MaxAttempts = c.RetryAttempts

	return migration.Config{
		Source:      src,
		Destination: dst,
		Retry:       retry,
		BatchSize:   c.BatchSize,
		BatchDelay:  c.BatchDelay,
	}
}

// SplitList splits a comma separated list, trimming blanks and lowercasing.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
