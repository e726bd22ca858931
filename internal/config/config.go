package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure
type Config struct {
	API       APIConfig       `yaml:"api"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Store     StoreConfig     `yaml:"store"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// APIConfig contains HTTP API settings
type APIConfig struct {
	ListenAddr   string        `yaml:"listen_addr"`
	APIKey       string        `yaml:"api_key"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// UpstreamConfig contains marketing-API client settings
type UpstreamConfig struct {
	BaseURL       string        `yaml:"base_url"`
	APIVersion    string        `yaml:"api_version"`
	AccessToken   string        `yaml:"access_token"`
	Timeout       time.Duration `yaml:"timeout"`
	UploadTimeout time.Duration `yaml:"upload_timeout"`
	RetryAttempts int           `yaml:"retry_attempts"`
}

// StoreConfig contains record store settings
type StoreConfig struct {
	Path string `yaml:"path"`
}

// SchedulerConfig contains activation scheduler settings
type SchedulerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	FireTimeout  time.Duration `yaml:"fire_timeout"`

	// Timezone is the fixed civil offset schedule instants are
	// interpreted in, e.g. "+08:00". No daylight-saving adjustment.
	Timezone string `yaml:"timezone"`
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
	Path       string `yaml:"path"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// envOverrides are secrets read from the environment, taking precedence
// over values in the config file
type envOverrides struct {
	AccessToken string `env:"ADPILOT_ACCESS_TOKEN"`
	APIKey      string `env:"ADPILOT_API_KEY"`
}

// Load loads configuration from a YAML file and applies env overrides
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	var ov envOverrides
	if err := env.Parse(&ov); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	if ov.AccessToken != "" {
		cfg.Upstream.AccessToken = ov.AccessToken
	}
	if ov.APIKey != "" {
		cfg.API.APIKey = ov.APIKey
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.API.ListenAddr == "" {
		c.API.ListenAddr = ":8080"
	}
	if c.API.ReadTimeout == 0 {
		c.API.ReadTimeout = 30 * time.Second
	}
	if c.API.WriteTimeout == 0 {
		// Campaign creation holds the request open across five remote
		// calls, including an asset upload.
		c.API.WriteTimeout = 10 * time.Minute
	}
	if c.API.IdleTimeout == 0 {
		c.API.IdleTimeout = 60 * time.Second
	}

	if c.Upstream.BaseURL == "" {
		c.Upstream.BaseURL = "https://graph.facebook.com"
	}
	if c.Upstream.APIVersion == "" {
		c.Upstream.APIVersion = "v22.0"
	}
	if c.Upstream.Timeout == 0 {
		c.Upstream.Timeout = 30 * time.Second
	}
	if c.Upstream.UploadTimeout == 0 {
		c.Upstream.UploadTimeout = 5 * time.Minute
	}
	if c.Upstream.RetryAttempts == 0 {
		c.Upstream.RetryAttempts = 3
	}

	if c.Store.Path == "" {
		c.Store.Path = "/var/lib/adpilot/records.db"
	}

	if c.Scheduler.PollInterval == 0 {
		c.Scheduler.PollInterval = 10 * time.Second
	}
	if c.Scheduler.FireTimeout == 0 {
		c.Scheduler.FireTimeout = 2 * time.Minute
	}
	if c.Scheduler.Timezone == "" {
		c.Scheduler.Timezone = "+08:00"
	}

	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Upstream.AccessToken == "" {
		return fmt.Errorf("upstream.access_token is required (or set ADPILOT_ACCESS_TOKEN)")
	}

	if _, err := ParseFixedOffset(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("invalid scheduler.timezone: %w", err)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging.format: %s (must be json or text)", c.Logging.Format)
	}

	return nil
}

// UpstreamBaseURL is the versioned API root
func (c *Config) UpstreamBaseURL() string {
	return c.Upstream.BaseURL + "/" + c.Upstream.APIVersion
}

// Location returns the scheduler's fixed civil timezone
func (c *Config) Location() *time.Location {
	loc, err := ParseFixedOffset(c.Scheduler.Timezone)
	if err != nil {
		// Validate rejects bad offsets; this is only reachable on a
		// zero-value Config.
		return time.UTC
	}
	return loc
}

var offsetRe = regexp.MustCompile(`^([+-])(\d{2}):(\d{2})$`)

// ParseFixedOffset converts an offset like "+08:00" into a fixed
// time.Location with no daylight-saving rules.
func ParseFixedOffset(s string) (*time.Location, error) {
	m := offsetRe.FindStringSubmatch(s)
	if m == nil {
		return nil, fmt.Errorf("offset %q must look like +08:00", s)
	}
	hours, _ := strconv.Atoi(m[2])
	minutes, _ := strconv.Atoi(m[3])
	if hours > 14 || minutes > 59 {
		return nil, fmt.Errorf("offset %q out of range", s)
	}
	seconds := hours*3600 + minutes*60
	if m[1] == "-" {
		seconds = -seconds
	}
	return time.FixedZone("GMT"+s, seconds), nil
}
