package config

import (
	"fmt"
	"time"
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Influx   InfluxConfig   `mapstructure:"influx"`
	Grafana  GrafanaConfig  `mapstructure:"grafana"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Resolver ResolverConfig `mapstructure:"resolver"`
	Filters  FiltersConfig  `mapstructure:"filters"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	HTTPPort     int           `mapstructure:"http_port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	CORSOrigins  string        `mapstructure:"cors_origins"` // comma separated, "*" allows all
}

// InfluxConfig holds the time-series backend connection. URL, Token and Org
// come from INFLUXDB_URL, INFLUXDB_TOKEN and INFLUXDB_ORG.
type InfluxConfig struct {
	URL          string        `mapstructure:"url"`
	Token        string        `mapstructure:"token"`
	Org          string        `mapstructure:"org"`
	Bucket       string        `mapstructure:"bucket"`        // plant data bucket (default: PV)
	GeoMapBucket string        `mapstructure:"geomap_bucket"` // station coordinates bucket (default: GeoMap)
	Timeout      time.Duration `mapstructure:"timeout"`       // per backend call
	Breaker      BreakerConfig `mapstructure:"breaker"`
}

// BreakerConfig configures the circuit breaker in front of the backend.
type BreakerConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	MaxRequests      uint32        `mapstructure:"max_requests"` // allowed through while half-open
	Interval         time.Duration `mapstructure:"interval"`     // closed-state counter reset
	OpenTimeout      time.Duration `mapstructure:"open_timeout"` // open -> half-open
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
}

// GrafanaConfig holds the alerting backend connection (GRAFANA_URL, GRAFANA_API_TOKEN).
type GrafanaConfig struct {
	URL        string        `mapstructure:"url"`
	APIToken   string        `mapstructure:"api_token"`
	AlertsPath string        `mapstructure:"alerts_path"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries uint          `mapstructure:"max_retries"`
}

// CacheConfig selects where per-bucket catalogues live.
type CacheConfig struct {
	Backend      string        `mapstructure:"backend"` // memory, redis
	RedisURL     string        `mapstructure:"redis_url"`
	RedisDB      int           `mapstructure:"redis_db"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
	CatalogueTTL time.Duration `mapstructure:"catalogue_ttl"`
	LookupTTL    time.Duration `mapstructure:"lookup_ttl"` // buckets and discovered plants
}

// ResolverConfig carries the per call-site limits of the value lookups.
type ResolverConfig struct {
	DefaultWindow    string `mapstructure:"default_window"`  // window for lookups without upstream filters
	UpstreamWindow   string `mapstructure:"upstream_window"` // window when upstream filters constrain the lookup
	SampleSize       int    `mapstructure:"sample_size"`
	UpstreamLimit    int    `mapstructure:"upstream_limit"`
	FieldLimit       int    `mapstructure:"field_limit"`
	UniversalLimit   int    `mapstructure:"universal_limit"`
	LadderEnoughHint int    `mapstructure:"ladder_enough"` // stop widening once this many values are known
}

// FiltersConfig configures server-side filter sessions.
type FiltersConfig struct {
	Debounce   time.Duration `mapstructure:"debounce"`
	Stagger    time.Duration `mapstructure:"stagger"`
	SessionTTL time.Duration `mapstructure:"session_ttl"`
}

// MetricsConfig configures the plant metric layer.
type MetricsConfig struct {
	Timezone     string `mapstructure:"timezone"` // plant local time, IANA name or +hh:mm
	Workers      int    `mapstructure:"workers"`
	DefaultHours int    `mapstructure:"default_hours"`
}

// AuthConfig represents authentication configuration
type AuthConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	APIKeys []string `mapstructure:"api_keys"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, file path
	TimeFormat string `mapstructure:"time_format"` // RFC3339, RFC3339Nano, Kitchen
}

// Validate validates the configuration. Missing backend credentials are not
// an error here; they are reported per request as "not configured".
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := c.Influx.Validate(); err != nil {
		return fmt.Errorf("influx config: %w", err)
	}
	if err := c.Cache.Validate(); err != nil {
		return fmt.Errorf("cache config: %w", err)
	}
	if err := c.Resolver.Validate(); err != nil {
		return fmt.Errorf("resolver config: %w", err)
	}
	if err := c.Filters.Validate(); err != nil {
		return fmt.Errorf("filters config: %w", err)
	}
	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	return nil
}

// Validate validates server configuration
func (c *ServerConfig) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port: %d", c.HTTPPort)
	}
	return nil
}

// Validate checks the non-credential influx settings.
func (c *InfluxConfig) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("influx.bucket is required")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("influx.timeout must be positive")
	}
	if c.Breaker.Enabled && c.Breaker.FailureThreshold == 0 {
		return fmt.Errorf("influx.breaker.failure_threshold must be at least 1")
	}
	return nil
}

// Configured reports whether URL, token and org are all present.
func (c *InfluxConfig) Configured() bool {
	return c.URL != "" && c.Token != "" && c.Org != ""
}

// Missing lists the absent environment variables, for "not configured" answers.
func (c *InfluxConfig) Missing() []string {
	var missing []string
	if c.URL == "" {
		missing = append(missing, "INFLUXDB_URL")
	}
	if c.Token == "" {
		missing = append(missing, "INFLUXDB_TOKEN")
	}
	if c.Org == "" {
		missing = append(missing, "INFLUXDB_ORG")
	}
	return missing
}

// Configured reports whether the alerting backend can be called.
func (c *GrafanaConfig) Configured() bool {
	return c.URL != "" && c.APIToken != ""
}

// Missing lists the absent environment variables.
func (c *GrafanaConfig) Missing() []string {
	var missing []string
	if c.URL == "" {
		missing = append(missing, "GRAFANA_URL")
	}
	if c.APIToken == "" {
		missing = append(missing, "GRAFANA_API_TOKEN")
	}
	return missing
}

// Validate validates cache configuration
func (c *CacheConfig) Validate() error {
	switch c.Backend {
	case "memory":
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("cache.redis_url is required for the redis backend")
		}
	default:
		return fmt.Errorf("cache.backend must be 'memory' or 'redis'")
	}
	if c.CatalogueTTL <= 0 {
		return fmt.Errorf("cache.catalogue_ttl must be positive")
	}
	return nil
}

// Validate validates resolver limits
func (c *ResolverConfig) Validate() error {
	if c.UpstreamLimit < 1 || c.FieldLimit < 1 || c.UniversalLimit < 1 {
		return fmt.Errorf("resolver limits must be at least 1")
	}
	if c.UpstreamLimit > 1000 || c.FieldLimit > 1000 || c.UniversalLimit > 1000 {
		return fmt.Errorf("resolver limits cannot exceed 1000")
	}
	return nil
}

// Validate validates filter session timing
func (c *FiltersConfig) Validate() error {
	if c.Debounce <= 0 {
		return fmt.Errorf("filters.debounce must be positive")
	}
	if c.Stagger < 0 {
		return fmt.Errorf("filters.stagger cannot be negative")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("filters.session_ttl must be positive")
	}
	return nil
}

// Validate validates metric layer settings
func (c *MetricsConfig) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("metrics.workers must be at least 1")
	}
	if c.DefaultHours < 1 {
		return fmt.Errorf("metrics.default_hours must be at least 1")
	}
	if _, err := ParseTimezone(c.Timezone); err != nil {
		return fmt.Errorf("metrics.timezone: %w", err)
	}
	return nil
}

// Validate validates logging configuration
func (c *LoggingConfig) Validate() error {
	switch c.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	if c.Format != "json" && c.Format != "console" {
		return fmt.Errorf("logging.format must be 'json' or 'console'")
	}
	return nil
}
