package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// backendEnv maps config keys to the unprefixed variables the deployment already uses.
var backendEnv = map[string]string{
	"influx.url":           "INFLUXDB_URL",
	"influx.token":         "INFLUXDB_TOKEN",
	"influx.org":           "INFLUXDB_ORG",
	"influx.geomap_bucket": "INFLUXDB_BUCKET_GEOMAP",
	"grafana.url":          "GRAFANA_URL",
	"grafana.api_token":    "GRAFANA_API_TOKEN",
	"cache.redis_url":      "REDIS_URL",
}

// Load loads configuration from file
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/pvdash")
	}

	setDefaults(v)

	v.SetEnvPrefix("PVDASH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range backendEnv {
		// The prefixed form still wins when both are set.
		if err := v.BindEnv(key, "PVDASH_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return parseConfig(v)
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return parseConfig(v)
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.http_port", d.Server.HTTPPort)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.cors_origins", d.Server.CORSOrigins)

	v.SetDefault("influx.bucket", d.Influx.Bucket)
	v.SetDefault("influx.geomap_bucket", d.Influx.GeoMapBucket)
	v.SetDefault("influx.timeout", d.Influx.Timeout)
	v.SetDefault("influx.breaker.enabled", d.Influx.Breaker.Enabled)
	v.SetDefault("influx.breaker.max_requests", d.Influx.Breaker.MaxRequests)
	v.SetDefault("influx.breaker.interval", d.Influx.Breaker.Interval)
	v.SetDefault("influx.breaker.open_timeout", d.Influx.Breaker.OpenTimeout)
	v.SetDefault("influx.breaker.failure_threshold", d.Influx.Breaker.FailureThreshold)

	v.SetDefault("grafana.alerts_path", d.Grafana.AlertsPath)
	v.SetDefault("grafana.timeout", d.Grafana.Timeout)
	v.SetDefault("grafana.max_retries", d.Grafana.MaxRetries)

	v.SetDefault("cache.backend", d.Cache.Backend)
	v.SetDefault("cache.redis_db", d.Cache.RedisDB)
	v.SetDefault("cache.key_prefix", d.Cache.KeyPrefix)
	v.SetDefault("cache.catalogue_ttl", d.Cache.CatalogueTTL)
	v.SetDefault("cache.lookup_ttl", d.Cache.LookupTTL)

	v.SetDefault("resolver.default_window", d.Resolver.DefaultWindow)
	v.SetDefault("resolver.upstream_window", d.Resolver.UpstreamWindow)
	v.SetDefault("resolver.sample_size", d.Resolver.SampleSize)
	v.SetDefault("resolver.upstream_limit", d.Resolver.UpstreamLimit)
	v.SetDefault("resolver.field_limit", d.Resolver.FieldLimit)
	v.SetDefault("resolver.universal_limit", d.Resolver.UniversalLimit)
	v.SetDefault("resolver.ladder_enough", d.Resolver.LadderEnoughHint)

	v.SetDefault("filters.debounce", d.Filters.Debounce)
	v.SetDefault("filters.stagger", d.Filters.Stagger)
	v.SetDefault("filters.session_ttl", d.Filters.SessionTTL)

	v.SetDefault("metrics.timezone", d.Metrics.Timezone)
	v.SetDefault("metrics.workers", d.Metrics.Workers)
	v.SetDefault("metrics.default_hours", d.Metrics.DefaultHours)

	v.SetDefault("auth.enabled", d.Auth.Enabled)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output_path", d.Logging.OutputPath)
}

// parseConfig parses viper config into Config struct
func parseConfig(v *viper.Viper) (*Config, error) {
	var cfg Config

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// LoadOrDefault loads configuration from file or returns default config
func LoadOrDefault(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		return DefaultConfig()
	}
	return cfg
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			HTTPPort:     3001,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			CORSOrigins:  "*",
		},
		Influx: InfluxConfig{
			Bucket:       "PV",
			GeoMapBucket: "GeoMap",
			Timeout:      10 * time.Second,
			Breaker: BreakerConfig{
				Enabled:          true,
				MaxRequests:      1,
				Interval:         time.Minute,
				OpenTimeout:      30 * time.Second,
				FailureThreshold: 5,
			},
		},
		Grafana: GrafanaConfig{
			AlertsPath: "/api/alertmanager/grafana/api/v2/alerts",
			Timeout:    10 * time.Second,
			MaxRetries: 2,
		},
		Cache: CacheConfig{
			Backend:      "memory",
			KeyPrefix:    "pvdash",
			CatalogueTTL: 6 * time.Hour,
			LookupTTL:    10 * time.Minute,
		},
		Resolver: ResolverConfig{
			DefaultWindow:    "-24h",
			UpstreamWindow:   "-2h",
			SampleSize:       2000,
			UpstreamLimit:    200,
			FieldLimit:       500,
			UniversalLimit:   500,
			LadderEnoughHint: 100,
		},
		Filters: FiltersConfig{
			Debounce:   150 * time.Millisecond,
			Stagger:    75 * time.Millisecond,
			SessionTTL: 30 * time.Minute,
		},
		Metrics: MetricsConfig{
			Timezone:     "Europe/Madrid",
			Workers:      8,
			DefaultHours: 24,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			OutputPath: "stdout",
		},
	}
}
