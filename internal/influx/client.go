// Package influx talks to the time-series backend. Components depend on the
// Querier interface; Client is the only implementation that does network I/O.
package influx

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/pvmonitor/pvdash/internal/config"
	"github.com/pvmonitor/pvdash/internal/logging"
)

var (
	// ErrNotConfigured is returned when URL, token or org are missing.
	ErrNotConfigured = errors.New("influx: not configured")
	// ErrBackend wraps every failed backend call, including open-breaker rejections.
	ErrBackend = errors.New("influx: backend unavailable")
)

// Querier is the narrow view of the backend used by every component.
type Querier interface {
	// QueryCSV runs a Flux query and returns the annotated CSV body.
	QueryCSV(ctx context.Context, query string) (string, error)
	// Buckets lists bucket names.
	Buckets(ctx context.Context) ([]string, error)
}

// Client is a Querier over influxdb-client-go guarded by a circuit breaker.
type Client struct {
	cfg     config.InfluxConfig
	client  influxdb2.Client
	query   api.QueryAPI
	breaker *gobreaker.CircuitBreaker[any]
	logger  *logging.Logger
}

// New creates a client. An unconfigured client is valid: every call returns
// ErrNotConfigured so that endpoints can answer with their fallback payload.
func New(cfg config.InfluxConfig, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.Global()
	}
	c := &Client{
		cfg:    cfg,
		logger: logger.Component("influx"),
	}
	if cfg.Breaker.Enabled {
		c.breaker = newBreaker("influx", cfg.Breaker, c.logger)
	}
	if !cfg.Configured() {
		c.logger.Warn("Time-series backend not configured", "missing", strings.Join(cfg.Missing(), ","))
		return c
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	opts := influxdb2.DefaultOptions().
		SetHTTPRequestTimeout(uint(timeout.Seconds())).
		SetApplicationName("pvdash")
	c.client = influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)
	c.query = c.client.QueryAPI(cfg.Org)
	return c
}

// Configured reports whether calls reach the backend at all.
func (c *Client) Configured() bool {
	return c.client != nil
}

// Close releases idle connections.
func (c *Client) Close() {
	if c.client != nil {
		c.client.Close()
	}
}

// QueryCSV runs query with the per-call timeout.
func (c *Client) QueryCSV(ctx context.Context, query string) (string, error) {
	if !c.Configured() {
		return "", c.notConfigured()
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	start := time.Now()
	out, err := c.execute(func() (any, error) {
		return c.query.QueryRaw(ctx, query, influxdb2.DefaultDialect())
	})
	observe("query", start, err)
	if err != nil {
		c.logger.Warn("Query failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
		return "", fmt.Errorf("%w: %w", ErrBackend, err)
	}
	return out.(string), nil
}

// Buckets lists every bucket visible to the token.
func (c *Client) Buckets(ctx context.Context) ([]string, error) {
	if !c.Configured() {
		return nil, c.notConfigured()
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	start := time.Now()
	out, err := c.execute(func() (any, error) {
		buckets, err := c.client.BucketsAPI().GetBuckets(ctx, api.PagingWithLimit(100))
		if err != nil {
			return nil, err
		}
		names := make([]string, 0, len(*buckets))
		for _, b := range *buckets {
			names = append(names, b.Name)
		}
		return names, nil
	})
	observe("buckets", start, err)
	if err != nil {
		c.logger.Warn("Bucket listing failed", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrBackend, err)
	}
	return out.([]string), nil
}

// Ping reports whether the backend answers its health endpoint.
func (c *Client) Ping(ctx context.Context) bool {
	if !c.Configured() {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()
	ok, err := c.client.Ping(ctx)
	return err == nil && ok
}

// BreakerState is "closed", "half-open", "open" or "disabled".
func (c *Client) BreakerState() string {
	if c.breaker == nil {
		return "disabled"
	}
	return c.breaker.State().String()
}

func (c *Client) execute(fn func() (any, error)) (any, error) {
	if c.breaker == nil {
		return fn()
	}
	return c.breaker.Execute(fn)
}

func (c *Client) timeout() time.Duration {
	if c.cfg.Timeout <= 0 {
		return 10 * time.Second
	}
	return c.cfg.Timeout
}

func (c *Client) notConfigured() error {
	return fmt.Errorf("%w: missing %s", ErrNotConfigured, strings.Join(c.cfg.Missing(), ", "))
}

// Missing lists the absent connection variables.
func (c *Client) Missing() []string {
	return c.cfg.Missing()
}

// IsNotConfigured reports whether err comes from missing credentials.
func IsNotConfigured(err error) bool {
	return errors.Is(err, ErrNotConfigured)
}
