package alerting

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/goccy/go-json"

	"github.com/pvmonitor/pvdash/internal/config"
	"github.com/pvmonitor/pvdash/internal/logging"
)

var (
	// ErrNotConfigured is returned when the URL or token is missing.
	ErrNotConfigured = errors.New("alerting: grafana not configured")
	// ErrUnavailable wraps every failed fetch.
	ErrUnavailable = errors.New("alerting: grafana unavailable")
)

// Client reads firing alerts from the Grafana alert manager.
type Client struct {
	cfg    config.GrafanaConfig
	http   *http.Client
	logger *logging.Logger
	now    func() time.Time

	// initialInterval is the first retry delay; tests shorten it.
	initialInterval time.Duration
}

// NewClient creates a client. A client without URL or token is valid and
// answers ErrNotConfigured.
func NewClient(cfg config.GrafanaConfig, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.Global()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		cfg:             cfg,
		http:            &http.Client{Timeout: timeout},
		logger:          logger.Component("grafana"),
		now:             time.Now,
		initialInterval: 500 * time.Millisecond,
	}
}

// Configured reports whether the client can call Grafana.
func (c *Client) Configured() bool {
	return c.cfg.Configured()
}

// Missing lists the absent environment variables.
func (c *Client) Missing() []string {
	return c.cfg.Missing()
}

// Alerts fetches every alert. Server errors and transport failures are
// retried with exponential backoff; client errors are not.
func (c *Client) Alerts(ctx context.Context) ([]Alert, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("%w: missing %s", ErrNotConfigured, strings.Join(c.Missing(), ", "))
	}

	url := strings.TrimRight(c.cfg.URL, "/") + c.cfg.AlertsPath
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.initialInterval

	tries := c.cfg.MaxRetries + 1
	attempt := 0
	alerts, err := backoff.Retry(ctx, func() ([]Alert, error) {
		attempt++
		alerts, err := c.fetch(ctx, url)
		if err != nil {
			c.logger.Warn("Grafana fetch failed", "attempt", attempt, "error", err)
		}
		return alerts, err
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(tries))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return alerts, nil
}

func (c *Client) fetch(ctx context.Context, url string) ([]Alert, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	if resp.StatusCode >= 300 {
		return nil, backoff.Permanent(fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var alerts []Alert
	if err := json.Unmarshal(body, &alerts); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("decode alerts: %w", err))
	}
	return alerts, nil
}

// Report fetches and maps alerts. When the fetch fails the report holds the
// fallback alarm and the error is returned alongside it.
func (c *Client) Report(ctx context.Context) (Report, error) {
	alerts, err := c.Alerts(ctx)
	if err != nil {
		if errors.Is(err, ErrNotConfigured) {
			return NewReport(nil), err
		}
		return NewReport(FallbackAlarms(c.now())), err
	}
	return NewReport(MapAlerts(alerts, c.now())), nil
}
