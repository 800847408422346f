// Package appdynamics checks that the configured AppDynamics metric paths
// return data for the application.
package appdynamics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/nholik/servo/internal/check"
	"github.com/nholik/servo/internal/config"
	"github.com/nholik/servo/internal/probe"
	"github.com/rs/zerolog"
)

const (
	// TypeName is the connector type served by this package.
	TypeName = config.TypeAppDynamics

	// DefaultTimeout bounds every API request when the configuration sets none.
	DefaultTimeout = 10 * time.Second

	// DefaultWindow is how far back metric data is requested.
	DefaultWindow = 10 * time.Minute

	apiPath            = "/controller/rest/"
	httpErrorBodyLimit = 1024
)

type timingConfig struct {
	maxRetries     uint64
	backoffInitial time.Duration
	backoffMax     time.Duration
}

var defaultTiming = timingConfig{
	maxRetries:     2,
	backoffInitial: 500 * time.Millisecond,
	backoffMax:     5 * time.Second,
}

// MetricValue is one data point of a metric series.
type MetricValue struct {
	StartTimeInMillis int64   `json:"startTimeInMillis"`
	Value             float64 `json:"value"`
	Min               float64 `json:"min"`
	Max               float64 `json:"max"`
	Count             int64   `json:"count"`
}

// MetricData is a metric series returned by the metric-data endpoint.
type MetricData struct {
	MetricID     int64         `json:"metricId"`
	MetricName   string        `json:"metricName"`
	MetricPath   string        `json:"metricPath"`
	Frequency    string        `json:"frequency"`
	MetricValues []MetricValue `json:"metricValues"`
}

// metric identifies its check by the metric name and describes the query it runs.
type metric config.Metric

func (m metric) CheckSpec() check.Spec {
	return check.Spec{
		Name:        "Check " + m.Name,
		Description: fmt.Sprintf("Run AppDynamics query %q", m.Query),
	}
}

// Connector runs checks against the AppDynamics controller REST API.
type Connector struct {
	name     string
	cfg      config.AppDynamicsConfig
	resolver *probe.Resolver
	client   *retryablehttp.Client
	timing   timingConfig
	now      func() time.Time
}

// Option customizes a Connector.
type Option func(*Connector)

// WithClock overrides the clock used to compute the query window.
func WithClock(now func() time.Time) Option {
	return func(c *Connector) {
		c.now = now
	}
}

// WithRetryTiming overrides the retry budget (primarily for testing).
func WithRetryTiming(maxRetries uint64, initial, maxInterval time.Duration) Option {
	return func(c *Connector) {
		c.timing = timingConfig{maxRetries: maxRetries, backoffInitial: initial, backoffMax: maxInterval}
	}
}

// New creates an AppDynamics connector. resolver may be nil.
func New(name string, cfg config.AppDynamicsConfig, resolver *probe.Resolver, opts ...Option) (*Connector, error) {
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}

	client := retryablehttp.NewClient()
	client.RetryMax = 0
	client.CheckRetry = func(_ context.Context, _ *http.Response, _ error) (bool, error) {
		return false, nil
	}
	client.Logger = nil
	client.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	c := &Connector{
		name:     name,
		cfg:      cfg,
		resolver: resolver,
		client:   client,
		timing:   defaultTiming,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Name returns the connector name.
func (c *Connector) Name() string {
	return c.name
}

// Type returns TypeName.
func (c *Connector) Type() string {
	return TypeName
}

// APIURL returns the controller REST root.
func (c *Connector) APIURL() string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + apiPath
}

// Checks returns the AppDynamics checks: host resolution, then one query
// check per metric.
func (c *Connector) Checks() (*check.Collection, error) {
	checks := check.NewCollection(c.cfg)

	if c.resolver != nil {
		err := checks.Define(check.Spec{
			Name:        "Resolve host",
			ID:          "resolve_host",
			Description: "Resolve the AppDynamics controller host through DNS",
			Required:    true,
			Tags:        []string{"dns"},
		}, c.resolver.HostCheck(c.cfg.BaseURL))
		if err != nil {
			return nil, err
		}
	}

	metrics := make([]metric, 0, len(c.cfg.Metrics))
	for _, m := range c.cfg.Metrics {
		metrics = append(metrics, metric(m))
	}
	err := check.AddEach(checks, metrics, c.checkQuery,
		check.WithNameTemplate(`Run query "{{ .Query }}"`),
		check.WithTags("query"),
	)
	if err != nil {
		return nil, err
	}
	return checks, nil
}

func (c *Connector) checkQuery(ctx context.Context, m metric) (string, error) {
	data, err := c.MetricData(ctx, config.Metric(m))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("returned %d results", len(data)), nil
}

// MetricData fetches the series of m over the configured window ending now.
func (c *Connector) MetricData(ctx context.Context, m config.Metric) ([]MetricData, error) {
	end := c.now()
	start := end.Add(-c.cfg.Window)
	endpoint := c.APIURL() + "applications/" + url.PathEscape(c.cfg.AppID) + "/metric-data?" + queryParams(m.Query, start, end).Encode()

	zerolog.Ctx(ctx).Trace().
		Str("metric", m.Name).
		Str("endpoint", endpoint).
		Msg("querying appdynamics")

	var body []byte
	operation := func() error {
		var err error
		body, err = c.getOnce(ctx, endpoint)
		return err
	}

	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.InitialInterval = c.timing.backoffInitial
	backoffCfg.MaxInterval = c.timing.backoffMax
	policy := backoff.WithContext(backoff.WithMaxRetries(backoffCfg, c.timing.maxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}

	var data []MetricData
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("decode appdynamics response: %w", err)
	}
	return data, nil
}

func (c *Connector) getOnce(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("build appdynamics request: %w", err))
	}
	req.SetBasicAuth(c.cfg.UserAuth(), c.cfg.Password)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("appdynamics request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read appdynamics response: %w", err)
		}
		return body, nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, httpErrorBodyLimit))
	statusErr := &StatusError{StatusCode: resp.StatusCode, Status: resp.Status, Body: strings.TrimSpace(string(snippet))}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
		return nil, statusErr
	}
	return nil, backoff.Permanent(statusErr)
}

// StatusError reports a non-2xx response from the controller.
type StatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("appdynamics request failed: %s (%s)", e.Status, e.Body)
	}
	return fmt.Sprintf("appdynamics request failed: %s", e.Status)
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == code
}

func queryParams(query string, start, end time.Time) url.Values {
	params := url.Values{}
	params.Set("metric-path", query)
	params.Set("time-range-type", "BETWEEN_TIMES")
	params.Set("start-time", strconv.FormatInt(start.UnixMilli(), 10))
	params.Set("end-time", strconv.FormatInt(end.UnixMilli(), 10))
	params.Set("rollup", "false")
	params.Set("output", "JSON")
	return params
}
