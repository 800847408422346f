// Package prometheus checks that a Prometheus server is reachable and that
// the configured metric queries evaluate.
package prometheus

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nholik/servo/internal/check"
	"github.com/nholik/servo/internal/config"
	"github.com/nholik/servo/internal/probe"
	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
	"github.com/rs/zerolog"
)

const (
	// TypeName is the connector type served by this package.
	TypeName = config.TypePrometheus

	// DefaultTimeout bounds every API call when the configuration sets none.
	DefaultTimeout = 10 * time.Second

	maxListedTargets = 5
)

// Connector runs checks against the Prometheus HTTP API.
type Connector struct {
	name     string
	cfg      config.PrometheusConfig
	resolver *probe.Resolver
	api      v1.API
	now      func() time.Time
}

// New creates a Prometheus connector. resolver may be nil.
func New(name string, cfg config.PrometheusConfig, resolver *probe.Resolver) (*Connector, error) {
	client, err := api.NewClient(api.Config{Address: cfg.BaseURL})
	if err != nil {
		return nil, fmt.Errorf("create prometheus client: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Connector{
		name:     name,
		cfg:      cfg,
		resolver: resolver,
		api:      v1.NewAPI(client),
		now:      time.Now,
	}, nil
}

// Name returns the connector name.
func (c *Connector) Name() string {
	return c.name
}

// Type returns TypeName.
func (c *Connector) Type() string {
	return TypeName
}

// Checks returns the Prometheus checks in execution order: host resolution
// and connectivity are required, then one check per metric query, then the
// optional scrape target check.
func (c *Connector) Checks() (*check.Collection, error) {
	checks := check.NewCollection(c.cfg)

	if c.resolver != nil {
		err := checks.Define(check.Spec{
			Name:        "Resolve host",
			ID:          "resolve_host",
			Description: "Resolve the Prometheus host through DNS",
			Required:    true,
			Tags:        []string{"dns"},
		}, c.resolver.HostCheck(c.cfg.BaseURL))
		if err != nil {
			return nil, err
		}
	}

	err := checks.Define(check.Spec{
		Name:        fmt.Sprintf("Connect to %q", c.cfg.BaseURL),
		ID:          "connect",
		Description: "Fetch build information from the Prometheus API",
		Required:    true,
		Tags:        []string{"connectivity"},
	}, c.checkBuildInfo)
	if err != nil {
		return nil, err
	}

	err = check.AddEach(checks, c.cfg.Metrics, c.checkQuery,
		check.WithNameTemplate(`Run query "{{ .Query }}"`),
		check.WithTags("query"),
	)
	if err != nil {
		return nil, err
	}

	if c.cfg.Targets {
		err := checks.Define(check.Spec{
			Name:        "Active targets",
			ID:          "targets",
			Description: "Verify that every active scrape target is healthy",
			Tags:        []string{"targets"},
		}, c.checkTargets)
		if err != nil {
			return nil, err
		}
	}

	return checks, nil
}

func (c *Connector) checkBuildInfo(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	info, err := c.api.Buildinfo(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Prometheus %s (revision %s)", info.Version, info.Revision), nil
}

func (c *Connector) checkQuery(ctx context.Context, metric config.Metric) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	value, warnings, err := c.api.Query(ctx, metric.Query, c.now())
	if err != nil {
		return "", err
	}
	if len(warnings) > 0 {
		zerolog.Ctx(ctx).Warn().
			Str("metric", metric.Name).
			Strs("warnings", warnings).
			Msg("prometheus query returned warnings")
	}
	return fmt.Sprintf("returned %d results", resultCount(value)), nil
}

func (c *Connector) checkTargets(ctx context.Context) (bool, string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	targets, err := c.api.Targets(ctx)
	if err != nil {
		return false, "", err
	}
	if len(targets.Active) == 0 {
		return false, "no active targets", nil
	}

	var down []string
	for _, target := range targets.Active {
		if target.Health != v1.HealthGood {
			down = append(down, fmt.Sprintf("%s/%s", target.ScrapePool, target.Labels[model.InstanceLabel]))
		}
	}
	if len(down) == 0 {
		return true, fmt.Sprintf("all %d active targets are up", len(targets.Active)), nil
	}

	sort.Strings(down)
	listed := down
	if len(listed) > maxListedTargets {
		listed = listed[:maxListedTargets]
	}
	message := fmt.Sprintf("%d of %d active targets are down: %s", len(down), len(targets.Active), strings.Join(listed, ", "))
	return false, message, nil
}

func resultCount(value model.Value) int {
	switch v := value.(type) {
	case model.Vector:
		return len(v)
	case model.Matrix:
		return len(v)
	case *model.Scalar, *model.String:
		return 1
	default:
		return 0
	}
}
