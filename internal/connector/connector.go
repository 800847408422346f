// Package connector binds check collections to the integrations they verify.
package connector

import (
	"context"
	"fmt"

	"github.com/nholik/servo/internal/check"
	"github.com/nholik/servo/internal/config"
	"github.com/nholik/servo/internal/connector/appdynamics"
	"github.com/nholik/servo/internal/connector/prometheus"
	"github.com/nholik/servo/internal/probe"
	"github.com/rs/zerolog"
)

// Connector is an integration that can describe its readiness as checks.
type Connector interface {
	Name() string
	Type() string
	// Checks returns a fresh collection on every call.
	Checks() (*check.Collection, error)
}

// Check runs the checks of c with the logger from ctx scoped to the connector.
func Check(ctx context.Context, c Connector, opts ...check.RunOption) ([]check.Result, error) {
	logger := zerolog.Ctx(ctx).With().
		Str("connector", c.Name()).
		Str("connector_type", c.Type()).
		Logger()
	ctx = logger.WithContext(ctx)

	collection, err := c.Checks()
	if err != nil {
		return nil, fmt.Errorf("build checks for %s: %w", c.Name(), err)
	}
	return collection.Run(ctx, opts...)
}

// Build constructs connectors from their configuration. resolver may be nil,
// in which case connectors skip host resolution.
func Build(logger zerolog.Logger, cfgs []config.ConnectorConfig, resolver *probe.Resolver) ([]Connector, error) {
	connectors := make([]Connector, 0, len(cfgs))
	for _, cfg := range cfgs {
		var (
			c   Connector
			err error
		)
		switch cfg.Type {
		case config.TypePrometheus:
			if cfg.Prometheus == nil {
				return nil, fmt.Errorf("connector %q: missing prometheus section", cfg.Name)
			}
			c, err = prometheus.New(cfg.Name, *cfg.Prometheus, resolver)
		case config.TypeAppDynamics:
			if cfg.AppDynamics == nil {
				return nil, fmt.Errorf("connector %q: missing appdynamics section", cfg.Name)
			}
			c, err = appdynamics.New(cfg.Name, *cfg.AppDynamics, resolver)
		default:
			err = fmt.Errorf("unknown type %q", cfg.Type)
		}
		if err != nil {
			return nil, fmt.Errorf("connector %q: %w", cfg.Name, err)
		}
		logger.Debug().Str("connector", cfg.Name).Str("connector_type", cfg.Type).Msg("connector configured")
		connectors = append(connectors, c)
	}
	return connectors, nil
}
