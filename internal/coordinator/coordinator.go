package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/nholik/servo/internal/check"
	"github.com/nholik/servo/internal/connector"
	"github.com/nholik/servo/internal/runner"
	"github.com/rs/zerolog"
)

// Report is the outcome of one connector's check run.
type Report struct {
	Connector string         `json:"connector" yaml:"connector"`
	Type      string         `json:"type" yaml:"type"`
	Summary   check.Summary  `json:"summary" yaml:"summary"`
	Results   []check.Result `json:"results" yaml:"results"`
	Error     string         `json:"error,omitempty" yaml:"error,omitempty"`
}

// OK reports whether the run completed and every check passed.
func (r Report) OK() bool {
	return r.Error == "" && r.Summary.OK()
}

// Coordinator manages one Runner per connector. Connectors run in parallel;
// the checks of a single connector stay sequential.
type Coordinator struct {
	logger       zerolog.Logger
	interval     time.Duration
	connectors   []connector.Connector
	options      []runner.Option
	runners      map[string]*runner.Runner
	runnerErrors map[string]error
	mu           sync.RWMutex
}

// New constructs a Coordinator. opts are applied to every runner.
func New(logger zerolog.Logger, interval time.Duration, connectors []connector.Connector, opts ...runner.Option) *Coordinator {
	return &Coordinator{
		logger:       logger,
		interval:     interval,
		connectors:   connectors,
		options:      opts,
		runners:      make(map[string]*runner.Runner),
		runnerErrors: make(map[string]error),
	}
}

// Run starts all runners in parallel and blocks until the context is canceled.
// Per-runner errors are logged, not returned.
func (c *Coordinator) Run(ctx context.Context) error {
	c.logger.Info().
		Int("connectors", len(c.connectors)).
		Dur("interval", c.interval).
		Msg("starting coordinator")

	var wg sync.WaitGroup
	for _, conn := range c.connectors {
		wg.Add(1)
		go c.spawnRunner(ctx, &wg, conn)
	}
	wg.Wait()
	c.logger.Info().Msg("all runners stopped")

	c.mu.RLock()
	defer c.mu.RUnlock()
	for name, err := range c.runnerErrors {
		c.logger.Error().Err(err).Str("connector", name).Msg("runner error")
	}
	return nil
}

// RunOnce evaluates every connector a single time, in parallel, and returns
// the reports in connector order.
func (c *Coordinator) RunOnce(ctx context.Context) []Report {
	reports := make([]Report, len(c.connectors))

	var wg sync.WaitGroup
	for i, conn := range c.connectors {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results, err := c.runnerFor(conn).Evaluate(ctx)
			reports[i] = Report{
				Connector: conn.Name(),
				Type:      conn.Type(),
				Summary:   check.Summarize(results),
				Results:   results,
			}
			if err != nil {
				reports[i].Error = err.Error()
			}
		}()
	}
	wg.Wait()
	return reports
}

func (c *Coordinator) spawnRunner(ctx context.Context, wg *sync.WaitGroup, conn connector.Connector) {
	defer wg.Done()

	log := c.logger.With().Str("connector", conn.Name()).Logger()
	log.Info().Str("connector_type", conn.Type()).Msg("runner started")

	if err := c.runnerFor(conn).Run(ctx); err != nil {
		log.Error().Err(err).Msg("runner exited with error")
		c.recordError(conn.Name(), err)
		return
	}
	log.Info().Msg("runner exited cleanly")
}

// runnerFor returns the runner for conn, creating it on first use.
func (c *Coordinator) runnerFor(conn connector.Connector) *runner.Runner {
	c.mu.Lock()
	defer c.mu.Unlock()

	if r, ok := c.runners[conn.Name()]; ok {
		return r
	}
	r := runner.New(c.logger, conn, c.interval, c.options...)
	c.runners[conn.Name()] = r
	return r
}

func (c *Coordinator) recordError(name string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runnerErrors[name] = err
}

// GetRunners returns a copy of the runners map.
func (c *Coordinator) GetRunners() map[string]*runner.Runner {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make(map[string]*runner.Runner, len(c.runners))
	for k, v := range c.runners {
		result[k] = v
	}
	return result
}
