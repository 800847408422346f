package runner

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nholik/servo/internal/check"
	"github.com/nholik/servo/internal/connector"
	"github.com/nholik/servo/internal/healthcheck"
	"github.com/nholik/servo/internal/metrics"
	"github.com/nholik/servo/internal/notify"
	"github.com/nholik/servo/internal/state"
	"github.com/nholik/servo/internal/transition"
	"github.com/rs/zerolog"
)

// Ticker is the minimal interface needed for driving the runner loop.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	ticker *time.Ticker
}

func (t timeTicker) C() <-chan time.Time {
	return t.ticker.C
}

func (t timeTicker) Stop() {
	t.ticker.Stop()
}

// Runner runs the checks of one connector on an interval.
type Runner struct {
	logger        zerolog.Logger
	log           zerolog.Logger
	connector     connector.Connector
	interval      time.Duration
	tickerFactory func(time.Duration) Ticker
	runOnce       func(context.Context) error
	filter        check.Filter
	haltOn        check.HaltPolicy
	stateStore    state.Store
	stateMu       *sync.Mutex
	notifier      notify.Notifier
	metrics       *metrics.Metrics
	tracker       *healthcheck.Tracker
	now           func() time.Time
}

// Option customizes runner behavior.
type Option func(*Runner)

// WithTickerFactory overrides how tickers are created.
func WithTickerFactory(factory func(time.Duration) Ticker) Option {
	return func(r *Runner) {
		r.tickerFactory = factory
	}
}

// WithRunOnce overrides the single-cycle execution step.
func WithRunOnce(runOnce func(context.Context) error) Option {
	return func(r *Runner) {
		r.runOnce = runOnce
	}
}

// WithFilter limits each run to the matching checks.
func WithFilter(filter check.Filter) Option {
	return func(r *Runner) {
		r.filter = filter
	}
}

// WithHaltOn sets the halt policy for each run.
func WithHaltOn(policy check.HaltPolicy) Option {
	return func(r *Runner) {
		r.haltOn = policy
	}
}

// WithStateStore sets where results are kept between runs. Runners sharing
// a store must share lock.
func WithStateStore(store state.Store, lock *sync.Mutex) Option {
	return func(r *Runner) {
		r.stateStore = store
		r.stateMu = lock
	}
}

// WithNotifier sets the notifier that receives check transitions.
func WithNotifier(n notify.Notifier) Option {
	return func(r *Runner) {
		r.notifier = n
	}
}

// WithMetrics records every run in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) {
		r.metrics = m
	}
}

// WithTracker records every run in t for the health endpoints.
func WithTracker(t *healthcheck.Tracker) Option {
	return func(r *Runner) {
		r.tracker = t
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		r.now = now
	}
}

// New constructs a Runner for conn that runs every interval. logger should
// not already carry the connector name.
func New(logger zerolog.Logger, conn connector.Connector, interval time.Duration, opts ...Option) *Runner {
	r := &Runner{
		logger:    logger,
		connector: conn,
		interval:  interval,
		haltOn:    check.HaltOnRequirement,
		tickerFactory: func(d time.Duration) Ticker {
			return timeTicker{ticker: time.NewTicker(d)}
		},
		now: time.Now,
	}
	r.runOnce = r.defaultRunOnce

	for _, opt := range opts {
		opt(r)
	}
	if r.stateStore == nil {
		r.stateStore = state.NewMemoryStore()
	}
	if r.stateMu == nil {
		r.stateMu = &sync.Mutex{}
	}
	r.log = logger
	if conn != nil {
		r.log = logger.With().Str("connector", conn.Name()).Logger()
	}

	return r
}

// Run starts the main loop and blocks until the context is canceled.
func (r *Runner) Run(ctx context.Context) error {
	if r.interval <= 0 {
		return errors.New("check interval must be greater than zero")
	}

	if err := r.RunOnce(ctx); err != nil {
		r.log.Error().Err(err).Msg("initial check run failed")
	}

	ticker := r.tickerFactory(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("runner stopped")
			return nil
		case <-ticker.C():
			if err := r.RunOnce(ctx); err != nil {
				r.log.Error().Err(err).Msg("check run failed")
			}
		}
	}
}

// RunOnce executes a single check run.
func (r *Runner) RunOnce(ctx context.Context) error {
	return r.runOnce(ctx)
}

func (r *Runner) defaultRunOnce(ctx context.Context) error {
	_, err := r.Evaluate(ctx)
	return err
}

// Evaluate runs the connector's checks once and records the outcome. The
// results gathered before an aborting error are returned with it.
func (r *Runner) Evaluate(ctx context.Context) ([]check.Result, error) {
	if r.connector == nil {
		return nil, errors.New("runner has no connector")
	}
	name := r.connector.Name()

	halted := false
	start := r.now()
	results, err := connector.Check(r.logger.WithContext(ctx), r.connector,
		check.WithFilter(r.filter),
		check.WithHaltOn(r.haltOn),
		check.OnHalt(func(check.Result, int) { halted = true }),
	)
	duration := r.now().Sub(start)
	summary := check.Summarize(results)
	r.metrics.ObserveCycleDuration(duration)

	if err != nil {
		r.metrics.IncCheckErrors(name)
		r.tracker.RecordRun(name, summary, duration, err)
		return results, &RunError{Connector: name, Step: StepRunChecks, Err: err}
	}

	r.metrics.ObserveResults(name, results)
	if halted {
		r.metrics.IncHalts(name)
	}

	event := r.log.Info()
	if summary.RequiredFailed > 0 {
		event = r.log.Warn()
	}
	event.Int("total", summary.Total).
		Int("passed", summary.Passed).
		Int("failed", summary.Failed).
		Int("required_failed", summary.RequiredFailed).
		Dur("duration", duration).
		Msg("checks completed")

	now := r.now().UTC()
	prev, err := r.persist(ctx, name, results, now)
	if err != nil {
		r.tracker.RecordRun(name, summary, duration, nil)
		return results, &RunError{Connector: name, Step: StepPersistState, Err: err}
	}

	transitions := transition.DetectCheckTransitions(name, prev, results)
	r.logTransitions(transitions)
	if len(transitions) > 0 && r.notifier != nil {
		if err := r.notifier.Notify(ctx, name, transitions); err != nil {
			r.log.Error().Err(err).Int("transitions", len(transitions)).Msg("notification failed")
		}
	}

	r.tracker.RecordRun(name, summary, duration, nil)
	r.metrics.SetLastCheckCycleTimestamp(now)
	return results, nil
}

// persist stores results as the connector's snapshot and returns the one it
// replaced. Checks that did not run keep their previous result.
func (r *Runner) persist(ctx context.Context, name string, results []check.Result, now time.Time) (*state.ConnectorSnapshot, error) {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()

	loaded, err := r.stateStore.Load(ctx)
	if err != nil {
		return nil, err
	}
	if loaded.Connectors == nil {
		loaded.Connectors = map[string]state.ConnectorSnapshot{}
	}

	var prev *state.ConnectorSnapshot
	if existing, ok := loaded.Connectors[name]; ok {
		prev = &existing
	}
	loaded.Connectors[name] = state.ConnectorSnapshot{
		Results:     mergeResults(prev, results),
		EvaluatedAt: now,
	}
	if err := r.stateStore.Save(ctx, loaded); err != nil {
		return nil, err
	}
	return prev, nil
}

func mergeResults(prev *state.ConnectorSnapshot, results []check.Result) []check.Result {
	merged := append([]check.Result(nil), results...)
	if prev == nil {
		return merged
	}
	seen := make(map[string]bool, len(results))
	for _, res := range results {
		seen[res.ID] = true
	}
	for _, old := range prev.Results {
		if !seen[old.ID] {
			merged = append(merged, old)
		}
	}
	return merged
}

func (r *Runner) logTransitions(transitions []transition.CheckTransition) {
	for _, t := range transitions {
		event := r.log.Info()
		if t.Current == transition.StatusFailed {
			event = r.log.Error()
			if !t.Required {
				event = r.log.Warn()
			}
		}
		event.Str("check_id", t.CheckID).
			Str("check", t.Name).
			Bool("required", t.Required).
			Str("previous_status", t.Previous).
			Str("current_status", t.Current).
			Str("message", t.Message).
			Msg("check transition detected")
	}
}
