package check

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

const methodPrefix = "check_"

// Runnable is a collection entry: it runs one check and returns its Result.
type Runnable interface {
	Run(ctx context.Context) (Result, error)
}

// Func is a hand-written collection entry. It is responsible for building
// and timing its own Result, for example through RunFunc.
type Func func(ctx context.Context) (Result, error)

// Run implements Runnable.
func (f Func) Run(ctx context.Context) (Result, error) {
	return f(ctx)
}

// ContractError reports a collection entry that broke the check contract:
// it returned an error instead of a Result, returned an empty Result, or
// its handler produced a value that cannot be coerced. It aborts a run.
type ContractError struct {
	Method string
	Err    error
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("check method %q: %v", e.Method, e.Err)
}

func (e *ContractError) Unwrap() error {
	return e.Err
}

type entry struct {
	name   string
	runner Runnable
	// meta is nil for entries registered without check metadata.
	meta *Result
}

// Collection is an ordered set of checks for one configuration. Checks run
// in registration order, which decides what runs before a required check
// can halt the run.
type Collection struct {
	config  any
	entries []entry
	names   map[string]struct{}
}

// NewCollection returns an empty collection bound to config. The
// configuration is only carried for the checks; it is never modified.
func NewCollection(config any) *Collection {
	return &Collection{
		config: config,
		names:  make(map[string]struct{}),
	}
}

// Config returns the configuration the collection was built for.
func (c *Collection) Config() any {
	return c.config
}

// Add registers checks under the method name check_<id>.
func (c *Collection) Add(checks ...*Check) error {
	for _, chk := range checks {
		if chk == nil {
			return errors.New("check: cannot add nil check")
		}
		meta := chk.meta
		if err := c.register(methodPrefix+chk.ID(), chk, &meta); err != nil {
			return err
		}
	}
	return nil
}

// Define wraps fn with Define and adds the resulting check.
func (c *Collection) Define(spec Spec, fn any) error {
	chk, err := Define(spec, fn)
	if err != nil {
		return err
	}
	return c.Add(chk)
}

// AddFunc registers a hand-written entry. The name must start with
// "check_"; names starting with "_" denote helpers and are ignored. Entries
// added this way carry no metadata, so a run with an active Filter skips them.
func (c *Collection) AddFunc(name string, fn Func) error {
	if fn == nil {
		return fmt.Errorf("check: nil function for method %q", name)
	}
	if strings.HasPrefix(name, "_") {
		return nil
	}
	return c.register(name, fn, nil)
}

func (c *Collection) register(name string, runner Runnable, meta *Result) error {
	if !strings.HasPrefix(name, methodPrefix) || len(name) == len(methodPrefix) {
		return fmt.Errorf("check: invalid method name %q: check methods must start with %q or \"_\"", name, methodPrefix)
	}
	if _, exists := c.names[name]; exists {
		return fmt.Errorf("check: duplicate method name %q", name)
	}
	c.names[name] = struct{}{}
	c.entries = append(c.entries, entry{name: name, runner: runner, meta: meta})
	return nil
}

// Len returns the number of registered checks.
func (c *Collection) Len() int {
	return len(c.entries)
}

// Methods returns the registered method names in execution order.
func (c *Collection) Methods() []string {
	names := make([]string, 0, len(c.entries))
	for _, e := range c.entries {
		names = append(names, e.name)
	}
	return names
}

// Specs returns unrun Results describing the checks that carry metadata,
// in execution order.
func (c *Collection) Specs() []Result {
	specs := make([]Result, 0, len(c.entries))
	for _, e := range c.entries {
		if e.meta != nil {
			specs = append(specs, e.meta.clone())
		}
	}
	return specs
}

type runOptions struct {
	filter Filter
	haltOn HaltPolicy
	logger *zerolog.Logger
	onHalt func(r Result, skipped int)
}

// RunOption customizes a collection run.
type RunOption func(*runOptions)

// WithFilter limits the run to the checks matching f, plus the required
// checks that precede them.
func WithFilter(f Filter) RunOption {
	return func(o *runOptions) {
		o.filter = f
	}
}

// WithHaltOn sets the halt policy. The default is HaltOnRequirement.
func WithHaltOn(policy HaltPolicy) RunOption {
	return func(o *runOptions) {
		o.haltOn = policy
	}
}

// WithLogger sets the logger used for warnings and handler errors. By
// default the logger carried by the context is used.
func WithLogger(logger zerolog.Logger) RunOption {
	return func(o *runOptions) {
		o.logger = &logger
	}
}

// OnHalt calls fn when the halt policy stops a run before checks that
// would otherwise have run. skipped counts the selected checks left out.
func OnHalt(fn func(r Result, skipped int)) RunOption {
	return func(o *runOptions) {
		o.onHalt = fn
	}
}

// Run executes the collection and returns the results in execution order.
//
// Checks selected by the filter run in registration order. A required check
// that the filter left out still runs while at least one selected check is
// waiting after it. After each check the halt policy may stop the run; the
// results gathered so far, including the failing check, are returned.
//
// Check failures are reported in the results. Run only returns an error,
// a *ContractError, when an entry breaks the check contract.
func (c *Collection) Run(ctx context.Context, opts ...RunOption) ([]Result, error) {
	o := runOptions{haltOn: HaltOnRequirement}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger != nil {
		ctx = o.logger.WithContext(ctx)
	}
	logger := zerolog.Ctx(ctx)

	selected := make(map[int]struct{}, len(c.entries))
	for i, e := range c.entries {
		if o.filter.Any() {
			if e.meta == nil {
				logger.Warn().Str("method", e.name).Msg("filtering requested but encountered non-filterable check method")
				continue
			}
			if !o.filter.Matches(*e.meta) {
				continue
			}
		}
		selected[i] = struct{}{}
	}

	results := make([]Result, 0, len(selected))
	for i, e := range c.entries {
		if _, ok := selected[i]; ok {
			delete(selected, i)
		} else if e.meta == nil || !e.meta.Required || len(selected) == 0 {
			continue
		}

		r, err := e.runner.Run(ctx)
		if err != nil {
			return results, &ContractError{Method: e.name, Err: err}
		}
		if r.Name == "" {
			return results, &ContractError{Method: e.name, Err: errors.New("check methods must return a named Result")}
		}
		results = append(results, r)

		logger.Debug().
			Str("check", r.Name).
			Str("check_id", r.ID).
			Str("status", r.Status()).
			Str("message", r.Message).
			Msg("check completed")

		// Nothing selected remains once the set is empty, so stopping skips nothing.
		if len(selected) > 0 && o.haltOn.Halts(r) {
			logger.Debug().
				Str("check", r.Name).
				Str("halt_on", string(o.haltOn)).
				Int("skipped", len(selected)).
				Msg("halting check run")
			if o.onHalt != nil {
				o.onHalt(r, len(selected))
			}
			break
		}
	}

	return results, nil
}

// Run executes c with the given filter and halt policy. It is shorthand for
// c.Run(ctx, WithFilter(filter), WithHaltOn(haltOn)).
func Run(ctx context.Context, c *Collection, filter Filter, haltOn HaltPolicy) ([]Result, error) {
	return c.Run(ctx, WithFilter(filter), WithHaltOn(haltOn))
}
