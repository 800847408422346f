package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/nholik/servo/internal/check"
	"github.com/nholik/servo/internal/config"
	"github.com/nholik/servo/internal/connector"
	"github.com/nholik/servo/internal/coordinator"
	"github.com/nholik/servo/internal/healthcheck"
	"github.com/nholik/servo/internal/logging"
	"github.com/nholik/servo/internal/metrics"
	"github.com/nholik/servo/internal/notify"
	"github.com/nholik/servo/internal/probe"
	"github.com/nholik/servo/internal/runner"
	"github.com/nholik/servo/internal/server"
	"github.com/nholik/servo/internal/state"
	"github.com/rs/zerolog"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

type options struct {
	once   bool
	list   bool
	output string
	name   string
	id     string
	tags   string
	haltOn string
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("servo", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.BoolVar(&opts.once, "once", false, "Run every connector's checks once, print the results and exit")
	fs.BoolVar(&opts.list, "list", false, "List the checks of every connector without running them")
	fs.StringVar(&opts.output, "output", "text", "Output format for -once and -list: text, yaml or json")
	fs.StringVar(&opts.name, "name", "", "Run checks whose name matches (exact, comma list or /regexp/)")
	fs.StringVar(&opts.id, "id", "", "Run checks whose id matches (exact, comma list or /regexp/)")
	fs.StringVar(&opts.tags, "tag", "", "Run checks carrying any of these comma separated tags")
	fs.StringVar(&opts.haltOn, "halt-on", "", "Halt policy: requirement, check or never")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	switch opts.output {
	case outputText, outputYAML, outputJSON:
	default:
		return options{}, fmt.Errorf("unknown output format %q", opts.output)
	}
	return opts, nil
}

// apply overrides the configured filter and halt policy with flag values.
func (o options) apply(cfg *config.Config) error {
	if o.name != "" {
		cfg.CheckName = o.name
	}
	if o.id != "" {
		cfg.CheckID = o.id
	}
	if o.tags != "" {
		cfg.CheckTags = o.tags
	}
	if o.haltOn != "" {
		policy, err := check.ParseHaltPolicy(o.haltOn)
		if err != nil {
			return err
		}
		cfg.HaltOn = policy
	}
	return nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	cfg, err := config.Load()
	if err == nil {
		err = opts.apply(&cfg)
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error loading configuration: %v\n", err)
		return 1
	}
	filter, err := cfg.Filter()
	if err != nil {
		fmt.Fprintf(stderr, "Error: invalid check filter: %v\n", err)
		return 1
	}

	logger := logging.NewWithLevel(cfg.LogLevel)
	if opts.once || opts.list {
		logger = logging.NewConsole(cfg.LogLevel)
	}

	connectors, err := buildConnectors(logger, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("failed to configure connectors")
		return 1
	}

	if opts.list {
		if err := listChecks(stdout, opts.output, connectors); err != nil {
			logger.Error().Err(err).Msg("failed to list checks")
			return 1
		}
		return 0
	}

	notifier, err := buildNotifier(logger, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("failed to configure notifications")
		return 1
	}

	collector := metrics.New()
	tracker := healthcheck.NewTracker()
	coord := coordinator.New(logger, cfg.CheckInterval, connectors,
		runner.WithFilter(filter),
		runner.WithHaltOn(cfg.HaltOn),
		runner.WithStateStore(buildStore(logger, cfg), &sync.Mutex{}),
		runner.WithNotifier(notifier),
		runner.WithMetrics(collector),
		runner.WithTracker(tracker),
	)

	if opts.once {
		reports := coord.RunOnce(ctx)
		if err := writeReports(stdout, opts.output, reports); err != nil {
			logger.Error().Err(err).Msg("failed to write results")
			return 1
		}
		for _, r := range reports {
			if !r.OK() {
				return 1
			}
		}
		return 0
	}

	logger.Info().
		Str("config_file", cfg.ConfigFile).
		Dur("check_interval", cfg.CheckInterval).
		Str("halt_on", string(cfg.HaltOn)).
		Str("filter", filter.String()).
		Bool("dry_run", cfg.DryRun).
		Msg("servo starting")

	server.Start(ctx, logger, cfg.CheckInterval, tracker, collector, cfg.HealthPort, cfg.MetricsPort)
	if err := coord.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("coordinator failed")
		return 1
	}
	logger.Info().Msg("servo stopped")
	return 0
}

func buildConnectors(logger zerolog.Logger, cfg config.Config) ([]connector.Connector, error) {
	cfgs, err := config.LoadConnectors(cfg.ConfigFile)
	if err != nil {
		return nil, err
	}

	resolver, err := probe.New(probe.WithServer(cfg.DNSServer))
	if err != nil {
		logger.Warn().Err(err).Msg("dns resolver unavailable; host resolution checks disabled")
		resolver = nil
	}
	return connector.Build(logger, cfgs, resolver)
}

func buildStore(logger zerolog.Logger, cfg config.Config) state.Store {
	if cfg.StatePath == "" {
		return state.NewMemoryStore()
	}
	return state.NewFileStore(cfg.StatePath, logger)
}

func buildNotifier(logger zerolog.Logger, cfg config.Config) (notify.Notifier, error) {
	notifiers := []notify.Notifier{notify.NewSlackNotifier(logger, cfg.SlackWebhookURL)}

	webhook, err := notify.NewWebhookNotifier(logger, cfg.WebhookURL, cfg.WebhookTemplate)
	if err != nil {
		return nil, err
	}
	if webhook != nil {
		notifiers = append(notifiers, webhook)
	}

	var n notify.Notifier = notify.NewMultiNotifier(notifiers...)
	if cfg.DryRun {
		n = notify.NewDryRunNotifier(logger, n)
	}
	return n, nil
}
