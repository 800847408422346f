package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nholik/servo/internal/healthcheck"
	"github.com/nholik/servo/internal/metrics"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 5 * time.Second

// Start launches the health and metrics HTTP servers. A port of 0 disables
// that server; equal ports share one listener.
func Start(ctx context.Context, logger zerolog.Logger, interval time.Duration, tracker *healthcheck.Tracker, collector *metrics.Metrics, healthPort, metricsPort int) {
	switch {
	case healthPort == 0 && metricsPort == 0:
		return
	case healthPort > 0 && healthPort == metricsPort:
		mux := HealthMux(tracker, interval)
		registerMetricsRoute(mux, collector)
		startServer(ctx, logger, mux, healthPort, "health/metrics")
		return
	}

	if healthPort > 0 {
		startServer(ctx, logger, HealthMux(tracker, interval), healthPort, "health")
	}
	if metricsPort > 0 {
		mux := http.NewServeMux()
		registerMetricsRoute(mux, collector)
		startServer(ctx, logger, mux, metricsPort, "metrics")
	}
}

// HealthMux serves /healthz and /readyz from the tracker.
func HealthMux(tracker *healthcheck.Tracker, interval time.Duration) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthcheck.HealthHandler(tracker, interval))
	mux.HandleFunc("/readyz", healthcheck.ReadyHandler(tracker))
	return mux
}

func registerMetricsRoute(mux *http.ServeMux, collector *metrics.Metrics) {
	if collector == nil {
		return
	}
	mux.Handle("/metrics", collector.Handler())
}

func startServer(ctx context.Context, logger zerolog.Logger, handler http.Handler, port int, label string) {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log := logger.With().Str("server", label).Int("port", port).Logger()

	go func() {
		log.Info().Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("http server shutdown failed")
		}
	}()
}
