// Package metrics exposes the Prometheus metrics of the harvester.
// All metrics are defined in their respective packages (client, ratelimit,
// pagination, store) to maintain modularity and avoid circular dependencies.
//
// This package provides the HTTP surface and a reference for all available metrics.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Registry is the default Prometheus registry used by the harvester.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// ShutdownTimeout bounds how long Serve waits for open scrapes on shutdown.
const ShutdownTimeout = 5 * time.Second

// Handler returns a mux serving /metrics from the default gatherer and a
// /health liveness probe.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", healthHandler)
	return mux
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// Serve listens on addr and serves Handler until ctx is cancelled. It returns
// once the listener is bound; bind errors are returned directly. The returned
// channel receives the final server error (nil on clean shutdown) and is closed.
func Serve(ctx context.Context, addr string, logger zerolog.Logger) (<-chan error, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listen %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	done := make(chan error, 1)
	go func() {
		defer close(done)
		logger.Info().Str("addr", ln.Addr().String()).Msg("Metrics server started")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			done <- err
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("Metrics server shutdown")
		}
		logger.Info().Msg("Metrics server stopped")
	}()

	return done, nil
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - search_requests_total{endpoint, status} (Counter): Requests by endpoint and HTTP status
//   - search_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - search_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network)
//
// Retry Metrics (pkg/client):
//   - search_retries_total{error_class} (Counter): Retry attempts by error class
//   - search_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - search_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Rate Limit Metrics (pkg/ratelimit):
//   - search_rate_limit_remaining{endpoint} (Gauge): Requests left in the current window
//   - search_rate_limit_blocks_total (Counter): Requests refused while a window is exhausted
//   - search_rate_limit_throttles_total (Counter): Requests delayed near exhaustion
//
// Harvest Metrics (pkg/pagination):
//   - harvest_ticks_total{result} (Counter): Cadence ticks by result
//   - harvest_pages_total (Counter): Pages fetched and stored
//   - harvest_items_upserted_total (Counter): Items written to the store
//   - harvest_fetches_in_flight (Gauge): Fetch jobs currently executing (0 or 1)
//   - harvest_runs_total{outcome} (Counter): Finished runs (success, failed, stopped)
//
// Store Metrics (pkg/store):
//   - harvest_store_upsert_duration_seconds{driver} (Histogram): Batch upsert duration
//
// Example Prometheus Queries:
//
//   # Pages per minute
//   rate(harvest_pages_total[1m]) * 60
//
//   # Window nearly exhausted
//   search_rate_limit_remaining < 5
//
//   # Failed runs
//   increase(harvest_runs_total{outcome="failed"}[1h])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(search_request_duration_seconds_bucket[5m]))
