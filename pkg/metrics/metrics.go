// Package metrics holds the Prometheus metrics exported by the CRM migrator.
//
// Metrics are registered with the default registry through promauto, so any
// process importing this package exposes them on promhttp.Handler(). A
// one-shot migration run usually exits before a scrape happens, which is why
// Push is provided for Pushgateway delivery at the end of a run.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

// JobName is the Pushgateway job label used for migration runs.
const JobName = "crm_migrate"

// Registry is the registerer all migrator metrics are attached to.
var Registry = prometheus.DefaultRegisterer

// Request metrics (pkg/client).
var (
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_migrate_requests_total",
		Help: "Total CRM API requests by client, method and status",
	}, []string{"client", "method", "status"})

	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "crm_migrate_request_duration_seconds",
		Help:    "CRM API request duration in seconds by client",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"client"})

	RateLimitWait = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "crm_migrate_ratelimit_wait_seconds",
		Help:    "Time a request waited for the client-side rate limiter",
		Buckets: []float64{0, 0.01, 0.05, 0.1, 0.2, 0.5, 1},
	}, []string{"client"})

	RetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_migrate_retries_total",
		Help: "Total retry attempts by error class",
	}, []string{"class"})
)

// Pipeline metrics (pkg/migration).
var (
	RecordsFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_migrate_records_fetched_total",
		Help: "Records fetched from the source CRM by entity",
	}, []string{"entity"})

	RecordsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_migrate_records_written_total",
		Help: "Records written to the destination CRM by entity",
	}, []string{"entity"})

	BatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_migrate_batches_total",
		Help: "Batches processed by entity and result (ok, failed)",
	}, []string{"entity", "result"})

	BatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "crm_migrate_batch_duration_seconds",
		Help:    "Map and write duration of a single batch, excluding the inter-batch delay",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"entity"})
)

// Push sends the current state of the default gatherer to a Pushgateway,
// grouped by the process invocation so runs do not overwrite each other.
func Push(gatewayURL, invocationID string) error {
	if gatewayURL == "" {
		return errors.New("pushgateway url is required")
	}

	pusher := push.New(gatewayURL, JobName).
		Gatherer(prometheus.DefaultGatherer).
		Grouping("invocation", invocationID)

	if err := pusher.Push(); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	}
}

// Metric reference
//
// Request metrics (pkg/client):
//   - crm_migrate_requests_total{client, method, status} (Counter)
//   - crm_migrate_request_duration_seconds{client} (Histogram)
//   - crm_migrate_ratelimit_wait_seconds{client} (Histogram)
//   - crm_migrate_retries_total{class} (Counter), only with RETRY_ATTEMPTS > 1
//
// Pipeline metrics (pkg/migration):
//   - crm_migrate_records_fetched_total{entity} (Counter)
//   - crm_migrate_records_written_total{entity} (Counter)
//   - crm_migrate_batches_total{entity, result} (Counter)
//   - crm_migrate_batch_duration_seconds{entity} (Histogram)
//
// Example queries:
//
//   # Destination write failures
//   sum by (entity) (crm_migrate_batches_total{result="failed"})
//
//   # Share of time spent waiting on the client-side limiter
//   sum(rate(crm_migrate_ratelimit_wait_seconds_sum[5m])) /
//   sum(rate(crm_migrate_request_duration_seconds_sum[5m]))
