package metrics

import (
	"cmp"
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgcrud_http_requests_total",
			Help: "Total number of HTTP requests by environment, method and status code",
		},
		[]string{"env", "method", "code"},
	)

	Operations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgcrud_operations_total",
			Help: "Total number of CRUD operations by table, operation and outcome",
		},
		[]string{"table", "op", "outcome"},
	)

	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pgcrud_operation_duration_seconds",
			Help:    "Duration of CRUD operations including commit",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"table", "op"},
	)

	VerboseLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgcrud_verbose_lookups_total",
			Help: "Total number of referenced-row lookups made by verbose expansion",
		},
		[]string{"table"},
	)

	DatabaseErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgcrud_database_errors_total",
			Help: "Total number of database errors by class",
		},
		[]string{"class"},
	)

	PublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgcrud_publish_errors_total",
			Help: "Total number of change-event publish errors by sink",
		},
		[]string{"sink"},
	)

	PublishedEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgcrud_published_events_total",
			Help: "Total number of change events published by sink",
		},
		[]string{"sink"},
	)
)

// ObserveOperation records the outcome and duration of one CRUD operation.
func ObserveOperation(table, op string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	Operations.WithLabelValues(table, op, outcome).Inc()
	OperationDuration.WithLabelValues(table, op).Observe(time.Since(start).Seconds())
}

type PromServerOpts struct {
	Logger            *zap.Logger
	Addr              string
	Path              string        // defaults to "/metrics"
	ShutdownTimeout   time.Duration // defaults to 5 seconds
	ReadHeaderTimeout time.Duration // defaults to 3 seconds
}

func defaultPrometheusServerOptions() PromServerOpts {
	return PromServerOpts{
		Logger:            zap.NewNop(),
		Addr:              ":9100",
		Path:              "/metrics",
		ShutdownTimeout:   5 * time.Second,
		ReadHeaderTimeout: 3 * time.Second,
	}
}

// StartPrometheusServer serves the default registry until ctx is canceled.
// wg is released once the listener has stopped.
func StartPrometheusServer(ctx context.Context, wg *sync.WaitGroup, opts *PromServerOpts) {
	effectiveOpts := defaultPrometheusServerOptions()
	if opts != nil {
		effectiveOpts.Addr = cmp.Or(opts.Addr, effectiveOpts.Addr)
		effectiveOpts.Path = cmp.Or(opts.Path, effectiveOpts.Path)
		effectiveOpts.ShutdownTimeout = cmp.Or(opts.ShutdownTimeout, effectiveOpts.ShutdownTimeout)
		effectiveOpts.ReadHeaderTimeout = cmp.Or(opts.ReadHeaderTimeout, effectiveOpts.ReadHeaderTimeout)
		if opts.Logger != nil {
			effectiveOpts.Logger = opts.Logger
		}
	}
	logger := effectiveOpts.Logger.With(zap.String("component", "metrics"))

	mux := http.NewServeMux()
	mux.Handle(effectiveOpts.Path, promhttp.Handler())
	server := &http.Server{
		Addr:              effectiveOpts.Addr,
		Handler:           mux,
		ReadHeaderTimeout: effectiveOpts.ReadHeaderTimeout,
	}

	serverClosed := make(chan struct{})
	wg.Add(1)

	go func() {
		defer wg.Done()
		logger.Info("starting metrics server", zap.String("addr", effectiveOpts.Addr), zap.String("path", effectiveOpts.Path))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", zap.Error(err))
		}
		close(serverClosed)
	}()

	go func() {
		<-ctx.Done()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), effectiveOpts.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("error shutting down metrics server", zap.Error(err))
		}

		select {
		case <-serverClosed:
			logger.Info("metrics server shutdown complete")
		case <-shutdownCtx.Done():
			logger.Warn("metrics server shutdown timed out")
		}
	}()
}
