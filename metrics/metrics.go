package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/xerrors"
)

const namespace = "vuln_dataset"

// Classification outcomes.
const (
	OutcomeOK           = "ok"
	OutcomeBackendError = "backend_error"
	OutcomeParseError   = "parse_error"
	OutcomeTimeout      = "timeout"
	OutcomeCacheHit     = "cache_hit"
)

// Metrics holds the collectors of one run. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	recordsCollected       *prometheus.CounterVec
	recordsDropped         *prometheus.CounterVec
	recordsExported        prometheus.Counter
	classifications        *prometheus.CounterVec
	classificationDuration *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		recordsCollected: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "records_collected_total", Help: "Raw records returned by each feed."},
			[]string{"source"},
		),
		recordsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "records_dropped_total", Help: "Records removed before export, by reason."},
			[]string{"reason"},
		),
		recordsExported: prometheus.NewCounter(
			prometheus.CounterOpts{Namespace: namespace, Name: "records_exported_total", Help: "Records written by the exporter."},
		),
		classifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "classifications_total", Help: "Provider classification calls, by outcome."},
			[]string{"provider", "outcome"},
		),
		classificationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "classification_duration_seconds",
				Help:      "Latency of provider classification calls, retries included.",
				Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
			},
			[]string{"provider"},
		),
	}
	m.Registry.MustRegister(
		m.recordsCollected,
		m.recordsDropped,
		m.recordsExported,
		m.classifications,
		m.classificationDuration,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) RecordsCollected(source string, n int) {
	if m == nil {
		return
	}
	m.recordsCollected.WithLabelValues(source).Add(float64(n))
}

func (m *Metrics) RecordDropped(reason string) {
	if m == nil {
		return
	}
	m.recordsDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordsExported(n int) {
	if m == nil {
		return
	}
	m.recordsExported.Add(float64(n))
}

func (m *Metrics) Classification(provider, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.classifications.WithLabelValues(provider, outcome).Inc()
	if outcome != OutcomeCacheHit {
		m.classificationDuration.WithLabelValues(provider).Observe(d.Seconds())
	}
}

// ClassificationsCounter returns the counter of one provider and outcome.
func (m *Metrics) ClassificationsCounter(provider, outcome string) prometheus.Counter {
	return m.classifications.WithLabelValues(provider, outcome)
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Serving metrics", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return xerrors.Errorf("metrics server: %w", err)
	}
	return nil
}
