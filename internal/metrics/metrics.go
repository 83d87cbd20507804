// Package metrics exposes live harness counters to Prometheus. Every
// Metrics owns its registry so concurrent runs never share collectors.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"steadybench/internal/completion"
)

type Metrics struct {
	registry *prometheus.Registry

	issuedQueries    prometheus.Counter
	issuedSamples    prometheus.Counter
	completedSamples prometheus.Counter
	violations       *prometheus.CounterVec
	inflight         prometheus.Gauge
	phase            *prometheus.GaugeVec
	latency          prometheus.Histogram
	scheduleLag      prometheus.Histogram
}

func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.issuedQueries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "steadybench",
		Name:      "issued_queries_total",
		Help:      "Queries handed to the system under test",
	})
	m.issuedSamples = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "steadybench",
		Name:      "issued_samples_total",
		Help:      "Samples handed to the system under test",
	})
	m.completedSamples = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "steadybench",
		Name:      "completed_samples_total",
		Help:      "Sample completions recorded",
	})
	m.violations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "steadybench",
		Name:      "protocol_violations_total",
		Help:      "Completions rejected by the completion queue",
	}, []string{"kind"})
	m.inflight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "steadybench",
		Name:      "inflight_samples",
		Help:      "Samples issued but not yet recorded",
	})
	m.phase = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "steadybench",
		Name:      "phase_active",
		Help:      "1 while the named phase runs",
	}, []string{"phase"})
	m.latency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "steadybench",
		Name:      "sample_latency_seconds",
		Help:      "Issue to completion latency per sample",
		Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 22), // 10us to ~21s
	})
	m.scheduleLag = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "steadybench",
		Name:      "schedule_lag_seconds",
		Help:      "Actual minus scheduled issue time per query",
		Buckets:   prometheus.ExponentialBuckets(0.000001, 4, 12),
	})

	m.registry.MustRegister(
		m.issuedQueries, m.issuedSamples, m.completedSamples, m.violations,
		m.inflight, m.phase, m.latency, m.scheduleLag,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveIssue is called once per issued query. A nil Metrics is a no-op so
// callers never branch on whether metrics are enabled.
func (m *Metrics) ObserveIssue(samples int, lag time.Duration) {
	if m == nil {
		return
	}
	m.issuedQueries.Inc()
	m.issuedSamples.Add(float64(samples))
	m.inflight.Add(float64(samples))
	if lag < 0 {
		lag = 0
	}
	m.scheduleLag.Observe(lag.Seconds())
}

// ObserveCompletions is called on the drain side with each record batch.
func (m *Metrics) ObserveCompletions(records []completion.Record) {
	if m == nil || len(records) == 0 {
		return
	}
	for i := range records {
		m.latency.Observe(records[i].Latency().Seconds())
	}
	m.completedSamples.Add(float64(len(records)))
	m.inflight.Sub(float64(len(records)))
}

// ObserveViolations adds the queue's violation counters of a finished phase.
func (m *Metrics) ObserveViolations(v completion.Violations) {
	if m == nil {
		return
	}
	m.violations.WithLabelValues("unknown").Add(float64(v.Unknown))
	m.violations.WithLabelValues("duplicate").Add(float64(v.Duplicate))
	m.violations.WithLabelValues("late").Add(float64(v.Late))
}

func (m *Metrics) SetPhase(phase string, active bool) {
	if m == nil {
		return
	}
	v := 0.0
	if active {
		v = 1
	}
	m.phase.WithLabelValues(phase).Set(v)
}

// ResetInflight zeroes the in-flight gauge between phases.
func (m *Metrics) ResetInflight() {
	if m == nil {
		return
	}
	m.inflight.Set(0)
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
