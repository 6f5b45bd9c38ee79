// Package metrics exposes certd pass and renewal outcomes to Prometheus.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "certd"

// Renewal results.
const (
	ResultIssued  = "issued"
	ResultSkipped = "skipped"
	ResultFailed  = "failed"
)

type Metrics struct {
	renewals       *prometheus.CounterVec
	passes         prometheus.Counter
	lastPass       prometheus.Gauge
	changedLast    prometheus.Gauge
	notifyFailures prometheus.Counter
	dhRefreshes    *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		renewals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "renewals_total",
			Help:      "Certificate pipeline runs by certificate name and result.",
		}, []string{"cert", "result"}),
		passes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "passes_total",
			Help:      "Completed orchestration passes.",
		}),
		lastPass: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_pass_timestamp_seconds",
			Help:      "Unix time the last orchestration pass finished.",
		}),
		changedLast: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_pass_changed_certificates",
			Help:      "Certificates reissued during the last pass.",
		}),
		notifyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notify_failures_total",
			Help:      "Notification targets that could not be signalled.",
		}),
		dhRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dhparam_refreshes_total",
			Help:      "DH parameter regenerations by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.renewals, m.passes, m.lastPass, m.changedLast, m.notifyFailures, m.dhRefreshes)
	return m
}

func (m *Metrics) ObserveRenewal(cert, result string) {
	if m == nil {
		return
	}
	m.renewals.WithLabelValues(cert, result).Inc()
}

func (m *Metrics) ObservePass(changed int, at time.Time) {
	if m == nil {
		return
	}
	m.passes.Inc()
	m.changedLast.Set(float64(changed))
	m.lastPass.Set(float64(at.Unix()))
}

func (m *Metrics) ObserveNotifyFailures(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.notifyFailures.Add(float64(n))
}

func (m *Metrics) ObserveDhRefresh(result string) {
	if m == nil {
		return
	}
	m.dhRefreshes.WithLabelValues(result).Inc()
}

// Serve exposes g on addr under /metrics until ctx is cancelled.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Failed to shut down metrics server", "error", err)
		}
	}()

	logger.Info("Serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
