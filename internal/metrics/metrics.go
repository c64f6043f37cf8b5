// Package metrics exposes prometheus metrics for the delegating adapter:
// forwarded operation counts, failures by operation, and initialize timing.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the adapter's prometheus instruments.
type Collector struct {
	registry *prometheus.Registry

	operationCounter    *prometheus.CounterVec
	errorCounter        *prometheus.CounterVec
	initDuration        prometheus.Histogram
	acquisitionAttempts prometheus.Counter

	server *http.Server
}

// NewCollector creates a collector with its own registry.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		operationCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chdfs",
			Subsystem: "adapter",
			Name:      "operations_total",
			Help:      "Forwarded filesystem operations by operation name",
		}, []string{"operation"}),
		errorCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chdfs",
			Subsystem: "adapter",
			Name:      "operation_errors_total",
			Help:      "Failed forwarded operations by operation name",
		}, []string{"operation"}),
		initDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "chdfs",
			Subsystem: "adapter",
			Name:      "init_duration_seconds",
			Help:      "Time spent bootstrapping the backend, including acquisition retries",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		acquisitionAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chdfs",
			Subsystem: "adapter",
			Name:      "acquisition_attempts_total",
			Help:      "Backend acquisition attempts, including retries",
		}),
	}

	registry.MustRegister(c.operationCounter, c.errorCounter, c.initDuration, c.acquisitionAttempts)
	return c
}

// RecordOperation records one forwarded call and whether it failed.
func (c *Collector) RecordOperation(op string, failed bool) {
	if c == nil {
		return
	}
	c.operationCounter.WithLabelValues(op).Inc()
	if failed {
		c.errorCounter.WithLabelValues(op).Inc()
	}
}

// RecordAcquisitionAttempt records one backend acquisition attempt.
func (c *Collector) RecordAcquisitionAttempt() {
	if c == nil {
		return
	}
	c.acquisitionAttempts.Inc()
}

// ObserveInitDuration records a completed initialize.
func (c *Collector) ObserveInitDuration(d time.Duration) {
	if c == nil {
		return
	}
	c.initDuration.Observe(d.Seconds())
}

// Start serves the metrics endpoint on addr in the background.
func (c *Collector) Start(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))

	c.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
	}

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()
	return nil
}

// Stop shuts the metrics endpoint down.
func (c *Collector) Stop(ctx context.Context) error {
	if c.server != nil {
		return c.server.Shutdown(ctx)
	}
	return nil
}

// Registry exposes the underlying registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
