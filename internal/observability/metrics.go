// Package observability wires the Prometheus registry and HTTP endpoint.
package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"

	"github.com/tphakala/mediacore/internal/logger"
	"github.com/tphakala/mediacore/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry   *prometheus.Registry
	BufferPool *metrics.BufferPoolMetrics
	Memory     *metrics.MemoryMetrics
	Codec      *metrics.CodecMetrics
}

// NewMetrics creates a registry with every collector registered.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("failed to register Go collector: %w", err)
	}

	bp, err := metrics.NewBufferPoolMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create buffer pool metrics: %w", err)
	}

	mem, err := metrics.NewMemoryMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory metrics: %w", err)
	}

	codec, err := metrics.NewCodecMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create codec metrics: %w", err)
	}

	return &Metrics{
		registry:   registry,
		BufferPool: bp,
		Memory:     mem,
		Codec:      codec,
	}, nil
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Total sums every series of the named family. Histograms contribute
// their observation count. A family with no series yields zero.
func (m *Metrics) Total(name string) (float64, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return 0, fmt.Errorf("failed to gather metrics: %w", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return sumFamily(mf), nil
		}
	}
	return 0, nil
}

func sumFamily(mf *dto.MetricFamily) float64 {
	var total float64
	for _, metric := range mf.GetMetric() {
		switch mf.GetType() {
		case dto.MetricType_COUNTER:
			total += metric.GetCounter().GetValue()
		case dto.MetricType_GAUGE:
			total += metric.GetGauge().GetValue()
		case dto.MetricType_HISTOGRAM:
			total += float64(metric.GetHistogram().GetSampleCount())
		}
	}
	return total
}

// Handler returns the /metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Serve exposes /metrics on listen until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, listen string) error {
	log := logger.Global().Module("observability")

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("metrics endpoint listening", logger.String("listen", listen))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("metrics server shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
