package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// metricsReadHeaderTimeout bounds the Prometheus scrape server's header
// read, matching the teacher's gosec-driven habit of never leaving an
// http.Server's header timeout at its zero value.
const metricsReadHeaderTimeout = 5 * time.Second

// buildPrometheusMeterProvider wires the OTel Prometheus bridge exporter
// (every IngestMetrics instrument is already an OTel instrument) into
// client_golang's default registry and serves it over HTTP, rather than
// hand-maintaining a parallel set of prometheus.Collector values.
func buildPrometheusMeterProvider(cfg Config, res *resource.Resource) (metric.MeterProvider, shutdownFunc, error) {
	exporter, err := otelprom.New()
	if err != nil {
		return nil, nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              cfg.PrometheusAddr,
		Handler:           mux,
		ReadHeaderTimeout: metricsReadHeaderTimeout,
	}

	logger := buildLogger(cfg)

	go func() {
		if srvErr := server.ListenAndServe(); srvErr != nil && !errors.Is(srvErr, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "error", srvErr)
		}
	}()

	shutdown := func(ctx context.Context) error {
		return errors.Join(server.Shutdown(ctx), mp.Shutdown(ctx))
	}

	return mp, shutdown, nil
}
