package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	prometheusexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const (
	meterScope       = "github.com/callinsights/hub/internal/observability"
	cardinalityLimit = 2000
	otlpPushInterval = 60 * time.Second
)

// Metrics exporters accepted by NewMeterProvider.
const (
	MetricsExporterPrometheus = "prometheus"
	MetricsExporterOTLP       = "otlp"
)

var (
	// Request-scale latencies: HTTP, vector search, webhook delivery.
	latencyBuckets = []float64{0.005, 0.025, 0.1, 0.5, 1, 2.5, 5}
	// Enrichment jobs call transcription and LLM capabilities and run for seconds to minutes.
	jobBuckets = []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300}
)

// MeterProviderConfig configures NewMeterProvider.
type MeterProviderConfig struct {
	// Exporter is "prometheus" (default, pull via Handler) or "otlp" (push; Handler is nil).
	Exporter string
	// ServiceName is the service.name resource attribute (default: callinsights-hub).
	ServiceName string
	// RuntimeMetrics adds the Go runtime and process collectors to /metrics.
	RuntimeMetrics bool
}

// MeterProvider bundles the SDK provider with the hub instruments and, for Prometheus, the
// /metrics handler. Shutdown must be called on exit.
type MeterProvider struct {
	*sdkmetric.MeterProvider

	Handler http.Handler
	Metrics *Metrics
}

// NewMeterProvider builds the provider for cfg.Exporter. Prometheus uses a private registry, so
// nothing from the default registry leaks onto /metrics. Do not call it when metrics are disabled.
func NewMeterProvider(ctx context.Context, cfg MeterProviderConfig) (*MeterProvider, error) {
	res, err := newResource(ctx, cfg.ServiceName)
	if err != nil {
		return nil, err
	}

	reader, handler, err := newMetricReader(ctx, cfg)
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
		sdkmetric.WithCardinalityLimit(cardinalityLimit),
		sdkmetric.WithView(
			bucketsView(MetricNameHTTPDuration, latencyBuckets),
			bucketsView(MetricNameSearchDuration, latencyBuckets),
			bucketsView(MetricNameWebhookDeliveryLatency, latencyBuckets),
			bucketsView(MetricNameEnrichmentDuration, jobBuckets),
		),
	)

	metrics, err := NewMetrics(mp.Meter(meterScope))
	if err != nil {
		_ = mp.Shutdown(context.Background())

		return nil, fmt.Errorf("create metrics instruments: %w", err)
	}

	return &MeterProvider{MeterProvider: mp, Handler: handler, Metrics: metrics}, nil
}

func newMetricReader(ctx context.Context, cfg MeterProviderConfig) (sdkmetric.Reader, http.Handler, error) {
	switch cfg.Exporter {
	case MetricsExporterOTLP:
		// Endpoint, headers and TLS come from the OTEL_EXPORTER_OTLP_* variables.
		exp, err := otlpmetrichttp.New(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("create otlp metric exporter: %w", err)
		}

		return sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(otlpPushInterval)), nil, nil
	case "", MetricsExporterPrometheus:
		reg := prometheus.NewRegistry()
		if cfg.RuntimeMetrics {
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
		}

		exp, err := prometheusexporter.New(prometheusexporter.WithRegisterer(reg))
		if err != nil {
			return nil, nil, fmt.Errorf("create prometheus exporter: %w", err)
		}

		return exp, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}), nil
	default:
		return nil, nil, fmt.Errorf("unsupported metrics exporter %q", cfg.Exporter)
	}
}

func bucketsView(name string, bounds []float64) sdkmetric.View {
	return sdkmetric.NewView(
		sdkmetric.Instrument{Name: name},
		sdkmetric.Stream{Aggregation: sdkmetric.AggregationExplicitBucketHistogram{Boundaries: bounds}},
	)
}
