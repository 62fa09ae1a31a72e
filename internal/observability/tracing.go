package observability

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/callinsights/hub/enrichment"

// Standard OTEL sampler env vars; read here so config stays free of tracing knobs.
const (
	envTracesSampler    = "OTEL_TRACES_SAMPLER"
	envTracesSamplerArg = "OTEL_TRACES_SAMPLER_ARG"
)

// StartJobSpan starts the span covering one job's processing. The returned func ends it and
// marks it as an error when failure is non-empty.
func StartJobSpan(ctx context.Context, jobID, callID uuid.UUID, jobType string) (context.Context, func(failure string)) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "enrichment.process",
		trace.WithAttributes(
			attribute.String("job.id", jobID.String()),
			attribute.String("call.id", callID.String()),
			attribute.String("job.type", jobType),
		))

	return ctx, func(failure string) {
		if failure != "" {
			span.SetStatus(codes.Error, failure)
		}

		span.End()
	}
}

func newSpanExporter(ctx context.Context, exporter string) (sdktrace.SpanExporter, error) {
	switch exporter {
	case TracesExporterOTLP:
		// Endpoint, headers and TLS come from OTEL_EXPORTER_OTLP_* env vars.
		exp, err := otlptracehttp.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("create OTLP HTTP trace exporter: %w", err)
		}

		return exp, nil
	case TracesExporterStdout:
		// stderr keeps spans apart from the slog stream on stdout.
		exp, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr))
		if err != nil {
			return nil, fmt.Errorf("create stdout trace exporter: %w", err)
		}

		return exp, nil
	default:
		//nolint:nilnil // unknown exporter means tracing disabled
		return nil, nil
	}
}

// newSampler honours OTEL_TRACES_SAMPLER; empty or unknown values give parentbased_always_on.
func newSampler() sdktrace.Sampler {
	ratio := func() float64 { return parseTraceIDRatio(os.Getenv(envTracesSamplerArg)) }

	switch os.Getenv(envTracesSampler) {
	case "always_on":
		return sdktrace.AlwaysSample()
	case "always_off":
		return sdktrace.NeverSample()
	case "traceidratio":
		return sdktrace.TraceIDRatioBased(ratio())
	case "parentbased_traceidratio":
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio()))
	case "parentbased_always_off":
		return sdktrace.ParentBased(sdktrace.NeverSample())
	default:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
}

// parseTraceIDRatio falls back to 1 (sample everything) on a missing or out-of-range value.
func parseTraceIDRatio(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 || f > 1 {
		return 1
	}

	return f
}
