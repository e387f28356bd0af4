// Package observability initializes tracing for the engine and the
// coordination protocols.
package observability

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// DefaultServiceName is the service name reported on traces.
const DefaultServiceName = "flowgo"

var (
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
)

// Config holds tracing configuration.
type Config struct {
	// ServiceName defaults to "flowgo".
	ServiceName string
	// Enabled controls whether tracing is active.
	Enabled bool
	// ExporterType is "otlp", "stdout" or "none".
	ExporterType string
	// OTLPEndpoint is the OTLP HTTP endpoint URL.
	OTLPEndpoint string
}

// InitFromEnv initializes tracing from the standard OpenTelemetry
// environment variables:
//   - OTEL_SERVICE_NAME (default "flowgo")
//   - OTEL_TRACES_EXPORTER: "otlp", "stdout" or "none" (default "none")
//   - OTEL_EXPORTER_OTLP_ENDPOINT
func InitFromEnv() error {
	return Init(Config{
		ServiceName:  getEnv("OTEL_SERVICE_NAME", DefaultServiceName),
		Enabled:      getEnv("OTEL_TRACES_ENABLED", "true") == "true",
		ExporterType: getEnv("OTEL_TRACES_EXPORTER", "none"),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	})
}

// Init initializes tracing with the given configuration. With tracing
// disabled the global (noop) tracer is used and Init never fails.
func Init(config Config) error {
	if config.ServiceName == "" {
		config.ServiceName = DefaultServiceName
	}
	if !config.Enabled || config.ExporterType == "none" || config.ExporterType == "" {
		tracer = otel.GetTracerProvider().Tracer(config.ServiceName)
		return nil
	}

	exporter, err := newExporter(config)
	if err != nil {
		return err
	}
	res, err := resource.New(context.Background(),
		resource.WithAttributes(semconv.ServiceName(config.ServiceName)))
	if err != nil {
		return fmt.Errorf("trace resource: %w", err)
	}

	provider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	tracer = provider.Tracer(config.ServiceName)
	log.Printf("tracing enabled (exporter=%s)", config.ExporterType)
	return nil
}

func newExporter(config Config) (sdktrace.SpanExporter, error) {
	switch config.ExporterType {
	case "otlp":
		var opts []otlptracehttp.Option
		if config.OTLPEndpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpointURL(config.OTLPEndpoint))
		}
		return otlptrace.New(context.Background(), otlptracehttp.NewClient(opts...))
	case "stdout":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	default:
		return nil, fmt.Errorf("unknown trace exporter: %q", config.ExporterType)
	}
}

// Shutdown flushes and stops the tracer provider.
func Shutdown(ctx context.Context) error {
	if provider == nil {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}
	return provider.Shutdown(ctx)
}

// StartSpan creates a span, falling back to the global (noop) tracer when
// tracing was never initialized.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	tr := tracer
	if tr == nil {
		tr = otel.GetTracerProvider().Tracer(DefaultServiceName)
	}
	return tr.Start(ctx, name, opts...)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
