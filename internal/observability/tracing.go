package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// TracerName is the instrumentation scope for spans created by this service.
const TracerName = "github.com/kjstillabower/zipcode-weather"

// ShutdownFunc flushes and stops a telemetry pipeline.
type ShutdownFunc func(context.Context) error

// SetupTracing installs a global tracer provider for the named exporter:
// "stdout" writes spans to stdout, "discard" exercises the pipeline without
// output, "none" or "" leaves the global no-op provider in place.
func SetupTracing(exporter string) (ShutdownFunc, error) {
	var w io.Writer
	switch strings.ToLower(strings.TrimSpace(exporter)) {
	case "", "none":
		return func(context.Context) error { return nil }, nil
	case "stdout":
		w = os.Stdout
	case "discard":
		w = io.Discard
	default:
		return nil, fmt.Errorf("unknown tracing exporter: %q", exporter)
	}

	exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("create stdout trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
