package sundaecli

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

var TracingOpts struct {
	Endpoint string
}

var OtelEndpointFlag = StringFlag("otel-endpoint", "OTLP gRPC collector to export traces to; tracing is disabled when empty", &TracingOpts.Endpoint)

var TracingFlags = []cli.Flag{
	OtelEndpointFlag,
}

// Tracing installs a global tracer provider exporting to endpoint over OTLP
// gRPC. With no endpoint it does nothing. The returned func flushes and stops
// the exporter.
func Tracing(ctx context.Context, service Service, endpoint string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exp, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		return nil, fmt.Errorf("creating otlp exporter for %v: %w", endpoint, err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(service.Name),
			semconv.ServiceVersion(service.Version),
		)),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
