// Package telemetry installs the OpenTelemetry tracer provider.
//
//	OTEL_ENABLED=true   record spans (default: off, noop provider)
//	OTEL_STDOUT=true    pretty-print spans to stdout
package telemetry

import (
	"context"
	"fmt"

	"github.com/OpenPecha/webuddhist/backend/internal/util"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationScope = "github.com/OpenPecha/webuddhist/backend"

// ShutdownFunc flushes pending spans.
type ShutdownFunc func(context.Context) error

func Enabled() bool {
	return util.GetEnvBool("OTEL_ENABLED", false)
}

// Init sets the global tracer provider. When disabled it installs a noop
// provider and the returned ShutdownFunc does nothing.
func Init(ctx context.Context, serviceName string) (ShutdownFunc, error) {
	if !Enabled() {
		otel.SetTracerProvider(tracenoop.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)),
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	}
	if util.GetEnvBool("OTEL_STDOUT", false) {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("telemetry: stdout exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exp))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationScope)
}
