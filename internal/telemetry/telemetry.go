// Package telemetry wraps the OpenTelemetry tracer used around reconciliation
// steps.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ServiceName is the default instrumentation scope.
const ServiceName = "mirrorctl"

// Tracer returns a named tracer for the service.
func Tracer(service string) trace.Tracer {
	if service == "" {
		service = ServiceName
	}
	return otel.Tracer(service)
}

// Step runs fn inside a span and records its error on the span.
func Step(ctx context.Context, tracer trace.Tracer, name string, fn func(context.Context) error, attrs ...attribute.KeyValue) error {
	if tracer == nil {
		tracer = Tracer("")
	}
	ctx, span := tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	defer span.End()

	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}
