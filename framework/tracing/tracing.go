// Package tracing records registry lifecycle events as OpenTelemetry spans.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/km-arc/go-inject/framework/inject"
)

// Span name prefix and attribute keys.
const (
	SpanPrefix = "inject.registry."

	AttrRegistryID = "inject.registry.id"
	AttrType       = "inject.object.type"
	AttrName       = "inject.object.name"
	AttrMetadata   = "inject.object.metadata"
)

// Observer turns each lifecycle event into a span covering the event's
// start and duration.
type Observer struct {
	tracer trace.Tracer
}

// New returns an Observer. A nil tracer yields an observer that does nothing.
func New(tracer trace.Tracer) *Observer {
	return &Observer{tracer: tracer}
}

// Observe implements inject.Observer.
func (o *Observer) Observe(e inject.Event) {
	if o.tracer == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String(AttrRegistryID, e.Registry),
	}
	if e.Type != nil {
		attrs = append(attrs, attribute.String(AttrType, e.Type.String()))
	}
	if e.Name != "" {
		attrs = append(attrs, attribute.String(AttrName, e.Name))
	}
	if e.Meta != nil {
		attrs = append(attrs, attribute.String(AttrMetadata, e.Meta.String()))
	}

	_, span := o.tracer.Start(context.Background(), SpanPrefix+e.Kind.String(),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithTimestamp(e.Start),
		trace.WithAttributes(attrs...),
	)
	if e.Err != nil {
		span.RecordError(e.Err)
		span.SetStatus(codes.Error, e.Err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(e.Start.Add(e.Duration)))
}
