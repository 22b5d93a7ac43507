package tracing_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/km-arc/go-inject/framework/inject"
	"github.com/km-arc/go-inject/framework/tracing"
)

type Engine struct{ Cylinders int }

type Broken struct{}

func (*Broken) Init(inject.Args) error { return errors.New("broken") }

func setupTestTracer(t *testing.T) (trace.Tracer, *tracetest.InMemoryExporter) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = provider.Shutdown(t.Context()) })
	return provider.Tracer("inject-test"), exporter
}

func spanNames(exporter *tracetest.InMemoryExporter) []string {
	var names []string
	for _, s := range exporter.GetSpans() {
		names = append(names, s.Name)
	}
	return names
}

func attr(span tracetest.SpanStub, key string) (attribute.Value, bool) {
	for _, kv := range span.Attributes {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestObserver_SpanPerEvent(t *testing.T) {
	tracer, exporter := setupTestTracer(t)
	b := inject.NewBinder()
	inject.BindIn[*Engine](b, inject.With("cylinders", 4), inject.Named("main"))
	reg := inject.New(inject.WithBinder(b), inject.WithObserver(tracing.New(tracer)))

	_, err := inject.Get[*Engine](reg)
	require.NoError(t, err)
	require.NoError(t, reg.Close())

	assert.Equal(t, []string{
		"inject.registry.constructed",
		"inject.registry.started",
		"inject.registry.closed",
	}, spanNames(exporter))

	span := exporter.GetSpans()[0]
	v, ok := attr(span, tracing.AttrType)
	require.True(t, ok)
	assert.Equal(t, "*tracing_test.Engine", v.AsString())
	v, ok = attr(span, tracing.AttrName)
	require.True(t, ok)
	assert.Equal(t, "main", v.AsString())
	v, ok = attr(span, tracing.AttrRegistryID)
	require.True(t, ok)
	assert.Equal(t, reg.ID(), v.AsString())
	assert.Equal(t, codes.Ok, span.Status.Code)
	assert.False(t, span.EndTime.Before(span.StartTime))
}

func TestObserver_RecordsFailure(t *testing.T) {
	tracer, exporter := setupTestTracer(t)
	reg := inject.New(inject.WithBinder(inject.NewBinder()), inject.WithObserver(tracing.New(tracer)))

	_, err := inject.Get[*Broken](reg)
	require.Error(t, err)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "inject.registry.construct_failed", spans[0].Name)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Equal(t, "broken", spans[0].Status.Description)
	assert.NotEmpty(t, spans[0].Events, "the error is recorded as an event")
}

func TestObserver_NilTracer(t *testing.T) {
	reg := inject.New(inject.WithBinder(inject.NewBinder()), inject.WithObserver(tracing.New(nil)))
	_, err := inject.Get[*Engine](reg)
	assert.NoError(t, err)
}
