package providers

import (
	"reflect"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	fhttp "github.com/km-arc/go-inject/framework/http"
	"github.com/km-arc/go-inject/framework/inject"
	"github.com/km-arc/go-inject/routing"
)

// ── RoutingServiceProvider ────────────────────────────────────────────────────

// RoutingServiceProvider declares the HTTP router.
//
// Declared types:
//   - *routing.Router  bound to the provider's logger
type RoutingServiceProvider struct {
	inject.BaseProvider
	Logger *zap.Logger
}

func (p *RoutingServiceProvider) Register(b *inject.Binder) error {
	_, err := b.Declare(reflect.TypeFor[*routing.Router](), inject.With("logger", p.Logger))
	return err
}

// ── InspectorServiceProvider ──────────────────────────────────────────────────

// InspectorServiceProvider declares the registry inspector and mounts its
// routes on the router at boot.
//
// Declared types:
//   - *fhttp.Inspector  bound to the resolving registry and the provider's logger
type InspectorServiceProvider struct {
	inject.BaseProvider
	Logger *zap.Logger
}

func (p *InspectorServiceProvider) Register(b *inject.Binder) error {
	_, err := b.Declare(reflect.TypeFor[*fhttp.Inspector](),
		inject.With("registry", inject.Self()),
		inject.With("logger", p.Logger),
	)
	return err
}

func (p *InspectorServiceProvider) Boot(r inject.Resolver) error {
	router, err := inject.Get[*routing.Router](r)
	if err != nil {
		return err
	}
	insp, err := inject.Get[*fhttp.Inspector](r)
	if err != nil {
		return err
	}
	insp.Routes(router)
	return nil
}

// ── MetricsServiceProvider ────────────────────────────────────────────────────

// MetricsServiceProvider exposes Gatherer on /metrics. It declares nothing.
type MetricsServiceProvider struct {
	inject.BaseProvider
	Gatherer prometheus.Gatherer
}

func (p *MetricsServiceProvider) Register(*inject.Binder) error { return nil }

func (p *MetricsServiceProvider) Boot(r inject.Resolver) error {
	if p.Gatherer == nil {
		return nil
	}
	router, err := inject.Get[*routing.Router](r)
	if err != nil {
		return err
	}
	router.Handle("/metrics", promhttp.HandlerFor(p.Gatherer, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	return nil
}
