package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/km-arc/go-inject/framework/config"
	"github.com/km-arc/go-inject/framework/inject"
	"github.com/km-arc/go-inject/framework/metrics"
	"github.com/km-arc/go-inject/framework/providers"
	"github.com/km-arc/go-inject/framework/tracing"
	"github.com/km-arc/go-inject/routing"
)

const tracerName = "github.com/km-arc/go-inject"

// Options configures New.
type Options struct {
	// ConfigFile is a YAML or JSON file. Empty means no file.
	ConfigFile string
	// EnvFiles are dotenv files loaded before the config file is read.
	EnvFiles []string
	// Logger defaults to zap.NewNop().
	Logger *zap.Logger
	// SpanExporter receives registry lifecycle spans. Nil drops them.
	SpanExporter sdktrace.SpanExporter
	// Cycles enables cyclic resolution in the registry.
	Cycles bool
}

// Application ties a registry to its providers and the inspection server.
type Application struct {
	Config    *config.Store
	Binder    *inject.Binder
	Providers *inject.ProviderRegistry
	Registry  *inject.Registry
	Metrics   *prometheus.Registry

	logger *zap.Logger
	tracer *sdktrace.TracerProvider
}

// New loads configuration, builds the registry with metrics and tracing
// observers and registers the framework providers.
func New(opts Options) (*Application, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg, err := config.Load(opts.ConfigFile, opts.EnvFiles...)
	if err != nil {
		return nil, err
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	observer, err := metrics.New(promReg)
	if err != nil {
		return nil, err
	}

	var tpOpts []sdktrace.TracerProviderOption
	if opts.SpanExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(opts.SpanExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	binder := inject.NewBinder()
	regOpts := []inject.Option{
		inject.WithBinder(binder),
		inject.WithConfig(cfg),
		inject.WithLogger(logger),
		inject.WithObserver(observer),
		inject.WithObserver(tracing.New(tp.Tracer(tracerName))),
	}
	if opts.Cycles {
		regOpts = append(regOpts, inject.WithCycles())
	}

	a := &Application{
		Config:    cfg,
		Binder:    binder,
		Providers: inject.NewProviderRegistry(binder),
		Registry:  inject.New(regOpts...),
		Metrics:   promReg,
		logger:    logger,
		tracer:    tp,
	}

	// the inspector and metrics providers mount on the router at boot
	for _, p := range []inject.Provider{
		&providers.RoutingServiceProvider{Logger: logger},
		&providers.InspectorServiceProvider{Logger: logger},
		&providers.MetricsServiceProvider{Gatherer: promReg},
	} {
		if err := a.Providers.Register(p); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Register adds a provider to the application.
func (a *Application) Register(p inject.Provider) error {
	return a.Providers.Register(p)
}

// Boot runs every provider's Boot phase, then starts the registry, which
// resolves the configured autostart types.
func (a *Application) Boot() error {
	if a.Providers.Booted() {
		return nil
	}
	if err := a.Providers.Boot(a.Registry); err != nil {
		return err
	}
	if err := a.Registry.Start(); err != nil {
		return err
	}
	a.logger.Info("application booted",
		zap.String("registry_id", a.Registry.ID()),
		zap.Int("objects", a.Registry.Len()),
	)
	return nil
}

// Router resolves the HTTP router from the registry.
func (a *Application) Router() (*routing.Router, error) {
	return inject.Get[*routing.Router](a.Registry)
}

// Serve boots the application if needed, opens the registry's async scope and
// serves the router on l until ctx is canceled. The scope is exited and the
// registry closed before Serve returns.
func (a *Application) Serve(ctx context.Context, l net.Listener) error {
	if err := a.Boot(); err != nil {
		return err
	}
	router, err := a.Router()
	if err != nil {
		return err
	}
	if !a.Registry.Entered() {
		if err := a.Registry.Enter(ctx); err != nil {
			return err
		}
	}

	srv := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("serving", zap.String("addr", l.Addr().String()))
		errCh <- srv.Serve(l)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)
	if errors.Is(serveErr, http.ErrServerClosed) {
		serveErr = nil
	}
	return multierr.Combine(serveErr, err, a.Shutdown(shutdownCtx))
}

// ListenAndServe listens on addr and calls Serve.
func (a *Application) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return a.Serve(ctx, l)
}

// Shutdown exits the registry's async scope when it is open, closes the
// registry and flushes pending spans.
func (a *Application) Shutdown(ctx context.Context) error {
	var err error
	if a.Registry.Entered() {
		err = a.Registry.Exit(ctx)
	} else {
		err = a.Registry.Close()
	}
	if err != nil {
		a.logger.Warn("closing registry", zap.Error(err))
	}
	return multierr.Append(err, a.tracer.Shutdown(ctx))
}
