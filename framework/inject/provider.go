package inject

import (
	"reflect"
	"sync"

	"go.uber.org/multierr"
)

// ── Provider interface ────────────────────────────────────────────────────────

// Provider groups the declarations of related services.
//
// Register is called first and only declares metadata on the binder. Boot is
// called after every eager provider has registered, making it safe to resolve
// services there.
//
//	type GarageProvider struct{ inject.BaseProvider }
//
//	func (p *GarageProvider) Register(b *inject.Binder) error {
//	    _, err := b.Declare(reflect.TypeFor[*Engine](), inject.With("cylinders", 4))
//	    return err
//	}
type Provider interface {
	// Register declares metadata on the binder. Do not resolve anything here.
	Register(b *Binder) error

	// Boot runs after all eager providers are registered.
	Boot(r Resolver) error

	// Provides lists the types a deferred provider declares.
	Provides() []reflect.Type

	// IsDeferred reports whether Register should wait until one of the
	// Provides() types is first looked up. Deferred providers are never
	// booted: they load while the registry is mid-resolution.
	IsDeferred() bool
}

// ── BaseProvider ──────────────────────────────────────────────────────────────

// BaseProvider supplies no-op Boot, Provides and IsDeferred. Embed it and
// implement Register.
type BaseProvider struct{}

func (p *BaseProvider) Boot(_ Resolver) error    { return nil }
func (p *BaseProvider) Provides() []reflect.Type { return nil }
func (p *BaseProvider) IsDeferred() bool         { return false }

// ── ProviderRegistry ──────────────────────────────────────────────────────────

// ProviderRegistry registers and boots providers against one binder.
type ProviderRegistry struct {
	mu         sync.Mutex
	binder     *Binder
	eager      []Provider
	deferred   map[reflect.Type]Provider
	booted     bool
	resolver   Resolver
	registered map[Provider]bool
}

// NewProviderRegistry returns a registry that declares into b.
func NewProviderRegistry(b *Binder) *ProviderRegistry {
	return &ProviderRegistry{
		binder:     b,
		deferred:   make(map[reflect.Type]Provider),
		registered: make(map[Provider]bool),
	}
}

// Register adds a provider. Eager providers register immediately; deferred
// ones hook their Provides() types on the binder. An eager provider added
// after Boot is booted right away.
func (pr *ProviderRegistry) Register(p Provider) error {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	if pr.registered[p] {
		return nil
	}
	pr.registered[p] = true

	if p.IsDeferred() {
		var once sync.Once
		var err error
		load := func() error {
			once.Do(func() { err = p.Register(pr.binder) })
			return err
		}
		for _, t := range p.Provides() {
			pr.deferred[normalizeType(t)] = p
			pr.binder.Defer(t, load)
		}
		return nil
	}

	if err := p.Register(pr.binder); err != nil {
		return err
	}
	pr.eager = append(pr.eager, p)
	if pr.booted {
		return p.Boot(pr.resolver)
	}
	return nil
}

// Boot calls Boot on every eager provider, in registration order, and
// returns all failures together.
func (pr *ProviderRegistry) Boot(r Resolver) error {
	pr.mu.Lock()
	if pr.booted {
		pr.mu.Unlock()
		return nil
	}
	pr.booted = true
	pr.resolver = r
	providers := append([]Provider(nil), pr.eager...)
	pr.mu.Unlock()

	var errs error
	for _, p := range providers {
		errs = multierr.Append(errs, p.Boot(r))
	}
	return errs
}

// Booted reports whether Boot has run.
func (pr *ProviderRegistry) Booted() bool {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return pr.booted
}

// Providers returns the eager providers.
func (pr *ProviderRegistry) Providers() []Provider {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return append([]Provider(nil), pr.eager...)
}

// DeferredFor returns the deferred provider declared for t, if any.
func (pr *ProviderRegistry) DeferredFor(t reflect.Type) (Provider, bool) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	p, ok := pr.deferred[normalizeType(t)]
	return p, ok
}
