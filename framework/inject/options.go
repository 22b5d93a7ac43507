package inject

import (
	"go.uber.org/zap"

	"github.com/km-arc/go-inject/framework/config"
)

// Option configures a Registry.
type Option func(*Registry)

// WithBinder sets the metadata side-table. Defaults to DefaultBinder().
func WithBinder(b *Binder) Option {
	return func(r *Registry) { r.binder = b }
}

// WithConfig sets the configuration store. Defaults to an empty store.
func WithConfig(s *config.Store) Option {
	return func(r *Registry) { r.cfg = s }
}

// WithLogger sets the logger. Defaults to zap.NewNop().
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithObserver adds a lifecycle observer.
func WithObserver(o Observer) Option {
	return func(r *Registry) { r.observers = append(r.observers, o) }
}

// WithCycles enables cyclic resolution. A dependency that refers back to an
// object still being constructed receives that object before its constructor
// has returned. Without this option such a cycle fails with a *CycleError.
func WithCycles() Option {
	return func(r *Registry) { r.allowCycles = true }
}
