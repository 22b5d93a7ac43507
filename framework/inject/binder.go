package inject

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"
)

// Binder is the side-table that maps types to their declared Metadata. It is
// the only place the engine learns how to build a type; the engine never
// inspects a type beyond what its Binder reports.
//
// Multiple inheritance is not supported: only the first embedded struct field
// of a type is followed when looking for inherited bindings.
type Binder struct {
	mu       sync.RWMutex
	own      map[reflect.Type]*Metadata
	derived  map[reflect.Type]*Metadata
	byName   map[string]reflect.Type
	deferred map[reflect.Type]func() error
}

// NewBinder returns an empty Binder.
func NewBinder() *Binder {
	return &Binder{
		own:      make(map[reflect.Type]*Metadata),
		derived:  make(map[reflect.Type]*Metadata),
		byName:   make(map[string]reflect.Type),
		deferred: make(map[reflect.Type]func() error),
	}
}

var defaultBinder = NewBinder()

// DefaultBinder returns the process-wide Binder used by Bind and Define.
func DefaultBinder() *Binder { return defaultBinder }

// ── Options ──────────────────────────────────────────────────────────────────

// BindOption configures a Metadata. Options run with the metadata locked.
type BindOption func(m *Metadata) error

// With binds a constructor argument to a value, concrete or Deferred.
func With(name string, value any) BindOption {
	return func(m *Metadata) error {
		m.setBinding(name, value)
		return nil
	}
}

// WithArgs binds several arguments at once.
func WithArgs(args Args) BindOption {
	return func(m *Metadata) error {
		for name, value := range args {
			m.setBinding(name, value)
		}
		return nil
	}
}

// Named stores the object under name instead of its key, and selects the
// registry.by_name config overrides.
func Named(name string) BindOption {
	return func(m *Metadata) error {
		m.name = name
		return nil
	}
}

// OnStart sets a hook run after the object is constructed, once the resolution
// that built it has released the registry lock. Hooks start in construction
// order and may call back into the registry.
func OnStart[T any](fn func(T) error) BindOption {
	return func(m *Metadata) error {
		if err := checkHookType[T](m, "OnStart"); err != nil {
			return err
		}
		m.start = func(obj any) error { return fn(obj.(T)) }
		return nil
	}
}

// OnClose sets a hook run once when the registry is closed.
func OnClose[T any](fn func(T) error) BindOption {
	return func(m *Metadata) error {
		if err := checkHookType[T](m, "OnClose"); err != nil {
			return err
		}
		m.close = func(obj any) error { return fn(obj.(T)) }
		return nil
	}
}

func checkHookType[T any](m *Metadata, op string) error {
	want := reflect.TypeFor[T]()
	if !m.target.AssignableTo(want) {
		return misuse(op, "hook takes %s but %s is built", want, m.target)
	}
	return nil
}

// Provides declares interfaces the built object is indexed under. Each must
// be an interface type that the target implements.
func Provides(ifaces ...reflect.Type) BindOption {
	return func(m *Metadata) error {
		for _, iface := range ifaces {
			if iface.Kind() != reflect.Interface {
				return misuse("Provides", "%s is not an interface", iface)
			}
			if !m.target.Implements(iface) {
				return misuse("Provides", "%s does not implement %s", m.target, iface)
			}
			if !containsType(m.interfaces, iface) {
				m.interfaces = append(m.interfaces, iface)
			}
		}
		return nil
	}
}

// AsyncManaged marks the type as an async-scoped resource. It may then only be
// resolved through ResolveAsync inside an entered registry scope.
func AsyncManaged() BindOption {
	return func(m *Metadata) error {
		if !m.target.Implements(asyncContextType) {
			return misuse("AsyncManaged", "%s does not implement AsyncContext", m.target)
		}
		m.async = true
		return nil
	}
}

// AsyncContext is implemented by objects with asynchronous setup/teardown.
// Enter must return the receiver itself.
type AsyncContext interface {
	Enter(ctx context.Context) (any, error)
	Exit(ctx context.Context) error
}

var asyncContextType = reflect.TypeFor[AsyncContext]()

// ── Declaration ──────────────────────────────────────────────────────────────

// Bind declares bindings for T on the default binder and panics on misuse,
// like regexp.MustCompile. Use it from package-level var blocks:
//
//	var _ = inject.Bind[*Car](inject.With("engine", inject.Ref[*Engine]()))
func Bind[T any](opts ...BindOption) *Metadata {
	return BindIn[T](defaultBinder, opts...)
}

// BindIn is Bind against an explicit binder.
func BindIn[T any](b *Binder, opts ...BindOption) *Metadata {
	m, err := b.Declare(reflect.TypeFor[T](), opts...)
	if err != nil {
		panic(err)
	}
	return m
}

// Declare records bindings for t. Repeated declarations merge, later values
// winning. The first declaration starts from any inherited bindings.
func (b *Binder) Declare(t reflect.Type, opts ...BindOption) (*Metadata, error) {
	target, err := constructible(t)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	m, ok := b.own[target]
	if !ok {
		if base := b.inheritedLocked(target); base != nil {
			m = base.derive(target)
		} else {
			m = newMetadata(target)
		}
		b.own[target] = m
		delete(b.derived, target)
		b.byName[TypeKey(target)] = target
	}
	b.mu.Unlock()

	if err := m.Update(opts...); err != nil {
		return nil, err
	}
	return m, nil
}

// Define returns a fresh Metadata for T with T's inherited bindings copied and
// opts applied on top. Equal definitions share one registry slot.
func Define[T any](opts ...BindOption) *Metadata {
	return DefineIn[T](defaultBinder, opts...)
}

// DefineIn is Define against an explicit binder.
func DefineIn[T any](b *Binder, opts ...BindOption) *Metadata {
	m, err := b.Define(reflect.TypeFor[T](), opts...)
	if err != nil {
		panic(err)
	}
	return m
}

// Define is the non-panicking form of the package-level Define.
func (b *Binder) Define(t reflect.Type, opts ...BindOption) (*Metadata, error) {
	target, err := constructible(t)
	if err != nil {
		return nil, err
	}
	var m *Metadata
	if base := b.Inherited(target); base != nil {
		m = base.derive(target)
		// a definition carries only the hooks and name given to it
		m.start, m.close = nil, nil
	} else {
		m = newMetadata(target)
	}
	if err := m.Update(opts...); err != nil {
		return nil, err
	}
	return m, nil
}

// Defer registers fn to be run the first time metadata for t is looked up and
// t has none of its own. Deferred providers use it to declare lazily.
func (b *Binder) Defer(t reflect.Type, fn func() error) {
	target, err := constructible(t)
	if err != nil {
		target = t
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deferred[target] = fn
}

// ── Lookup ───────────────────────────────────────────────────────────────────

// Own returns the metadata declared directly on t, ignoring inheritance.
func (b *Binder) Own(t reflect.Type) *Metadata {
	t = normalizeType(t)
	b.loadDeferred(t)
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.own[t]
}

// Inherited returns t's own metadata or, failing that, the nearest metadata
// found by following first embedded struct fields.
func (b *Binder) Inherited(t reflect.Type) *Metadata {
	t = normalizeType(t)
	b.loadDeferred(t)
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.inheritedLocked(t)
}

func (b *Binder) inheritedLocked(t reflect.Type) *Metadata {
	for cur := t; cur != nil; cur = embeddedBase(cur) {
		if m, ok := b.own[cur]; ok {
			return m
		}
	}
	return nil
}

// Metadata returns the metadata the registry uses to build t: its own, or a
// synthesized copy of inherited bindings, or an empty one. Synthesized
// metadata is stored so repeated lookups return the same instance and the
// subtype keeps its own singleton slot.
func (b *Binder) Metadata(t reflect.Type) (*Metadata, error) {
	target, err := constructible(t)
	if err != nil {
		return nil, err
	}
	b.loadDeferred(target)

	b.mu.Lock()
	defer b.mu.Unlock()
	if m, ok := b.own[target]; ok {
		return m, nil
	}
	if m, ok := b.derived[target]; ok {
		return m, nil
	}
	var m *Metadata
	if base := b.inheritedLocked(embeddedBase(target)); base != nil {
		m = base.derive(target)
	} else {
		m = newMetadata(target)
	}
	b.derived[target] = m
	return m, nil
}

// TypeByName resolves a package-qualified type name among declared types and
// types whose declaration is still deferred.
func (b *Binder) TypeByName(name string) (reflect.Type, bool) {
	b.mu.RLock()
	t, ok := b.byName[name]
	if !ok {
		for d := range b.deferred {
			if TypeKey(d) == name {
				t, ok = d, true
				break
			}
		}
	}
	b.mu.RUnlock()
	return t, ok
}

// Types returns every type with declared metadata, ordered by TypeKey.
func (b *Binder) Types() []reflect.Type {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]reflect.Type, 0, len(b.own))
	for t := range b.own {
		out = append(out, t)
	}
	slices.SortFunc(out, func(x, y reflect.Type) int { return strings.Compare(TypeKey(x), TypeKey(y)) })
	return out
}

func (b *Binder) loadDeferred(t reflect.Type) {
	b.mu.Lock()
	fn, ok := b.deferred[t]
	if ok {
		delete(b.deferred, t)
	}
	b.mu.Unlock()
	if ok {
		if err := fn(); err != nil {
			panic(fmt.Errorf("inject: deferred declaration for %s: %w", t, err))
		}
	}
}

// ── Type helpers ─────────────────────────────────────────────────────────────

// normalizeType maps a struct type to its pointer type and leaves everything
// else alone.
func normalizeType(t reflect.Type) reflect.Type {
	if t != nil && t.Kind() == reflect.Struct {
		return reflect.PointerTo(t)
	}
	return t
}

// constructible returns the pointer-to-struct type the registry allocates for
// t, or a misuse error when t cannot be built.
func constructible(t reflect.Type) (reflect.Type, error) {
	if t == nil {
		return nil, misuse("bind", "nil type")
	}
	t = normalizeType(t)
	if t.Kind() != reflect.Pointer || t.Elem().Kind() != reflect.Struct {
		return nil, misuse("bind", "%s is not a struct or pointer to struct", t)
	}
	return t, nil
}

// embeddedBase returns the pointer type of the first embedded struct field of
// t's element, or nil.
func embeddedBase(t reflect.Type) reflect.Type {
	if t == nil || t.Kind() != reflect.Pointer || t.Elem().Kind() != reflect.Struct {
		return nil
	}
	st := t.Elem()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		if !f.Anonymous {
			continue
		}
		ft := f.Type
		if ft.Kind() == reflect.Pointer {
			ft = ft.Elem()
		}
		if ft.Kind() == reflect.Struct {
			return reflect.PointerTo(ft)
		}
	}
	return nil
}

func containsType(list []reflect.Type, t reflect.Type) bool {
	for _, x := range list {
		if x == t {
			return true
		}
	}
	return false
}
