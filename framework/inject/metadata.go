package inject

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// Metadata describes how the registry builds one kind of object: the target
// type, its named constructor bindings, optional start/close hooks and the
// interfaces the built object is indexed under.
//
// Two Metadata values with the same target, name and binding contents are
// Equal and share a Hash, even when they are different instances.
type Metadata struct {
	target reflect.Type
	name   string

	mu         sync.RWMutex
	order      []string
	bindings   map[string]any
	start      func(any) error
	close      func(any) error
	interfaces []reflect.Type
	async      bool

	// frozen is set the first time a registry uses this metadata; from then on
	// the bindings may not change.
	frozen atomic.Bool
}

func newMetadata(target reflect.Type) *Metadata {
	return &Metadata{
		target:     target,
		bindings:   map[string]any{},
		interfaces: []reflect.Type{target},
	}
}

// Type returns the pointer type the registry allocates.
func (m *Metadata) Type() reflect.Type { return m.target }

// Name returns the explicit registry name, if any.
func (m *Metadata) Name() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.name
}

// IsAsync reports whether objects built from m are async-managed.
func (m *Metadata) IsAsync() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.async
}

// Bindings returns a copy of the bindings.
func (m *Metadata) Bindings() Args {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(Args, len(m.bindings))
	for k, v := range m.bindings {
		out[k] = v
	}
	return out
}

// Binding returns the value bound to a single argument.
func (m *Metadata) Binding(name string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.bindings[name]
	return v, ok
}

// ArgNames returns the binding names in declaration order.
func (m *Metadata) ArgNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order...)
}

// Interfaces returns the types the built object is indexed under. The first
// element is always the target type.
func (m *Metadata) Interfaces() []reflect.Type {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]reflect.Type(nil), m.interfaces...)
}

// Frozen reports whether a registry has already used m.
func (m *Metadata) Frozen() bool { return m.frozen.Load() }

// Update applies options to m. It fails once m has been used by a registry:
// changing bindings after construction would alias two identities.
func (m *Metadata) Update(opts ...BindOption) error {
	if m.frozen.Load() {
		return misuse("update", "metadata %s is already in use by a registry", m)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metadata) freeze() { m.frozen.Store(true) }

// setBinding must be called with m.mu held.
func (m *Metadata) setBinding(name string, value any) {
	if _, exists := m.bindings[name]; !exists {
		m.order = append(m.order, name)
	}
	m.bindings[name] = value
}

// derive returns an unfrozen copy of m retargeted at target. Bindings, hooks
// and the async flag are copied; interfaces are recomputed around target.
func (m *Metadata) derive(target reflect.Type) *Metadata {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := newMetadata(target)
	for _, name := range m.order {
		out.setBinding(name, m.bindings[name])
	}
	out.start = m.start
	out.close = m.close
	out.async = m.async
	for _, iface := range m.interfaces[1:] {
		out.interfaces = append(out.interfaces, iface)
	}
	return out
}

// ── Key derivation ───────────────────────────────────────────────────────────

// keyed is implemented by deferred values so they take part in keys by value.
type keyed interface {
	digest() string
	sameAs(other any) bool
}

// Equal reports whether m and o identify the same registry slot.
func (m *Metadata) Equal(o *Metadata) bool {
	if m == o {
		return true
	}
	if m == nil || o == nil || m.target != o.target {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	o.mu.RLock()
	defer o.mu.RUnlock()
	if m.name != o.name || len(m.bindings) != len(o.bindings) {
		return false
	}
	for name, v := range m.bindings {
		ov, ok := o.bindings[name]
		if !ok || !valuesEqual(v, ov) {
			return false
		}
	}
	return true
}

// Hash returns a digest of the key. Values that cannot be hashed by content
// contribute their type and identity only, so equal metadata always hash
// equal and collisions are settled by Equal.
func (m *Metadata) Hash() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d := xxhash.New()
	_, _ = d.WriteString(m.target.String())
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(m.name)
	names := make([]string, 0, len(m.bindings))
	for name := range m.bindings {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		_, _ = d.WriteString("\x00")
		_, _ = d.WriteString(name)
		_, _ = d.WriteString("=")
		_, _ = d.WriteString(digest(m.bindings[name]))
	}
	return d.Sum64()
}

func digest(v any) string {
	if v == nil {
		return "nil"
	}
	if k, ok := v.(keyed); ok {
		return k.digest()
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Pointer, reflect.UnsafePointer:
		return fmt.Sprintf("%s@%x", rv.Type(), rv.Pointer())
	case reflect.String:
		return fmt.Sprintf("%s:%q", rv.Type(), rv.String())
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return fmt.Sprintf("%s:%v", rv.Type(), v)
	}
	return rv.Type().String()
}

// valuesEqual compares binding values without panicking on values that Go
// cannot compare with ==: reference kinds compare by identity, other
// incomparable values structurally.
func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if ka, ok := a.(keyed); ok {
		return ka.sameAs(b)
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Type() != vb.Type() {
		return false
	}
	switch va.Kind() {
	case reflect.Map, reflect.Func, reflect.Chan, reflect.Pointer, reflect.UnsafePointer:
		return va.Pointer() == vb.Pointer()
	case reflect.Slice:
		return va.Pointer() == vb.Pointer() && va.Len() == vb.Len()
	}
	if va.Comparable() && vb.Comparable() {
		return a == b
	}
	return reflect.DeepEqual(a, b)
}

// String renders m as `'name' Type(arg=value, ...)`.
func (m *Metadata) String() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	name := "(unnamed)"
	if m.name != "" {
		name = fmt.Sprintf("%q", m.name)
	}
	args := make([]string, 0, len(m.order))
	for _, arg := range m.order {
		args = append(args, fmt.Sprintf("%s=%v", arg, m.bindings[arg]))
	}
	return fmt.Sprintf("%s %s(%s)", name, typeName(m.target), strings.Join(args, ", "))
}

// ── Lifecycle hooks ──────────────────────────────────────────────────────────

func (m *Metadata) runStart(obj any) error {
	m.mu.RLock()
	fn := m.start
	m.mu.RUnlock()
	if fn == nil {
		return nil
	}
	return fn(obj)
}

func (m *Metadata) runClose(obj any) error {
	m.mu.RLock()
	fn := m.close
	m.mu.RUnlock()
	if fn == nil {
		return nil
	}
	return fn(obj)
}

// ── Type naming ──────────────────────────────────────────────────────────────

// TypeKey returns the package-qualified name of t (pointers are dereferenced),
// e.g. "github.com/acme/app.Engine". It is the name used by registry.by_class
// and registry.autostart config entries.
func TypeKey(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.PkgPath() == "" {
		return t.Name()
	}
	return t.PkgPath() + "." + t.Name()
}

// ShortName returns the bare type name of t (pointers are dereferenced).
func ShortName(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}

func typeName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	return t.String()
}
