package inject

import (
	"context"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/km-arc/go-inject/framework/config"
)

// Resolver resolves keys and deferred values. The Registry implements it, and
// so does the lock-held session the registry hands to deferred values while it
// is building an object.
type Resolver interface {
	// Resolve gets or constructs the object for key.
	Resolve(key any) (any, error)
	// Config returns the configuration store.
	Config() *config.Store
	// Registry returns the registry behind this resolver.
	Registry() *Registry
}

// Deferred is a value that is only made concrete at resolution time.
type Deferred interface {
	Resolve(r Resolver) (any, error)
}

// asyncDeferred is implemented by deferred values with an async resolution
// path of their own.
type asyncDeferred interface {
	resolveAsync(ctx context.Context, s *asyncSession) (any, error)
}

// ResolveValue resolves v if it is Deferred and returns it unchanged otherwise.
func ResolveValue(r Resolver, v any) (any, error) {
	if d, ok := v.(Deferred); ok {
		return d.Resolve(r)
	}
	return v, nil
}

func resolveValueAsync(ctx context.Context, s *asyncSession, v any) (any, error) {
	switch d := v.(type) {
	case asyncDeferred:
		return d.resolveAsync(ctx, s)
	case Deferred:
		return s.dispatch(ctx, func() (any, error) { return d.Resolve(s.reg) })
	}
	return v, nil
}

// ── Reference ────────────────────────────────────────────────────────────────

// RefValue refers to another registry key.
type RefValue struct {
	key any
}

// Reference returns a deferred reference to key. Bindings may only be given
// for type keys; they produce a fresh definition on the default binder rather
// than changing the type's own metadata.
func Reference(key any, opts ...BindOption) *RefValue {
	return ReferenceIn(defaultBinder, key, opts...)
}

// ReferenceIn is Reference with definitions made on b.
func ReferenceIn(b *Binder, key any, opts ...BindOption) *RefValue {
	if len(opts) == 0 {
		return &RefValue{key: key}
	}
	t, ok := key.(reflect.Type)
	if !ok {
		panic(misuse("Reference", "bindings can only be given for type keys, not %s", describeKey(key)))
	}
	m, err := b.Define(t, opts...)
	if err != nil {
		panic(err)
	}
	return &RefValue{key: m}
}

// Ref returns a reference to the registry slot for T.
func Ref[T any](opts ...BindOption) *RefValue {
	return Reference(reflect.TypeFor[T](), opts...)
}

// RefIn is Ref with definitions made on b.
func RefIn[T any](b *Binder, opts ...BindOption) *RefValue {
	return ReferenceIn(b, reflect.TypeFor[T](), opts...)
}

// Key returns the referenced key.
func (v *RefValue) Key() any { return v.key }

// ReferencedType returns the type the reference builds. String keys carry no
// type and return an error.
func (v *RefValue) ReferencedType() (reflect.Type, error) {
	switch k := v.key.(type) {
	case reflect.Type:
		return normalizeType(k), nil
	case *Metadata:
		return k.Type(), nil
	case string:
		return nil, misuse("ReferencedType", "key %q is a name and references no type", k)
	}
	return nil, misuse("ReferencedType", "invalid key %v", v.key)
}

func (v *RefValue) Resolve(r Resolver) (any, error) {
	return r.Resolve(v.key)
}

func (v *RefValue) resolveAsync(ctx context.Context, s *asyncSession) (any, error) {
	if s.reg.isAsyncKey(v.key) {
		return s.resolve(ctx, v.key)
	}
	return s.dispatch(ctx, func() (any, error) { return s.reg.Resolve(v.key) })
}

func (v *RefValue) String() string {
	return fmt.Sprintf("ref(%s)", describeKey(v.key))
}

func (v *RefValue) digest() string {
	switch k := v.key.(type) {
	case *Metadata:
		return fmt.Sprintf("ref:m:%x", k.Hash())
	case reflect.Type:
		return "ref:t:" + normalizeType(k).String()
	}
	return fmt.Sprintf("ref:%T:%v", v.key, v.key)
}

func (v *RefValue) sameAs(other any) bool {
	o, ok := other.(*RefValue)
	if !ok {
		return false
	}
	return keysEqual(v.key, o.key)
}

func keysEqual(a, b any) bool {
	switch ka := a.(type) {
	case *Metadata:
		kb, ok := b.(*Metadata)
		return ok && ka.Equal(kb)
	case reflect.Type:
		kb, ok := b.(reflect.Type)
		return ok && normalizeType(ka) == normalizeType(kb)
	case string:
		kb, ok := b.(string)
		return ok && ka == kb
	}
	return false
}

// ── Config ───────────────────────────────────────────────────────────────────

// ConfigOption configures a config lookup.
type ConfigOption func(*configLookup)

type configLookup struct {
	def        any
	hasDefault bool
	env        bool
}

// Default supplies the value used when the key is absent. Without it a
// missing key fails resolution.
func Default(v any) ConfigOption {
	return func(c *configLookup) {
		c.def = v
		c.hasDefault = true
	}
}

// FallbackToEnv consults the environment variable of the same name when the
// store lacks the key.
func FallbackToEnv() ConfigOption {
	return func(c *configLookup) { c.env = true }
}

// ConfigValue looks a value up in the configuration store.
type ConfigValue struct {
	name  string
	whole bool
	configLookup
}

// Config returns a deferred lookup of name in the configuration store.
func Config(name string, opts ...ConfigOption) *ConfigValue {
	v := &ConfigValue{name: name}
	for _, opt := range opts {
		opt(&v.configLookup)
	}
	return v
}

// ConfigStore returns a deferred value resolving to the store itself.
func ConfigStore() *ConfigValue {
	return &ConfigValue{whole: true}
}

// Name returns the looked-up key.
func (v *ConfigValue) Name() string { return v.name }

func (v *ConfigValue) Resolve(r Resolver) (any, error) {
	store := r.Config()
	if v.whole {
		return store, nil
	}
	if val, ok := store.Get(v.name); ok {
		return val, nil
	}
	if v.env {
		if val, ok := os.LookupEnv(v.name); ok {
			return val, nil
		}
	}
	if v.hasDefault {
		return v.def, nil
	}
	return nil, &KeyError{Key: v.name, Reason: "missing config value"}
}

func (v *ConfigValue) String() string {
	if v.whole {
		return "config()"
	}
	return fmt.Sprintf("config(%s)", v.name)
}

func (v *ConfigValue) digest() string {
	return fmt.Sprintf("config:%t:%s:%t:%t:%s", v.whole, v.name, v.env, v.hasDefault, digest(v.def))
}

func (v *ConfigValue) sameAs(other any) bool {
	o, ok := other.(*ConfigValue)
	return ok && v.whole == o.whole && v.name == o.name && v.env == o.env &&
		v.hasDefault == o.hasDefault && valuesEqual(v.def, o.def)
}

// NestedConfigValue walks a key path through nested config mappings.
type NestedConfigValue struct {
	keys []string
	configLookup
}

// NestedConfig looks up a dotted path such as "db.primary.host". Use
// NestedConfigKeys when a key itself contains a dot.
func NestedConfig(path string, opts ...ConfigOption) *NestedConfigValue {
	return NestedConfigKeys(strings.Split(path, "."), opts...)
}

// NestedConfigKeys looks up a pre-split key path.
func NestedConfigKeys(keys []string, opts ...ConfigOption) *NestedConfigValue {
	v := &NestedConfigValue{keys: append([]string(nil), keys...)}
	for _, opt := range opts {
		opt(&v.configLookup)
	}
	return v
}

// Keys returns the key path.
func (v *NestedConfigValue) Keys() []string { return append([]string(nil), v.keys...) }

func (v *NestedConfigValue) Resolve(r Resolver) (any, error) {
	var cur any = r.Config()
	for _, key := range v.keys {
		next, ok := config.Index(cur, key)
		if !ok {
			if v.hasDefault {
				return v.def, nil
			}
			return nil, &KeyError{Key: v.keys, Reason: "missing config value"}
		}
		cur = next
	}
	return cur, nil
}

func (v *NestedConfigValue) String() string {
	return fmt.Sprintf("nested_config(%s)", strings.Join(v.keys, "."))
}

func (v *NestedConfigValue) digest() string {
	return fmt.Sprintf("nested:%s:%t:%s", strings.Join(v.keys, "\x00"), v.hasDefault, digest(v.def))
}

func (v *NestedConfigValue) sameAs(other any) bool {
	o, ok := other.(*NestedConfigValue)
	if !ok || len(v.keys) != len(o.keys) || v.hasDefault != o.hasDefault {
		return false
	}
	for i := range v.keys {
		if v.keys[i] != o.keys[i] {
			return false
		}
	}
	return valuesEqual(v.def, o.def)
}

// ── Function call ────────────────────────────────────────────────────────────

// FunctionCall calls a function with resolved arguments at resolution time.
type FunctionCall struct {
	fn     any
	args   []any
	kwargs Args
}

var (
	argsType  = reflect.TypeFor[Args]()
	errorType = reflect.TypeFor[error]()
)

// Call binds fn to be called with args when resolved. Each argument may itself
// be Deferred. fn may return a single value, a value and an error, or only an
// error. If fn is a string it names a method looked up on the first resolved
// positional argument, which must then be present.
func Call(fn any, args ...any) *FunctionCall {
	switch f := fn.(type) {
	case string:
		if len(args) == 0 {
			panic(misuse("Call", "method name %q needs a positional argument to call it on", f))
		}
	default:
		if reflect.TypeOf(fn) == nil || reflect.TypeOf(fn).Kind() != reflect.Func {
			panic(misuse("Call", "%T is not a function", fn))
		}
	}
	return &FunctionCall{fn: fn, args: args}
}

// WithKwargs returns a copy of c that passes kwargs, resolved, as a trailing
// Args parameter.
func (c *FunctionCall) WithKwargs(kwargs Args) *FunctionCall {
	out := *c
	out.kwargs = kwargs
	return &out
}

// Call is an alias of Resolve.
func (c *FunctionCall) Call(r Resolver) (any, error) { return c.Resolve(r) }

func (c *FunctionCall) Resolve(r Resolver) (any, error) {
	args := make([]any, len(c.args))
	for i, a := range c.args {
		v, err := ResolveValue(r, a)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	kwargs, err := c.resolveKwargs(func(v any) (any, error) { return ResolveValue(r, v) })
	if err != nil {
		return nil, err
	}
	return c.invoke(args, kwargs)
}

func (c *FunctionCall) resolveAsync(ctx context.Context, s *asyncSession) (any, error) {
	args := make([]any, len(c.args))
	for i, a := range c.args {
		v, err := resolveValueAsync(ctx, s, a)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	kwargs, err := c.resolveKwargs(func(v any) (any, error) { return resolveValueAsync(ctx, s, v) })
	if err != nil {
		return nil, err
	}
	return c.invoke(args, kwargs)
}

func (c *FunctionCall) resolveKwargs(resolve func(any) (any, error)) (Args, error) {
	if c.kwargs == nil {
		return nil, nil
	}
	out := make(Args, len(c.kwargs))
	for k, v := range c.kwargs {
		rv, err := resolve(v)
		if err != nil {
			return nil, err
		}
		out[k] = rv
	}
	return out, nil
}

func (c *FunctionCall) invoke(args []any, kwargs Args) (any, error) {
	var fn reflect.Value
	if name, ok := c.fn.(string); ok {
		recv := reflect.ValueOf(args[0])
		if !recv.IsValid() {
			return nil, misuse("Call", "cannot call method %q on nil", name)
		}
		fn = recv.MethodByName(name)
		if !fn.IsValid() {
			return nil, misuse("Call", "%s has no method %q", recv.Type(), name)
		}
		args = args[1:]
	} else {
		fn = reflect.ValueOf(c.fn)
	}
	if kwargs != nil {
		args = append(args, kwargs)
	}
	in, err := callArgs(fn.Type(), args)
	if err != nil {
		return nil, err
	}
	return callResult(fn.Call(in))
}

func callArgs(ft reflect.Type, args []any) ([]reflect.Value, error) {
	n := ft.NumIn()
	if ft.IsVariadic() {
		if len(args) < n-1 {
			return nil, misuse("Call", "%s wants at least %d arguments, got %d", ft, n-1, len(args))
		}
	} else if len(args) != n {
		return nil, misuse("Call", "%s wants %d arguments, got %d", ft, n, len(args))
	}
	in := make([]reflect.Value, len(args))
	for i, a := range args {
		var pt reflect.Type
		if ft.IsVariadic() && i >= n-1 {
			pt = ft.In(n - 1).Elem()
		} else {
			pt = ft.In(i)
		}
		v := reflect.New(pt).Elem()
		if err := setValue(v, a); err != nil {
			return nil, misuse("Call", "argument %d: %v", i, err)
		}
		in[i] = v
	}
	return in, nil
}

func callResult(out []reflect.Value) (any, error) {
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		if out[0].Type() == errorType {
			err, _ := out[0].Interface().(error)
			return nil, err
		}
		return out[0].Interface(), nil
	default:
		last := out[len(out)-1]
		if last.Type().Implements(errorType) && !last.IsNil() {
			return nil, last.Interface().(error)
		}
		return out[0].Interface(), nil
	}
}

func (c *FunctionCall) String() string {
	name, ok := c.fn.(string)
	if !ok {
		name = fmt.Sprintf("%T", c.fn)
	}
	parts := make([]string, 0, len(c.args)+len(c.kwargs))
	for _, a := range c.args {
		parts = append(parts, fmt.Sprintf("%v", a))
	}
	for k, v := range c.kwargs {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return fmt.Sprintf("%s(%s)", name, strings.Join(parts, ", "))
}

func (c *FunctionCall) digest() string {
	var b strings.Builder
	b.WriteString("call:")
	b.WriteString(digest(c.fn))
	for _, a := range c.args {
		b.WriteString(",")
		b.WriteString(digest(a))
	}
	fmt.Fprintf(&b, ";%d", len(c.kwargs))
	return b.String()
}

func (c *FunctionCall) sameAs(other any) bool {
	o, ok := other.(*FunctionCall)
	if !ok || len(c.args) != len(o.args) || len(c.kwargs) != len(o.kwargs) {
		return false
	}
	if !valuesEqual(c.fn, o.fn) {
		return false
	}
	for i := range c.args {
		if !valuesEqual(c.args[i], o.args[i]) {
			return false
		}
	}
	for k, v := range c.kwargs {
		ov, ok := o.kwargs[k]
		if !ok || !valuesEqual(v, ov) {
			return false
		}
	}
	return true
}

// ── Self ─────────────────────────────────────────────────────────────────────

// SelfReference resolves to the resolver building the object, which gives the
// object a handle on its registry. The handle stays valid after construction.
type SelfReference struct{}

// Self returns a deferred reference to the registry.
func Self() SelfReference { return SelfReference{} }

func (SelfReference) Resolve(r Resolver) (any, error) { return r, nil }

func (SelfReference) resolveAsync(ctx context.Context, s *asyncSession) (any, error) {
	return s.reg, nil
}

func (SelfReference) String() string { return "self" }

func (SelfReference) digest() string { return "self" }

func (SelfReference) sameAs(other any) bool {
	_, ok := other.(SelfReference)
	return ok
}
