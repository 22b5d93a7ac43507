// Package mock builds objects with test doubles in place of their bound
// dependencies, using the same metadata the registry reads.
package mock

import (
	"fmt"
	"reflect"

	"github.com/km-arc/go-inject/framework/inject"
)

// Func returns a test double for the argument arg of type t.
type Func func(arg string, t reflect.Type) any

// Zero is the default Func. Pointers to structs get a fresh zero struct;
// every other type gets its zero value.
func Zero(_ string, t reflect.Type) any {
	if t.Kind() == reflect.Pointer && t.Elem().Kind() == reflect.Struct {
		return reflect.New(t.Elem()).Interface()
	}
	return reflect.Zero(t).Interface()
}

// New instantiates key with a double for each of its bindings and returns the
// object together with the doubles by argument name. key is a reflect.Type or
// a *inject.Metadata. No registry is involved.
func New(b *inject.Binder, key any, fn Func) (any, map[string]any, error) {
	if fn == nil {
		fn = Zero
	}
	m, err := metadataFor(b, key)
	if err != nil {
		return nil, nil, err
	}

	doubles := make(map[string]any, len(m.ArgNames()))
	for _, arg := range m.ArgNames() {
		binding, _ := m.Binding(arg)
		t, err := argType(m.Type(), arg, binding)
		if err != nil {
			return nil, nil, err
		}
		doubles[arg] = fn(arg, t)
	}

	obj, err := inject.Construct(m, doubles)
	if err != nil {
		return nil, nil, fmt.Errorf("mock: unable to instantiate %s with mocks: %w", m.Type(), err)
	}
	return obj, doubles, nil
}

// For is New for the type T.
func For[T any](b *inject.Binder, fn Func) (T, map[string]any, error) {
	obj, doubles, err := New(b, reflect.TypeFor[T](), fn)
	if err != nil {
		var zero T
		return zero, nil, err
	}
	return obj.(T), doubles, nil
}

func metadataFor(b *inject.Binder, key any) (*inject.Metadata, error) {
	switch k := key.(type) {
	case *inject.Metadata:
		return k, nil
	case reflect.Type:
		return b.Metadata(k)
	}
	return nil, fmt.Errorf("mock: cannot mock key %v: %w", key, inject.ErrMisuse)
}

// argType picks the type a double must have: the referenced type for
// references, the receiving field's type when known, else the binding's own.
func argType(target reflect.Type, arg string, binding any) (reflect.Type, error) {
	if ref, ok := binding.(*inject.RefValue); ok {
		return ref.ReferencedType()
	}
	if t, ok := inject.FieldType(target, arg); ok {
		return t, nil
	}
	if binding == nil {
		return nil, fmt.Errorf("mock: no type known for argument %q of %s: %w", arg, target, inject.ErrArgument)
	}
	return reflect.TypeOf(binding), nil
}
