package inject

import (
	"context"
	"fmt"
	"reflect"
)

// Get resolves the registry slot for T and returns it typed.
//
//	car, err := inject.Get[*Car](reg)
func Get[T any](r Resolver) (T, error) {
	return GetKey[T](r, reflect.TypeFor[T]())
}

// MustGet is Get that panics on error.
func MustGet[T any](r Resolver) T {
	v, err := Get[T](r)
	if err != nil {
		panic(err)
	}
	return v
}

// GetNamed resolves a name-registered object and returns it typed.
func GetNamed[T any](r Resolver, name string) (T, error) {
	return GetKey[T](r, name)
}

// GetKey resolves any key and asserts the result to T.
func GetKey[T any](r Resolver, key any) (T, error) {
	obj, err := r.Resolve(key)
	if err != nil {
		var zero T
		return zero, err
	}
	return cast[T](obj, key)
}

// GetAsync resolves the async-managed slot for T inside the open scope.
func GetAsync[T any](ctx context.Context, r *Registry) (T, error) {
	obj, err := r.ResolveAsync(ctx, reflect.TypeFor[T]())
	if err != nil {
		var zero T
		return zero, err
	}
	return cast[T](obj, reflect.TypeFor[T]())
}

// SetValue stores v as the value for T.
func SetValue[T any](r *Registry, v T) error {
	return r.Set(reflect.TypeFor[T](), v)
}

func cast[T any](obj, key any) (T, error) {
	v, ok := obj.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("inject: %s resolved to %T, not %s: %w",
			describeKey(key), obj, reflect.TypeFor[T](), ErrMisuse)
	}
	return v, nil
}
