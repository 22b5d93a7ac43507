package inject

import (
	"fmt"
	"reflect"
	"strings"
)

// Args holds resolved constructor arguments by name.
type Args map[string]any

// Has reports whether name was supplied.
func (a Args) Has(name string) bool {
	_, ok := a[name]
	return ok
}

// String returns the argument as a string, or "" when absent or not a string.
func (a Args) String(name string) string {
	s, _ := a[name].(string)
	return s
}

// Require returns the argument or an *ArgumentError naming target when it is
// missing. Initializers use it for mandatory arguments.
func (a Args) Require(target any, name string) (any, error) {
	v, ok := a[name]
	if !ok {
		return nil, &ArgumentError{Type: reflect.TypeOf(target), Arg: name, Reason: "missing required argument"}
	}
	return v, nil
}

// Arg returns the named argument converted to T. The second result is false if
// the argument is missing or has another type.
func Arg[T any](a Args, name string) (T, bool) {
	v, ok := a[name]
	if !ok {
		var zero T
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

// Initializer is implemented by types that run their own constructor logic.
// The registry allocates the object, then calls Init with the resolved
// bindings instead of assigning fields.
type Initializer interface {
	Init(args Args) error
}

// initialize runs the constructor for a freshly allocated pointer.
func initialize(ptr reflect.Value, args Args) error {
	if init, ok := ptr.Interface().(Initializer); ok {
		return init.Init(args)
	}
	return assignFields(ptr, args)
}

const tagName = "inject"

type fieldSpec struct {
	index    []int
	optional bool
	tagged   bool
}

// assignFields copies args into exported struct fields. Fields are matched by
// `inject:"name"` tag first and then by case-insensitive field name, promoted
// fields included. Tagged fields without a binding are required unless the tag
// carries ",optional".
func assignFields(ptr reflect.Value, args Args) error {
	elem := ptr.Elem()
	typ := ptr.Type()
	if elem.Kind() != reflect.Struct {
		if len(args) > 0 {
			return &ArgumentError{Type: typ, Arg: firstKey(args), Reason: "target is not a struct and has no Init method"}
		}
		return nil
	}

	fields := collectFields(elem.Type())
	for name, spec := range fields {
		if _, ok := args[name]; !ok && spec.tagged && !spec.optional {
			return &ArgumentError{Type: typ, Arg: name, Reason: "missing required argument"}
		}
	}

	for name, value := range args {
		spec, ok := fields[name]
		if !ok {
			spec, ok = matchFold(fields, name)
		}
		if !ok {
			return &ArgumentError{Type: typ, Arg: name, Reason: "no field accepts this argument"}
		}
		field, err := elem.FieldByIndexErr(spec.index)
		if err != nil {
			return &ArgumentError{Type: typ, Arg: name, Reason: err.Error()}
		}
		if err := setValue(field, value); err != nil {
			return &ArgumentError{Type: typ, Arg: name, Reason: err.Error()}
		}
	}
	return nil
}

func collectFields(t reflect.Type) map[string]fieldSpec {
	out := map[string]fieldSpec{}
	for _, f := range reflect.VisibleFields(t) {
		if !f.IsExported() {
			continue
		}
		if f.Anonymous && f.Type.Kind() == reflect.Struct {
			// promoted fields are visited on their own
			continue
		}
		name := f.Name
		spec := fieldSpec{index: f.Index}
		if tag, ok := f.Tag.Lookup(tagName); ok {
			if tag == "-" {
				continue
			}
			parts := strings.Split(tag, ",")
			if parts[0] != "" {
				name = parts[0]
			}
			spec.tagged = true
			for _, opt := range parts[1:] {
				if opt == "optional" {
					spec.optional = true
				}
			}
		}
		if _, dup := out[name]; dup && len(spec.index) > len(out[name].index) {
			// shallower field wins, as with Go's own promotion rules
			continue
		}
		out[name] = spec
	}
	return out
}

func matchFold(fields map[string]fieldSpec, name string) (fieldSpec, bool) {
	for fname, spec := range fields {
		if strings.EqualFold(fname, name) {
			return spec, true
		}
	}
	return fieldSpec{}, false
}

// setValue assigns v to field, converting between numeric kinds and between
// string kinds only.
func setValue(field reflect.Value, v any) error {
	if !field.CanSet() {
		return fmt.Errorf("field is not settable")
	}
	if v == nil {
		field.Set(reflect.Zero(field.Type()))
		return nil
	}
	rv := reflect.ValueOf(v)
	if rv.Type().AssignableTo(field.Type()) {
		field.Set(rv)
		return nil
	}
	if convertible(rv.Type(), field.Type()) {
		field.Set(rv.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("%s is not assignable to %s", rv.Type(), field.Type())
}

func convertible(from, to reflect.Type) bool {
	if !from.ConvertibleTo(to) {
		return false
	}
	switch {
	case isNumeric(from.Kind()) && isNumeric(to.Kind()):
		return true
	case from.Kind() == reflect.String && to.Kind() == reflect.String:
		return true
	}
	return false
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func firstKey(args Args) string {
	for k := range args {
		return k
	}
	return ""
}

// Construct builds a value of m's type from already-resolved args, outside any
// registry. Nothing is resolved, cached or indexed.
func Construct(m *Metadata, args Args) (any, error) {
	ptr := reflect.New(m.Type().Elem())
	if err := initialize(ptr, args); err != nil {
		return nil, err
	}
	return ptr.Interface(), nil
}

// FieldType returns the type of the field that receives argument name when t
// is built by field assignment.
func FieldType(t reflect.Type, name string) (reflect.Type, bool) {
	t = normalizeType(t)
	if t == nil || t.Kind() != reflect.Pointer || t.Elem().Kind() != reflect.Struct {
		return nil, false
	}
	st := t.Elem()
	fields := collectFields(st)
	spec, ok := fields[name]
	if !ok {
		spec, ok = matchFold(fields, name)
	}
	if !ok {
		return nil, false
	}
	return st.FieldByIndex(spec.index).Type, true
}
