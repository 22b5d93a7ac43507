package inject

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// Standard error values. Typed errors below unwrap to one of these so callers
// can test with errors.Is.
var (
	// ErrNotFound reports a key that has no value and cannot be constructed.
	ErrNotFound = errors.New("inject: not found")
	// ErrMisuse reports a programmer error in how the API was called.
	ErrMisuse = errors.New("inject: api misuse")
	// ErrCycle reports a dependency cycle met while cycles are disabled.
	ErrCycle = errors.New("inject: dependency cycle")
	// ErrArgument reports a binding that cannot be applied to its target.
	ErrArgument = errors.New("inject: bad argument")
)

// KeyError is returned when a key or config value is missing.
type KeyError struct {
	Key    any
	Reason string
}

func (e *KeyError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("inject: key %s: %s", describeKey(e.Key), e.Reason)
	}
	return fmt.Sprintf("inject: key %s not found", describeKey(e.Key))
}

func (e *KeyError) Unwrap() error { return ErrNotFound }

// MisuseError is returned for calls that can never succeed as written.
type MisuseError struct {
	Op     string
	Reason string
}

func (e *MisuseError) Error() string {
	return fmt.Sprintf("inject: %s: %s", e.Op, e.Reason)
}

func (e *MisuseError) Unwrap() error { return ErrMisuse }

func misuse(op, format string, args ...any) error {
	return &MisuseError{Op: op, Reason: fmt.Sprintf(format, args...)}
}

// CycleError lists the metadata still under construction when a cycle closed.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return "inject: dependency cycle: " + strings.Join(e.Path, " -> ")
}

func (e *CycleError) Unwrap() error { return ErrCycle }

// ArgumentError is returned when a resolved binding does not fit the target.
type ArgumentError struct {
	Type   reflect.Type
	Arg    string
	Reason string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("inject: %s: argument %q: %s", e.Type, e.Arg, e.Reason)
}

func (e *ArgumentError) Unwrap() error { return ErrArgument }

// IsNotFound reports whether err is a missing-key error.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsMisuse reports whether err is an API misuse error.
func IsMisuse(err error) bool { return errors.Is(err, ErrMisuse) }

func describeKey(key any) string {
	switch k := key.(type) {
	case nil:
		return "<nil>"
	case string:
		return fmt.Sprintf("%q", k)
	case reflect.Type:
		return k.String()
	case *Metadata:
		return k.String()
	case []string:
		return strings.Join(k, ".")
	default:
		return fmt.Sprintf("%v", k)
	}
}
