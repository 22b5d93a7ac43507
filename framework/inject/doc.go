// Package inject provides a metadata-driven dependency-injection registry.
//
// # Overview
//
// Types declare how they are built on a Binder: named constructor arguments,
// each a concrete value or a Deferred value resolved through the registry.
// A Registry then constructs objects lazily, keeps one instance per key and
// closes them in reverse construction order.
//
// # Declaring
//
//	var (
//	    _ = inject.Bind[*Engine](inject.With("cylinders", 4))
//	    _ = inject.Bind[*Car](inject.With("engine", inject.Ref[*Engine]()))
//	)
//
// Bindings are assigned to exported fields, matched by `inject:"name"` tag or
// by case-insensitive field name. A type implementing Initializer receives
// the resolved Args in its Init method instead.
//
// # Resolving
//
//	reg := inject.New(inject.WithConfig(cfg), inject.WithLogger(logger))
//	defer reg.Close()
//
//	car, err := inject.Get[*Car](reg)
//
// A key is a string name, a reflect.Type or a *Metadata built with Define.
// Define creates a parameterized definition: equal definitions share one
// instance, different ones get their own.
//
//	v6 := inject.Define[*Engine](inject.With("cylinders", 6))
//	engine, err := reg.Resolve(v6)
//
// Interface types are never constructed. They resolve to the first
// registered object that implements them.
//
// # Deferred values
//
//	inject.Ref[*Engine]()                      // another registry object
//	inject.Config("db_url", inject.Default("")) // a config value
//	inject.NestedConfig("db.primary.host")     // a nested config value
//	inject.Call(newPool, inject.Config("size")) // the result of a call
//	inject.Self()                              // the registry itself
//
// # Configuration overrides
//
// The registry.by_class and registry.by_name config blocks override bindings
// per type (short name, then package-qualified name) and per metadata name.
// Config always wins over declared bindings.
//
// # Async lifecycle
//
// Types marked AsyncManaged implement AsyncContext. They can only be resolved
// with ResolveAsync between Enter and Exit. Exit leaves them in reverse order
// and then closes the rest of the registry.
//
// # Cycles
//
// A dependency cycle fails with a *CycleError unless the registry is built
// with WithCycles. With cycles enabled, the object that closes the cycle
// receives a placeholder whose constructor has not yet returned; it may keep
// the pointer but must not read its fields during construction.
package inject
