package inject

import (
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/km-arc/go-inject/framework/config"
)

// ── Entries ──────────────────────────────────────────────────────────────────

type entryState int32

const (
	stateConstructing entryState = iota
	stateConstructed
	stateStarting
	stateStarted
	stateClosed
)

func (s entryState) String() string {
	switch s {
	case stateConstructing:
		return "constructing"
	case stateConstructed:
		return "constructed"
	case stateStarting:
		return "starting"
	case stateStarted:
		return "started"
	case stateClosed:
		return "closed"
	}
	return "unknown"
}

// entry wraps one object owned by the registry. meta is nil for objects
// supplied through Register; those never run lifecycle hooks.
type entry struct {
	obj    any
	meta   *Metadata
	typ    reflect.Type
	name   string
	hash   uint64
	ifaces []reflect.Type
	state  entryState
	async  bool
}

func newEntry(obj any, m *Metadata, state entryState) *entry {
	return &entry{
		obj:    obj,
		meta:   m,
		typ:    m.Type(),
		name:   m.Name(),
		hash:   m.Hash(),
		ifaces: m.Interfaces(),
		state:  state,
		async:  m.IsAsync(),
	}
}

func (e *entry) describe() string {
	if e.meta != nil {
		return e.meta.String()
	}
	if e.name != "" {
		return e.name
	}
	return typeName(e.typ)
}

// ── Registry ─────────────────────────────────────────────────────────────────

// Registry lazily constructs, caches and tears down objects described by
// Metadata. Each distinct key is constructed at most once.
//
// A whole top-level resolution runs under one mutex. Deferred values resolved
// while building an object see a Resolver bound to that resolution, so nested
// lookups proceed without taking the lock again.
type Registry struct {
	id          uuid.UUID
	binder      *Binder
	cfg         *config.Store
	logger      *zap.Logger
	observers   []Observer
	allowCycles bool

	mu       sync.Mutex
	objects  []*entry
	byKey    map[uint64][]*entry
	byName   map[string]*entry
	byIface  map[reflect.Type][]*entry
	building []*entry

	// amu serializes async resolutions; scopeMu guards the scope state.
	amu       sync.Mutex
	scopeMu   sync.Mutex
	entered   bool
	exitStack []*entry
}

// New returns an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		id:      uuid.New(),
		binder:  defaultBinder,
		logger:  zap.NewNop(),
		byKey:   make(map[uint64][]*entry),
		byName:  make(map[string]*entry),
		byIface: make(map[reflect.Type][]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.cfg == nil {
		r.cfg = config.Empty()
	}
	r.logger = r.logger.With(zap.String("registry_id", r.id.String()))
	r.logger.Debug("initializing a new registry instance")
	return r
}

// ID returns the registry's instance id.
func (r *Registry) ID() string { return r.id.String() }

// Config returns the configuration store.
func (r *Registry) Config() *config.Store { return r.cfg }

// Registry returns r, so a *Registry is itself a Resolver.
func (r *Registry) Registry() *Registry { return r }

// Binder returns the metadata side-table the registry reads.
func (r *Registry) Binder() *Binder { return r.binder }

// ── Sessions ─────────────────────────────────────────────────────────────────

// session is the Resolver handed to deferred values while r.mu is held. Once
// its resolution has returned it forwards to the locking methods, so objects
// that kept it (through Self) can still use it.
//
// Objects built during the resolution are queued in pending and started only
// after r.mu is released, so start hooks may call back into the registry.
type session struct {
	reg     *Registry
	done    atomic.Bool
	pending []*entry
}

func (s *session) Resolve(key any) (any, error) {
	if s.done.Load() {
		return s.reg.Resolve(key)
	}
	return s.reg.resolveLocked(s, key)
}

func (s *session) Config() *config.Store { return s.reg.cfg }

func (s *session) Registry() *Registry { return s.reg }

func (r *Registry) locked(fn func(s *session) error) error {
	s := &session{reg: r}
	err := func() error {
		r.mu.Lock()
		defer r.mu.Unlock()
		defer s.done.Store(true)
		return fn(s)
	}()
	return multierr.Append(err, r.startPending(s.pending))
}

// ── Accessors ────────────────────────────────────────────────────────────────

// Resolve returns the object for key, constructing it if needed. It fails
// with a *KeyError when the key is unknown and cannot be constructed.
//
// A key is a string name, a reflect.Type or a *Metadata. Struct types are
// treated as their pointer type. Interface types are never constructed; they
// resolve to an already-registered object that implements them.
func (r *Registry) Resolve(key any) (any, error) {
	var obj any
	err := r.locked(func(s *session) (err error) {
		obj, err = r.resolveLocked(s, key)
		return err
	})
	if err != nil {
		return nil, err
	}
	return obj, nil
}

// Get is Resolve without the not-found error: it returns nil, nil when key
// cannot be found or constructed.
func (r *Registry) Get(key any) (any, error) {
	return r.GetOr(key, nil)
}

// GetOr is Get with a fallback value returned for a missing key.
func (r *Registry) GetOr(key, def any) (any, error) {
	var obj any
	err := r.locked(func(s *session) error {
		v, found, err := r.get(s, key, true)
		if err != nil {
			return err
		}
		if found {
			obj = v
		} else {
			obj = def
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return obj, nil
}

// Lookup returns an existing object without constructing anything. Keys that
// cannot be looked up report false.
func (r *Registry) Lookup(key any) (any, bool) {
	var (
		obj   any
		found bool
	)
	_ = r.locked(func(s *session) (err error) {
		obj, found, err = r.get(s, key, false)
		if err != nil {
			obj, found = nil, false
		}
		return nil
	})
	return obj, found
}

// Contains reports whether an object is registered for key. It never
// constructs; a key that could be constructed but has not been reports false.
func (r *Registry) Contains(key any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch k := key.(type) {
	case string:
		_, ok := r.byName[k]
		return ok
	case reflect.Type:
		if k == nil {
			return false
		}
		if k.Kind() == reflect.Interface {
			return r.findImplLocked(k) != nil
		}
		return firstReady(r.byIface[normalizeType(k)]) != nil
	case *Metadata:
		return k != nil && r.existingLocked(k) != nil
	}
	return false
}

// Len returns the number of objects in the registry.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.objects)
}

func (r *Registry) resolveLocked(s *session, key any) (any, error) {
	obj, found, err := r.get(s, key, true)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, &KeyError{Key: key}
	}
	return obj, nil
}

// get must be called with r.mu held.
func (r *Registry) get(s *session, key any, construct bool) (any, bool, error) {
	switch k := key.(type) {
	case string:
		e, ok := r.byName[k]
		if !ok {
			return nil, false, nil
		}
		return r.use(r.building, e)
	case reflect.Type:
		return r.getByType(s, k, construct)
	case *Metadata:
		if k == nil {
			return nil, false, misuse("get", "nil metadata key")
		}
		if k.IsAsync() {
			return nil, false, errSyncOnAsync(k)
		}
		return r.getByMetadata(s, k, construct)
	case nil:
		return nil, false, misuse("get", "nil key")
	}
	return nil, false, misuse("get", "invalid key type %T", key)
}

var anyType = reflect.TypeFor[any]()

func (r *Registry) getByType(s *session, t reflect.Type, construct bool) (any, bool, error) {
	if t == nil {
		return nil, false, misuse("get", "nil type key")
	}
	if t == anyType {
		// never auto-build the universal base type
		return nil, false, nil
	}
	if t.Kind() == reflect.Interface {
		e := r.findImplLocked(t)
		if e == nil {
			return nil, false, nil
		}
		return e.obj, true, nil
	}

	t = normalizeType(t)
	m, err := r.binder.Metadata(t)
	if err != nil {
		// not constructible; only explicitly registered values can match
		if e := firstReady(r.byIface[t]); e != nil {
			return e.obj, true, nil
		}
		return nil, false, nil
	}
	if m.IsAsync() {
		return nil, false, errSyncOnAsync(m)
	}
	m.freeze()
	if e := r.existingLocked(m); e != nil {
		return r.use(r.building, e)
	}
	// Inherited bindings alone do not force construction: a registered
	// object of the type wins.
	if r.binder.Own(t) == nil {
		if e := firstReady(r.byIface[t]); e != nil {
			return e.obj, true, nil
		}
	}
	return r.getByMetadata(s, m, construct)
}

func (r *Registry) getByMetadata(s *session, m *Metadata, construct bool) (any, bool, error) {
	m.freeze()
	if e := r.existingLocked(m); e != nil {
		return r.use(r.building, e)
	}
	if !construct {
		return nil, false, nil
	}
	obj, err := r.construct(s, m)
	if err != nil {
		return nil, false, err
	}
	return obj, true, nil
}

// use returns the object of e, or a cycle error if e is still being built and
// cycles are disabled.
func (r *Registry) use(stack []*entry, e *entry) (any, bool, error) {
	if e.state == stateConstructing && !r.allowCycles {
		return nil, false, cycleError(stack, e)
	}
	return e.obj, true, nil
}

func cycleError(stack []*entry, e *entry) error {
	path := []string{}
	for i, b := range stack {
		if b == e {
			for _, c := range stack[i:] {
				path = append(path, c.describe())
			}
			break
		}
	}
	path = append(path, e.describe())
	return &CycleError{Path: path}
}

func errSyncOnAsync(m *Metadata) error {
	return misuse("get", "%s is async-managed; use ResolveAsync inside an open scope", typeName(m.Type()))
}

// ── Construction ─────────────────────────────────────────────────────────────

// construct allocates the object, publishes it in the indices and only then
// runs its constructor, so a cycle reaching back to it finds the placeholder.
// On any failure the entry is removed from every index.
func (r *Registry) construct(s *session, m *Metadata) (any, error) {
	begin := time.Now()
	ptr := reflect.New(m.Type().Elem())
	e := newEntry(ptr.Interface(), m, stateConstructing)
	r.indexLocked(e)
	r.building = append(r.building, e)
	r.logger.Debug("constructing", zap.Stringer("meta", m))

	ok := false
	defer func() {
		r.building = r.building[:len(r.building)-1]
		if !ok {
			r.removeLocked(e)
		}
	}()

	args, err := r.initArgs(m, func(v any) (any, error) { return ResolveValue(s, v) })
	if err == nil {
		err = initialize(ptr, args)
	}
	if err != nil {
		r.logger.Warn("construction failed", zap.Stringer("meta", m), zap.Error(err))
		r.notify(EventConstructFailed, e, begin, err)
		return nil, err
	}

	// appended only now so dependencies always come earlier and close later
	e.state = stateConstructed
	r.objects = append(r.objects, e)
	r.notify(EventConstructed, e, begin, nil)
	r.logger.Debug("constructed",
		zap.String("type", typeName(e.typ)),
		zap.String("name", e.name),
		zap.Duration("duration", time.Since(begin)),
	)

	e.state = stateStarting
	s.pending = append(s.pending, e)
	ok = true
	return e.obj, nil
}

// initArgs resolves every binding of m and merges configured overrides on
// top. Config always wins over declared bindings.
func (r *Registry) initArgs(m *Metadata, resolve func(any) (any, error)) (Args, error) {
	bindings := m.Bindings()
	args := make(Args, len(bindings))
	for _, name := range m.ArgNames() {
		v, err := resolve(bindings[name])
		if err != nil {
			return nil, err
		}
		args[name] = v
	}
	for k, v := range r.cfg.InitKwargs(ShortName(m.Type()), TypeKey(m.Type()), m.Name()) {
		args[k] = v
	}
	return args, nil
}

// startPending runs the start hooks of entries claimed by one resolution, in
// construction order. r.mu must not be held. A failing hook drops its entry
// and every entry built after it, since those may hold a reference to it.
func (r *Registry) startPending(pending []*entry) error {
	for i, e := range pending {
		begin := time.Now()
		err := e.meta.runStart(e.obj)
		r.mu.Lock()
		if err == nil {
			if e.state == stateStarting {
				e.state = stateStarted
			}
			r.notify(EventStarted, e, begin, nil)
			r.mu.Unlock()
			continue
		}
		for _, d := range pending[i:] {
			r.removeLocked(d)
			r.notify(EventConstructFailed, d, begin, err)
		}
		r.mu.Unlock()
		r.logger.Warn("start failed", zap.Stringer("meta", e.meta), zap.Error(err))
		return err
	}
	return nil
}

// ── Indices ──────────────────────────────────────────────────────────────────

func (r *Registry) existingLocked(m *Metadata) *entry {
	if name := m.Name(); name != "" {
		return r.byName[name]
	}
	for _, e := range r.byKey[m.Hash()] {
		if e.meta.Equal(m) {
			return e
		}
	}
	return nil
}

func (r *Registry) indexLocked(e *entry) {
	switch {
	case e.name != "":
		r.byName[e.name] = e
	case e.meta != nil:
		bucket := r.byKey[e.hash]
		replaced := false
		for i, old := range bucket {
			if old.meta.Equal(e.meta) {
				bucket[i] = e
				replaced = true
				break
			}
		}
		if !replaced {
			bucket = append(bucket, e)
		}
		r.byKey[e.hash] = bucket
	}
	for _, t := range e.ifaces {
		r.byIface[t] = append(r.byIface[t], e)
	}
}

func (r *Registry) removeLocked(e *entry) {
	if e.name != "" {
		if r.byName[e.name] == e {
			delete(r.byName, e.name)
		}
	} else if e.meta != nil {
		r.byKey[e.hash] = without(r.byKey[e.hash], e)
		if len(r.byKey[e.hash]) == 0 {
			delete(r.byKey, e.hash)
		}
	}
	for _, t := range e.ifaces {
		r.byIface[t] = without(r.byIface[t], e)
		if len(r.byIface[t]) == 0 {
			delete(r.byIface, t)
		}
	}
	r.objects = without(r.objects, e)
}

// findImplLocked returns the first ready object indexed under iface, or else
// the first ready object, in construction order, that implements it.
func (r *Registry) findImplLocked(iface reflect.Type) *entry {
	if e := firstReady(r.byIface[iface]); e != nil {
		return e
	}
	for _, e := range r.objects {
		if e.state == stateConstructing || e.obj == nil {
			continue
		}
		if reflect.TypeOf(e.obj).Implements(iface) {
			return e
		}
	}
	return nil
}

func firstReady(list []*entry) *entry {
	for _, e := range list {
		if e.state != stateConstructing {
			return e
		}
	}
	return nil
}

func without(list []*entry, e *entry) []*entry {
	for i, x := range list {
		if x == e {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}

// ── Registration ─────────────────────────────────────────────────────────────

// Set stores value under key. A string key registers by name. A type key with
// declared metadata makes value the singleton for that metadata; any other
// type key indexes value under the type only. Metadata keys are rejected: a
// value cannot stand in for a parameterized definition.
func (r *Registry) Set(key, value any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch k := key.(type) {
	case string:
		r.registerLocked(value, k, nil)
		return nil
	case reflect.Type:
		if k == nil {
			return misuse("set", "nil type key")
		}
		t := normalizeType(k)
		if value != nil && !reflect.TypeOf(value).AssignableTo(t) {
			return misuse("set", "%T is not assignable to %s", value, t)
		}
		if _, err := constructible(t); err == nil {
			if own := r.binder.Own(t); own != nil {
				own.freeze()
				e := newEntry(value, own, stateConstructed)
				r.indexLocked(e)
				r.objects = append(r.objects, e)
				r.logger.Debug("set", zap.Stringer("meta", own))
				return nil
			}
		}
		r.registerLocked(value, "", []reflect.Type{t})
		return nil
	case *Metadata:
		return misuse("set", "cannot set a value by metadata %s", k)
	}
	return misuse("set", "invalid key type %T", key)
}

// Register adds an externally built object. It runs no lifecycle hooks and is
// found by name and by the given types.
func (r *Registry) Register(obj any, name string, ifaces ...reflect.Type) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registerLocked(obj, name, ifaces)
}

func (r *Registry) registerLocked(obj any, name string, ifaces []reflect.Type) {
	r.logger.Debug("registering",
		zap.String("object", typeName(reflect.TypeOf(obj))),
		zap.String("name", name),
		zap.Int("interfaces", len(ifaces)),
	)
	e := &entry{obj: obj, typ: reflect.TypeOf(obj), name: name, ifaces: ifaces, state: stateConstructed}
	r.objects = append(r.objects, e)
	r.indexLocked(e)
}

// ── Lifecycle ────────────────────────────────────────────────────────────────

// Start resolves every type listed under registry.autostart in the config and
// then runs the start hook of every metadata-backed object not yet started.
func (r *Registry) Start() error {
	return r.locked(func(s *session) error {
		for _, name := range r.cfg.Autostart() {
			t, ok := r.binder.TypeByName(name)
			if !ok {
				return &KeyError{Key: name, Reason: "autostart type is not declared"}
			}
			r.logger.Debug("autostarting", zap.String("type", name))
			if _, err := r.resolveLocked(s, t); err != nil {
				return err
			}
		}
		// claimed in construction order; autostarted entries are already queued
		queued := make(map[*entry]bool, len(s.pending))
		for _, e := range s.pending {
			queued[e] = true
		}
		pending := s.pending[:0:0]
		for _, e := range r.objects {
			switch {
			case queued[e]:
			case e.meta != nil && e.state == stateConstructed:
				e.state = stateStarting
			default:
				continue
			}
			pending = append(pending, e)
		}
		s.pending = pending
		return nil
	})
}

// Close runs close hooks in reverse construction order. Each started object is
// closed at most once; calling Close again is a no-op for those objects. A
// failing hook does not stop the others; all failures are returned together.
//
// Entries are claimed under the lock and their hooks run after it is
// released, so a hook may still resolve through the registry.
func (r *Registry) Close() error {
	r.mu.Lock()
	var closing []*entry
	for i := len(r.objects) - 1; i >= 0; i-- {
		e := r.objects[i]
		if e.meta == nil || e.state != stateStarted {
			continue
		}
		e.state = stateClosed
		closing = append(closing, e)
	}
	r.mu.Unlock()

	var errs error
	for _, e := range closing {
		begin := time.Now()
		err := e.meta.runClose(e.obj)
		r.mu.Lock()
		r.notify(EventClosed, e, begin, err)
		r.mu.Unlock()
		errs = multierr.Append(errs, err)
	}
	r.logger.Debug("closed registry", zap.Int("closed", len(closing)), zap.Error(errs))
	return errs
}

// ── Inspection ───────────────────────────────────────────────────────────────

// EntryInfo describes one registry object.
type EntryInfo struct {
	Index int    `json:"index" yaml:"index"`
	Type  string `json:"type" yaml:"type"`
	Name  string `json:"name,omitempty" yaml:"name,omitempty"`
	Meta  string `json:"meta,omitempty" yaml:"meta,omitempty"`
	State string `json:"state" yaml:"state"`
	Async bool   `json:"async,omitempty" yaml:"async,omitempty"`
}

// Snapshot lists the registry's objects in construction order.
func (r *Registry) Snapshot() []EntryInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EntryInfo, 0, len(r.objects))
	for i, e := range r.objects {
		info := EntryInfo{
			Index: i,
			Type:  typeName(e.typ),
			Name:  e.name,
			State: e.state.String(),
			Async: e.async,
		}
		if e.meta != nil {
			info.Meta = e.meta.String()
		}
		out = append(out, info)
	}
	return out
}
