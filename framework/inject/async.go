package inject

import (
	"context"
	"reflect"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Enter opens the registry's async scope. Async-managed keys can only be
// resolved while the scope is open. Entering twice is a misuse.
func (r *Registry) Enter(ctx context.Context) error {
	r.scopeMu.Lock()
	defer r.scopeMu.Unlock()
	if r.entered {
		return misuse("Enter", "registry scope is already open")
	}
	r.entered = true
	r.logger.Debug("entered registry scope")
	return nil
}

// Exit closes the async scope. It exits every entered async object in reverse
// order, then runs Close over the rest of the registry. Sync objects never
// depend on async ones, so closing them last is safe.
func (r *Registry) Exit(ctx context.Context) error {
	r.amu.Lock()
	defer r.amu.Unlock()

	r.scopeMu.Lock()
	if !r.entered {
		r.scopeMu.Unlock()
		return misuse("Exit", "registry scope is not open")
	}
	r.entered = false
	stack := r.exitStack
	r.exitStack = nil
	r.scopeMu.Unlock()

	var errs error
	for i := len(stack) - 1; i >= 0; i-- {
		e := stack[i]
		begin := time.Now()
		err := e.obj.(AsyncContext).Exit(ctx)
		r.mu.Lock()
		e.state = stateClosed
		r.notify(EventExited, e, begin, err)
		r.mu.Unlock()
		errs = multierr.Append(errs, err)
	}
	r.logger.Debug("exited registry scope", zap.Int("entered", len(stack)), zap.Error(errs))
	return multierr.Append(errs, r.Close())
}

// Entered reports whether the async scope is open.
func (r *Registry) Entered() bool {
	r.scopeMu.Lock()
	defer r.scopeMu.Unlock()
	return r.entered
}

// ResolveAsync resolves an async-managed key inside the open scope. The object
// is constructed, its Enter method is called and it is pushed on the exit
// stack. Sync dependencies are resolved on a separate goroutine that ctx can
// abandon. Resolving a key that is not async-managed is a misuse.
func (r *Registry) ResolveAsync(ctx context.Context, key any) (any, error) {
	if !r.isAsyncKey(key) {
		return nil, misuse("ResolveAsync", "%s is not async-managed", describeKey(key))
	}
	r.amu.Lock()
	defer r.amu.Unlock()
	// Exit holds amu while it unwinds, so the scope cannot close under us
	if !r.Entered() {
		return nil, misuse("ResolveAsync", "registry scope is not open")
	}
	s := &asyncSession{reg: r}
	return s.resolve(ctx, key)
}

func (r *Registry) isAsyncKey(key any) bool {
	switch k := key.(type) {
	case *Metadata:
		return k != nil && k.IsAsync()
	case reflect.Type:
		if k == nil || k.Kind() == reflect.Interface {
			return false
		}
		m, err := r.binder.Metadata(k)
		return err == nil && m.IsAsync()
	}
	return false
}

// asyncSession tracks one async resolution. Only one runs at a time per
// registry; r.mu is taken only around index updates.
type asyncSession struct {
	reg      *Registry
	building []*entry
}

func (s *asyncSession) resolve(ctx context.Context, key any) (any, error) {
	r := s.reg
	var m *Metadata
	switch k := key.(type) {
	case *Metadata:
		m = k
	case reflect.Type:
		var err error
		if m, err = r.binder.Metadata(k); err != nil {
			return nil, err
		}
	default:
		return nil, misuse("ResolveAsync", "invalid key type %T", key)
	}
	m.freeze()

	r.mu.Lock()
	if e := r.existingLocked(m); e != nil {
		obj, _, err := r.use(s.building, e)
		r.mu.Unlock()
		return obj, err
	}
	begin := time.Now()
	ptr := reflect.New(m.Type().Elem())
	e := newEntry(ptr.Interface(), m, stateConstructing)
	r.indexLocked(e)
	r.mu.Unlock()

	s.building = append(s.building, e)
	ok := false
	defer func() {
		s.building = s.building[:len(s.building)-1]
		if !ok {
			r.mu.Lock()
			r.removeLocked(e)
			r.mu.Unlock()
		}
	}()

	args, err := r.initArgs(m, func(v any) (any, error) { return resolveValueAsync(ctx, s, v) })
	if err == nil {
		err = initialize(ptr, args)
	}
	if err != nil {
		r.mu.Lock()
		r.notify(EventConstructFailed, e, begin, err)
		r.mu.Unlock()
		r.logger.Warn("async construction failed", zap.Stringer("meta", m), zap.Error(err))
		return nil, err
	}

	r.mu.Lock()
	e.state = stateConstructed
	r.objects = append(r.objects, e)
	r.notify(EventConstructed, e, begin, nil)
	r.mu.Unlock()

	enterBegin := time.Now()
	got, err := e.obj.(AsyncContext).Enter(ctx)
	if err != nil {
		return nil, err
	}
	// once entered it must be exited, even if it is rejected below
	r.scopeMu.Lock()
	r.exitStack = append(r.exitStack, e)
	r.scopeMu.Unlock()
	if got != e.obj {
		return nil, misuse("ResolveAsync", "Enter of %s must return the receiver itself", typeName(e.typ))
	}

	r.mu.Lock()
	r.notify(EventEntered, e, enterBegin, nil)
	r.mu.Unlock()
	r.logger.Debug("entered", zap.String("type", typeName(e.typ)), zap.Duration("duration", time.Since(begin)))
	ok = true
	return e.obj, nil
}

// dispatch runs a synchronous resolution on its own goroutine so the async
// caller can abandon it when ctx is done. A panic is re-raised in the caller.
func (s *asyncSession) dispatch(ctx context.Context, fn func() (any, error)) (any, error) {
	type result struct {
		v     any
		err   error
		panic any
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				ch <- result{panic: p}
			}
		}()
		v, err := fn()
		ch <- result{v: v, err: err}
	}()
	select {
	case res := <-ch:
		if res.panic != nil {
			panic(res.panic)
		}
		return res.v, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
