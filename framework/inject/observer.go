package inject

import (
	"reflect"
	"time"
)

// EventKind names a registry lifecycle transition.
type EventKind int

const (
	EventConstructed EventKind = iota
	EventConstructFailed
	EventStarted
	EventClosed
	EventEntered
	EventExited
)

func (k EventKind) String() string {
	switch k {
	case EventConstructed:
		return "constructed"
	case EventConstructFailed:
		return "construct_failed"
	case EventStarted:
		return "started"
	case EventClosed:
		return "closed"
	case EventEntered:
		return "entered"
	case EventExited:
		return "exited"
	}
	return "unknown"
}

// Event describes one lifecycle transition of a registry entry.
type Event struct {
	Kind     EventKind
	Registry string
	Meta     *Metadata
	Type     reflect.Type
	Name     string
	Object   any
	Start    time.Time
	Duration time.Duration
	Err      error
}

// Observer receives lifecycle events. Observers are called synchronously,
// with the registry lock held, so they must not call back into the registry.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }

func (r *Registry) notify(kind EventKind, e *entry, start time.Time, err error) {
	if len(r.observers) == 0 {
		return
	}
	ev := Event{
		Kind:     kind,
		Registry: r.id.String(),
		Meta:     e.meta,
		Type:     e.typ,
		Name:     e.name,
		Object:   e.obj,
		Start:    start,
		Duration: time.Since(start),
		Err:      err,
	}
	for _, o := range r.observers {
		o.Observe(ev)
	}
}
