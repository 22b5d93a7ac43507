// Package metrics exports registry lifecycle events to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/km-arc/go-inject/framework/inject"
)

// Observer is an inject.Observer that records lifecycle events as Prometheus
// metrics, labelled by object type.
type Observer struct {
	events       *prometheus.CounterVec
	construction *prometheus.HistogramVec
	live         prometheus.Gauge
	entered      prometheus.Gauge
}

// New creates the observer and registers its collectors with reg.
func New(reg prometheus.Registerer) (*Observer, error) {
	o := &Observer{
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "inject",
				Subsystem: "registry",
				Name:      "events_total",
				Help:      "Registry lifecycle events by kind and object type",
			},
			[]string{"kind", "type"},
		),
		construction: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "inject",
				Subsystem: "registry",
				Name:      "construction_duration_seconds",
				Help:      "Time spent constructing an object, dependencies included",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
			},
			[]string{"type"},
		),
		live: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "inject",
			Subsystem: "registry",
			Name:      "objects",
			Help:      "Objects constructed and not yet closed",
		}),
		entered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "inject",
			Subsystem: "registry",
			Name:      "entered_objects",
			Help:      "Async-managed objects entered and not yet exited",
		}),
	}
	for _, c := range []prometheus.Collector{o.events, o.construction, o.live, o.entered} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// Observe implements inject.Observer.
func (o *Observer) Observe(e inject.Event) {
	typ := "unknown"
	if e.Type != nil {
		typ = e.Type.String()
	}
	o.events.WithLabelValues(e.Kind.String(), typ).Inc()

	switch e.Kind {
	case inject.EventConstructed:
		o.construction.WithLabelValues(typ).Observe(e.Duration.Seconds())
		o.live.Inc()
	case inject.EventClosed:
		o.live.Dec()
	case inject.EventEntered:
		o.entered.Inc()
	case inject.EventExited:
		o.entered.Dec()
	}
}
