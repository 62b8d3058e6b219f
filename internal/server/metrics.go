package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the server collectors. Each Server owns a registry so that
// tests and embedded servers never collide on the global one.
type Metrics struct {
	registry *prometheus.Registry

	requestDuration  *prometheus.HistogramVec
	actionsPushed    prometheus.Counter
	actionsPulled    prometheus.Counter
	snapshotsCreated prometheus.Counter
	pokeFailures     prometheus.Counter
	pokesDropped     prometheus.Counter
	storageErrors    *prometheus.CounterVec
}

func newMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "syncreducer_http_request_duration_seconds",
			Help:    "Duration of HTTP requests by route and status code",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "code"}),
		// Not labelled by space: space ids are client-chosen.
		actionsPushed: factory.NewCounter(prometheus.CounterOpts{
			Name: "syncreducer_actions_pushed_total",
			Help: "Total actions confirmed by push",
		}),
		actionsPulled: factory.NewCounter(prometheus.CounterOpts{
			Name: "syncreducer_actions_pulled_total",
			Help: "Total actions returned by pull and snapshot requests",
		}),
		snapshotsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "syncreducer_snapshots_created_total",
			Help: "Total snapshots stored",
		}),
		pokeFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "syncreducer_poke_publish_failures_total",
			Help: "Total pokes that could not be published",
		}),
		pokesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "syncreducer_pokes_dropped_total",
			Help: "Total pokes dropped because a subscriber was too slow",
		}),
		storageErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "syncreducer_storage_errors_total",
			Help: "Total storage failures by operation",
		}, []string{"op"}),
	}
}

// Registry returns the registry holding the server collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// PokeDropped counts one poke dropped by the notification channel. It is
// meant to be passed to poke.WithDropHook.
func (m *Metrics) PokeDropped(string) { m.pokesDropped.Inc() }
