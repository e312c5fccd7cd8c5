// Package metrics exposes Prometheus collectors for reloads.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "hotreload"

	resultSuccess = "success"
	resultError   = "error"
)

// Collectors holds the reload metrics of one engine.
type Collectors struct {
	reloads         *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	objectsMigrated prometheus.Counter
	lazyInits       *prometheus.CounterVec
}

func New() *Collectors {
	return &Collectors{
		reloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reload_total",
				Help:      "Reload attempts by result.",
			},
			[]string{"result"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "reload_duration_seconds",
				Help:      "Time from compile to commit or rollback of a reload.",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10), // 100µs to ~26s
			},
			[]string{"result"},
		),
		objectsMigrated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "objects_migrated_total",
				Help:      "Heap objects moved to a new class layout by committed reloads.",
			},
		),
		lazyInits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lazy_initializations_total",
				Help:      "Lazy initialisers that completed, by kind (field or static).",
			},
			[]string{"kind"},
		),
	}
}

// ObserveReload records one reload attempt. Migrated objects only count
// when the reload committed.
func (c *Collectors) ObserveReload(success bool, d time.Duration, objects int) {
	result := resultSuccess
	if !success {
		result = resultError
	}
	c.reloads.WithLabelValues(result).Inc()
	c.duration.WithLabelValues(result).Observe(d.Seconds())
	if success && objects > 0 {
		c.objectsMigrated.Add(float64(objects))
	}
}

// ObserveLazyInit counts a completed lazy initialisation.
func (c *Collectors) ObserveLazyInit(kind string) {
	c.lazyInits.WithLabelValues(kind).Inc()
}

// MustRegister registers the collectors with the given registry.
func (c *Collectors) MustRegister(registry prometheus.Registerer) {
	registry.MustRegister(c.reloads, c.duration, c.objectsMigrated, c.lazyInits)
}
