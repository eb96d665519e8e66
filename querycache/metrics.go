package querycache

import (
	"errors"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/prometheus/client_golang/prometheus"
)

// Lookup results recorded by Metrics.
const (
	resultHitLocal   = "hit_local"
	resultHitBackend = "hit_backend"
	resultMiss       = "miss"
	resultBypass     = "bypass"
)

// Metrics holds the prometheus collectors of an Engine. A nil *Metrics records nothing.
type Metrics struct {
	Lookups              *prometheus.CounterVec
	BackendErrors        *prometheus.CounterVec
	InvalidatedKeys      *prometheus.CounterVec
	InvalidationFailures *prometheus.CounterVec
}

// NewMetrics creates the collectors under namespace and registers them with reg.
// Collectors already registered by an earlier call are reused.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Lookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "query_cache",
				Name:      "lookups_total",
				Help:      "Cache lookups by entity and result",
			},
			[]string{"entity", "result"},
		),
		BackendErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "query_cache",
				Name:      "backend_errors_total",
				Help:      "Cache backend failures by entity and operation",
			},
			[]string{"entity", "op"},
		),
		InvalidatedKeys: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "query_cache",
				Name:      "invalidated_keys_total",
				Help:      "Keys deleted after writes",
			},
			[]string{"entity"},
		),
		InvalidationFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "query_cache",
				Name:      "invalidation_failures_total",
				Help:      "Keys that could not be deleted after writes",
			},
			[]string{"entity"},
		),
	}

	if reg != nil {
		m.Lookups = register(reg, m.Lookups)
		m.BackendErrors = register(reg, m.BackendErrors)
		m.InvalidatedKeys = register(reg, m.InvalidatedKeys)
		m.InvalidationFailures = register(reg, m.InvalidationFailures)
	}
	return m
}

func register(reg prometheus.Registerer, c *prometheus.CounterVec) *prometheus.CounterVec {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing
			}
		}
	}
	return c
}

func (m *Metrics) lookup(entity cache.EntityType, result string) {
	if m == nil {
		return
	}
	m.Lookups.WithLabelValues(string(entity), result).Inc()
}

func (m *Metrics) backendError(entity cache.EntityType, op string) {
	if m == nil {
		return
	}
	m.BackendErrors.WithLabelValues(string(entity), op).Inc()
}

func (m *Metrics) invalidated(entity cache.EntityType, deleted, failed int) {
	if m == nil {
		return
	}
	if deleted > 0 {
		m.InvalidatedKeys.WithLabelValues(string(entity)).Add(float64(deleted))
	}
	if failed > 0 {
		m.InvalidationFailures.WithLabelValues(string(entity)).Add(float64(failed))
	}
}
