package querycache

import (
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/goliatone/go-query-cache/cache"
)

// Engine holds everything shared between units of work: settings, backends,
// key derivation, TTL resolution and the key tracker. It is safe for concurrent use.
type Engine struct {
	registry *cache.Registry
	pool     *cache.Pool
	keys     *cache.KeyBuilder
	ttl      *cache.TTLResolver
	tracker  *keyTracker
	group    singleflight.Group

	invalidation *InvalidationEngine

	logger   *zap.Logger
	metrics  *Metrics
	disabled bool
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithDisabled turns every operation into a pass-through when disabled is true.
func WithDisabled(disabled bool) Option {
	return func(e *Engine) { e.disabled = disabled }
}

// WithMetrics records lookups, backend failures and invalidations.
func WithMetrics(metrics *Metrics) Option {
	return func(e *Engine) { e.metrics = metrics }
}

// WithClock replaces time.Now, used for provenance expiry stamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithDefaultTTL replaces cache.DefaultTTL as the global fallback.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(e *Engine) { e.ttl = e.ttl.WithFallback(ttl) }
}

// New creates an Engine over registry and pool.
func New(registry *cache.Registry, pool *cache.Pool, opts ...Option) *Engine {
	e := &Engine{
		registry: registry,
		pool:     pool,
		keys:     cache.NewKeyBuilder(registry),
		ttl:      cache.NewTTLResolver(registry),
		tracker:  newKeyTracker(),
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.invalidation = &InvalidationEngine{engine: e}
	return e
}

// Registry returns the settings registry.
func (e *Engine) Registry() *cache.Registry { return e.registry }

// Pool returns the backend pool.
func (e *Engine) Pool() *cache.Pool { return e.pool }

// KeyBuilder returns the key builder bound to the registry.
func (e *Engine) KeyBuilder() *cache.KeyBuilder { return e.keys }

// TTL returns the TTL resolver.
func (e *Engine) TTL() *cache.TTLResolver { return e.ttl }

// Invalidation returns the shared invalidation engine.
func (e *Engine) Invalidation() *InvalidationEngine { return e.invalidation }

// Disabled reports whether caching is bypassed.
func (e *Engine) Disabled() bool { return e.disabled }

// Logger returns the engine logger.
func (e *Engine) Logger() *zap.Logger { return e.logger }

// TrackedKeys returns how many list and count variants are currently tracked.
func (e *Engine) TrackedKeys() int { return e.tracker.size(e.now()) }

// resolve returns the settings and the store of entity.
func (e *Engine) resolve(entity cache.EntityType) (cache.EntitySettings, cache.Store, error) {
	settings, err := e.registry.Get(entity)
	if err != nil {
		return cache.EntitySettings{}, nil, err
	}
	store, err := e.pool.Store(settings.Backend)
	if err != nil {
		if cfgErr, ok := err.(*cache.ConfigurationError); ok && cfgErr.Entity == "" {
			cfgErr.Entity = entity
		}
		return cache.EntitySettings{}, nil, err
	}
	return settings, store, nil
}
