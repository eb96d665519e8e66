package querycache

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/goliatone/go-query-cache/cache"
)

// ReadState is the state of a ReadInterceptor.
type ReadState int

const (
	ReadIdle ReadState = iota
	ReadIntercepting
	ReadHitLocal
	ReadHitBackend
	ReadMiss
	ReadResolved
)

func (s ReadState) String() string {
	switch s {
	case ReadIdle:
		return "idle"
	case ReadIntercepting:
		return "intercepting"
	case ReadHitLocal:
		return "hit_local"
	case ReadHitBackend:
		return "hit_backend"
	case ReadMiss:
		return "miss"
	case ReadResolved:
		return "resolved"
	default:
		return "unknown"
	}
}

// ReadOutcome is the result of BeforeRead.
type ReadOutcome struct {
	State ReadState
	Key   string
	TTL   time.Duration
	// Value holds the cached result on a hit.
	Value any
}

// ShortCircuit reports whether the executor must be skipped and Value returned.
func (o ReadOutcome) ShortCircuit() bool {
	return o.State == ReadHitLocal || o.State == ReadHitBackend
}

// Executor runs the underlying read.
type Executor func(ctx context.Context) (any, error)

type pendingRead struct {
	entity   cache.EntityType
	key      string
	ttl      time.Duration
	settings cache.EntitySettings
	store    cache.Store
}

// ReadInterceptor runs the read-through protocol for one unit of work. It keeps the
// key and ttl of the read in flight between BeforeRead and AfterRead and is not
// safe for concurrent use.
type ReadInterceptor struct {
	engine  *Engine
	local   *LocalCache
	logger  *zap.Logger
	state   ReadState
	pending *pendingRead
}

// NewReadInterceptor creates an interceptor serving local hits from local.
func NewReadInterceptor(engine *Engine, local *LocalCache) *ReadInterceptor {
	if local == nil {
		local = NewLocalCache()
	}
	return &ReadInterceptor{engine: engine, local: local, logger: engine.logger}
}

// State returns the current state.
func (r *ReadInterceptor) State() ReadState { return r.state }

// Caching reports whether a read is waiting for its result.
func (r *ReadInterceptor) Caching() bool { return r.pending != nil }

// BeforeRead decides whether the read can be answered from cache. A read without
// directive, or any read while caching is disabled, touches neither the registry
// nor the backend.
func (r *ReadInterceptor) BeforeRead(ctx context.Context, entity cache.EntityType, spec QuerySpec) (ReadOutcome, error) {
	r.pending = nil
	if r.engine.disabled || spec.Directive == nil {
		r.state = ReadIdle
		r.engine.metrics.lookup(entity, resultBypass)
		return ReadOutcome{State: ReadIdle}, nil
	}

	settings, store, err := r.engine.resolve(entity)
	if err != nil {
		r.state = ReadIdle
		return ReadOutcome{State: ReadIdle}, err
	}
	r.state = ReadIntercepting

	input, err := spec.keyInput()
	var key string
	if err == nil {
		key, err = cache.BuildKeyWith(settings, entity, input, true)
	}
	if err != nil {
		if !errors.Is(err, cache.ErrUnkeyableArgument) {
			r.state = ReadIdle
			return ReadOutcome{State: ReadIdle}, err
		}
		r.logger.Warn("query cache: read cannot be keyed, bypassing cache",
			zap.String("entity", string(entity)),
			zap.Error(err),
		)
		r.state = ReadIdle
		r.engine.metrics.lookup(entity, resultBypass)
		return ReadOutcome{State: ReadIdle}, nil
	}

	ttl := r.engine.ttl.Resolve(entity, spec.explicitTTL())

	if value, ok := r.local.Get(key); ok {
		r.engine.metrics.lookup(entity, resultHitLocal)
		r.state = ReadResolved
		return ReadOutcome{State: ReadHitLocal, Key: key, TTL: ttl, Value: value}, nil
	}

	value, ok, err := store.Get(ctx, key)
	if err != nil {
		r.logger.Warn("query cache: backend read failed, treating as miss",
			zap.String("entity", string(entity)),
			zap.String("key", key),
			zap.String("namespace", settings.Backend),
			zap.Error(err),
		)
		r.engine.metrics.backendError(entity, "get")
		ok = false
	}
	if ok {
		r.local.Set(entity, key, value)
		r.engine.metrics.lookup(entity, resultHitBackend)
		r.state = ReadResolved
		return ReadOutcome{State: ReadHitBackend, Key: key, TTL: ttl, Value: value}, nil
	}

	r.engine.metrics.lookup(entity, resultMiss)
	r.pending = &pendingRead{entity: entity, key: key, ttl: ttl, settings: settings, store: store}
	r.state = ReadMiss
	return ReadOutcome{State: ReadMiss, Key: key, TTL: ttl}, nil
}

// AfterRead stores the executor results of a pending miss and returns them. Empty
// results are not cached. Backend write failures are logged and do not fail the read.
func (r *ReadInterceptor) AfterRead(ctx context.Context, entity cache.EntityType, results any) (any, error) {
	p := r.pending
	r.pending = nil
	if p == nil {
		return results, nil
	}
	r.state = ReadResolved

	if p.entity != entity {
		r.logger.Debug("query cache: result entity does not match pending read",
			zap.String("entity", string(entity)),
			zap.String("pending", string(p.entity)),
		)
		return results, nil
	}
	if isEmpty(results) {
		return results, nil
	}

	switch {
	case p.settings.AppendsMetadata():
		Stamp(results, Provenance{Key: p.key, Expires: r.engine.now().Add(p.ttl)})
	case p.settings.AppendsKey():
		Stamp(results, Provenance{Key: p.key})
	}

	if err := p.store.Set(ctx, p.key, results, p.ttl); err != nil {
		r.logger.Error("query cache: backend write failed",
			zap.String("entity", string(entity)),
			zap.String("key", p.key),
			zap.String("namespace", p.settings.Backend),
			zap.Error(&cache.CacheBackendError{Op: "set", Namespace: p.settings.Backend, Key: p.key, Err: err}),
		)
		r.engine.metrics.backendError(entity, "set")
	} else {
		r.engine.trackVariant(p.settings, entity, p.key, p.ttl)
	}

	r.local.Set(entity, p.key, results)
	return results, nil
}

// Abort drops a pending read after the executor failed.
func (r *ReadInterceptor) Abort() {
	if r.pending != nil {
		r.pending = nil
		r.state = ReadResolved
	}
}

func (r *ReadInterceptor) reset() {
	r.pending = nil
	r.state = ReadIdle
}

// Read runs the full protocol around exec.
func (r *ReadInterceptor) Read(ctx context.Context, entity cache.EntityType, spec QuerySpec, exec Executor) (any, error) {
	outcome, err := r.BeforeRead(ctx, entity, spec)
	if err != nil {
		return nil, err
	}
	if outcome.ShortCircuit() {
		return outcome.Value, nil
	}

	results, err := exec(ctx)
	if err != nil {
		r.Abort()
		return nil, err
	}
	return r.AfterRead(ctx, entity, results)
}
