package querycache

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/goliatone/go-query-cache/cache"
)

// Hooks are the entry points a data layer calls around its reads and writes.
type Hooks interface {
	BeforeRead(ctx context.Context, entity cache.EntityType, spec QuerySpec) (ReadOutcome, error)
	AfterRead(ctx context.Context, entity cache.EntityType, results any) (any, error)
	AfterWrite(ctx context.Context, entity cache.EntityType, wc WriteContext) error
	AfterDelete(ctx context.Context, entity cache.EntityType, wc WriteContext) error
}

var _ Hooks = (*Behavior)(nil)

// Behavior binds the cache to one unit of work: it owns the local cache and the
// read interceptor, and shares the invalidation engine of its Engine.
type Behavior struct {
	id     string
	engine *Engine
	local  *LocalCache
	reader *ReadInterceptor
	logger *zap.Logger
}

// NewBehavior starts a unit of work.
func (e *Engine) NewBehavior() *Behavior {
	id := uuid.NewString()
	local := NewLocalCache()
	b := &Behavior{
		id:     id,
		engine: e,
		local:  local,
		logger: e.logger.With(zap.String("scope", id)),
	}
	b.reader = NewReadInterceptor(e, local)
	b.reader.logger = b.logger
	return b
}

// ID returns the unit of work id.
func (b *Behavior) ID() string { return b.id }

// Engine returns the shared engine.
func (b *Behavior) Engine() *Engine { return b.engine }

// Local returns the local cache of the unit of work.
func (b *Behavior) Local() *LocalCache { return b.local }

// Reader returns the read interceptor.
func (b *Behavior) Reader() *ReadInterceptor { return b.reader }

func (b *Behavior) BeforeRead(ctx context.Context, entity cache.EntityType, spec QuerySpec) (ReadOutcome, error) {
	return b.reader.BeforeRead(ctx, entity, spec)
}

func (b *Behavior) AfterRead(ctx context.Context, entity cache.EntityType, results any) (any, error) {
	return b.reader.AfterRead(ctx, entity, results)
}

// Abort drops the pending read after an executor error.
func (b *Behavior) Abort() { b.reader.Abort() }

// Read runs exec through the read-through protocol.
func (b *Behavior) Read(ctx context.Context, entity cache.EntityType, spec QuerySpec, exec Executor) (any, error) {
	return b.reader.Read(ctx, entity, spec, exec)
}

// AfterWrite invalidates after a create or update and evicts the same keys locally.
func (b *Behavior) AfterWrite(ctx context.Context, entity cache.EntityType, wc WriteContext) error {
	report, err := b.engine.invalidation.OnWriteSuccess(ctx, entity, wc)
	if err != nil {
		return err
	}
	b.evict(report)
	return nil
}

// AfterDelete invalidates after a delete.
func (b *Behavior) AfterDelete(ctx context.Context, entity cache.EntityType, wc WriteContext) error {
	wc.Kind = cache.WriteDelete
	return b.AfterWrite(ctx, entity, wc)
}

// ResetHooks runs the reset hooks of entity for identity.
func (b *Behavior) ResetHooks(ctx context.Context, entity cache.EntityType, identity map[string]any) error {
	report, err := b.engine.invalidation.Reset(ctx, entity, identity)
	if err != nil {
		return err
	}
	b.evict(report)
	return nil
}

// ClearAll clears the backend namespace of entity and drops the local entries of
// every entity stored in that namespace.
func (b *Behavior) ClearAll(ctx context.Context, entity cache.EntityType) error {
	if b.engine.disabled {
		b.local.PurgeEntity(entity)
		return nil
	}
	registry := b.engine.registry
	settings, err := registry.Get(entity)
	if err != nil {
		return err
	}
	for _, other := range registry.Entities() {
		if s, ok := registry.Lookup(other); ok && s.Backend == settings.Backend {
			b.local.PurgeEntity(other)
		}
	}
	return b.engine.invalidation.ClearAll(ctx, entity)
}

// Reset drops the local cache and any pending read.
func (b *Behavior) Reset() {
	b.reader.reset()
	b.local.Clear()
}

// Close ends the unit of work. Backend entries are kept.
func (b *Behavior) Close() {
	b.Reset()
}

func (b *Behavior) evict(report Report) {
	for _, key := range report.Keys() {
		b.local.Delete(key)
	}
	for _, prefix := range report.VariantPrefixes {
		b.local.DeletePrefix(prefix)
	}
}

type behaviorContextKey struct{}

// ContextWithBehavior attaches b to ctx so nested data layer calls share one unit of work.
func ContextWithBehavior(ctx context.Context, b *Behavior) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, behaviorContextKey{}, b)
}

// BehaviorFromContext returns the Behavior attached to ctx.
func BehaviorFromContext(ctx context.Context) (*Behavior, bool) {
	if ctx == nil {
		return nil, false
	}
	b, ok := ctx.Value(behaviorContextKey{}).(*Behavior)
	return b, ok && b != nil
}
