package repositorycache

import (
	"context"
	"fmt"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
	"go.uber.org/zap"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/querycache"
)

// Operations cached by the decorator besides the preset ones.
const (
	OpGet             = "get"
	OpGetByIdentifier = "getByIdentifier"
	IdentifierField   = "identifier"
)

var _ repository.Repository[any] = (*CachedRepository[any])(nil)

// listResult wraps the tuple result of List for caching.
type listResult[T any] struct {
	Records []T `json:"records" msgpack:"records"`
	Total   int `json:"total" msgpack:"total"`
}

func (l *listResult[T]) StampCache(p querycache.Provenance) {
	querycache.Stamp(l.Records, p)
}

// CachedRepository decorates a base repository with the query cache. Reads
// without criteria are cached under the entity operation keys; reads with
// criteria are cached only when the context carries a key (see WithCacheKey).
// Writes invalidate through the engine after the base call succeeds.
type CachedRepository[T any] struct {
	base   repository.Repository[T]
	engine *querycache.Engine
	entity cache.EntityType
	logger *zap.Logger
}

// Option configures a CachedRepository.
type Option func(*options)

type options struct {
	entity   cache.EntityType
	settings *cache.EntitySettings
}

// WithEntity overrides the entity type derived from T.
func WithEntity(entity cache.EntityType) Option {
	return func(o *options) {
		o.entity = entity
	}
}

// WithSettings registers settings for the entity instead of the repository defaults.
func WithSettings(settings cache.EntitySettings) Option {
	return func(o *options) {
		o.settings = &settings
	}
}

// New wraps base. The entity is registered with the engine registry when it is
// not registered yet.
func New[T any](base repository.Repository[T], engine *querycache.Engine, opts ...Option) (*CachedRepository[T], error) {
	o := options{entity: EntityName[T]()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.entity == "" {
		return nil, cache.Categorize(&cache.ConfigurationError{Field: "EntityType", Message: fmt.Sprintf("cannot derive entity name from %T", *new(T))})
	}

	registry := engine.Registry()
	switch {
	case o.settings != nil:
		if err := registry.Register(o.entity, *o.settings); err != nil {
			return nil, cache.Categorize(err)
		}
	case !registry.Registered(o.entity):
		if err := registry.Register(o.entity, DefaultSettings()); err != nil {
			return nil, cache.Categorize(err)
		}
	}

	return &CachedRepository[T]{
		base:   base,
		engine: engine,
		entity: o.entity,
		logger: engine.Logger().With(zap.String("entity", string(o.entity))),
	}, nil
}

// DefaultSettings are the settings a repository entity is registered with: the
// registry defaults plus the identifier lookup and the first-row query. The
// identifier hook refreshes identifier reads on updates, where only the
// identity field lookup runs.
func DefaultSettings() cache.EntitySettings {
	return cache.EntitySettings{
		MethodAliases: map[string]string{
			OpGet:             OpGet,
			OpGetByIdentifier: OpGetByIdentifier,
		},
		Lookups: map[string]string{
			IdentifierField: OpGetByIdentifier,
		},
		ResetHooks: cache.ResetHooks{
			{Name: OpGet, Always: true},
			{Name: OpGetByIdentifier, Fields: []string{IdentifierField}},
		},
	}
}

// Entity returns the entity type the repository caches under.
func (c *CachedRepository[T]) Entity() cache.EntityType { return c.entity }

// Base returns the decorated repository.
func (c *CachedRepository[T]) Base() repository.Repository[T] { return c.base }

// Get retrieves a single record using the provided criteria.
func (c *CachedRepository[T]) Get(ctx context.Context, criteria ...repository.SelectCriteria) (T, error) {
	return cachedRead(ctx, c, c.defaultSpec(ctx, len(criteria), cache.Key(OpGet)), func(ctx context.Context) (T, error) {
		return c.base.Get(ctx, criteria...)
	})
}

// GetByID retrieves a record by ID.
func (c *CachedRepository[T]) GetByID(ctx context.Context, id string, criteria ...repository.SelectCriteria) (T, error) {
	return cachedRead(ctx, c, c.defaultSpec(ctx, len(criteria), cache.Key(cache.OpGetByID, id)), func(ctx context.Context) (T, error) {
		return c.base.GetByID(ctx, id, criteria...)
	})
}

// List retrieves records and the total count.
func (c *CachedRepository[T]) List(ctx context.Context, criteria ...repository.SelectCriteria) ([]T, int, error) {
	res, err := cachedRead(ctx, c, c.defaultSpec(ctx, len(criteria), cache.Key(cache.OpGetList)), func(ctx context.Context) (*listResult[T], error) {
		records, total, err := c.base.List(ctx, criteria...)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 && total == 0 {
			return nil, nil
		}
		return &listResult[T]{Records: records, Total: total}, nil
	})
	if err != nil || res == nil {
		return nil, 0, err
	}
	return res.Records, res.Total, nil
}

// Count returns the number of records matching the criteria.
func (c *CachedRepository[T]) Count(ctx context.Context, criteria ...repository.SelectCriteria) (int, error) {
	return cachedRead(ctx, c, c.defaultSpec(ctx, len(criteria), cache.Key(cache.OpGetCount)), func(ctx context.Context) (int, error) {
		return c.base.Count(ctx, criteria...)
	})
}

// GetByIdentifier retrieves a record by identifier.
func (c *CachedRepository[T]) GetByIdentifier(ctx context.Context, identifier string, criteria ...repository.SelectCriteria) (T, error) {
	return cachedRead(ctx, c, c.defaultSpec(ctx, len(criteria), cache.Key(OpGetByIdentifier, identifier)), func(ctx context.Context) (T, error) {
		return c.base.GetByIdentifier(ctx, identifier, criteria...)
	})
}

func (c *CachedRepository[T]) Create(ctx context.Context, record T, criteria ...repository.InsertCriteria) (T, error) {
	result, err := c.base.Create(ctx, record, criteria...)
	if err == nil {
		c.afterWrite(ctx, cache.WriteCreate, result)
	}
	return result, err
}

func (c *CachedRepository[T]) CreateTx(ctx context.Context, tx bun.IDB, record T, criteria ...repository.InsertCriteria) (T, error) {
	result, err := c.base.CreateTx(ctx, tx, record, criteria...)
	if err == nil {
		c.afterWrite(ctx, cache.WriteCreate, result)
	}
	return result, err
}

func (c *CachedRepository[T]) CreateMany(ctx context.Context, records []T, criteria ...repository.InsertCriteria) ([]T, error) {
	result, err := c.base.CreateMany(ctx, records, criteria...)
	if err == nil {
		c.afterWrite(ctx, cache.WriteCreate, result...)
	}
	return result, err
}

func (c *CachedRepository[T]) CreateManyTx(ctx context.Context, tx bun.IDB, records []T, criteria ...repository.InsertCriteria) ([]T, error) {
	result, err := c.base.CreateManyTx(ctx, tx, records, criteria...)
	if err == nil {
		c.afterWrite(ctx, cache.WriteCreate, result...)
	}
	return result, err
}

// GetOrCreate may insert, so it invalidates like a create.
func (c *CachedRepository[T]) GetOrCreate(ctx context.Context, record T) (T, error) {
	result, err := c.base.GetOrCreate(ctx, record)
	if err == nil {
		c.afterWrite(ctx, cache.WriteCreate, result)
	}
	return result, err
}

func (c *CachedRepository[T]) GetOrCreateTx(ctx context.Context, tx bun.IDB, record T) (T, error) {
	result, err := c.base.GetOrCreateTx(ctx, tx, record)
	if err == nil {
		c.afterWrite(ctx, cache.WriteCreate, result)
	}
	return result, err
}

func (c *CachedRepository[T]) Update(ctx context.Context, record T, criteria ...repository.UpdateCriteria) (T, error) {
	result, err := c.base.Update(ctx, record, criteria...)
	if err == nil {
		c.afterWrite(ctx, cache.WriteUpdate, result)
	}
	return result, err
}

func (c *CachedRepository[T]) UpdateTx(ctx context.Context, tx bun.IDB, record T, criteria ...repository.UpdateCriteria) (T, error) {
	result, err := c.base.UpdateTx(ctx, tx, record, criteria...)
	if err == nil {
		c.afterWrite(ctx, cache.WriteUpdate, result)
	}
	return result, err
}

func (c *CachedRepository[T]) UpdateMany(ctx context.Context, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	result, err := c.base.UpdateMany(ctx, records, criteria...)
	if err == nil {
		c.afterWrite(ctx, cache.WriteUpdate, result...)
	}
	return result, err
}

func (c *CachedRepository[T]) UpdateManyTx(ctx context.Context, tx bun.IDB, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	result, err := c.base.UpdateManyTx(ctx, tx, records, criteria...)
	if err == nil {
		c.afterWrite(ctx, cache.WriteUpdate, result...)
	}
	return result, err
}

// Upsert can insert or update; it invalidates like an update.
func (c *CachedRepository[T]) Upsert(ctx context.Context, record T, criteria ...repository.UpdateCriteria) (T, error) {
	result, err := c.base.Upsert(ctx, record, criteria...)
	if err == nil {
		c.afterWrite(ctx, cache.WriteUpdate, result)
	}
	return result, err
}

func (c *CachedRepository[T]) UpsertTx(ctx context.Context, tx bun.IDB, record T, criteria ...repository.UpdateCriteria) (T, error) {
	result, err := c.base.UpsertTx(ctx, tx, record, criteria...)
	if err == nil {
		c.afterWrite(ctx, cache.WriteUpdate, result)
	}
	return result, err
}

func (c *CachedRepository[T]) UpsertMany(ctx context.Context, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	result, err := c.base.UpsertMany(ctx, records, criteria...)
	if err == nil {
		c.afterWrite(ctx, cache.WriteUpdate, result...)
	}
	return result, err
}

func (c *CachedRepository[T]) UpsertManyTx(ctx context.Context, tx bun.IDB, records []T, criteria ...repository.UpdateCriteria) ([]T, error) {
	result, err := c.base.UpsertManyTx(ctx, tx, records, criteria...)
	if err == nil {
		c.afterWrite(ctx, cache.WriteUpdate, result...)
	}
	return result, err
}

func (c *CachedRepository[T]) Delete(ctx context.Context, record T) error {
	err := c.base.Delete(ctx, record)
	if err == nil {
		c.afterWrite(ctx, cache.WriteDelete, record)
	}
	return err
}

func (c *CachedRepository[T]) DeleteTx(ctx context.Context, tx bun.IDB, record T) error {
	err := c.base.DeleteTx(ctx, tx, record)
	if err == nil {
		c.afterWrite(ctx, cache.WriteDelete, record)
	}
	return err
}

// DeleteMany clears the entity namespace: the deleted rows are not known.
func (c *CachedRepository[T]) DeleteMany(ctx context.Context, criteria ...repository.DeleteCriteria) error {
	err := c.base.DeleteMany(ctx, criteria...)
	if err == nil {
		c.clearAll(ctx)
	}
	return err
}

func (c *CachedRepository[T]) DeleteManyTx(ctx context.Context, tx bun.IDB, criteria ...repository.DeleteCriteria) error {
	err := c.base.DeleteManyTx(ctx, tx, criteria...)
	if err == nil {
		c.clearAll(ctx)
	}
	return err
}

// DeleteWhere clears the entity namespace: the deleted rows are not known.
func (c *CachedRepository[T]) DeleteWhere(ctx context.Context, criteria ...repository.DeleteCriteria) error {
	err := c.base.DeleteWhere(ctx, criteria...)
	if err == nil {
		c.clearAll(ctx)
	}
	return err
}

func (c *CachedRepository[T]) DeleteWhereTx(ctx context.Context, tx bun.IDB, criteria ...repository.DeleteCriteria) error {
	err := c.base.DeleteWhereTx(ctx, tx, criteria...)
	if err == nil {
		c.clearAll(ctx)
	}
	return err
}

// ForceDelete bypasses soft delete in the base repository.
func (c *CachedRepository[T]) ForceDelete(ctx context.Context, record T) error {
	err := c.base.ForceDelete(ctx, record)
	if err == nil {
		c.afterWrite(ctx, cache.WriteDelete, record)
	}
	return err
}

func (c *CachedRepository[T]) ForceDeleteTx(ctx context.Context, tx bun.IDB, record T) error {
	err := c.base.ForceDeleteTx(ctx, tx, record)
	if err == nil {
		c.afterWrite(ctx, cache.WriteDelete, record)
	}
	return err
}

// Reads inside a transaction may observe uncommitted rows and are never cached.

func (c *CachedRepository[T]) GetTx(ctx context.Context, tx bun.IDB, criteria ...repository.SelectCriteria) (T, error) {
	return c.base.GetTx(ctx, tx, criteria...)
}

func (c *CachedRepository[T]) GetByIDTx(ctx context.Context, tx bun.IDB, id string, criteria ...repository.SelectCriteria) (T, error) {
	return c.base.GetByIDTx(ctx, tx, id, criteria...)
}

func (c *CachedRepository[T]) ListTx(ctx context.Context, tx bun.IDB, criteria ...repository.SelectCriteria) ([]T, int, error) {
	return c.base.ListTx(ctx, tx, criteria...)
}

func (c *CachedRepository[T]) CountTx(ctx context.Context, tx bun.IDB, criteria ...repository.SelectCriteria) (int, error) {
	return c.base.CountTx(ctx, tx, criteria...)
}

func (c *CachedRepository[T]) GetByIdentifierTx(ctx context.Context, tx bun.IDB, identifier string, criteria ...repository.SelectCriteria) (T, error) {
	return c.base.GetByIdentifierTx(ctx, tx, identifier, criteria...)
}

// Raw executes a raw SQL query. Results are not cached.
func (c *CachedRepository[T]) Raw(ctx context.Context, sql string, args ...any) ([]T, error) {
	return c.base.Raw(ctx, sql, args...)
}

func (c *CachedRepository[T]) RawTx(ctx context.Context, tx bun.IDB, sql string, args ...any) ([]T, error) {
	return c.base.RawTx(ctx, tx, sql, args...)
}

// Handlers returns the model handlers from the base repository.
func (c *CachedRepository[T]) Handlers() repository.ModelHandlers[T] {
	return c.base.Handlers()
}

// defaultSpec returns the QuerySpec of a read keyed by input. Reads with criteria are
// only cached when the context carries a key scope.
func (c *CachedRepository[T]) defaultSpec(ctx context.Context, criteria int, input cache.KeyInput) querycache.QuerySpec {
	opts := optionsFromContext(ctx)
	switch {
	case opts.skip:
		return querycache.QuerySpec{}
	case opts.scope != nil:
		return querycache.QuerySpec{Directive: querycache.UseKey(scopedKey(*opts.scope, input)), TTL: opts.ttl}
	case criteria > 0:
		return querycache.QuerySpec{}
	default:
		return querycache.QuerySpec{Directive: querycache.UseKey(input), TTL: opts.ttl}
	}
}

// behavior returns the unit of work attached to ctx, or a fresh one closed by done.
func (c *CachedRepository[T]) behavior(ctx context.Context) (b *querycache.Behavior, done func()) {
	if b, ok := querycache.BehaviorFromContext(ctx); ok && b.Engine() == c.engine {
		return b, func() {}
	}
	b = c.engine.NewBehavior()
	return b, b.Close
}

func cachedRead[T, R any](ctx context.Context, c *CachedRepository[T], spec querycache.QuerySpec, exec func(context.Context) (R, error)) (R, error) {
	var zero R
	b, done := c.behavior(ctx)
	defer done()

	value, err := b.Read(ctx, c.entity, spec, func(ctx context.Context) (any, error) {
		return exec(ctx)
	})
	if err != nil {
		return zero, cache.Categorize(err)
	}
	return cache.Decode[R](value)
}

func (c *CachedRepository[T]) afterWrite(ctx context.Context, kind cache.WriteKind, records ...T) {
	b, done := c.behavior(ctx)
	defer done()

	for _, record := range records {
		wc := querycache.WriteContext{Kind: kind, Identity: identityOf(record), Success: true}
		var err error
		if kind == cache.WriteDelete {
			err = b.AfterDelete(ctx, c.entity, wc)
		} else {
			err = b.AfterWrite(ctx, c.entity, wc)
		}
		if err != nil {
			c.logger.Error("query cache: invalidation skipped", zap.Stringer("kind", kind), zap.Error(err))
		}
	}
}

func (c *CachedRepository[T]) clearAll(ctx context.Context) {
	b, done := c.behavior(ctx)
	defer done()

	if err := b.ClearAll(ctx, c.entity); err != nil {
		c.logger.Error("query cache: clear skipped", zap.Error(err))
	}
}
