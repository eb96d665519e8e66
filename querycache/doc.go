// Package querycache runs the read-through / write-invalidate protocol on top of
// the cache package.
//
// An Engine is built once per process from a cache.Registry and a cache.Pool. Each
// unit of work (a request, a job) gets its own Behavior, which owns a LocalCache
// and a ReadInterceptor and implements Hooks:
//
//	engine := querycache.New(registry, pool, querycache.WithLogger(logger))
//	b := engine.NewBehavior()
//	defer b.Close()
//
//	user, err := b.Read(ctx, "User", querycache.QuerySpec{
//		Directive: querycache.UseKey(cache.Key("getById", 7)),
//	}, func(ctx context.Context) (any, error) {
//		return repo.GetByID(ctx, "7")
//	})
//
// Reads without a directive are passed through untouched. A read is answered from
// the local cache first, then from the backend; on a miss the executor runs and
// non-empty results are written to both.
//
// After a write, AfterWrite and AfterDelete delete the list and count entries of
// the entity, the single-entity lookups and the reset hooks whose identity fields
// are known:
//
//	err := b.AfterWrite(ctx, "Article", querycache.WriteContext{
//		Kind:     cache.WriteUpdate,
//		Identity: map[string]any{"id": 1, "slug": "hello-world"},
//		Success:  true,
//	})
//
// Backend failures never fail a read or a write: they are logged and counted.
// Configuration errors are returned.
//
// Engine.Remember and Remember wrap a compute function with the same caching,
// deduplicating concurrent misses on one key.
package querycache
