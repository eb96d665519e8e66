// Package repositorycache provides a cached repository decorator for go-repository-bun.
//
// # Overview
//
// CachedRepository wraps a repository.Repository[T] and routes its reads and
// writes through a querycache.Engine. It is a drop-in replacement for the base
// repository: every method of the interface is available with the same signature.
//
//	engine := querycache.New(registry, pool, querycache.WithLogger(logger))
//	users, err := repositorycache.New[*User](base, engine)
//
//	user, err := users.GetByID(ctx, "7") // cached under User::getById-7
//
// The entity type is derived from T ("User" for *models.User) and registered with
// the engine registry on first use. Use WithEntity and WithSettings to override.
//
// # Reads
//
// Reads without criteria are cached under fixed operation keys:
//
//	Get              User::get
//	GetByID          User::getById-<id>
//	GetByIdentifier  User::getByIdentifier-<identifier>
//	List             User::getList
//	Count            User::getCount
//
// Criteria are closures and cannot be keyed, so reads with criteria go to the
// base repository unless the context carries a key:
//
//	ctx = repositorycache.WithCacheKey(ctx, cache.Key("getList", "active", page))
//	records, total, err := users.List(ctx, active(page)...)
//
// The context key qualifies the key of each read, so GetByID under the same
// context still keys by id (User::getById-getList-active-<page>-<id>). Keys with
// arguments for a list or count operation are invalidated together with the
// operation itself; other scoped keys need a reset hook or expire on their own.
// WithoutCache forces a read through to the base repository. Transaction reads
// (*Tx) and Raw are never cached.
//
// # Writes
//
// After a successful write the record is turned into an identity map (bun column
// names, or snake_case field names, plus "id" and "identifier") and handed to the
// engine, which deletes the list and count entries, the single-entity lookups and
// the reset hooks whose fields are known. DeleteMany and DeleteWhere do not know
// the affected rows and clear the backend namespace of the entity instead.
//
// # Units of work
//
// When the context carries a querycache.Behavior (querycache.ContextWithBehavior)
// all calls share its local cache, so a read following a write in the same request
// observes the write. Otherwise each call runs in its own short-lived Behavior.
//
// # Error Handling
//
// Errors from the base repository are returned unchanged. Cache backend failures
// never fail a call; they are logged through the engine logger.
package repositorycache
