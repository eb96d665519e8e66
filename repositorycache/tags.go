package repositorycache

import (
	"context"
	"time"

	"github.com/goliatone/go-query-cache/cache"
)

type readOptionsContextKey struct{}

type readOptions struct {
	scope *cache.KeyInput
	ttl   time.Duration
	skip  bool
}

// WithCacheKey caches reads made with ctx, including reads with criteria, which
// are otherwise not cached. input qualifies the key of each read rather than
// replacing it: the key is the read operation, then the operation of input when
// it differs, then the arguments of input, then the arguments of the read.
//
//	ctx = repositorycache.WithCacheKey(ctx, cache.Key("getList", "active", page))
//	users, total, err := repo.List(ctx, activeCriteria(page)...) // User::getList-active-<page>
//	user, err := repo.GetByID(ctx, id, activeCriteria(page)...)  // User::getById-getList-active-<page>-<id>
//
// List and Count keys built this way are argument variants of the collection and
// are invalidated with it on every write. Keys of other reads are not reached by
// write invalidation: register a reset hook for them or rely on their expiry.
func WithCacheKey(ctx context.Context, input cache.KeyInput) context.Context {
	opts := optionsFromContext(ctx)
	opts.scope = &input
	opts.skip = false
	return withOptions(ctx, opts)
}

// scopedKey folds the context input into the key input of a read.
func scopedKey(scope, read cache.KeyInput) cache.KeyInput {
	args := make([]any, 0, 1+len(scope.Args())+len(read.Args()))
	switch {
	case scope.IsFlat():
		args = append(args, scope.Raw())
	case scope.Operation() != read.Operation():
		args = append(args, scope.Operation())
	}
	args = append(args, scope.Args()...)
	args = append(args, read.Args()...)
	return cache.Key(read.Operation(), args...)
}

// WithCacheTTL sets the expiry of entries written by reads made with ctx.
func WithCacheTTL(ctx context.Context, ttl time.Duration) context.Context {
	opts := optionsFromContext(ctx)
	opts.ttl = ttl
	return withOptions(ctx, opts)
}

// WithoutCache makes reads with ctx go straight to the base repository.
func WithoutCache(ctx context.Context) context.Context {
	opts := optionsFromContext(ctx)
	opts.skip = true
	opts.scope = nil
	return withOptions(ctx, opts)
}

func withOptions(ctx context.Context, opts readOptions) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, readOptionsContextKey{}, opts)
}

func optionsFromContext(ctx context.Context) readOptions {
	if ctx == nil {
		return readOptions{}
	}
	opts, _ := ctx.Value(readOptionsContextKey{}).(readOptions)
	return opts
}
