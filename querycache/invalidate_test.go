package querycache

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/pkg/testsupport"
)

func warm(t *testing.T, b *Behavior, entity cache.EntityType, inputs ...cache.KeyInput) {
	t.Helper()
	for _, input := range inputs {
		_, err := b.Read(context.Background(), entity, QuerySpec{Directive: UseKey(input)}, func(context.Context) (any, error) {
			return []string{"row"}, nil
		})
		require.NoError(t, err)
	}
}

func TestAfterWrite_UserUpdateScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	b := h.engine.NewBehavior()

	warm(t, b, "User",
		cache.Key(cache.OpGetByID, 7),
		cache.Key(cache.OpGetByID, 8),
		cache.Key(cache.OpGetList),
		cache.Key(cache.OpGetList, 2),
		cache.Key(cache.OpGetCount),
	)
	require.Len(t, h.store.Keys(), 5)
	h.store.ResetCalls()

	err := b.AfterWrite(ctx, "User", WriteContext{
		Kind:     cache.WriteUpdate,
		Identity: map[string]any{"id": 7},
		Success:  true,
	})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{
		"User::getList",
		"User::getList-2",
		"User::getCount",
		"User::getById-7",
	}, h.store.DeletedKeys())
	assert.Equal(t, []string{"User::getById-8"}, h.store.Keys())
	assert.Equal(t, 0, h.engine.TrackedKeys())
	assert.Equal(t, 4.0, testutil.ToFloat64(h.metrics.InvalidatedKeys.WithLabelValues("User")))
}

func TestAfterWrite_ThenReadIsFresh(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	b := h.engine.NewBehavior()

	version := "v1"
	exec := func(context.Context) (any, error) { return version, nil }

	got, err := b.Read(ctx, "User", byID(7), exec)
	require.NoError(t, err)
	assert.Equal(t, "v1", got)

	version = "v2"
	require.NoError(t, b.AfterWrite(ctx, "User", WriteContext{
		Kind:     cache.WriteUpdate,
		Identity: map[string]any{"id": 7},
		Success:  true,
	}))

	got, err = b.Read(ctx, "User", byID(7), exec)
	require.NoError(t, err)
	assert.Equal(t, "v2", got, "the same unit of work must not serve the stale local entry")

	other := h.engine.NewBehavior()
	got, err = other.Read(ctx, "User", byID(7), exec)
	require.NoError(t, err)
	assert.Equal(t, "v2", got)
}

func TestAfterWrite_ResetHooksNeedAllFields(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	b := h.engine.NewBehavior()

	tests := []struct {
		name     string
		identity map[string]any
		deleted  []string
		kept     []string
	}{
		{
			name:     "no slug keeps the slug entry",
			identity: map[string]any{"id": 1},
			deleted:  []string{"Article::getById-1", "Article::getFeatured"},
			kept:     []string{"Article::getBySlug-hello", "Article::getByAuthor-4-published"},
		},
		{
			name:     "blank slug is missing",
			identity: map[string]any{"id": 1, "slug": ""},
			deleted:  []string{"Article::getFeatured"},
			kept:     []string{"Article::getBySlug-hello"},
		},
		{
			name:     "slug present",
			identity: map[string]any{"id": 1, "slug": "hello"},
			deleted:  []string{"Article::getBySlug-hello", "Article::getFeatured"},
			kept:     []string{"Article::getByAuthor-4-published"},
		},
		{
			name:     "partial author fields",
			identity: map[string]any{"author_id": 4},
			kept:     []string{"Article::getByAuthor-4-published"},
		},
		{
			name:     "all author fields in hook order",
			identity: map[string]any{"status": "published", "author_id": 4},
			deleted:  []string{"Article::getByAuthor-4-published"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			warm(t, b, "Article",
				cache.Key(cache.OpGetByID, 1),
				cache.Key("getBySlug", "hello"),
				cache.Key("getByAuthor", 4, "published"),
				cache.Key("getFeatured"),
			)
			h.store.ResetCalls()

			require.NoError(t, b.AfterWrite(ctx, "Article", WriteContext{
				Kind:     cache.WriteUpdate,
				Identity: tt.identity,
				Success:  true,
			}))

			deleted := h.store.DeletedKeys()
			for _, key := range tt.deleted {
				assert.Contains(t, deleted, key)
			}
			for _, key := range tt.kept {
				assert.NotContains(t, deleted, key)
				assert.True(t, h.store.Has(key), "%s must survive", key)
			}
		})
	}
}

func TestAfterWrite_EventToggleGatesLookupsAndHooks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.engine.Registry().Register("Tag", cache.Merge(cache.PresetRelaxed(), cache.EntitySettings{
		ResetHooks: cache.ResetHooks{{Name: "getByName", Fields: []string{"name"}}},
	})))
	b := h.engine.NewBehavior()
	warm(t, b, "Tag", cache.Key(cache.OpGetByID, 3), cache.Key("getByName", "go"), cache.Key(cache.OpGetList))
	h.store.ResetCalls()

	require.NoError(t, b.AfterWrite(ctx, "Tag", WriteContext{
		Kind:     cache.WriteCreate,
		Identity: map[string]any{"id": 3, "name": "go"},
		Success:  true,
	}))

	assert.ElementsMatch(t, []string{"Tag::getList", "Tag::getCount"}, h.store.DeletedKeys(), "collections are always invalidated")
	assert.True(t, h.store.Has("Tag::getById-3"))
	assert.True(t, h.store.Has("Tag::getByName-go"))

	require.NoError(t, b.AfterWrite(ctx, "Tag", WriteContext{
		Kind:     cache.WriteUpdate,
		Identity: map[string]any{"id": 3, "name": "go"},
		Success:  true,
	}))
	assert.False(t, h.store.Has("Tag::getById-3"))
	assert.False(t, h.store.Has("Tag::getByName-go"))
}

func TestAfterDelete_UsesEveryLookup(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	b := h.engine.NewBehavior()
	warm(t, b, "Article", cache.Key(cache.OpGetByID, 1), cache.Key("getBySlug", "hello"))
	h.store.ResetCalls()

	require.NoError(t, b.AfterDelete(ctx, "Article", WriteContext{
		Kind:     cache.WriteUpdate,
		Identity: map[string]any{"id": 1, "slug": "hello"},
		Success:  true,
	}))

	deleted := h.store.DeletedKeys()
	assert.Contains(t, deleted, "Article::getById-1")
	assert.Contains(t, deleted, "Article::getBySlug-hello")

	seen := map[string]int{}
	for _, key := range deleted {
		seen[key]++
	}
	assert.Equal(t, 1, seen["Article::getBySlug-hello"], "keys reached by lookup and hook are deleted once")
}

func TestAfterWrite_FailedWriteInvalidatesNothing(t *testing.T) {
	h := newHarness(t)
	b := h.engine.NewBehavior()
	warm(t, b, "User", cache.Key(cache.OpGetList))
	h.store.ResetCalls()

	require.NoError(t, b.AfterWrite(context.Background(), "User", WriteContext{
		Kind:     cache.WriteUpdate,
		Identity: map[string]any{"id": 1},
	}))
	assert.Empty(t, h.store.Calls())
	assert.True(t, h.store.Has("User::getList"))
}

func TestAfterWrite_DeleteFailuresAreReportedNotReturned(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	b := h.engine.NewBehavior()
	warm(t, b, "User", cache.Key(cache.OpGetList), cache.Key(cache.OpGetByID, 1))
	h.store.FailKeys = map[string]error{"User::getList": errors.New("timeout")}

	report, err := h.engine.Invalidation().OnWriteSuccess(ctx, "User", WriteContext{
		Kind:     cache.WriteUpdate,
		Identity: map[string]any{"id": 1},
		Success:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"User::getList"}, report.Failed)
	assert.Contains(t, report.Deleted, "User::getById-1")
	assert.Contains(t, report.Deleted, "User::getCount")
	assert.Equal(t, cache.DefaultBackend, report.Namespace)

	assert.Equal(t, 1, h.logs.FilterMessage("query cache: invalidation failed").Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.InvalidationFailures.WithLabelValues("User")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.BackendErrors.WithLabelValues("User", "delete")))

	require.NoError(t, b.AfterWrite(ctx, "User", WriteContext{Kind: cache.WriteUpdate, Success: true}))
}

func TestAfterWrite_ConfigurationErrors(t *testing.T) {
	h := newHarness(t)
	b := h.engine.NewBehavior()

	err := b.AfterWrite(context.Background(), "Ghost", WriteContext{Kind: cache.WriteUpdate, Success: true})
	assert.True(t, cache.IsConfigurationError(err))
	assert.Empty(t, h.store.Calls())
}

func TestReset_RunsOnlyHooks(t *testing.T) {
	h := newHarness(t)
	b := h.engine.NewBehavior()
	warm(t, b, "Article", cache.Key(cache.OpGetList), cache.Key("getBySlug", "hello"), cache.Key("getFeatured"))
	h.store.ResetCalls()

	require.NoError(t, b.ResetHooks(context.Background(), "Article", map[string]any{"slug": "hello"}))

	assert.ElementsMatch(t, []string{"Article::getBySlug-hello", "Article::getFeatured"}, h.store.DeletedKeys())
	assert.True(t, h.store.Has("Article::getList"))
	_, ok := b.Local().Get("Article::getBySlug-hello")
	assert.False(t, ok)
}

func TestReset_DeletesExactKeysOnly(t *testing.T) {
	h := newHarness(t)
	b := h.engine.NewBehavior()
	warm(t, b, "Article",
		cache.Key("getBySlug", "go"),
		cache.Key("getBySlug", "go-generics"),
		cache.Key(cache.OpGetList, "go"),
	)
	h.store.ResetCalls()

	require.NoError(t, b.ResetHooks(context.Background(), "Article", map[string]any{"slug": "go"}))

	assert.ElementsMatch(t, []string{"Article::getBySlug-go", "Article::getFeatured"}, h.store.DeletedKeys())
	assert.True(t, h.store.Has("Article::getBySlug-go-generics"), "a slug sharing the prefix stays cached")
	_, ok := b.Local().Get("Article::getBySlug-go-generics")
	assert.True(t, ok)

	require.NoError(t, b.AfterWrite(context.Background(), "Article", WriteContext{
		Kind:     cache.WriteUpdate,
		Identity: map[string]any{"id": 9, "slug": "go"},
		Success:  true,
	}))
	assert.True(t, h.store.Has("Article::getBySlug-go-generics"))
	assert.False(t, h.store.Has("Article::getList-go"), "list variants still go with the collection")
	_, ok = b.Local().Get("Article::getList-go")
	assert.False(t, ok)
}

func TestClearAll(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	audits := testsupport.NewMemoryStore()
	h.engine.Pool().Register("audit", audits)
	require.NoError(t, h.engine.Registry().Register("Audit", cache.EntitySettings{Backend: "audit"}))

	b := h.engine.NewBehavior()
	warm(t, b, "User", cache.Key(cache.OpGetByID, 1), cache.Key(cache.OpGetList, 2))
	warm(t, b, "Article", cache.Key(cache.OpGetByID, 1))
	warm(t, b, "Audit", cache.Key(cache.OpGetByID, 1))

	require.NoError(t, b.ClearAll(ctx, "User"))

	assert.Equal(t, 1, h.store.CallCount("clear"))
	assert.Empty(t, h.store.Keys())
	assert.Equal(t, 0, h.engine.TrackedKeys(), "entities sharing the namespace are forgotten too")
	_, userCached := b.Local().Get("User::getById-1")
	_, articleCached := b.Local().Get("Article::getById-1")
	_, auditCached := b.Local().Get("Audit::getById-1")
	assert.False(t, userCached)
	assert.False(t, articleCached, "entities sharing the namespace leave the local cache")
	assert.True(t, auditCached, "entities in other namespaces keep their local entries")
	assert.True(t, audits.Has("Audit::getById-1"))
}

func TestClearAll_BackendFailure(t *testing.T) {
	h := newHarness(t)
	h.store.ClearErr = errors.New("READONLY")

	err := h.engine.NewBehavior().ClearAll(context.Background(), "User")
	require.Error(t, err)
	assert.True(t, cache.IsBackendError(err))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.BackendErrors.WithLabelValues("User", "clear")))
}
