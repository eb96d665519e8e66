package querycache

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/pkg/testsupport"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	engine  *Engine
	store   *testsupport.MemoryStore
	logs    *observer.ObservedLogs
	metrics *Metrics
}

func articleSettings() cache.EntitySettings {
	return cache.EntitySettings{
		TTL:           cache.Duration(time.Hour),
		MethodAliases: map[string]string{"getBySlug": "getBySlug", "getFeatured": "getFeatured"},
		Lookups:       map[string]string{"slug": "getBySlug"},
		ResetHooks: cache.ResetHooks{
			{Name: "getBySlug", Fields: []string{"slug"}},
			{Name: "getByAuthor", Fields: []string{"author_id", "status"}},
			{Name: "getFeatured", Always: true},
		},
	}
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()

	registry := cache.NewRegistry(cache.PresetStrict())
	require.NoError(t, registry.Register("User", cache.EntitySettings{}))
	require.NoError(t, registry.Register("Article", articleSettings()))
	require.NoError(t, registry.Register("Comment", cache.Merge(cache.PresetRelaxed(), cache.EntitySettings{})))

	store := testsupport.NewMemoryStore()
	pool := cache.NewPool()
	pool.Register(cache.DefaultBackend, store)

	core, logs := observer.New(zapcore.DebugLevel)
	metrics := NewMetrics("test", prometheus.NewRegistry())

	base := []Option{
		WithLogger(zap.New(core)),
		WithMetrics(metrics),
		WithClock(func() time.Time { return fixedNow }),
	}
	engine := New(registry, pool, append(base, opts...)...)

	return &harness{engine: engine, store: store, logs: logs, metrics: metrics}
}

// counter is an executor counting its calls.
type counter struct {
	calls  atomic.Int32
	result any
	err    error
}

func (c *counter) exec(context.Context) (any, error) {
	c.calls.Add(1)
	return c.result, c.err
}

func (c *counter) count() int { return int(c.calls.Load()) }

func byID(id any) QuerySpec {
	return QuerySpec{Directive: UseKey(cache.Key(cache.OpGetByID, id))}
}

// article implements ProvenanceStamper through its pointer.
type article struct {
	ID    int
	Slug  string
	Cache *Provenance
}

func (a *article) StampCache(p Provenance) { a.Cache = &p }
