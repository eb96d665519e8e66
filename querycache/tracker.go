package querycache

import (
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/goliatone/go-query-cache/cache"
)

// pruneEvery is how many track calls pass between two sweeps of expired keys.
const pruneEvery = 256

// keyTracker remembers the argument variants of list and count reads
// ("User::getList-2") so they can be found by prefix at invalidation. Each key
// carries the expiry of its backend entry and is dropped once that has passed.
// The tracker is process local: variants written by another process sharing the
// backend are not known here.
type keyTracker struct {
	keys   *xsync.MapOf[string, time.Time]
	writes atomic.Int64
}

func newKeyTracker() *keyTracker {
	return &keyTracker{keys: xsync.NewMapOf[string, time.Time]()}
}

// track records key until expires. A zero expires never lapses.
func (t *keyTracker) track(key string, expires, now time.Time) {
	t.keys.Store(key, expires)
	if t.writes.Add(1)%pruneEvery == 0 {
		t.prune(now)
	}
}

func (t *keyTracker) forget(key string) {
	t.keys.Delete(key)
}

// withPrefix returns the live tracked keys starting with prefix, sorted.
// Expired keys met on the way are dropped.
func (t *keyTracker) withPrefix(prefix string, now time.Time) []string {
	var out, expired []string
	t.keys.Range(func(key string, expires time.Time) bool {
		if !strings.HasPrefix(key, prefix) {
			return true
		}
		if lapsed(expires, now) {
			expired = append(expired, key)
			return true
		}
		out = append(out, key)
		return true
	})
	for _, key := range expired {
		t.keys.Delete(key)
	}
	sort.Strings(out)
	return out
}

// purgePrefix forgets every key starting with prefix and returns how many were dropped.
func (t *keyTracker) purgePrefix(prefix string) int {
	var keys []string
	t.keys.Range(func(key string, _ time.Time) bool {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return true
	})
	for _, key := range keys {
		t.keys.Delete(key)
	}
	return len(keys)
}

// prune drops every expired key and returns how many were dropped.
func (t *keyTracker) prune(now time.Time) int {
	var expired []string
	t.keys.Range(func(key string, expires time.Time) bool {
		if lapsed(expires, now) {
			expired = append(expired, key)
		}
		return true
	})
	for _, key := range expired {
		t.keys.Delete(key)
	}
	return len(expired)
}

func (t *keyTracker) size(now time.Time) int {
	t.prune(now)
	return t.keys.Size()
}

func lapsed(expires, now time.Time) bool {
	return !expires.IsZero() && !now.Before(expires)
}

// variantPrefixes returns the key prefixes under which the argument variants of
// the registered list and count operations of entity are stored.
func variantPrefixes(settings cache.EntitySettings, entity cache.EntityType) []string {
	var out []string
	for _, op := range []string{settings.ListOperation, settings.CountOperation} {
		if !settings.Registered(op) {
			continue
		}
		key, err := cache.BuildKeyWith(settings, entity, cache.Key(op), true)
		if err != nil {
			continue
		}
		out = append(out, key+cache.ArgSeparator)
	}
	return out
}

// trackVariant records key when it is an argument variant of a list or count
// operation. Other keys are reached by exact key at invalidation and are not kept.
func (e *Engine) trackVariant(settings cache.EntitySettings, entity cache.EntityType, key string, ttl time.Duration) {
	for _, prefix := range variantPrefixes(settings, entity) {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		now := e.now()
		var expires time.Time
		if ttl > 0 {
			expires = now.Add(ttl)
		}
		e.tracker.track(key, expires, now)
		return
	}
}
