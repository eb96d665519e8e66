package querycache

import (
	"strings"
	"sync"

	"github.com/goliatone/go-query-cache/cache"
)

type localEntry struct {
	entity cache.EntityType
	value  any
}

// LocalCache holds the results served during one unit of work. It has no expiry:
// its lifetime is the lifetime of the Behavior that owns it.
type LocalCache struct {
	mu      sync.Mutex
	entries map[string]localEntry
}

// NewLocalCache creates an empty LocalCache.
func NewLocalCache() *LocalCache {
	return &LocalCache{entries: make(map[string]localEntry)}
}

// Get returns the value stored under key.
func (l *LocalCache) Get(key string) (any, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	return e.value, ok
}

// Set stores value under key, tagged with entity.
func (l *LocalCache) Set(entity cache.EntityType, key string, value any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[key] = localEntry{entity: entity, value: value}
}

// Delete removes key.
func (l *LocalCache) Delete(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key)
}

// DeletePrefix removes every key starting with prefix.
func (l *LocalCache) DeletePrefix(prefix string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for key := range l.entries {
		if strings.HasPrefix(key, prefix) {
			delete(l.entries, key)
			n++
		}
	}
	return n
}

// PurgeEntity removes every entry tagged with entity.
func (l *LocalCache) PurgeEntity(entity cache.EntityType) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for key, e := range l.entries {
		if e.entity == entity {
			delete(l.entries, key)
			n++
		}
	}
	return n
}

// Clear drops every entry.
func (l *LocalCache) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = make(map[string]localEntry)
}

// Len returns the number of entries.
func (l *LocalCache) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
