package cache

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Store is the contract the cache layer consumes from a physical backend.
// Implementations shared across goroutines must be safe for concurrent use.
type Store interface {
	// Get returns the stored value and whether it was found.
	Get(ctx context.Context, key string) (any, bool, error)
	// Set stores value under key for ttl.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Clear removes every entry held by the store.
	Clear(ctx context.Context) error
}

// Pool holds the named backends entity settings refer to.
type Pool struct {
	mu     sync.RWMutex
	stores map[string]Store
}

// NewPool creates an empty pool.
func NewPool() *Pool {
	return &Pool{stores: make(map[string]Store)}
}

// Register adds or replaces the store for name.
func (p *Pool) Register(name string, store Store) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stores[name] = store
}

// Has reports whether name is registered.
func (p *Pool) Has(name string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.stores[name]
	return ok
}

// Store returns the store registered under name.
func (p *Pool) Store(name string) (Store, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	store, ok := p.stores[name]
	if !ok {
		return nil, &ConfigurationError{Field: "Backend", Message: fmt.Sprintf("%q", name), Err: ErrUnknownBackend}
	}
	return store, nil
}

// Clear empties the store registered under namespace.
func (p *Pool) Clear(ctx context.Context, namespace string) error {
	store, err := p.Store(namespace)
	if err != nil {
		return err
	}
	if err := store.Clear(ctx); err != nil {
		return &CacheBackendError{Op: "clear", Namespace: namespace, Err: err}
	}
	return nil
}

// Names returns the registered backend names in sorted order.
func (p *Pool) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.stores))
	for name := range p.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Decode converts a value returned by a Store into T. Serialized backends hand back
// msgpack payloads which are decoded into T; in-memory backends return T directly.
func Decode[T any](value any) (T, error) {
	var zero T
	if value == nil {
		return zero, nil
	}

	switch v := value.(type) {
	case T:
		return v, nil
	case msgpack.RawMessage:
		var out T
		if err := msgpack.Unmarshal(v, &out); err != nil {
			return zero, fmt.Errorf("%w: %v", ErrInvalidResultType, err)
		}
		return out, nil
	}

	return zero, fmt.Errorf("%w: got %T, want %T", ErrInvalidResultType, value, zero)
}
