package testsupport

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/goliatone/go-query-cache/cache"
)

var _ cache.Store = (*MemoryStore)(nil)

// StoreCall records a single call made against a MemoryStore.
type StoreCall struct {
	Op  string
	Key string
	TTL time.Duration
}

// MemoryStore is a recording cache.Store double. Entries never expire; the TTL of
// every write is kept so tests can assert on it.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]any
	ttls    map[string]time.Duration
	calls   []StoreCall

	// Injected failures. A non-nil error is returned by every call of that kind.
	GetErr    error
	SetErr    error
	DeleteErr error
	ClearErr  error

	// FailKeys makes Delete fail for the listed keys only.
	FailKeys map[string]error
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]any),
		ttls:    make(map[string]time.Duration),
	}
}

func (s *MemoryStore) Get(ctx context.Context, key string) (any, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, StoreCall{Op: "get", Key: key})
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if s.GetErr != nil {
		return nil, false, s.GetErr
	}
	v, ok := s.entries[key]
	return v, ok, nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, StoreCall{Op: "set", Key: key, TTL: ttl})
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.SetErr != nil {
		return s.SetErr
	}
	s.entries[key] = value
	s.ttls[key] = ttl
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, StoreCall{Op: "delete", Key: key})
	if err := ctx.Err(); err != nil {
		return err
	}
	if err, ok := s.FailKeys[key]; ok {
		return err
	}
	if s.DeleteErr != nil {
		return s.DeleteErr
	}
	delete(s.entries, key)
	delete(s.ttls, key)
	return nil
}

func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, StoreCall{Op: "clear"})
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.ClearErr != nil {
		return s.ClearErr
	}
	s.entries = make(map[string]any)
	s.ttls = make(map[string]time.Duration)
	return nil
}

// Put seeds an entry without recording a call.
func (s *MemoryStore) Put(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = value
}

// Has reports whether key is stored.
func (s *MemoryStore) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	return ok
}

// Value returns the stored value for key.
func (s *MemoryStore) Value(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.entries[key]
	return v, ok
}

// TTL returns the ttl of the last successful Set for key.
func (s *MemoryStore) TTL(key string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ttls[key]
}

// Keys returns the stored keys in sorted order.
func (s *MemoryStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Calls returns a copy of every recorded call.
func (s *MemoryStore) Calls() []StoreCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]StoreCall(nil), s.calls...)
}

// CallCount returns how many calls of op were recorded.
func (s *MemoryStore) CallCount(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// DeletedKeys returns the keys passed to Delete, in call order.
func (s *MemoryStore) DeletedKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for _, c := range s.calls {
		if c.Op == "delete" {
			keys = append(keys, c.Key)
		}
	}
	return keys
}

// ResetCalls forgets the recorded calls, keeping the entries.
func (s *MemoryStore) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}
