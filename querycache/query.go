package querycache

import (
	"time"

	"github.com/goliatone/go-query-cache/cache"
)

// DefaultOperation names derived keys when the query gives no operation.
const DefaultOperation = "query"

type directiveKind int

const (
	directiveExplicit directiveKind = iota + 1
	directiveDerive
)

// CacheDirective asks for a read to be cached. It is either an explicit key or the
// derive sentinel, optionally carrying its own expiry.
type CacheDirective struct {
	kind  directiveKind
	input cache.KeyInput
	ttl   time.Duration
}

// UseKey caches the read under the key built from input.
func UseKey(input cache.KeyInput) *CacheDirective {
	return &CacheDirective{kind: directiveExplicit, input: input}
}

// DeriveKey caches the read under a key derived from the query operation and shape.
func DeriveKey() *CacheDirective {
	return &CacheDirective{kind: directiveDerive}
}

// Expiring returns a copy of the directive carrying ttl.
func (d *CacheDirective) Expiring(ttl time.Duration) *CacheDirective {
	out := *d
	out.ttl = ttl
	return &out
}

// TTL returns the directive expiry, zero when unset.
func (d *CacheDirective) TTL() time.Duration { return d.ttl }

// Derived reports whether the key is derived from the query.
func (d *CacheDirective) Derived() bool { return d.kind == directiveDerive }

// QuerySpec describes a read handed to BeforeRead.
type QuerySpec struct {
	// Directive is nil when the read should not be cached.
	Directive *CacheDirective
	// TTL overrides the entity TTL when positive. A directive expiry wins over it.
	TTL time.Duration
	// Operation and Shape identify the query for derived keys.
	Operation string
	Shape     any
}

// keyInput returns the key input of the directive.
func (q QuerySpec) keyInput() (cache.KeyInput, error) {
	if q.Directive.kind == directiveExplicit {
		return q.Directive.input, nil
	}
	op := q.Operation
	if op == "" {
		op = DefaultOperation
	}
	if q.Shape == nil {
		return cache.Key(op), nil
	}
	hash, err := cache.HashValue(q.Shape)
	if err != nil {
		return cache.KeyInput{}, err
	}
	return cache.Key(op, hash), nil
}

func (q QuerySpec) explicitTTL() time.Duration {
	if q.Directive != nil && q.Directive.ttl > 0 {
		return q.Directive.ttl
	}
	return q.TTL
}
