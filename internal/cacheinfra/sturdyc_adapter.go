package cacheinfra

import (
	"context"
	"time"

	"github.com/viccon/sturdyc"
)

// entry carries the per-key deadline; sturdyc only knows the client-wide TTL.
type entry struct {
	value     any
	expiresAt time.Time
}

// SturdycStore is an in-memory store backed by a sturdyc client.
type SturdycStore struct {
	client *sturdyc.Client[entry]
	ttl    time.Duration
	now    func() time.Time
}

// NewSturdycStore validates cfg and creates a sturdyc backed store.
func NewSturdycStore(cfg Config) (*SturdycStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := sturdyc.New[entry](
		cfg.Capacity,
		cfg.NumShards,
		cfg.TTL,
		cfg.EvictionPercentage,
		cfg.sturdycOptions()...,
	)

	return &SturdycStore{client: client, ttl: cfg.TTL, now: time.Now}, nil
}

// Get returns the value stored under key. Entries past their own deadline are
// deleted and reported as missing.
func (s *SturdycStore) Get(ctx context.Context, key string) (any, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	e, ok := s.client.Get(key)
	if !ok {
		return nil, false, nil
	}
	if !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt) {
		s.client.Delete(key)
		return nil, false, nil
	}
	return e.value, true, nil
}

// Set stores value under key. A non-positive ttl uses the client TTL.
func (s *SturdycStore) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ttl <= 0 || ttl > s.ttl {
		ttl = s.ttl
	}
	s.client.Set(key, entry{value: value, expiresAt: s.now().Add(ttl)})
	return nil
}

// Delete removes key.
func (s *SturdycStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.client.Delete(key)
	return nil
}

// Clear removes every key held by the client.
func (s *SturdycStore) Clear(ctx context.Context) error {
	for _, key := range s.client.ScanKeys() {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.client.Delete(key)
	}
	return nil
}

// Len returns the number of entries currently held.
func (s *SturdycStore) Len() int {
	return s.client.Size()
}
