package cacheinfra

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Capacity != 10000 {
		t.Errorf("expected Capacity to be 10000, got %d", cfg.Capacity)
	}

	if cfg.NumShards != 256 {
		t.Errorf("expected NumShards to be 256, got %d", cfg.NumShards)
	}

	if cfg.TTL != time.Hour {
		t.Errorf("expected TTL to be 1 hour, got %v", cfg.TTL)
	}

	if cfg.EvictionPercentage != 10 {
		t.Errorf("expected EvictionPercentage to be 10, got %d", cfg.EvictionPercentage)
	}

	if !cfg.MissingRecordStorage {
		t.Error("expected MissingRecordStorage to be true")
	}

	if cfg.EarlyRefresh == nil {
		t.Fatal("expected EarlyRefresh to be configured")
	}

	if cfg.EarlyRefresh.RetryBaseDelay != 100*time.Millisecond {
		t.Errorf("expected EarlyRefresh.RetryBaseDelay to be 100ms, got %v", cfg.EarlyRefresh.RetryBaseDelay)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		errorMsg string
	}{
		{
			name: "valid default config",
			cfg:  DefaultConfig(),
		},
		{
			name:     "invalid capacity - zero",
			cfg:      Config{Capacity: 0, NumShards: 256, TTL: time.Minute, EvictionPercentage: 10},
			errorMsg: "cacheinfra: Capacity must be greater than 0",
		},
		{
			name:     "invalid num shards - zero",
			cfg:      Config{Capacity: 1000, NumShards: 0, TTL: time.Minute, EvictionPercentage: 10},
			errorMsg: "cacheinfra: NumShards must be greater than 0",
		},
		{
			name:     "invalid TTL - zero",
			cfg:      Config{Capacity: 1000, NumShards: 256, TTL: 0, EvictionPercentage: 10},
			errorMsg: "cacheinfra: TTL must be greater than 0",
		},
		{
			name:     "invalid eviction percentage - too high",
			cfg:      Config{Capacity: 1000, NumShards: 256, TTL: time.Minute, EvictionPercentage: 101},
			errorMsg: "cacheinfra: EvictionPercentage must be between 1 and 100",
		},
		{
			name: "invalid early refresh min async time",
			cfg: Config{
				Capacity:           1000,
				NumShards:          256,
				TTL:                time.Minute,
				EvictionPercentage: 10,
				EarlyRefresh: &EarlyRefreshConfig{
					MinAsyncRefreshTime: -1 * time.Second,
				},
			},
			errorMsg: "cacheinfra: EarlyRefresh.MinAsyncRefreshTime must be non-negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.errorMsg == "" {
				if err != nil {
					t.Errorf("expected no validation error but got: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected validation error but got none")
			}
			if err.Error() != tt.errorMsg {
				t.Errorf("expected error message %q, got %q", tt.errorMsg, err.Error())
			}
		})
	}
}

func TestConfig_sturdycOptions(t *testing.T) {
	if got := len(DefaultConfig().sturdycOptions()); got != 2 {
		t.Errorf("expected 2 sturdyc options for default config, got %d", got)
	}

	minimal := Config{Capacity: 1000, NumShards: 256, TTL: time.Minute, EvictionPercentage: 5}
	if got := len(minimal.sturdycOptions()); got != 0 {
		t.Errorf("expected no sturdyc options for minimal config, got %d", got)
	}

	minimal.EvictionInterval = time.Second
	if got := len(minimal.sturdycOptions()); got != 1 {
		t.Errorf("expected 1 sturdyc option with eviction interval, got %d", got)
	}
}

func newTestStore(t *testing.T) *SturdycStore {
	t.Helper()
	store, err := NewSturdycStore(Config{
		Capacity:           100,
		NumShards:          2,
		TTL:                time.Minute,
		EvictionPercentage: 10,
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

func TestNewSturdycStore_InvalidConfig(t *testing.T) {
	store, err := NewSturdycStore(Config{Capacity: 0, NumShards: 1, TTL: time.Minute, EvictionPercentage: 10})
	if err == nil {
		t.Fatal("expected error for zero capacity")
	}
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Field != "Capacity" {
		t.Errorf("expected ConfigError on Capacity, got %v", err)
	}
	if store != nil {
		t.Error("expected store to be nil when error occurs")
	}
}

func TestSturdycStore_GetSetDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, ok, err := store.Get(ctx, "User::getById-1"); ok || err != nil {
		t.Fatalf("expected clean miss, got ok=%v err=%v", ok, err)
	}

	if err := store.Set(ctx, "User::getById-1", "alice", 10*time.Second); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	value, ok, err := store.Get(ctx, "User::getById-1")
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if value != "alice" {
		t.Errorf("expected alice, got %v", value)
	}

	if err := store.Delete(ctx, "User::getById-1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "User::getById-1"); ok {
		t.Error("expected miss after delete")
	}

	// deleting a missing key is fine
	if err := store.Delete(ctx, "User::getById-1"); err != nil {
		t.Errorf("expected idempotent delete, got %v", err)
	}
}

func TestSturdycStore_PerEntryExpiry(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	if err := store.Set(ctx, "short", 1, 5*time.Second); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := store.Set(ctx, "long", 2, 30*time.Second); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	now = now.Add(10 * time.Second)

	if _, ok, _ := store.Get(ctx, "short"); ok {
		t.Error("expected short entry to be expired")
	}
	if v, ok, _ := store.Get(ctx, "long"); !ok || v != 2 {
		t.Errorf("expected long entry to survive, got %v ok=%v", v, ok)
	}
}

func TestSturdycStore_TTLCappedByClient(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	if err := store.Set(ctx, "k", "v", 24*time.Hour); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	now = now.Add(2 * time.Minute)
	if _, ok, _ := store.Get(ctx, "k"); ok {
		t.Error("expected entry to be capped at client TTL")
	}
}

func TestSturdycStore_Clear(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := store.Set(ctx, fmt.Sprintf("User::getById-%d", i+1), i, 0); err != nil {
			t.Fatalf("set failed: %v", err)
		}
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("clear failed: %v", err)
	}

	if store.Len() != 0 {
		t.Errorf("expected empty store after clear, got %d entries", store.Len())
	}
}

func TestSturdycStore_CancelledContext(t *testing.T) {
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, _, err := store.Get(ctx, "k"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled from Get, got %v", err)
	}
	if err := store.Set(ctx, "k", 1, 0); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled from Set, got %v", err)
	}
	if err := store.Delete(ctx, "k"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled from Delete, got %v", err)
	}
}

func TestSturdycStore_Concurrency(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k-%d", i%5)
			_ = store.Set(ctx, key, i, time.Second)
			_, _, _ = store.Get(ctx, key)
			_ = store.Delete(ctx, key)
		}(i)
	}
	wg.Wait()
}

func TestConfigError_Error(t *testing.T) {
	err := &ConfigError{Field: "Redis.Addr", Message: "must not be empty"}

	expected := "cacheinfra: Redis.Addr must not be empty"
	if err.Error() != expected {
		t.Errorf("expected error message %q, got %q", expected, err.Error())
	}
}
