package cacheinfra

import (
	"fmt"
	"time"

	"github.com/viccon/sturdyc"
)

// Config sizes a SturdycStore. Capacity, NumShards, TTL and EvictionPercentage
// go straight to sturdyc.New; the rest become sturdyc options.
type Config struct {
	Capacity           int
	NumShards          int
	EvictionPercentage int

	// TTL caps every entry, whatever ttl Set is given.
	TTL time.Duration

	// EarlyRefresh is nil when early refreshes are off.
	EarlyRefresh *EarlyRefreshConfig

	MissingRecordStorage bool

	// EvictionInterval of zero keeps the sturdyc default.
	EvictionInterval time.Duration
}

type EarlyRefreshConfig struct {
	MinAsyncRefreshTime time.Duration
	MaxAsyncRefreshTime time.Duration
	SyncRefreshTime     time.Duration
	RetryBaseDelay      time.Duration
}

// DefaultConfig is the memory backend used when a configuration names none.
func DefaultConfig() Config {
	return Config{
		Capacity:           10000,
		NumShards:          256,
		EvictionPercentage: 10,
		TTL:                time.Hour,
		EarlyRefresh: &EarlyRefreshConfig{
			MinAsyncRefreshTime: 10 * time.Second,
			MaxAsyncRefreshTime: 20 * time.Second,
			SyncRefreshTime:     30 * time.Second,
			RetryBaseDelay:      100 * time.Millisecond,
		},
		MissingRecordStorage: true,
	}
}

func (c Config) sturdycOptions() []sturdyc.Option {
	var opts []sturdyc.Option
	if r := c.EarlyRefresh; r != nil {
		opts = append(opts, sturdyc.WithEarlyRefreshes(r.MinAsyncRefreshTime, r.MaxAsyncRefreshTime, r.SyncRefreshTime, r.RetryBaseDelay))
	}
	if c.MissingRecordStorage {
		opts = append(opts, sturdyc.WithMissingRecordStorage())
	}
	if c.EvictionInterval > 0 {
		opts = append(opts, sturdyc.WithEvictionInterval(c.EvictionInterval))
	}
	return opts
}

// Validate returns the first invalid field as a *ConfigError.
func (c Config) Validate() error {
	checks := []error{
		positive("Capacity", c.Capacity),
		positive("NumShards", c.NumShards),
		positive("TTL", c.TTL),
		between("EvictionPercentage", c.EvictionPercentage, 1, 100),
	}
	if r := c.EarlyRefresh; r != nil {
		checks = append(checks,
			nonNegative("EarlyRefresh.MinAsyncRefreshTime", r.MinAsyncRefreshTime),
			nonNegative("EarlyRefresh.MaxAsyncRefreshTime", r.MaxAsyncRefreshTime),
			nonNegative("EarlyRefresh.SyncRefreshTime", r.SyncRefreshTime),
			nonNegative("EarlyRefresh.RetryBaseDelay", r.RetryBaseDelay),
		)
	}
	return firstError(checks...)
}

// ConfigError names the backend setting that failed validation.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "cacheinfra: " + e.Field + " " + e.Message
}

type number interface {
	~int | ~int64
}

func positive[N number](field string, v N) error {
	if v <= 0 {
		return &ConfigError{Field: field, Message: "must be greater than 0"}
	}
	return nil
}

func nonNegative[N number](field string, v N) error {
	if v < 0 {
		return &ConfigError{Field: field, Message: "must be non-negative"}
	}
	return nil
}

func between(field string, v, lo, hi int) error {
	if v < lo || v > hi {
		return &ConfigError{Field: field, Message: fmt.Sprintf("must be between %d and %d", lo, hi)}
	}
	return nil
}

func required(field, v string) error {
	if v == "" {
		return &ConfigError{Field: field, Message: "must not be empty"}
	}
	return nil
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
