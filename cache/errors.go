package cache

import (
	"errors"
	"fmt"

	goerrors "github.com/goliatone/go-errors"
)

// Categories attached by Categorize.
const (
	CategoryCacheConfiguration = goerrors.Category("cache_configuration")
	CategoryCacheBackend       = goerrors.Category("cache_backend")
	CategoryCacheCallback      = goerrors.Category("cache_callback")
)

var (
	// ErrNotRegistered is wrapped by ConfigurationError when an entity type has no settings.
	ErrNotRegistered = errors.New("cache: entity type not registered")

	// ErrUnknownBackend is wrapped by ConfigurationError when settings point to a backend
	// that was never added to the Pool.
	ErrUnknownBackend = errors.New("cache: unknown cache backend")

	// ErrUnkeyableArgument is returned when a key argument has no deterministic representation
	// (functions, channels, unsafe pointers).
	ErrUnkeyableArgument = errors.New("cache: argument cannot be used in a cache key")

	// ErrInvalidResultType is returned when a cached value cannot be converted to the requested type.
	ErrInvalidResultType = errors.New("cache: cached value has unexpected type")
)

// ConfigurationError reports a missing or invalid configuration. It is fatal to the
// operation that triggered it and is never retried.
type ConfigurationError struct {
	Entity  EntityType
	Field   string
	Message string
	Err     error
}

func (e *ConfigurationError) Error() string {
	msg := "cache: configuration error"
	if e.Entity != "" {
		msg += " for entity " + string(e.Entity)
	}
	if e.Field != "" {
		msg += " in field " + e.Field
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// CacheBackendError wraps a failure of the underlying store.
type CacheBackendError struct {
	Op        string
	Namespace string
	Key       string
	Err       error
}

func (e *CacheBackendError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("cache: backend %s failed on namespace %q: %v", e.Op, e.Namespace, e.Err)
	}
	return fmt.Sprintf("cache: backend %s failed on namespace %q key %q: %v", e.Op, e.Namespace, e.Key, e.Err)
}

func (e *CacheBackendError) Unwrap() error { return e.Err }

// InvalidCallbackError is raised when a caching helper receives a compute step it cannot call.
type InvalidCallbackError struct {
	Reason string
}

func (e *InvalidCallbackError) Error() string {
	return "cache: invalid compute callback: " + e.Reason
}

// IsConfigurationError reports whether err carries a ConfigurationError.
func IsConfigurationError(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}

// IsBackendError reports whether err carries a CacheBackendError.
func IsBackendError(err error) bool {
	var target *CacheBackendError
	return errors.As(err, &target)
}

// Categorize wraps the typed errors of this package in a *goerrors.Error carrying
// their category and fields, so callers already sorting go-repository-bun errors
// by category can do the same with cache errors. Errors already wrapped by
// go-errors, and errors of other packages, are returned unchanged.
func Categorize(err error) error {
	if err == nil || goerrors.IsWrapped(err) {
		return err
	}

	var (
		cfg      *ConfigurationError
		backend  *CacheBackendError
		callback *InvalidCallbackError
	)
	switch {
	case errors.As(err, &cfg):
		return goerrors.Wrap(err, CategoryCacheConfiguration, "cache configuration error").
			WithTextCode("CACHE_CONFIGURATION").
			WithMetadata(map[string]any{"entity": string(cfg.Entity), "field": cfg.Field})
	case errors.As(err, &backend):
		return goerrors.Wrap(err, CategoryCacheBackend, "cache backend error").
			WithTextCode("CACHE_BACKEND").
			WithMetadata(map[string]any{"op": backend.Op, "namespace": backend.Namespace, "key": backend.Key})
	case errors.As(err, &callback):
		return goerrors.Wrap(err, CategoryCacheCallback, "invalid compute callback").
			WithTextCode("CACHE_CALLBACK")
	default:
		return err
	}
}
