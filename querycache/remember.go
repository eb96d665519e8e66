package querycache

import (
	"context"
	"errors"
	"reflect"
	"time"

	"go.uber.org/zap"

	"github.com/goliatone/go-query-cache/cache"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// Remember returns the cached value for input, computing and storing it on a miss.
// compute must have the signature func(context.Context) (T, error); anything else is
// rejected with an InvalidCallbackError before the backend is touched. Concurrent
// misses on the same key share one compute call.
func (e *Engine) Remember(ctx context.Context, entity cache.EntityType, input cache.KeyInput, ttl time.Duration, compute any) (any, error) {
	if err := validateCompute(compute); err != nil {
		return nil, err
	}
	if e.disabled {
		return callCompute(ctx, compute)
	}

	settings, store, err := e.resolve(entity)
	if err != nil {
		return nil, err
	}
	key, err := cache.BuildKeyWith(settings, entity, input, true)
	if err != nil {
		if !errors.Is(err, cache.ErrUnkeyableArgument) {
			return nil, err
		}
		e.logger.Warn("query cache: remember input cannot be keyed, computing directly",
			zap.String("entity", string(entity)),
			zap.Error(err),
		)
		e.metrics.lookup(entity, resultBypass)
		return callCompute(ctx, compute)
	}

	if value, ok := e.lookup(ctx, store, settings, entity, key); ok {
		return value, nil
	}

	value, err, _ := e.group.Do(key, func() (any, error) {
		// a flight that finished between lookup and Do already stored the value
		if value, ok, err := store.Get(ctx, key); err == nil && ok {
			return value, nil
		}
		value, err := callCompute(ctx, compute)
		if err != nil || isEmpty(value) {
			return value, err
		}
		resolved := e.ttl.Resolve(entity, ttl)
		if err := store.Set(ctx, key, value, resolved); err != nil {
			e.logger.Error("query cache: backend write failed",
				zap.String("entity", string(entity)),
				zap.String("key", key),
				zap.String("namespace", settings.Backend),
				zap.Error(err),
			)
			e.metrics.backendError(entity, "set")
			return value, nil
		}
		e.trackVariant(settings, entity, key, resolved)
		return value, nil
	})
	return value, err
}

// Remember is the typed form of Engine.Remember.
func Remember[T any](ctx context.Context, e *Engine, entity cache.EntityType, input cache.KeyInput, ttl time.Duration, compute func(context.Context) (T, error)) (T, error) {
	var zero T
	if compute == nil {
		return zero, &cache.InvalidCallbackError{Reason: "compute cannot be nil"}
	}
	value, err := e.Remember(ctx, entity, input, ttl, compute)
	if err != nil {
		return zero, err
	}
	return cache.Decode[T](value)
}

func (e *Engine) lookup(ctx context.Context, store cache.Store, settings cache.EntitySettings, entity cache.EntityType, key string) (any, bool) {
	value, ok, err := store.Get(ctx, key)
	if err != nil {
		e.logger.Warn("query cache: backend read failed, treating as miss",
			zap.String("entity", string(entity)),
			zap.String("key", key),
			zap.String("namespace", settings.Backend),
			zap.Error(err),
		)
		e.metrics.backendError(entity, "get")
		return nil, false
	}
	if ok {
		e.metrics.lookup(entity, resultHitBackend)
		return value, true
	}
	e.metrics.lookup(entity, resultMiss)
	return nil, false
}

func validateCompute(compute any) error {
	if compute == nil {
		return &cache.InvalidCallbackError{Reason: "compute cannot be nil"}
	}

	fnValue := reflect.ValueOf(compute)
	fnType := fnValue.Type()

	if fnType.Kind() != reflect.Func {
		return &cache.InvalidCallbackError{Reason: "compute must be a function"}
	}
	if fnValue.IsNil() {
		return &cache.InvalidCallbackError{Reason: "compute cannot be nil"}
	}
	if fnType.NumIn() != 1 || fnType.NumOut() != 2 {
		return &cache.InvalidCallbackError{Reason: "compute must have signature func(context.Context) (T, error)"}
	}
	if !contextType.AssignableTo(fnType.In(0)) {
		return &cache.InvalidCallbackError{Reason: "first parameter must be context.Context"}
	}
	if !fnType.Out(1).Implements(errorType) {
		return &cache.InvalidCallbackError{Reason: "second return value must be error"}
	}
	return nil
}

// callCompute calls a validated compute function.
func callCompute(ctx context.Context, compute any) (any, error) {
	if fn, ok := compute.(func(context.Context) (any, error)); ok {
		return fn(ctx)
	}

	results := reflect.ValueOf(compute).Call([]reflect.Value{reflect.ValueOf(&ctx).Elem()})

	var value any
	if results[0].IsValid() && results[0].CanInterface() {
		value = results[0].Interface()
	}
	errValue := results[1]
	switch errValue.Kind() {
	case reflect.Interface, reflect.Ptr, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		if errValue.IsNil() {
			return value, nil
		}
	}
	return value, errValue.Interface().(error)
}
