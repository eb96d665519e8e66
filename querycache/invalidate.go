package querycache

import (
	"context"
	"errors"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/goliatone/go-query-cache/cache"
)

// WriteContext describes a completed write.
type WriteContext struct {
	Kind cache.WriteKind
	// Identity holds the identifying field values of the written record.
	Identity map[string]any
	// Success is false when the write failed; nothing is invalidated then.
	Success bool
}

// Report lists the keys an invalidation tried to delete.
type Report struct {
	Entity    cache.EntityType
	Namespace string
	Deleted   []string
	Failed    []string
	// VariantPrefixes are the list and count prefixes whose argument variants
	// were invalidated along with the base keys.
	VariantPrefixes []string
}

// Keys returns every key the invalidation attempted, deleted or not.
func (r Report) Keys() []string {
	out := make([]string, 0, len(r.Deleted)+len(r.Failed))
	out = append(out, r.Deleted...)
	return append(out, r.Failed...)
}

// InvalidationEngine deletes the entries a write may have made stale. It is shared
// by every unit of work of an Engine.
type InvalidationEngine struct {
	engine *Engine
}

// keySet keeps insertion order and drops duplicates.
type keySet struct {
	seen map[string]struct{}
	keys []string
}

func (s *keySet) add(keys ...string) {
	if s.seen == nil {
		s.seen = make(map[string]struct{})
	}
	for _, key := range keys {
		if _, ok := s.seen[key]; ok {
			continue
		}
		s.seen[key] = struct{}{}
		s.keys = append(s.keys, key)
	}
}

// OnWriteSuccess invalidates after a write:
//
//  1. the list and count entries, always, with their tracked argument variants;
//  2. the single-entity lookups, when the event toggle of wc.Kind is on;
//  3. the reset hooks whose fields are all present, under the same toggle.
//
// Backend failures are logged and reported in Report.Failed; only configuration
// errors are returned.
func (ie *InvalidationEngine) OnWriteSuccess(ctx context.Context, entity cache.EntityType, wc WriteContext) (Report, error) {
	e := ie.engine
	if e.disabled || !wc.Success {
		return Report{Entity: entity}, nil
	}

	settings, store, err := e.resolve(entity)
	if err != nil {
		return Report{Entity: entity}, err
	}

	var keys keySet
	prefixes := ie.collectCollections(&keys, settings, entity)
	if settings.Enabled(wc.Kind) {
		ie.collectLookups(&keys, settings, entity, wc)
		ie.collectResetHooks(&keys, settings, entity, wc.Identity)
	}

	report := ie.deleteAll(ctx, store, settings, entity, keys.keys)
	report.VariantPrefixes = prefixes
	return report, nil
}

// Reset runs the reset hooks of entity for identity, regardless of event toggles.
func (ie *InvalidationEngine) Reset(ctx context.Context, entity cache.EntityType, identity map[string]any) (Report, error) {
	e := ie.engine
	if e.disabled {
		return Report{Entity: entity}, nil
	}

	settings, store, err := e.resolve(entity)
	if err != nil {
		return Report{Entity: entity}, err
	}

	var keys keySet
	ie.collectResetHooks(&keys, settings, entity, identity)
	return ie.deleteAll(ctx, store, settings, entity, keys.keys), nil
}

// ClearAll empties the backend namespace of entity. Every entity sharing that
// namespace loses its entries too.
func (ie *InvalidationEngine) ClearAll(ctx context.Context, entity cache.EntityType) error {
	e := ie.engine
	if e.disabled {
		return nil
	}

	settings, err := e.registry.Get(entity)
	if err != nil {
		return err
	}
	if err := e.pool.Clear(ctx, settings.Backend); err != nil {
		e.logger.Error("query cache: clear failed",
			zap.String("entity", string(entity)),
			zap.String("namespace", settings.Backend),
			zap.Error(err),
		)
		var backendErr *cache.CacheBackendError
		if errors.As(err, &backendErr) {
			e.metrics.backendError(entity, "clear")
		}
		return err
	}

	for _, other := range e.registry.Entities() {
		s, ok := e.registry.Lookup(other)
		if !ok || s.Backend != settings.Backend {
			continue
		}
		e.tracker.purgePrefix(s.KeyPrefix + cache.EntitySegment(other) + cache.KeySeparator)
	}
	e.logger.Debug("query cache: namespace cleared",
		zap.String("entity", string(entity)),
		zap.String("namespace", settings.Backend),
	)
	return nil
}

// collectCollections adds the list and count keys with their tracked argument
// variants and returns the variant prefixes.
func (ie *InvalidationEngine) collectCollections(keys *keySet, settings cache.EntitySettings, entity cache.EntityType) []string {
	prefixes := variantPrefixes(settings, entity)
	now := ie.engine.now()
	for _, prefix := range prefixes {
		keys.add(strings.TrimSuffix(prefix, cache.ArgSeparator))
		keys.add(ie.engine.tracker.withPrefix(prefix, now)...)
	}
	return prefixes
}

func (ie *InvalidationEngine) collectLookups(keys *keySet, settings cache.EntitySettings, entity cache.EntityType, wc WriteContext) {
	if wc.Kind != cache.WriteDelete {
		field := settings.IdentityField
		op, ok := settings.Lookups[field]
		if !ok {
			return
		}
		if value, present := identityValue(wc.Identity, field); present {
			ie.addKey(keys, settings, entity, cache.Key(op, value))
		}
		return
	}

	fields := make([]string, 0, len(settings.Lookups))
	for field := range settings.Lookups {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		if value, present := identityValue(wc.Identity, field); present {
			ie.addKey(keys, settings, entity, cache.Key(settings.Lookups[field], value))
		}
	}
}

func (ie *InvalidationEngine) collectResetHooks(keys *keySet, settings cache.EntitySettings, entity cache.EntityType, identity map[string]any) {
	for _, hook := range settings.ResetHooks {
		if hook.Always {
			ie.addKey(keys, settings, entity, cache.Key(hook.Name))
			continue
		}
		args := make([]any, 0, len(hook.Fields))
		for _, field := range hook.Fields {
			value, present := identityValue(identity, field)
			if !present {
				args = nil
				break
			}
			args = append(args, value)
		}
		if args == nil {
			continue
		}
		ie.addKey(keys, settings, entity, cache.Key(hook.Name, args...))
	}
}

// addKey adds the exact key of input.
func (ie *InvalidationEngine) addKey(keys *keySet, settings cache.EntitySettings, entity cache.EntityType, input cache.KeyInput) {
	key, err := cache.BuildKeyWith(settings, entity, input, true)
	if err != nil {
		ie.engine.logger.Warn("query cache: invalidation key cannot be built",
			zap.String("entity", string(entity)),
			zap.String("operation", input.Operation()),
			zap.Error(err),
		)
		return
	}
	keys.add(key)
}

func (ie *InvalidationEngine) deleteAll(ctx context.Context, store cache.Store, settings cache.EntitySettings, entity cache.EntityType, keys []string) Report {
	e := ie.engine
	report := Report{Entity: entity, Namespace: settings.Backend}

	for _, key := range keys {
		if err := store.Delete(ctx, key); err != nil {
			e.logger.Error("query cache: invalidation failed",
				zap.String("entity", string(entity)),
				zap.String("key", key),
				zap.String("namespace", settings.Backend),
				zap.Error(&cache.CacheBackendError{Op: "delete", Namespace: settings.Backend, Key: key, Err: err}),
			)
			e.metrics.backendError(entity, "delete")
			report.Failed = append(report.Failed, key)
			continue
		}
		e.tracker.forget(key)
		report.Deleted = append(report.Deleted, key)
	}

	e.metrics.invalidated(entity, len(report.Deleted), len(report.Failed))
	if len(keys) > 0 {
		e.logger.Debug("query cache: invalidated",
			zap.String("entity", string(entity)),
			zap.Strings("keys", report.Deleted),
			zap.Int("failed", len(report.Failed)),
		)
	}
	return report
}

// identityValue returns the value of field when present and not blank.
func identityValue(identity map[string]any, field string) (any, bool) {
	value, ok := identity[field]
	if !ok || cache.IsBlank(value) {
		return nil, false
	}
	return value, true
}
