package cache

import (
	"sort"
	"strings"
	"sync"
)

// Registry holds the settings of every entity type taking part in caching.
// Settings are merged over the registry defaults at registration and are
// read-only afterwards; registering again replaces them.
type Registry struct {
	mu       sync.RWMutex
	defaults EntitySettings
	entities map[EntityType]EntitySettings
}

var _ SettingsSource = (*Registry)(nil)

// NewRegistry creates a registry merging every registration over defaults.
func NewRegistry(defaults EntitySettings) *Registry {
	return &Registry{
		defaults: defaults.Clone(),
		entities: make(map[EntityType]EntitySettings),
	}
}

// Register validates and stores the settings for entity.
func (r *Registry) Register(entity EntityType, settings EntitySettings) error {
	if strings.TrimSpace(string(entity)) == "" {
		return &ConfigurationError{Field: "EntityType", Message: "must not be empty"}
	}

	merged := Merge(r.defaults, settings)
	if err := merged.Validate(); err != nil {
		return &ConfigurationError{Entity: entity, Message: "invalid settings", Err: err}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entities[entity] = merged
	return nil
}

// Get returns the settings for entity or a ConfigurationError when it was never registered.
func (r *Registry) Get(entity EntityType) (EntitySettings, error) {
	settings, ok := r.Lookup(entity)
	if !ok {
		return EntitySettings{}, &ConfigurationError{Entity: entity, Err: ErrNotRegistered}
	}
	return settings, nil
}

// Lookup returns the settings for entity, if registered.
func (r *Registry) Lookup(entity EntityType) (EntitySettings, bool) {
	r.mu.RLock()
	settings, ok := r.entities[entity]
	r.mu.RUnlock()
	if !ok {
		return EntitySettings{}, false
	}
	return settings.Clone(), true
}

// Registered reports whether entity has settings.
func (r *Registry) Registered(entity EntityType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entities[entity]
	return ok
}

// Defaults returns a copy of the defaults registrations are merged over.
func (r *Registry) Defaults() EntitySettings {
	return r.defaults.Clone()
}

// Entities lists the registered entity types in sorted order.
func (r *Registry) Entities() []EntityType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]EntityType, 0, len(r.entities))
	for entity := range r.entities {
		out = append(out, entity)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
