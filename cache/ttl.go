package cache

import "time"

// DefaultTTL is used when neither the caller nor the entity settings give a TTL.
const DefaultTTL = 5 * time.Minute

// TTLResolver picks the effective expiration for an entry.
type TTLResolver struct {
	settings SettingsSource
	fallback time.Duration
}

// NewTTLResolver creates a resolver falling back to DefaultTTL.
func NewTTLResolver(settings SettingsSource) *TTLResolver {
	return &TTLResolver{settings: settings, fallback: DefaultTTL}
}

// WithFallback returns a copy using fallback as the global default. Non-positive values are ignored.
func (r *TTLResolver) WithFallback(fallback time.Duration) *TTLResolver {
	out := *r
	if fallback > 0 {
		out.fallback = fallback
	}
	return &out
}

// Resolve returns explicit when positive, else the entity TTL, else the global fallback.
func (r *TTLResolver) Resolve(entity EntityType, explicit time.Duration) time.Duration {
	if explicit > 0 {
		return explicit
	}
	if r.settings != nil {
		if settings, ok := r.settings.Lookup(entity); ok && settings.TTL > 0 {
			return settings.TTL.Std()
		}
	}
	return r.fallback
}
