// Package cache holds the building blocks of the query cache: entity settings and
// their registry, deterministic key derivation, TTL resolution, the Store contract
// consumed from physical backends, and configuration loading.
//
// # Overview
//
//   - EntitySettings / Registry: per entity type configuration, merged over a preset
//     (PresetStrict or PresetRelaxed) and immutable after registration.
//   - KeyBuilder: derives "<Entity>::<operation>-arg-arg" keys from a KeyInput.
//   - TTLResolver: explicit TTL, then entity TTL, then the global default.
//   - Store / Pool: the get/set/delete/clear contract and the named backends.
//   - Config: YAML loadable configuration building the Pool and the Registry.
//
// # Keys
//
// A list form input names a logical operation and its ordered arguments:
//
//	builder := cache.NewKeyBuilder(registry)
//	key, err := builder.BuildKey("User", cache.Key("getById", 7), false)
//	// key == "User::getById-7"
//
// Empty arguments ("", false, 0, nil, empty collections and zero structs) add no
// segment, so Key("getList", 0) and Key("getList") produce the same key. Structured
// arguments (structs, maps, slices, arrays) contribute an xxhash of their canonical
// form: map entries are sorted and structs contribute their exported fields in
// declaration order. Values implementing encoding.TextMarshaler use their text form.
//
// Functions, channels and unsafe pointers have no stable representation and make
// BuildKey fail with ErrUnkeyableArgument.
//
// A flat input is used as is, with "{entity}" replaced by the entity segment:
//
//	key, _ := builder.BuildKey("Blog/Post", cache.RawKey("{entity}::featured"), false)
//	// key == "Blog_Post::featured"
//
// # Reset hooks
//
// Reset hooks name the logical operations a write may have made stale together
// with the identity fields that must be known to delete their entry:
//
//	entities:
//	  Article:
//	    ttl: "+1 hour"
//	    reset_hooks:
//	      getBySlug: [slug]
//	      getFeatured: true
//
// # Errors
//
// ConfigurationError reports unregistered entities, unknown backends and invalid
// settings. CacheBackendError wraps store failures. InvalidCallbackError is raised by
// caching helpers that receive a compute step they cannot call.
package cache
