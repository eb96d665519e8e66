package querycache

import (
	"reflect"
	"time"
)

// Provenance describes where a cached result came from. Expires is zero when only
// the key is stamped.
type Provenance struct {
	Key     string    `json:"key" msgpack:"key"`
	Expires time.Time `json:"expires,omitempty" msgpack:"expires,omitempty"`
}

// ProvenanceStamper is implemented by results that record their cache provenance.
type ProvenanceStamper interface {
	StampCache(Provenance)
}

// Stamp hands p to results when it is a ProvenanceStamper, or to every element of
// a slice or array of them. Elements stamp through their address when the pointer
// type implements the interface.
func Stamp(results any, p Provenance) {
	if results == nil {
		return
	}
	if s, ok := results.(ProvenanceStamper); ok {
		s.StampCache(p)
		return
	}

	rv := reflect.ValueOf(results)
	if rv.Kind() == reflect.Ptr && !rv.IsNil() {
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return
	}
	for i := 0; i < rv.Len(); i++ {
		stampValue(rv.Index(i), p)
	}
}

func stampValue(v reflect.Value, p Provenance) {
	if (v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface) && v.IsNil() {
		return
	}
	if v.CanInterface() {
		if s, ok := v.Interface().(ProvenanceStamper); ok {
			s.StampCache(p)
			return
		}
	}
	if v.CanAddr() && v.Addr().CanInterface() {
		if s, ok := v.Addr().Interface().(ProvenanceStamper); ok {
			s.StampCache(p)
		}
	}
}

// isEmpty reports whether a read result is not worth caching: nil, nil pointers,
// empty collections and zero structs.
func isEmpty(results any) bool {
	if results == nil {
		return true
	}
	rv := reflect.ValueOf(results)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface:
		return rv.IsNil()
	case reflect.Slice, reflect.Map, reflect.Array, reflect.String:
		return rv.Len() == 0
	case reflect.Struct:
		return rv.IsZero()
	default:
		return false
	}
}
