package cache

import (
	"encoding"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// KeySeparator sits between the entity segment and the operation name.
const KeySeparator = "::"

// ArgSeparator precedes every non-empty argument segment.
const ArgSeparator = "-"

// EntityPlaceholder is replaced by the entity segment in flat keys.
const EntityPlaceholder = "{entity}"

var entitySegmentReplacer = strings.NewReplacer(`\`, "_", "/", "_", ".", "_", ":", "_")

// KeyInput is either a flat key used as is, or a logical operation with ordered arguments.
type KeyInput struct {
	raw       string
	operation string
	args      []any
	flat      bool
}

// Key builds a list-form key input: the logical operation followed by its arguments.
func Key(operation string, args ...any) KeyInput {
	return KeyInput{operation: operation, args: args}
}

// RawKey builds a flat key input.
func RawKey(key string) KeyInput {
	return KeyInput{raw: key, flat: true}
}

// Operation returns the logical operation, empty for flat inputs.
func (k KeyInput) Operation() string { return k.operation }

// Args returns the ordered arguments.
func (k KeyInput) Args() []any { return k.args }

// Raw returns the flat key, empty for list-form inputs.
func (k KeyInput) Raw() string { return k.raw }

// IsFlat reports whether the input is a flat key.
func (k KeyInput) IsFlat() bool { return k.flat }

// SettingsSource resolves registered entity settings.
type SettingsSource interface {
	Get(entity EntityType) (EntitySettings, error)
	Lookup(entity EntityType) (EntitySettings, bool)
}

// KeyBuilder derives cache keys. A key is a pure function of the entity settings,
// the entity, the input and applyPrefix.
type KeyBuilder struct {
	settings SettingsSource
}

// NewKeyBuilder creates a KeyBuilder backed by the given settings source.
func NewKeyBuilder(settings SettingsSource) *KeyBuilder {
	return &KeyBuilder{settings: settings}
}

// BuildKey returns the cache key for input on entity.
func (b *KeyBuilder) BuildKey(entity EntityType, input KeyInput, applyPrefix bool) (string, error) {
	settings, err := b.settings.Get(entity)
	if err != nil {
		return "", err
	}
	return BuildKeyWith(settings, entity, input, applyPrefix)
}

// BuildKeyWith derives a key using already resolved settings.
func BuildKeyWith(settings EntitySettings, entity EntityType, input KeyInput, applyPrefix bool) (string, error) {
	segment := EntitySegment(entity)

	var b strings.Builder
	if applyPrefix {
		b.WriteString(settings.KeyPrefix)
	}

	if input.flat {
		b.WriteString(strings.ReplaceAll(input.raw, EntityPlaceholder, segment))
		return b.String(), nil
	}

	b.WriteString(segment)
	b.WriteString(KeySeparator)
	b.WriteString(settings.Canonical(input.operation))

	for i, arg := range input.args {
		part, err := argSegment(arg)
		if err != nil {
			return "", fmt.Errorf("%w: argument %d of %s", err, i, input.operation)
		}
		if part == "" {
			continue
		}
		b.WriteString(ArgSeparator)
		b.WriteString(part)
	}

	return b.String(), nil
}

// EntitySegment renders the entity identity with namespace separators made key safe.
func EntitySegment(entity EntityType) string {
	return entitySegmentReplacer.Replace(string(entity))
}

// HashValue returns the content hash used for structured arguments.
func HashValue(v any) (string, error) {
	var b strings.Builder
	if err := writeCanonical(&b, reflect.ValueOf(v)); err != nil {
		return "", err
	}
	return fmt.Sprintf("%016x", xxhash.Sum64String(b.String())), nil
}

// IsBlank reports whether arg would add no segment to a key.
func IsBlank(arg any) bool {
	part, err := argSegment(arg)
	return err == nil && part == ""
}

// argSegment renders a single argument. Empty values render as "".
func argSegment(arg any) (string, error) {
	rv := reflect.ValueOf(arg)
	for rv.IsValid() && (rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Interface) {
		if rv.IsNil() {
			return "", nil
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return "", nil
	}

	switch rv.Kind() {
	case reflect.String:
		return rv.String(), nil
	case reflect.Bool:
		if !rv.Bool() {
			return "", nil
		}
		return "1", nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if rv.Int() == 0 {
			return "", nil
		}
		return strconv.FormatInt(rv.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		if rv.Uint() == 0 {
			return "", nil
		}
		return strconv.FormatUint(rv.Uint(), 10), nil
	case reflect.Float32, reflect.Float64:
		if rv.Float() == 0 {
			return "", nil
		}
		return strconv.FormatFloat(rv.Float(), 'g', -1, 64), nil
	case reflect.Slice, reflect.Map, reflect.Array:
		if rv.Len() == 0 {
			return "", nil
		}
		return HashValue(rv.Interface())
	case reflect.Struct:
		if rv.IsZero() {
			return "", nil
		}
		return HashValue(rv.Interface())
	case reflect.Complex64, reflect.Complex128:
		if rv.Complex() == 0 {
			return "", nil
		}
		return HashValue(rv.Interface())
	default:
		return "", ErrUnkeyableArgument
	}
}

// writeCanonical writes a deterministic representation of v: maps are sorted,
// structs contribute exported fields in declaration order. Strings are quoted
// so separators inside them cannot shift element boundaries.
func writeCanonical(b *strings.Builder, rv reflect.Value) error {
	if !rv.IsValid() {
		b.WriteString("nil")
		return nil
	}

	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			b.WriteString("nil")
			return nil
		}
		return writeCanonical(b, rv.Elem())

	case reflect.Slice:
		if rv.IsNil() {
			b.WriteString("slice:nil")
			return nil
		}
		return writeSequence(b, "slice", rv)

	case reflect.Array:
		return writeSequence(b, "array", rv)

	case reflect.Map:
		if rv.IsNil() {
			b.WriteString("map:nil")
			return nil
		}
		return writeMap(b, rv)

	case reflect.Struct:
		if rv.CanInterface() {
			if tm, ok := rv.Interface().(encoding.TextMarshaler); ok {
				text, err := tm.MarshalText()
				if err != nil {
					return err
				}
				fmt.Fprintf(b, "text %s:%s", rv.Type().String(), strconv.Quote(string(text)))
				return nil
			}
		}
		return writeStruct(b, rv)

	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return ErrUnkeyableArgument

	case reflect.String:
		b.WriteString("string:")
		b.WriteString(strconv.Quote(rv.String()))
		return nil

	default:
		fmt.Fprintf(b, "%s:%v", rv.Kind(), rv.Interface())
		return nil
	}
}

func writeSequence(b *strings.Builder, label string, rv reflect.Value) error {
	fmt.Fprintf(b, "%s[%d]:{", label, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		if i > 0 {
			b.WriteByte(',')
		}
		if err := writeCanonical(b, rv.Index(i)); err != nil {
			return err
		}
	}
	b.WriteByte('}')
	return nil
}

func writeMap(b *strings.Builder, rv reflect.Value) error {
	type pair struct {
		key   string
		value reflect.Value
	}

	pairs := make([]pair, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		var kb strings.Builder
		if err := writeCanonical(&kb, iter.Key()); err != nil {
			return err
		}
		pairs = append(pairs, pair{key: kb.String(), value: iter.Value()})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].key < pairs[j].key })

	fmt.Fprintf(b, "map[%d]:{", len(pairs))
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(p.key)
		b.WriteByte('=')
		if err := writeCanonical(b, p.value); err != nil {
			return err
		}
	}
	b.WriteByte('}')
	return nil
}

func writeStruct(b *strings.Builder, rv reflect.Value) error {
	rt := rv.Type()
	fmt.Fprintf(b, "struct %s:{", rt.String())
	first := true
	for i := 0; i < rv.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}
		if !first {
			b.WriteByte(',')
		}
		first = false
		b.WriteString(field.Name)
		b.WriteByte(':')
		if err := writeCanonical(b, rv.Field(i)); err != nil {
			return err
		}
	}
	b.WriteByte('}')
	return nil
}
