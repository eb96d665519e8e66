package repositorycache

import (
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/jinzhu/inflection"

	"github.com/goliatone/go-query-cache/cache"
)

// EntityName derives the entity type of T from its Go type name, dropping
// pointers and generic arguments: *models.User becomes "User".
func EntityName[T any]() cache.EntityType {
	t := reflect.TypeOf((*T)(nil)).Elem()
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	name := t.Name()
	if i := strings.IndexByte(name, '['); i >= 0 {
		name = name[:i]
	}
	return cache.EntityType(name)
}

// Namespace returns the plural snake_case name of entity, used to name a backend
// dedicated to it: "BlogPost" becomes "blog_posts".
func Namespace(entity cache.EntityType) string {
	name := toSnake(string(entity))
	if name == "" {
		return ""
	}
	return inflection.Plural(name)
}

// identityOf collects the fields of record used by invalidation. Columns are
// keyed by their bun name, or the snake_case field name. The id and identifier
// entries are strings, matching the arguments of GetByID and GetByIdentifier.
func identityOf(record any) map[string]any {
	v := reflect.ValueOf(record)
	for v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil
	}

	identity := make(map[string]any)
	collectFields(v, identity)

	if id, ok := fieldString(v, "ID", "Id"); ok {
		identity[cache.DefaultField] = id
	}
	if identifier, ok := fieldString(v, "Identifier", "Name", "Code"); ok {
		identity[IdentifierField] = identifier
	}
	return identity
}

func collectFields(v reflect.Value, identity map[string]any) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		fv := v.Field(i)
		if field.Anonymous && fv.Kind() == reflect.Struct {
			collectFields(fv, identity)
			continue
		}

		name := columnName(field)
		if name == "" {
			continue
		}
		for fv.Kind() == reflect.Ptr {
			if fv.IsNil() {
				break
			}
			fv = fv.Elem()
		}
		if fv.Kind() == reflect.Ptr {
			continue
		}
		identity[name] = fv.Interface()
	}
}

func columnName(field reflect.StructField) string {
	tag := field.Tag.Get("bun")
	if tag == "-" {
		return ""
	}
	name, _, _ := strings.Cut(tag, ",")
	if strings.Contains(name, ":") {
		return ""
	}
	if name != "" {
		return name
	}
	return toSnake(field.Name)
}

func fieldString(v reflect.Value, names ...string) (string, bool) {
	for _, name := range names {
		field := v.FieldByName(name)
		if !field.IsValid() || !field.CanInterface() {
			continue
		}
		if field.Kind() == reflect.Ptr {
			if field.IsNil() {
				continue
			}
			field = field.Elem()
		}
		if field.IsZero() {
			continue
		}
		return fmt.Sprint(field.Interface()), true
	}
	return "", false
}

// toSnake converts s to snake_case, turning any punctuation into a single
// underscore so reflected names are safe inside cache keys.
func toSnake(s string) string {
	if s == "" {
		return ""
	}

	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(runes) + len(runes)/2)

	lastUnderscore := false
	underscore := func() {
		if !lastUnderscore && b.Len() > 0 {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}

	for i, r := range runes {
		switch {
		case unicode.IsUpper(r):
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (nextLower && unicode.IsUpper(prev)) {
					underscore()
				}
			}
			b.WriteRune(unicode.ToLower(r))
			lastUnderscore = false
		case unicode.IsLower(r):
			b.WriteRune(r)
			lastUnderscore = false
		case unicode.IsDigit(r):
			if i > 0 && unicode.IsLetter(runes[i-1]) {
				underscore()
			}
			b.WriteRune(r)
			lastUnderscore = false
		default:
			underscore()
		}
	}

	return strings.Trim(b.String(), "_")
}
