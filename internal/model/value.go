package model

import (
	"reflect"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// FormatValue renders a scalar field value as the text stored in the change
// log. nil becomes the empty string.
func FormatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case *time.Time:
		if t == nil {
			return ""
		}
		return t.UTC().Format(time.RFC3339Nano)
	}
	s, err := cast.ToStringE(indirect(v))
	if err != nil {
		return ""
	}
	return s
}

// IsBlank reports whether v carries no meaningful value. The boolean false
// is a real value and is never blank; numeric zero is not blank either.
func IsBlank(v any) bool {
	if v == nil {
		return true
	}
	if _, ok := v.(bool); ok {
		return false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return strings.TrimSpace(rv.String()) == ""
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return true
		}
		return IsBlank(rv.Elem().Interface())
	}
	if t, ok := v.(time.Time); ok {
		return t.IsZero()
	}
	return false
}

// ValuesEqual reports whether two field values are the same for diffing.
func ValuesEqual(a, b any) bool {
	return reflect.DeepEqual(indirect(a), indirect(b))
}

func indirect(v any) any {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	return rv.Interface()
}
