package sanitize

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/fyrsmithlabs/corrlog/internal/config"
)

// Redactor walks values and redacts sensitive keys. The zero value applies
// the built-in rules only.
type Redactor struct {
	fields map[string]struct{}
}

// NewRedactor returns a Redactor that additionally redacts the given exact
// field names (compared case-insensitively).
func NewRedactor(fields ...string) *Redactor {
	r := &Redactor{fields: make(map[string]struct{}, len(fields))}
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			r.fields[strings.ToLower(f)] = struct{}{}
		}
	}
	return r
}

var defaultRedactor = &Redactor{}

// Value returns a sanitized copy of v using the built-in rules.
func Value(v any) any {
	return defaultRedactor.Value(v)
}

// Map returns a sanitized copy of m. A nil map yields an empty map.
func Map(m map[string]any) map[string]any {
	return defaultRedactor.Map(m)
}

// Value returns a sanitized copy of v.
func (r *Redactor) Value(v any) any {
	return r.walk(v, 0)
}

// Map returns a sanitized copy of m. A nil map yields an empty map.
func (r *Redactor) Map(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return r.walkMap(m, 0)
}

// Sensitive reports whether key is redacted by r.
func (r *Redactor) Sensitive(key string) bool {
	if r != nil && len(r.fields) > 0 {
		if _, ok := r.fields[strings.ToLower(key)]; ok {
			return true
		}
	}
	return IsSensitiveKey(key)
}

func (r *Redactor) walk(v any, depth int) any {
	if depth > MaxDepth {
		return Truncated
	}

	switch x := v.(type) {
	case nil:
		return nil
	case string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, uintptr,
		float32, float64, json.Number:
		return v
	case time.Time, *time.Time, time.Duration:
		return v
	case config.Secret:
		if x == "" {
			return ""
		}
		return Redacted
	case []byte:
		return v
	case map[string]any:
		return r.walkMap(x, depth)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = r.walk(e, depth+1)
		}
		return out
	}

	rv := reflect.ValueOf(v)
	if (rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface) && rv.IsNil() {
		return nil
	}
	if err, ok := v.(error); ok {
		return ErrorFields(err)
	}
	return r.walkReflect(rv, depth)
}

func (r *Redactor) walkMap(m map[string]any, depth int) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if r.Sensitive(k) {
			out[k] = Redacted
			continue
		}
		out[k] = r.walk(v, depth+1)
	}
	return out
}

func (r *Redactor) walkReflect(rv reflect.Value, depth int) any {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		return r.walk(rv.Elem().Interface(), depth+1)

	case reflect.Map:
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k := keyString(iter.Key())
			if r.Sensitive(k) {
				out[k] = Redacted
				continue
			}
			out[k] = r.walk(iter.Value().Interface(), depth+1)
		}
		return out

	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return rv.Interface()
		}
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = r.walk(rv.Index(i).Interface(), depth+1)
		}
		return out

	case reflect.Struct:
		out := make(map[string]any, rv.NumField())
		r.walkStruct(rv, out, depth)
		return out

	default:
		// Opaque: funcs, channels, complex numbers, named scalars.
		return rv.Interface()
	}
}

// walkStruct copies exported fields into out keyed the way encoding/json
// would name them. Untagged embedded structs are flattened.
func (r *Redactor) walkStruct(rv reflect.Value, out map[string]any, depth int) {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		fv := rv.Field(i)
		name, omitEmpty, skip := jsonName(f)
		if skip {
			continue
		}
		if f.Anonymous && f.Tag.Get("json") == "" {
			ev := fv
			if ev.Kind() == reflect.Pointer {
				if ev.IsNil() {
					continue
				}
				ev = ev.Elem()
			}
			if ev.Kind() == reflect.Struct {
				r.walkStruct(ev, out, depth)
				continue
			}
		}
		if !f.IsExported() {
			continue
		}
		if omitEmpty && fv.IsZero() {
			continue
		}
		if r.Sensitive(name) {
			out[name] = Redacted
			continue
		}
		out[name] = r.walk(fv.Interface(), depth+1)
	}
}

func jsonName(f reflect.StructField) (name string, omitEmpty, skip bool) {
	tag := f.Tag.Get("json")
	if tag == "-" {
		return "", false, true
	}
	name = f.Name
	if tag != "" {
		parts := strings.Split(tag, ",")
		if parts[0] != "" {
			name = parts[0]
		}
		for _, opt := range parts[1:] {
			if opt == "omitempty" {
				omitEmpty = true
			}
		}
	}
	return name, omitEmpty, false
}

func keyString(k reflect.Value) string {
	if k.Kind() == reflect.String {
		return k.String()
	}
	return fmt.Sprint(k.Interface())
}

// stackTracer is implemented by github.com/pkg/errors values.
type stackTracer interface {
	StackTrace() pkgerrors.StackTrace
}

// ErrorFields renders err as {name, message, stack}. The stack is never
// redacted: it is the error's own stack when it carries one, otherwise the
// stack at the point of rendering.
func ErrorFields(err error) map[string]any {
	return map[string]any{
		"name":    errorName(err),
		"message": err.Error(),
		"stack":   Stack(err),
	}
}

// Stack returns a printable stack trace for err. It is never empty for a
// non-nil err.
func Stack(err error) string {
	if err == nil {
		return ""
	}
	var st stackTracer
	if !errors.As(err, &st) {
		st = pkgerrors.WithStack(err).(stackTracer)
	}
	return fmt.Sprintf("%s%+v", err.Error(), st.StackTrace())
}

func errorName(err error) string {
	return strings.TrimPrefix(reflect.TypeOf(err).String(), "*")
}
