// Copyright 2025 Patrick J. Scruggs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sloggly

import (
	"encoding"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"reflect"
	"strconv"
	"time"
)

// maxValueDepth bounds recursion through nested context values. Deeper
// values, including reference cycles, collapse to their type name.
const maxValueDepth = 32

// normalizer converts arbitrary context values into trees that
// encoding/json always accepts and whose strings are valid UTF-8.
type normalizer struct {
	policy EncodingPolicy
}

// value converts v into a JSON-friendly form.
func (n normalizer) value(v any, depth int) any {
	if depth > maxValueDepth {
		return typeName(v)
	}
	switch vt := v.(type) {
	case nil:
		return nil
	case string:
		return n.policy.Sanitize(vt)
	case []byte:
		return n.policy.SanitizeBytes(vt)
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, uintptr:
		return vt
	case float32:
		return n.float(float64(vt))
	case float64:
		return n.float(vt)
	case json.Number:
		return vt
	case time.Time:
		return vt.Format(time.RFC3339Nano)
	case time.Duration:
		return vt.String()
	case UnpackedException:
		vt.Code = n.value(vt.Code, depth+1)
		return vt
	case slog.Value:
		return n.slogValue(vt, depth)
	case slog.Attr:
		return map[string]any{vt.Key: n.slogValue(vt.Value, depth+1)}
	case []slog.Attr:
		return n.attrs(vt, depth)
	case map[string]any:
		out := make(map[string]any, len(vt))
		for k, item := range vt {
			out[n.policy.Sanitize(k)] = n.value(item, depth+1)
		}
		return out
	case []any:
		out := make([]any, len(vt))
		for i, item := range vt {
			out[i] = n.value(item, depth+1)
		}
		return out
	case json.Marshaler:
		return n.marshaled(vt)
	case error:
		return n.policy.Sanitize(safeErrorString(vt))
	case encoding.TextMarshaler:
		text, err := vt.MarshalText()
		if err != nil {
			return typeName(v)
		}
		return n.policy.SanitizeBytes(text)
	case fmt.Stringer:
		if isStructLike(v) {
			return n.reflected(v, depth)
		}
		return n.policy.Sanitize(vt.String())
	default:
		return n.reflected(v, depth)
	}
}

// float keeps finite values and spells out the rest, which JSON cannot carry.
func (n normalizer) float(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return f
}

// slogValue resolves slog values, expanding groups into objects.
func (n normalizer) slogValue(v slog.Value, depth int) any {
	rv := v.Resolve()
	switch rv.Kind() {
	case slog.KindGroup:
		return n.attrs(rv.Group(), depth)
	case slog.KindBool:
		return rv.Bool()
	case slog.KindDuration:
		return rv.Duration().String()
	case slog.KindFloat64:
		return n.float(rv.Float64())
	case slog.KindInt64:
		return rv.Int64()
	case slog.KindUint64:
		return rv.Uint64()
	case slog.KindString:
		return n.policy.Sanitize(rv.String())
	case slog.KindTime:
		return rv.Time().Format(time.RFC3339Nano)
	case slog.KindAny:
		return n.value(rv.Any(), depth+1)
	default:
		return nil
	}
}

// attrs converts an attribute list into an object, omitting empty keys.
func (n normalizer) attrs(attrs []slog.Attr, depth int) map[string]any {
	out := make(map[string]any, len(attrs))
	for _, a := range attrs {
		if a.Key == "" {
			continue
		}
		out[n.policy.Sanitize(a.Key)] = n.slogValue(a.Value, depth+1)
	}
	return out
}

// marshaled runs a custom marshaler, keeping its output only when it is a
// valid JSON document.
func (n normalizer) marshaled(m json.Marshaler) (out any) {
	defer func() {
		if recover() != nil {
			out = typeName(m)
		}
	}()
	raw, err := m.MarshalJSON()
	if err != nil || !json.Valid(raw) {
		return typeName(m)
	}
	return json.RawMessage(n.policy.SanitizeBytes(raw))
}

// reflected walks containers by reflection and lets encoding/json decide
// whether everything else is representable.
func (n normalizer) reflected(v any, depth int) any {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Invalid:
		return nil
	case reflect.Func, reflect.Chan, reflect.Complex64, reflect.Complex128, reflect.UnsafePointer:
		return typeName(v)
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return n.value(rv.Elem().Interface(), depth+1)
	case reflect.Map:
		if rv.IsNil() {
			return nil
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[n.policy.Sanitize(fmt.Sprint(iter.Key().Interface()))] = n.value(iter.Value().Interface(), depth+1)
		}
		return out
	case reflect.Slice:
		if rv.IsNil() {
			return nil
		}
		fallthrough
	case reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = n.value(rv.Index(i).Interface(), depth+1)
		}
		return out
	case reflect.String:
		return n.policy.Sanitize(rv.String())
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint()
	case reflect.Float32, reflect.Float64:
		return n.float(rv.Float())
	}
	return n.viaJSON(v)
}

// viaJSON round-trips structs through encoding/json so tags and custom
// marshalers are honoured. Values that fail to encode become their type name.
func (n normalizer) viaJSON(v any) (out any) {
	defer func() {
		if recover() != nil {
			out = typeName(v)
		}
	}()
	raw, err := json.Marshal(v)
	if err != nil {
		return typeName(v)
	}
	return json.RawMessage(raw)
}

// isStructLike reports whether v is a struct or a pointer to one.
func isStructLike(v any) bool {
	t := reflect.TypeOf(v)
	if t == nil {
		return false
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Kind() == reflect.Struct
}

// safeErrorString returns err.Error(), or the error's type name when Error
// panics.
func safeErrorString(err error) (s string) {
	defer func() {
		if recover() != nil {
			s = typeName(err)
		}
	}()
	return err.Error()
}

// typeName returns the Go type name of v.
func typeName(v any) string {
	return fmt.Sprintf("%T", v)
}
