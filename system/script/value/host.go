package value

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/tidwall/gjson"
	"github.com/zigllms/scriptcore/system/script/scripterr"
)

// FromHost deep-converts a host Go value into a Value. Primitives map
// directly; slices/arrays become arrays; maps with string keys and structs
// become objects; pointers are dereferenced (nil pointer -> Nil); anything
// else falls back to its fmt.Sprintf("%v") string form.
func FromHost(v any) Value {
	if v == nil {
		return Nil()
	}
	switch t := v.(type) {
	case Value:
		return t
	case bool:
		return Bool(t)
	case int:
		return Int(int64(t))
	case int32:
		return Int(int64(t))
	case int64:
		return Int(t)
	case float32:
		return Number(float64(t))
	case float64:
		return Number(t)
	case string:
		return String(t)
	case []byte:
		return String(string(t))
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return Nil()
		}
		return FromHost(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		items := make([]Value, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			items[i] = FromHost(rv.Index(i).Interface())
		}
		return Array(items...)
	case reflect.Map:
		obj := NewObject()
		for _, key := range rv.MapKeys() {
			obj.SetField(fmt.Sprintf("%v", key.Interface()), FromHost(rv.MapIndex(key).Interface()))
		}
		return obj
	case reflect.Struct:
		obj := NewObject()
		rt := rv.Type()
		for i := 0; i < rt.NumField(); i++ {
			f := rt.Field(i)
			if !f.IsExported() {
				continue
			}
			name := f.Tag.Get("json")
			if name == "" {
				name = f.Name
			}
			obj.SetField(name, FromHost(rv.Field(i).Interface()))
		}
		return obj
	default:
		return String(fmt.Sprintf("%v", v))
	}
}

// ToHost converts a Value into a best-effort host representation
// (bool/int64/float64/string/[]any/map[string]any). Functions and userdata
// cannot be converted and return a Type error.
func ToHost(v Value) (any, error) {
	switch v.Kind() {
	case KindNil:
		return nil, nil
	case KindBool:
		b, _ := v.AsBool()
		return b, nil
	case KindInt:
		i, _ := v.AsInt()
		return i, nil
	case KindNumber:
		n, _ := v.AsNumber()
		return n, nil
	case KindString:
		s, _ := v.AsString()
		return s, nil
	case KindArray:
		items := v.Items()
		out := make([]any, len(items))
		for i, it := range items {
			hv, err := ToHost(it)
			if err != nil {
				return nil, err
			}
			out[i] = hv
		}
		return out, nil
	case KindObject:
		out := make(map[string]any, v.Len())
		for _, k := range v.Keys() {
			fv, _ := v.Field(k)
			hv, err := ToHost(fv)
			if err != nil {
				return nil, err
			}
			out[k] = hv
		}
		return out, nil
	default:
		return nil, scripterr.New(scripterr.Type, fmt.Sprintf("cannot convert %s to a host value", v.Kind()))
	}
}

// ToJSON serializes a Value to JSON bytes. Functions and userdata raise Type.
func ToJSON(v Value) ([]byte, error) {
	host, err := ToHost(v)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(host)
	if err != nil {
		return nil, scripterr.Wrap(scripterr.Type, "json marshal failed", err)
	}
	return b, nil
}

// FromJSON parses JSON bytes into a Value. Every shape, including nested
// objects/arrays, is walked through gjson's ForEach so object field order is
// preserved end to end -- the Data Model's "object is an insertion-order-
// preserving mapping" invariant must hold for every JSON object decoded this
// way, not just top-level scalars, and encoding/json's map[string]any
// fallback cannot honor that (Go map iteration order is unspecified).
func FromJSON(data []byte) (Value, error) {
	if !gjson.ValidBytes(data) {
		return Nil(), scripterr.New(scripterr.Syntax, "invalid JSON")
	}
	return fromGjsonValue(gjson.ParseBytes(data)), nil
}

// fromGjsonValue converts one gjson.Result, recursing into containers via
// fromGjsonContainer so order is preserved at every nesting level.
func fromGjsonValue(r gjson.Result) Value {
	switch r.Type {
	case gjson.Null:
		return Nil()
	case gjson.True:
		return Bool(true)
	case gjson.False:
		return Bool(false)
	case gjson.Number:
		return jsonNumberValue(r)
	case gjson.String:
		return String(r.String())
	default:
		return fromGjsonContainer(r)
	}
}

// fromGjsonContainer walks an object or array with ForEach, which visits
// object keys in source order, unlike encoding/json's map[string]any.
func fromGjsonContainer(r gjson.Result) Value {
	if r.IsArray() {
		var items []Value
		r.ForEach(func(_, val gjson.Result) bool {
			items = append(items, fromGjsonValue(val))
			return true
		})
		return Array(items...)
	}
	obj := NewObject()
	r.ForEach(func(key, val gjson.Result) bool {
		obj.SetField(key.String(), fromGjsonValue(val))
		return true
	})
	return obj
}

// jsonNumberValue implements the numeric widening rule: a JSON number whose
// value is a whole number (including forms such as 2.0 or 1e3) becomes Int;
// otherwise it becomes Number. Round-tripping through JSON may silently widen an Int to a
// Number if re-parsed through a generic decoder, which is documented.
func jsonNumberValue(r gjson.Result) Value {
	f := r.Float()
	if f == float64(int64(f)) {
		return Int(int64(f))
	}
	return Number(f)
}

