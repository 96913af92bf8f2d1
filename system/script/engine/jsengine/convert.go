package jsengine

import (
	"github.com/dop251/goja"

	"github.com/zigllms/scriptcore/system/script/value"
)

// toGoja converts a ScriptValue into a goja.Value bound to rt.
func toGoja(rt *goja.Runtime, v value.Value) goja.Value {
	switch v.Kind() {
	case value.KindNil:
		return goja.Null()
	case value.KindBool:
		b, _ := v.AsBool()
		return rt.ToValue(b)
	case value.KindInt:
		i, _ := v.AsInt()
		return rt.ToValue(i)
	case value.KindNumber:
		n, _ := v.AsNumber()
		return rt.ToValue(n)
	case value.KindString:
		s, _ := v.AsString()
		return rt.ToValue(s)
	case value.KindArray:
		items := v.Items()
		out := make([]any, len(items))
		for i, it := range items {
			out[i] = toGoja(rt, it)
		}
		return rt.ToValue(out)
	case value.KindObject:
		obj := rt.NewObject()
		for _, k := range v.Keys() {
			fv, _ := v.Field(k)
			_ = obj.Set(k, toGoja(rt, fv))
		}
		return obj
	case value.KindFunction:
		fn, _ := v.AsFunction()
		return rt.ToValue(func(call goja.FunctionCall) goja.Value {
			args := make([]value.Value, len(call.Arguments))
			for i, a := range call.Arguments {
				args[i] = fromGoja(a)
			}
			result, err := fn.Call(args)
			if err != nil {
				panic(rt.ToValue(err.Error()))
			}
			return toGoja(rt, result)
		})
	default:
		return goja.Undefined()
	}
}

// fromGoja converts a goja.Value into a ScriptValue.
func fromGoja(v goja.Value) value.Value {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return value.Nil()
	}
	export := v.Export()
	switch t := export.(type) {
	case int64:
		return value.Int(t)
	case int:
		return value.Int(int64(t))
	case float64:
		if t == float64(int64(t)) {
			return value.Int(int64(t))
		}
		return value.Number(t)
	case bool:
		return value.Bool(t)
	case string:
		return value.String(t)
	case []any:
		items := make([]value.Value, len(t))
		for i, it := range t {
			items[i] = value.FromHost(it)
		}
		return value.Array(items...)
	case map[string]any:
		return value.FromHost(t)
	case nil:
		return value.Nil()
	default:
		return value.FromHost(export)
	}
}
