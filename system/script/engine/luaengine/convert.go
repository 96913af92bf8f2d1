package luaengine

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/zigllms/scriptcore/system/script/value"
)

// toLua converts a ScriptValue into an lua.LValue bound to L.
func toLua(L *lua.LState, v value.Value) lua.LValue {
	switch v.Kind() {
	case value.KindNil:
		return lua.LNil
	case value.KindBool:
		b, _ := v.AsBool()
		return lua.LBool(b)
	case value.KindInt:
		i, _ := v.AsInt()
		return lua.LNumber(i)
	case value.KindNumber:
		n, _ := v.AsNumber()
		return lua.LNumber(n)
	case value.KindString:
		s, _ := v.AsString()
		return lua.LString(s)
	case value.KindArray:
		items := v.Items()
		t := L.NewTable()
		for i, it := range items {
			t.RawSetInt(i+1, toLua(L, it))
		}
		return t
	case value.KindObject:
		t := L.NewTable()
		for _, k := range v.Keys() {
			fv, _ := v.Field(k)
			t.RawSetString(k, toLua(L, fv))
		}
		return t
	case value.KindFunction:
		fn, _ := v.AsFunction()
		return L.NewFunction(func(L *lua.LState) int {
			n := L.GetTop()
			args := make([]value.Value, n)
			for i := 1; i <= n; i++ {
				args[i-1] = fromLua(L.Get(i))
			}
			result, err := fn.Call(args)
			if err != nil {
				L.RaiseError("%s", err.Error())
				return 0
			}
			L.Push(toLua(L, result))
			return 1
		})
	default:
		return lua.LNil
	}
}

// fromLua converts an lua.LValue into a ScriptValue. A Lua table is
// interpreted as an array when it has a contiguous 1..N integer key run with
// no other keys, else as an object (spec §4.7 table/array disambiguation).
func fromLua(v lua.LValue) value.Value {
	switch t := v.(type) {
	case *lua.LNilType:
		return value.Nil()
	case lua.LBool:
		return value.Bool(bool(t))
	case lua.LNumber:
		f := float64(t)
		if f == float64(int64(f)) {
			return value.Int(int64(f))
		}
		return value.Number(f)
	case lua.LString:
		return value.String(string(t))
	case *lua.LTable:
		return fromLuaTable(t)
	case *lua.LFunction:
		return value.FuncValue(&luaFunction{fn: t})
	default:
		if v == lua.LNil {
			return value.Nil()
		}
		return value.String(v.String())
	}
}

func fromLuaTable(t *lua.LTable) value.Value {
	n := t.Len()
	isArray := n > 0
	if isArray {
		extra := 0
		t.ForEach(func(k, _ lua.LValue) {
			num, ok := k.(lua.LNumber)
			if !ok {
				extra++
				return
			}
			f := float64(num)
			if f != float64(int64(f)) || f < 1 || f > float64(n) {
				extra++
			}
		})
		if extra > 0 {
			isArray = false
		}
	}
	if isArray {
		items := make([]value.Value, n)
		for i := 1; i <= n; i++ {
			items[i-1] = fromLua(t.RawGetInt(i))
		}
		return value.Array(items...)
	}

	obj := value.NewObject()
	t.ForEach(func(k, v lua.LValue) {
		obj.SetField(k.String(), fromLua(v))
	})
	return obj
}

// luaFunction adapts a bare *lua.LFunction handle into value.Function's
// identity-carrying contract; calling it from host code is not supported
// outside the owning LState (it has no LState reference of its own).
type luaFunction struct {
	fn *lua.LFunction
}

func (f *luaFunction) Call(args []value.Value) (value.Value, error) {
	return value.Nil(), errNoHostCall
}

var errNoHostCall = callError("lua function values cannot be called from host code directly; invoke them through ExecuteFunction")

type callError string

func (e callError) Error() string { return string(e) }
