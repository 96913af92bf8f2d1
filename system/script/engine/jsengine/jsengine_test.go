package jsengine

import (
	"context"
	"testing"

	core "github.com/zigllms/scriptcore/system/core"
	"github.com/zigllms/scriptcore/system/script/scripterr"
	"github.com/zigllms/scriptcore/system/script/value"
)

func newTestContext(t *testing.T) (core.ScriptingEngine, core.EngineContext) {
	t.Helper()
	eng, err := New(core.DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := eng.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	ec, err := eng.CreateContext(context.Background())
	if err != nil {
		t.Fatalf("CreateContext: %v", err)
	}
	return eng, ec
}

func TestExecuteScriptReturnsValue(t *testing.T) {
	_, ec := newTestContext(t)
	v, err := ec.ExecuteScript("1 + 2")
	if err != nil {
		t.Fatalf("ExecuteScript: %v", err)
	}
	if i, ok := v.AsInt(); !ok || i != 3 {
		t.Fatalf("unexpected result: %+v", v)
	}
}

func TestExecuteFunctionWithArgs(t *testing.T) {
	_, ec := newTestContext(t)
	if err := ec.LoadScript("function add(a, b) { return a + b; }", "test.js"); err != nil {
		t.Fatalf("LoadScript: %v", err)
	}
	v, err := ec.ExecuteFunction("add", []value.Value{value.Int(2), value.Int(3)})
	if err != nil {
		t.Fatalf("ExecuteFunction: %v", err)
	}
	if i, ok := v.AsInt(); !ok || i != 5 {
		t.Fatalf("unexpected result: %+v", v)
	}
}

func TestExecuteScriptSyntaxError(t *testing.T) {
	_, ec := newTestContext(t)
	_, err := ec.ExecuteScript("function (")
	if scripterr.CodeOf(err) != scripterr.Syntax {
		t.Fatalf("expected Syntax, got %v (%v)", scripterr.CodeOf(err), err)
	}
}

func TestExecuteScriptTypeError(t *testing.T) {
	_, ec := newTestContext(t)
	_, err := ec.ExecuteScript("null.foo")
	if scripterr.CodeOf(err) != scripterr.Type {
		t.Fatalf("expected Type, got %v (%v)", scripterr.CodeOf(err), err)
	}
}

func TestRegisterModuleAndCall(t *testing.T) {
	_, ec := newTestContext(t)
	err := ec.RegisterModule("math2", map[string]func(args []value.Value) (value.Value, error){
		"double": func(args []value.Value) (value.Value, error) {
			i, _ := args[0].AsInt()
			return value.Int(i * 2), nil
		},
	}, nil)
	if err != nil {
		t.Fatalf("RegisterModule: %v", err)
	}
	if err := ec.ImportModule("math2"); err != nil {
		t.Fatalf("ImportModule: %v", err)
	}
	v, err := ec.ExecuteScript("__module_math2.double(21)")
	if err != nil {
		t.Fatalf("ExecuteScript: %v", err)
	}
	if i, ok := v.AsInt(); !ok || i != 42 {
		t.Fatalf("unexpected result: %+v", v)
	}
}

func TestSetGetGlobal(t *testing.T) {
	_, ec := newTestContext(t)
	if err := ec.SetGlobal("x", value.Int(7)); err != nil {
		t.Fatalf("SetGlobal: %v", err)
	}
	v, err := ec.GetGlobal("x")
	if err != nil {
		t.Fatalf("GetGlobal: %v", err)
	}
	if i, ok := v.AsInt(); !ok || i != 7 {
		t.Fatalf("unexpected global: %+v", v)
	}
}
