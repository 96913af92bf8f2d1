package module

import (
	"testing"

	scriptcontext "github.com/zigllms/scriptcore/system/script/context"
	core "github.com/zigllms/scriptcore/system/core"
	"github.com/zigllms/scriptcore/system/script/scripterr"
	"github.com/zigllms/scriptcore/system/script/value"
)

type stubBridge struct {
	name        string
	initialized bool
	deinited    bool
}

func (b *stubBridge) Name() string { return b.name }
func (b *stubBridge) GetModule() (*scriptcontext.ScriptModule, error) {
	return &scriptcontext.ScriptModule{
		Functions: map[string]func(args []value.Value) (value.Value, error){
			"ping": func(args []value.Value) (value.Value, error) { return value.String("pong"), nil },
		},
	}, nil
}
func (b *stubBridge) Init(eng core.ScriptingEngine, ctx *scriptcontext.Context) error {
	b.initialized = true
	return nil
}
func (b *stubBridge) Deinit() { b.deinited = true }

type stubEngineContext struct{}

func (c *stubEngineContext) LoadScript(source, name string) error { return nil }
func (c *stubEngineContext) LoadFile(path string) error            { return nil }
func (c *stubEngineContext) ExecuteScript(source string) (value.Value, error) {
	return value.Nil(), nil
}
func (c *stubEngineContext) ExecuteFunction(name string, args []value.Value) (value.Value, error) {
	return value.Nil(), nil
}
func (c *stubEngineContext) RegisterModule(name string, functions map[string]func(args []value.Value) (value.Value, error), constants map[string]value.Value) error {
	return nil
}
func (c *stubEngineContext) ImportModule(name string) error            { return nil }
func (c *stubEngineContext) SetGlobal(name string, v value.Value) error { return nil }
func (c *stubEngineContext) GetGlobal(name string) (value.Value, error) {
	return value.Nil(), nil
}
func (c *stubEngineContext) LastError() *scripterr.ScriptError { return nil }
func (c *stubEngineContext) ClearErrors()                      {}
func (c *stubEngineContext) CollectGarbage()                   {}
func (c *stubEngineContext) MemoryUsage() int64                { return 0 }
func (c *stubEngineContext) Debug() core.DebugHooks             { return nil }

func TestRegistryWireCallsInitAndQualifiesName(t *testing.T) {
	reg := NewRegistry("zigllms")
	b := &stubBridge{name: "math"}
	if err := reg.Register(b); err != nil {
		t.Fatalf("Register: %v", err)
	}

	ctx := scriptcontext.New(nil, &stubEngineContext{}, scriptcontext.SecurityPermissions{}, scriptcontext.ResourceLimits{})
	if err := reg.Wire(nil, ctx); err != nil {
		t.Fatalf("Wire: %v", err)
	}
	if !b.initialized {
		t.Fatal("expected bridge Init to run")
	}

	mods := ctx.Modules()
	if _, ok := mods["zigllms.math"]; !ok {
		t.Fatalf("expected module registered under qualified name, got %v", mods)
	}
}

func TestRegistryDeinitRunsInReverseOrder(t *testing.T) {
	reg := NewRegistry("")
	b1 := &stubBridge{name: "a"}
	b2 := &stubBridge{name: "b"}
	_ = reg.Register(b1)
	_ = reg.Register(b2)
	reg.Deinit()
	if !b1.deinited || !b2.deinited {
		t.Fatal("expected both bridges deinitialized")
	}
}
