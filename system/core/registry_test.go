package engine

import (
	"context"
	"testing"

	"github.com/zigllms/scriptcore/system/script/scripterr"
	"github.com/zigllms/scriptcore/system/script/value"
)

type stubEngine struct{ name string }

func (s *stubEngine) Init(ctx context.Context) error    { return nil }
func (s *stubEngine) Destroy(ctx context.Context) error { return nil }
func (s *stubEngine) CreateContext(ctx context.Context) (EngineContext, error) {
	return &stubEngineContext{}, nil
}
func (s *stubEngine) DestroyContext(ctx context.Context, ec EngineContext) error { return nil }
func (s *stubEngine) Name() string                                              { return s.name }
func (s *stubEngine) Extensions() []string                                      { return []string{s.name} }
func (s *stubEngine) DeclaredFeatures() Features                                { return Features{} }

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
func (c *stubEngineContext) ImportModule(name string) error          { return nil }
func (c *stubEngineContext) SetGlobal(name string, v value.Value) error { return nil }
func (c *stubEngineContext) GetGlobal(name string) (value.Value, error) {
	return value.Nil(), nil
}
func (c *stubEngineContext) LastError() *scripterr.ScriptError { return nil }
func (c *stubEngineContext) ClearErrors()                      {}
func (c *stubEngineContext) CollectGarbage()                   {}
func (c *stubEngineContext) MemoryUsage() int64                { return 0 }
func (c *stubEngineContext) Debug() DebugHooks                  { return nil }

func TestRegistryRegisterAndCreate(t *testing.T) {
	r := NewRegistry()
	err := r.RegisterEngine(Info{
		Name:       "stub",
		Extensions: []string{"stub"},
		Factory: func(cfg Config) (ScriptingEngine, error) {
			return &stubEngine{name: "stub"}, nil
		},
	})
	if err != nil {
		t.Fatalf("RegisterEngine: %v", err)
	}

	eng, err := r.CreateEngine("stub", DefaultConfig())
	if err != nil {
		t.Fatalf("CreateEngine: %v", err)
	}
	if eng.Name() != "stub" {
		t.Fatalf("unexpected engine name %q", eng.Name())
	}

	eng2, err := r.CreateByExtension("stub", DefaultConfig())
	if err != nil {
		t.Fatalf("CreateByExtension: %v", err)
	}
	if eng2.Name() != "stub" {
		t.Fatalf("unexpected engine name via extension %q", eng2.Name())
	}

	eng3, err := r.CreateDefault(DefaultConfig())
	if err != nil {
		t.Fatalf("CreateDefault: %v", err)
	}
	if eng3.Name() != "stub" {
		t.Fatalf("unexpected default engine %q", eng3.Name())
	}
}

func TestRegistryUnknownEngine(t *testing.T) {
	r := NewRegistry()
	if _, err := r.CreateEngine("missing", DefaultConfig()); err == nil {
		t.Fatal("expected error creating unregistered engine")
	}
	if _, err := r.CreateByExtension("missing", DefaultConfig()); err == nil {
		t.Fatal("expected error for unmapped extension")
	}
	if _, err := r.CreateDefault(DefaultConfig()); err == nil {
		t.Fatal("expected error with no default set")
	}
}

func TestRegistryUnregister(t *testing.T) {
	r := NewRegistry()
	_ = r.RegisterEngine(Info{
		Name:       "stub",
		Extensions: []string{"stub"},
		Factory: func(cfg Config) (ScriptingEngine, error) {
			return &stubEngine{name: "stub"}, nil
		},
	})
	if err := r.Unregister("stub"); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	if _, err := r.CreateEngine("stub", DefaultConfig()); err == nil {
		t.Fatal("expected error after unregister")
	}
	if err := r.Unregister("stub"); err == nil {
		t.Fatal("expected error unregistering twice")
	}
}
