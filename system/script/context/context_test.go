package context

import (
	"testing"

	core "github.com/zigllms/scriptcore/system/core"
	"github.com/zigllms/scriptcore/system/script/scripterr"
	"github.com/zigllms/scriptcore/system/script/value"
)

// stubEngineContext is a minimal core.EngineContext double whose behavior is
// driven by the test; it never touches a real interpreter.
type stubEngineContext struct {
	execResult value.Value
	execErr    error
	execPanic  any
	globals    map[string]value.Value
}

func newStub() *stubEngineContext {
	return &stubEngineContext{globals: make(map[string]value.Value)}
}

func (c *stubEngineContext) LoadScript(source, name string) error { return nil }
func (c *stubEngineContext) LoadFile(path string) error            { return nil }
func (c *stubEngineContext) ExecuteScript(source string) (value.Value, error) {
	if c.execPanic != nil {
		panic(c.execPanic)
	}
	return c.execResult, c.execErr
}
func (c *stubEngineContext) ExecuteFunction(name string, args []value.Value) (value.Value, error) {
	if c.execPanic != nil {
		panic(c.execPanic)
	}
	return c.execResult, c.execErr
}
func (c *stubEngineContext) RegisterModule(name string, functions map[string]func(args []value.Value) (value.Value, error), constants map[string]value.Value) error {
	return nil
}
func (c *stubEngineContext) ImportModule(name string) error { return nil }
func (c *stubEngineContext) SetGlobal(name string, v value.Value) error {
	c.globals[name] = v
	return nil
}
func (c *stubEngineContext) GetGlobal(name string) (value.Value, error) {
	return c.globals[name], nil
}
func (c *stubEngineContext) LastError() *scripterr.ScriptError { return nil }
func (c *stubEngineContext) ClearErrors()                      {}
func (c *stubEngineContext) CollectGarbage()                   {}
func (c *stubEngineContext) MemoryUsage() int64                { return 0 }
func (c *stubEngineContext) Debug() core.DebugHooks             { return nil }

// TestLastErrorIffStateError exercises testable property 4: LastError() is
// non-nil iff State() == Error, across a failing execution and a subsequent
// ClearErrors.
func TestLastErrorIffStateError(t *testing.T) {
	stub := newStub()
	ctx := New(nil, stub, SecurityPermissions{}, ResourceLimits{})

	if ctx.LastError() != nil {
		t.Fatal("expected no last error on a fresh Context")
	}
	if ctx.State() != Ready {
		t.Fatalf("expected Ready, got %v", ctx.State())
	}

	stub.execErr = scripterr.New(scripterr.Runtime, "boom")
	if _, err := ctx.ExecuteScript("whatever"); err == nil {
		t.Fatal("expected ExecuteScript to surface the engine error")
	}
	if ctx.State() != Error {
		t.Fatalf("expected Error state after a failing execution, got %v", ctx.State())
	}
	if ctx.LastError() == nil {
		t.Fatal("expected LastError() to be set once state == Error")
	}

	ctx.ClearErrors()
	if ctx.State() != Ready {
		t.Fatalf("expected ClearErrors to restore Ready, got %v", ctx.State())
	}
	if ctx.LastError() != nil {
		t.Fatal("expected LastError() to be nil once state leaves Error")
	}
}

// TestExecuteScriptSucceedsAndStaysReady covers the happy path: a successful
// execution updates stats and leaves the Context Ready with no last error.
func TestExecuteScriptSucceedsAndStaysReady(t *testing.T) {
	stub := newStub()
	stub.execResult = value.Int(42)
	ctx := New(nil, stub, SecurityPermissions{}, ResourceLimits{})

	result, err := ctx.ExecuteScript("return 42")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n, ok := result.AsInt(); !ok || n != 42 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if ctx.State() != Ready {
		t.Fatalf("expected Ready, got %v", ctx.State())
	}
	if ctx.Stats().FunctionCalls != 0 {
		t.Fatalf("ExecuteScript must not increment FunctionCalls")
	}
}

// TestExecuteFunctionCountsCalls exercises the FunctionCalls stat.
func TestExecuteFunctionCountsCalls(t *testing.T) {
	stub := newStub()
	stub.execResult = value.Nil()
	ctx := New(nil, stub, SecurityPermissions{}, ResourceLimits{})

	if _, err := ctx.ExecuteFunction("f", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ctx.Stats().FunctionCalls != 1 {
		t.Fatalf("expected FunctionCalls=1, got %d", ctx.Stats().FunctionCalls)
	}
}

// TestExecuteScriptRejectedWhenNotReady exercises checkReady: a Terminated
// Context refuses new execution with a Reference error (spec §7: calling
// execute_script on a Terminated Context is an integrator bug).
func TestExecuteScriptRejectedWhenNotReady(t *testing.T) {
	stub := newStub()
	ctx := New(nil, stub, SecurityPermissions{}, ResourceLimits{})
	ctx.Destroy()

	_, err := ctx.ExecuteScript("anything")
	if scripterr.CodeOf(err) != scripterr.Reference {
		t.Fatalf("expected Reference, got %v", scripterr.CodeOf(err))
	}
}

// TestPanicRecoveryResetStatePreservesContext exercises scenario S6 through
// the real ExecuteScript call path (not panicwrap's own tests): a host-level
// fault inside the native engine surfaces as Runtime and, under ResetState,
// does not poison the owning state.
func TestPanicRecoveryResetStatePreservesContext(t *testing.T) {
	stub := newStub()
	ctx := New(nil, stub, SecurityPermissions{}, ResourceLimits{})

	poisoned := false
	ctx.SetRecovery(core.RecoveryResetState, func() { poisoned = true })
	stub.execPanic = "native fault"

	_, err := ctx.ExecuteScript("boom")
	if scripterr.CodeOf(err) != scripterr.Runtime {
		t.Fatalf("expected Runtime, got %v", scripterr.CodeOf(err))
	}
	if ctx.State() != Error {
		t.Fatalf("expected Error state after a recovered panic, got %v", ctx.State())
	}
	if poisoned {
		t.Fatal("expected ResetState to leave the state unpoisoned")
	}
}

// TestPanicRecoveryNewStatePoisons exercises scenario S6 under NewState
// through ExecuteFunction: the onPoison hook wired via SetRecovery must run.
func TestPanicRecoveryNewStatePoisons(t *testing.T) {
	stub := newStub()
	ctx := New(nil, stub, SecurityPermissions{}, ResourceLimits{})

	poisoned := false
	ctx.SetRecovery(core.RecoveryNewState, func() { poisoned = true })
	stub.execPanic = "native fault"

	_, err := ctx.ExecuteFunction("f", nil)
	if scripterr.CodeOf(err) != scripterr.Runtime {
		t.Fatalf("expected Runtime, got %v", scripterr.CodeOf(err))
	}
	if !poisoned {
		t.Fatal("expected NewState to invoke onPoison")
	}
}

// TestSetGlobalClonesAcrossBoundary exercises the set_global deep-clone
// decision (open question 1): mutating the Value passed to SetGlobal after
// the call must not affect what the Context holds.
func TestSetGlobalClonesAcrossBoundary(t *testing.T) {
	stub := newStub()
	ctx := New(nil, stub, SecurityPermissions{}, ResourceLimits{})

	obj := value.NewObject()
	obj.SetField("x", value.Int(1))
	if err := ctx.SetGlobal("g", obj); err != nil {
		t.Fatalf("SetGlobal: %v", err)
	}
	obj.SetField("x", value.Int(999))

	got, err := ctx.GetGlobal("g")
	if err != nil {
		t.Fatalf("GetGlobal: %v", err)
	}
	x, _ := got.Field("x")
	if n, _ := x.AsInt(); n != 1 {
		t.Fatalf("expected SetGlobal to clone, got x=%d", n)
	}
}
