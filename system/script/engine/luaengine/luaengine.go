// Package luaengine implements the Lua ScriptingEngine on gopher-lua,
// grounded on the LuaEngine/LStatePool staging in the lexlapax-go-llmspell
// gopherlua engine (pkg/engine/gopherlua/engine.go, engine_execute.go):
// one *lua.LState per EngineContext, SkipOpenLibs honored for sandboxing,
// compiled chunks recorded per script name, execution run through the Panic Wrapper's
// goroutine+context-deadline shell rather than this package's own timer.
package luaengine

import (
	"context"
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"

	core "github.com/zigllms/scriptcore/system/core"
	"github.com/zigllms/scriptcore/system/script/scripterr"
	"github.com/zigllms/scriptcore/system/script/value"
)

const engineName = "lua"

// Engine is the gopher-lua-backed ScriptingEngine.
type Engine struct {
	mu       sync.Mutex
	strict   bool
	contexts map[*luaContext]struct{}
}

// New constructs the Lua engine. Matches core.Factory. SandboxLevel Strict
// skips opening the os/io libraries, matching the SecurityManager's
// SkipOpenLibs behavior in the teacher engine.
func New(cfg core.Config) (core.ScriptingEngine, error) {
	return &Engine{
		strict:   cfg.SandboxLevel == core.SandboxStrict,
		contexts: make(map[*luaContext]struct{}),
	}, nil
}

func (e *Engine) Init(ctx context.Context) error    { return nil }
func (e *Engine) Destroy(ctx context.Context) error { return nil }

func (e *Engine) Name() string         { return engineName }
func (e *Engine) Extensions() []string { return []string{".lua"} }
func (e *Engine) DeclaredFeatures() core.Features {
	return core.Features{AsyncSupport: false, Debugging: false, Sandboxing: true, HotReload: true, NativeJSON: false, NativeRegex: false}
}

// CreateContext allocates a fresh *lua.LState.
func (e *Engine) CreateContext(ctx context.Context) (core.EngineContext, error) {
	opts := lua.Options{SkipOpenLibs: e.strict}
	L := lua.NewState(opts)
	if e.strict {
		// Restricted core only: base, table, string, math. No os/io/debug/load.
		for _, pair := range []struct {
			n string
			f lua.LGFunction
		}{
			{lua.BaseLibName, lua.OpenBase},
			{lua.TabLibName, lua.OpenTable},
			{lua.StringLibName, lua.OpenString},
			{lua.MathLibName, lua.OpenMath},
		} {
			if err := L.CallByParam(lua.P{Fn: L.NewFunction(pair.f), NRet: 0, Protect: true}, lua.LString(pair.n)); err != nil {
				return nil, scripterr.Wrap(scripterr.Permission, "failed to open restricted library "+pair.n, err)
			}
		}
		for _, name := range []string{"load", "loadstring", "dofile", "require"} {
			name := name
			L.SetGlobal(name, L.NewFunction(func(L *lua.LState) int {
				L.RaiseError("%s%s is disabled under strict sandboxing", permissionDeniedPrefix, name)
				return 0
			}))
		}
	}

	lc := &luaContext{L: L, functions: make(map[string]*lua.LFunction), chunks: make(map[string]*lua.LFunction)}
	e.mu.Lock()
	e.contexts[lc] = struct{}{}
	e.mu.Unlock()
	return lc, nil
}

func (e *Engine) DestroyContext(ctx context.Context, ec core.EngineContext) error {
	lc, ok := ec.(*luaContext)
	if !ok {
		return scripterr.New(scripterr.Type, "not a luaengine context")
	}
	e.mu.Lock()
	delete(e.contexts, lc)
	e.mu.Unlock()
	lc.L.Close()
	return nil
}

// luaContext is the gopher-lua-backed EngineContext.
type luaContext struct {
	mu        sync.Mutex
	L         *lua.LState
	functions map[string]*lua.LFunction
	chunks    map[string]*lua.LFunction
	lastErr   *scripterr.ScriptError
}

// LoadScript compiles and runs source, recording the compiled chunk under
// name. Every call compiles its source afresh; a chunk recorded under the
// same name is replaced, never reused.
func (c *luaContext) LoadScript(source, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	fn, err := c.L.LoadString(source)
	if err != nil {
		return c.record(scripterr.Wrap(scripterr.Syntax, "compile failed", err).WithLocation(name, 0, 0))
	}
	c.chunks[name] = fn
	c.L.Push(fn)
	if err := c.L.PCall(0, lua.MultRet, nil); err != nil {
		return c.record(translateLuaErr(err))
	}
	return nil
}

func (c *luaContext) LoadFile(path string) error {
	return scripterr.New(scripterr.Module, "LoadFile is not supported by luaengine; load source via LoadScript")
}

func (c *luaContext) ExecuteScript(source string) (value.Value, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fn, err := c.L.LoadString(source)
	if err != nil {
		se := scripterr.Wrap(scripterr.Syntax, "compile failed", err)
		c.record(se)
		return value.Nil(), se
	}
	c.L.Push(fn)
	top := c.L.GetTop()
	if err := c.L.PCall(0, lua.MultRet, nil); err != nil {
		se := translateLuaErr(err)
		c.record(se)
		return value.Nil(), se
	}
	ret := c.L.GetTop() - top + 1
	if ret <= 0 {
		return value.Nil(), nil
	}
	result := fromLua(c.L.Get(-1))
	c.L.Pop(ret)
	return result, nil
}

func (c *luaContext) ExecuteFunction(name string, args []value.Value) (value.Value, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fn, ok := c.functions[name]
	if !ok {
		gv := c.L.GetGlobal(name)
		fv, isFn := gv.(*lua.LFunction)
		if !isFn {
			se := scripterr.New(scripterr.Reference, "no such function: "+name)
			c.record(se)
			return value.Nil(), se
		}
		fn = fv
		c.functions[name] = fn
	}

	c.L.Push(fn)
	for _, a := range args {
		c.L.Push(toLua(c.L, a))
	}
	top := c.L.GetTop() - len(args) - 1
	if err := c.L.PCall(len(args), lua.MultRet, nil); err != nil {
		se := translateLuaErr(err)
		c.record(se)
		return value.Nil(), se
	}
	ret := c.L.GetTop() - top
	if ret <= 0 {
		return value.Nil(), nil
	}
	result := fromLua(c.L.Get(-1))
	c.L.Pop(ret)
	return result, nil
}

func (c *luaContext) RegisterModule(name string, functions map[string]func(args []value.Value) (value.Value, error), constants map[string]value.Value) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	mod := c.L.NewTable()
	for fname, fn := range functions {
		fn := fn
		c.L.SetField(mod, fname, c.L.NewFunction(func(L *lua.LState) int {
			n := L.GetTop()
			args := make([]value.Value, n)
			for i := 1; i <= n; i++ {
				args[i-1] = fromLua(L.Get(i))
			}
			result, err := fn(args)
			if err != nil {
				L.RaiseError("%s", err.Error())
				return 0
			}
			L.Push(toLua(L, result))
			return 1
		}))
	}
	for cname, cv := range constants {
		c.L.SetField(mod, cname, toLua(c.L, cv))
	}
	c.L.SetGlobal(moduleGlobalName(name), mod)
	return nil
}

func (c *luaContext) ImportModule(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	gv := c.L.GetGlobal(moduleGlobalName(name))
	if gv == lua.LNil {
		return scripterr.New(scripterr.Module, "module not registered: "+name)
	}
	return nil
}

func (c *luaContext) SetGlobal(name string, v value.Value) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.L.SetGlobal(name, toLua(c.L, v))
	return nil
}

func (c *luaContext) GetGlobal(name string) (value.Value, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fromLua(c.L.GetGlobal(name)), nil
}

func (c *luaContext) LastError() *scripterr.ScriptError {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *luaContext) ClearErrors() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastErr = nil
}

func (c *luaContext) CollectGarbage() {
	// gopher-lua runs on the Go heap; its GC is the Go runtime's, which is
	// not directly triggerable per-LState.
}

func (c *luaContext) MemoryUsage() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return 0
}

func (c *luaContext) Debug() core.DebugHooks { return nil }

func (c *luaContext) record(se *scripterr.ScriptError) error {
	c.lastErr = se
	return se
}

func moduleGlobalName(name string) string {
	out := make([]rune, 0, len(name)+2)
	out = append(out, []rune("__module_")...)
	for _, r := range name {
		if r == '.' || r == '-' {
			out = append(out, '_')
			continue
		}
		out = append(out, r)
	}
	return string(out)
}

// permissionDeniedPrefix tags a raised Lua error as a sandbox denial so
// translateLuaErr can map it to Permission instead of the generic Runtime
// that every other lua.ApiErrorRun receives. RaiseError puts the caller's
// source position in front of the message, so the tag is searched for
// anywhere in it.
const permissionDeniedPrefix = "permission denied: "

func translateLuaErr(err error) *scripterr.ScriptError {
	if apiErr, ok := err.(*lua.ApiError); ok {
		msg := apiErr.Error()
		if apiErr.Object != nil {
			if s, ok := apiErr.Object.(lua.LString); ok {
				msg = string(s)
			}
		}
		if strings.Contains(msg, permissionDeniedPrefix) {
			return scripterr.Wrap(scripterr.Permission, msg, err)
		}
		switch apiErr.Type {
		case lua.ApiErrorSyntax:
			return scripterr.Wrap(scripterr.Syntax, msg, err)
		case lua.ApiErrorRun:
			return scripterr.Wrap(scripterr.Runtime, msg, err)
		default:
			return scripterr.Wrap(scripterr.Runtime, msg, err)
		}
	}
	return scripterr.Wrap(scripterr.Runtime, err.Error(), err)
}

