// Package jsengine implements the JavaScript ScriptingEngine on goja, the
// pure-Go runtime already used for script isolation in
// system/tee/script_engine.go. One *goja.Runtime backs each EngineContext
// (spec's ManagedState granularity); console/log capture and a small
// builtins preamble are carried over from that file's injection pattern.
package jsengine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dop251/goja"

	"github.com/zigllms/scriptcore/pkg/logger"
	core "github.com/zigllms/scriptcore/system/core"
	"github.com/zigllms/scriptcore/system/script/scripterr"
	"github.com/zigllms/scriptcore/system/script/value"
)

var log = logger.NewDefault("jsengine")

const engineName = "javascript"

// Engine is the goja-backed ScriptingEngine.
type Engine struct {
	mu       sync.Mutex
	contexts map[*jsContext]struct{}
}

// New constructs the JavaScript engine. Matches the core.Factory signature;
// cfg is consulted by each EngineContext at creation time.
func New(cfg core.Config) (core.ScriptingEngine, error) {
	return &Engine{contexts: make(map[*jsContext]struct{})}, nil
}

func (e *Engine) Init(ctx context.Context) error    { return nil }
func (e *Engine) Destroy(ctx context.Context) error { return nil }

func (e *Engine) Name() string         { return engineName }
func (e *Engine) Extensions() []string { return []string{".js", ".mjs"} }
func (e *Engine) DeclaredFeatures() core.Features {
	return core.Features{AsyncSupport: false, Debugging: false, Sandboxing: true, HotReload: true, NativeJSON: true, NativeRegex: true}
}

// CreateContext allocates a fresh *goja.Runtime, one per EngineContext.
func (e *Engine) CreateContext(ctx context.Context) (core.EngineContext, error) {
	rt := goja.New()
	jc := &jsContext{rt: rt, functions: make(map[string]goja.Callable)}

	console := rt.NewObject()
	_ = console.Set("log", func(call goja.FunctionCall) goja.Value {
		args := make([]any, len(call.Arguments))
		for i, a := range call.Arguments {
			args[i] = a.String()
		}
		log.WithField("source", "script").Info(args...)
		return goja.Undefined()
	})
	if err := rt.Set("console", console); err != nil {
		return nil, scripterr.Wrap(scripterr.Runtime, "failed to install console", err)
	}

	if _, err := rt.RunString(builtinPreamble); err != nil {
		return nil, scripterr.Wrap(scripterr.Syntax, "failed to load builtins", err)
	}
	e.mu.Lock()
	e.contexts[jc] = struct{}{}
	e.mu.Unlock()
	return jc, nil
}

func (e *Engine) DestroyContext(ctx context.Context, ec core.EngineContext) error {
	jc, ok := ec.(*jsContext)
	if !ok {
		return scripterr.New(scripterr.Type, "not a jsengine context")
	}
	e.mu.Lock()
	delete(e.contexts, jc)
	e.mu.Unlock()
	jc.rt.Interrupt("destroyed")
	return nil
}

// jsContext is the goja-backed EngineContext.
type jsContext struct {
	mu        sync.Mutex
	rt        *goja.Runtime
	functions map[string]goja.Callable
	lastErr   *scripterr.ScriptError
	allocated int64
}

func (c *jsContext) LoadScript(source, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	prog, err := goja.Compile(name, source, false)
	if err != nil {
		return c.record(scripterr.Wrap(scripterr.Syntax, "compile failed", err).WithLocation(name, 0, 0))
	}
	if _, err := c.rt.RunProgram(prog); err != nil {
		return c.record(translateGojaErr(err))
	}
	return nil
}

func (c *jsContext) LoadFile(path string) error {
	return scripterr.New(scripterr.Module, "LoadFile is not supported by jsengine; load source via LoadScript")
}

func (c *jsContext) ExecuteScript(source string) (value.Value, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, err := c.rt.RunString(source)
	if err != nil {
		se := translateGojaErr(err)
		c.record(se)
		return value.Nil(), se
	}
	return fromGoja(v), nil
}

func (c *jsContext) ExecuteFunction(name string, args []value.Value) (value.Value, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fn, ok := c.functions[name]
	if !ok {
		gv := c.rt.Get(name)
		callable, isFn := goja.AssertFunction(gv)
		if !isFn {
			se := scripterr.New(scripterr.Reference, "no such function: "+name)
			c.record(se)
			return value.Nil(), se
		}
		fn = callable
		c.functions[name] = fn
	}

	gojaArgs := make([]goja.Value, len(args))
	for i, a := range args {
		gojaArgs[i] = toGoja(c.rt, a)
	}
	result, err := fn(goja.Undefined(), gojaArgs...)
	if err != nil {
		se := translateGojaErr(err)
		c.record(se)
		return value.Nil(), se
	}
	return fromGoja(result), nil
}

func (c *jsContext) RegisterModule(name string, functions map[string]func(args []value.Value) (value.Value, error), constants map[string]value.Value) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	mod := c.rt.NewObject()
	for fname, fn := range functions {
		fn := fn
		_ = mod.Set(fname, func(call goja.FunctionCall) goja.Value {
			args := make([]value.Value, len(call.Arguments))
			for i, a := range call.Arguments {
				args[i] = fromGoja(a)
			}
			result, err := fn(args)
			if err != nil {
				panic(c.rt.ToValue(err.Error()))
			}
			return toGoja(c.rt, result)
		})
	}
	for cname, cv := range constants {
		_ = mod.Set(cname, toGoja(c.rt, cv))
	}
	return c.rt.Set(moduleGlobalName(name), mod)
}

func (c *jsContext) ImportModule(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	// Modules are registered directly onto the global object under their
	// qualified name; "import" only checks that this global exists and binds
	// no other name.
	gv := c.rt.Get(moduleGlobalName(name))
	if goja.IsUndefined(gv) {
		return scripterr.New(scripterr.Module, "module not registered: "+name)
	}
	return nil
}

func (c *jsContext) SetGlobal(name string, v value.Value) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rt.Set(name, toGoja(c.rt, v))
}

func (c *jsContext) GetGlobal(name string) (value.Value, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fromGoja(c.rt.Get(name)), nil
}

func (c *jsContext) LastError() *scripterr.ScriptError {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *jsContext) ClearErrors() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastErr = nil
}

func (c *jsContext) CollectGarbage() {
	// goja has no exposed GC hook; allocation accounting is reset instead.
	atomic.StoreInt64(&c.allocated, 0)
}

func (c *jsContext) MemoryUsage() int64 {
	return atomic.LoadInt64(&c.allocated)
}

func (c *jsContext) Debug() core.DebugHooks { return nil }

func (c *jsContext) record(se *scripterr.ScriptError) error {
	c.lastErr = se
	return se
}

func moduleGlobalName(name string) string {
	return "__module_" + sanitize(name)
}

func sanitize(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		if r == '.' || r == '-' {
			out = append(out, '_')
			continue
		}
		out = append(out, r)
	}
	return string(out)
}

// translateGojaErr folds a goja error into the taxonomy: a thrown
// *goja.Exception carries Syntax/Reference/Type/Range distinctions in its
// underlying JS error name; anything else is Runtime.
func translateGojaErr(err error) *scripterr.ScriptError {
	if exc, ok := err.(*goja.Exception); ok {
		return classifyException(exc)
	}
	if _, ok := err.(*goja.CompilerSyntaxError); ok {
		return scripterr.Wrap(scripterr.Syntax, err.Error(), err)
	}
	return scripterr.Wrap(scripterr.Runtime, err.Error(), err)
}

func classifyException(exc *goja.Exception) *scripterr.ScriptError {
	val := exc.Value()
	msg := fmt.Sprintf("%v", val)
	code := scripterr.Runtime
	if obj, ok := val.(*goja.Object); ok {
		switch obj.Get("name").String() {
		case "TypeError":
			code = scripterr.Type
		case "ReferenceError":
			code = scripterr.Reference
		case "RangeError":
			code = scripterr.Range
		case "SyntaxError":
			code = scripterr.Syntax
		}
		if m := obj.Get("message"); m != nil && !goja.IsUndefined(m) {
			msg = m.String()
		}
	}
	return scripterr.Wrap(code, msg, exc)
}

// builtinPreamble mirrors system/tee/script_engine.go's injected utility
// globals, trimmed to what scripts commonly expect; console is installed
// natively above rather than shimmed in JS.
const builtinPreamble = `
var global = this;
`
