// Package context implements ScriptContext, the per-script execution
// environment (spec §4.4). Its resource-access shape -- a struct gathering
// permissions, limits and named services behind a mutex -- is grounded on
// the ServiceContext/BaseContext pattern in system/framework/context.go;
// its permission model is grounded on the protection-level permission
// records in system/framework/permission.go, re-expressed over script
// capabilities instead of Android-style service permissions.
package context

import (
	stdcontext "context"
	"sync"
	"time"

	core "github.com/zigllms/scriptcore/system/core"
	"github.com/zigllms/scriptcore/system/script/panicwrap"
	"github.com/zigllms/scriptcore/system/script/scripterr"
	"github.com/zigllms/scriptcore/system/script/value"
)

// State is the ScriptContext lifecycle state.
type State int

const (
	Ready State = iota
	Executing
	Suspended
	Error
	Terminated
)

func (s State) String() string {
	switch s {
	case Ready:
		return "Ready"
	case Executing:
		return "Executing"
	case Suspended:
		return "Suspended"
	case Error:
		return "Error"
	case Terminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// SecurityPermissions is the per-Context capability set enforced before
// each script execution (spec §4.8).
type SecurityPermissions struct {
	AllowFileRead     bool
	AllowFileWrite    bool
	AllowProcessExec  bool
	AllowNetwork      bool
	AllowEnv          bool
	AllowNativeModule bool
	AllowedModules    map[string]bool // nil means "all modules allowed"
	MaxStackDepth     int
}

// ForSandboxLevel composes a SecurityPermissions bundle for a sandbox tier,
// per spec §4.8: None allows everything, Restricted denies filesystem/
// process/network/bytecode, Strict additionally shadows the global
// environment (enforced by the Context, not by this struct alone).
func ForSandboxLevel(level core.SandboxLevel) SecurityPermissions {
	switch level {
	case core.SandboxNone:
		return SecurityPermissions{
			AllowFileRead: true, AllowFileWrite: true, AllowProcessExec: true,
			AllowNetwork: true, AllowEnv: true, AllowNativeModule: true,
			MaxStackDepth: 1024,
		}
	case core.SandboxStrict:
		return SecurityPermissions{MaxStackDepth: 128}
	default: // Restricted
		return SecurityPermissions{AllowEnv: false, MaxStackDepth: 256}
	}
}

// ResourceLimits bounds a Context's resource consumption (spec §4.8).
type ResourceLimits struct {
	MaxMemoryBytes     int64
	MaxExecutionTime   time.Duration
	MaxAllocations     int64
	MaxOutputSizeBytes int64
}

// ExecutionStats accumulates monotonic usage counters. MemoryAllocated
// tracks the current figure; PeakMemory tracks the high-water mark
// separately, per the spec's "stats are monotonic except memory_allocated"
// invariant.
type ExecutionStats struct {
	CumulativeTime   time.Duration
	MemoryAllocated  int64
	PeakMemory       int64
	AllocationCount  int64
	GCCount          int64
	FunctionCalls    int64
}

func (s *ExecutionStats) recordMemory(bytes int64) {
	s.MemoryAllocated = bytes
	if bytes > s.PeakMemory {
		s.PeakMemory = bytes
	}
}

// ScriptModule mirrors the host-facing module descriptor registered into a
// Context (spec §3), re-exported here to avoid a dependency on the module
// package from EngineContext implementations.
type ScriptModule struct {
	Name        string
	Functions   map[string]func(args []value.Value) (value.Value, error)
	Constants   map[string]value.Value
	Version     string
	Description string
}

// ScriptFunction is a non-owning handle into the engine's function cache.
type ScriptFunction struct {
	Name string
	ctx  *Context
}

// Call invokes the underlying engine function with the given arguments.
func (f *ScriptFunction) Call(args []value.Value) (value.Value, error) {
	return f.ctx.ExecuteFunction(f.Name, args)
}

// Context is one execution environment: an engine-native state handle plus
// everything needed to enforce limits and permissions around it.
type Context struct {
	mu sync.Mutex

	engine core.ScriptingEngine
	native core.EngineContext

	permissions SecurityPermissions
	limits      ResourceLimits
	stats       ExecutionStats

	modules       map[string]*ScriptModule
	globals       map[string]value.Value
	functionCache map[string]*ScriptFunction

	lastError *scripterr.ScriptError
	state     State
	createdAt time.Time

	strategy core.PanicRecoveryStrategy
	onPoison func()
}

// New wraps an already-created engine-native state into a ready Context.
// The Panic Wrapper's recovery strategy defaults to ResetState (spec
// DefaultConfig); call SetRecovery to wire a poison callback into the
// owning ManagedState/Pool.
func New(eng core.ScriptingEngine, native core.EngineContext, perms SecurityPermissions, limits ResourceLimits) *Context {
	return &Context{
		engine:        eng,
		native:        native,
		permissions:   perms,
		limits:        limits,
		modules:       make(map[string]*ScriptModule),
		globals:       make(map[string]value.Value),
		functionCache: make(map[string]*ScriptFunction),
		state:         Ready,
		createdAt:     time.Now(),
		strategy:      core.RecoveryResetState,
	}
}

// SetRecovery wires the Panic Wrapper's recovery strategy and poison hook
// (spec §4.10) used by every ExecuteScript/ExecuteFunction call. onPoison is
// invoked when the owning ManagedState must be discarded instead of reused
// -- the caller typically wires this to pool.ManagedState.Poison.
func (c *Context) SetRecovery(strategy core.PanicRecoveryStrategy, onPoison func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.strategy = strategy
	c.onPoison = onPoison
}

// runProtected runs fn under the Panic Wrapper (spec §4.10), enforcing the
// Context's configured execution timeout and dispatching the configured
// recovery strategy on a host-language fault. Called with c.mu held, so the
// reset callback touches c.native directly rather than re-locking.
func (c *Context) runProtected(fn func() (value.Value, error)) (value.Value, error) {
	reset := func() bool {
		c.native.ClearErrors()
		c.native.CollectGarbage()
		return true
	}
	return panicwrap.Run(stdcontext.Background(), c.limits.MaxExecutionTime, c.strategy, reset, c.onPoison, fn)
}

// State returns the current lifecycle state.
func (c *Context) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stats returns a copy of the current execution statistics.
func (c *Context) Stats() ExecutionStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// LastError returns the last error recorded, or nil. Per invariant 4,
// non-nil iff State() == Error.
func (c *Context) LastError() *scripterr.ScriptError {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}

// ClearErrors drops the last error and returns the Context to Ready.
func (c *Context) ClearErrors() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastError = nil
	if c.state == Error {
		c.state = Ready
	}
	c.native.ClearErrors()
}

func (c *Context) fail(err *scripterr.ScriptError) *scripterr.ScriptError {
	c.lastError = err
	c.state = Error
	return err
}

// checkReady enforces that only Ready or Suspended Contexts accept new
// execution (spec §3 ScriptContext invariants).
func (c *Context) checkReady() *scripterr.ScriptError {
	switch c.state {
	case Ready, Suspended:
		return nil
	case Terminated:
		return scripterr.New(scripterr.Reference, "context is terminated")
	case Error:
		return scripterr.New(scripterr.Reference, "context is in error state; call ClearErrors first")
	default:
		return scripterr.New(scripterr.Reference, "context is not ready")
	}
}

// enforceLimits is the checkpoint run on entry to every execution
// operation (spec §4.8). It is deliberately conservative: a caller with
// zero limits configured (unlimited) always passes.
func (c *Context) enforceLimits() *scripterr.ScriptError {
	if c.limits.MaxMemoryBytes > 0 && c.stats.MemoryAllocated > c.limits.MaxMemoryBytes {
		return scripterr.New(scripterr.Memory, "memory limit exceeded")
	}
	if c.limits.MaxAllocations > 0 && c.stats.AllocationCount > c.limits.MaxAllocations {
		return scripterr.New(scripterr.Memory, "allocation count limit exceeded")
	}
	return nil
}

// ExecuteScript runs source through the engine-native state, enforcing
// limits on entry and updating stats on completion.
func (c *Context) ExecuteScript(source string) (value.Value, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkReady(); err != nil {
		return value.Nil(), err
	}
	if err := c.enforceLimits(); err != nil {
		return value.Nil(), c.fail(err)
	}

	c.state = Executing
	start := time.Now()
	result, err := c.runProtected(func() (value.Value, error) {
		return c.native.ExecuteScript(source)
	})
	c.stats.CumulativeTime += time.Since(start)
	c.stats.recordMemory(c.native.MemoryUsage())

	if err != nil {
		se, ok := scripterr.As(err)
		if !ok {
			se = scripterr.Wrap(scripterr.Runtime, err.Error(), err)
		}
		return value.Nil(), c.fail(se)
	}
	c.state = Ready
	return result, nil
}

// ExecuteFunction invokes a named function already visible to the engine
// state, tracking the FunctionCalls stat.
func (c *Context) ExecuteFunction(name string, args []value.Value) (value.Value, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkReady(); err != nil {
		return value.Nil(), err
	}
	if err := c.enforceLimits(); err != nil {
		return value.Nil(), c.fail(err)
	}

	c.state = Executing
	start := time.Now()
	result, err := c.runProtected(func() (value.Value, error) {
		return c.native.ExecuteFunction(name, args)
	})
	c.stats.CumulativeTime += time.Since(start)
	c.stats.FunctionCalls++
	c.stats.recordMemory(c.native.MemoryUsage())

	if err != nil {
		se, ok := scripterr.As(err)
		if !ok {
			se = scripterr.Wrap(scripterr.Runtime, err.Error(), err)
		}
		return value.Nil(), c.fail(se)
	}
	c.state = Ready
	return result, nil
}

// SetGlobal deep-clones v across the host/script boundary before handing it
// to the engine, so the engine and host never alias the same container
// (spec §4.4, resolves the set_global open question in favor of clone).
func (c *Context) SetGlobal(name string, v value.Value) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cloned := v.Clone()
	if err := c.native.SetGlobal(name, cloned); err != nil {
		se, ok := scripterr.As(err)
		if !ok {
			se = scripterr.Wrap(scripterr.Runtime, err.Error(), err)
		}
		return c.fail(se)
	}
	c.globals[name] = cloned
	return nil
}

// GetGlobal returns a clone of the named global.
func (c *Context) GetGlobal(name string) (value.Value, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, err := c.native.GetGlobal(name)
	if err != nil {
		se, ok := scripterr.As(err)
		if !ok {
			se = scripterr.Wrap(scripterr.Runtime, err.Error(), err)
		}
		return value.Nil(), c.fail(se)
	}
	return v.Clone(), nil
}

// Globals returns a snapshot of every global this Context has set through
// SetGlobal. Used by the Snapshot component (spec §4.12).
func (c *Context) Globals() map[string]value.Value {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]value.Value, len(c.globals))
	for k, v := range c.globals {
		out[k] = v.Clone()
	}
	return out
}

// RegisterModule registers a module if its name is allowed by the
// SecurityPermissions allow-list (spec §4.4).
func (c *Context) RegisterModule(m *ScriptModule) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.permissions.AllowedModules != nil && !c.permissions.AllowedModules[m.Name] {
		return c.fail(scripterr.New(scripterr.Permission, "module not allowed: "+m.Name))
	}
	if err := c.native.RegisterModule(m.Name, m.Functions, m.Constants); err != nil {
		se, ok := scripterr.As(err)
		if !ok {
			se = scripterr.Wrap(scripterr.Module, err.Error(), err)
		}
		return c.fail(se)
	}
	c.modules[m.Name] = m
	return nil
}

// Modules returns the registered module names.
func (c *Context) Modules() map[string]*ScriptModule {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]*ScriptModule, len(c.modules))
	for k, v := range c.modules {
		out[k] = v
	}
	return out
}

// Function returns a cached ScriptFunction handle for name, creating one on
// first access.
func (c *Context) Function(name string) *ScriptFunction {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f, ok := c.functionCache[name]; ok {
		return f
	}
	f := &ScriptFunction{Name: name, ctx: c}
	c.functionCache[name] = f
	return f
}

// Permissions returns the Context's current SecurityPermissions.
func (c *Context) Permissions() SecurityPermissions {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.permissions
}

// Limits returns the Context's current ResourceLimits.
func (c *Context) Limits() ResourceLimits {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.limits
}

// NativeContext exposes the underlying engine context for components
// (Pool, Snapshot) that must reach past this wrapper.
func (c *Context) NativeContext() core.EngineContext {
	return c.native
}

// Engine returns the owning engine.
func (c *Context) Engine() core.ScriptingEngine {
	return c.engine
}

// CreatedAt returns the Context's creation timestamp.
func (c *Context) CreatedAt() time.Time {
	return c.createdAt
}

// Destroy releases the function cache, clears globals and the last error,
// and marks the Context Terminated. It does not destroy the underlying
// ManagedState; that is the Pool's responsibility (spec §4.4).
func (c *Context) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.functionCache = make(map[string]*ScriptFunction)
	c.globals = make(map[string]value.Value)
	c.lastError = nil
	c.state = Terminated
}
