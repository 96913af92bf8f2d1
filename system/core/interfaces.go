// Package engine defines the ScriptingEngine contract and the process-wide
// registry that vends engine instances by name or file extension.
package engine

import (
	"context"

	"github.com/zigllms/scriptcore/system/script/scripterr"
	"github.com/zigllms/scriptcore/system/script/value"
)

// SandboxLevel is the coarse security tier composed by Resource Limits &
// Permissions (spec §4.8).
type SandboxLevel string

const (
	SandboxNone       SandboxLevel = "None"
	SandboxRestricted SandboxLevel = "Restricted"
	SandboxStrict     SandboxLevel = "Strict"
)

// PanicRecoveryStrategy selects how the Panic Wrapper responds to a host
// fault raised while running script code.
type PanicRecoveryStrategy string

const (
	RecoveryResetState PanicRecoveryStrategy = "ResetState"
	RecoveryNewState   PanicRecoveryStrategy = "NewState"
	RecoveryPropagate  PanicRecoveryStrategy = "Propagate"
)

// Config is the configuration envelope read at engine or context creation.
type Config struct {
	MaxMemoryBytes        int64
	MaxExecutionTimeMS    int64
	EnableDebugging       bool
	SandboxLevel          SandboxLevel
	EnableSnapshots       bool
	MaxSnapshots          int
	MaxSnapshotSizeBytes  int64
	EnablePanicHandler    bool
	PanicRecoveryStrategy PanicRecoveryStrategy
}

// DefaultConfig returns conservative defaults matching pkg/config's Engine
// defaults.
func DefaultConfig() Config {
	return Config{
		MaxMemoryBytes:        64 * 1024 * 1024,
		MaxExecutionTimeMS:    5000,
		SandboxLevel:          SandboxRestricted,
		EnableSnapshots:       true,
		MaxSnapshots:          16,
		MaxSnapshotSizeBytes:  8 * 1024 * 1024,
		EnablePanicHandler:    true,
		PanicRecoveryStrategy: RecoveryResetState,
	}
}

// Features is the feature vector an engine declares to the Registry.
type Features struct {
	AsyncSupport bool
	Debugging    bool
	Sandboxing   bool
	HotReload    bool
	NativeJSON   bool
	NativeRegex  bool
}

// DebugHooks is the optional debug operation set an engine may support.
type DebugHooks interface {
	SetBreakpoint(file string, line int) error
	RemoveBreakpoint(file string, line int) error
	StackTrace() []scripterr.StackFrame
	Query(path string) (value.Value, error)
}

// ScriptingEngine is the fixed operation set every engine exposes (spec
// §4.3). Implementations are free in how they realize each operation;
// required behaviors (load failures -> Syntax/Module, runtime failures ->
// taxonomy code, script execution routed through the Panic Wrapper) are the
// caller's contract with every engine, not a detail of this interface.
type ScriptingEngine interface {
	// Init prepares the engine for use; Destroy releases all engine-wide
	// resources. CreateContext/DestroyContext manage one execution
	// environment (a ManagedState) at a time.
	Init(ctx context.Context) error
	Destroy(ctx context.Context) error

	CreateContext(ctx context.Context) (EngineContext, error)
	DestroyContext(ctx context.Context, ec EngineContext) error

	// Name, Extensions and DeclaredFeatures describe the engine for the
	// Registry; they must be side-effect free and stable.
	Name() string
	Extensions() []string
	DeclaredFeatures() Features
}

// EngineContext is the engine-side half of a ScriptContext: the raw
// operations the higher-level Context (system/script/context) composes with
// limits, permissions and the panic wrapper.
type EngineContext interface {
	LoadScript(source, name string) error
	LoadFile(path string) error
	ExecuteScript(source string) (value.Value, error)
	ExecuteFunction(name string, args []value.Value) (value.Value, error)

	RegisterModule(name string, functions map[string]func(args []value.Value) (value.Value, error), constants map[string]value.Value) error
	ImportModule(name string) error

	SetGlobal(name string, v value.Value) error
	GetGlobal(name string) (value.Value, error)

	LastError() *scripterr.ScriptError
	ClearErrors()

	CollectGarbage()
	MemoryUsage() int64

	// Debug returns the engine's debug hook set, or nil if unsupported.
	Debug() DebugHooks
}

// Factory constructs a ScriptingEngine. Factories must be side-effect-free
// apart from allocating the engine and must tolerate concurrent calls
// (spec §6, EngineFactory contract).
type Factory func(cfg Config) (ScriptingEngine, error)

// Info is what a Factory registers with the Registry.
type Info struct {
	Name        string
	DisplayName string
	Version     string
	Extensions  []string
	Factory     Factory
	Features    Features
	Description string
}
