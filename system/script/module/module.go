// Package module implements the Module System (spec §4.6): a registry of
// APIBridge providers that get resolved into ScriptModules and wired into a
// Context, grounded on the named-provider registration/dispatch convention
// of ScriptStore/ActionProcessor in system/tee/script_domain.go (there, a
// processor advertises SupportsAction and is invoked by ProcessAction; here,
// a bridge advertises a Name and is resolved by GetModule/Init in
// registration order).
package module

import (
	"fmt"
	"sync"

	scriptcontext "github.com/zigllms/scriptcore/system/script/context"
	core "github.com/zigllms/scriptcore/system/core"
	"github.com/zigllms/scriptcore/system/script/scripterr"
	"github.com/zigllms/scriptcore/system/script/value"
)

// APIBridge supplies one subsystem's native bindings to scripts (spec §6).
type APIBridge interface {
	Name() string
	GetModule() (*scriptcontext.ScriptModule, error)
	Init(eng core.ScriptingEngine, ctx *scriptcontext.Context) error
	Deinit()
}

// Registry holds the bridge catalog in registration order, mirroring
// ScriptStore's CRUD-by-name convention but for in-memory bridge providers.
type Registry struct {
	mu       sync.RWMutex
	bridges  map[string]APIBridge
	order    []string
	cache    map[string]*scriptcontext.ScriptModule
	prefix   string // e.g. "zigllms" for modules named "zigllms.<bridge>"
	autoImport []string
}

// NewRegistry creates an empty bridge registry. prefix is prepended to
// every resolved module name (spec §4.6: "renames them to the configured
// prefix form, e.g. zigllms.<bridge>").
func NewRegistry(prefix string) *Registry {
	return &Registry{
		bridges: make(map[string]APIBridge),
		cache:   make(map[string]*scriptcontext.ScriptModule),
		prefix:  prefix,
	}
}

// Register adds a bridge. Re-registration under the same name replaces it.
func (r *Registry) Register(b APIBridge) error {
	if b.Name() == "" {
		return fmt.Errorf("module registry: bridge name required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.bridges[b.Name()]; !exists {
		r.order = append(r.order, b.Name())
	}
	r.bridges[b.Name()] = b
	delete(r.cache, b.Name())
	return nil
}

// SetAutoImport configures bridges that are imported automatically, applied
// last during Wire (spec §4.6).
func (r *Registry) SetAutoImport(names ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.autoImport = append([]string{}, names...)
}

func (r *Registry) qualifiedName(bridgeName string) string {
	if r.prefix == "" {
		return bridgeName
	}
	return r.prefix + "." + bridgeName
}

// resolve returns the cached module for a bridge, calling GetModule at most
// once per cache lifetime (spec §6, "invokes get_module at most once per
// cache lifetime").
func (r *Registry) resolve(b APIBridge) (*scriptcontext.ScriptModule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.cache[b.Name()]; ok {
		return m, nil
	}
	m, err := b.GetModule()
	if err != nil {
		return nil, err
	}
	m.Name = r.qualifiedName(b.Name())
	r.cache[b.Name()] = m
	return m, nil
}

// Wire iterates bridges in registration order, resolves their module,
// registers it onto ctx, then runs the bridge's native Init, and finally
// applies any configured auto-imports (spec §4.6).
func (r *Registry) Wire(eng core.ScriptingEngine, ctx *scriptcontext.Context) error {
	r.mu.RLock()
	order := append([]string{}, r.order...)
	autoImport := append([]string{}, r.autoImport...)
	r.mu.RUnlock()

	for _, name := range order {
		r.mu.RLock()
		b := r.bridges[name]
		r.mu.RUnlock()

		mod, err := r.resolve(b)
		if err != nil {
			return scripterr.Wrap(scripterr.Module, "resolve module failed: "+name, err)
		}
		if err := ctx.RegisterModule(mod); err != nil {
			return err
		}
		if err := b.Init(eng, ctx); err != nil {
			return scripterr.Wrap(scripterr.Module, "bridge init failed: "+name, err)
		}
	}

	for _, name := range autoImport {
		qualified := r.qualifiedName(name)
		if err := ctx.NativeContext().ImportModule(qualified); err != nil {
			return scripterr.Wrap(scripterr.Module, "auto-import failed: "+qualified, err)
		}
	}
	return nil
}

// Deinit tears down every registered bridge, in reverse registration order.
func (r *Registry) Deinit() {
	r.mu.RLock()
	order := append([]string{}, r.order...)
	r.mu.RUnlock()

	for i := len(order) - 1; i >= 0; i-- {
		r.mu.RLock()
		b := r.bridges[order[i]]
		r.mu.RUnlock()
		b.Deinit()
	}
}

// Names returns registered bridge names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// NativeFunction adapts a Go function into the ScriptModule function-table
// shape expected by Context.RegisterModule.
func NativeFunction(fn func(args []value.Value) (value.Value, error)) func(args []value.Value) (value.Value, error) {
	return fn
}
