package engine

import (
	"fmt"
	"strings"
	"sync"
)

// Registry is the process-wide engine registry (spec §4.5), grounded on the
// teacher's mutex-guarded map + registration-order slice + typed-accessor
// pattern. It never holds engine instances -- it only vends them via their
// registered Factory.
type Registry struct {
	mu      sync.RWMutex
	engines map[string]Info
	order   []string
	byExt   map[string]string // extension (without dot) -> engine name, first registrant wins
	dflt    string
}

// NewRegistry creates an empty engine registry.
func NewRegistry() *Registry {
	return &Registry{
		engines: make(map[string]Info),
		byExt:   make(map[string]string),
	}
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// Default returns the late-initialized process-wide registry. Engines
// register themselves into it from an init() in their own package (the
// database/sql driver-registration convention); importing
// system/script/engine/jsengine or .../luaengine for side effect is what
// makes them discoverable here.
func Default() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// RegisterEngine makes an engine discoverable under info.Name and each of
// its declared extensions. Re-registering the same name replaces it.
func (r *Registry) RegisterEngine(info Info) error {
	if info.Name == "" {
		return fmt.Errorf("engine registry: name required")
	}
	if info.Factory == nil {
		return fmt.Errorf("engine registry: %q has no factory", info.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.engines[info.Name]; !exists {
		r.order = append(r.order, info.Name)
	}
	r.engines[info.Name] = info

	for _, ext := range info.Extensions {
		ext = strings.TrimPrefix(strings.ToLower(ext), ".")
		if _, taken := r.byExt[ext]; !taken {
			r.byExt[ext] = info.Name
		}
	}
	if r.dflt == "" {
		r.dflt = info.Name
	}
	return nil
}

// Unregister removes a previously registered engine.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.engines[name]; !exists {
		return fmt.Errorf("engine registry: %q not registered", name)
	}
	delete(r.engines, name)
	newOrder := make([]string, 0, len(r.order))
	for _, n := range r.order {
		if n != name {
			newOrder = append(newOrder, n)
		}
	}
	r.order = newOrder
	for ext, n := range r.byExt {
		if n == name {
			delete(r.byExt, ext)
		}
	}
	if r.dflt == name {
		r.dflt = ""
		if len(r.order) > 0 {
			r.dflt = r.order[0]
		}
	}
	return nil
}

// Lookup returns the Info for a registered engine name.
func (r *Registry) Lookup(name string) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.engines[name]
	return info, ok
}

// Names returns registered engine names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// SetDefault designates the engine used by CreateDefault.
func (r *Registry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.engines[name]; !ok {
		return fmt.Errorf("engine registry: %q not registered", name)
	}
	r.dflt = name
	return nil
}

// CreateEngine invokes the named engine's factory.
func (r *Registry) CreateEngine(name string, cfg Config) (ScriptingEngine, error) {
	r.mu.RLock()
	info, ok := r.engines[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("engine registry: %q not registered", name)
	}
	return info.Factory(cfg)
}

// CreateByExtension dispatches to the first engine registered for ext
// (without a leading dot; case-insensitive).
func (r *Registry) CreateByExtension(ext string, cfg Config) (ScriptingEngine, error) {
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	r.mu.RLock()
	name, ok := r.byExt[ext]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("engine registry: no engine registered for extension %q", ext)
	}
	return r.CreateEngine(name, cfg)
}

// CreateDefault creates an instance of the designated default engine.
func (r *Registry) CreateDefault(cfg Config) (ScriptingEngine, error) {
	r.mu.RLock()
	name := r.dflt
	r.mu.RUnlock()
	if name == "" {
		return nil, fmt.Errorf("engine registry: no default engine set")
	}
	return r.CreateEngine(name, cfg)
}
