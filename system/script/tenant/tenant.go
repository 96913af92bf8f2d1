// Package tenant implements Isolation (Multi-Tenant) (spec §4.11): each
// Tenant owns one isolated ManagedState with its own limits, allow-lists,
// and breach detection, re-expressed from the Android-style capability/
// policy/auditor model in system/sandbox/sandbox.go (ServiceIdentity,
// SecurityLevel, CapabilitySet, SecurityPolicy/PolicyRule default-deny
// evaluator, SecurityAuditor ring buffer) over script tenants instead of
// service identities.
package tenant

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/zigllms/scriptcore/pkg/metrics"
	scriptcontext "github.com/zigllms/scriptcore/system/script/context"
	"github.com/zigllms/scriptcore/system/script/scripterr"
)

// Limits mirrors the spec's TenantLimits record.
type Limits struct {
	MemoryBytes        int64
	CPUInstructionQuota int64
	FunctionCallQuota   int64
	MaxStackSize        int
	AllowedModules      []string
	DeniedGlobals       []string
	AllowBytecodeLoading bool // false by default
}

// Status is a Tenant's lifecycle state.
type Status int

const (
	StatusActive Status = iota
	StatusTerminated
)

// Tenant is one isolated consumer: a policy-governed wrapper around exactly
// one ScriptContext/ManagedState.
type Tenant struct {
	mu sync.Mutex

	ID     string
	Limits Limits
	Status Status

	ctx *scriptcontext.Context

	instructionBucket *rate.Limiter
	callBucket        *rate.Limiter

	functionCalls int64
}

// NewID generates a tenant identifier for callers that don't assign their
// own (e.g. an anonymous/ephemeral tenant created per request).
func NewID() string {
	return uuid.NewString()
}

// New creates a Tenant bound to ctx, with token buckets sized from the
// configured quotas (spec §4.8/§4.11: instruction/call quotas enforced with
// golang.org/x/time/rate rather than per-opcode counting).
func New(id string, limits Limits, ctx *scriptcontext.Context) *Tenant {
	t := &Tenant{ID: id, Limits: limits, ctx: ctx, Status: StatusActive}
	if limits.CPUInstructionQuota > 0 {
		t.instructionBucket = rate.NewLimiter(rate.Limit(limits.CPUInstructionQuota), int(limits.CPUInstructionQuota))
	}
	if limits.FunctionCallQuota > 0 {
		t.callBucket = rate.NewLimiter(rate.Limit(limits.FunctionCallQuota), int(limits.FunctionCallQuota))
	}
	return t
}

func isAllowedModule(allowed []string, name string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == name {
			return true
		}
	}
	return false
}

// CheckModuleAccess evaluates a default-deny policy equivalent to
// SecurityPolicy.Evaluate: access is allowed only if the module is in the
// tenant's allow-list.
func (t *Tenant) CheckModuleAccess(module string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Status != StatusActive {
		return scripterr.New(scripterr.Reference, "tenant terminated")
	}
	if !isAllowedModule(t.Limits.AllowedModules, module) {
		return scripterr.New(scripterr.Permission, fmt.Sprintf("module %q not allowed for tenant %s", module, t.ID))
	}
	return nil
}

// CheckGlobalAccess denies access to any global in the tenant's deny-list.
func (t *Tenant) CheckGlobalAccess(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, denied := range t.Limits.DeniedGlobals {
		if denied == name {
			return scripterr.New(scripterr.Permission, fmt.Sprintf("global %q is denied for tenant %s", name, t.ID))
		}
	}
	return nil
}

// ReserveInstructions consumes n instruction-quota tokens, raising Timeout
// when the tenant's CPU instruction quota is exhausted.
func (t *Tenant) ReserveInstructions(n int) error {
	if t.instructionBucket == nil {
		return nil
	}
	if !t.instructionBucket.AllowN(time.Now(), n) {
		t.breach("instruction_quota")
		return t.terminate(scripterr.New(scripterr.Timeout, "instruction quota exhausted"))
	}
	return nil
}

// ReserveCall consumes one function-call-quota token.
func (t *Tenant) ReserveCall() error {
	t.mu.Lock()
	t.functionCalls++
	quota := t.Limits.FunctionCallQuota
	calls := t.functionCalls
	t.mu.Unlock()

	if t.callBucket == nil {
		return nil
	}
	if !t.callBucket.Allow() {
		t.breach("function_call_quota")
		return t.terminate(scripterr.New(scripterr.Timeout, "function call quota exhausted"))
	}
	if quota > 0 && calls > quota {
		t.breach("function_call_quota")
		return t.terminate(scripterr.New(scripterr.Timeout, "function call quota exhausted"))
	}
	return nil
}

// CheckMemory raises Memory and terminates the tenant if usedBytes exceeds
// the tenant's memory_bytes cap (testable invariant 6).
func (t *Tenant) CheckMemory(usedBytes int64) error {
	if t.Limits.MemoryBytes > 0 && usedBytes > t.Limits.MemoryBytes {
		t.breach("memory_cap")
		return t.terminate(scripterr.New(scripterr.Memory, "tenant memory cap exceeded"))
	}
	return nil
}

func (t *Tenant) breach(kind string) {
	metrics.RecordTenantBreach(t.ID, kind)
}

func (t *Tenant) terminate(cause *scripterr.ScriptError) error {
	t.mu.Lock()
	t.Status = StatusTerminated
	t.mu.Unlock()
	return cause
}

// VerifySandboxIntegrity re-validates that the tenant's environment root is
// intact: none of the tenant's DeniedGlobals is bound; other bindings are
// not inspected. A breach terminates the tenant with Permission and is
// recorded via the bounded audit ring buffer (Manager.audit), mirroring
// SecurityAuditor.
func (m *Manager) VerifySandboxIntegrity(t *Tenant) error {
	globals := t.ctx.Globals()
	for _, denied := range t.Limits.DeniedGlobals {
		if _, present := globals[denied]; present {
			m.auditBreach(t.ID, "sandbox_integrity", denied)
			return t.terminate(scripterr.New(scripterr.Permission, fmt.Sprintf("restored dangerous global %q detected", denied)))
		}
	}
	return nil
}

// Context returns the tenant's bound ScriptContext.
func (t *Tenant) Context() *scriptcontext.Context { return t.ctx }

// breachEvent mirrors sandbox.AuditEvent, scoped to tenant breaches.
type breachEvent struct {
	Timestamp time.Time
	TenantID  string
	Kind      string
	Detail    string
}

// Manager owns one Tenant per consumer and a bounded breach audit log,
// grounded on SecurityAuditor's fixed-capacity ring buffer.
type Manager struct {
	mu      sync.RWMutex
	tenants map[string]*Tenant

	auditMu sync.Mutex
	audit   []breachEvent
	maxLen  int
}

// NewManager creates an empty TenantManager with an audit ring buffer sized
// maxAuditEvents.
func NewManager(maxAuditEvents int) *Manager {
	if maxAuditEvents <= 0 {
		maxAuditEvents = 256
	}
	return &Manager{
		tenants: make(map[string]*Tenant),
		audit:   make([]breachEvent, 0, maxAuditEvents),
		maxLen:  maxAuditEvents,
	}
}

// Register adds a Tenant, one ManagedState per tenant per spec §3.
func (m *Manager) Register(t *Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.tenants[t.ID]; exists {
		return fmt.Errorf("tenant: %q already registered", t.ID)
	}
	m.tenants[t.ID] = t
	return nil
}

// Get returns a registered Tenant by id.
func (m *Manager) Get(id string) (*Tenant, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tenants[id]
	return t, ok
}

// Remove unregisters a tenant.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tenants, id)
}

func (m *Manager) auditBreach(tenantID, kind, detail string) {
	m.auditMu.Lock()
	defer m.auditMu.Unlock()
	if len(m.audit) >= m.maxLen {
		m.audit = m.audit[1:]
	}
	m.audit = append(m.audit, breachEvent{Timestamp: time.Now(), TenantID: tenantID, Kind: kind, Detail: detail})
	metrics.RecordTenantBreach(tenantID, kind)
}

// AuditEvents returns up to limit most-recent breach events (0 = all).
func (m *Manager) AuditEvents(limit int) []breachEvent {
	m.auditMu.Lock()
	defer m.auditMu.Unlock()
	if limit <= 0 || limit > len(m.audit) {
		limit = len(m.audit)
	}
	start := len(m.audit) - limit
	out := make([]breachEvent, limit)
	copy(out, m.audit[start:])
	return out
}
