// Package pool implements the State Pool & Lifecycle component (spec §4.9):
// a LIFO pool of ManagedStates with scheduled warmup/reaping, grounded on
// the acquire/release/abandon staging of the ExecutionPipeline in the
// lexlapax-go-llmspell fragments (pkg/engine/gopherlua/engine_execute.go) --
// acquireState/releaseState there map to Acquire/Release here, and its
// timeout-driven "state not returned to the pool" abandon path maps to
// Poison/retire below.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/shirou/gopsutil/v3/process"
	"github.com/zigllms/scriptcore/pkg/metrics"
	core "github.com/zigllms/scriptcore/system/core"
)

// LifecycleStage is the ManagedState progression (spec §3).
type LifecycleStage int

const (
	Uninit LifecycleStage = iota
	Created
	Configured
	Active
	Suspended
	Cleanup
	Destroyed
)

// ManagedState wraps one hosting of an engine-native interpreter state.
type ManagedState struct {
	mu sync.Mutex

	ID     string
	Native core.EngineContext
	Stage  LifecycleStage

	CreatedAt    time.Time
	LastUsedAt   time.Time
	UseCount     int64
	ErrorCount   int64
	GCCollections int64
	PeakMemory   int64

	IsolationLevel string
	poisoned       bool
}

func (s *ManagedState) markError() {
	s.mu.Lock()
	s.ErrorCount++
	s.mu.Unlock()
}

// Poison marks a state as unfit for reuse; the next release retires it
// instead of returning it to the available queue (mirrors the
// ExecutionPipeline's abandon-on-timeout behavior).
func (s *ManagedState) Poison() {
	s.mu.Lock()
	s.poisoned = true
	s.mu.Unlock()
}

// Config controls StatePool sizing and recycling policy.
type Config struct {
	Min           int
	Max           int
	MaxAge        time.Duration
	MaxUses       int64
	IdleTimeout   time.Duration
	WarmupEnabled bool
	SweepInterval string // cron expression, e.g. "@every 10s"

	// RetireErrorThreshold is the ErrorCount at which Release retires a
	// state. Zero or less selects the conservative default of 1
	// (error_count > 0); a higher value relaxes it.
	RetireErrorThreshold int64

	// SoftMemoryCapBytes bounds the health-check RSS sample; 0 disables it.
	SoftMemoryCapBytes int64
}

// Factory creates a new ManagedState (Uninit -> Configured) on demand.
type Factory func(ctx context.Context) (*ManagedState, error)

// Pool is a LIFO pool of ManagedStates for one engine.
type Pool struct {
	mu        sync.Mutex
	cfg       Config
	engineTag string
	factory   Factory

	available []*ManagedState
	inUse     map[*ManagedState]struct{}

	teardown func(*ManagedState)

	createdTotal   int64
	destroyedTotal int64
	recycledTotal  int64

	cronSched *cron.Cron
	entryID   cron.EntryID
}

// New constructs a Pool with no engine-level teardown hook: retired states
// are dropped without releasing their engine-native resources. Prefer
// NewWithTeardown when the factory's ManagedStates hold a real
// core.EngineContext that must be torn down via the owning engine's
// DestroyContext.
func New(engineTag string, cfg Config, factory Factory) *Pool {
	return NewWithTeardown(engineTag, cfg, factory, nil)
}

// NewWithTeardown is New plus a teardown hook invoked on every retired or
// poisoned ManagedState before it is marked Destroyed, so the owning engine
// can release its native interpreter state (spec §3: "once Destroyed no
// further operation may be attempted" implies Destroyed must actually tear
// the native state down, not just relabel it).
func NewWithTeardown(engineTag string, cfg Config, factory Factory, teardown func(*ManagedState)) *Pool {
	if cfg.RetireErrorThreshold <= 0 {
		cfg.RetireErrorThreshold = 1 // spec's chosen default: error_count > 0
	}
	return &Pool{
		cfg:       cfg,
		engineTag: engineTag,
		factory:   factory,
		teardown:  teardown,
		inUse:     make(map[*ManagedState]struct{}),
	}
}

// StartWarmer schedules the background warmer/reaper sweep with
// robfig/cron, topping the pool up to cfg.Min states (idle and checked-out
// states both count) and destroying idle states older than cfg.IdleTimeout.
func (p *Pool) StartWarmer(ctx context.Context) error {
	if !p.cfg.WarmupEnabled || p.cfg.SweepInterval == "" {
		return nil
	}
	p.mu.Lock()
	if p.cronSched != nil {
		p.mu.Unlock()
		return nil
	}
	sched := cron.New()
	id, err := sched.AddFunc(p.cfg.SweepInterval, func() { p.sweep(ctx) })
	if err != nil {
		p.mu.Unlock()
		return fmt.Errorf("pool: invalid sweep interval %q: %w", p.cfg.SweepInterval, err)
	}
	p.cronSched = sched
	p.entryID = id
	p.mu.Unlock()
	sched.Start()
	return nil
}

// StopWarmer stops the background scheduler, if running.
func (p *Pool) StopWarmer() {
	p.mu.Lock()
	sched := p.cronSched
	p.cronSched = nil
	p.mu.Unlock()
	if sched != nil {
		sched.Stop()
	}
}

func (p *Pool) sweep(ctx context.Context) {
	p.mu.Lock()
	now := time.Now()
	kept := p.available[:0]
	for _, s := range p.available {
		if p.cfg.IdleTimeout > 0 && now.Sub(s.LastUsedAt) > p.cfg.IdleTimeout {
			p.destroyLocked(s, "idle_timeout")
			continue
		}
		kept = append(kept, s)
	}
	p.available = kept
	deficit := p.cfg.Min - len(p.available) - len(p.inUse)
	p.mu.Unlock()

	for i := 0; i < deficit; i++ {
		s, err := p.factory(ctx)
		if err != nil {
			return
		}
		s.Stage = Configured
		p.mu.Lock()
		p.available = append(p.available, s)
		p.createdTotal++
		p.mu.Unlock()
		metrics.RecordPoolCreated(p.engineTag)
	}
	p.reportOccupancy()
}

// Acquire pops an available state (LIFO) and health-checks it, or creates a
// new one if under cfg.Max and none are idle. A popped state is not reset:
// its globals and last error carry over from its previous checkout.
func (p *Pool) Acquire(ctx context.Context) (*ManagedState, error) {
	p.mu.Lock()
	if n := len(p.available); n > 0 {
		s := p.available[n-1]
		p.available = p.available[:n-1]
		p.mu.Unlock()

		if !p.healthy(s) {
			p.mu.Lock()
			p.destroyLocked(s, "health_check_failed")
			p.mu.Unlock()
			return p.createAndTrack(ctx)
		}
		s.Stage = Active
		s.LastUsedAt = time.Now()
		p.mu.Lock()
		p.inUse[s] = struct{}{}
		p.mu.Unlock()
		p.reportOccupancy()
		return s, nil
	}

	if len(p.inUse)+len(p.available) >= p.cfg.Max && p.cfg.Max > 0 {
		p.mu.Unlock()
		return nil, fmt.Errorf("pool: max states (%d) in use", p.cfg.Max)
	}
	p.mu.Unlock()
	return p.createAndTrack(ctx)
}

func (p *Pool) createAndTrack(ctx context.Context) (*ManagedState, error) {
	s, err := p.factory(ctx)
	if err != nil {
		return nil, err
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	s.Stage = Active
	s.CreatedAt = time.Now()
	s.LastUsedAt = s.CreatedAt
	p.mu.Lock()
	p.inUse[s] = struct{}{}
	p.createdTotal++
	p.mu.Unlock()
	metrics.RecordPoolCreated(p.engineTag)
	p.reportOccupancy()
	return s, nil
}

// Release returns s to the pool, retiring it first if it has aged out, been
// overused, accumulated errors past the retire threshold, poisoned by a
// panic (spec §4.10), or failed its health check.
func (p *Pool) Release(s *ManagedState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inUse, s)

	s.mu.Lock()
	poisoned := s.poisoned
	s.mu.Unlock()

	reason := p.retireReason(s, poisoned)
	if reason != "" {
		p.destroyLocked(s, reason)
		p.reportOccupancyLocked()
		return
	}
	s.Stage = Configured
	p.available = append(p.available, s)
	p.reportOccupancyLocked()
}

func (p *Pool) retireReason(s *ManagedState, poisoned bool) string {
	if poisoned {
		return "poisoned"
	}
	if p.cfg.MaxAge > 0 && time.Since(s.CreatedAt) >= p.cfg.MaxAge {
		return "max_age"
	}
	if p.cfg.MaxUses > 0 && s.UseCount >= int64(p.cfg.MaxUses) {
		return "max_uses"
	}
	if s.ErrorCount >= p.cfg.RetireErrorThreshold {
		return "error_count"
	}
	if !p.healthy(s) {
		return "health_check_failed"
	}
	return ""
}

// healthy samples process RSS via gopsutil as a coarse upper bound
// alongside the engine's own reported memory usage (spec §4.9).
func (p *Pool) healthy(s *ManagedState) bool {
	if p.cfg.SoftMemoryCapBytes <= 0 {
		return true
	}
	if s.Native != nil && s.Native.MemoryUsage() > p.cfg.SoftMemoryCapBytes {
		return false
	}
	proc, err := process.NewProcess(int32(currentPID()))
	if err != nil {
		return true // sampling failure never blocks reuse
	}
	memInfo, err := proc.MemoryInfo()
	if err != nil || memInfo == nil {
		return true
	}
	return int64(memInfo.RSS) <= p.cfg.SoftMemoryCapBytes
}

func (p *Pool) destroyLocked(s *ManagedState, reason string) {
	s.Stage = Cleanup
	if p.teardown != nil && s.Native != nil {
		p.teardown(s)
	}
	s.Stage = Destroyed
	p.destroyedTotal++
	p.recycledTotal++
	metrics.RecordPoolRecycled(p.engineTag, reason)
}

func (p *Pool) reportOccupancy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reportOccupancyLocked()
}

func (p *Pool) reportOccupancyLocked() {
	metrics.SetPoolOccupancy(p.engineTag, len(p.available), len(p.inUse))
}

// Stats returns created/recycled totals and current available/in-use
// counts, satisfying invariant 5: available+in_use <= max at every
// observable instant, and created_total - destroyed_total == available+in_use.
func (p *Pool) Stats() (available, inUse int, createdTotal, recycledTotal int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.available), len(p.inUse), p.createdTotal, p.recycledTotal
}

// WithScoped runs fn with an acquired state, guaranteeing Release runs on
// every exit path (success, error, or panic) -- the scoped-acquire pattern
// required by spec §4.9.
func (p *Pool) WithScoped(ctx context.Context, fn func(*ManagedState) error) (err error) {
	s, acqErr := p.Acquire(ctx)
	if acqErr != nil {
		return acqErr
	}
	defer func() {
		if r := recover(); r != nil {
			s.markError()
			s.Poison()
			p.Release(s)
			panic(r)
		}
		s.UseCount++
		p.Release(s)
	}()
	err = fn(s)
	if err != nil {
		s.markError()
	}
	return err
}
