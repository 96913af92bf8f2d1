package pool

import (
	"context"
	"testing"
)

func newTestPool(t *testing.T, cfg Config) *Pool {
	t.Helper()
	return New("test", cfg, func(ctx context.Context) (*ManagedState, error) {
		return &ManagedState{Stage: Created}, nil
	})
}

// TestPoolReuseAndRetireOnMaxUses exercises scenario S2: Pool(min=1, max=3,
// max_uses=2); acquire-release twice, the third acquire must be a new state.
func TestPoolReuseAndRetireOnMaxUses(t *testing.T) {
	p := newTestPool(t, Config{Min: 1, Max: 3, MaxUses: 2})
	ctx := context.Background()

	s1, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire 1: %v", err)
	}
	s1.UseCount++
	p.Release(s1)

	s2, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire 2: %v", err)
	}
	if s2 != s1 {
		t.Fatalf("expected second acquire to reuse the same state")
	}
	s2.UseCount++
	p.Release(s2) // use_count now 2, retired by max_uses

	s3, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire 3: %v", err)
	}
	if s3 == s1 {
		t.Fatalf("expected third acquire to return a fresh state")
	}

	_, _, created, recycled := p.Stats()
	if created != 2 {
		t.Fatalf("expected created_total=2, got %d", created)
	}
	if recycled != 1 {
		t.Fatalf("expected recycled_total=1, got %d", recycled)
	}
}

func TestPoolMaxEnforced(t *testing.T) {
	p := newTestPool(t, Config{Min: 0, Max: 1})
	ctx := context.Background()

	s1, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire 1: %v", err)
	}
	if _, err := p.Acquire(ctx); err == nil {
		t.Fatal("expected acquire to fail once max in-use states reached")
	}
	p.Release(s1)
	if _, err := p.Acquire(ctx); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestPoolRetireOnErrorCount(t *testing.T) {
	p := newTestPool(t, Config{Min: 0, Max: 3})
	ctx := context.Background()

	acquireErr := p.WithScoped(ctx, func(s *ManagedState) error {
		return errBoom
	})
	if acquireErr != errBoom {
		t.Fatalf("expected scoped fn error to propagate, got %v", acquireErr)
	}

	_, _, _, recycled := p.Stats()
	if recycled == 0 {
		t.Fatalf("expected the errored state to be retired")
	}
}

var errBoom = fmtError("boom")

type fmtError string

func (e fmtError) Error() string { return string(e) }
