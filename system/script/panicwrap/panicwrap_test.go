package panicwrap

import (
	"context"
	"testing"
	"time"

	core "github.com/zigllms/scriptcore/system/core"
	"github.com/zigllms/scriptcore/system/script/scripterr"
	"github.com/zigllms/scriptcore/system/script/value"
)

// TestRunTimeout exercises scenario S3: a script running past its deadline
// surfaces a Timeout error.
func TestRunTimeout(t *testing.T) {
	poisoned := false
	_, err := Run(context.Background(), 20*time.Millisecond, core.RecoveryResetState,
		func() bool { return true },
		func() { poisoned = true },
		func() (value.Value, error) {
			time.Sleep(200 * time.Millisecond)
			return value.Nil(), nil
		})

	if scripterr.CodeOf(err) != scripterr.Timeout {
		t.Fatalf("expected Timeout, got %v (%v)", scripterr.CodeOf(err), err)
	}
	if !poisoned {
		t.Fatal("expected the timed-out state to be marked for discard")
	}
}

// TestRunPanicResetStateRecovers exercises scenario S6 under ResetState:
// a recovered fault surfaces as Runtime and does not poison a healthy state.
func TestRunPanicResetStateRecovers(t *testing.T) {
	poisoned := false
	_, err := Run(context.Background(), time.Second, core.RecoveryResetState,
		func() bool { return true }, // reset succeeds, state stays healthy
		func() { poisoned = true },
		func() (value.Value, error) {
			panic("native fault")
		})

	if scripterr.CodeOf(err) != scripterr.Runtime {
		t.Fatalf("expected Runtime, got %v", scripterr.CodeOf(err))
	}
	if poisoned {
		t.Fatal("expected state to survive a successful reset")
	}
}

// TestRunPanicNewStatePoisons exercises scenario S6 under NewState: the pool
// marks the ManagedState poisoned and the next use acquires a fresh one.
func TestRunPanicNewStatePoisons(t *testing.T) {
	poisoned := false
	_, err := Run(context.Background(), time.Second, core.RecoveryNewState,
		nil,
		func() { poisoned = true },
		func() (value.Value, error) {
			panic("native fault")
		})

	if scripterr.CodeOf(err) != scripterr.Runtime {
		t.Fatalf("expected Runtime, got %v", scripterr.CodeOf(err))
	}
	if !poisoned {
		t.Fatal("expected NewState strategy to poison the managed state")
	}
}

func TestRunPanicPropagate(t *testing.T) {
	_, err := Run(context.Background(), time.Second, core.RecoveryPropagate,
		nil, nil,
		func() (value.Value, error) {
			panic("fatal")
		})

	if scripterr.CodeOf(err) != scripterr.Unknown {
		t.Fatalf("expected Unknown (unrecoverable), got %v", scripterr.CodeOf(err))
	}
}

func TestRunSuccess(t *testing.T) {
	v, err := Run(context.Background(), time.Second, core.RecoveryResetState,
		nil, nil,
		func() (value.Value, error) {
			return value.Int(7), nil
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if i, ok := v.AsInt(); !ok || i != 7 {
		t.Fatalf("unexpected result: %+v", v)
	}
}
