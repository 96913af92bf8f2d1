// Package panicwrap implements the Panic Wrapper & Protected Execution
// component (spec §4.10): every script-invoking operation runs inside a
// goroutine+channel+select shell that recovers host-language faults and
// applies a configured recovery strategy, grounded on the
// goroutine/recover/resultChan timeout pattern in the lexlapax-go-llmspell
// ExecutionPipeline.executeScript fragment
// (pkg/engine/gopherlua/engine_execute.go).
package panicwrap

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/zigllms/scriptcore/pkg/metrics"
	core "github.com/zigllms/scriptcore/system/core"
	"github.com/zigllms/scriptcore/system/script/scripterr"
	"github.com/zigllms/scriptcore/system/script/value"
)

// FaultType classifies the captured host-language fault.
type FaultType string

const (
	FaultMemory           FaultType = "Memory"
	FaultStackOverflow    FaultType = "StackOverflow"
	FaultProtectionFault  FaultType = "ProtectionFault"
	FaultInternal         FaultType = "Internal"
	FaultErrorObject      FaultType = "ErrorObject"
)

// PanicInfo packages a recovered fault (spec §4.10).
type PanicInfo struct {
	Type            FaultType
	Message         string
	Frames          []scripterr.StackFrame
	ThreadID        int64
	Timestamp       time.Time
	HostStackDepth  int
}

func classify(r any) FaultType {
	switch r.(type) {
	case error:
		return FaultErrorObject
	case string:
		return FaultInternal
	default:
		return FaultInternal
	}
}

func capture(r any) PanicInfo {
	stack := debug.Stack()
	return PanicInfo{
		Type:           classify(r),
		Message:        fmt.Sprintf("%v", r),
		Frames:         []scripterr.StackFrame{{Function: "recovered", IsNative: true}},
		Timestamp:      time.Now(),
		HostStackDepth: len(stack),
	}
}

// Result is what Run returns on success.
type Result struct {
	Value value.Value
}

// Run executes fn under the protected-execution wrapper with the given
// timeout, dispatching the configured recovery strategy on fault. onPoison
// is invoked when the ManagedState must be discarded (NewState strategy, or
// a ResetState whose post-reset health check still fails).
func Run(ctx context.Context, timeout time.Duration, strategy core.PanicRecoveryStrategy, reset func() (healthy bool), onPoison func(), fn func() (value.Value, error)) (value.Value, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type outcome struct {
		v   value.Value
		err error
		pi  *PanicInfo
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				pi := capture(r)
				done <- outcome{v: value.Nil(), pi: &pi}
			}
		}()
		v, err := fn()
		done <- outcome{v: v, err: err}
	}()

	select {
	case <-ctx.Done():
		if onPoison != nil {
			onPoison()
		}
		return value.Nil(), scripterr.New(scripterr.Timeout, "script execution timed out")
	case o := <-done:
		if o.pi == nil {
			return o.v, o.err
		}
		return dispatch(*o.pi, strategy, reset, onPoison)
	}
}

func dispatch(pi PanicInfo, strategy core.PanicRecoveryStrategy, reset func() (healthy bool), onPoison func()) (value.Value, error) {
	metrics.RecordPanicRecovery(string(strategy), string(pi.Type))

	switch strategy {
	case core.RecoveryResetState:
		if reset != nil && reset() {
			return value.Nil(), scripterr.New(scripterr.Runtime, "recovered from host fault: "+pi.Message)
		}
		// Reset failed to restore health; escalate to NewState.
		if onPoison != nil {
			onPoison()
		}
		return value.Nil(), scripterr.New(scripterr.Runtime, "recovered from host fault (state poisoned): "+pi.Message)
	case core.RecoveryNewState:
		if onPoison != nil {
			onPoison()
		}
		return value.Nil(), scripterr.New(scripterr.Runtime, "recovered from host fault (state poisoned): "+pi.Message)
	case core.RecoveryPropagate:
		return value.Nil(), scripterr.New(scripterr.Unknown, "unrecoverable host fault: "+pi.Message)
	default:
		if onPoison != nil {
			onPoison()
		}
		return value.Nil(), scripterr.New(scripterr.Runtime, "recovered from host fault: "+pi.Message)
	}
}
