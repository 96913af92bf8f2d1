// Package scripterr implements the error bridge: a fixed taxonomy of script
// errors that folds engine-native faults into a single, deterministic
// representation, following the sentinel-error + typed-error convention of
// system/framework/core/errors.go.
package scripterr

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Code is the fixed error taxonomy every ScriptError carries.
type Code string

const (
	Syntax    Code = "Syntax"
	Runtime   Code = "Runtime"
	Type      Code = "Type"
	Reference Code = "Reference"
	Range     Code = "Range"
	Memory    Code = "Memory"
	Timeout   Code = "Timeout"
	Permission Code = "Permission"
	Module    Code = "Module"
	Unknown   Code = "Unknown"
)

// Sentinels, one per taxonomy code, so callers can use errors.Is against a
// stable value regardless of message text.
var (
	ErrSyntax     = errors.New("syntax error")
	ErrRuntime    = errors.New("runtime error")
	ErrType       = errors.New("type error")
	ErrReference  = errors.New("reference error")
	ErrRange      = errors.New("range error")
	ErrMemory     = errors.New("memory error")
	ErrTimeout    = errors.New("timeout error")
	ErrPermission = errors.New("permission error")
	ErrModule     = errors.New("module error")
	ErrUnknown    = errors.New("unknown error")
)

func sentinelFor(c Code) error {
	switch c {
	case Syntax:
		return ErrSyntax
	case Runtime:
		return ErrRuntime
	case Type:
		return ErrType
	case Reference:
		return ErrReference
	case Range:
		return ErrRange
	case Memory:
		return ErrMemory
	case Timeout:
		return ErrTimeout
	case Permission:
		return ErrPermission
	case Module:
		return ErrModule
	default:
		return ErrUnknown
	}
}

// SourceLocation identifies a position within script source.
type SourceLocation struct {
	File   string `json:"file"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
}

// StackFrame is one entry of a captured call stack, innermost first.
type StackFrame struct {
	Function string          `json:"function"`
	Location *SourceLocation `json:"location,omitempty"`
	IsNative bool            `json:"is_native"`
}

// ScriptError is the single error type surfaced across the script boundary.
type ScriptError struct {
	Code       Code            `json:"code"`
	Message    string          `json:"message"`
	Location   *SourceLocation `json:"location,omitempty"`
	Stack      []StackFrame    `json:"stack,omitempty"`
	NativeText string          `json:"native_text,omitempty"`
	Context    string          `json:"context,omitempty"`
	cause      error
}

// New constructs a bare ScriptError.
func New(code Code, message string) *ScriptError {
	return &ScriptError{Code: code, Message: message}
}

// Wrap constructs a ScriptError that unwraps to the given cause.
func Wrap(code Code, message string, cause error) *ScriptError {
	return &ScriptError{Code: code, Message: message, cause: cause}
}

// WithContext attaches a short context string (e.g. an offending field name).
func (e *ScriptError) WithContext(ctx string) *ScriptError {
	e.Context = ctx
	return e
}

// WithLocation attaches a source location.
func (e *ScriptError) WithLocation(file string, line, col int) *ScriptError {
	e.Location = &SourceLocation{File: file, Line: line, Column: col}
	return e
}

// PushFrame prepends a stack frame (innermost-first ordering).
func (e *ScriptError) PushFrame(f StackFrame) *ScriptError {
	e.Stack = append([]StackFrame{f}, e.Stack...)
	return e
}

// WithNative attaches the engine-native error text.
func (e *ScriptError) WithNative(text string) *ScriptError {
	e.NativeText = text
	return e
}

// Error implements the standard error interface using the deterministic
// rendering: "<Code>: <message>" with an optional location line.
func (e *ScriptError) Error() string {
	return e.Format()
}

// Format renders the deterministic multi-line representation:
// first line "<Code>: <message>", then the source location if present,
// then a "Stack trace:" block, one line per frame.
func (e *ScriptError) Format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Code, e.Message)
	if e.Location != nil {
		fmt.Fprintf(&b, "\n    at %s:%d:%d", e.Location.File, e.Location.Line, e.Location.Column)
	}
	if len(e.Stack) > 0 {
		b.WriteString("\nStack trace:")
		for _, f := range e.Stack {
			if f.IsNative {
				fmt.Fprintf(&b, "\n  at %s (native)", f.Function)
				continue
			}
			if f.Location != nil {
				fmt.Fprintf(&b, "\n  at %s (%s:%d:%d)", f.Function, f.Location.File, f.Location.Line, f.Location.Column)
			} else {
				fmt.Fprintf(&b, "\n  at %s", f.Function)
			}
		}
	}
	return b.String()
}

// ToJSON renders a stable JSON form of the error.
func (e *ScriptError) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// Unwrap exposes both the taxonomy sentinel and any wrapped cause so that
// errors.Is(err, scripterr.ErrTimeout) and errors.Is(err, cause) both work.
func (e *ScriptError) Unwrap() []error {
	sentinel := sentinelFor(e.Code)
	if e.cause != nil {
		return []error{sentinel, e.cause}
	}
	return []error{sentinel}
}

// Is lets errors.Is match a *ScriptError by code against another *ScriptError
// carrying the same code, in addition to the sentinel-based matching above.
func (e *ScriptError) Is(target error) bool {
	other, ok := target.(*ScriptError)
	if !ok {
		return false
	}
	return e.Code == other.Code
}

// As returns err as a *ScriptError via errors.As, for callers that need the
// structured fields (location, stack, context) rather than just the code.
func As(err error) (*ScriptError, bool) {
	var se *ScriptError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// CodeOf returns the taxonomy code of err, Unknown if err is not (or does
// not wrap) a *ScriptError.
func CodeOf(err error) Code {
	if se, ok := As(err); ok {
		return se.Code
	}
	return Unknown
}
