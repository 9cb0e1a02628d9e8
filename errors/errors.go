package errors

import (
	stderrors "errors"
	"fmt"
	"strings"

	"code.hybscloud.com/iox"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseBootstrap Phase = "bootstrap" // extension consumption and op registration
	PhaseDispatch  Phase = "dispatch"  // op name resolution and invocation
	PhaseResource  Phase = "resource"  // resource table lookups
	PhaseBorrow    Phase = "borrow"    // exclusive borrows on guarded cells
	PhaseState     Phase = "state"     // call state lookups
	PhaseDecode    Phase = "decode"    // argument decoding
	PhaseLoad      Phase = "load"      // native unit loading
	PhaseHost      Phase = "host"      // capability implementations
	PhaseConfig    Phase = "config"    // configuration loading
)

// Kind categorizes the error
type Kind string

const (
	KindNotFound         Kind = "not_found"
	KindBusy             Kind = "busy"
	KindCancelled        Kind = "cancelled"
	KindPermissionDenied Kind = "permission_denied"
	KindUnderlying       Kind = "underlying"
	KindDuplicate        Kind = "duplicate"
	KindConsumed         Kind = "consumed"
	KindSealed           Kind = "sealed"
	KindUnknownOp        Kind = "unknown_op"
	KindInvalidInput     Kind = "invalid_input"
	KindUnsupported      Kind = "unsupported"
)

// Kind sentinels. errors.Is matches them against any phase.
var (
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrBusy             = &Error{Kind: KindBusy}
	ErrCancelled        = &Error{Kind: KindCancelled}
	ErrPermissionDenied = &Error{Kind: KindPermissionDenied}
	ErrUnderlying       = &Error{Kind: KindUnderlying}
	ErrDuplicate        = &Error{Kind: KindDuplicate}
	ErrConsumed         = &Error{Kind: KindConsumed}
	ErrSealed           = &Error{Kind: KindSealed}
	ErrUnknownOp        = &Error{Kind: KindUnknownOp}
)

// Error is the structured error type used throughout the runtime
type Error struct {
	Value    any
	Cause    error
	Phase    Phase
	Kind     Kind
	Op       string
	Resource string
	Detail   string
	Path     []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Op != "" {
		b.WriteString(" in op ")
		b.WriteString(e.Op)
	}

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.Resource != "" {
		b.WriteString(": resource ")
		b.WriteString(e.Resource)
	}

	if e.Detail != "" {
		if e.Resource != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error.
// A target without a phase matches on kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Phase == "" {
		return e.Kind == t.Kind
	}
	return e.Phase == t.Phase && e.Kind == t.Kind
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the field path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Op sets the op name the error belongs to
func (b *Builder) Op(name string) *Builder {
	b.err.Op = name
	return b
}

// Resource sets the resource type name
func (b *Builder) Resource(name string) *Builder {
	b.err.Resource = name
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// NotFound creates a not found error for a named thing
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// BadResourceID creates the error returned for an absent or mistyped resource id.
// Both cases produce the same error.
func BadResourceID(id uint32) *Error {
	return &Error{
		Phase:  PhaseResource,
		Kind:   KindNotFound,
		Detail: "bad resource id",
		Value:  id,
	}
}

// Busy creates a contention error. The cause is iox.ErrWouldBlock so
// callers can test it with iox.IsWouldBlock.
func Busy(resource, detail string) *Error {
	return &Error{
		Phase:    PhaseBorrow,
		Kind:     KindBusy,
		Resource: resource,
		Detail:   detail,
		Cause:    iox.ErrWouldBlock,
	}
}

// Cancelled creates a cancellation error
func Cancelled(phase Phase, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindCancelled,
		Detail: "operation cancelled",
		Cause:  cause,
	}
}

// PermissionDenied creates a permission error for a capability and target
func PermissionDenied(capability, target string) *Error {
	detail := fmt.Sprintf("requires %s access", capability)
	if target != "" {
		detail = fmt.Sprintf("requires %s access to %q", capability, target)
	}
	return &Error{
		Phase:  PhaseHost,
		Kind:   KindPermissionDenied,
		Detail: detail,
	}
}

// Underlying wraps an error surfaced by the operating system or a library
func Underlying(phase Phase, cause error) *Error {
	return &Error{
		Phase: phase,
		Kind:  KindUnderlying,
		Cause: cause,
	}
}

// Duplicate creates an op name collision error
func Duplicate(name string) *Error {
	return &Error{
		Phase:  PhaseBootstrap,
		Kind:   KindDuplicate,
		Op:     name,
		Detail: "op already registered",
	}
}

// Consumed creates the error for a second consumption of a one-shot value
func Consumed(extension, what string) *Error {
	return &Error{
		Phase:  PhaseBootstrap,
		Kind:   KindConsumed,
		Detail: fmt.Sprintf("%s of extension %q already consumed", what, extension),
	}
}

// Sealed creates the error for a registration after the registry was sealed
func Sealed(name string) *Error {
	return &Error{
		Phase:  PhaseBootstrap,
		Kind:   KindSealed,
		Op:     name,
		Detail: "registry is sealed",
	}
}

// UnknownOp creates the error for dispatching a name with no handler
func UnknownOp(name string) *Error {
	return &Error{
		Phase:  PhaseDispatch,
		Kind:   KindUnknownOp,
		Op:     name,
		Detail: "no handler registered",
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// Error classes reported across the call boundary
const (
	ClassNotFound         = "NotFound"
	ClassBusy             = "Busy"
	ClassInterrupted      = "Interrupted"
	ClassPermissionDenied = "PermissionDenied"
	ClassTypeError        = "TypeError"
	ClassError            = "Error"
)

// Class maps an error to the class name reported to script code.
// Errors without a structured kind report ClassError.
func Class(err error) string {
	var e *Error
	if !stderrors.As(err, &e) {
		return ClassError
	}
	switch e.Kind {
	case KindNotFound:
		return ClassNotFound
	case KindBusy:
		return ClassBusy
	case KindCancelled:
		return ClassInterrupted
	case KindPermissionDenied:
		return ClassPermissionDenied
	case KindUnknownOp, KindInvalidInput:
		return ClassTypeError
	default:
		return ClassError
	}
}

// KindOf returns the kind of the first structured error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool { return stderrors.As(err, target) }

// Unwrap returns the error wrapped by err, if any.
func Unwrap(err error) error { return stderrors.Unwrap(err) }

// Join returns an error that wraps the given errors.
func Join(errs ...error) error { return stderrors.Join(errs...) }
