// Package errors provides structured error types for the op runtime.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type carries the op name, resource type, field path and cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseDispatch, errors.KindInvalidInput).
//		Op("net_accept").
//		Path("args", "rid").
//		Detail("expected integer").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.BadResourceID(rid)
//	err := errors.Busy("tcpListener", "another accept task is ongoing")
//
// Kind sentinels (ErrNotFound, ErrBusy, ErrCancelled, ...) match any phase:
//
//	if errors.Is(err, errors.ErrBusy) { ... }
//
// Class maps an error onto the class name reported across the call boundary.
package errors
