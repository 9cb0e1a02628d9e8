// Package state holds the per-session call state shared by all ops.
//
// Extensions seed typed values at bootstrap:
//
//	state.Put(st, &permissions.Permissions{...})
//
// and ops read them back by type:
//
//	perms, err := state.Get[*permissions.Permissions](st)
//
// A missing type is reported as a not found error.
//
// Async ops receive a Shared handle instead of the State. They borrow it for
// short sections and release before suspending:
//
//	perms, err := state.Load[*permissions.Permissions](ctx, shared)
//	// the borrow is already released here
//	conn, err := dialer.DialContext(ctx, "tcp", addr)
package state
