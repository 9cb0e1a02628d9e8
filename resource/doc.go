// Package resource provides the id-addressed resource table, guarded cells
// and cancellation handles used by ops.
//
// Resources are long-lived native objects (sockets, child processes, keys,
// loaded plugins) that script code refers to only by an integer id. The
// table owns them; ops borrow them for the duration of a call.
//
// # Resource Table
//
//	table := resource.NewTable()
//
//	// Register a value, get an id
//	rid, err := table.Add(listener)
//
//	// Typed lookup. A missing id and a wrong type both return not found.
//	l, err := resource.Get[*TCPListener](table, rid)
//
//	// Remove without running the close hook (ownership transfer)
//	child, err := resource.Take[*Child](table, rid)
//
//	// Remove and run the close hook
//	err = table.Close(rid)
//
// IDs are issued from a counter that only moves forward. Closing an id and
// adding a new resource never makes the old id valid again.
//
// # Guarded Cells
//
// A Cell holds mutable state that must be accessed by one borrower at a time:
//
//	g, err := cell.TryBorrowMut() // fails fast with a busy error
//	g, err := cell.BorrowMut(ctx) // waits in arrival order
//	defer g.Release()
//
// # Cancellation
//
// Resources with long waits own a CancelHandle and trigger it from Close.
// Waiting code races its wait against the handle:
//
//	v, err := resource.OrCancel(ctx, r.cancel, func(ctx context.Context) (T, error) {
//	    ...
//	})
//
// # Observers
//
// Register observers to track resource lifecycle events:
//
//	table.Subscribe(resource.ObserverFunc(func(e resource.Event) {
//	    log.Printf("%s %d %s", e.Type, e.ID, e.Name)
//	}))
//
// Call table.CloseAll() when the session ends to release everything.
package resource
