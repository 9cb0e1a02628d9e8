// Package middleware provides registration-time op middleware:
// counters, structured logging, OpenTelemetry spans, op disabling and
// permission gates.
//
// Middleware is attached to an extension or to the runtime:
//
//	m := middleware.NewMetrics()
//	rt, err := runtime.New(ctx,
//	    runtime.WithMiddleware(ops.Chain(
//	        middleware.Tracing(nil),
//	        middleware.Logging(log),
//	        m.Middleware(),
//	    )),
//	)
//
// Post-call logic of async ops runs when their future resolves.
package middleware
