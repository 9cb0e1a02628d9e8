// Package opruntime hosts native operations for an embedding script engine.
//
// Script code calls into the host by op name. The host resolves the name to a
// handler, runs it against per-call state and returns either a value or a
// promise id that resolves later through the runtime's completion queue.
//
// # Layout
//
//	opruntime/
//	├── runtime/      Runtime: bootstrap, Dispatch, Poll, Serve
//	├── ops/          Op registry, handler kinds, argument decoding
//	├── middleware/   Handler wrapping (tracing, logging, permission gates)
//	├── extension/    Extension composition: ops, modules, state, middleware
//	├── state/        Per-call state container and the shared borrow cell
//	├── resource/     Resource table, async guarded cells, cancel handles
//	├── permissions/  Allow lists consulted by gated ops
//	├── errors/       Structured errors and script-facing classes
//	├── config/       YAML/env configuration via viper
//	├── ext/          Standard extensions (sockets, process, plugin, ...)
//	└── cmd/oprt/     Command line host
//
// # Quick Start
//
//	rt, err := runtime.New(ctx, runtime.WithExtensions(ext.Std(ext.Config{})))
//	if err != nil {
//		return err
//	}
//	defer rt.Close(ctx)
//
//	v, err := rt.Call(ctx, "resources", ops.Args{})
package opruntime
