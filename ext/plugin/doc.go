// Package plugin loads WebAssembly plugins and lets script code call them.
//
// Each plugin runs in a wazero runtime of its own, owned by a reference
// counted Library. The plugin resource holds one share; every resource
// plugin code creates through the host module holds another. Closing the
// plugin resource therefore never unloads code that live resources still
// depend on.
//
// # Ops
//
//	plugin_open     {path, name} or code in Bufs[0] -> rid
//	plugin_call     {rid, fn, args}                 -> []int64
//	plugin_exports  rid                             -> []string
//	plugin_value    rid                             -> int64
//
// Calls into one plugin are serialized. Arguments and results are integers;
// i32 values are sign extended. A call whose context ends is interrupted
// and the plugin instance is closed; later calls into it fail.
//
// # Host module
//
// Plugins may import from "env":
//
//	resource_new(value i64) i32    registers a value, returns its rid or -1
//	resource_close(rid i32) i32    closes any resource, returns 0 or -1
//
// A plugin exporting plugin_init has it called once after loading.
package plugin
