// Package process exposes child processes, pseudo-terminals and an
// embedded shell to script code.
//
// # Ops
//
//	process_spawn   {cmd, args, cwd, env, clearEnv, stdin, stdout, stderr, pty, rows, cols}
//	process_status  rid                      -> status or null
//	process_wait    {rid, stdinRid}          -> status
//	process_output  {rid, stdoutRid, stderrRid} -> {status, stdout, stderr}
//	process_kill    {rid, signal}
//	process_resize  {rid, rows, cols}
//	process_shell   {script, args, dir, env} -> {status, stdout, stderr}
//
// Spawn registers the child and one resource per piped stream. Stdin
// defaults to the null device; stdout and stderr default to pipes. Pipe
// resources work with the core read and write ops.
//
// Wait and output take the child out of the table: the rid is gone as soon
// as the call is made, and a second wait on it fails with not found.
// Status never blocks; it reports busy while a wait holds the child.
//
// Closing a child resource kills the process if it is still running.
//
// # Permissions
//
// Every op requires the run capability.
package process
