// Package runtime dispatches ops by name and delivers async results.
//
// # Quick Start
//
//	ctx := context.Background()
//	rt, err := runtime.New(ctx,
//	    runtime.WithLogger(log),
//	    runtime.WithPermissions(perms),
//	    runtime.WithExtensions(netext.Extension(), process.Extension()),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//
//	// Sync ops answer inline
//	out := rt.Dispatch(ctx, "echo", ops.Args{Value: 42})
//	fmt.Println(out.Value) // 42
//
//	// Async ops answer with a promise id
//	out = rt.Dispatch(ctx, "net_accept", ops.Args{Value: rid})
//	c, err := rt.Poll(ctx) // c.Promise == out.Promise
//
// # Bootstrap
//
// New consumes the core extension and then every configured extension,
// seeds the call state, registers ops through the configured middleware and
// seals the registry. Duplicate op names fail bootstrap unless
// WithCollisionPolicy(ops.CollisionReplace) is set.
//
// Resources 0, 1 and 2 are the session's stdin, stdout and stderr.
//
// # Core Ops
//
//	close      close a resource by id
//	resources  list live resources
//	print      write a message to stdout or stderr
//	read       read bytes from any readable resource
//	write      write the first buffer to any writable resource
//
// # Completions
//
// Futures run on their own goroutines. Their results pass through a
// bounded single-producer single-consumer queue and are read with TryPoll,
// Poll or Run from one goroutine. Close cancels the context of every
// pending future and closes all resources.
//
// # Wire Protocol
//
// Serve speaks JSON lines over any reader and writer:
//
//	-> {"id":1,"op":"echo","args":42}
//	<- {"id":1,"ok":42,"done":true}
//	-> {"id":2,"op":"read","args":{"rid":0}}
//	<- {"id":2,"promise":1}
//	<- {"promise":1,"bufs":["aGVsbG8="],"done":true}
package runtime
