// Package extension bundles ops, script modules, state initializers and
// middleware into units that are consumed once at session start.
//
//	net := extension.New("net",
//	    extension.WithOp("net_listen", listen),
//	    extension.WithState(func(st *state.State) error {
//	        state.Put(st, perms)
//	        return nil
//	    }),
//	)
//
//	all := extension.Compose("std", []*extension.Extension{net, process},
//	    extension.WithMiddleware(m.Middleware()))
//
// Bootstrap applies, per extension and in order: module exposure, state
// initialization, registrar wrapping and op registration. Composites then
// recurse into their children with the wrapped registrar, so a composite's
// middleware sees its children's ops. Running an extension's ops or state
// initializer twice fails with a consumed error.
package extension
