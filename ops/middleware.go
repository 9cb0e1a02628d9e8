package ops

// Middleware transforms a handler at registration time. It receives the op
// name and the handler to wrap and must keep the calling convention:
// a sync op stays sync and an async op stays async.
type Middleware func(name string, next Handler) Handler

type wrapped struct {
	inner Registrar
	mw    Middleware
}

func (w *wrapped) Register(name string, h Handler) error {
	return w.inner.Register(name, w.mw(name, h))
}

// Wrap returns a registrar that applies mw to every handler before handing
// it to r. Wrapping a wrapped registrar nests: the middleware wrapped first
// is applied last and so runs outermost at dispatch time.
func Wrap(r Registrar, mw Middleware) Registrar {
	if mw == nil {
		return r
	}
	return &wrapped{inner: r, mw: mw}
}

// Chain combines middlewares. The first one runs outermost.
func Chain(mws ...Middleware) Middleware {
	return func(name string, next Handler) Handler {
		for i := len(mws) - 1; i >= 0; i-- {
			if mws[i] != nil {
				next = mws[i](name, next)
			}
		}
		return next
	}
}
