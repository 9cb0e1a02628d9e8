package runtime

import (
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/wippyai/op-runtime/extension"
	"github.com/wippyai/op-runtime/ops"
	"github.com/wippyai/op-runtime/permissions"
)

// DefaultCompletionCapacity is the default size of the completion queue.
const DefaultCompletionCapacity = 1024

type options struct {
	logger      *zap.Logger
	middleware  ops.Middleware
	permissions *permissions.Permissions
	stdin       io.Reader
	stdout      io.Writer
	stderr      io.Writer
	extensions  []*extension.Extension
	capacity    int
	policy      ops.CollisionPolicy
}

func defaultOptions() options {
	return options{
		capacity: DefaultCompletionCapacity,
		policy:   ops.CollisionError,
		stdin:    os.Stdin,
		stdout:   os.Stdout,
		stderr:   os.Stderr,
	}
}

// Option configures a Runtime.
type Option func(*options)

// WithLogger sets the runtime logger. It is also placed in the call state.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithExtensions appends extensions, bootstrapped in order after the core.
func WithExtensions(exts ...*extension.Extension) Option {
	return func(o *options) { o.extensions = append(o.extensions, exts...) }
}

// WithMiddleware sets middleware applied to every op, core ops included.
// It runs outside any extension middleware.
func WithMiddleware(mw ops.Middleware) Option {
	return func(o *options) { o.middleware = mw }
}

// WithCollisionPolicy sets what happens on duplicate op names.
// The default fails bootstrap.
func WithCollisionPolicy(p ops.CollisionPolicy) Option {
	return func(o *options) { o.policy = p }
}

// WithCompletionCapacity sets the completion queue size.
func WithCompletionCapacity(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.capacity = n
		}
	}
}

// WithPermissions places the capability policy in the call state.
func WithPermissions(p *permissions.Permissions) Option {
	return func(o *options) { o.permissions = p }
}

// WithStdio sets the streams registered as resources 0, 1 and 2.
func WithStdio(stdin io.Reader, stdout, stderr io.Writer) Option {
	return func(o *options) {
		o.stdin = stdin
		o.stdout = stdout
		o.stderr = stderr
	}
}
