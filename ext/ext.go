// Package ext bundles the capability extensions into one composite.
package ext

import (
	"github.com/wippyai/op-runtime/ext/console"
	"github.com/wippyai/op-runtime/ext/crypto"
	"github.com/wippyai/op-runtime/ext/plugin"
	"github.com/wippyai/op-runtime/ext/process"
	"github.com/wippyai/op-runtime/ext/signals"
	"github.com/wippyai/op-runtime/ext/sockets"
	"github.com/wippyai/op-runtime/ext/storage"
	"github.com/wippyai/op-runtime/extension"
)

// Config configures the bundled extensions.
type Config struct {
	Plugin     plugin.Config
	StorageDir string
}

// Std returns every capability extension composed under "std", in a fixed
// order.
func Std(cfg Config) *extension.Extension {
	return extension.Compose("std", []*extension.Extension{
		console.Extension(),
		sockets.Extension(),
		signals.Extension(),
		process.Extension(),
		plugin.Extension(cfg.Plugin),
		crypto.Extension(),
		storage.Extension(cfg.StorageDir),
	})
}
