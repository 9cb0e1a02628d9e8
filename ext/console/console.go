// Package console provides the console module. It declares no ops of its
// own; its source calls the core print op.
package console

import (
	_ "embed"

	"github.com/wippyai/op-runtime/extension"
)

// ModuleName is the specifier the module is exposed under.
const ModuleName = "ext:console/console.js"

//go:embed console.js
var source string

// Extension returns the console extension.
func Extension() *extension.Extension {
	return extension.PureSource("console", extension.Module{Name: ModuleName, Source: source})
}
