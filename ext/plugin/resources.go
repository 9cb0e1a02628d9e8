package plugin

import (
	"sync"

	"github.com/wippyai/op-runtime/resource"
)

// Plugin is the resource returned by plugin_open.
type Plugin struct {
	lib  *Library
	once sync.Once
}

func (p *Plugin) Name() string { return "plugin" }

// Library returns the loaded library.
func (p *Plugin) Library() *Library { return p.lib }

// Close drops the plugin's share of the library.
func (p *Plugin) Close() {
	p.once.Do(p.lib.release)
}

// Value is a plain value created by plugin code.
type Value struct {
	v int64
}

func (v *Value) Name() string { return "pluginValue" }

// Int returns the value.
func (v *Value) Int() int64 { return v.v }

// owned wraps a resource created by plugin code and keeps the library
// loaded until the resource is closed. Lookups see through it.
type owned struct {
	inner resource.Resource
	lib   *Library
	once  sync.Once
}

func newOwned(lib *Library, inner resource.Resource) *owned {
	return &owned{inner: inner, lib: lib.acquire()}
}

func (o *owned) Name() string { return o.inner.Name() }

func (o *owned) Unwrap() resource.Resource { return o.inner }

func (o *owned) Close() {
	o.once.Do(func() {
		if c, ok := o.inner.(resource.Closer); ok {
			c.Close()
		}
		o.lib.release()
	})
}
