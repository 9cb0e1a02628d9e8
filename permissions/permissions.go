// Package permissions holds the capability policy consulted by ops before
// they touch the network, spawn processes, load plugins or bind signals.
//
// The policy lives in the call state. Ops fetch it and check:
//
//	if err := permissions.Check(st, func(p *permissions.Permissions) error {
//	    return p.CheckNet(host, port)
//	}); err != nil {
//	    return nil, err
//	}
//
// A session without a policy denies everything.
package permissions

import (
	"net"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/wippyai/op-runtime/errors"
	"github.com/wippyai/op-runtime/state"
)

// Wildcard grants every host or path.
const Wildcard = "*"

// Permissions is the per-session capability policy.
type Permissions struct {
	// Net lists allowed hosts, as "host" or "host:port".
	Net []string `mapstructure:"net" yaml:"net" json:"net"`
	// Read lists path prefixes that may be read.
	Read []string `mapstructure:"read" yaml:"read" json:"read"`
	// Write lists path prefixes that may be written.
	Write  []string `mapstructure:"write" yaml:"write" json:"write"`
	Run    bool     `mapstructure:"run" yaml:"run" json:"run"`
	Plugin bool     `mapstructure:"plugin" yaml:"plugin" json:"plugin"`
	Signal bool     `mapstructure:"signal" yaml:"signal" json:"signal"`
}

// AllowAll returns a policy that grants every capability.
func AllowAll() *Permissions {
	return &Permissions{
		Net:    []string{Wildcard},
		Read:   []string{Wildcard},
		Write:  []string{Wildcard},
		Run:    true,
		Plugin: true,
		Signal: true,
	}
}

// CheckNet allows host when it or host:port is listed.
func (p *Permissions) CheckNet(host string, port int) error {
	hostPort := net.JoinHostPort(host, strconv.Itoa(port))
	for _, allowed := range p.Net {
		if allowed == Wildcard || strings.EqualFold(allowed, host) || strings.EqualFold(allowed, hostPort) {
			return nil
		}
	}
	return errors.PermissionDenied("net", hostPort)
}

// CheckRun allows spawning subprocesses.
func (p *Permissions) CheckRun() error {
	if !p.Run {
		return errors.PermissionDenied("run", "")
	}
	return nil
}

// CheckPlugin allows loading native plugins.
func (p *Permissions) CheckPlugin() error {
	if !p.Plugin {
		return errors.PermissionDenied("plugin", "")
	}
	return nil
}

// CheckSignal allows binding OS signals.
func (p *Permissions) CheckSignal() error {
	if !p.Signal {
		return errors.PermissionDenied("signal", "")
	}
	return nil
}

// CheckRead allows reading path when it is under a listed prefix.
func (p *Permissions) CheckRead(path string) error {
	if matchPath(p.Read, path) {
		return nil
	}
	return errors.PermissionDenied("read", path)
}

// CheckWrite allows writing path when it is under a listed prefix.
func (p *Permissions) CheckWrite(path string) error {
	if matchPath(p.Write, path) {
		return nil
	}
	return errors.PermissionDenied("write", path)
}

func matchPath(prefixes []string, path string) bool {
	clean := filepath.Clean(path)
	for _, prefix := range prefixes {
		if prefix == Wildcard {
			return true
		}
		prefix = filepath.Clean(prefix)
		if clean == prefix || strings.HasPrefix(clean, prefix+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// Check runs fn against the session policy. A missing policy denies.
func Check(st *state.State, fn func(*Permissions) error) error {
	p, ok := state.TryGet[*Permissions](st)
	if !ok || p == nil {
		return errors.New(errors.PhaseHost, errors.KindPermissionDenied).
			Detail("no permissions configured").
			Build()
	}
	return fn(p)
}
