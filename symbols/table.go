// Package symbols binds each hooked call name to the next implementation in
// an ordered provider chain. The chain plays the role of the dynamic symbol
// search order: the shim sits in front of it, providers layered ahead of the
// operating system come next, and the OS implementation is the tail.
package symbols

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/socket-intents/intent-shim/resolver"
)

// Stable names of the hooked calls.
const (
	NameSocket      = "socket"
	NameSetsockopt  = "setsockopt"
	NameGetsockopt  = "getsockopt"
	NameGetaddrinfo = "getaddrinfo"
	NameBind        = "bind"
	NameConnect     = "connect"
	NameClose       = "close"
)

// Implementation signatures for the hooked calls.
type (
	SocketFunc      func(domain, typ, proto int) (int, error)
	SetsockoptFunc  func(fd, level, opt int, value []byte) error
	GetsockoptFunc  func(fd, level, opt int, value []byte) (int, error)
	GetaddrinfoFunc func(node, service string, hints *resolver.Hints) ([]resolver.AddrInfo, error)
	BindFunc        func(fd int, sa unix.Sockaddr) error
	ConnectFunc     func(fd int, sa unix.Sockaddr) error
	CloseFunc       func(fd int) error
)

// ErrNotFound means no provider in the chain carries an implementation for
// the requested name. Hooks surface this to the application caller as the
// operation-not-supported convention.
var ErrNotFound = errors.New("no further implementation in search order")

// Provider supplies implementations for hooked call names. Lookup reports
// whether the provider claims the name; a nil implementation with ok true is
// treated as not claimed, mirroring lookup mechanisms that signal errors
// through shared state rather than the return value.
type Provider interface {
	Lookup(name string) (impl interface{}, ok bool)
}

type cell struct {
	mu   sync.Mutex
	impl interface{}
}

// Table caches one resolved implementation per call name. A cell is written
// at most once, on the first successful resolution; failed resolutions are
// retried on the next call.
type Table struct {
	providers []Provider

	mu    sync.Mutex
	cells map[string]*cell
}

// NewTable creates a table over the given provider chain, searched in order.
func NewTable(providers ...Provider) *Table {
	return &Table{
		providers: providers,
		cells:     make(map[string]*cell),
	}
}

func (t *Table) cell(name string) *cell {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.cells[name]
	if !ok {
		c = &cell{}
		t.cells[name] = c
	}
	return c
}

// Resolve returns the cached implementation for name, searching the provider
// chain on first use. Concurrent first use resolves exactly once; every
// caller observes the same implementation afterwards.
func (t *Table) Resolve(name string) (interface{}, error) {
	if name == "" {
		return nil, fmt.Errorf("resolve empty name: %w", ErrNotFound)
	}

	c := t.cell(name)
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.impl != nil {
		return c.impl, nil
	}

	for _, p := range t.providers {
		impl, ok := p.Lookup(name)
		if ok && impl != nil {
			c.impl = impl
			return impl, nil
		}
	}
	return nil, fmt.Errorf("%q: %w", name, ErrNotFound)
}

// ResolveAs resolves name and asserts the implementation to the call's
// signature type.
func ResolveAs[T any](t *Table, name string) (T, error) {
	var zero T
	impl, err := t.Resolve(name)
	if err != nil {
		return zero, err
	}
	fn, ok := impl.(T)
	if !ok {
		return zero, fmt.Errorf("%q: implementation has type %T: %w", name, impl, ErrNotFound)
	}
	return fn, nil
}
