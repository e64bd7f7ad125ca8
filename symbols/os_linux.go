//go:build linux

package symbols

import (
	"context"
	"encoding/binary"

	"golang.org/x/sys/unix"

	"github.com/socket-intents/intent-shim/resolver"
)

// OSProvider resolves every hooked call name to the operating system
// implementation. It is the tail of every default provider chain.
type OSProvider struct{}

func (OSProvider) Lookup(name string) (interface{}, bool) {
	switch name {
	case NameSocket:
		return SocketFunc(osSocket), true
	case NameSetsockopt:
		return SetsockoptFunc(osSetsockopt), true
	case NameGetsockopt:
		return GetsockoptFunc(osGetsockopt), true
	case NameGetaddrinfo:
		return GetaddrinfoFunc(osGetaddrinfo), true
	case NameBind:
		return BindFunc(unix.Bind), true
	case NameConnect:
		return ConnectFunc(unix.Connect), true
	case NameClose:
		return CloseFunc(unix.Close), true
	}
	return nil, false
}

func osSocket(domain, typ, proto int) (int, error) {
	return unix.Socket(domain, typ, proto)
}

func osSetsockopt(fd, level, opt int, value []byte) error {
	if len(value) == 4 {
		return unix.SetsockoptInt(fd, level, opt, int(binary.NativeEndian.Uint32(value)))
	}
	return unix.SetsockoptString(fd, level, opt, string(value))
}

func osGetsockopt(fd, level, opt int, value []byte) (int, error) {
	if len(value) == 4 {
		v, err := unix.GetsockoptInt(fd, level, opt)
		if err != nil {
			return 0, err
		}
		binary.NativeEndian.PutUint32(value, uint32(v))
		return 4, nil
	}
	s, err := unix.GetsockoptString(fd, level, opt)
	if err != nil {
		return 0, err
	}
	return copy(value, s), nil
}

func osGetaddrinfo(node, service string, hints *resolver.Hints) ([]resolver.AddrInfo, error) {
	return resolver.LookupAddrInfo(context.Background(), node, service, hints)
}
