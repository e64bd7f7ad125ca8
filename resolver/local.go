package resolver

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// Local is a minimal in-process Resolver. It records intent options per
// context, applies everything else through the operating system directly,
// and resolves addresses with the default name resolver. It carries none of
// the multi-access decision logic a real intent resolver would; it exists so
// the monitor binary and the tests have a working collaborator.
type Local struct{}

// NewLocal creates a Local resolver.
func NewLocal() *Local {
	return &Local{}
}

type localState struct {
	mu      sync.Mutex
	intents map[int][]byte
	usage   atomic.Int32
}

func (l *Local) ContextInit() (Handle, error) {
	st := &localState{intents: make(map[int][]byte)}
	st.usage.Store(1)
	return st, nil
}

// Retain adds a reference to the context so a later ReleaseContext reports
// outstanding usage. Not part of the Resolver contract.
func (l *Local) Retain(h Handle) {
	if st, ok := h.(*localState); ok {
		st.usage.Add(1)
	}
}

func (l *Local) SetOption(h Handle, fd, level, opt int, value []byte) error {
	st, ok := h.(*localState)
	if !ok {
		return unix.EINVAL
	}

	if level == LevelIntent {
		st.mu.Lock()
		st.intents[opt] = append([]byte(nil), value...)
		st.mu.Unlock()
		return nil
	}

	// Non-intent options go straight to the socket.
	if len(value) == 4 {
		return unix.SetsockoptInt(fd, level, opt, int(binary.NativeEndian.Uint32(value)))
	}
	return unix.SetsockoptString(fd, level, opt, string(value))
}

func (l *Local) GetOption(h Handle, fd, level, opt int, value []byte) (int, error) {
	st, ok := h.(*localState)
	if !ok {
		return 0, unix.EINVAL
	}

	if level == LevelIntent {
		st.mu.Lock()
		stored, found := st.intents[opt]
		st.mu.Unlock()
		if !found {
			return 0, unix.ENOPROTOOPT
		}
		return copy(value, stored), nil
	}

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

func (l *Local) ResolveAddresses(h Handle, node, service string, hints *Hints) ([]AddrInfo, error) {
	if _, ok := h.(*localState); !ok {
		return nil, unix.EINVAL
	}
	return LookupAddrInfo(context.Background(), node, service, hints)
}

func (l *Local) ConnectSocket(h Handle, fd int, sa unix.Sockaddr) error {
	if _, ok := h.(*localState); !ok {
		return unix.EINVAL
	}
	return unix.Connect(fd, sa)
}

func (l *Local) ReleaseContext(h Handle) int {
	st, ok := h.(*localState)
	if !ok {
		return 0
	}
	remaining := st.usage.Add(-1)
	if remaining < 0 {
		remaining = 0
	}
	return int(remaining)
}

func (l *Local) PrintContext(h Handle) string {
	st, ok := h.(*localState)
	if !ok {
		return "<invalid context>"
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return fmt.Sprintf("local context: %d intents, usage=%d", len(st.intents), st.usage.Load())
}

// LookupAddrInfo resolves node/service into addrinfo-shaped candidates using
// the default name resolver. It is shared by Local and by the OS-level
// implementation of the resolve-address call.
func LookupAddrInfo(ctx context.Context, node, service string, hints *Hints) ([]AddrInfo, error) {
	if hints == nil {
		hints = &Hints{}
	}

	port := 0
	if service != "" {
		network := "tcp"
		if hints.SockType == unix.SOCK_DGRAM {
			network = "udp"
		}
		p, err := net.DefaultResolver.LookupPort(ctx, network, service)
		if err != nil {
			return nil, err
		}
		port = p
	}

	if node == "" {
		node = "localhost"
	}
	ips, err := net.DefaultResolver.LookupIPAddr(ctx, node)
	if err != nil {
		return nil, err
	}

	sockType := hints.SockType
	if sockType == 0 {
		sockType = unix.SOCK_STREAM
	}

	var out []AddrInfo
	for _, ip := range ips {
		if v4 := ip.IP.To4(); v4 != nil {
			if hints.Family != 0 && hints.Family != unix.AF_INET {
				continue
			}
			sa := &unix.SockaddrInet4{Port: port}
			copy(sa.Addr[:], v4)
			out = append(out, AddrInfo{
				Family:   unix.AF_INET,
				SockType: sockType,
				Protocol: hints.Protocol,
				Addr:     sa,
			})
			continue
		}
		if hints.Family != 0 && hints.Family != unix.AF_INET6 {
			continue
		}
		sa := &unix.SockaddrInet6{Port: port}
		copy(sa.Addr[:], ip.IP.To16())
		out = append(out, AddrInfo{
			Family:   unix.AF_INET6,
			SockType: sockType,
			Protocol: hints.Protocol,
			Addr:     sa,
		})
	}

	if len(out) == 0 {
		return nil, &net.DNSError{Err: "no suitable addresses", Name: node}
	}
	return out, nil
}
