// Package resolver defines the contract between the interposition shim and
// an external intent resolver: the out-of-process service that turns
// declared socket intents into concrete socket effects. The shim consumes
// this interface only; the decision logic behind it is not part of this
// repository.
package resolver

import (
	"golang.org/x/sys/unix"
)

// Handle is the resolver-side state for one socket context. A nil Handle
// means a context was allocated but never initialized; the shim treats such
// contexts as inert and degrades to pass-through behavior.
type Handle interface{}

// LevelIntent is the option level carrying declared intents rather than
// kernel socket options.
const LevelIntent = 300

// Intent option names understood at LevelIntent.
const (
	IntentCategory = iota + 1
	IntentFilesize
	IntentDuration
	IntentBitrate
	IntentBurstiness
	IntentTimeliness
	IntentResilience
)

// Hints narrows an address resolution request, mirroring addrinfo hints.
// Zero values mean "any".
type Hints struct {
	Family   int
	SockType int
	Protocol int
	Flags    int
}

// AddrInfo is one resolved endpoint candidate.
type AddrInfo struct {
	Family    int
	SockType  int
	Protocol  int
	Addr      unix.Sockaddr
	CanonName string
}

// Resolver is the set of operations the shim delegates to. Every method may
// block for as long as a resolver round trip takes; the shim adds no timeout
// of its own and passes every returned error through verbatim.
type Resolver interface {
	// ContextInit allocates resolver-side state for a new socket context.
	ContextInit() (Handle, error)

	// SetOption applies or records a socket option for the context.
	SetOption(h Handle, fd, level, opt int, value []byte) error

	// GetOption reads a socket option through the context, filling value
	// and returning the number of bytes written.
	GetOption(h Handle, fd, level, opt int, value []byte) (int, error)

	// ResolveAddresses resolves node/service under the context's intents.
	ResolveAddresses(h Handle, node, service string, hints *Hints) ([]AddrInfo, error)

	// ConnectSocket connects the descriptor under the context's intents.
	ConnectSocket(h Handle, fd int, sa unix.Sockaddr) error

	// ReleaseContext drops one reference to the resolver-side state and
	// returns the number of references still outstanding. A return value
	// greater than zero means the resolver keeps ownership of the state and
	// the caller must not finalize its local shell.
	ReleaseContext(h Handle) int

	// PrintContext renders the context for diagnostics.
	PrintContext(h Handle) string
}
