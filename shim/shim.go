// Package shim is the interposition layer itself: one hook per intercepted
// socket call, each composing symbol resolution, reentry guarding, the
// context registry, and delegation to the external intent resolver. A hook
// never produces an observably different socket-level result than the
// unintercepted call would: descriptors this layer never saw pass straight
// through, and every error from the real implementation or the resolver is
// returned verbatim.
package shim

import (
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/socket-intents/intent-shim/event"
	"github.com/socket-intents/intent-shim/guard"
	"github.com/socket-intents/intent-shim/registry"
	"github.com/socket-intents/intent-shim/resolver"
	"github.com/socket-intents/intent-shim/symbols"
	"github.com/socket-intents/intent-shim/trace"
)

// Hook sites, one guard each. A nested call into one site never interferes
// with concurrent calls into the others.
const (
	siteSocket = iota
	siteSetsockopt
	siteGetsockopt
	siteGetaddrinfo
	siteBind
	siteConnect
	siteClose
	numSites
)

const defaultScopeCacheSize = 256

// Shim intercepts the socket lifecycle calls and associates each descriptor
// it creates with a context in the registry.
type Shim struct {
	syms   *symbols.Table
	res    resolver.Resolver
	tr     *trace.Tracer
	sink   event.Sink
	guards [numSites]guard.Guard

	// The registry is constructed lazily by the first successful create and
	// then lives for the rest of the process.
	regMu sync.Mutex
	reg   *registry.Registry

	scopes *scopeCache
}

// Option configures a Shim.
type Option func(*options)

type options struct {
	tr             *trace.Tracer
	sink           event.Sink
	providers      []symbols.Provider
	scopeCacheSize int
}

// WithTracer sets the diagnostic tracer.
func WithTracer(tr *trace.Tracer) Option {
	return func(o *options) { o.tr = tr }
}

// WithSink sets the lifecycle event sink.
func WithSink(sink event.Sink) Option {
	return func(o *options) { o.sink = sink }
}

// WithProviders layers extra implementation providers ahead of the operating
// system in the symbol search order.
func WithProviders(ps ...symbols.Provider) Option {
	return func(o *options) { o.providers = append(o.providers, ps...) }
}

// WithScopeCacheSize bounds the number of live resolution scopes.
func WithScopeCacheSize(n int) Option {
	return func(o *options) { o.scopeCacheSize = n }
}

// New creates a shim delegating to res.
func New(res resolver.Resolver, opts ...Option) (*Shim, error) {
	o := &options{scopeCacheSize: defaultScopeCacheSize}
	for _, opt := range opts {
		opt(o)
	}
	if o.tr == nil {
		o.tr = trace.Nop()
	}

	providers := append(append([]symbols.Provider{}, o.providers...), symbols.OSProvider{})
	scopes, err := newScopeCache(res, o.tr, o.scopeCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create scope cache: %v", err)
	}

	return &Shim{
		syms:   symbols.NewTable(providers...),
		res:    res,
		tr:     o.tr,
		sink:   o.sink,
		scopes: scopes,
	}, nil
}

// registry returns the registry, constructing it on first use.
func (s *Shim) registry() *registry.Registry {
	s.regMu.Lock()
	defer s.regMu.Unlock()
	if s.reg == nil {
		s.tr.Registry().Debug("initializing socket registry")
		s.reg = registry.New(s.res, s.tr, s.sink)
	}
	return s.reg
}

// loadedRegistry returns the registry only if it already exists.
func (s *Shim) loadedRegistry() *registry.Registry {
	s.regMu.Lock()
	defer s.regMu.Unlock()
	return s.reg
}

// lookup finds a live, non-inert context for fd.
func (s *Shim) lookup(fd int) (*registry.Context, bool) {
	reg := s.loadedRegistry()
	if reg == nil {
		return nil, false
	}
	ctx, ok := reg.Lookup(fd)
	if !ok || ctx.Handle() == nil {
		return nil, false
	}
	return ctx, true
}

func (s *Shim) publish(e event.Event) {
	if s.sink != nil {
		s.sink.Publish(e)
	}
}

// Socket intercepts socket creation. On success a new context is built for
// the returned descriptor and inserted into the registry; a context whose
// initialization fails is stored inert so the descriptor stays usable as a
// plain pass-through socket.
func (s *Shim) Socket(domain, typ, proto int) (int, error) {
	s.tr.Calls().Debug("socket", zap.Int("domain", domain), zap.Int("type", typ), zap.Int("proto", proto))

	fn, err := symbols.ResolveAs[symbols.SocketFunc](s.syms, symbols.NameSocket)
	if err != nil {
		s.tr.Internal().Error("symbol resolution failed", zap.String("name", symbols.NameSocket), zap.Error(err))
		return -1, unix.ENOSYS
	}

	if !s.guards[siteSocket].Enter() {
		s.tr.Calls().Debug("socket: nested call, forwarding")
		return fn(domain, typ, proto)
	}
	defer s.guards[siteSocket].Exit()

	fd, err := fn(domain, typ, proto)
	if err != nil {
		s.tr.Calls().Error("socket creation failed", zap.Error(err))
		s.publish(event.New(event.OpCreate, fd, false, "", err))
		return fd, err
	}

	reg := s.registry()
	handle, ierr := s.res.ContextInit()
	if ierr != nil {
		// Out-of-memory-class condition: the descriptor stays usable, the
		// entry stays inert so nothing retries the failing initialization.
		s.tr.Internal().Error("failed to initialize context", zap.Int("fd", fd), zap.Error(ierr))
		handle = nil
	}
	reg.Insert(fd, registry.NewContext(handle))

	s.publish(event.New(event.OpCreate, fd, handle != nil, fmt.Sprintf("domain=%d type=%d proto=%d", domain, typ, proto), nil))
	return fd, nil
}

// Setsockopt intercepts option setting. Descriptors with a live context are
// delegated to the resolver; everything else is forwarded untouched.
func (s *Shim) Setsockopt(fd, level, opt int, value []byte) error {
	s.tr.Calls().Debug("setsockopt", zap.Int("fd", fd), zap.Int("level", level), zap.Int("opt", opt), zap.Int("len", len(value)))

	fn, err := symbols.ResolveAs[symbols.SetsockoptFunc](s.syms, symbols.NameSetsockopt)
	if err != nil {
		s.tr.Internal().Error("symbol resolution failed", zap.String("name", symbols.NameSetsockopt), zap.Error(err))
		return unix.ENOSYS
	}

	if !s.guards[siteSetsockopt].Enter() {
		s.tr.Calls().Debug("setsockopt: nested call, forwarding")
		return fn(fd, level, opt, value)
	}
	defer s.guards[siteSetsockopt].Exit()

	ctx, ok := s.lookup(fd)
	if !ok {
		s.tr.Calls().Debug("setsockopt: no context, forwarding", zap.Int("fd", fd))
		return fn(fd, level, opt, value)
	}

	if err := s.res.SetOption(ctx.Handle(), fd, level, opt, value); err != nil {
		s.tr.Calls().Error("resolver setsockopt failed", zap.Int("fd", fd), zap.Error(err))
		s.publish(event.New(event.OpSetOption, fd, true, fmt.Sprintf("level=%d opt=%d", level, opt), err))
		return err
	}
	s.publish(event.New(event.OpSetOption, fd, true, fmt.Sprintf("level=%d opt=%d", level, opt), nil))
	return nil
}

// Getsockopt intercepts option reading, with the same delegation rule as
// Setsockopt.
func (s *Shim) Getsockopt(fd, level, opt int, value []byte) (int, error) {
	s.tr.Calls().Debug("getsockopt", zap.Int("fd", fd), zap.Int("level", level), zap.Int("opt", opt))

	fn, err := symbols.ResolveAs[symbols.GetsockoptFunc](s.syms, symbols.NameGetsockopt)
	if err != nil {
		s.tr.Internal().Error("symbol resolution failed", zap.String("name", symbols.NameGetsockopt), zap.Error(err))
		return 0, unix.ENOSYS
	}

	if !s.guards[siteGetsockopt].Enter() {
		s.tr.Calls().Debug("getsockopt: nested call, forwarding")
		return fn(fd, level, opt, value)
	}
	defer s.guards[siteGetsockopt].Exit()

	ctx, ok := s.lookup(fd)
	if !ok {
		s.tr.Calls().Debug("getsockopt: no context, forwarding", zap.Int("fd", fd))
		return fn(fd, level, opt, value)
	}

	n, err := s.res.GetOption(ctx.Handle(), fd, level, opt, value)
	if err != nil {
		s.tr.Calls().Error("resolver getsockopt failed", zap.Int("fd", fd), zap.Error(err))
		s.publish(event.New(event.OpGetOption, fd, true, fmt.Sprintf("level=%d opt=%d", level, opt), err))
		return n, err
	}
	s.publish(event.New(event.OpGetOption, fd, true, fmt.Sprintf("level=%d opt=%d", level, opt), nil))
	return n, nil
}

// Getaddrinfo intercepts name resolution under the process default scope.
func (s *Shim) Getaddrinfo(node, service string, hints *resolver.Hints) ([]resolver.AddrInfo, error) {
	return s.GetaddrinfoScope(DefaultScope, node, service, hints)
}

// GetaddrinfoScope intercepts name resolution under an explicit resolution
// scope. An unknown scope forwards to the real resolution verbatim.
func (s *Shim) GetaddrinfoScope(scope Scope, node, service string, hints *resolver.Hints) ([]resolver.AddrInfo, error) {
	s.tr.Calls().Debug("getaddrinfo", zap.Uint64("scope", uint64(scope)), zap.String("node", node), zap.String("service", service))

	fn, err := symbols.ResolveAs[symbols.GetaddrinfoFunc](s.syms, symbols.NameGetaddrinfo)
	if err != nil {
		s.tr.Internal().Error("symbol resolution failed", zap.String("name", symbols.NameGetaddrinfo), zap.Error(err))
		return nil, unix.ENOSYS
	}

	if !s.guards[siteGetaddrinfo].Enter() {
		s.tr.Calls().Debug("getaddrinfo: nested call, forwarding")
		return fn(node, service, hints)
	}
	defer s.guards[siteGetaddrinfo].Exit()

	h, ok := s.scopes.lookup(scope)
	if !ok {
		s.tr.Calls().Debug("getaddrinfo: no resolution context, forwarding", zap.Uint64("scope", uint64(scope)))
		return fn(node, service, hints)
	}

	res, err := s.res.ResolveAddresses(h, node, service, hints)
	if err != nil {
		s.tr.Calls().Error("resolver getaddrinfo failed", zap.String("node", node), zap.Error(err))
		s.publish(event.New(event.OpResolve, -1, true, fmt.Sprintf("node=%s service=%s", node, service), err))
		return nil, err
	}
	s.publish(event.New(event.OpResolve, -1, true, fmt.Sprintf("node=%s service=%s results=%d", node, service, len(res)), nil))
	return res, nil
}

// Bind intercepts bind. Binding carries no delegable intent today, so the
// call always forwards to the real implementation.
func (s *Shim) Bind(fd int, sa unix.Sockaddr) error {
	s.tr.Calls().Debug("bind", zap.Int("fd", fd))

	fn, err := symbols.ResolveAs[symbols.BindFunc](s.syms, symbols.NameBind)
	if err != nil {
		s.tr.Internal().Error("symbol resolution failed", zap.String("name", symbols.NameBind), zap.Error(err))
		return unix.ENOSYS
	}

	if !s.guards[siteBind].Enter() {
		s.tr.Calls().Debug("bind: nested call, forwarding")
		return fn(fd, sa)
	}
	defer s.guards[siteBind].Exit()

	if err := fn(fd, sa); err != nil {
		s.tr.Calls().Error("bind failed", zap.Int("fd", fd), zap.Error(err))
		s.publish(event.New(event.OpBind, fd, false, "", err))
		return err
	}
	s.publish(event.New(event.OpBind, fd, false, "", nil))
	return nil
}

// Connect intercepts connect. Descriptors with a live context are delegated
// to the resolver; everything else forwards untouched.
func (s *Shim) Connect(fd int, sa unix.Sockaddr) error {
	s.tr.Calls().Debug("connect", zap.Int("fd", fd))

	fn, err := symbols.ResolveAs[symbols.ConnectFunc](s.syms, symbols.NameConnect)
	if err != nil {
		s.tr.Internal().Error("symbol resolution failed", zap.String("name", symbols.NameConnect), zap.Error(err))
		return unix.ENOSYS
	}

	if !s.guards[siteConnect].Enter() {
		s.tr.Calls().Debug("connect: nested call, forwarding")
		return fn(fd, sa)
	}
	defer s.guards[siteConnect].Exit()

	ctx, ok := s.lookup(fd)
	if !ok {
		s.tr.Calls().Debug("connect: no context, forwarding", zap.Int("fd", fd))
		return fn(fd, sa)
	}

	if err := s.res.ConnectSocket(ctx.Handle(), fd, sa); err != nil {
		s.tr.Calls().Error("resolver connect failed", zap.Int("fd", fd), zap.Error(err))
		s.publish(event.New(event.OpConnect, fd, true, "", err))
		return err
	}
	s.publish(event.New(event.OpConnect, fd, true, "", nil))
	return nil
}

// Close intercepts close. The registry entry, if any, is removed first,
// releasing its context, and the close is always forwarded to the real
// implementation afterwards, whatever the removal outcome, so the descriptor
// number can be reused safely.
func (s *Shim) Close(fd int) error {
	s.tr.Calls().Debug("close", zap.Int("fd", fd))

	fn, err := symbols.ResolveAs[symbols.CloseFunc](s.syms, symbols.NameClose)
	if err != nil {
		s.tr.Internal().Error("symbol resolution failed", zap.String("name", symbols.NameClose), zap.Error(err))
		return unix.ENOSYS
	}

	if !s.guards[siteClose].Enter() {
		s.tr.Calls().Debug("close: nested call, forwarding")
		return fn(fd)
	}
	defer s.guards[siteClose].Exit()

	if reg := s.loadedRegistry(); reg != nil {
		reg.Remove(fd)
	}

	if err := fn(fd); err != nil {
		s.tr.Calls().Error("close failed", zap.Int("fd", fd), zap.Error(err))
		s.publish(event.New(event.OpClose, fd, false, "", err))
		return err
	}
	s.publish(event.New(event.OpClose, fd, false, "", nil))
	return nil
}

// NewScope allocates an address-resolution scope backed by its own resolver
// context. The scope stays live until CloseScope or cache eviction.
func (s *Shim) NewScope() (Scope, error) {
	return s.scopes.create()
}

// CloseScope releases a resolution scope and its context.
func (s *Shim) CloseScope(scope Scope) bool {
	return s.scopes.close(scope)
}

// SeedDefaultScope attaches a resolver context to the default scope so plain
// Getaddrinfo calls resolve through the resolver instead of passing through.
func (s *Shim) SeedDefaultScope() error {
	h, err := s.res.ContextInit()
	if err != nil {
		return err
	}
	s.scopes.seed(DefaultScope, h)
	return nil
}

// RegistrySize returns the number of descriptors currently tracked.
func (s *Shim) RegistrySize() int {
	reg := s.loadedRegistry()
	if reg == nil {
		return 0
	}
	return reg.Len()
}

// RegistrySnapshot returns the current registry contents for display.
func (s *Shim) RegistrySnapshot() []registry.Entry {
	reg := s.loadedRegistry()
	if reg == nil {
		return nil
	}
	return reg.Snapshot()
}

// DumpRegistry writes a human-readable registry table to w.
func (s *Shim) DumpRegistry(w io.Writer) {
	reg := s.loadedRegistry()
	if reg == nil {
		fmt.Fprintln(w, "registry not initialized")
		return
	}

	fmt.Fprintln(w, "+++ socket registry +++")
	reg.Range(func(fd int, ctx *registry.Context) {
		if ctx.Handle() == nil {
			fmt.Fprintf(w, "socket %d: <inert context>\n", fd)
			return
		}
		fmt.Fprintf(w, "socket %d: %s\n", fd, s.res.PrintContext(ctx.Handle()))
	})
	fmt.Fprintln(w, "+++ end of registry +++")
}
