package shim

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"

	"github.com/socket-intents/intent-shim/resolver"
	"github.com/socket-intents/intent-shim/trace"
)

// Scope identifies one address-resolution context. Address resolution runs
// before any descriptor exists for the destination, so resolution state is
// keyed by an explicit scope handle instead of a descriptor. The zero scope
// is the process default; it has no context unless one is seeded, in which
// case plain Getaddrinfo calls resolve under it.
type Scope uint64

// DefaultScope is the scope used by Getaddrinfo calls that carry no explicit
// scope of their own.
const DefaultScope Scope = 0

// scopeCache holds resolver contexts for live scopes. Capacity is bounded;
// the least recently used scope is evicted and its context released, so an
// application that never closes scopes cannot grow this without limit.
type scopeCache struct {
	res   resolver.Resolver
	tr    *trace.Tracer
	next  atomic.Uint64
	cache *lru.Cache
}

func newScopeCache(res resolver.Resolver, tr *trace.Tracer, size int) (*scopeCache, error) {
	sc := &scopeCache{res: res, tr: tr}
	cache, err := lru.NewWithEvict(size, func(key, value interface{}) {
		sc.releaseHandle(key.(Scope), value.(resolver.Handle))
	})
	if err != nil {
		return nil, err
	}
	sc.cache = cache
	return sc, nil
}

func (sc *scopeCache) releaseHandle(s Scope, h resolver.Handle) {
	if remaining := sc.res.ReleaseContext(h); remaining > 0 {
		sc.tr.Internal().Error("resolution scope still in use after release",
			zap.Uint64("scope", uint64(s)), zap.Int("usage", remaining))
	} else {
		sc.tr.Internal().Debug("released resolution scope", zap.Uint64("scope", uint64(s)))
	}
}

// create allocates a scope backed by a fresh resolver context.
func (sc *scopeCache) create() (Scope, error) {
	h, err := sc.res.ContextInit()
	if err != nil {
		return 0, err
	}
	s := Scope(sc.next.Add(1))
	sc.cache.Add(s, h)
	return s, nil
}

// seed attaches a handle to an existing scope id, used for the default scope.
func (sc *scopeCache) seed(s Scope, h resolver.Handle) {
	sc.cache.Add(s, h)
}

func (sc *scopeCache) lookup(s Scope) (resolver.Handle, bool) {
	v, ok := sc.cache.Get(s)
	if !ok {
		return nil, false
	}
	return v.(resolver.Handle), true
}

// close drops the scope and releases its context. Closing an unknown scope
// reports false.
func (sc *scopeCache) close(s Scope) bool {
	return sc.cache.Remove(s)
}
