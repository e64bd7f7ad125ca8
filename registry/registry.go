// Package registry maps live socket descriptors to their contexts. The
// registry owns both the descriptor key and the context value: removing an
// entry runs the context's release procedure exactly once, and a context is
// never reachable from more than one entry.
package registry

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/socket-intents/intent-shim/event"
	"github.com/socket-intents/intent-shim/resolver"
	"github.com/socket-intents/intent-shim/trace"
)

// Context is the shim's per-descriptor bookkeeping shell around the
// resolver-side state. A nil handle means context initialization failed at
// creation time; the entry stays in the registry as an inert marker so hooks
// find it and degrade to pass-through instead of retrying initialization.
type Context struct {
	handle  resolver.Handle
	created time.Time

	mu    sync.Mutex
	freed bool
}

// NewContext wraps a resolver handle. Pass nil for an inert context.
func NewContext(h resolver.Handle) *Context {
	return &Context{handle: h, created: time.Now()}
}

// Handle returns the resolver-side state, nil if the context is inert.
func (c *Context) Handle() resolver.Handle { return c.handle }

// Created returns the context's creation time.
func (c *Context) Created() time.Time { return c.created }

// Freed reports whether the context's local shell has been finalized.
func (c *Context) Freed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.freed
}

// finalize marks the shell released. It reports false if the shell was
// already finalized, which would indicate a double release.
func (c *Context) finalize() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.freed {
		return false
	}
	c.freed = true
	return true
}

// Releaser is the slice of the resolver contract the removal path needs.
type Releaser interface {
	ReleaseContext(h resolver.Handle) int
}

// Entry is one row of a registry snapshot.
type Entry struct {
	FD      int       `json:"fd"`
	Inert   bool      `json:"inert"`
	Created time.Time `json:"created"`
}

// Registry is the descriptor-to-context mapping. It is created lazily by
// the first successful create hook and lives for the rest of the process;
// entries are reclaimed one by one as sockets close.
type Registry struct {
	mu       sync.RWMutex
	contexts map[int]*Context

	res  Releaser
	tr   *trace.Tracer
	sink event.Sink
}

// New creates an empty registry. The sink may be nil.
func New(res Releaser, tr *trace.Tracer, sink event.Sink) *Registry {
	if tr == nil {
		tr = trace.Nop()
	}
	return &Registry{
		contexts: make(map[int]*Context),
		res:      res,
		tr:       tr,
		sink:     sink,
	}
}

// Insert stores ctx under fd, taking ownership of both. The descriptor must
// not already be present; if it is, the stale entry is released first and
// the condition is reported loudly, since it means a descriptor number was
// reused without its close passing through this layer.
func (r *Registry) Insert(fd int, ctx *Context) {
	r.mu.Lock()
	stale, clash := r.contexts[fd]
	r.contexts[fd] = ctx
	r.mu.Unlock()

	if clash {
		r.tr.Registry().Error("descriptor already present on insert, releasing stale entry",
			zap.Int("fd", fd))
		r.release(fd, stale)
	}

	r.tr.Registry().Debug("inserted context", zap.Int("fd", fd), zap.Bool("inert", ctx.handle == nil))
	r.publish(event.New(event.OpRegister, fd, false, "", nil))
}

// Lookup returns the context for fd. The reference is non-owning and valid
// only until the next mutating operation on fd.
func (r *Registry) Lookup(fd int) (*Context, bool) {
	r.mu.RLock()
	ctx, ok := r.contexts[fd]
	r.mu.RUnlock()
	return ctx, ok
}

// Remove drops the entry for fd, running the context release procedure, and
// reports whether anything was removed. Removing an absent descriptor is not
// an error.
func (r *Registry) Remove(fd int) bool {
	r.mu.Lock()
	ctx, ok := r.contexts[fd]
	if ok {
		delete(r.contexts, fd)
	}
	r.mu.Unlock()

	if !ok {
		r.tr.Registry().Debug("nothing to remove", zap.Int("fd", fd))
		return false
	}

	r.release(fd, ctx)
	r.tr.Registry().Debug("removed context", zap.Int("fd", fd))
	r.publish(event.New(event.OpUnregister, fd, false, "", nil))
	return true
}

// release runs the lifecycle release procedure for one context: inert shells
// are finalized immediately; otherwise the resolver drops its reference and
// the shell is finalized only when no usage remains outstanding.
func (r *Registry) release(fd int, ctx *Context) {
	if ctx.handle == nil {
		if !ctx.finalize() {
			r.tr.Internal().Error("context released twice", zap.Int("fd", fd))
		} else {
			r.tr.Internal().Debug("freeing empty context", zap.Int("fd", fd))
		}
		return
	}

	if remaining := r.res.ReleaseContext(ctx.handle); remaining > 0 {
		// The resolver still holds references; final accounting stays with
		// its own bookkeeping and the local shell must survive.
		r.tr.Registry().Error("context still in use after release",
			zap.Int("fd", fd), zap.Int("usage", remaining))
		return
	}

	if !ctx.finalize() {
		r.tr.Internal().Error("context released twice", zap.Int("fd", fd))
	}
}

// Len returns the number of live entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.contexts)
}

// Snapshot returns the current table contents ordered by descriptor, for
// the table dump and the dashboard.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	entries := make([]Entry, 0, len(r.contexts))
	for fd, ctx := range r.contexts {
		entries = append(entries, Entry{FD: fd, Inert: ctx.handle == nil, Created: ctx.created})
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].FD < entries[j].FD })
	return entries
}

// Range calls fn for each live entry in descriptor order. The context
// references passed to fn follow the same non-owning rule as Lookup.
func (r *Registry) Range(fn func(fd int, ctx *Context)) {
	r.mu.RLock()
	fds := make([]int, 0, len(r.contexts))
	ctxs := make(map[int]*Context, len(r.contexts))
	for fd, ctx := range r.contexts {
		fds = append(fds, fd)
		ctxs[fd] = ctx
	}
	r.mu.RUnlock()

	sort.Ints(fds)
	for _, fd := range fds {
		fn(fd, ctxs[fd])
	}
}

func (r *Registry) publish(e event.Event) {
	if r.sink != nil {
		r.sink.Publish(e)
	}
}
