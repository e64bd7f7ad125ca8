// Package guard provides per-goroutine reentry detection for hook sites.
//
// A hook site is "active" for a goroutine from the moment its body starts
// until it returns. If the real implementation behind the hook, or anything
// it calls, reenters the same hook on the same goroutine, Enter reports the
// nesting so the hook can forward verbatim instead of recursing forever.
// Calls from other goroutines are legitimate concurrency, never nesting.
package guard

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
)

// Guard is the reentry flag for one hook site. The zero value is ready to
// use. It is not a mutual-exclusion primitive: it never blocks, it only
// classifies a call as outer or nested.
type Guard struct {
	active sync.Map // goroutine id -> struct{}
}

// Enter marks the site active for the calling goroutine. It returns false if
// the site is already active on this goroutine, meaning the caller is a
// nested reentry and must skip all hook logic except the verbatim forward.
func (g *Guard) Enter() bool {
	_, nested := g.active.LoadOrStore(goroutineID(), struct{}{})
	return !nested
}

// Exit marks the site idle for the calling goroutine. It must run on every
// exit path of an outer invocation, including error paths; callers defer it
// immediately after a successful Enter.
func (g *Guard) Exit() {
	g.active.Delete(goroutineID())
}

// goroutineID extracts the current goroutine's id from the stack header
// ("goroutine 123 [running]:"). The runtime offers no cheaper supported way
// to identify a goroutine.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	fields := bytes.Fields(buf[:n])
	if len(fields) < 2 {
		return 0
	}
	id, err := strconv.ParseUint(string(fields[1]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
