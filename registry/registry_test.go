package registry

import (
	"testing"

	"github.com/socket-intents/intent-shim/event"
	"github.com/socket-intents/intent-shim/resolver"
	"github.com/socket-intents/intent-shim/trace"
)

// fakeReleaser returns a fixed remaining-usage count and records every
// release call.
type fakeReleaser struct {
	remaining int
	released  []resolver.Handle
}

func (f *fakeReleaser) ReleaseContext(h resolver.Handle) int {
	f.released = append(f.released, h)
	return f.remaining
}

type captureSink struct {
	events []event.Event
}

func (c *captureSink) Publish(e event.Event) {
	c.events = append(c.events, e)
}

func TestInsertLookupRemove(t *testing.T) {
	rel := &fakeReleaser{}
	reg := New(rel, trace.Nop(), nil)

	handle := &struct{}{}
	reg.Insert(4, NewContext(handle))

	ctx, ok := reg.Lookup(4)
	if !ok {
		t.Fatal("Expected context for fd 4")
	}
	if ctx.Handle() != handle {
		t.Error("Lookup returned a different context")
	}
	if reg.Len() != 1 {
		t.Errorf("Expected 1 entry, got %d", reg.Len())
	}

	if !reg.Remove(4) {
		t.Error("Expected Remove to report an entry removed")
	}
	if reg.Len() != 0 {
		t.Errorf("Expected empty registry after Remove, got %d entries", reg.Len())
	}
	if len(rel.released) != 1 || rel.released[0] != handle {
		t.Errorf("Expected exactly one release of the inserted handle, got %v", rel.released)
	}
	if !ctx.Freed() {
		t.Error("Expected context shell to be finalized after release with no outstanding usage")
	}
}

func TestRemoveAbsentDescriptor(t *testing.T) {
	reg := New(&fakeReleaser{}, trace.Nop(), nil)

	if reg.Remove(99) {
		t.Error("Expected Remove of an absent descriptor to report false")
	}
}

func TestRemoveWithOutstandingUsage(t *testing.T) {
	rel := &fakeReleaser{remaining: 2}
	reg := New(rel, trace.Nop(), nil)

	ctx := NewContext(&struct{}{})
	reg.Insert(5, ctx)

	if !reg.Remove(5) {
		t.Fatal("Expected Remove to drop the entry")
	}
	if len(rel.released) != 1 {
		t.Fatalf("Expected one release call, got %d", len(rel.released))
	}
	// The resolver still holds references, so the local shell must survive.
	if ctx.Freed() {
		t.Error("Expected shell to remain unfinalized while usage is outstanding")
	}
}

func TestRemoveInertContext(t *testing.T) {
	rel := &fakeReleaser{}
	reg := New(rel, trace.Nop(), nil)

	ctx := NewContext(nil)
	reg.Insert(6, ctx)

	if !reg.Remove(6) {
		t.Fatal("Expected Remove to drop the inert entry")
	}
	if len(rel.released) != 0 {
		t.Error("Expected no resolver release for an inert context")
	}
	if !ctx.Freed() {
		t.Error("Expected inert shell to be finalized immediately")
	}
}

func TestInsertClashReleasesStale(t *testing.T) {
	rel := &fakeReleaser{}
	reg := New(rel, trace.Nop(), nil)

	staleHandle := &struct{}{}
	stale := NewContext(staleHandle)
	reg.Insert(7, stale)
	reg.Insert(7, NewContext(&struct{}{}))

	if reg.Len() != 1 {
		t.Errorf("Expected a single entry after clashing insert, got %d", reg.Len())
	}
	if len(rel.released) != 1 || rel.released[0] != staleHandle {
		t.Errorf("Expected the stale handle to be released, got %v", rel.released)
	}
	if !stale.Freed() {
		t.Error("Expected stale shell to be finalized")
	}
}

func TestRegistryPublishesEvents(t *testing.T) {
	sink := &captureSink{}
	reg := New(&fakeReleaser{}, trace.Nop(), sink)

	reg.Insert(3, NewContext(&struct{}{}))
	reg.Remove(3)

	if len(sink.events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(sink.events))
	}
	if sink.events[0].Op != event.OpRegister || sink.events[0].FD != 3 {
		t.Errorf("Unexpected first event: %+v", sink.events[0])
	}
	if sink.events[1].Op != event.OpUnregister || sink.events[1].FD != 3 {
		t.Errorf("Unexpected second event: %+v", sink.events[1])
	}
}

func TestSnapshotOrdering(t *testing.T) {
	reg := New(&fakeReleaser{}, trace.Nop(), nil)

	reg.Insert(9, NewContext(&struct{}{}))
	reg.Insert(3, NewContext(nil))
	reg.Insert(5, NewContext(&struct{}{}))

	entries := reg.Snapshot()
	if len(entries) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(entries))
	}
	for i, want := range []int{3, 5, 9} {
		if entries[i].FD != want {
			t.Errorf("Entry %d: expected fd %d, got %d", i, want, entries[i].FD)
		}
	}
	if !entries[0].Inert {
		t.Error("Expected fd 3 to be marked inert")
	}
	if entries[1].Inert {
		t.Error("Expected fd 5 to be live")
	}
}
