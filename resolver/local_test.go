package resolver

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"golang.org/x/sys/unix"
)

func TestLocalIntentRoundTrip(t *testing.T) {
	l := NewLocal()
	h, err := l.ContextInit()
	if err != nil {
		t.Fatalf("ContextInit failed: %v", err)
	}

	want := []byte{3, 0, 0, 0}
	if err := l.SetOption(h, -1, LevelIntent, IntentCategory, want); err != nil {
		t.Fatalf("SetOption failed: %v", err)
	}

	got := make([]byte, 4)
	n, err := l.GetOption(h, -1, LevelIntent, IntentCategory, got)
	if err != nil {
		t.Fatalf("GetOption failed: %v", err)
	}
	if n != 4 || !bytes.Equal(got, want) {
		t.Errorf("Expected %v, got %v (n=%d)", want, got, n)
	}
}

func TestLocalUnsetIntent(t *testing.T) {
	l := NewLocal()
	h, _ := l.ContextInit()

	if _, err := l.GetOption(h, -1, LevelIntent, IntentBitrate, make([]byte, 4)); err != unix.ENOPROTOOPT {
		t.Errorf("Expected ENOPROTOOPT for unset intent, got %v", err)
	}
}

func TestLocalInvalidHandle(t *testing.T) {
	l := NewLocal()

	if err := l.SetOption("bogus", -1, LevelIntent, IntentCategory, nil); err != unix.EINVAL {
		t.Errorf("Expected EINVAL for a foreign handle, got %v", err)
	}
	if _, err := l.ResolveAddresses(nil, "localhost", "80", nil); err != unix.EINVAL {
		t.Errorf("Expected EINVAL for a nil handle, got %v", err)
	}
}

func TestLocalReleaseCounting(t *testing.T) {
	l := NewLocal()
	h, _ := l.ContextInit()

	l.Retain(h)
	if remaining := l.ReleaseContext(h); remaining != 1 {
		t.Errorf("Expected 1 outstanding reference after first release, got %d", remaining)
	}
	if remaining := l.ReleaseContext(h); remaining != 0 {
		t.Errorf("Expected 0 outstanding references after final release, got %d", remaining)
	}
	// Over-release clamps rather than going negative.
	if remaining := l.ReleaseContext(h); remaining != 0 {
		t.Errorf("Expected clamped 0 on over-release, got %d", remaining)
	}
}

func TestLocalPrintContext(t *testing.T) {
	l := NewLocal()
	h, _ := l.ContextInit()
	l.SetOption(h, -1, LevelIntent, IntentCategory, []byte{1, 0, 0, 0})

	out := l.PrintContext(h)
	if !strings.Contains(out, "1 intents") {
		t.Errorf("Unexpected context rendering: %q", out)
	}
	if l.PrintContext(42) != "<invalid context>" {
		t.Errorf("Expected invalid-context marker for a foreign handle")
	}
}

func TestLookupAddrInfoLocalhost(t *testing.T) {
	addrs, err := LookupAddrInfo(context.Background(), "localhost", "80", &Hints{Family: unix.AF_INET})
	if err != nil {
		t.Fatalf("LookupAddrInfo failed: %v", err)
	}
	for _, ai := range addrs {
		if ai.Family != unix.AF_INET {
			t.Errorf("Expected only AF_INET results, got family %d", ai.Family)
		}
		sa, ok := ai.Addr.(*unix.SockaddrInet4)
		if !ok {
			t.Fatalf("Expected SockaddrInet4, got %T", ai.Addr)
		}
		if sa.Port != 80 {
			t.Errorf("Expected port 80, got %d", sa.Port)
		}
	}
}
