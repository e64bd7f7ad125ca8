package guard

import (
	"sync"
	"testing"
)

func TestEnterDetectsNesting(t *testing.T) {
	var g Guard

	if !g.Enter() {
		t.Fatal("Expected outer Enter to succeed")
	}
	if g.Enter() {
		t.Error("Expected nested Enter to report reentry")
	}
	g.Exit()

	if !g.Enter() {
		t.Error("Expected Enter to succeed again after Exit")
	}
	g.Exit()
}

func TestGuardsAreIndependent(t *testing.T) {
	var a, b Guard

	if !a.Enter() {
		t.Fatal("Expected Enter on first guard to succeed")
	}
	defer a.Exit()

	if !b.Enter() {
		t.Error("Expected Enter on a different guard to succeed while the first is active")
	}
	b.Exit()
}

func TestGoroutinesDoNotInterfere(t *testing.T) {
	var g Guard

	if !g.Enter() {
		t.Fatal("Expected Enter to succeed")
	}
	defer g.Exit()

	// Another goroutine entering the same site is concurrency, not nesting.
	result := make(chan bool)
	go func() {
		ok := g.Enter()
		if ok {
			g.Exit()
		}
		result <- ok
	}()

	if !<-result {
		t.Error("Expected Enter from another goroutine to succeed")
	}
}

func TestConcurrentEnterExit(t *testing.T) {
	var g Guard
	var wg sync.WaitGroup

	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if !g.Enter() {
					t.Error("Unexpected nesting report on a fresh goroutine iteration")
					return
				}
				if g.Enter() {
					t.Error("Expected nested Enter to report reentry")
					g.Exit()
					return
				}
				g.Exit()
			}
		}()
	}
	wg.Wait()
}
