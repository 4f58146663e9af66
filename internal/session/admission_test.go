package session

import (
	"sync"
	"testing"

	"crewcontrol.gg/internal/game"
)

func TestAdmission_Lifecycle(t *testing.T) {
	a := NewAdmission()

	// No counter yet: the game is not alive.
	if a.IncrementIfZero(5) {
		t.Fatalf("acquired gate for unregistered game")
	}

	a.Create(5)
	if !a.IncrementIfZero(5) {
		t.Fatalf("could not acquire free gate")
	}
	if a.IncrementIfZero(5) {
		t.Fatalf("acquired held gate")
	}

	a.Decrement(5)
	if !a.IncrementIfZero(5) {
		t.Fatalf("could not re-acquire released gate")
	}

	a.Remove(5)
	if a.IncrementIfZero(5) {
		t.Fatalf("acquired gate for removed game")
	}
}

func TestAdmission_DecrementIsIdempotent(t *testing.T) {
	a := NewAdmission()
	a.Create(7)

	a.Decrement(7) // free: no-op
	a.Decrement(9) // missing: no-op

	if !a.IncrementIfZero(7) {
		t.Fatalf("gate should still be free")
	}
	a.Decrement(7)
	a.Decrement(7)
	if !a.IncrementIfZero(7) {
		t.Fatalf("double release must not go negative")
	}
}

func TestAdmission_ConcurrentSingleWinner(t *testing.T) {
	a := NewAdmission()
	a.Create(game.Code(11))

	const n = 32
	var wg sync.WaitGroup
	wins := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if a.IncrementIfZero(11) {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	if count != 1 {
		t.Fatalf("%d goroutines acquired the gate", count)
	}
}
