package govauth

import (
	"sync"
	"testing"
)

func TestStateMachineTransitions(t *testing.T) {
	m := newStateMachine(quietLogger())

	if m.transition(StateUnauthenticated, StateAuthenticated) {
		t.Fatalf("unauthenticated -> authenticated must go through authenticating")
	}
	if !m.transition(StateUnauthenticated, StateAuthenticating) {
		t.Fatalf("expected unauthenticated -> authenticating")
	}
	if m.transition(StateUnauthenticated, StateAuthenticating) {
		t.Fatalf("transition from a stale state must fail")
	}
	if !m.transition(StateAuthenticating, StateAuthenticated) {
		t.Fatalf("expected authenticating -> authenticated")
	}
	if m.transition(StateAuthenticated, StateTwoFactorPending) {
		t.Fatalf("authenticated -> two_factor_pending is not an edge")
	}
	if prev := m.settle(StateUnauthenticated); prev != StateAuthenticated {
		t.Fatalf("settle returned %s", prev)
	}
	if m.current() != StateUnauthenticated {
		t.Fatalf("expected unauthenticated, got %s", m.current())
	}
}

func TestStateMachineSettleSameStateIsSilent(t *testing.T) {
	m := newStateMachine(quietLogger())
	calls := 0
	m.subscribe(func(_, _ SessionState) { calls++ })
	m.settle(StateUnauthenticated)
	if calls != 0 {
		t.Fatalf("settling into the current state notified listeners")
	}
}

func TestStateMachineReentrantListenerKeepsOrder(t *testing.T) {
	m := newStateMachine(quietLogger())

	var seen []SessionState
	m.subscribe(func(_, to SessionState) {
		seen = append(seen, to)
		if to == StateAuthenticating {
			// Nested transitions are queued until this listener returns.
			m.transition(StateAuthenticating, StateAuthenticated)
		}
	})
	var second []SessionState
	m.subscribe(func(_, to SessionState) { second = append(second, to) })

	m.transition(StateUnauthenticated, StateAuthenticating)

	want := []SessionState{StateAuthenticating, StateAuthenticated}
	for _, got := range [][]SessionState{seen, second} {
		if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestStateMachineConcurrentTransitionsSingleWinner(t *testing.T) {
	m := newStateMachine(quietLogger())

	const n = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if m.transition(StateUnauthenticated, StateAuthenticating) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	close(start)
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}

func TestSessionStateStrings(t *testing.T) {
	cases := map[SessionState]string{
		StateUnauthenticated:  "unauthenticated",
		StateAuthenticating:   "authenticating",
		StateTwoFactorPending: "two_factor_pending",
		StateAuthenticated:    "authenticated",
		StateTokenRefreshing:  "token_refreshing",
		SessionState(99):      "unknown",
	}
	for s, want := range cases {
		if s.String() != want {
			t.Fatalf("%d: expected %q, got %q", s, want, s.String())
		}
	}
	if !StateAuthenticated.Stable() || StateTokenRefreshing.Stable() {
		t.Fatalf("unexpected stability")
	}
}
