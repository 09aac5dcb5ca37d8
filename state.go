package govauth

import (
	"slices"
	"sync"

	"github.com/sirupsen/logrus"
)

// SessionState is the client's position in the session lifecycle.
// Unauthenticated and Authenticated are the only resting states.
type SessionState int32

const (
	StateUnauthenticated SessionState = iota
	StateAuthenticating
	StateTwoFactorPending
	StateAuthenticated
	StateTokenRefreshing
)

func (s SessionState) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticating:
		return "authenticating"
	case StateTwoFactorPending:
		return "two_factor_pending"
	case StateAuthenticated:
		return "authenticated"
	case StateTokenRefreshing:
		return "token_refreshing"
	}
	return "unknown"
}

// Stable reports whether s is a resting state.
func (s SessionState) Stable() bool {
	return s == StateUnauthenticated || s == StateAuthenticated
}

var transitions = map[SessionState][]SessionState{
	StateUnauthenticated:  {StateAuthenticating},
	StateAuthenticating:   {StateTwoFactorPending, StateAuthenticated, StateUnauthenticated},
	StateTwoFactorPending: {StateAuthenticating, StateUnauthenticated},
	StateAuthenticated:    {StateTokenRefreshing, StateUnauthenticated},
	StateTokenRefreshing:  {StateAuthenticated, StateUnauthenticated},
}

type stateEvent struct {
	from, to SessionState
}

// stateMachine serializes transitions and delivers them to listeners in
// order. Listeners may call back into the client.
type stateMachine struct {
	logger logrus.FieldLogger

	mu        sync.Mutex
	cur       SessionState
	listeners []func(from, to SessionState)
	pending   []stateEvent
	draining  bool
}

func newStateMachine(logger logrus.FieldLogger) *stateMachine {
	return &stateMachine{logger: logger}
}

func (m *stateMachine) current() SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur
}

func (m *stateMachine) subscribe(fn func(from, to SessionState)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// transition moves from -> to if the machine is at from and the edge exists.
func (m *stateMachine) transition(from, to SessionState) bool {
	m.mu.Lock()
	if m.cur != from || !slices.Contains(transitions[from], to) {
		m.mu.Unlock()
		return false
	}
	m.cur = to
	m.pending = append(m.pending, stateEvent{from: from, to: to})
	m.drainLocked()
	return true
}

// settle moves to a resting state from wherever the machine is.
func (m *stateMachine) settle(to SessionState) SessionState {
	m.mu.Lock()
	from := m.cur
	if from == to {
		m.mu.Unlock()
		return from
	}
	m.cur = to
	m.pending = append(m.pending, stateEvent{from: from, to: to})
	m.drainLocked()
	return from
}

// drainLocked is entered with mu held and returns with it released.
func (m *stateMachine) drainLocked() {
	if m.draining {
		m.mu.Unlock()
		return
	}
	m.draining = true
	for len(m.pending) > 0 {
		batch := m.pending
		m.pending = nil
		listeners := m.listeners
		m.mu.Unlock()

		for _, ev := range batch {
			m.logger.WithFields(logrus.Fields{"from": ev.from.String(), "state": ev.to.String()}).
				Debug("govauth: session state changed")
			for _, fn := range listeners {
				fn(ev.from, ev.to)
			}
		}
		m.mu.Lock()
	}
	m.draining = false
	m.mu.Unlock()
}
