package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

// TokenStore is the single authoritative holder of the current session.
// Readers get immutable State values; writers are serialized so the
// persisted snapshot always follows the in-memory order of changes.
type TokenStore struct {
	persister Persister
	now       func() time.Time

	// writeMu serializes writers across the state change and its persistence.
	writeMu sync.Mutex

	mu        sync.RWMutex
	state     State
	listeners []func(State)
}

// NewTokenStore creates an empty store. A nil persister keeps state in memory only.
func NewTokenStore(p Persister, now func() time.Time) *TokenStore {
	if p == nil {
		p = NewMemoryPersister()
	}
	if now == nil {
		now = time.Now
	}
	return &TokenStore{persister: p, now: now}
}

// OnChange registers fn to receive every new state. Listeners run
// synchronously after the state is published.
func (s *TokenStore) OnChange(fn func(State)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Current returns the current state.
func (s *TokenStore) Current() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneState(s.state)
}

// Generation returns the current generation.
func (s *TokenStore) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Generation
}

// Establish installs a freshly issued session and starts a new epoch.
// The in-memory state is applied even when persisting fails.
func (s *TokenStore) Establish(ctx context.Context, user User, pair TokenPair) (State, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if pair.IssuedAt.IsZero() {
		pair.IssuedAt = s.now()
	}
	next := s.publish(func(cur State) (State, bool) {
		return State{
			Present:    true,
			Tokens:     pair,
			User:       user.Clone(),
			Generation: cur.Generation + 1,
			Epoch:      cur.Epoch + 1,
		}, true
	})
	return next, s.save(ctx, next)
}

// Rotate replaces the token pair if the store is still at generation gen.
// An empty refresh token keeps the current one. A non-nil user replaces the
// snapshot in the same step, so no reader sees new tokens with a stale user.
// It reports false when the result was discarded as stale.
func (s *TokenStore) Rotate(ctx context.Context, gen uint64, pair TokenPair, user *User) (State, bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	applied := false
	next := s.publish(func(cur State) (State, bool) {
		if !cur.Present || cur.Generation != gen {
			return cur, false
		}
		if pair.RefreshToken == "" {
			pair.RefreshToken = cur.Tokens.RefreshToken
		}
		if pair.IssuedAt.IsZero() {
			pair.IssuedAt = s.now()
		}
		cur.Tokens = pair
		if user != nil {
			cur.User = user.Clone()
		}
		cur.Generation++
		applied = true
		return cur, true
	})
	if !applied {
		return next, false, nil
	}
	return next, true, s.save(ctx, next)
}

// UpdateUser replaces the user snapshot if the session epoch is still epoch.
// The generation is unchanged because the tokens are.
func (s *TokenStore) UpdateUser(ctx context.Context, epoch uint64, user User) (State, bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	applied := false
	next := s.publish(func(cur State) (State, bool) {
		if !cur.Present || cur.Epoch != epoch {
			return cur, false
		}
		cur.User = user.Clone()
		applied = true
		return cur, true
	})
	if !applied {
		return next, false, nil
	}
	return next, true, s.save(ctx, next)
}

// Clear tears the session down and deletes the persisted snapshot. It is
// idempotent: clearing an empty store only re-deletes the snapshot.
func (s *TokenStore) Clear(ctx context.Context) (State, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	next := s.publish(teardown)
	return next, s.persister.Clear(ctx)
}

// ClearIf tears the session down only if the store is still at generation
// gen. It reports whether it did.
func (s *TokenStore) ClearIf(ctx context.Context, gen uint64) (State, bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	cleared := false
	next := s.publish(func(cur State) (State, bool) {
		if !cur.Present || cur.Generation != gen {
			return cur, false
		}
		cleared = true
		return teardown(cur)
	})
	if !cleared {
		return next, false, nil
	}
	return next, true, s.persister.Clear(ctx)
}

// Release drops the in-memory session but keeps the persisted snapshot.
func (s *TokenStore) Release() State {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.publish(teardown)
}

// Rehydrate loads the persisted snapshot into memory as a new epoch. It
// returns ErrNoSnapshot when nothing is stored.
func (s *TokenStore) Rehydrate(ctx context.Context) (State, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	snap, err := s.persister.Load(ctx)
	if err != nil {
		if errors.Is(err, ErrSnapshotCorrupt) {
			_ = s.persister.Clear(ctx)
		}
		return s.Current(), err
	}
	next := s.publish(func(cur State) (State, bool) {
		return State{
			Present:    true,
			Tokens:     snap.Tokens,
			User:       snap.User.Clone(),
			Generation: cur.Generation + 1,
			Epoch:      cur.Epoch + 1,
		}, true
	})
	return next, nil
}

func (s *TokenStore) publish(fn func(State) (State, bool)) State {
	s.mu.Lock()
	next, changed := fn(cloneState(s.state))
	if !changed {
		cur := cloneState(s.state)
		s.mu.Unlock()
		return cur
	}
	s.state = next
	listeners := s.listeners
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(cloneState(next))
	}
	return cloneState(next)
}

func (s *TokenStore) save(ctx context.Context, st State) error {
	return s.persister.Save(ctx, &Snapshot{Tokens: st.Tokens, User: st.User, SavedAt: s.now()})
}

func teardown(cur State) (State, bool) {
	if !cur.Present {
		return cur, false
	}
	return State{Generation: cur.Generation + 1, Epoch: cur.Epoch + 1}, true
}

func cloneState(st State) State {
	st.User = st.User.Clone()
	return st
}
