package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func fixedNow() time.Time {
	return time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)
}

func TestTokenStoreEstablishBumpsGenerationAndEpoch(t *testing.T) {
	p := NewMemoryPersister()
	s := NewTokenStore(p, fixedNow)
	ctx := context.Background()

	st, err := s.Establish(ctx, User{ID: "u-1"}, TokenPair{AccessToken: "a1", RefreshToken: "r1"})
	if err != nil {
		t.Fatalf("establish: %v", err)
	}
	if !st.Present || st.Generation != 1 || st.Epoch != 1 {
		t.Fatalf("unexpected state: %+v", st)
	}
	if !st.Tokens.IssuedAt.Equal(fixedNow()) {
		t.Fatalf("expected issued_at defaulted, got %v", st.Tokens.IssuedAt)
	}

	snap, err := p.Load(ctx)
	if err != nil || snap.Tokens.AccessToken != "a1" {
		t.Fatalf("expected persisted snapshot, got %+v, %v", snap, err)
	}
}

func TestTokenStoreRotateDiscardsStaleGeneration(t *testing.T) {
	s := NewTokenStore(nil, fixedNow)
	ctx := context.Background()
	st, _ := s.Establish(ctx, User{ID: "u-1"}, TokenPair{AccessToken: "a1", RefreshToken: "r1"})

	next, ok, err := s.Rotate(ctx, st.Generation, TokenPair{AccessToken: "a2"}, nil)
	if err != nil || !ok {
		t.Fatalf("rotate: ok=%v err=%v", ok, err)
	}
	if next.Tokens.AccessToken != "a2" || next.Tokens.RefreshToken != "r1" || next.Generation != st.Generation+1 {
		t.Fatalf("unexpected rotated state: %+v", next)
	}
	if next.Epoch != st.Epoch {
		t.Fatalf("rotate must not change epoch")
	}

	stale, ok, err := s.Rotate(ctx, st.Generation, TokenPair{AccessToken: "a-stale"}, nil)
	if err != nil || ok {
		t.Fatalf("expected stale rotate discarded, ok=%v err=%v", ok, err)
	}
	if stale.Tokens.AccessToken != "a2" {
		t.Fatalf("stale rotate changed tokens: %+v", stale)
	}
}

func TestTokenStoreRotateAfterTeardownIsDiscarded(t *testing.T) {
	s := NewTokenStore(nil, fixedNow)
	ctx := context.Background()
	st, _ := s.Establish(ctx, User{ID: "u-1"}, TokenPair{AccessToken: "a1", RefreshToken: "r1"})
	if _, err := s.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok, _ := s.Rotate(ctx, st.Generation, TokenPair{AccessToken: "a2"}, nil); ok {
		t.Fatal("rotate revived a torn down session")
	}
	if s.Current().Present {
		t.Fatal("expected empty store")
	}
}

func TestTokenStoreClearIsIdempotent(t *testing.T) {
	p := NewMemoryPersister()
	s := NewTokenStore(p, fixedNow)
	ctx := context.Background()
	s.Establish(ctx, User{ID: "u-1"}, TokenPair{AccessToken: "a1", RefreshToken: "r1"})

	first, err := s.Clear(ctx)
	if err != nil {
		t.Fatalf("first clear: %v", err)
	}
	second, err := s.Clear(ctx)
	if err != nil {
		t.Fatalf("second clear: %v", err)
	}
	if first.Present || second.Present || first.Generation != second.Generation || first.Epoch != second.Epoch {
		t.Fatalf("clear not idempotent: %+v vs %+v", first, second)
	}
	if _, err := p.Load(ctx); !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("expected persisted state removed, got %v", err)
	}
}

func TestTokenStoreClearIfOnlyMatchingGeneration(t *testing.T) {
	s := NewTokenStore(nil, fixedNow)
	ctx := context.Background()
	st, _ := s.Establish(ctx, User{ID: "u-1"}, TokenPair{AccessToken: "a1", RefreshToken: "r1"})
	s.Rotate(ctx, st.Generation, TokenPair{AccessToken: "a2"}, nil)

	if _, ok, _ := s.ClearIf(ctx, st.Generation); ok {
		t.Fatal("ClearIf cleared a newer generation")
	}
	if _, ok, _ := s.ClearIf(ctx, st.Generation+1); !ok {
		t.Fatal("ClearIf did not clear matching generation")
	}
}

func TestTokenStoreRehydrateAndRelease(t *testing.T) {
	p := NewMemoryPersister()
	ctx := context.Background()
	if err := p.Save(ctx, testSnapshot()); err != nil {
		t.Fatalf("seed: %v", err)
	}

	s := NewTokenStore(p, fixedNow)
	st, err := s.Rehydrate(ctx)
	if err != nil {
		t.Fatalf("rehydrate: %v", err)
	}
	if !st.Present || st.User.ID != "u-1" || st.Epoch != 1 {
		t.Fatalf("unexpected rehydrated state: %+v", st)
	}

	s.Release()
	if s.Current().Present {
		t.Fatal("release kept in-memory session")
	}
	if _, err := p.Load(ctx); err != nil {
		t.Fatalf("release must keep persisted snapshot: %v", err)
	}

	empty := NewTokenStore(NewMemoryPersister(), fixedNow)
	if _, err := empty.Rehydrate(ctx); !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("expected ErrNoSnapshot, got %v", err)
	}
}

func TestTokenStoreUpdateUserChecksEpoch(t *testing.T) {
	s := NewTokenStore(nil, fixedNow)
	ctx := context.Background()
	st, _ := s.Establish(ctx, User{ID: "u-1", Username: "old"}, TokenPair{AccessToken: "a1", RefreshToken: "r1"})

	if _, ok, _ := s.UpdateUser(ctx, st.Epoch+1, User{ID: "u-1", Username: "wrong"}); ok {
		t.Fatal("update applied to another epoch")
	}
	next, ok, err := s.UpdateUser(ctx, st.Epoch, User{ID: "u-1", Username: "new"})
	if err != nil || !ok {
		t.Fatalf("update user: ok=%v err=%v", ok, err)
	}
	if next.User.Username != "new" || next.Generation != st.Generation {
		t.Fatalf("unexpected state: %+v", next)
	}
}

func TestTokenStoreListenersSeeEveryChange(t *testing.T) {
	s := NewTokenStore(nil, fixedNow)
	ctx := context.Background()

	var mu sync.Mutex
	var gens []uint64
	s.OnChange(func(st State) {
		mu.Lock()
		gens = append(gens, st.Generation)
		mu.Unlock()
	})

	st, _ := s.Establish(ctx, User{ID: "u-1"}, TokenPair{AccessToken: "a1", RefreshToken: "r1"})
	s.Rotate(ctx, st.Generation, TokenPair{AccessToken: "a2"}, nil)
	s.Rotate(ctx, st.Generation, TokenPair{AccessToken: "stale"}, nil)
	s.Clear(ctx)
	s.Clear(ctx)

	if len(gens) != 3 || gens[0] != 1 || gens[1] != 2 || gens[2] != 3 {
		t.Fatalf("unexpected notifications: %v", gens)
	}
}

func TestTokenStoreConcurrentRotateAppliesOnce(t *testing.T) {
	s := NewTokenStore(nil, fixedNow)
	ctx := context.Background()
	st, _ := s.Establish(ctx, User{ID: "u-1"}, TokenPair{AccessToken: "a1", RefreshToken: "r1"})

	const workers = 16
	start := make(chan struct{})
	results := make(chan bool, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, ok, _ := s.Rotate(ctx, st.Generation, TokenPair{AccessToken: "a2"}, nil)
			results <- ok
		}()
	}
	close(start)
	wg.Wait()
	close(results)

	applied := 0
	for ok := range results {
		if ok {
			applied++
		}
	}
	if applied != 1 {
		t.Fatalf("expected exactly one rotate applied, got %d", applied)
	}
}
