package oauth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type memStore struct {
	mu sync.Mutex

	access, refresh, scope string
	expiry                 time.Time
	upserts                int
}

func (s *memStore) Get(context.Context, string) (string, string, time.Time, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.access, s.refresh, s.expiry, s.scope, nil
}

func (s *memStore) Upsert(_ context.Context, _, access, refresh string, expiry time.Time, scope string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access, s.refresh, s.expiry, s.scope = access, refresh, expiry, scope
	s.upserts++
	return nil
}

func (s *memStore) snapshot() memStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	return memStore{access: s.access, refresh: s.refresh, scope: s.scope, expiry: s.expiry, upserts: s.upserts}
}

func TestStartRefresherOutsideWindow(t *testing.T) {
	store := &memStore{access: "a", refresh: "r", scope: "s", expiry: time.Now().Add(time.Hour)}
	refreshCalled := false
	fn := func(context.Context, string) (string, string, time.Time, string, error) {
		refreshCalled = true
		return "new", "new", time.Now().Add(2 * time.Hour), "s", nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	StartRefresher(ctx, store, "twitch", 20*time.Millisecond, 30*time.Minute, fn)
	<-ctx.Done()

	if refreshCalled {
		t.Error("refresh must not run for a token an hour from expiry with a 30m window")
	}
}

func TestStartRefresherWithinWindow(t *testing.T) {
	store := &memStore{access: "old-access", refresh: "old-refresh", scope: "scope1", expiry: time.Now().Add(5 * time.Minute)}
	newExpiry := time.Now().Add(2 * time.Hour)
	fn := func(_ context.Context, rt string) (string, string, time.Time, string, error) {
		if rt != "old-refresh" {
			t.Errorf("refresh token = %q, want old-refresh", rt)
		}
		return "new-access", "new-refresh", newExpiry, "scope2", nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	StartRefresher(ctx, store, "twitch", 20*time.Millisecond, 15*time.Minute, fn)
	time.Sleep(400 * time.Millisecond)
	cancel()

	got := store.snapshot()
	if got.upserts == 0 {
		t.Fatal("expected at least one refresh within the window")
	}
	if got.access != "new-access" || got.refresh != "new-refresh" || got.scope != "scope2" {
		t.Fatalf("stored token = %+v", &got)
	}
}

func TestStartRefresherRefreshError(t *testing.T) {
	store := &memStore{access: "old-access", refresh: "old-refresh", scope: "s", expiry: time.Now().Add(5 * time.Minute)}
	fn := func(context.Context, string) (string, string, time.Time, string, error) {
		return "", "", time.Time{}, "", errors.New("refresh failed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	StartRefresher(ctx, store, "twitch", 20*time.Millisecond, 15*time.Minute, fn)
	time.Sleep(300 * time.Millisecond)
	cancel()

	got := store.snapshot()
	if got.upserts != 0 || got.access != "old-access" {
		t.Fatalf("token must not be updated on refresh error, got %+v", &got)
	}
}

func TestStartRefresherNoRefreshToken(t *testing.T) {
	store := &memStore{access: "a", refresh: "", expiry: time.Now().Add(5 * time.Minute)}
	fn := func(context.Context, string) (string, string, time.Time, string, error) {
		t.Error("refresh must not run without a refresh token")
		return "", "", time.Time{}, "", nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	StartRefresher(ctx, store, "twitch", 20*time.Millisecond, 15*time.Minute, fn)
	time.Sleep(200 * time.Millisecond)
	cancel()
}

func TestStartRefresherPreservesRefreshTokenAndScope(t *testing.T) {
	store := &memStore{access: "old-access", refresh: "original-refresh", scope: "scope1", expiry: time.Now().Add(5 * time.Minute)}
	fn := func(context.Context, string) (string, string, time.Time, string, error) {
		return "new-access", "", time.Now().Add(2 * time.Hour), "", nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	StartRefresher(ctx, store, "twitch", 20*time.Millisecond, 15*time.Minute, fn)
	time.Sleep(400 * time.Millisecond)
	cancel()

	got := store.snapshot()
	if got.upserts == 0 {
		t.Fatal("expected a refresh")
	}
	if got.refresh != "original-refresh" {
		t.Errorf("refresh token = %q, want original-refresh", got.refresh)
	}
	if got.scope != "scope1" {
		t.Errorf("scope = %q, want scope1", got.scope)
	}
}

func TestStartRefresherCancellation(t *testing.T) {
	store := &memStore{}
	ctx, cancel := context.WithCancel(context.Background())
	StartRefresher(ctx, store, "twitch", time.Second, 15*time.Minute, func(context.Context, string) (string, string, time.Time, string, error) {
		return "", "", time.Time{}, "", nil
	})
	cancel()
	time.Sleep(50 * time.Millisecond)
}
