package watchdog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestManager(clock Clock, store MarkerStore, lc *logoutCounter, expired *[]string) *Manager {
	var mu sync.Mutex
	onExpire := func(key string) {
		mu.Lock()
		defer mu.Unlock()
		*expired = append(*expired, key)
	}
	return NewManager(ManagerConfig{
		Timeout:  testTimeout,
		Clock:    clock,
		Store:    store,
		Logout:   lc.logoutKey,
		OnExpire: onExpire,
	})
}

func TestSessionKey(t *testing.T) {
	if got := SessionKey(42); got != "session:42" {
		t.Errorf("SessionKey(42) = %q", got)
	}
	if id, ok := ParseSessionKey(SessionKey(42)); !ok || id != 42 {
		t.Errorf("ParseSessionKey round trip = %d, %v", id, ok)
	}
	for _, bad := range []string{"", "42", "session:", "session:x", "user:42"} {
		if _, ok := ParseSessionKey(bad); ok {
			t.Errorf("ParseSessionKey(%q) should fail", bad)
		}
	}
}

func TestManagerEnsureIsIdempotent(t *testing.T) {
	clock := newFakeClock()
	var expired []string
	m := newTestManager(clock, newMemStore(), &logoutCounter{}, &expired)
	ctx := context.Background()

	a, err := m.Ensure(ctx, "session:1", time.Time{})
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	clock.Advance(time.Hour)
	b, err := m.Ensure(ctx, "session:1", time.Time{})
	if err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	if a != b {
		t.Error("expected the same watchdog")
	}
	if b.Remaining() != 2*time.Hour {
		t.Errorf("remaining = %v, want 2h (requests are not activity)", b.Remaining())
	}
	if m.Len() != 1 {
		t.Errorf("len = %d, want 1", m.Len())
	}
}

func TestManagerExpiryRemovesEntry(t *testing.T) {
	clock := newFakeClock()
	lc := &logoutCounter{}
	var expired []string
	m := newTestManager(clock, newMemStore(), lc, &expired)

	m.Ensure(context.Background(), "session:7", time.Time{})
	clock.Advance(testTimeout)

	if m.Len() != 0 {
		t.Errorf("len = %d, want 0", m.Len())
	}
	if len(lc.keys) != 1 || lc.keys[0] != "session:7" {
		t.Errorf("logout keys = %v", lc.keys)
	}
	if len(expired) != 1 || expired[0] != "session:7" {
		t.Errorf("expired = %v", expired)
	}
}

func TestManagerReloadAfterRestart(t *testing.T) {
	clock := newFakeClock()
	store := newMemStore()
	lc := &logoutCounter{}
	var expired []string
	ctx := context.Background()

	first := newTestManager(clock, store, lc, &expired)
	first.Touch(ctx, "session:3", time.Time{}, EventClick)
	first.Shutdown()

	clock.Jump(testTimeout)

	second := newTestManager(clock, store, lc, &expired)
	_, err := second.Ensure(ctx, "session:3", time.Time{})
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("ensure = %v, want ErrExpired", err)
	}
	if lc.count() != 1 {
		t.Errorf("logout count = %d, want 1", lc.count())
	}
	if second.Len() != 0 {
		t.Errorf("len = %d, want 0", second.Len())
	}
}

func TestManagerReloadWithinTimeoutResumes(t *testing.T) {
	clock := newFakeClock()
	store := newMemStore()
	lc := &logoutCounter{}
	var expired []string
	ctx := context.Background()

	first := newTestManager(clock, store, lc, &expired)
	first.Touch(ctx, "session:3", time.Time{}, EventClick)
	first.Shutdown()

	clock.Jump(time.Hour)

	second := newTestManager(clock, store, lc, &expired)
	w, err := second.Ensure(ctx, "session:3", time.Time{})
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if w.Remaining() != 2*time.Hour {
		t.Errorf("remaining = %v, want 2h", w.Remaining())
	}
}

func TestManagerTouch(t *testing.T) {
	clock := newFakeClock()
	var expired []string
	m := newTestManager(clock, newMemStore(), &logoutCounter{}, &expired)
	ctx := context.Background()

	m.Ensure(ctx, "session:1", time.Time{})
	clock.Advance(time.Hour)
	left, err := m.Touch(ctx, "session:1", time.Time{}, EventKeyDown)
	if err != nil {
		t.Fatalf("touch: %v", err)
	}
	if left != testTimeout {
		t.Errorf("remaining = %v, want %v", left, testTimeout)
	}
}

func TestManagerRemove(t *testing.T) {
	clock := newFakeClock()
	store := newMemStore()
	lc := &logoutCounter{}
	var expired []string
	m := newTestManager(clock, store, lc, &expired)
	ctx := context.Background()

	m.Ensure(ctx, "session:1", time.Time{})
	if err := m.Remove(ctx, "session:1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok := store.get("session:1"); ok {
		t.Error("marker should be cleared")
	}
	clock.Advance(2 * testTimeout)
	if lc.count() != 0 {
		t.Errorf("logout count = %d, want 0 after explicit remove", lc.count())
	}
	if m.Get("session:1") != nil {
		t.Error("watchdog should be gone")
	}
}

func TestManagerMissingMarkerCountsFromSessionStart(t *testing.T) {
	clock := newFakeClock()
	store := newMemStore()
	lc := &logoutCounter{}
	var expired []string
	ctx := context.Background()
	since := clock.Now()

	// restart with the marker gone and the session idle past the timeout
	clock.Jump(testTimeout + time.Hour)
	m := newTestManager(clock, store, lc, &expired)
	if _, err := m.Ensure(ctx, "session:5", since); !errors.Is(err, ErrExpired) {
		t.Fatalf("ensure = %v, want ErrExpired", err)
	}
	if lc.count() != 1 {
		t.Errorf("logout count = %d, want 1", lc.count())
	}
	if m.Len() != 0 {
		t.Errorf("len = %d, want 0", m.Len())
	}
}

func TestManagerMissingMarkerResumesFromSessionStart(t *testing.T) {
	clock := newFakeClock()
	store := newMemStore()
	var expired []string
	m := newTestManager(clock, store, &logoutCounter{}, &expired)
	since := clock.Now().Add(-time.Hour)

	w, err := m.Ensure(context.Background(), "session:5", since)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if w.Remaining() != 2*time.Hour {
		t.Errorf("remaining = %v, want 2h", w.Remaining())
	}
	if got, ok := store.get("session:5"); !ok || !got.Equal(since) {
		t.Errorf("marker = %v, %v; want %v", got, ok, since)
	}
}

func TestManagerEnsureAfterMissedDeadline(t *testing.T) {
	clock := newFakeClock()
	lc := &logoutCounter{}
	var expired []string
	m := newTestManager(clock, newMemStore(), lc, &expired)
	ctx := context.Background()

	if _, err := m.Ensure(ctx, "session:2", time.Time{}); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	// the timer never ran, as after a suspended host
	clock.Jump(testTimeout)
	if _, err := m.Ensure(ctx, "session:2", time.Time{}); !errors.Is(err, ErrExpired) {
		t.Fatalf("ensure = %v, want ErrExpired", err)
	}
	if lc.count() != 1 {
		t.Errorf("logout count = %d, want 1", lc.count())
	}
}
