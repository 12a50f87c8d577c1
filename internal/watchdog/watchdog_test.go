package watchdog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

const testTimeout = 3 * time.Hour

func newTestWatchdog(t *testing.T) (*Watchdog, *fakeClock, *memStore, *logoutCounter) {
	t.Helper()
	clock := newFakeClock()
	store := newMemStore()
	lc := &logoutCounter{}
	w := New(Options{
		Key:     "session:1",
		Timeout: testTimeout,
		Clock:   clock,
		Store:   store,
		Logout:  lc.logout,
	})
	return w, clock, store, lc
}

func TestActivityUnderTimeoutNeverLogsOut(t *testing.T) {
	w, clock, _, lc := newTestWatchdog(t)
	ctx := context.Background()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	events := []Event{EventPointerMove, EventKeyDown, EventClick, EventTouchStart, EventScroll, EventVisible}
	for i := 0; i < 30; i++ {
		clock.Advance(testTimeout - time.Second)
		if err := w.Touch(ctx, events[i%len(events)]); err != nil {
			t.Fatalf("touch %d: %v", i, err)
		}
	}
	if n := lc.count(); n != 0 {
		t.Errorf("logout called %d times, want 0", n)
	}
	if w.State() != StateActive {
		t.Errorf("state = %s, want active", w.State())
	}
}

func TestInactivityLogsOutExactlyOnce(t *testing.T) {
	w, clock, store, lc := newTestWatchdog(t)
	ctx := context.Background()
	w.Start(ctx)

	clock.Advance(testTimeout - time.Millisecond)
	if n := lc.count(); n != 0 {
		t.Fatalf("logout before timeout: %d", n)
	}
	clock.Advance(time.Millisecond)
	if n := lc.count(); n != 1 {
		t.Fatalf("logout count = %d, want 1", n)
	}

	clock.Advance(10 * testTimeout)
	if err := w.Touch(ctx, EventClick); !errors.Is(err, ErrExpired) {
		t.Errorf("touch after expiry = %v, want ErrExpired", err)
	}
	if err := w.Start(ctx); !errors.Is(err, ErrExpired) {
		t.Errorf("start after expiry = %v, want ErrExpired", err)
	}
	if n := lc.count(); n != 1 {
		t.Errorf("logout count = %d, want 1", n)
	}
	if _, ok := store.get("session:1"); ok {
		t.Error("marker should be cleared on expiry")
	}
	if w.State() != StateExpired {
		t.Errorf("state = %s, want expired", w.State())
	}
	if w.Remaining() != 0 {
		t.Errorf("remaining = %v, want 0", w.Remaining())
	}
}

func TestStartWithStaleMarkerExpiresImmediately(t *testing.T) {
	w, clock, store, lc := newTestWatchdog(t)
	store.Save(context.Background(), "session:1", clock.Now().Add(-testTimeout))

	err := w.Start(context.Background())
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("start = %v, want ErrExpired", err)
	}
	if n := lc.count(); n != 1 {
		t.Errorf("logout count = %d, want 1", n)
	}
	if p := clock.pending(); p != 0 {
		t.Errorf("pending timers = %d, want 0", p)
	}
}

func TestStartResumesFromMarker(t *testing.T) {
	w, clock, store, lc := newTestWatchdog(t)
	marker := clock.Now().Add(-2 * time.Hour)
	store.Save(context.Background(), "session:1", marker)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := w.Remaining(); got != time.Hour {
		t.Errorf("remaining = %v, want 1h", got)
	}
	if got, _ := store.get("session:1"); !got.Equal(marker) {
		t.Errorf("marker = %v, want unchanged %v", got, marker)
	}

	clock.Advance(time.Hour - time.Second)
	if lc.count() != 0 {
		t.Fatal("logged out early")
	}
	clock.Advance(time.Second)
	if lc.count() != 1 {
		t.Errorf("logout count = %d, want 1", lc.count())
	}
}

func TestStartWithoutMarkerPersistsNow(t *testing.T) {
	w, clock, store, _ := newTestWatchdog(t)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	got, ok := store.get("session:1")
	if !ok || !got.Equal(clock.Now()) {
		t.Errorf("marker = %v (%v), want %v", got, ok, clock.Now())
	}
	if w.Remaining() != testTimeout {
		t.Errorf("remaining = %v, want %v", w.Remaining(), testTimeout)
	}
}

func TestTouchPersistsMarker(t *testing.T) {
	w, clock, store, _ := newTestWatchdog(t)
	ctx := context.Background()
	w.Start(ctx)

	clock.Advance(time.Hour)
	w.Touch(ctx, EventKeyDown)
	got, _ := store.get("session:1")
	if !got.Equal(clock.Now()) {
		t.Errorf("marker = %v, want %v", got, clock.Now())
	}
	if w.Remaining() != testTimeout {
		t.Errorf("remaining = %v, want full timeout", w.Remaining())
	}
}

func TestVisibleAfterLongHiddenExpires(t *testing.T) {
	w, clock, _, lc := newTestWatchdog(t)
	ctx := context.Background()
	w.Start(ctx)

	// Timers did not run while the device slept.
	clock.Jump(testTimeout + time.Minute)

	if err := w.Touch(ctx, EventVisible); !errors.Is(err, ErrExpired) {
		t.Fatalf("touch visible = %v, want ErrExpired", err)
	}
	if lc.count() != 1 {
		t.Errorf("logout count = %d, want 1", lc.count())
	}

	// The stale timer firing later must not log out again.
	clock.Advance(time.Hour)
	if lc.count() != 1 {
		t.Errorf("logout count = %d after stale fire, want 1", lc.count())
	}
}

func TestVisibleWithinTimeoutResets(t *testing.T) {
	w, clock, _, lc := newTestWatchdog(t)
	ctx := context.Background()
	w.Start(ctx)

	clock.Jump(time.Hour)
	if err := w.Touch(ctx, EventVisible); err != nil {
		t.Fatalf("touch visible: %v", err)
	}
	if w.Remaining() != testTimeout {
		t.Errorf("remaining = %v, want full timeout", w.Remaining())
	}
	if lc.count() != 0 {
		t.Error("unexpected logout")
	}
}

func TestAtMostOnePendingTimer(t *testing.T) {
	w, clock, _, _ := newTestWatchdog(t)
	ctx := context.Background()
	w.Start(ctx)

	for i := 0; i < 50; i++ {
		clock.Advance(time.Second)
		w.Touch(ctx, EventPointerMove)
	}
	if p := clock.pending(); p != 1 {
		t.Errorf("pending timers = %d, want 1", p)
	}
}

func TestConcurrentTouchAndExpiry(t *testing.T) {
	w, clock, _, lc := newTestWatchdog(t)
	ctx := context.Background()
	w.Start(ctx)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				w.Touch(ctx, EventScroll)
			}
		}()
	}
	wg.Wait()

	clock.Advance(testTimeout)
	if lc.count() != 1 {
		t.Errorf("logout count = %d, want 1", lc.count())
	}
}

func TestLogoutErrorIsNotRetried(t *testing.T) {
	w, clock, _, lc := newTestWatchdog(t)
	lc.err = errors.New("backend down")
	w.Start(context.Background())

	clock.Advance(testTimeout)
	clock.Advance(testTimeout)
	if lc.count() != 1 {
		t.Errorf("logout count = %d, want 1", lc.count())
	}
	if w.State() != StateExpired {
		t.Errorf("state = %s, want expired", w.State())
	}
}

func TestStopCancelsWithoutLogout(t *testing.T) {
	w, clock, store, lc := newTestWatchdog(t)
	w.Start(context.Background())
	w.Stop()

	clock.Advance(2 * testTimeout)
	if lc.count() != 0 {
		t.Errorf("logout count = %d, want 0", lc.count())
	}
	if _, ok := store.get("session:1"); !ok {
		t.Error("stop should keep the marker")
	}
}

func TestParseEvent(t *testing.T) {
	tests := []struct {
		in   string
		want Event
		err  bool
	}{
		{"pointermove", EventPointerMove, false},
		{"mousemove", EventPointerMove, false},
		{"keydown", EventKeyDown, false},
		{"click", EventClick, false},
		{"mousedown", EventClick, false},
		{"touchstart", EventTouchStart, false},
		{"scroll", EventScroll, false},
		{"visible", EventVisible, false},
		{"visibilitychange", EventVisible, false},
		{"resize", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseEvent(tt.in)
			if tt.err {
				if !errors.Is(err, ErrUnknownEvent) {
					t.Errorf("err = %v, want ErrUnknownEvent", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
