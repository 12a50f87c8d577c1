// Package watchdog ends an authenticated session after a fixed span of
// inactivity. The last-activity marker is persisted so the countdown
// survives restarts.
package watchdog

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// DefaultTimeout is the inactivity span after which a session is logged out.
const DefaultTimeout = 3 * time.Hour

var ErrExpired = errors.New("session expired")

type State int

const (
	StateActive State = iota
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateExpired:
		return "expired"
	}
	return "unknown"
}

// MarkerStore persists the last-activity time for a key.
type MarkerStore interface {
	Load(ctx context.Context, key string) (t time.Time, ok bool, err error)
	Save(ctx context.Context, key string, t time.Time) error
	Clear(ctx context.Context, key string) error
}

// LogoutFunc terminates the session. It is called at most once per
// watchdog and never retried.
type LogoutFunc func(ctx context.Context) error

type Options struct {
	Key     string
	Timeout time.Duration
	Clock   Clock
	Store   MarkerStore
	Logout  LogoutFunc
	Logger  *slog.Logger
	// Since is when the session began. With no persisted marker the
	// countdown runs from Since rather than from Start. Zero means now.
	Since time.Time
	// OnExpire runs after logout, outside the watchdog's lock.
	OnExpire func(key string)
}

// Watchdog tracks one session. It holds at most one pending timer.
type Watchdog struct {
	opts   Options
	logger *slog.Logger

	mu       sync.Mutex
	started  bool
	state    State
	timer    Timer
	gen      uint64
	last     time.Time
	deadline time.Time
}

func New(opts Options) *Watchdog {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Clock == nil {
		opts.Clock = RealClock()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Watchdog{
		opts:   opts,
		logger: logger.With("component", "watchdog", "key", opts.Key),
	}
}

// Start reads the persisted marker. A marker at least Timeout old expires the
// session immediately and Start returns ErrExpired. Without a marker the
// countdown runs from Since, so a session that was never seen active still
// ages out. On a started watchdog Start only checks the deadline.
func (w *Watchdog) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.state == StateExpired {
		w.mu.Unlock()
		return ErrExpired
	}
	now := w.opts.Clock.Now()
	if w.started {
		overdue := !w.deadline.IsZero() && !now.Before(w.deadline)
		w.mu.Unlock()
		if overdue {
			w.expire(ctx, "deadline passed")
			return ErrExpired
		}
		return nil
	}
	w.started = true

	last, ok := w.loadMarker(ctx)
	if !ok {
		last = w.opts.Since
		if last.IsZero() || last.After(now) {
			last = now
		}
	}
	if now.Sub(last) >= w.opts.Timeout {
		w.mu.Unlock()
		if ok {
			w.expire(ctx, "stale marker")
		} else {
			w.expire(ctx, "no activity since session start")
		}
		return ErrExpired
	}

	w.last = last
	if !ok {
		w.saveMarker(ctx, last)
	}
	w.schedule(w.opts.Timeout - now.Sub(last))
	w.mu.Unlock()
	return nil
}

// Touch records an interaction. EventVisible first checks whether the
// session already aged out while hidden.
func (w *Watchdog) Touch(ctx context.Context, ev Event) error {
	w.mu.Lock()
	if w.state == StateExpired {
		w.mu.Unlock()
		return ErrExpired
	}

	now := w.opts.Clock.Now()
	if ev == EventVisible || !w.started {
		last := w.last
		if marker, ok := w.loadMarker(ctx); ok {
			last = marker
		}
		if !last.IsZero() && now.Sub(last) >= w.opts.Timeout {
			w.mu.Unlock()
			w.expire(ctx, "inactive while hidden")
			return ErrExpired
		}
	}

	w.started = true
	w.last = now
	w.saveMarker(ctx, now)
	w.schedule(w.opts.Timeout)
	w.mu.Unlock()
	return nil
}

// Stop cancels the pending timer without logging out. The marker is left
// in place.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cancel()
}

func (w *Watchdog) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Remaining reports the time left before expiry.
func (w *Watchdog) Remaining() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == StateExpired || w.deadline.IsZero() {
		return 0
	}
	if d := w.deadline.Sub(w.opts.Clock.Now()); d > 0 {
		return d
	}
	return 0
}

func (w *Watchdog) Key() string { return w.opts.Key }

// schedule replaces the pending timer. Caller holds mu.
func (w *Watchdog) schedule(d time.Duration) {
	w.cancel()
	if d < 0 {
		d = 0
	}
	w.gen++
	gen := w.gen
	w.deadline = w.opts.Clock.Now().Add(d)
	w.timer = w.opts.Clock.AfterFunc(d, func() { w.fire(gen) })
}

// cancel stops the pending timer. Caller holds mu.
func (w *Watchdog) cancel() {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.gen++
}

func (w *Watchdog) fire(gen uint64) {
	w.mu.Lock()
	stale := gen != w.gen || w.state == StateExpired
	w.mu.Unlock()
	if stale {
		return
	}
	w.expire(context.Background(), "inactivity timeout")
}

// expire moves to StateExpired and logs out. Only the first caller proceeds.
func (w *Watchdog) expire(ctx context.Context, reason string) {
	w.mu.Lock()
	if w.state == StateExpired {
		w.mu.Unlock()
		return
	}
	w.state = StateExpired
	w.cancel()
	w.deadline = time.Time{}
	w.mu.Unlock()

	w.logger.Info("session expired", "reason", reason)

	if w.opts.Logout != nil {
		if err := w.opts.Logout(ctx); err != nil {
			w.logger.Error("logout after inactivity", "error", err)
		}
	}
	if w.opts.Store != nil {
		if err := w.opts.Store.Clear(ctx, w.opts.Key); err != nil {
			w.logger.Error("clear activity marker", "error", err)
		}
	}
	if w.opts.OnExpire != nil {
		w.opts.OnExpire(w.opts.Key)
	}
}

// loadMarker returns the persisted marker. Store errors are logged and
// treated as a missing marker. Caller holds mu.
func (w *Watchdog) loadMarker(ctx context.Context) (time.Time, bool) {
	if w.opts.Store == nil {
		return time.Time{}, false
	}
	t, ok, err := w.opts.Store.Load(ctx, w.opts.Key)
	if err != nil {
		w.logger.Error("load activity marker", "error", err)
		return time.Time{}, false
	}
	return t, ok
}

// saveMarker persists t. Caller holds mu.
func (w *Watchdog) saveMarker(ctx context.Context, t time.Time) {
	if w.opts.Store == nil {
		return
	}
	if err := w.opts.Store.Save(ctx, w.opts.Key, t); err != nil {
		w.logger.Error("save activity marker", "error", err)
	}
}
