package watchdog

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

// SessionKey is the marker key for an authenticated session.
func SessionKey(sessionID int64) string {
	return sessionKeyPrefix + strconv.FormatInt(sessionID, 10)
}

const sessionKeyPrefix = "session:"

// ParseSessionKey is the inverse of SessionKey.
func ParseSessionKey(key string) (int64, bool) {
	rest, ok := strings.CutPrefix(key, sessionKeyPrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

type ManagerConfig struct {
	Timeout time.Duration
	Clock   Clock
	Store   MarkerStore
	Logger  *slog.Logger
	// Logout ends the session identified by key.
	Logout func(ctx context.Context, key string) error
	// OnExpire runs after an inactivity logout.
	OnExpire func(key string)
}

// Manager keeps one Watchdog per session key.
type Manager struct {
	cfg    ManagerConfig
	logger *slog.Logger

	mu        sync.Mutex
	watchdogs map[string]*Watchdog
}

func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = RealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		cfg:       cfg,
		logger:    cfg.Logger,
		watchdogs: make(map[string]*Watchdog),
	}
}

func (m *Manager) Timeout() time.Duration { return m.cfg.Timeout }

// Ensure returns the running watchdog for key, starting one from the
// persisted marker if needed. since is when the session began and stands in
// for a missing marker. It returns ErrExpired, after the session has been
// logged out, when the session has already aged out.
func (m *Manager) Ensure(ctx context.Context, key string, since time.Time) (*Watchdog, error) {
	m.mu.Lock()
	w, ok := m.watchdogs[key]
	if !ok {
		w = m.newWatchdog(key, since)
		m.watchdogs[key] = w
	}
	m.mu.Unlock()

	if err := w.Start(ctx); err != nil {
		return nil, err
	}
	return w, nil
}

// Touch forwards an interaction event and returns the time left.
func (m *Manager) Touch(ctx context.Context, key string, since time.Time, ev Event) (time.Duration, error) {
	w, err := m.Ensure(ctx, key, since)
	if err != nil {
		return 0, err
	}
	if err := w.Touch(ctx, ev); err != nil {
		return 0, err
	}
	return w.Remaining(), nil
}

// Get returns the watchdog for key, or nil.
func (m *Manager) Get(key string) *Watchdog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.watchdogs[key]
}

// Remove stops the watchdog for key and clears its marker. Used on an
// explicit logout.
func (m *Manager) Remove(ctx context.Context, key string) error {
	m.mu.Lock()
	w := m.watchdogs[key]
	delete(m.watchdogs, key)
	m.mu.Unlock()

	if w != nil {
		w.Stop()
	}
	if m.cfg.Store != nil {
		return m.cfg.Store.Clear(ctx, key)
	}
	return nil
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.watchdogs)
}

// Shutdown stops every pending timer. Markers are kept so the countdowns
// resume on the next start.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	watchdogs := m.watchdogs
	m.watchdogs = make(map[string]*Watchdog)
	m.mu.Unlock()

	for _, w := range watchdogs {
		w.Stop()
	}
}

func (m *Manager) newWatchdog(key string, since time.Time) *Watchdog {
	var logout LogoutFunc
	if m.cfg.Logout != nil {
		logout = func(ctx context.Context) error { return m.cfg.Logout(ctx, key) }
	}
	var w *Watchdog
	onExpire := func(key string) {
		m.mu.Lock()
		if m.watchdogs[key] == w {
			delete(m.watchdogs, key)
		}
		m.mu.Unlock()
		if m.cfg.OnExpire != nil {
			m.cfg.OnExpire(key)
		}
	}
	w = New(Options{
		Key:      key,
		Timeout:  m.cfg.Timeout,
		Clock:    m.cfg.Clock,
		Store:    m.cfg.Store,
		Logout:   logout,
		Logger:   m.logger,
		Since:    since,
		OnExpire: onExpire,
	})
	return w
}
