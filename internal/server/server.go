package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/boothsurvey/internal/activity"
	"github.com/dukerupert/boothsurvey/internal/archive"
	"github.com/dukerupert/boothsurvey/internal/export"
	"github.com/dukerupert/boothsurvey/internal/handler"
	"github.com/dukerupert/boothsurvey/internal/middleware"
	"github.com/dukerupert/boothsurvey/internal/sms"
	"github.com/dukerupert/boothsurvey/internal/store"
	"github.com/dukerupert/boothsurvey/internal/watchdog"
	ws "github.com/dukerupert/boothsurvey/internal/websocket"
)

const (
	cleanupInterval = 15 * time.Minute
	authRateLimit   = 10
)

type Config struct {
	Auth            handler.AuthConfig
	WatchdogTimeout time.Duration
	// WatchdogClock defaults to wall time.
	WatchdogClock watchdog.Clock
	// Markers overrides the SQLite activity marker table, e.g. with Redis.
	Markers  watchdog.MarkerStore
	Archive  archive.Config
	SMS      *sms.Client
	Location *time.Location
}

type Server struct {
	db             *sql.DB
	hub            *ws.Hub
	authH          *handler.AuthHandler
	profileH       *handler.ProfileHandler
	recordH        *handler.RecordHandler
	activityH      *handler.ActivityHandler
	adminH         *handler.AdminHandler
	userStore      *store.UserStore
	sessionStore   *store.SessionStore
	otpStore       *store.OTPStore
	sqlMarkers     *activity.SQLStore
	watchdogs      *watchdog.Manager
	archiveManager *archive.Manager
	rateLimiter    *middleware.RateLimiter
	timeout        time.Duration
	clock          watchdog.Clock
	logger         *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

func New(db *sql.DB, cfg Config, logger *slog.Logger) *Server {
	hub := ws.NewHub(logger.With("component", "websocket"))

	userStore := store.NewUserStore(db)
	sessionStore := store.NewSessionStore(db)
	otpStore := store.NewOTPStore(db)
	recordStore := store.NewRecordStore(db)
	archiveStore := store.NewArchiveStore(db)
	sqlMarkers := activity.NewSQLStore(db)

	var markers watchdog.MarkerStore = sqlMarkers
	if cfg.Markers != nil {
		markers = cfg.Markers
	}

	formatter := export.NewFormatter(cfg.Location)

	s := &Server{
		db:           db,
		hub:          hub,
		userStore:    userStore,
		sessionStore: sessionStore,
		otpStore:     otpStore,
		sqlMarkers:   sqlMarkers,
		rateLimiter:  middleware.NewRateLimiter(),
		logger:       logger,
	}

	s.clock = cfg.WatchdogClock
	if s.clock == nil {
		s.clock = watchdog.RealClock()
	}
	s.watchdogs = watchdog.NewManager(watchdog.ManagerConfig{
		Timeout: cfg.WatchdogTimeout,
		Clock:   s.clock,
		Store:   markers,
		Logger:  logger,
		Logout:  s.expireSession,
	})
	s.timeout = s.watchdogs.Timeout()

	s.archiveManager = archive.NewManager(cfg.Archive, archiveStore, recordStore, formatter, func(st archive.Status) {
		hub.BroadcastAdmins(ws.NewMessage("archive", "status", "", st))
	}, logger)

	s.authH = handler.NewAuthHandler(userStore, sessionStore, otpStore, cfg.SMS, s.watchdogs, cfg.Auth, logger)
	s.profileH = handler.NewProfileHandler(userStore, logger)
	s.recordH = handler.NewRecordHandler(recordStore, userStore, formatter, hub, logger)
	s.activityH = handler.NewActivityHandler(s.watchdogs, logger)
	s.adminH = handler.NewAdminHandler(recordStore, archiveStore, s.archiveManager, formatter, logger)
	return s
}

// expireSession is the watchdog's logout: it deletes the session and tells
// any open tabs before dropping their connections.
func (s *Server) expireSession(ctx context.Context, key string) error {
	if id, ok := watchdog.ParseSessionKey(key); ok {
		if err := s.sessionStore.Delete(id); err != nil {
			return err
		}
	}
	s.hub.SendTo(key, ws.NewMessage("session", "expired", "", nil))
	s.hub.Disconnect(key)
	s.logger.Info("session expired after inactivity", "key", key)
	return nil
}

func (s *Server) Watchdogs() *watchdog.Manager {
	return s.watchdogs
}

func (s *Server) ArchiveManager() *archive.Manager {
	return s.archiveManager
}

// Start launches the archive schedule and the periodic cleanup of expired
// sessions, OTP challenges, stale activity markers and rate limit windows.
func (s *Server) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	s.archiveManager.Start(ctx)

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Cleanup(ctx)
			}
		}
	}()
}

// Stop halts background work and pending watchdog timers. Activity markers
// are kept so countdowns resume after a restart.
func (s *Server) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	s.archiveManager.Stop()
	s.watchdogs.Shutdown()
}

func (s *Server) Cleanup(ctx context.Context) {
	if n, err := s.sessionStore.DeleteExpired(); err != nil {
		s.logger.Error("cleanup sessions", "error", err)
	} else if n > 0 {
		s.logger.Info("cleaned up expired sessions", "count", n)
	}
	if n, err := s.otpStore.DeleteExpired(); err != nil {
		s.logger.Error("cleanup otp challenges", "error", err)
	} else if n > 0 {
		s.logger.Debug("cleaned up expired otp challenges", "count", n)
	}
	// A marker older than twice the timeout belongs to a session nobody
	// has loaded since it expired. Without its marker the session still
	// expires, counted from when it was created.
	if n, err := s.sqlMarkers.DeleteOlderThan(ctx, s.clock.Now().Add(-2*s.timeout)); err != nil {
		s.logger.Error("cleanup activity markers", "error", err)
	} else if n > 0 {
		s.logger.Debug("cleaned up stale activity markers", "count", n)
	}
	s.rateLimiter.Cleanup()
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes (no auth required)
	outerMux.HandleFunc("GET /health", s.healthHandler)
	outerMux.HandleFunc("POST /auth/otp", s.rateLimitedHandler(s.authH.RequestOTP))
	outerMux.HandleFunc("POST /auth/verify", s.rateLimitedHandler(s.authH.Verify))
	outerMux.HandleFunc("POST /logout", s.authH.Logout)
	outerMux.HandleFunc("GET /api/booths", handler.Booths)

	// Protected routes, wrapped with RequireAuth middleware
	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	authMiddleware := middleware.RequireAuth(s.sessionStore, s.userStore, s.watchdogs, s.logger)
	outerMux.Handle("/", authMiddleware(protectedMux))

	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := s.db.PingContext(r.Context()); err != nil {
		status = "database unavailable"
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"status": status})
}

func (s *Server) rateLimitedHandler(h http.HandlerFunc) http.HandlerFunc {
	keyFunc := func(r *http.Request) string {
		return r.URL.Path + "|" + middleware.RealIP(r)
	}
	return middleware.RateLimit(s.rateLimiter, keyFunc, authRateLimit, time.Minute)(h).ServeHTTP
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	admin := func(h http.HandlerFunc) http.Handler {
		return middleware.RequireAdmin(h)
	}

	mux.HandleFunc("GET /api/profile", s.profileH.Get)
	mux.HandleFunc("PUT /api/profile", s.profileH.Update)

	mux.HandleFunc("POST /api/records", s.recordH.Create)
	mux.HandleFunc("GET /api/records/today", s.recordH.TodayCount)

	mux.HandleFunc("POST /api/activity", s.activityH.Touch)
	mux.HandleFunc("GET /api/session", s.activityH.Status)

	mux.Handle("GET /api/admin/records", admin(s.adminH.Records))
	mux.Handle("GET /api/admin/summary", admin(s.adminH.Summary))
	mux.Handle("GET /api/admin/export", admin(s.adminH.Export))
	mux.Handle("POST /api/admin/records/import", admin(s.adminH.Import))
	mux.Handle("GET /api/admin/archives", admin(s.adminH.ListArchives))
	mux.Handle("POST /api/admin/archives", admin(s.adminH.CreateArchive))
	mux.Handle("GET /api/admin/archives/{id}/download", admin(s.adminH.DownloadArchive))

	// WebSocket
	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub, s.logger))
}
