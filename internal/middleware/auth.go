package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dukerupert/boothsurvey/internal/auth"
	"github.com/dukerupert/boothsurvey/internal/store"
	"github.com/dukerupert/boothsurvey/internal/watchdog"
)

// RequireAuth validates the session cookie and populates AuthContext. When
// watchdogs is set, the session's inactivity watchdog is started or checked
// first, so a session whose marker aged out is logged out before the
// request proceeds.
func RequireAuth(sessionStore *store.SessionStore, userStore *store.UserStore, watchdogs *watchdog.Manager, logger *slog.Logger) func(http.Handler) http.Handler {
	logger = logger.With("component", "auth")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(auth.SessionCookieName)
			if err != nil || cookie.Value == "" {
				unauthorized(w, "not signed in")
				return
			}

			sess, err := sessionStore.GetByToken(cookie.Value)
			if err != nil {
				logger.Error("session lookup", "error", err)
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}
			if sess == nil {
				clearSessionCookie(w, r)
				unauthorized(w, "session not found")
				return
			}

			user, err := userStore.GetByID(sess.UserID)
			if err != nil {
				logger.Error("user lookup", "error", err)
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}
			if user == nil {
				clearSessionCookie(w, r)
				unauthorized(w, "user not found")
				return
			}

			ac := auth.AuthContext{
				UserID:       user.ID,
				Role:         user.Role,
				SessionID:    sess.ID,
				SessionStart: sess.CreatedAt,
			}

			if watchdogs != nil {
				if _, err := watchdogs.Ensure(r.Context(), ac.WatchdogKey(), ac.SessionStart); err != nil {
					if errors.Is(err, watchdog.ErrExpired) {
						clearSessionCookie(w, r)
						unauthorized(w, "session expired")
						return
					}
					logger.Error("start watchdog", "error", err)
				}
			}

			ctx := auth.WithAuth(r.Context(), ac)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin checks that the authenticated user has the admin role.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !auth.IsAdmin(r.Context()) {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func unauthorized(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusUnauthorized, msg)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func clearSessionCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
	})
}
