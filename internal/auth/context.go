package auth

import (
	"context"
	"time"

	"github.com/dukerupert/boothsurvey/internal/model"
	"github.com/dukerupert/boothsurvey/internal/watchdog"
)

type contextKey struct{}

type AuthContext struct {
	UserID    string
	Role      string
	SessionID int64
	// SessionStart is when the session was created.
	SessionStart time.Time
}

// WatchdogKey is the inactivity watchdog key for this session.
func (ac AuthContext) WatchdogKey() string {
	return watchdog.SessionKey(ac.SessionID)
}

func WithAuth(ctx context.Context, ac AuthContext) context.Context {
	return context.WithValue(ctx, contextKey{}, ac)
}

func FromContext(ctx context.Context) (AuthContext, bool) {
	ac, ok := ctx.Value(contextKey{}).(AuthContext)
	return ac, ok
}

func UserID(ctx context.Context) string {
	ac, ok := FromContext(ctx)
	if !ok {
		return ""
	}
	return ac.UserID
}

func IsAdmin(ctx context.Context) bool {
	ac, ok := FromContext(ctx)
	if !ok {
		return false
	}
	return ac.Role == model.RoleAdmin
}

// SessionCookieName carries the opaque session token.
const SessionCookieName = "boothsurvey_session"
