package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dukerupert/boothsurvey/internal/activity"
	"github.com/dukerupert/boothsurvey/internal/auth"
	"github.com/dukerupert/boothsurvey/internal/database"
	"github.com/dukerupert/boothsurvey/internal/export"
	"github.com/dukerupert/boothsurvey/internal/model"
	"github.com/dukerupert/boothsurvey/internal/store"
	"github.com/dukerupert/boothsurvey/internal/watchdog"
)

type testEnv struct {
	users     *store.UserStore
	sessions  *store.SessionStore
	otps      *store.OTPStore
	records   *store.RecordStore
	archives  *store.ArchiveStore
	markers   *activity.SQLStore
	watchdogs *watchdog.Manager
	formatter *export.Formatter
	logouts   []string
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	env := &testEnv{
		users:     store.NewUserStore(db),
		sessions:  store.NewSessionStore(db),
		otps:      store.NewOTPStore(db),
		records:   store.NewRecordStore(db),
		archives:  store.NewArchiveStore(db),
		markers:   activity.NewSQLStore(db),
		formatter: export.NewFormatter(time.UTC),
	}
	logout := func(ctx context.Context, key string) error {
		env.logouts = append(env.logouts, key)
		return nil
	}
	env.watchdogs = watchdog.NewManager(watchdog.ManagerConfig{
		Timeout: 3 * time.Hour,
		Store:   env.markers,
		Logger:  slog.Default(),
		Logout:  logout,
	})
	t.Cleanup(env.watchdogs.Shutdown)
	return env
}

// signIn creates a user with a session and returns the auth context a
// request from them would carry.
func (e *testEnv) signIn(t *testing.T, phone, boothNumber, role string) (*model.User, auth.AuthContext) {
	t.Helper()
	user, err := e.users.Create(phone, "Anil")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if boothNumber != "" {
		if user, err = e.users.UpdateProfile(user.ID, "9000000001", boothNumber); err != nil {
			t.Fatalf("update profile: %v", err)
		}
	}
	if role != "" {
		if err := e.users.SetRole(user.ID, role); err != nil {
			t.Fatalf("set role: %v", err)
		}
		user.Role = role
	}
	sess, err := e.sessions.Create(user.ID, time.Hour)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return user, auth.AuthContext{UserID: user.ID, Role: user.Role, SessionID: sess.ID, SessionStart: sess.CreatedAt}
}

func jsonRequest(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func withAuth(req *http.Request, ac auth.AuthContext) *http.Request {
	return req.WithContext(auth.WithAuth(req.Context(), ac))
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return v
}

func assertStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d (body %q)", rec.Code, want, rec.Body.String())
	}
}

func assertError(t *testing.T, rec *httptest.ResponseRecorder, status int, msg string) {
	t.Helper()
	assertStatus(t, rec, status)
	body := decodeBody[map[string]string](t, rec)
	if body["error"] != msg {
		t.Errorf("error = %q, want %q", body["error"], msg)
	}
}
