package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dukerupert/boothsurvey/internal/auth"
	"github.com/dukerupert/boothsurvey/internal/sms"
	"github.com/dukerupert/boothsurvey/internal/watchdog"
)

var testAuthConfig = AuthConfig{
	CountryCode: "+91",
	OTPTTL:      5 * time.Minute,
	SessionTTL:  30 * 24 * time.Hour,
}

func newAuthHandler(env *testEnv, sc *sms.Client) *AuthHandler {
	return NewAuthHandler(env.users, env.sessions, env.otps, sc, env.watchdogs, testAuthConfig, slog.Default())
}

func requestOTP(t *testing.T, h *AuthHandler, phone string) string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.RequestOTP(rec, jsonRequest(t, "POST", "/auth/otp", otpRequest{Phone: phone}))
	assertStatus(t, rec, http.StatusOK)
	return decodeBody[otpResponse](t, rec).Handle
}

func TestRequestOTPSendsSMS(t *testing.T) {
	env := setupEnv(t)

	var sent struct {
		To      string `json:"to"`
		Message string `json:"message"`
	}
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &sent)
		w.WriteHeader(http.StatusOK)
	}))
	defer gateway.Close()

	h := newAuthHandler(env, sms.NewClient(gateway.URL, "key", "BOOTHS"))
	handle := requestOTP(t, h, "98765 43210")

	challenge, err := env.otps.GetPending(handle)
	if err != nil || challenge == nil {
		t.Fatalf("pending challenge: %v, %v", challenge, err)
	}
	if challenge.Phone != "+919876543210" {
		t.Errorf("phone = %q", challenge.Phone)
	}
	if sent.To != "+919876543210" {
		t.Errorf("sms to = %q", sent.To)
	}
	if !strings.Contains(sent.Message, challenge.Code) {
		t.Errorf("sms message %q does not carry the code", sent.Message)
	}
}

func TestRequestOTPInvalidPhone(t *testing.T) {
	env := setupEnv(t)
	h := newAuthHandler(env, nil)

	rec := httptest.NewRecorder()
	h.RequestOTP(rec, jsonRequest(t, "POST", "/auth/otp", otpRequest{Phone: "12345"}))
	assertError(t, rec, http.StatusBadRequest, "enter a valid 10 digit mobile number")
}

func TestRequestOTPGatewayFailure(t *testing.T) {
	env := setupEnv(t)
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer gateway.Close()

	h := newAuthHandler(env, sms.NewClient(gateway.URL, "key", "BOOTHS"))
	rec := httptest.NewRecorder()
	h.RequestOTP(rec, jsonRequest(t, "POST", "/auth/otp", otpRequest{Phone: "9876543210"}))
	assertError(t, rec, http.StatusBadGateway, "failed to send code")
}

func TestVerifyCreatesUserAndSession(t *testing.T) {
	env := setupEnv(t)
	h := newAuthHandler(env, nil)
	handle := requestOTP(t, h, "9876543210")
	challenge, _ := env.otps.GetPending(handle)

	rec := httptest.NewRecorder()
	h.Verify(rec, jsonRequest(t, "POST", "/auth/verify", verifyRequest{Handle: handle, Code: challenge.Code, Name: " Anil "}))
	assertStatus(t, rec, http.StatusOK)

	resp := decodeBody[profileResponse](t, rec)
	if resp.User.Name != "Anil" || resp.User.Phone != "+919876543210" {
		t.Errorf("user = %+v", resp.User)
	}
	if resp.Next != NextSignup {
		t.Errorf("next = %q, want %q", resp.Next, NextSignup)
	}

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != auth.SessionCookieName || !cookies[0].HttpOnly {
		t.Fatalf("cookies = %+v", cookies)
	}
	sess, _ := env.sessions.GetByToken(cookies[0].Value)
	if sess == nil || sess.UserID != resp.User.ID {
		t.Fatalf("session = %+v", sess)
	}
	key := watchdog.SessionKey(sess.ID)
	if env.watchdogs.Get(key) == nil {
		t.Error("watchdog should start at sign in")
	}
	if _, ok, _ := env.markers.Load(t.Context(), key); !ok {
		t.Error("activity marker should be saved at sign in")
	}

	// the challenge is consumed
	rec = httptest.NewRecorder()
	h.Verify(rec, jsonRequest(t, "POST", "/auth/verify", verifyRequest{Handle: handle, Code: challenge.Code}))
	assertError(t, rec, http.StatusBadRequest, errCodeExpired.Error())
}

func TestVerifyExistingUserKeepsID(t *testing.T) {
	env := setupEnv(t)
	existing, _ := env.users.Create("+919876543210", "Old Name")
	h := newAuthHandler(env, nil)

	handle := requestOTP(t, h, "+91 98765 43210")
	challenge, _ := env.otps.GetPending(handle)

	rec := httptest.NewRecorder()
	h.Verify(rec, jsonRequest(t, "POST", "/auth/verify", verifyRequest{Handle: handle, Code: challenge.Code, Name: "New Name"}))
	assertStatus(t, rec, http.StatusOK)

	resp := decodeBody[profileResponse](t, rec)
	if resp.User.ID != existing.ID || resp.User.Name != "New Name" {
		t.Errorf("user = %+v, want id %s renamed", resp.User, existing.ID)
	}
}

func TestVerifyAttemptLimit(t *testing.T) {
	env := setupEnv(t)
	h := newAuthHandler(env, nil)
	handle := requestOTP(t, h, "9876543210")
	challenge, _ := env.otps.GetPending(handle)

	for i := 1; i < maxCodeAttempts; i++ {
		rec := httptest.NewRecorder()
		h.Verify(rec, jsonRequest(t, "POST", "/auth/verify", verifyRequest{Handle: handle, Code: "000000"}))
		assertError(t, rec, http.StatusBadRequest, errIncorrectCode.Error())
	}

	rec := httptest.NewRecorder()
	h.Verify(rec, jsonRequest(t, "POST", "/auth/verify", verifyRequest{Handle: handle, Code: "000000"}))
	assertError(t, rec, http.StatusBadRequest, errTooManyAttempts.Error())

	// even the right code no longer works
	rec = httptest.NewRecorder()
	h.Verify(rec, jsonRequest(t, "POST", "/auth/verify", verifyRequest{Handle: handle, Code: challenge.Code}))
	assertError(t, rec, http.StatusBadRequest, errCodeExpired.Error())
}

func TestVerifyMissingFields(t *testing.T) {
	env := setupEnv(t)
	h := newAuthHandler(env, nil)

	rec := httptest.NewRecorder()
	h.Verify(rec, jsonRequest(t, "POST", "/auth/verify", verifyRequest{Handle: "abc"}))
	assertError(t, rec, http.StatusBadRequest, "handle and code are required")

	rec = httptest.NewRecorder()
	h.Verify(rec, jsonRequest(t, "POST", "/auth/verify", "{not json"))
	assertError(t, rec, http.StatusBadRequest, "invalid JSON")
}

func TestLogoutDeletesSessionAndWatchdog(t *testing.T) {
	env := setupEnv(t)
	h := newAuthHandler(env, nil)
	user, _ := env.users.Create("+919876543210", "Anil")
	sess, _ := env.sessions.Create(user.ID, time.Hour)
	key := watchdog.SessionKey(sess.ID)

	if _, err := env.watchdogs.Ensure(t.Context(), key, sess.CreatedAt); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	req := httptest.NewRequest("POST", "/logout", nil)
	req.AddCookie(&http.Cookie{Name: auth.SessionCookieName, Value: sess.Token})
	rec := httptest.NewRecorder()
	h.Logout(rec, req)

	assertStatus(t, rec, http.StatusNoContent)
	if got, _ := env.sessions.GetByToken(sess.Token); got != nil {
		t.Error("session should be deleted")
	}
	if env.watchdogs.Get(key) != nil {
		t.Error("watchdog should be removed")
	}
	if _, ok, _ := env.markers.Load(t.Context(), key); ok {
		t.Error("activity marker should be cleared")
	}
	if len(env.logouts) != 0 {
		t.Errorf("explicit logout should not fire the inactivity logout, got %v", env.logouts)
	}
	if c := rec.Result().Cookies(); len(c) != 1 || c[0].MaxAge >= 0 {
		t.Errorf("expected cleared cookie, got %+v", c)
	}
}

func TestLogoutWithoutCookie(t *testing.T) {
	env := setupEnv(t)
	h := newAuthHandler(env, nil)

	rec := httptest.NewRecorder()
	h.Logout(rec, httptest.NewRequest("POST", "/logout", nil))
	assertStatus(t, rec, http.StatusNoContent)
}
