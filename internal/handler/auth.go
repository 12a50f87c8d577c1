package handler

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukerupert/boothsurvey/internal/auth"
	"github.com/dukerupert/boothsurvey/internal/model"
	"github.com/dukerupert/boothsurvey/internal/sms"
	"github.com/dukerupert/boothsurvey/internal/store"
	"github.com/dukerupert/boothsurvey/internal/watchdog"
)

const maxCodeAttempts = 5

type AuthConfig struct {
	CountryCode string
	OTPTTL      time.Duration
	SessionTTL  time.Duration
}

type AuthHandler struct {
	userStore    *store.UserStore
	sessionStore *store.SessionStore
	otpStore     *store.OTPStore
	smsClient    *sms.Client
	watchdogs    *watchdog.Manager
	cfg          AuthConfig
	logger       *slog.Logger
}

func NewAuthHandler(
	us *store.UserStore,
	ss *store.SessionStore,
	otps *store.OTPStore,
	sc *sms.Client,
	wm *watchdog.Manager,
	cfg AuthConfig,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		userStore:    us,
		sessionStore: ss,
		otpStore:     otps,
		smsClient:    sc,
		watchdogs:    wm,
		cfg:          cfg,
		logger:       logger.With("component", "auth"),
	}
}

type otpRequest struct {
	Phone string `json:"phone"`
}

type otpResponse struct {
	Handle    string    `json:"handle"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RequestOTP sends a login code to the phone and returns the confirmation
// handle the client presents with the code.
func (h *AuthHandler) RequestOTP(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	phone, err := auth.NormalizePhone(req.Phone, h.cfg.CountryCode)
	if err != nil {
		writeError(w, http.StatusBadRequest, "enter a valid 10 digit mobile number")
		return
	}

	challenge, err := h.otpStore.Create(phone, h.cfg.OTPTTL)
	if err != nil {
		h.logger.Error("create otp challenge", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if h.smsClient != nil && h.smsClient.Configured() {
		if err := h.smsClient.SendOTP(r.Context(), phone, challenge.Code); err != nil {
			h.logger.Error("send otp", "phone", phone, "error", err)
			writeError(w, http.StatusBadGateway, "failed to send code")
			return
		}
	} else {
		h.logger.Debug("sms not configured, logging otp", "phone", phone, "code", challenge.Code)
	}

	writeJSON(w, http.StatusOK, otpResponse{Handle: challenge.Handle, ExpiresAt: challenge.ExpiresAt})
}

type verifyRequest struct {
	Handle string `json:"handle"`
	Code   string `json:"code"`
	Name   string `json:"name"`
}

var (
	errCodeExpired     = errors.New("code has expired or already been used, request a new one")
	errTooManyAttempts = errors.New("too many incorrect attempts, request a new code")
	errIncorrectCode   = errors.New("incorrect code, try again")
)

// checkCode validates code against the pending challenge for handle and
// consumes the challenge on success or once attempts run out.
func (h *AuthHandler) checkCode(handle, code string) (*model.OTPChallenge, error) {
	challenge, err := h.otpStore.GetPending(handle)
	if err != nil {
		return nil, err
	}
	if challenge == nil {
		return nil, errCodeExpired
	}

	if challenge.Attempts >= maxCodeAttempts {
		h.otpStore.MarkUsed(challenge.ID)
		return nil, errTooManyAttempts
	}

	if subtle.ConstantTimeCompare([]byte(challenge.Code), []byte(code)) != 1 {
		attempts, err := h.otpStore.IncrementAttempts(challenge.ID)
		if err != nil {
			h.logger.Error("increment attempts", "error", err)
		}
		if attempts >= maxCodeAttempts {
			h.otpStore.MarkUsed(challenge.ID)
			return nil, errTooManyAttempts
		}
		return nil, errIncorrectCode
	}

	if err := h.otpStore.MarkUsed(challenge.ID); err != nil {
		return nil, err
	}
	return challenge, nil
}

// Verify confirms the code, finds or creates the user for the phone and
// starts a session.
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Handle = strings.TrimSpace(req.Handle)
	req.Code = strings.TrimSpace(req.Code)
	req.Name = strings.TrimSpace(req.Name)
	if req.Handle == "" || req.Code == "" {
		writeError(w, http.StatusBadRequest, "handle and code are required")
		return
	}

	challenge, err := h.checkCode(req.Handle, req.Code)
	switch {
	case errors.Is(err, errCodeExpired), errors.Is(err, errTooManyAttempts), errors.Is(err, errIncorrectCode):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.logger.Error("check code", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	user, err := h.userStore.GetByPhone(challenge.Phone)
	if err == nil && user == nil {
		user, err = h.userStore.Create(challenge.Phone, req.Name)
	} else if err == nil && req.Name != "" && req.Name != user.Name {
		user, err = h.userStore.UpdateName(user.ID, req.Name)
	}
	if err != nil {
		h.logger.Error("find or create user", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	sess, err := h.sessionStore.Create(user.ID, h.cfg.SessionTTL)
	if err != nil {
		h.logger.Error("create session", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if h.watchdogs != nil {
		if _, err := h.watchdogs.Ensure(r.Context(), watchdog.SessionKey(sess.ID), sess.CreatedAt); err != nil {
			h.logger.Error("start watchdog", "error", err)
		}
	}

	setSessionCookie(w, r, sess.Token, h.cfg.SessionTTL)
	h.logger.Info("signed in", "user_id", user.ID, "session_id", sess.ID)
	writeJSON(w, http.StatusOK, newProfileResponse(user))
}

// Logout ends the current session, if any, and stops its watchdog.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(auth.SessionCookieName); err == nil && cookie.Value != "" {
		if sess, err := h.sessionStore.GetByToken(cookie.Value); err == nil && sess != nil {
			if err := h.sessionStore.Delete(sess.ID); err != nil {
				h.logger.Error("delete session", "error", err)
			}
			if h.watchdogs != nil {
				if err := h.watchdogs.Remove(r.Context(), watchdog.SessionKey(sess.ID)); err != nil {
					h.logger.Warn("clear activity marker", "error", err)
				}
			}
		}
	}

	clearSessionCookie(w, r)
	w.WriteHeader(http.StatusNoContent)
}
