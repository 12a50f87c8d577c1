package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/boothsurvey/internal/auth"
	"github.com/dukerupert/boothsurvey/internal/watchdog"
)

type ActivityHandler struct {
	watchdogs *watchdog.Manager
	logger    *slog.Logger
}

func NewActivityHandler(wm *watchdog.Manager, logger *slog.Logger) *ActivityHandler {
	return &ActivityHandler{watchdogs: wm, logger: logger.With("component", "activity")}
}

type activityRequest struct {
	Event string `json:"event"`
}

type sessionStatus struct {
	State       string `json:"state"`
	RemainingMS int64  `json:"remaining_ms"`
	TimeoutMS   int64  `json:"timeout_ms"`
}

func (h *ActivityHandler) status(state watchdog.State, remaining time.Duration) sessionStatus {
	return sessionStatus{
		State:       state.String(),
		RemainingMS: remaining.Milliseconds(),
		TimeoutMS:   h.watchdogs.Timeout().Milliseconds(),
	}
}

// Touch records a client interaction and restarts the inactivity countdown.
func (h *ActivityHandler) Touch(w http.ResponseWriter, r *http.Request) {
	var req activityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	ev, err := watchdog.ParseEvent(req.Event)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ac, _ := auth.FromContext(r.Context())
	remaining, err := h.watchdogs.Touch(r.Context(), ac.WatchdogKey(), ac.SessionStart, ev)
	if errors.Is(err, watchdog.ErrExpired) {
		clearSessionCookie(w, r)
		writeError(w, http.StatusUnauthorized, "session expired")
		return
	}
	if err != nil {
		h.logger.Error("touch watchdog", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, h.status(watchdog.StateActive, remaining))
}

// Status reports the session's watchdog state without counting as activity.
func (h *ActivityHandler) Status(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())
	wd, err := h.watchdogs.Ensure(r.Context(), ac.WatchdogKey(), ac.SessionStart)
	if errors.Is(err, watchdog.ErrExpired) {
		clearSessionCookie(w, r)
		writeError(w, http.StatusUnauthorized, "session expired")
		return
	}
	if err != nil {
		h.logger.Error("ensure watchdog", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, h.status(wd.State(), wd.Remaining()))
}
