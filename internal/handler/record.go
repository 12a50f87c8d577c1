package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/boothsurvey/internal/auth"
	"github.com/dukerupert/boothsurvey/internal/export"
	"github.com/dukerupert/boothsurvey/internal/model"
	"github.com/dukerupert/boothsurvey/internal/store"
	"github.com/dukerupert/boothsurvey/internal/websocket"
)

type RecordHandler struct {
	recordStore *store.RecordStore
	userStore   *store.UserStore
	formatter   *export.Formatter
	hub         *websocket.Hub
	logger      *slog.Logger
}

func NewRecordHandler(rs *store.RecordStore, us *store.UserStore, f *export.Formatter, hub *websocket.Hub, logger *slog.Logger) *RecordHandler {
	return &RecordHandler{
		recordStore: rs,
		userStore:   us,
		formatter:   f,
		hub:         hub,
		logger:      logger.With("component", "records"),
	}
}

func (h *RecordHandler) broadcast(msg websocket.Message) {
	if h.hub != nil {
		h.hub.BroadcastAdmins(msg)
	}
}

// boothUser loads the caller and requires a booth on their profile.
func (h *RecordHandler) boothUser(w http.ResponseWriter, r *http.Request) (*model.User, bool) {
	user, err := h.userStore.GetByID(auth.UserID(r.Context()))
	if err != nil {
		h.logger.Error("get user", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return nil, false
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return nil, false
	}
	if user.BoothNumber == "" {
		writeError(w, http.StatusConflict, "complete signup with a booth number first")
		return nil, false
	}
	return user, true
}

type createRecordResponse struct {
	Record  *model.HouseholdRecord `json:"record"`
	Message string                 `json:"message"`
}

// Create validates and stores one household submission.
func (h *RecordHandler) Create(w http.ResponseWriter, r *http.Request) {
	var sub model.Submission
	if err := decodeJSON(w, r, &sub); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	sub.Normalize()

	if err := sub.Validate(); err != nil {
		var verr *model.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": verr.Message, "field": verr.Field})
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, ok := h.boothUser(w, r)
	if !ok {
		return
	}

	rec, err := h.recordStore.Create(sub.Record(user))
	if err != nil {
		h.logger.Error("create record", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, model.MsgSubmitFailed)
		return
	}

	h.broadcast(websocket.NewMessage("record", "created", rec.ID, rec))
	writeJSON(w, http.StatusCreated, createRecordResponse{Record: rec, Message: model.MsgSubmitted})
}

// TodayCount reports how many records the caller submitted for their booth
// since local midnight.
func (h *RecordHandler) TodayCount(w http.ResponseWriter, r *http.Request) {
	user, ok := h.boothUser(w, r)
	if !ok {
		return
	}

	now := h.formatter.In(h.formatter.Now())
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).UTC()

	count, err := h.recordStore.Count(store.RecordFilter{
		BoothNumber: user.BoothNumber,
		UserID:      user.ID,
		Since:       &midnight,
	})
	if err != nil {
		h.logger.Error("count records", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": count, "booth_number": user.BoothNumber})
}
