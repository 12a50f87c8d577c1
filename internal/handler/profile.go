package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/boothsurvey/internal/auth"
	"github.com/dukerupert/boothsurvey/internal/booth"
	"github.com/dukerupert/boothsurvey/internal/model"
	"github.com/dukerupert/boothsurvey/internal/store"
)

// Screens the client should route to after sign-in.
const (
	NextAdmin  = "admin"
	NextForm   = "form"
	NextSignup = "signup"
)

type profileResponse struct {
	User *model.User `json:"user"`
	Next string      `json:"next"`
}

func newProfileResponse(u *model.User) profileResponse {
	next := NextForm
	switch {
	case u.IsAdmin():
		next = NextAdmin
	case u.BoothNumber == "":
		next = NextSignup
	}
	return profileResponse{User: u, Next: next}
}

type ProfileHandler struct {
	userStore *store.UserStore
	logger    *slog.Logger
}

func NewProfileHandler(us *store.UserStore, logger *slog.Logger) *ProfileHandler {
	return &ProfileHandler{userStore: us, logger: logger.With("component", "profile")}
}

func (h *ProfileHandler) currentUser(w http.ResponseWriter, r *http.Request) (*model.User, bool) {
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
	return user, true
}

func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newProfileResponse(user))
}

type profileRequest struct {
	BoothNumber  string `json:"booth_number"`
	MobileNumber string `json:"mobile_number"`
}

// Update completes signup or edits the profile. The booth is padded before
// it is checked against the catalogue, so "7" is stored as "007".
func (h *ProfileHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	boothNumber := strings.TrimSpace(req.BoothNumber)
	mobile := strings.TrimSpace(req.MobileNumber)
	if boothNumber == "" {
		writeError(w, http.StatusBadRequest, "Booth number is required")
		return
	}
	if mobile == "" {
		writeError(w, http.StatusBadRequest, "Mobile number is required")
		return
	}
	boothNumber = booth.Format(boothNumber)
	if !booth.IsValid(boothNumber) {
		writeError(w, http.StatusBadRequest, "Booth number must be between 001 and 188")
		return
	}

	if _, ok := h.currentUser(w, r); !ok {
		return
	}

	user, err := h.userStore.UpdateProfile(auth.UserID(r.Context()), mobile, boothNumber)
	if err != nil {
		h.logger.Error("update profile", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, newProfileResponse(user))
}

// Booths lists the catalogue for the signup dropdown.
func Booths(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"booths": booth.All()})
}
