package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"echo-backend/internal/middleware"
	"echo-backend/internal/models"
	"echo-backend/internal/repository"
	"echo-backend/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// CheckinHandler handles weekly check-in HTTP requests. Every device's
// poll loop hits these endpoints; the service layer arbitrates which
// caller wins each once-only transition.
type CheckinHandler struct {
	checkinService *services.CheckInService
	familyService  *services.FamilyService
}

// NewCheckinHandler creates a new check-in handler
func NewCheckinHandler(checkinService *services.CheckInService, familyService *services.FamilyService) *CheckinHandler {
	return &CheckinHandler{
		checkinService: checkinService,
		familyService:  familyService,
	}
}

// CurrentCheckInResponse is the poll result for the current week
type CurrentCheckInResponse struct {
	CheckIn          *models.CheckIn `json:"checkin"`
	HasResponded     bool            `json:"has_responded"`
	RemainingSeconds int             `json:"remaining_seconds"`
}

// requireCheckin loads the check-in and verifies it belongs to the
// caller's family. No mutation happens before this check.
func (h *CheckinHandler) requireCheckin(w http.ResponseWriter, r *http.Request) (*models.CheckIn, string, bool) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	checkinID := chi.URLParam(r, "checkin_id")

	familyID, err := h.familyService.FamilyOf(ctx, userID)
	if err != nil {
		respondError(w, "No family set up yet", http.StatusUnauthorized)
		return nil, "", false
	}

	checkin, err := h.checkinService.GetCheckin(ctx, checkinID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			respondError(w, "Check-in not found", http.StatusNotFound)
			return nil, "", false
		}
		log.Error().Err(err).Str("checkin_id", checkinID).Msg("Failed to get checkin")
		respondError(w, "Failed to get check-in", http.StatusInternalServerError)
		return nil, "", false
	}
	if checkin.FamilyID != familyID {
		respondError(w, "Check-in belongs to another family", http.StatusForbidden)
		return nil, "", false
	}
	return checkin, userID, true
}

// GetCurrent handles GET /api/v1/checkins/current. It opportunistically
// creates the week's check-in when the trigger window has opened, so any
// polling device can be the one that starts the week.
func (h *CheckinHandler) GetCurrent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	familyID, err := h.familyService.FamilyOf(ctx, userID)
	if err != nil {
		respondError(w, "No family set up yet", http.StatusUnauthorized)
		return
	}

	checkin, err := h.checkinService.EnsureWeeklyCheckIn(ctx, familyID, time.Now())
	if err != nil {
		log.Error().Err(err).Str("family_id", familyID).Msg("Failed to ensure weekly checkin")
		respondError(w, "Failed to load check-in", http.StatusInternalServerError)
		return
	}

	resp := CurrentCheckInResponse{CheckIn: checkin}
	if checkin != nil {
		responded, err := h.checkinService.HasResponded(ctx, checkin.ID, userID)
		if err != nil {
			log.Error().Err(err).Str("checkin_id", checkin.ID).Msg("Failed to check response status")
		} else {
			resp.HasResponded = responded
		}
		resp.RemainingSeconds = int(services.RemainingTime(checkin, time.Now()).Seconds())
	}

	respondJSON(w, resp, http.StatusOK)
}

// SubmitResponseRequest represents one partner's answer
type SubmitResponseRequest struct {
	Temperature int    `json:"temperature"`
	Notes       string `json:"notes"`
}

// SubmitResponse handles POST /api/v1/checkins/{checkin_id}/responses
func (h *CheckinHandler) SubmitResponse(w http.ResponseWriter, r *http.Request) {
	checkin, userID, ok := h.requireCheckin(w, r)
	if !ok {
		return
	}

	var req SubmitResponseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	err := h.checkinService.SubmitResponse(r.Context(), checkin.ID, userID, req.Temperature, req.Notes)
	if err != nil {
		if errors.Is(err, services.ErrInvalidTemperature) {
			respondError(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Error().Err(err).Str("checkin_id", checkin.ID).Str("user_id", userID).Msg("Failed to submit response")
		respondError(w, "Failed to submit response", http.StatusInternalServerError)
		return
	}

	log.Info().
		Str("checkin_id", checkin.ID).
		Str("user_id", userID).
		Msg("Check-in response recorded")

	w.WriteHeader(http.StatusNoContent)
}

// Reconcile handles POST /api/v1/checkins/{checkin_id}/reconcile. Clients
// call it when they observe a fully answered check-in stuck in pending.
func (h *CheckinHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	checkin, _, ok := h.requireCheckin(w, r)
	if !ok {
		return
	}

	if err := h.checkinService.Reconcile(r.Context(), checkin.ID); err != nil {
		log.Error().Err(err).Str("checkin_id", checkin.ID).Msg("Failed to reconcile checkin")
		respondError(w, "Failed to reconcile check-in", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Regenerate handles POST /api/v1/checkins/{checkin_id}/regenerate
func (h *CheckinHandler) Regenerate(w http.ResponseWriter, r *http.Request) {
	checkin, _, ok := h.requireCheckin(w, r)
	if !ok {
		return
	}

	if err := h.checkinService.RegenerateTopic(r.Context(), checkin.ID); err != nil {
		log.Error().Err(err).Str("checkin_id", checkin.ID).Msg("Failed to regenerate topic")
		respondError(w, "Failed to regenerate topic", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ResetWeek handles POST /api/v1/checkins/{checkin_id}/reset
func (h *CheckinHandler) ResetWeek(w http.ResponseWriter, r *http.Request) {
	checkin, _, ok := h.requireCheckin(w, r)
	if !ok {
		return
	}

	if err := h.checkinService.ResetWeek(r.Context(), checkin.ID); err != nil {
		log.Error().Err(err).Str("checkin_id", checkin.ID).Msg("Failed to reset week")
		respondError(w, "Failed to reset week", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// TimerRequest selects the timer action
type TimerRequest struct {
	Action string `json:"action"` // start | reset
}

// UpdateTimer handles POST /api/v1/checkins/{checkin_id}/timer
func (h *CheckinHandler) UpdateTimer(w http.ResponseWriter, r *http.Request) {
	checkin, _, ok := h.requireCheckin(w, r)
	if !ok {
		return
	}

	var req TimerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	var err error
	switch req.Action {
	case "start":
		err = h.checkinService.StartTimer(r.Context(), checkin.ID)
	case "reset":
		err = h.checkinService.ResetTimer(r.Context(), checkin.ID)
	default:
		respondError(w, "action must be start or reset", http.StatusBadRequest)
		return
	}
	if err != nil {
		log.Error().Err(err).Str("checkin_id", checkin.ID).Str("action", req.Action).Msg("Failed to update timer")
		respondError(w, "Failed to update timer", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ClaimResponse reports whether this device won a claim-once trigger
type ClaimResponse struct {
	Claimed bool `json:"claimed"`
}

// TimerFinished handles POST /api/v1/checkins/{checkin_id}/timer/finished.
// Every device whose countdown reaches zero calls this; at most one gets
// claimed=true and the notification is sent once.
func (h *CheckinHandler) TimerFinished(w http.ResponseWriter, r *http.Request) {
	checkin, _, ok := h.requireCheckin(w, r)
	if !ok {
		return
	}

	claimed, err := h.checkinService.ClaimTimerFinished(r.Context(), checkin.ID)
	if err != nil {
		log.Error().Err(err).Str("checkin_id", checkin.ID).Msg("Failed to claim timer notification")
		respondError(w, "Failed to claim timer notification", http.StatusInternalServerError)
		return
	}

	respondJSON(w, ClaimResponse{Claimed: claimed}, http.StatusOK)
}

// GetConfig handles GET /api/v1/checkin-config
func (h *CheckinHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	familyID, err := h.familyService.FamilyOf(ctx, userID)
	if err != nil {
		respondError(w, "No family set up yet", http.StatusUnauthorized)
		return
	}

	cfg, err := h.checkinService.GetConfig(ctx, familyID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			respondError(w, "No check-in schedule configured", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Str("family_id", familyID).Msg("Failed to get checkin config")
		respondError(w, "Failed to get config", http.StatusInternalServerError)
		return
	}

	respondJSON(w, cfg, http.StatusOK)
}

// UpdateConfigRequest represents the schedule settings
type UpdateConfigRequest struct {
	DayOfWeek int    `json:"day_of_week"`
	TimeUTC   string `json:"time_utc"`
}

// UpdateConfig handles PUT /api/v1/checkin-config
func (h *CheckinHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	familyID, err := h.familyService.FamilyOf(ctx, userID)
	if err != nil {
		respondError(w, "No family set up yet", http.StatusUnauthorized)
		return
	}

	var req UpdateConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	cfg := &models.CheckInConfig{
		FamilyID:  familyID,
		DayOfWeek: req.DayOfWeek,
		TimeUTC:   req.TimeUTC,
	}
	if err := h.checkinService.UpdateConfig(ctx, cfg); err != nil {
		if errors.Is(err, services.ErrInvalidSchedule) {
			respondError(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Error().Err(err).Str("family_id", familyID).Msg("Failed to update checkin config")
		respondError(w, "Failed to update config", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
