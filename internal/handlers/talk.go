package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"echo-backend/internal/middleware"
	"echo-backend/internal/repository"
	"echo-backend/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// TalkHandler handles scheduled talk HTTP requests
type TalkHandler struct {
	talkService   *services.TalkService
	familyService *services.FamilyService
}

// NewTalkHandler creates a new talk handler
func NewTalkHandler(talkService *services.TalkService, familyService *services.FamilyService) *TalkHandler {
	return &TalkHandler{
		talkService:   talkService,
		familyService: familyService,
	}
}

// ScheduleTalkRequest represents the request body for scheduling a talk
type ScheduleTalkRequest struct {
	Theme       string    `json:"theme"`
	ScheduledAt time.Time `json:"scheduled_at"`
}

// Schedule handles POST /api/v1/talks
func (h *TalkHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	familyID, err := h.familyService.FamilyOf(ctx, userID)
	if err != nil {
		respondError(w, "No family set up yet", http.StatusUnauthorized)
		return
	}

	var req ScheduleTalkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ScheduledAt.IsZero() {
		respondError(w, "scheduled_at is required", http.StatusBadRequest)
		return
	}

	talk, err := h.talkService.Schedule(ctx, familyID, userID, req.Theme, req.ScheduledAt)
	if err != nil {
		if errors.Is(err, services.ErrEmptyTheme) {
			respondError(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Error().Err(err).Str("family_id", familyID).Msg("Failed to schedule talk")
		respondError(w, "Failed to schedule talk", http.StatusInternalServerError)
		return
	}

	respondJSON(w, talk, http.StatusOK)
}

// List handles GET /api/v1/talks
func (h *TalkHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	familyID, err := h.familyService.FamilyOf(ctx, userID)
	if err != nil {
		respondError(w, "No family set up yet", http.StatusUnauthorized)
		return
	}

	talks, err := h.talkService.Upcoming(ctx, familyID)
	if err != nil {
		log.Error().Err(err).Str("family_id", familyID).Msg("Failed to list talks")
		respondError(w, "Failed to list talks", http.StatusInternalServerError)
		return
	}

	respondJSON(w, talks, http.StatusOK)
}

// requireTalk loads a talk and verifies it belongs to the caller's family
func (h *TalkHandler) requireTalk(w http.ResponseWriter, r *http.Request) (string, bool) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	talkID := chi.URLParam(r, "talk_id")

	familyID, err := h.familyService.FamilyOf(ctx, userID)
	if err != nil {
		respondError(w, "No family set up yet", http.StatusUnauthorized)
		return "", false
	}

	talk, err := h.talkService.Get(ctx, talkID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			respondError(w, "Talk not found", http.StatusNotFound)
			return "", false
		}
		log.Error().Err(err).Str("talk_id", talkID).Msg("Failed to get talk")
		respondError(w, "Failed to get talk", http.StatusInternalServerError)
		return "", false
	}
	if talk.FamilyID != familyID {
		respondError(w, "Talk belongs to another family", http.StatusForbidden)
		return "", false
	}
	return talkID, true
}

// Cancel handles DELETE /api/v1/talks/{talk_id}
func (h *TalkHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	talkID, ok := h.requireTalk(w, r)
	if !ok {
		return
	}

	if err := h.talkService.Cancel(r.Context(), talkID); err != nil {
		log.Error().Err(err).Str("talk_id", talkID).Msg("Failed to cancel talk")
		respondError(w, "Failed to cancel talk", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// NotifyDue handles POST /api/v1/talks/{talk_id}/due. Every polling device
// that notices the talk's time has arrived calls this; at most one gets
// claimed=true and the family notification fires once.
func (h *TalkHandler) NotifyDue(w http.ResponseWriter, r *http.Request) {
	talkID, ok := h.requireTalk(w, r)
	if !ok {
		return
	}

	claimed, err := h.talkService.NotifyDue(r.Context(), talkID)
	if err != nil {
		log.Error().Err(err).Str("talk_id", talkID).Msg("Failed to claim talk trigger")
		respondError(w, "Failed to claim talk trigger", http.StatusInternalServerError)
		return
	}

	respondJSON(w, ClaimResponse{Claimed: claimed}, http.StatusOK)
}
