package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"echo-backend/internal/middleware"
	"echo-backend/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// GlowHandler handles glow HTTP requests
type GlowHandler struct {
	glowService   *services.GlowService
	familyService *services.FamilyService
}

// NewGlowHandler creates a new glow handler
func NewGlowHandler(glowService *services.GlowService, familyService *services.FamilyService) *GlowHandler {
	return &GlowHandler{
		glowService:   glowService,
		familyService: familyService,
	}
}

// SendGlowRequest represents the request body for sending a glow
type SendGlowRequest struct {
	Message string `json:"message"`
}

// Send handles POST /api/v1/glows
func (h *GlowHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req SendGlowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	glow, err := h.glowService.Send(ctx, userID, req.Message)
	if err != nil {
		if errors.Is(err, services.ErrEmptyMessage) {
			respondError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if errors.Is(err, services.ErrNoFamily) {
			respondError(w, "No family set up yet", http.StatusUnauthorized)
			return
		}
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to send glow")
		respondError(w, "Failed to send glow", http.StatusInternalServerError)
		return
	}

	respondJSON(w, glow, http.StatusOK)
}

// List handles GET /api/v1/glows?filter=unread|saved
func (h *GlowHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	familyID, err := h.familyService.FamilyOf(ctx, userID)
	if err != nil {
		respondError(w, "No family set up yet", http.StatusUnauthorized)
		return
	}

	filter := r.URL.Query().Get("filter")
	switch filter {
	case "", "unread":
		glows, err := h.glowService.Unread(ctx, familyID, userID)
		if err != nil {
			log.Error().Err(err).Str("family_id", familyID).Msg("Failed to list unread glows")
			respondError(w, "Failed to list glows", http.StatusInternalServerError)
			return
		}
		respondJSON(w, glows, http.StatusOK)
	case "saved":
		glows, err := h.glowService.Saved(ctx, familyID, userID)
		if err != nil {
			log.Error().Err(err).Str("family_id", familyID).Msg("Failed to list saved glows")
			respondError(w, "Failed to list glows", http.StatusInternalServerError)
			return
		}
		respondJSON(w, glows, http.StatusOK)
	default:
		respondError(w, "filter must be unread or saved", http.StatusBadRequest)
	}
}

// UpdateFlags handles POST /api/v1/glows/{glow_id}/{action}
func (h *GlowHandler) UpdateFlags(w http.ResponseWriter, r *http.Request) {
	glowID := chi.URLParam(r, "glow_id")
	action := chi.URLParam(r, "action")

	var err error
	switch action {
	case "read":
		err = h.glowService.MarkRead(r.Context(), glowID)
	case "save":
		err = h.glowService.Save(r.Context(), glowID)
	case "unsave":
		err = h.glowService.Unsave(r.Context(), glowID)
	default:
		respondError(w, "action must be read, save or unsave", http.StatusBadRequest)
		return
	}
	if err != nil {
		log.Error().Err(err).Str("glow_id", glowID).Str("action", action).Msg("Failed to update glow")
		respondError(w, "Failed to update glow", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
