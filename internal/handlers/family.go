package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"echo-backend/internal/middleware"
	"echo-backend/internal/services"

	"github.com/rs/zerolog/log"
)

// FamilyHandler handles space setup and profile HTTP requests
type FamilyHandler struct {
	familyService *services.FamilyService
}

// NewFamilyHandler creates a new family handler
func NewFamilyHandler(familyService *services.FamilyService) *FamilyHandler {
	return &FamilyHandler{
		familyService: familyService,
	}
}

// CreateSpaceRequest represents the request body for creating a space
type CreateSpaceRequest struct {
	DisplayName string `json:"display_name"`
}

// CreateSpace handles POST /api/v1/spaces
func (h *FamilyHandler) CreateSpace(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req CreateSpaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	space, err := h.familyService.CreateSpace(ctx, userID, req.DisplayName)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to create space")
		respondError(w, "Failed to create space", http.StatusInternalServerError)
		return
	}

	respondJSON(w, space, http.StatusOK)
}

// JoinSpaceRequest represents the request body for joining a space
type JoinSpaceRequest struct {
	InviteCode  string `json:"invite_code"`
	DisplayName string `json:"display_name"`
}

// JoinSpace handles POST /api/v1/spaces/join
func (h *FamilyHandler) JoinSpace(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req JoinSpaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.InviteCode) != 6 {
		respondError(w, "invite_code must be 6 characters", http.StatusBadRequest)
		return
	}

	space, err := h.familyService.JoinSpace(ctx, userID, req.InviteCode, req.DisplayName)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to join space")

		statusCode := http.StatusInternalServerError
		if errors.Is(err, services.ErrInvalidInviteCode) {
			statusCode = http.StatusNotFound
		} else if errors.Is(err, services.ErrSpaceFull) {
			statusCode = http.StatusConflict
		}

		respondError(w, err.Error(), statusCode)
		return
	}

	respondJSON(w, space, http.StatusOK)
}

// GetSpace handles GET /api/v1/space
func (h *FamilyHandler) GetSpace(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	space, err := h.familyService.GetSpace(ctx, userID)
	if err != nil {
		if errors.Is(err, services.ErrNoFamily) {
			respondError(w, "No family set up yet", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to get space")
		respondError(w, "Failed to get space", http.StatusInternalServerError)
		return
	}

	respondJSON(w, space, http.StatusOK)
}

// RenameFamilyRequest represents the request body for renaming a family
type RenameFamilyRequest struct {
	Name string `json:"name"`
}

// RenameFamily handles PUT /api/v1/space/name
func (h *FamilyHandler) RenameFamily(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req RenameFamilyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		respondError(w, "name is required", http.StatusBadRequest)
		return
	}

	familyID, err := h.familyService.FamilyOf(ctx, userID)
	if err != nil {
		respondError(w, "No family set up yet", http.StatusNotFound)
		return
	}

	if err := h.familyService.RenameFamily(ctx, familyID, req.Name); err != nil {
		log.Error().Err(err).Str("family_id", familyID).Msg("Failed to rename family")
		respondError(w, "Failed to rename family", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// UpdateVibeRequest represents the request body for a mood update
type UpdateVibeRequest struct {
	Vibe string `json:"vibe"`
}

// UpdateVibe handles PUT /api/v1/profile/vibe
func (h *FamilyHandler) UpdateVibe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req UpdateVibeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Vibe == "" {
		respondError(w, "vibe is required", http.StatusBadRequest)
		return
	}

	if err := h.familyService.UpdateVibe(ctx, userID, req.Vibe); err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to update vibe")
		respondError(w, "Failed to update vibe", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
