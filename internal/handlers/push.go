package handlers

import (
	"encoding/json"
	"net/http"

	"echo-backend/internal/middleware"
	"echo-backend/internal/services"

	"github.com/rs/zerolog/log"
)

// PushHandler handles push subscription HTTP requests
type PushHandler struct {
	pushService *services.PushService
}

// NewPushHandler creates a new push handler
func NewPushHandler(pushService *services.PushService) *PushHandler {
	return &PushHandler{
		pushService: pushService,
	}
}

// SubscribeRequest mirrors the browser PushSubscription JSON shape
type SubscribeRequest struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// Subscribe handles POST /api/v1/push/subscriptions
func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req SubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.pushService.Subscribe(ctx, userID, req.Endpoint, req.Keys.P256dh, req.Keys.Auth); err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to save subscription")
		respondError(w, "Failed to save subscription", http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// SentResponse reports how many deliveries succeeded
type SentResponse struct {
	Sent int `json:"sent"`
}

// SendTest handles POST /api/v1/push/test
func (h *PushHandler) SendTest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	sent, err := h.pushService.SendTest(ctx, userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to send test notification")
		respondError(w, "Failed to send test notification", http.StatusInternalServerError)
		return
	}

	respondJSON(w, SentResponse{Sent: sent}, http.StatusOK)
}
