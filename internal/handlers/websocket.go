package handlers

import (
	"net/http"

	"echo-backend/internal/middleware"
	"echo-backend/internal/services"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketHandler serves the record-change feed. The feed only carries
// hints; clients keep their polling loops as the authoritative path.
type WebSocketHandler struct {
	hub           *services.FeedHub
	userService   *services.UserService
	familyService *services.FamilyService
}

// NewWebSocketHandler creates a new websocket handler
func NewWebSocketHandler(
	hub *services.FeedHub,
	userService *services.UserService,
	familyService *services.FamilyService,
) *WebSocketHandler {
	return &WebSocketHandler{
		hub:           hub,
		userService:   userService,
		familyService: familyService,
	}
}

// HandleWebSocket handles GET /ws?token=...
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	userID, err := middleware.ValidateWebSocketToken(token, h.userService)
	if err != nil {
		respondError(w, "invalid token", http.StatusUnauthorized)
		return
	}

	familyID, err := h.familyService.FamilyOf(r.Context(), userID)
	if err != nil {
		respondError(w, "No family set up yet", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	h.hub.Register(familyID, conn)
	defer h.hub.Unregister(conn)

	log.Info().
		Str("user_id", userID).
		Str("family_id", familyID).
		Msg("Feed connection established")

	// The feed is one-way; the read loop only watches for disconnect
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("user_id", userID).Msg("Feed connection error")
			}
			return
		}
	}
}
