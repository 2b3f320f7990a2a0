package services

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// FeedEvent is a record-change hint pushed over the websocket feed. It
// names the table that changed and nothing more: the feed is best-effort
// and never authoritative, so clients always refetch through the normal
// read endpoints instead of trusting pushed state.
type FeedEvent struct {
	Table string `json:"table"`
}

// Publisher broadcasts record-change hints to a family's connected devices
type Publisher interface {
	Publish(familyID string, event FeedEvent)
}

// feedMessage is the wire shape of one feed event
type feedMessage struct {
	Type      string `json:"type"`
	Table     string `json:"table"`
	Timestamp int64  `json:"timestamp"`
}

// feedConn pairs a connection with its family and a write mutex. The
// websocket library allows only one concurrent writer per connection, and
// Publish runs on whichever request goroutine caused the mutation.
type feedConn struct {
	familyID string
	writeMu  sync.Mutex
}

// FeedHub manages the websocket change feed. A user may hold several
// connections at once (tabs, devices); all of a family's connections
// receive every hint.
type FeedHub struct {
	mu    sync.RWMutex
	conns map[*websocket.Conn]*feedConn
}

// NewFeedHub creates a new change feed hub
func NewFeedHub() *FeedHub {
	return &FeedHub{
		conns: make(map[*websocket.Conn]*feedConn),
	}
}

// Register adds a connection to a family's feed
func (h *FeedHub) Register(familyID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[conn] = &feedConn{familyID: familyID}

	log.Info().Str("family_id", familyID).Msg("Feed connection registered")
}

// Unregister removes a connection from the feed
func (h *FeedHub) Unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.conns[conn]; exists {
		conn.Close()
		delete(h.conns, conn)
		log.Info().Msg("Feed connection unregistered")
	}
}

// Publish sends a record-change hint to every connection of the family.
// Connections that fail to write are dropped; the client's polling loop
// covers the gap until it reconnects.
func (h *FeedHub) Publish(familyID string, event FeedEvent) {
	data, err := json.Marshal(feedMessage{
		Type:      "record_changed",
		Table:     event.Table,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal feed event")
		return
	}

	type target struct {
		conn *websocket.Conn
		fc   *feedConn
	}
	h.mu.RLock()
	var targets []target
	for conn, fc := range h.conns {
		if fc.familyID == familyID {
			targets = append(targets, target{conn: conn, fc: fc})
		}
	}
	h.mu.RUnlock()

	for _, t := range targets {
		t.fc.writeMu.Lock()
		err := t.conn.WriteMessage(websocket.TextMessage, data)
		t.fc.writeMu.Unlock()
		if err != nil {
			log.Error().Err(err).Str("family_id", familyID).Msg("Failed to push feed event")
			h.Unregister(t.conn)
		}
	}
}
