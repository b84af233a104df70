package api

import (
	"net/http"
)

// WebSocket endpoints

// HandleCollabWebSocket upgrades an authenticated collaboration connection
func (h *Handler) HandleCollabWebSocket(w http.ResponseWriter, r *http.Request) {
	h.wsHandler.HandleConnection(w, r)
}
