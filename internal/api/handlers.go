package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"question-collab/internal/middleware"
	"question-collab/internal/services/collaboration"
)

// Handler handles HTTP requests
type Handler struct {
	database  Pinger
	relay     Pinger // nil when running as a single process
	stats     CollabStats
	wsHandler *collaboration.WebSocketHandler
}

func NewHandler(database Pinger, relay Pinger, stats CollabStats, wsHandler *collaboration.WebSocketHandler) *Handler {
	return &Handler{
		database:  database,
		relay:     relay,
		stats:     stats,
		wsHandler: wsHandler,
	}
}

type healthResponse struct {
	Status   string            `json:"status"`
	Checks   map[string]string `json:"checks"`
	Sessions int               `json:"sessions"`
	Live     int               `json:"liveDocuments"`
}

// Health reports dependency status. The database is required; the relay
// only degrades cross-process fan-out.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{
		Status:   "ok",
		Checks:   map[string]string{},
		Sessions: h.stats.SessionCount(),
		Live:     h.stats.LiveDocuments(),
	}
	status := http.StatusOK

	if err := h.database.Ping(ctx); err != nil {
		middleware.AddSpanError(ctx, err)
		log.Printf("[%s] ⚠️  Database ping failed: %v", middleware.GetRequestID(r.Context()), err)
		resp.Checks["database"] = "down"
		resp.Status = "unavailable"
		status = http.StatusServiceUnavailable
	} else {
		resp.Checks["database"] = "up"
	}

	if h.relay != nil {
		if err := h.relay.Ping(ctx); err != nil {
			log.Printf("[%s] ⚠️  Relay ping failed: %v", middleware.GetRequestID(r.Context()), err)
			resp.Checks["relay"] = "down"
			if status == http.StatusOK {
				resp.Status = "degraded"
			}
		} else {
			resp.Checks["relay"] = "up"
		}
	}

	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("⚠️  Failed to encode response: %v", err)
	}
}
