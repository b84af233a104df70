package api

import (
	"question-collab/internal/metrics"
	"question-collab/internal/middleware"

	"github.com/gorilla/mux"
)

func SetupRoutes(h *Handler, allowedOrigins []string) *mux.Router {
	r := mux.NewRouter()

	// Learning: Middleware runs in order - tracing first, then recovery, then CORS
	r.Use(middleware.TracingMiddleware)
	r.Use(middleware.ErrorRecoveryMiddleware)
	r.Use(middleware.CORSMiddleware(allowedOrigins))

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", h.Health).Methods("GET")

	r.Handle("/metrics", metrics.Handler()).Methods("GET")

	// WebSocket routes
	r.HandleFunc("/ws/collab", h.HandleCollabWebSocket).Methods("GET")

	return r
}
