package collaboration

import (
	"log"
	"net/http"
	"strings"

	"question-collab/internal/metrics"
	"question-collab/internal/middleware"
	"question-collab/internal/models"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
)

/*
LEARNING: AUTHENTICATED UPGRADE

The credential is checked before the protocol switch, so a rejected
client gets a plain 401 and no socket is ever opened for it.
Browsers cannot set headers on a websocket handshake, so the token
may also come from the "token" query parameter.
*/

// WebSocketHandler accepts collaboration connections.
type WebSocketHandler struct {
	sessionManager *SessionManager
	verifier       TokenVerifier
	upgrader       websocket.Upgrader
	sendBuffer     int
}

// NewWebSocketHandler creates a handler. An origin of "*" allows any origin.
func NewWebSocketHandler(sessionManager *SessionManager, verifier TokenVerifier, allowedOrigins []string, sendBuffer int) *WebSocketHandler {
	return &WebSocketHandler{
		sessionManager: sessionManager,
		verifier:       verifier,
		sendBuffer:     sendBuffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(o, "/")] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || set["*"] {
			return true // non-browser client
		}
		return set[strings.TrimRight(origin, "/")]
	}
}

// bearerToken reads the credential from the Authorization header or the query.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return r.URL.Query().Get("token")
}

// HandleConnection authenticates and upgrades one connection.
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	ctx, span := middleware.StartSpan(r.Context(), "WebSocket.Connect")
	defer span.End()

	identity, err := h.verifier.Verify(bearerToken(r))
	if err != nil {
		log.Printf("  Rejected websocket handshake from %s: %v", r.RemoteAddr, err)
		middleware.AddSpanError(ctx, err)
		metrics.Rejections.WithLabelValues(string(models.CodeUnauthorized)).Inc()
		http.Error(w, models.PublicMessage(err), http.StatusUnauthorized)
		return
	}
	span.SetAttributes(attribute.String("user.id", identity.UserID))

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade WebSocket: %v", err)
		middleware.AddSpanError(ctx, err)
		return
	}

	session := h.sessionManager.NewSession(identity, conn, h.sendBuffer)

	// Learning: Separate goroutines prevent deadlock between reading and writing.
	// The request context ends with this handler, so the pumps use the manager's.
	go session.WritePump()
	go session.ReadPump(h.sessionManager.Context())

	log.Printf("✓ WebSocket connection established (user: %s, session: %s)", identity.UserID, session.ID)
}
