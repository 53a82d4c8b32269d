package handlers

import (
	"net/http"

	"whiteboard-relay/internal/auth"
	"whiteboard-relay/internal/models"
	ws "whiteboard-relay/internal/websocket"
	"whiteboard-relay/pkg/logger"

	"github.com/gorilla/websocket"
)

// TokenVerifier turns a bearer token into a verified identity.
type TokenVerifier interface {
	Verify(token string) (models.Identity, error)
}

type WebSocketHandlers struct {
	verifier TokenVerifier
	gateway  *ws.Gateway
	upgrader websocket.Upgrader
}

func NewWebSocketHandlers(verifier TokenVerifier, gateway *ws.Gateway) *WebSocketHandlers {
	return &WebSocketHandlers{
		verifier: verifier,
		gateway:  gateway,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true }, // Configure for production
		},
	}
}

func (h *WebSocketHandlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Verify before upgrading so a rejected channel never touches room state
	identity, err := h.verifier.Verify(auth.TokenFromRequest(r))
	if err != nil {
		logger.Warn("Authentication error: %v", err)
		http.Error(w, "authentication error", http.StatusUnauthorized)
		return
	}

	// Upgrade connection to WebSocket
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Upgrade error: %v", err)
		return
	}

	client := h.gateway.Connect(conn, identity)

	// Start client pumps
	go client.WritePump()
	go client.ReadPump()
}
