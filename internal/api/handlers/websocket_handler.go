package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"negotiation-engine/internal/domain"
	"negotiation-engine/internal/infrastructure/websocket"
	"negotiation-engine/internal/view"
	"negotiation-engine/pkg/logger"

	"github.com/gorilla/mux"
)

type WebSocketHandlers struct {
	wsHandler *websocket.WebSocketHandler
	sessions  *websocket.SessionManager
}

func NewWebSocketHandlers(subscriber domain.EventSubscriber, fetch view.Refetcher,
	sessions *websocket.SessionManager, log logger.Logger) *WebSocketHandlers {
	wsHandler := websocket.NewWebSocketHandler(subscriber, fetch, sessions, log)
	return &WebSocketHandlers{
		wsHandler: wsHandler,
		sessions:  sessions,
	}
}

func (h *WebSocketHandlers) Register(r *mux.Router) {
	r.HandleFunc("/ws/chains/{chainID}", h.wsHandler.HandleChain)
	r.HandleFunc("/ws/listings/{listingID}", h.wsHandler.HandleListing)
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
}

func (h *WebSocketHandlers) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    "ok",
		"service":   "notification-service",
		"sessions":  h.sessions.Count(),
		"timestamp": time.Now().Format(time.RFC3339),
	})
}
