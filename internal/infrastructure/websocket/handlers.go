package websocket

import (
	"context"
	"errors"
	"net/http"

	"negotiation-engine/internal/domain"
	"negotiation-engine/internal/services"
	"negotiation-engine/internal/view"
	"negotiation-engine/pkg/logger"
	"negotiation-engine/pkg/utils"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development
	},
}

// clientMessage is what clients may send on an open session.
type clientMessage struct {
	Type string `json:"type"`
	Kind string `json:"kind,omitempty"`
	ID   string `json:"id,omitempty"`
}

type WebSocketHandler struct {
	subscriber domain.EventSubscriber
	fetch      view.Refetcher
	sessions   *SessionManager
	log        logger.Logger
}

func NewWebSocketHandler(subscriber domain.EventSubscriber, fetch view.Refetcher,
	sessions *SessionManager, log logger.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		subscriber: subscriber,
		fetch:      fetch,
		sessions:   sessions,
		log:        log,
	}
}

// HandleChain follows one chain and the listing it negotiates.
func (h *WebSocketHandler) HandleChain(w http.ResponseWriter, r *http.Request) {
	chainID := mux.Vars(r)["chainID"]

	chain, err := h.fetch.GetChain(r.Context(), chainID)
	if err != nil {
		h.reject(w, "chain", chainID, err)
		return
	}

	h.serve(w, r, domain.ChainRef(chain.ID), domain.ListingRef(chain.ListingID))
}

// HandleListing follows one listing's price changes.
func (h *WebSocketHandler) HandleListing(w http.ResponseWriter, r *http.Request) {
	listingID := mux.Vars(r)["listingID"]

	if _, err := h.fetch.GetListing(r.Context(), listingID); err != nil {
		h.reject(w, "listing", listingID, err)
		return
	}

	h.serve(w, r, domain.ListingRef(listingID))
}

func (h *WebSocketHandler) reject(w http.ResponseWriter, kind, id string, err error) {
	if domain.KindOf(err) == domain.KindNotFound {
		h.log.Info("Rejected connection, entity not found", "kind", kind, "id", id)
		http.Error(w, kind+" not found", http.StatusNotFound)
		return
	}
	h.log.Error("Failed to load entity", "kind", kind, "id", id, "error", err)
	http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
}

func (h *WebSocketHandler) serve(w http.ResponseWriter, r *http.Request, refs ...domain.EntityRef) {
	userID := r.URL.Query().Get("user_id")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("Failed to upgrade connection", "error", err)
		return
	}

	sessionID := utils.GenerateID("session")
	wsConn := NewWebSocketConnection(conn, sessionID, userID, h.log)
	listener := services.NewEventListener(sessionID, h.subscriber, h.fetch, NewSessionNotifier(wsConn), h.log)
	h.sessions.Register(userID, listener, wsConn)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		defer cancel()
		defer h.sessions.Unregister(sessionID)

		for _, ref := range refs {
			if err := listener.Follow(ctx, ref); err != nil {
				h.log.Warn("Failed to follow entity", "session_id", sessionID, "entity", ref.String(), "error", err)
			}
		}
		h.handleMessages(ctx, wsConn, listener)
	}()
}

func (h *WebSocketHandler) handleMessages(ctx context.Context, conn *WebSocketConnection, listener *services.EventListener) {
	for {
		var msg clientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Error("Failed to read message", "session_id", conn.SessionID(), "error", err)
			}
			return
		}

		switch msg.Type {
		case "ping":
			conn.Send(Message{Type: MessagePong})
		case "refresh":
			if err := listener.Refresh(ctx); err != nil {
				conn.Send(Message{Type: MessageError, Error: "refresh incomplete, retrying in background"})
			}
		case "follow":
			ref := domain.EntityRef{Kind: domain.EntityKind(msg.Kind), ID: msg.ID}
			if err := h.follow(ctx, listener, ref); err != nil {
				conn.Send(Message{Type: MessageError, Error: err.Error()})
			}
		case "unfollow":
			listener.Unfollow(domain.EntityRef{Kind: domain.EntityKind(msg.Kind), ID: msg.ID})
		default:
			conn.Send(Message{Type: MessageError, Error: "unknown message type"})
		}
	}
}

var errBadRef = errors.New("follow needs kind chain or listing and an id")

func (h *WebSocketHandler) follow(ctx context.Context, listener *services.EventListener, ref domain.EntityRef) error {
	if ref.ID == "" || (ref.Kind != domain.EntityChain && ref.Kind != domain.EntityListing) {
		return errBadRef
	}
	return listener.Follow(ctx, ref)
}
