package websocket

import (
	"sync"
	"time"

	"negotiation-engine/pkg/logger"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// WebSocketConnection serializes writes to one client connection.
type WebSocketConnection struct {
	conn      *websocket.Conn
	sessionID string
	userID    string
	log       logger.Logger
	writeMu   sync.Mutex
	closeOnce sync.Once
}

func NewWebSocketConnection(conn *websocket.Conn, sessionID, userID string, log logger.Logger) *WebSocketConnection {
	return &WebSocketConnection{
		conn:      conn,
		sessionID: sessionID,
		userID:    userID,
		log:       log,
	}
}

func (wsc *WebSocketConnection) Send(message interface{}) error {
	wsc.writeMu.Lock()
	defer wsc.writeMu.Unlock()
	wsc.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return wsc.conn.WriteJSON(message)
}

func (wsc *WebSocketConnection) ReadJSON(v interface{}) error {
	return wsc.conn.ReadJSON(v)
}

func (wsc *WebSocketConnection) Close() error {
	var err error
	wsc.closeOnce.Do(func() {
		wsc.writeMu.Lock()
		wsc.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		wsc.writeMu.Unlock()
		err = wsc.conn.Close()
	})
	return err
}

func (wsc *WebSocketConnection) SessionID() string {
	return wsc.sessionID
}

func (wsc *WebSocketConnection) UserID() string {
	return wsc.userID
}
