package main

import (
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Default time allowed to write one frame to the peer.
	defaultWriteWait = 10 * time.Second

	// Default time allowed between pongs (or any other frame) from the peer.
	defaultPongWait = 30 * time.Second

	// Largest frame a client may send us.
	maxMessageSize = 512
)

// websocketManager is the transport a session talks through. Tests replace it.
type websocketManager interface {
	wsSetReadLimit()
	wsSetReadDeadline()
	wsSetPongHandler()
	wsReadMessage() (int, []byte, error)
	wsSetWriteDeadline()
	wsWriteMessage(int, []byte) error
	wsWritePing([]byte) error
	wsWriteClose(code int, reason string) error
	wsClose()
	wsRemoteAddr() string
}

// wsTransport is a gorilla connection with the deadlines a session uses.
type wsTransport struct {
	conn      *websocket.Conn
	writeWait time.Duration
	pongWait  time.Duration
}

func newWsTransport(conn *websocket.Conn, writeWait, pongWait time.Duration) *wsTransport {
	if writeWait <= 0 {
		writeWait = defaultWriteWait
	}
	if pongWait <= 0 {
		pongWait = defaultPongWait
	}
	return &wsTransport{conn: conn, writeWait: writeWait, pongWait: pongWait}
}

func (t *wsTransport) wsSetReadLimit() {
	t.conn.SetReadLimit(maxMessageSize)
}

func (t *wsTransport) wsSetReadDeadline() {
	_ = t.conn.SetReadDeadline(time.Now().Add(t.pongWait))
}

// Every pong buys the client another pongWait.
func (t *wsTransport) wsSetPongHandler() {
	t.conn.SetPongHandler(func(string) error {
		incr("conn.pong", 1)
		t.wsSetReadDeadline()
		return nil
	})
}

func (t *wsTransport) wsReadMessage() (int, []byte, error) {
	return t.conn.ReadMessage()
}

func (t *wsTransport) wsSetWriteDeadline() {
	_ = t.conn.SetWriteDeadline(time.Now().Add(t.writeWait))
}

func (t *wsTransport) wsWriteMessage(messageType int, payload []byte) error {
	return t.conn.WriteMessage(messageType, payload)
}

// Control frames carry their own deadline.
func (t *wsTransport) wsWritePing(payload []byte) error {
	return t.conn.WriteControl(websocket.PingMessage, payload, time.Now().Add(t.writeWait))
}

func (t *wsTransport) wsWriteClose(code int, reason string) error {
	msg := websocket.FormatCloseMessage(code, reason)
	return t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(t.writeWait))
}

func (t *wsTransport) wsClose() {
	_ = t.conn.Close()
}

func (t *wsTransport) wsRemoteAddr() string {
	return t.conn.RemoteAddr().String()
}
