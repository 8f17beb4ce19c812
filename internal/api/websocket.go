package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/thlokol/polymarket-copy-trading-bot/pkg/types"
)

// MessageType defines WebSocket message types.
type MessageType string

const (
	MsgTypeDecision  MessageType = "decision"
	MsgTypeHeartbeat MessageType = "heartbeat"
)

// WSMessage is one server-to-client event.
type WSMessage struct {
	Type      MessageType `json:"type"`
	Data      any         `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// client is one WebSocket connection.
type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, 64),
	}

	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()
	s.logger.Debug("WebSocket client connected", zap.String("id", c.id))

	go s.writePump(c)
	go s.readPump(c)
}

// BroadcastDecision pushes one routing decision to every connected client.
// Slow clients are dropped rather than allowed to block the loop.
func (s *Server) BroadcastDecision(d types.Decision) {
	payload, err := json.Marshal(WSMessage{
		Type:      MsgTypeDecision,
		Data:      d,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.clients {
		select {
		case c.send <- payload:
		default:
			close(c.send)
			delete(s.clients, id)
		}
	}
}

func (s *Server) writePump(c *client) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			hb, _ := json.Marshal(WSMessage{
				Type:      MsgTypeHeartbeat,
				Timestamp: time.Now().UnixMilli(),
			})
			if err := c.conn.WriteMessage(websocket.TextMessage, hb); err != nil {
				return
			}
		}
	}
}

// readPump drains client frames so pings are answered; inbound payloads are
// ignored.
func (s *Server) readPump(c *client) {
	defer func() {
		s.mu.Lock()
		if _, ok := s.clients[c.id]; ok {
			delete(s.clients, c.id)
			close(c.send)
		}
		s.mu.Unlock()
		c.conn.Close()
		s.logger.Debug("WebSocket client disconnected", zap.String("id", c.id))
	}()

	c.conn.SetReadLimit(1 << 16)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
