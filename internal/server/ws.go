package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tangym/sensorlog/internal/session"
)

const (
	pingInterval   = 30 * time.Second
	statusInterval = 2 * time.Second
	readDeadline   = 60 * time.Second
	writeDeadline  = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// hub tracks the connected status clients
type hub struct {
	mu      sync.Mutex
	clients map[*client]bool
}

type client struct {
	conn   *websocket.Conn
	send   chan []byte
	server *Server
}

func newHub() *hub {
	return &hub{clients: make(map[*client]bool)}
}

func (h *hub) add(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = true
}

func (h *hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
}

// broadcast queues msg for every client; slow clients miss the update
func (h *hub) broadcast(msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
		}
	}
}

// handleWebSocket streams status updates. Clients may send "start", "stop"
// or "toggle" text messages to drive the recorder.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, 16), server: s}
	c.send <- s.statusMessage()
	s.hub.add(c)

	go c.writePump()
	go c.readPump()
}

// statusMessage renders the current status as JSON
func (s *Server) statusMessage() []byte {
	data, err := json.Marshal(s.currentStatus())
	if err != nil {
		slog.Warn("Failed to marshal status", "error", err)
		return []byte("{}")
	}
	return data
}

// notify pushes the current status to every WebSocket client
func (s *Server) notify() {
	s.hub.broadcast(s.statusMessage())
}

func (c *client) readPump() {
	defer func() {
		c.server.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("WebSocket read error", "error", err)
			}
			return
		}
		c.server.handleCommand(strings.TrimSpace(string(message)))
	}
}

func (c *client) writePump() {
	ping := time.NewTicker(pingInterval)
	status := time.NewTicker(statusInterval)
	defer func() {
		ping.Stop()
		status.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-status.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.TextMessage, c.server.statusMessage()); err != nil {
				return
			}

		case <-ping.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleCommand applies a WebSocket control message
func (s *Server) handleCommand(cmd string) {
	s.controlMu.Lock()
	defer s.controlMu.Unlock()

	var err error
	switch cmd {
	case "start":
		_, err = s.recorder.Start()
	case "stop":
		_, err = s.recorder.Stop()
	case "toggle":
		if state, _ := s.recorder.State(); state == session.StateRecording {
			_, err = s.recorder.Stop()
		} else {
			_, err = s.recorder.Start()
		}
	default:
		slog.Debug("Ignoring unknown WebSocket command", "command", cmd)
		return
	}
	if err != nil {
		slog.Error("WebSocket command failed", "command", cmd, "error", err)
	}
	s.notify()
}
