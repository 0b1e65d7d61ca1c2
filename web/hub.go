package web

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"fluent.town/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Message is what the practice page receives over its websocket.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Hub fans session changes out to every connected page. A client that
// falls behind is disconnected instead of blocking the session.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	logger  *log.Logger
}

type client struct {
	conn   *websocket.Conn
	remote string
	send   chan []byte
	once   sync.Once
}

func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{
		clients: make(map[*client]struct{}),
		logger:  logger.With("component", "hub"),
	}
}

// Callbacks returns session callbacks that broadcast every change.
func (h *Hub) Callbacks() session.Callbacks {
	return session.Callbacks{
		OnChunks: func(chunks []session.Chunk) {
			if chunks == nil {
				chunks = []session.Chunk{}
			}
			h.Broadcast(Message{Type: "chunks", Data: chunks})
		},
		OnListening: func(listening bool) {
			h.Broadcast(Message{Type: "listening", Data: listening})
		},
		OnTranscript: func(transcript string) {
			h.Broadcast(Message{Type: "transcript", Data: transcript})
		},
		OnPartial: func(text string) {
			h.Broadcast(Message{Type: "partial", Data: text})
		},
		OnError: func(err error) {
			h.Broadcast(Message{Type: "error", Data: err.Error()})
		},
	}
}

func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to encode message", "type", msg.Type, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("Client too slow, disconnecting", "remote", c.remote)
			delete(h.clients, c)
			c.close()
		}
	}
}

func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeWS upgrades the request and streams messages to it, starting with
// a snapshot of the current state. The snapshot is taken while the client
// is being registered so no broadcast falls between the two.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, snapshot func() session.State) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, remote: r.RemoteAddr, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	data, err := json.Marshal(Message{Type: "state", Data: snapshot()})
	if err != nil {
		h.logger.Error("Failed to encode snapshot", "error", err)
	} else {
		c.send <- data
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("Client connected", "remote", c.remote)

	go h.writePump(c)
	h.readPump(c)
}

// readPump discards client input and unregisters the client once the
// connection goes away.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		c.close()
		h.logger.Debug("Client disconnected", "remote", c.remote)
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("Websocket read error", "error", err)
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
					h.logger.Debug("Websocket close failed", "remote", c.remote, "error", err)
				}
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}
