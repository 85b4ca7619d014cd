package httpserver

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/fleetforge/fleetd/internal/types"
)

// wsBufferSize bounds a client's outgoing queue before it is dropped for
// falling behind.
const wsBufferSize = 256

// debugClient is one connected observer on the /ws debug feed.
type debugClient struct {
	conn *websocket.Conn
	send chan []byte
}

// debugHub fans out fleet events (agent/task/session updates) to any number
// of observers, independent of the RPC request/response path (SPEC_FULL §2
// ambient observability surface).
type debugHub struct {
	mu         sync.RWMutex
	clients    map[*debugClient]bool
	register   chan *debugClient
	unregister chan *debugClient
	broadcast  chan []byte
}

func newDebugHub() *debugHub {
	return &debugHub{
		clients:    make(map[*debugClient]bool),
		register:   make(chan *debugClient),
		unregister: make(chan *debugClient),
		broadcast:  make(chan []byte, wsBufferSize),
	}
}

func (h *debugHub) run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *debugHub) broadcastJSON(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	h.broadcast <- data
}

func (h *debugHub) notifyAgentUpdate(data interface{}) {
	h.broadcastJSON(types.WSMessage{Type: types.WSTypeAgentUpdate, Data: data})
}

func (h *debugHub) notifyTaskUpdate(data interface{}) {
	h.broadcastJSON(types.WSMessage{Type: types.WSTypeTaskUpdate, Data: data})
}

func (h *debugHub) notifySessionUpdate(data interface{}) {
	h.broadcastJSON(types.WSMessage{Type: types.WSTypeSessionUpdate, Data: data})
}

func (c *debugClient) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// readPump drains and discards client frames; it exists only to notice a
// closed connection and unregister promptly.
func (c *debugClient) readPump(h *debugHub) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
