package telemetry

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // onboard status page is served from the same host
	},
}

const (
	hubClientQueue = 8
	hubWriteWait   = time.Second
)

type hubClient struct {
	conn *websocket.Conn
	out  chan []byte
}

// Hub streams records to websocket clients. Send never blocks: slow clients
// miss records. It also keeps the latest record for polling endpoints.
type Hub struct {
	mu      sync.RWMutex
	clients map[*hubClient]struct{}
	latest  Record
	have    bool
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*hubClient]struct{})}
}

// Send stores r as latest and offers it to every client.
func (h *Hub) Send(r Record) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.latest = r
	h.have = true
	clients := make([]*hubClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		select {
		case c.out <- payload:
		default:
		}
	}
	return nil
}

// Latest returns the last record sent, if any.
func (h *Hub) Latest() (Record, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.latest, h.have
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and streams records until the client leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("telemetry: websocket upgrade error: %v", err)
		return
	}
	c := &hubClient{conn: conn, out: make(chan []byte, hubClientQueue)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		conn.Close()
	}()

	// reader: only used to notice the client going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("telemetry: websocket error: %v", err)
				}
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case msg := <-c.out:
			conn.SetWriteDeadline(time.Now().Add(hubWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}
