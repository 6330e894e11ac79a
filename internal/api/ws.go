package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/technosupport/ts-nvrbridge/internal/bus"
	"github.com/technosupport/ts-nvrbridge/internal/normalize"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all for dev; restrict in prod
	},
}

// wsMessage is the frame pushed to websocket subscribers.
type wsMessage struct {
	Type    string `json:"type"` // "alarm" or "snapshot"
	Payload any    `json:"payload"`
}

// Hub fans bus traffic out to connected websocket clients. A client that
// cannot keep up gets dropped rather than blocking delivery to the rest.
type Hub struct {
	tokens *TokenManager

	mu    sync.Mutex
	conns map[*websocket.Conn]chan []byte
}

func NewHub(tokens *TokenManager, b *bus.Bus) *Hub {
	h := &Hub{
		tokens: tokens,
		conns:  map[*websocket.Conn]chan []byte{},
	}
	b.SubscribeAlarms(func(evt normalize.Event) {
		h.broadcast(wsMessage{Type: "alarm", Payload: evt})
	})
	b.SubscribeSnapshots(func(snap normalize.Snapshot) {
		h.broadcast(wsMessage{Type: "snapshot", Payload: snap.WithoutImage()})
	})
	return h
}

func (h *Hub) broadcast(msg wsMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[ERROR] ws: marshal broadcast: %v", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, ch := range h.conns {
		select {
		case ch <- data:
		default:
			log.Printf("[DEBUG] ws: client %s too slow, dropping", conn.RemoteAddr())
			close(ch)
			delete(h.conns, conn)
		}
	}
}

// ServeWS upgrades the connection and streams events until the client goes
// away. Auth is via query-param token, the usual websocket convention.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	claims, err := h.tokens.ValidateToken(tokenStr)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WS Upgrade Failed: %v", err)
		return
	}
	log.Printf("WS Connected: %s (%s)", claims.Name, conn.RemoteAddr())

	ch := make(chan []byte, 64)
	h.mu.Lock()
	h.conns[conn] = ch
	h.mu.Unlock()

	// Reader drains control frames and detects disconnect.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.remove(conn)
				return
			}
		}
	}()

	for data := range ch {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.remove(conn)
			return
		}
	}
	conn.Close()
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	if ch, ok := h.conns[conn]; ok {
		close(ch)
		delete(h.conns, conn)
	}
	h.mu.Unlock()
	conn.Close()
}
