// Package broadcast fans the derived state snapshot out to every
// connected WebSocket subscriber (spec §6 `/ws`): server pushes full
// state JSON on every mutation. The subscriber set is a map guarded by
// a mutex, grounded on the teacher's EarningsHub (api/engagement.go)
// subscribe/unsubscribe/drop-if-slow shape, with the actual connection
// handling (upgrade, origin check, ping/pong write pump) adapted from
// lab1702-netrek-web's server/websocket.go.
package broadcast

import (
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/peerball/peerball/internal/domain"
	"github.com/peerball/peerball/internal/observability"
)

const (
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
	readLimit    = 1024

	// maxSubscribers bounds memory from abandoned connections the same
	// way the netrek-web server bounds its client table.
	maxSubscribers = 256
)

var upgrader = websocket.Upgrader{
	CheckOrigin: isValidOrigin,
}

// isValidOrigin allows same-origin and localhost WebSocket upgrades and
// rejects every other origin. The HTTP API's CORS policy is separate
// and does not apply here.
func isValidOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if r.Host == u.Host {
		return true
	}
	return strings.HasPrefix(u.Host, "localhost:") || strings.HasPrefix(u.Host, "127.0.0.1:")
}

// Hub owns the set of connected WebSocket subscribers and fans out
// every Broadcast call to all of them, dropping any subscriber whose
// send buffer is full instead of blocking (spec §5: "dead subscribers
// are removed on next broadcast failure without raising").
type Hub struct {
	mu      sync.Mutex
	clients map[chan []byte]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[chan []byte]struct{})}
}

// Broadcast implements turn.Broadcaster and lifecycle.Broadcaster:
// marshal snap once, fan it out to every subscriber.
func (h *Hub) Broadcast(snap domain.Snapshot) {
	data, err := marshalSnapshot(snap)
	if err != nil {
		log.Printf("[broadcast] marshal snapshot: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- data:
		default:
			log.Printf("[broadcast] subscriber buffer full, dropping subscriber")
			delete(h.clients, ch)
			close(ch)
			observability.WSSubscribers.Set(float64(len(h.clients)))
		}
	}
}

func marshalSnapshot(snap domain.Snapshot) ([]byte, error) {
	return json.Marshal(snap)
}

func (h *Hub) subscribe() (chan []byte, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan []byte, 16)
	h.clients[ch] = struct{}{}
	observability.WSSubscribers.Set(float64(len(h.clients)))
	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.clients[ch]; ok {
			delete(h.clients, ch)
			close(ch)
		}
		observability.WSSubscribers.Set(float64(len(h.clients)))
	}
}

// ClientCount reports the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the connection and runs its write pump until the
// client disconnects (spec §6 `/ws`: server-push only, no client
// message protocol is defined).
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.ClientCount() >= maxSubscribers {
		http.Error(w, "too many subscribers", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[broadcast] upgrade failed: %v", err)
		return
	}

	subID := uuid.New().String()
	log.Printf("[broadcast] subscriber %s connected", subID)

	ch, unsubscribe := h.subscribe()
	go h.readPump(conn, subID, unsubscribe)
	h.writePump(conn, ch)
}

// readPump only exists to notice the client going away — this
// protocol never accepts inbound WS messages.
func (h *Hub) readPump(conn *websocket.Conn, subID string, unsubscribe func()) {
	defer func() {
		unsubscribe()
		log.Printf("[broadcast] subscriber %s disconnected", subID)
	}()
	conn.SetReadLimit(readLimit)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(conn *websocket.Conn, ch chan []byte) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case data, ok := <-ch:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
