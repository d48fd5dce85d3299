package notify

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/hackgods/booking-settlement-engine/internal/audit"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

func registryKey(role audit.Role, userID uuid.UUID) string {
	return string(role) + ":" + userID.String()
}

type client struct {
	key  string
	conn *websocket.Conn
	send chan []byte
}

// Registry tracks live websocket connections keyed by (role, userID). A user
// may hold several connections, one per device.
type Registry struct {
	mu       sync.RWMutex
	clients  map[string]map[*client]struct{}
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		clients: make(map[string]map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

func (r *Registry) add(c *client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.clients[c.key] == nil {
		r.clients[c.key] = make(map[*client]struct{})
	}
	r.clients[c.key][c] = struct{}{}
}

func (r *Registry) remove(c *client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.clients[c.key]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(r.clients, c.key)
	}
	close(c.send)
}

// Count reports open connections for a user.
func (r *Registry) Count(role audit.Role, userID uuid.UUID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients[registryKey(role, userID)])
}

// Publish queues payload on every connection of the user and reports how many
// accepted it. Slow connections are skipped.
func (r *Registry) Publish(userID uuid.UUID, role audit.Role, payload any) int {
	data, err := json.Marshal(payload)
	if err != nil {
		r.logger.Warn().Err(err).Msg("marshal realtime payload")
		return 0
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	delivered := 0
	for c := range r.clients[registryKey(role, userID)] {
		select {
		case c.send <- data:
			delivered++
		default:
		}
	}
	return delivered
}

// ServeWS upgrades the request and registers the connection for the
// authenticated user until it closes.
func (r *Registry) ServeWS(w http.ResponseWriter, req *http.Request, userID uuid.UUID, role audit.Role) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Debug().Err(err).Msg("websocket upgrade")
		return
	}

	c := &client{key: registryKey(role, userID), conn: conn, send: make(chan []byte, sendBuffer)}
	r.add(c)
	r.logger.Debug().Str("user_id", userID.String()).Str("role", string(role)).Msg("realtime connected")

	go r.writePump(c)
	go r.readPump(c)
}

func (r *Registry) readPump(c *client) {
	defer func() {
		r.remove(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		// inbound messages are ignored; reading drives pong handling and close detection
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (r *Registry) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close drops every connection.
func (r *Registry) Close() {
	r.mu.Lock()
	var all []*client
	for _, set := range r.clients {
		for c := range set {
			all = append(all, c)
		}
	}
	r.mu.Unlock()

	for _, c := range all {
		r.remove(c)
	}
}
