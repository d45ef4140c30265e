package httpapi

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/micro-ha/intercom-bridge/addon/internal/actuator"
	"github.com/micro-ha/intercom-bridge/addon/internal/engine"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
	wsSendBuffer   = 16
)

// Hub fans engine events out to connected websocket clients. A client
// that cannot keep up with the stream is dropped rather than blocking
// the rest.
type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

type wsClient struct {
	conn *websocket.Conn
	send chan any
}

// actuatorStateMessage mirrors the /api/state actuator block so the
// frontend can update switches without polling.
type actuatorStateMessage struct {
	Type      string           `json:"type"`
	At        time.Time        `json:"at"`
	Actuators []actuator.State `json:"actuators"`
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			// Requests arrive through the Home Assistant ingress proxy,
			// so the Origin header never matches the host.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: map[*wsClient]struct{}{},
	}
}

// Broadcast queues an engine event for every connected client.
func (h *Hub) Broadcast(event engine.Event) {
	h.broadcast(event)
}

// BroadcastActuatorStates pushes a fresh actuator snapshot, typically
// after an auto-revert flips a relay back off.
func (h *Hub) BroadcastActuatorStates(states []actuator.State) {
	h.broadcast(actuatorStateMessage{
		Type:      "actuator_state",
		At:        time.Now().UTC(),
		Actuators: states,
	})
}

func (h *Hub) broadcast(msg any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.send <- msg:
		default:
			h.logger.Warn("dropping slow websocket client")
			close(client.send)
			delete(h.clients, client)
		}
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "err", err)
		return
	}

	client := &wsClient{conn: conn, send: make(chan any, wsSendBuffer)}
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	go h.writePump(client)
	h.readPump(client)
}

func (h *Hub) writePump(client *wsClient) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-client.send:
			if !ok {
				_ = client.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(wsWriteTimeout))
				return
			}
			_ = client.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := client.conn.WriteJSON(event); err != nil {
				h.remove(client)
				return
			}
		case <-ticker.C:
			if err := client.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				h.remove(client)
				return
			}
		}
	}
}

// readPump discards inbound frames; it exists to notice the close.
func (h *Hub) readPump(client *wsClient) {
	defer func() {
		h.remove(client)
		client.conn.Close()
	}()
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) remove(client *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()
}
