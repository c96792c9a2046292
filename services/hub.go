package services

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"atmos/models"
)

const (
	// slow subscribers are dropped once their send buffer fills
	clientSendBuffer   = 32
	hubBroadcastBuffer = 256

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// wsEnvelope wraps every pushed message with its event name, mirroring the
// two channels the dashboards subscribe to.
type wsEnvelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// Hub broadcasts live sensor updates and alert events to all connected
// websocket subscribers. Per-subscriber failures are isolated: a slow or
// disconnected client is dropped without affecting the broadcast to others.
type Hub struct {
	logger     *zap.Logger
	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan []byte
	done       chan struct{}
	clients    map[*wsClient]bool
	count      atomic.Int64
	upgrader   websocket.Upgrader
}

type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:     logger,
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan []byte, hubBroadcastBuffer),
		done:       make(chan struct{}),
		clients:    make(map[*wsClient]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// dashboards are served from other origins
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Run owns the client set. It must be started before any broadcast. When it
// returns, the done channel releases any client goroutine still trying to
// register or unregister.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.count.Store(0)
			h.logger.Info("Websocket hub stopped")
			return

		case client := <-h.register:
			h.clients[client] = true
			h.count.Store(int64(len(h.clients)))
			h.logger.Info("Websocket subscriber connected",
				zap.Int("subscribers", len(h.clients)))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.count.Store(int64(len(h.clients)))
				h.logger.Info("Websocket subscriber disconnected",
					zap.Int("subscribers", len(h.clients)))
			}

		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// subscriber too slow, drop it
					delete(h.clients, client)
					close(client.send)
					h.count.Store(int64(len(h.clients)))
					h.logger.Warn("Dropped slow websocket subscriber",
						zap.Int("subscribers", len(h.clients)))
				}
			}
		}
	}
}

// BroadcastLive pushes a sensor:update event for an accepted reading.
func (h *Hub) BroadcastLive(r *models.Reading) {
	h.publish("sensor:update", models.NewLiveUpdate(r))
}

// BroadcastAlert pushes an alert event. Unthrottled: every breaching reading
// produces one, regardless of notification cooldown.
func (h *Hub) BroadcastAlert(event *models.AlertEvent) {
	h.publish("alert", event)
}

// BroadcastNotice pushes a service status message, such as a feed staleness
// or recovery notice.
func (h *Hub) BroadcastNotice(message string) {
	h.publish("status", map[string]string{
		"message":   message,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (h *Hub) publish(event string, data interface{}) {
	payload, err := json.Marshal(wsEnvelope{Event: event, Data: data})
	if err != nil {
		h.logger.Error("Failed to marshal websocket event",
			zap.String("event", event), zap.Error(err))
		return
	}
	select {
	case h.broadcast <- payload:
	default:
		h.logger.Warn("Websocket broadcast buffer full, dropping event",
			zap.String("event", event))
	}
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int64 {
	return h.count.Load()
}

// ServeWS upgrades an HTTP request to a websocket subscription.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Websocket upgrade failed", zap.Error(err))
		return
	}

	client := &wsClient{hub: h, conn: conn, send: make(chan []byte, clientSendBuffer)}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

// readPump discards inbound frames; subscribers are read-only. It exists to
// process control messages and detect closed connections.
func (c *wsClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
