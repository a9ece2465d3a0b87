package realtime

import (
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/fitversal/messaging-api/internal/models"
	"github.com/fitversal/messaging-api/internal/observability"
)

const clientSendBufferSize = 32

// Hub tracks connected websocket clients keyed by principal.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
	log     zerolog.Logger
}

// Client is one live websocket connection for a principal.
type Client struct {
	conn      *websocket.Conn
	send      chan Event
	principal models.Principal
	hub       *Hub
	closed    chan struct{}
	once      sync.Once
}

// NewHub constructs an empty hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		log:     logger.With().Str("component", "realtime_hub").Logger(),
	}
}

// Serve registers the connection and runs its pumps until the peer hangs up.
func (h *Hub) Serve(conn *websocket.Conn, principal models.Principal) {
	client := &Client{
		conn:      conn,
		send:      make(chan Event, clientSendBufferSize),
		principal: principal,
		hub:       h,
		closed:    make(chan struct{}),
	}

	h.register(client)
	observability.WebsocketConnections().Inc()
	defer observability.WebsocketConnections().Dec()

	go client.writer()
	client.reader()
}

// Broadcast delivers the event to every connected client of each recipient.
func (h *Hub) Broadcast(event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, recipient := range event.Recipients {
		for client := range h.clients[recipient.Key()] {
			select {
			case client.send <- event:
			default:
				h.log.Warn().
					Str("principal", recipient.Key()).
					Str("event", event.Type).
					Msg("dropping event for slow client")
			}
		}
	}
}

func (h *Hub) register(client *Client) {
	key := client.principal.Key()

	h.mu.Lock()
	if _, exists := h.clients[key]; !exists {
		h.clients[key] = make(map[*Client]struct{})
	}
	h.clients[key][client] = struct{}{}
	h.mu.Unlock()

	h.log.Debug().Str("principal", key).Msg("websocket client connected")
}

func (h *Hub) unregister(client *Client) {
	key := client.principal.Key()

	h.mu.Lock()
	if clients, ok := h.clients[key]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.clients, key)
		}
	}
	h.mu.Unlock()

	h.log.Debug().Str("principal", key).Msg("websocket client disconnected")
}

// reader drains the connection; live channels are receive-only and inbound
// frames only matter for detecting the close.
func (c *Client) reader() {
	defer c.close()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writer() {
	defer c.close()

	for {
		select {
		case event, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.WriteJSON(event); err != nil {
				return
			}
		case <-time.After(30 * time.Second):
			if err := c.conn.WriteMessage(websocket.PingMessage, []byte("keepalive")); err != nil {
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (c *Client) close() {
	c.once.Do(func() {
		close(c.closed)
		c.hub.unregister(c)
		_ = c.conn.Close()
	})
}
