package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/fitversal/messaging-api/internal/models"
	"github.com/fitversal/messaging-api/internal/realtime"
)

// WebsocketHandler upgrades authenticated requests onto the realtime hub.
type WebsocketHandler struct {
	hub    *realtime.Hub
	logger zerolog.Logger
}

// NewWebsocketHandler constructs a websocket handler instance.
func NewWebsocketHandler(hub *realtime.Hub, logger zerolog.Logger) *WebsocketHandler {
	return &WebsocketHandler{
		hub:    hub,
		logger: logger.With().Str("component", "ws_handler").Logger(),
	}
}

// Register binds the websocket upgrade route. Authentication runs before
// the upgrade, so the principal is already in Locals.
func (h *WebsocketHandler) Register(router fiber.Router) {
	router.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	router.Get("/ws", websocket.New(h.handleConnection))
}

func (h *WebsocketHandler) handleConnection(conn *websocket.Conn) {
	principal, ok := websocketPrincipal(conn)
	if !ok {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(fiber.StatusUnauthorized, "principal missing"))
		_ = conn.Close()
		return
	}

	h.logger.Info().Str("principal", principal.Key()).Msg("websocket connected")
	h.hub.Serve(conn, principal)
	h.logger.Info().Str("principal", principal.Key()).Msg("websocket disconnected")
}

func websocketPrincipal(conn *websocket.Conn) (models.Principal, bool) {
	value := conn.Locals("principal")
	if value == nil {
		return models.Principal{}, false
	}
	principal, ok := value.(models.Principal)
	if !ok || !principal.Valid() {
		return models.Principal{}, false
	}
	return principal, true
}
