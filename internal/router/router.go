package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/fitversal/messaging-api/internal/config"
	"github.com/fitversal/messaging-api/internal/handler"
	"github.com/fitversal/messaging-api/internal/middleware"
	"github.com/fitversal/messaging-api/internal/models"
	"github.com/fitversal/messaging-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	ConversationHandler *handler.ConversationHandler
	MessageHandler      *handler.MessageHandler
	BlockHandler        *handler.BlockHandler
	TypingHandler       *handler.TypingHandler
	AttachmentHandler   *handler.AttachmentHandler
	WebsocketHandler    *handler.WebsocketHandler
	JWTMiddleware       fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	app.Get("/health", handler.HealthCheck(cfg))
	app.Get("/metrics", observability.MetricsHandler())

	// Use provided JWT middleware, or a no-op if nil
	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	}, jwtMiddleware)

	if deps.ConversationHandler != nil {
		deps.ConversationHandler.Register(api)
	}

	if deps.MessageHandler != nil {
		deps.MessageHandler.Register(api)

		admin := api.Group("/admin", middleware.RequireKind(models.PrincipalAdmin))
		deps.MessageHandler.RegisterAdmin(admin)
	}

	if deps.BlockHandler != nil {
		deps.BlockHandler.Register(api)
	}

	if deps.TypingHandler != nil {
		deps.TypingHandler.Register(api)
	}

	if deps.AttachmentHandler != nil {
		deps.AttachmentHandler.Register(api)
	}

	if deps.WebsocketHandler != nil {
		deps.WebsocketHandler.Register(api)
	}
}
