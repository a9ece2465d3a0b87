package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/fitversal/messaging-api/internal/dto"
	"github.com/fitversal/messaging-api/internal/service"
	"github.com/fitversal/messaging-api/internal/utils"
)

// TypingHandler exposes the ephemeral typing indicator endpoint.
type TypingHandler struct {
	service   service.TypingService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewTypingHandler constructs a handler instance.
func NewTypingHandler(service service.TypingService, validator *validator.Validate, logger zerolog.Logger) *TypingHandler {
	return &TypingHandler{
		service:   service,
		validator: validator,
		logger:    logger.With().Str("component", "typing_handler").Logger(),
	}
}

// Register binds the typing routes.
func (h *TypingHandler) Register(router fiber.Router) {
	router.Post("/typing", h.setTyping)
	router.Get("/conversations/:id/typing", h.listTyping)
}

func (h *TypingHandler) setTyping(c *fiber.Ctx) error {
	actor, ok := principalFromContext(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	var payload dto.TypingRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	if err := h.service.SetTyping(withRequestContext(c), actor, payload); err != nil {
		return sendServiceError(c, err)
	}

	return utils.SendSuccess(c, "typing state broadcast", nil)
}

func (h *TypingHandler) listTyping(c *fiber.Ctx) error {
	actor, ok := principalFromContext(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	conversationID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	principals, err := h.service.TypingPrincipals(withRequestContext(c), actor, conversationID)
	if err != nil {
		return sendServiceError(c, err)
	}

	return utils.SendSuccess(c, "typing principals", principals)
}
