package handler

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/fitversal/messaging-api/internal/dto"
	"github.com/fitversal/messaging-api/internal/models"
	"github.com/fitversal/messaging-api/internal/service"
	"github.com/fitversal/messaging-api/internal/utils"
)

// MessageHandler provides HTTP endpoints for the message lifecycle.
type MessageHandler struct {
	service   service.MessagingService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewMessageHandler constructs a handler instance.
func NewMessageHandler(service service.MessagingService, validator *validator.Validate, logger zerolog.Logger) *MessageHandler {
	return &MessageHandler{
		service:   service,
		validator: validator,
		logger:    logger.With().Str("component", "message_handler").Logger(),
	}
}

// Register binds the message routes.
func (h *MessageHandler) Register(router fiber.Router) {
	router.Post("/messages", h.send)
	router.Get("/messages/search", h.search)
	router.Put("/messages/:id", h.edit)
	router.Delete("/messages/:id", h.remove)
	router.Post("/messages/:id/pin", h.togglePin)
	router.Post("/messages/:id/reactions", h.addReaction)
	router.Delete("/messages/:id/reactions", h.removeReaction)
	router.Post("/messages/:id/report", h.report)
}

// RegisterAdmin binds moderation audit routes; the router guards them with
// an admin-kind check.
func (h *MessageHandler) RegisterAdmin(router fiber.Router) {
	router.Get("/messages/:id/audit", h.audit)
}

func (h *MessageHandler) send(c *fiber.Ctx) error {
	actor, ok := principalFromContext(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	var payload dto.MessageSendRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	response, err := h.service.SendMessage(withRequestContext(c), actor, payload)
	if err != nil {
		requestLogger(h.logger, c).Warn().Err(err).Uint("conversation_id", payload.ConversationID).Msg("message rejected")
		return sendServiceError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "message sent", response)
}

func (h *MessageHandler) edit(c *fiber.Ctx) error {
	actor, ok := principalFromContext(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	messageID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.MessageEditRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	response, err := h.service.EditMessage(withRequestContext(c), actor, messageID, payload)
	if err != nil {
		return sendServiceError(c, err)
	}

	return utils.SendSuccess(c, "message updated", response)
}

func (h *MessageHandler) remove(c *fiber.Ctx) error {
	actor, ok := principalFromContext(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	messageID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	if err := h.service.DeleteMessage(withRequestContext(c), actor, messageID); err != nil {
		return sendServiceError(c, err)
	}

	return utils.SendSuccess(c, "message deleted", nil)
}

func (h *MessageHandler) togglePin(c *fiber.Ctx) error {
	actor, ok := principalFromContext(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	messageID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	response, err := h.service.TogglePin(withRequestContext(c), actor, messageID)
	if err != nil {
		return sendServiceError(c, err)
	}

	return utils.SendSuccess(c, "pin toggled", response)
}

func (h *MessageHandler) addReaction(c *fiber.Ctx) error {
	return h.react(c, h.service.AddReaction, "reaction added")
}

func (h *MessageHandler) removeReaction(c *fiber.Ctx) error {
	return h.react(c, h.service.RemoveReaction, "reaction removed")
}

func (h *MessageHandler) react(c *fiber.Ctx, apply func(ctx context.Context, actor models.Principal, messageID uint, payload dto.ReactionRequest) error, message string) error {
	actor, ok := principalFromContext(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	messageID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.ReactionRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	if err := apply(withRequestContext(c), actor, messageID, payload); err != nil {
		return sendServiceError(c, err)
	}

	return utils.SendSuccess(c, message, nil)
}

func (h *MessageHandler) report(c *fiber.Ctx) error {
	actor, ok := principalFromContext(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	messageID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.ReportRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	if err := h.service.ReportMessage(withRequestContext(c), actor, messageID, payload); err != nil {
		return sendServiceError(c, err)
	}

	return utils.SendSuccess(c, "message reported", nil)
}

func (h *MessageHandler) search(c *fiber.Ctx) error {
	actor, ok := principalFromContext(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	var query dto.SearchQuery
	if err := c.QueryParser(&query); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid query")
	}

	results, total, err := h.service.Search(withRequestContext(c), actor, query)
	if err != nil {
		return sendServiceError(c, err)
	}

	meta := fiber.Map{"total": total, "limit": query.Limit, "offset": query.Offset}
	return utils.OK(c, results, "search results", meta)
}

func (h *MessageHandler) audit(c *fiber.Ctx) error {
	actor, ok := principalFromContext(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	messageID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	response, err := h.service.AuditMessage(withRequestContext(c), actor, messageID)
	if err != nil {
		return sendServiceError(c, err)
	}

	return utils.SendSuccess(c, "message audit", response)
}
