package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/fitversal/messaging-api/internal/dto"
	"github.com/fitversal/messaging-api/internal/service"
	"github.com/fitversal/messaging-api/internal/utils"
)

// ConversationHandler provides HTTP endpoints for conversations and
// participant lifecycle.
type ConversationHandler struct {
	conversations service.ConversationService
	messages      service.MessagingService
	validator     *validator.Validate
	logger        zerolog.Logger
}

// NewConversationHandler constructs a handler instance.
func NewConversationHandler(conversations service.ConversationService, messages service.MessagingService, validator *validator.Validate, logger zerolog.Logger) *ConversationHandler {
	return &ConversationHandler{
		conversations: conversations,
		messages:      messages,
		validator:     validator,
		logger:        logger.With().Str("component", "conversation_handler").Logger(),
	}
}

// Register binds the conversation routes.
func (h *ConversationHandler) Register(router fiber.Router) {
	router.Post("/conversations", h.create)
	router.Get("/conversations", h.list)
	router.Get("/conversations/:id/messages", h.listMessages)
	router.Post("/conversations/:id/join", h.join)
	router.Post("/conversations/:id/leave", h.leave)
	router.Post("/conversations/:id/read", h.markRead)
}

func (h *ConversationHandler) create(c *fiber.Ctx) error {
	actor, ok := principalFromContext(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	var payload dto.ConversationCreateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	response, err := h.conversations.Create(withRequestContext(c), actor, payload)
	if err != nil {
		requestLogger(h.logger, c).Warn().Err(err).Str("type", payload.Type).Msg("conversation create rejected")
		return sendServiceError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "conversation ready", response)
}

func (h *ConversationHandler) list(c *fiber.Ctx) error {
	actor, ok := principalFromContext(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	page, err := parseQueryInt(c, "page")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid page")
	}
	perPage, err := parseQueryInt(c, "per_page")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid per_page")
	}

	conversations, total, err := h.conversations.List(withRequestContext(c), actor, page, perPage)
	if err != nil {
		return sendServiceError(c, err)
	}

	meta := fiber.Map{"total": total, "page": page, "per_page": perPage}
	return utils.OK(c, conversations, "conversations", meta)
}

func (h *ConversationHandler) listMessages(c *fiber.Ctx) error {
	actor, ok := principalFromContext(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	conversationID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var query dto.MessageListQuery
	if err := c.QueryParser(&query); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid query")
	}

	messages, err := h.messages.ListMessages(withRequestContext(c), actor, conversationID, query)
	if err != nil {
		return sendServiceError(c, err)
	}

	return utils.SendSuccess(c, "messages", messages)
}

func (h *ConversationHandler) join(c *fiber.Ctx) error {
	actor, ok := principalFromContext(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	conversationID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	response, err := h.conversations.Join(withRequestContext(c), actor, conversationID)
	if err != nil {
		return sendServiceError(c, err)
	}

	return utils.SendSuccess(c, "joined conversation", response)
}

func (h *ConversationHandler) leave(c *fiber.Ctx) error {
	actor, ok := principalFromContext(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	conversationID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	if err := h.conversations.Leave(withRequestContext(c), actor, conversationID); err != nil {
		return sendServiceError(c, err)
	}

	return utils.SendSuccess(c, "left conversation", nil)
}

func (h *ConversationHandler) markRead(c *fiber.Ctx) error {
	actor, ok := principalFromContext(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	conversationID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	if err := h.conversations.MarkRead(withRequestContext(c), actor, conversationID); err != nil {
		return sendServiceError(c, err)
	}

	return utils.SendSuccess(c, "conversation read", nil)
}
