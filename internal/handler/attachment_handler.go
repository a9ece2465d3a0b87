package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/fitversal/messaging-api/internal/service"
	"github.com/fitversal/messaging-api/internal/utils"
)

// AttachmentHandler exposes attachment upload endpoints.
type AttachmentHandler struct {
	service service.AttachmentService
	logger  zerolog.Logger
}

// NewAttachmentHandler constructs a handler instance.
func NewAttachmentHandler(service service.AttachmentService, logger zerolog.Logger) *AttachmentHandler {
	return &AttachmentHandler{
		service: service,
		logger:  logger.With().Str("component", "attachment_handler").Logger(),
	}
}

// Register binds the attachment routes.
func (h *AttachmentHandler) Register(router fiber.Router) {
	router.Post("/attachments", h.upload)
	router.Get("/attachments", h.listMine)
}

func (h *AttachmentHandler) upload(c *fiber.Ctx) error {
	actor, ok := principalFromContext(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	file, err := c.FormFile("file")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "file is required")
	}

	response, err := h.service.Upload(withRequestContext(c), file, actor)
	if err != nil {
		requestLogger(h.logger, c).Warn().Err(err).Str("file", file.Filename).Msg("attachment rejected")
		return sendServiceError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "attachment stored", response)
}

func (h *AttachmentHandler) listMine(c *fiber.Ctx) error {
	actor, ok := principalFromContext(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	limit, err := parseQueryInt(c, "limit")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid limit")
	}

	attachments, err := h.service.ListMine(withRequestContext(c), actor, limit)
	if err != nil {
		return sendServiceError(c, err)
	}

	return utils.SendSuccess(c, "attachments", attachments)
}
