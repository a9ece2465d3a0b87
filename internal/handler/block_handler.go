package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/fitversal/messaging-api/internal/dto"
	"github.com/fitversal/messaging-api/internal/service"
	"github.com/fitversal/messaging-api/internal/utils"
)

// BlockHandler provides HTTP endpoints for block management.
type BlockHandler struct {
	service   service.BlockService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewBlockHandler constructs a handler instance.
func NewBlockHandler(service service.BlockService, validator *validator.Validate, logger zerolog.Logger) *BlockHandler {
	return &BlockHandler{
		service:   service,
		validator: validator,
		logger:    logger.With().Str("component", "block_handler").Logger(),
	}
}

// Register binds the block routes.
func (h *BlockHandler) Register(router fiber.Router) {
	router.Post("/blocks", h.block)
	router.Get("/blocks", h.list)
	router.Delete("/blocks/:id", h.unblock)
}

func (h *BlockHandler) block(c *fiber.Ctx) error {
	actor, ok := principalFromContext(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	var payload dto.BlockRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	response, err := h.service.Block(withRequestContext(c), actor, payload)
	if err != nil {
		return sendServiceError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "user blocked", response)
}

func (h *BlockHandler) unblock(c *fiber.Ctx) error {
	actor, ok := principalFromContext(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	blockID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	if err := h.service.Unblock(withRequestContext(c), actor, blockID); err != nil {
		return sendServiceError(c, err)
	}

	return utils.SendSuccess(c, "user unblocked", nil)
}

func (h *BlockHandler) list(c *fiber.Ctx) error {
	actor, ok := principalFromContext(c)
	if !ok {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	blocks, err := h.service.List(withRequestContext(c), actor)
	if err != nil {
		return sendServiceError(c, err)
	}

	return utils.SendSuccess(c, "blocks", blocks)
}
