package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/fitversal/messaging-api/internal/dto"
	"github.com/fitversal/messaging-api/internal/models"
	"github.com/fitversal/messaging-api/internal/repository"
)

// BlockService manages directional block edges between principals.
type BlockService interface {
	Block(ctx context.Context, actor models.Principal, payload dto.BlockRequest) (dto.BlockResponse, error)
	Unblock(ctx context.Context, actor models.Principal, blockID uint) error
	List(ctx context.Context, actor models.Principal) ([]dto.BlockResponse, error)
}

type blockService struct {
	blocks    repository.BlockRepository
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewBlockService constructs a block service.
func NewBlockService(blocks repository.BlockRepository, validate *validator.Validate, logger zerolog.Logger) BlockService {
	return &blockService{
		blocks:    blocks,
		validator: validate,
		logger:    logger.With().Str("component", "block_service").Logger(),
	}
}

// Block inserts the edge. Blocking does not close existing conversations; it
// only prevents new private conversations between the pair.
func (s *blockService) Block(ctx context.Context, actor models.Principal, payload dto.BlockRequest) (dto.BlockResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.BlockResponse{}, err
	}

	target := models.Principal{ID: payload.UserID, Kind: payload.UserType}
	if target.Equal(actor) {
		return dto.BlockResponse{}, fmt.Errorf("%w: cannot block yourself", ErrInvalidPayload)
	}

	block := models.UserBlock{
		BlockerID:   actor.ID,
		BlockerKind: actor.Kind,
		BlockedID:   target.ID,
		BlockedKind: target.Kind,
		Reason:      payload.Reason,
		CreatedAt:   time.Now().UTC(),
	}

	created, err := s.blocks.Block(ctx, &block)
	if err != nil {
		return dto.BlockResponse{}, err
	}
	if !created {
		return dto.BlockResponse{}, ErrAlreadyBlocked
	}

	s.logger.Info().
		Str("blocker", actor.Key()).
		Str("blocked", target.Key()).
		Msg("block edge created")

	return dto.NewBlockResponse(block), nil
}

func (s *blockService) Unblock(ctx context.Context, actor models.Principal, blockID uint) error {
	removed, err := s.blocks.Unblock(ctx, blockID, actor)
	if err != nil {
		return err
	}
	if !removed {
		return ErrNotFound
	}
	return nil
}

func (s *blockService) List(ctx context.Context, actor models.Principal) ([]dto.BlockResponse, error) {
	blocks, err := s.blocks.ListForBlocker(ctx, actor)
	if err != nil {
		return nil, err
	}

	responses := make([]dto.BlockResponse, 0, len(blocks))
	for _, block := range blocks {
		responses = append(responses, dto.NewBlockResponse(block))
	}
	return responses, nil
}
