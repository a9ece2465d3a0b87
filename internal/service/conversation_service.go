package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/fitversal/messaging-api/internal/dto"
	"github.com/fitversal/messaging-api/internal/models"
	"github.com/fitversal/messaging-api/internal/realtime"
	"github.com/fitversal/messaging-api/internal/repository"
)

// ConversationService exposes conversation and membership use-cases.
type ConversationService interface {
	Create(ctx context.Context, actor models.Principal, payload dto.ConversationCreateRequest) (dto.ConversationResponse, error)
	List(ctx context.Context, actor models.Principal, page, perPage int) ([]dto.ConversationResponse, int64, error)
	Join(ctx context.Context, actor models.Principal, conversationID uint) (dto.ConversationResponse, error)
	Leave(ctx context.Context, actor models.Principal, conversationID uint) error
	MarkRead(ctx context.Context, actor models.Principal, conversationID uint) error
}

type conversationService struct {
	conversations repository.ConversationRepository
	messages      repository.MessageRepository
	blocks        repository.BlockRepository
	events        realtime.Publisher
	validator     *validator.Validate
	logger        zerolog.Logger
	tracer        trace.Tracer
	sanitizer     *bluemonday.Policy
	now           func() time.Time
}

// NewConversationService constructs a conversation service.
func NewConversationService(
	conversations repository.ConversationRepository,
	messages repository.MessageRepository,
	blocks repository.BlockRepository,
	events realtime.Publisher,
	validate *validator.Validate,
	logger zerolog.Logger,
) ConversationService {
	return &conversationService{
		conversations: conversations,
		messages:      messages,
		blocks:        blocks,
		events:        events,
		validator:     validate,
		logger:        logger.With().Str("component", "conversation_service").Logger(),
		tracer:        otel.Tracer("github.com/fitversal/messaging-api/internal/service/conversation"),
		sanitizer:     bluemonday.StrictPolicy(),
		now:           time.Now,
	}
}

func (s *conversationService) Create(ctx context.Context, actor models.Principal, payload dto.ConversationCreateRequest) (dto.ConversationResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.ConversationResponse{}, err
	}

	attrs := []attribute.KeyValue{
		attribute.String("conversation.type", payload.Type),
		attribute.String("creator", actor.Key()),
	}
	spanCtx, span := s.tracer.Start(ctx, "conversation.create", trace.WithAttributes(attrs...))
	defer span.End()

	name := strings.TrimSpace(s.sanitizer.Sanitize(payload.Name))
	description := strings.TrimSpace(s.sanitizer.Sanitize(payload.Description))

	switch payload.Type {
	case models.ConversationPrivate:
		return s.createPrivate(spanCtx, actor, payload)
	case models.ConversationGroup:
		if name == "" {
			return dto.ConversationResponse{}, fmt.Errorf("%w: group conversations require a name", ErrInvalidPayload)
		}
		participants := make([]models.Principal, 0, len(payload.Participants))
		for _, participant := range payload.Participants {
			participants = append(participants, participant.Principal())
		}
		conversation, err := s.conversations.CreateGroup(spanCtx, actor, name, description, participants)
		if err != nil {
			span.RecordError(err)
			return dto.ConversationResponse{}, err
		}
		return dto.NewConversationResponse(conversation), nil
	case models.ConversationOrganization:
		if payload.OrganizationID == 0 {
			return dto.ConversationResponse{}, fmt.Errorf("%w: organization conversations require an organization_id", ErrInvalidPayload)
		}
		conversation, _, err := s.conversations.CreateOrganizationChat(spanCtx, actor, payload.OrganizationID, name, description)
		if err != nil {
			span.RecordError(err)
			return dto.ConversationResponse{}, err
		}
		return dto.NewConversationResponse(conversation), nil
	default:
		return dto.ConversationResponse{}, fmt.Errorf("%w: unknown conversation type %q", ErrInvalidPayload, payload.Type)
	}
}

func (s *conversationService) createPrivate(ctx context.Context, actor models.Principal, payload dto.ConversationCreateRequest) (dto.ConversationResponse, error) {
	if len(payload.Participants) != 1 {
		return dto.ConversationResponse{}, fmt.Errorf("%w: private conversations take exactly one other participant", ErrInvalidPayload)
	}

	other := payload.Participants[0].Principal()
	if other.Equal(actor) {
		return dto.ConversationResponse{}, fmt.Errorf("%w: cannot start a conversation with yourself", ErrInvalidPayload)
	}

	// Either direction of a block edge prevents new private conversations.
	blocked, err := s.blocks.IsBlockedEither(ctx, actor, other)
	if err != nil {
		return dto.ConversationResponse{}, err
	}
	if blocked {
		return dto.ConversationResponse{}, ErrBlocked
	}

	conversation, _, err := s.conversations.FindOrCreatePrivate(ctx, actor, other)
	if err != nil {
		return dto.ConversationResponse{}, err
	}

	return dto.NewConversationResponse(conversation), nil
}

func (s *conversationService) List(ctx context.Context, actor models.Principal, page, perPage int) ([]dto.ConversationResponse, int64, error) {
	conversations, total, err := s.conversations.ListForPrincipal(ctx, actor, page, perPage)
	if err != nil {
		return nil, 0, err
	}

	responses := make([]dto.ConversationResponse, 0, len(conversations))
	for _, conversation := range conversations {
		summary := dto.ConversationSummary{Conversation: conversation}

		if last, err := s.messages.LatestForConversation(ctx, conversation.ID); err == nil {
			summary.LastMessage = &last
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, 0, err
		}

		var since *time.Time
		for _, participant := range conversation.Participants {
			if participant.LeftAt == nil && participant.Principal().Equal(actor) {
				since = participant.LastReadAt
				break
			}
		}
		unread, err := s.messages.UnreadCount(ctx, conversation.ID, actor, since)
		if err != nil {
			return nil, 0, err
		}
		summary.UnreadCount = unread

		responses = append(responses, dto.NewConversationSummaryResponse(summary))
	}

	return responses, total, nil
}

func (s *conversationService) Join(ctx context.Context, actor models.Principal, conversationID uint) (dto.ConversationResponse, error) {
	conversation, err := s.conversations.Get(ctx, conversationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.ConversationResponse{}, ErrNotFound
		}
		return dto.ConversationResponse{}, err
	}

	if conversation.Type == models.ConversationPrivate {
		return dto.ConversationResponse{}, ErrForbidden
	}

	// Duplicate joins are rejected, unlike reactions which are idempotent;
	// the two behaviors are specified separately per entity.
	active, err := s.conversations.HasParticipant(ctx, conversationID, actor)
	if err != nil {
		return dto.ConversationResponse{}, err
	}
	if active {
		return dto.ConversationResponse{}, ErrAlreadyMember
	}

	if _, err := s.conversations.AddParticipant(ctx, conversationID, actor, false); err != nil {
		return dto.ConversationResponse{}, err
	}

	s.publishMembershipEvent(ctx, actor, conversationID, realtime.EventParticipantJoined)

	updated, err := s.conversations.GetWithParticipants(ctx, conversationID)
	if err != nil {
		return dto.ConversationResponse{}, err
	}
	return dto.NewConversationResponse(updated), nil
}

func (s *conversationService) Leave(ctx context.Context, actor models.Principal, conversationID uint) error {
	if _, err := s.conversations.Get(ctx, conversationID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}

	if err := s.conversations.Leave(ctx, conversationID, actor); err != nil {
		if errors.Is(err, repository.ErrNotAMember) {
			return ErrForbidden
		}
		return err
	}

	s.publishMembershipEvent(ctx, actor, conversationID, realtime.EventParticipantLeft)

	return nil
}

// MarkRead updates the membership marker and the per-conversation read
// receipt. The two writes are independent single-row upserts.
func (s *conversationService) MarkRead(ctx context.Context, actor models.Principal, conversationID uint) error {
	now := s.now().UTC()

	if err := s.conversations.MarkRead(ctx, conversationID, actor, now); err != nil {
		if errors.Is(err, repository.ErrNotAMember) {
			return ErrForbidden
		}
		return err
	}

	if err := s.messages.UpsertRead(ctx, conversationID, actor, now); err != nil {
		return err
	}

	s.publishMembershipEvent(ctx, actor, conversationID, realtime.EventConversationRead)

	return nil
}

func (s *conversationService) publishMembershipEvent(ctx context.Context, actor models.Principal, conversationID uint, eventType string) {
	participants, err := s.conversations.ActiveParticipants(ctx, conversationID)
	if err != nil {
		return
	}

	recipients := make([]models.Principal, 0, len(participants))
	for _, participant := range participants {
		principal := participant.Principal()
		if principal.Equal(actor) {
			continue
		}
		recipients = append(recipients, principal)
	}
	if len(recipients) == 0 {
		return
	}

	event, err := realtime.NewEvent(eventType, conversationID, recipients, map[string]interface{}{"principal": actor})
	if err != nil {
		return
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Msg("membership event publish failed")
	}
}
