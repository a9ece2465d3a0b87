package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/fitversal/messaging-api/internal/dto"
	"github.com/fitversal/messaging-api/internal/models"
	"github.com/fitversal/messaging-api/internal/realtime"
	"github.com/fitversal/messaging-api/internal/repository"
)

const typingTTL = 6 * time.Second

// TypingService broadcasts ephemeral typing indicators. State lives in redis
// with a short TTL; nothing is persisted.
type TypingService interface {
	SetTyping(ctx context.Context, actor models.Principal, payload dto.TypingRequest) error
	TypingPrincipals(ctx context.Context, actor models.Principal, conversationID uint) ([]string, error)
}

type typingService struct {
	conversations repository.ConversationRepository
	redis         *redis.Client
	keyPrefix     string
	events        realtime.Publisher
	validator     *validator.Validate
	logger        zerolog.Logger
}

// NewTypingService constructs a typing indicator service.
func NewTypingService(
	conversations repository.ConversationRepository,
	redisClient *redis.Client,
	keyPrefix string,
	events realtime.Publisher,
	validate *validator.Validate,
	logger zerolog.Logger,
) TypingService {
	if keyPrefix == "" {
		keyPrefix = "messaging"
	}

	return &typingService{
		conversations: conversations,
		redis:         redisClient,
		keyPrefix:     keyPrefix,
		events:        events,
		validator:     validate,
		logger:        logger.With().Str("component", "typing_service").Logger(),
	}
}

func (s *typingService) SetTyping(ctx context.Context, actor models.Principal, payload dto.TypingRequest) error {
	if err := s.validator.Struct(payload); err != nil {
		return err
	}

	if _, err := s.conversations.Get(ctx, payload.ConversationID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}

	active, err := s.conversations.HasParticipant(ctx, payload.ConversationID, actor)
	if err != nil {
		return err
	}
	if !active {
		return ErrForbidden
	}

	if s.redis != nil {
		key := s.typingKey(payload.ConversationID, actor)
		if payload.IsTyping {
			if err := s.redis.Set(ctx, key, time.Now().UTC().Format(time.RFC3339), typingTTL).Err(); err != nil {
				s.logger.Warn().Err(err).Msg("failed to record typing state")
			}
		} else {
			if err := s.redis.Del(ctx, key).Err(); err != nil {
				s.logger.Warn().Err(err).Msg("failed to clear typing state")
			}
		}
	}

	participants, err := s.conversations.ActiveParticipants(ctx, payload.ConversationID)
	if err != nil {
		return err
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
		return nil
	}

	event, err := realtime.NewEvent(realtime.EventTypingChanged, payload.ConversationID, recipients, map[string]interface{}{
		"principal": actor,
		"is_typing": payload.IsTyping,
	})
	if err != nil {
		return nil
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Warn().Err(err).Msg("typing broadcast failed")
	}

	return nil
}

// TypingPrincipals lists the principal keys currently typing in a
// conversation. Only active participants may look.
func (s *typingService) TypingPrincipals(ctx context.Context, actor models.Principal, conversationID uint) ([]string, error) {
	if _, err := s.conversations.Get(ctx, conversationID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	active, err := s.conversations.HasParticipant(ctx, conversationID, actor)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, ErrForbidden
	}

	if s.redis == nil {
		return []string{}, nil
	}

	pattern := fmt.Sprintf("%s:typing:%d:*", s.keyPrefix, conversationID)
	keys, err := s.redis.Keys(ctx, pattern).Result()
	if err != nil {
		return nil, err
	}

	prefix := fmt.Sprintf("%s:typing:%d:", s.keyPrefix, conversationID)
	principals := make([]string, 0, len(keys))
	for _, key := range keys {
		principals = append(principals, key[len(prefix):])
	}
	return principals, nil
}

func (s *typingService) typingKey(conversationID uint, principal models.Principal) string {
	return fmt.Sprintf("%s:typing:%d:%s", s.keyPrefix, conversationID, principal.Key())
}
