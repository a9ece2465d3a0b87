package service

import (
	"context"
	"encoding/json"
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
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/fitversal/messaging-api/internal/dto"
	"github.com/fitversal/messaging-api/internal/models"
	"github.com/fitversal/messaging-api/internal/observability"
	"github.com/fitversal/messaging-api/internal/realtime"
	"github.com/fitversal/messaging-api/internal/repository"
	"github.com/fitversal/messaging-api/pkg/crypto"
	"github.com/fitversal/messaging-api/pkg/moderation"
	"github.com/fitversal/messaging-api/pkg/push"
)

// MessagingService is the orchestration core for message lifecycle operations.
// It enforces cross-entity invariants, drives the moderation and encryption
// gateways, and triggers fan-out after the transaction commits.
type MessagingService interface {
	SendMessage(ctx context.Context, actor models.Principal, payload dto.MessageSendRequest) (dto.MessageSendResponse, error)
	EditMessage(ctx context.Context, actor models.Principal, messageID uint, payload dto.MessageEditRequest) (dto.MessageResponse, error)
	DeleteMessage(ctx context.Context, actor models.Principal, messageID uint) error
	TogglePin(ctx context.Context, actor models.Principal, messageID uint) (dto.MessageResponse, error)
	AddReaction(ctx context.Context, actor models.Principal, messageID uint, payload dto.ReactionRequest) error
	RemoveReaction(ctx context.Context, actor models.Principal, messageID uint, payload dto.ReactionRequest) error
	ReportMessage(ctx context.Context, actor models.Principal, messageID uint, payload dto.ReportRequest) error
	ListMessages(ctx context.Context, actor models.Principal, conversationID uint, query dto.MessageListQuery) ([]dto.MessageResponse, error)
	Search(ctx context.Context, actor models.Principal, query dto.SearchQuery) ([]dto.MessageResponse, int64, error)
	AuditMessage(ctx context.Context, actor models.Principal, messageID uint) (dto.MessageAuditResponse, error)
}

type messagingService struct {
	db            *gorm.DB
	conversations repository.ConversationRepository
	messages      repository.MessageRepository
	moderator     moderation.Gateway
	encryptor     crypto.Encryptor
	notifier      push.Notifier
	events        realtime.Publisher
	validator     *validator.Validate
	logger        zerolog.Logger
	tracer        trace.Tracer
	sanitizer     *bluemonday.Policy
	now           func() time.Time
}

// NewMessagingService constructs the messaging orchestration service.
func NewMessagingService(
	db *gorm.DB,
	conversations repository.ConversationRepository,
	messages repository.MessageRepository,
	moderator moderation.Gateway,
	encryptor crypto.Encryptor,
	notifier push.Notifier,
	events realtime.Publisher,
	validate *validator.Validate,
	logger zerolog.Logger,
) MessagingService {
	policy := bluemonday.UGCPolicy()
	policy.AllowElements("br")

	return &messagingService{
		db:            db,
		conversations: conversations,
		messages:      messages,
		moderator:     moderator,
		encryptor:     encryptor,
		notifier:      notifier,
		events:        events,
		validator:     validate,
		logger:        logger.With().Str("component", "messaging_service").Logger(),
		tracer:        otel.Tracer("github.com/fitversal/messaging-api/internal/service/messaging"),
		sanitizer:     policy,
		now:           time.Now,
	}
}

func (s *messagingService) SendMessage(ctx context.Context, actor models.Principal, payload dto.MessageSendRequest) (dto.MessageSendResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.MessageSendResponse{}, err
	}

	content := strings.TrimSpace(s.sanitizer.Sanitize(payload.Message))
	if content == "" && len(payload.Attachments) == 0 {
		return dto.MessageSendResponse{}, fmt.Errorf("%w: message or attachments required", ErrInvalidPayload)
	}

	conversation, err := s.conversations.Get(ctx, payload.ConversationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.MessageSendResponse{}, ErrNotFound
		}
		return dto.MessageSendResponse{}, err
	}

	active, err := s.conversations.HasParticipant(ctx, conversation.ID, actor)
	if err != nil {
		return dto.MessageSendResponse{}, err
	}
	if !active {
		return dto.MessageSendResponse{}, ErrForbidden
	}

	attrs := []attribute.KeyValue{
		attribute.Int("conversation.id", int(conversation.ID)),
		attribute.String("sender", actor.Key()),
	}
	spanCtx, span := s.tracer.Start(ctx, "messaging.send", trace.WithAttributes(attrs...))
	defer span.End()

	// Profanity pre-check replaces the content before anything else sees it.
	if content != "" {
		result, err := s.moderator.CheckProfanity(spanCtx, content)
		if err != nil {
			span.RecordError(err)
			return dto.MessageSendResponse{}, fmt.Errorf("%w: profanity check: %v", ErrGateway, err)
		}
		if result.HasProfanity {
			content = result.CleanMessage
		}
	}

	ciphertext := ""
	if content != "" {
		ciphertext, err = s.encryptor.Encrypt(spanCtx, content)
		if err != nil {
			span.RecordError(err)
			return dto.MessageSendResponse{}, fmt.Errorf("%w: encryption: %v", ErrGateway, err)
		}
	}

	now := s.now().UTC()
	messageType := payload.MessageType
	if messageType == "" {
		messageType = models.MessageTypeText
	}

	var attachments datatypes.JSON
	if len(payload.Attachments) > 0 {
		encoded, err := json.Marshal(payload.Attachments)
		if err != nil {
			return dto.MessageSendResponse{}, err
		}
		attachments = encoded
	}

	message := models.Message{
		ConversationID:   conversation.ID,
		SenderID:         actor.ID,
		SenderKind:       actor.Kind,
		Content:          content,
		Ciphertext:       ciphertext,
		Attachments:      attachments,
		Type:             messageType,
		ReplyToMessageID: payload.ReplyToMessageID,
	}

	scheduled := payload.ScheduledAt != nil && payload.ScheduledAt.After(now)
	if scheduled {
		at := payload.ScheduledAt.UTC()
		message.IsScheduled = true
		message.ScheduledAt = &at
	} else {
		message.DeliveredAt = &now
	}

	var verdict moderation.Verdict

	// Persist, advance the conversation clock and attach moderation flags in
	// one transaction: a message is never visible without its flags having
	// been evaluated, and a gateway failure rolls everything back.
	err = s.db.WithContext(spanCtx).Transaction(func(tx *gorm.DB) error {
		messages := repository.NewMessageRepository(tx)
		conversations := repository.NewConversationRepository(tx)

		if err := messages.Create(spanCtx, &message); err != nil {
			return err
		}

		if !scheduled {
			if err := conversations.TouchLastMessage(spanCtx, conversation.ID, now); err != nil {
				return err
			}
		}

		verdict, err = s.moderator.ModerateMessage(spanCtx, content, messageType)
		if err != nil {
			return fmt.Errorf("%w: moderation pass: %v", ErrGateway, err)
		}

		if verdict.NeedsReview {
			for _, flag := range verdict.Flags {
				details, _ := json.Marshal(map[string]string{"details": flag.Details})
				row := models.MessageFlag{
					MessageID: message.ID,
					FlagType:  flag.Type,
					Details:   details,
					Source:    models.FlagSourceSystem,
				}
				if err := messages.AddFlag(spanCtx, &row); err != nil {
					return err
				}
				observability.ModerationFlags().WithLabelValues(flag.Type, models.FlagSourceSystem).Inc()
			}
		}

		return nil
	})
	if err != nil {
		span.RecordError(err)
		return dto.MessageSendResponse{}, err
	}

	observability.MessagesSent().WithLabelValues(messageType).Inc()

	if !scheduled {
		s.fanOut(spanCtx, actor, conversation.ID, message)
	}

	return dto.MessageSendResponse{
		Message:    dto.NewMessageResponse(message),
		Moderation: newVerdictResponse(verdict),
	}, nil
}

// fanOut runs after commit. Failures are logged and counted, never returned:
// the message is already durable.
func (s *messagingService) fanOut(ctx context.Context, sender models.Principal, conversationID uint, message models.Message) {
	recipients, err := s.recipientsExcluding(ctx, conversationID, sender)
	if err != nil {
		observability.FanoutFailures().WithLabelValues("recipients").Inc()
		s.logger.Warn().Err(err).Uint("conversation_id", conversationID).Msg("failed to resolve fan-out recipients")
		return
	}
	if len(recipients) == 0 {
		return
	}

	event, err := realtime.NewEvent(realtime.EventMessageSent, conversationID, recipients, dto.NewMessageResponse(message))
	if err == nil {
		err = s.events.Publish(ctx, event)
	}
	if err != nil {
		observability.FanoutFailures().WithLabelValues("broadcast").Inc()
		s.logger.Warn().Err(err).Uint("conversation_id", conversationID).Msg("broadcast fan-out failed")
	}

	preview := message.Content
	if preview == "" {
		preview = "[Attachment]"
	}

	if err := s.notifier.SendNewMessageNotification(ctx, recipients, sender.Key(), preview, conversationID); err != nil {
		observability.FanoutFailures().WithLabelValues("push").Inc()
		s.logger.Warn().Err(err).Uint("conversation_id", conversationID).Msg("push fan-out failed")
	}
}

func (s *messagingService) recipientsExcluding(ctx context.Context, conversationID uint, exclude models.Principal) ([]models.Principal, error) {
	participants, err := s.conversations.ActiveParticipants(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	recipients := make([]models.Principal, 0, len(participants))
	for _, participant := range participants {
		principal := participant.Principal()
		if principal.Equal(exclude) {
			continue
		}
		recipients = append(recipients, principal)
	}
	return recipients, nil
}

func (s *messagingService) EditMessage(ctx context.Context, actor models.Principal, messageID uint, payload dto.MessageEditRequest) (dto.MessageResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.MessageResponse{}, err
	}

	message, err := s.messages.GetVisible(ctx, messageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.MessageResponse{}, ErrNotFound
		}
		return dto.MessageResponse{}, err
	}

	if !message.Sender().Equal(actor) {
		return dto.MessageResponse{}, ErrForbidden
	}

	content := strings.TrimSpace(s.sanitizer.Sanitize(payload.Message))
	if content == "" {
		return dto.MessageResponse{}, fmt.Errorf("%w: message empty after sanitization", ErrInvalidPayload)
	}

	result, err := s.moderator.CheckProfanity(ctx, content)
	if err != nil {
		return dto.MessageResponse{}, fmt.Errorf("%w: profanity check: %v", ErrGateway, err)
	}
	if result.HasProfanity {
		content = result.CleanMessage
	}

	ciphertext, err := s.encryptor.Encrypt(ctx, content)
	if err != nil {
		return dto.MessageResponse{}, fmt.Errorf("%w: encryption: %v", ErrGateway, err)
	}

	updated, err := s.messages.Edit(ctx, message.ID, content, ciphertext, s.now().UTC())
	if err != nil {
		return dto.MessageResponse{}, err
	}

	s.publishToConversation(ctx, actor, message.ConversationID, realtime.EventMessageEdited, dto.NewMessageResponse(updated))

	return dto.NewMessageResponse(updated), nil
}

func (s *messagingService) DeleteMessage(ctx context.Context, actor models.Principal, messageID uint) error {
	message, err := s.messages.GetVisible(ctx, messageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}

	if !message.Sender().Equal(actor) {
		return ErrForbidden
	}

	if err := s.messages.SoftDelete(ctx, message.ID); err != nil {
		return err
	}

	s.publishToConversation(ctx, actor, message.ConversationID, realtime.EventMessageDeleted, map[string]uint{"message_id": message.ID})

	return nil
}

// TogglePin deliberately has no ownership or admin check: anyone who can see
// the message may pin it, matching the platform's current product behavior.
func (s *messagingService) TogglePin(ctx context.Context, actor models.Principal, messageID uint) (dto.MessageResponse, error) {
	message, err := s.messages.GetVisible(ctx, messageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.MessageResponse{}, ErrNotFound
		}
		return dto.MessageResponse{}, err
	}

	if err := s.requireMembership(ctx, message.ConversationID, actor); err != nil {
		return dto.MessageResponse{}, err
	}

	updated, err := s.messages.TogglePin(ctx, message.ID)
	if err != nil {
		return dto.MessageResponse{}, err
	}

	s.publishToConversation(ctx, actor, message.ConversationID, realtime.EventMessagePinned, dto.NewMessageResponse(updated))

	return dto.NewMessageResponse(updated), nil
}

func (s *messagingService) AddReaction(ctx context.Context, actor models.Principal, messageID uint, payload dto.ReactionRequest) error {
	return s.react(ctx, actor, messageID, payload, true)
}

func (s *messagingService) RemoveReaction(ctx context.Context, actor models.Principal, messageID uint, payload dto.ReactionRequest) error {
	return s.react(ctx, actor, messageID, payload, false)
}

func (s *messagingService) react(ctx context.Context, actor models.Principal, messageID uint, payload dto.ReactionRequest, add bool) error {
	if err := s.validator.Struct(payload); err != nil {
		return err
	}

	message, err := s.messages.GetVisible(ctx, messageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}

	active, err := s.conversations.HasParticipant(ctx, message.ConversationID, actor)
	if err != nil {
		return err
	}
	if !active {
		return ErrForbidden
	}

	if add {
		err = s.messages.AddReaction(ctx, message.ID, actor, payload.Reaction)
	} else {
		err = s.messages.RemoveReaction(ctx, message.ID, actor, payload.Reaction)
	}
	if err != nil {
		return err
	}

	s.publishToConversation(ctx, actor, message.ConversationID, realtime.EventMessageReacted, map[string]interface{}{
		"message_id": message.ID,
		"principal":  actor,
		"reaction":   payload.Reaction,
		"added":      add,
	})

	return nil
}

func (s *messagingService) ReportMessage(ctx context.Context, actor models.Principal, messageID uint, payload dto.ReportRequest) error {
	if err := s.validator.Struct(payload); err != nil {
		return err
	}

	// Deleted messages stay reportable: the audit trail keeps accumulating.
	message, err := s.messages.Get(ctx, messageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}

	if err := s.requireMembership(ctx, message.ConversationID, actor); err != nil {
		return err
	}

	details, _ := json.Marshal(map[string]string{"reason": payload.Reason})
	flag := models.MessageFlag{
		MessageID:     message.ID,
		FlagType:      payload.FlagType,
		Details:       details,
		FlaggedByID:   &actor.ID,
		FlaggedByKind: actor.Kind,
		Source:        "report",
	}
	if err := s.messages.AddFlag(ctx, &flag); err != nil {
		return err
	}

	observability.ModerationFlags().WithLabelValues(payload.FlagType, "report").Inc()

	// Notify the admin review channel; best-effort like all fan-out.
	event, err := realtime.NewEvent(realtime.EventMessageReported, message.ConversationID, nil, map[string]interface{}{
		"message_id": message.ID,
		"flag_type":  payload.FlagType,
		"reporter":   actor,
	})
	if err == nil {
		if err := s.events.Publish(ctx, event); err != nil {
			s.logger.Warn().Err(err).Uint("message_id", message.ID).Msg("failed to notify review channel")
		}
	}

	return nil
}

func (s *messagingService) ListMessages(ctx context.Context, actor models.Principal, conversationID uint, query dto.MessageListQuery) ([]dto.MessageResponse, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, err
	}

	if _, err := s.conversations.Get(ctx, conversationID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	membership, err := s.conversations.Membership(ctx, conversationID, actor)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrForbidden
		}
		return nil, err
	}

	// Former participants keep read access to the window before they left.
	var until *time.Time
	if membership.LeftAt != nil {
		until = membership.LeftAt
	}

	messages, err := s.messages.ListForConversation(ctx, conversationID, query.Limit, query.BeforeID, until)
	if err != nil {
		return nil, err
	}

	return dto.NewMessageResponseSlice(messages), nil
}

func (s *messagingService) Search(ctx context.Context, actor models.Principal, query dto.SearchQuery) ([]dto.MessageResponse, int64, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, 0, err
	}

	messages, total, err := s.messages.Search(ctx, actor, query.Query, query.ConversationID, query.Limit, query.Offset)
	if err != nil {
		return nil, 0, err
	}

	return dto.NewMessageResponseSlice(messages), total, nil
}

// AuditMessage is the internal audit path: admins see the message regardless
// of deletion state, with its full edit history and accumulated flags.
func (s *messagingService) AuditMessage(ctx context.Context, actor models.Principal, messageID uint) (dto.MessageAuditResponse, error) {
	if actor.Kind != models.PrincipalAdmin {
		return dto.MessageAuditResponse{}, ErrForbidden
	}

	message, err := s.messages.Get(ctx, messageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.MessageAuditResponse{}, ErrNotFound
		}
		return dto.MessageAuditResponse{}, err
	}

	edits, err := s.messages.ListEdits(ctx, message.ID)
	if err != nil {
		return dto.MessageAuditResponse{}, err
	}

	flags, err := s.messages.ListFlags(ctx, message.ID)
	if err != nil {
		return dto.MessageAuditResponse{}, err
	}

	return dto.NewMessageAuditResponse(message, edits, flags), nil
}

func (s *messagingService) requireMembership(ctx context.Context, conversationID uint, actor models.Principal) error {
	_, err := s.conversations.Membership(ctx, conversationID, actor)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrForbidden
	}
	return err
}

func (s *messagingService) publishToConversation(ctx context.Context, actor models.Principal, conversationID uint, eventType string, payload interface{}) {
	recipients, err := s.recipientsExcluding(ctx, conversationID, actor)
	if err != nil || len(recipients) == 0 {
		return
	}

	event, err := realtime.NewEvent(eventType, conversationID, recipients, payload)
	if err != nil {
		return
	}
	if err := s.events.Publish(ctx, event); err != nil {
		observability.FanoutFailures().WithLabelValues("broadcast").Inc()
		s.logger.Warn().Err(err).Str("event", eventType).Msg("event publish failed")
	}
}

func newVerdictResponse(verdict moderation.Verdict) dto.ModerationVerdictResponse {
	flags := make([]dto.ModerationFlagResponse, 0, len(verdict.Flags))
	for _, flag := range verdict.Flags {
		flags = append(flags, dto.ModerationFlagResponse{Type: flag.Type, Details: flag.Details})
	}
	return dto.ModerationVerdictResponse{NeedsReview: verdict.NeedsReview, Flags: flags}
}
