package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/fitversal/messaging-api/internal/dto"
	"github.com/fitversal/messaging-api/internal/models"
	"github.com/fitversal/messaging-api/internal/observability"
	"github.com/fitversal/messaging-api/internal/realtime"
	"github.com/fitversal/messaging-api/internal/repository"
	"github.com/fitversal/messaging-api/pkg/push"
)

const deliveryBatchSize = 100

// DeliveryService is the scheduled-message sweep: it marks due messages
// delivered and triggers the same fan-out a direct send gets.
type DeliveryService interface {
	Start(ctx context.Context)
	DeliverDue(ctx context.Context) (int, error)
}

type deliveryService struct {
	conversations repository.ConversationRepository
	messages      repository.MessageRepository
	notifier      push.Notifier
	events        realtime.Publisher
	interval      time.Duration
	logger        zerolog.Logger
	now           func() time.Time
}

// NewDeliveryService constructs the scheduled delivery sweeper.
func NewDeliveryService(
	conversations repository.ConversationRepository,
	messages repository.MessageRepository,
	notifier push.Notifier,
	events realtime.Publisher,
	interval time.Duration,
	logger zerolog.Logger,
) DeliveryService {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	return &deliveryService{
		conversations: conversations,
		messages:      messages,
		notifier:      notifier,
		events:        events,
		interval:      interval,
		logger:        logger.With().Str("component", "delivery_service").Logger(),
		now:           time.Now,
	}
}

func (s *deliveryService) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.DeliverDue(ctx); err != nil {
					s.logger.Error().Err(err).Msg("scheduled delivery sweep failed")
				}
			}
		}
	}()
}

// DeliverDue delivers every scheduled message whose time has come and
// returns the number delivered.
func (s *deliveryService) DeliverDue(ctx context.Context) (int, error) {
	now := s.now().UTC()

	due, err := s.messages.ListScheduledDue(ctx, now, deliveryBatchSize)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, message := range due {
		claimed, err := s.messages.MarkDelivered(ctx, message.ID, now)
		if err != nil {
			s.logger.Warn().Err(err).Uint("message_id", message.ID).Msg("failed to mark message delivered")
			continue
		}
		if !claimed {
			// Another sweeper delivered it between our list and update.
			continue
		}
		if err := s.conversations.TouchLastMessage(ctx, message.ConversationID, now); err != nil {
			s.logger.Warn().Err(err).Uint("conversation_id", message.ConversationID).Msg("failed to advance conversation clock")
		}

		message.DeliveredAt = &now
		s.fanOut(ctx, message)

		observability.ScheduledDeliveries().Inc()
		delivered++
	}

	return delivered, nil
}

func (s *deliveryService) fanOut(ctx context.Context, message models.Message) {
	participants, err := s.conversations.ActiveParticipants(ctx, message.ConversationID)
	if err != nil {
		observability.FanoutFailures().WithLabelValues("recipients").Inc()
		return
	}

	sender := message.Sender()
	recipients := make([]models.Principal, 0, len(participants))
	for _, participant := range participants {
		principal := participant.Principal()
		if principal.Equal(sender) {
			continue
		}
		recipients = append(recipients, principal)
	}
	if len(recipients) == 0 {
		return
	}

	event, err := realtime.NewEvent(realtime.EventMessageSent, message.ConversationID, recipients, dto.NewMessageResponse(message))
	if err == nil {
		err = s.events.Publish(ctx, event)
	}
	if err != nil {
		observability.FanoutFailures().WithLabelValues("broadcast").Inc()
		s.logger.Warn().Err(err).Uint("message_id", message.ID).Msg("scheduled broadcast failed")
	}

	preview := message.Content
	if preview == "" {
		preview = "[Attachment]"
	}
	if err := s.notifier.SendNewMessageNotification(ctx, recipients, sender.Key(), preview, message.ConversationID); err != nil {
		observability.FanoutFailures().WithLabelValues("push").Inc()
		s.logger.Warn().Err(err).Uint("message_id", message.ID).Msg("scheduled push failed")
	}
}
