// Package push hands new-message notifications to the delivery pipeline. The
// provider wire format lives in a separate worker; this gateway only enqueues
// jobs on the message broker.
package push

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/fitversal/messaging-api/internal/models"
)

// Notifier delivers push notifications to a set of principals.
type Notifier interface {
	SendNewMessageNotification(ctx context.Context, recipients []models.Principal, senderName, preview string, conversationID uint) error
}

// Job is the payload handed to the push delivery worker.
type Job struct {
	Recipients     []models.Principal `json:"recipients"`
	SenderName     string             `json:"sender_name"`
	Preview        string             `json:"preview"`
	ConversationID uint               `json:"conversation_id"`
	EnqueuedAt     time.Time          `json:"enqueued_at"`
}

type natsNotifier struct {
	conn    *nats.Conn
	subject string
	logger  zerolog.Logger
}

// NewNATSNotifier enqueues push jobs on the given NATS subject.
func NewNATSNotifier(conn *nats.Conn, subject string, logger zerolog.Logger) Notifier {
	return &natsNotifier{
		conn:    conn,
		subject: subject,
		logger:  logger.With().Str("component", "push_gateway").Logger(),
	}
}

func (n *natsNotifier) SendNewMessageNotification(ctx context.Context, recipients []models.Principal, senderName, preview string, conversationID uint) error {
	if n.conn == nil || n.subject == "" {
		return nil
	}
	if len(recipients) == 0 {
		return nil
	}

	job := Job{
		Recipients:     recipients,
		SenderName:     senderName,
		Preview:        preview,
		ConversationID: conversationID,
		EnqueuedAt:     time.Now().UTC(),
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal push job: %w", err)
	}

	if err := n.conn.Publish(n.subject, payload); err != nil {
		return fmt.Errorf("enqueue push job: %w", err)
	}

	n.logger.Debug().
		Int("recipients", len(recipients)).
		Uint("conversation_id", conversationID).
		Msg("push job enqueued")

	return nil
}

// Noop drops notifications; used when no broker is configured and in tests.
type Noop struct{}

// SendNewMessageNotification discards the notification.
func (Noop) SendNewMessageNotification(context.Context, []models.Principal, string, string, uint) error {
	return nil
}
