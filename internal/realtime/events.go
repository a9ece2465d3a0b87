package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/fitversal/messaging-api/internal/models"
)

// Event types emitted by the messaging core.
const (
	EventMessageSent       = "message.sent"
	EventMessageEdited     = "message.edited"
	EventMessageDeleted    = "message.deleted"
	EventMessagePinned     = "message.pinned"
	EventMessageReacted    = "message.reacted"
	EventMessageReported   = "message.reported"
	EventParticipantJoined = "participant.joined"
	EventParticipantLeft   = "participant.left"
	EventTypingChanged     = "typing.changed"
	EventConversationRead  = "conversation.read"
)

// Event is one domain event fanned out to a recipient set's live channels.
type Event struct {
	Type           string             `json:"type"`
	ConversationID uint               `json:"conversation_id"`
	Recipients     []models.Principal `json:"recipients"`
	Payload        json.RawMessage    `json:"payload,omitempty"`
	SentAt         time.Time          `json:"sent_at"`
}

// NewEvent builds an event, marshalling the payload.
func NewEvent(eventType string, conversationID uint, recipients []models.Principal, payload interface{}) (Event, error) {
	var raw json.RawMessage
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return Event{}, err
		}
		raw = encoded
	}

	return Event{
		Type:           eventType,
		ConversationID: conversationID,
		Recipients:     recipients,
		Payload:        raw,
		SentAt:         time.Now().UTC(),
	}, nil
}

// Publisher delivers events to recipients' live channels, locally and across
// nodes. Delivery is best-effort; failures never surface to the request path.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}
