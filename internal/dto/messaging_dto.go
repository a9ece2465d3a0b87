package dto

import (
	"encoding/json"
	"time"

	"github.com/fitversal/messaging-api/internal/models"
)

// ConversationCreateRequest creates or resolves a conversation.
// For private conversations exactly one participant is expected; for group
// and organization conversations a name is required.
type ConversationCreateRequest struct {
	Type           string             `json:"type" validate:"required,oneof=private group organization"`
	Name           string             `json:"name" validate:"omitempty,max=255"`
	Description    string             `json:"description" validate:"omitempty,max=2000"`
	OrganizationID uint               `json:"organization_id" validate:"omitempty,min=1"`
	Participants   []ParticipantInput `json:"participants" validate:"omitempty,dive"`
}

// ParticipantInput identifies a principal to add to a conversation.
type ParticipantInput struct {
	ID   uint   `json:"id" validate:"required,min=1"`
	Kind string `json:"kind" validate:"required,oneof=user coach admin"`
}

// Principal converts the input into a domain principal.
func (p ParticipantInput) Principal() models.Principal {
	return models.Principal{ID: p.ID, Kind: p.Kind}
}

// MessageSendRequest is the payload for posting a message.
type MessageSendRequest struct {
	ConversationID   uint       `json:"conversation_id" validate:"required,min=1"`
	Message          string     `json:"message" validate:"omitempty,max=4000"`
	Attachments      []string   `json:"attachments" validate:"omitempty,max=10,dive,url"`
	MessageType      string     `json:"message_type" validate:"omitempty,oneof=text image video audio file voice gif"`
	ReplyToMessageID *uint      `json:"reply_to_message_id" validate:"omitempty,min=1"`
	ScheduledAt      *time.Time `json:"scheduled_at"`
}

// MessageEditRequest replaces a message's content.
type MessageEditRequest struct {
	Message string `json:"message" validate:"required,min=1,max=4000"`
}

// ReactionRequest adds or removes a reaction token.
type ReactionRequest struct {
	Reaction string `json:"reaction" validate:"required,min=1,max=64"`
}

// ReportRequest files a moderation report against a message.
type ReportRequest struct {
	FlagType string `json:"flag_type" validate:"required,oneof=spam harassment inappropriate self_harm other"`
	Reason   string `json:"reason" validate:"omitempty,max=1000"`
}

// BlockRequest creates a directional block edge.
type BlockRequest struct {
	UserID   uint   `json:"user_id" validate:"required,min=1"`
	UserType string `json:"user_type" validate:"required,oneof=user coach admin"`
	Reason   string `json:"reason" validate:"omitempty,max=500"`
}

// TypingRequest toggles the ephemeral typing indicator.
type TypingRequest struct {
	ConversationID uint `json:"conversation_id" validate:"required,min=1"`
	IsTyping       bool `json:"is_typing"`
}

// MessageListQuery pages a conversation's messages newest-first.
type MessageListQuery struct {
	Limit    int  `query:"limit" validate:"omitempty,min=1,max=100"`
	BeforeID uint `query:"before_id" validate:"omitempty,min=1"`
}

// SearchQuery is a full-text lookup over message plaintext.
type SearchQuery struct {
	Query          string `query:"query" validate:"required,min=2,max=255"`
	ConversationID uint   `query:"conversation_id" validate:"omitempty,min=1"`
	Limit          int    `query:"limit" validate:"omitempty,min=1,max=100"`
	Offset         int    `query:"offset" validate:"omitempty,min=0"`
}

// ReactionResponse is the serialized form of a reaction.
type ReactionResponse struct {
	PrincipalID   uint   `json:"principal_id"`
	PrincipalKind string `json:"principal_kind"`
	Reaction      string `json:"reaction"`
}

// MessageResponse is the serialized form of a message.
type MessageResponse struct {
	ID               uint               `json:"id"`
	ConversationID   uint               `json:"conversation_id"`
	SenderID         uint               `json:"sender_id"`
	SenderKind       string             `json:"sender_kind"`
	Message          string             `json:"message"`
	Attachments      []string           `json:"attachments,omitempty"`
	MessageType      string             `json:"message_type"`
	ReplyToMessageID *uint              `json:"reply_to_message_id,omitempty"`
	IsEdited         bool               `json:"is_edited"`
	EditedAt         *time.Time         `json:"edited_at,omitempty"`
	IsPinned         bool               `json:"is_pinned"`
	IsScheduled      bool               `json:"is_scheduled"`
	ScheduledAt      *time.Time         `json:"scheduled_at,omitempty"`
	DeliveredAt      *time.Time         `json:"delivered_at,omitempty"`
	Reactions        []ReactionResponse `json:"reactions,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
}

// NewMessageResponse converts a message model into its API shape.
func NewMessageResponse(message models.Message) MessageResponse {
	var attachments []string
	if len(message.Attachments) > 0 {
		_ = json.Unmarshal(message.Attachments, &attachments)
	}

	reactions := make([]ReactionResponse, 0, len(message.Reactions))
	for _, reaction := range message.Reactions {
		reactions = append(reactions, ReactionResponse{
			PrincipalID:   reaction.PrincipalID,
			PrincipalKind: reaction.PrincipalKind,
			Reaction:      reaction.Reaction,
		})
	}

	return MessageResponse{
		ID:               message.ID,
		ConversationID:   message.ConversationID,
		SenderID:         message.SenderID,
		SenderKind:       message.SenderKind,
		Message:          message.Content,
		Attachments:      attachments,
		MessageType:      message.Type,
		ReplyToMessageID: message.ReplyToMessageID,
		IsEdited:         message.IsEdited,
		EditedAt:         message.EditedAt,
		IsPinned:         message.IsPinned,
		IsScheduled:      message.IsScheduled,
		ScheduledAt:      message.ScheduledAt,
		DeliveredAt:      message.DeliveredAt,
		Reactions:        reactions,
		CreatedAt:        message.CreatedAt,
	}
}

// NewMessageResponseSlice converts a slice of message models.
func NewMessageResponseSlice(messages []models.Message) []MessageResponse {
	out := make([]MessageResponse, 0, len(messages))
	for _, message := range messages {
		out = append(out, NewMessageResponse(message))
	}
	return out
}

// ModerationFlagResponse surfaces one automated moderation finding.
type ModerationFlagResponse struct {
	Type    string `json:"type"`
	Details string `json:"details,omitempty"`
}

// ModerationVerdictResponse accompanies a sent message.
type ModerationVerdictResponse struct {
	NeedsReview bool                     `json:"needs_review"`
	Flags       []ModerationFlagResponse `json:"flags,omitempty"`
}

// MessageSendResponse pairs the persisted message with its moderation verdict.
type MessageSendResponse struct {
	Message    MessageResponse           `json:"message"`
	Moderation ModerationVerdictResponse `json:"moderation"`
}

// ParticipantResponse is the serialized form of a membership row.
type ParticipantResponse struct {
	PrincipalID   uint       `json:"principal_id"`
	PrincipalKind string     `json:"principal_kind"`
	IsAdmin       bool       `json:"is_admin"`
	JoinedAt      time.Time  `json:"joined_at"`
	LastReadAt    *time.Time `json:"last_read_at,omitempty"`
}

// ConversationResponse is the serialized form of a conversation.
type ConversationResponse struct {
	ID             uint                  `json:"id"`
	Type           string                `json:"type"`
	Name           string                `json:"name,omitempty"`
	Description    string                `json:"description,omitempty"`
	OrganizationID *uint                 `json:"organization_id,omitempty"`
	LastMessageAt  *time.Time            `json:"last_message_at,omitempty"`
	Participants   []ParticipantResponse `json:"participants,omitempty"`
	LastMessage    *MessageResponse      `json:"last_message,omitempty"`
	UnreadCount    int64                 `json:"unread_count"`
	CreatedAt      time.Time             `json:"created_at"`
}

// NewConversationResponse converts a conversation model into its API shape.
// Only active participants are included.
func NewConversationResponse(conversation models.Conversation) ConversationResponse {
	participants := make([]ParticipantResponse, 0, len(conversation.Participants))
	for _, participant := range conversation.Participants {
		if participant.LeftAt != nil {
			continue
		}
		participants = append(participants, ParticipantResponse{
			PrincipalID:   participant.PrincipalID,
			PrincipalKind: participant.PrincipalKind,
			IsAdmin:       participant.IsAdmin,
			JoinedAt:      participant.JoinedAt,
			LastReadAt:    participant.LastReadAt,
		})
	}

	return ConversationResponse{
		ID:             conversation.ID,
		Type:           conversation.Type,
		Name:           conversation.Name,
		Description:    conversation.Description,
		OrganizationID: conversation.OrganizationID,
		LastMessageAt:  conversation.LastMessageAt,
		Participants:   participants,
		CreatedAt:      conversation.CreatedAt,
	}
}

// AttachmentResponse describes a stored attachment returned to the client.
type AttachmentResponse struct {
	ID        uint   `json:"id"`
	URL       string `json:"url"`
	FileName  string `json:"file_name"`
	MimeType  string `json:"mime_type"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}

// NewAttachmentResponse maps an attachment record to its response shape.
func NewAttachmentResponse(a models.Attachment) AttachmentResponse {
	return AttachmentResponse{
		ID:        a.ID,
		URL:       a.URL,
		FileName:  a.FileName,
		MimeType:  a.MimeType,
		SizeBytes: a.SizeBytes,
		Checksum:  a.Checksum,
	}
}

// BlockResponse is the serialized form of a block edge.
type BlockResponse struct {
	ID          uint      `json:"id"`
	BlockedID   uint      `json:"blocked_id"`
	BlockedKind string    `json:"blocked_kind"`
	Reason      string    `json:"reason,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewBlockResponse converts a block model into its API shape.
func NewBlockResponse(block models.UserBlock) BlockResponse {
	return BlockResponse{
		ID:          block.ID,
		BlockedID:   block.BlockedID,
		BlockedKind: block.BlockedKind,
		Reason:      block.Reason,
		CreatedAt:   block.CreatedAt,
	}
}

// MessageEditResponse is one edit-history entry.
type MessageEditResponse struct {
	OriginalContent string    `json:"original_content"`
	NewContent      string    `json:"new_content"`
	EditedAt        time.Time `json:"edited_at"`
}

// MessageFlagResponse is one moderation flag on a message.
type MessageFlagResponse struct {
	FlagType      string          `json:"flag_type"`
	Details       json.RawMessage `json:"details,omitempty"`
	FlaggedByID   *uint           `json:"flagged_by_id,omitempty"`
	FlaggedByKind string          `json:"flagged_by_kind,omitempty"`
	Source        string          `json:"source"`
	CreatedAt     time.Time       `json:"created_at"`
}

// MessageAuditResponse is the internal audit view of a message: visible even
// when soft-deleted, with full edit history and accumulated flags.
type MessageAuditResponse struct {
	Message   MessageResponse       `json:"message"`
	IsDeleted bool                  `json:"is_deleted"`
	Edits     []MessageEditResponse `json:"edits,omitempty"`
	Flags     []MessageFlagResponse `json:"flags,omitempty"`
}

// NewMessageAuditResponse assembles the audit view.
func NewMessageAuditResponse(message models.Message, edits []models.MessageEdit, flags []models.MessageFlag) MessageAuditResponse {
	editResponses := make([]MessageEditResponse, 0, len(edits))
	for _, edit := range edits {
		editResponses = append(editResponses, MessageEditResponse{
			OriginalContent: edit.OriginalContent,
			NewContent:      edit.NewContent,
			EditedAt:        edit.EditedAt,
		})
	}

	flagResponses := make([]MessageFlagResponse, 0, len(flags))
	for _, flag := range flags {
		flagResponses = append(flagResponses, MessageFlagResponse{
			FlagType:      flag.FlagType,
			Details:       json.RawMessage(flag.Details),
			FlaggedByID:   flag.FlaggedByID,
			FlaggedByKind: flag.FlaggedByKind,
			Source:        flag.Source,
			CreatedAt:     flag.CreatedAt,
		})
	}

	return MessageAuditResponse{
		Message:   NewMessageResponse(message),
		IsDeleted: message.IsDeleted,
		Edits:     editResponses,
		Flags:     flagResponses,
	}
}

// ConversationSummary decorates a conversation with its last message and the
// caller's unread count, for the conversation list endpoint.
type ConversationSummary struct {
	Conversation models.Conversation
	LastMessage  *models.Message
	UnreadCount  int64
}

// NewConversationSummaryResponse converts a summary into its API shape.
func NewConversationSummaryResponse(summary ConversationSummary) ConversationResponse {
	response := NewConversationResponse(summary.Conversation)
	response.UnreadCount = summary.UnreadCount
	if summary.LastMessage != nil {
		last := NewMessageResponse(*summary.LastMessage)
		response.LastMessage = &last
	}
	return response
}
