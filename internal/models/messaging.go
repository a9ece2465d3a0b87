package models

import (
	"time"

	"gorm.io/datatypes"
)

// Conversation types supported by the messaging core.
const (
	ConversationPrivate      = "private"
	ConversationGroup        = "group"
	ConversationOrganization = "organization"
)

// Message content types.
const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
	MessageTypeVideo = "video"
	MessageTypeAudio = "audio"
	MessageTypeFile  = "file"
	MessageTypeVoice = "voice"
	MessageTypeGif   = "gif"
)

// FlagSourceSystem marks moderation flags attached automatically during send.
const FlagSourceSystem = "system"

// Conversation groups messages between two or more principals.
// Private conversations are unique per unordered pair; the pair key enforces
// that at the database level in addition to the serialized lookup.
type Conversation struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	Type           string     `gorm:"size:32;not null;index" json:"type"`
	Name           string     `gorm:"size:255" json:"name,omitempty"`
	Description    string     `gorm:"type:text" json:"description,omitempty"`
	OrganizationID *uint      `gorm:"index" json:"organization_id,omitempty"`
	PairKey        *string    `gorm:"size:64;uniqueIndex" json:"-"`
	CreatedByID    uint       `gorm:"not null" json:"created_by_id"`
	CreatedByKind  string     `gorm:"size:16;not null" json:"created_by_kind"`
	LastMessageAt  *time.Time `gorm:"index" json:"last_message_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`

	Participants []ConversationParticipant `json:"participants,omitempty"`
}

// ConversationParticipant is a principal's membership row in a conversation.
// A row with LeftAt set is historical; rejoining creates a fresh active row.
type ConversationParticipant struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	ConversationID uint       `gorm:"index:idx_participant_member;not null" json:"conversation_id"`
	PrincipalID    uint       `gorm:"index:idx_participant_member;not null" json:"principal_id"`
	PrincipalKind  string     `gorm:"index:idx_participant_member;size:16;not null" json:"principal_kind"`
	IsAdmin        bool       `gorm:"not null;default:false" json:"is_admin"`
	JoinedAt       time.Time  `json:"joined_at"`
	LeftAt         *time.Time `json:"left_at,omitempty"`
	LastReadAt     *time.Time `json:"last_read_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Principal returns the participant's identity pair.
func (p ConversationParticipant) Principal() Principal {
	return Principal{ID: p.PrincipalID, Kind: p.PrincipalKind}
}

// Message is a single entry in a conversation. Content is the authoritative
// plaintext; Ciphertext is the at-rest copy produced by the encryption gateway.
// Deleted messages stay in the table for moderation audit.
type Message struct {
	ID               uint           `gorm:"primaryKey" json:"id"`
	ConversationID   uint           `gorm:"index;not null" json:"conversation_id"`
	SenderID         uint           `gorm:"index;not null" json:"sender_id"`
	SenderKind       string         `gorm:"size:16;not null" json:"sender_kind"`
	Content          string         `gorm:"type:text" json:"message"`
	Ciphertext       string         `gorm:"type:text" json:"-"`
	Attachments      datatypes.JSON `gorm:"type:json" json:"attachments,omitempty"`
	Type             string         `gorm:"size:32;not null;default:text" json:"message_type"`
	ReplyToMessageID *uint          `gorm:"index" json:"reply_to_message_id,omitempty"`
	IsEdited         bool           `gorm:"not null;default:false" json:"is_edited"`
	EditedAt         *time.Time     `json:"edited_at,omitempty"`
	IsDeleted        bool           `gorm:"not null;default:false;index" json:"is_deleted"`
	IsPinned         bool           `gorm:"not null;default:false" json:"is_pinned"`
	IsScheduled      bool           `gorm:"not null;default:false" json:"is_scheduled"`
	ScheduledAt      *time.Time     `gorm:"index" json:"scheduled_at,omitempty"`
	DeliveredAt      *time.Time     `json:"delivered_at,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`

	Reactions []MessageReaction `json:"reactions,omitempty"`
	Flags     []MessageFlag     `json:"-"`
}

// Sender returns the message author's identity pair.
func (m Message) Sender() Principal {
	return Principal{ID: m.SenderID, Kind: m.SenderKind}
}

// MessageEdit is one append-only entry in a message's edit history.
type MessageEdit struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	MessageID       uint      `gorm:"index;not null" json:"message_id"`
	OriginalContent string    `gorm:"type:text" json:"original_content"`
	NewContent      string    `gorm:"type:text" json:"new_content"`
	EditedAt        time.Time `json:"edited_at"`
}

// MessageReaction records one reaction token from one principal.
// The composite unique index makes add/remove idempotent upserts.
type MessageReaction struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	MessageID     uint      `gorm:"uniqueIndex:idx_reaction_unique;not null" json:"message_id"`
	PrincipalID   uint      `gorm:"uniqueIndex:idx_reaction_unique;not null" json:"principal_id"`
	PrincipalKind string    `gorm:"uniqueIndex:idx_reaction_unique;size:16;not null" json:"principal_kind"`
	Reaction      string    `gorm:"uniqueIndex:idx_reaction_unique;size:64;not null" json:"reaction"`
	CreatedAt     time.Time `json:"created_at"`
}

// MessageRead is the per-participant read receipt for a conversation,
// updated in place on each read rather than appended.
type MessageRead struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	ConversationID uint      `gorm:"uniqueIndex:idx_read_unique;not null" json:"conversation_id"`
	PrincipalID    uint      `gorm:"uniqueIndex:idx_read_unique;not null" json:"principal_id"`
	PrincipalKind  string    `gorm:"uniqueIndex:idx_read_unique;size:16;not null" json:"principal_kind"`
	ReadAt         time.Time `json:"read_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// UserBlock is a directional block edge. Either direction prevents new
// private conversations between the pair.
type UserBlock struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	BlockerID   uint      `gorm:"uniqueIndex:idx_block_unique;not null" json:"blocker_id"`
	BlockerKind string    `gorm:"uniqueIndex:idx_block_unique;size:16;not null" json:"blocker_kind"`
	BlockedID   uint      `gorm:"uniqueIndex:idx_block_unique;not null" json:"blocked_id"`
	BlockedKind string    `gorm:"uniqueIndex:idx_block_unique;size:16;not null" json:"blocked_kind"`
	Reason      string    `gorm:"size:500" json:"reason,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// MessageFlag is an append-only moderation record. FlaggedByID is nil when
// the flag was attached by the automated moderation pass.
type MessageFlag struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	MessageID     uint           `gorm:"index;not null" json:"message_id"`
	FlagType      string         `gorm:"size:64;not null" json:"flag_type"`
	Details       datatypes.JSON `gorm:"type:json" json:"details,omitempty"`
	FlaggedByID   *uint          `json:"flagged_by_id,omitempty"`
	FlaggedByKind string         `gorm:"size:16" json:"flagged_by_kind,omitempty"`
	Source        string         `gorm:"size:16;not null" json:"source"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Attachment records a file stored for use in message payloads. Messages
// reference attachments by URL, so a row here is metadata for audit and
// clean-up rather than a hard foreign key.
type Attachment struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	FileName     string    `gorm:"size:255;not null" json:"file_name"`
	URL          string    `gorm:"size:512;not null" json:"url"`
	MimeType     string    `gorm:"size:128;not null" json:"mime_type"`
	SizeBytes    int64     `gorm:"not null" json:"size_bytes"`
	Checksum     string    `gorm:"size:64;index" json:"checksum"`
	UploadedByID uint      `gorm:"index;not null" json:"uploaded_by_id"`
	UploadedKind string    `gorm:"size:16;not null" json:"uploaded_by_kind"`
	CreatedAt    time.Time `json:"created_at"`
}

// MessagingModels lists every entity owned by the messaging core, in
// migration order.
func MessagingModels() []interface{} {
	return []interface{}{
		&Conversation{},
		&ConversationParticipant{},
		&Message{},
		&MessageEdit{},
		&MessageReaction{},
		&MessageRead{},
		&UserBlock{},
		&MessageFlag{},
		&Attachment{},
	}
}
