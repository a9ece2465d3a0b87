package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fitversal/messaging-api/internal/models"
)

const defaultMessagePageSize = 50

// MessageRepository owns message entities, their lifecycle transitions and
// sub-entities (edit history, reactions, read receipts, moderation flags).
type MessageRepository interface {
	Create(ctx context.Context, message *models.Message) error
	Get(ctx context.Context, id uint) (models.Message, error)
	GetVisible(ctx context.Context, id uint) (models.Message, error)
	Edit(ctx context.Context, id uint, newContent, newCiphertext string, at time.Time) (models.Message, error)
	SoftDelete(ctx context.Context, id uint) error
	TogglePin(ctx context.Context, id uint) (models.Message, error)
	AddReaction(ctx context.Context, messageID uint, principal models.Principal, reaction string) error
	RemoveReaction(ctx context.Context, messageID uint, principal models.Principal, reaction string) error
	AddFlag(ctx context.Context, flag *models.MessageFlag) error
	ListForConversation(ctx context.Context, conversationID uint, limit int, beforeID uint, until *time.Time) ([]models.Message, error)
	LatestForConversation(ctx context.Context, conversationID uint) (models.Message, error)
	Search(ctx context.Context, principal models.Principal, query string, conversationID uint, limit, offset int) ([]models.Message, int64, error)
	UnreadCount(ctx context.Context, conversationID uint, principal models.Principal, since *time.Time) (int64, error)
	UpsertRead(ctx context.Context, conversationID uint, principal models.Principal, at time.Time) error
	ListEdits(ctx context.Context, messageID uint) ([]models.MessageEdit, error)
	ListFlags(ctx context.Context, messageID uint) ([]models.MessageFlag, error)
	ListScheduledDue(ctx context.Context, now time.Time, limit int) ([]models.Message, error)
	MarkDelivered(ctx context.Context, id uint, at time.Time) (bool, error)
}

type messageRepository struct {
	db *gorm.DB
}

// NewMessageRepository constructs a message repository backed by GORM.
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) Create(ctx context.Context, message *models.Message) error {
	return r.db.WithContext(ctx).Create(message).Error
}

// Get returns the message regardless of deletion state, for internal audit paths.
func (r *messageRepository) Get(ctx context.Context, id uint) (models.Message, error) {
	var message models.Message
	err := r.db.WithContext(ctx).Preload("Reactions").First(&message, id).Error
	return message, err
}

func (r *messageRepository) GetVisible(ctx context.Context, id uint) (models.Message, error) {
	var message models.Message
	err := r.db.WithContext(ctx).Preload("Reactions").
		Where("is_deleted = ?", false).
		First(&message, id).Error
	return message, err
}

// Edit replaces content and appends the prior content to the edit history in
// one transaction, keeping the audit trail consistent with the live row.
func (r *messageRepository) Edit(ctx context.Context, id uint, newContent, newCiphertext string, at time.Time) (models.Message, error) {
	var message models.Message

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&message, id).Error; err != nil {
			return err
		}

		entry := models.MessageEdit{
			MessageID:       message.ID,
			OriginalContent: message.Content,
			NewContent:      newContent,
			EditedAt:        at,
		}
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}

		message.Content = newContent
		message.Ciphertext = newCiphertext
		message.IsEdited = true
		message.EditedAt = &at
		return tx.Save(&message).Error
	})

	return message, err
}

func (r *messageRepository) SoftDelete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Model(&models.Message{}).
		Where("id = ?", id).
		Update("is_deleted", true).Error
}

func (r *messageRepository) TogglePin(ctx context.Context, id uint) (models.Message, error) {
	var message models.Message

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&message, id).Error; err != nil {
			return err
		}
		message.IsPinned = !message.IsPinned
		return tx.Save(&message).Error
	})

	return message, err
}

// AddReaction is an idempotent insert: re-adding an existing
// (message, principal, reaction) tuple is a no-op.
func (r *messageRepository) AddReaction(ctx context.Context, messageID uint, principal models.Principal, reaction string) error {
	row := models.MessageReaction{
		MessageID:     messageID,
		PrincipalID:   principal.ID,
		PrincipalKind: principal.Kind,
		Reaction:      reaction,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error
}

func (r *messageRepository) RemoveReaction(ctx context.Context, messageID uint, principal models.Principal, reaction string) error {
	return r.db.WithContext(ctx).
		Where("message_id = ? AND principal_id = ? AND principal_kind = ? AND reaction = ?",
			messageID, principal.ID, principal.Kind, reaction).
		Delete(&models.MessageReaction{}).Error
}

func (r *messageRepository) AddFlag(ctx context.Context, flag *models.MessageFlag) error {
	return r.db.WithContext(ctx).Create(flag).Error
}

// ListForConversation returns non-deleted, delivered messages newest-first,
// paged by an exclusive before-id cursor. A non-nil until bound restricts the
// window for participants who have left the conversation.
func (r *messageRepository) ListForConversation(ctx context.Context, conversationID uint, limit int, beforeID uint, until *time.Time) ([]models.Message, error) {
	if limit <= 0 || limit > 100 {
		limit = defaultMessagePageSize
	}

	query := r.db.WithContext(ctx).Preload("Reactions").
		Where("conversation_id = ? AND is_deleted = ?", conversationID, false).
		Where("is_scheduled = ? OR delivered_at IS NOT NULL", false)
	if beforeID > 0 {
		query = query.Where("id < ?", beforeID)
	}
	if until != nil {
		query = query.Where("created_at <= ?", *until)
	}

	var messages []models.Message
	err := query.Order("id DESC").Limit(limit).Find(&messages).Error
	return messages, err
}

func (r *messageRepository) LatestForConversation(ctx context.Context, conversationID uint) (models.Message, error) {
	var message models.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND is_deleted = ?", conversationID, false).
		Where("is_scheduled = ? OR delivered_at IS NOT NULL", false).
		Order("id DESC").First(&message).Error
	return message, err
}

// Search matches message plaintext across the principal's memberships,
// excluding soft-deleted messages. Departed memberships only expose messages
// from before the departure, the same window List enforces.
func (r *messageRepository) Search(ctx context.Context, principal models.Principal, query string, conversationID uint, limit, offset int) ([]models.Message, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = defaultMessagePageSize
	}
	if offset < 0 {
		offset = 0
	}

	build := func() *gorm.DB {
		q := r.db.WithContext(ctx).Model(&models.Message{}).
			Where(`EXISTS (
				SELECT 1 FROM conversation_participants cp
				WHERE cp.conversation_id = messages.conversation_id
				  AND cp.principal_id = ? AND cp.principal_kind = ?
				  AND (cp.left_at IS NULL OR messages.created_at <= cp.left_at)
			)`, principal.ID, principal.Kind).
			Where("is_deleted = ?", false).
			Where("is_scheduled = ? OR delivered_at IS NOT NULL", false).
			Where("content LIKE ?", "%"+query+"%")
		if conversationID > 0 {
			q = q.Where("conversation_id = ?", conversationID)
		}
		return q
	}

	var total int64
	if err := build().Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var messages []models.Message
	err := build().Order("id DESC").Limit(limit).Offset(offset).Find(&messages).Error
	return messages, total, err
}

// UnreadCount counts delivered messages from other senders newer than the
// participant's last read marker.
func (r *messageRepository) UnreadCount(ctx context.Context, conversationID uint, principal models.Principal, since *time.Time) (int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("conversation_id = ? AND is_deleted = ?", conversationID, false).
		Where("is_scheduled = ? OR delivered_at IS NOT NULL", false).
		Where("NOT (sender_id = ? AND sender_kind = ?)", principal.ID, principal.Kind)
	if since != nil {
		query = query.Where("created_at > ?", *since)
	}

	var count int64
	err := query.Count(&count).Error
	return count, err
}

// UpsertRead keeps one logical read receipt per participant per conversation.
func (r *messageRepository) UpsertRead(ctx context.Context, conversationID uint, principal models.Principal, at time.Time) error {
	row := models.MessageRead{
		ConversationID: conversationID,
		PrincipalID:    principal.ID,
		PrincipalKind:  principal.Kind,
		ReadAt:         at,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "conversation_id"}, {Name: "principal_id"}, {Name: "principal_kind"}},
			DoUpdates: clause.AssignmentColumns([]string{"read_at", "updated_at"}),
		}).
		Create(&row).Error
}

func (r *messageRepository) ListEdits(ctx context.Context, messageID uint) ([]models.MessageEdit, error) {
	var edits []models.MessageEdit
	err := r.db.WithContext(ctx).
		Where("message_id = ?", messageID).
		Order("edited_at ASC").Order("id ASC").
		Find(&edits).Error
	return edits, err
}

func (r *messageRepository) ListFlags(ctx context.Context, messageID uint) ([]models.MessageFlag, error) {
	var flags []models.MessageFlag
	err := r.db.WithContext(ctx).
		Where("message_id = ?", messageID).
		Order("id ASC").
		Find(&flags).Error
	return flags, err
}

func (r *messageRepository) ListScheduledDue(ctx context.Context, now time.Time, limit int) ([]models.Message, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var messages []models.Message
	err := r.db.WithContext(ctx).
		Where("is_scheduled = ? AND delivered_at IS NULL AND scheduled_at <= ?", true, now).
		Where("is_deleted = ?", false).
		Order("scheduled_at ASC").Limit(limit).
		Find(&messages).Error
	return messages, err
}

// MarkDelivered stamps the delivery time and reports whether this caller
// claimed the message. Concurrent sweepers race on delivered_at IS NULL, so
// only one of them sees true and gets to fan out.
func (r *messageRepository) MarkDelivered(ctx context.Context, id uint, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("id = ? AND delivered_at IS NULL", id).
		Update("delivered_at", at)
	return result.RowsAffected > 0, result.Error
}
