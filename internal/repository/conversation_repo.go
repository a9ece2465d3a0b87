package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/fitversal/messaging-api/internal/models"
)

// ErrNotAMember indicates the principal has no active membership row.
var ErrNotAMember = errors.New("principal is not an active participant")

// ConversationRepository owns conversation entities and participant membership.
type ConversationRepository interface {
	Get(ctx context.Context, id uint) (models.Conversation, error)
	GetWithParticipants(ctx context.Context, id uint) (models.Conversation, error)
	FindOrCreatePrivate(ctx context.Context, actor, other models.Principal) (models.Conversation, bool, error)
	CreateGroup(ctx context.Context, creator models.Principal, name, description string, participants []models.Principal) (models.Conversation, error)
	CreateOrganizationChat(ctx context.Context, creator models.Principal, organizationID uint, name, description string) (models.Conversation, bool, error)
	AddParticipant(ctx context.Context, conversationID uint, principal models.Principal, isAdmin bool) (models.ConversationParticipant, error)
	HasParticipant(ctx context.Context, conversationID uint, principal models.Principal) (bool, error)
	Membership(ctx context.Context, conversationID uint, principal models.Principal) (models.ConversationParticipant, error)
	ActiveParticipants(ctx context.Context, conversationID uint) ([]models.ConversationParticipant, error)
	Leave(ctx context.Context, conversationID uint, principal models.Principal) error
	MarkRead(ctx context.Context, conversationID uint, principal models.Principal, at time.Time) error
	TouchLastMessage(ctx context.Context, conversationID uint, at time.Time) error
	ListForPrincipal(ctx context.Context, principal models.Principal, page, perPage int) ([]models.Conversation, int64, error)
}

type conversationRepository struct {
	db *gorm.DB
}

// NewConversationRepository constructs a conversation repository backed by GORM.
func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &conversationRepository{db: db}
}

// PrivatePairKey builds the canonical key for an unordered principal pair.
func PrivatePairKey(a, b models.Principal) string {
	keys := []string{a.Key(), b.Key()}
	sort.Strings(keys)
	return strings.Join(keys, "|")
}

func (r *conversationRepository) Get(ctx context.Context, id uint) (models.Conversation, error) {
	var conversation models.Conversation
	err := r.db.WithContext(ctx).First(&conversation, id).Error
	return conversation, err
}

func (r *conversationRepository) GetWithParticipants(ctx context.Context, id uint) (models.Conversation, error) {
	var conversation models.Conversation
	err := r.db.WithContext(ctx).Preload("Participants").First(&conversation, id).Error
	return conversation, err
}

func (r *conversationRepository) FindOrCreatePrivate(ctx context.Context, actor, other models.Principal) (models.Conversation, bool, error) {
	pairKey := PrivatePairKey(actor, other)

	var conversation models.Conversation
	created := false

	// Serialized check-then-insert: the pair key carries a unique index, so a
	// concurrent creator loses the race at commit and the retry resolves to
	// the surviving row.
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("pair_key = ?", pairKey).First(&conversation).Error
		if err == nil {
			return reactivatePair(tx, &conversation, actor, other)
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		now := time.Now().UTC()
		conversation = models.Conversation{
			Type:          models.ConversationPrivate,
			PairKey:       &pairKey,
			CreatedByID:   actor.ID,
			CreatedByKind: actor.Kind,
		}
		if err := tx.Create(&conversation).Error; err != nil {
			return err
		}

		participants := []models.ConversationParticipant{
			{ConversationID: conversation.ID, PrincipalID: actor.ID, PrincipalKind: actor.Kind, JoinedAt: now},
			{ConversationID: conversation.ID, PrincipalID: other.ID, PrincipalKind: other.Kind, JoinedAt: now},
		}
		if err := tx.Create(&participants).Error; err != nil {
			return err
		}

		conversation.Participants = participants
		created = true
		return nil
	})
	if err != nil && !created {
		// Lost the insert race: the unique index rejected our row, so the
		// conversation must exist now.
		var existing models.Conversation
		lookupErr := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Where("pair_key = ?", pairKey).First(&existing).Error; err != nil {
				return err
			}
			return reactivatePair(tx, &existing, actor, other)
		})
		if lookupErr == nil {
			return existing, false, nil
		}
		return models.Conversation{}, false, err
	}

	return conversation, created, err
}

// reactivatePair restores active membership for both sides of an existing
// private conversation. Leaving a private conversation only hides it from the
// leaver; contacting the same partner again resumes the shared thread.
func reactivatePair(tx *gorm.DB, conversation *models.Conversation, actor, other models.Principal) error {
	for _, principal := range []models.Principal{actor, other} {
		if _, err := ensureActiveParticipant(tx, conversation.ID, principal, false); err != nil {
			return err
		}
	}
	return tx.Where("conversation_id = ?", conversation.ID).
		Order("id ASC").
		Find(&conversation.Participants).Error
}

func (r *conversationRepository) CreateGroup(ctx context.Context, creator models.Principal, name, description string, participants []models.Principal) (models.Conversation, error) {
	now := time.Now().UTC()
	conversation := models.Conversation{
		Type:          models.ConversationGroup,
		Name:          name,
		Description:   description,
		CreatedByID:   creator.ID,
		CreatedByKind: creator.Kind,
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&conversation).Error; err != nil {
			return err
		}

		members := []models.ConversationParticipant{{
			ConversationID: conversation.ID,
			PrincipalID:    creator.ID,
			PrincipalKind:  creator.Kind,
			IsAdmin:        true,
			JoinedAt:       now,
		}}
		for _, participant := range participants {
			if participant.Equal(creator) {
				continue
			}
			members = append(members, models.ConversationParticipant{
				ConversationID: conversation.ID,
				PrincipalID:    participant.ID,
				PrincipalKind:  participant.Kind,
				JoinedAt:       now,
			})
		}

		if err := tx.Create(&members).Error; err != nil {
			return err
		}
		conversation.Participants = members
		return nil
	})

	return conversation, err
}

func (r *conversationRepository) CreateOrganizationChat(ctx context.Context, creator models.Principal, organizationID uint, name, description string) (models.Conversation, bool, error) {
	var conversation models.Conversation
	created := false

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Preload("Participants").
			Where("type = ? AND organization_id = ?", models.ConversationOrganization, organizationID).
			First(&conversation).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		if name == "" {
			name = fmt.Sprintf("Organization %d", organizationID)
		}

		conversation = models.Conversation{
			Type:           models.ConversationOrganization,
			Name:           name,
			Description:    description,
			OrganizationID: &organizationID,
			CreatedByID:    creator.ID,
			CreatedByKind:  creator.Kind,
		}
		if err := tx.Create(&conversation).Error; err != nil {
			return err
		}

		admin := models.ConversationParticipant{
			ConversationID: conversation.ID,
			PrincipalID:    creator.ID,
			PrincipalKind:  creator.Kind,
			IsAdmin:        true,
			JoinedAt:       time.Now().UTC(),
		}
		if err := tx.Create(&admin).Error; err != nil {
			return err
		}

		conversation.Participants = []models.ConversationParticipant{admin}
		created = true
		return nil
	})

	return conversation, created, err
}

func (r *conversationRepository) AddParticipant(ctx context.Context, conversationID uint, principal models.Principal, isAdmin bool) (models.ConversationParticipant, error) {
	var participant models.ConversationParticipant

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		participant, err = ensureActiveParticipant(tx, conversationID, principal, isAdmin)
		return err
	})

	return participant, err
}

// ensureActiveParticipant is the insert-or-reactivate step behind joins and
// private recontact. A departed membership gets a fresh active row with a
// fresh joined_at; an active one is left untouched.
func ensureActiveParticipant(tx *gorm.DB, conversationID uint, principal models.Principal, isAdmin bool) (models.ConversationParticipant, error) {
	var participant models.ConversationParticipant
	err := tx.Where(
		"conversation_id = ? AND principal_id = ? AND principal_kind = ?",
		conversationID, principal.ID, principal.Kind,
	).Order("id DESC").First(&participant).Error

	switch {
	case err == nil && participant.LeftAt == nil:
		// Already active; nothing to change.
		return participant, nil
	case err == nil, errors.Is(err, gorm.ErrRecordNotFound):
		participant = models.ConversationParticipant{
			ConversationID: conversationID,
			PrincipalID:    principal.ID,
			PrincipalKind:  principal.Kind,
			IsAdmin:        isAdmin,
			JoinedAt:       time.Now().UTC(),
		}
		return participant, tx.Create(&participant).Error
	default:
		return models.ConversationParticipant{}, err
	}
}

func (r *conversationRepository) HasParticipant(ctx context.Context, conversationID uint, principal models.Principal) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.ConversationParticipant{}).
		Where("conversation_id = ? AND principal_id = ? AND principal_kind = ? AND left_at IS NULL",
			conversationID, principal.ID, principal.Kind).
		Count(&count).Error
	return count > 0, err
}

func (r *conversationRepository) Membership(ctx context.Context, conversationID uint, principal models.Principal) (models.ConversationParticipant, error) {
	var participant models.ConversationParticipant
	err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND principal_id = ? AND principal_kind = ?",
			conversationID, principal.ID, principal.Kind).
		Order("id DESC").First(&participant).Error
	return participant, err
}

func (r *conversationRepository) ActiveParticipants(ctx context.Context, conversationID uint) ([]models.ConversationParticipant, error) {
	var participants []models.ConversationParticipant
	err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND left_at IS NULL", conversationID).
		Find(&participants).Error
	return participants, err
}

func (r *conversationRepository) Leave(ctx context.Context, conversationID uint, principal models.Principal) error {
	now := time.Now().UTC()
	result := r.db.WithContext(ctx).Model(&models.ConversationParticipant{}).
		Where("conversation_id = ? AND principal_id = ? AND principal_kind = ? AND left_at IS NULL",
			conversationID, principal.ID, principal.Kind).
		Update("left_at", now)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotAMember
	}
	return nil
}

func (r *conversationRepository) MarkRead(ctx context.Context, conversationID uint, principal models.Principal, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&models.ConversationParticipant{}).
		Where("conversation_id = ? AND principal_id = ? AND principal_kind = ? AND left_at IS NULL",
			conversationID, principal.ID, principal.Kind).
		Update("last_read_at", at)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotAMember
	}
	return nil
}

func (r *conversationRepository) TouchLastMessage(ctx context.Context, conversationID uint, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ?", conversationID).
		Update("last_message_at", at).Error
}

func (r *conversationRepository) ListForPrincipal(ctx context.Context, principal models.Principal, page, perPage int) ([]models.Conversation, int64, error) {
	if perPage <= 0 || perPage > 100 {
		perPage = 20
	}
	if page <= 0 {
		page = 1
	}

	membership := r.db.Model(&models.ConversationParticipant{}).
		Select("conversation_id").
		Where("principal_id = ? AND principal_kind = ? AND left_at IS NULL", principal.ID, principal.Kind)

	var total int64
	if err := r.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id IN (?)", membership).
		Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var conversations []models.Conversation
	err := r.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id IN (?)", membership).
		Preload("Participants").
		Order("last_message_at DESC").
		Order("id DESC").
		Limit(perPage).
		Offset((page - 1) * perPage).
		Find(&conversations).Error

	return conversations, total, err
}
