package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fitversal/messaging-api/internal/models"
)

func seedDeliveredMessage(t *testing.T, repo MessageRepository, conversationID uint, sender models.Principal, content string, at time.Time) models.Message {
	t.Helper()
	message := models.Message{
		ConversationID: conversationID,
		SenderID:       sender.ID,
		SenderKind:     sender.Kind,
		Content:        content,
		Type:           models.MessageTypeText,
		DeliveredAt:    &at,
		CreatedAt:      at,
	}
	require.NoError(t, repo.Create(context.Background(), &message))
	return message
}

func TestListForConversationCursorAndVisibility(t *testing.T) {
	db := setupTestDB(t)
	conversations := NewConversationRepository(db)
	messages := NewMessageRepository(db)

	sender := models.Principal{ID: 1, Kind: models.PrincipalUser}
	conversation, err := conversations.CreateGroup(context.Background(), sender, "Crew", "", nil)
	require.NoError(t, err)

	now := time.Now().UTC()
	first := seedDeliveredMessage(t, messages, conversation.ID, sender, "first", now.Add(-3*time.Minute))
	second := seedDeliveredMessage(t, messages, conversation.ID, sender, "second", now.Add(-2*time.Minute))
	third := seedDeliveredMessage(t, messages, conversation.ID, sender, "third", now.Add(-time.Minute))

	// A soft-deleted message and an undelivered scheduled one never surface.
	deleted := seedDeliveredMessage(t, messages, conversation.ID, sender, "gone", now)
	require.NoError(t, messages.SoftDelete(context.Background(), deleted.ID))

	future := now.Add(time.Hour)
	scheduled := models.Message{
		ConversationID: conversation.ID,
		SenderID:       sender.ID,
		SenderKind:     sender.Kind,
		Content:        "later",
		Type:           models.MessageTypeText,
		IsScheduled:    true,
		ScheduledAt:    &future,
	}
	require.NoError(t, messages.Create(context.Background(), &scheduled))

	page, err := messages.ListForConversation(context.Background(), conversation.ID, 10, 0, nil)
	require.NoError(t, err)
	require.Len(t, page, 3)
	require.Equal(t, third.ID, page[0].ID)
	require.Equal(t, first.ID, page[2].ID)

	// The cursor is exclusive: paging before the newest id skips it.
	page, err = messages.ListForConversation(context.Background(), conversation.ID, 1, third.ID, nil)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, second.ID, page[0].ID)

	// An until bound caps the window for former participants.
	until := now.Add(-90 * time.Second)
	page, err = messages.ListForConversation(context.Background(), conversation.ID, 10, 0, &until)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, second.ID, page[0].ID)
}

func TestEditAppendsHistory(t *testing.T) {
	db := setupTestDB(t)
	conversations := NewConversationRepository(db)
	messages := NewMessageRepository(db)

	sender := models.Principal{ID: 1, Kind: models.PrincipalUser}
	conversation, err := conversations.CreateGroup(context.Background(), sender, "Crew", "", nil)
	require.NoError(t, err)

	message := seedDeliveredMessage(t, messages, conversation.ID, sender, "draft", time.Now().UTC())

	updated, err := messages.Edit(context.Background(), message.ID, "final", "sealed", time.Now().UTC())
	require.NoError(t, err)
	require.True(t, updated.IsEdited)
	require.Equal(t, "final", updated.Content)
	require.NotNil(t, updated.EditedAt)

	edits, err := messages.ListEdits(context.Background(), message.ID)
	require.NoError(t, err)
	require.Len(t, edits, 1)
	require.Equal(t, "draft", edits[0].OriginalContent)
	require.Equal(t, "final", edits[0].NewContent)
}

func TestAddReactionIdempotent(t *testing.T) {
	db := setupTestDB(t)
	conversations := NewConversationRepository(db)
	messages := NewMessageRepository(db)

	sender := models.Principal{ID: 1, Kind: models.PrincipalUser}
	reactor := models.Principal{ID: 2, Kind: models.PrincipalCoach}
	conversation, err := conversations.CreateGroup(context.Background(), sender, "Crew", "", []models.Principal{reactor})
	require.NoError(t, err)

	message := seedDeliveredMessage(t, messages, conversation.ID, sender, "hello", time.Now().UTC())

	require.NoError(t, messages.AddReaction(context.Background(), message.ID, reactor, "👍"))
	require.NoError(t, messages.AddReaction(context.Background(), message.ID, reactor, "👍"))

	var total int64
	require.NoError(t, db.Model(&models.MessageReaction{}).
		Where("message_id = ?", message.ID).Count(&total).Error)
	require.Equal(t, int64(1), total)

	require.NoError(t, messages.RemoveReaction(context.Background(), message.ID, reactor, "👍"))
	require.NoError(t, db.Model(&models.MessageReaction{}).
		Where("message_id = ?", message.ID).Count(&total).Error)
	require.Equal(t, int64(0), total)
}

func TestUpsertReadKeepsSingleReceipt(t *testing.T) {
	db := setupTestDB(t)
	conversations := NewConversationRepository(db)
	messages := NewMessageRepository(db)

	member := models.Principal{ID: 1, Kind: models.PrincipalUser}
	conversation, err := conversations.CreateGroup(context.Background(), member, "Crew", "", nil)
	require.NoError(t, err)

	earlier := time.Now().UTC().Add(-time.Minute)
	later := time.Now().UTC()
	require.NoError(t, messages.UpsertRead(context.Background(), conversation.ID, member, earlier))
	require.NoError(t, messages.UpsertRead(context.Background(), conversation.ID, member, later))

	var receipts []models.MessageRead
	require.NoError(t, db.Where("conversation_id = ?", conversation.ID).Find(&receipts).Error)
	require.Len(t, receipts, 1)
	require.WithinDuration(t, later, receipts[0].ReadAt, time.Second)
}

func TestSearchScopedToMembership(t *testing.T) {
	db := setupTestDB(t)
	conversations := NewConversationRepository(db)
	messages := NewMessageRepository(db)

	member := models.Principal{ID: 1, Kind: models.PrincipalUser}
	outsider := models.Principal{ID: 2, Kind: models.PrincipalUser}

	mine, err := conversations.CreateGroup(context.Background(), member, "Mine", "", nil)
	require.NoError(t, err)
	other, err := conversations.CreateGroup(context.Background(), outsider, "Other", "", nil)
	require.NoError(t, err)

	now := time.Now().UTC()
	seedDeliveredMessage(t, messages, mine.ID, member, "protein shake recipe", now)
	seedDeliveredMessage(t, messages, other.ID, outsider, "protein intake plan", now)

	results, total, err := messages.Search(context.Background(), member, "protein", 0, 10, 0)
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	require.Len(t, results, 1)
	require.Equal(t, mine.ID, results[0].ConversationID)
}

func TestSearchFormerMemberWindow(t *testing.T) {
	db := setupTestDB(t)
	conversations := NewConversationRepository(db)
	messages := NewMessageRepository(db)

	coach := models.Principal{ID: 1, Kind: models.PrincipalCoach}
	member := models.Principal{ID: 2, Kind: models.PrincipalUser}
	conversation, err := conversations.CreateGroup(context.Background(), coach, "Crew", "", []models.Principal{member})
	require.NoError(t, err)

	now := time.Now().UTC()
	before := seedDeliveredMessage(t, messages, conversation.ID, coach, "macro targets for march", now.Add(-time.Hour))

	require.NoError(t, conversations.Leave(context.Background(), conversation.ID, member))
	seedDeliveredMessage(t, messages, conversation.ID, coach, "macro targets for april", now.Add(time.Hour))

	// A departed member only searches up to their departure, matching the
	// window the message list enforces.
	results, total, err := messages.Search(context.Background(), member, "macro targets", 0, 10, 0)
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	require.Len(t, results, 1)
	require.Equal(t, before.ID, results[0].ID)

	// The remaining member still sees both.
	_, total, err = messages.Search(context.Background(), coach, "macro targets", 0, 10, 0)
	require.NoError(t, err)
	require.Equal(t, int64(2), total)
}

func TestUnreadCountExcludesOwnMessages(t *testing.T) {
	db := setupTestDB(t)
	conversations := NewConversationRepository(db)
	messages := NewMessageRepository(db)

	member := models.Principal{ID: 1, Kind: models.PrincipalUser}
	peer := models.Principal{ID: 2, Kind: models.PrincipalCoach}
	conversation, err := conversations.CreateGroup(context.Background(), member, "Crew", "", []models.Principal{peer})
	require.NoError(t, err)

	now := time.Now().UTC()
	seedDeliveredMessage(t, messages, conversation.ID, member, "mine", now.Add(-2*time.Minute))
	seedDeliveredMessage(t, messages, conversation.ID, peer, "old", now.Add(-2*time.Minute))
	seedDeliveredMessage(t, messages, conversation.ID, peer, "new", now)

	count, err := messages.UnreadCount(context.Background(), conversation.ID, member, nil)
	require.NoError(t, err)
	require.Equal(t, int64(2), count)

	since := now.Add(-time.Minute)
	count, err = messages.UnreadCount(context.Background(), conversation.ID, member, &since)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestScheduledDueAndMarkDelivered(t *testing.T) {
	db := setupTestDB(t)
	conversations := NewConversationRepository(db)
	messages := NewMessageRepository(db)

	sender := models.Principal{ID: 1, Kind: models.PrincipalUser}
	conversation, err := conversations.CreateGroup(context.Background(), sender, "Crew", "", nil)
	require.NoError(t, err)

	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	due := models.Message{
		ConversationID: conversation.ID,
		SenderID:       sender.ID,
		SenderKind:     sender.Kind,
		Content:        "due",
		Type:           models.MessageTypeText,
		IsScheduled:    true,
		ScheduledAt:    &past,
	}
	notYet := models.Message{
		ConversationID: conversation.ID,
		SenderID:       sender.ID,
		SenderKind:     sender.Kind,
		Content:        "later",
		Type:           models.MessageTypeText,
		IsScheduled:    true,
		ScheduledAt:    &future,
	}
	require.NoError(t, messages.Create(context.Background(), &due))
	require.NoError(t, messages.Create(context.Background(), &notYet))

	pending, err := messages.ListScheduledDue(context.Background(), now, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, due.ID, pending[0].ID)

	claimed, err := messages.MarkDelivered(context.Background(), due.ID, now)
	require.NoError(t, err)
	require.True(t, claimed)

	// A second sweeper racing on the same message claims nothing.
	claimed, err = messages.MarkDelivered(context.Background(), due.ID, now)
	require.NoError(t, err)
	require.False(t, claimed)

	pending, err = messages.ListScheduledDue(context.Background(), now, 10)
	require.NoError(t, err)
	require.Empty(t, pending)

	visible, err := messages.ListForConversation(context.Background(), conversation.ID, 10, 0, nil)
	require.NoError(t, err)
	require.Len(t, visible, 1)
	require.Equal(t, due.ID, visible[0].ID)
}
