package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/fitversal/messaging-api/internal/dto"
	"github.com/fitversal/messaging-api/internal/models"
	"github.com/fitversal/messaging-api/internal/realtime"
	"github.com/fitversal/messaging-api/internal/repository"
	"github.com/fitversal/messaging-api/pkg/moderation"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.MessagingModels()...))
	return db
}

type moderatorStub struct {
	profanity    moderation.ProfanityResult
	profanityErr error
	verdict      moderation.Verdict
	moderateErr  error
}

func (m *moderatorStub) CheckProfanity(_ context.Context, text string) (moderation.ProfanityResult, error) {
	if m.profanityErr != nil {
		return moderation.ProfanityResult{}, m.profanityErr
	}
	if m.profanity.HasProfanity {
		return m.profanity, nil
	}
	return moderation.ProfanityResult{CleanMessage: text}, nil
}

func (m *moderatorStub) ModerateMessage(_ context.Context, _, _ string) (moderation.Verdict, error) {
	if m.moderateErr != nil {
		return moderation.Verdict{}, m.moderateErr
	}
	return m.verdict, nil
}

type encryptorStub struct{}

func (encryptorStub) Encrypt(_ context.Context, plaintext string) (string, error) {
	return "sealed:" + plaintext, nil
}

func (encryptorStub) Decrypt(_ context.Context, ciphertext string) (string, error) {
	return strings.TrimPrefix(ciphertext, "sealed:"), nil
}

type pushedJob struct {
	Recipients     []models.Principal
	SenderName     string
	Preview        string
	ConversationID uint
}

type notifierStub struct {
	mu   sync.Mutex
	jobs []pushedJob
}

func (n *notifierStub) SendNewMessageNotification(_ context.Context, recipients []models.Principal, senderName, preview string, conversationID uint) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.jobs = append(n.jobs, pushedJob{
		Recipients:     recipients,
		SenderName:     senderName,
		Preview:        preview,
		ConversationID: conversationID,
	})
	return nil
}

type publisherStub struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (p *publisherStub) Publish(_ context.Context, event realtime.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *publisherStub) byType(eventType string) []realtime.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []realtime.Event
	for _, event := range p.events {
		if event.Type == eventType {
			out = append(out, event)
		}
	}
	return out
}

type messagingFixture struct {
	db            *gorm.DB
	conversations repository.ConversationRepository
	messages      repository.MessageRepository
	moderator     *moderatorStub
	notifier      *notifierStub
	events        *publisherStub
	svc           MessagingService
}

func newMessagingFixture(t *testing.T) *messagingFixture {
	t.Helper()
	db := setupTestDB(t)
	conversations := repository.NewConversationRepository(db)
	messages := repository.NewMessageRepository(db)
	moderator := &moderatorStub{}
	notifier := &notifierStub{}
	events := &publisherStub{}

	svc := NewMessagingService(
		db, conversations, messages,
		moderator, encryptorStub{}, notifier, events,
		validator.New(validator.WithRequiredStructEnabled()), testLogger(),
	)

	return &messagingFixture{
		db:            db,
		conversations: conversations,
		messages:      messages,
		moderator:     moderator,
		notifier:      notifier,
		events:        events,
		svc:           svc,
	}
}

func (f *messagingFixture) groupWith(t *testing.T, creator models.Principal, members ...models.Principal) models.Conversation {
	t.Helper()
	conversation, err := f.conversations.CreateGroup(context.Background(), creator, "Crew", "", members)
	require.NoError(t, err)
	return conversation
}

func TestSendMessageRequiresMembership(t *testing.T) {
	f := newMessagingFixture(t)
	creator := models.Principal{ID: 1, Kind: models.PrincipalCoach}
	outsider := models.Principal{ID: 9, Kind: models.PrincipalUser}
	conversation := f.groupWith(t, creator)

	_, err := f.svc.SendMessage(context.Background(), outsider, dto.MessageSendRequest{
		ConversationID: conversation.ID,
		Message:        "hello",
	})
	require.ErrorIs(t, err, ErrForbidden)

	var total int64
	require.NoError(t, f.db.Model(&models.Message{}).Count(&total).Error)
	require.Equal(t, int64(0), total)
}

func TestSendMessageUnknownConversation(t *testing.T) {
	f := newMessagingFixture(t)
	actor := models.Principal{ID: 1, Kind: models.PrincipalUser}

	_, err := f.svc.SendMessage(context.Background(), actor, dto.MessageSendRequest{
		ConversationID: 999,
		Message:        "hello",
	})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSendMessagePersistsEncryptsAndFansOut(t *testing.T) {
	f := newMessagingFixture(t)
	sender := models.Principal{ID: 1, Kind: models.PrincipalCoach}
	member := models.Principal{ID: 2, Kind: models.PrincipalUser}
	conversation := f.groupWith(t, sender, member)

	resp, err := f.svc.SendMessage(context.Background(), sender, dto.MessageSendRequest{
		ConversationID: conversation.ID,
		Message:        "  session at 6pm  ",
	})
	require.NoError(t, err)
	require.Equal(t, "session at 6pm", resp.Message.Message)
	require.NotNil(t, resp.Message.DeliveredAt)

	var stored models.Message
	require.NoError(t, f.db.First(&stored, resp.Message.ID).Error)
	require.Equal(t, "sealed:session at 6pm", stored.Ciphertext)

	updated, err := f.conversations.Get(context.Background(), conversation.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.LastMessageAt)

	sent := f.events.byType(realtime.EventMessageSent)
	require.Len(t, sent, 1)
	require.Equal(t, []models.Principal{member}, sent[0].Recipients)

	require.Len(t, f.notifier.jobs, 1)
	require.Equal(t, sender.Key(), f.notifier.jobs[0].SenderName)
	require.Equal(t, "session at 6pm", f.notifier.jobs[0].Preview)
	require.Equal(t, []models.Principal{member}, f.notifier.jobs[0].Recipients)
}

func TestPrivateConversationRoundTrip(t *testing.T) {
	f := newMessagingFixture(t)
	user := models.Principal{ID: 1, Kind: models.PrincipalUser}
	coach := models.Principal{ID: 5, Kind: models.PrincipalCoach}

	conversation, _, err := f.conversations.FindOrCreatePrivate(context.Background(), user, coach)
	require.NoError(t, err)

	_, err = f.svc.SendMessage(context.Background(), user, dto.MessageSendRequest{
		ConversationID: conversation.ID,
		Message:        "Hello",
	})
	require.NoError(t, err)

	page, err := f.svc.ListMessages(context.Background(), coach, conversation.ID, dto.MessageListQuery{})
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, "Hello", page[0].Message)
	require.Equal(t, user.ID, page[0].SenderID)
	require.Equal(t, models.PrincipalUser, page[0].SenderKind)
}

func TestPrivateLeaveThenRecontactResumesMessaging(t *testing.T) {
	f := newMessagingFixture(t)
	user := models.Principal{ID: 1, Kind: models.PrincipalUser}
	coach := models.Principal{ID: 5, Kind: models.PrincipalCoach}

	conversation, _, err := f.conversations.FindOrCreatePrivate(context.Background(), user, coach)
	require.NoError(t, err)
	require.NoError(t, f.conversations.Leave(context.Background(), conversation.ID, user))

	// While departed, the thread rejects the leaver's sends.
	_, err = f.svc.SendMessage(context.Background(), user, dto.MessageSendRequest{
		ConversationID: conversation.ID,
		Message:        "still there?",
	})
	require.ErrorIs(t, err, ErrForbidden)

	// Resolving the pair again reactivates the membership and sends flow.
	resumed, _, err := f.conversations.FindOrCreatePrivate(context.Background(), user, coach)
	require.NoError(t, err)
	require.Equal(t, conversation.ID, resumed.ID)

	sent, err := f.svc.SendMessage(context.Background(), user, dto.MessageSendRequest{
		ConversationID: conversation.ID,
		Message:        "back again",
	})
	require.NoError(t, err)
	require.Equal(t, "back again", sent.Message.Message)
}

func TestGroupFanOutExcludesOnlySender(t *testing.T) {
	f := newMessagingFixture(t)
	creator := models.Principal{ID: 1, Kind: models.PrincipalCoach}
	m1 := models.Principal{ID: 2, Kind: models.PrincipalUser}
	m2 := models.Principal{ID: 3, Kind: models.PrincipalUser}
	conversation := f.groupWith(t, creator, m1, m2)

	_, err := f.svc.SendMessage(context.Background(), m1, dto.MessageSendRequest{
		ConversationID: conversation.ID,
		Message:        "good session",
	})
	require.NoError(t, err)

	sent := f.events.byType(realtime.EventMessageSent)
	require.Len(t, sent, 1)
	require.ElementsMatch(t, []models.Principal{creator, m2}, sent[0].Recipients)

	require.Len(t, f.notifier.jobs, 1)
	require.ElementsMatch(t, []models.Principal{creator, m2}, f.notifier.jobs[0].Recipients)
}

func TestSendMessageMasksProfanity(t *testing.T) {
	f := newMessagingFixture(t)
	sender := models.Principal{ID: 1, Kind: models.PrincipalUser}
	conversation := f.groupWith(t, sender)

	f.moderator.profanity = moderation.ProfanityResult{HasProfanity: true, CleanMessage: "**** yeah"}

	resp, err := f.svc.SendMessage(context.Background(), sender, dto.MessageSendRequest{
		ConversationID: conversation.ID,
		Message:        "hell yeah",
	})
	require.NoError(t, err)
	require.Equal(t, "**** yeah", resp.Message.Message)

	var stored models.Message
	require.NoError(t, f.db.First(&stored, resp.Message.ID).Error)
	require.Equal(t, "**** yeah", stored.Content)
}

func TestSendMessageAttachesModerationFlags(t *testing.T) {
	f := newMessagingFixture(t)
	sender := models.Principal{ID: 1, Kind: models.PrincipalUser}
	conversation := f.groupWith(t, sender)

	f.moderator.verdict = moderation.Verdict{
		NeedsReview: true,
		Flags:       []moderation.Flag{{Type: "spam", Details: "repeated links"}},
	}

	resp, err := f.svc.SendMessage(context.Background(), sender, dto.MessageSendRequest{
		ConversationID: conversation.ID,
		Message:        "buy now buy now",
	})
	require.NoError(t, err)
	require.True(t, resp.Moderation.NeedsReview)
	require.Len(t, resp.Moderation.Flags, 1)

	flags, err := f.messages.ListFlags(context.Background(), resp.Message.ID)
	require.NoError(t, err)
	require.Len(t, flags, 1)
	require.Equal(t, "spam", flags[0].FlagType)
	require.Equal(t, models.FlagSourceSystem, flags[0].Source)
	require.Nil(t, flags[0].FlaggedByID)
}

func TestSendMessageModerationFailureRollsBack(t *testing.T) {
	f := newMessagingFixture(t)
	sender := models.Principal{ID: 1, Kind: models.PrincipalUser}
	conversation := f.groupWith(t, sender)

	f.moderator.moderateErr = errors.New("review backend down")

	_, err := f.svc.SendMessage(context.Background(), sender, dto.MessageSendRequest{
		ConversationID: conversation.ID,
		Message:        "hello",
	})
	require.ErrorIs(t, err, ErrGateway)

	var total int64
	require.NoError(t, f.db.Model(&models.Message{}).Count(&total).Error)
	require.Equal(t, int64(0), total)
	require.Empty(t, f.events.events)
	require.Empty(t, f.notifier.jobs)
}

func TestSendMessageEmptyAfterSanitization(t *testing.T) {
	f := newMessagingFixture(t)
	sender := models.Principal{ID: 1, Kind: models.PrincipalUser}
	conversation := f.groupWith(t, sender)

	_, err := f.svc.SendMessage(context.Background(), sender, dto.MessageSendRequest{
		ConversationID: conversation.ID,
		Message:        "   ",
	})
	require.ErrorIs(t, err, ErrInvalidPayload)
}

func TestSendMessageScheduledSkipsFanOut(t *testing.T) {
	f := newMessagingFixture(t)
	sender := models.Principal{ID: 1, Kind: models.PrincipalCoach}
	member := models.Principal{ID: 2, Kind: models.PrincipalUser}
	conversation := f.groupWith(t, sender, member)

	at := time.Now().Add(time.Hour)
	resp, err := f.svc.SendMessage(context.Background(), sender, dto.MessageSendRequest{
		ConversationID: conversation.ID,
		Message:        "reminder: weigh-in tomorrow",
		ScheduledAt:    &at,
	})
	require.NoError(t, err)
	require.True(t, resp.Message.IsScheduled)
	require.Nil(t, resp.Message.DeliveredAt)

	require.Empty(t, f.events.events)
	require.Empty(t, f.notifier.jobs)

	// Not visible and not advancing the conversation clock until delivery.
	visible, err := f.messages.ListForConversation(context.Background(), conversation.ID, 10, 0, nil)
	require.NoError(t, err)
	require.Empty(t, visible)

	updated, err := f.conversations.Get(context.Background(), conversation.ID)
	require.NoError(t, err)
	require.Nil(t, updated.LastMessageAt)
}

func TestEditMessageSenderOnly(t *testing.T) {
	f := newMessagingFixture(t)
	sender := models.Principal{ID: 1, Kind: models.PrincipalUser}
	member := models.Principal{ID: 2, Kind: models.PrincipalUser}
	conversation := f.groupWith(t, sender, member)

	sent, err := f.svc.SendMessage(context.Background(), sender, dto.MessageSendRequest{
		ConversationID: conversation.ID,
		Message:        "draft",
	})
	require.NoError(t, err)

	_, err = f.svc.EditMessage(context.Background(), member, sent.Message.ID, dto.MessageEditRequest{Message: "hijack"})
	require.ErrorIs(t, err, ErrForbidden)

	edited, err := f.svc.EditMessage(context.Background(), sender, sent.Message.ID, dto.MessageEditRequest{Message: "final"})
	require.NoError(t, err)
	require.True(t, edited.IsEdited)
	require.Equal(t, "final", edited.Message)

	edits, err := f.messages.ListEdits(context.Background(), sent.Message.ID)
	require.NoError(t, err)
	require.Len(t, edits, 1)
	require.Equal(t, "draft", edits[0].OriginalContent)

	require.Len(t, f.events.byType(realtime.EventMessageEdited), 1)
}

func TestDeletedMessageStaysReportable(t *testing.T) {
	f := newMessagingFixture(t)
	sender := models.Principal{ID: 1, Kind: models.PrincipalUser}
	member := models.Principal{ID: 2, Kind: models.PrincipalUser}
	conversation := f.groupWith(t, sender, member)

	sent, err := f.svc.SendMessage(context.Background(), sender, dto.MessageSendRequest{
		ConversationID: conversation.ID,
		Message:        "offensive",
	})
	require.NoError(t, err)

	require.ErrorIs(t, f.svc.DeleteMessage(context.Background(), member, sent.Message.ID), ErrForbidden)
	require.NoError(t, f.svc.DeleteMessage(context.Background(), sender, sent.Message.ID))

	// Gone for regular interactions.
	err = f.svc.AddReaction(context.Background(), member, sent.Message.ID, dto.ReactionRequest{Reaction: "👍"})
	require.ErrorIs(t, err, ErrNotFound)

	// Still reportable: the audit trail keeps accumulating.
	err = f.svc.ReportMessage(context.Background(), member, sent.Message.ID, dto.ReportRequest{
		FlagType: "harassment",
		Reason:   "targeted insult",
	})
	require.NoError(t, err)

	flags, err := f.messages.ListFlags(context.Background(), sent.Message.ID)
	require.NoError(t, err)
	require.Len(t, flags, 1)
	require.Equal(t, "harassment", flags[0].FlagType)
	require.Equal(t, "report", flags[0].Source)
	require.NotNil(t, flags[0].FlaggedByID)
	require.Equal(t, member.ID, *flags[0].FlaggedByID)
}

func TestTogglePinByAnyParticipant(t *testing.T) {
	f := newMessagingFixture(t)
	sender := models.Principal{ID: 1, Kind: models.PrincipalCoach}
	member := models.Principal{ID: 2, Kind: models.PrincipalUser}
	outsider := models.Principal{ID: 3, Kind: models.PrincipalUser}
	conversation := f.groupWith(t, sender, member)

	sent, err := f.svc.SendMessage(context.Background(), sender, dto.MessageSendRequest{
		ConversationID: conversation.ID,
		Message:        "pinned plan",
	})
	require.NoError(t, err)

	_, err = f.svc.TogglePin(context.Background(), outsider, sent.Message.ID)
	require.ErrorIs(t, err, ErrForbidden)

	pinned, err := f.svc.TogglePin(context.Background(), member, sent.Message.ID)
	require.NoError(t, err)
	require.True(t, pinned.IsPinned)

	unpinned, err := f.svc.TogglePin(context.Background(), member, sent.Message.ID)
	require.NoError(t, err)
	require.False(t, unpinned.IsPinned)
}

func TestReactionIsIdempotent(t *testing.T) {
	f := newMessagingFixture(t)
	sender := models.Principal{ID: 1, Kind: models.PrincipalUser}
	member := models.Principal{ID: 2, Kind: models.PrincipalUser}
	conversation := f.groupWith(t, sender, member)

	sent, err := f.svc.SendMessage(context.Background(), sender, dto.MessageSendRequest{
		ConversationID: conversation.ID,
		Message:        "nice lift",
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.AddReaction(context.Background(), member, sent.Message.ID, dto.ReactionRequest{Reaction: "💪"}))
	require.NoError(t, f.svc.AddReaction(context.Background(), member, sent.Message.ID, dto.ReactionRequest{Reaction: "💪"}))

	var total int64
	require.NoError(t, f.db.Model(&models.MessageReaction{}).
		Where("message_id = ?", sent.Message.ID).Count(&total).Error)
	require.Equal(t, int64(1), total)
}

func TestListMessagesFormerMemberWindow(t *testing.T) {
	f := newMessagingFixture(t)
	creator := models.Principal{ID: 1, Kind: models.PrincipalCoach}
	member := models.Principal{ID: 2, Kind: models.PrincipalUser}
	stranger := models.Principal{ID: 3, Kind: models.PrincipalUser}
	conversation := f.groupWith(t, creator, member)

	now := time.Now().UTC()
	before := now.Add(-time.Hour)
	after := now.Add(time.Hour)

	early := models.Message{
		ConversationID: conversation.ID,
		SenderID:       creator.ID,
		SenderKind:     creator.Kind,
		Content:        "before leaving",
		Type:           models.MessageTypeText,
		DeliveredAt:    &before,
		CreatedAt:      before,
	}
	require.NoError(t, f.messages.Create(context.Background(), &early))

	require.NoError(t, f.conversations.Leave(context.Background(), conversation.ID, member))

	late := models.Message{
		ConversationID: conversation.ID,
		SenderID:       creator.ID,
		SenderKind:     creator.Kind,
		Content:        "after leaving",
		Type:           models.MessageTypeText,
		DeliveredAt:    &after,
		CreatedAt:      after,
	}
	require.NoError(t, f.messages.Create(context.Background(), &late))

	// A former member keeps the window up to their departure.
	page, err := f.svc.ListMessages(context.Background(), member, conversation.ID, dto.MessageListQuery{})
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, early.ID, page[0].ID)

	// Someone who never belonged sees nothing.
	_, err = f.svc.ListMessages(context.Background(), stranger, conversation.ID, dto.MessageListQuery{})
	require.ErrorIs(t, err, ErrForbidden)
}

func TestAuditMessageAdminOnly(t *testing.T) {
	f := newMessagingFixture(t)
	sender := models.Principal{ID: 1, Kind: models.PrincipalUser}
	admin := models.Principal{ID: 50, Kind: models.PrincipalAdmin}
	conversation := f.groupWith(t, sender)

	sent, err := f.svc.SendMessage(context.Background(), sender, dto.MessageSendRequest{
		ConversationID: conversation.ID,
		Message:        "original",
	})
	require.NoError(t, err)

	_, err = f.svc.EditMessage(context.Background(), sender, sent.Message.ID, dto.MessageEditRequest{Message: "revised"})
	require.NoError(t, err)
	require.NoError(t, f.svc.DeleteMessage(context.Background(), sender, sent.Message.ID))

	_, err = f.svc.AuditMessage(context.Background(), sender, sent.Message.ID)
	require.ErrorIs(t, err, ErrForbidden)

	audit, err := f.svc.AuditMessage(context.Background(), admin, sent.Message.ID)
	require.NoError(t, err)
	require.True(t, audit.IsDeleted)
	require.Len(t, audit.Edits, 1)
	require.Equal(t, "original", audit.Edits[0].OriginalContent)
}
