package repository

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/fitversal/messaging-api/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.MessagingModels()...))
	return db
}

func TestFindOrCreatePrivateIdempotent(t *testing.T) {
	db := setupTestDB(t)
	repo := NewConversationRepository(db)

	alice := models.Principal{ID: 1, Kind: models.PrincipalUser}
	carol := models.Principal{ID: 2, Kind: models.PrincipalCoach}

	first, created, err := repo.FindOrCreatePrivate(context.Background(), alice, carol)
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, models.ConversationPrivate, first.Type)
	require.Len(t, first.Participants, 2)

	// Resolving the pair in the opposite order lands on the same row.
	second, created, err := repo.FindOrCreatePrivate(context.Background(), carol, alice)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.ID, second.ID)

	var total int64
	require.NoError(t, db.Model(&models.Conversation{}).Count(&total).Error)
	require.Equal(t, int64(1), total)
}

func TestFindOrCreatePrivateReactivatesAfterLeave(t *testing.T) {
	db := setupTestDB(t)
	repo := NewConversationRepository(db)

	alice := models.Principal{ID: 1, Kind: models.PrincipalUser}
	carol := models.Principal{ID: 5, Kind: models.PrincipalCoach}

	conversation, _, err := repo.FindOrCreatePrivate(context.Background(), alice, carol)
	require.NoError(t, err)
	require.NoError(t, repo.Leave(context.Background(), conversation.ID, alice))

	active, err := repo.HasParticipant(context.Background(), conversation.ID, alice)
	require.NoError(t, err)
	require.False(t, active)

	// Contacting the same partner again resumes the existing thread with an
	// active membership, from either side of the pair.
	resumed, created, err := repo.FindOrCreatePrivate(context.Background(), carol, alice)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, conversation.ID, resumed.ID)

	active, err = repo.HasParticipant(context.Background(), conversation.ID, alice)
	require.NoError(t, err)
	require.True(t, active)

	active, err = repo.HasParticipant(context.Background(), conversation.ID, carol)
	require.NoError(t, err)
	require.True(t, active)

	var total int64
	require.NoError(t, db.Model(&models.Conversation{}).Count(&total).Error)
	require.Equal(t, int64(1), total)
}

func TestPrivatePairKeyOrderIndependent(t *testing.T) {
	a := models.Principal{ID: 7, Kind: models.PrincipalUser}
	b := models.Principal{ID: 3, Kind: models.PrincipalCoach}
	require.Equal(t, PrivatePairKey(a, b), PrivatePairKey(b, a))
}

func TestLeaveAndRejoinLifecycle(t *testing.T) {
	db := setupTestDB(t)
	repo := NewConversationRepository(db)

	creator := models.Principal{ID: 1, Kind: models.PrincipalCoach}
	member := models.Principal{ID: 2, Kind: models.PrincipalUser}

	conversation, err := repo.CreateGroup(context.Background(), creator, "Morning Crew", "", []models.Principal{member})
	require.NoError(t, err)

	active, err := repo.HasParticipant(context.Background(), conversation.ID, member)
	require.NoError(t, err)
	require.True(t, active)

	require.NoError(t, repo.Leave(context.Background(), conversation.ID, member))

	active, err = repo.HasParticipant(context.Background(), conversation.ID, member)
	require.NoError(t, err)
	require.False(t, active)

	membership, err := repo.Membership(context.Background(), conversation.ID, member)
	require.NoError(t, err)
	require.NotNil(t, membership.LeftAt)

	// Rejoining creates a fresh active row with a new joined_at.
	rejoined, err := repo.AddParticipant(context.Background(), conversation.ID, member, false)
	require.NoError(t, err)
	require.Nil(t, rejoined.LeftAt)
	require.NotEqual(t, membership.ID, rejoined.ID)

	active, err = repo.HasParticipant(context.Background(), conversation.ID, member)
	require.NoError(t, err)
	require.True(t, active)
}

func TestLeaveWithoutMembership(t *testing.T) {
	db := setupTestDB(t)
	repo := NewConversationRepository(db)

	creator := models.Principal{ID: 1, Kind: models.PrincipalCoach}
	stranger := models.Principal{ID: 9, Kind: models.PrincipalUser}

	conversation, err := repo.CreateGroup(context.Background(), creator, "Crew", "", nil)
	require.NoError(t, err)

	err = repo.Leave(context.Background(), conversation.ID, stranger)
	require.ErrorIs(t, err, ErrNotAMember)
}

func TestAddParticipantAlreadyActiveIsNoOp(t *testing.T) {
	db := setupTestDB(t)
	repo := NewConversationRepository(db)

	creator := models.Principal{ID: 1, Kind: models.PrincipalCoach}
	conversation, err := repo.CreateGroup(context.Background(), creator, "Crew", "", nil)
	require.NoError(t, err)

	again, err := repo.AddParticipant(context.Background(), conversation.ID, creator, false)
	require.NoError(t, err)
	require.Nil(t, again.LeftAt)

	var total int64
	require.NoError(t, db.Model(&models.ConversationParticipant{}).
		Where("conversation_id = ?", conversation.ID).Count(&total).Error)
	require.Equal(t, int64(1), total)
}

func TestCreateOrganizationChatIdempotent(t *testing.T) {
	db := setupTestDB(t)
	repo := NewConversationRepository(db)

	admin := models.Principal{ID: 1, Kind: models.PrincipalAdmin}

	first, created, err := repo.CreateOrganizationChat(context.Background(), admin, 42, "HQ", "")
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, models.ConversationOrganization, first.Type)

	second, created, err := repo.CreateOrganizationChat(context.Background(), admin, 42, "Renamed", "")
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, "HQ", second.Name)
}

func TestMarkReadRequiresActiveMembership(t *testing.T) {
	db := setupTestDB(t)
	repo := NewConversationRepository(db)

	creator := models.Principal{ID: 1, Kind: models.PrincipalCoach}
	member := models.Principal{ID: 2, Kind: models.PrincipalUser}

	conversation, err := repo.CreateGroup(context.Background(), creator, "Crew", "", []models.Principal{member})
	require.NoError(t, err)

	readAt := time.Now().UTC()
	require.NoError(t, repo.MarkRead(context.Background(), conversation.ID, member, readAt))

	membership, err := repo.Membership(context.Background(), conversation.ID, member)
	require.NoError(t, err)
	require.NotNil(t, membership.LastReadAt)

	require.NoError(t, repo.Leave(context.Background(), conversation.ID, member))
	err = repo.MarkRead(context.Background(), conversation.ID, member, readAt)
	require.ErrorIs(t, err, ErrNotAMember)
}

func TestListForPrincipalOrdersByActivity(t *testing.T) {
	db := setupTestDB(t)
	repo := NewConversationRepository(db)

	member := models.Principal{ID: 1, Kind: models.PrincipalUser}

	stale, err := repo.CreateGroup(context.Background(), member, "Stale", "", nil)
	require.NoError(t, err)
	busy, err := repo.CreateGroup(context.Background(), member, "Busy", "", nil)
	require.NoError(t, err)

	require.NoError(t, repo.TouchLastMessage(context.Background(), stale.ID, time.Now().Add(-time.Hour)))
	require.NoError(t, repo.TouchLastMessage(context.Background(), busy.ID, time.Now()))

	conversations, total, err := repo.ListForPrincipal(context.Background(), member, 1, 10)
	require.NoError(t, err)
	require.Equal(t, int64(2), total)
	require.Len(t, conversations, 2)
	require.Equal(t, busy.ID, conversations[0].ID)

	// A conversation left no longer shows up.
	require.NoError(t, repo.Leave(context.Background(), stale.ID, member))
	conversations, total, err = repo.ListForPrincipal(context.Background(), member, 1, 10)
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	require.Equal(t, busy.ID, conversations[0].ID)
}
