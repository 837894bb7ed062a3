package service

import (
	"context"
	"testing"

	"mahilo/internal/models"
	"mahilo/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newContextService(t *testing.T, db *gorm.DB) *ContextService {
	t.Helper()
	return NewContextService(
		repository.NewUserRepository(db),
		repository.NewFriendRepository(db),
		repository.NewMessageRepository(db),
		newEngine(t, db),
	)
}

func TestContextService_NonFriendsReadAsNotFound(t *testing.T) {
	db := newTestDB(t)
	svc := newContextService(t, db)
	ctx := context.Background()

	alice := seedUser(t, db, "alice")
	seedUser(t, db, "bob")

	_, err := svc.ForRecipient(ctx, alice, "bob")
	require.Error(t, err)
	assert.Equal(t, models.CodeNotFound, err.(*models.AppError).Code)
}

func TestContextService_SnapshotContents(t *testing.T) {
	db := newTestDB(t)
	svc := newContextService(t, db)
	ctx := context.Background()

	alice := seedUser(t, db, "alice")
	bob := seedUser(t, db, "bob")
	f := seedFriendship(t, db, alice, bob, models.FriendshipStatusAccepted)

	friends := repository.NewFriendRepository(db)
	require.NoError(t, friends.AssignRole(ctx, f.ID, "work_contacts"))

	seedPolicy(t, db, alice.ID, models.PolicyScopeGlobal, nil, models.PolicyTypeHeuristic,
		`{"maxLength": 100}`, 5)

	msgs := repository.NewMessageRepository(db)
	plain := &models.Message{
		SenderUserID: alice.ID, RecipientType: models.RecipientTypeUser, RecipientID: bob.ID,
		Payload: "visible", PayloadType: models.PayloadTypeDefault, Status: models.MessageStatusDelivered,
	}
	require.NoError(t, msgs.Create(ctx, plain))
	sealed := &models.Message{
		SenderUserID: bob.ID, RecipientType: models.RecipientTypeUser, RecipientID: alice.ID,
		Payload: "opaque bytes", PayloadType: models.PayloadTypeCiphertext, Status: models.MessageStatusDelivered,
	}
	require.NoError(t, msgs.Create(ctx, sealed))

	snapshot, err := svc.ForRecipient(ctx, alice, "bob")
	require.NoError(t, err)

	assert.Equal(t, "bob", snapshot.Recipient.Username)
	assert.Equal(t, "friend", snapshot.Recipient.Relationship)
	assert.Equal(t, f.ID, snapshot.Recipient.FriendshipID)
	assert.Equal(t, []string{"work_contacts"}, snapshot.Recipient.Roles)
	assert.Equal(t, int64(2), snapshot.Recipient.InteractionCount)

	require.Len(t, snapshot.ApplicablePolicies, 1)
	assert.Contains(t, snapshot.ApplicablePolicies[0].Summary, "max length 100")
	assert.Contains(t, snapshot.Summary, "bob")
	assert.Contains(t, snapshot.Summary, "max length 100")
	assert.False(t, snapshot.EvaluationsSkipped)

	// Ciphertext payloads never appear in the preview.
	require.Len(t, snapshot.RecentInteractions, 2)
	for _, m := range snapshot.RecentInteractions {
		if m.PayloadType == models.PayloadTypeCiphertext {
			assert.Empty(t, m.Payload)
		} else {
			assert.Equal(t, "visible", m.Payload)
		}
	}
}

func TestContextService_EnrichHistoryAddsReplyPolicies(t *testing.T) {
	db := newTestDB(t)
	svc := newContextService(t, db)
	ctx := context.Background()

	alice := seedUser(t, db, "alice")
	bob := seedUser(t, db, "bob")
	seedFriendship(t, db, alice, bob, models.FriendshipStatusAccepted)

	// alice's reply to bob runs through her own outbound funnel.
	seedPolicy(t, db, alice.ID, models.PolicyScopeGlobal, nil, models.PolicyTypeHeuristic,
		`{"requireContext": true}`, 0)

	msgs := repository.NewMessageRepository(db)
	sent := &models.Message{
		SenderUserID: alice.ID, RecipientType: models.RecipientTypeUser, RecipientID: bob.ID,
		Payload: "ping", PayloadType: models.PayloadTypeDefault, Status: models.MessageStatusDelivered,
	}
	require.NoError(t, msgs.Create(ctx, sent))
	received := &models.Message{
		SenderUserID: bob.ID, RecipientType: models.RecipientTypeUser, RecipientID: alice.ID,
		Payload: "pong", PayloadType: models.PayloadTypeDefault, Status: models.MessageStatusDelivered,
	}
	require.NoError(t, msgs.Create(ctx, received))

	history, err := msgs.History(ctx, alice.ID, repository.HistoryDirectionBoth, nil, 10)
	require.NoError(t, err)
	entries, err := svc.EnrichHistory(ctx, alice, history)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	for _, e := range entries {
		if e.SenderUserID == alice.ID {
			assert.Nil(t, e.ReplyPolicies, "sent rows carry no reply preview")
			continue
		}
		require.NotNil(t, e.ReplyPolicies)
		require.Len(t, e.ReplyPolicies.Policies, 1)
		assert.Contains(t, e.ReplyPolicies.Summary, "bob")
	}
}
