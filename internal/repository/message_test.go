package repository

import (
	"context"
	"testing"
	"time"

	"mahilo/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMessage(sender, recipient string) *models.Message {
	return &models.Message{
		SenderUserID:  sender,
		RecipientType: models.RecipientTypeUser,
		RecipientID:   recipient,
		Payload:       "hello",
		PayloadType:   models.PayloadTypeDefault,
		Status:        models.MessageStatusPending,
	}
}

func TestMessageRepository_IdempotencyKeyUniquePerSender(t *testing.T) {
	db := newTestDB(t)
	repo := NewMessageRepository(db)
	ctx := context.Background()

	alice := mustCreateUser(t, db, "alice")
	bob := mustCreateUser(t, db, "bob")

	key := "req-001"
	first := newMessage(alice.ID, bob.ID)
	first.IdempotencyKey = &key
	require.NoError(t, repo.Create(ctx, first))

	dup := newMessage(alice.ID, bob.ID)
	dup.IdempotencyKey = &key
	err := repo.Create(ctx, dup)
	require.Error(t, err)
	assert.Equal(t, models.CodeConflict, err.(*models.AppError).Code)

	// Same key from a different sender is a different request.
	other := newMessage(bob.ID, alice.ID)
	other.IdempotencyKey = &key
	require.NoError(t, repo.Create(ctx, other))

	found, err := repo.GetByIdempotencyKey(ctx, alice.ID, key)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, first.ID, found.ID)
}

func TestMessageRepository_KeylessMessagesDoNotCollide(t *testing.T) {
	db := newTestDB(t)
	repo := NewMessageRepository(db)
	ctx := context.Background()

	alice := mustCreateUser(t, db, "alice")
	bob := mustCreateUser(t, db, "bob")

	require.NoError(t, repo.Create(ctx, newMessage(alice.ID, bob.ID)))
	require.NoError(t, repo.Create(ctx, newMessage(alice.ID, bob.ID)))
}

func TestMessageRepository_StatusTransitions(t *testing.T) {
	db := newTestDB(t)
	repo := NewMessageRepository(db)
	ctx := context.Background()

	alice := mustCreateUser(t, db, "alice")
	bob := mustCreateUser(t, db, "bob")

	msg := newMessage(alice.ID, bob.ID)
	require.NoError(t, repo.Create(ctx, msg))

	require.NoError(t, repo.IncrementRetry(ctx, msg.ID))
	require.NoError(t, repo.IncrementRetry(ctx, msg.ID))

	got, err := repo.GetByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.RetryCount)
	assert.Equal(t, models.MessageStatusPending, got.Status)

	now := time.Now().UTC()
	require.NoError(t, repo.MarkDelivered(ctx, msg.ID, now))
	got, err = repo.GetByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusDelivered, got.Status)
	require.NotNil(t, got.DeliveredAt)
}

func TestMessageRepository_History(t *testing.T) {
	db := newTestDB(t)
	repo := NewMessageRepository(db)
	ctx := context.Background()

	alice := mustCreateUser(t, db, "alice")
	bob := mustCreateUser(t, db, "bob")
	carol := mustCreateUser(t, db, "carol")

	require.NoError(t, repo.Create(ctx, newMessage(alice.ID, bob.ID)))
	require.NoError(t, repo.Create(ctx, newMessage(bob.ID, alice.ID)))
	require.NoError(t, repo.Create(ctx, newMessage(bob.ID, carol.ID)))

	sent, err := repo.History(ctx, alice.ID, HistoryDirectionSent, nil, 50)
	require.NoError(t, err)
	assert.Len(t, sent, 1)

	received, err := repo.History(ctx, alice.ID, HistoryDirectionReceived, nil, 50)
	require.NoError(t, err)
	assert.Len(t, received, 1)

	both, err := repo.History(ctx, alice.ID, HistoryDirectionBoth, nil, 50)
	require.NoError(t, err)
	assert.Len(t, both, 2)

	// carol only ever received.
	carolBoth, err := repo.History(ctx, carol.ID, HistoryDirectionBoth, nil, 50)
	require.NoError(t, err)
	assert.Len(t, carolBoth, 1)
}

func TestMessageRepository_RecentBetween(t *testing.T) {
	db := newTestDB(t)
	repo := NewMessageRepository(db)
	ctx := context.Background()

	alice := mustCreateUser(t, db, "alice")
	bob := mustCreateUser(t, db, "bob")
	carol := mustCreateUser(t, db, "carol")

	for i := 0; i < 7; i++ {
		require.NoError(t, repo.Create(ctx, newMessage(alice.ID, bob.ID)))
	}
	require.NoError(t, repo.Create(ctx, newMessage(alice.ID, carol.ID)))

	recent, err := repo.RecentBetween(ctx, bob.ID, alice.ID, 5)
	require.NoError(t, err)
	assert.Len(t, recent, 5)

	total, err := repo.CountBetween(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(7), total)
}

func TestMessageRepository_DeliveryUniquePerConnection(t *testing.T) {
	db := newTestDB(t)
	repo := NewMessageRepository(db)
	ctx := context.Background()

	alice := mustCreateUser(t, db, "alice")
	bob := mustCreateUser(t, db, "bob")

	msg := newMessage(alice.ID, bob.ID)
	msg.RecipientType = models.RecipientTypeGroup
	require.NoError(t, repo.Create(ctx, msg))

	connID := "conn-1"
	require.NoError(t, repo.CreateDelivery(ctx, &models.MessageDelivery{
		MessageID: msg.ID, RecipientUserID: bob.ID, RecipientConnectionID: &connID,
	}))
	err := repo.CreateDelivery(ctx, &models.MessageDelivery{
		MessageID: msg.ID, RecipientUserID: bob.ID, RecipientConnectionID: &connID,
	})
	require.Error(t, err)
	assert.Equal(t, models.CodeConflict, err.(*models.AppError).Code)
}

func TestMessageRepository_PendingScansRespectRetryBounds(t *testing.T) {
	db := newTestDB(t)
	repo := NewMessageRepository(db)
	ctx := context.Background()

	alice := mustCreateUser(t, db, "alice")
	bob := mustCreateUser(t, db, "bob")

	fresh := newMessage(alice.ID, bob.ID) // retry_count 0: first attempt in flight
	require.NoError(t, repo.Create(ctx, fresh))

	retrying := newMessage(alice.ID, bob.ID)
	require.NoError(t, repo.Create(ctx, retrying))
	require.NoError(t, repo.IncrementRetry(ctx, retrying.ID))

	exhausted := newMessage(alice.ID, bob.ID)
	require.NoError(t, repo.Create(ctx, exhausted))
	for i := 0; i < 6; i++ {
		require.NoError(t, repo.IncrementRetry(ctx, exhausted.ID))
	}

	staleBefore := time.Now().UTC().Add(-5 * time.Second)
	pending, err := repo.ListPendingUserMessages(ctx, 5, staleBefore)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, retrying.ID, pending[0].ID)

	// An orphaned first attempt becomes visible once older than the cutoff.
	require.NoError(t, db.Model(&models.Message{}).Where("id = ?", fresh.ID).
		UpdateColumn("updated_at", time.Now().UTC().Add(-time.Minute)).Error)
	pending, err = repo.ListPendingUserMessages(ctx, 5, staleBefore)
	require.NoError(t, err)
	require.Len(t, pending, 2)
}
