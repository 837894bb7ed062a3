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

func newFriendService(t *testing.T, db *gorm.DB) (*FriendService, *fakeNotifier) {
	t.Helper()
	roles := repository.NewRoleRepository(db)
	require.NoError(t, roles.EnsureSystemRoles(context.Background()))
	notifier := &fakeNotifier{}
	svc := NewFriendService(
		repository.NewFriendRepository(db),
		repository.NewUserRepository(db),
		roles,
		notifier,
	)
	return svc, notifier
}

func TestFriendService_RequestAndAccept(t *testing.T) {
	db := newTestDB(t)
	svc, notifier := newFriendService(t, db)
	ctx := context.Background()

	alice := seedUser(t, db, "alice")
	bob := seedUser(t, db, "bob")

	friendship, err := svc.SendRequest(ctx, alice.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, models.FriendshipStatusPending, friendship.Status)
	require.Len(t, notifier.forUser(bob.ID), 1)

	// Only the addressee can accept.
	_, err = svc.Accept(ctx, alice.ID, friendship.ID)
	assert.Error(t, err)

	accepted, err := svc.Accept(ctx, bob.ID, friendship.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FriendshipStatusAccepted, accepted.Status)
}

func TestFriendService_ReversePendingAutoAccepts(t *testing.T) {
	db := newTestDB(t)
	svc, _ := newFriendService(t, db)
	ctx := context.Background()

	alice := seedUser(t, db, "alice")
	seedUser(t, db, "bob")

	_, err := svc.SendRequest(ctx, alice.ID, "bob")
	require.NoError(t, err)

	bob, err := repository.NewUserRepository(db).GetByUsername(ctx, "bob")
	require.NoError(t, err)

	// Bob asking Alice back is mutual consent.
	friendship, err := svc.SendRequest(ctx, bob.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.FriendshipStatusAccepted, friendship.Status)
}

func TestFriendService_DuplicateAndSelfRequests(t *testing.T) {
	db := newTestDB(t)
	svc, _ := newFriendService(t, db)
	ctx := context.Background()

	alice := seedUser(t, db, "alice")
	bob := seedUser(t, db, "bob")

	_, err := svc.SendRequest(ctx, alice.ID, "alice")
	assert.Error(t, err, "self friending")

	_, err = svc.SendRequest(ctx, alice.ID, "bob")
	require.NoError(t, err)

	_, err = svc.SendRequest(ctx, alice.ID, "bob")
	require.Error(t, err)
	assert.Equal(t, models.CodeConflict, err.(*models.AppError).Code)

	f, err := repository.NewFriendRepository(db).GetFriendshipBetweenUsers(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	require.NoError(t, repository.NewFriendRepository(db).UpdateStatus(ctx, f.ID, models.FriendshipStatusAccepted))

	_, err = svc.SendRequest(ctx, alice.ID, "bob")
	require.Error(t, err)
	assert.Equal(t, models.CodeConflict, err.(*models.AppError).Code)
}

func TestFriendService_BlockedIsHardStop(t *testing.T) {
	db := newTestDB(t)
	svc, _ := newFriendService(t, db)
	ctx := context.Background()

	alice := seedUser(t, db, "alice")
	bob := seedUser(t, db, "bob")

	_, err := svc.Block(ctx, bob.ID, "alice")
	require.NoError(t, err)

	// Neither side can request while blocked, including the blocker.
	_, err = svc.SendRequest(ctx, alice.ID, "bob")
	require.Error(t, err)
	assert.Equal(t, models.CodeForbidden, err.(*models.AppError).Code)

	_, err = svc.SendRequest(ctx, bob.ID, "alice")
	require.Error(t, err)
	assert.Equal(t, models.CodeForbidden, err.(*models.AppError).Code)
}

func TestFriendService_RoleAssignment(t *testing.T) {
	db := newTestDB(t)
	svc, _ := newFriendService(t, db)
	ctx := context.Background()

	alice := seedUser(t, db, "alice")
	bob := seedUser(t, db, "bob")
	f := seedFriendship(t, db, alice, bob, models.FriendshipStatusAccepted)

	require.NoError(t, svc.AssignRole(ctx, alice.ID, f.ID, "close_friends"))
	assert.Error(t, svc.AssignRole(ctx, alice.ID, f.ID, "no_such_role"))

	// Outsiders cannot touch the friendship.
	carol := seedUser(t, db, "carol")
	assert.Error(t, svc.AssignRole(ctx, carol.ID, f.ID, "friends"))

	roles, err := svc.RolesBetween(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"close_friends"}, roles)

	require.NoError(t, svc.RemoveRole(ctx, bob.ID, f.ID, "close_friends"))
	err = svc.RemoveRole(ctx, bob.ID, f.ID, "close_friends")
	assert.Error(t, err, "second removal reports missing assignment")
}
