package repository

import (
	"context"
	"testing"

	"mahilo/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserRepository_CreateLowercasesAndRejectsDuplicates(t *testing.T) {
	db := newTestDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	user := &models.User{Username: "Alice", APIKeyID: "k1", APIKeyHash: "h1"}
	require.NoError(t, repo.Create(ctx, user))
	assert.Equal(t, "alice", user.Username)
	assert.NotEmpty(t, user.ID)

	dup := &models.User{Username: "ALICE", APIKeyID: "k2", APIKeyHash: "h2"}
	err := repo.Create(ctx, dup)
	require.Error(t, err)
	appErr, ok := err.(*models.AppError)
	require.True(t, ok)
	assert.Equal(t, models.CodeConflict, appErr.Code)
}

func TestUserRepository_GetByUsernameCaseInsensitive(t *testing.T) {
	db := newTestDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	mustCreateUser(t, db, "bob")

	found, err := repo.GetByUsername(ctx, "BOB")
	require.NoError(t, err)
	assert.Equal(t, "bob", found.Username)

	_, err = repo.GetByUsername(ctx, "nobody")
	require.Error(t, err)
	assert.Equal(t, models.CodeNotFound, err.(*models.AppError).Code)
}

func TestUserRepository_UpdateAPIKeyInvalidatesOldKeyID(t *testing.T) {
	db := newTestDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	user := mustCreateUser(t, db, "carol")
	require.NoError(t, repo.UpdateAPIKey(ctx, user.ID, "newkid", "newhash"))

	_, err := repo.GetByAPIKeyID(ctx, "kid-carol")
	assert.Error(t, err)

	found, err := repo.GetByAPIKeyID(ctx, "newkid")
	require.NoError(t, err)
	assert.Equal(t, "newhash", found.APIKeyHash)
}

func TestUserRepository_Preferences(t *testing.T) {
	db := newTestDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	user := mustCreateUser(t, db, "dave")

	_, err := repo.GetPreferences(ctx, user.ID)
	require.Error(t, err)

	prefs := &models.UserPreferences{
		UserID:                user.ID,
		NotifyMessageReceived: true,
		DefaultLLMModel:       "claude-sonnet",
	}
	require.NoError(t, repo.SavePreferences(ctx, prefs))

	got, err := repo.GetPreferences(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet", got.DefaultLLMModel)
}
