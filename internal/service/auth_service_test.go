package service

import (
	"context"
	"strings"
	"testing"

	"mahilo/internal/models"
	"mahilo/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMintAPIKey_Format(t *testing.T) {
	key, keyID, hash, err := MintAPIKey()
	require.NoError(t, err)

	parts := strings.Split(key, "_")
	require.Len(t, parts, 3)
	assert.Equal(t, "mh", parts[0])
	assert.Equal(t, keyID, parts[1])
	assert.Len(t, parts[1], 12)
	assert.Len(t, parts[2], 32)
	assert.NotContains(t, hash, parts[2], "hash must not embed the secret")
}

func TestAuthService_RegisterAndVerify(t *testing.T) {
	db := newTestDB(t)
	svc := NewAuthService(repository.NewUserRepository(db))
	ctx := context.Background()

	result, err := svc.Register(ctx, "Alice_Agent", "Alice")
	require.NoError(t, err)
	assert.Equal(t, "alice_agent", result.User.Username)
	assert.True(t, strings.HasPrefix(result.APIKey, "mh_"))

	user, err := svc.VerifyAPIKey(ctx, result.APIKey)
	require.NoError(t, err)
	assert.Equal(t, result.User.ID, user.ID)
}

func TestAuthService_VerifyFailuresAreOpaque(t *testing.T) {
	db := newTestDB(t)
	svc := NewAuthService(repository.NewUserRepository(db))
	ctx := context.Background()

	result, err := svc.Register(ctx, "alice", "")
	require.NoError(t, err)

	parts := strings.Split(result.APIKey, "_")
	wrongSecret := parts[0] + "_" + parts[1] + "_" + strings.Repeat("0", 32)

	for _, presented := range []string{
		"",
		"garbage",
		"mh_onlytwo",
		"mh_unknownkeyid_" + strings.Repeat("0", 32),
		wrongSecret,
	} {
		_, err := svc.VerifyAPIKey(ctx, presented)
		assert.Same(t, ErrInvalidAPIKey, err, "presented=%q", presented)
	}
}

func TestAuthService_RotateInvalidatesOldKey(t *testing.T) {
	db := newTestDB(t)
	svc := NewAuthService(repository.NewUserRepository(db))
	ctx := context.Background()

	result, err := svc.Register(ctx, "alice", "")
	require.NoError(t, err)

	newKey, err := svc.RotateAPIKey(ctx, result.User.ID)
	require.NoError(t, err)
	assert.NotEqual(t, result.APIKey, newKey)

	_, err = svc.VerifyAPIKey(ctx, result.APIKey)
	assert.Error(t, err)

	user, err := svc.VerifyAPIKey(ctx, newKey)
	require.NoError(t, err)
	assert.Equal(t, result.User.ID, user.ID)
}

func TestAuthService_TwitterVerification(t *testing.T) {
	db := newTestDB(t)
	svc := NewAuthService(repository.NewUserRepository(db))
	ctx := context.Background()

	result, err := svc.Register(ctx, "alice", "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(result.VerificationCode, "mahilo-"))
	assert.Contains(t, result.VerificationTweet, result.VerificationCode)

	status, err := svc.GetVerificationStatus(ctx, result.User.ID)
	require.NoError(t, err)
	assert.False(t, status.Verified)
	assert.Equal(t, result.VerificationCode, status.VerificationCode)

	user, err := svc.VerifyTwitter(ctx, result.User.ID, "@alice_agent")
	require.NoError(t, err)
	assert.True(t, user.TwitterVerified)
	assert.Equal(t, "alice_agent", user.TwitterHandle)

	// Once verified, the status stops exposing the code.
	status, err = svc.GetVerificationStatus(ctx, result.User.ID)
	require.NoError(t, err)
	assert.True(t, status.Verified)
	assert.Empty(t, status.VerificationCode)

	_, err = svc.VerifyTwitter(ctx, result.User.ID, "alice_agent")
	require.Error(t, err)
	assert.Equal(t, models.CodeConflict, err.(*models.AppError).Code)

	_, err = svc.VerifyTwitter(ctx, "no-such-user", "x")
	require.Error(t, err)
	assert.Equal(t, models.CodeNotFound, err.(*models.AppError).Code)
}

func TestAuthService_RegisterRejectsBadUsernames(t *testing.T) {
	db := newTestDB(t)
	svc := NewAuthService(repository.NewUserRepository(db))

	_, err := svc.Register(context.Background(), "no spaces", "")
	assert.Error(t, err)
}
