package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"mahilo/internal/models"
	"mahilo/internal/repository"
	"mahilo/internal/validation"

	"golang.org/x/crypto/bcrypt"
)

const (
	apiKeyPrefix      = "mh"
	apiKeyIDBytes     = 6
	apiKeySecretBytes = 16
)

// ErrInvalidAPIKey is the single opaque failure for every authentication
// problem: malformed key, unknown key id, or wrong secret. Callers must not
// be able to distinguish the cases.
var ErrInvalidAPIKey = models.NewUnauthorizedError("Invalid API key")

// AuthService mints, verifies and rotates API keys and owns registration.
type AuthService struct {
	users repository.UserRepository
}

// NewAuthService creates a new auth service
func NewAuthService(users repository.UserRepository) *AuthService {
	return &AuthService{users: users}
}

// RegisterResult is returned once at registration; the plaintext key is never
// recoverable afterwards. The verification code is repeated on the status
// endpoint until the account is verified.
type RegisterResult struct {
	User              *models.User `json:"user"`
	APIKey            string       `json:"apiKey"`
	VerificationCode  string       `json:"verificationCode"`
	VerificationTweet string       `json:"verificationTweet"`
}

// MintAPIKey generates a fresh key of the form mh_<keyId>_<secret> and the
// bcrypt hash of its secret part. Only the hash and the key id are stored.
func MintAPIKey() (key, keyID, secretHash string, err error) {
	idBuf := make([]byte, apiKeyIDBytes)
	if _, err = rand.Read(idBuf); err != nil {
		return "", "", "", err
	}
	secretBuf := make([]byte, apiKeySecretBytes)
	if _, err = rand.Read(secretBuf); err != nil {
		return "", "", "", err
	}
	keyID = hex.EncodeToString(idBuf)
	secret := hex.EncodeToString(secretBuf)

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", "", "", err
	}
	return fmt.Sprintf("%s_%s_%s", apiKeyPrefix, keyID, secret), keyID, string(hash), nil
}

// Register creates a user and returns the one-time plaintext API key along
// with the social-proof verification code.
func (s *AuthService) Register(ctx context.Context, username, displayName string) (*RegisterResult, error) {
	if err := validation.ValidateUsername(username); err != nil {
		return nil, models.NewValidationError(err.Error())
	}

	key, keyID, hash, err := MintAPIKey()
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	code, err := mintVerificationCode()
	if err != nil {
		return nil, models.NewInternalError(err)
	}

	user := &models.User{
		Username:         username,
		DisplayName:      displayName,
		APIKeyID:         keyID,
		APIKeyHash:       hash,
		VerificationCode: code,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	return &RegisterResult{
		User:              user,
		APIKey:            key,
		VerificationCode:  code,
		VerificationTweet: verificationTweet(username, code),
	}, nil
}

func mintVerificationCode() (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "mahilo-" + hex.EncodeToString(buf), nil
}

func verificationTweet(username, code string) string {
	return fmt.Sprintf("Verifying my agent %q on mahilo: %s", username, code)
}

// VerifyAPIKey resolves a presented key to its owner. All failures collapse
// to ErrInvalidAPIKey.
func (s *AuthService) VerifyAPIKey(ctx context.Context, presented string) (*models.User, error) {
	parts := strings.Split(presented, "_")
	if len(parts) != 3 || parts[0] != apiKeyPrefix || parts[1] == "" || parts[2] == "" {
		return nil, ErrInvalidAPIKey
	}
	keyID, secret := parts[1], parts[2]

	user, err := s.users.GetByAPIKeyID(ctx, keyID)
	if err != nil {
		return nil, ErrInvalidAPIKey
	}
	if bcrypt.CompareHashAndPassword([]byte(user.APIKeyHash), []byte(secret)) != nil {
		return nil, ErrInvalidAPIKey
	}
	return user, nil
}

// RotateAPIKey replaces the caller's key and returns the new plaintext once.
// The old key stops working immediately.
func (s *AuthService) RotateAPIKey(ctx context.Context, userID string) (string, error) {
	key, keyID, hash, err := MintAPIKey()
	if err != nil {
		return "", models.NewInternalError(err)
	}
	if err := s.users.UpdateAPIKey(ctx, userID, keyID, hash); err != nil {
		return "", err
	}
	return key, nil
}

// VerifyTwitter records the claimed handle and marks the account verified.
// The tweet itself is taken on trust; the registry keeps the handle and code
// so the proof stays auditable after the fact.
func (s *AuthService) VerifyTwitter(ctx context.Context, userID, handle string) (*models.User, error) {
	handle = strings.TrimPrefix(strings.TrimSpace(handle), "@")
	if handle == "" {
		return nil, models.NewValidationError("Twitter handle is required")
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.TwitterVerified {
		return nil, models.NewConflictError("Account is already verified")
	}
	user.TwitterHandle = handle
	user.TwitterVerified = true
	if err := s.users.Update(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// VerificationStatus reports whether an account is verified and, until it is,
// the code and tweet text the owner still needs to post.
type VerificationStatus struct {
	UserID            string `json:"userId"`
	Username          string `json:"username"`
	Verified          bool   `json:"verified"`
	TwitterHandle     string `json:"twitterHandle,omitempty"`
	VerificationCode  string `json:"verificationCode,omitempty"`
	VerificationTweet string `json:"verificationTweet,omitempty"`
}

// GetVerificationStatus looks up the verification state for a user id.
func (s *AuthService) GetVerificationStatus(ctx context.Context, userID string) (*VerificationStatus, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	status := &VerificationStatus{
		UserID:        user.ID,
		Username:      user.Username,
		Verified:      user.TwitterVerified,
		TwitterHandle: user.TwitterHandle,
	}
	if !user.TwitterVerified {
		status.VerificationCode = user.VerificationCode
		status.VerificationTweet = verificationTweet(user.Username, user.VerificationCode)
	}
	return status, nil
}
