package service

import (
	"context"
	"sync"
	"testing"

	"mahilo/internal/config"
	"mahilo/internal/database"
	"mahilo/internal/models"
	"mahilo/internal/repository"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.Migrate(db))
	return db
}

func testConfig() *config.Config {
	return &config.Config{
		Port:               "0",
		DBPath:             ":memory:",
		TrustedMode:        true,
		SelfHosted:         true,
		MaxPayloadBytes:    32 * 1024,
		MaxRetries:         5,
		CallbackTimeoutSec: 2,
		PingTimeoutSec:     1,
		RetryIntervalSec:   1,
		RateLimitPerMin:    100,
		LLMTimeoutSec:      1,
	}
}

// fakeNotifier records emitted events for assertions.
type fakeNotifier struct {
	mu     sync.Mutex
	events []models.Event
}

func (f *fakeNotifier) Emit(userID string, eventType models.EventType, data map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, models.Event{Type: eventType, UserID: userID, Data: data})
}

func (f *fakeNotifier) forUser(userID string) []models.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Event
	for _, e := range f.events {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out
}

func seedUser(t *testing.T, db *gorm.DB, username string) *models.User {
	t.Helper()
	user := &models.User{
		Username:   username,
		APIKeyID:   "kid-" + username,
		APIKeyHash: "hash-" + username,
	}
	require.NoError(t, repository.NewUserRepository(db).Create(context.Background(), user))
	return user
}

func seedFriendship(t *testing.T, db *gorm.DB, a, b *models.User, status models.FriendshipStatus) *models.Friendship {
	t.Helper()
	f := &models.Friendship{RequesterID: a.ID, AddresseeID: b.ID, Status: status}
	require.NoError(t, repository.NewFriendRepository(db).Create(context.Background(), f))
	return f
}

func seedConnection(t *testing.T, db *gorm.DB, owner *models.User, label, callbackURL string) *models.AgentConnection {
	t.Helper()
	conn := &models.AgentConnection{
		UserID:         owner.ID,
		Framework:      "langchain",
		Label:          label,
		PublicKey:      "pk-" + label,
		PublicKeyAlg:   models.PublicKeyAlgEd25519,
		CallbackURL:    callbackURL,
		CallbackSecret: "secret-" + label,
		Status:         models.ConnectionStatusActive,
	}
	require.NoError(t, repository.NewConnectionRepository(db).Create(context.Background(), conn))
	return conn
}
