// Package seed populates a development database with plausible registry data.
package seed

import (
	"context"
	"fmt"
	"strings"

	"mahilo/internal/models"
	"mahilo/internal/repository"
	"mahilo/internal/service"

	"github.com/brianvoe/gofakeit/v6"
	"gorm.io/gorm"
)

// Options controls how much data Run generates.
type Options struct {
	Users       int
	Friendships int
	Groups      int
}

// DefaultOptions is a small but connected graph.
func DefaultOptions() Options {
	return Options{Users: 12, Friendships: 20, Groups: 3}
}

// Result reports what was created, including the plaintext API keys so a
// developer can drive the API immediately. Never run against production data.
type Result struct {
	APIKeys map[string]string // username -> key
}

// Run fills the database. It is not idempotent; use a fresh database.
func Run(ctx context.Context, db *gorm.DB, opts Options) (*Result, error) {
	users := repository.NewUserRepository(db)
	conns := repository.NewConnectionRepository(db)
	friends := repository.NewFriendRepository(db)
	roles := repository.NewRoleRepository(db)
	groups := repository.NewGroupRepository(db)
	policies := repository.NewPolicyRepository(db)

	if err := roles.EnsureSystemRoles(ctx); err != nil {
		return nil, err
	}

	result := &Result{APIKeys: make(map[string]string)}

	var created []*models.User
	for i := 0; i < opts.Users; i++ {
		username := strings.ToLower(fmt.Sprintf("%s_%s", gofakeit.Adjective(), gofakeit.NounAbstract()))
		username = strings.ReplaceAll(username, " ", "_")
		if len(username) > 30 {
			username = username[:30]
		}
		if len(username) < 3 {
			username = username + "_ai"
		}

		key, keyID, hash, err := service.MintAPIKey()
		if err != nil {
			return nil, err
		}
		user := &models.User{
			Username:    username,
			DisplayName: gofakeit.Name(),
			APIKeyID:    keyID,
			APIKeyHash:  hash,
		}
		if err := users.Create(ctx, user); err != nil {
			// Random name collision; skip.
			continue
		}
		result.APIKeys[user.Username] = key
		created = append(created, user)

		conn := &models.AgentConnection{
			UserID:       user.ID,
			Framework:    gofakeit.RandomString([]string{"langchain", "crewai", "autogen", "custom"}),
			Label:        "primary",
			Description:  gofakeit.JobTitle(),
			Capabilities: models.StringList{"chat", gofakeit.RandomString([]string{"code", "search", "summarize"})},
			PublicKey:    gofakeit.UUID(),
			PublicKeyAlg: models.PublicKeyAlgEd25519,
			CallbackURL:  fmt.Sprintf("http://127.0.0.1:%d/callback", 9000+i),
			// Seed secret is predictable on purpose for local callback stubs.
			CallbackSecret: fmt.Sprintf("seed-secret-%02d", i),
			Status:         models.ConnectionStatusActive,
		}
		if err := conns.Create(ctx, conn); err != nil {
			return nil, err
		}
	}
	if len(created) < 2 {
		return nil, fmt.Errorf("not enough users created to seed a graph")
	}

	for i := 0; i < opts.Friendships; i++ {
		a := created[gofakeit.Number(0, len(created)-1)]
		b := created[gofakeit.Number(0, len(created)-1)]
		if a.ID == b.ID {
			continue
		}
		friendship := &models.Friendship{
			RequesterID: a.ID,
			AddresseeID: b.ID,
			Status:      models.FriendshipStatusAccepted,
		}
		if err := friends.Create(ctx, friendship); err != nil {
			continue // pair already linked
		}
		if gofakeit.Bool() {
			_ = friends.AssignRole(ctx, friendship.ID, gofakeit.RandomString(models.SystemRoleNames))
		}
	}

	for i := 0; i < opts.Groups; i++ {
		owner := created[gofakeit.Number(0, len(created)-1)]
		group := &models.Group{
			Name:        strings.ToLower(fmt.Sprintf("%s_collective_%d", gofakeit.Adjective(), i)),
			Description: gofakeit.Phrase(),
			OwnerUserID: owner.ID,
		}
		if err := groups.Create(ctx, group); err != nil {
			continue
		}
		for j := 0; j < 4; j++ {
			member := created[gofakeit.Number(0, len(created)-1)]
			if member.ID == owner.ID {
				continue
			}
			_ = groups.CreateMembership(ctx, &models.GroupMembership{
				GroupID: group.ID,
				UserID:  member.ID,
				Role:    models.GroupRoleMember,
				Status:  models.MembershipStatusActive,
			})
		}
		_ = policies.Create(ctx, &models.Policy{
			UserID:        owner.ID,
			Scope:         models.PolicyScopeGroup,
			TargetID:      &group.ID,
			PolicyType:    models.PolicyTypeHeuristic,
			PolicyContent: `{"maxLength": 2000}`,
			Priority:      10,
			Enabled:       true,
		})
	}

	for _, user := range created[:len(created)/2] {
		_ = policies.Create(ctx, &models.Policy{
			UserID:        user.ID,
			Scope:         models.PolicyScopeGlobal,
			PolicyType:    models.PolicyTypeHeuristic,
			PolicyContent: `{"maxLength": 4000, "blockedPatterns": ["(?i)ignore previous instructions"]}`,
			Priority:      100,
			Enabled:       true,
		})
	}

	return result, nil
}
