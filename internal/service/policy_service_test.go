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

func newPolicyService(t *testing.T, db *gorm.DB) *PolicyService {
	t.Helper()
	roles := repository.NewRoleRepository(db)
	require.NoError(t, roles.EnsureSystemRoles(context.Background()))
	return NewPolicyService(
		repository.NewPolicyRepository(db),
		repository.NewUserRepository(db),
		roles,
		repository.NewGroupRepository(db),
	)
}

func TestPolicyService_CreateValidatesScopeTarget(t *testing.T) {
	db := newTestDB(t)
	svc := newPolicyService(t, db)
	ctx := context.Background()

	alice := seedUser(t, db, "alice")
	bob := seedUser(t, db, "bob")

	heuristic := `{"maxLength": 100}`

	// Global with a target is invalid.
	_, err := svc.Create(ctx, alice.ID, CreatePolicyInput{
		Scope: models.PolicyScopeGlobal, TargetID: &bob.ID,
		PolicyType: models.PolicyTypeHeuristic, PolicyContent: heuristic,
	})
	assert.Error(t, err)

	// User scope needs an existing user.
	missing := "no-such-user"
	_, err = svc.Create(ctx, alice.ID, CreatePolicyInput{
		Scope: models.PolicyScopeUser, TargetID: &missing,
		PolicyType: models.PolicyTypeHeuristic, PolicyContent: heuristic,
	})
	assert.Error(t, err)

	// Role scope checks system and custom roles visible to the owner.
	badRole := "nonexistent_role"
	_, err = svc.Create(ctx, alice.ID, CreatePolicyInput{
		Scope: models.PolicyScopeRole, TargetID: &badRole,
		PolicyType: models.PolicyTypeHeuristic, PolicyContent: heuristic,
	})
	assert.Error(t, err)

	goodRole := "work_contacts"
	policy, err := svc.Create(ctx, alice.ID, CreatePolicyInput{
		Scope: models.PolicyScopeRole, TargetID: &goodRole,
		PolicyType: models.PolicyTypeHeuristic, PolicyContent: heuristic,
	})
	require.NoError(t, err)
	assert.True(t, policy.Enabled, "defaults to enabled")

	// Malformed heuristic content is rejected.
	_, err = svc.Create(ctx, alice.ID, CreatePolicyInput{
		Scope:      models.PolicyScopeGlobal,
		PolicyType: models.PolicyTypeHeuristic, PolicyContent: "not json",
	})
	assert.Error(t, err)
}

func TestPolicyService_OwnerOnlyVisibility(t *testing.T) {
	db := newTestDB(t)
	svc := newPolicyService(t, db)
	ctx := context.Background()

	alice := seedUser(t, db, "alice")
	mallory := seedUser(t, db, "mallory")

	policy, err := svc.Create(ctx, alice.ID, CreatePolicyInput{
		Scope:      models.PolicyScopeGlobal,
		PolicyType: models.PolicyTypeHeuristic, PolicyContent: `{"maxLength": 100}`,
	})
	require.NoError(t, err)

	// Unauthorized access reads as not found, never as forbidden.
	_, err = svc.Get(ctx, mallory.ID, policy.ID)
	require.Error(t, err)
	assert.Equal(t, models.CodeNotFound, err.(*models.AppError).Code)

	err = svc.Delete(ctx, mallory.ID, policy.ID)
	require.Error(t, err)
	assert.Equal(t, models.CodeNotFound, err.(*models.AppError).Code)

	got, err := svc.Get(ctx, alice.ID, policy.ID)
	require.NoError(t, err)
	assert.Equal(t, policy.ID, got.ID)
}

func TestPolicyService_UpdateMutableFieldsOnly(t *testing.T) {
	db := newTestDB(t)
	svc := newPolicyService(t, db)
	ctx := context.Background()

	alice := seedUser(t, db, "alice")
	policy, err := svc.Create(ctx, alice.ID, CreatePolicyInput{
		Scope:      models.PolicyScopeGlobal,
		PolicyType: models.PolicyTypeHeuristic, PolicyContent: `{"maxLength": 100}`,
		Priority: 10,
	})
	require.NoError(t, err)

	newContent := `{"maxLength": 50}`
	newPriority := 20
	disabled := false
	updated, err := svc.Update(ctx, alice.ID, policy.ID, UpdatePolicyInput{
		PolicyContent: &newContent,
		Priority:      &newPriority,
		Enabled:       &disabled,
	})
	require.NoError(t, err)
	assert.Equal(t, newContent, updated.PolicyContent)
	assert.Equal(t, 20, updated.Priority)
	assert.False(t, updated.Enabled)

	bad := "{"
	_, err = svc.Update(ctx, alice.ID, policy.ID, UpdatePolicyInput{PolicyContent: &bad})
	assert.Error(t, err)
}

func TestPolicyService_GroupPoliciesAreSharedAmongAdmins(t *testing.T) {
	db := newTestDB(t)
	svc := newPolicyService(t, db)
	groups, _ := newGroupService(t, db)
	ctx := context.Background()

	alice := seedUser(t, db, "alice")
	bob := seedUser(t, db, "bob")
	carol := seedUser(t, db, "carol")

	group, err := groups.Create(ctx, alice.ID, "builders", "", false)
	require.NoError(t, err)
	_, err = groups.Join(ctx, bob.ID, group.ID)
	require.NoError(t, err)
	_, err = groups.SetRole(ctx, alice.ID, group.ID, bob.ID, models.GroupRoleAdmin)
	require.NoError(t, err)
	_, err = groups.Join(ctx, carol.ID, group.ID)
	require.NoError(t, err)

	// Non-admin members cannot create group policies.
	_, err = svc.Create(ctx, carol.ID, CreatePolicyInput{
		Scope: models.PolicyScopeGroup, TargetID: &group.ID,
		PolicyType: models.PolicyTypeHeuristic, PolicyContent: `{"maxLength": 100}`,
	})
	require.Error(t, err)
	assert.Equal(t, models.CodeForbidden, err.(*models.AppError).Code)

	policy, err := svc.Create(ctx, alice.ID, CreatePolicyInput{
		Scope: models.PolicyScopeGroup, TargetID: &group.ID,
		PolicyType: models.PolicyTypeHeuristic, PolicyContent: `{"maxLength": 100}`,
	})
	require.NoError(t, err)

	// A different admin can edit and delete the owner's policy.
	newPriority := 7
	_, err = svc.Update(ctx, bob.ID, policy.ID, UpdatePolicyInput{Priority: &newPriority})
	require.NoError(t, err)

	listed, err := svc.ListForGroup(ctx, bob.ID, group.ID)
	require.NoError(t, err)
	require.Len(t, listed, 1)

	_, err = svc.ListForGroup(ctx, carol.ID, group.ID)
	assert.Error(t, err)

	require.NoError(t, svc.Delete(ctx, bob.ID, policy.ID))
}
