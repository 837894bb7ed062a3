package service

import (
	"context"

	"mahilo/internal/models"
	"mahilo/internal/repository"
	"mahilo/internal/validation"
)

// PolicyService owns policy CRUD and its authorization rules. Group-scoped
// policies are shared resources: every admin of the group can create, edit
// and delete them no matter who created a given policy.
type PolicyService struct {
	policies repository.PolicyRepository
	users    repository.UserRepository
	roles    repository.RoleRepository
	groups   repository.GroupRepository
}

// NewPolicyService creates a new policy service
func NewPolicyService(policies repository.PolicyRepository, users repository.UserRepository, roles repository.RoleRepository, groups repository.GroupRepository) *PolicyService {
	return &PolicyService{policies: policies, users: users, roles: roles, groups: groups}
}

// CreatePolicyInput is the caller-supplied part of a policy.
type CreatePolicyInput struct {
	Scope         models.PolicyScope `json:"scope"`
	TargetID      *string            `json:"targetId,omitempty"`
	PolicyType    models.PolicyType  `json:"policyType"`
	PolicyContent string             `json:"policyContent"`
	Priority      int                `json:"priority"`
	Enabled       *bool              `json:"enabled,omitempty"`
}

// Create validates scope, target and content, then persists the policy.
func (s *PolicyService) Create(ctx context.Context, ownerID string, in CreatePolicyInput) (*models.Policy, error) {
	if err := s.validateScopeTarget(ctx, ownerID, in.Scope, in.TargetID); err != nil {
		return nil, err
	}
	if err := validation.ValidatePolicyContent(in.PolicyType, in.PolicyContent); err != nil {
		return nil, err
	}

	enabled := true
	if in.Enabled != nil {
		enabled = *in.Enabled
	}
	policy := &models.Policy{
		UserID:        ownerID,
		Scope:         in.Scope,
		TargetID:      in.TargetID,
		PolicyType:    in.PolicyType,
		PolicyContent: in.PolicyContent,
		Priority:      in.Priority,
		Enabled:       enabled,
	}
	if err := s.policies.Create(ctx, policy); err != nil {
		return nil, err
	}
	return policy, nil
}

// UpdatePolicyInput carries the mutable policy fields. Nil means unchanged.
type UpdatePolicyInput struct {
	PolicyContent *string `json:"policyContent,omitempty"`
	Priority      *int    `json:"priority,omitempty"`
	Enabled       *bool   `json:"enabled,omitempty"`
}

// Update modifies content, priority or enabled. Scope and target are
// immutable; recreate the policy to retarget it.
func (s *PolicyService) Update(ctx context.Context, actorID, policyID string, in UpdatePolicyInput) (*models.Policy, error) {
	policy, err := s.authorize(ctx, actorID, policyID)
	if err != nil {
		return nil, err
	}
	if in.PolicyContent != nil {
		if err := validation.ValidatePolicyContent(policy.PolicyType, *in.PolicyContent); err != nil {
			return nil, err
		}
		policy.PolicyContent = *in.PolicyContent
	}
	if in.Priority != nil {
		policy.Priority = *in.Priority
	}
	if in.Enabled != nil {
		policy.Enabled = *in.Enabled
	}
	if err := s.policies.Update(ctx, policy); err != nil {
		return nil, err
	}
	return policy, nil
}

// Delete removes a policy the actor is authorized for.
func (s *PolicyService) Delete(ctx context.Context, actorID, policyID string) error {
	if _, err := s.authorize(ctx, actorID, policyID); err != nil {
		return err
	}
	return s.policies.Delete(ctx, policyID)
}

// Get returns a policy the actor is authorized for.
func (s *PolicyService) Get(ctx context.Context, actorID, policyID string) (*models.Policy, error) {
	return s.authorize(ctx, actorID, policyID)
}

// List returns the actor's own policies with optional scope/target filters.
func (s *PolicyService) List(ctx context.Context, ownerID string, scope models.PolicyScope, targetID string) ([]models.Policy, error) {
	if scope != "" && !validScope(scope) {
		return nil, models.NewValidationError("Unknown policy scope")
	}
	return s.policies.List(ctx, ownerID, scope, targetID)
}

// ListForGroup returns a group's shared policies. Admin only.
func (s *PolicyService) ListForGroup(ctx context.Context, actorID, groupID string) ([]models.Policy, error) {
	ok, err := s.isGroupAdmin(ctx, actorID, groupID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, models.NewForbiddenError("Requires group admin")
	}
	return s.policies.ListGroupPolicies(ctx, groupID)
}

// authorize resolves the policy and checks the actor may manage it: the
// owner always can, and for group scope any current admin of the group can.
func (s *PolicyService) authorize(ctx context.Context, actorID, policyID string) (*models.Policy, error) {
	policy, err := s.policies.GetByID(ctx, policyID)
	if err != nil {
		return nil, err
	}
	if policy.UserID == actorID {
		return policy, nil
	}
	if policy.Scope == models.PolicyScopeGroup && policy.TargetID != nil {
		ok, err := s.isGroupAdmin(ctx, actorID, *policy.TargetID)
		if err != nil {
			return nil, err
		}
		if ok {
			return policy, nil
		}
	}
	// Hide existence from unauthorized callers.
	return nil, models.NewNotFoundError("Policy")
}

func (s *PolicyService) validateScopeTarget(ctx context.Context, ownerID string, scope models.PolicyScope, targetID *string) error {
	switch scope {
	case models.PolicyScopeGlobal:
		if targetID != nil {
			return models.NewValidationError("Global policies must not have a target")
		}
		return nil
	case models.PolicyScopeUser:
		if targetID == nil {
			return models.NewValidationError("User-scoped policies require a target user id")
		}
		_, err := s.users.GetByID(ctx, *targetID)
		return err
	case models.PolicyScopeRole:
		if targetID == nil {
			return models.NewValidationError("Role-scoped policies require a target role name")
		}
		_, err := s.roles.GetValidForUser(ctx, ownerID, *targetID)
		return err
	case models.PolicyScopeGroup:
		if targetID == nil {
			return models.NewValidationError("Group-scoped policies require a target group id")
		}
		ok, err := s.isGroupAdmin(ctx, ownerID, *targetID)
		if err != nil {
			return err
		}
		if !ok {
			return models.NewForbiddenError("Requires group admin")
		}
		return nil
	default:
		return models.NewValidationError("Unknown policy scope")
	}
}

func (s *PolicyService) isGroupAdmin(ctx context.Context, userID, groupID string) (bool, error) {
	if _, err := s.groups.GetByID(ctx, groupID); err != nil {
		return false, err
	}
	membership, err := s.groups.GetMembership(ctx, groupID, userID)
	if err != nil {
		return false, err
	}
	return membership != nil && membership.Status == models.MembershipStatusActive && membership.IsAdmin(), nil
}

func validScope(scope models.PolicyScope) bool {
	switch scope {
	case models.PolicyScopeGlobal, models.PolicyScopeUser, models.PolicyScopeGroup, models.PolicyScopeRole:
		return true
	}
	return false
}
