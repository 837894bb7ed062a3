package repository

import (
	"context"
	"errors"

	"mahilo/internal/models"

	"gorm.io/gorm"
)

// PolicyRepository defines the interface for policy data operations
type PolicyRepository interface {
	Create(ctx context.Context, policy *models.Policy) error
	GetByID(ctx context.Context, id string) (*models.Policy, error)
	Update(ctx context.Context, policy *models.Policy) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, ownerID string, scope models.PolicyScope, targetID string) ([]models.Policy, error)
	ListGroupPolicies(ctx context.Context, groupID string) ([]models.Policy, error)
	ListApplicableForUserSend(ctx context.Context, senderID, recipientID string, recipientRoles []string) ([]models.Policy, error)
	ListApplicableForGroupSend(ctx context.Context, senderID, groupID string) ([]models.Policy, error)
}

type policyRepository struct {
	db *gorm.DB
}

// NewPolicyRepository creates a new policy repository
func NewPolicyRepository(db *gorm.DB) PolicyRepository {
	return &policyRepository{db: db}
}

func (r *policyRepository) Create(ctx context.Context, policy *models.Policy) error {
	if err := r.db.WithContext(ctx).Create(policy).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *policyRepository) GetByID(ctx context.Context, id string) (*models.Policy, error) {
	var policy models.Policy
	if err := r.db.WithContext(ctx).First(&policy, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Policy")
		}
		return nil, models.NewInternalError(err)
	}
	return &policy, nil
}

func (r *policyRepository) Update(ctx context.Context, policy *models.Policy) error {
	if err := r.db.WithContext(ctx).Save(policy).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *policyRepository) Delete(ctx context.Context, id string) error {
	if err := r.db.WithContext(ctx).Delete(&models.Policy{}, "id = ?", id).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *policyRepository) List(ctx context.Context, ownerID string, scope models.PolicyScope, targetID string) ([]models.Policy, error) {
	var policies []models.Policy
	q := r.db.WithContext(ctx).Where("user_id = ?", ownerID)
	if scope != "" {
		q = q.Where("scope = ?", scope)
	}
	if targetID != "" {
		q = q.Where("target_id = ?", targetID)
	}
	if err := q.Order("priority DESC, created_at ASC").Find(&policies).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return policies, nil
}

// ListGroupPolicies returns group-scoped policies for a group regardless of
// the creating admin: group policies are administered jointly.
func (r *policyRepository) ListGroupPolicies(ctx context.Context, groupID string) ([]models.Policy, error) {
	var policies []models.Policy
	if err := r.db.WithContext(ctx).
		Where("scope = ? AND target_id = ?", models.PolicyScopeGroup, groupID).
		Order("priority DESC, created_at ASC").
		Find(&policies).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return policies, nil
}

// ListApplicableForUserSend is the single scope-filter query of the
// evaluation funnel: enabled sender-owned policies that are global, target
// the recipient, or target a role the recipient holds; highest priority first.
func (r *policyRepository) ListApplicableForUserSend(ctx context.Context, senderID, recipientID string, recipientRoles []string) ([]models.Policy, error) {
	var policies []models.Policy
	q := r.db.WithContext(ctx).
		Where("user_id = ? AND enabled = ?", senderID, true)
	if len(recipientRoles) > 0 {
		q = q.Where("scope = ? OR (scope = ? AND target_id = ?) OR (scope = ? AND target_id IN ?)",
			models.PolicyScopeGlobal,
			models.PolicyScopeUser, recipientID,
			models.PolicyScopeRole, recipientRoles)
	} else {
		q = q.Where("scope = ? OR (scope = ? AND target_id = ?)",
			models.PolicyScopeGlobal,
			models.PolicyScopeUser, recipientID)
	}
	if err := q.Order("priority DESC, created_at ASC").Find(&policies).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return policies, nil
}

// ListApplicableForGroupSend selects the sender's global policies plus any
// enabled group-scoped policies targeting the group. Role policies are not
// consulted for group sends.
func (r *policyRepository) ListApplicableForGroupSend(ctx context.Context, senderID, groupID string) ([]models.Policy, error) {
	var policies []models.Policy
	if err := r.db.WithContext(ctx).
		Where("enabled = ? AND ((user_id = ? AND scope = ?) OR (scope = ? AND target_id = ?))",
			true, senderID, models.PolicyScopeGlobal, models.PolicyScopeGroup, groupID).
		Order("priority DESC, created_at ASC").
		Find(&policies).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return policies, nil
}
