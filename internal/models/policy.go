package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PolicyScope determines which sends a policy applies to.
type PolicyScope string

const (
	// PolicyScopeGlobal applies to every send by the owner.
	PolicyScopeGlobal PolicyScope = "global"
	// PolicyScopeUser applies to sends targeting a specific user.
	PolicyScopeUser PolicyScope = "user"
	// PolicyScopeGroup applies to sends targeting a specific group.
	PolicyScopeGroup PolicyScope = "group"
	// PolicyScopeRole applies to sends targeting users holding a role.
	PolicyScopeRole PolicyScope = "role"
)

// PolicyType selects the evaluation strategy. The variant set is closed.
type PolicyType string

const (
	// PolicyTypeHeuristic is a deterministic, locally evaluated rule set.
	PolicyTypeHeuristic PolicyType = "heuristic"
	// PolicyTypeLLM is a prompt for an external evaluator; it passes with a
	// warning when no evaluator is configured or the call fails.
	PolicyTypeLLM PolicyType = "llm"
)

// Policy is an owner-scoped message constraint evaluated before delivery.
// scope=global requires a nil target; every other scope requires one.
type Policy struct {
	ID            string      `gorm:"primaryKey" json:"id"`
	UserID        string      `gorm:"not null;index:idx_policy_owner_scope" json:"userId"`
	Scope         PolicyScope `gorm:"type:varchar(20);not null;index:idx_policy_owner_scope" json:"scope"`
	TargetID      *string     `gorm:"index" json:"targetId,omitempty"`
	PolicyType    PolicyType  `gorm:"type:varchar(20);not null" json:"policyType"`
	PolicyContent string      `gorm:"not null" json:"policyContent"`
	Priority      int         `gorm:"default:0;index" json:"priority"`
	Enabled       bool        `gorm:"default:true" json:"enabled"`
	CreatedAt     time.Time   `json:"createdAt"`
	UpdatedAt     time.Time   `json:"updatedAt"`

	User User `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName specifies the table name for GORM
func (Policy) TableName() string {
	return "policies"
}

// BeforeCreate assigns an opaque ID when none was provided.
func (p *Policy) BeforeCreate(_ *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// HeuristicRules is the parsed form of a heuristic policy's content.
// Patterns are regular expressions; they are compile-checked at create time.
type HeuristicRules struct {
	MaxLength         *int     `json:"maxLength,omitempty"`
	MinLength         *int     `json:"minLength,omitempty"`
	BlockedPatterns   []string `json:"blockedPatterns,omitempty"`
	RequiredPatterns  []string `json:"requiredPatterns,omitempty"`
	RequireContext    bool     `json:"requireContext,omitempty"`
	BlockedRecipients []string `json:"blockedRecipients,omitempty"`
	TrustedRecipients []string `json:"trustedRecipients,omitempty"`
}
