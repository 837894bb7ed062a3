package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ConnectionStatus represents the lifecycle status of an agent connection.
type ConnectionStatus string

const (
	// ConnectionStatusActive marks a connection eligible for routing.
	ConnectionStatusActive ConnectionStatus = "active"
	// ConnectionStatusInactive marks a connection excluded from routing.
	ConnectionStatusInactive ConnectionStatus = "inactive"
)

// PublicKeyAlg enumerates the accepted public key algorithms.
const (
	PublicKeyAlgEd25519 = "ed25519"
	PublicKeyAlgX25519  = "x25519"
)

// StringList is a JSON-encoded list of strings stored in a single column.
type StringList []string

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("unsupported StringList source type %T", src)
	}
}

// Contains reports whether the list contains s.
func (l StringList) Contains(s string) bool {
	for _, v := range l {
		if v == s {
			return true
		}
	}
	return false
}

// AgentConnection is a user-owned callback endpoint the registry delivers to.
// (user_id, framework, label) is unique; re-registering the same triple is an
// upsert that refreshes metadata and optionally rotates the callback secret.
type AgentConnection struct {
	ID              string           `gorm:"primaryKey" json:"id"`
	UserID          string           `gorm:"not null;uniqueIndex:idx_conn_owner_framework_label;index" json:"userId"`
	Framework       string           `gorm:"not null;uniqueIndex:idx_conn_owner_framework_label" json:"framework"`
	Label           string           `gorm:"not null;uniqueIndex:idx_conn_owner_framework_label" json:"label"`
	Description     string           `json:"description,omitempty"`
	Capabilities    StringList       `gorm:"type:text" json:"capabilities"`
	PublicKey       string           `gorm:"not null" json:"publicKey"`
	PublicKeyAlg    string           `gorm:"not null" json:"publicKeyAlg"`
	RoutingPriority int              `gorm:"default:0" json:"routingPriority"`
	CallbackURL     string           `gorm:"not null" json:"callbackUrl"`
	CallbackSecret  string           `gorm:"not null" json:"-"`
	Status          ConnectionStatus `gorm:"type:varchar(20);default:'active';index" json:"status"`
	LastSeen        *time.Time       `json:"lastSeen,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`

	User User `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName specifies the table name for GORM
func (AgentConnection) TableName() string {
	return "agent_connections"
}

// BeforeCreate assigns an opaque ID when none was provided.
func (a *AgentConnection) BeforeCreate(_ *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}
