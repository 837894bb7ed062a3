package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PayloadTypeCiphertext marks a payload the registry routes opaquely without
// policy inspection.
const PayloadTypeCiphertext = "application/mahilo+ciphertext"

// PayloadTypeDefault is assumed when a send omits payloadType.
const PayloadTypeDefault = "text/plain"

// RecipientType distinguishes user-targeted sends from group fan-out.
type RecipientType string

const (
	// RecipientTypeUser targets a single user connection.
	RecipientTypeUser RecipientType = "user"
	// RecipientTypeGroup targets every active member of a group.
	RecipientTypeGroup RecipientType = "group"
)

// MessageStatus is the lifecycle state of a message.
type MessageStatus string

const (
	// MessageStatusPending means delivery is in flight or awaiting retry.
	MessageStatusPending MessageStatus = "pending"
	// MessageStatusDelivered means the callback acknowledged with 2xx.
	MessageStatusDelivered MessageStatus = "delivered"
	// MessageStatusFailed means the retry budget was exhausted.
	MessageStatusFailed MessageStatus = "failed"
	// MessageStatusRejected means a policy refused the send; terminal at creation.
	MessageStatusRejected MessageStatus = "rejected"
)

// DeliveryStatus is the lifecycle state of a per-recipient fan-out delivery.
type DeliveryStatus string

const (
	// DeliveryStatusPending means the child delivery is in flight or retrying.
	DeliveryStatusPending DeliveryStatus = "pending"
	// DeliveryStatusDelivered means the recipient's callback acknowledged.
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	// DeliveryStatusFailed means the child delivery failed terminally.
	DeliveryStatusFailed DeliveryStatus = "failed"
)

// EncryptionInfo describes sender-side encryption of an opaque payload.
// The registry never performs key agreement itself.
type EncryptionInfo struct {
	Alg   string `json:"alg"`
	KeyID string `json:"keyId"`
}

// SignatureInfo carries a sender signature over the payload.
type SignatureInfo struct {
	Alg       string `json:"alg"`
	KeyID     string `json:"keyId"`
	Signature string `json:"signature"`
}

// JSONColumn stores an arbitrary JSON-marshalable value in a text column.
type JSONColumn[T any] struct {
	Valid bool
	Data  T
}

// Value implements driver.Valuer.
func (j JSONColumn[T]) Value() (driver.Value, error) {
	if !j.Valid {
		return nil, nil
	}
	b, err := json.Marshal(j.Data)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (j *JSONColumn[T]) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		j.Valid = false
		return nil
	case []byte:
		j.Valid = true
		return json.Unmarshal(v, &j.Data)
	case string:
		j.Valid = true
		return json.Unmarshal([]byte(v), &j.Data)
	default:
		return fmt.Errorf("unsupported JSONColumn source type %T", src)
	}
}

// MarshalJSON emits null for the unset case.
func (j JSONColumn[T]) MarshalJSON() ([]byte, error) {
	if !j.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(j.Data)
}

// UnmarshalJSON accepts null as the unset case.
func (j *JSONColumn[T]) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		j.Valid = false
		return nil
	}
	j.Valid = true
	return json.Unmarshal(b, &j.Data)
}

// Message is one accepted send. (sender_user_id, idempotency_key) is unique
// when the key is present; a duplicate submission returns the original row.
type Message struct {
	ID                    string                     `gorm:"primaryKey" json:"id"`
	CorrelationID         string                     `json:"correlationId,omitempty"`
	SenderUserID          string                     `gorm:"not null;index;uniqueIndex:idx_msg_idempotency" json:"senderUserId"`
	SenderAgent           string                     `json:"senderAgent,omitempty"`
	RecipientType         RecipientType              `gorm:"type:varchar(10);not null" json:"recipientType"`
	RecipientID           string                     `gorm:"not null;index" json:"recipientId"`
	RecipientConnectionID *string                    `json:"recipientConnectionId,omitempty"`
	Payload               string                     `gorm:"not null" json:"payload"`
	PayloadType           string                     `gorm:"default:'text/plain'" json:"payloadType"`
	Encryption            JSONColumn[EncryptionInfo] `gorm:"type:text" json:"encryption,omitempty"`
	SenderSignature       JSONColumn[SignatureInfo]  `gorm:"type:text" json:"senderSignature,omitempty"`
	Context               string                     `json:"context,omitempty"`
	Status                MessageStatus              `gorm:"type:varchar(20);default:'pending';index" json:"status"`
	RejectionReason       *string                    `json:"rejectionReason,omitempty"`
	RetryCount            int                        `gorm:"default:0" json:"retryCount"`
	IdempotencyKey        *string                    `gorm:"uniqueIndex:idx_msg_idempotency" json:"idempotencyKey,omitempty"`
	CreatedAt             time.Time                  `json:"createdAt"`
	UpdatedAt             time.Time                  `json:"updatedAt"`
	DeliveredAt           *time.Time                 `json:"deliveredAt,omitempty"`
}

// TableName specifies the table name for GORM
func (Message) TableName() string {
	return "messages"
}

// BeforeCreate assigns an opaque ID when none was provided.
func (m *Message) BeforeCreate(_ *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// MessageDelivery tracks one recipient of a group fan-out.
// (message_id, recipient_connection_id) is unique.
type MessageDelivery struct {
	ID                    string         `gorm:"primaryKey" json:"id"`
	MessageID             string         `gorm:"not null;index;uniqueIndex:idx_delivery_msg_conn" json:"messageId"`
	RecipientUserID       string         `gorm:"not null;index" json:"recipientUserId"`
	RecipientConnectionID *string        `gorm:"uniqueIndex:idx_delivery_msg_conn" json:"recipientConnectionId,omitempty"`
	Status                DeliveryStatus `gorm:"type:varchar(20);default:'pending';index" json:"status"`
	RetryCount            int            `gorm:"default:0" json:"retryCount"`
	ErrorMessage          *string        `json:"errorMessage,omitempty"`
	DeliveredAt           *time.Time     `json:"deliveredAt,omitempty"`
	CreatedAt             time.Time      `json:"createdAt"`
	UpdatedAt             time.Time      `json:"updatedAt"`

	Message Message `gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName specifies the table name for GORM
func (MessageDelivery) TableName() string {
	return "message_deliveries"
}

// BeforeCreate assigns an opaque ID when none was provided.
func (d *MessageDelivery) BeforeCreate(_ *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	return nil
}

// AggregateStatus derives a parent message status from its children:
// delivered iff all delivered, pending while any child can still retry,
// otherwise failed.
func AggregateStatus(children []MessageDelivery) MessageStatus {
	if len(children) == 0 {
		return MessageStatusPending
	}
	delivered := 0
	for _, c := range children {
		switch c.Status {
		case DeliveryStatusPending:
			return MessageStatusPending
		case DeliveryStatusDelivered:
			delivered++
		}
	}
	if delivered == len(children) {
		return MessageStatusDelivered
	}
	return MessageStatusFailed
}
