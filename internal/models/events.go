package models

import "time"

// EventType identifies a notification event emitted to a user's observers.
type EventType string

const (
	// EventMessageReceived fires on successful delivery of an inbound message.
	EventMessageReceived EventType = "message_received"
	// EventDeliveryStatus fires on terminal state changes of a sent message.
	EventDeliveryStatus EventType = "delivery_status"
	// EventFriendRequest fires on a new pending friendship.
	EventFriendRequest EventType = "friend_request"
	// EventGroupInvite fires on a new group invitation.
	EventGroupInvite EventType = "group_invite"
)

// Event is the emission contract for the notification fan-out. Emission is
// best-effort; a failed emit never rolls back the underlying state change.
type Event struct {
	Type      EventType              `json:"type"`
	UserID    string                 `json:"userId"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}
