package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func delivery(status DeliveryStatus) MessageDelivery {
	return MessageDelivery{Status: status}
}

func TestAggregateStatus(t *testing.T) {
	tests := []struct {
		name     string
		children []MessageDelivery
		expected MessageStatus
	}{
		{
			"no children stays pending",
			nil,
			MessageStatusPending,
		},
		{
			"all delivered",
			[]MessageDelivery{delivery(DeliveryStatusDelivered), delivery(DeliveryStatusDelivered)},
			MessageStatusDelivered,
		},
		{
			"one still pending keeps parent pending",
			[]MessageDelivery{delivery(DeliveryStatusDelivered), delivery(DeliveryStatusPending), delivery(DeliveryStatusFailed)},
			MessageStatusPending,
		},
		{
			"mixed terminal is failed",
			[]MessageDelivery{delivery(DeliveryStatusDelivered), delivery(DeliveryStatusFailed)},
			MessageStatusFailed,
		},
		{
			"all failed",
			[]MessageDelivery{delivery(DeliveryStatusFailed)},
			MessageStatusFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, AggregateStatus(tt.children))
		})
	}
}

func TestFriendshipHelpers(t *testing.T) {
	f := &Friendship{RequesterID: "a", AddresseeID: "b"}
	assert.True(t, f.Involves("a"))
	assert.True(t, f.Involves("b"))
	assert.False(t, f.Involves("c"))
	assert.Equal(t, "b", f.OtherUserID("a"))
	assert.Equal(t, "a", f.OtherUserID("b"))
}

func TestStringListContains(t *testing.T) {
	l := StringList{"chat", "code"}
	assert.True(t, l.Contains("chat"))
	assert.False(t, l.Contains("search"))
}
