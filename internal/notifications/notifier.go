// Package notifications publishes best-effort user events over redis pub/sub.
// Subscribers (dashboards, bridges) receive events on a per-user channel;
// nothing on the send path ever blocks on a notification.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"mahilo/internal/models"
	"mahilo/internal/observability"

	"github.com/redis/go-redis/v9"
)

const publishTimeout = 2 * time.Second

// ChannelForUser returns the pub/sub channel name carrying a user's events.
func ChannelForUser(userID string) string {
	return fmt.Sprintf("events:user:%s", userID)
}

// Notifier publishes events for a user. Implementations must be fire-and-forget.
type Notifier interface {
	Emit(userID string, eventType models.EventType, data map[string]interface{})
}

// RedisNotifier publishes events to redis. A nil client disables publishing,
// which keeps single-binary deployments working without redis.
type RedisNotifier struct {
	client *redis.Client
}

// NewRedisNotifier creates a notifier backed by the given client. client may
// be nil.
func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{client: client}
}

// Emit publishes the event on the user's channel. Failures are logged and
// swallowed: notifications never affect message delivery outcomes.
func (n *RedisNotifier) Emit(userID string, eventType models.EventType, data map[string]interface{}) {
	if n == nil || n.client == nil {
		return
	}
	event := models.Event{
		Type:      eventType,
		UserID:    userID,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		observability.Logger().Warn("failed to marshal event", slog.String("type", string(eventType)), slog.Any("error", err))
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := n.client.Publish(ctx, ChannelForUser(userID), payload).Err(); err != nil {
			observability.Logger().Warn("failed to publish event",
				slog.String("type", string(eventType)),
				slog.String("user_id", userID),
				slog.Any("error", err))
		}
	}()
}

// Subscribe returns a channel of decoded events for a user. Intended for
// operator tooling and tests; the HTTP API does not expose it.
func (n *RedisNotifier) Subscribe(ctx context.Context, userID string) (<-chan models.Event, func(), error) {
	if n == nil || n.client == nil {
		return nil, nil, fmt.Errorf("notifications disabled: no redis client")
	}
	sub := n.client.Subscribe(ctx, ChannelForUser(userID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, err
	}

	out := make(chan models.Event)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			var event models.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				continue
			}
			select {
			case out <- event:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, func() { _ = sub.Close() }, nil
}
