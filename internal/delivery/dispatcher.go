package delivery

import (
	"context"
	"log/slog"
	"time"

	"mahilo/internal/models"
	"mahilo/internal/notifications"
	"mahilo/internal/observability"
	"mahilo/internal/repository"
)

// Dispatcher performs individual delivery attempts and records their
// outcomes. Both the send path (first attempt) and the retry processor
// (subsequent attempts) go through it so status transitions live in one
// place.
type Dispatcher struct {
	msgs       repository.MessageRepository
	conns      repository.ConnectionRepository
	users      repository.UserRepository
	groups     repository.GroupRepository
	sender     *Sender
	notifier   notifications.Notifier
	maxRetries int
}

// NewDispatcher creates a new dispatcher
func NewDispatcher(msgs repository.MessageRepository, conns repository.ConnectionRepository, users repository.UserRepository, groups repository.GroupRepository, sender *Sender, notifier notifications.Notifier, maxRetries int) *Dispatcher {
	return &Dispatcher{
		msgs:       msgs,
		conns:      conns,
		users:      users,
		groups:     groups,
		sender:     sender,
		notifier:   notifier,
		maxRetries: maxRetries,
	}
}

// AttemptMessage tries to deliver a direct (user-targeted) message once and
// records the outcome. Exhausting the retry budget marks the message failed.
func (d *Dispatcher) AttemptMessage(ctx context.Context, msg *models.Message) {
	conn, err := d.resolveConnection(ctx, msg.RecipientID, msg.RecipientConnectionID)
	if err != nil {
		d.recordMessageFailure(ctx, msg, err)
		return
	}

	env, err := d.buildEnvelope(ctx, msg, conn, "")
	if err != nil {
		d.recordMessageFailure(ctx, msg, err)
		return
	}

	if err := d.sender.Deliver(ctx, conn, env); err != nil {
		observability.Logger().Info("delivery attempt failed",
			slog.String("message_id", msg.ID),
			slog.Int("retry_count", msg.RetryCount),
			slog.Any("error", err))
		d.recordMessageFailure(ctx, msg, err)
		return
	}

	now := time.Now().UTC()
	if err := d.msgs.MarkDelivered(ctx, msg.ID, now); err != nil {
		observability.Logger().Error("failed to mark message delivered",
			slog.String("message_id", msg.ID), slog.Any("error", err))
		return
	}
	d.notifyDelivered(ctx, msg.SenderUserID, msg.RecipientID, msg.ID)
}

// AttemptDelivery tries one fan-out child and recomputes the parent status
// from all children afterwards.
func (d *Dispatcher) AttemptDelivery(ctx context.Context, child *models.MessageDelivery) {
	msg, err := d.msgs.GetByID(ctx, child.MessageID)
	if err != nil {
		observability.Logger().Error("fan-out parent missing",
			slog.String("delivery_id", child.ID), slog.Any("error", err))
		return
	}

	conn, err := d.resolveConnection(ctx, child.RecipientUserID, child.RecipientConnectionID)
	if err != nil {
		d.recordDeliveryFailure(ctx, msg, child, err)
		return
	}
	env, err := d.buildEnvelope(ctx, msg, conn, child.ID)
	if err != nil {
		d.recordDeliveryFailure(ctx, msg, child, err)
		return
	}

	if err := d.sender.Deliver(ctx, conn, env); err != nil {
		d.recordDeliveryFailure(ctx, msg, child, err)
		return
	}

	now := time.Now().UTC()
	if err := d.msgs.MarkDeliveryDelivered(ctx, child.ID, now); err != nil {
		observability.Logger().Error("failed to mark delivery delivered",
			slog.String("delivery_id", child.ID), slog.Any("error", err))
		return
	}
	d.notifyDelivered(ctx, msg.SenderUserID, child.RecipientUserID, msg.ID)
	d.SyncParentStatus(ctx, msg)
}

// resolveConnection picks the delivery target: the pinned connection when
// the message carries one, otherwise the recipient's best active connection
// (highest routing priority, oldest first on ties).
func (d *Dispatcher) resolveConnection(ctx context.Context, recipientUserID string, pinned *string) (*models.AgentConnection, error) {
	if pinned != nil {
		conn, err := d.conns.GetByID(ctx, *pinned)
		if err != nil {
			return nil, err
		}
		if conn.Status != models.ConnectionStatusActive {
			return nil, models.NewConflictError("Pinned connection is inactive")
		}
		return conn, nil
	}
	conns, err := d.conns.ListActiveByUser(ctx, recipientUserID)
	if err != nil {
		return nil, err
	}
	if len(conns) == 0 {
		return nil, models.NewConflictError("Recipient has no active connections")
	}
	return &conns[0], nil
}

func (d *Dispatcher) buildEnvelope(ctx context.Context, msg *models.Message, conn *models.AgentConnection, deliveryID string) (*Envelope, error) {
	sender, err := d.users.GetByID(ctx, msg.SenderUserID)
	if err != nil {
		return nil, err
	}

	env := &Envelope{
		MessageID:             msg.ID,
		CorrelationID:         msg.CorrelationID,
		RecipientConnectionID: conn.ID,
		DeliveryID:            deliveryID,
		Sender:                sender.Username,
		SenderAgent:           msg.SenderAgent,
		Message:               msg.Payload,
		PayloadType:           msg.PayloadType,
		Context:               msg.Context,
		Timestamp:             time.Now().UTC(),
	}
	if msg.RecipientType == models.RecipientTypeGroup {
		group, err := d.groups.GetByID(ctx, msg.RecipientID)
		if err != nil {
			return nil, err
		}
		env.GroupID = group.ID
		env.GroupName = group.Name
	}
	if msg.Encryption.Valid {
		enc := msg.Encryption.Data
		env.Encryption = &enc
	}
	if msg.SenderSignature.Valid {
		sig := msg.SenderSignature.Data
		env.SenderSignature = &sig
	}
	return env, nil
}

func (d *Dispatcher) recordMessageFailure(ctx context.Context, msg *models.Message, cause error) {
	if msg.RetryCount >= d.maxRetries {
		if err := d.msgs.MarkFailed(ctx, msg.ID); err != nil {
			observability.Logger().Error("failed to mark message failed",
				slog.String("message_id", msg.ID), slog.Any("error", err))
			return
		}
		d.notifyFailed(ctx, msg.SenderUserID, msg.ID, cause)
		return
	}
	if err := d.msgs.IncrementRetry(ctx, msg.ID); err != nil {
		observability.Logger().Error("failed to increment message retry",
			slog.String("message_id", msg.ID), slog.Any("error", err))
	}
}

func (d *Dispatcher) recordDeliveryFailure(ctx context.Context, msg *models.Message, child *models.MessageDelivery, cause error) {
	if child.RetryCount >= d.maxRetries {
		errMsg := cause.Error()
		if err := d.msgs.MarkDeliveryFailed(ctx, child.ID, errMsg); err != nil {
			observability.Logger().Error("failed to mark delivery failed",
				slog.String("delivery_id", child.ID), slog.Any("error", err))
			return
		}
		d.SyncParentStatus(ctx, msg)
		return
	}
	if err := d.msgs.IncrementDeliveryRetry(ctx, child.ID); err != nil {
		observability.Logger().Error("failed to increment delivery retry",
			slog.String("delivery_id", child.ID), slog.Any("error", err))
	}
}

// SyncParentStatus re-derives a fan-out parent's status from its children and
// notifies the sender once the fan-out reaches a terminal state.
func (d *Dispatcher) SyncParentStatus(ctx context.Context, msg *models.Message) {
	children, err := d.msgs.ListDeliveriesByMessage(ctx, msg.ID)
	if err != nil {
		observability.Logger().Error("failed to list fan-out children",
			slog.String("message_id", msg.ID), slog.Any("error", err))
		return
	}
	status := models.AggregateStatus(children)
	if status == msg.Status {
		return
	}
	switch status {
	case models.MessageStatusDelivered:
		if err := d.msgs.MarkDelivered(ctx, msg.ID, time.Now().UTC()); err != nil {
			observability.Logger().Error("failed to mark fan-out delivered",
				slog.String("message_id", msg.ID), slog.Any("error", err))
			return
		}
		d.emit(ctx, msg.SenderUserID, models.EventDeliveryStatus, map[string]interface{}{
			"message_id": msg.ID,
			"status":     string(models.MessageStatusDelivered),
		})
	case models.MessageStatusFailed:
		if err := d.msgs.MarkFailed(ctx, msg.ID); err != nil {
			observability.Logger().Error("failed to mark fan-out failed",
				slog.String("message_id", msg.ID), slog.Any("error", err))
			return
		}
		d.emit(ctx, msg.SenderUserID, models.EventDeliveryStatus, map[string]interface{}{
			"message_id": msg.ID,
			"status":     string(models.MessageStatusFailed),
		})
	}
}

func (d *Dispatcher) notifyDelivered(ctx context.Context, senderID, recipientID, messageID string) {
	d.emit(ctx, senderID, models.EventDeliveryStatus, map[string]interface{}{
		"message_id": messageID,
		"status":     string(models.MessageStatusDelivered),
	})
	d.emit(ctx, recipientID, models.EventMessageReceived, map[string]interface{}{
		"message_id": messageID,
	})
}

func (d *Dispatcher) notifyFailed(ctx context.Context, senderID, messageID string, cause error) {
	d.emit(ctx, senderID, models.EventDeliveryStatus, map[string]interface{}{
		"message_id": messageID,
		"status":     string(models.MessageStatusFailed),
		"error":      cause.Error(),
	})
}

// emit respects the recipient's notification preferences; missing
// preferences default to on.
func (d *Dispatcher) emit(ctx context.Context, userID string, eventType models.EventType, data map[string]interface{}) {
	prefs, err := d.users.GetPreferences(ctx, userID)
	if err == nil && prefs != nil {
		switch eventType {
		case models.EventMessageReceived:
			if !prefs.NotifyMessageReceived {
				return
			}
		case models.EventDeliveryStatus:
			if !prefs.NotifyDeliveryStatus {
				return
			}
		}
	}
	d.notifier.Emit(userID, eventType, data)
}
