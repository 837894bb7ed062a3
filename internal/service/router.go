package service

import (
	"context"
	"log/slog"
	"time"

	"mahilo/internal/config"
	"mahilo/internal/delivery"
	"mahilo/internal/models"
	"mahilo/internal/observability"
	"mahilo/internal/repository"
)

// RoutingHints narrow which recipient connection should receive the message.
// Labels match a connection's label exactly; tags match against its
// capability list. Both are advisory and fall back to priority routing when
// nothing matches.
type RoutingHints struct {
	Labels []string `json:"labels,omitempty"`
	Tags   []string `json:"tags,omitempty"`
}

// SendRequest is one message submission.
type SendRequest struct {
	Recipient             string                 `json:"recipient"`
	RecipientType         models.RecipientType   `json:"recipientType,omitempty"`
	RecipientConnectionID string                 `json:"recipientConnectionId,omitempty"`
	Payload               string                 `json:"message"`
	PayloadType           string                 `json:"payloadType,omitempty"`
	Context               string                 `json:"context,omitempty"`
	CorrelationID         string                 `json:"correlationId,omitempty"`
	SenderAgent           string                 `json:"senderAgent,omitempty"`
	IdempotencyKey        string                 `json:"idempotencyKey,omitempty"`
	Encryption            *models.EncryptionInfo `json:"encryption,omitempty"`
	Signature             *models.SignatureInfo  `json:"senderSignature,omitempty"`
	Routing               *RoutingHints          `json:"routingHints,omitempty"`
}

// SendResult is returned to the submitting agent.
type SendResult struct {
	Message *models.Message `json:"message"`
	// Deduplicated is true when an idempotency key matched an earlier send
	// and that original message is returned unchanged.
	Deduplicated bool `json:"deduplicated,omitempty"`
	// Warnings surfaces non-fatal policy evaluation notes.
	Warnings []string `json:"warnings,omitempty"`
}

// Router is the message send pipeline: authorization, policy evaluation,
// persistence, and the synchronous first delivery attempt. Retries after a
// failed first attempt run in the background.
type Router struct {
	cfg        *config.Config
	msgs       repository.MessageRepository
	users      repository.UserRepository
	friends    repository.FriendRepository
	groups     repository.GroupRepository
	conns      repository.ConnectionRepository
	engine     *PolicyEngine
	dispatcher *delivery.Dispatcher
}

// NewRouter creates a new router
func NewRouter(cfg *config.Config, msgs repository.MessageRepository, users repository.UserRepository, friends repository.FriendRepository, groups repository.GroupRepository, conns repository.ConnectionRepository, engine *PolicyEngine, dispatcher *delivery.Dispatcher) *Router {
	return &Router{
		cfg:        cfg,
		msgs:       msgs,
		users:      users,
		friends:    friends,
		groups:     groups,
		conns:      conns,
		engine:     engine,
		dispatcher: dispatcher,
	}
}

// Send accepts a message for delivery. The first delivery attempt happens
// before Send returns, so the caller sees delivered immediately when the
// recipient's callback answers; a failed first attempt leaves the message
// pending for the retry processor. Client cancellation does not abort an
// accepted delivery.
func (r *Router) Send(ctx context.Context, sender *models.User, req SendRequest) (*SendResult, error) {
	if req.Payload == "" {
		return nil, models.NewValidationError("message is required")
	}
	if len(req.Payload) > r.cfg.MaxPayloadBytes {
		return nil, models.NewPayloadTooLargeError(r.cfg.MaxPayloadBytes)
	}
	if req.Recipient == "" {
		return nil, models.NewValidationError("recipient is required")
	}
	if req.PayloadType == "" {
		req.PayloadType = models.PayloadTypeDefault
	}
	if req.RecipientType == "" {
		req.RecipientType = models.RecipientTypeUser
	}

	if req.IdempotencyKey != "" {
		existing, err := r.msgs.GetByIdempotencyKey(ctx, sender.ID, req.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return &SendResult{Message: existing, Deduplicated: true}, nil
		}
	}

	switch req.RecipientType {
	case models.RecipientTypeUser:
		return r.sendToUser(ctx, sender, req)
	case models.RecipientTypeGroup:
		return r.sendToGroup(ctx, sender, req)
	default:
		return nil, models.NewValidationError("recipientType must be user or group")
	}
}

func (r *Router) sendToUser(ctx context.Context, sender *models.User, req SendRequest) (*SendResult, error) {
	recipient, err := r.users.GetByUsername(ctx, req.Recipient)
	if err != nil {
		return nil, err
	}
	if recipient.ID == sender.ID {
		return nil, models.NewValidationError("Cannot message yourself")
	}

	edge, err := r.friends.GetFriendshipBetweenUsers(ctx, sender.ID, recipient.ID)
	if err != nil {
		return nil, err
	}
	if edge == nil || edge.Status != models.FriendshipStatusAccepted {
		if edge != nil && edge.Status == models.FriendshipStatusBlocked {
			return nil, models.NewForbiddenError("Cannot message this user")
		}
		return nil, models.NewForbiddenError("Recipients must be accepted friends")
	}

	decision, err := r.engine.EvaluateUserSend(ctx, SendInput{
		Sender:            sender,
		RecipientUser:     recipient,
		RecipientUsername: recipient.Username,
		Payload:           req.Payload,
		PayloadType:       req.PayloadType,
		Context:           req.Context,
	})
	if err != nil {
		return nil, err
	}

	msg := r.newMessage(sender, req, models.RecipientTypeUser, recipient.ID)
	if !decision.Allowed {
		msg.Status = models.MessageStatusRejected
		msg.RejectionReason = &decision.Reason
		if _, err := r.persist(ctx, sender.ID, msg, req.IdempotencyKey); err != nil {
			return nil, err
		}
		return &SendResult{Message: msg, Warnings: decision.Warnings}, nil
	}

	conn, pinned, err := r.selectConnection(ctx, recipient.ID, req.RecipientConnectionID, req.Routing)
	if err != nil {
		return nil, err
	}
	if pinned {
		msg.RecipientConnectionID = &conn.ID
	}

	deduped, err := r.persist(ctx, sender.ID, msg, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if deduped {
		return &SendResult{Message: msg, Deduplicated: true, Warnings: decision.Warnings}, nil
	}

	// First attempt runs before returning, on a context that survives client
	// cancellation. The sender HTTP timeout bounds the wall time.
	r.dispatcher.AttemptMessage(context.WithoutCancel(ctx), msg)

	fresh, err := r.msgs.GetByID(ctx, msg.ID)
	if err != nil {
		return nil, err
	}
	return &SendResult{Message: fresh, Warnings: decision.Warnings}, nil
}

func (r *Router) sendToGroup(ctx context.Context, sender *models.User, req SendRequest) (*SendResult, error) {
	group, err := r.groups.GetByName(ctx, req.Recipient)
	if err != nil {
		return nil, err
	}
	membership, err := r.groups.GetMembership(ctx, group.ID, sender.ID)
	if err != nil {
		return nil, err
	}
	if membership == nil || membership.Status != models.MembershipStatusActive {
		return nil, models.NewForbiddenError("Only active members can message a group")
	}

	decision, err := r.engine.EvaluateGroupSend(ctx, SendInput{
		Sender:            sender,
		RecipientGroupID:  group.ID,
		RecipientUsername: group.Name,
		Payload:           req.Payload,
		PayloadType:       req.PayloadType,
		Context:           req.Context,
	})
	if err != nil {
		return nil, err
	}

	msg := r.newMessage(sender, req, models.RecipientTypeGroup, group.ID)
	if !decision.Allowed {
		msg.Status = models.MessageStatusRejected
		msg.RejectionReason = &decision.Reason
		if _, err := r.persist(ctx, sender.ID, msg, req.IdempotencyKey); err != nil {
			return nil, err
		}
		return &SendResult{Message: msg, Warnings: decision.Warnings}, nil
	}

	members, err := r.groups.ListActiveMembers(ctx, group.ID)
	if err != nil {
		return nil, err
	}

	deduped, err := r.persist(ctx, sender.ID, msg, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if deduped {
		return &SendResult{Message: msg, Deduplicated: true, Warnings: decision.Warnings}, nil
	}

	// One child per member, excluding the sender and anyone with a blocked
	// edge to the sender. Members without an active connection get a child
	// that fails immediately and is never retried.
	noConnection := "No active connection"
	var attemptable []models.MessageDelivery
	created := 0
	for _, m := range members {
		if m.UserID == sender.ID {
			continue
		}
		edge, err := r.friends.GetFriendshipBetweenUsers(ctx, sender.ID, m.UserID)
		if err != nil {
			return nil, err
		}
		if edge != nil && edge.Status == models.FriendshipStatusBlocked {
			continue
		}

		child := models.MessageDelivery{
			MessageID:       msg.ID,
			RecipientUserID: m.UserID,
			Status:          models.DeliveryStatusPending,
		}
		conns, err := r.conns.ListActiveByUser(ctx, m.UserID)
		if err != nil {
			return nil, err
		}
		if len(conns) == 0 {
			child.Status = models.DeliveryStatusFailed
			child.ErrorMessage = &noConnection
		} else {
			child.RecipientConnectionID = &conns[0].ID
		}
		if err := r.msgs.CreateDelivery(ctx, &child); err != nil {
			return nil, err
		}
		created++
		if child.Status == models.DeliveryStatusPending {
			attemptable = append(attemptable, child)
		}
	}

	if created == 0 {
		// Nobody to deliver to; vacuously complete.
		now := time.Now().UTC()
		if err := r.msgs.MarkDelivered(ctx, msg.ID, now); err != nil {
			return nil, err
		}
		msg.Status = models.MessageStatusDelivered
		msg.DeliveredAt = &now
		return &SendResult{Message: msg, Warnings: decision.Warnings}, nil
	}

	detached := context.WithoutCancel(ctx)
	for i := range attemptable {
		r.dispatcher.AttemptDelivery(detached, &attemptable[i])
	}
	r.dispatcher.SyncParentStatus(detached, msg)

	observability.Logger().Info("group fan-out completed first pass",
		slog.String("message_id", msg.ID),
		slog.String("group_id", group.ID),
		slog.Int("recipients", created))

	fresh, err := r.msgs.GetByID(ctx, msg.ID)
	if err != nil {
		return nil, err
	}
	return &SendResult{Message: fresh, Warnings: decision.Warnings}, nil
}

func (r *Router) newMessage(sender *models.User, req SendRequest, rt models.RecipientType, recipientID string) *models.Message {
	msg := &models.Message{
		CorrelationID: req.CorrelationID,
		SenderUserID:  sender.ID,
		SenderAgent:   req.SenderAgent,
		RecipientType: rt,
		RecipientID:   recipientID,
		Payload:       req.Payload,
		PayloadType:   req.PayloadType,
		Context:       req.Context,
		Status:        models.MessageStatusPending,
	}
	if req.Encryption != nil {
		msg.Encryption = models.JSONColumn[models.EncryptionInfo]{Valid: true, Data: *req.Encryption}
	}
	if req.Signature != nil {
		msg.SenderSignature = models.JSONColumn[models.SignatureInfo]{Valid: true, Data: *req.Signature}
	}
	return msg
}

// persist inserts the message, resolving an idempotency-key race by
// returning the concurrently inserted original. The bool reports whether the
// race fired and msg now holds the original.
func (r *Router) persist(ctx context.Context, senderID string, msg *models.Message, idempotencyKey string) (bool, error) {
	if idempotencyKey != "" {
		msg.IdempotencyKey = &idempotencyKey
	}
	err := r.msgs.Create(ctx, msg)
	if err == nil {
		return false, nil
	}
	if appErr, ok := err.(*models.AppError); ok && appErr.Code == models.CodeConflict && idempotencyKey != "" {
		original, getErr := r.msgs.GetByIdempotencyKey(ctx, senderID, idempotencyKey)
		if getErr == nil && original != nil {
			*msg = *original
			return true, nil
		}
	}
	return false, err
}

// selectConnection resolves the delivery target at request time. An explicit
// connection id is binding and must be an active connection of the recipient;
// otherwise label hints are tried first, then tag hints against capabilities,
// then the highest-priority active connection. A recipient with no active
// connections is unreachable, reported as not found. The returned pinned flag
// is true only for hinted selections; default routing re-resolves on retry.
func (r *Router) selectConnection(ctx context.Context, recipientID, explicitID string, hints *RoutingHints) (*models.AgentConnection, bool, error) {
	if explicitID != "" {
		conn, err := r.conns.GetByID(ctx, explicitID)
		if err != nil {
			return nil, false, models.NewNotFoundError("Connection")
		}
		if conn.UserID != recipientID || conn.Status != models.ConnectionStatusActive {
			return nil, false, models.NewNotFoundError("Connection")
		}
		return conn, true, nil
	}

	conns, err := r.conns.ListActiveByUser(ctx, recipientID)
	if err != nil {
		return nil, false, err
	}
	if len(conns) == 0 {
		return nil, false, &models.AppError{
			Code:    models.CodeNotFound,
			Message: "Recipient has no active connections",
		}
	}

	if hints != nil {
		for _, label := range hints.Labels {
			for i := range conns {
				if conns[i].Label == label {
					return &conns[i], true, nil
				}
			}
		}
		for _, tag := range hints.Tags {
			for i := range conns {
				if conns[i].Capabilities.Contains(tag) {
					return &conns[i], true, nil
				}
			}
		}
	}
	return &conns[0], false, nil
}

// History returns the caller's message history, newest first.
func (r *Router) History(ctx context.Context, userID string, direction repository.HistoryDirection, since *time.Time, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	switch direction {
	case repository.HistoryDirectionSent, repository.HistoryDirectionReceived, repository.HistoryDirectionBoth, "":
	default:
		return nil, models.NewValidationError("direction must be sent, received or both")
	}
	if direction == "" {
		direction = repository.HistoryDirectionBoth
	}
	return r.msgs.History(ctx, userID, direction, since, limit)
}

// GetMessage returns a message the caller sent or received, with fan-out
// children for group sends.
func (r *Router) GetMessage(ctx context.Context, userID, messageID string) (*models.Message, []models.MessageDelivery, error) {
	msg, err := r.msgs.GetByID(ctx, messageID)
	if err != nil {
		return nil, nil, err
	}
	authorized := msg.SenderUserID == userID ||
		(msg.RecipientType == models.RecipientTypeUser && msg.RecipientID == userID)
	if !authorized && msg.RecipientType == models.RecipientTypeGroup {
		membership, err := r.groups.GetMembership(ctx, msg.RecipientID, userID)
		if err != nil {
			return nil, nil, err
		}
		authorized = membership != nil && membership.Status == models.MembershipStatusActive
	}
	if !authorized {
		return nil, nil, models.NewNotFoundError("Message")
	}

	var children []models.MessageDelivery
	if msg.RecipientType == models.RecipientTypeGroup && msg.SenderUserID == userID {
		children, err = r.msgs.ListDeliveriesByMessage(ctx, messageID)
		if err != nil {
			return nil, nil, err
		}
	}
	return msg, children, nil
}
