package repository

import (
	"context"
	"errors"
	"time"

	"mahilo/internal/models"

	"gorm.io/gorm"
)

// HistoryDirection selects which side of the conversation history returns.
type HistoryDirection string

const (
	// HistoryDirectionSent returns messages the user sent.
	HistoryDirectionSent HistoryDirection = "sent"
	// HistoryDirectionReceived returns messages addressed to the user.
	HistoryDirectionReceived HistoryDirection = "received"
	// HistoryDirectionBoth returns both sides.
	HistoryDirectionBoth HistoryDirection = "both"
)

// MessageRepository defines the interface for message and delivery data operations
type MessageRepository interface {
	Create(ctx context.Context, msg *models.Message) error
	GetByID(ctx context.Context, id string) (*models.Message, error)
	GetByIdempotencyKey(ctx context.Context, senderID, key string) (*models.Message, error)
	MarkDelivered(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id string) error
	IncrementRetry(ctx context.Context, id string) error
	SetStatus(ctx context.Context, id string, status models.MessageStatus) error
	History(ctx context.Context, userID string, direction HistoryDirection, since *time.Time, limit int) ([]models.Message, error)
	RecentBetween(ctx context.Context, userID1, userID2 string, limit int) ([]models.Message, error)
	CountBetween(ctx context.Context, userID1, userID2 string) (int64, error)
	ListPendingUserMessages(ctx context.Context, maxRetries int, staleBefore time.Time) ([]models.Message, error)

	CreateDelivery(ctx context.Context, d *models.MessageDelivery) error
	GetDelivery(ctx context.Context, id string) (*models.MessageDelivery, error)
	MarkDeliveryDelivered(ctx context.Context, id string, at time.Time) error
	MarkDeliveryFailed(ctx context.Context, id string, errMsg string) error
	IncrementDeliveryRetry(ctx context.Context, id string) error
	ListDeliveriesByMessage(ctx context.Context, messageID string) ([]models.MessageDelivery, error)
	ListPendingDeliveries(ctx context.Context, maxRetries int, staleBefore time.Time) ([]models.MessageDelivery, error)
}

type messageRepository struct {
	db *gorm.DB
}

// NewMessageRepository creates a new message repository
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) Create(ctx context.Context, msg *models.Message) error {
	if err := r.db.WithContext(ctx).Create(msg).Error; err != nil {
		if IsDuplicate(err) {
			return models.NewConflictError("Duplicate idempotency key")
		}
		return models.NewInternalError(err)
	}
	return nil
}

func (r *messageRepository) GetByID(ctx context.Context, id string) (*models.Message, error) {
	var msg models.Message
	if err := r.db.WithContext(ctx).First(&msg, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Message")
		}
		return nil, models.NewInternalError(err)
	}
	return &msg, nil
}

func (r *messageRepository) GetByIdempotencyKey(ctx context.Context, senderID, key string) (*models.Message, error) {
	var msg models.Message
	if err := r.db.WithContext(ctx).
		Where("sender_user_id = ? AND idempotency_key = ?", senderID, key).
		First(&msg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, models.NewInternalError(err)
	}
	return &msg, nil
}

func (r *messageRepository) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	if err := r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       models.MessageStatusDelivered,
			"delivered_at": at,
		}).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *messageRepository) MarkFailed(ctx context.Context, id string) error {
	return r.SetStatus(ctx, id, models.MessageStatusFailed)
}

func (r *messageRepository) IncrementRetry(ctx context.Context, id string) error {
	if err := r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("id = ?", id).
		Update("retry_count", gorm.Expr("retry_count + 1")).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *messageRepository) SetStatus(ctx context.Context, id string, status models.MessageStatus) error {
	if err := r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("id = ?", id).
		Update("status", status).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *messageRepository) History(ctx context.Context, userID string, direction HistoryDirection, since *time.Time, limit int) ([]models.Message, error) {
	q := r.db.WithContext(ctx).Model(&models.Message{})

	switch direction {
	case HistoryDirectionSent:
		q = q.Where("sender_user_id = ?", userID)
	case HistoryDirectionReceived:
		q = q.Where("recipient_type = ? AND recipient_id = ?", models.RecipientTypeUser, userID)
	default:
		q = q.Where("sender_user_id = ? OR (recipient_type = ? AND recipient_id = ?)",
			userID, models.RecipientTypeUser, userID)
	}
	if since != nil {
		q = q.Where("created_at >= ?", *since)
	}

	var msgs []models.Message
	if err := q.Order("created_at DESC").Limit(limit).Find(&msgs).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return msgs, nil
}

// RecentBetween returns the latest direct messages exchanged between the
// pair, newest first.
func (r *messageRepository) RecentBetween(ctx context.Context, userID1, userID2 string, limit int) ([]models.Message, error) {
	var msgs []models.Message
	if err := r.db.WithContext(ctx).
		Where("recipient_type = ? AND ((sender_user_id = ? AND recipient_id = ?) OR (sender_user_id = ? AND recipient_id = ?))",
			models.RecipientTypeUser, userID1, userID2, userID2, userID1).
		Order("created_at DESC").
		Limit(limit).
		Find(&msgs).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return msgs, nil
}

func (r *messageRepository) CountBetween(ctx context.Context, userID1, userID2 string) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("recipient_type = ? AND ((sender_user_id = ? AND recipient_id = ?) OR (sender_user_id = ? AND recipient_id = ?))",
			models.RecipientTypeUser, userID1, userID2, userID2, userID1).
		Count(&count).Error; err != nil {
		return 0, models.NewInternalError(err)
	}
	return count, nil
}

// ListPendingUserMessages returns user-targeted messages still awaiting
// redelivery. The retry processor is driven entirely from this persistent
// state so it survives process restarts. Rows with retry_count 0 normally
// belong to an in-flight first attempt on the send path; they are included
// only once older than staleBefore, which recovers messages orphaned by a
// crash between persist and the first attempt's outcome write.
func (r *messageRepository) ListPendingUserMessages(ctx context.Context, maxRetries int, staleBefore time.Time) ([]models.Message, error) {
	var msgs []models.Message
	if err := r.db.WithContext(ctx).
		Where("status = ? AND recipient_type = ? AND retry_count <= ? AND (retry_count > 0 OR updated_at < ?)",
			models.MessageStatusPending, models.RecipientTypeUser, maxRetries, staleBefore).
		Order("updated_at ASC").
		Find(&msgs).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return msgs, nil
}

func (r *messageRepository) CreateDelivery(ctx context.Context, d *models.MessageDelivery) error {
	if err := r.db.WithContext(ctx).Create(d).Error; err != nil {
		if IsDuplicate(err) {
			return models.NewConflictError("Delivery already recorded for this connection")
		}
		return models.NewInternalError(err)
	}
	return nil
}

func (r *messageRepository) GetDelivery(ctx context.Context, id string) (*models.MessageDelivery, error) {
	var d models.MessageDelivery
	if err := r.db.WithContext(ctx).First(&d, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Delivery")
		}
		return nil, models.NewInternalError(err)
	}
	return &d, nil
}

func (r *messageRepository) MarkDeliveryDelivered(ctx context.Context, id string, at time.Time) error {
	if err := r.db.WithContext(ctx).
		Model(&models.MessageDelivery{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       models.DeliveryStatusDelivered,
			"delivered_at": at,
		}).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *messageRepository) MarkDeliveryFailed(ctx context.Context, id string, errMsg string) error {
	if err := r.db.WithContext(ctx).
		Model(&models.MessageDelivery{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        models.DeliveryStatusFailed,
			"error_message": errMsg,
		}).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *messageRepository) IncrementDeliveryRetry(ctx context.Context, id string) error {
	if err := r.db.WithContext(ctx).
		Model(&models.MessageDelivery{}).
		Where("id = ?", id).
		Update("retry_count", gorm.Expr("retry_count + 1")).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *messageRepository) ListDeliveriesByMessage(ctx context.Context, messageID string) ([]models.MessageDelivery, error) {
	var ds []models.MessageDelivery
	if err := r.db.WithContext(ctx).
		Where("message_id = ?", messageID).
		Order("created_at ASC").
		Find(&ds).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return ds, nil
}

func (r *messageRepository) ListPendingDeliveries(ctx context.Context, maxRetries int, staleBefore time.Time) ([]models.MessageDelivery, error) {
	var ds []models.MessageDelivery
	if err := r.db.WithContext(ctx).
		Where("status = ? AND retry_count <= ? AND (retry_count > 0 OR updated_at < ?)",
			models.DeliveryStatusPending, maxRetries, staleBefore).
		Order("updated_at ASC").
		Find(&ds).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return ds, nil
}
