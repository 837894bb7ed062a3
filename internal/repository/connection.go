package repository

import (
	"context"
	"errors"
	"time"

	"mahilo/internal/models"

	"gorm.io/gorm"
)

// ConnectionRepository defines the interface for agent connection data operations
type ConnectionRepository interface {
	Create(ctx context.Context, conn *models.AgentConnection) error
	Update(ctx context.Context, conn *models.AgentConnection) error
	GetByID(ctx context.Context, id string) (*models.AgentConnection, error)
	GetByOwnerFrameworkLabel(ctx context.Context, userID, framework, label string) (*models.AgentConnection, error)
	ListByUser(ctx context.Context, userID string) ([]models.AgentConnection, error)
	ListActiveByUser(ctx context.Context, userID string) ([]models.AgentConnection, error)
	TouchLastSeen(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) error
}

type connectionRepository struct {
	db *gorm.DB
}

// NewConnectionRepository creates a new agent connection repository
func NewConnectionRepository(db *gorm.DB) ConnectionRepository {
	return &connectionRepository{db: db}
}

func (r *connectionRepository) Create(ctx context.Context, conn *models.AgentConnection) error {
	if err := r.db.WithContext(ctx).Create(conn).Error; err != nil {
		if IsDuplicate(err) {
			return models.NewConflictError("Connection already registered for this framework and label")
		}
		return models.NewInternalError(err)
	}
	return nil
}

func (r *connectionRepository) Update(ctx context.Context, conn *models.AgentConnection) error {
	if err := r.db.WithContext(ctx).Save(conn).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *connectionRepository) GetByID(ctx context.Context, id string) (*models.AgentConnection, error) {
	var conn models.AgentConnection
	if err := r.db.WithContext(ctx).First(&conn, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Connection")
		}
		return nil, models.NewInternalError(err)
	}
	return &conn, nil
}

func (r *connectionRepository) GetByOwnerFrameworkLabel(ctx context.Context, userID, framework, label string) (*models.AgentConnection, error) {
	var conn models.AgentConnection
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND framework = ? AND label = ?", userID, framework, label).
		First(&conn).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, models.NewInternalError(err)
	}
	return &conn, nil
}

func (r *connectionRepository) ListByUser(ctx context.Context, userID string) ([]models.AgentConnection, error) {
	var conns []models.AgentConnection
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("routing_priority DESC, created_at ASC").
		Find(&conns).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return conns, nil
}

// ListActiveByUser returns active connections in stable routing order:
// highest routing priority first, oldest first within a priority.
func (r *connectionRepository) ListActiveByUser(ctx context.Context, userID string) ([]models.AgentConnection, error) {
	var conns []models.AgentConnection
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, models.ConnectionStatusActive).
		Order("routing_priority DESC, created_at ASC").
		Find(&conns).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return conns, nil
}

func (r *connectionRepository) TouchLastSeen(ctx context.Context, id string, at time.Time) error {
	if err := r.db.WithContext(ctx).
		Model(&models.AgentConnection{}).
		Where("id = ?", id).
		Update("last_seen", at).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *connectionRepository) Delete(ctx context.Context, id string) error {
	if err := r.db.WithContext(ctx).
		Delete(&models.AgentConnection{}, "id = ?", id).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}
