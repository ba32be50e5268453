package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/paindiary-backend/internal/logger"
	"github.com/yungbote/paindiary-backend/internal/types"
)

type PainEventRepo interface {
	Create(ctx context.Context, tx *gorm.DB, events []*types.PainEvent) ([]*types.PainEvent, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, eventIDs []uuid.UUID) ([]*types.PainEvent, error)
	ListByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.PainEvent, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	DeleteByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) error
}

type painEventRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPainEventRepo(db *gorm.DB, baseLog *logger.Logger) PainEventRepo {
	repoLog := baseLog.With("repo", "PainEventRepo")
	return &painEventRepo{db: db, log: repoLog}
}

func (er *painEventRepo) Create(ctx context.Context, tx *gorm.DB, events []*types.PainEvent) ([]*types.PainEvent, error) {
	transaction := tx
	if transaction == nil {
		transaction = er.db
	}

	if len(events) == 0 {
		return []*types.PainEvent{}, nil
	}

	if err := transaction.WithContext(ctx).Create(&events).Error; err != nil {
		return nil, err
	}

	return events, nil
}

func (er *painEventRepo) GetByIDs(ctx context.Context, tx *gorm.DB, eventIDs []uuid.UUID) ([]*types.PainEvent, error) {
	transaction := tx
	if transaction == nil {
		transaction = er.db
	}

	var results []*types.PainEvent

	if len(eventIDs) == 0 {
		return results, nil
	}

	if err := transaction.WithContext(ctx).
		Where("id IN ?", eventIDs).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (er *painEventRepo) ListByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.PainEvent, error) {
	transaction := tx
	if transaction == nil {
		transaction = er.db
	}

	var results []*types.PainEvent
	if userID == uuid.Nil {
		return results, nil
	}

	if err := transaction.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("occurred_at ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (er *painEventRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = er.db
	}
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(ctx).
		Model(&types.PainEvent{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (er *painEventRepo) DeleteByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = er.db
	}
	if userID == uuid.Nil {
		return nil
	}
	return transaction.WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&types.PainEvent{}).Error
}
