package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/paindiary-backend/internal/logger"
	"github.com/yungbote/paindiary-backend/internal/types"
)

type ProviderRepo interface {
	Create(ctx context.Context, tx *gorm.DB, providers []*types.Provider) ([]*types.Provider, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, providerIDs []uuid.UUID) ([]*types.Provider, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	DeleteByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type providerRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewProviderRepo(db *gorm.DB, baseLog *logger.Logger) ProviderRepo {
	repoLog := baseLog.With("repo", "ProviderRepo")
	return &providerRepo{db: db, log: repoLog}
}

func (pr *providerRepo) Create(ctx context.Context, tx *gorm.DB, providers []*types.Provider) ([]*types.Provider, error) {
	transaction := tx
	if transaction == nil {
		transaction = pr.db
	}

	if len(providers) == 0 {
		return []*types.Provider{}, nil
	}

	if err := transaction.WithContext(ctx).Create(&providers).Error; err != nil {
		return nil, err
	}

	return providers, nil
}

func (pr *providerRepo) GetByIDs(ctx context.Context, tx *gorm.DB, providerIDs []uuid.UUID) ([]*types.Provider, error) {
	transaction := tx
	if transaction == nil {
		transaction = pr.db
	}

	var results []*types.Provider

	if len(providerIDs) == 0 {
		return results, nil
	}

	if err := transaction.WithContext(ctx).
		Where("id IN ?", providerIDs).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (pr *providerRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = pr.db
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
		Model(&types.Provider{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (pr *providerRepo) DeleteByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = pr.db
	}
	if id == uuid.Nil {
		return nil
	}
	return transaction.WithContext(ctx).
		Where("id = ?", id).
		Delete(&types.Provider{}).Error
}
