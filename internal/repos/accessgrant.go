package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/paindiary-backend/internal/logger"
	"github.com/yungbote/paindiary-backend/internal/types"
)

type AccessGrantRepo interface {
	// Upsert writes the single grant row for (user_id, provider_id). A second
	// write for the same pair replaces level and window in place.
	Upsert(ctx context.Context, tx *gorm.DB, grant *types.AccessGrant) (*types.AccessGrant, error)
	GetByPair(ctx context.Context, tx *gorm.DB, userID, providerID uuid.UUID) (*types.AccessGrant, error)
	ListByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.AccessGrant, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	DeleteByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) error
	DeleteByProvider(ctx context.Context, tx *gorm.DB, providerID uuid.UUID) error
}

type accessGrantRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAccessGrantRepo(db *gorm.DB, baseLog *logger.Logger) AccessGrantRepo {
	repoLog := baseLog.With("repo", "AccessGrantRepo")
	return &accessGrantRepo{db: db, log: repoLog}
}

func (gr *accessGrantRepo) Upsert(ctx context.Context, tx *gorm.DB, grant *types.AccessGrant) (*types.AccessGrant, error) {
	transaction := tx
	if transaction == nil {
		transaction = gr.db
	}
	if grant == nil {
		return nil, nil
	}

	if err := transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "provider_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"access_level", "starts_at", "expires_at", "updated_at"}),
		}).
		Create(grant).Error; err != nil {
		return nil, err
	}

	// On a conflict update the generated struct keeps the caller's id, not the
	// surviving row's. Re-read so callers always see the canonical row.
	return gr.GetByPair(ctx, transaction, grant.UserID, grant.ProviderID)
}

func (gr *accessGrantRepo) GetByPair(ctx context.Context, tx *gorm.DB, userID, providerID uuid.UUID) (*types.AccessGrant, error) {
	transaction := tx
	if transaction == nil {
		transaction = gr.db
	}
	if userID == uuid.Nil || providerID == uuid.Nil {
		return nil, nil
	}

	var grant types.AccessGrant
	err := transaction.WithContext(ctx).
		Where("user_id = ? AND provider_id = ?", userID, providerID).
		Limit(1).
		Find(&grant).Error
	if err != nil {
		return nil, err
	}
	if grant.ID == uuid.Nil {
		return nil, nil
	}
	return &grant, nil
}

func (gr *accessGrantRepo) ListByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.AccessGrant, error) {
	transaction := tx
	if transaction == nil {
		transaction = gr.db
	}

	var results []*types.AccessGrant
	if userID == uuid.Nil {
		return results, nil
	}

	if err := transaction.WithContext(ctx).
		Where("user_id = ?", userID).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (gr *accessGrantRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = gr.db
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
		Model(&types.AccessGrant{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (gr *accessGrantRepo) DeleteByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = gr.db
	}
	if userID == uuid.Nil {
		return nil
	}
	return transaction.WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&types.AccessGrant{}).Error
}

func (gr *accessGrantRepo) DeleteByProvider(ctx context.Context, tx *gorm.DB, providerID uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = gr.db
	}
	if providerID == uuid.Nil {
		return nil
	}
	return transaction.WithContext(ctx).
		Where("provider_id = ?", providerID).
		Delete(&types.AccessGrant{}).Error
}
