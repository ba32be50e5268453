package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/paindiary-backend/internal/logger"
	"github.com/yungbote/paindiary-backend/internal/types"
)

type ExportJobRepo interface {
	Create(ctx context.Context, tx *gorm.DB, jobs []*types.ExportJob) ([]*types.ExportJob, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, jobIDs []uuid.UUID) ([]*types.ExportJob, error)
	ListByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.ExportJob, error)
	// ClaimNextPending leases the oldest pending job whose lease is absent or
	// stale. The claim is a compare-and-swap on (status, locked_at) so at most
	// one worker holds a given job; nil means nothing is runnable.
	ClaimNextPending(ctx context.Context, tx *gorm.DB, leaseTimeout time.Duration) (*types.ExportJob, error)
	// MarkSucceeded / MarkFailed transition the job out of pending. The update
	// is guarded on status = pending so exactly one caller wins; the bool
	// reports whether this caller recorded the terminal outcome.
	MarkSucceeded(ctx context.Context, tx *gorm.DB, id uuid.UUID, response datatypes.JSON, fileURI string) (bool, error)
	MarkFailed(ctx context.Context, tx *gorm.DB, id uuid.UUID, response datatypes.JSON) (bool, error)
	ClearProviderRefs(ctx context.Context, tx *gorm.DB, providerID uuid.UUID) error
	DeleteByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) error
}

type exportJobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewExportJobRepo(db *gorm.DB, baseLog *logger.Logger) ExportJobRepo {
	repoLog := baseLog.With("repo", "ExportJobRepo")
	return &exportJobRepo{db: db, log: repoLog}
}

func (jr *exportJobRepo) Create(ctx context.Context, tx *gorm.DB, jobs []*types.ExportJob) ([]*types.ExportJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = jr.db
	}

	if len(jobs) == 0 {
		return []*types.ExportJob{}, nil
	}

	if err := transaction.WithContext(ctx).Create(&jobs).Error; err != nil {
		return nil, err
	}

	return jobs, nil
}

func (jr *exportJobRepo) GetByIDs(ctx context.Context, tx *gorm.DB, jobIDs []uuid.UUID) ([]*types.ExportJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = jr.db
	}

	var results []*types.ExportJob

	if len(jobIDs) == 0 {
		return results, nil
	}

	if err := transaction.WithContext(ctx).
		Where("id IN ?", jobIDs).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (jr *exportJobRepo) ListByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.ExportJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = jr.db
	}

	var results []*types.ExportJob
	if userID == uuid.Nil {
		return results, nil
	}

	if err := transaction.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (jr *exportJobRepo) ClaimNextPending(ctx context.Context, tx *gorm.DB, leaseTimeout time.Duration) (*types.ExportJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = jr.db
	}

	for {
		now := time.Now()
		staleCutoff := now.Add(-leaseTimeout)

		var job types.ExportJob
		err := transaction.WithContext(ctx).
			Where("status = ? AND (locked_at IS NULL OR locked_at < ?)", string(types.ExportStatusPending), staleCutoff).
			Order("created_at ASC").
			Limit(1).
			Find(&job).Error
		if err != nil {
			return nil, err
		}
		if job.ID == uuid.Nil {
			return nil, nil
		}

		res := transaction.WithContext(ctx).
			Model(&types.ExportJob{}).
			Where("id = ? AND status = ? AND (locked_at IS NULL OR locked_at < ?)", job.ID, string(types.ExportStatusPending), staleCutoff).
			Updates(map[string]interface{}{
				"locked_at":  now,
				"updated_at": now,
			})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 1 {
			job.LockedAt = &now
			job.UpdatedAt = now
			return &job, nil
		}
		// Another worker claimed it between select and update; its lease is
		// fresh now, so the next select moves on to a different candidate.
	}
}

func (jr *exportJobRepo) MarkSucceeded(ctx context.Context, tx *gorm.DB, id uuid.UUID, response datatypes.JSON, fileURI string) (bool, error) {
	return jr.finish(ctx, tx, id, map[string]interface{}{
		"status":           string(types.ExportStatusSuccess),
		"response_payload": response,
		"file_uri":         fileURI,
	})
}

func (jr *exportJobRepo) MarkFailed(ctx context.Context, tx *gorm.DB, id uuid.UUID, response datatypes.JSON) (bool, error) {
	return jr.finish(ctx, tx, id, map[string]interface{}{
		"status":           string(types.ExportStatusFailed),
		"response_payload": response,
	})
}

func (jr *exportJobRepo) finish(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = jr.db
	}
	if id == uuid.Nil {
		return false, nil
	}

	now := time.Now()
	updates["completed_at"] = now
	updates["locked_at"] = nil
	updates["updated_at"] = now

	res := transaction.WithContext(ctx).
		Model(&types.ExportJob{}).
		Where("id = ? AND status = ?", id, string(types.ExportStatusPending)).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (jr *exportJobRepo) ClearProviderRefs(ctx context.Context, tx *gorm.DB, providerID uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = jr.db
	}
	if providerID == uuid.Nil {
		return nil
	}
	return transaction.WithContext(ctx).
		Model(&types.ExportJob{}).
		Where("provider_id = ?", providerID).
		Updates(map[string]interface{}{
			"provider_id": nil,
			"updated_at":  time.Now(),
		}).Error
}

func (jr *exportJobRepo) DeleteByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = jr.db
	}
	if userID == uuid.Nil {
		return nil
	}
	return transaction.WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&types.ExportJob{}).Error
}
