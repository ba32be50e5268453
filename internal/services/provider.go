package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/paindiary-backend/internal/apperr"
	"github.com/yungbote/paindiary-backend/internal/logger"
	"github.com/yungbote/paindiary-backend/internal/repos"
	"github.com/yungbote/paindiary-backend/internal/types"
)

var providerMutableFields = map[string]bool{
	"external_id":   true,
	"name":          true,
	"specialty":     true,
	"organization":  true,
	"contact_email": true,
	"contact_phone": true,
}

type ProviderService interface {
	Create(ctx context.Context, provider *types.Provider) (*types.Provider, error)
	GetByID(ctx context.Context, id uuid.UUID) (*types.Provider, error)
	Update(ctx context.Context, id uuid.UUID, updates map[string]interface{}) (*types.Provider, error)
	// Delete removes the provider. Export jobs keep running with their
	// provider reference nulled; the provider's grants are removed.
	Delete(ctx context.Context, id uuid.UUID) error
}

type providerService struct {
	db  *gorm.DB
	log *logger.Logger

	providerRepo repos.ProviderRepo
	grantRepo    repos.AccessGrantRepo
	jobRepo      repos.ExportJobRepo
}

func NewProviderService(db *gorm.DB, baseLog *logger.Logger, providerRepo repos.ProviderRepo, grantRepo repos.AccessGrantRepo, jobRepo repos.ExportJobRepo) ProviderService {
	return &providerService{
		db:           db,
		log:          baseLog.With("service", "ProviderService"),
		providerRepo: providerRepo,
		grantRepo:    grantRepo,
		jobRepo:      jobRepo,
	}
}

func (ps *providerService) Create(ctx context.Context, provider *types.Provider) (*types.Provider, error) {
	if provider == nil {
		return nil, apperr.Validationf("provider required")
	}
	if provider.Name == "" {
		return nil, apperr.Validationf("provider name is required")
	}
	now := time.Now()
	provider.ID = uuid.New()
	provider.CreatedAt = now
	provider.UpdatedAt = now
	if _, err := ps.providerRepo.Create(ctx, nil, []*types.Provider{provider}); err != nil {
		return nil, fmt.Errorf("create provider: %w", err)
	}
	ps.log.Info("Provider created", "provider_id", provider.ID, "name", provider.Name)
	return provider, nil
}

func (ps *providerService) GetByID(ctx context.Context, id uuid.UUID) (*types.Provider, error) {
	providers, err := ps.providerRepo.GetByIDs(ctx, nil, []uuid.UUID{id})
	if err != nil {
		return nil, fmt.Errorf("load provider: %w", err)
	}
	if len(providers) == 0 {
		return nil, apperr.NotFoundf("provider %s", id)
	}
	return providers[0], nil
}

func (ps *providerService) Update(ctx context.Context, id uuid.UUID, updates map[string]interface{}) (*types.Provider, error) {
	if len(updates) == 0 {
		return nil, apperr.Validationf("no updates given")
	}
	for field := range updates {
		if !providerMutableFields[field] {
			return nil, apperr.Validationf("field %q is not updatable", field)
		}
	}
	if _, err := ps.GetByID(ctx, id); err != nil {
		return nil, err
	}
	if err := ps.providerRepo.UpdateFields(ctx, nil, id, updates); err != nil {
		return nil, fmt.Errorf("update provider: %w", err)
	}
	return ps.GetByID(ctx, id)
}

func (ps *providerService) Delete(ctx context.Context, id uuid.UUID) error {
	err := ps.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		providers, err := ps.providerRepo.GetByIDs(ctx, tx, []uuid.UUID{id})
		if err != nil {
			return fmt.Errorf("load provider: %w", err)
		}
		if len(providers) == 0 {
			return apperr.NotFoundf("provider %s", id)
		}
		if err := ps.jobRepo.ClearProviderRefs(ctx, tx, id); err != nil {
			return fmt.Errorf("disassociate export jobs: %w", err)
		}
		if err := ps.grantRepo.DeleteByProvider(ctx, tx, id); err != nil {
			return fmt.Errorf("delete grants: %w", err)
		}
		if err := ps.providerRepo.DeleteByID(ctx, tx, id); err != nil {
			return fmt.Errorf("delete provider: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	ps.log.Info("Provider deleted", "provider_id", id)
	return nil
}
