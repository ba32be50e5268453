package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/paindiary-backend/internal/apperr"
	"github.com/yungbote/paindiary-backend/internal/logger"
	"github.com/yungbote/paindiary-backend/internal/repos"
	"github.com/yungbote/paindiary-backend/internal/types"
)

// ActiveGrant is one row of "who can currently see my data".
type ActiveGrant struct {
	Provider  *types.Provider `json:"provider"`
	Level     types.AccessLevel `json:"level"`
	StartsAt  time.Time       `json:"starts_at"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
}

// GrantOverviewEntry is the unfiltered configured-grant view joined with
// display fields. Callers needing "active now" apply the instant filter
// themselves or use ListActiveGrants.
type GrantOverviewEntry struct {
	UserID       uuid.UUID  `json:"user_id"`
	UserEmail    string     `json:"user_email"`
	ProviderID   uuid.UUID  `json:"provider_id"`
	ProviderName string     `json:"provider_name"`
	Level        string     `json:"level"`
	StartsAt     time.Time  `json:"starts_at"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

// AccessGrantService owns the lifecycle of provider-to-user grants and
// answers point-in-time authorization queries. Authorization is recomputed
// from stored state on every check; nothing is cached between checks.
type AccessGrantService interface {
	Grant(ctx context.Context, userID, providerID uuid.UUID, level types.AccessLevel, startsAt time.Time, expiresAt *time.Time) (*types.AccessGrant, error)
	Revoke(ctx context.Context, userID, providerID uuid.UUID) error
	CheckAccess(ctx context.Context, userID, providerID uuid.UUID, at time.Time) (types.AccessLevel, bool, error)
	ListActiveGrants(ctx context.Context, userID uuid.UUID, at time.Time) ([]*ActiveGrant, error)
	ListConfiguredGrants(ctx context.Context, userID uuid.UUID) ([]*GrantOverviewEntry, error)
}

type accessGrantService struct {
	db  *gorm.DB
	log *logger.Logger

	grantRepo    repos.AccessGrantRepo
	userRepo     repos.UserRepo
	providerRepo repos.ProviderRepo
}

func NewAccessGrantService(db *gorm.DB, baseLog *logger.Logger, grantRepo repos.AccessGrantRepo, userRepo repos.UserRepo, providerRepo repos.ProviderRepo) AccessGrantService {
	return &accessGrantService{
		db:           db,
		log:          baseLog.With("service", "AccessGrantService"),
		grantRepo:    grantRepo,
		userRepo:     userRepo,
		providerRepo: providerRepo,
	}
}

func (gs *accessGrantService) Grant(ctx context.Context, userID, providerID uuid.UUID, level types.AccessLevel, startsAt time.Time, expiresAt *time.Time) (*types.AccessGrant, error) {
	if !level.Valid() {
		return nil, apperr.Validationf("invalid access level %q", level)
	}
	if startsAt.IsZero() {
		return nil, apperr.Validationf("starts_at is required")
	}
	if expiresAt != nil && expiresAt.Before(startsAt) {
		return nil, apperr.Validationf("expires_at %s precedes starts_at %s", expiresAt.Format(time.RFC3339), startsAt.Format(time.RFC3339))
	}

	var grant *types.AccessGrant
	err := gs.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		users, err := gs.userRepo.GetByIDs(ctx, tx, []uuid.UUID{userID})
		if err != nil {
			return fmt.Errorf("load user: %w", err)
		}
		if len(users) == 0 {
			return apperr.NotFoundf("user %s", userID)
		}
		providers, err := gs.providerRepo.GetByIDs(ctx, tx, []uuid.UUID{providerID})
		if err != nil {
			return fmt.Errorf("load provider: %w", err)
		}
		if len(providers) == 0 {
			return apperr.NotFoundf("provider %s", providerID)
		}

		now := time.Now()
		grant, err = gs.grantRepo.Upsert(ctx, tx, &types.AccessGrant{
			ID:          uuid.New(),
			UserID:      userID,
			ProviderID:  providerID,
			AccessLevel: string(level),
			StartsAt:    startsAt,
			ExpiresAt:   expiresAt,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		if err != nil {
			return fmt.Errorf("upsert grant: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	gs.log.Info("Access grant written", "user_id", userID, "provider_id", providerID, "level", level)
	return grant, nil
}

func (gs *accessGrantService) Revoke(ctx context.Context, userID, providerID uuid.UUID) error {
	return gs.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		grant, err := gs.grantRepo.GetByPair(ctx, tx, userID, providerID)
		if err != nil {
			return fmt.Errorf("load grant: %w", err)
		}
		if grant == nil {
			// Revoking a pair with no grant changes nothing.
			return nil
		}
		now := time.Now()
		if err := gs.grantRepo.UpdateFields(ctx, tx, grant.ID, map[string]interface{}{
			"expires_at": now,
			"updated_at": now,
		}); err != nil {
			return fmt.Errorf("expire grant: %w", err)
		}
		gs.log.Info("Access grant revoked", "user_id", userID, "provider_id", providerID)
		return nil
	})
}

func (gs *accessGrantService) CheckAccess(ctx context.Context, userID, providerID uuid.UUID, at time.Time) (types.AccessLevel, bool, error) {
	grant, err := gs.grantRepo.GetByPair(ctx, nil, userID, providerID)
	if err != nil {
		return "", false, fmt.Errorf("load grant: %w", err)
	}
	if grant == nil || !grant.ActiveAt(at) {
		return "", false, nil
	}
	return types.AccessLevel(grant.AccessLevel), true, nil
}

func (gs *accessGrantService) ListActiveGrants(ctx context.Context, userID uuid.UUID, at time.Time) ([]*ActiveGrant, error) {
	grants, err := gs.grantRepo.ListByUser(ctx, nil, userID)
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}

	active := make([]*types.AccessGrant, 0, len(grants))
	providerIDs := make([]uuid.UUID, 0, len(grants))
	for _, g := range grants {
		if g == nil || !g.ActiveAt(at) {
			continue
		}
		active = append(active, g)
		providerIDs = append(providerIDs, g.ProviderID)
	}

	providersByID, err := gs.loadProviders(ctx, providerIDs)
	if err != nil {
		return nil, err
	}

	results := make([]*ActiveGrant, 0, len(active))
	for _, g := range active {
		results = append(results, &ActiveGrant{
			Provider:  providersByID[g.ProviderID],
			Level:     types.AccessLevel(g.AccessLevel),
			StartsAt:  g.StartsAt,
			ExpiresAt: g.ExpiresAt,
		})
	}
	sort.Slice(results, func(i, j int) bool {
		return providerName(results[i].Provider) < providerName(results[j].Provider)
	})
	return results, nil
}

func (gs *accessGrantService) ListConfiguredGrants(ctx context.Context, userID uuid.UUID) ([]*GrantOverviewEntry, error) {
	users, err := gs.userRepo.GetByIDs(ctx, nil, []uuid.UUID{userID})
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if len(users) == 0 {
		return nil, apperr.NotFoundf("user %s", userID)
	}

	grants, err := gs.grantRepo.ListByUser(ctx, nil, userID)
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}

	providerIDs := make([]uuid.UUID, 0, len(grants))
	for _, g := range grants {
		if g != nil {
			providerIDs = append(providerIDs, g.ProviderID)
		}
	}
	providersByID, err := gs.loadProviders(ctx, providerIDs)
	if err != nil {
		return nil, err
	}

	results := make([]*GrantOverviewEntry, 0, len(grants))
	for _, g := range grants {
		if g == nil {
			continue
		}
		entry := &GrantOverviewEntry{
			UserID:     userID,
			UserEmail:  users[0].Email,
			ProviderID: g.ProviderID,
			Level:      g.AccessLevel,
			StartsAt:   g.StartsAt,
			ExpiresAt:  g.ExpiresAt,
		}
		if p := providersByID[g.ProviderID]; p != nil {
			entry.ProviderName = p.Name
		}
		results = append(results, entry)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].ProviderName < results[j].ProviderName
	})
	return results, nil
}

func (gs *accessGrantService) loadProviders(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*types.Provider, error) {
	providers, err := gs.providerRepo.GetByIDs(ctx, nil, ids)
	if err != nil {
		return nil, fmt.Errorf("load providers: %w", err)
	}
	byID := make(map[uuid.UUID]*types.Provider, len(providers))
	for _, p := range providers {
		if p != nil {
			byID[p.ID] = p
		}
	}
	return byID, nil
}

func providerName(p *types.Provider) string {
	if p == nil {
		return ""
	}
	return p.Name
}
