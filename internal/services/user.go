package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/paindiary-backend/internal/apperr"
	"github.com/yungbote/paindiary-backend/internal/logger"
	"github.com/yungbote/paindiary-backend/internal/repos"
	"github.com/yungbote/paindiary-backend/internal/types"
)

type UserService interface {
	Register(ctx context.Context, email, passwordHash, fullName, timezone string) (*types.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*types.User, error)
	Deactivate(ctx context.Context, id uuid.UUID) error
	// Delete removes the user's grants, pain events and export jobs, then the
	// user row, as one ordered transaction.
	Delete(ctx context.Context, id uuid.UUID) error
}

type userService struct {
	db  *gorm.DB
	log *logger.Logger

	userRepo  repos.UserRepo
	grantRepo repos.AccessGrantRepo
	eventRepo repos.PainEventRepo
	jobRepo   repos.ExportJobRepo
}

func NewUserService(db *gorm.DB, baseLog *logger.Logger, userRepo repos.UserRepo, grantRepo repos.AccessGrantRepo, eventRepo repos.PainEventRepo, jobRepo repos.ExportJobRepo) UserService {
	return &userService{
		db:        db,
		log:       baseLog.With("service", "UserService"),
		userRepo:  userRepo,
		grantRepo: grantRepo,
		eventRepo: eventRepo,
		jobRepo:   jobRepo,
	}
}

func (us *userService) Register(ctx context.Context, email, passwordHash, fullName, timezone string) (*types.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return nil, apperr.Validationf("email is required")
	}
	if passwordHash == "" {
		return nil, apperr.Validationf("password hash is required")
	}

	var user *types.User
	err := us.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		exists, err := us.userRepo.EmailExists(ctx, tx, email)
		if err != nil {
			return fmt.Errorf("check email: %w", err)
		}
		if exists {
			return apperr.Validationf("email %q is already in use", email)
		}
		now := time.Now()
		user = &types.User{
			ID:           uuid.New(),
			Email:        email,
			PasswordHash: passwordHash,
			FullName:     fullName,
			Timezone:     timezone,
			IsActive:     true,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if _, err := us.userRepo.Create(ctx, tx, []*types.User{user}); err != nil {
			return fmt.Errorf("create user: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	us.log.Info("User registered", "user_id", user.ID)
	return user, nil
}

func (us *userService) GetByID(ctx context.Context, id uuid.UUID) (*types.User, error) {
	users, err := us.userRepo.GetByIDs(ctx, nil, []uuid.UUID{id})
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if len(users) == 0 {
		return nil, apperr.NotFoundf("user %s", id)
	}
	return users[0], nil
}

func (us *userService) Deactivate(ctx context.Context, id uuid.UUID) error {
	if _, err := us.GetByID(ctx, id); err != nil {
		return err
	}
	if err := us.userRepo.UpdateFields(ctx, nil, id, map[string]interface{}{
		"is_active": false,
	}); err != nil {
		return fmt.Errorf("deactivate user: %w", err)
	}
	us.log.Info("User deactivated", "user_id", id)
	return nil
}

func (us *userService) Delete(ctx context.Context, id uuid.UUID) error {
	err := us.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		users, err := us.userRepo.GetByIDs(ctx, tx, []uuid.UUID{id})
		if err != nil {
			return fmt.Errorf("load user: %w", err)
		}
		if len(users) == 0 {
			return apperr.NotFoundf("user %s", id)
		}
		if err := us.grantRepo.DeleteByUser(ctx, tx, id); err != nil {
			return fmt.Errorf("delete grants: %w", err)
		}
		if err := us.eventRepo.DeleteByUser(ctx, tx, id); err != nil {
			return fmt.Errorf("delete pain events: %w", err)
		}
		if err := us.jobRepo.DeleteByUser(ctx, tx, id); err != nil {
			return fmt.Errorf("delete export jobs: %w", err)
		}
		if err := us.userRepo.DeleteByID(ctx, tx, id); err != nil {
			return fmt.Errorf("delete user: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	us.log.Info("User deleted with owned data", "user_id", id)
	return nil
}
