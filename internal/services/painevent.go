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

// Content fields a user may change after the fact. Identity, ownership and
// row timestamps are never caller-settable.
var painEventMutableFields = map[string]bool{
	"occurred_at":      true,
	"severity":         true,
	"duration_minutes": true,
	"location":         true,
	"triggers":         true,
	"notes":            true,
	"medications":      true,
	"mood":             true,
	"activity_level":   true,
}

type PainEventService interface {
	Record(ctx context.Context, event *types.PainEvent) (*types.PainEvent, error)
	Update(ctx context.Context, userID, eventID uuid.UUID, updates map[string]interface{}) (*types.PainEvent, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]*types.PainEvent, error)
}

type painEventService struct {
	db  *gorm.DB
	log *logger.Logger

	eventRepo repos.PainEventRepo
	userRepo  repos.UserRepo
}

func NewPainEventService(db *gorm.DB, baseLog *logger.Logger, eventRepo repos.PainEventRepo, userRepo repos.UserRepo) PainEventService {
	return &painEventService{
		db:        db,
		log:       baseLog.With("service", "PainEventService"),
		eventRepo: eventRepo,
		userRepo:  userRepo,
	}
}

func (es *painEventService) Record(ctx context.Context, event *types.PainEvent) (*types.PainEvent, error) {
	if event == nil {
		return nil, apperr.Validationf("event required")
	}
	if event.UserID == uuid.Nil {
		return nil, apperr.Validationf("user_id is required")
	}
	now := time.Now()
	if event.RecordedAt.IsZero() {
		event.RecordedAt = now
	}
	if event.OccurredAt.IsZero() {
		return nil, apperr.Validationf("occurred_at is required")
	}
	if err := validateSeverity(event.Severity); err != nil {
		return nil, err
	}
	if err := validateDuration(event.DurationMinutes); err != nil {
		return nil, err
	}

	users, err := es.userRepo.GetByIDs(ctx, nil, []uuid.UUID{event.UserID})
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if len(users) == 0 {
		return nil, apperr.NotFoundf("user %s", event.UserID)
	}

	event.ID = uuid.New()
	event.CreatedAt = now
	event.UpdatedAt = now
	if _, err := es.eventRepo.Create(ctx, nil, []*types.PainEvent{event}); err != nil {
		return nil, fmt.Errorf("create pain event: %w", err)
	}
	es.log.Debug("Pain event recorded", "event_id", event.ID, "user_id", event.UserID, "severity", event.Severity)
	return event, nil
}

func (es *painEventService) Update(ctx context.Context, userID, eventID uuid.UUID, updates map[string]interface{}) (*types.PainEvent, error) {
	if len(updates) == 0 {
		return nil, apperr.Validationf("no updates given")
	}
	for field := range updates {
		if !painEventMutableFields[field] {
			return nil, apperr.Validationf("field %q is not updatable", field)
		}
	}
	if raw, ok := updates["severity"]; ok {
		sev, ok := asInt(raw)
		if !ok {
			return nil, apperr.Validationf("severity must be an integer")
		}
		if err := validateSeverity(sev); err != nil {
			return nil, err
		}
	}
	if raw, ok := updates["duration_minutes"]; ok && raw != nil {
		dur, ok := asInt(raw)
		if !ok {
			return nil, apperr.Validationf("duration_minutes must be an integer")
		}
		if err := validateDuration(&dur); err != nil {
			return nil, err
		}
	}

	var updated *types.PainEvent
	err := es.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		events, err := es.eventRepo.GetByIDs(ctx, tx, []uuid.UUID{eventID})
		if err != nil {
			return fmt.Errorf("load pain event: %w", err)
		}
		if len(events) == 0 || events[0].UserID != userID {
			return apperr.NotFoundf("pain event %s", eventID)
		}
		if err := es.eventRepo.UpdateFields(ctx, tx, eventID, updates); err != nil {
			return fmt.Errorf("update pain event: %w", err)
		}
		events, err = es.eventRepo.GetByIDs(ctx, tx, []uuid.UUID{eventID})
		if err != nil {
			return fmt.Errorf("reload pain event: %w", err)
		}
		updated = events[0]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (es *painEventService) ListForUser(ctx context.Context, userID uuid.UUID) ([]*types.PainEvent, error) {
	events, err := es.eventRepo.ListByUser(ctx, nil, userID)
	if err != nil {
		return nil, fmt.Errorf("list pain events: %w", err)
	}
	return events, nil
}

func validateSeverity(severity int) error {
	if severity < types.SeverityMin || severity > types.SeverityMax {
		return apperr.Validationf("severity %d outside [%d,%d]", severity, types.SeverityMin, types.SeverityMax)
	}
	return nil
}

func validateDuration(minutes *int) error {
	if minutes != nil && *minutes < 0 {
		return apperr.Validationf("duration_minutes %d is negative", *minutes)
	}
	return nil
}

func asInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
