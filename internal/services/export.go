package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/paindiary-backend/internal/apperr"
	"github.com/yungbote/paindiary-backend/internal/export"
	"github.com/yungbote/paindiary-backend/internal/fhir"
	"github.com/yungbote/paindiary-backend/internal/logger"
	"github.com/yungbote/paindiary-backend/internal/repos"
	"github.com/yungbote/paindiary-backend/internal/types"
)

// WorkerConfig tunes the export worker pool.
type WorkerConfig struct {
	Workers      int
	PollInterval time.Duration
	LeaseTimeout time.Duration
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 1 * time.Second
	}
	if c.LeaseTimeout <= 0 {
		c.LeaseTimeout = 2 * time.Minute
	}
	return c
}

// ExportService accepts export requests, authorizes them at the request
// instant, and drives jobs through pending -> success|failed on a background
// worker pool. A grant revoked after a job was accepted does not cancel it;
// revocation is forward-looking.
type ExportService interface {
	RequestExport(ctx context.Context, userID uuid.UUID, providerID *uuid.UUID, exportType string, format types.ExportFormat, requestPayload map[string]any, at time.Time) (*types.ExportJob, error)
	GetJob(ctx context.Context, jobID uuid.UUID) (*types.ExportJob, error)
	// ProcessPending claims at most one runnable job and drives it to a
	// terminal state. It reports whether a job was claimed.
	ProcessPending(ctx context.Context) (bool, error)
	StartWorkers(ctx context.Context)
}

type exportService struct {
	db  *gorm.DB
	log *logger.Logger
	cfg WorkerConfig

	jobRepo   repos.ExportJobRepo
	userRepo  repos.UserRepo
	eventRepo repos.PainEventRepo

	grants    AccessGrantService
	deliverer export.Deliverer
	notify    ExportNotifier
}

func NewExportService(
	db *gorm.DB,
	baseLog *logger.Logger,
	cfg WorkerConfig,
	jobRepo repos.ExportJobRepo,
	userRepo repos.UserRepo,
	eventRepo repos.PainEventRepo,
	grants AccessGrantService,
	deliverer export.Deliverer,
	notify ExportNotifier,
) ExportService {
	if notify == nil {
		notify = NewNopExportNotifier()
	}
	return &exportService{
		db:        db,
		log:       baseLog.With("service", "ExportService"),
		cfg:       cfg.withDefaults(),
		jobRepo:   jobRepo,
		userRepo:  userRepo,
		eventRepo: eventRepo,
		grants:    grants,
		deliverer: deliverer,
		notify:    notify,
	}
}

func (xs *exportService) RequestExport(ctx context.Context, userID uuid.UUID, providerID *uuid.UUID, exportType string, format types.ExportFormat, requestPayload map[string]any, at time.Time) (*types.ExportJob, error) {
	if exportType == "" {
		return nil, apperr.Validationf("export_type is required")
	}
	if !format.Valid() {
		return nil, apperr.Validationf("invalid export format %q", format)
	}

	users, err := xs.userRepo.GetByIDs(ctx, nil, []uuid.UUID{userID})
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if len(users) == 0 {
		return nil, apperr.NotFoundf("user %s", userID)
	}

	// A self-initiated export always bypasses the access check; a user is
	// always authorized to export their own data. Provider requests are
	// authorized at the request instant and not re-checked at processing time.
	if providerID != nil {
		_, allowed, err := xs.grants.CheckAccess(ctx, userID, *providerID, at)
		if err != nil {
			return nil, fmt.Errorf("check access: %w", err)
		}
		if !allowed {
			return nil, apperr.Unauthorizedf("provider %s may not export data for user %s", *providerID, userID)
		}
	}

	if requestPayload == nil {
		requestPayload = map[string]any{}
	}
	now := time.Now()
	job := &types.ExportJob{
		ID:             uuid.New(),
		UserID:         userID,
		ProviderID:     providerID,
		ExportType:     exportType,
		Format:         string(format),
		Status:         string(types.ExportStatusPending),
		RequestPayload: datatypes.JSON(mustJSON(requestPayload)),
		InitiatedAt:    at,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if _, err := xs.jobRepo.Create(ctx, nil, []*types.ExportJob{job}); err != nil {
		return nil, fmt.Errorf("create export job: %w", err)
	}

	xs.log.Info("Export job accepted", "job_id", job.ID, "user_id", userID, "export_type", exportType, "format", format)
	xs.notify.ExportRequested(userID, job)
	return job, nil
}

func (xs *exportService) GetJob(ctx context.Context, jobID uuid.UUID) (*types.ExportJob, error) {
	jobs, err := xs.jobRepo.GetByIDs(ctx, nil, []uuid.UUID{jobID})
	if err != nil {
		return nil, fmt.Errorf("load export job: %w", err)
	}
	if len(jobs) == 0 {
		return nil, apperr.NotFoundf("export job %s", jobID)
	}
	return jobs[0], nil
}

func (xs *exportService) StartWorkers(ctx context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < xs.cfg.Workers; i++ {
		worker := i
		g.Go(func() error {
			log := xs.log.With("worker", worker)
			ticker := time.NewTicker(xs.cfg.PollInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					claimed, err := xs.ProcessPending(ctx)
					if err != nil {
						log.Warn("ProcessPending failed", "error", err)
					}
					_ = claimed
				}
			}
		})
	}
	go func() {
		_ = g.Wait()
		xs.log.Info("Export workers stopped")
	}()
}

func (xs *exportService) ProcessPending(ctx context.Context) (bool, error) {
	job, err := xs.jobRepo.ClaimNextPending(ctx, nil, xs.cfg.LeaseTimeout)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	// A panicking transform must still leave a terminal state behind.
	defer func() {
		if r := recover(); r != nil {
			xs.log.Error("Export processing panic", "job_id", job.ID, "panic", r)
			xs.failJob(ctx, job, "transform", apperr.ExportFailuref("panic: %v", r))
		}
	}()

	xs.processJob(ctx, job)
	return true, nil
}

func (xs *exportService) processJob(ctx context.Context, job *types.ExportJob) {
	users, err := xs.userRepo.GetByIDs(ctx, nil, []uuid.UUID{job.UserID})
	if err != nil || len(users) == 0 {
		if err == nil {
			err = apperr.NotFoundf("user %s", job.UserID)
		}
		xs.failJob(ctx, job, "load", apperr.ExportFailuref("load subject user: %v", err))
		return
	}

	events, err := xs.eventRepo.ListByUser(ctx, nil, job.UserID)
	if err != nil {
		xs.failJob(ctx, job, "load", apperr.ExportFailuref("load pain events: %v", err))
		return
	}

	bundle, err := fhir.BuildBundle(users[0], events, time.Now())
	if err != nil {
		xs.failJob(ctx, job, "transform", apperr.ExportFailuref("build bundle: %v", err))
		return
	}
	payload, err := fhir.Encode(bundle, types.ExportFormat(job.Format))
	if err != nil {
		xs.failJob(ctx, job, "transform", apperr.ExportFailuref("encode bundle: %v", err))
		return
	}

	fileURI, err := xs.deliverer.Deliver(ctx, job, payload)
	if err != nil {
		xs.failJob(ctx, job, "delivery", apperr.ExportFailuref("deliver bundle: %v", err))
		return
	}

	response := datatypes.JSON(mustJSON(map[string]any{
		"resource_type": job.ExportType,
		"event_count":   bundle.Total,
		"bytes":         len(payload),
		"file_uri":      fileURI,
	}))
	won, err := xs.jobRepo.MarkSucceeded(ctx, nil, job.ID, response, fileURI)
	if err != nil {
		xs.log.Error("Failed to record export success", "job_id", job.ID, "error", err)
		return
	}
	if !won {
		// Another worker already wrote the terminal outcome.
		xs.log.Warn("Export job already terminal", "job_id", job.ID)
		return
	}
	xs.log.Info("Export job succeeded", "job_id", job.ID, "events", bundle.Total, "file_uri", fileURI)
	if refreshed, err := xs.GetJob(ctx, job.ID); err == nil {
		xs.notify.ExportSucceeded(job.UserID, refreshed)
	}
}

// failJob records the failure into the job's terminal state. The original
// requester already holds the job handle, so the cause is discoverable only
// through job status lookup.
func (xs *exportService) failJob(ctx context.Context, job *types.ExportJob, stage string, cause error) {
	response := datatypes.JSON(mustJSON(map[string]any{
		"stage": stage,
		"error": cause.Error(),
	}))
	won, err := xs.jobRepo.MarkFailed(ctx, nil, job.ID, response)
	if err != nil {
		xs.log.Error("Failed to record export failure", "job_id", job.ID, "stage", stage, "error", err)
		return
	}
	if !won {
		xs.log.Warn("Export job already terminal", "job_id", job.ID)
		return
	}
	xs.log.Warn("Export job failed", "job_id", job.ID, "stage", stage, "error", cause)
	if refreshed, err := xs.GetJob(ctx, job.ID); err == nil {
		xs.notify.ExportFailed(job.UserID, refreshed, stage, cause.Error())
	}
}

func mustJSON(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}
