package services

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/paindiary-backend/internal/apperr"
	"github.com/yungbote/paindiary-backend/internal/types"
)

func TestRequestExport_ValidatesTypeAndFormat(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.seedUser(t, "pat@example.com")
	exports := env.newExportService(t, nil, nil)

	if _, err := exports.RequestExport(ctx, user.ID, nil, "", types.ExportFormatJSON, nil, time.Now()); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for empty export type, got %v", err)
	}
	if _, err := exports.RequestExport(ctx, user.ID, nil, "Bundle", types.ExportFormat("csv"), nil, time.Now()); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for bad format, got %v", err)
	}
}

func TestRequestExport_DeniedProviderCreatesNoJob(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.seedUser(t, "pat@example.com")
	provider := env.seedProvider(t, "Dr. Reyes")
	exports := env.newExportService(t, nil, nil)

	_, err := exports.RequestExport(ctx, user.ID, &provider.ID, "Bundle", types.ExportFormatJSON, nil, time.Now())
	if !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("expected authorization error, got %v", err)
	}

	var count int64
	if err := env.db.Model(&types.ExportJob{}).Count(&count).Error; err != nil {
		t.Fatalf("count jobs: %v", err)
	}
	if count != 0 {
		t.Fatalf("a denied request must leave no job behind, found %d", count)
	}
}

func TestRequestExport_ExpiredWindowDeniedButSelfExportAllowed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.seedUser(t, "pat@example.com")
	provider := env.seedProvider(t, "Dr. Reyes")
	exports := env.newExportService(t, nil, nil)

	t0 := time.Now().Add(-3 * time.Hour).Truncate(time.Second)
	expiry := t0.Add(time.Hour)
	if _, err := env.grants.Grant(ctx, user.ID, provider.ID, types.AccessLevelRead, t0, &expiry); err != nil {
		t.Fatalf("grant: %v", err)
	}

	at := t0.Add(2 * time.Hour)
	_, err := exports.RequestExport(ctx, user.ID, &provider.ID, "Bundle", types.ExportFormatJSON, nil, at)
	if !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("expected denial at t0+2h, got %v", err)
	}

	// The user themself needs no grant at all.
	job, err := exports.RequestExport(ctx, user.ID, nil, "Bundle", types.ExportFormatJSON, nil, at)
	if err != nil {
		t.Fatalf("self export: %v", err)
	}
	if job.Status != string(types.ExportStatusPending) || job.ProviderID != nil {
		t.Fatalf("unexpected self-export job %+v", job)
	}
}

func TestExport_EndToEndProviderFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.seedUser(t, "pat@example.com")
	provider := env.seedProvider(t, "Dr. Reyes")
	env.seedEvent(t, user.ID, 6)
	env.seedEvent(t, user.ID, 3)

	notifier := &recordingNotifier{}
	exports := env.newExportService(t, nil, notifier)

	start := time.Now().Add(-time.Minute).Truncate(time.Second)
	if _, err := env.grants.Grant(ctx, user.ID, provider.ID, types.AccessLevelRead, start, nil); err != nil {
		t.Fatalf("grant: %v", err)
	}

	job, err := exports.RequestExport(ctx, user.ID, &provider.ID, "Bundle", types.ExportFormatJSON, map[string]any{"range": "all"}, time.Now())
	if err != nil {
		t.Fatalf("request export: %v", err)
	}
	if job.Status != string(types.ExportStatusPending) {
		t.Fatalf("expected pending job, got %s", job.Status)
	}
	if job.CompletedAt != nil {
		t.Fatalf("pending job must not carry completed_at")
	}

	claimed, err := exports.ProcessPending(ctx)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !claimed {
		t.Fatalf("expected the pending job to be claimed")
	}

	done, err := exports.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if done.Status != string(types.ExportStatusSuccess) {
		t.Fatalf("expected success, got %s", done.Status)
	}
	if done.CompletedAt == nil {
		t.Fatalf("expected completed_at stamped on terminal state")
	}
	if len(done.ResponsePayload) == 0 {
		t.Fatalf("expected response payload populated")
	}
	var response map[string]any
	if err := json.Unmarshal(done.ResponsePayload, &response); err != nil {
		t.Fatalf("response payload not JSON: %v", err)
	}
	if response["event_count"].(float64) != 2 {
		t.Fatalf("expected 2 exported events, got %v", response["event_count"])
	}
	if !strings.HasPrefix(done.FileURI, "file://") {
		t.Fatalf("expected delivered file uri, got %q", done.FileURI)
	}
	if _, err := os.Stat(strings.TrimPrefix(done.FileURI, "file://")); err != nil {
		t.Fatalf("expected bundle on disk: %v", err)
	}

	// Revoking afterwards never touches the already-completed job.
	if err := env.grants.Revoke(ctx, user.ID, provider.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	after, err := exports.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job after revoke: %v", err)
	}
	if after.Status != string(types.ExportStatusSuccess) || !after.CompletedAt.Equal(*done.CompletedAt) {
		t.Fatalf("revoke must not rewrite a terminal job, got %+v", after)
	}

	events := notifier.snapshot()
	if len(events) != 2 || events[0] != "requested" || events[1] != "succeeded" {
		t.Fatalf("unexpected notifications %v", events)
	}
}

func TestExport_DeliveryFailureRecordedNotRaised(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.seedUser(t, "pat@example.com")
	env.seedEvent(t, user.ID, 6)

	notifier := &recordingNotifier{}
	exports := env.newExportService(t, failingDeliverer{}, notifier)

	job, err := exports.RequestExport(ctx, user.ID, nil, "Bundle", types.ExportFormatJSON, nil, time.Now())
	if err != nil {
		t.Fatalf("request export: %v", err)
	}

	claimed, err := exports.ProcessPending(ctx)
	if err != nil {
		t.Fatalf("process must not surface the delivery error, got %v", err)
	}
	if !claimed {
		t.Fatalf("expected job claimed")
	}

	failed, err := exports.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if failed.Status != string(types.ExportStatusFailed) {
		t.Fatalf("expected failed, got %s", failed.Status)
	}
	if failed.CompletedAt == nil {
		t.Fatalf("expected completed_at on failure too")
	}
	var response map[string]any
	if err := json.Unmarshal(failed.ResponsePayload, &response); err != nil {
		t.Fatalf("response payload not JSON: %v", err)
	}
	if response["stage"] != "delivery" {
		t.Fatalf("expected delivery stage recorded, got %v", response["stage"])
	}
	if !strings.Contains(response["error"].(string), "delivery endpoint unreachable") {
		t.Fatalf("expected cause recorded, got %v", response["error"])
	}

	events := notifier.snapshot()
	if len(events) != 2 || events[1] != "failed" {
		t.Fatalf("unexpected notifications %v", events)
	}
}

func TestExport_IdenticalRequestsMakeDistinctJobs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.seedUser(t, "pat@example.com")
	exports := env.newExportService(t, nil, nil)

	payload := map[string]any{"range": "all"}
	first, err := exports.RequestExport(ctx, user.ID, nil, "Bundle", types.ExportFormatJSON, payload, time.Now())
	if err != nil {
		t.Fatalf("first request: %v", err)
	}
	second, err := exports.RequestExport(ctx, user.ID, nil, "Bundle", types.ExportFormatJSON, payload, time.Now())
	if err != nil {
		t.Fatalf("second request: %v", err)
	}
	if first.ID == second.ID {
		t.Fatalf("identical requests must not be deduplicated")
	}
}

func TestExport_ConcurrentWorkersOneTerminalOutcome(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.seedUser(t, "pat@example.com")
	env.seedEvent(t, user.ID, 4)
	exports := env.newExportService(t, nil, nil)

	job, err := exports.RequestExport(ctx, user.ID, nil, "Bundle", types.ExportFormatXML, nil, time.Now())
	if err != nil {
		t.Fatalf("request export: %v", err)
	}

	results := make(chan bool, 2)
	for i := 0; i < 2; i++ {
		go func() {
			claimed, err := exports.ProcessPending(ctx)
			if err != nil {
				t.Errorf("process: %v", err)
			}
			results <- claimed
		}()
	}
	claims := 0
	for i := 0; i < 2; i++ {
		if <-results {
			claims++
		}
	}
	if claims != 1 {
		t.Fatalf("expected exactly one worker to claim the job, got %d", claims)
	}

	done, err := exports.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if !types.ExportStatus(done.Status).Terminal() {
		t.Fatalf("job must not remain pending, got %s", done.Status)
	}
}

func TestGetJob_UnknownIDIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	exports := env.newExportService(t, nil, nil)

	_, err := exports.GetJob(context.Background(), uuid.New())
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRequestExport_UnknownUserIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	exports := env.newExportService(t, nil, nil)

	_, err := exports.RequestExport(context.Background(), uuid.New(), nil, "Bundle", types.ExportFormatJSON, nil, time.Now())
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
