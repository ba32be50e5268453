package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/paindiary-backend/internal/logger"
	"github.com/yungbote/paindiary-backend/internal/types"
)

// ExportNotifier fans export lifecycle events out to interested consumers
// (status dashboards, the requesting user's session).
type ExportNotifier interface {
	ExportRequested(userID uuid.UUID, job *types.ExportJob)
	ExportSucceeded(userID uuid.UUID, job *types.ExportJob)
	ExportFailed(userID uuid.UUID, job *types.ExportJob, stage string, errorMessage string)
}

type exportEvent struct {
	Channel string         `json:"channel"`
	Event   string         `json:"event"`
	Data    map[string]any `json:"data"`
}

type redisExportNotifier struct {
	log     *logger.Logger
	rdb     *goredis.Client
	channel string
}

// NewRedisExportNotifier publishes export events to a redis channel.
// Requires REDIS_ADDR; REDIS_CHANNEL defaults to "exports".
func NewRedisExportNotifier(log *logger.Logger) (ExportNotifier, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	ch := strings.TrimSpace(os.Getenv("REDIS_CHANNEL"))
	if ch == "" {
		ch = "exports"
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &redisExportNotifier{
		log:     log.With("service", "RedisExportNotifier"),
		rdb:     rdb,
		channel: ch,
	}, nil
}

func (n *redisExportNotifier) ExportRequested(userID uuid.UUID, job *types.ExportJob) {
	n.publish(userID, "ExportRequested", map[string]any{"job": job})
}

func (n *redisExportNotifier) ExportSucceeded(userID uuid.UUID, job *types.ExportJob) {
	n.publish(userID, "ExportSucceeded", map[string]any{"job": job})
}

func (n *redisExportNotifier) ExportFailed(userID uuid.UUID, job *types.ExportJob, stage string, errorMessage string) {
	n.publish(userID, "ExportFailed", map[string]any{
		"job":   job,
		"stage": stage,
		"error": errorMessage,
	})
}

func (n *redisExportNotifier) publish(userID uuid.UUID, event string, data map[string]any) {
	raw, err := json.Marshal(exportEvent{
		Channel: userID.String(),
		Event:   event,
		Data:    data,
	})
	if err != nil {
		n.log.Warn("Failed to marshal export event", "event", event, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := n.rdb.Publish(ctx, n.channel, raw).Err(); err != nil {
		n.log.Warn("Failed to publish export event", "event", event, "error", err)
	}
}

type nopExportNotifier struct{}

// NewNopExportNotifier returns a notifier that drops every event. Used when
// no redis is configured and by tests.
func NewNopExportNotifier() ExportNotifier {
	return nopExportNotifier{}
}

func (nopExportNotifier) ExportRequested(uuid.UUID, *types.ExportJob)              {}
func (nopExportNotifier) ExportSucceeded(uuid.UUID, *types.ExportJob)              {}
func (nopExportNotifier) ExportFailed(uuid.UUID, *types.ExportJob, string, string) {}
