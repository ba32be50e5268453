package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yungbote/paindiary-backend/internal/db"
	"github.com/yungbote/paindiary-backend/internal/export"
	"github.com/yungbote/paindiary-backend/internal/logger"
	"github.com/yungbote/paindiary-backend/internal/repos"
	"github.com/yungbote/paindiary-backend/internal/services"
	"github.com/yungbote/paindiary-backend/internal/utils"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Env
	log.Info("Loading environment variables from main...")
	exportDir := utils.GetEnv("EXPORT_DIR", "./exports", log)
	exportWorkers := utils.GetEnvAsInt("EXPORT_WORKERS", 2, log)
	exportPollMS := utils.GetEnvAsInt("EXPORT_POLL_MS", 1000, log)
	exportLeaseMS := utils.GetEnvAsInt("EXPORT_LEASE_TIMEOUT_MS", 120000, log)

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Error("Postgres auto migration failed", "error", err)
		os.Exit(1)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up Repos from main...")
	userRepo := repos.NewUserRepo(thePG, log)
	providerRepo := repos.NewProviderRepo(thePG, log)
	grantRepo := repos.NewAccessGrantRepo(thePG, log)
	painEventRepo := repos.NewPainEventRepo(thePG, log)
	exportJobRepo := repos.NewExportJobRepo(thePG, log)

	// Delivery + notifications
	localStore, err := export.NewLocalStore(exportDir, log)
	if err != nil {
		log.Error("Could not init export store", "error", err)
		os.Exit(1)
	}
	notifier, err := services.NewRedisExportNotifier(log)
	if err != nil {
		log.Warn("Redis notifier unavailable, export events will be dropped", "error", err)
		notifier = services.NewNopExportNotifier()
	}

	// Services
	log.Info("Setting up Services from main...")
	grantService := services.NewAccessGrantService(thePG, log, grantRepo, userRepo, providerRepo)
	userService := services.NewUserService(thePG, log, userRepo, grantRepo, painEventRepo, exportJobRepo)
	providerService := services.NewProviderService(thePG, log, providerRepo, grantRepo, exportJobRepo)
	painEventService := services.NewPainEventService(thePG, log, painEventRepo, userRepo)
	exportService := services.NewExportService(
		thePG,
		log,
		services.WorkerConfig{
			Workers:      exportWorkers,
			PollInterval: time.Duration(exportPollMS) * time.Millisecond,
			LeaseTimeout: time.Duration(exportLeaseMS) * time.Millisecond,
		},
		exportJobRepo,
		userRepo,
		painEventRepo,
		grantService,
		localStore,
		notifier,
	)

	_ = userService
	_ = providerService
	_ = painEventService

	// Workers
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	exportService.StartWorkers(ctx)
	log.Info("Export workers running", "workers", exportWorkers)

	<-ctx.Done()
	log.Info("Shutting down...")
}
