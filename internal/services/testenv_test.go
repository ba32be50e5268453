package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/yungbote/paindiary-backend/internal/export"
	"github.com/yungbote/paindiary-backend/internal/logger"
	"github.com/yungbote/paindiary-backend/internal/repos"
	"github.com/yungbote/paindiary-backend/internal/types"
)

type testEnv struct {
	db *gorm.DB

	userRepo     repos.UserRepo
	providerRepo repos.ProviderRepo
	grantRepo    repos.AccessGrantRepo
	eventRepo    repos.PainEventRepo
	jobRepo      repos.ExportJobRepo

	grants    AccessGrantService
	users     UserService
	providers ProviderService
	events    PainEventService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap sql.DB: %v", err)
	}
	// A fresh :memory: database exists per connection; pin the pool to one.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&types.User{},
		&types.Provider{},
		&types.AccessGrant{},
		&types.PainEvent{},
		&types.ExportJob{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	log := logger.NewNop()
	env := &testEnv{
		db:           db,
		userRepo:     repos.NewUserRepo(db, log),
		providerRepo: repos.NewProviderRepo(db, log),
		grantRepo:    repos.NewAccessGrantRepo(db, log),
		eventRepo:    repos.NewPainEventRepo(db, log),
		jobRepo:      repos.NewExportJobRepo(db, log),
	}
	env.grants = NewAccessGrantService(db, log, env.grantRepo, env.userRepo, env.providerRepo)
	env.users = NewUserService(db, log, env.userRepo, env.grantRepo, env.eventRepo, env.jobRepo)
	env.providers = NewProviderService(db, log, env.providerRepo, env.grantRepo, env.jobRepo)
	env.events = NewPainEventService(db, log, env.eventRepo, env.userRepo)
	return env
}

func (e *testEnv) newExportService(t *testing.T, deliverer export.Deliverer, notify ExportNotifier) ExportService {
	t.Helper()
	if deliverer == nil {
		var err error
		deliverer, err = export.NewLocalStore(t.TempDir(), logger.NewNop())
		if err != nil {
			t.Fatalf("local store: %v", err)
		}
	}
	return NewExportService(
		e.db,
		logger.NewNop(),
		WorkerConfig{Workers: 1, PollInterval: 10 * time.Millisecond, LeaseTimeout: time.Minute},
		e.jobRepo,
		e.userRepo,
		e.eventRepo,
		e.grants,
		deliverer,
		notify,
	)
}

func (e *testEnv) seedUser(t *testing.T, email string) *types.User {
	t.Helper()
	now := time.Now().Truncate(time.Second)
	user := &types.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: "x",
		FullName:     "Test Subject",
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if _, err := e.userRepo.Create(context.Background(), nil, []*types.User{user}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}

func (e *testEnv) seedProvider(t *testing.T, name string) *types.Provider {
	t.Helper()
	now := time.Now().Truncate(time.Second)
	provider := &types.Provider{
		ID:        uuid.New(),
		Name:      name,
		Specialty: "pain management",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := e.providerRepo.Create(context.Background(), nil, []*types.Provider{provider}); err != nil {
		t.Fatalf("seed provider: %v", err)
	}
	return provider
}

func (e *testEnv) seedEvent(t *testing.T, userID uuid.UUID, severity int) *types.PainEvent {
	t.Helper()
	now := time.Now().Truncate(time.Second)
	ev := &types.PainEvent{
		ID:         uuid.New(),
		UserID:     userID,
		OccurredAt: now.Add(-time.Hour),
		RecordedAt: now,
		Severity:   severity,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if _, err := e.eventRepo.Create(context.Background(), nil, []*types.PainEvent{ev}); err != nil {
		t.Fatalf("seed pain event: %v", err)
	}
	return ev
}

// recordingNotifier captures export events for assertions.
type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) record(event string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) snapshot() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.events))
	copy(out, n.events)
	return out
}

func (n *recordingNotifier) ExportRequested(uuid.UUID, *types.ExportJob) { n.record("requested") }
func (n *recordingNotifier) ExportSucceeded(uuid.UUID, *types.ExportJob) { n.record("succeeded") }
func (n *recordingNotifier) ExportFailed(uuid.UUID, *types.ExportJob, string, string) {
	n.record("failed")
}

// failingDeliverer refuses every delivery.
type failingDeliverer struct{}

func (failingDeliverer) Deliver(context.Context, *types.ExportJob, []byte) (string, error) {
	return "", fmt.Errorf("delivery endpoint unreachable")
}
