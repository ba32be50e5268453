package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/paindiary-backend/internal/apperr"
	"github.com/yungbote/paindiary-backend/internal/types"
)

func TestGrant_RejectsInvalidLevelAndInvertedWindow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.seedUser(t, "pat@example.com")
	provider := env.seedProvider(t, "Dr. Reyes")
	start := time.Now().Truncate(time.Second)

	if _, err := env.grants.Grant(ctx, user.ID, provider.ID, types.AccessLevel("admin"), start, nil); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for bad level, got %v", err)
	}

	before := start.Add(-time.Hour)
	if _, err := env.grants.Grant(ctx, user.ID, provider.ID, types.AccessLevelRead, start, &before); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for inverted window, got %v", err)
	}
}

func TestGrant_UnknownPartiesAreNotFound(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.seedUser(t, "pat@example.com")
	start := time.Now().Truncate(time.Second)

	if _, err := env.grants.Grant(ctx, user.ID, uuid.New(), types.AccessLevelRead, start, nil); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found for unknown provider, got %v", err)
	}
	provider := env.seedProvider(t, "Dr. Reyes")
	if _, err := env.grants.Grant(ctx, uuid.New(), provider.ID, types.AccessLevelRead, start, nil); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found for unknown user, got %v", err)
	}
}

func TestGrant_IsIdempotentPerPair(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.seedUser(t, "pat@example.com")
	provider := env.seedProvider(t, "Dr. Reyes")
	start := time.Now().Truncate(time.Second)

	first, err := env.grants.Grant(ctx, user.ID, provider.ID, types.AccessLevelRead, start, nil)
	if err != nil {
		t.Fatalf("first grant: %v", err)
	}
	if _, err := env.grants.Grant(ctx, user.ID, provider.ID, types.AccessLevelRead, start, nil); err != nil {
		t.Fatalf("repeat grant: %v", err)
	}

	expiry := start.Add(2 * time.Hour)
	updated, err := env.grants.Grant(ctx, user.ID, provider.ID, types.AccessLevelWrite, start, &expiry)
	if err != nil {
		t.Fatalf("updating grant: %v", err)
	}
	if updated.ID != first.ID {
		t.Fatalf("expected single row per pair, ids %s vs %s", first.ID, updated.ID)
	}

	var count int64
	if err := env.db.Model(&types.AccessGrant{}).
		Where("user_id = ? AND provider_id = ?", user.ID, provider.ID).
		Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one grant row, got %d", count)
	}
	if updated.AccessLevel != string(types.AccessLevelWrite) {
		t.Fatalf("expected level replaced in place, got %s", updated.AccessLevel)
	}
}

func TestCheckAccess_WindowBoundaries(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.seedUser(t, "pat@example.com")
	provider := env.seedProvider(t, "Dr. Reyes")

	start := time.Now().Truncate(time.Second)
	expiry := start.Add(time.Hour)
	if _, err := env.grants.Grant(ctx, user.ID, provider.ID, types.AccessLevelRead, start, &expiry); err != nil {
		t.Fatalf("grant: %v", err)
	}

	cases := []struct {
		name    string
		at      time.Time
		allowed bool
	}{
		{"before start", start.Add(-time.Second), false},
		{"at start", start, true},
		{"at expiry", expiry, true},
		{"after expiry", expiry.Add(time.Second), false},
	}
	for _, tc := range cases {
		level, allowed, err := env.grants.CheckAccess(ctx, user.ID, provider.ID, tc.at)
		if err != nil {
			t.Fatalf("%s: check: %v", tc.name, err)
		}
		if allowed != tc.allowed {
			t.Fatalf("%s: allowed = %v, want %v", tc.name, allowed, tc.allowed)
		}
		if allowed && level != types.AccessLevelRead {
			t.Fatalf("%s: expected stored level back, got %q", tc.name, level)
		}
	}
}

func TestCheckAccess_SeesGrantEditsImmediately(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.seedUser(t, "pat@example.com")
	provider := env.seedProvider(t, "Dr. Reyes")
	start := time.Now().Truncate(time.Second)

	if _, err := env.grants.Grant(ctx, user.ID, provider.ID, types.AccessLevelRead, start, nil); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if _, allowed, _ := env.grants.CheckAccess(ctx, user.ID, provider.ID, start.Add(time.Minute)); !allowed {
		t.Fatalf("expected access before revoke")
	}

	if err := env.grants.Revoke(ctx, user.ID, provider.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	// Revocation is forward-looking: the next check past the revocation
	// instant is denied with no caching in between.
	if _, allowed, _ := env.grants.CheckAccess(ctx, user.ID, provider.ID, time.Now().Add(time.Hour)); allowed {
		t.Fatalf("expected access denied after revoke")
	}
}

func TestRevoke_MissingPairIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	user := env.seedUser(t, "pat@example.com")
	provider := env.seedProvider(t, "Dr. Reyes")

	if err := env.grants.Revoke(context.Background(), user.ID, provider.ID); err != nil {
		t.Fatalf("expected revoke without grant to succeed, got %v", err)
	}
}

func TestListActiveGrants_FiltersAndOrdersByProviderName(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.seedUser(t, "pat@example.com")
	zimmer := env.seedProvider(t, "Zimmer Clinic")
	abbott := env.seedProvider(t, "Abbott Pain Center")
	expired := env.seedProvider(t, "Expired Care")

	start := time.Now().Add(-2 * time.Hour).Truncate(time.Second)
	past := start.Add(time.Hour)
	if _, err := env.grants.Grant(ctx, user.ID, zimmer.ID, types.AccessLevelRead, start, nil); err != nil {
		t.Fatalf("grant zimmer: %v", err)
	}
	if _, err := env.grants.Grant(ctx, user.ID, abbott.ID, types.AccessLevelWrite, start, nil); err != nil {
		t.Fatalf("grant abbott: %v", err)
	}
	if _, err := env.grants.Grant(ctx, user.ID, expired.ID, types.AccessLevelRead, start, &past); err != nil {
		t.Fatalf("grant expired: %v", err)
	}

	active, err := env.grants.ListActiveGrants(ctx, user.ID, time.Now())
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("expected 2 active grants, got %d", len(active))
	}
	if active[0].Provider.Name != "Abbott Pain Center" || active[1].Provider.Name != "Zimmer Clinic" {
		t.Fatalf("expected provider-name ordering, got %q then %q", active[0].Provider.Name, active[1].Provider.Name)
	}
	if active[1].Level != types.AccessLevelRead {
		t.Fatalf("expected stored level, got %q", active[1].Level)
	}
}

func TestListConfiguredGrants_IncludesExpiredRows(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.seedUser(t, "pat@example.com")
	provider := env.seedProvider(t, "Dr. Reyes")

	start := time.Now().Add(-2 * time.Hour).Truncate(time.Second)
	past := start.Add(time.Minute)
	if _, err := env.grants.Grant(ctx, user.ID, provider.ID, types.AccessLevelRead, start, &past); err != nil {
		t.Fatalf("grant: %v", err)
	}

	overview, err := env.grants.ListConfiguredGrants(ctx, user.ID)
	if err != nil {
		t.Fatalf("overview: %v", err)
	}
	if len(overview) != 1 {
		t.Fatalf("expected the expired grant in the overview, got %d rows", len(overview))
	}
	entry := overview[0]
	if entry.UserEmail != "pat@example.com" || entry.ProviderName != "Dr. Reyes" {
		t.Fatalf("expected joined display fields, got %+v", entry)
	}
	if entry.ExpiresAt == nil {
		t.Fatalf("expected window carried through")
	}
}
