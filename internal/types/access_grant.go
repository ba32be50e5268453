package types

import (
	"time"

	"github.com/google/uuid"
)

type AccessLevel string

const (
	AccessLevelRead  AccessLevel = "read"
	AccessLevelWrite AccessLevel = "write"
)

func (l AccessLevel) Valid() bool {
	return l == AccessLevelRead || l == AccessLevelWrite
}

// Covers reports whether a stored level satisfies a required one.
// Write access subsumes read.
func (l AccessLevel) Covers(required AccessLevel) bool {
	if l == required {
		return true
	}
	return l == AccessLevelWrite && required == AccessLevelRead
}

// AccessGrant is the single authorization row for a (user, provider) pair.
// Creating a grant for an existing pair replaces the level and window in place.
type AccessGrant struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID      uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_access_grant_pair;column:user_id" json:"user_id"`
	ProviderID  uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_access_grant_pair;column:provider_id" json:"provider_id"`
	AccessLevel string     `gorm:"not null;column:access_level" json:"access_level"`
	StartsAt    time.Time  `gorm:"not null;column:starts_at;index" json:"starts_at"`
	ExpiresAt   *time.Time `gorm:"column:expires_at;index" json:"expires_at,omitempty"`
	CreatedAt   time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"not null" json:"updated_at"`
}

func (AccessGrant) TableName() string {
	return "access_grant"
}

// ActiveAt is the point-in-time authorization predicate: the window is
// inclusive at both ends and a nil expiry means open-ended.
func (g *AccessGrant) ActiveAt(at time.Time) bool {
	if g == nil {
		return false
	}
	if at.Before(g.StartsAt) {
		return false
	}
	if g.ExpiresAt != nil && at.After(*g.ExpiresAt) {
		return false
	}
	return true
}
