package types

import (
	"time"

	"github.com/google/uuid"
)

const (
	SeverityMin = 0
	SeverityMax = 10
)

// PainEvent is one diary entry. OccurredAt is when the pain happened,
// RecordedAt is when the user logged it; both are required and may differ.
type PainEvent struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID          uuid.UUID `gorm:"type:uuid;not null;index;column:user_id" json:"user_id"`
	OccurredAt      time.Time `gorm:"not null;column:occurred_at;index" json:"occurred_at"`
	RecordedAt      time.Time `gorm:"not null;column:recorded_at" json:"recorded_at"`
	Severity        int       `gorm:"not null;column:severity" json:"severity"`
	DurationMinutes *int      `gorm:"column:duration_minutes" json:"duration_minutes,omitempty"`
	Location        string    `gorm:"column:location" json:"location"`
	Triggers        string    `gorm:"column:triggers" json:"triggers"`
	Notes           string    `gorm:"column:notes" json:"notes"`
	Medications     string    `gorm:"column:medications" json:"medications"`
	Mood            string    `gorm:"column:mood" json:"mood"`
	ActivityLevel   string    `gorm:"column:activity_level" json:"activity_level"`
	CreatedAt       time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time `gorm:"not null" json:"updated_at"`
}

func (PainEvent) TableName() string {
	return "pain_event"
}
