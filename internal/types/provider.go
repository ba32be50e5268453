package types

import (
	"time"

	"github.com/google/uuid"
)

type Provider struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ExternalID   *string   `gorm:"column:external_id;index" json:"external_id,omitempty"`
	Name         string    `gorm:"not null;column:name;index" json:"name"`
	Specialty    string    `gorm:"column:specialty" json:"specialty"`
	Organization string    `gorm:"column:organization" json:"organization"`
	ContactEmail string    `gorm:"column:contact_email" json:"contact_email"`
	ContactPhone string    `gorm:"column:contact_phone" json:"contact_phone"`
	CreatedAt    time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time `gorm:"not null" json:"updated_at"`
}

func (Provider) TableName() string {
	return "provider"
}
