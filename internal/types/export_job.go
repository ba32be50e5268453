package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type ExportStatus string

const (
	ExportStatusPending ExportStatus = "pending"
	ExportStatusSuccess ExportStatus = "success"
	ExportStatusFailed  ExportStatus = "failed"
)

// Terminal reports whether no further transition may occur.
func (s ExportStatus) Terminal() bool {
	return s == ExportStatusSuccess || s == ExportStatusFailed
}

type ExportFormat string

const (
	ExportFormatJSON ExportFormat = "json"
	ExportFormatXML  ExportFormat = "xml"
)

func (f ExportFormat) Valid() bool {
	return f == ExportFormatJSON || f == ExportFormatXML
}

// ExportJob is one export attempt. A terminal job is never reopened; a retry
// is a new job for the same logical request. ProviderID is nil for a
// self-initiated export and is nulled when the provider is deleted.
type ExportJob struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID          uuid.UUID      `gorm:"type:uuid;not null;index;column:user_id" json:"user_id"`
	ProviderID      *uuid.UUID     `gorm:"type:uuid;index;column:provider_id" json:"provider_id,omitempty"`
	ExportType      string         `gorm:"not null;column:export_type" json:"export_type"`
	Format          string         `gorm:"not null;column:format" json:"format"`
	Status          string         `gorm:"not null;index;column:status" json:"status"`
	FileURI         string         `gorm:"column:file_uri" json:"file_uri,omitempty"`
	RequestPayload  datatypes.JSON `gorm:"type:jsonb;column:request_payload" json:"request_payload"`
	ResponsePayload datatypes.JSON `gorm:"type:jsonb;column:response_payload" json:"response_payload,omitempty"`
	LockedAt        *time.Time     `gorm:"column:locked_at;index" json:"locked_at,omitempty"`
	InitiatedAt     time.Time      `gorm:"not null;column:initiated_at" json:"initiated_at"`
	CompletedAt     *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
	CreatedAt       time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"not null" json:"updated_at"`
}

func (ExportJob) TableName() string {
	return "export_job"
}
