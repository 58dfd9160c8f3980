package models

import (
	"time"

	"gorm.io/datatypes"
)

// UsageLog records metering data for a single billed request.
// Rows are append-only; one row is written per successfully billed request.
type UsageLog struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID   uint64 `gorm:"not null;index"`           // Charged user ID.
	Provider string `gorm:"type:text;not null;index"` // Provider name.
	Model    string `gorm:"type:text;not null;index"` // Model name.

	PromptUnits     int64 `gorm:"not null;default:0"` // Normalized prompt units.
	CompletionUnits int64 `gorm:"not null;default:0"` // Normalized completion units.

	CostMicros int64 `gorm:"not null;default:0"` // Charged cost in micros (1e-6 USD).

	Failed          bool           `gorm:"not null;default:false"` // Failure flag for audit rows.
	ErrorStatusCode *int           `gorm:"index"`                  // HTTP status code for failed requests.
	ErrorDetail     datatypes.JSON `gorm:"type:jsonb"`             // Structured error detail JSON.

	RequestedAt time.Time `gorm:"not null;index"`          // Request timestamp.
	CreatedAt   time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}

// TableName overrides the default table name.
func (UsageLog) TableName() string {
	return "usage_logs"
}
