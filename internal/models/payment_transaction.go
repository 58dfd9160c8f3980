package models

import "time"

// Payment transaction statuses. A transaction transitions exactly once
// from pending to one of the terminal states.
const (
	// PaymentStatusPending marks a transaction inserted but not yet credited.
	PaymentStatusPending = "pending"
	// PaymentStatusCompleted marks a transaction whose credit was applied.
	PaymentStatusCompleted = "completed"
	// PaymentStatusFailed marks a transaction the gateway reported as failed.
	PaymentStatusFailed = "failed"
	// PaymentStatusCancelled marks a transaction cancelled before capture.
	PaymentStatusCancelled = "cancelled"
)

// PaymentTransaction records one external payment confirmation.
//
// The unique index on GatewayToken is the sole defense against
// double-crediting when the gateway redelivers a callback.
type PaymentTransaction struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID       uint64 `gorm:"not null;index"`                 // Credited user ID.
	GatewayToken string `gorm:"type:text;not null;uniqueIndex"` // Gateway-issued idempotency token.

	AmountMicros    int64  `gorm:"not null;default:0"` // Wallet credit amount in micros (1e-6 USD).
	GatewayAmount   int64  `gorm:"not null;default:0"` // Amount charged by the gateway, in its minor unit.
	GatewayCurrency string `gorm:"type:text"`          // Gateway currency code.

	Status string `gorm:"type:text;not null;default:pending;index"` // pending|completed|failed|cancelled.

	CreatedAt   time.Time  `gorm:"not null;autoCreateTime"` // Creation timestamp.
	CompletedAt *time.Time // Completion time, if completed.
}

// TableName overrides the default table name.
func (PaymentTransaction) TableName() string {
	return "payment_transactions"
}
