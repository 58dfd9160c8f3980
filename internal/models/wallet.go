package models

import "time"

// Wallet holds the stored monetary balance for a single user.
//
// The balance column is only ever mutated through the ledger's atomic
// debit and credit primitives; no other component reads-modifies-writes it.
type Wallet struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID  uint64  `gorm:"not null;uniqueIndex"`                   // Owning user ID.
	Balance float64 `gorm:"type:decimal(20,10);not null;default:0"` // Remaining balance in USD.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last mutation timestamp.
}

// TableName overrides the default table name.
func (Wallet) TableName() string {
	return "wallets"
}
