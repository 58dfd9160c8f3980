package ledger

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/rhino-ai/billing-gateway/internal/models"
	"github.com/rhino-ai/billing-gateway/internal/usage"
)

// ErrNonPositiveAmount rejects debit or credit calls with a non-positive amount.
var ErrNonPositiveAmount = errors.New("ledger: non-positive amount")

// Ledger is the single owner of wallet balance mutations. All callers go
// through Debit and Credit; nothing else is permitted to read-modify-write
// the balance column.
type Ledger struct {
	db *gorm.DB
}

// New constructs a Ledger backed by GORM.
func New(db *gorm.DB) *Ledger { return &Ledger{db: db} }

// DebitParams describes one billable request to be charged.
type DebitParams struct {
	UserID      uint64
	Provider    string
	Model       string
	Usage       usage.ProviderUsage
	CostMicros  int64
	RequestedAt time.Time
}

// Receipt identifies a completed debit. RefundFailedCharge consumes the
// exact amount recorded here rather than recomputing it, so a refund is
// unaffected by pricing changes between debit and refund.
type Receipt struct {
	EntryID     uint64
	UserID      uint64
	AmountMicro int64
}

// Balance returns the wallet balance for a user, zero if no wallet exists yet.
func (l *Ledger) Balance(ctx context.Context, userID uint64) (float64, error) {
	var wallet models.Wallet
	errFind := l.db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&wallet).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, errFind
	}
	return wallet.Balance, nil
}

// CheckBalance is the advisory pre-flight guard: it reports whether a paid
// request may start. It only prevents starting a session on an empty
// wallet; it does not reserve funds, so a request that passes can still
// cost more than the remaining balance.
func (l *Ledger) CheckBalance(ctx context.Context, userID uint64) (bool, float64, error) {
	balance, err := l.Balance(ctx, userID)
	if err != nil {
		return false, 0, err
	}
	return balance > 0, balance, nil
}

// Debit atomically decrements the wallet balance and appends one usage log
// entry, or does neither. The wallet row is locked for the duration of the
// transaction and created lazily at zero balance on first use.
func (l *Ledger) Debit(ctx context.Context, p DebitParams) (Receipt, error) {
	if p.CostMicros <= 0 {
		return Receipt{}, ErrNonPositiveAmount
	}
	amount := float64(p.CostMicros) / 1_000_000

	entry := models.UsageLog{
		UserID:          p.UserID,
		Provider:        p.Provider,
		Model:           p.Model,
		PromptUnits:     p.Usage.PromptUnits,
		CompletionUnits: p.Usage.CompletionUnits,
		CostMicros:      p.CostMicros,
		RequestedAt:     normalizeTime(p.RequestedAt),
	}

	errTx := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		wallet, errWallet := lockWallet(tx, p.UserID)
		if errWallet != nil {
			return errWallet
		}
		if errUpdate := tx.Model(&models.Wallet{}).
			Where("id = ?", wallet.ID).
			Update("balance", gorm.Expr("balance - ?", amount)).Error; errUpdate != nil {
			return errUpdate
		}
		return tx.Create(&entry).Error
	})
	if errTx != nil {
		return Receipt{}, errTx
	}
	return Receipt{EntryID: entry.ID, UserID: p.UserID, AmountMicro: p.CostMicros}, nil
}

// Credit atomically increments the wallet balance. Used by the refund path
// and by payment crediting; the wallet is created lazily when absent.
func (l *Ledger) Credit(ctx context.Context, userID uint64, amountMicros int64) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return l.CreditInTx(tx, userID, amountMicros)
	})
}

// CreditInTx applies a credit inside a caller-owned transaction, for flows
// that must mutate other rows atomically with the wallet increment (the
// payment reconciler credits and marks the transaction row in one step).
func (l *Ledger) CreditInTx(tx *gorm.DB, userID uint64, amountMicros int64) error {
	if amountMicros <= 0 {
		return ErrNonPositiveAmount
	}
	amount := float64(amountMicros) / 1_000_000

	wallet, errWallet := lockWallet(tx, userID)
	if errWallet != nil {
		return errWallet
	}
	return tx.Model(&models.Wallet{}).
		Where("id = ?", wallet.ID).
		Update("balance", gorm.Expr("balance + ?", amount)).Error
}

// RecordFailure appends a zero-cost audit row for a failed request.
// No balance mutation happens here.
func (l *Ledger) RecordFailure(ctx context.Context, p DebitParams, statusCode int, detail []byte) error {
	entry := models.UsageLog{
		UserID:          p.UserID,
		Provider:        p.Provider,
		Model:           p.Model,
		PromptUnits:     p.Usage.PromptUnits,
		CompletionUnits: p.Usage.CompletionUnits,
		Failed:          true,
		RequestedAt:     normalizeTime(p.RequestedAt),
	}
	if statusCode != 0 {
		code := statusCode
		entry.ErrorStatusCode = &code
	}
	if len(detail) > 0 {
		entry.ErrorDetail = datatypes.JSON(detail)
	}
	return l.db.WithContext(ctx).Create(&entry).Error
}

// lockWallet loads the wallet row under a FOR UPDATE lock, creating it at
// zero balance if the user has never been charged or credited before.
func lockWallet(tx *gorm.DB, userID uint64) (models.Wallet, error) {
	var wallet models.Wallet
	errFind := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&wallet).Error
	if errFind == nil {
		return wallet, nil
	}
	if !errors.Is(errFind, gorm.ErrRecordNotFound) {
		return models.Wallet{}, errFind
	}
	wallet = models.Wallet{UserID: userID}
	if errCreate := tx.Create(&wallet).Error; errCreate != nil {
		return models.Wallet{}, errCreate
	}
	return wallet, nil
}

// normalizeTime returns a UTC timestamp, defaulting to now if zero.
func normalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
