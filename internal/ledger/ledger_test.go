package ledger

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/rhino-ai/billing-gateway/internal/models"
	"github.com/rhino-ai/billing-gateway/internal/usage"
)

func setupLedgerDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:ledger_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, errOpen := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.AutoMigrate(&models.Wallet{}, &models.UsageLog{}); errMigrate != nil {
		t.Fatalf("migrate db: %v", errMigrate)
	}
	return db
}

func seedWallet(t *testing.T, db *gorm.DB, userID uint64, balance float64) {
	t.Helper()
	if errCreate := db.Create(&models.Wallet{UserID: userID, Balance: balance}).Error; errCreate != nil {
		t.Fatalf("create wallet: %v", errCreate)
	}
}

func walletBalance(t *testing.T, db *gorm.DB, userID uint64) float64 {
	t.Helper()
	var wallet models.Wallet
	if errFind := db.Where("user_id = ?", userID).First(&wallet).Error; errFind != nil {
		t.Fatalf("find wallet: %v", errFind)
	}
	return wallet.Balance
}

func TestDebitDecrementsBalanceAndWritesOneEntry(t *testing.T) {
	db := setupLedgerDB(t)
	seedWallet(t, db, 7, 1.0)
	l := New(db)

	receipt, errDebit := l.Debit(context.Background(), DebitParams{
		UserID:     7,
		Provider:   "openrouter",
		Model:      "gpt-4o-mini",
		Usage:      usage.ProviderUsage{PromptUnits: 1000, CompletionUnits: 500},
		CostMicros: 630,
	})
	if errDebit != nil {
		t.Fatalf("debit: %v", errDebit)
	}
	if receipt.AmountMicro != 630 {
		t.Fatalf("expected receipt amount 630, got %d", receipt.AmountMicro)
	}

	if got := walletBalance(t, db, 7); math.Abs(got-(1.0-0.00063)) > 1e-9 {
		t.Fatalf("unexpected balance after debit: %v", got)
	}

	var count int64
	if errCount := db.Model(&models.UsageLog{}).Where("user_id = ?", 7).Count(&count).Error; errCount != nil {
		t.Fatalf("count usage logs: %v", errCount)
	}
	if count != 1 {
		t.Fatalf("expected exactly one usage log, got %d", count)
	}

	var entry models.UsageLog
	if errFind := db.First(&entry, receipt.EntryID).Error; errFind != nil {
		t.Fatalf("find usage log: %v", errFind)
	}
	if entry.CostMicros != 630 || entry.PromptUnits != 1000 || entry.CompletionUnits != 500 {
		t.Fatalf("unexpected usage log row: %+v", entry)
	}
}

func TestDebitCreatesWalletLazily(t *testing.T) {
	db := setupLedgerDB(t)
	l := New(db)

	if _, errDebit := l.Debit(context.Background(), DebitParams{
		UserID:     42,
		Provider:   "openai",
		Model:      "tts-1",
		Usage:      usage.ProviderUsage{PromptUnits: 100},
		CostMicros: 50,
	}); errDebit != nil {
		t.Fatalf("debit: %v", errDebit)
	}

	// Lazily created wallets start at zero, so the first charge can drive
	// the balance negative; the guard is advisory, not a reservation.
	if got := walletBalance(t, db, 42); math.Abs(got-(-0.00005)) > 1e-9 {
		t.Fatalf("unexpected balance: %v", got)
	}
}

func TestDebitRejectsNonPositiveCost(t *testing.T) {
	db := setupLedgerDB(t)
	l := New(db)

	if _, errDebit := l.Debit(context.Background(), DebitParams{UserID: 1}); errDebit != ErrNonPositiveAmount {
		t.Fatalf("expected ErrNonPositiveAmount, got %v", errDebit)
	}

	var count int64
	if errCount := db.Model(&models.UsageLog{}).Count(&count).Error; errCount != nil {
		t.Fatalf("count usage logs: %v", errCount)
	}
	if count != 0 {
		t.Fatalf("expected no usage logs, got %d", count)
	}
}

func TestCreditIncrementsBalance(t *testing.T) {
	db := setupLedgerDB(t)
	seedWallet(t, db, 3, 0.5)
	l := New(db)

	if errCredit := l.Credit(context.Background(), 3, 100_000); errCredit != nil {
		t.Fatalf("credit: %v", errCredit)
	}
	if got := walletBalance(t, db, 3); math.Abs(got-0.6) > 1e-9 {
		t.Fatalf("unexpected balance after credit: %v", got)
	}
}

func TestCheckBalance(t *testing.T) {
	db := setupLedgerDB(t)
	seedWallet(t, db, 1, 0.25)
	seedWallet(t, db, 2, 0)
	l := New(db)

	tests := []struct {
		userID  uint64
		allowed bool
		balance float64
	}{
		{1, true, 0.25},
		{2, false, 0},
		{99, false, 0}, // no wallet yet
	}
	for _, tc := range tests {
		allowed, balance, errCheck := l.CheckBalance(context.Background(), tc.userID)
		if errCheck != nil {
			t.Fatalf("check balance user %d: %v", tc.userID, errCheck)
		}
		if allowed != tc.allowed || math.Abs(balance-tc.balance) > 1e-9 {
			t.Fatalf("user %d: got allowed=%v balance=%v", tc.userID, allowed, balance)
		}
	}
}

func TestRecordFailureWritesZeroCostRow(t *testing.T) {
	db := setupLedgerDB(t)
	l := New(db)

	errRecord := l.RecordFailure(context.Background(), DebitParams{
		UserID:   5,
		Provider: "openrouter",
		Model:    "gpt-4o",
	}, 502, []byte(`{"message":"upstream unavailable"}`))
	if errRecord != nil {
		t.Fatalf("record failure: %v", errRecord)
	}

	var entry models.UsageLog
	if errFind := db.Where("user_id = ?", 5).First(&entry).Error; errFind != nil {
		t.Fatalf("find usage log: %v", errFind)
	}
	if !entry.Failed || entry.CostMicros != 0 {
		t.Fatalf("unexpected failure row: %+v", entry)
	}
	if entry.ErrorStatusCode == nil || *entry.ErrorStatusCode != 502 {
		t.Fatalf("unexpected status code: %+v", entry.ErrorStatusCode)
	}

	// A failure row never touches the wallet.
	var count int64
	if errCount := db.Model(&models.Wallet{}).Count(&count).Error; errCount != nil {
		t.Fatalf("count wallets: %v", errCount)
	}
	if count != 0 {
		t.Fatalf("expected no wallet rows, got %d", count)
	}
}
