package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/rhino-ai/billing-gateway/internal/ledger"
	"github.com/rhino-ai/billing-gateway/internal/models"
)

func setupHandlerDB(t *testing.T) *gorm.DB {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dsn := fmt.Sprintf("file:front_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, errOpen := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.AutoMigrate(&models.Wallet{}, &models.UsageLog{}); errMigrate != nil {
		t.Fatalf("migrate db: %v", errMigrate)
	}
	return db
}

func TestWalletGetReturnsBalance(t *testing.T) {
	db := setupHandlerDB(t)
	if errCreate := db.Create(&models.Wallet{UserID: 7, Balance: 2.5}).Error; errCreate != nil {
		t.Fatalf("create wallet: %v", errCreate)
	}

	h := NewWalletHandler(ledger.New(db))
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Set("userID", uint64(7))
	c.Request = httptest.NewRequest(http.MethodGet, "/v0/front/wallet", nil)

	h.Get(c)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", w.Code, w.Body.String())
	}
	var resp struct {
		Balance    float64 `json:"balance"`
		CanRequest bool    `json:"can_request"`
	}
	if errDecode := json.Unmarshal(w.Body.Bytes(), &resp); errDecode != nil {
		t.Fatalf("decode response: %v", errDecode)
	}
	if resp.Balance != 2.5 || !resp.CanRequest {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestWalletGetUnknownUserReportsZero(t *testing.T) {
	db := setupHandlerDB(t)

	h := NewWalletHandler(ledger.New(db))
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Set("userID", uint64(99))
	c.Request = httptest.NewRequest(http.MethodGet, "/v0/front/wallet", nil)

	h.Get(c)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", w.Code, w.Body.String())
	}
	var resp struct {
		Balance    float64 `json:"balance"`
		CanRequest bool    `json:"can_request"`
	}
	if errDecode := json.Unmarshal(w.Body.Bytes(), &resp); errDecode != nil {
		t.Fatalf("decode response: %v", errDecode)
	}
	if resp.Balance != 0 || resp.CanRequest {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestUsageStatsAggregatesWindows(t *testing.T) {
	db := setupHandlerDB(t)
	now := time.Now()
	rows := []models.UsageLog{
		{UserID: 7, Provider: "openai", Model: "gpt-4o-mini", PromptUnits: 100, CompletionUnits: 50, CostMicros: 630, RequestedAt: now},
		{UserID: 7, Provider: "openai", Model: "gpt-4o-mini", Failed: true, RequestedAt: now},
		{UserID: 7, Provider: "openai", Model: "gpt-4o-mini", PromptUnits: 10, CompletionUnits: 5, CostMicros: 63, RequestedAt: now.AddDate(0, 0, -10)},
		{UserID: 8, Provider: "openai", Model: "gpt-4o-mini", PromptUnits: 999, CostMicros: 999, RequestedAt: now},
	}
	for i := range rows {
		if errCreate := db.Create(&rows[i]).Error; errCreate != nil {
			t.Fatalf("create usage log: %v", errCreate)
		}
	}

	h := NewUsageHandler(db)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Set("userID", uint64(7))
	c.Request = httptest.NewRequest(http.MethodGet, "/v0/front/usage/stats", nil)

	h.Stats(c)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", w.Code, w.Body.String())
	}
	var resp map[string]struct {
		TotalRequests  int64 `json:"total_requests"`
		FailedRequests int64 `json:"failed_requests"`
		TotalUnits     int64 `json:"total_units"`
		CostMicros     int64 `json:"cost_micros"`
	}
	if errDecode := json.Unmarshal(w.Body.Bytes(), &resp); errDecode != nil {
		t.Fatalf("decode response: %v", errDecode)
	}

	today := resp["today"]
	if today.TotalRequests != 2 || today.FailedRequests != 1 || today.TotalUnits != 150 || today.CostMicros != 630 {
		t.Fatalf("unexpected today summary: %+v", today)
	}
	month := resp["30_days"]
	if month.TotalRequests != 3 || month.CostMicros != 693 {
		t.Fatalf("unexpected 30_days summary: %+v", month)
	}
}
