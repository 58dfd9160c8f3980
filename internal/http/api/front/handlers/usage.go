package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/rhino-ai/billing-gateway/internal/models"
)

// UsageHandler handles usage statistics endpoints.
type UsageHandler struct {
	db *gorm.DB
}

// NewUsageHandler constructs a UsageHandler.
func NewUsageHandler(db *gorm.DB) *UsageHandler {
	return &UsageHandler{db: db}
}

// usageSummary aggregates usage statistics.
type usageSummary struct {
	TotalRequests  int64 `json:"total_requests"`
	FailedRequests int64 `json:"failed_requests"`
	TotalUnits     int64 `json:"total_units"`
	CostMicros     int64 `json:"cost_micros"`
}

// Stats returns usage summaries for recent time windows.
func (h *UsageHandler) Stats(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	loc := time.Local
	now := time.Now().In(loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)

	periods := map[string]time.Time{
		"today":   today,
		"7_days":  today.AddDate(0, 0, -6),
		"30_days": today.AddDate(0, 0, -29),
	}

	result := make(map[string]usageSummary)
	for name, since := range periods {
		var summary usageSummary
		if errScan := h.db.WithContext(c.Request.Context()).Model(&models.UsageLog{}).
			Where("user_id = ? AND requested_at >= ?", userID, since).
			Select("COUNT(*) AS total_requests, " +
				"COALESCE(SUM(CASE WHEN failed THEN 1 ELSE 0 END), 0) AS failed_requests, " +
				"COALESCE(SUM(prompt_units + completion_units), 0) AS total_units, " +
				"COALESCE(SUM(cost_micros), 0) AS cost_micros").
			Scan(&summary).Error; errScan != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "query usage failed"})
			return
		}
		result[name] = summary
	}

	c.JSON(http.StatusOK, result)
}
