package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rhino-ai/billing-gateway/internal/ledger"
)

// WalletHandler handles wallet balance endpoints.
type WalletHandler struct {
	ledger *ledger.Ledger
}

// NewWalletHandler constructs a WalletHandler.
func NewWalletHandler(l *ledger.Ledger) *WalletHandler {
	return &WalletHandler{ledger: l}
}

// Get returns the current wallet balance for the authenticated user.
func (h *WalletHandler) Get(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	balance, errBalance := h.ledger.Balance(c.Request.Context(), userID)
	if errBalance != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query wallet failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"balance":     balance,
		"can_request": balance > 0,
	})
}
