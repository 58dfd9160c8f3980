package front

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	relayhttp "github.com/rhino-ai/billing-gateway/internal/http"
	"github.com/rhino-ai/billing-gateway/internal/http/api/front/handlers"
	"github.com/rhino-ai/billing-gateway/internal/ledger"
)

// RegisterFrontRoutes registers authenticated account-facing routes.
func RegisterFrontRoutes(r *gin.Engine, db *gorm.DB, jwtSecret string, l *ledger.Ledger) {
	if r == nil || db == nil {
		return
	}

	front := r.Group("/v0/front")
	front.Use(relayhttp.UserAuthMiddleware(jwtSecret))

	walletHandler := handlers.NewWalletHandler(l)
	front.GET("/wallet", walletHandler.Get)

	usageHandler := handlers.NewUsageHandler(db)
	front.GET("/usage/stats", usageHandler.Stats)
}
