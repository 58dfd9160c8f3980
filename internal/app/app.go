package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/rhino-ai/billing-gateway/internal/config"
	"github.com/rhino-ai/billing-gateway/internal/db"
	"github.com/rhino-ai/billing-gateway/internal/gateway"
	relayhttp "github.com/rhino-ai/billing-gateway/internal/http"
	"github.com/rhino-ai/billing-gateway/internal/http/api/front"
	"github.com/rhino-ai/billing-gateway/internal/ledger"
	"github.com/rhino-ai/billing-gateway/internal/logging"
	"github.com/rhino-ai/billing-gateway/internal/payment"
	"github.com/rhino-ai/billing-gateway/internal/pricing"
	"github.com/rhino-ai/billing-gateway/internal/provider"
	"github.com/rhino-ai/billing-gateway/internal/util"
)

// Migrate opens the database and runs migrations.
func Migrate(_ context.Context, cfg *config.Config) error {
	conn, errOpen := db.Open(cfg.Database.DSN)
	if errOpen != nil {
		return errOpen
	}
	return db.Migrate(conn)
}

// RunServer boots the billing gateway with database-backed components and
// serves until ctx is cancelled.
func RunServer(ctx context.Context, cfg *config.Config) error {
	logging.Setup(cfg.Log)

	conn, errOpen := db.Open(cfg.Database.DSN)
	if errOpen != nil {
		return errOpen
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}

	ledgerStore := ledger.New(conn)
	table := pricing.NewTable(cfg.Pricing)
	gw := gateway.New(ledgerStore, table)

	var clients []provider.Client
	for _, p := range cfg.Providers {
		log.WithFields(log.Fields{
			"provider": p.Name,
			"api_key":  util.HideAPIKey(p.APIKey),
		}).Info("registering provider")
		clients = append(clients, provider.NewOpenAIClient(p.Name, p.BaseURL, p.APIKey))
	}
	registry := provider.NewRegistry(clients...)

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	guard := payment.NewGuard(conn, ledgerStore, rdb)

	reconciler := payment.NewReconciler(conn, ledgerStore)
	if cfg.Reconciler.Interval > 0 {
		reconciler.SetInterval(cfg.Reconciler.Interval)
	}
	if cfg.Reconciler.PendingCutoff > 0 {
		reconciler.SetPendingCutoff(cfg.Reconciler.PendingCutoff)
	}
	reconciler.Start(ctx)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(relayhttp.RequestIDMiddleware())
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	relayhttp.RegisterRelayRoutes(r, cfg.Auth.JWTSecret, relayhttp.NewRelayHandler(gw, registry))
	front.RegisterFrontRoutes(r, conn, cfg.Auth.JWTSecret, ledgerStore)

	if cfg.Payments.WebhookSecret != "" {
		webhook := payment.NewWebhookHandler(guard, cfg.Payments.WebhookSecret, float64(cfg.Payments.CreditMicrosPerMinorUnit))
		r.POST("/v1/payments/webhook", webhook.Handle)
	} else {
		log.Warn("payments webhook secret not configured, webhook endpoint disabled")
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("listen", cfg.Listen).Info("billing gateway listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if errShutdown := srv.Shutdown(shutdownCtx); errShutdown != nil {
			return errShutdown
		}
		return nil
	case errServe := <-errCh:
		if errors.Is(errServe, http.ErrServerClosed) {
			return nil
		}
		return errServe
	}
}
