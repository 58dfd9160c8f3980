// Package payment handles wallet crediting from external payment
// confirmations: the idempotent dedup guard, the Stripe webhook surface,
// and the out-of-band reconciler for transactions stuck pending.
package payment

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/rhino-ai/billing-gateway/internal/ledger"
	"github.com/rhino-ai/billing-gateway/internal/models"
)

// ErrEmptyToken rejects callbacks without a gateway token.
var ErrEmptyToken = errors.New("payment: empty gateway token")

// seenKeyTTL bounds how long processed tokens stay in the redis fast path.
const seenKeyTTL = 48 * time.Hour

// Guard credits wallets from gateway callbacks exactly once per token.
// The unique index on payment_transactions.gateway_token is the arbiter;
// redis, when configured, only short-circuits tokens already known to be
// fully processed.
type Guard struct {
	db     *gorm.DB
	ledger *ledger.Ledger
	rdb    *redis.Client
}

// NewGuard constructs a Guard. rdb may be nil, which disables the fast path.
func NewGuard(db *gorm.DB, l *ledger.Ledger, rdb *redis.Client) *Guard {
	return &Guard{db: db, ledger: l, rdb: rdb}
}

// Params describes one gateway payment confirmation.
type Params struct {
	GatewayToken    string
	UserID          uint64
	AmountMicros    int64 // Wallet credit in micros (1e-6 USD).
	GatewayAmount   int64 // Amount charged by the gateway, in its minor unit.
	GatewayCurrency string
}

// RecordPayment applies one payment confirmation. It returns credited=false
// with a nil error when the token was already processed: redelivered
// callbacks must be acknowledged as successes so the gateway stops retrying.
//
// The sequence is insert-pending, credit, mark-completed. A credit failure
// leaves the row pending for the reconciler; the wallet is untouched in
// that case.
func (g *Guard) RecordPayment(ctx context.Context, p Params) (bool, error) {
	token := strings.TrimSpace(p.GatewayToken)
	if token == "" {
		return false, ErrEmptyToken
	}
	if p.AmountMicros <= 0 {
		return false, ledger.ErrNonPositiveAmount
	}

	if g.seenInCache(ctx, token) {
		return false, nil
	}

	row := models.PaymentTransaction{
		UserID:          p.UserID,
		GatewayToken:    token,
		AmountMicros:    p.AmountMicros,
		GatewayAmount:   p.GatewayAmount,
		GatewayCurrency: p.GatewayCurrency,
		Status:          models.PaymentStatusPending,
	}
	res := g.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "gateway_token"}},
			DoNothing: true,
		}).
		Create(&row)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		// Redelivery: the token was already inserted by an earlier attempt.
		g.markSeen(ctx, token)
		return false, nil
	}

	if errCredit := g.ledger.Credit(ctx, p.UserID, p.AmountMicros); errCredit != nil {
		// Row stays pending; the reconciler retries the credit later.
		return false, errCredit
	}

	now := time.Now().UTC()
	if errUpdate := g.db.WithContext(ctx).
		Model(&models.PaymentTransaction{}).
		Where("id = ? AND status = ?", row.ID, models.PaymentStatusPending).
		Updates(map[string]any{
			"status":       models.PaymentStatusCompleted,
			"completed_at": now,
		}).Error; errUpdate != nil {
		// Credit applied but status not updated; flagged for operators,
		// see the reconciler notes.
		log.WithError(errUpdate).WithField("gateway_token", token).
			Error("payment: credited but failed to mark transaction completed")
		return true, nil
	}

	g.markSeen(ctx, token)
	return true, nil
}

// MarkFailed records a gateway-reported failure for a token that may or
// may not have been seen before. Only pending rows transition.
func (g *Guard) MarkFailed(ctx context.Context, gatewayToken string) error {
	token := strings.TrimSpace(gatewayToken)
	if token == "" {
		return ErrEmptyToken
	}
	return g.db.WithContext(ctx).
		Model(&models.PaymentTransaction{}).
		Where("gateway_token = ? AND status = ?", token, models.PaymentStatusPending).
		Update("status", models.PaymentStatusFailed).Error
}

func (g *Guard) seenInCache(ctx context.Context, token string) bool {
	if g.rdb == nil {
		return false
	}
	n, errExists := g.rdb.Exists(ctx, seenKey(token)).Result()
	if errExists != nil {
		// The cache is advisory; fall through to the database.
		log.WithError(errExists).Debug("payment: redis lookup failed")
		return false
	}
	return n > 0
}

func (g *Guard) markSeen(ctx context.Context, token string) {
	if g.rdb == nil {
		return
	}
	if errSet := g.rdb.Set(ctx, seenKey(token), 1, seenKeyTTL).Err(); errSet != nil {
		log.WithError(errSet).Debug("payment: redis set failed")
	}
}

func seenKey(token string) string { return "payment:processed:" + token }
