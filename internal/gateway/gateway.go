// Package gateway is the usage-metered billing core. Route handlers depend
// on these four operations and never on the store directly: charge for a
// unit of provider usage, wrap a provider stream with metering, credit the
// wallet from a payment, and refund a failed pre-charged operation.
package gateway

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/rhino-ai/billing-gateway/internal/ledger"
	"github.com/rhino-ai/billing-gateway/internal/pricing"
	"github.com/rhino-ai/billing-gateway/internal/provider"
	"github.com/rhino-ai/billing-gateway/internal/stream"
	"github.com/rhino-ai/billing-gateway/internal/usage"
)

// Billing error taxonomy. Errors raised before any externally visible side
// effect surface to the caller; errors after content delivery are logged
// and swallowed here.
var (
	// ErrInsufficientBalance rejects a request before any provider call.
	ErrInsufficientBalance = errors.New("gateway: insufficient balance")
	// ErrUnknownModel rejects a pre-charge for a model without pricing.
	ErrUnknownModel = errors.New("gateway: unknown model")
)

// Gateway wires the pricing table and the ledger into the billing
// operations exposed to route handlers.
type Gateway struct {
	ledger  *ledger.Ledger
	pricing *pricing.Table
}

// New constructs a Gateway.
func New(l *ledger.Ledger, t *pricing.Table) *Gateway {
	return &Gateway{ledger: l, pricing: t}
}

// ChargeResult reports the outcome of a charge attempt.
type ChargeResult struct {
	Billed     bool
	CostMicros int64
}

// Allow is the advisory balance guard. It returns ErrInsufficientBalance
// for a non-positive wallet so callers reject before invoking a provider.
// It does not reserve funds: concurrent requests from one user can
// collectively overdraw the wallet, which is an accepted property of the
// optimistic design.
func (g *Gateway) Allow(ctx context.Context, userID uint64) (float64, error) {
	allowed, balance, errCheck := g.ledger.CheckBalance(ctx, userID)
	if errCheck != nil {
		return 0, errCheck
	}
	if !allowed {
		return balance, ErrInsufficientBalance
	}
	return balance, nil
}

// ChargeForUsage bills one completed non-streaming request. Unknown usage
// shapes and unknown models bill nothing; a failed debit after the content
// was already produced is logged and swallowed, because the user keeps the
// delivered answer and the business absorbs the metering loss.
func (g *Gateway) ChargeForUsage(ctx context.Context, userID uint64, providerName, model string, raw usage.Raw) ChargeResult {
	return g.settle(ctx, userID, providerName, model, usage.Normalize(raw))
}

// WrapStreamWithMetering wraps a streaming provider response. The returned
// stream is chunk-identical to the input; if the stream completes with a
// captured usage record, the charge is applied as a side effect at its end.
func (g *Gateway) WrapStreamWithMetering(ctx context.Context, userID uint64, providerName, model string, upstream <-chan provider.StreamChunk) <-chan provider.StreamChunk {
	return stream.Meter(ctx, upstream, func(u usage.ProviderUsage) {
		// The request context may already be done when the stream drains;
		// settle on a fresh deadline so billing is not lost with it.
		settleCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		g.settle(settleCtx, userID, providerName, model, u)
	})
}

// PrechargePerItem debits a flat per-item price before the paid operation
// runs. The returned receipt carries the exact debited amount for a later
// refund. Used by flows whose cost is known up front, such as image
// generation.
func (g *Gateway) PrechargePerItem(ctx context.Context, userID uint64, providerName, model string, items int64) (ledger.Receipt, error) {
	entry, ok := g.pricing.Resolve(model)
	if !ok {
		return ledger.Receipt{}, ErrUnknownModel
	}
	u := usage.Normalize(usage.PerItemUsage{Items: items})
	cost := pricing.CostMicros(u, entry)
	if cost <= 0 {
		return ledger.Receipt{}, ErrUnknownModel
	}
	return g.ledger.Debit(ctx, ledger.DebitParams{
		UserID:     userID,
		Provider:   providerName,
		Model:      model,
		Usage:      u,
		CostMicros: cost,
	})
}

// RefundFailedCharge compensates a pre-charged operation that failed after
// its debit succeeded. The refund is exactly the receipt amount, never
// recomputed from pricing data that may have changed since the debit. A
// failed refund is a terminal, logged error; there is no retry loop.
func (g *Gateway) RefundFailedCharge(ctx context.Context, receipt ledger.Receipt) error {
	if errCredit := g.ledger.Credit(ctx, receipt.UserID, receipt.AmountMicro); errCredit != nil {
		log.WithError(errCredit).WithFields(log.Fields{
			"user_id":      receipt.UserID,
			"amount_micro": receipt.AmountMicro,
			"entry_id":     receipt.EntryID,
		}).Error("gateway: refund failed, manual reconciliation required")
		return errCredit
	}
	return nil
}

// RecordFailedRequest appends a zero-cost audit row for a failed provider
// call. Never mutates the wallet.
func (g *Gateway) RecordFailedRequest(ctx context.Context, userID uint64, providerName, model string, statusCode int, detail []byte) {
	errRecord := g.ledger.RecordFailure(ctx, ledger.DebitParams{
		UserID:   userID,
		Provider: providerName,
		Model:    model,
	}, statusCode, detail)
	if errRecord != nil {
		log.WithError(errRecord).Warn("gateway: failed to record failure audit row")
	}
}

// settle converts normalized usage into a debit. Zero usage, a missing
// pricing entry, and a zero computed cost all bill nothing.
func (g *Gateway) settle(ctx context.Context, userID uint64, providerName, model string, u usage.ProviderUsage) ChargeResult {
	if u.IsZero() {
		return ChargeResult{}
	}
	entry, ok := g.pricing.Resolve(model)
	if !ok {
		log.WithField("model", model).Warn("gateway: no pricing entry, skipping charge")
		return ChargeResult{}
	}
	cost := pricing.CostMicros(u, entry)
	if cost <= 0 {
		return ChargeResult{}
	}

	if _, errDebit := g.ledger.Debit(ctx, ledger.DebitParams{
		UserID:     userID,
		Provider:   providerName,
		Model:      model,
		Usage:      u,
		CostMicros: cost,
	}); errDebit != nil {
		// Content already reached the user; billing failure is a business
		// loss, not a reason to fail the request.
		log.WithError(errDebit).WithFields(log.Fields{
			"user_id": userID,
			"model":   model,
		}).Warn("gateway: debit failed after content delivery")
		return ChargeResult{Billed: false, CostMicros: cost}
	}
	return ChargeResult{Billed: true, CostMicros: cost}
}
