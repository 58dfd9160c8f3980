package payment

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/rhino-ai/billing-gateway/internal/ledger"
	"github.com/rhino-ai/billing-gateway/internal/models"
)

const (
	defaultReconcileInterval = 5 * time.Minute
	// defaultPendingCutoff is how long a transaction may sit pending
	// before the reconciler picks it up. Fresh rows are skipped because a
	// webhook delivery may still be mid-flight.
	defaultPendingCutoff = 15 * time.Minute
	reconcileBatchSize   = 200
)

// Reconciler periodically re-examines transactions stuck in pending and
// applies the credit they are owed. Unlike the webhook path, the credit
// and the status transition happen in a single transaction here, so a
// reconciled row can never be credited twice by later runs.
type Reconciler struct {
	db       *gorm.DB
	ledger   *ledger.Ledger
	interval time.Duration
	cutoff   time.Duration
}

// NewReconciler constructs a Reconciler with default timings.
func NewReconciler(db *gorm.DB, l *ledger.Ledger) *Reconciler {
	if db == nil || l == nil {
		return nil
	}
	return &Reconciler{
		db:       db,
		ledger:   l,
		interval: defaultReconcileInterval,
		cutoff:   defaultPendingCutoff,
	}
}

// SetInterval overrides the reconcile loop interval.
func (r *Reconciler) SetInterval(d time.Duration) {
	if r != nil && d > 0 {
		r.interval = d
	}
}

// SetPendingCutoff overrides the minimum age for settling pending rows.
func (r *Reconciler) SetPendingCutoff(d time.Duration) {
	if r != nil && d > 0 {
		r.cutoff = d
	}
}

// Start launches the reconcile loop in a background goroutine.
func (r *Reconciler) Start(ctx context.Context) {
	if r == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	go r.run(ctx)
	log.Infof("payment reconciler started (interval=%s cutoff=%s)", r.interval, r.cutoff)
}

func (r *Reconciler) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		r.ReconcileOnce(ctx)
		timer := time.NewTimer(r.interval)
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			return
		case <-timer.C:
		}
	}
}

// ReconcileOnce processes one batch of stale pending transactions.
func (r *Reconciler) ReconcileOnce(ctx context.Context) {
	cutoffAt := time.Now().UTC().Add(-r.cutoff)

	var stale []models.PaymentTransaction
	if errFind := r.db.WithContext(ctx).
		Where("status = ? AND created_at <= ?", models.PaymentStatusPending, cutoffAt).
		Order("created_at ASC, id ASC").
		Limit(reconcileBatchSize).
		Find(&stale).Error; errFind != nil {
		log.WithError(errFind).Warn("payment reconciler: query pending transactions failed")
		return
	}

	for _, row := range stale {
		if ctx.Err() != nil {
			return
		}
		if errSettle := r.settle(ctx, row.ID); errSettle != nil {
			log.WithError(errSettle).WithField("transaction_id", row.ID).
				Warn("payment reconciler: settle failed")
		}
	}
}

// settle credits the wallet and marks the row completed atomically. The
// row is re-read under lock so a concurrent webhook retry cannot race the
// status transition.
func (r *Reconciler) settle(ctx context.Context, id uint64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.PaymentTransaction
		if errFind := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&row, id).Error; errFind != nil {
			return errFind
		}
		if row.Status != models.PaymentStatusPending {
			return nil
		}

		if errCredit := r.ledger.CreditInTx(tx, row.UserID, row.AmountMicros); errCredit != nil {
			return errCredit
		}

		now := time.Now().UTC()
		if errUpdate := tx.Model(&models.PaymentTransaction{}).
			Where("id = ?", row.ID).
			Updates(map[string]any{
				"status":       models.PaymentStatusCompleted,
				"completed_at": now,
			}).Error; errUpdate != nil {
			return errUpdate
		}

		log.WithFields(log.Fields{
			"transaction_id": row.ID,
			"user_id":        row.UserID,
			"amount_micros":  row.AmountMicros,
		}).Info("payment reconciler: settled stale pending transaction")
		return nil
	})
}
