// Package payments records each payment attempt and its outcome, keyed by
// the external invoice id for idempotent accounting.
package payments

import (
	"context"
	"iter"
	"time"

	"peopledesk-app/internal/domain/billing"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Ledger struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewLedger(db *gorm.DB, log *zap.Logger) *Ledger {
	return &Ledger{db: db, log: log}
}

// Entry is one payment attempt as reported by an invoice event.
type Entry struct {
	StripeInvoiceID string
	SubscriptionID  uint
	AmountCents     int64
	Currency        string
	Status          billing.PaymentStatus
	FailureReason   *string
	PaidAt          *time.Time
}

// Record upserts the payment row for an invoice. Redelivering the same
// outcome leaves exactly one unchanged row; a different outcome for the
// same invoice (a retried payment that later succeeds) updates the row in
// place rather than duplicating it. Safe under concurrency because the
// invoice id is unique and the write is a single database-level upsert.
func (l *Ledger) Record(ctx context.Context, e Entry) error {
	payment := billing.Payment{
		StripeInvoiceID: e.StripeInvoiceID,
		SubscriptionID:  e.SubscriptionID,
		AmountCents:     e.AmountCents,
		Currency:        e.Currency,
		Status:          e.Status,
		FailureReason:   e.FailureReason,
		PaidAt:          e.PaidAt,
	}
	err := l.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "stripe_invoice_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"status", "failure_reason", "paid_at", "amount_cents", "currency",
			}),
		}).
		Create(&payment).Error
	if err != nil {
		return err
	}

	l.log.Info("payment recorded",
		zap.String("invoice", e.StripeInvoiceID),
		zap.String("status", string(e.Status)),
		zap.Int64("amount_cents", e.AmountCents))
	return nil
}

// History returns the payment records of a subscription, newest first. The
// sequence is lazy and restartable: nothing is queried until ranged over,
// and every range re-runs the query.
func (l *Ledger) History(ctx context.Context, subscriptionID uint) iter.Seq2[billing.Payment, error] {
	return func(yield func(billing.Payment, error) bool) {
		rows, err := l.db.WithContext(ctx).
			Model(&billing.Payment{}).
			Where("subscription_id = ?", subscriptionID).
			Order("COALESCE(paid_at, created_at) DESC, id DESC").
			Rows()
		if err != nil {
			yield(billing.Payment{}, err)
			return
		}
		defer rows.Close()

		for rows.Next() {
			var p billing.Payment
			if err := l.db.ScanRows(rows, &p); err != nil {
				yield(billing.Payment{}, err)
				return
			}
			if !yield(p, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(billing.Payment{}, err)
		}
	}
}
