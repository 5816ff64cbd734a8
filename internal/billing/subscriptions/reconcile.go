package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"peopledesk-app/internal/domain/billing"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SubscriptionFetcher is the outbound call drift repair needs.
type SubscriptionFetcher interface {
	FetchSubscription(ctx context.Context, stripeSubID string) (billing.RemoteSubscription, error)
}

// Reconciler overwrites local subscription state from the processor's
// authoritative record. Out-of-band repair tool for drift after a prolonged
// outage; not part of the webhook hot path.
type Reconciler struct {
	db      *gorm.DB
	fetcher SubscriptionFetcher
	log     *zap.Logger
}

func NewReconciler(db *gorm.DB, fetcher SubscriptionFetcher, log *zap.Logger) *Reconciler {
	return &Reconciler{db: db, fetcher: fetcher, log: log}
}

// Reconcile re-fetches one subscription and overwrites the local row,
// creating it if the webhook that should have created it was lost. The
// write is unconditional: a manual repair wins over whatever is stored,
// and the event watermark advances to the fetch time so older queued
// events cannot undo it.
func (r *Reconciler) Reconcile(ctx context.Context, stripeSubscriptionID string) (billing.Subscription, error) {
	remote, err := r.fetcher.FetchSubscription(ctx, stripeSubscriptionID)
	if err != nil {
		return billing.Subscription{}, err
	}

	fetchedAt := time.Now().UTC()

	var sub billing.Subscription
	err = r.db.WithContext(ctx).
		Where("stripe_subscription_id = ?", stripeSubscriptionID).
		First(&sub).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		var cust billing.Customer
		if err := r.db.WithContext(ctx).
			Where("stripe_customer_id = ?", remote.StripeCustomerID).
			First(&cust).Error; err != nil {
			return billing.Subscription{}, fmt.Errorf("customer %s for subscription %s: %w",
				remote.StripeCustomerID, stripeSubscriptionID, billing.ErrNotFound)
		}
		sub = billing.Subscription{
			CustomerID:           cust.ID,
			StripeSubscriptionID: remote.StripeSubscriptionID,
		}
	case err != nil:
		return billing.Subscription{}, err
	}

	before := sub.Status
	sub.StripePriceID = remote.StripePriceID
	sub.Status = remote.Status
	sub.CurrentPeriodStart = remote.CurrentPeriodStart
	sub.CurrentPeriodEnd = remote.CurrentPeriodEnd
	sub.CancelAtPeriodEnd = remote.CancelAtPeriodEnd
	sub.CanceledAt = remote.CanceledAt
	sub.LastEventAt = fetchedAt
	if remote.Status == billing.StatusActive {
		sub.FailedPaymentCount = 0
	}

	if err := r.db.WithContext(ctx).Save(&sub).Error; err != nil {
		return billing.Subscription{}, fmt.Errorf("overwrite subscription %s: %w", stripeSubscriptionID, err)
	}

	r.log.Info("subscription reconciled from processor",
		zap.String("subscription", stripeSubscriptionID),
		zap.String("from", string(before)),
		zap.String("to", string(remote.Status)))
	return sub, nil
}
