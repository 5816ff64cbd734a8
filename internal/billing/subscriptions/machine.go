// Package subscriptions tracks subscription lifecycle state and applies
// legal transitions from incoming processor events.
//
// Events arrive concurrently and in no particular order. Two rules make the
// outcome order-independent: a change older than the row's last applied
// event is discarded as stale, and every commit is a compare-and-swap on the
// last_event_at column so the loser of a write race discards its computed
// transition instead of overwriting a newer one.
package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"peopledesk-app/internal/domain/billing"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultRetryThreshold is how many recorded payment failures a past_due
// subscription survives before moving to unpaid.
const DefaultRetryThreshold = 3

// Change is one normalized event aimed at a subscription.
type Change struct {
	Kind                 billing.EventKind
	OccurredAt           time.Time
	StripeSubscriptionID string

	// creation only
	StripeCustomerID string

	// zero values mean "not carried by this event"
	StripePriceID string
	PeriodStart   time.Time
	PeriodEnd     time.Time

	// updated events carry the processor's own status
	RemoteStatus    billing.SubscriptionStatus
	HasRemoteStatus bool

	CancelAtPeriodEnd bool
	CanceledAt        *time.Time
}

type Machine struct {
	db             *gorm.DB
	log            *zap.Logger
	retryThreshold int
}

func NewMachine(db *gorm.DB, log *zap.Logger, retryThreshold int) *Machine {
	if retryThreshold <= 0 {
		retryThreshold = DefaultRetryThreshold
	}
	return &Machine{db: db, log: log, retryThreshold: retryThreshold}
}

// Apply looks up the subscription (creating it for a creation event),
// computes the transition for the current state and commits it. Stale
// changes and lost write races are silent no-ops; an event that fits no
// transition returns ErrInvalidTransition and mutates nothing.
func (m *Machine) Apply(ctx context.Context, change Change) error {
	if change.Kind == billing.KindSubscriptionCreated {
		return m.create(ctx, change)
	}

	var sub billing.Subscription
	err := m.db.WithContext(ctx).
		Where("stripe_subscription_id = ?", change.StripeSubscriptionID).
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("subscription %s: %w", change.StripeSubscriptionID, billing.ErrNotFound)
	}
	if err != nil {
		return err
	}

	// Strictly older only: Stripe timestamps have one-second resolution,
	// and checkout emits the creation and the first paid invoice in the
	// same second. Duplicate deliveries of one event are caught upstream
	// by the event-id dedup, not here.
	if change.OccurredAt.Before(sub.LastEventAt) {
		m.log.Debug("stale event discarded",
			zap.String("subscription", change.StripeSubscriptionID),
			zap.Stringer("kind", change.Kind),
			zap.Time("event_at", change.OccurredAt),
			zap.Time("last_event_at", sub.LastEventAt))
		return nil
	}

	next, failures, err := transition(sub.Status, change, sub.FailedPaymentCount, m.retryThreshold)
	if err != nil {
		return fmt.Errorf("%s in state %s: %w", change.Kind, sub.Status, err)
	}

	updates := map[string]interface{}{
		"status":               next,
		"failed_payment_count": failures,
		"last_event_at":        change.OccurredAt,
	}
	if change.Kind == billing.KindSubscriptionUpdated || change.Kind == billing.KindSubscriptionDeleted {
		// invoice events do not carry the cancel flag; only subscription
		// payloads may change it
		updates["cancel_at_period_end"] = change.CancelAtPeriodEnd
	}
	if change.StripePriceID != "" {
		updates["stripe_price_id"] = change.StripePriceID
	}
	if !change.PeriodStart.IsZero() {
		updates["current_period_start"] = change.PeriodStart
	}
	if !change.PeriodEnd.IsZero() {
		updates["current_period_end"] = change.PeriodEnd
	}
	if next == billing.StatusCanceled {
		canceledAt := change.CanceledAt
		if canceledAt == nil {
			t := change.OccurredAt
			canceledAt = &t
		}
		updates["canceled_at"] = canceledAt
	}

	// Compare-and-swap on the event watermark: if a strictly newer event
	// committed between our read and this write, zero rows match and this
	// transition is discarded per the stale-event rule. Same-second
	// siblings pass and apply in arrival order.
	res := m.db.WithContext(ctx).
		Model(&billing.Subscription{}).
		Where("id = ? AND last_event_at <= ?", sub.ID, change.OccurredAt).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		m.log.Debug("lost transition race to a newer event",
			zap.String("subscription", change.StripeSubscriptionID),
			zap.Stringer("kind", change.Kind))
		return nil
	}

	m.log.Info("subscription transition",
		zap.String("subscription", change.StripeSubscriptionID),
		zap.Stringer("kind", change.Kind),
		zap.String("from", string(sub.Status)),
		zap.String("to", string(next)))
	return nil
}

// create inserts the row in state incomplete. A new purchase supersedes any
// previous non-canceled subscription of the same customer; a canceled row is
// never resurrected, redelivery is a no-op.
func (m *Machine) create(ctx context.Context, change Change) error {
	var cust billing.Customer
	err := m.db.WithContext(ctx).
		Where("stripe_customer_id = ?", change.StripeCustomerID).
		First(&cust).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("customer %s: %w", change.StripeCustomerID, billing.ErrNotFound)
	}
	if err != nil {
		return err
	}

	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		canceledAt := change.OccurredAt
		if err := tx.Model(&billing.Subscription{}).
			Where("customer_id = ? AND status <> ? AND stripe_subscription_id <> ?",
				cust.ID, billing.StatusCanceled, change.StripeSubscriptionID).
			Updates(map[string]interface{}{
				"status":        billing.StatusCanceled,
				"canceled_at":   canceledAt,
				"last_event_at": change.OccurredAt,
			}).Error; err != nil {
			return err
		}

		sub := billing.Subscription{
			CustomerID:           cust.ID,
			StripeSubscriptionID: change.StripeSubscriptionID,
			StripePriceID:        change.StripePriceID,
			Status:               billing.StatusIncomplete,
			CurrentPeriodStart:   change.PeriodStart,
			CurrentPeriodEnd:     change.PeriodEnd,
			CancelAtPeriodEnd:    change.CancelAtPeriodEnd,
			LastEventAt:          change.OccurredAt,
		}
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "stripe_subscription_id"}},
			DoNothing: true,
		}).Create(&sub)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			m.log.Debug("subscription already exists, creation redelivery ignored",
				zap.String("subscription", change.StripeSubscriptionID))
		}
		return nil
	})
}

// Get returns the subscription for an external id.
func (m *Machine) Get(ctx context.Context, stripeSubscriptionID string) (billing.Subscription, error) {
	var sub billing.Subscription
	err := m.db.WithContext(ctx).
		Where("stripe_subscription_id = ?", stripeSubscriptionID).
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return billing.Subscription{}, fmt.Errorf("subscription %s: %w", stripeSubscriptionID, billing.ErrNotFound)
	}
	if err != nil {
		return billing.Subscription{}, err
	}
	return sub, nil
}

// Current returns the customer's non-canceled subscription, if any.
func (m *Machine) Current(ctx context.Context, customerID uint) (billing.Subscription, error) {
	var sub billing.Subscription
	err := m.db.WithContext(ctx).
		Where("customer_id = ? AND status <> ?", customerID, billing.StatusCanceled).
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return billing.Subscription{}, fmt.Errorf("active subscription for customer %d: %w", customerID, billing.ErrNotFound)
	}
	if err != nil {
		return billing.Subscription{}, err
	}
	return sub, nil
}

// transition is the entire legal state graph. Pure so the permutation and
// scenario tests can exercise it directly.
func transition(cur billing.SubscriptionStatus, change Change, failures, threshold int) (billing.SubscriptionStatus, int, error) {
	if cur.Terminal() {
		return cur, failures, billing.ErrInvalidTransition
	}

	switch change.Kind {
	case billing.KindSubscriptionUpdated:
		if !change.HasRemoteStatus {
			return cur, failures, billing.ErrInvalidTransition
		}
		if change.RemoteStatus == billing.StatusActive {
			return billing.StatusActive, 0, nil
		}
		return change.RemoteStatus, failures, nil

	case billing.KindSubscriptionDeleted:
		return billing.StatusCanceled, failures, nil

	case billing.KindInvoicePaymentSucceeded:
		return billing.StatusActive, 0, nil

	case billing.KindInvoicePaymentFailed:
		failures++
		switch cur {
		case billing.StatusActive, billing.StatusTrialing:
			return billing.StatusPastDue, failures, nil
		case billing.StatusPastDue:
			if failures > threshold {
				return billing.StatusUnpaid, failures, nil
			}
			return billing.StatusPastDue, failures, nil
		case billing.StatusUnpaid, billing.StatusIncomplete:
			// the attempt is still recorded in the ledger; state holds
			return cur, failures, nil
		}
	}

	return cur, failures, billing.ErrInvalidTransition
}
