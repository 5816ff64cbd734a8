package billing

import "time"

// SubscriptionStatus is the local subscription lifecycle state.
type SubscriptionStatus string

const (
	StatusIncomplete SubscriptionStatus = "incomplete"
	StatusTrialing   SubscriptionStatus = "trialing"
	StatusActive     SubscriptionStatus = "active"
	StatusPastDue    SubscriptionStatus = "past_due"
	StatusCanceled   SubscriptionStatus = "canceled"
	StatusUnpaid     SubscriptionStatus = "unpaid"
)

// Terminal reports whether no transition may ever leave the status.
func (s SubscriptionStatus) Terminal() bool {
	return s == StatusCanceled
}

// Subscription mirrors one Stripe subscription. Rows are created on the
// subscription-created event, mutated only through the state machine and
// kept forever once canceled.
//
// LastEventAt is the watermark of the newest event applied to the row;
// writes are conditional on it so concurrent deliveries cannot commit an
// older event over a newer one.
type Subscription struct {
	ID                   uint `gorm:"primaryKey"`
	CustomerID           uint `gorm:"index"`
	Customer             Customer
	StripeSubscriptionID string             `gorm:"column:stripe_subscription_id;not null;uniqueIndex:idx_subscriptions_stripe_id"`
	StripePriceID        string             `gorm:"column:stripe_price_id"`
	Status               SubscriptionStatus `gorm:"not null"`
	CurrentPeriodStart   time.Time
	CurrentPeriodEnd     time.Time
	CancelAtPeriodEnd    bool
	CanceledAt           *time.Time
	FailedPaymentCount   int
	LastEventAt          time.Time `gorm:"column:last_event_at;index"`
	CreatedAt            time.Time
	UpdatedAt            time.Time
}
