package billing

import "time"

// RemoteSubscription is the processor's authoritative view of one
// subscription, as fetched during manual reconciliation.
type RemoteSubscription struct {
	StripeSubscriptionID string
	StripeCustomerID     string
	StripePriceID        string
	Status               SubscriptionStatus
	CurrentPeriodStart   time.Time
	CurrentPeriodEnd     time.Time
	CancelAtPeriodEnd    bool
	CanceledAt           *time.Time
}
