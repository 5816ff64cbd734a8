package billing

import "time"

// Customer is the one-to-one link between a platform account (an
// organization) and the Stripe customer that pays for it. Rows are
// deactivated, never deleted.
type Customer struct {
	ID               uint   `gorm:"primaryKey"`
	AccountID        string `gorm:"column:account_id;not null;uniqueIndex:idx_customers_account_id"`
	StripeCustomerID string `gorm:"column:stripe_customer_id;not null;uniqueIndex:idx_customers_stripe_customer_id"`
	BillingEmail     string
	Active           bool `gorm:"default:true"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
