package billing

import "time"

// PaymentStatus is the outcome of one payment attempt.
type PaymentStatus string

const (
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
	PaymentPending   PaymentStatus = "pending"
)

// Payment records one payment attempt and its outcome. The Stripe invoice
// id doubles as the idempotency key: the ledger upserts on it, so a retried
// invoice updates its row in place instead of duplicating it. Amounts are
// integer minor currency units.
type Payment struct {
	ID              uint   `gorm:"primaryKey"`
	StripeInvoiceID string `gorm:"column:stripe_invoice_id;not null;uniqueIndex:idx_payments_stripe_invoice_id"`
	SubscriptionID  uint   `gorm:"index"`
	AmountCents     int64  `gorm:"column:amount_cents"`
	Currency        string
	Status          PaymentStatus `gorm:"not null"`
	FailureReason   *string
	PaidAt          *time.Time
	CreatedAt       time.Time
}
