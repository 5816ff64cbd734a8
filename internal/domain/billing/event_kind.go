package billing

// EventKind is the closed set of webhook event kinds the engine dispatches.
// Everything else maps to KindUnknown and is only logged.
type EventKind int

const (
	KindUnknown EventKind = iota
	KindSubscriptionCreated
	KindSubscriptionUpdated
	KindSubscriptionDeleted
	KindInvoicePaymentSucceeded
	KindInvoicePaymentFailed
)

// KindOf maps a wire event type string onto the closed variant.
func KindOf(eventType string) EventKind {
	switch eventType {
	case "customer.subscription.created":
		return KindSubscriptionCreated
	case "customer.subscription.updated":
		return KindSubscriptionUpdated
	case "customer.subscription.deleted":
		return KindSubscriptionDeleted
	case "invoice.payment_succeeded":
		return KindInvoicePaymentSucceeded
	case "invoice.payment_failed":
		return KindInvoicePaymentFailed
	default:
		return KindUnknown
	}
}

func (k EventKind) String() string {
	switch k {
	case KindSubscriptionCreated:
		return "customer.subscription.created"
	case KindSubscriptionUpdated:
		return "customer.subscription.updated"
	case KindSubscriptionDeleted:
		return "customer.subscription.deleted"
	case KindInvoicePaymentSucceeded:
		return "invoice.payment_succeeded"
	case KindInvoicePaymentFailed:
		return "invoice.payment_failed"
	default:
		return "unknown"
	}
}
