package stripe

import (
	"strings"

	"peopledesk-app/internal/domain/billing"
)

// NormalizeStatus maps a Stripe subscription status string onto the local
// lifecycle state. The second return is false for statuses we do not track.
func NormalizeStatus(s string) (billing.SubscriptionStatus, bool) {
	switch strings.TrimSpace(s) {
	case "active":
		return billing.StatusActive, true
	case "trialing":
		return billing.StatusTrialing, true
	case "past_due":
		return billing.StatusPastDue, true
	case "unpaid":
		return billing.StatusUnpaid, true
	case "canceled", "incomplete_expired":
		return billing.StatusCanceled, true
	case "incomplete":
		return billing.StatusIncomplete, true
	default:
		return "", false
	}
}
