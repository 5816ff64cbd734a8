package billing

import "errors"

// Error taxonomy for the reconciliation engine. Callers classify with
// errors.Is; wrapped causes stay attached via fmt.Errorf("%w").
var (
	// ErrConfiguration: the price catalog is missing an expected
	// (tier, interval) combination. Fatal at startup.
	ErrConfiguration = errors.New("billing: incomplete price catalog")

	// ErrAuthentication: webhook signature verification failed. The payload
	// is rejected before anything is touched.
	ErrAuthentication = errors.New("billing: webhook signature verification failed")

	// ErrInvalidTransition: an event does not fit the subscription's current
	// state. Logged and recorded as skipped; never fatal.
	ErrInvalidTransition = errors.New("billing: invalid subscription state transition")

	// ErrExternalService: an outbound processor call failed after retries.
	ErrExternalService = errors.New("billing: external processor unavailable")

	// ErrConflict: two writers raced on the same entity. Always resolved
	// internally by re-reading; callers should never see it.
	ErrConflict = errors.New("billing: concurrent update conflict")

	// ErrNotFound: unconfigured price or unknown customer/subscription.
	ErrNotFound = errors.New("billing: not found")
)
