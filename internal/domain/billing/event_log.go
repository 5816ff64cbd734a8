package billing

import "time"

// EventOutcome is the recorded result of processing one webhook event.
type EventOutcome string

const (
	// OutcomeProcessed: the event was applied (or was a legal no-op).
	OutcomeProcessed EventOutcome = "processed"
	// OutcomeSkipped: the event did not fit the current state and was
	// discarded without mutation; delivery is still acknowledged.
	OutcomeSkipped EventOutcome = "skipped"
	// OutcomeIgnored: unrecognized event type, never dispatched.
	OutcomeIgnored EventOutcome = "ignored"
	// OutcomeRetry: a recoverable failure; the entry may be finalized by a
	// later redelivery of the same event id.
	OutcomeRetry EventOutcome = "retry"
)

// Final reports whether the outcome ends processing for its event id.
// A retry entry is the only one a redelivery may overwrite.
func (o EventOutcome) Final() bool {
	return o == OutcomeProcessed || o == OutcomeSkipped || o == OutcomeIgnored
}

// EventLogEntry is the dedup and audit record for one webhook event.
// Append-only: once a final outcome is written the row never changes.
type EventLogEntry struct {
	ID            uint   `gorm:"primaryKey"`
	StripeEventID string `gorm:"column:stripe_event_id;not null;uniqueIndex:idx_event_log_stripe_event_id"`
	Type          string
	ReceivedAt    time.Time
	ProcessedAt   *time.Time
	Outcome       EventOutcome `gorm:"not null"`
}
