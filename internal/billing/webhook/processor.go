// Package webhook authenticates, deduplicates and routes inbound processor
// events, persisting an audit trail of every delivery.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"peopledesk-app/internal/billing/payments"
	"peopledesk-app/internal/billing/subscriptions"
	"peopledesk-app/internal/domain/billing"
	stripeinfra "peopledesk-app/internal/infra/stripe"

	"github.com/stripe/stripe-go/v75"
	stripewebhook "github.com/stripe/stripe-go/v75/webhook"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StateMachine is the slice of the subscription engine the processor routes to.
type StateMachine interface {
	Apply(ctx context.Context, change subscriptions.Change) error
	Get(ctx context.Context, stripeSubscriptionID string) (billing.Subscription, error)
}

// PaymentRecorder is the slice of the ledger the processor routes to.
type PaymentRecorder interface {
	Record(ctx context.Context, e payments.Entry) error
}

type Processor struct {
	db            *gorm.DB
	machine       StateMachine
	ledger        PaymentRecorder
	signingSecret string
	log           *zap.Logger
}

func NewProcessor(db *gorm.DB, machine StateMachine, ledger PaymentRecorder, signingSecret string, log *zap.Logger) *Processor {
	return &Processor{
		db:            db,
		machine:       machine,
		ledger:        ledger,
		signingSecret: signingSecret,
		log:           log,
	}
}

// Ingest verifies, deduplicates and dispatches one raw webhook delivery.
//
// A bad signature returns ErrAuthentication before anything is touched. A
// redelivered event id with a final audit outcome is a no-op. Unknown event
// types are recorded as ignored, transition violations as skipped (both
// acknowledged so the processor stops redelivering), and recoverable
// failures as retry together with a non-nil error so the transport answers
// 5xx and the event comes back later.
func (p *Processor) Ingest(ctx context.Context, payload []byte, sigHeader string) (billing.EventOutcome, error) {
	event, err := stripewebhook.ConstructEventWithOptions(
		payload,
		sigHeader,
		p.signingSecret,
		stripewebhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true},
	)
	if err != nil {
		return "", fmt.Errorf("%v: %w", err, billing.ErrAuthentication)
	}

	receivedAt := time.Now().UTC()

	var prior billing.EventLogEntry
	err = p.db.WithContext(ctx).
		Where("stripe_event_id = ?", event.ID).
		First(&prior).Error
	if err == nil && prior.Outcome.Final() {
		p.log.Debug("event redelivery ignored",
			zap.String("event", event.ID),
			zap.String("outcome", string(prior.Outcome)))
		return prior.Outcome, nil
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return billing.OutcomeRetry, err
	}

	kind := billing.KindOf(string(event.Type))
	if kind == billing.KindUnknown {
		p.log.Info("unrecognized event type ignored",
			zap.String("event", event.ID),
			zap.String("type", string(event.Type)))
		if err := p.record(ctx, &event, receivedAt, billing.OutcomeIgnored); err != nil {
			return billing.OutcomeRetry, err
		}
		return billing.OutcomeIgnored, nil
	}

	dispatchErr := p.dispatch(ctx, kind, &event)
	switch {
	case dispatchErr == nil:
		if err := p.record(ctx, &event, receivedAt, billing.OutcomeProcessed); err != nil {
			return billing.OutcomeRetry, err
		}
		return billing.OutcomeProcessed, nil

	case errors.Is(dispatchErr, billing.ErrInvalidTransition):
		p.log.Warn("event does not fit current state, skipping",
			zap.String("event", event.ID),
			zap.Stringer("kind", kind),
			zap.Error(dispatchErr))
		if err := p.record(ctx, &event, receivedAt, billing.OutcomeSkipped); err != nil {
			return billing.OutcomeRetry, err
		}
		return billing.OutcomeSkipped, nil

	default:
		// NotFound here means the event outran the row it targets; together
		// with external/storage failures it is marked retry so the same
		// event can be safely re-ingested.
		p.log.Warn("event processing failed, marked for redelivery",
			zap.String("event", event.ID),
			zap.Stringer("kind", kind),
			zap.Error(dispatchErr))
		if err := p.record(ctx, &event, receivedAt, billing.OutcomeRetry); err != nil {
			p.log.Error("failed to record retry outcome", zap.Error(err))
		}
		return billing.OutcomeRetry, dispatchErr
	}
}

func (p *Processor) dispatch(ctx context.Context, kind billing.EventKind, event *stripe.Event) error {
	switch kind {
	case billing.KindSubscriptionCreated, billing.KindSubscriptionUpdated, billing.KindSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("parse subscription payload: %w", billing.ErrInvalidTransition)
		}
		return p.machine.Apply(ctx, subscriptionChange(kind, event, &sub))

	case billing.KindInvoicePaymentSucceeded, billing.KindInvoicePaymentFailed:
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return fmt.Errorf("parse invoice payload: %w", billing.ErrInvalidTransition)
		}
		return p.applyInvoice(ctx, kind, event, &inv)
	}
	return nil
}

// applyInvoice writes the payment row first, then feeds the outcome through
// the state machine. The ledger upsert is idempotent, so a redelivery that
// fails later in the state machine cannot double-book the payment.
func (p *Processor) applyInvoice(ctx context.Context, kind billing.EventKind, event *stripe.Event, inv *stripe.Invoice) error {
	if inv.Subscription == nil || inv.Subscription.ID == "" {
		// one-off invoice, nothing to reconcile against
		return fmt.Errorf("invoice %s without subscription: %w", inv.ID, billing.ErrInvalidTransition)
	}

	sub, err := p.machine.Get(ctx, inv.Subscription.ID)
	if err != nil {
		return err
	}

	occurredAt := time.Unix(event.Created, 0)
	entry := payments.Entry{
		StripeInvoiceID: inv.ID,
		SubscriptionID:  sub.ID,
		Currency:        string(inv.Currency),
	}
	if kind == billing.KindInvoicePaymentSucceeded {
		entry.Status = billing.PaymentSucceeded
		entry.AmountCents = inv.AmountPaid
		paidAt := occurredAt
		if inv.StatusTransitions != nil && inv.StatusTransitions.PaidAt > 0 {
			paidAt = time.Unix(inv.StatusTransitions.PaidAt, 0)
		}
		entry.PaidAt = &paidAt
	} else {
		entry.Status = billing.PaymentFailed
		entry.AmountCents = inv.AmountDue
		entry.FailureReason = failureReason(inv)
	}

	if err := p.ledger.Record(ctx, entry); err != nil {
		return err
	}

	return p.machine.Apply(ctx, subscriptions.Change{
		Kind:                 kind,
		OccurredAt:           occurredAt,
		StripeSubscriptionID: inv.Subscription.ID,
	})
}

func subscriptionChange(kind billing.EventKind, event *stripe.Event, sub *stripe.Subscription) subscriptions.Change {
	change := subscriptions.Change{
		Kind:                 kind,
		OccurredAt:           time.Unix(event.Created, 0),
		StripeSubscriptionID: sub.ID,
		CancelAtPeriodEnd:    sub.CancelAtPeriodEnd,
	}
	if sub.Customer != nil {
		change.StripeCustomerID = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		change.StripePriceID = sub.Items.Data[0].Price.ID
	}
	if sub.CurrentPeriodStart > 0 {
		change.PeriodStart = time.Unix(sub.CurrentPeriodStart, 0)
	}
	if sub.CurrentPeriodEnd > 0 {
		change.PeriodEnd = time.Unix(sub.CurrentPeriodEnd, 0)
	}
	if sub.CanceledAt > 0 {
		t := time.Unix(sub.CanceledAt, 0)
		change.CanceledAt = &t
	}
	if status, ok := stripeinfra.NormalizeStatus(string(sub.Status)); ok {
		change.RemoteStatus = status
		change.HasRemoteStatus = true
	}
	return change
}

func failureReason(inv *stripe.Invoice) *string {
	reason := "payment failed"
	if inv.LastFinalizationError != nil && inv.LastFinalizationError.Msg != "" {
		reason = inv.LastFinalizationError.Msg
	}
	return &reason
}

// record upserts the audit entry for an event. The dedup check at the top
// of Ingest guarantees only retry entries ever reach here twice, so the
// upsert can only finalize a retry, never rewrite a final outcome.
func (p *Processor) record(ctx context.Context, event *stripe.Event, receivedAt time.Time, outcome billing.EventOutcome) error {
	processedAt := time.Now().UTC()
	entry := billing.EventLogEntry{
		StripeEventID: event.ID,
		Type:          string(event.Type),
		ReceivedAt:    receivedAt,
		ProcessedAt:   &processedAt,
		Outcome:       outcome,
	}
	return p.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "stripe_event_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"outcome", "processed_at"}),
		}).
		Create(&entry).Error
}
