package webhook

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"peopledesk-app/database"
	"peopledesk-app/internal/billing/payments"
	"peopledesk-app/internal/billing/subscriptions"
	"peopledesk-app/internal/domain/billing"

	stripewebhook "github.com/stripe/stripe-go/v75/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const testSigningSecret = "whsec_test_secret"

type processorFixture struct {
	db        *gorm.DB
	processor *Processor
}

func setupProcessor(t *testing.T) processorFixture {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	log := zap.NewNop()
	machine := subscriptions.NewMachine(db, log, 3)
	ledger := payments.NewLedger(db, log)
	return processorFixture{
		db:        db,
		processor: NewProcessor(db, machine, ledger, testSigningSecret, log),
	}
}

func seedCustomer(t *testing.T, db *gorm.DB) {
	require.NoError(t, db.Create(&billing.Customer{
		AccountID:        "acct-1",
		StripeCustomerID: "cus_1",
		BillingEmail:     "owner@acme.test",
		Active:           true,
	}).Error)
}

func signHeader(payload []byte) string {
	now := time.Now()
	sig := stripewebhook.ComputeSignature(now, payload, testSigningSecret)
	return fmt.Sprintf("t=%d,v1=%s", now.Unix(), hex.EncodeToString(sig))
}

func eventPayload(t *testing.T, eventID, eventType string, created time.Time, object map[string]interface{}) []byte {
	payload, err := json.Marshal(map[string]interface{}{
		"id":      eventID,
		"type":    eventType,
		"created": created.Unix(),
		"data":    map[string]interface{}{"object": object},
	})
	require.NoError(t, err)
	return payload
}

func subscriptionObject(status string) map[string]interface{} {
	return map[string]interface{}{
		"id":       "sub_1",
		"customer": "cus_1",
		"status":   status,
		"items": map[string]interface{}{
			"data": []interface{}{
				map[string]interface{}{
					"price": map[string]interface{}{"id": "price_growth_month"},
				},
			},
		},
		"current_period_start": eventBase.Unix(),
		"current_period_end":   eventBase.AddDate(0, 1, 0).Unix(),
	}
}

func invoiceObject(invoiceID string, amount int64) map[string]interface{} {
	return map[string]interface{}{
		"id":           invoiceID,
		"subscription": "sub_1",
		"amount_paid":  amount,
		"amount_due":   amount,
		"currency":     "eur",
	}
}

var eventBase = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func ingest(t *testing.T, f processorFixture, payload []byte) (billing.EventOutcome, error) {
	t.Helper()
	return f.processor.Ingest(context.Background(), payload, signHeader(payload))
}

func TestIngest_RejectsBadSignature(t *testing.T) {
	f := setupProcessor(t)
	payload := eventPayload(t, "evt_1", "customer.subscription.created", eventBase, subscriptionObject("incomplete"))

	_, err := f.processor.Ingest(context.Background(), payload,
		"t=1234567890,v1=badbadbadbadbadbadbadbadbadbadbadbadbadbadbadbadbadbadbadbadbadb")
	assert.ErrorIs(t, err, billing.ErrAuthentication)

	// nothing recorded, nothing mutated
	var count int64
	require.NoError(t, f.db.Model(&billing.EventLogEntry{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestIngest_SubscriptionCreated(t *testing.T) {
	f := setupProcessor(t)
	seedCustomer(t, f.db)

	payload := eventPayload(t, "evt_1", "customer.subscription.created", eventBase, subscriptionObject("incomplete"))
	outcome, err := ingest(t, f, payload)
	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeProcessed, outcome)

	var sub billing.Subscription
	require.NoError(t, f.db.Where("stripe_subscription_id = ?", "sub_1").First(&sub).Error)
	assert.Equal(t, billing.StatusIncomplete, sub.Status)

	var entry billing.EventLogEntry
	require.NoError(t, f.db.Where("stripe_event_id = ?", "evt_1").First(&entry).Error)
	assert.Equal(t, billing.OutcomeProcessed, entry.Outcome)
	require.NotNil(t, entry.ProcessedAt)
}

func TestIngest_RedeliveryIsIdempotent(t *testing.T) {
	f := setupProcessor(t)
	seedCustomer(t, f.db)

	payload := eventPayload(t, "evt_1", "customer.subscription.created", eventBase, subscriptionObject("incomplete"))
	for i := 0; i < 3; i++ {
		outcome, err := ingest(t, f, payload)
		require.NoError(t, err)
		assert.Equal(t, billing.OutcomeProcessed, outcome)
	}

	var events, subs int64
	require.NoError(t, f.db.Model(&billing.EventLogEntry{}).Count(&events).Error)
	require.NoError(t, f.db.Model(&billing.Subscription{}).Count(&subs).Error)
	assert.EqualValues(t, 1, events)
	assert.EqualValues(t, 1, subs)
}

func TestIngest_UnknownTypeIgnored(t *testing.T) {
	f := setupProcessor(t)

	payload := eventPayload(t, "evt_1", "customer.tax_id.created", eventBase, map[string]interface{}{"id": "txi_1"})
	outcome, err := ingest(t, f, payload)
	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeIgnored, outcome)

	var entry billing.EventLogEntry
	require.NoError(t, f.db.Where("stripe_event_id = ?", "evt_1").First(&entry).Error)
	assert.Equal(t, billing.OutcomeIgnored, entry.Outcome)
}

// Scenario: checkout, a failed renewal, its redelivery, recovery.
func TestIngest_PaymentLifecycle(t *testing.T) {
	f := setupProcessor(t)
	seedCustomer(t, f.db)

	created := eventPayload(t, "evt_1", "customer.subscription.created", eventBase, subscriptionObject("incomplete"))
	_, err := ingest(t, f, created)
	require.NoError(t, err)

	// first invoice paid: incomplete -> active, one succeeded payment row
	paid := eventPayload(t, "evt_2", "invoice.payment_succeeded", eventBase.Add(1*time.Minute), invoiceObject("in_1", 4900))
	outcome, err := ingest(t, f, paid)
	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeProcessed, outcome)

	var sub billing.Subscription
	require.NoError(t, f.db.Where("stripe_subscription_id = ?", "sub_1").First(&sub).Error)
	assert.Equal(t, billing.StatusActive, sub.Status)

	var payment billing.Payment
	require.NoError(t, f.db.Where("stripe_invoice_id = ?", "in_1").First(&payment).Error)
	assert.Equal(t, billing.PaymentSucceeded, payment.Status)
	require.NotNil(t, payment.PaidAt)

	// renewal fails: active -> past_due, failed row with reason
	failed := eventPayload(t, "evt_3", "invoice.payment_failed", eventBase.Add(2*time.Minute), invoiceObject("in_2", 4900))
	outcome, err = ingest(t, f, failed)
	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeProcessed, outcome)

	require.NoError(t, f.db.Where("stripe_subscription_id = ?", "sub_1").First(&sub).Error)
	assert.Equal(t, billing.StatusPastDue, sub.Status)

	require.NoError(t, f.db.Where("stripe_invoice_id = ?", "in_2").First(&payment).Error)
	assert.Equal(t, billing.PaymentFailed, payment.Status)
	require.NotNil(t, payment.FailureReason)

	// redelivering the same failure changes nothing
	_, err = ingest(t, f, failed)
	require.NoError(t, err)
	var count int64
	require.NoError(t, f.db.Model(&billing.Payment{}).Where("stripe_invoice_id = ?", "in_2").Count(&count).Error)
	assert.EqualValues(t, 1, count)

	// a later invoice succeeds: past_due -> active
	recovered := eventPayload(t, "evt_4", "invoice.payment_succeeded", eventBase.Add(3*time.Minute), invoiceObject("in_3", 4900))
	outcome, err = ingest(t, f, recovered)
	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeProcessed, outcome)

	require.NoError(t, f.db.Where("stripe_subscription_id = ?", "sub_1").First(&sub).Error)
	assert.Equal(t, billing.StatusActive, sub.Status)

	require.NoError(t, f.db.Model(&billing.Payment{}).Count(&count).Error)
	assert.EqualValues(t, 3, count)
}

// Scenario: deletion is terminal; later events are audited but change nothing.
func TestIngest_EventsAfterCancellationAreSkipped(t *testing.T) {
	f := setupProcessor(t)
	seedCustomer(t, f.db)

	_, err := ingest(t, f, eventPayload(t, "evt_1", "customer.subscription.created", eventBase, subscriptionObject("incomplete")))
	require.NoError(t, err)
	_, err = ingest(t, f, eventPayload(t, "evt_2", "invoice.payment_succeeded", eventBase.Add(1*time.Minute), invoiceObject("in_1", 4900)))
	require.NoError(t, err)

	deleted := subscriptionObject("canceled")
	deleted["canceled_at"] = eventBase.Add(2 * time.Minute).Unix()
	_, err = ingest(t, f, eventPayload(t, "evt_3", "customer.subscription.deleted", eventBase.Add(2*time.Minute), deleted))
	require.NoError(t, err)

	var sub billing.Subscription
	require.NoError(t, f.db.Where("stripe_subscription_id = ?", "sub_1").First(&sub).Error)
	assert.Equal(t, billing.StatusCanceled, sub.Status)

	// update arriving after the deletion: skipped, state untouched
	outcome, err := ingest(t, f, eventPayload(t, "evt_4", "customer.subscription.updated", eventBase.Add(3*time.Minute), subscriptionObject("active")))
	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeSkipped, outcome)

	require.NoError(t, f.db.Where("stripe_subscription_id = ?", "sub_1").First(&sub).Error)
	assert.Equal(t, billing.StatusCanceled, sub.Status)

	var entry billing.EventLogEntry
	require.NoError(t, f.db.Where("stripe_event_id = ?", "evt_4").First(&entry).Error)
	assert.Equal(t, billing.OutcomeSkipped, entry.Outcome)
}

// An invoice event can outrun the subscription-created event; it is marked
// retry and succeeds once redelivered after the row exists.
func TestIngest_ReorderedDeliveryConverges(t *testing.T) {
	f := setupProcessor(t)
	seedCustomer(t, f.db)

	paid := eventPayload(t, "evt_2", "invoice.payment_succeeded", eventBase.Add(1*time.Minute), invoiceObject("in_1", 4900))
	outcome, err := ingest(t, f, paid)
	require.Error(t, err)
	assert.Equal(t, billing.OutcomeRetry, outcome)

	var entry billing.EventLogEntry
	require.NoError(t, f.db.Where("stripe_event_id = ?", "evt_2").First(&entry).Error)
	assert.Equal(t, billing.OutcomeRetry, entry.Outcome)

	_, err = ingest(t, f, eventPayload(t, "evt_1", "customer.subscription.created", eventBase, subscriptionObject("incomplete")))
	require.NoError(t, err)

	outcome, err = ingest(t, f, paid)
	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeProcessed, outcome)

	var sub billing.Subscription
	require.NoError(t, f.db.Where("stripe_subscription_id = ?", "sub_1").First(&sub).Error)
	assert.Equal(t, billing.StatusActive, sub.Status)

	require.NoError(t, f.db.Where("stripe_event_id = ?", "evt_2").First(&entry).Error)
	assert.Equal(t, billing.OutcomeProcessed, entry.Outcome)
}
