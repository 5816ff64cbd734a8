package payments

import (
	"context"
	"testing"
	"time"

	"peopledesk-app/database"
	"peopledesk-app/internal/domain/billing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupLedgerTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	return db
}

func strPtr(s string) *string { return &s }

func TestRecord_SameOutcomeTwiceKeepsOneRow(t *testing.T) {
	db := setupLedgerTestDB(t)
	l := NewLedger(db, zap.NewNop())
	ctx := context.Background()

	paidAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	entry := Entry{
		StripeInvoiceID: "in_1",
		SubscriptionID:  7,
		AmountCents:     4900,
		Currency:        "eur",
		Status:          billing.PaymentSucceeded,
		PaidAt:          &paidAt,
	}
	require.NoError(t, l.Record(ctx, entry))
	require.NoError(t, l.Record(ctx, entry))

	var rows []billing.Payment
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, billing.PaymentSucceeded, rows[0].Status)
	assert.EqualValues(t, 4900, rows[0].AmountCents)
}

func TestRecord_OutcomeChangeUpdatesInPlace(t *testing.T) {
	db := setupLedgerTestDB(t)
	l := NewLedger(db, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, l.Record(ctx, Entry{
		StripeInvoiceID: "in_1",
		SubscriptionID:  7,
		AmountCents:     4900,
		Currency:        "eur",
		Status:          billing.PaymentFailed,
		FailureReason:   strPtr("card_declined"),
	}))

	// the retried payment later succeeds under the same invoice id
	paidAt := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	require.NoError(t, l.Record(ctx, Entry{
		StripeInvoiceID: "in_1",
		SubscriptionID:  7,
		AmountCents:     4900,
		Currency:        "eur",
		Status:          billing.PaymentSucceeded,
		PaidAt:          &paidAt,
	}))

	var rows []billing.Payment
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, billing.PaymentSucceeded, rows[0].Status)
	require.NotNil(t, rows[0].PaidAt)
}

func TestHistory_NewestFirstAndRestartable(t *testing.T) {
	db := setupLedgerTestDB(t)
	l := NewLedger(db, zap.NewNop())
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"in_jan", "in_feb", "in_mar"} {
		paidAt := base.AddDate(0, i, 0)
		require.NoError(t, l.Record(ctx, Entry{
			StripeInvoiceID: id,
			SubscriptionID:  7,
			AmountCents:     4900,
			Currency:        "eur",
			Status:          billing.PaymentSucceeded,
			PaidAt:          &paidAt,
		}))
	}
	// a pending attempt without paid_at falls back to created_at ordering
	require.NoError(t, l.Record(ctx, Entry{
		StripeInvoiceID: "in_pending",
		SubscriptionID:  7,
		AmountCents:     4900,
		Currency:        "eur",
		Status:          billing.PaymentPending,
	}))
	// another subscription's payment never shows up
	require.NoError(t, l.Record(ctx, Entry{
		StripeInvoiceID: "in_other",
		SubscriptionID:  8,
		AmountCents:     900,
		Currency:        "eur",
		Status:          billing.PaymentSucceeded,
	}))

	collect := func() []string {
		var ids []string
		for p, err := range l.History(ctx, 7) {
			require.NoError(t, err)
			ids = append(ids, p.StripeInvoiceID)
		}
		return ids
	}

	first := collect()
	require.Len(t, first, 4)
	assert.Equal(t, "in_mar", first[1])
	assert.Equal(t, "in_feb", first[2])
	assert.Equal(t, "in_jan", first[3])

	// restartable: a second range yields the same sequence
	assert.Equal(t, first, collect())

	// lazy: breaking early does not disturb later iterations
	for range l.History(ctx, 7) {
		break
	}
	assert.Equal(t, first, collect())
}
