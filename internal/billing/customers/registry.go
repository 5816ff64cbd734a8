// Package customers maintains the one-to-one mapping between a platform
// account and its external billing customer.
package customers

import (
	"context"
	"errors"
	"fmt"

	"peopledesk-app/internal/domain/billing"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CustomerAPI is the slice of the processor gateway the registry needs.
type CustomerAPI interface {
	CreateCustomer(ctx context.Context, accountID, email, idempotencyKey string) (string, error)
	DeleteCustomer(ctx context.Context, stripeCustomerID string) error
}

type Registry struct {
	db  *gorm.DB
	api CustomerAPI
	log *zap.Logger
}

func NewRegistry(db *gorm.DB, api CustomerAPI, log *zap.Logger) *Registry {
	return &Registry{db: db, api: api, log: log}
}

// GetOrCreate returns the Customer for an account, creating the external
// customer on first billing interaction. Concurrent first-time calls for
// the same account converge on one external customer: the insert is a
// single ON CONFLICT DO NOTHING upsert on account_id, and the loser of the
// race discards its externally created customer and reuses the winner's row.
func (r *Registry) GetOrCreate(ctx context.Context, accountID, email string) (billing.Customer, error) {
	existing, err := r.Get(ctx, accountID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, billing.ErrNotFound) {
		return billing.Customer{}, err
	}

	stripeID, err := r.api.CreateCustomer(ctx, accountID, email, uuid.NewString())
	if err != nil {
		return billing.Customer{}, fmt.Errorf("create external customer: %w", err)
	}

	cust := billing.Customer{
		AccountID:        accountID,
		StripeCustomerID: stripeID,
		BillingEmail:     email,
		Active:           true,
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "account_id"}},
			DoNothing: true,
		}).
		Create(&cust)
	if res.Error != nil {
		return billing.Customer{}, fmt.Errorf("persist customer: %w", res.Error)
	}

	if res.RowsAffected == 0 {
		// Lost the race. Drop our external customer so no duplicate
		// survives, then reuse the winner's record.
		r.log.Info("duplicate customer race lost, discarding external customer",
			zap.String("account_id", accountID),
			zap.String("stripe_customer_id", stripeID))
		if err := r.api.DeleteCustomer(ctx, stripeID); err != nil {
			r.log.Warn("failed to discard duplicate external customer",
				zap.String("stripe_customer_id", stripeID),
				zap.Error(err))
		}
		winner, err := r.Get(ctx, accountID)
		if err != nil {
			return billing.Customer{}, fmt.Errorf("%w: %v", billing.ErrConflict, err)
		}
		return winner, nil
	}

	return cust, nil
}

// Get is a read-only lookup by account id.
func (r *Registry) Get(ctx context.Context, accountID string) (billing.Customer, error) {
	var cust billing.Customer
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		First(&cust).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return billing.Customer{}, fmt.Errorf("customer for account %s: %w", accountID, billing.ErrNotFound)
	}
	if err != nil {
		return billing.Customer{}, err
	}
	return cust, nil
}

// GetByStripeID looks a customer up by its external id, as webhook payloads
// carry only that.
func (r *Registry) GetByStripeID(ctx context.Context, stripeCustomerID string) (billing.Customer, error) {
	var cust billing.Customer
	err := r.db.WithContext(ctx).
		Where("stripe_customer_id = ?", stripeCustomerID).
		First(&cust).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return billing.Customer{}, fmt.Errorf("customer %s: %w", stripeCustomerID, billing.ErrNotFound)
	}
	if err != nil {
		return billing.Customer{}, err
	}
	return cust, nil
}

// Deactivate marks a customer inactive. Customers are never deleted.
func (r *Registry) Deactivate(ctx context.Context, accountID string) error {
	res := r.db.WithContext(ctx).
		Model(&billing.Customer{}).
		Where("account_id = ?", accountID).
		Update("active", false)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("customer for account %s: %w", accountID, billing.ErrNotFound)
	}
	return nil
}
