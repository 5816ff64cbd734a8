// Package catalog resolves internal (tier, interval) plan offerings to the
// processor's external price identifiers. Readers always see a complete,
// immutable snapshot; the refresh swaps the snapshot wholesale and never
// patches it field by field.
package catalog

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"peopledesk-app/internal/domain/billing"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PriceLister is the outbound call the refresh needs.
type PriceLister interface {
	ListActivePrices(ctx context.Context) ([]billing.Price, error)
}

type key struct {
	tier     billing.PlanTier
	interval billing.BillingInterval
}

type snapshot struct {
	byOffering map[key]billing.Price
	syncedAt   time.Time
}

// Resolver holds the current catalog snapshot. ResolvePriceID is a pure
// in-memory lookup; only Refresh and LoadFromStore touch anything else.
type Resolver struct {
	db     *gorm.DB
	lister PriceLister
	log    *zap.Logger

	snap atomic.Pointer[snapshot]
}

func NewResolver(db *gorm.DB, lister PriceLister, log *zap.Logger) *Resolver {
	return &Resolver{db: db, lister: lister, log: log}
}

// Refresh fetches the full active price list, verifies every expected
// (tier, interval) combination is present, replaces the persisted prices
// table in one transaction and swaps the in-memory snapshot. An incomplete
// catalog returns ErrConfiguration and leaves the previous snapshot intact.
func (r *Resolver) Refresh(ctx context.Context) error {
	prices, err := r.lister.ListActivePrices(ctx)
	if err != nil {
		return fmt.Errorf("refresh catalog: %w", err)
	}

	now := time.Now().UTC()
	for i := range prices {
		prices[i].SyncedAt = now
	}

	next, err := buildSnapshot(prices, now)
	if err != nil {
		return err
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&billing.Price{}).Error; err != nil {
			return err
		}
		return tx.Create(&prices).Error
	})
	if err != nil {
		return fmt.Errorf("persist catalog: %w", err)
	}

	r.snap.Store(next)
	r.log.Info("price catalog refreshed",
		zap.Int("prices", len(prices)),
		zap.Time("synced_at", now))
	return nil
}

// LoadFromStore hydrates the snapshot from the prices table without a
// network call. Used at startup when the processor is unreachable but a
// previous refresh persisted a complete catalog.
func (r *Resolver) LoadFromStore(ctx context.Context) error {
	var prices []billing.Price
	if err := r.db.WithContext(ctx).Find(&prices).Error; err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}

	syncedAt := time.Time{}
	for _, p := range prices {
		if p.SyncedAt.After(syncedAt) {
			syncedAt = p.SyncedAt
		}
	}

	next, err := buildSnapshot(prices, syncedAt)
	if err != nil {
		return err
	}
	r.snap.Store(next)
	return nil
}

// ResolvePriceID returns the external price id for an offering. Pure lookup
// against the current snapshot; never triggers a network call.
func (r *Resolver) ResolvePriceID(tier billing.PlanTier, interval billing.BillingInterval) (string, error) {
	snap := r.snap.Load()
	if snap == nil {
		return "", fmt.Errorf("catalog not loaded: %w", billing.ErrNotFound)
	}
	p, ok := snap.byOffering[key{tier, interval}]
	if !ok {
		return "", fmt.Errorf("no price for tier=%s interval=%s: %w", tier, interval, billing.ErrNotFound)
	}
	return p.StripePriceID, nil
}

// Prices returns every offering in the current snapshot, for the public
// plan listing. Nil before the first load.
func (r *Resolver) Prices() []billing.Price {
	snap := r.snap.Load()
	if snap == nil {
		return nil
	}
	out := make([]billing.Price, 0, len(snap.byOffering))
	for _, t := range billing.Tiers() {
		for _, iv := range billing.Intervals() {
			if p, ok := snap.byOffering[key{t, iv}]; ok {
				out = append(out, p)
			}
		}
	}
	return out
}

// SyncedAt reports when the current snapshot was synced, zero before the
// first load.
func (r *Resolver) SyncedAt() time.Time {
	snap := r.snap.Load()
	if snap == nil {
		return time.Time{}
	}
	return snap.syncedAt
}

func buildSnapshot(prices []billing.Price, syncedAt time.Time) (*snapshot, error) {
	byOffering := make(map[key]billing.Price, len(prices))
	for _, p := range prices {
		k := key{p.Tier, p.Interval}
		if _, dup := byOffering[k]; dup {
			return nil, fmt.Errorf("duplicate price for tier=%s interval=%s: %w",
				p.Tier, p.Interval, billing.ErrConfiguration)
		}
		byOffering[k] = p
	}

	for _, t := range billing.Tiers() {
		for _, iv := range billing.Intervals() {
			if _, ok := byOffering[key{t, iv}]; !ok {
				return nil, fmt.Errorf("missing price for tier=%s interval=%s: %w",
					t, iv, billing.ErrConfiguration)
			}
		}
	}
	return &snapshot{byOffering: byOffering, syncedAt: syncedAt}, nil
}
