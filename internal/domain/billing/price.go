package billing

import (
	"strings"
	"time"
)

// Plan tier constants (single source of truth)
type PlanTier string

const (
	TierStarter    PlanTier = "starter"
	TierGrowth     PlanTier = "growth"
	TierEnterprise PlanTier = "enterprise"
)

// Tiers lists every tier the catalog must carry for each interval.
func Tiers() []PlanTier {
	return []PlanTier{TierStarter, TierGrowth, TierEnterprise}
}

// BillingInterval matches Stripe's recurring interval strings.
type BillingInterval string

const (
	IntervalMonth BillingInterval = "month"
	IntervalYear  BillingInterval = "year"
)

// Intervals lists every interval the catalog must carry for each tier.
func Intervals() []BillingInterval {
	return []BillingInterval{IntervalMonth, IntervalYear}
}

// Price is one purchasable (tier, interval) offering. Rows are immutable
// once observed; the catalog refresh replaces the whole table, never
// individual fields.
type Price struct {
	StripePriceID string          `gorm:"column:stripe_price_id;primaryKey"`
	Tier          PlanTier        `gorm:"column:tier;not null;index:idx_prices_tier_interval"`
	Interval      BillingInterval `gorm:"column:interval;not null;index:idx_prices_tier_interval"`
	AmountCents   int64           `gorm:"column:amount_cents;not null"`
	Currency      string          `gorm:"not null"`
	SyncedAt      time.Time
}

// ParseTier maps a metadata value or a product-name convention
// ("PeopleDesk Growth" etc.) to a tier. Returns false when nothing matches.
func ParseTier(s string) (PlanTier, bool) {
	switch t := PlanTier(strings.ToLower(strings.TrimSpace(s))); t {
	case TierStarter, TierGrowth, TierEnterprise:
		return t, true
	}
	lower := strings.ToLower(s)
	for _, t := range Tiers() {
		if strings.Contains(lower, string(t)) {
			return t, true
		}
	}
	return "", false
}

// ParseInterval validates a Stripe recurring interval string.
func ParseInterval(s string) (BillingInterval, bool) {
	switch i := BillingInterval(strings.ToLower(strings.TrimSpace(s))); i {
	case IntervalMonth, IntervalYear:
		return i, true
	}
	return "", false
}
