// Package admin exposes the out-of-band billing operations: manual catalog
// refresh, drift repair and the degraded-mode indicator. None of these sit
// on the webhook hot path.
package admin

import (
	"errors"
	"net/http"
	"time"

	"peopledesk-app/internal/billing/catalog"
	"peopledesk-app/internal/billing/subscriptions"
	"peopledesk-app/internal/domain/billing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Degradable reports the gateway's degraded-mode flag.
type Degradable interface {
	Degraded() bool
}

type Handler struct {
	resolver   *catalog.Resolver
	reconciler *subscriptions.Reconciler
	gateway    Degradable
	log        *zap.Logger
}

func NewHandler(resolver *catalog.Resolver, reconciler *subscriptions.Reconciler, gateway Degradable, log *zap.Logger) *Handler {
	return &Handler{resolver: resolver, reconciler: reconciler, gateway: gateway, log: log}
}

// SyncPlans runs a manual catalog refresh.
func (h *Handler) SyncPlans(c *gin.Context) {
	if err := h.resolver.Refresh(c.Request.Context()); err != nil {
		h.log.Error("manual catalog refresh failed", zap.Error(err))
		switch {
		case errors.Is(err, billing.ErrConfiguration):
			c.JSON(http.StatusBadGateway, gin.H{"error": "Price catalog incomplete", "details": err.Error()})
		case errors.Is(err, billing.ErrExternalService):
			c.JSON(http.StatusBadGateway, gin.H{"error": "Billing provider unavailable"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to refresh catalog"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"synced":    len(h.resolver.Prices()),
		"synced_at": h.resolver.SyncedAt(),
	})
}

// ReconcileSubscription overwrites one subscription's local state from the
// processor's authoritative record. Used to repair drift after a prolonged
// outage.
func (h *Handler) ReconcileSubscription(c *gin.Context) {
	stripeSubID := c.Param("subscription_id")
	if stripeSubID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing subscription id"})
		return
	}

	sub, err := h.reconciler.Reconcile(c.Request.Context(), stripeSubID)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Subscription not found"})
		case errors.Is(err, billing.ErrExternalService):
			c.JSON(http.StatusBadGateway, gin.H{"error": "Billing provider unavailable"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to reconcile subscription"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"subscription_id":      sub.StripeSubscriptionID,
		"status":               string(sub.Status),
		"current_period_end":   sub.CurrentPeriodEnd,
		"cancel_at_period_end": sub.CancelAtPeriodEnd,
	})
}

// BillingHealth reports the outbound gateway state and catalog freshness.
func (h *Handler) BillingHealth(c *gin.Context) {
	syncedAt := h.resolver.SyncedAt()
	resp := gin.H{
		"degraded":       h.gateway.Degraded(),
		"catalog_loaded": !syncedAt.IsZero(),
		"catalog_synced": syncedAt,
		"checked_at":     time.Now().UTC(),
	}
	status := http.StatusOK
	if h.gateway.Degraded() {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}
