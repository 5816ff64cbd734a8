package billing

import (
	"context"
	"errors"
	"net/http"

	"peopledesk-app/internal/billing/catalog"
	"peopledesk-app/internal/billing/customers"
	billingdomain "peopledesk-app/internal/domain/billing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SessionCreator is the slice of the outbound gateway the checkout flow
// needs. Going through the gateway keeps session creation under the same
// timeout and retry policy as every other Stripe call.
type SessionCreator interface {
	CreateCheckoutSession(ctx context.Context, accountID, stripeCustomerID, priceID, successURL, cancelURL string) (string, error)
}

type CheckoutHandler struct {
	resolver *catalog.Resolver
	registry *customers.Registry
	sessions SessionCreator
	appURL   string
	log      *zap.Logger
}

func NewCheckoutHandler(resolver *catalog.Resolver, registry *customers.Registry, sessions SessionCreator, appURL string, log *zap.Logger) *CheckoutHandler {
	return &CheckoutHandler{resolver: resolver, registry: registry, sessions: sessions, appURL: appURL, log: log}
}

// CreateCheckoutSession is the first billing interaction of an account: it
// resolves the requested offering against the catalog snapshot, ensures the
// external customer exists and opens a Stripe Checkout session for it.
func (h *CheckoutHandler) CreateCheckoutSession(c *gin.Context) {
	var body struct {
		Tier     string `json:"tier"`
		Interval string `json:"interval"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	tier, ok := billingdomain.ParseTier(body.Tier)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown plan tier"})
		return
	}
	interval, ok := billingdomain.ParseInterval(body.Interval)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown billing interval"})
		return
	}

	accountID := c.GetString("account_id")
	email := c.GetString("email")
	if accountID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Account not identified"})
		return
	}

	priceID, err := h.resolver.ResolvePriceID(tier, interval)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Plan not available"})
		return
	}

	cust, err := h.registry.GetOrCreate(c.Request.Context(), accountID, email)
	if err != nil {
		h.log.Error("failed to ensure billing customer",
			zap.String("account_id", accountID),
			zap.Error(err))
		if errors.Is(err, billingdomain.ErrExternalService) {
			c.JSON(http.StatusBadGateway, gin.H{"error": "Billing provider unavailable"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to prepare billing customer"})
		return
	}

	url, err := h.sessions.CreateCheckoutSession(
		c.Request.Context(),
		accountID,
		cust.StripeCustomerID,
		priceID,
		h.appURL+"/settings/billing",
		h.appURL+"/settings/billing?canceled=1",
	)
	if err != nil {
		h.log.Error("failed to create checkout session", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to create checkout session"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": url})
}
