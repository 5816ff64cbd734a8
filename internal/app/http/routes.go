package routes

import (
	adminapi "peopledesk-app/internal/api/admin"
	billingapi "peopledesk-app/internal/api/billing"
	plansapi "peopledesk-app/internal/api/plans"
	stripewebhooks "peopledesk-app/internal/api/stripewebhook"
	"peopledesk-app/internal/app/http/middleware"

	"github.com/gin-gonic/gin"
)

// Handlers bundles every constructed handler the router mounts. Built in
// main so each handler carries its own dependencies instead of reaching for
// globals.
type Handlers struct {
	Webhook  *stripewebhooks.Handler
	Plans    *plansapi.Handler
	Checkout *billingapi.CheckoutHandler
	Payments *billingapi.PaymentsHandler
	Admin    *adminapi.Handler
}

func RegisterRoutes(r *gin.Engine, jwtSecret string, h Handlers) {
	// The webhook stays outside every middleware group: the body must reach
	// the processor byte-exact for signature verification.
	r.POST("/webhook", h.Webhook.HandleWebhook)
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	r.GET("/plans", h.Plans.ListPlans)

	// Authenticated
	auth := r.Group("/")
	auth.Use(middleware.AuthMiddleware(jwtSecret))
	auth.GET("/payments", h.Payments.GetPaymentHistory)
	auth.POST("/create-checkout-session", h.Checkout.CreateCheckoutSession)

	// Admin routes
	admin := r.Group("/admin")
	admin.Use(middleware.AuthMiddleware(jwtSecret), middleware.RequireRole("admin"))
	admin.POST("/sync-plans", h.Admin.SyncPlans)
	admin.POST("/reconcile/:subscription_id", h.Admin.ReconcileSubscription)
	admin.GET("/billing-health", h.Admin.BillingHealth)
}
