package main

import (
	"context"
	"errors"
	"time"

	"peopledesk-app/config"
	"peopledesk-app/database"
	"peopledesk-app/internal/api/admin"
	billingapi "peopledesk-app/internal/api/billing"
	plansapi "peopledesk-app/internal/api/plans"
	stripewebhooks "peopledesk-app/internal/api/stripewebhook"
	routes "peopledesk-app/internal/app/http"
	"peopledesk-app/internal/billing/catalog"
	"peopledesk-app/internal/billing/customers"
	"peopledesk-app/internal/billing/payments"
	"peopledesk-app/internal/billing/subscriptions"
	"peopledesk-app/internal/billing/webhook"
	"peopledesk-app/internal/domain/billing"
	stripeinfra "peopledesk-app/internal/infra/stripe"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	// gin.SetMode(gin.ReleaseMode) uncomment only in production
	config.LoadEnv()

	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	db, err := database.Open(config.DB_URL)
	if err != nil {
		log.Fatal("failed to open database", zap.Error(err))
	}
	defer database.Close(db)

	gateway := stripeinfra.NewGateway(config.STRIPE_SECRET_KEY, log)

	resolver := catalog.NewResolver(db, gateway, log)
	registry := customers.NewRegistry(db, gateway, log)
	machine := subscriptions.NewMachine(db, log, config.BILLING_RETRY_THRESHOLD)
	reconciler := subscriptions.NewReconciler(db, gateway, log)
	ledger := payments.NewLedger(db, log)
	processor := webhook.NewProcessor(db, machine, ledger, config.STRIPE_WEBHOOK_SECRET, log)

	// An incomplete catalog must halt the process rather than serve wrong
	// plan mappings. A stored catalog from a previous sync keeps restarts
	// possible while the processor is unreachable.
	startupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := resolver.Refresh(startupCtx); err != nil {
		if errors.Is(err, billing.ErrConfiguration) {
			log.Fatal("price catalog incomplete", zap.Error(err))
		}
		log.Warn("catalog refresh failed at startup, loading stored catalog", zap.Error(err))
		if err := resolver.LoadFromStore(startupCtx); err != nil {
			log.Fatal("no usable price catalog", zap.Error(err))
		}
	}
	cancel()

	r := gin.Default()

	if config.CORS_ORIGIN != "" {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     []string{config.CORS_ORIGIN},
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
			ExposeHeaders:    []string{"Content-Length"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	routes.RegisterRoutes(r, config.JWT_SECRET, routes.Handlers{
		Webhook:  stripewebhooks.NewHandler(processor),
		Plans:    plansapi.NewHandler(resolver),
		Checkout: billingapi.NewCheckoutHandler(resolver, registry, gateway, config.APP_URL, log),
		Payments: billingapi.NewPaymentsHandler(registry, machine, ledger, log),
		Admin:    admin.NewHandler(resolver, reconciler, gateway, log),
	})

	if err := r.Run(":" + config.PORT); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}
