package stripe

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"sync/atomic"
	"time"

	"peopledesk-app/internal/domain/billing"

	"github.com/stripe/stripe-go/v75"
	checkoutsession "github.com/stripe/stripe-go/v75/checkout/session"
	"github.com/stripe/stripe-go/v75/customer"
	"github.com/stripe/stripe-go/v75/price"
	"github.com/stripe/stripe-go/v75/subscription"
	"go.uber.org/zap"
)

const (
	defaultTimeout     = 10 * time.Second
	defaultMaxAttempts = 3
	defaultBaseBackoff = 200 * time.Millisecond

	// consecutive failed calls before the degraded flag raises
	degradedThreshold = 3
)

// Gateway wraps every outbound Stripe call the engine makes. Each call runs
// under a bounded timeout and a short exponential-backoff retry; repeated
// failure raises a degraded-mode flag instead of blocking webhook ingestion,
// and manual reconciliation repairs any drift later.
type Gateway struct {
	log         *zap.Logger
	timeout     time.Duration
	maxAttempts int
	baseBackoff time.Duration

	consecutiveFailures atomic.Int64
}

func NewGateway(apiKey string, log *zap.Logger) *Gateway {
	stripe.Key = apiKey
	return &Gateway{
		log:         log,
		timeout:     defaultTimeout,
		maxAttempts: defaultMaxAttempts,
		baseBackoff: defaultBaseBackoff,
	}
}

// Degraded reports whether recent outbound calls have been failing in a row.
func (g *Gateway) Degraded() bool {
	return g.consecutiveFailures.Load() >= degradedThreshold
}

// CreateCustomer creates the external billing customer for an account and
// returns its Stripe id. The idempotency key ties retries of one logical
// creation together on Stripe's side.
func (g *Gateway) CreateCustomer(ctx context.Context, accountID, email, idempotencyKey string) (string, error) {
	var id string
	err := g.withRetry(ctx, "customer.create", func(callCtx context.Context) error {
		params := &stripe.CustomerParams{
			Email: stripe.String(email),
			Metadata: map[string]string{
				"account_id": accountID,
			},
		}
		params.Context = callCtx
		params.SetIdempotencyKey(idempotencyKey)

		cus, err := customer.New(params)
		if err != nil {
			return err
		}
		id = cus.ID
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// DeleteCustomer removes an external customer. Used only to discard the
// loser of a duplicate-creation race, so a missing customer is fine.
func (g *Gateway) DeleteCustomer(ctx context.Context, stripeCustomerID string) error {
	err := g.withRetry(ctx, "customer.delete", func(callCtx context.Context) error {
		params := &stripe.CustomerParams{}
		params.Context = callCtx
		_, err := customer.Del(stripeCustomerID, params)
		return err
	})
	if errors.Is(err, billing.ErrNotFound) {
		return nil
	}
	return err
}

// CreateCheckoutSession opens a hosted subscription checkout for an existing
// customer and returns the session URL. Retries may leave abandoned sessions
// behind; those expire on Stripe's side.
func (g *Gateway) CreateCheckoutSession(ctx context.Context, accountID, stripeCustomerID, priceID, successURL, cancelURL string) (string, error) {
	var url string
	err := g.withRetry(ctx, "checkout.session.create", func(callCtx context.Context) error {
		params := &stripe.CheckoutSessionParams{
			SuccessURL: stripe.String(successURL),
			CancelURL:  stripe.String(cancelURL),
			Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
			Customer:   stripe.String(stripeCustomerID),
			LineItems: []*stripe.CheckoutSessionLineItemParams{
				{Price: stripe.String(priceID), Quantity: stripe.Int64(1)},
			},
			ClientReferenceID: stripe.String(accountID),
			SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
				Metadata: map[string]string{
					"account_id": accountID,
				},
			},
		}
		params.Context = callCtx

		s, err := checkoutsession.New(params)
		if err != nil {
			return err
		}
		url = s.URL
		return nil
	})
	if err != nil {
		return "", err
	}
	return url, nil
}

// FetchSubscription returns the processor's authoritative state for one
// subscription, for manual reconciliation.
func (g *Gateway) FetchSubscription(ctx context.Context, stripeSubID string) (billing.RemoteSubscription, error) {
	var remote billing.RemoteSubscription
	err := g.withRetry(ctx, "subscription.get", func(callCtx context.Context) error {
		params := &stripe.SubscriptionParams{}
		params.Context = callCtx

		sub, err := subscription.Get(stripeSubID, params)
		if err != nil {
			return err
		}

		status, ok := NormalizeStatus(string(sub.Status))
		if !ok {
			return fmt.Errorf("unexpected subscription status %q: %w", sub.Status, billing.ErrExternalService)
		}

		remote = billing.RemoteSubscription{
			StripeSubscriptionID: sub.ID,
			Status:               status,
			CurrentPeriodStart:   time.Unix(sub.CurrentPeriodStart, 0),
			CurrentPeriodEnd:     time.Unix(sub.CurrentPeriodEnd, 0),
			CancelAtPeriodEnd:    sub.CancelAtPeriodEnd,
		}
		if sub.Customer != nil {
			remote.StripeCustomerID = sub.Customer.ID
		}
		if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
			remote.StripePriceID = sub.Items.Data[0].Price.ID
		}
		if sub.CanceledAt > 0 {
			t := time.Unix(sub.CanceledAt, 0)
			remote.CanceledAt = &t
		}
		return nil
	})
	if err != nil {
		return billing.RemoteSubscription{}, err
	}
	return remote, nil
}

// ListActivePrices fetches the full active recurring price list and maps
// each price to a (tier, interval) offering. Prices whose product does not
// match any known tier are skipped, not errors; the catalog decides whether
// the surviving set is complete.
func (g *Gateway) ListActivePrices(ctx context.Context) ([]billing.Price, error) {
	var out []billing.Price
	err := g.withRetry(ctx, "price.list", func(callCtx context.Context) error {
		params := &stripe.PriceListParams{}
		params.Context = callCtx
		params.Active = stripe.Bool(true)
		params.Type = stripe.String("recurring")
		params.AddExpand("data.product")

		out = out[:0]
		it := price.List(params)
		for it.Next() {
			p := it.Price()
			if !p.Active || p.Recurring == nil || p.Product == nil || !p.Product.Active {
				continue
			}

			tierValue := p.Metadata["tier"]
			if tierValue == "" {
				tierValue = p.Product.Name
			}
			tier, ok := billing.ParseTier(tierValue)
			if !ok {
				g.log.Debug("price matches no plan tier, skipping",
					zap.String("price_id", p.ID),
					zap.String("product", p.Product.Name))
				continue
			}
			interval, ok := billing.ParseInterval(string(p.Recurring.Interval))
			if !ok {
				continue
			}

			out = append(out, billing.Price{
				StripePriceID: p.ID,
				Tier:          tier,
				Interval:      interval,
				AmountCents:   p.UnitAmount,
				Currency:      string(p.Currency),
			})
		}
		return it.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (g *Gateway) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	backoff := g.baseBackoff
	var lastErr error

	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		err := fn(callCtx)
		cancel()

		if err == nil {
			g.consecutiveFailures.Store(0)
			return nil
		}
		lastErr = err

		if !retryable(err) || attempt == g.maxAttempts {
			break
		}

		g.log.Warn("stripe call failed, backing off",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Error(err))

		jittered := backoff + rand.N(backoff/2+1)
		select {
		case <-ctx.Done():
			lastErr = ctx.Err()
			attempt = g.maxAttempts
		case <-time.After(jittered):
		}
		backoff *= 2
	}

	// Only outage-class failures count toward degradation. A deterministic
	// 4xx answer (including 404) is the processor responding, not down.
	if retryable(lastErr) {
		n := g.consecutiveFailures.Add(1)
		if n == degradedThreshold {
			g.log.Error("stripe gateway entering degraded mode",
				zap.String("op", op),
				zap.Int64("consecutive_failures", n))
		}
	}
	return classify(op, lastErr)
}

// retryable: network errors, timeouts and Stripe 5xx/429. Other 4xx are
// deterministic and retried only by a human fixing the request.
func retryable(err error) bool {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return stripeErr.HTTPStatusCode >= http.StatusInternalServerError ||
			stripeErr.HTTPStatusCode == http.StatusTooManyRequests
	}
	return true
}

func classify(op string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %v: %w", op, err, billing.ErrNotFound)
	}
	return fmt.Errorf("%s: %v: %w", op, err, billing.ErrExternalService)
}
