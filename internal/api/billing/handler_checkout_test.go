package billing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"peopledesk-app/database"
	"peopledesk-app/internal/billing/catalog"
	"peopledesk-app/internal/billing/customers"
	billingdomain "peopledesk-app/internal/domain/billing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type fakeLister struct{}

func (f *fakeLister) ListActivePrices(ctx context.Context) ([]billingdomain.Price, error) {
	var out []billingdomain.Price
	for _, tier := range billingdomain.Tiers() {
		for _, interval := range billingdomain.Intervals() {
			out = append(out, billingdomain.Price{
				StripePriceID: "price_" + string(tier) + "_" + string(interval),
				Tier:          tier,
				Interval:      interval,
				AmountCents:   4900,
				Currency:      "eur",
			})
		}
	}
	return out, nil
}

type fakeCustomerAPI struct{}

func (f *fakeCustomerAPI) CreateCustomer(ctx context.Context, accountID, email, idempotencyKey string) (string, error) {
	return "cus_1", nil
}

func (f *fakeCustomerAPI) DeleteCustomer(ctx context.Context, stripeCustomerID string) error {
	return nil
}

type fakeSessionCreator struct {
	err error

	customerID string
	priceID    string
	successURL string
}

func (f *fakeSessionCreator) CreateCheckoutSession(ctx context.Context, accountID, stripeCustomerID, priceID, successURL, cancelURL string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.customerID = stripeCustomerID
	f.priceID = priceID
	f.successURL = successURL
	return "https://checkout.stripe.test/session_1", nil
}

func setupCheckoutRouter(t *testing.T, sessions SessionCreator) *gin.Engine {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	log := zap.NewNop()
	resolver := catalog.NewResolver(db, &fakeLister{}, log)
	require.NoError(t, resolver.Refresh(context.Background()))
	registry := customers.NewRegistry(db, &fakeCustomerAPI{}, log)

	h := NewCheckoutHandler(resolver, registry, sessions, "https://app.test", log)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/create-checkout-session", func(c *gin.Context) {
		c.Set("account_id", "acct-1")
		c.Set("email", "owner@acme.test")
	}, h.CreateCheckoutSession)
	return r
}

func postCheckout(r *gin.Engine, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/create-checkout-session", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateCheckoutSession(t *testing.T) {
	sessions := &fakeSessionCreator{}
	r := setupCheckoutRouter(t, sessions)

	w := postCheckout(r, `{"tier":"growth","interval":"month"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "https://checkout.stripe.test/session_1")

	// the session went through the gateway with the resolved offering
	assert.Equal(t, "cus_1", sessions.customerID)
	assert.Equal(t, "price_growth_month", sessions.priceID)
	assert.Equal(t, "https://app.test/settings/billing", sessions.successURL)
}

func TestCreateCheckoutSession_UnknownOffering(t *testing.T) {
	r := setupCheckoutRouter(t, &fakeSessionCreator{})

	w := postCheckout(r, `{"tier":"platinum","interval":"month"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = postCheckout(r, `{"tier":"growth","interval":"weekly"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateCheckoutSession_GatewayFailure(t *testing.T) {
	sessions := &fakeSessionCreator{err: billingdomain.ErrExternalService}
	r := setupCheckoutRouter(t, sessions)

	w := postCheckout(r, `{"tier":"growth","interval":"month"}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}
