package plans

import (
	"net/http"

	"peopledesk-app/internal/billing/catalog"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	resolver *catalog.Resolver
}

func NewHandler(resolver *catalog.Resolver) *Handler {
	return &Handler{resolver: resolver}
}

type planView struct {
	Tier        string `json:"tier"`
	Interval    string `json:"interval"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
	PriceID     string `json:"price_id"`
}

// ListPlans serves the purchasable offerings from the catalog snapshot.
func (h *Handler) ListPlans(c *gin.Context) {
	prices := h.resolver.Prices()
	views := make([]planView, 0, len(prices))
	for _, p := range prices {
		views = append(views, planView{
			Tier:        string(p.Tier),
			Interval:    string(p.Interval),
			AmountCents: p.AmountCents,
			Currency:    p.Currency,
			PriceID:     p.StripePriceID,
		})
	}
	c.JSON(http.StatusOK, views)
}
