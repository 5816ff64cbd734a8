package billing

import (
	"errors"
	"net/http"
	"time"

	"peopledesk-app/internal/billing/customers"
	"peopledesk-app/internal/billing/payments"
	"peopledesk-app/internal/billing/subscriptions"
	billingdomain "peopledesk-app/internal/domain/billing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type PaymentsHandler struct {
	registry *customers.Registry
	machine  *subscriptions.Machine
	ledger   *payments.Ledger
	log      *zap.Logger
}

func NewPaymentsHandler(registry *customers.Registry, machine *subscriptions.Machine, ledger *payments.Ledger, log *zap.Logger) *PaymentsHandler {
	return &PaymentsHandler{registry: registry, machine: machine, ledger: ledger, log: log}
}

type paymentView struct {
	InvoiceID     string     `json:"invoice_id"`
	AmountCents   int64      `json:"amount_cents"`
	Currency      string     `json:"currency"`
	Status        string     `json:"status"`
	FailureReason *string    `json:"failure_reason,omitempty"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// GetPaymentHistory lists the caller's payment records, newest first.
func (h *PaymentsHandler) GetPaymentHistory(c *gin.Context) {
	accountID := c.GetString("account_id")
	if accountID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	cust, err := h.registry.Get(c.Request.Context(), accountID)
	if err != nil {
		if errors.Is(err, billingdomain.ErrNotFound) {
			c.JSON(http.StatusOK, []paymentView{})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load payments"})
		return
	}

	sub, err := h.machine.Current(c.Request.Context(), cust.ID)
	if err != nil {
		if errors.Is(err, billingdomain.ErrNotFound) {
			c.JSON(http.StatusOK, []paymentView{})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load payments"})
		return
	}

	views := []paymentView{}
	for p, err := range h.ledger.History(c.Request.Context(), sub.ID) {
		if err != nil {
			h.log.Error("failed to iterate payment history", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load payments"})
			return
		}
		views = append(views, paymentView{
			InvoiceID:     p.StripeInvoiceID,
			AmountCents:   p.AmountCents,
			Currency:      p.Currency,
			Status:        string(p.Status),
			FailureReason: p.FailureReason,
			PaidAt:        p.PaidAt,
			CreatedAt:     p.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, views)
}
