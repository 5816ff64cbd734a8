package stripewebhooks

import (
	"context"
	"errors"
	"io"
	"net/http"

	"peopledesk-app/internal/domain/billing"

	"github.com/gin-gonic/gin"
)

const maxPayloadBytes = 65536

// Ingestor is the reconciliation engine's inbound entrypoint.
type Ingestor interface {
	Ingest(ctx context.Context, payload []byte, sigHeader string) (billing.EventOutcome, error)
}

type Handler struct {
	processor Ingestor
}

func NewHandler(processor Ingestor) *Handler {
	return &Handler{processor: processor}
}

// HandleWebhook hands the raw body and signature header to the processor
// and maps its outcome to the transport status Stripe keys its retries on:
// 400 stops redelivery of a forged payload, 500 requests redelivery, 200
// acknowledges everything else.
func (h *Handler) HandleWebhook(c *gin.Context) {
	payload, err := readStripeBody(c, maxPayloadBytes)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Error reading request body"})
		return
	}

	outcome, err := h.processor.Ingest(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	switch {
	case errors.Is(err, billing.ErrAuthentication):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Signature verification failed"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"status": string(outcome)})
	default:
		c.JSON(http.StatusOK, gin.H{"status": string(outcome)})
	}
}

func readStripeBody(c *gin.Context, maxBytes int64) ([]byte, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
	return io.ReadAll(c.Request.Body)
}
