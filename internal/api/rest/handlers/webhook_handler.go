package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/CameronXie/payment-lifecycle/internal/api/rest/response"
	"github.com/CameronXie/payment-lifecycle/internal/payments"
)

// SignatureHeader carries the provider's webhook signature.
const SignatureHeader = "Stripe-Signature"

// WebhookProcessor applies verified provider notifications.
type WebhookProcessor interface {
	Handle(ctx context.Context, payload []byte, signature string) (*payments.Ack, error)
}

// WebhookHandler receives provider webhooks. The body is read verbatim
// because the signature covers the exact bytes.
type WebhookHandler struct {
	processor WebhookProcessor
	logger    *slog.Logger
}

// NewWebhookHandler creates a WebhookHandler.
func NewWebhookHandler(processor WebhookProcessor, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{processor: processor, logger: logger}
}

// ServeHTTP handles POST /api/payments/webhook
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		h.logger.WarnContext(r.Context(), "webhook_body_unreadable", "error", err)
		response.JSONErrorResponse(w, http.StatusBadRequest, invalidRequestBodyError, "")
		return
	}

	ack, err := h.processor.Handle(r.Context(), payload, r.Header.Get(SignatureHeader))
	if err != nil {
		writeServiceError(r.Context(), w, h.logger, "webhook", err)
		return
	}

	response.JSONResponse(w, http.StatusOK, ack)
}
