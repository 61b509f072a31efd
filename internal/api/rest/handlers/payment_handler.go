package handlers

import (
	"cmp"
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/CameronXie/payment-lifecycle/internal/api/rest/response"
	"github.com/CameronXie/payment-lifecycle/internal/enforcer"
	"github.com/CameronXie/payment-lifecycle/internal/payments"
	"github.com/CameronXie/payment-lifecycle/internal/provider"
)

// SessionOpener opens payment sessions.
type SessionOpener interface {
	Open(ctx context.Context, in payments.OpenSessionInput) (*payments.SessionDescriptor, error)
}

// PaymentConfirmer confirms payment sessions.
type PaymentConfirmer interface {
	Confirm(ctx context.Context, orderID uuid.UUID, sessionID string) (*payments.ConfirmResult, error)
}

// PaymentHandler serves the payment method catalog, session creation and confirmation.
type PaymentHandler struct {
	orders        OrderReader
	sessions      SessionOpener
	confirmations PaymentConfirmer
	catalog       *provider.Catalog
	enforcer      enforcer.Enforcer
	logger        *slog.Logger
}

// NewPaymentHandler creates a PaymentHandler.
func NewPaymentHandler(
	orders OrderReader,
	sessions SessionOpener,
	confirmations PaymentConfirmer,
	catalog *provider.Catalog,
	e enforcer.Enforcer,
	logger *slog.Logger,
) *PaymentHandler {
	return &PaymentHandler{
		orders:        orders,
		sessions:      sessions,
		confirmations: confirmations,
		catalog:       catalog,
		enforcer:      e,
		logger:        logger,
	}
}

// OpenSessionRequest is the body of POST /api/payments/sessions.
// The method may be named by paymentMethodId or methodId.
type OpenSessionRequest struct {
	OrderID   string `json:"orderId"`
	MethodID  string `json:"paymentMethodId"`
	Method    string `json:"methodId"`
	ReturnURL string `json:"returnUrl,omitempty"`
}

// ConfirmRequest is the body of POST /api/payments/confirm.
type ConfirmRequest struct {
	OrderID   string `json:"orderId"`
	SessionID string `json:"paymentSessionId"`
}

// MethodsResponse lists the available payment methods.
type MethodsResponse struct {
	Methods []provider.Method `json:"methods"`
}

// ListMethods handles GET /api/payments/methods
func (h *PaymentHandler) ListMethods(w http.ResponseWriter, _ *http.Request) {
	response.JSONResponse(w, http.StatusOK, MethodsResponse{Methods: h.catalog.Methods()})
}

// OpenSession handles POST /api/payments/sessions
func (h *PaymentHandler) OpenSession(w http.ResponseWriter, r *http.Request) {
	var req OpenSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		response.JSONErrorResponse(w, http.StatusBadRequest, invalidRequestBodyError, err.Error())
		return
	}

	order, ok := authorizeOrder(w, r, h.orders, h.enforcer, h.logger, req.OrderID, enforcer.ActionPay)
	if !ok {
		return
	}

	descriptor, err := h.sessions.Open(r.Context(), payments.OpenSessionInput{
		OrderID:   order.ID,
		MethodID:  cmp.Or(req.MethodID, req.Method),
		ReturnURL: req.ReturnURL,
	})
	if err != nil {
		writeServiceError(r.Context(), w, h.logger, "payment_session", err)
		return
	}

	response.JSONResponse(w, http.StatusOK, descriptor)
}

// Confirm handles POST /api/payments/confirm
func (h *PaymentHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	var req ConfirmRequest
	if err := decodeJSON(w, r, &req); err != nil {
		response.JSONErrorResponse(w, http.StatusBadRequest, invalidRequestBodyError, err.Error())
		return
	}

	order, ok := authorizeOrder(w, r, h.orders, h.enforcer, h.logger, req.OrderID, enforcer.ActionPay)
	if !ok {
		return
	}

	result, err := h.confirmations.Confirm(r.Context(), order.ID, req.SessionID)
	if err != nil {
		writeServiceError(r.Context(), w, h.logger, "payment_confirm", err)
		return
	}

	response.JSONResponse(w, http.StatusOK, result)
}
