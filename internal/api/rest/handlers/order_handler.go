package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/CameronXie/payment-lifecycle/internal/api/rest/middlewares"
	"github.com/CameronXie/payment-lifecycle/internal/api/rest/response"
	"github.com/CameronXie/payment-lifecycle/internal/domain"
	"github.com/CameronXie/payment-lifecycle/internal/enforcer"
	"github.com/CameronXie/payment-lifecycle/internal/orders"
	"github.com/CameronXie/payment-lifecycle/internal/repository"
)

// BillingPath prefixes the client page where an order is paid.
const BillingPath = "/billing/"

// OrderReader loads single orders.
type OrderReader interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Order, error)
}

// OrderService defines the order operations exposed over HTTP.
type OrderService interface {
	OrderReader
	Create(ctx context.Context, in orders.CreateInput) (*domain.Order, error)
	List(ctx context.Context, filter repository.ListFilter) ([]*domain.Order, error)
	Cancel(ctx context.Context, id uuid.UUID) (*domain.Order, error)
}

// OrderHandler handles HTTP requests for order operations
type OrderHandler struct {
	orders   OrderService
	enforcer enforcer.Enforcer
	logger   *slog.Logger
}

// NewOrderHandler creates a new OrderHandler instance
func NewOrderHandler(svc OrderService, e enforcer.Enforcer, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		orders:   svc,
		enforcer: e,
		logger:   logger,
	}
}

// CreateOrderRequest represents the request payload for creating an order
type CreateOrderRequest struct {
	UserID     string            `json:"userId,omitempty"`
	GuestToken string            `json:"guestToken,omitempty"`
	LineItems  []domain.LineItem `json:"lineItems"`
	Currency   string            `json:"currency,omitempty"`
	Metadata   map[string]any    `json:"metadata,omitempty"`
}

// CreateOrderResponse represents the response for creating an order
type CreateOrderResponse struct {
	OrderID     uuid.UUID       `json:"orderId"`
	Status      domain.Status   `json:"status"`
	Total       decimal.Decimal `json:"total"`
	Currency    string          `json:"currency"`
	RedirectURL string          `json:"redirectUrl"`
}

// ListOrdersResponse wraps a page of orders.
type ListOrdersResponse struct {
	Orders []*domain.Order `json:"orders"`
	Count  int             `json:"count"`
}

// CreateOrder handles POST /api/orders. Authenticated callers own the order,
// guests may bind it to a guest token instead.
func (h *OrderHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		response.JSONErrorResponse(w, http.StatusBadRequest, invalidRequestBodyError, err.Error())
		return
	}

	actor := middlewares.ActorFromContext(r.Context())
	userID := req.UserID
	if actor.Subject != "" {
		userID = actor.Subject
	}
	guestToken := req.GuestToken
	if guestToken == "" {
		guestToken = actor.GuestToken
	}

	order, err := h.orders.Create(r.Context(), orders.CreateInput{
		UserID:     userID,
		GuestToken: guestToken,
		LineItems:  req.LineItems,
		Currency:   req.Currency,
		Metadata:   req.Metadata,
	})
	if err != nil {
		writeServiceError(r.Context(), w, h.logger, "order_create", err)
		return
	}

	response.JSONResponse(w, http.StatusCreated, CreateOrderResponse{
		OrderID:     order.ID,
		Status:      order.Status,
		Total:       order.Total,
		Currency:    order.Currency,
		RedirectURL: BillingPath + order.ID.String(),
	})
}

// ListOrders handles GET /api/orders?status=&userId=&limit=
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	if err := enforcer.Authorize(r.Context(), h.enforcer, &enforcer.AccessRequest{
		Actor:  middlewares.ActorFromContext(r.Context()),
		Action: enforcer.ActionList,
	}); err != nil {
		writeServiceError(r.Context(), w, h.logger, "order_list", err)
		return
	}

	query := r.URL.Query()
	filter := repository.ListFilter{
		Status: domain.Status(query.Get("status")),
		UserID: query.Get("userId"),
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			response.JSONErrorResponse(w, http.StatusBadRequest, invalidRequestError, "limit must be a number")
			return
		}
		filter.Limit = limit
	}

	list, err := h.orders.List(r.Context(), filter)
	if err != nil {
		writeServiceError(r.Context(), w, h.logger, "order_list", err)
		return
	}

	response.JSONResponse(w, http.StatusOK, ListOrdersResponse{Orders: list, Count: len(list)})
}

// GetOrder handles GET /api/orders/{id}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, ok := h.authorizedOrder(w, r, mux.Vars(r)["id"], enforcer.ActionRead)
	if !ok {
		return
	}

	response.JSONResponse(w, http.StatusOK, order)
}

// CancelOrder handles POST /api/orders/{id}/cancel
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	order, ok := h.authorizedOrder(w, r, mux.Vars(r)["id"], enforcer.ActionCancel)
	if !ok {
		return
	}

	cancelled, err := h.orders.Cancel(r.Context(), order.ID)
	if err != nil {
		writeServiceError(r.Context(), w, h.logger, "order_cancel", err)
		return
	}

	response.JSONResponse(w, http.StatusOK, cancelled)
}

func (h *OrderHandler) authorizedOrder(w http.ResponseWriter, r *http.Request, rawID, action string) (*domain.Order, bool) {
	return authorizeOrder(w, r, h.orders, h.enforcer, h.logger, rawID, action)
}

// authorizeOrder loads the order named by rawID and checks the caller may
// perform action on it. On failure the reply is already written.
func authorizeOrder(
	w http.ResponseWriter,
	r *http.Request,
	reader OrderReader,
	e enforcer.Enforcer,
	logger *slog.Logger,
	rawID, action string,
) (*domain.Order, bool) {
	id, err := uuid.Parse(rawID)
	if err != nil {
		response.JSONErrorResponse(w, http.StatusBadRequest, invalidRequestError, "order id must be a valid UUID")
		return nil, false
	}

	order, err := reader.Get(r.Context(), id)
	if err != nil {
		writeServiceError(r.Context(), w, logger, "order_get", err)
		return nil, false
	}

	if err := enforcer.Authorize(r.Context(), e, &enforcer.AccessRequest{
		Actor:  middlewares.ActorFromContext(r.Context()),
		Action: action,
		Order:  order,
	}); err != nil {
		logger.InfoContext(r.Context(), "order_access_denied", "order_id", order.ID, "action", action)
		writeServiceError(r.Context(), w, logger, "order_authorize", err)
		return nil, false
	}

	return order, true
}
