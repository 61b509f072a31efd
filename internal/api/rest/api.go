package rest

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/CameronXie/payment-lifecycle/internal/api/rest/handlers"
	"github.com/CameronXie/payment-lifecycle/internal/api/rest/middlewares"
	"github.com/CameronXie/payment-lifecycle/internal/api/rest/response"
)

type RouterConfig struct {
	OrderHandler             *handlers.OrderHandler
	PaymentHandler           *handlers.PaymentHandler
	WebhookHandler           http.Handler
	AuthenticationMiddleware middlewares.Middleware
	RequestLogger            middlewares.Middleware
}

// NewRouter wires every route. The webhook route sits outside authentication
// since providers sign their requests instead.
func NewRouter(cfg *RouterConfig) *mux.Router {
	router := mux.NewRouter()
	router.Use(cfg.RequestLogger.Handle)
	router.NotFoundHandler = http.HandlerFunc(notFound)
	router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)

	router.HandleFunc("/health", handlers.HealthCheck).Methods(http.MethodGet)
	router.Handle("/api/payments/webhook", cfg.WebhookHandler).Methods(http.MethodPost)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(cfg.AuthenticationMiddleware.Handle)

	api.HandleFunc("/orders", cfg.OrderHandler.CreateOrder).Methods(http.MethodPost)
	api.HandleFunc("/orders", cfg.OrderHandler.ListOrders).Methods(http.MethodGet)
	api.HandleFunc("/orders/{id}", cfg.OrderHandler.GetOrder).Methods(http.MethodGet)
	api.HandleFunc("/orders/{id}/cancel", cfg.OrderHandler.CancelOrder).Methods(http.MethodPost)

	api.HandleFunc("/payments/methods", cfg.PaymentHandler.ListMethods).Methods(http.MethodGet)
	api.HandleFunc("/payments/sessions", cfg.PaymentHandler.OpenSession).Methods(http.MethodPost)
	api.HandleFunc("/payments/confirm", cfg.PaymentHandler.Confirm).Methods(http.MethodPost)

	return router
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	response.JSONErrorResponse(w, http.StatusNotFound, "not found", "")
}

func methodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	response.JSONErrorResponse(w, http.StatusMethodNotAllowed, "method not allowed", "")
}
