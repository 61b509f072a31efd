package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/CameronXie/payment-lifecycle/internal/api/rest/response"
	"github.com/CameronXie/payment-lifecycle/internal/domain"
	"github.com/CameronXie/payment-lifecycle/internal/repository"
)

const (
	// RetryAfterSeconds is advertised when the payment provider is unavailable.
	RetryAfterSeconds = "5"

	// MaxBodyBytes bounds every request body.
	MaxBodyBytes = 1 << 20

	invalidRequestBodyError    = "invalid request body"
	invalidRequestError        = "invalid request"
	notFoundError              = "not found"
	forbiddenError             = "forbidden"
	orderAlreadyPaidError      = "order already paid"
	invalidTransitionError     = "invalid order status"
	invalidSignatureError      = "invalid signature"
	sessionConflictError       = "payment session conflict"
	providerUnavailableError   = "payment provider unavailable"
	internalServerErrorMessage = "internal server error"
)

// writeServiceError maps a service error to its HTTP reply. Only unexpected
// failures are logged, with op naming the operation.
func writeServiceError(ctx context.Context, w http.ResponseWriter, logger *slog.Logger, op string, err error) {
	var validationErr *domain.ValidationError

	switch {
	case errors.As(err, &validationErr):
		response.JSONErrorResponse(w, http.StatusBadRequest, invalidRequestError, validationErr.Error())
	case repository.IsNotFound(err):
		response.JSONErrorResponse(w, http.StatusNotFound, notFoundError, err.Error())
	case errors.Is(err, domain.ErrForbidden):
		response.JSONErrorResponse(w, http.StatusForbidden, forbiddenError, "")
	case errors.Is(err, domain.ErrAlreadyPaid):
		response.JSONErrorResponse(w, http.StatusConflict, orderAlreadyPaidError, "")
	case errors.Is(err, domain.ErrInvalidTransition):
		response.JSONErrorResponse(w, http.StatusConflict, invalidTransitionError, err.Error())
	case errors.Is(err, domain.ErrSessionConflict):
		logger.WarnContext(ctx, op+"_conflict", "error", err)
		response.JSONErrorResponse(w, http.StatusConflict, sessionConflictError, "")
	case errors.Is(err, domain.ErrInvalidSignature):
		response.JSONErrorResponse(w, http.StatusBadRequest, invalidSignatureError, "")
	case errors.Is(err, domain.ErrProviderUnavailable):
		logger.WarnContext(ctx, op+"_unavailable", "error", err)
		w.Header().Set("Retry-After", RetryAfterSeconds)
		response.JSONErrorResponse(w, http.StatusServiceUnavailable, providerUnavailableError, "")
	default:
		logger.ErrorContext(ctx, op+"_failed", "error", err)
		response.JSONErrorResponse(w, http.StatusInternalServerError, internalServerErrorMessage, "")
	}
}

// decodeJSON reads a bounded JSON body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	return decoder.Decode(dst)
}
