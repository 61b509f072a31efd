package middlewares

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/CameronXie/payment-lifecycle/internal/api/rest/response"
	"github.com/CameronXie/payment-lifecycle/internal/enforcer"
	"github.com/CameronXie/payment-lifecycle/internal/keyfetcher"
)

type contextKey string

const (
	BearerPrefix                         = "bearer"
	GuestTokenHeader                     = "X-Guest-Token"
	DefaultClockSkewTolerance            = 5 * time.Minute
	actorContextKey           contextKey = "actor"

	invalidAuthHeaderFormatMessage = "invalid authorization header format"
	invalidTokenMessage            = "invalid token"
	internalServerErrorMessage     = "internal server error"
	unauthorizedError              = "unauthorized"
)

// JWTConfig holds configuration for the authentication middleware.
// Empty Issuer or Audience disables that check.
type JWTConfig struct {
	KeyFetcher keyfetcher.PublicKeyFetcher
	Issuer     string
	Audience   string
	ClockSkew  time.Duration
}

// JWTAuthenticationMiddleware identifies the caller. A request without an
// Authorization header proceeds as a guest, an invalid bearer token is rejected.
type JWTAuthenticationMiddleware struct {
	keyFetcher keyfetcher.PublicKeyFetcher
	issuer     string
	audience   string
	clockSkew  time.Duration
	logger     *slog.Logger
}

// NewJWTAuthenticationMiddleware creates the authentication middleware.
func NewJWTAuthenticationMiddleware(cfg JWTConfig, logger *slog.Logger) *JWTAuthenticationMiddleware {
	clockSkew := cfg.ClockSkew
	if clockSkew == 0 {
		clockSkew = DefaultClockSkewTolerance
	}

	return &JWTAuthenticationMiddleware{
		keyFetcher: cfg.KeyFetcher,
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		clockSkew:  clockSkew,
		logger:     logger,
	}
}

// Handle stores the enforcer.Actor of the request in its context.
func (m *JWTAuthenticationMiddleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := enforcer.Actor{GuestToken: strings.TrimSpace(r.Header.Get(GuestTokenHeader))}

		if authHeader := r.Header.Get("Authorization"); authHeader != "" {
			token, err := extractToken(authHeader)
			if err != nil {
				m.logger.WarnContext(r.Context(), "auth_header_invalid", "error", err)
				response.JSONErrorResponse(w, http.StatusUnauthorized, unauthorizedError, invalidAuthHeaderFormatMessage)
				return
			}

			key, err := m.keyFetcher.FetchPublicKey()
			if err != nil {
				m.logger.ErrorContext(r.Context(), "auth_key_fetch_failed", "error", err)
				response.JSONErrorResponse(w, http.StatusInternalServerError, internalServerErrorMessage, "")
				return
			}

			subject, err := m.subject(token, key)
			if err != nil {
				m.logger.WarnContext(r.Context(), "auth_token_invalid", "error", err)
				response.JSONErrorResponse(w, http.StatusUnauthorized, unauthorizedError, invalidTokenMessage)
				return
			}
			actor.Subject = subject
		}

		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
	})
}

// subject validates token and returns its subject claim.
func (m *JWTAuthenticationMiddleware) subject(token string, key *rsa.PublicKey) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(m.clockSkew),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	if m.audience != "" {
		opts = append(opts, jwt.WithAudience(m.audience))
	}

	claims := new(jwt.RegisteredClaims)
	if _, err := jwt.ParseWithClaims(token, claims, func(_ *jwt.Token) (any, error) {
		return key, nil
	}, opts...); err != nil {
		return "", fmt.Errorf("failed to parse token: %w", err)
	}

	if claims.Subject == "" {
		return "", errors.New("missing subject claim")
	}
	return claims.Subject, nil
}

// extractToken extracts a Bearer token from the Authorization header.
// Returns the extracted token or an error if the header format is invalid.
func extractToken(authHeader string) (string, error) {
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], BearerPrefix) || parts[1] == "" {
		return "", errors.New("invalid authorization header format")
	}

	return parts[1], nil
}

// WithActor returns a copy of ctx carrying actor.
func WithActor(ctx context.Context, actor enforcer.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey, actor)
}

// ActorFromContext returns the caller stored by the authentication middleware.
// Requests that never passed through it are anonymous guests.
func ActorFromContext(ctx context.Context) enforcer.Actor {
	actor, _ := ctx.Value(actorContextKey).(enforcer.Actor)
	return actor
}
