package authn

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/CameronXie/payment-lifecycle/internal/keyfetcher"
)

// DefaultTokenTTL is how long an issued token stays valid.
const DefaultTokenTTL = time.Hour

// TokenRequest names the subject and optional claims of a token.
type TokenRequest struct {
	Subject  string
	Issuer   string
	Audience string
	TTL      time.Duration
}

// TokenIssuer signs bearer tokens accepted by the API.
type TokenIssuer struct {
	privateKeyFetcher keyfetcher.PrivateKeyFetcher
	now               func() time.Time
}

// NewTokenIssuer creates a TokenIssuer signing with the key from privateKeyFetcher.
func NewTokenIssuer(privateKeyFetcher keyfetcher.PrivateKeyFetcher) *TokenIssuer {
	return &TokenIssuer{privateKeyFetcher: privateKeyFetcher, now: time.Now}
}

// Issue generates an RS512 signed JWT for req.Subject.
func (i *TokenIssuer) Issue(req TokenRequest) (string, error) {
	if strings.TrimSpace(req.Subject) == "" {
		return "", errors.New("subject must not be empty")
	}

	ttl := req.TTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	now := i.now()
	claims := jwt.RegisteredClaims{
		Subject:   req.Subject,
		Issuer:    req.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if req.Audience != "" {
		claims.Audience = jwt.ClaimStrings{req.Audience}
	}

	privateKey, err := i.privateKeyFetcher.FetchPrivateKey()
	if err != nil {
		return "", fmt.Errorf("fetch private key: %w", err)
	}

	return jwt.NewWithClaims(jwt.SigningMethodRS512, claims).SignedString(privateKey)
}
