package middlewares

import (
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/CameronXie/payment-lifecycle/internal/enforcer"
	"github.com/CameronXie/payment-lifecycle/internal/logtest"
)

// mockKeyFetcher is a mock implementation of keyfetcher.PublicKeyFetcher
type mockKeyFetcher struct {
	mock.Mock
}

func (m *mockKeyFetcher) FetchPublicKey() (*rsa.PublicKey, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*rsa.PublicKey), args.Error(1)
}

func generateTestKeyPair(t *testing.T) (*rsa.PrivateKey, *rsa.PublicKey) {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return privateKey, &privateKey.PublicKey
}

func createTestToken(t *testing.T, method jwt.SigningMethod, key any, claims *jwt.RegisteredClaims) string {
	t.Helper()

	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func validClaims(subject string) *jwt.RegisteredClaims {
	return &jwt.RegisteredClaims{
		Issuer:    "paylife",
		Subject:   subject,
		Audience:  []string{"checkout"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
}

func TestJWTAuthenticationMiddleware_Handle(t *testing.T) {
	privateKey, publicKey := generateTestKeyPair(t)

	expired := validClaims("alice")
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))

	wrongAudience := validClaims("alice")
	wrongAudience.Audience = []string{"admin-console"}

	testCases := map[string]struct {
		authorization  string
		guestToken     string
		fetchError     error
		expectedStatus int
		expectedActor  enforcer.Actor
		expectedLog    string
		expectedLevel  slog.Level
		expectedBody   string
	}{
		"should authenticate valid token": {
			authorization:  "Bearer " + createTestToken(t, jwt.SigningMethodRS256, privateKey, validClaims("alice")),
			expectedStatus: http.StatusOK,
			expectedActor:  enforcer.Actor{Subject: "alice"},
		},
		"should accept lower case bearer prefix": {
			authorization:  "bearer " + createTestToken(t, jwt.SigningMethodRS512, privateKey, validClaims("alice")),
			expectedStatus: http.StatusOK,
			expectedActor:  enforcer.Actor{Subject: "alice"},
		},
		"should pass guests through with their token": {
			guestToken:     "guest-123",
			expectedStatus: http.StatusOK,
			expectedActor:  enforcer.Actor{GuestToken: "guest-123"},
		},
		"should pass anonymous callers through": {
			expectedStatus: http.StatusOK,
		},
		"should reject malformed header": {
			authorization:  "Token abc",
			expectedStatus: http.StatusUnauthorized,
			expectedLog:    "auth_header_invalid",
			expectedLevel:  slog.LevelWarn,
			expectedBody:   `{"error":"unauthorized","message":"invalid authorization header format"}`,
		},
		"should reject expired token": {
			authorization:  "Bearer " + createTestToken(t, jwt.SigningMethodRS256, privateKey, expired),
			expectedStatus: http.StatusUnauthorized,
			expectedLog:    "auth_token_invalid",
			expectedLevel:  slog.LevelWarn,
			expectedBody:   `{"error":"unauthorized","message":"invalid token"}`,
		},
		"should reject wrong audience": {
			authorization:  "Bearer " + createTestToken(t, jwt.SigningMethodRS256, privateKey, wrongAudience),
			expectedStatus: http.StatusUnauthorized,
			expectedLog:    "auth_token_invalid",
			expectedLevel:  slog.LevelWarn,
			expectedBody:   `{"error":"unauthorized","message":"invalid token"}`,
		},
		"should reject hmac signed token": {
			authorization:  "Bearer " + createTestToken(t, jwt.SigningMethodHS256, []byte("secret"), validClaims("alice")),
			expectedStatus: http.StatusUnauthorized,
			expectedLog:    "auth_token_invalid",
			expectedLevel:  slog.LevelWarn,
			expectedBody:   `{"error":"unauthorized","message":"invalid token"}`,
		},
		"should reject token without subject": {
			authorization:  "Bearer " + createTestToken(t, jwt.SigningMethodRS256, privateKey, validClaims("")),
			expectedStatus: http.StatusUnauthorized,
			expectedLog:    "auth_token_invalid",
			expectedLevel:  slog.LevelWarn,
			expectedBody:   `{"error":"unauthorized","message":"invalid token"}`,
		},
		"should fail when key cannot be fetched": {
			authorization:  "Bearer " + createTestToken(t, jwt.SigningMethodRS256, privateKey, validClaims("alice")),
			fetchError:     errors.New("key is not found"),
			expectedStatus: http.StatusInternalServerError,
			expectedLog:    "auth_key_fetch_failed",
			expectedLevel:  slog.LevelError,
			expectedBody:   `{"error":"internal server error"}`,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			fetcher := new(mockKeyFetcher)
			if tc.fetchError != nil {
				fetcher.On("FetchPublicKey").Return(nil, tc.fetchError)
			} else {
				fetcher.On("FetchPublicKey").Return(publicKey, nil)
			}
			logs := logtest.New()

			m := NewJWTAuthenticationMiddleware(JWTConfig{
				KeyFetcher: fetcher,
				Issuer:     "paylife",
				Audience:   "checkout",
			}, logs.Slog())

			var actor enforcer.Actor
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				actor = ActorFromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/api/orders", http.NoBody)
			if tc.authorization != "" {
				req.Header.Set("Authorization", tc.authorization)
			}
			if tc.guestToken != "" {
				req.Header.Set(GuestTokenHeader, tc.guestToken)
			}
			rr := httptest.NewRecorder()

			m.Handle(next).ServeHTTP(rr, req)

			assert.Equal(t, tc.expectedStatus, rr.Code)
			assert.Equal(t, tc.expectedActor, actor)
			if tc.expectedLog != "" {
				assert.True(t, logs.Has(tc.expectedLevel, tc.expectedLog))
				assert.JSONEq(t, tc.expectedBody, rr.Body.String())
			}
		})
	}
}

func TestNewJWTAuthenticationMiddleware(t *testing.T) {
	testCases := map[string]struct {
		config JWTConfig
		want   time.Duration
	}{
		"should use custom clock skew when provided": {
			config: JWTConfig{ClockSkew: 10 * time.Minute},
			want:   10 * time.Minute,
		},
		"should use default clock skew when not provided": {
			config: JWTConfig{},
			want:   DefaultClockSkewTolerance,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			m := NewJWTAuthenticationMiddleware(tc.config, logtest.New().Slog())
			assert.Equal(t, tc.want, m.clockSkew)
		})
	}
}

func TestActorFromContext_Default(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)

	assert.Equal(t, enforcer.Actor{}, ActorFromContext(req.Context()))
}
