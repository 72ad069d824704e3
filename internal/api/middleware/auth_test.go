package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/phrazzld/pantry-api/internal/api/shared"
	"github.com/phrazzld/pantry-api/internal/service/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockJWTService is a func-field mock of auth.JWTService.
type mockJWTService struct {
	ValidateTokenFn func(ctx context.Context, token string) (*auth.Claims, error)
}

func (m *mockJWTService) GenerateToken(context.Context, string) (string, error) {
	return "", errors.New("not implemented")
}

func (m *mockJWTService) ValidateToken(ctx context.Context, token string) (*auth.Claims, error) {
	return m.ValidateTokenFn(ctx, token)
}

func TestAuthMiddleware_Authenticate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		authHeader     string
		validateErr    error
		claims         *auth.Claims
		expectedStatus int
		expectedToken  string
		expectedUserID string
	}{
		{
			name:           "valid token",
			authHeader:     "Bearer valid-token",
			claims:         &auth.Claims{UserID: "user-1"},
			expectedStatus: http.StatusOK,
			expectedToken:  "valid-token",
			expectedUserID: "user-1",
		},
		{
			name:           "scheme is case-insensitive",
			authHeader:     "bearer valid-token",
			claims:         &auth.Claims{UserID: "user-1"},
			expectedStatus: http.StatusOK,
			expectedToken:  "valid-token",
			expectedUserID: "user-1",
		},
		{
			name:           "missing auth header",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "invalid auth format",
			authHeader:     "InvalidFormat",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "wrong scheme",
			authHeader:     "Basic dXNlcjpwYXNz",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "empty token",
			authHeader:     "Bearer  ",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "expired token",
			authHeader:     "Bearer expired-token",
			validateErr:    auth.ErrExpiredToken,
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "invalid token",
			authHeader:     "Bearer invalid-token",
			validateErr:    auth.ErrInvalidToken,
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "unexpected validation failure",
			authHeader:     "Bearer some-token",
			validateErr:    errors.New("keystore unavailable"),
			expectedStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var gotToken string
			jwtService := &mockJWTService{
				ValidateTokenFn: func(_ context.Context, token string) (*auth.Claims, error) {
					gotToken = token
					return tt.claims, tt.validateErr
				},
			}
			middleware := NewAuthMiddleware(jwtService)

			var capturedUserID string
			nextHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				userID, ok := GetUserID(r)
				if ok {
					capturedUserID = userID
				}
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/protected", nil)
			if tt.authHeader != "" {
				req.Header.Add("Authorization", tt.authHeader)
			}
			recorder := httptest.NewRecorder()

			middleware.Authenticate(nextHandler).ServeHTTP(recorder, req)

			assert.Equal(t, tt.expectedStatus, recorder.Code)
			if tt.expectedStatus == http.StatusOK {
				assert.Equal(t, tt.expectedToken, gotToken)
				assert.Equal(t, tt.expectedUserID, capturedUserID)
			} else {
				assert.Empty(t, capturedUserID)
			}
		})
	}
}

func TestGetUserID(t *testing.T) {
	t.Parallel()

	t.Run("context with user ID", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(shared.WithUserID(req.Context(), "user-9"))

		userID, ok := GetUserID(req)
		assert.True(t, ok)
		assert.Equal(t, "user-9", userID)
	})

	t.Run("context without user ID", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest(http.MethodGet, "/", nil)

		userID, ok := GetUserID(req)
		assert.False(t, ok)
		assert.Empty(t, userID)
	})
}

func TestTraceMiddleware(t *testing.T) {
	t.Parallel()

	var traceID string
	handler := NewTraceMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID = shared.GetTraceID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Len(t, traceID, 32)
	assert.Equal(t, traceID, recorder.Header().Get("X-Trace-ID"))
	assert.Equal(t, http.StatusNoContent, recorder.Code)
}
