package middleware

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/wkinMe/geo-accounting-project-sub001/internal/apperrors"
	"github.com/wkinMe/geo-accounting-project-sub001/internal/handlers/userctx"
	"github.com/wkinMe/geo-accounting-project-sub001/internal/models"
)

// Allow to use a function as token verifier
type verifierFunc func(ctx context.Context, token string) (models.Identity, error)

func (f verifierFunc) VerifyAccess(ctx context.Context, token string) (models.Identity, error) {
	return f(ctx, token)
}

func TestAuthMiddleware_Auth(t *testing.T) {
	userID := uuid.New()

	// Simple handler that try to get identity from context
	// If ok write user id to response
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Must always be true cause middleware has to set identity or write error to response
		id, ok := userctx.FromContext(r.Context())
		require.True(t, ok)

		w.WriteHeader(http.StatusOK)
		_, err := w.Write([]byte(id.UserID.String()))
		require.NoError(t, err, "should write user id to response")
	})

	do := func(t *testing.T, m *AuthMiddleware, header string) (int, string) {
		srv := httptest.NewServer(m.Auth(handler))
		defer srv.Close()

		req, err := http.NewRequest(http.MethodGet, srv.URL+"/test", nil)
		require.NoError(t, err)
		if header != "" {
			req.Header.Set("Authorization", header)
		}

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err, "should make request to test server")
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err, "should read response body")
		defer resp.Body.Close() // nolint:errcheck

		return resp.StatusCode, string(body)
	}

	t.Run("auth ok", func(t *testing.T) {
		var got string
		m := NewAuth(verifierFunc(func(ctx context.Context, token string) (models.Identity, error) {
			got = token
			return models.Identity{UserID: userID}, nil
		}))

		code, body := do(t, m, "Bearer access-token")

		require.Equalf(t, http.StatusOK, code, "should return status OK. Resp: %s", body)
		require.Equal(t, userID.String(), body, "should return user id in response")
		require.Equal(t, "access-token", got, "verifier should get token without scheme")
	})

	t.Run("scheme is case insensitive", func(t *testing.T) {
		m := NewAuth(verifierFunc(func(ctx context.Context, token string) (models.Identity, error) {
			return models.Identity{UserID: userID}, nil
		}))

		code, _ := do(t, m, "bearer access-token")

		require.Equal(t, http.StatusOK, code)
	})

	t.Run("missing credential", func(t *testing.T) {
		headers := []string{"", "Bearer", "Bearer ", "Basic dXNlcjpwd2Q=", "access-token"}

		for _, header := range headers {
			t.Run(header, func(t *testing.T) {
				called := false
				m := NewAuth(verifierFunc(func(ctx context.Context, token string) (models.Identity, error) {
					called = true
					return models.Identity{}, nil
				}))

				code, body := do(t, m, header)

				require.Equalf(t, http.StatusUnauthorized, code, "should return status Unauthorized. Resp: %s", body)
				require.JSONEq(t, `{"error": "unauthorized", "message": "Missing credential"}`, body)
				require.False(t, called, "verifier must not be called without credential")
			})
		}
	})

	t.Run("invalid or expired token", func(t *testing.T) {
		for _, verifyErr := range []error{apperrors.ErrTokenInvalid, apperrors.ErrTokenExpired, errors.New("signature mismatch")} {
			m := NewAuth(verifierFunc(func(ctx context.Context, token string) (models.Identity, error) {
				return models.Identity{}, verifyErr
			}))

			code, body := do(t, m, "Bearer bad-token")

			require.Equalf(t, http.StatusUnauthorized, code, "should return status Unauthorized. Resp: %s", body)
			require.JSONEq(t, `{"error": "unauthorized", "message": "Invalid or expired token"}`, body)
			require.NotContains(t, body, verifyErr.Error(), "internal details must not leak")
		}
	})
}
