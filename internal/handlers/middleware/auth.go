package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/wkinMe/geo-accounting-project-sub001/internal/handlers/render"
	"github.com/wkinMe/geo-accounting-project-sub001/internal/handlers/userctx"
	"github.com/wkinMe/geo-accounting-project-sub001/internal/models"
)

const (
	authHeaderName = "Authorization"
	authScheme     = "Bearer"

	msgMissingCredential = "Missing credential"
	msgInvalidToken      = "Invalid or expired token"
)

type tokenVerifier interface {
	VerifyAccess(ctx context.Context, token string) (models.Identity, error)
}

// Authentication gate. Only verifies access token signature and expiry, never touches storage
type AuthMiddleware struct {
	verifier tokenVerifier
}

func NewAuth(v tokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{verifier: v}
}

func (m *AuthMiddleware) Auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			render.Unauthorized(w, msgMissingCredential)
			return
		}

		id, err := m.verifier.VerifyAccess(r.Context(), token)
		if err != nil {
			render.Unauthorized(w, msgInvalidToken)
			return
		}

		ctx := userctx.New(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Extract token from 'Authorization: Bearer <token>'. Scheme is case insensitive
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get(authHeaderName)
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, authScheme) {
		return "", false
	}

	token = strings.TrimSpace(token)
	return token, token != ""
}
