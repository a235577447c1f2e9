package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/wkinMe/geo-accounting-project-sub001/internal/apperrors"
	"github.com/wkinMe/geo-accounting-project-sub001/internal/handlers/render"
	"github.com/wkinMe/geo-accounting-project-sub001/internal/handlers/userctx"
	"github.com/wkinMe/geo-accounting-project-sub001/internal/logger"
	"github.com/wkinMe/geo-accounting-project-sub001/internal/models"
)

type credentialsRequest struct {
	Login    string `json:"login" validate:"required,min=2,max=50"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenResponse struct {
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

func newTokenResponse(pair models.TokenPair) tokenResponse {
	return tokenResponse{
		AccessToken:      pair.Access.Value,
		AccessExpiresAt:  pair.Access.ExpiresAt,
		RefreshToken:     pair.Refresh.Value,
		RefreshExpiresAt: pair.Refresh.ExpiresAt,
	}
}

func handleRegister(s authService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[credentialsRequest](w, r)
		if err != nil {
			return
		}

		pair, err := s.Register(r.Context(), data.Login, data.Password)
		if err != nil {
			writeError(w, r, l, err)
			return
		}

		s.SetTokenPairToResponse(w, pair)
		render.Data(w, newTokenResponse(pair), "User registered successfully")
	})
}

func handleLogin(s authService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		type loginRequest struct {
			Login    string `json:"login" validate:"required"`
			Password string `json:"password" validate:"required"`
		}

		data, err := render.BindAndValidate[loginRequest](w, r)
		if err != nil {
			return
		}

		pair, err := s.Login(r.Context(), data.Login, data.Password)
		if err != nil {
			writeError(w, r, l, err)
			return
		}

		s.SetTokenPairToResponse(w, pair)
		render.Data(w, newTokenResponse(pair), "User logged in successfully")
	})
}

func handleTokenRefresh(s authService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refresh, err := readRefreshToken(s, r)
		if err != nil {
			render.DecodeError(w, err)
			return
		}
		if refresh == "" {
			writeError(w, r, l, apperrors.ErrUnauthorized)
			return
		}

		pair, err := s.Refresh(r.Context(), refresh)
		if err != nil {
			if apperrors.IsAuthError(err) {
				s.ClearRefreshCookie(w)
			}
			writeError(w, r, l, err)
			return
		}

		s.SetTokenPairToResponse(w, pair)
		render.Data(w, newTokenResponse(pair), "Tokens refreshed successfully")
	})
}

func handleLogout(s authService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refresh, err := readRefreshToken(s, r)
		if err != nil {
			render.DecodeError(w, err)
			return
		}

		if err := s.Logout(r.Context(), refresh); err != nil {
			writeError(w, r, l, err)
			return
		}

		s.ClearRefreshCookie(w)
		render.Data(w, nil, "User logged out successfully")
	})
}

func handleLogoutAll(s authService, l logger.Logger) http.Handler {
	type response struct {
		Revoked int64 `json:"revoked"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := userctx.FromContext(r.Context())
		if !ok {
			writeError(w, r, l, apperrors.ErrUnauthorized)
			return
		}

		revoked, err := s.LogoutAll(r.Context(), id.UserID)
		if err != nil {
			writeError(w, r, l, err)
			return
		}

		s.ClearRefreshCookie(w)
		render.Data(w, response{Revoked: revoked}, "User logged out everywhere")
	})
}

// Refresh token is read from the cookie first, then from json body
// Returns empty string if request carries no token
func readRefreshToken(s authService, r *http.Request) (string, error) {
	if refresh, err := s.GetRefreshString(r); err == nil {
		return refresh, nil
	}

	if r.Body == nil || r.Body == http.NoBody {
		return "", nil
	}

	var body refreshRequest
	err := json.NewDecoder(r.Body).Decode(&body)
	switch {
	case errors.Is(err, io.EOF):
		return "", nil
	case err != nil:
		return "", err
	}

	return body.RefreshToken, nil
}
