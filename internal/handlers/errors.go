package handlers

import (
	"errors"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/wkinMe/geo-accounting-project-sub001/internal/apperrors"
	"github.com/wkinMe/geo-accounting-project-sub001/internal/handlers/render"
	"github.com/wkinMe/geo-accounting-project-sub001/internal/logger"
)

const (
	msgUnauthorized      = "Unauthorized"
	msgUserAlreadyExists = "User already exists"
	msgTooManyAttempts   = "Too many attempts"
	msgInternalError     = "Internal server error"
)

// Map service error to http response. The only place where errors are turned into statuses
// Lookups of missing users or tokens are answered with 401, never 404
func writeError(w http.ResponseWriter, r *http.Request, l logger.Logger, err error) {
	switch {
	case apperrors.IsAuthError(err):
		l.Debug("request unauthorized", "request_id", chimw.GetReqID(r.Context()), "error", err)
		render.Unauthorized(w, msgUnauthorized)

	case errors.Is(err, apperrors.ErrUserAlreadyExists):
		render.ServiceError(w, msgUserAlreadyExists, http.StatusConflict)

	case errors.Is(err, apperrors.ErrRateLimited):
		render.ServiceError(w, msgTooManyAttempts, http.StatusTooManyRequests)

	default:
		l.Error("request failed", "request_id", chimw.GetReqID(r.Context()), "uri", r.RequestURI, "error", err)
		render.InternalError(w, msgInternalError)
	}
}
