package handlers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/wkinMe/geo-accounting-project-sub001/internal/apperrors"
	"github.com/wkinMe/geo-accounting-project-sub001/internal/handlers/render"
	"github.com/wkinMe/geo-accounting-project-sub001/internal/handlers/userctx"
	"github.com/wkinMe/geo-accounting-project-sub001/internal/logger"
)

func handleUserMe(s userService, l logger.Logger) http.Handler {
	type response struct {
		ID        uuid.UUID `json:"id"`
		Username  string    `json:"username"`
		IsAdmin   bool      `json:"is_admin"`
		CreatedAt time.Time `json:"created_at"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := userctx.FromContext(r.Context())
		if !ok {
			writeError(w, r, l, apperrors.ErrUnauthorized)
			return
		}

		user, err := s.GetUser(r.Context(), id.UserID)
		if err != nil {
			writeError(w, r, l, err)
			return
		}

		render.Data(w, response{
			ID:        user.ID,
			Username:  user.Username,
			IsAdmin:   user.IsAdmin,
			CreatedAt: user.CreatedAt,
		}, "User found")
	})
}

func handleHealth() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, map[string]string{"status": "ok"})
	})
}
