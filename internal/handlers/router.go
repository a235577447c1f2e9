package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/wkinMe/geo-accounting-project-sub001/internal/handlers/middleware"
	"github.com/wkinMe/geo-accounting-project-sub001/internal/handlers/render"
	"github.com/wkinMe/geo-accounting-project-sub001/internal/logger"
	"github.com/wkinMe/geo-accounting-project-sub001/internal/models"
)

type RouterConfig struct {
	// Origins allowed to call API from browser. CORS is disabled if empty
	CORSOrigins []string
}

func NewRouter(
	cfg RouterConfig,
	authService authService,
	userService userService,
	verifier tokenVerifier,
	logger logger.Logger,
) http.Handler {
	r := chi.NewRouter()

	r.Use(
		chimw.RequestID,
		middleware.LoggerMiddleware(logger),
		middleware.RecoverMiddleware(logger),
	)

	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type"},
			ExposedHeaders:   []string{"Authorization"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		render.ServiceError(w, "Not found", http.StatusNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		render.ServiceError(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	r.Method(http.MethodGet, "/health", handleHealth())

	gate := middleware.NewAuth(verifier)

	r.Route("/api/user", func(r chi.Router) {
		r.Method(http.MethodPost, "/register", handleRegister(authService, logger))
		r.Method(http.MethodPost, "/login", handleLogin(authService, logger))
		r.Method(http.MethodGet, "/refresh", handleTokenRefresh(authService, logger))
		r.Method(http.MethodPost, "/refresh", handleTokenRefresh(authService, logger))
		r.Method(http.MethodPost, "/logout", handleLogout(authService, logger))

		r.Group(func(r chi.Router) {
			r.Use(gate.Auth)
			r.Method(http.MethodGet, "/me", handleUserMe(userService, logger))
			r.Method(http.MethodPost, "/logout-all", handleLogoutAll(authService, logger))
		})
	})

	return r
}

type authService interface {
	// Register user with username and password
	// Has to return apperrors.ErrUserAlreadyExists if user already exists
	Register(ctx context.Context, username string, password string) (models.TokenPair, error)

	// Login user with username and password
	// Has to return apperrors.ErrUserNotFound if user not found or password is wrong
	Login(ctx context.Context, username string, password string) (models.TokenPair, error)

	// Rotate refresh token and issue new pair
	Refresh(ctx context.Context, refresh string) (models.TokenPair, error)

	// Revoke refresh token. Idempotent
	Logout(ctx context.Context, refresh string) error
	LogoutAll(ctx context.Context, userID uuid.UUID) (int64, error)

	// Set auth tokens (access, refresh) to response
	SetTokenPairToResponse(w http.ResponseWriter, pair models.TokenPair)
	ClearRefreshCookie(w http.ResponseWriter)

	// Get refresh token from request cookie
	GetRefreshString(r *http.Request) (string, error)
}

type userService interface {
	GetUser(ctx context.Context, userID uuid.UUID) (models.User, error)
}

type tokenVerifier interface {
	VerifyAccess(ctx context.Context, token string) (models.Identity, error)
}
