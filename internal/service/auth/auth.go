package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wkinMe/geo-accounting-project-sub001/internal/apperrors"
	"github.com/wkinMe/geo-accounting-project-sub001/internal/logger"
	"github.com/wkinMe/geo-accounting-project-sub001/internal/models"
)

const (
	defaultAccessHeaderName  = "Authorization"
	defaultAccessAuthScheme  = "Bearer"
	defaultRefreshCookieName = "refreshtoken"
)

type TokenManager interface {
	IssuePair(ctx context.Context, userID uuid.UUID, claims models.Claims) (models.TokenPair, error)
	Refresh(ctx context.Context, refresh string) (models.TokenPair, error)
	Revoke(ctx context.Context, refresh string) error
	RevokeAll(ctx context.Context, userID uuid.UUID) (int64, error)
	RefreshTTL() time.Duration
}

type UserService interface {
	CreateUser(ctx context.Context, username string, password string) (models.User, error)
	Login(ctx context.Context, username string, password string) (models.User, error)
}

// Login throttling. Errors other than apperrors.ErrRateLimited are treated as limiter failures
type LoginLimiter interface {
	CheckLogin(ctx context.Context, username string) error
	FailedLogin(ctx context.Context, username string) error
	ResetLogin(ctx context.Context, username string) error
}

type Config struct {
	// Header to write access token to. "Authorization" if empty
	AccessHeaderName string

	// Scheme prepended to access token in the header. "Bearer" if empty
	AccessAuthScheme string

	// Cookie to keep refresh token in. "refreshtoken" if empty
	RefreshCookieName string

	// Set 'Secure' attribute on refresh cookie
	CookieSecure bool

	// Optional. Login is not throttled if nil
	Limiter LoginLimiter

	Logger logger.Logger
}

type AuthService struct {
	accessHeaderName  string
	accessAuthScheme  string
	refreshCookieName string
	cookieSecure      bool

	tokens  TokenManager
	users   UserService
	limiter LoginLimiter
	logger  logger.Logger
}

func NewService(cfg Config, tokens TokenManager, users UserService) *AuthService {
	setDefault := func(field *string, def string) {
		if *field == "" {
			*field = def
		}
	}
	setDefault(&cfg.AccessHeaderName, defaultAccessHeaderName)
	setDefault(&cfg.AccessAuthScheme, defaultAccessAuthScheme)
	setDefault(&cfg.RefreshCookieName, defaultRefreshCookieName)

	if cfg.Logger == nil {
		cfg.Logger = logger.NewNoOpLogger()
	}

	return &AuthService{
		accessHeaderName:  cfg.AccessHeaderName,
		accessAuthScheme:  cfg.AccessAuthScheme,
		refreshCookieName: cfg.RefreshCookieName,
		cookieSecure:      cfg.CookieSecure,
		tokens:            tokens,
		users:             users,
		limiter:           cfg.Limiter,
		logger:            cfg.Logger.With("component", "auth"),
	}
}

// Register new user and get login TokenPair
func (s *AuthService) Register(ctx context.Context, username string, password string) (models.TokenPair, error) {
	user, err := s.users.CreateUser(ctx, username, password)
	if err != nil {
		return models.TokenPair{}, err
	}

	pair, err := s.tokens.IssuePair(ctx, user.ID, user.Claims())
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("token could not be issued. Err: %w", err)
	}

	return pair, nil
}

// Login with existed user and get fresh TokenPair
func (s *AuthService) Login(ctx context.Context, username string, password string) (models.TokenPair, error) {
	if err := s.checkLogin(ctx, username); err != nil {
		return models.TokenPair{}, err
	}

	user, err := s.users.Login(ctx, username, password)
	if err != nil {
		if errors.Is(err, apperrors.ErrUserNotFound) {
			s.failedLogin(ctx, username)
		}
		return models.TokenPair{}, err
	}

	s.resetLogin(ctx, username)

	pair, err := s.tokens.IssuePair(ctx, user.ID, user.Claims())
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("token could not be issued. Err: %w", err)
	}

	return pair, nil
}

// Exchange refresh token for a new pair. The presented token is revoked
func (s *AuthService) Refresh(ctx context.Context, refresh string) (models.TokenPair, error) {
	if refresh == "" {
		return models.TokenPair{}, apperrors.ErrUnauthorized
	}
	return s.tokens.Refresh(ctx, refresh)
}

// Revoke refresh token. Empty or unknown tokens are ignored
func (s *AuthService) Logout(ctx context.Context, refresh string) error {
	if refresh == "" {
		return nil
	}
	return s.tokens.Revoke(ctx, refresh)
}

// Revoke every refresh token of the user
func (s *AuthService) LogoutAll(ctx context.Context, userID uuid.UUID) (int64, error) {
	return s.tokens.RevokeAll(ctx, userID)
}

// Write access token to the header and refresh token to HttpOnly cookie
func (s *AuthService) SetTokenPairToResponse(w http.ResponseWriter, pair models.TokenPair) {
	w.Header().Set(s.accessHeaderName, s.accessAuthScheme+" "+pair.Access.Value)

	http.SetCookie(w, &http.Cookie{
		Name:     s.refreshCookieName,
		Value:    pair.Refresh.Value,
		Path:     "/",
		MaxAge:   int(s.tokens.RefreshTTL().Seconds()),
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (s *AuthService) ClearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.refreshCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

// Read refresh token from the request cookie
func (s *AuthService) GetRefreshString(r *http.Request) (string, error) {
	cookie, err := r.Cookie(s.refreshCookieName)
	if err != nil {
		return "", apperrors.ErrUnauthorized
	}

	value := strings.TrimSpace(cookie.Value)
	if value == "" {
		return "", apperrors.ErrUnauthorized
	}

	return value, nil
}

// Limiter failures must not lock users out, so they are logged and ignored
func (s *AuthService) checkLogin(ctx context.Context, username string) error {
	if s.limiter == nil {
		return nil
	}

	err := s.limiter.CheckLogin(ctx, username)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, apperrors.ErrRateLimited):
		s.logger.Info("login throttled", "username", username)
		return err
	default:
		s.logger.Warn("login limiter failed, skip check", "error", err)
		return nil
	}
}

func (s *AuthService) failedLogin(ctx context.Context, username string) {
	if s.limiter == nil {
		return
	}
	if err := s.limiter.FailedLogin(ctx, username); err != nil {
		s.logger.Warn("can't record failed login", "error", err)
	}
}

func (s *AuthService) resetLogin(ctx context.Context, username string) {
	if s.limiter == nil {
		return
	}
	if err := s.limiter.ResetLogin(ctx, username); err != nil {
		s.logger.Warn("can't reset login attempts", "error", err)
	}
}
