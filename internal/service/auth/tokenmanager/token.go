package tokenmanager

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/wkinMe/geo-accounting-project-sub001/internal/apperrors"
	"github.com/wkinMe/geo-accounting-project-sub001/internal/logger"
	"github.com/wkinMe/geo-accounting-project-sub001/internal/models"
	"github.com/wkinMe/geo-accounting-project-sub001/internal/repository"
)

const (
	defaultAccessTokenTTL  = 15 * time.Minute
	defaultSigningMethod   = "HS256"
	defaultRefreshTokenTTL = 24 * time.Hour

	refreshTokenBytes = 32
)

type AccessTokenClaims struct {
	jwt.RegisteredClaims
	UserID  uuid.UUID `json:"uid"`
	IsAdmin bool      `json:"adm,omitempty"`
}

// Token manager with sensible default
type Config struct {
	// Secret key to sign access token
	// Required to be set
	SecretKey string

	// JWT MAC (Message Authentication Code) algorithm: HS256, HS384 or HS512
	// If not set than default is used
	Alg string

	// Access and refresh token lifetimes
	// If not set than default is used
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// Optional 'iss' claim. If set, tokens of other issuers are rejected
	Issuer string

	Logger logger.Logger
}

type TokenManager struct {
	key        []byte
	alg        jwt.SigningMethod
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration

	storage repository.Storage
	logger  logger.Logger

	// Clock, replaced in tests
	now func() time.Time
}

func New(cfg Config, storage repository.Storage) (*TokenManager, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("secret key must not be empty")
	}

	if cfg.Alg == "" {
		cfg.Alg = defaultSigningMethod
	}
	alg, ok := jwt.GetSigningMethod(cfg.Alg).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("signing method %q is not supported, use one of HS256, HS384, HS512", cfg.Alg)
	}

	setDefaultDuration := func(field *time.Duration, def time.Duration) {
		if *field <= 0 {
			*field = def
		}
	}
	setDefaultDuration(&cfg.AccessTTL, defaultAccessTokenTTL)
	setDefaultDuration(&cfg.RefreshTTL, defaultRefreshTokenTTL)

	if cfg.Logger == nil {
		cfg.Logger = logger.NewNoOpLogger()
	}

	return &TokenManager{
		key:        []byte(cfg.SecretKey),
		alg:        alg,
		issuer:     cfg.Issuer,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		storage:    storage,
		logger:     cfg.Logger.With("component", "tokenmanager"),
		now:        time.Now,
	}, nil
}

// Issue access and refresh token pair for the user
// Refresh token is persisted as its hash
func (m *TokenManager) IssuePair(ctx context.Context, userID uuid.UUID, claims models.Claims) (models.TokenPair, error) {
	return m.issuePair(ctx, m.storage.Refresh(), userID, claims)
}

func (m *TokenManager) issuePair(ctx context.Context, repo repository.RefreshTokenRepo, userID uuid.UUID, claims models.Claims) (models.TokenPair, error) {
	var pair models.TokenPair
	now := m.now().Truncate(time.Second)
	accessExpiresAt := now.Add(m.accessTTL)
	refreshExpiresAt := now.Add(m.refreshTTL)

	accessToken := jwt.NewWithClaims(
		m.alg,
		AccessTokenClaims{
			RegisteredClaims: jwt.RegisteredClaims{
				ID:        uuid.NewString(),
				Issuer:    m.issuer,
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(accessExpiresAt),
			},
			UserID:  userID,
			IsAdmin: claims.IsAdmin,
		},
	)
	access, err := accessToken.SignedString(m.key)
	if err != nil {
		return pair, fmt.Errorf("error while signing access token. Err: %w", err)
	}

	b := make([]byte, refreshTokenBytes)
	_, err = rand.Read(b)
	if err != nil {
		return pair, fmt.Errorf("error while generate refresh token. Err: %w", err)
	}
	refresh := hex.EncodeToString(b)

	_, err = repo.Save(ctx, models.RefreshToken{
		ID:        uuid.New(),
		UserID:    userID,
		TokenHash: hashToken(refresh),
		IssuedAt:  now,
		ExpiresAt: refreshExpiresAt,
	})
	if err != nil {
		return pair, fmt.Errorf("error while saving refresh token. Err: %w", err)
	}

	return models.TokenPair{
		Access:  models.IssuedToken{Value: access, ExpiresAt: accessExpiresAt},
		Refresh: models.IssuedToken{Value: refresh, ExpiresAt: refreshExpiresAt},
	}, nil
}

// Check access token signature and expiry. Store is not touched
// Returns apperrors.ErrTokenExpired if token expired and apperrors.ErrTokenInvalid for any other problem
func (m *TokenManager) VerifyAccess(ctx context.Context, access string) (models.Identity, error) {
	claims := &AccessTokenClaims{}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.alg.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	_, err := jwt.ParseWithClaims(
		access,
		claims,
		func(t *jwt.Token) (any, error) {
			return m.key, nil
		},
		opts...,
	)

	switch {
	case err == nil && claims.UserID == uuid.Nil:
		return models.Identity{}, fmt.Errorf("token has no subject: %w", apperrors.ErrTokenInvalid)
	case err == nil:
		return models.Identity{
			UserID:    claims.UserID,
			IsAdmin:   claims.IsAdmin,
			TokenID:   claims.ID,
			ExpiresAt: claims.ExpiresAt.Time,
		}, nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return models.Identity{}, fmt.Errorf("%w: %v", apperrors.ErrTokenExpired, err)
	default:
		return models.Identity{}, fmt.Errorf("%w: %v", apperrors.ErrTokenInvalid, err)
	}
}

// Rotate refresh token: revoke presented one and issue new pair
//
// Read, check, revoke and create happen in one transaction, so only one of
// concurrent refreshes with the same token succeeds.
// Presenting already revoked token is treated as theft: every token of the owner is revoked.
func (m *TokenManager) Refresh(ctx context.Context, refresh string) (models.TokenPair, error) {
	var (
		pair        models.TokenPair
		reuseUserID uuid.UUID
	)

	err := m.storage.InTx(ctx, func(s repository.Storage) error {
		token, err := s.Refresh().GetForUpdate(ctx, hashToken(refresh))
		if err != nil {
			return err
		}

		switch {
		case token.IsRevoked:
			reuseUserID = token.UserID
			return apperrors.ErrRefreshTokenIsRevoked
		case !m.now().Before(token.ExpiresAt):
			return apperrors.ErrTokenExpired
		}

		if err := s.Refresh().MarkRevoked(ctx, token.ID); err != nil {
			return err
		}

		// Claims are taken from the current user state, not from the old access token
		user, err := s.User().GetUserByID(ctx, token.UserID)
		if err != nil {
			return err
		}

		pair, err = m.issuePair(ctx, s.Refresh(), user.ID, user.Claims())
		return err
	})

	if reuseUserID != uuid.Nil {
		m.revokeFamily(ctx, reuseUserID)
	}

	if err != nil {
		return models.TokenPair{}, fmt.Errorf("refresh failed: %w", err)
	}

	return pair, nil
}

// Must finish even if the request that detected reuse is gone
func (m *TokenManager) revokeFamily(ctx context.Context, userID uuid.UUID) {
	count, err := m.storage.Refresh().RevokeAllForUser(context.WithoutCancel(ctx), userID)
	if err != nil {
		m.logger.Error("Failed to revoke token family", "user_id", userID, "error", err)
		return
	}
	m.logger.Warn("Refresh token reuse detected, token family revoked", "user_id", userID, "revoked", count)
}

// Revoke refresh token (logout). Unknown or already revoked token is not an error
func (m *TokenManager) Revoke(ctx context.Context, refresh string) error {
	if err := m.storage.Refresh().RevokeByHash(ctx, hashToken(refresh)); err != nil {
		return fmt.Errorf("revoke failed: %w", err)
	}
	return nil
}

// Revoke every refresh token of the user (logout everywhere)
func (m *TokenManager) RevokeAll(ctx context.Context, userID uuid.UUID) (int64, error) {
	count, err := m.storage.Refresh().RevokeAllForUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("revoke all failed: %w", err)
	}
	return count, nil
}

// Delete refresh tokens expired more than 'retention' ago
// Recently expired tokens are kept to recognize their reuse
func (m *TokenManager) DeleteExpired(ctx context.Context, retention time.Duration) (int64, error) {
	count, err := m.storage.Refresh().DeleteExpired(ctx, m.now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("delete expired failed: %w", err)
	}
	return count, nil
}

func (m *TokenManager) AccessTTL() time.Duration  { return m.accessTTL }
func (m *TokenManager) RefreshTTL() time.Duration { return m.refreshTTL }

func hashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
