package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/wkinMe/geo-accounting-project-sub001/internal/models"
)

// User repository interface
type UserRepo interface {
	// Create user
	// If user with username exists already has to return error apperrors.ErrUserAlreadyExists
	CreateUser(ctx context.Context, username string, hashedPassword string, isAdmin bool) (models.User, error)

	// Get user by it's id or username
	// If user not found must return apperrors.ErrUserNotFound
	GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error)
	GetUserByUsername(ctx context.Context, username string) (models.User, error)
}

// RefreshToken repository interface
// Tokens are addressed by the hash of the opaque value, never by the value itself
type RefreshTokenRepo interface {
	// Save new token
	Save(ctx context.Context, token models.RefreshToken) (models.RefreshToken, error)

	// Return token even if it expired or revoked
	// Row is locked until the current transaction ends, so concurrent refreshes are serialized
	// If not found must return apperrors.ErrRefreshTokenNotFound
	GetForUpdate(ctx context.Context, tokenHash string) (models.RefreshToken, error)

	// Mark token revoked. Must not overwrite 'revokedAt' of already revoked token
	MarkRevoked(ctx context.Context, tokenID uuid.UUID) error

	// Revoke token by hash. Idempotent: unknown or revoked token is not an error
	RevokeByHash(ctx context.Context, tokenHash string) error

	// Revoke every active token of the user. Returns number of revoked tokens
	RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int64, error)

	// Delete tokens expired before the moment. Returns number of deleted tokens
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

type Storage interface {
	User() UserRepo
	Refresh() RefreshTokenRepo

	// Run fn in transaction: commit if fn returns nil, rollback otherwise
	// Storage passed to fn must be used for every call inside the transaction
	InTx(ctx context.Context, fn func(Storage) error) error
}
