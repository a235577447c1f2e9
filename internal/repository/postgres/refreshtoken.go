package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wkinMe/geo-accounting-project-sub001/internal/apperrors"
	"github.com/wkinMe/geo-accounting-project-sub001/internal/models"
)

type RefreshTokenRepo struct {
	DB DBTX
}

const saveToken = `-- name: SaveRefreshToken
INSERT INTO refresh_tokens (id, user_id, token_hash, issued_at, expires_at, is_revoked, revoked_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id, user_id, token_hash, issued_at, expires_at, is_revoked, revoked_at
`

func (r *RefreshTokenRepo) Save(ctx context.Context, token models.RefreshToken) (models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, saveToken,
		token.ID, token.UserID, token.TokenHash, token.IssuedAt, token.ExpiresAt, token.IsRevoked, token.RevokedAt,
	)
	saved, err := pgx.CollectOneRow(rows, rowToRefreshToken)
	if err != nil {
		return saved, fmt.Errorf("db error: %w", err)
	}
	return saved, nil
}

const getTokenForUpdate = `-- name: GetRefreshTokenForUpdate
SELECT id, user_id, token_hash, issued_at, expires_at, is_revoked, revoked_at
FROM refresh_tokens
WHERE token_hash = $1
FOR UPDATE
`

// Return token even if it expired or revoked
// Lock is held until current transaction ends. Outside of transaction it's released at once
func (r *RefreshTokenRepo) GetForUpdate(ctx context.Context, tokenHash string) (models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, getTokenForUpdate, tokenHash)
	token, err := pgx.CollectOneRow(rows, rowToRefreshToken)

	switch {
	case err == nil:
		return token, nil
	case errors.Is(err, pgx.ErrNoRows):
		return token, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	default:
		return token, fmt.Errorf("db error: %w", err)
	}
}

const markRevoked = `-- name: MarkRefreshTokenRevoked
UPDATE refresh_tokens
SET is_revoked = TRUE, revoked_at = COALESCE(revoked_at, now())
WHERE id = $1
`

func (r *RefreshTokenRepo) MarkRevoked(ctx context.Context, tokenID uuid.UUID) error {
	tag, err := r.DB.Exec(ctx, markRevoked, tokenID)
	switch {
	case err != nil:
		return fmt.Errorf("db error: %w", err)
	case tag.RowsAffected() == 0:
		return fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	default:
		return nil
	}
}

const revokeByHash = `-- name: RevokeRefreshTokenByHash
UPDATE refresh_tokens
SET is_revoked = TRUE, revoked_at = now()
WHERE token_hash = $1 AND NOT is_revoked
`

func (r *RefreshTokenRepo) RevokeByHash(ctx context.Context, tokenHash string) error {
	_, err := r.DB.Exec(ctx, revokeByHash, tokenHash)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

const revokeAllForUser = `-- name: RevokeAllRefreshTokensForUser
UPDATE refresh_tokens
SET is_revoked = TRUE, revoked_at = now()
WHERE user_id = $1 AND NOT is_revoked
`

func (r *RefreshTokenRepo) RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	tag, err := r.DB.Exec(ctx, revokeAllForUser, userID)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}

const deleteExpired = `-- name: DeleteExpiredRefreshTokens
DELETE FROM refresh_tokens
WHERE expires_at < $1
`

func (r *RefreshTokenRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, deleteExpired, before)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}

func rowToRefreshToken(row pgx.CollectableRow) (models.RefreshToken, error) {
	var t models.RefreshToken
	err := row.Scan(&t.ID, &t.UserID, &t.TokenHash, &t.IssuedAt, &t.ExpiresAt, &t.IsRevoked, &t.RevokedAt)
	return t, err
}
