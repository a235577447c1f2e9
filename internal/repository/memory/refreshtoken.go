package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wkinMe/geo-accounting-project-sub001/internal/apperrors"
	"github.com/wkinMe/geo-accounting-project-sub001/internal/models"
)

var errDuplicatedHash = errors.New("refresh token hash already exists")

type RefreshTokenRepo struct {
	s    *store
	inTx bool
}

func (r *RefreshTokenRepo) Save(ctx context.Context, token models.RefreshToken) (models.RefreshToken, error) {
	defer r.s.lock(r.inTx)()

	if _, ok := r.s.data.hashes[token.TokenHash]; ok {
		return models.RefreshToken{}, fmt.Errorf("db error: %w", errDuplicatedHash)
	}

	r.s.data.tokens[token.ID] = token
	r.s.data.hashes[token.TokenHash] = token.ID

	return token, nil
}

// Lock is not needed: transactions are serialized by the storage
func (r *RefreshTokenRepo) GetForUpdate(ctx context.Context, tokenHash string) (models.RefreshToken, error) {
	defer r.s.lock(r.inTx)()

	id, ok := r.s.data.hashes[tokenHash]
	if !ok {
		return models.RefreshToken{}, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	}
	return r.s.data.tokens[id], nil
}

func (r *RefreshTokenRepo) MarkRevoked(ctx context.Context, tokenID uuid.UUID) error {
	defer r.s.lock(r.inTx)()

	token, ok := r.s.data.tokens[tokenID]
	if !ok {
		return fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	}

	r.revoke(token, time.Now())
	return nil
}

func (r *RefreshTokenRepo) RevokeByHash(ctx context.Context, tokenHash string) error {
	defer r.s.lock(r.inTx)()

	if id, ok := r.s.data.hashes[tokenHash]; ok {
		r.revoke(r.s.data.tokens[id], time.Now())
	}
	return nil
}

func (r *RefreshTokenRepo) RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	defer r.s.lock(r.inTx)()

	var count int64
	now := time.Now()
	for _, token := range r.s.data.tokens {
		if token.UserID == userID && r.revoke(token, now) {
			count++
		}
	}
	return count, nil
}

func (r *RefreshTokenRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	defer r.s.lock(r.inTx)()

	var count int64
	for id, token := range r.s.data.tokens {
		if token.ExpiresAt.Before(before) {
			delete(r.s.data.tokens, id)
			delete(r.s.data.hashes, token.TokenHash)
			count++
		}
	}
	return count, nil
}

// Caller must hold the lock. Reports whether token changed
func (r *RefreshTokenRepo) revoke(token models.RefreshToken, now time.Time) bool {
	if token.IsRevoked {
		return false
	}

	token.IsRevoked = true
	token.RevokedAt = &now
	r.s.data.tokens[token.ID] = token
	return true
}
