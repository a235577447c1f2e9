package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wkinMe/geo-accounting-project-sub001/internal/apperrors"
	"github.com/wkinMe/geo-accounting-project-sub001/internal/models"
)

type UserRepo struct {
	DB DBTX
}

const createUser = `-- name: CreateUser
INSERT INTO users (id, username, password_hash, is_admin)
VALUES ($1, $2, $3, $4)
RETURNING id, created_at, username, password_hash, is_admin
`

func (r *UserRepo) CreateUser(ctx context.Context, username string, hashedPassword string, isAdmin bool) (models.User, error) {
	rows, _ := r.DB.Query(ctx, createUser, uuid.New(), username, hashedPassword, isAdmin)
	user, err := pgx.CollectOneRow(rows, rowToUser)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return user, fmt.Errorf("repo error: %w", apperrors.ErrUserAlreadyExists)
		}

		return user, fmt.Errorf("db error: %w", err)
	}

	return user, nil
}

const getUserByID = `-- name: GetUserByID
SELECT id, created_at, username, password_hash, is_admin
FROM users
WHERE id = $1
`

func (r *UserRepo) GetUserByID(ctx context.Context, id uuid.UUID) (models.User, error) {
	rows, _ := r.DB.Query(ctx, getUserByID, id)
	return collectUser(rows)
}

const getUserByUsername = `-- name: GetUserByUsername
SELECT id, created_at, username, password_hash, is_admin
FROM users
WHERE username = $1
`

func (r *UserRepo) GetUserByUsername(ctx context.Context, username string) (models.User, error) {
	rows, _ := r.DB.Query(ctx, getUserByUsername, username)
	return collectUser(rows)
}

func collectUser(rows pgx.Rows) (models.User, error) {
	user, err := pgx.CollectOneRow(rows, rowToUser)

	switch {
	case err == nil:
		return user, nil
	case errors.Is(err, pgx.ErrNoRows):
		return user, fmt.Errorf("repo error: %w", apperrors.ErrUserNotFound)
	default:
		return user, fmt.Errorf("db error: %w", err)
	}
}

func rowToUser(row pgx.CollectableRow) (models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.CreatedAt, &u.Username, &u.HashedPassword, &u.IsAdmin)
	return u, err
}
