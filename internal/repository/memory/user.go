package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wkinMe/geo-accounting-project-sub001/internal/apperrors"
	"github.com/wkinMe/geo-accounting-project-sub001/internal/models"
)

type UserRepo struct {
	s    *store
	inTx bool
}

func (r *UserRepo) CreateUser(ctx context.Context, username string, hashedPassword string, isAdmin bool) (models.User, error) {
	defer r.s.lock(r.inTx)()

	if _, ok := r.s.data.usernames[username]; ok {
		return models.User{}, fmt.Errorf("repo error: %w", apperrors.ErrUserAlreadyExists)
	}

	user := models.User{
		ID:             uuid.New(),
		CreatedAt:      time.Now().UTC(),
		Username:       username,
		HashedPassword: hashedPassword,
		IsAdmin:        isAdmin,
	}
	r.s.data.users[user.ID] = user
	r.s.data.usernames[username] = user.ID

	return user, nil
}

func (r *UserRepo) GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error) {
	defer r.s.lock(r.inTx)()

	user, ok := r.s.data.users[userID]
	if !ok {
		return user, fmt.Errorf("repo error: %w", apperrors.ErrUserNotFound)
	}
	return user, nil
}

func (r *UserRepo) GetUserByUsername(ctx context.Context, username string) (models.User, error) {
	defer r.s.lock(r.inTx)()

	id, ok := r.s.data.usernames[username]
	if !ok {
		return models.User{}, fmt.Errorf("repo error: %w", apperrors.ErrUserNotFound)
	}
	return r.s.data.users[id], nil
}
