package user

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/wkinMe/geo-accounting-project-sub001/internal/apperrors"
	"github.com/wkinMe/geo-accounting-project-sub001/internal/models"
	"github.com/wkinMe/geo-accounting-project-sub001/internal/repository"
	"github.com/wkinMe/geo-accounting-project-sub001/internal/service/auth"
)

type UserService struct {
	hasher   auth.PasswordHasher
	userRepo repository.UserRepo
}

func NewService(hasher auth.PasswordHasher, userRepo repository.UserRepo) *UserService {
	if hasher == nil {
		hasher = auth.DefaultHasher
	}

	return &UserService{
		hasher:   hasher,
		userRepo: userRepo,
	}
}

func (s *UserService) CreateUser(ctx context.Context, username string, password string) (models.User, error) {
	var user models.User
	if password == "" {
		return user, errors.New("password must not be empty")
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return user, fmt.Errorf("can't use this as password, Err: %w", err)
	}

	user, err = s.userRepo.CreateUser(ctx, username, hash, false)
	if err != nil {
		return user, fmt.Errorf("can't create user. Err: %w", err)
	}

	return user, nil
}

// Return user if password matches
// Unknown user and wrong password are both reported as apperrors.ErrUserNotFound
func (s *UserService) Login(ctx context.Context, username string, password string) (models.User, error) {
	user, err := s.userRepo.GetUserByUsername(ctx, username)
	if err != nil {
		return models.User{}, fmt.Errorf("login failed. Err: %w", err)
	}

	if err := s.hasher.Compare(user.HashedPassword, password); err != nil {
		return models.User{}, fmt.Errorf("login failed. Err: %w", apperrors.ErrUserNotFound)
	}

	return user, nil
}

func (s *UserService) GetUser(ctx context.Context, userID uuid.UUID) (models.User, error) {
	user, err := s.userRepo.GetUserByID(ctx, userID)
	if err != nil {
		return user, fmt.Errorf("can't get user. Err: %w", err)
	}
	return user, nil
}
