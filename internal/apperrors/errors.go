package apperrors

import (
	"errors"
)

var (
	ErrUserAlreadyExists = errors.New("user already exists")
	ErrUserNotFound      = errors.New("user not found")

	// Access token errors. Verification never distinguishes them on the wire
	ErrTokenInvalid = errors.New("token is invalid")
	ErrTokenExpired = errors.New("token is expired")

	ErrRefreshTokenNotFound  = errors.New("refresh token not found")
	ErrRefreshTokenIsRevoked = errors.New("refresh token is revoked")

	// Generic authentication failure: credential missing or unusable
	ErrUnauthorized = errors.New("unauthorized")

	ErrRateLimited = errors.New("too many attempts")
)

// IsAuthError reports whether err has to be answered with 401
func IsAuthError(err error) bool {
	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrTokenInvalid),
		errors.Is(err, ErrTokenExpired),
		errors.Is(err, ErrRefreshTokenNotFound),
		errors.Is(err, ErrRefreshTokenIsRevoked),
		errors.Is(err, ErrUserNotFound):
		return true
	default:
		return false
	}
}
