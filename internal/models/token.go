package models

import (
	"time"

	"github.com/google/uuid"
)

// Persisted refresh token. Only the hash of the opaque value is stored
type RefreshToken struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	TokenHash string
	IssuedAt  time.Time
	ExpiresAt time.Time
	IsRevoked bool
	RevokedAt *time.Time // nil if token not revoked
}

// Token is usable for refresh only if it's not revoked and not expired at 'now'
func (t RefreshToken) IsActive(now time.Time) bool {
	return !t.IsRevoked && now.Before(t.ExpiresAt)
}

type IssuedToken struct {
	Value     string
	ExpiresAt time.Time
}

// Token pair issued by TokenManager, AuthService
type TokenPair struct {
	Access  IssuedToken
	Refresh IssuedToken
}

// Role claims carried by access token
type Claims struct {
	IsAdmin bool
}

// Identity of the caller proven by a valid access token
type Identity struct {
	UserID    uuid.UUID
	IsAdmin   bool
	TokenID   string
	ExpiresAt time.Time
}
