package auth

import (
	"crypto/sha256"

	"golang.org/x/crypto/bcrypt"
)

// Interface to create or compare user password hashes
type PasswordHasher interface {
	// Generate Hash from password
	Hash(password string) (string, error)

	// Compare known hashedPassword and user provided password
	// Must be protected against timing attacks
	Compare(hashedPassword string, password string) error
}

var DefaultHasher PasswordHasher = BcryptHasher{}

// Bcrypt password hasher
// Password is pre-hashed with sha256, so bcrypt 72 bytes limit doesn't cut long passwords
type BcryptHasher struct {
	Cost int // bcrypt.DefaultCost if zero
}

func (h BcryptHasher) Hash(password string) (string, error) {
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}

	sum := sha256.Sum256([]byte(password))
	hash, err := bcrypt.GenerateFromPassword(sum[:], cost)
	return string(hash), err
}

func (h BcryptHasher) Compare(hashedPassword string, password string) error {
	sum := sha256.Sum256([]byte(password))
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), sum[:])
}
