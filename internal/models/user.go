package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID             uuid.UUID
	CreatedAt      time.Time
	Username       string
	HashedPassword string
	IsAdmin        bool
}

func (u User) Claims() Claims {
	return Claims{IsAdmin: u.IsAdmin}
}
