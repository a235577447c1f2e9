// Package memory keeps users and refresh tokens in process memory.
// Used by tests and for running the server without postgres.
package memory

import (
	"context"
	"maps"
	"sync"

	"github.com/google/uuid"

	"github.com/wkinMe/geo-accounting-project-sub001/internal/models"
	"github.com/wkinMe/geo-accounting-project-sub001/internal/repository"
)

type state struct {
	users     map[uuid.UUID]models.User
	usernames map[string]uuid.UUID
	tokens    map[uuid.UUID]models.RefreshToken
	hashes    map[string]uuid.UUID
}

func (s *state) clone() *state {
	return &state{
		users:     maps.Clone(s.users),
		usernames: maps.Clone(s.usernames),
		tokens:    maps.Clone(s.tokens),
		hashes:    maps.Clone(s.hashes),
	}
}

type store struct {
	mu   sync.Mutex // guards data
	txMu sync.Mutex // held by open transaction and by every call made outside of it
	data *state
}

// Lock data for one repo call. Calls outside a transaction wait until the open
// one is committed or rolled back, so rollback never loses their writes.
func (s *store) lock(inTx bool) func() {
	if !inTx {
		s.txMu.Lock()
	}
	s.mu.Lock()

	return func() {
		s.mu.Unlock()
		if !inTx {
			s.txMu.Unlock()
		}
	}
}

type Storage struct {
	s    *store
	inTx bool
}

func NewStorage() *Storage {
	return &Storage{
		s: &store{
			data: &state{
				users:     make(map[uuid.UUID]models.User),
				usernames: make(map[string]uuid.UUID),
				tokens:    make(map[uuid.UUID]models.RefreshToken),
				hashes:    make(map[string]uuid.UUID),
			},
		},
	}
}

func (s *Storage) User() repository.UserRepo {
	return &UserRepo{s: s.s, inTx: s.inTx}
}

func (s *Storage) Refresh() repository.RefreshTokenRepo {
	return &RefreshTokenRepo{s: s.s, inTx: s.inTx}
}

// Transactions are serialized with each other and with calls made outside of them,
// that gives the same guarantee as row locks in postgres.
// On error state is restored from snapshot taken at the beginning.
// Nested call runs inside the outer transaction.
func (s *Storage) InTx(ctx context.Context, fn func(repository.Storage) error) (err error) {
	if s.inTx {
		return fn(s)
	}

	s.s.txMu.Lock()
	defer s.s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.s.mu.Lock()
	snapshot := s.s.data.clone()
	s.s.mu.Unlock()

	rollback := func() {
		s.s.mu.Lock()
		s.s.data = snapshot
		s.s.mu.Unlock()
	}

	defer func() {
		if p := recover(); p != nil {
			rollback()
			panic(p)
		}
	}()

	err = fn(&Storage{s: s.s, inTx: true})
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		rollback()
	}

	return err
}
