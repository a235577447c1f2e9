package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wkinMe/geo-accounting-project-sub001/internal/repository"
)

// Satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Storage struct {
	db DBTX
}

func NewStorage(db DBTX) repository.Storage {
	return &Storage{db: db}
}

func (s *Storage) User() repository.UserRepo {
	return &UserRepo{DB: s.db}
}

func (s *Storage) Refresh() repository.RefreshTokenRepo {
	return &RefreshTokenRepo{DB: s.db}
}

// Begin transaction (or savepoint if storage is bound to transaction already)
func (s *Storage) InTx(ctx context.Context, fn func(repository.Storage) error) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("db tx error: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}

		switch err {
		case nil:
			if err = tx.Commit(ctx); err != nil {
				err = fmt.Errorf("db tx commit error: %w", err)
			}
		default:
			_ = tx.Rollback(ctx)
		}
	}()

	err = fn(NewStorage(tx))

	return err
}
