package sessionstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/wkinMe/geo-accounting-project-sub001/internal/client"
)

//go:embed migrations/*.sql
var migrations embed.FS

const defaultProfile = "default"

// SQLite backed client.SessionStore. One row per profile
type Store struct {
	db      *sql.DB
	profile string
}

// Open database file (created if missing) and apply migrations
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}

	// Single connection keeps ':memory:' databases alive and writes serialized
	db.SetMaxOpenConns(1)

	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, profile: defaultProfile}, nil
}

func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("migrate session db: %w", err)
	}
	return nil
}

// Store working with another profile in the same database
func (s *Store) WithProfile(profile string) *Store {
	return &Store{db: s.db, profile: profile}
}

func (s *Store) Load(ctx context.Context) (client.Tokens, error) {
	var (
		t                client.Tokens
		accessExpiresAt  sql.NullTime
		refreshExpiresAt sql.NullTime
	)

	err := s.db.QueryRowContext(ctx, `
		SELECT access_token, access_expires_at, refresh_token, refresh_expires_at
		FROM session WHERE profile = ?`, s.profile,
	).Scan(&t.Access, &accessExpiresAt, &t.Refresh, &refreshExpiresAt)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return client.Tokens{}, nil
	case err != nil:
		return client.Tokens{}, fmt.Errorf("failed to load session[%s]: %w", s.profile, err)
	}

	t.AccessExpiresAt = accessExpiresAt.Time
	t.RefreshExpiresAt = refreshExpiresAt.Time
	return t, nil
}

func (s *Store) Save(ctx context.Context, t client.Tokens) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session (profile, access_token, access_expires_at, refresh_token, refresh_expires_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(profile) DO UPDATE SET
			access_token = excluded.access_token,
			access_expires_at = excluded.access_expires_at,
			refresh_token = excluded.refresh_token,
			refresh_expires_at = excluded.refresh_expires_at,
			updated_at = excluded.updated_at
	`, s.profile, t.Access, nullTime(t.AccessExpiresAt), t.Refresh, nullTime(t.RefreshExpiresAt), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save session[%s]: %w", s.profile, err)
	}
	return nil
}

func (s *Store) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM session WHERE profile = ?`, s.profile)
	if err != nil {
		return fmt.Errorf("failed to clear session[%s]: %w", s.profile, err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
