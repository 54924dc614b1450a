package credentials

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteStore keeps the credential in a single-row SQLite table.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (creating if necessary) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = DefaultDBPath()
	}
	if err := EnsureParentDir(path); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS credentials (
			id            INTEGER PRIMARY KEY CHECK (id = 1),
			access_token  TEXT NOT NULL,
			refresh_token TEXT NOT NULL DEFAULT '',
			token_type    TEXT NOT NULL DEFAULT '',
			scope         TEXT NOT NULL DEFAULT '',
			expires_at    INTEGER NOT NULL,
			updated_at    INTEGER NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating credentials table: %w", err)
	}

	return &SQLiteStore{db: db, path: path}, nil
}

func (s *SQLiteStore) Load(ctx context.Context) (*Credential, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT access_token, refresh_token, token_type, scope, expires_at
		FROM credentials WHERE id = 1
	`)

	var (
		c         Credential
		expiresAt int64
	)
	err := row.Scan(&c.AccessToken, &c.RefreshToken, &c.TokenType, &c.Scope, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading credential: %w", err)
	}
	c.ExpiresAt = time.UnixMilli(expiresAt)
	return &c, nil
}

func (s *SQLiteStore) Save(ctx context.Context, cred *Credential) error {
	if err := validate(cred); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (id, access_token, refresh_token, token_type, scope, expires_at, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			token_type = excluded.token_type,
			scope = excluded.scope,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`, cred.AccessToken, cred.RefreshToken, cred.TokenType, cred.Scope,
		cred.ExpiresAt.UnixMilli(), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("saving credential: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE id = 1`); err != nil {
		return fmt.Errorf("clearing credential: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}
