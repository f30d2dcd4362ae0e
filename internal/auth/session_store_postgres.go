package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PostgresSessionRegistry relies on the UNIQUE(account_id) constraint of
// active_sessions: concurrent logins race on the insert and exactly one
// row wins.
type PostgresSessionRegistry struct {
	db      *sql.DB
	nowFunc func() time.Time
}

func NewPostgresSessionRegistry(db *sql.DB) (*PostgresSessionRegistry, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	return &PostgresSessionRegistry{db: db, nowFunc: time.Now}, nil
}

// Create purges an expired row for the account and inserts the new one in
// a single transaction.
func (r *PostgresSessionRegistry) Create(ctx context.Context, s Session) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin session tx: %w", err)
	}
	// No-op once committed.
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM active_sessions WHERE account_id = $1 AND expires_at <= $2`,
		s.AccountID, r.nowFunc(),
	); err != nil {
		return fmt.Errorf("purge expired session: %w", err)
	}

	const q = `
INSERT INTO active_sessions (token_hash, session_id, account_id, role, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (account_id) DO NOTHING`
	res, err := tx.ExecContext(ctx, q, s.TokenHash, s.ID, s.AccountID, string(s.Role), s.CreatedAt, s.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrSessionAlreadyActive
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit session: %w", err)
	}
	return nil
}

func (r *PostgresSessionRegistry) Get(ctx context.Context, tokenHash string) (Session, error) {
	const q = `
SELECT token_hash, session_id, account_id, role, created_at, expires_at
FROM active_sessions WHERE token_hash = $1`
	var s Session
	var role string
	err := r.db.QueryRowContext(ctx, q, tokenHash).Scan(&s.TokenHash, &s.ID, &s.AccountID, &role, &s.CreatedAt, &s.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrSessionNotFound
		}
		return Session{}, fmt.Errorf("query session: %w", err)
	}
	s.Role = Role(role)

	if !r.nowFunc().Before(s.ExpiresAt) {
		if _, err := r.db.ExecContext(ctx, `DELETE FROM active_sessions WHERE token_hash = $1`, tokenHash); err != nil {
			return Session{}, fmt.Errorf("delete expired session: %w", err)
		}
		return Session{}, ErrSessionNotFound
	}
	return s, nil
}

func (r *PostgresSessionRegistry) Delete(ctx context.Context, tokenHash string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM active_sessions WHERE token_hash = $1`, tokenHash)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (r *PostgresSessionRegistry) DeleteByAccount(ctx context.Context, accountID int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM active_sessions WHERE account_id = $1`, accountID); err != nil {
		return fmt.Errorf("delete account sessions: %w", err)
	}
	return nil
}
