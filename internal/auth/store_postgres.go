package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

// PostgresAccountStore works with either the lib/pq or the pgx stdlib
// driver; the accounts table is created by the migrations package.
type PostgresAccountStore struct {
	db *sql.DB
}

func NewPostgresAccountStore(db *sql.DB) (*PostgresAccountStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	return &PostgresAccountStore{db: db}, nil
}

const accountColumns = `id, email, password_hash, firstname, lastname, role, created_at`

func (s *PostgresAccountStore) Create(ctx context.Context, a Account) (Account, error) {
	if a.Email == "" || a.PasswordHash == "" {
		return Account{}, fmt.Errorf("email and password hash are required")
	}
	const q = `
INSERT INTO accounts (email, password_hash, firstname, lastname, role, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id`
	err := s.db.QueryRowContext(ctx, q, a.Email, a.PasswordHash, a.FirstName, a.LastName, string(a.Role), a.CreatedAt).Scan(&a.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return Account{}, ErrDuplicateEmail
		}
		return Account{}, fmt.Errorf("insert account: %w", err)
	}
	return a, nil
}

func (s *PostgresAccountStore) GetByEmail(ctx context.Context, email string) (Account, error) {
	if email == "" {
		return Account{}, ErrAccountNotFound
	}
	q := `SELECT ` + accountColumns + ` FROM accounts WHERE email = $1`
	return s.scanOne(s.db.QueryRowContext(ctx, q, email))
}

func (s *PostgresAccountStore) GetByID(ctx context.Context, id int64) (Account, error) {
	q := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return s.scanOne(s.db.QueryRowContext(ctx, q, id))
}

func (s *PostgresAccountStore) List(ctx context.Context) ([]Account, error) {
	q := `SELECT ` + accountColumns + ` FROM accounts ORDER BY created_at DESC, id DESC`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	out := make([]Account, 0)
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	return out, nil
}

func (s *PostgresAccountStore) UpdateRole(ctx context.Context, id int64, role Role) error {
	res, err := s.db.ExecContext(ctx, `UPDATE accounts SET role = $1 WHERE id = $2`, string(role), id)
	if err != nil {
		return fmt.Errorf("update account role: %w", err)
	}
	return expectOneRow(res)
}

func (s *PostgresAccountStore) UpdatePasswordHash(ctx context.Context, id int64, hash string) error {
	if hash == "" {
		return fmt.Errorf("password hash is required")
	}
	res, err := s.db.ExecContext(ctx, `UPDATE accounts SET password_hash = $1 WHERE id = $2`, hash, id)
	if err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}
	return expectOneRow(res)
}

// DeleteWithRole guards the delete with the role the caller checked, so a
// concurrent role change makes it match nothing.
func (s *PostgresAccountStore) DeleteWithRole(ctx context.Context, id int64, role Role) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = $1 AND role = $2`, id, string(role))
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check account: %w", err)
	}
	if exists {
		return ErrRoleChanged
	}
	return ErrAccountNotFound
}

func (s *PostgresAccountStore) scanOne(row *sql.Row) (Account, error) {
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, err
	}
	return a, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(r rowScanner) (Account, error) {
	var a Account
	var role string
	if err := r.Scan(&a.ID, &a.Email, &a.PasswordHash, &a.FirstName, &a.LastName, &role, &a.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, err
		}
		return Account{}, fmt.Errorf("scan account: %w", err)
	}
	a.Role = Role(role)
	return a, nil
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == uniqueViolation
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	return false
}
