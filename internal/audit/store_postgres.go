package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Append(ctx context.Context, e Entry) error {
	const q = `
INSERT INTO audit_entries (account_id, action, role, target_id, detail, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6)`
	target := sql.NullInt64{Int64: e.TargetID, Valid: e.TargetID != 0}
	if _, err := s.db.ExecContext(ctx, q, e.AccountID, e.Action, e.Role, target, e.Detail, e.Timestamp); err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) Query(ctx context.Context, f Filter) ([]Record, error) {
	q, args := buildQuery(f)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0)
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.AccountID, &r.Action, &r.Role, &r.TargetID, &r.Detail, &r.Timestamp,
			&r.Email, &r.FirstName, &r.LastName, &r.CurrentRole); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return out, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern makes an ILIKE pattern that matches v as a literal
// substring, like the in-memory filters do.
func containsPattern(v string) string {
	return "%" + likeEscaper.Replace(v) + "%"
}

func buildQuery(f Filter) (string, []any) {
	var b strings.Builder
	b.WriteString(`SELECT e.id, e.account_id, e.action, e.role, COALESCE(e.target_id, 0), e.detail, e.occurred_at,
	COALESCE(a.email, ''), COALESCE(a.firstname, ''), COALESCE(a.lastname, ''), COALESCE(a.role, '')
FROM audit_entries e
LEFT JOIN accounts a ON a.id = e.account_id`)

	var conds []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if f.AccountID != 0 {
		conds = append(conds, "e.account_id = "+arg(f.AccountID))
	}
	if f.Name != "" {
		p := arg(containsPattern(f.Name))
		conds = append(conds, "(a.firstname ILIKE "+p+` ESCAPE '\' OR a.lastname ILIKE `+p+` ESCAPE '\')`)
	}
	if f.Email != "" {
		conds = append(conds, "a.email ILIKE "+arg(containsPattern(f.Email))+` ESCAPE '\'`)
	}
	if f.Action != "" {
		conds = append(conds, "e.action = "+arg(f.Action))
	}
	if !f.Start.IsZero() {
		conds = append(conds, "e.occurred_at >= "+arg(f.Start))
	}
	if !f.End.IsZero() {
		conds = append(conds, "e.occurred_at <= "+arg(f.End))
	}
	if len(conds) > 0 {
		b.WriteString("\nWHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	b.WriteString("\nORDER BY e.occurred_at DESC, e.id DESC\nLIMIT ")
	b.WriteString(arg(f.limit()))
	return b.String(), args
}
