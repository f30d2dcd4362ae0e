// Package audit is the append-only trail of security-relevant actions.
package audit

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	ActionLogin         = "login"
	ActionLogout        = "logout"
	ActionResetPassword = "reset password"

	MaxQueryLimit = 100
)

func ChangeRoleAction(targetID int64, role string) string {
	return fmt.Sprintf("change role of user %d to %s", targetID, role)
}

func DeleteAction(targetID int64, role string) string {
	return fmt.Sprintf("delete user %d with role %s", targetID, role)
}

// Entry is written once and never updated. Role is the actor's role when
// the action happened; TargetID is zero when the action has no target.
type Entry struct {
	ID        int64     `json:"id"`
	AccountID int64     `json:"user_id"`
	Action    string    `json:"action"`
	Role      string    `json:"role"`
	TargetID  int64     `json:"target_id,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Identity is the account data joined onto entries when they are queried.
type Identity struct {
	Email     string
	FirstName string
	LastName  string
	Role      string
}

type IdentityFunc func(ctx context.Context, accountID int64) (Identity, bool)

type Record struct {
	Entry
	Email       string `json:"email"`
	FirstName   string `json:"firstname"`
	LastName    string `json:"lastname"`
	CurrentRole string `json:"current_role"`
}

type Filter struct {
	AccountID int64
	Name      string
	Email     string
	Action    string
	Start     time.Time
	End       time.Time
	Limit     int
}

func (f Filter) limit() int {
	if f.Limit <= 0 || f.Limit > MaxQueryLimit {
		return MaxQueryLimit
	}
	return f.Limit
}

type Store interface {
	Append(ctx context.Context, e Entry) error
	Query(ctx context.Context, f Filter) ([]Record, error)
}

func (f Filter) matches(r Record) bool {
	if f.AccountID != 0 && r.AccountID != f.AccountID {
		return false
	}
	if f.Action != "" && r.Action != f.Action {
		return false
	}
	if f.Name != "" {
		name := strings.ToLower(f.Name)
		if !strings.Contains(strings.ToLower(r.FirstName), name) && !strings.Contains(strings.ToLower(r.LastName), name) {
			return false
		}
	}
	if f.Email != "" && !strings.Contains(strings.ToLower(r.Email), strings.ToLower(f.Email)) {
		return false
	}
	if !f.Start.IsZero() && r.Timestamp.Before(f.Start) {
		return false
	}
	if !f.End.IsZero() && r.Timestamp.After(f.End) {
		return false
	}
	return true
}

func join(ctx context.Context, lookup IdentityFunc, e Entry) Record {
	rec := Record{Entry: e}
	if lookup == nil {
		return rec
	}
	if id, ok := lookup(ctx, e.AccountID); ok {
		rec.Email = id.Email
		rec.FirstName = id.FirstName
		rec.LastName = id.LastName
		rec.CurrentRole = id.Role
	}
	return rec
}
