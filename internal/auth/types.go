package auth

import (
	"fmt"
	"strings"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAdmin     Role = "admin"
	RoleSuperuser Role = "superuser"
)

func ParseRole(s string) (Role, error) {
	switch Role(strings.TrimSpace(s)) {
	case RoleUser:
		return RoleUser, nil
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleSuperuser:
		return RoleSuperuser, nil
	}
	return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, s)
}

func (r Role) Valid() bool {
	_, err := ParseRole(string(r))
	return err == nil
}

type Account struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	FirstName    string    `json:"firstname"`
	LastName     string    `json:"lastname"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

// Session is a server-side login record. Only the SHA-256 of the cookie
// token is kept.
type Session struct {
	ID        string
	TokenHash string
	AccountID int64
	Role      Role
	CreatedAt time.Time
	ExpiresAt time.Time
}

type Mode string

const (
	ModeToken   Mode = "token"
	ModeSession Mode = "session"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeToken:
		return ModeToken, nil
	case ModeSession:
		return ModeSession, nil
	}
	return "", fmt.Errorf("unknown auth mode %q", s)
}

// Principal is the identity resolved from a request credential. Role is
// always the account's current role, read from the store.
type Principal struct {
	AccountID int64  `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
	Role      Role   `json:"role"`
	SessionID string `json:"-"`
	Mode      Mode   `json:"-"`
}

// Issued is the artifact handed to the client after a successful login.
type Issued struct {
	Mode       Mode
	Credential string
	SessionID  string
	ExpiresAt  time.Time
}

// Subject is what a strategy recovers from a credential before the account
// is re-read.
type Subject struct {
	AccountID int64
	Email     string
	SessionID string
}

type LoginResult struct {
	Principal Principal
	Issued    Issued
}

type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}
