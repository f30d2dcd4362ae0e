package auth

import "errors"

var (
	ErrInvalidInput         = errors.New("invalid input")
	ErrWeakPassword         = errors.New("weak password")
	ErrDuplicateEmail       = errors.New("email already registered")
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrUnauthenticated      = errors.New("unauthenticated")
	ErrForbidden            = errors.New("forbidden")
	ErrSessionAlreadyActive = errors.New("session already active")
	ErrSessionNotFound      = errors.New("session not found")
	ErrAccountNotFound      = errors.New("account not found")
	ErrRoleChanged          = errors.New("account role changed")
	ErrInvalidToken         = errors.New("invalid token")
)
