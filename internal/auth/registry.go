package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// SessionRegistry holds at most one live session per account. Create must
// be atomic with respect to concurrent logins for the same account.
type SessionRegistry interface {
	Create(ctx context.Context, s Session) error
	Get(ctx context.Context, tokenHash string) (Session, error)
	Delete(ctx context.Context, tokenHash string) error
	DeleteByAccount(ctx context.Context, accountID int64) error
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

type InMemorySessionRegistry struct {
	nowFunc func() time.Time

	mu        sync.Mutex
	byToken   map[string]Session
	byAccount map[int64]string
}

func NewInMemorySessionRegistry() *InMemorySessionRegistry {
	return &InMemorySessionRegistry{
		nowFunc:   time.Now,
		byToken:   make(map[string]Session),
		byAccount: make(map[int64]string),
	}
}

func (r *InMemorySessionRegistry) Create(_ context.Context, s Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byAccount[s.AccountID]; ok {
		if !r.expiredLocked(existing) {
			return ErrSessionAlreadyActive
		}
		r.removeLocked(existing)
	}
	r.byToken[s.TokenHash] = s
	r.byAccount[s.AccountID] = s.TokenHash
	return nil
}

func (r *InMemorySessionRegistry) Get(_ context.Context, tokenHash string) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byToken[tokenHash]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	if r.expiredLocked(tokenHash) {
		r.removeLocked(tokenHash)
		return Session{}, ErrSessionNotFound
	}
	return s, nil
}

func (r *InMemorySessionRegistry) Delete(_ context.Context, tokenHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byToken[tokenHash]; !ok {
		return ErrSessionNotFound
	}
	r.removeLocked(tokenHash)
	return nil
}

func (r *InMemorySessionRegistry) DeleteByAccount(_ context.Context, accountID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if tokenHash, ok := r.byAccount[accountID]; ok {
		r.removeLocked(tokenHash)
	}
	return nil
}

func (r *InMemorySessionRegistry) expiredLocked(tokenHash string) bool {
	s, ok := r.byToken[tokenHash]
	return !ok || !r.nowFunc().Before(s.ExpiresAt)
}

func (r *InMemorySessionRegistry) removeLocked(tokenHash string) {
	if s, ok := r.byToken[tokenHash]; ok {
		delete(r.byAccount, s.AccountID)
	}
	delete(r.byToken, tokenHash)
}
