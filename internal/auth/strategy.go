package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Strategy is how a login artifact is issued and later turned back into a
// Subject. One strategy is chosen per deployment.
type Strategy interface {
	Mode() Mode
	Issue(ctx context.Context, a Account) (Issued, error)
	Subject(ctx context.Context, credential string) (Subject, error)
	Revoke(ctx context.Context, credential string) error
}

// TokenStrategy issues stateless signed tokens. There is no server-side
// revocation; logout is a client-side discard.
type TokenStrategy struct {
	signer  *TokenSigner
	nowFunc func() time.Time
}

func NewTokenStrategy(signer *TokenSigner) (*TokenStrategy, error) {
	if signer == nil {
		return nil, fmt.Errorf("token signer is required")
	}
	return &TokenStrategy{signer: signer, nowFunc: time.Now}, nil
}

func (s *TokenStrategy) Mode() Mode { return ModeToken }

func (s *TokenStrategy) Issue(_ context.Context, a Account) (Issued, error) {
	token, exp, err := s.signer.Sign(a.ID, a.Email, s.nowFunc())
	if err != nil {
		return Issued{}, err
	}
	return Issued{Mode: ModeToken, Credential: token, ExpiresAt: exp}, nil
}

func (s *TokenStrategy) Subject(_ context.Context, credential string) (Subject, error) {
	claims, err := s.signer.Verify(credential, s.nowFunc())
	if err != nil {
		return Subject{}, err
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return Subject{}, fmt.Errorf("%w: bad subject", ErrInvalidToken)
	}
	return Subject{AccountID: id, Email: claims.Email}, nil
}

func (s *TokenStrategy) Revoke(context.Context, string) error { return nil }

// SessionStrategy issues opaque tokens backed by a SessionRegistry.
type SessionStrategy struct {
	registry SessionRegistry
	ttl      time.Duration
	nowFunc  func() time.Time
}

func NewSessionStrategy(registry SessionRegistry, ttl time.Duration) (*SessionStrategy, error) {
	if registry == nil {
		return nil, fmt.Errorf("session registry is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("session TTL must be > 0")
	}
	return &SessionStrategy{registry: registry, ttl: ttl, nowFunc: time.Now}, nil
}

func (s *SessionStrategy) Mode() Mode { return ModeSession }

func (s *SessionStrategy) Issue(ctx context.Context, a Account) (Issued, error) {
	token, err := generateToken(32)
	if err != nil {
		return Issued{}, fmt.Errorf("generate token: %w", err)
	}
	now := s.nowFunc()
	sess := Session{
		ID:        uuid.NewString(),
		TokenHash: hashToken(token),
		AccountID: a.ID,
		Role:      a.Role,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.registry.Create(ctx, sess); err != nil {
		return Issued{}, err
	}
	return Issued{Mode: ModeSession, Credential: token, SessionID: sess.ID, ExpiresAt: sess.ExpiresAt}, nil
}

func (s *SessionStrategy) Subject(ctx context.Context, credential string) (Subject, error) {
	if credential == "" {
		return Subject{}, ErrSessionNotFound
	}
	sess, err := s.registry.Get(ctx, hashToken(credential))
	if err != nil {
		return Subject{}, err
	}
	return Subject{AccountID: sess.AccountID, SessionID: sess.ID}, nil
}

func (s *SessionStrategy) Revoke(ctx context.Context, credential string) error {
	err := s.registry.Delete(ctx, hashToken(credential))
	if errors.Is(err, ErrSessionNotFound) {
		return nil
	}
	return err
}

func generateToken(n int) (string, error) {
	if n < 16 {
		return "", fmt.Errorf("token length too short")
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
