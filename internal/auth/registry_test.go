package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestInMemorySessionRegistry(t *testing.T) {
	reg := NewInMemorySessionRegistry()
	now := time.Date(2026, 2, 16, 8, 0, 0, 0, time.UTC)
	reg.nowFunc = func() time.Time { return now }
	ctx := context.Background()

	s := Session{ID: "s1", TokenHash: hashToken("a"), AccountID: 1, Role: RoleUser, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	if err := reg.Create(ctx, s); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	dup := s
	dup.TokenHash = hashToken("b")
	if err := reg.Create(ctx, dup); !errors.Is(err, ErrSessionAlreadyActive) {
		t.Fatalf("expected ErrSessionAlreadyActive, got %v", err)
	}

	reg.nowFunc = func() time.Time { return now.Add(time.Hour) }
	if _, err := reg.Get(ctx, s.TokenHash); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected expired session to be gone, got %v", err)
	}
	if err := reg.Create(ctx, dup); err != nil {
		t.Fatalf("Create() after expiry error: %v", err)
	}
	if err := reg.DeleteByAccount(ctx, 1); err != nil {
		t.Fatalf("DeleteByAccount() error: %v", err)
	}
	if err := reg.Delete(ctx, dup.TokenHash); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestHashTokenIsStable(t *testing.T) {
	if hashToken("abc") != hashToken("abc") || hashToken("abc") == hashToken("abd") {
		t.Fatalf("hashToken must be deterministic and distinct")
	}
	if len(hashToken("abc")) != 64 {
		t.Fatalf("expected hex sha256")
	}
}
