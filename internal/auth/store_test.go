package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestInMemoryAccountStoreDeleteWithRole(t *testing.T) {
	store := NewInMemoryAccountStore()
	ctx := context.Background()
	a, err := store.Create(ctx, Account{Email: "alice@gmail.com", PasswordHash: "digest", Role: RoleUser, CreatedAt: time.Now()})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	if err := store.UpdateRole(ctx, a.ID, RoleAdmin); err != nil {
		t.Fatalf("UpdateRole() error: %v", err)
	}
	if err := store.DeleteWithRole(ctx, a.ID, RoleUser); !errors.Is(err, ErrRoleChanged) {
		t.Fatalf("expected ErrRoleChanged, got %v", err)
	}
	if _, err := store.GetByID(ctx, a.ID); err != nil {
		t.Fatalf("expected account to survive a stale delete, got %v", err)
	}

	if err := store.DeleteWithRole(ctx, a.ID, RoleAdmin); err != nil {
		t.Fatalf("DeleteWithRole() error: %v", err)
	}
	if _, err := store.GetByEmail(ctx, "alice@gmail.com"); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
	if err := store.DeleteWithRole(ctx, a.ID, RoleAdmin); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound for second delete, got %v", err)
	}
}
