package admin

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"imageadmin/authgate/internal/audit"
	"imageadmin/authgate/internal/auth"
)

type fixture struct {
	svc      *Service
	accounts *auth.InMemoryAccountStore
	sessions *auth.InMemorySessionRegistry
	logs     *audit.MemoryStore
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	accounts := auth.NewInMemoryAccountStore()
	sessions := auth.NewInMemorySessionRegistry()
	logs := audit.NewMemoryStore(auth.AccountIdentity(accounts))
	svc, err := NewService(accounts, Config{
		Sessions: sessions,
		Logs:     logs,
		Recorder: audit.NewRecorder(logs, nil),
	})
	require.NoError(t, err)
	return fixture{svc: svc, accounts: accounts, sessions: sessions, logs: logs}
}

func (f fixture) add(t *testing.T, email string, role auth.Role) auth.Account {
	t.Helper()
	a, err := f.accounts.Create(context.Background(), auth.Account{
		Email: email, PasswordHash: "digest", FirstName: "N", LastName: "M", Role: role, CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	return a
}

func principal(a auth.Account) auth.Principal {
	return auth.Principal{AccountID: a.ID, Email: a.Email, Role: a.Role}
}

func TestChangeRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	root := f.add(t, "root@gmail.com", auth.RoleSuperuser)
	alice := f.add(t, "alice@gmail.com", auth.RoleUser)

	got, err := f.svc.ChangeRole(ctx, principal(root), alice.ID, "admin")
	require.NoError(t, err)
	require.Equal(t, auth.RoleAdmin, got.Role)

	stored, err := f.accounts.GetByID(ctx, alice.ID)
	require.NoError(t, err)
	require.Equal(t, auth.RoleAdmin, stored.Role)

	recs, err := f.svc.Logs(ctx, audit.Filter{AccountID: root.ID})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, audit.ChangeRoleAction(alice.ID, "admin"), recs[0].Action)
	require.Equal(t, alice.ID, recs[0].TargetID)
}

func TestChangeRoleRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	root := f.add(t, "root@gmail.com", auth.RoleSuperuser)
	other := f.add(t, "other@gmail.com", auth.RoleSuperuser)
	alice := f.add(t, "alice@gmail.com", auth.RoleUser)

	_, err := f.svc.ChangeRole(ctx, principal(root), alice.ID, "superuser")
	require.ErrorIs(t, err, ErrInvalidRole)

	// Invalid role is rejected even for a target that does not exist.
	_, err = f.svc.ChangeRole(ctx, principal(root), 999, "root")
	require.ErrorIs(t, err, ErrInvalidRole)

	_, err = f.svc.ChangeRole(ctx, principal(root), 999, "admin")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.ChangeRole(ctx, principal(root), other.ID, "user")
	require.ErrorIs(t, err, ErrProtectedTarget)

	recs, err := f.svc.Logs(ctx, audit.Filter{})
	require.NoError(t, err)
	require.Empty(t, recs)
}

func TestDeleteAccountMatrix(t *testing.T) {
	cases := []struct {
		actor  auth.Role
		target auth.Role
		want   error
	}{
		{auth.RoleSuperuser, auth.RoleSuperuser, ErrProtectedTarget},
		{auth.RoleAdmin, auth.RoleSuperuser, ErrProtectedTarget},
		{auth.RoleAdmin, auth.RoleAdmin, ErrInsufficientRank},
		{auth.RoleSuperuser, auth.RoleAdmin, nil},
		{auth.RoleAdmin, auth.RoleUser, nil},
		{auth.RoleSuperuser, auth.RoleUser, nil},
	}
	for _, tc := range cases {
		t.Run(string(tc.actor)+"->"+string(tc.target), func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			actor := f.add(t, "actor@gmail.com", tc.actor)
			target := f.add(t, "target@gmail.com", tc.target)

			err := f.svc.DeleteAccount(ctx, principal(actor), target.ID, true)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}

			_, lookupErr := f.accounts.GetByID(ctx, target.ID)
			recs, _ := f.svc.Logs(ctx, audit.Filter{})
			if tc.want == nil {
				require.ErrorIs(t, lookupErr, auth.ErrAccountNotFound)
				require.Len(t, recs, 1)
				require.Equal(t, audit.DeleteAction(target.ID, string(tc.target)), recs[0].Action)
				require.Equal(t, string(tc.actor), recs[0].Role)
			} else {
				require.NoError(t, lookupErr)
				require.Empty(t, recs)
			}
		})
	}
}

func TestDeleteAccountRequiresConfirmation(t *testing.T) {
	f := newFixture(t)
	root := f.add(t, "root@gmail.com", auth.RoleSuperuser)
	alice := f.add(t, "alice@gmail.com", auth.RoleUser)

	err := f.svc.DeleteAccount(context.Background(), principal(root), alice.ID, false)
	require.ErrorIs(t, err, ErrMissingConfirmation)

	err = f.svc.DeleteAccount(context.Background(), principal(root), 999, true)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteAccountDropsSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	root := f.add(t, "root@gmail.com", auth.RoleSuperuser)
	alice := f.add(t, "alice@gmail.com", auth.RoleUser)

	now := time.Now()
	sess := auth.Session{ID: "s", TokenHash: "h", AccountID: alice.ID, Role: auth.RoleUser, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	require.NoError(t, f.sessions.Create(ctx, sess))

	require.NoError(t, f.svc.DeleteAccount(ctx, principal(root), alice.ID, true))

	_, err := f.sessions.Get(ctx, "h")
	require.ErrorIs(t, err, auth.ErrSessionNotFound)
}

func TestListAccountsNewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.add(t, "a@gmail.com", auth.RoleUser)
	b := f.add(t, "b@gmail.com", auth.RoleUser)

	got, err := f.svc.ListAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, b.ID, got[0].ID)
}

// racingStore changes the target's role right after it has been read, the
// way a concurrent role change would.
type racingStore struct {
	*auth.InMemoryAccountStore
	target int64
	next   func(current auth.Role) auth.Role
	reads  int
}

func (s *racingStore) GetByID(ctx context.Context, id int64) (auth.Account, error) {
	a, err := s.InMemoryAccountStore.GetByID(ctx, id)
	if err != nil || id != s.target || s.next == nil {
		return a, err
	}
	s.reads++
	if err := s.InMemoryAccountStore.UpdateRole(ctx, id, s.next(a.Role)); err != nil {
		return auth.Account{}, err
	}
	return a, nil
}

func newRacingFixture(t *testing.T) (*Service, *racingStore, *audit.MemoryStore) {
	t.Helper()
	store := &racingStore{InMemoryAccountStore: auth.NewInMemoryAccountStore()}
	logs := audit.NewMemoryStore(auth.AccountIdentity(store))
	svc, err := NewService(store, Config{Logs: logs, Recorder: audit.NewRecorder(logs, nil)})
	require.NoError(t, err)
	return svc, store, logs
}

func TestDeleteAccountRechecksRankAfterConcurrentPromotion(t *testing.T) {
	svc, store, logs := newRacingFixture(t)
	ctx := context.Background()

	actor, err := store.Create(ctx, auth.Account{Email: "admin@gmail.com", PasswordHash: "d", Role: auth.RoleAdmin})
	require.NoError(t, err)
	target, err := store.Create(ctx, auth.Account{Email: "alice@gmail.com", PasswordHash: "d", Role: auth.RoleUser})
	require.NoError(t, err)

	promoted := false
	store.target = target.ID
	store.next = func(current auth.Role) auth.Role {
		if promoted {
			return current
		}
		promoted = true
		return auth.RoleAdmin
	}

	err = svc.DeleteAccount(ctx, principal(actor), target.ID, true)
	require.ErrorIs(t, err, ErrInsufficientRank)

	stored, err := store.InMemoryAccountStore.GetByID(ctx, target.ID)
	require.NoError(t, err)
	require.Equal(t, auth.RoleAdmin, stored.Role)

	recs, err := logs.Query(ctx, audit.Filter{})
	require.NoError(t, err)
	require.Empty(t, recs)
}

func TestDeleteAccountGivesUpOnFlappingRole(t *testing.T) {
	svc, store, logs := newRacingFixture(t)
	ctx := context.Background()

	actor, err := store.Create(ctx, auth.Account{Email: "root@gmail.com", PasswordHash: "d", Role: auth.RoleSuperuser})
	require.NoError(t, err)
	target, err := store.Create(ctx, auth.Account{Email: "alice@gmail.com", PasswordHash: "d", Role: auth.RoleUser})
	require.NoError(t, err)

	store.target = target.ID
	store.next = func(current auth.Role) auth.Role {
		if current == auth.RoleUser {
			return auth.RoleAdmin
		}
		return auth.RoleUser
	}

	err = svc.DeleteAccount(ctx, principal(actor), target.ID, true)
	require.ErrorIs(t, err, auth.ErrRoleChanged)
	require.Equal(t, maxDeleteAttempts, store.reads)

	_, err = store.InMemoryAccountStore.GetByID(ctx, target.ID)
	require.NoError(t, err)
	recs, err := logs.Query(ctx, audit.Filter{})
	require.NoError(t, err)
	require.Empty(t, recs)
}

type failingAuditStore struct {
	appends int
}

func (s *failingAuditStore) Append(context.Context, audit.Entry) error {
	s.appends++
	return errors.New("audit table unavailable")
}

func (s *failingAuditStore) Query(context.Context, audit.Filter) ([]audit.Record, error) {
	return nil, errors.New("audit table unavailable")
}

func TestMutationsSucceedWhenAuditFails(t *testing.T) {
	accounts := auth.NewInMemoryAccountStore()
	failing := &failingAuditStore{}
	svc, err := NewService(accounts, Config{Logs: failing, Recorder: audit.NewRecorder(failing, nil)})
	require.NoError(t, err)
	ctx := context.Background()

	root, err := accounts.Create(ctx, auth.Account{Email: "root@gmail.com", PasswordHash: "d", Role: auth.RoleSuperuser})
	require.NoError(t, err)
	alice, err := accounts.Create(ctx, auth.Account{Email: "alice@gmail.com", PasswordHash: "d", Role: auth.RoleUser})
	require.NoError(t, err)

	updated, err := svc.ChangeRole(ctx, principal(root), alice.ID, "admin")
	require.NoError(t, err)
	require.Equal(t, auth.RoleAdmin, updated.Role)

	require.NoError(t, svc.DeleteAccount(ctx, principal(root), alice.ID, true))
	_, err = accounts.GetByID(ctx, alice.ID)
	require.ErrorIs(t, err, auth.ErrAccountNotFound)

	require.Equal(t, 2, failing.appends)
}
