package integration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"

	"imageadmin/authgate/internal/admin"
	"imageadmin/authgate/internal/audit"
	"imageadmin/authgate/internal/auth"
	"imageadmin/authgate/internal/migrations"
)

func openTestPostgres(t *testing.T) *sql.DB {
	t.Helper()

	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping Postgres integration tests")
	}
	driver := os.Getenv("TEST_POSTGRES_DRIVER")
	if driver == "" {
		driver = "postgres"
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		t.Fatalf("sql.Open() error: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})

	if err := db.Ping(); err != nil {
		t.Fatalf("db.Ping() error: %v", err)
	}

	svc, err := migrations.NewService(db)
	if err != nil {
		t.Fatalf("migrations.NewService() error: %v", err)
	}
	if err := svc.Up(context.Background()); err != nil {
		t.Fatalf("migrations Up() error: %v", err)
	}
	return db
}

type env struct {
	db       *sql.DB
	accounts *auth.PostgresAccountStore
	registry *auth.PostgresSessionRegistry
	logs     *audit.PostgresStore
	auth     *auth.Service
	admin    *admin.Service
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := openTestPostgres(t)

	accounts, err := auth.NewPostgresAccountStore(db)
	if err != nil {
		t.Fatalf("NewPostgresAccountStore() error: %v", err)
	}
	registry, err := auth.NewPostgresSessionRegistry(db)
	if err != nil {
		t.Fatalf("NewPostgresSessionRegistry() error: %v", err)
	}
	logs, err := audit.NewPostgresStore(db)
	if err != nil {
		t.Fatalf("NewPostgresStore() error: %v", err)
	}
	recorder := audit.NewRecorder(logs, nil)
	strategy, err := auth.NewSessionStrategy(registry, time.Minute)
	if err != nil {
		t.Fatalf("NewSessionStrategy() error: %v", err)
	}
	hasher, err := auth.NewBcryptHasher(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("NewBcryptHasher() error: %v", err)
	}
	authSvc, err := auth.NewService(accounts, strategy, auth.ServiceConfig{Hasher: hasher, Recorder: recorder})
	if err != nil {
		t.Fatalf("auth.NewService() error: %v", err)
	}
	adminSvc, err := admin.NewService(accounts, admin.Config{Sessions: registry, Logs: logs, Recorder: recorder})
	if err != nil {
		t.Fatalf("admin.NewService() error: %v", err)
	}
	return &env{db: db, accounts: accounts, registry: registry, logs: logs, auth: authSvc, admin: adminSvc}
}

func (e *env) register(t *testing.T, role auth.Role) auth.Account {
	t.Helper()
	email := fmt.Sprintf("itest%d@gmail.com", time.Now().UnixNano())
	a, err := e.auth.Register(context.Background(), auth.RegisterInput{
		Email: email, Password: "Secret123", FirstName: "Itest", LastName: "User",
	})
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	t.Cleanup(func() {
		_, _ = e.db.Exec("DELETE FROM audit_entries WHERE account_id = $1", a.ID)
		_, _ = e.db.Exec("DELETE FROM accounts WHERE id = $1", a.ID)
	})
	if role != auth.RoleUser {
		if err := e.accounts.UpdateRole(context.Background(), a.ID, role); err != nil {
			t.Fatalf("UpdateRole() error: %v", err)
		}
		a.Role = role
	}
	return a
}

func TestPostgresSessionLifecycle(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.register(t, auth.RoleUser)

	res, err := e.auth.Login(ctx, a.Email, "Secret123")
	if err != nil {
		t.Fatalf("Login() error: %v", err)
	}
	if _, err := e.auth.Login(ctx, a.Email, "Secret123"); !errors.Is(err, auth.ErrSessionAlreadyActive) {
		t.Fatalf("expected ErrSessionAlreadyActive, got %v", err)
	}

	p, err := e.auth.Resolve(ctx, res.Issued.Credential)
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if p.AccountID != a.ID || p.Role != auth.RoleUser {
		t.Fatalf("unexpected principal: %+v", p)
	}

	if _, err := e.auth.Logout(ctx, res.Issued.Credential); err != nil {
		t.Fatalf("Logout() error: %v", err)
	}
	if _, err := e.auth.Resolve(ctx, res.Issued.Credential); !errors.Is(err, auth.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated after logout, got %v", err)
	}

	records, err := e.logs.Query(ctx, audit.Filter{AccountID: a.ID})
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if len(records) != 2 || records[0].Action != audit.ActionLogout || records[1].Action != audit.ActionLogin {
		t.Fatalf("unexpected audit records: %+v", records)
	}
	if records[0].Email != a.Email {
		t.Fatalf("expected joined email %q, got %q", a.Email, records[0].Email)
	}
}

func TestPostgresConcurrentLoginSingleWinner(t *testing.T) {
	e := newEnv(t)
	a := e.register(t, auth.RoleUser)

	const attempts = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.auth.Login(context.Background(), a.Email, "Secret123")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, auth.ErrSessionAlreadyActive):
				conflicts++
			default:
				t.Errorf("Login() unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 || conflicts != attempts-1 {
		t.Fatalf("expected 1 success and %d conflicts, got %d and %d", attempts-1, successes, conflicts)
	}
}

func TestPostgresDeleteAccountCascadesSession(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	actor := e.register(t, auth.RoleSuperuser)
	victim := e.register(t, auth.RoleAdmin)

	res, err := e.auth.Login(ctx, victim.Email, "Secret123")
	if err != nil {
		t.Fatalf("Login() error: %v", err)
	}

	principal := auth.Principal{AccountID: actor.ID, Email: actor.Email, Role: auth.RoleSuperuser}
	if err := e.admin.DeleteAccount(ctx, principal, victim.ID, true); err != nil {
		t.Fatalf("DeleteAccount() error: %v", err)
	}

	var n int
	if err := e.db.QueryRow("SELECT COUNT(*) FROM active_sessions WHERE account_id = $1", victim.ID).Scan(&n); err != nil {
		t.Fatalf("count sessions: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected session rows to be removed, got %d", n)
	}
	if _, err := e.auth.Resolve(ctx, res.Issued.Credential); !errors.Is(err, auth.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}

	records, err := e.logs.Query(ctx, audit.Filter{AccountID: actor.ID, Action: audit.DeleteAction(victim.ID, string(auth.RoleAdmin))})
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if len(records) != 1 || records[0].TargetID != victim.ID {
		t.Fatalf("expected one delete entry, got %+v", records)
	}
}

func TestPostgresMigrationStatus(t *testing.T) {
	db := openTestPostgres(t)

	svc, err := migrations.NewService(db)
	if err != nil {
		t.Fatalf("NewService() error: %v", err)
	}
	statuses, err := svc.Status(context.Background())
	if err != nil {
		t.Fatalf("Status() error: %v", err)
	}
	if len(statuses) == 0 {
		t.Fatalf("expected at least one migration")
	}
	for _, s := range statuses {
		if !s.Applied {
			t.Fatalf("expected %s to be applied", s.Name)
		}
	}
}
