package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"imageadmin/authgate/internal/admin"
	"imageadmin/authgate/internal/audit"
	"imageadmin/authgate/internal/auth"
	"imageadmin/authgate/internal/config"
	"imageadmin/authgate/internal/httpserver"
	"imageadmin/authgate/internal/migrations"
	"imageadmin/authgate/internal/observability"
)

const (
	bootstrapFirstName = "System"
	bootstrapLastName  = "Superuser"
)

type App struct {
	cfg    config.Config
	log    *slog.Logger
	db     *sql.DB
	rdb    *redis.Client
	server *httpserver.Server
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger := observability.NewLogger(cfg.LogLevel)
	a := &App{cfg: cfg, log: logger}
	if err := a.init(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.cfg
	var err error

	if cfg.Database.URL != "" {
		a.db, err = sql.Open(cfg.Database.Driver, cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		if err := a.db.PingContext(ctx); err != nil {
			return fmt.Errorf("ping database: %w", err)
		}
	}

	var migrationService *migrations.Service
	if a.db != nil {
		migrationService, err = migrations.NewService(a.db)
		if err != nil {
			return fmt.Errorf("create migration service: %w", err)
		}
		if cfg.Database.MigrateOnStart {
			if err := migrationService.Up(ctx); err != nil {
				return fmt.Errorf("apply migrations: %w", err)
			}
			a.log.InfoContext(ctx, "database migrations applied")
		}
	}

	var accounts auth.AccountStore
	if a.db != nil {
		accounts, err = auth.NewPostgresAccountStore(a.db)
		if err != nil {
			return fmt.Errorf("create account store: %w", err)
		}
	} else {
		a.log.WarnContext(ctx, "DATABASE_URL not set, accounts are kept in memory")
		accounts = auth.NewInMemoryAccountStore()
	}

	registry, err := a.sessionRegistry(ctx)
	if err != nil {
		return err
	}

	var logStore audit.Store
	if a.db != nil {
		logStore, err = audit.NewPostgresStore(a.db)
	} else {
		logStore, err = audit.NewFileStore(cfg.AuditLogFile, auth.AccountIdentity(accounts))
	}
	if err != nil {
		return fmt.Errorf("create audit store: %w", err)
	}
	recorder := audit.NewRecorder(logStore, a.log)

	strategy, err := a.strategy(registry)
	if err != nil {
		return err
	}
	hasher, err := auth.NewBcryptHasher(cfg.Auth.BcryptCost)
	if err != nil {
		return fmt.Errorf("create password hasher: %w", err)
	}
	authService, err := auth.NewService(accounts, strategy, auth.ServiceConfig{
		Hasher:               hasher,
		Recorder:             recorder,
		Logger:               a.log,
		EmailDomains:         cfg.Auth.AllowedEmailDomains,
		CaseInsensitiveEmail: cfg.Auth.EmailCaseInsensitive,
	})
	if err != nil {
		return fmt.Errorf("create auth service: %w", err)
	}

	if cfg.Auth.BootstrapEmail != "" {
		acct, created, err := authService.EnsureSuperuser(ctx, auth.RegisterInput{
			Email:     cfg.Auth.BootstrapEmail,
			Password:  cfg.Auth.BootstrapPassword,
			FirstName: bootstrapFirstName,
			LastName:  bootstrapLastName,
		})
		if err != nil {
			return fmt.Errorf("bootstrap superuser: %w", err)
		}
		if created {
			a.log.InfoContext(ctx, "bootstrap superuser created", "account_id", acct.ID)
		}
	}

	adminService, err := admin.NewService(accounts, admin.Config{
		Sessions: registry,
		Logs:     logStore,
		Recorder: recorder,
		Logger:   a.log,
	})
	if err != nil {
		return fmt.Errorf("create admin service: %w", err)
	}

	deps := httpserver.Deps{
		Auth:  authService,
		Admin: adminService,
		Ready: a.ready,
		Cookie: httpserver.CookieConfig{
			Name:   cfg.Auth.CookieName,
			Secure: cfg.Auth.CookieSecure,
			TTL:    cfg.Auth.SessionTTL,
		},
		CORSOrigin: cfg.CORSAllowedOrigin,
		Logger:     a.log,
	}
	if migrationService != nil {
		deps.Migrations = migrationService
	}
	a.server = httpserver.New(cfg.HTTP, deps)
	return nil
}

func (a *App) sessionRegistry(ctx context.Context) (auth.SessionRegistry, error) {
	switch a.cfg.Auth.SessionBackend {
	case config.SessionBackendPostgres:
		if a.db == nil {
			return nil, fmt.Errorf("postgres session backend requires a database")
		}
		r, err := auth.NewPostgresSessionRegistry(a.db)
		if err != nil {
			return nil, fmt.Errorf("create session registry: %w", err)
		}
		return r, nil
	case config.SessionBackendRedis:
		a.rdb = redis.NewClient(&redis.Options{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		if err := a.rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		r, err := auth.NewRedisSessionRegistry(a.rdb, a.cfg.Redis.Prefix)
		if err != nil {
			return nil, fmt.Errorf("create session registry: %w", err)
		}
		return r, nil
	default:
		return auth.NewInMemorySessionRegistry(), nil
	}
}

func (a *App) strategy(registry auth.SessionRegistry) (auth.Strategy, error) {
	mode, err := auth.ParseMode(a.cfg.Auth.Mode)
	if err != nil {
		return nil, err
	}
	if mode == auth.ModeToken {
		signer, err := auth.NewTokenSigner([]byte(a.cfg.Auth.Secret), a.cfg.Auth.SessionTTL)
		if err != nil {
			return nil, fmt.Errorf("create token signer: %w", err)
		}
		return auth.NewTokenStrategy(signer)
	}
	return auth.NewSessionStrategy(registry, a.cfg.Auth.SessionTTL)
}

func (a *App) ready(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if a.db != nil {
		if err := a.db.PingContext(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if a.rdb != nil {
		if err := a.rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

func (a *App) close() {
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}

func (a *App) Run(ctx context.Context) error {
	defer a.close()

	errCh := make(chan error, 1)

	go func() {
		a.log.Info("http server starting", "addr", a.cfg.HTTP.Addr, "auth_mode", a.cfg.Auth.Mode, "session_backend", a.cfg.Auth.SessionBackend)
		errCh <- a.server.Start()
	}()

	select {
	case <-ctx.Done():
		a.log.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server exited: %w", err)
	}
}
