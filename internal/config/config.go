package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	SessionBackendPostgres = "postgres"
	SessionBackendRedis    = "redis"
	SessionBackendMemory   = "memory"
)

type Config struct {
	HTTP              HTTPConfig
	Database          DatabaseConfig
	Redis             RedisConfig
	Auth              AuthConfig
	CORSAllowedOrigin string
	AuditLogFile      string
	LogLevel          string
}

type HTTPConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	URL string
	// Driver is the database/sql driver name: "postgres" (lib/pq) or "pgx".
	Driver         string
	MigrateOnStart bool
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

type AuthConfig struct {
	Mode                 string
	Secret               string
	SessionTTL           time.Duration
	SessionBackend       string
	BcryptCost           int
	CookieName           string
	CookieSecure         bool
	EmailCaseInsensitive bool
	AllowedEmailDomains  []string
	BootstrapEmail       string
	BootstrapPassword    string
}

func Load() (Config, error) {
	cfg := Config{
		HTTP: HTTPConfig{
			Addr:            getEnv("HTTP_ADDR", ":3333"),
			ReadTimeout:     time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SEC", 10)) * time.Second,
			WriteTimeout:    time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SEC", 15)) * time.Second,
			ShutdownTimeout: time.Duration(getEnvInt("HTTP_SHUTDOWN_TIMEOUT_SEC", 20)) * time.Second,
		},
		Database: DatabaseConfig{
			URL:            getEnv("DATABASE_URL", ""),
			Driver:         strings.ToLower(getEnv("DATABASE_DRIVER", "postgres")),
			MigrateOnStart: getEnvBool("DATABASE_MIGRATE_ON_START", true),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			Prefix:   getEnv("REDIS_PREFIX", "authgate"),
		},
		Auth: AuthConfig{
			Mode:                 strings.ToLower(getEnv("AUTH_MODE", "session")),
			Secret:               getEnv("AUTH_SECRET", ""),
			SessionTTL:           time.Duration(getEnvInt("AUTH_SESSION_TTL_SEC", 8*60*60)) * time.Second,
			SessionBackend:       strings.ToLower(getEnv("SESSION_BACKEND", "")),
			BcryptCost:           getEnvInt("AUTH_BCRYPT_COST", 10),
			CookieName:           getEnv("AUTH_COOKIE_NAME", "sid"),
			CookieSecure:         getEnvBool("AUTH_COOKIE_SECURE", false),
			EmailCaseInsensitive: getEnvBool("AUTH_EMAIL_CASE_INSENSITIVE", false),
			AllowedEmailDomains:  getEnvList("AUTH_ALLOWED_EMAIL_DOMAINS"),
			BootstrapEmail:       getEnv("AUTH_BOOTSTRAP_EMAIL", ""),
			BootstrapPassword:    getEnv("AUTH_BOOTSTRAP_PASSWORD", ""),
		},
		CORSAllowedOrigin: getEnv("CORS_ALLOWED_ORIGIN", "http://localhost:3001"),
		AuditLogFile:      getEnv("AUDIT_LOG_FILE", "./data/audit.log"),
		LogLevel:          strings.ToLower(getEnv("LOG_LEVEL", "info")),
	}

	if cfg.Auth.SessionBackend == "" {
		cfg.Auth.SessionBackend = SessionBackendMemory
		if cfg.Database.URL != "" {
			cfg.Auth.SessionBackend = SessionBackendPostgres
		}
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.HTTP.Addr == "" {
		return fmt.Errorf("HTTP_ADDR must not be empty")
	}
	switch c.Database.Driver {
	case "postgres", "pgx":
	default:
		return fmt.Errorf("DATABASE_DRIVER must be postgres or pgx, got %q", c.Database.Driver)
	}
	switch c.Auth.Mode {
	case "session":
	case "token":
		if c.Auth.Secret == "" {
			return fmt.Errorf("AUTH_SECRET must not be empty when AUTH_MODE=token")
		}
	default:
		return fmt.Errorf("AUTH_MODE must be session or token, got %q", c.Auth.Mode)
	}
	if c.Auth.SessionTTL <= 0 {
		return fmt.Errorf("AUTH_SESSION_TTL_SEC must be > 0")
	}
	switch c.Auth.SessionBackend {
	case SessionBackendMemory:
	case SessionBackendPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("SESSION_BACKEND=postgres requires DATABASE_URL")
		}
	case SessionBackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("SESSION_BACKEND=redis requires REDIS_ADDR")
		}
	default:
		return fmt.Errorf("SESSION_BACKEND must be postgres, redis or memory, got %q", c.Auth.SessionBackend)
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		return fmt.Errorf("AUTH_BCRYPT_COST must be between 4 and 31")
	}
	if c.Auth.CookieName == "" {
		return fmt.Errorf("AUTH_COOKIE_NAME must not be empty")
	}
	if c.Auth.BootstrapEmail != "" && c.Auth.BootstrapPassword == "" {
		return fmt.Errorf("AUTH_BOOTSTRAP_PASSWORD must not be empty when AUTH_BOOTSTRAP_EMAIL is set")
	}
	if c.Database.URL == "" && c.AuditLogFile == "" {
		return fmt.Errorf("AUDIT_LOG_FILE must not be empty without DATABASE_URL")
	}
	return nil
}

func getEnv(key, fallback string) string {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return fallback
	}
	return val
}

func getEnvInt(key string, fallback int) int {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return fallback
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvList(key string) []string {
	val, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(val) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
