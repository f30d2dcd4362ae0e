package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"imageadmin/authgate/internal/admin"
	"imageadmin/authgate/internal/audit"
	"imageadmin/authgate/internal/auth"
	"imageadmin/authgate/internal/config"
	"imageadmin/authgate/internal/migrations"
)

const (
	loginRedirect = "/login"
	maxBodyBytes  = 1 << 20
)

type AuthService interface {
	Mode() auth.Mode
	Register(ctx context.Context, in auth.RegisterInput) (auth.Account, error)
	Login(ctx context.Context, email, password string) (auth.LoginResult, error)
	Resolve(ctx context.Context, credential string) (auth.Principal, error)
	Logout(ctx context.Context, credential string) (auth.Principal, error)
	ResetPassword(ctx context.Context, p auth.Principal, current, next string) error
}

type AdminService interface {
	ListAccounts(ctx context.Context) ([]auth.Account, error)
	ChangeRole(ctx context.Context, actor auth.Principal, targetID int64, newRole string) (auth.Account, error)
	DeleteAccount(ctx context.Context, actor auth.Principal, targetID int64, confirm bool) error
	Logs(ctx context.Context, f audit.Filter) ([]audit.Record, error)
}

type MigrationService interface {
	Status(ctx context.Context) ([]migrations.Status, error)
}

type CookieConfig struct {
	Name   string
	Secure bool
	TTL    time.Duration
}

type Deps struct {
	Auth       AuthService
	Admin      AdminService
	Migrations MigrationService
	// Ready reports whether backing stores are reachable. Nil means always
	// ready.
	Ready      func(ctx context.Context) error
	Cookie     CookieConfig
	CORSOrigin string
	Logger     *slog.Logger
}

func (d Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

type Server struct {
	httpServer *http.Server
}

func New(cfg config.HTTPConfig, deps Deps) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      Wrap(NewHandler(deps), deps),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Wrap applies the middleware chain: request id and access log outermost,
// then CORS.
func Wrap(h http.Handler, deps Deps) http.Handler {
	return loggingMiddleware(deps.logger(), corsMiddleware(deps.CORSOrigin, h))
}

func NewHandler(deps Deps) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeOK(w, http.StatusOK, nil)
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if deps.Ready != nil {
			if err := deps.Ready(r.Context()); err != nil {
				deps.logger().WarnContext(r.Context(), "readiness check failed", "error", err)
				writeError(w, http.StatusServiceUnavailable, "not ready")
				return
			}
		}
		writeOK(w, http.StatusOK, map[string]any{"message": "ready"})
	})

	registerAuthHandlers(mux, deps)
	registerAdminHandlers(mux, deps)
	registerMigrationHandlers(mux, deps)

	return mux
}

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// requirePrincipal resolves the caller and applies policy. On failure the
// response is already written.
func requirePrincipal(w http.ResponseWriter, r *http.Request, deps Deps, policy auth.Policy) (auth.Principal, bool) {
	if deps.Auth == nil {
		writeError(w, http.StatusServiceUnavailable, "auth service unavailable")
		return auth.Principal{}, false
	}
	cred := credentialFrom(r, deps)
	if cred == "" {
		writeError(w, http.StatusUnauthorized, "please login")
		return auth.Principal{}, false
	}
	p, err := deps.Auth.Resolve(r.Context(), cred)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "please login")
		return auth.Principal{}, false
	}
	if err := policy.Authorize(p); err != nil {
		writeError(w, http.StatusForbidden, "forbidden: insufficient permission")
		return auth.Principal{}, false
	}
	return p, true
}

// credentialFrom reads the bearer header in token mode and the session
// cookie otherwise.
func credentialFrom(r *http.Request, deps Deps) string {
	if deps.Auth != nil && deps.Auth.Mode() == auth.ModeToken {
		tok, err := extractBearerToken(r.Header.Get("Authorization"))
		if err != nil {
			return ""
		}
		return tok
	}
	c, err := r.Cookie(deps.cookieName())
	if err != nil {
		return ""
	}
	return strings.TrimSpace(c.Value)
}

func (d Deps) cookieName() string {
	if d.Cookie.Name == "" {
		return "sid"
	}
	return d.Cookie.Name
}

func extractBearerToken(authHeader string) (string, error) {
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", fmt.Errorf("invalid authorization header")
	}
	return strings.TrimSpace(parts[1]), nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeOK(w http.ResponseWriter, status int, fields map[string]any) {
	body := map[string]any{"status": "ok"}
	for k, v := range fields {
		body[k] = v
	}
	writeJSON(w, status, body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	body := map[string]any{"status": "error", "message": message}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		body["redirect"] = loginRedirect
	}
	writeJSON(w, status, body)
}

// writeServiceError maps domain errors onto the response taxonomy. Anything
// unrecognised is logged and reported as an internal error.
func writeServiceError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, admin.ErrInvalidRole):
		writeError(w, http.StatusBadRequest, "invalid role")
	case errors.Is(err, admin.ErrMissingConfirmation):
		writeError(w, http.StatusBadRequest, "deletion must be confirmed with confirm=true")
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid email or password")
	case errors.Is(err, auth.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "please login")
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden: insufficient permission")
	case errors.Is(err, admin.ErrProtectedTarget):
		writeError(w, http.StatusForbidden, "superuser accounts cannot be modified")
	case errors.Is(err, admin.ErrInsufficientRank):
		writeError(w, http.StatusForbidden, "only a superuser may delete an admin")
	case errors.Is(err, auth.ErrDuplicateEmail):
		writeError(w, http.StatusConflict, "email already registered")
	case errors.Is(err, auth.ErrSessionAlreadyActive):
		writeError(w, http.StatusConflict, "user already logged in")
	case errors.Is(err, auth.ErrRoleChanged):
		writeError(w, http.StatusConflict, "account changed during the request, retry")
	case errors.Is(err, auth.ErrAccountNotFound), errors.Is(err, admin.ErrNotFound):
		writeError(w, http.StatusNotFound, "user not found")
	default:
		log.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.status = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

func loggingMiddleware(log *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := strings.TrimSpace(r.Header.Get("X-Request-Id"))
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", reqID)

		ip := clientIP(r)
		ctx := audit.WithRequestMeta(r.Context(), audit.RequestMeta{
			RequestID: reqID,
			ClientIP:  ip,
			UserAgent: r.UserAgent(),
		})
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		log.InfoContext(ctx, "http request",
			"request_id", reqID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"ip", ip,
		)
	})
}

// corsMiddleware admits a single origin with credentials, which the
// cookie transport needs.
func corsMiddleware(origin string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin != "" && r.Header.Get("Origin") == origin {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Add("Vary", "Origin")
			if r.Method == http.MethodOptions {
				h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-Id")
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if fwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}
