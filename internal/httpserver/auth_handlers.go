package httpserver

import (
	"errors"
	"net/http"
	"time"

	"imageadmin/authgate/internal/auth"
)

func registerAuthHandlers(mux *http.ServeMux, deps Deps) {
	mux.HandleFunc("/register", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if deps.Auth == nil {
			writeError(w, http.StatusServiceUnavailable, "auth service unavailable")
			return
		}

		// Any role field in the body is ignored.
		var req struct {
			Email     string `json:"email"`
			Passwords string `json:"passwords"`
			FirstName string `json:"firstname"`
			LastName  string `json:"lastname"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		_, err := deps.Auth.Register(r.Context(), auth.RegisterInput{
			Email:     req.Email,
			Password:  req.Passwords,
			FirstName: req.FirstName,
			LastName:  req.LastName,
		})
		if err != nil {
			writeServiceError(w, r, deps.logger(), err)
			return
		}
		writeOK(w, http.StatusOK, map[string]any{"message": "registered"})
	})

	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if deps.Auth == nil {
			writeError(w, http.StatusServiceUnavailable, "auth service unavailable")
			return
		}

		var req struct {
			Email     string `json:"email"`
			Passwords string `json:"passwords"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.Email == "" || req.Passwords == "" {
			writeError(w, http.StatusBadRequest, "email and passwords are required")
			return
		}

		res, err := deps.Auth.Login(r.Context(), req.Email, req.Passwords)
		if err != nil {
			writeServiceError(w, r, deps.logger(), err)
			return
		}

		body := map[string]any{
			"message":    "login successful",
			"role":       res.Principal.Role,
			"expires_at": res.Issued.ExpiresAt.UTC().Format(time.RFC3339),
		}
		if res.Issued.Mode == auth.ModeToken {
			body["token"] = res.Issued.Credential
		} else {
			setSessionCookie(w, deps, res.Issued.Credential, res.Issued.ExpiresAt)
		}
		writeOK(w, http.StatusOK, body)
	})

	mux.HandleFunc("/logout", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if deps.Auth == nil {
			writeError(w, http.StatusServiceUnavailable, "auth service unavailable")
			return
		}
		cred := credentialFrom(r, deps)
		if cred == "" {
			writeError(w, http.StatusUnauthorized, "not logged in")
			return
		}
		if _, err := deps.Auth.Logout(r.Context(), cred); err != nil {
			writeServiceError(w, r, deps.logger(), err)
			return
		}
		if deps.Auth.Mode() == auth.ModeSession {
			clearSessionCookie(w, deps)
		}
		writeOK(w, http.StatusOK, map[string]any{"message": "logout successful"})
	})

	mux.HandleFunc("/auth/check", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if deps.Auth == nil {
			writeError(w, http.StatusServiceUnavailable, "auth service unavailable")
			return
		}
		p, err := deps.Auth.Resolve(r.Context(), credentialFrom(r, deps))
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"status":   "unauthorized",
				"message":  "please login",
				"redirect": loginRedirect,
			})
			return
		}
		writeOK(w, http.StatusOK, map[string]any{"user": p})
	})

	mux.HandleFunc("/reset-password", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		p, ok := requirePrincipal(w, r, deps, auth.AnyRole)
		if !ok {
			return
		}

		var req struct {
			CurrentPassword string `json:"currentPassword"`
			NewPassword     string `json:"newPassword"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.CurrentPassword == "" || req.NewPassword == "" {
			writeError(w, http.StatusBadRequest, "missing required fields")
			return
		}

		err := deps.Auth.ResetPassword(r.Context(), p, req.CurrentPassword, req.NewPassword)
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, http.StatusBadRequest, "current password is incorrect")
			return
		}
		if err != nil {
			writeServiceError(w, r, deps.logger(), err)
			return
		}
		writeOK(w, http.StatusOK, map[string]any{"message": "password updated"})
	})
}

func setSessionCookie(w http.ResponseWriter, deps Deps, value string, expires time.Time) {
	maxAge := int(deps.Cookie.TTL.Seconds())
	if maxAge <= 0 {
		maxAge = int(time.Until(expires).Seconds())
	}
	http.SetCookie(w, &http.Cookie{
		Name:     deps.cookieName(),
		Value:    value,
		Path:     "/",
		Expires:  expires.UTC(),
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   deps.Cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSessionCookie(w http.ResponseWriter, deps Deps) {
	http.SetCookie(w, &http.Cookie{
		Name:     deps.cookieName(),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   deps.Cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}
