package httpserver

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"imageadmin/authgate/internal/audit"
	"imageadmin/authgate/internal/auth"
)

func registerAdminHandlers(mux *http.ServeMux, deps Deps) {
	mux.HandleFunc("/user-logs", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if _, ok := requirePrincipal(w, r, deps, auth.ReadAdmin); !ok {
			return
		}
		if deps.Admin == nil {
			writeError(w, http.StatusServiceUnavailable, "admin service unavailable")
			return
		}

		logs, err := deps.Admin.Logs(r.Context(), parseLogFilter(r))
		if err != nil {
			writeServiceError(w, r, deps.logger(), err)
			return
		}
		writeOK(w, http.StatusOK, map[string]any{"logs": logs})
	})

	mux.HandleFunc("/users", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if _, ok := requirePrincipal(w, r, deps, auth.ReadAdmin); !ok {
			return
		}
		if deps.Admin == nil {
			writeError(w, http.StatusServiceUnavailable, "admin service unavailable")
			return
		}

		users, err := deps.Admin.ListAccounts(r.Context())
		if err != nil {
			writeServiceError(w, r, deps.logger(), err)
			return
		}
		writeOK(w, http.StatusOK, map[string]any{"users": users})
	})

	// /users/{id}/role (PUT) and /users/{id} (DELETE).
	mux.HandleFunc("/users/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/users/"), "/")
		parts := strings.Split(rest, "/")

		switch {
		case len(parts) == 2 && parts[1] == "role":
			if r.Method != http.MethodPut {
				writeError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			changeRole(w, r, deps, parts[0])
		case len(parts) == 1 && parts[0] != "":
			if r.Method != http.MethodDelete {
				writeError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			deleteUser(w, r, deps, parts[0])
		default:
			writeError(w, http.StatusNotFound, "route not found")
		}
	})
}

func changeRole(w http.ResponseWriter, r *http.Request, deps Deps, rawID string) {
	actor, ok := requirePrincipal(w, r, deps, auth.ManageRoles)
	if !ok {
		return
	}
	if deps.Admin == nil {
		writeError(w, http.StatusServiceUnavailable, "admin service unavailable")
		return
	}
	id, ok := parseID(rawID)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	var req struct {
		Role string `json:"role"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	updated, err := deps.Admin.ChangeRole(r.Context(), actor, id, req.Role)
	if err != nil {
		writeServiceError(w, r, deps.logger(), err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"message": "role updated", "user": updated})
}

func deleteUser(w http.ResponseWriter, r *http.Request, deps Deps, rawID string) {
	actor, ok := requirePrincipal(w, r, deps, auth.ReadAdmin)
	if !ok {
		return
	}
	if deps.Admin == nil {
		writeError(w, http.StatusServiceUnavailable, "admin service unavailable")
		return
	}
	id, ok := parseID(rawID)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	var req struct {
		Confirm bool `json:"confirm"`
	}
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	if err := deps.Admin.DeleteAccount(r.Context(), actor, id, req.Confirm); err != nil {
		writeServiceError(w, r, deps.logger(), err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"message": "user deleted"})
}

func parseID(raw string) (int64, bool) {
	for _, c := range raw {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// parseLogFilter ignores malformed id and date parameters instead of
// rejecting the request.
func parseLogFilter(r *http.Request) audit.Filter {
	q := r.URL.Query()
	f := audit.Filter{
		Name:   strings.TrimSpace(q.Get("name")),
		Email:  strings.TrimSpace(q.Get("email")),
		Action: strings.TrimSpace(q.Get("action")),
	}
	if id, ok := parseID(strings.TrimSpace(q.Get("id"))); ok {
		f.AccountID = id
	}
	if t, ok := parseDate(q.Get("startDate")); ok {
		f.Start = t
	}
	if t, ok := parseDate(q.Get("endDate")); ok {
		f.End = t
	}
	return f
}

func parseDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func registerMigrationHandlers(mux *http.ServeMux, deps Deps) {
	mux.HandleFunc("/system/migrations", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if _, ok := requirePrincipal(w, r, deps, auth.ManageRoles); !ok {
			return
		}
		if deps.Migrations == nil {
			writeError(w, http.StatusServiceUnavailable, "migration service unavailable")
			return
		}

		status, err := deps.Migrations.Status(r.Context())
		if err != nil {
			writeServiceError(w, r, deps.logger(), err)
			return
		}
		writeOK(w, http.StatusOK, map[string]any{"items": status})
	})
}
