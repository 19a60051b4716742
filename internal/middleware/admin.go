package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
)

const AdminTokenHeader = "X-Admin-Token"

// AdminMiddleware guards destructive dashboard routes.
type AdminMiddleware struct {
	token string
	log   *slog.Logger
}

// NewAdminMiddleware returns a guard for token. An empty token leaves the
// routes open, which is how development setups run.
func NewAdminMiddleware(token string, log *slog.Logger) *AdminMiddleware {
	if log == nil {
		log = slog.Default()
	}
	if token == "" {
		log.Warn("⚠️ ADMIN_TOKEN not set, admin routes are open")
	}
	return &AdminMiddleware{token: token, log: log}
}

// RequireAdmin rejects requests whose X-Admin-Token does not match.
func (am *AdminMiddleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if am.token == "" {
			next.ServeHTTP(w, r)
			return
		}

		given := r.Header.Get(AdminTokenHeader)
		if subtle.ConstantTimeCompare([]byte(given), []byte(am.token)) != 1 {
			am.log.Warn("🚫 admin access denied", "path", r.URL.Path, "remote", r.RemoteAddr)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			json.NewEncoder(w).Encode(map[string]string{
				"error":   "forbidden",
				"message": "a valid admin token is required for this action",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}
