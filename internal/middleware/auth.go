package middleware

import (
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/talentgrid/entitlements/internal/auth"
	"github.com/talentgrid/entitlements/internal/model"
)

// minAuthFailureDuration pads rejected service calls so that timing does not
// reveal how far verification got.
const minAuthFailureDuration = 200 * time.Millisecond

// ServiceKeyConfig configures collaborator authentication.
type ServiceKeyConfig struct {
	Logger *slog.Logger
	Keys   *auth.KeySet
}

// ServiceKey authenticates collaborator calls by the X-Service-Key header.
// With no keys configured the check is skipped; config validation refuses
// that in production.
func ServiceKey(cfg ServiceKeyConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Keys == nil || !cfg.Keys.Enabled() {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			key := r.Header.Get(auth.HeaderServiceKey)
			if !auth.ValidateKeyFormat(key) || !cfg.Keys.Verify(key) {
				reason := "invalid_key"
				if key == "" {
					reason = "missing_key"
				}
				cfg.Logger.Warn("authentication failed",
					slog.String("reason", reason),
					slog.String("ip", r.RemoteAddr),
					slog.String("endpoint", r.Method+" "+r.URL.Path),
					slog.String("request_id", GetRequestID(r.Context())),
				)
				if elapsed := time.Since(start); elapsed < minAuthFailureDuration {
					time.Sleep(minAuthFailureDuration - elapsed)
				}
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or missing service key")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Session attaches the dashboard session from the upstream session headers.
func Session(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session, err := auth.SessionFromHeaders(r.Header)
			if err != nil {
				logger.Warn("session rejected",
					slog.String("reason", err.Error()),
					slog.String("endpoint", r.Method+" "+r.URL.Path),
					slog.String("request_id", GetRequestID(r.Context())),
				)
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid session")
				return
			}

			ctx := auth.ContextWithSession(r.Context(), session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects sessions whose role is not among allowed.
// Must be applied after Session.
func RequireRole(allowed ...model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session := auth.SessionFromContext(r.Context())
			if session == nil {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
				return
			}
			if !slices.Contains(allowed, session.Role) {
				writeError(w, http.StatusForbidden, "FORBIDDEN", "role "+string(session.Role)+" may not access this resource")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireTenant rejects sessions that are not scoped to a tenant.
func RequireTenant() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session := auth.SessionFromContext(r.Context())
			if session == nil {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
				return
			}
			if session.IsStaff() {
				writeError(w, http.StatusForbidden, "FORBIDDEN", "a tenant session is required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
